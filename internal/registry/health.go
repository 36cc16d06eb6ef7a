package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"AgentHub/internal/events"
	"AgentHub/internal/worker"
	"AgentHub/pkg/logger"
)

// SweepReport 汇总一次健康巡检。
type SweepReport struct {
	Checked  int      `json:"checked"`
	Demoted  []string `json:"demoted,omitempty"`
	Failures []string `json:"failures,omitempty"`
}

// HealthSweep 检查所有 worker 的健康状况，处于激活态但不健康的 worker 被降级为 inactive。
// 单个 worker 的检查失败不会中断巡检。
func (r *Registry) HealthSweep(ctx context.Context) SweepReport {
	var report SweepReport
	for _, e := range r.ordered() {
		report.Checked++
		health, err := check(ctx, e.worker)
		if err != nil {
			report.Failures = append(report.Failures, e.worker.Name())
			r.logger.Warn("健康检查异常", slog.String("worker", e.worker.Name()), slog.String("error", err.Error()))
			health = worker.Health{Healthy: false, Detail: err.Error()}
		}
		if health.Healthy {
			continue
		}
		if r.demote(e.rec) {
			report.Demoted = append(report.Demoted, e.worker.Name())
			logger.Audit().Warn("worker 健康检查未通过，已降级",
				slog.String("worker", e.worker.Name()),
				slog.String("detail", health.Detail))
			r.publisher.Publish(ctx, events.Event{
				Type:       events.TypeWorkerDemoted,
				WorkerID:   e.worker.ID(),
				WorkerName: e.worker.Name(),
				Message:    health.Detail,
				OccurredAt: time.Now(),
			})
		}
	}
	return report
}

func (r *Registry) demote(rec *record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID[rec.worker.ID()] != rec || rec.status != worker.StatusActive {
		return false
	}
	rec.status = worker.StatusInactive
	return true
}

func check(ctx context.Context, w worker.Worker) (health worker.Health, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("health check panic: %v", rec)
		}
	}()
	return w.HealthCheck(ctx), nil
}

// Start 按固定间隔调度健康巡检，每次启动使用新的调度器。
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.cron = cron.New()
	r.cron.Schedule(cron.Every(r.interval), cron.FuncJob(func() {
		report := r.HealthSweep(ctx)
		r.logger.Debug("健康巡检完成",
			slog.Int("checked", report.Checked),
			slog.Int("demoted", len(report.Demoted)))
	}))
	r.cron.Start()
	r.started = true
	r.logger.Info("健康巡检已启动", slog.Duration("interval", r.interval))
}

// Stop 停止巡检调度并等待正在执行的巡检结束。
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	c := r.cron
	r.mu.Unlock()
	<-c.Stop().Done()
}

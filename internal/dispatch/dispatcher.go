package dispatch

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/events"
	"AgentHub/internal/worker"
	"AgentHub/pkg/logger"
)

// DefaultTimeout 是单个任务的默认执行时限。
const DefaultTimeout = 30 * time.Second

// Outcome 描述一次调度的最终结局。
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
)

// Observer 接收每次调度的结果，通常由指标采集器实现。
type Observer interface {
	ObserveDispatch(workerName string, outcome Outcome, duration time.Duration)
}

// Record 是一条在途任务记录。
type Record struct {
	TaskID    string      `json:"task_id"`
	WorkerID  string      `json:"worker_id"`
	StartedAt time.Time   `json:"started_at"`
	Task      worker.Task `json:"task"`
}

// Stats 汇总调度器指标。
type Stats struct {
	InFlight int                    `json:"in_flight"`
	Timeouts uint64                 `json:"timeouts"`
	Metrics  worker.MetricsSnapshot `json:"metrics"`
}

// Dispatcher 在时限内执行 worker 的任务并维护在途记录。
type Dispatcher struct {
	timeout   time.Duration
	publisher events.Publisher
	observer  Observer
	tracer    trace.Tracer
	logger    *slog.Logger

	inflight sync.Map
	count    atomic.Int64
	timeouts atomic.Uint64
	metrics  *worker.Metrics
}

// Option 定义可选配置。
type Option func(*Dispatcher)

// WithTimeout 设置任务时限。
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithPublisher 配置事件发布器。
func WithPublisher(publisher events.Publisher) Option {
	return func(d *Dispatcher) {
		if publisher != nil {
			d.publisher = publisher
		}
	}
}

// WithObserver 配置指标观察者。
func WithObserver(observer Observer) Option {
	return func(d *Dispatcher) {
		d.observer = observer
	}
}

// WithTracer 配置链路追踪。
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New 构造 Dispatcher。
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		timeout:   DefaultTimeout,
		publisher: events.Nop{},
		tracer:    noop.NewTracerProvider().Tracer("dispatch"),
		metrics:   worker.NewMetrics(worker.DefaultWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.logger == nil {
		d.logger = logger.Named("dispatch")
	}
	return d
}

// Timeout 返回当前任务时限。
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Execute 在时限内执行任务。worker 抛出的异常、超时都会转换为失败结果，不会向上传播。
func (d *Dispatcher) Execute(ctx context.Context, w worker.Worker, task worker.Task, execCtx worker.ExecContext) worker.Result {
	if w == nil {
		return worker.Fail(xerrors.CodeWorkerUnavailable, "no worker available for task "+task.ID)
	}

	record := &Record{TaskID: task.ID, WorkerID: w.ID(), StartedAt: time.Now(), Task: task}
	if _, loaded := d.inflight.LoadOrStore(task.ID, record); loaded {
		return worker.Fail(xerrors.CodeTaskConflict, "task "+task.ID+" is already in flight")
	}
	d.count.Add(1)
	defer func() {
		d.inflight.Delete(task.ID)
		d.count.Add(-1)
	}()

	ctx, span := d.tracer.Start(ctx, "dispatch.execute", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("worker.id", w.ID()),
		attribute.String("worker.type", w.Type()),
	))
	defer span.End()

	handle := Go(ctx, func(runCtx context.Context) worker.Result {
		return w.Execute(runCtx, task, execCtx)
	})
	result, err := handle.Await(ctx, d.timeout)
	elapsed := time.Since(record.StartedAt)

	outcome := OutcomeSucceeded
	switch {
	case err != nil:
		handle.Abandon()
		if stdErrors.Is(err, ErrDeadline) {
			outcome = OutcomeTimeout
			d.timeouts.Add(1)
			d.logger.Debug("放弃等待超时任务，处理函数可能仍在运行",
				slog.String("task_id", task.ID),
				slog.String("worker", w.Name()))
			result = worker.Fail(xerrors.CodeTaskTimeout, "task "+task.ID+" exceeded "+d.timeout.String())
		} else {
			outcome = OutcomeFailed
			result = worker.Fail(xerrors.CodeTimeout, "caller cancelled: "+err.Error())
		}
	case !result.Success:
		outcome = OutcomeFailed
		if result.Code == "" {
			result.Code = xerrors.CodeExecutorFailure
		}
	}

	d.metrics.Record(outcome == OutcomeSucceeded, elapsed)
	if recorder, ok := w.(worker.Recorder); ok {
		recorder.Record(outcome == OutcomeSucceeded, elapsed)
	}
	if d.observer != nil {
		d.observer.ObserveDispatch(w.Name(), outcome, elapsed)
	}
	if outcome != OutcomeSucceeded {
		span.SetStatus(codes.Error, result.Error)
	}
	span.SetAttributes(attribute.String("dispatch.outcome", string(outcome)))

	d.emit(ctx, w, task, execCtx, outcome, result, elapsed)
	return result
}

func (d *Dispatcher) emit(ctx context.Context, w worker.Worker, task worker.Task, execCtx worker.ExecContext, outcome Outcome, result worker.Result, elapsed time.Duration) {
	event := events.Event{
		TaskID:     task.ID,
		WorkerID:   w.ID(),
		WorkerName: w.Name(),
		SessionID:  execCtx.SessionID,
		Code:       result.Code,
		Message:    result.Error,
		Duration:   elapsed,
		OccurredAt: time.Now(),
	}
	switch outcome {
	case OutcomeSucceeded:
		event.Type = events.TypeTaskCompleted
		logger.Audit().Info("任务执行成功",
			slog.String("task_id", task.ID),
			slog.String("worker", w.Name()),
			slog.Duration("duration", elapsed))
	case OutcomeTimeout:
		event.Type = events.TypeTaskTimeout
		logger.Audit().Warn("任务执行超时",
			slog.String("task_id", task.ID),
			slog.String("worker", w.Name()),
			slog.Duration("timeout", d.timeout))
	default:
		event.Type = events.TypeTaskFailed
		logger.Audit().Warn("任务执行失败",
			slog.String("task_id", task.ID),
			slog.String("worker", w.Name()),
			slog.String("error_code", string(result.Code)),
			slog.String("error", result.Error))
	}
	d.publisher.Publish(ctx, event)
}

// InFlight 返回在途任务数量。
func (d *Dispatcher) InFlight() int {
	return int(d.count.Load())
}

// InFlightTasks 返回在途任务记录，按开始时间排序。
func (d *Dispatcher) InFlightTasks() []Record {
	var records []Record
	d.inflight.Range(func(_, value any) bool {
		records = append(records, *value.(*Record))
		return true
	})
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records
}

// Stats 返回调度器指标快照。
func (d *Dispatcher) Stats() Stats {
	return Stats{
		InFlight: d.InFlight(),
		Timeouts: d.timeouts.Load(),
		Metrics:  d.metrics.Snapshot(),
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AgentHub/internal/api"
	"AgentHub/internal/config"
	"AgentHub/internal/dispatch"
	"AgentHub/internal/events"
	"AgentHub/internal/observability/alerting"
	"AgentHub/internal/observability/metrics"
	"AgentHub/internal/observability/tracing"
	"AgentHub/internal/orchestrator"
	"AgentHub/internal/registry"
	"AgentHub/internal/router"
	"AgentHub/pkg/logger"
)

// main 是 AgentHub 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agenthubd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	appLog := logger.Named("agenthubd")

	tp, shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer shutdown("tracing", shutdownTracing)
	tracer := tp.Tracer("agenthub")

	bus := events.NewBus()
	defer func() { _ = bus.Close() }()
	if err := attachSink(bus, cfg.Events); err != nil {
		return err
	}

	collector := metrics.New()
	disp := dispatch.New(
		dispatch.WithTimeout(cfg.Dispatcher.Timeout),
		dispatch.WithPublisher(bus),
		dispatch.WithObserver(collector),
		dispatch.WithTracer(tracer),
	)
	reg := registry.New(
		registry.WithBus(bus),
		registry.WithHealthInterval(cfg.Registry.HealthInterval),
	)

	rules := router.DefaultRules()
	if cfg.Router.RulesFile != "" {
		if rules, err = router.LoadRules(cfg.Router.RulesFile); err != nil {
			return err
		}
	}
	rt := router.New(reg, router.WithRules(rules), router.WithAutoRouting(cfg.Router.AutoRoutingEnabled()))

	templates, err := loadTemplates(cfg.Coordination)
	if err != nil {
		return err
	}

	store, err := openSessionStore(ctx, cfg.Session)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if cfg.Alerting.Enabled {
		sub := alerting.NewSubscriber(buildNotifiers(cfg.Alerting), cfg.Alerting.Cooldown)
		defer sub.Attach(bus)()
	}

	orch := orchestrator.New(reg, disp, rt,
		orchestrator.WithStore(store),
		orchestrator.WithTemplates(templates...),
		orchestrator.WithPublisher(bus),
		orchestrator.WithRateLimit(cfg.Orchestrator.RatePerSecond, cfg.Orchestrator.Burst),
		orchestrator.WithTracer(tracer),
	)

	workers, closeWorkers, err := buildWorkers(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeWorkers()
	for _, w := range workers {
		if res := orch.RegisterWorker(ctx, w); !res.Success {
			appLog.Warn("worker 注册后未激活", slog.String("worker", w.Name()), slog.String("code", string(res.Code)), slog.String("error", res.Error))
		}
	}
	reg.Start(ctx)

	if err := registerGauges(collector, reg, disp); err != nil {
		return err
	}

	var apiOpts []api.Option
	if cfg.Server.MetricsAddress == "" {
		apiOpts = append(apiOpts, api.WithMetrics(collector, cfg.Server.MetricsPath))
	} else {
		go func() {
			if err := collector.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}
	server := api.NewServer(cfg.Server.Address, orch, apiOpts...)
	err = server.Start(ctx)

	deregisterCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if derr := orch.DeregisterAll(deregisterCtx); derr != nil {
		appLog.Error("停用 worker 失败", slog.Any("error", derr))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	appLog.Info("agenthubd 已退出")
	return nil
}

func shutdown(name string, fn tracing.Shutdown) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.L().Warn("关闭组件失败", slog.String("component", name), slog.Any("error", err))
	}
}

func registerGauges(c *metrics.Collector, reg *registry.Registry, disp *dispatch.Dispatcher) error {
	if err := c.Gauge("in_flight_tasks", "Tasks currently being executed.", func() float64 {
		return float64(disp.InFlight())
	}); err != nil {
		return err
	}
	return c.Gauge("active_workers", "Workers currently in active status.", func() float64 {
		return float64(len(reg.Active()))
	})
}

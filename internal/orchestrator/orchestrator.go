package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"AgentHub/internal/coordination"
	"AgentHub/internal/dispatch"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/events"
	"AgentHub/internal/registry"
	"AgentHub/internal/router"
	"AgentHub/internal/session"
	"AgentHub/internal/worker"
	"AgentHub/pkg/logger"
)

// CallerContext 是调用方随命令提交的上下文。
type CallerContext struct {
	SessionID string         `json:"session_id,omitempty"`
	Target    string         `json:"target,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Snapshot 是注册表与调度器的只读快照。
type Snapshot struct {
	Workers   []worker.Descriptor    `json:"workers"`
	Metrics   registry.GlobalMetrics `json:"metrics"`
	InFlight  int                    `json:"in_flight"`
	Dispatch  dispatch.Stats         `json:"dispatch"`
	Pipelines []string               `json:"pipelines"`
}

// Orchestrator 组合注册表、路由、调度器与协作流水线。
type Orchestrator struct {
	registry    *registry.Registry
	dispatcher  *dispatch.Dispatcher
	router      *router.Router
	coordinator *coordination.Coordinator
	store       session.Store
	publisher   events.Publisher
	limiter     *rate.Limiter
	tracer      trace.Tracer
	logger      *slog.Logger
	templates   []coordination.Template
}

// Option 定义 Orchestrator 的可选配置。
type Option func(*Orchestrator)

// WithStore 设置会话存储，默认使用内存存储。
func WithStore(store session.Store) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithCoordinator 使用外部构造的协作流水线。
func WithCoordinator(c *coordination.Coordinator) Option {
	return func(o *Orchestrator) {
		o.coordinator = c
	}
}

// WithTemplates 设置默认协作流水线使用的模板，未设置时使用内置模板。
func WithTemplates(templates ...coordination.Template) Option {
	return func(o *Orchestrator) {
		o.templates = append(o.templates, templates...)
	}
}

// WithPublisher 设置路由事件的发布者。
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithRateLimit 限制每秒提交的命令数，perSecond 不大于 0 时不限流。
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Orchestrator) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		if burst <= 0 {
			burst = int(perSecond)
			if burst < 1 {
				burst = 1
			}
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTracer 设置链路追踪器。
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New 构造 Orchestrator。
func New(reg *registry.Registry, disp *dispatch.Dispatcher, rt *router.Router, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:   reg,
		dispatcher: disp,
		router:     rt,
		store:      session.NewMemoryStore(),
		publisher:  events.Nop{},
		tracer:     noop.NewTracerProvider().Tracer("orchestrator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = logger.Named("orchestrator")
	}
	if o.coordinator == nil {
		templates := o.templates
		if len(templates) == 0 {
			templates = coordination.DefaultTemplates()
		}
		o.coordinator = coordination.New(reg, disp,
			coordination.WithMatcher(rt),
			coordination.WithStore(o.store),
			coordination.WithTemplates(templates...),
			coordination.WithTracer(o.tracer),
		)
	}
	return o
}

// RegisterWorker 注册并激活 worker。
func (o *Orchestrator) RegisterWorker(ctx context.Context, w worker.Worker) worker.Result {
	return o.registry.Register(ctx, w)
}

// Reactivate 将被降级的 worker 重新激活。
func (o *Orchestrator) Reactivate(ctx context.Context, idOrName string) worker.Result {
	return o.registry.Reactivate(ctx, idOrName)
}

// DeregisterAll 停用并移除所有 worker，用于进程退出。
func (o *Orchestrator) DeregisterAll(ctx context.Context) error {
	return o.registry.Shutdown(ctx)
}

// Snapshot 返回当前注册表快照。
func (o *Orchestrator) Snapshot() Snapshot {
	templates := o.coordinator.Templates()
	names := make([]string, 0, len(templates))
	for _, tpl := range templates {
		names = append(names, tpl.Name)
	}
	return Snapshot{
		Workers:   o.registry.List(),
		Metrics:   o.registry.Metrics(),
		InFlight:  o.dispatcher.InFlight(),
		Dispatch:  o.dispatcher.Stats(),
		Pipelines: names,
	}
}

// Session 返回已存在会话的快照，不存在时返回 NOT_FOUND。
func (o *Orchestrator) Session(ctx context.Context, id string) (*session.Session, error) {
	return o.store.Get(ctx, id)
}

// Rules 返回当前生效的路由规则。
func (o *Orchestrator) Rules() []router.Rule {
	return o.router.Rules()
}

// SubmitCommand 路由并执行一条命令。
func (o *Orchestrator) SubmitCommand(ctx context.Context, text string, caller CallerContext) (result worker.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("处理命令时发生异常",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			result = worker.Fail(xerrors.CodeExecutorFailure, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		return worker.Fail(xerrors.CodeInvalidArgument, "命令不能为空")
	}
	if o.limiter != nil && !o.limiter.Allow() {
		return worker.Fail(xerrors.CodeRateLimited, "")
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.submit", trace.WithAttributes(
		attribute.String("command.target", caller.Target),
	))
	defer span.End()

	sessionID := o.openSession(ctx, caller.SessionID)
	span.SetAttributes(attribute.String("session.id", sessionID))
	started := time.Now()

	decision, err := o.router.Route(text, caller.Target)
	if err != nil {
		result = worker.FromError(err)
		if xerrors.Is(err, xerrors.CodeNoRouteFound) {
			result = result.WithMessage("没有可处理该命令的 worker，请补充说明或指定目标")
		} else {
			span.SetStatus(codes.Error, result.Error)
		}
		o.record(ctx, sessionID, "router", "route", text, result, time.Since(started))
		return result
	}
	o.publisher.Publish(ctx, events.Event{
		Type:      events.TypeCommandRouted,
		SessionID: sessionID,
		WorkerID:  workerID(decision.Worker),
		Message:   fmt.Sprintf("%s/%s %s", decision.Kind, decision.Reason, decision.Category()),
	})
	span.SetAttributes(
		attribute.String("route.kind", string(decision.Kind)),
		attribute.String("route.reason", string(decision.Reason)),
		attribute.String("route.category", decision.Category()),
	)

	if decision.Kind == router.KindCoordination {
		result = o.coordinate(ctx, decision.Category(), text, sessionID, caller.Data)
		o.record(ctx, sessionID, "coordinator", decision.Category(), text, result, time.Since(started))
	} else {
		result = o.dispatch(ctx, decision.Worker, text, sessionID, caller)
		o.record(ctx, sessionID, decision.Worker.Name(), "command", text, result, time.Since(started))
		o.persist(ctx, sessionID, session.LastResultKey(decision.Worker.Name()), result)
	}
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}
	return result
}

func (o *Orchestrator) dispatch(ctx context.Context, w worker.Worker, text, sessionID string, caller CallerContext) worker.Result {
	task := worker.NewTask(w.Type(), text,
		worker.WithTarget(caller.Target),
		worker.WithContext(caller.Data),
	)
	return o.dispatcher.Execute(ctx, w, task, worker.ExecContext{SessionID: sessionID})
}

func (o *Orchestrator) coordinate(ctx context.Context, pipeline, text, sessionID string, data map[string]any) worker.Result {
	req := coordination.Request{Pipeline: pipeline, Command: text, SessionID: sessionID, Data: data}
	var outcome coordination.Outcome
	if o.coordinator.HasTemplate(pipeline) {
		outcome = o.coordinator.RunTemplated(ctx, req)
	} else {
		outcome = o.coordinator.RunDynamic(ctx, req)
	}
	o.logger.Info("协作流水线完成",
		slog.String("pipeline", pipeline),
		slog.String("mode", outcome.Mode),
		slog.Int("steps", len(outcome.Steps)),
		slog.Bool("success", outcome.Success))
	return outcome.Result()
}

func (o *Orchestrator) openSession(ctx context.Context, id string) string {
	sess, err := o.store.GetOrCreate(ctx, id)
	if err != nil {
		o.logger.Warn("打开会话失败", slog.String("session_id", id), slog.Any("error", err))
		return strings.TrimSpace(id)
	}
	return sess.ID
}

func (o *Orchestrator) record(ctx context.Context, sessionID, actor, action, input string, result worker.Result, elapsed time.Duration) {
	if sessionID == "" {
		return
	}
	err := o.store.AppendInteraction(ctx, sessionID, session.Interaction{
		Actor:      actor,
		Action:     action,
		Input:      input,
		Output:     result.Text(),
		DurationMs: elapsed.Milliseconds(),
		Success:    result.Success,
	})
	if err != nil {
		o.logger.Warn("记录会话交互失败", slog.String("session_id", sessionID), slog.Any("error", err))
	}
}

func (o *Orchestrator) persist(ctx context.Context, sessionID, key string, value any) {
	if sessionID == "" {
		return
	}
	if err := o.store.SetShared(ctx, sessionID, key, value); err != nil {
		o.logger.Warn("写入共享上下文失败", slog.String("key", key), slog.Any("error", err))
	}
}

func workerID(w worker.Worker) string {
	if w == nil {
		return ""
	}
	return w.ID()
}

package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/session"
	"AgentHub/internal/worker"
	"AgentHub/pkg/logger"
)

// Directory 是流水线所需的注册表查询能力。
type Directory interface {
	FindByType(kind string) (worker.Worker, bool)
	Active() []worker.Worker
}

// Executor 在时限内执行单个任务，通常是 dispatch.Dispatcher。
type Executor interface {
	Execute(ctx context.Context, w worker.Worker, task worker.Task, execCtx worker.ExecContext) worker.Result
}

// Matcher 返回命令命中的全部单体 worker 类型。
type Matcher interface {
	MatchTypes(command string) []string
}

// Request 描述一次流水线运行的输入。
type Request struct {
	Pipeline  string
	Command   string
	SessionID string
	Data      map[string]any
}

// StepResult 是流水线中一步的执行记录。
type StepResult struct {
	Worker     string        `json:"worker"`
	WorkerType string        `json:"worker_type"`
	Step       int           `json:"step"`
	Result     worker.Result `json:"result"`
}

// Outcome 汇总流水线执行结果。
type Outcome struct {
	Pipeline string          `json:"pipeline"`
	Mode     string          `json:"mode"`
	Success  bool            `json:"success"`
	Steps    []StepResult    `json:"steps"`
	Final    *worker.Result  `json:"final,omitempty"`
	Payload  *worker.Payload `json:"embeddedPayload,omitempty"`
	Code     xerrors.Code    `json:"code,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// 流水线模式。
const (
	ModeTemplated = "templated"
	ModeDynamic   = "dynamic"
)

// Result 将汇总结果转换为面向调用方的统一结果，载荷提升到顶层。
func (o Outcome) Result() worker.Result {
	var res worker.Result
	if o.Success {
		res = worker.OK(nil)
	} else {
		res = worker.Fail(o.Code, o.Error)
	}
	data := map[string]any{
		"pipeline": o.Pipeline,
		"mode":     o.Mode,
		"steps":    o.Steps,
	}
	if o.Final != nil {
		data["final"] = o.Final
		data["text"] = o.Final.Text()
	}
	res.Data = data
	res.Payload = o.Payload
	return res.WithMessage("%s: %d step(s)", o.Pipeline, len(o.Steps))
}

// Coordinator 运行模板流水线与动态流水线。
type Coordinator struct {
	directory Directory
	executor  Executor
	matcher   Matcher
	store     session.Store
	tracer    trace.Tracer
	logger    *slog.Logger

	mu        sync.RWMutex
	templates map[string]Template
}

// Option 定义 Coordinator 的可选配置。
type Option func(*Coordinator)

// WithTemplates 注册模板流水线，同名模板会被覆盖。
func WithTemplates(templates ...Template) Option {
	return func(c *Coordinator) {
		for _, tpl := range templates {
			c.templates[tpl.Name] = tpl
		}
	}
}

// WithMatcher 设置动态流水线使用的类型匹配器。
func WithMatcher(m Matcher) Option {
	return func(c *Coordinator) {
		c.matcher = m
	}
}

// WithStore 设置共享上下文存储。
func WithStore(store session.Store) Option {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithTracer 设置链路追踪器。
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// New 创建 Coordinator。
func New(directory Directory, executor Executor, opts ...Option) *Coordinator {
	c := &Coordinator{
		directory: directory,
		executor:  executor,
		tracer:    noop.NewTracerProvider().Tracer("coordination"),
		templates: make(map[string]Template),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = logger.Named("coordination")
	}
	return c
}

// HasTemplate 报告是否注册了指定名称的模板流水线。
func (c *Coordinator) HasTemplate(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.templates[name]
	return ok
}

// Templates 返回按名称排序的模板列表。
func (c *Coordinator) Templates() []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Template, 0, len(c.templates))
	for _, tpl := range c.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunTemplated 严格按顺序执行模板流水线，第一步失败即中止。
func (c *Coordinator) RunTemplated(ctx context.Context, req Request) Outcome {
	c.mu.RLock()
	tpl, ok := c.templates[req.Pipeline]
	c.mu.RUnlock()
	outcome := Outcome{Pipeline: req.Pipeline, Mode: ModeTemplated}
	if !ok {
		outcome.Code = xerrors.CodeNotFound
		outcome.Error = "pipeline " + req.Pipeline + " is not registered"
		return outcome
	}

	ctx, span := c.tracer.Start(ctx, "coordination.templated", trace.WithAttributes(
		attribute.String("pipeline", tpl.Name),
		attribute.Int("pipeline.steps", len(tpl.Steps)),
	))
	defer span.End()

	peers := make([]string, 0, len(tpl.Steps))
	for _, step := range tpl.Steps {
		peers = append(peers, step.WorkerType)
	}

	var previous *worker.Result
	for i, step := range tpl.Steps {
		w, _ := c.directory.FindByType(step.WorkerType)
		prompt := Render(step.Template, req.Command, previous)
		info := &worker.CoordinationInfo{Pipeline: tpl.Name, Total: len(tpl.Steps), Step: i + 1, Peers: peers}
		sr := c.runStep(ctx, req, w, step.WorkerType, prompt, i+1, previous, info)
		outcome.Steps = append(outcome.Steps, sr)
		if !sr.Result.Success {
			outcome.Code = xerrors.CodePipelineStepFailed
			outcome.Error = fmt.Sprintf("step %d (%s) failed: %s", i+1, step.WorkerType, sr.Result.Error)
			outcome.Payload = ExtractPayload(outcome.Steps)
			span.SetStatus(codes.Error, outcome.Error)
			c.logger.Warn("模板流水线中止",
				slog.String("pipeline", tpl.Name),
				slog.Int("step", i+1),
				slog.String("code", string(sr.Result.Code)))
			return outcome
		}
		res := sr.Result
		previous = &res
	}

	outcome.Success = true
	outcome.Final = previous
	outcome.Payload = ExtractPayload(outcome.Steps)
	c.persist(ctx, req.SessionID, session.ResultKey(tpl.Name), map[string]any{
		"steps": outcome.Steps,
		"final": outcome.Final,
	})
	return outcome
}

// RunDynamic 按注册表顺序调用命令命中的每种 worker 类型，单步失败不影响后续步骤。
func (c *Coordinator) RunDynamic(ctx context.Context, req Request) Outcome {
	outcome := Outcome{Pipeline: req.Pipeline, Mode: ModeDynamic}
	if c.matcher == nil {
		outcome.Code = xerrors.CodeInitializationFailure
		outcome.Error = "dynamic pipeline has no matcher"
		return outcome
	}
	plan := c.plan(c.matcher.MatchTypes(req.Command))
	if len(plan) == 0 {
		outcome.Code = xerrors.CodeNoRouteFound
		outcome.Error = "no worker type matches the command"
		return outcome
	}

	ctx, span := c.tracer.Start(ctx, "coordination.dynamic", trace.WithAttributes(
		attribute.String("pipeline", req.Pipeline),
		attribute.Int("pipeline.steps", len(plan)),
	))
	defer span.End()

	peers := make([]string, 0, len(plan))
	for _, p := range plan {
		peers = append(peers, p.kind)
	}

	outcome.Success = true
	var previous *worker.Result
	var failed []string
	for i, p := range plan {
		info := &worker.CoordinationInfo{Pipeline: req.Pipeline, Total: len(plan), Step: i + 1, Peers: peers}
		sr := c.runStep(ctx, req, p.worker, p.kind, req.Command, i+1, previous, info)
		outcome.Steps = append(outcome.Steps, sr)
		c.persist(ctx, req.SessionID, session.StepKey(req.Pipeline, i+1), sr)
		if !sr.Result.Success {
			outcome.Success = false
			failed = append(failed, fmt.Sprintf("step %d (%s): %s", i+1, p.kind, sr.Result.Error))
		}
		res := sr.Result
		previous = &res
	}
	outcome.Final = previous
	outcome.Payload = ExtractPayload(outcome.Steps)
	if !outcome.Success {
		outcome.Code = xerrors.CodePipelineStepFailed
		outcome.Error = strings.Join(failed, "; ")
		span.SetStatus(codes.Error, outcome.Error)
	}
	return outcome
}

type planned struct {
	kind   string
	worker worker.Worker
}

// plan 按注册表顺序为每个类型选出第一个激活的 worker，没有激活 worker 的类型排在最后。
func (c *Coordinator) plan(types []string) []planned {
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	var out []planned
	for _, w := range c.directory.Active() {
		if kind := w.Type(); wanted[kind] {
			out = append(out, planned{kind: kind, worker: w})
			delete(wanted, kind)
		}
	}
	for _, t := range types {
		if wanted[t] {
			out = append(out, planned{kind: t})
			delete(wanted, t)
		}
	}
	return out
}

func (c *Coordinator) runStep(ctx context.Context, req Request, w worker.Worker, kind, prompt string, n int, previous *worker.Result, info *worker.CoordinationInfo) StepResult {
	name := kind
	if w != nil {
		name = w.Name()
	}
	task := worker.NewTask(kind, prompt, worker.WithContext(req.Data))
	execCtx := worker.ExecContext{SessionID: req.SessionID, PreviousResult: previous, Coordination: info}

	started := time.Now()
	result := c.executor.Execute(ctx, w, task, execCtx)
	elapsed := time.Since(started)

	if w != nil {
		c.persist(ctx, req.SessionID, session.LastResultKey(name), result)
	}
	c.record(ctx, req.SessionID, session.Interaction{
		Actor:      name,
		Action:     fmt.Sprintf("%s.step_%d", req.Pipeline, n),
		Input:      prompt,
		Output:     result.Text(),
		DurationMs: elapsed.Milliseconds(),
		Success:    result.Success,
	})
	return StepResult{Worker: name, WorkerType: kind, Step: n, Result: result}
}

func (c *Coordinator) persist(ctx context.Context, sessionID, key string, value any) {
	if c.store == nil || sessionID == "" {
		return
	}
	if err := c.store.SetShared(ctx, sessionID, key, value); err != nil {
		c.logger.Warn("写入共享上下文失败",
			slog.String("session_id", sessionID),
			slog.String("key", key),
			slog.Any("error", err))
	}
}

func (c *Coordinator) record(ctx context.Context, sessionID string, interaction session.Interaction) {
	if c.store == nil || sessionID == "" {
		return
	}
	if err := c.store.AppendInteraction(ctx, sessionID, interaction); err != nil {
		c.logger.Warn("记录会话交互失败",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
	}
}

package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	xerrors "AgentHub/internal/errors"
)

// Handler 是 worker 的任务处理函数。
type Handler func(ctx context.Context, task Task, execCtx ExecContext) Result

// Hook 是激活或停用时执行的回调。
type Hook func(ctx context.Context) error

// HealthFunc 执行自定义健康检查。
type HealthFunc func(ctx context.Context) Health

// Agent 是 Worker 的通用实现，具体能力由 Handler 提供。
type Agent struct {
	id           string
	name         string
	kind         string
	capabilities []string
	handler      Handler
	onActivate   Hook
	onDeactivate Hook
	health       HealthFunc
	metrics      *Metrics

	mu           sync.RWMutex
	status       Status
	lastActivity time.Time
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithCapabilities 声明 worker 的能力集合。
func WithCapabilities(capabilities ...string) Option {
	return func(a *Agent) {
		a.capabilities = append(a.capabilities, capabilities...)
	}
}

// WithActivate 设置激活回调。
func WithActivate(hook Hook) Option {
	return func(a *Agent) {
		a.onActivate = hook
	}
}

// WithDeactivate 设置停用回调。
func WithDeactivate(hook Hook) Option {
	return func(a *Agent) {
		a.onDeactivate = hook
	}
}

// WithHealthCheck 设置健康检查函数。
func WithHealthCheck(fn HealthFunc) Option {
	return func(a *Agent) {
		a.health = fn
	}
}

// WithMetricsWindow 调整平均耗时窗口大小。
func WithMetricsWindow(size int) Option {
	return func(a *Agent) {
		a.metrics = NewMetrics(size)
	}
}

// NewAgent 创建一个 Agent。name 为空时使用 id。
func NewAgent(id, name, kind string, handler Handler, opts ...Option) *Agent {
	if strings.TrimSpace(name) == "" {
		name = id
	}
	a := &Agent{
		id:      id,
		name:    name,
		kind:    kind,
		handler: handler,
		status:  StatusInitialized,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.metrics == nil {
		a.metrics = NewMetrics(DefaultWindow)
	}
	return a
}

func (a *Agent) ID() string   { return a.id }
func (a *Agent) Name() string { return a.name }
func (a *Agent) Type() string { return a.kind }

// Capabilities 返回能力集合的副本。
func (a *Agent) Capabilities() []string {
	return append([]string(nil), a.capabilities...)
}

// Executable 报告是否配置了处理函数。
func (a *Agent) Executable() bool {
	return a != nil && a.handler != nil
}

// Activate 执行激活回调并更新状态。
func (a *Agent) Activate(ctx context.Context) Result {
	if a.onActivate != nil {
		if err := a.onActivate(ctx); err != nil {
			a.setStatus(StatusError)
			return Fail(xerrors.CodeInitializationFailure, err.Error())
		}
	}
	a.setStatus(StatusActive)
	return OK(nil).WithMessage("%s activated", a.name)
}

// Deactivate 执行停用回调并更新状态。
func (a *Agent) Deactivate(ctx context.Context) Result {
	if a.onDeactivate != nil {
		if err := a.onDeactivate(ctx); err != nil {
			return Fail(xerrors.CodeExecutorFailure, err.Error())
		}
	}
	a.setStatus(StatusInactive)
	return OK(nil).WithMessage("%s deactivated", a.name)
}

// HealthCheck 在未配置检查函数时以处理函数是否存在作为健康依据。
func (a *Agent) HealthCheck(ctx context.Context) Health {
	if a.health != nil {
		return a.health(ctx)
	}
	if a.handler == nil {
		return Health{Healthy: false, Detail: "no handler"}
	}
	return Health{Healthy: true}
}

// Execute 调用处理函数。
func (a *Agent) Execute(ctx context.Context, task Task, execCtx ExecContext) Result {
	if a.handler == nil {
		return Fail(xerrors.CodeInitializationFailure, "worker has no handler")
	}
	a.touch()
	return a.handler(ctx, task, execCtx)
}

// CanHandle 判断任务是否落在能力范围内。
func (a *Agent) CanHandle(task Task) bool {
	if target := strings.TrimSpace(task.Target); target != "" {
		return target == a.id || target == a.name || target == a.kind
	}
	if task.Type != "" && task.Type == a.kind {
		return true
	}
	command := strings.ToLower(task.Command)
	for _, capability := range a.capabilities {
		normalized := strings.ToLower(strings.TrimSpace(capability))
		if normalized != "" && strings.Contains(command, normalized) {
			return true
		}
	}
	return false
}

// Record 实现 Recorder。
func (a *Agent) Record(success bool, latency time.Duration) {
	a.metrics.Record(success, latency)
}

// Describe 返回 worker 视角的描述信息。
func (a *Agent) Describe() Descriptor {
	a.mu.RLock()
	status, last := a.status, a.lastActivity
	a.mu.RUnlock()
	return Descriptor{
		ID:           a.id,
		Name:         a.name,
		Type:         a.kind,
		Capabilities: a.Capabilities(),
		Status:       status,
		LastActivity: last,
		Metrics:      a.metrics.Snapshot(),
	}
}

func (a *Agent) setStatus(status Status) {
	a.mu.Lock()
	a.status = status
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

func (a *Agent) touch() {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

var (
	_ Worker     = (*Agent)(nil)
	_ Executable = (*Agent)(nil)
	_ Recorder   = (*Agent)(nil)
)

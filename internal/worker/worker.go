package worker

import (
	"context"
	"time"
)

// Status 表示 worker 在生命周期中的状态。
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusError       Status = "error"
)

// Health 是一次健康检查的结论。
type Health struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Descriptor 是 worker 的自描述信息。
type Descriptor struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Capabilities []string        `json:"capabilities"`
	Status       Status          `json:"status"`
	LastActivity time.Time       `json:"last_activity,omitempty"`
	Metrics      MetricsSnapshot `json:"metrics"`
}

// CoordinationInfo 描述当前步骤在协作流水线中的位置。
type CoordinationInfo struct {
	Pipeline string   `json:"pipeline"`
	Total    int      `json:"total"`
	Step     int      `json:"step"`
	Peers    []string `json:"peers,omitempty"`
}

// ExecContext 携带一次执行所需的调用方上下文。
type ExecContext struct {
	SessionID      string
	PreviousResult *Result
	Coordination   *CoordinationInfo
}

// Worker 是所有智能体必须实现的能力接口。
type Worker interface {
	ID() string
	Name() string
	Type() string
	Capabilities() []string

	Activate(ctx context.Context) Result
	Deactivate(ctx context.Context) Result
	HealthCheck(ctx context.Context) Health
	Execute(ctx context.Context, task Task, execCtx ExecContext) Result
	CanHandle(task Task) bool
	Describe() Descriptor
}

// Executable 由能够报告自身是否具备任务处理函数的 worker 实现。
// 注册表会拒绝报告 false 的 worker。
type Executable interface {
	Executable() bool
}

// Recorder 由希望记录自身执行指标的 worker 实现，调度器在每次执行结束后调用。
type Recorder interface {
	Record(success bool, latency time.Duration)
}

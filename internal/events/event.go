package events

import (
	"context"
	"time"

	xerrors "AgentHub/internal/errors"
)

// Type 标识事件种类。
type Type string

const (
	TypeTaskCompleted    Type = "task.completed"
	TypeTaskFailed       Type = "task.failed"
	TypeTaskTimeout      Type = "task.timeout"
	TypeWorkerRegistered Type = "worker.registered"
	TypeWorkerDemoted    Type = "worker.demoted"
	TypeCommandRouted    Type = "command.routed"
)

// Event 是在总线上传递的事件。
type Event struct {
	Type       Type          `json:"type"`
	TaskID     string        `json:"task_id,omitempty"`
	WorkerID   string        `json:"worker_id,omitempty"`
	WorkerName string        `json:"worker_name,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`
	Code       xerrors.Code  `json:"code,omitempty"`
	Message    string        `json:"message,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Handler 处理一个事件。
type Handler func(ctx context.Context, event Event)

// Publisher 负责发布事件。
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Sink 将事件转发到进程外部，例如 Redis 或 RabbitMQ。
type Sink interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

// Nop 丢弃所有事件。
type Nop struct{}

// Publish 实现 Publisher。
func (Nop) Publish(context.Context, Event) {}

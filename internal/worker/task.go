package worker

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task 描述一次需要执行的工作。创建后不可修改。
type Task struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Command   string         `json:"command"`
	Target    string         `json:"target,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Priority  int            `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
}

// TaskOption 定义可选的任务配置。
type TaskOption func(*Task)

// WithTaskID 指定任务 ID，默认生成 UUID。
func WithTaskID(id string) TaskOption {
	return func(t *Task) {
		if id = strings.TrimSpace(id); id != "" {
			t.ID = id
		}
	}
}

// WithTarget 指定显式目标 worker。
func WithTarget(target string) TaskOption {
	return func(t *Task) {
		t.Target = strings.TrimSpace(target)
	}
}

// WithContext 附加调用方上下文，内容会被复制。
func WithContext(values map[string]any) TaskOption {
	return func(t *Task) {
		t.Context = CloneMap(values)
	}
}

// WithPriority 设置任务优先级。
func WithPriority(priority int) TaskOption {
	return func(t *Task) {
		t.Priority = priority
	}
}

// NewTask 构造一个新的任务。
func NewTask(taskType, command string, opts ...TaskOption) Task {
	task := Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Command:   command,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&task)
		}
	}
	return task
}

// CloneMap 浅拷贝 map。
func CloneMap(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	cloned := make(map[string]any, len(values))
	for key, value := range values {
		cloned[key] = value
	}
	return cloned
}

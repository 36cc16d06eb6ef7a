package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentHub/internal/errors"
)

// MaxInteractions 是单个会话保留的最大交互条数。
const MaxInteractions = 256

// Interaction 是会话中的一次交互记录。
type Interaction struct {
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	At         time.Time `json:"at"`
}

// Session 是一个会话的快照。
type Session struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	Interactions []Interaction  `json:"interactions"`
	Shared       map[string]any `json:"shared"`
}

// Store 抽象共享上下文存储。
type Store interface {
	GetOrCreate(ctx context.Context, id string) (*Session, error)
	// Get 只读取已存在的会话，不存在时返回 NOT_FOUND 错误。
	Get(ctx context.Context, id string) (*Session, error)
	AppendInteraction(ctx context.Context, sessionID string, interaction Interaction) error
	SetShared(ctx context.Context, sessionID, key string, value any) error
	GetShared(ctx context.Context, sessionID, key string) (any, bool, error)
	Close() error
}

// LastResultKey 返回 worker 最近一次结果的共享键。
func LastResultKey(workerName string) string {
	return workerName + "_lastResult"
}

// StepKey 返回流水线第 n 步结果的共享键，n 从 1 开始。
func StepKey(pipeline string, n int) string {
	return fmt.Sprintf("%s_step_%d", pipeline, n)
}

// ResultKey 返回流水线最终结果的共享键。
func ResultKey(pipeline string) string {
	return pipeline + "_result"
}

func normalizeID(id string) string {
	if id = strings.TrimSpace(id); id == "" {
		return uuid.NewString()
	}
	return id
}

func requireID(id string) (string, error) {
	if id = strings.TrimSpace(id); id == "" {
		return "", fmt.Errorf("会话 ID 不能为空")
	}
	return id, nil
}

func notFound(id string) error {
	return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("会话 %s 不存在", id))
}

func encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("序列化共享值失败: %w", err)
	}
	return data, nil
}

func decode(data []byte) (any, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("解析共享值失败: %w", err)
	}
	return value, nil
}

func stamp(interaction Interaction) Interaction {
	if interaction.At.IsZero() {
		interaction.At = time.Now()
	}
	return interaction
}

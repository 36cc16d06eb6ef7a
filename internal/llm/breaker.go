package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	xerrors "AgentHub/internal/errors"
	"AgentHub/pkg/logger"
)

const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
	defaultBreakerInterval        = 60 * time.Second
)

// BreakerConfig 描述熔断参数。
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// BreakerClient 为文本补全服务增加熔断保护，连续失败后快速失败。
type BreakerClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker[string]
}

// NewBreakerClient 包装 inner。
func NewBreakerClient(name string, inner Client, cfg BreakerConfig) *BreakerClient {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultBreakerInterval
	}
	log := logger.Named("llm")

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("熔断器状态变更",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})
	return &BreakerClient{inner: inner, breaker: cb}
}

// Complete 经由熔断器调用下游服务。
func (c *BreakerClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	text, err := c.breaker.Execute(func() (string, error) {
		return c.inner.Complete(ctx, prompt, opts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", xerrors.Wrap(xerrors.CodeWorkerUnavailable, err,
			fmt.Sprintf("文本补全服务 %s 已熔断", c.breaker.Name()), xerrors.WithRetryable(true))
	}
	return text, err
}

// State 返回熔断器当前状态。
func (c *BreakerClient) State() gobreaker.State {
	return c.breaker.State()
}

// Open 报告熔断器是否处于打开状态。
func (c *BreakerClient) Open() bool {
	return c.breaker.State() == gobreaker.StateOpen
}

var _ Client = (*BreakerClient)(nil)

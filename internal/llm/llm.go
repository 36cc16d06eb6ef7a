package llm

import (
	"context"
	"strings"
	"time"
)

// Options 控制单次补全的生成参数。
type Options struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	System      string
}

// Client 定义文本补全服务的统一接口。
type Client interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// ClientFunc 允许普通函数实现 Client。
type ClientFunc func(ctx context.Context, prompt string, opts Options) (string, error)

// Complete 实现 Client。
func (f ClientFunc) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	return f(ctx, prompt, opts)
}

// WithTimeout 按 Options.Timeout 派生上下文，未设置时原样返回。
func WithTimeout(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opts.Timeout)
}

// EchoClient 在未配置模型时回显提示词摘要，便于本地联调。
type EchoClient struct {
	Prefix string
}

// Complete 实现 Client。
func (c EchoClient) Complete(_ context.Context, prompt string, opts Options) (string, error) {
	text := strings.TrimSpace(prompt)
	if opts.MaxTokens > 0 {
		if runes := []rune(text); len(runes) > opts.MaxTokens*4 {
			text = string(runes[:opts.MaxTokens*4])
		}
	}
	prefix := c.Prefix
	if prefix == "" {
		prefix = "[echo]"
	}
	return prefix + " " + text, nil
}

var _ Client = EchoClient{}

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/knowledge"
	"AgentHub/internal/llm"
	"AgentHub/internal/worker"
)

// Profile 描述一个文本 worker 的身份与生成参数。
type Profile struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	Kind         string        `yaml:"kind"`
	Capabilities []string      `yaml:"capabilities"`
	System       string        `yaml:"system"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

// DefaultProfiles 返回内置的分析、写作、审校 worker 配置。
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID:           "analysis-1",
			Name:         "analyst",
			Kind:         "analysis",
			Capabilities: []string{"analysis", "analiza", "analyze", "audit"},
			System:       "You analyse services, products and systems. Return a structured list of findings.",
			MaxTokens:    800,
			Temperature:  0.2,
		},
		{
			ID:           "content-1",
			Name:         "writer",
			Kind:         "content",
			Capabilities: []string{"writing", "blog", "article", "post"},
			System:       "You write engaging content such as blog posts and articles from the material provided.",
			MaxTokens:    1200,
			Temperature:  0.7,
		},
		{
			ID:           "review-1",
			Name:         "reviewer",
			Kind:         "review",
			Capabilities: []string{"review", "proofread", "revisa"},
			System:       "You review drafts. Fix mistakes, improve clarity and return the improved text.",
			MaxTokens:    1200,
			Temperature:  0.3,
		},
	}
}

// TextOption 定义文本 worker 的可选配置。
type TextOption func(*textWorker)

// WithKnowledge 在提示词中追加知识库检索结果。
func WithKnowledge(provider knowledge.Provider) TextOption {
	return func(w *textWorker) {
		w.knowledge = provider
	}
}

type textWorker struct {
	profile   Profile
	client    llm.Client
	knowledge knowledge.Provider
}

// NewTextWorker 构造一个调用文本补全服务的 worker。
func NewTextWorker(profile Profile, client llm.Client, opts ...TextOption) *worker.Agent {
	tw := &textWorker{profile: profile, client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(tw)
		}
	}
	return worker.NewAgent(profile.ID, profile.Name, profile.Kind, tw.handle,
		worker.WithCapabilities(profile.Capabilities...),
		worker.WithActivate(tw.activate),
		worker.WithHealthCheck(tw.health),
	)
}

func (w *textWorker) activate(context.Context) error {
	if w.client == nil {
		return errors.New("未配置文本补全服务")
	}
	return nil
}

func (w *textWorker) health(context.Context) worker.Health {
	if w.client == nil {
		return worker.Health{Healthy: false, Detail: "no completion client"}
	}
	if breaker, ok := w.client.(interface{ Open() bool }); ok && breaker.Open() {
		return worker.Health{Healthy: false, Detail: "completion circuit open"}
	}
	return worker.Health{Healthy: true}
}

func (w *textWorker) handle(ctx context.Context, task worker.Task, execCtx worker.ExecContext) worker.Result {
	if strings.TrimSpace(task.Command) == "" {
		return worker.Fail(xerrors.CodeInvalidArgument, "命令不能为空")
	}
	prompt := w.prompt(task, execCtx)
	text, err := w.client.Complete(ctx, prompt, llm.Options{
		MaxTokens:   w.profile.MaxTokens,
		Temperature: w.profile.Temperature,
		Timeout:     w.profile.Timeout,
		System:      w.profile.System,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return worker.FromError(xerrors.Wrap(xerrors.CodeTimeout, err, "文本补全超时"))
		}
		if _, ok := xerrors.From(err); ok {
			return worker.FromError(err)
		}
		return worker.FromError(xerrors.Wrap(xerrors.CodeExecutorFailure, err, "文本补全失败"))
	}
	return worker.OK(map[string]any{
		"text":   text,
		"worker": w.profile.Name,
		"kind":   w.profile.Kind,
	})
}

func (w *textWorker) prompt(task worker.Task, execCtx worker.ExecContext) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(task.Command))
	b.WriteString("\n")

	if info := execCtx.Coordination; info != nil {
		fmt.Fprintf(&b, "\n## 协作\n你是 %s 流水线中第 %d/%d 步", info.Pipeline, info.Step, info.Total)
		if len(info.Peers) > 0 {
			fmt.Fprintf(&b, "，协作方: %s", strings.Join(info.Peers, ", "))
		}
		b.WriteString("\n")
	}
	if prev := execCtx.PreviousResult; prev != nil && prev.Success {
		if text := strings.TrimSpace(prev.Text()); text != "" {
			b.WriteString("\n## 上一步结果\n")
			b.WriteString(text)
			b.WriteString("\n")
		}
	}
	if w.knowledge != nil {
		if ref := knowledge.Render(w.knowledge.Query(task.Command)); ref != "" {
			b.WriteString("\n")
			b.WriteString(ref)
		}
	}
	return b.String()
}

package agent

import (
	"context"
	"errors"
	"strings"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
	"AgentHub/internal/worker"
)

// PreviewPayloadType 是预览 worker 声明的载荷类型。
const PreviewPayloadType = "preview"

// Preview 是发布前展示给调用方的内容预览。
type Preview struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Body    string `json:"body"`
}

const previewSystemPrompt = "Turn the material into a publishable preview. First line is the title, " +
	"second line a one sentence summary, the rest is the body."

const summaryLimit = 280

// NewPreviewWorker 构造生成内容预览的 worker，结果以 preview 载荷返回。
func NewPreviewWorker(id, name string, client llm.Client) *worker.Agent {
	handler := func(ctx context.Context, task worker.Task, execCtx worker.ExecContext) worker.Result {
		source := strings.TrimSpace(task.Command)
		if prev := execCtx.PreviousResult; prev != nil && prev.Success {
			if text := strings.TrimSpace(prev.Text()); text != "" {
				source = text
			}
		}
		if source == "" {
			return worker.Fail(xerrors.CodeInvalidArgument, "没有可预览的内容")
		}
		text, err := client.Complete(ctx, source, llm.Options{MaxTokens: 600, Temperature: 0.4, System: previewSystemPrompt})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return worker.FromError(xerrors.Wrap(xerrors.CodeTimeout, err, "生成预览超时"))
			}
			if _, ok := xerrors.From(err); ok {
				return worker.FromError(err)
			}
			return worker.FromError(xerrors.Wrap(xerrors.CodeExecutorFailure, err, "生成预览失败"))
		}
		preview := ParsePreview(text)
		return worker.OK(map[string]any{"text": preview.Body, "worker": name, "kind": "preview"}).
			WithPayload(PreviewPayloadType, preview)
	}
	return worker.NewAgent(id, name, "preview", handler,
		worker.WithCapabilities("preview", "publish", "summary"),
		worker.WithActivate(func(context.Context) error {
			if client == nil {
				return errors.New("未配置文本补全服务")
			}
			return nil
		}),
	)
}

// ParsePreview 按“标题、摘要、正文”的行约定拆分生成结果。
func ParsePreview(text string) Preview {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	var kept []string
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	var p Preview
	switch len(kept) {
	case 0:
		return p
	case 1:
		p.Title = strings.TrimLeft(kept[0], "# ")
		p.Body = kept[0]
	case 2:
		p.Title = strings.TrimLeft(kept[0], "# ")
		p.Summary = kept[1]
		p.Body = kept[1]
	default:
		p.Title = strings.TrimLeft(kept[0], "# ")
		p.Summary = kept[1]
		p.Body = strings.Join(kept[2:], "\n")
	}
	if r := []rune(p.Summary); len(r) > summaryLimit {
		p.Summary = string(r[:summaryLimit])
	}
	return p
}

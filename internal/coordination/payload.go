package coordination

import "AgentHub/internal/worker"

// legacyPreviewField 是旧式载荷约定中承载预览内容的字段。
const legacyPreviewField = "preview"

// ExtractPayload 按步骤顺序查找第一个结构化载荷。
// 显式声明的 Result.Payload 优先；其次兼容 Data 中同时带有字符串 "type"
// 与 "preview" 字段的旧式结果。
func ExtractPayload(steps []StepResult) *worker.Payload {
	for _, step := range steps {
		if p := payloadOf(step.Result); p != nil {
			return p
		}
	}
	return nil
}

func payloadOf(r worker.Result) *worker.Payload {
	if r.Payload != nil && r.Payload.Type != "" {
		p := *r.Payload
		return &p
	}
	data, ok := r.Data.(map[string]any)
	if !ok {
		return nil
	}
	kind, ok := data["type"].(string)
	if !ok || kind == "" {
		return nil
	}
	preview, ok := data[legacyPreviewField]
	if !ok || preview == nil {
		return nil
	}
	return &worker.Payload{Type: kind, Data: preview}
}

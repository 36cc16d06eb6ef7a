package worker

import (
	"fmt"

	xerrors "AgentHub/internal/errors"
)

// Payload 是 worker 主动声明的结构化载荷，Type 用于识别载荷种类。
type Payload struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Result 是所有面向调用方的统一结果。
type Result struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    any          `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Code    xerrors.Code `json:"code,omitempty"`
	Payload *Payload     `json:"embeddedPayload,omitempty"`
}

// OK 构造成功结果。
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail 构造失败结果。
func Fail(code xerrors.Code, message string) Result {
	if message == "" {
		message = xerrors.AttributesOf(code).Message
	}
	return Result{Success: false, Code: code, Error: message}
}

// FromError 将 error 转换为失败结果，保留统一错误码。
func FromError(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	code := xerrors.CodeOf(err)
	if e, ok := xerrors.From(err); ok {
		return Result{Success: false, Code: code, Error: e.Message()}
	}
	return Result{Success: false, Code: code, Error: err.Error()}
}

// WithPayload 返回附带结构化载荷的结果副本。
func (r Result) WithPayload(payloadType string, data any) Result {
	r.Payload = &Payload{Type: payloadType, Data: data}
	return r
}

// WithMessage 返回设置了 Message 的结果副本。
func (r Result) WithMessage(format string, args ...any) Result {
	r.Message = fmt.Sprintf(format, args...)
	return r
}

// Err 将失败结果还原为 error，成功时返回 nil。
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	code := r.Code
	if code == "" {
		code = xerrors.CodeExecutorFailure
	}
	return xerrors.New(code, r.Error)
}

// Text 返回结果中可直接展示的文本，用于拼接后续提示词。
func (r Result) Text() string {
	switch v := r.Data.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case map[string]any:
		if text, ok := v["text"].(string); ok {
			return text
		}
	}
	if r.Message != "" {
		return r.Message
	}
	if !r.Success {
		return r.Error
	}
	if r.Data == nil {
		return ""
	}
	return fmt.Sprint(r.Data)
}

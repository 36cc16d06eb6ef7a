package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

// 通用错误码。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeEventFailure          Code = "EVENT_FAILURE"
	CodeExecutorFailure       Code = "EXECUTOR_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// 注册、调度、路由与流水线相关的错误码。
const (
	CodeInvalidWorker       Code = "INVALID_WORKER"
	CodeWorkerUnavailable   Code = "WORKER_UNAVAILABLE"
	CodeTaskTimeout         Code = "TASK_TIMEOUT"
	CodeTaskConflict        Code = "TASK_CONFLICT"
	CodeTargetNotFound      Code = "TARGET_NOT_FOUND"
	CodeNoRouteFound        Code = "NO_ROUTE_FOUND"
	CodeAutoRoutingDisabled Code = "AUTO_ROUTING_DISABLED"
	CodePipelineStepFailed  Code = "PIPELINE_STEP_FAILED"
	CodeRateLimited         Code = "RATE_LIMITED"
)

type flag uint8

const (
	retryable flag = 1 << iota
	alert
)

func attrs(message string, sev Severity, flags flag) Attributes {
	return Attributes{
		Message:   message,
		Severity:  sev,
		Retryable: flags&retryable != 0,
		Alert:     flags&alert != 0,
	}
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               attrs("unknown error", SeverityCritical, alert),
		CodeInvalidArgument:       attrs("invalid argument", SeverityInfo, 0),
		CodeNotFound:              attrs("resource not found", SeverityInfo, 0),
		CodeConflict:              attrs("resource conflict", SeverityWarning, 0),
		CodeInitializationFailure: attrs("service not initialized", SeverityWarning, retryable|alert),
		CodeStorageFailure:        attrs("storage failure", SeverityCritical, retryable|alert),
		CodeEventFailure:          attrs("event delivery failure", SeverityWarning, retryable),
		CodeExecutorFailure:       attrs("worker execution failure", SeverityCritical, alert),
		CodeTimeout:               attrs("operation cancelled", SeverityWarning, retryable),

		CodeInvalidWorker:       attrs("invalid worker", SeverityWarning, 0),
		CodeWorkerUnavailable:   attrs("worker unavailable", SeverityWarning, alert),
		CodeTaskTimeout:         attrs("task deadline exceeded", SeverityWarning, alert),
		CodeTaskConflict:        attrs("task already in flight", SeverityWarning, 0),
		CodeTargetNotFound:      attrs("target worker not found", SeverityInfo, 0),
		CodeNoRouteFound:        attrs("no route found for command", SeverityInfo, 0),
		CodeAutoRoutingDisabled: attrs("auto routing disabled", SeverityInfo, 0),
		CodePipelineStepFailed:  attrs("pipeline step failed", SeverityWarning, 0),
		CodeRateLimited:         attrs("too many commands", SeverityInfo, retryable),
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型，属性在构造时从注册表取默认值，可被选项覆盖。
type Error struct {
	code     Code
	message  string
	cause    error
	attrs    Attributes
	metadata map[string]string
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(v bool) Option {
	return func(e *Error) { e.attrs.Retryable = v }
}

// WithAlert 指定错误是否需要告警。
func WithAlert(v bool) Option {
	return func(e *Error) { e.attrs.Alert = v }
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.attrs.Severity = sev }
}

// New 创建一个新的错误实例，message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{code: code, attrs: AttributesOf(code)}
	e.message = message
	if e.message == "" {
		e.message = e.attrs.Message
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 使 errors.Is 按错误码比较两个 *Error。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含 cause 的错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Retryable() bool   { return e != nil && e.attrs.Retryable }
func (e *Error) ShouldAlert() bool { return e != nil && e.attrs.Alert }

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attrs.Severity
}

// From 尝试从 error 链中取出统一错误类型。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码，非统一错误返回 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// Is 判断 err 是否携带指定错误码。
func Is(err error, code Code) bool {
	e, ok := From(err)
	return ok && e.Code() == code
}

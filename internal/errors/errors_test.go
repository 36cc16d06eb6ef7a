package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestNewUsesRegisteredDefaults(t *testing.T) {
	err := New(CodeTaskTimeout, "")
	if err.Message() != "task deadline exceeded" {
		t.Fatalf("unexpected message: %q", err.Message())
	}
	if !err.ShouldAlert() || err.Retryable() || err.Severity() != SeverityWarning {
		t.Fatalf("unexpected attributes: alert=%v retry=%v sev=%s", err.ShouldAlert(), err.Retryable(), err.Severity())
	}

	overridden := New(CodeTaskTimeout, "slow", WithAlert(false), WithRetryable(true), WithSeverity(SeverityInfo))
	if overridden.ShouldAlert() || !overridden.Retryable() || overridden.Severity() != SeverityInfo {
		t.Fatalf("options were not applied")
	}
}

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := fmt.Errorf("session: %w", Wrap(CodeStorageFailure, cause, "写入共享上下文失败", WithMetadata("key", "s1")))

	if !stdErrors.Is(err, cause) {
		t.Fatalf("cause lost")
	}
	if !Is(err, CodeStorageFailure) || CodeOf(err) != CodeStorageFailure {
		t.Fatalf("code lost: %s", CodeOf(err))
	}
	if !stdErrors.Is(err, New(CodeStorageFailure, "")) {
		t.Fatalf("errors.Is should compare codes")
	}
	e, ok := From(err)
	if !ok || e.Metadata()["key"] != "s1" {
		t.Fatalf("metadata lost: %+v", e)
	}
	if got := e.Error(); got != "[STORAGE_FAILURE] 写入共享上下文失败: connection refused" {
		t.Fatalf("unexpected error string: %s", got)
	}
}

func TestUnknownCodesFallBack(t *testing.T) {
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors should map to UNKNOWN")
	}
	if AttributesOf("NOPE") != AttributesOf(CodeUnknown) {
		t.Fatalf("unregistered code should use UNKNOWN attributes")
	}

	Register("CUSTOM_CODE", Attributes{Message: "custom", Severity: SeverityInfo})
	if New("CUSTOM_CODE", "").Message() != "custom" {
		t.Fatalf("registered code not used")
	}
}

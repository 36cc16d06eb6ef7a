package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestBuildHandlerWritesTextToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	var opened []io.Closer
	handler, err := buildHandler("text", []string{path}, &slog.HandlerOptions{Level: slog.LevelInfo}, &opened)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	slog.New(handler).Info("worker registered", slog.String("worker", "analyst"))
	if err := closeAll(opened); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "worker=analyst") {
		t.Fatalf("unexpected log output: %s", data)
	}
}

func TestBuildAuditLogger(t *testing.T) {
	var opened []io.Closer
	if _, err := buildAuditLogger(AuditConfig{}, &opened); err == nil {
		t.Fatalf("expected error for empty audit path")
	}

	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	audit, err := buildAuditLogger(AuditConfig{Enabled: true, Path: path}, &opened)
	if err != nil {
		t.Fatalf("build audit logger: %v", err)
	}
	audit.Info("worker reactivated", slog.String("worker", "writer"))
	if err := closeAll(opened); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(data), `"worker":"writer"`) {
		t.Fatalf("unexpected audit output: %s", data)
	}
}

func TestSetLevelAppliesAtRuntime(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	var buf bytes.Buffer
	SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { SetDefault(nil) })

	SetLevel("warn")
	Named("registry").Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %s", buf.String())
	}

	SetLevel("debug")
	Named("registry").Debug("visible")
	if !strings.Contains(buf.String(), "component=registry") {
		t.Fatalf("expected component attribute, got %s", buf.String())
	}
}

package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"AgentHub/internal/llm"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCompleteParsesScriptOutput(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	script := writeScript(t, "cat >/dev/null\necho '{\"text\":\" hola \"}'\n")

	client, err := NewClient(sh, script, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, err := client.Complete(context.Background(), "prompt", llm.Options{})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if text != "hola" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestCompleteReportsScriptError(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	script := writeScript(t, "cat >/dev/null\necho '{\"error\":\"model missing\"}'\n")
	client, _ := NewClient(sh, script, "")
	if _, err := client.Complete(context.Background(), "prompt", llm.Options{}); err == nil {
		t.Fatalf("expected error from script")
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/srv", "bridge.py"); got != filepath.Join("/srv", "bridge.py") {
		t.Fatalf("unexpected path: %s", got)
	}
	if got := ResolveScriptPath("/srv", "/abs/bridge.py"); got != "/abs/bridge.py" {
		t.Fatalf("unexpected path: %s", got)
	}
	if _, err := NewClient("", "", ""); err == nil {
		t.Fatalf("expected error without script")
	}
}

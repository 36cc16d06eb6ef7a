package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"AgentHub/internal/llm"
)

// Client 通过调用 Python 脚本完成文本补全，脚本从 stdin 读取 JSON 请求，向 stdout 写出 JSON 响应。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

type request struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Timestamp   int64   `json:"timestamp"`
}

type response struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Complete 调用外部脚本并解析输出。
func (c *Client) Complete(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	ctx, cancel := llm.WithTimeout(ctx, opts)
	defer cancel()

	encoded, err := json.Marshal(request{
		Prompt:      prompt,
		System:      opts.System,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Timestamp:   time.Now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("执行 Python 脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("解析 Python 输出失败: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("Python 脚本返回错误: %s", resp.Error)
	}
	return strings.TrimSpace(resp.Text), nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

var _ llm.Client = (*Client)(nil)

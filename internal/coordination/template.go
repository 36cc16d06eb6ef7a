package coordination

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"AgentHub/internal/worker"
)

// 模板占位符。
const (
	PlaceholderInput    = "{{input}}"
	PlaceholderPrevious = "{{previous}}"
)

// DefaultPipeline 是内置的“先分析再写作”流水线名称。
const DefaultPipeline = "content_from_analysis"

// Step 是模板流水线中的一步。
type Step struct {
	WorkerType string `yaml:"worker_type" json:"worker_type"`
	Template   string `yaml:"template" json:"template"`
}

// Template 是按固定顺序执行的流水线定义。
type Template struct {
	Name  string `yaml:"name" json:"name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// DefaultTemplates 返回内置流水线：analysis → content → review。
func DefaultTemplates() []Template {
	return []Template{{
		Name: DefaultPipeline,
		Steps: []Step{
			{WorkerType: "analysis", Template: "Analyze the following request and list the key findings:\n{{input}}"},
			{WorkerType: "content", Template: "Write a blog post for the request \"{{input}}\" based on this analysis:\n{{previous}}"},
			{WorkerType: "review", Template: "Review and improve this draft, return the final text:\n{{previous}}"},
		},
	}}
}

type templateFile struct {
	Pipelines []Template `yaml:"pipelines"`
}

// LoadTemplates 从 YAML 文件读取流水线模板。
func LoadTemplates(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取流水线模板失败: %w", err)
	}
	return ParseTemplates(data)
}

// ParseTemplates 解析并校验 YAML 格式的流水线模板。
func ParseTemplates(data []byte) ([]Template, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析流水线模板失败: %w", err)
	}
	seen := make(map[string]struct{}, len(file.Pipelines))
	for i := range file.Pipelines {
		tpl := &file.Pipelines[i]
		tpl.Name = strings.TrimSpace(tpl.Name)
		if tpl.Name == "" {
			return nil, fmt.Errorf("流水线 #%d 缺少 name", i+1)
		}
		if _, dup := seen[tpl.Name]; dup {
			return nil, fmt.Errorf("流水线 %s 重复定义", tpl.Name)
		}
		seen[tpl.Name] = struct{}{}
		if len(tpl.Steps) == 0 {
			return nil, fmt.Errorf("流水线 %s 没有步骤", tpl.Name)
		}
		for j := range tpl.Steps {
			tpl.Steps[j].WorkerType = strings.TrimSpace(tpl.Steps[j].WorkerType)
			if tpl.Steps[j].WorkerType == "" {
				return nil, fmt.Errorf("流水线 %s 第 %d 步缺少 worker_type", tpl.Name, j+1)
			}
			if strings.TrimSpace(tpl.Steps[j].Template) == "" {
				tpl.Steps[j].Template = PlaceholderInput
			}
		}
	}
	return file.Pipelines, nil
}

// Render 替换模板中的占位符，previous 为上一步完整结果的 JSON 表示。
func Render(template, input string, previous *worker.Result) string {
	prev := ""
	if previous != nil {
		if data, err := json.Marshal(previous); err == nil {
			prev = string(data)
		} else {
			prev = previous.Text()
		}
	}
	return strings.NewReplacer(PlaceholderInput, input, PlaceholderPrevious, prev).Replace(template)
}

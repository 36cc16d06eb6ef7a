package router

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CoordinationTarget 是指向协作流水线的规则目标。
const CoordinationTarget = "multi_agent_coordination"

// Rule 描述一条关键词路由规则。
type Rule struct {
	Category     string   `yaml:"category" json:"category"`
	Target       string   `yaml:"target" json:"target"`
	Keywords     []string `yaml:"keywords" json:"keywords"`
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	Priority     int      `yaml:"priority" json:"priority"`
}

// Coordination 报告规则是否指向协作流水线。
func (r Rule) Coordination() bool {
	return r.Target == CoordinationTarget
}

// Matches 统计命令中命中的关键词数量，命令需已转为小写。
func (r Rule) Matches(lowered string) int {
	count := 0
	for _, keyword := range r.Keywords {
		if keyword != "" && strings.Contains(lowered, keyword) {
			count++
		}
	}
	return count
}

// lowered 返回关键词已去空白并转为小写的副本。
func (r Rule) lowered() Rule {
	keywords := make([]string, 0, len(r.Keywords))
	for _, keyword := range r.Keywords {
		if k := strings.ToLower(strings.TrimSpace(keyword)); k != "" {
			keywords = append(keywords, k)
		}
	}
	r.Keywords = keywords
	r.Capabilities = append([]string(nil), r.Capabilities...)
	return r
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules 从 YAML 文件读取路由规则。
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取路由规则失败: %w", err)
	}
	return ParseRules(data)
}

// ParseRules 解析并校验 YAML 格式的路由规则。
func ParseRules(data []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析路由规则失败: %w", err)
	}
	return normalize(file.Rules)
}

func normalize(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i, rule := range rules {
		rule.Category = strings.TrimSpace(rule.Category)
		rule.Target = strings.TrimSpace(rule.Target)
		if rule.Category == "" {
			return nil, fmt.Errorf("规则 #%d 缺少 category", i+1)
		}
		if rule.Target == "" {
			return nil, fmt.Errorf("规则 %s 缺少 target", rule.Category)
		}
		rule = rule.lowered()
		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("规则 %s 没有有效关键词", rule.Category)
		}
		out = append(out, rule)
	}
	return out, nil
}

// DefaultRules 返回内置的路由规则。
func DefaultRules() []Rule {
	rules, _ := normalize([]Rule{
		{
			Category:    "content_from_analysis",
			Target:      CoordinationTarget,
			Keywords:    []string{"crea blog", "create blog", "analiza y escribe", "analyze and write"},
			Description: "先分析再生成内容并审校",
			Priority:    1,
		},
		{
			Category:    "multi_agent",
			Target:      CoordinationTarget,
			Keywords:    []string{"coordina", "coordinate", "todos los agentes", "all agents"},
			Description: "动态协作所有相关 worker",
			Priority:    2,
		},
		{
			Category:     "analysis",
			Target:       "analysis",
			Keywords:     []string{"analiza", "analyze", "análisis", "analysis", "servicio", "audit"},
			Capabilities: []string{"analysis"},
			Priority:     10,
		},
		{
			Category:     "content",
			Target:       "content",
			Keywords:     []string{"blog", "post", "artículo", "article", "escribe", "write"},
			Capabilities: []string{"writing"},
			Priority:     20,
		},
		{
			Category:     "review",
			Target:       "review",
			Keywords:     []string{"revisa", "review", "corrige", "proofread"},
			Capabilities: []string{"review"},
			Priority:     30,
		},
		{
			Category:     "preview",
			Target:       "preview",
			Keywords:     []string{"preview", "vista previa", "landing", "mockup"},
			Capabilities: []string{"render"},
			Priority:     40,
		},
		{
			Category:     "chain",
			Target:       "chain",
			Keywords:     []string{"blockchain", "bloque", "block", "chain id", "wallet", "balance"},
			Capabilities: []string{"web3"},
			Priority:     50,
		},
	})
	return rules
}

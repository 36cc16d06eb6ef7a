package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(text string) []Snippet
}

// Snippet 描述可供补全服务引用的一段知识。
type Snippet struct {
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Tags     []string `json:"tags" yaml:"tags"`
}

// StaticProvider 基于关键词匹配提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 或 YAML 文件加载知识条目，按扩展名判断格式。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}

	var entries []Snippet
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &entries)
	default:
		err = json.Unmarshal(content, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}
	return NewStaticProvider(entries, maxResults), nil
}

// Query 返回关键词或标签出现在文本中的条目，没有关键词的条目总是命中。
func (p *StaticProvider) Query(text string) []Snippet {
	if p == nil {
		return nil
	}
	text = strings.ToLower(strings.TrimSpace(text))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, text) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, text string) bool {
	if len(snippet.Keywords) == 0 {
		return true
	}
	return containsAny(text, snippet.Keywords) || containsAny(text, snippet.Tags)
}

func containsAny(text string, words []string) bool {
	for _, word := range words {
		normalized := strings.ToLower(strings.TrimSpace(word))
		if normalized != "" && strings.Contains(text, normalized) {
			return true
		}
	}
	return false
}

// Render 将命中的条目渲染为提示词片段，没有命中时返回空串。
func Render(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## 参考资料\n")
	for i, s := range snippets {
		if strings.TrimSpace(s.Title) == "" && strings.TrimSpace(s.Content) == "" {
			continue
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, strings.TrimSpace(s.Title), strings.TrimSpace(s.Content))
	}
	return b.String()
}

var _ Provider = (*StaticProvider)(nil)

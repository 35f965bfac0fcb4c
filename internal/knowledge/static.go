package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义提示词知识检索的通用接口。
type Provider interface {
	Query(text string, limit int) []Snippet
}

// Snippet 描述可注入系统提示词的一段背景知识。
// 没有关键词的条目视为全局条目，任何问题都会带上。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过加载 JSON 文件提供静态知识检索能力。
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

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 对用户问题做关键词包含匹配，limit 不大于零时用默认上限。
func (p *StaticProvider) Query(text string, limit int) []Snippet {
	if p == nil {
		return nil
	}
	if limit <= 0 || limit > p.maxResults {
		limit = p.maxResults
	}

	text = strings.ToLower(strings.TrimSpace(text))

	results := make([]Snippet, 0, limit)
	for _, item := range p.items {
		if matches(item, text) {
			results = append(results, item)
			if len(results) >= limit {
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
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(text, normalized) {
			return true
		}
	}
	for _, tag := range snippet.Tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if strings.Contains(text, normalized) {
			return true
		}
	}
	return false
}

var _ Provider = (*StaticProvider)(nil)

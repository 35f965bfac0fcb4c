package tool

import (
	"context"
	"fmt"

	"GraphChat/internal/llm"
)

// GroundedSearcher 是带联网检索能力的生成接口，由 gemini 客户端实现。
type GroundedSearcher interface {
	GenerateGrounded(ctx context.Context, prompt string) (string, error)
}

// SearchTool 通过带检索增强的模型回答时效性问题。
type SearchTool struct {
	searcher GroundedSearcher
}

// NewSearchTool 创建搜索工具，searcher 为空时工具降级为固定错误文本。
func NewSearchTool(searcher GroundedSearcher) *SearchTool {
	return &SearchTool{searcher: searcher}
}

func (t *SearchTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "google_search",
		DisplayName: "Google Search",
		Description: "Search the web using Google Search. Use this tool to find current information, news, or answers to topical questions.",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"query": {
					Type:        "string",
					Description: "The search query",
				},
			},
			Required: []string{"query"},
		},
	}
}

func (t *SearchTool) Call(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if t.searcher == nil {
		return "Search failed: search client not configured", nil
	}

	prompt := fmt.Sprintf(
		"Please search for information about: %s. Provide a comprehensive summary of the most relevant and current information you find.",
		query,
	)
	summary, err := t.searcher.GenerateGrounded(ctx, prompt)
	if err != nil {
		return fmt.Sprintf("Search failed: %v", err), nil
	}
	return summary, nil
}

var _ Tool = (*SearchTool)(nil)

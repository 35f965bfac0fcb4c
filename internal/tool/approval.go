package tool

import (
	"context"

	"GraphChat/internal/approval"
	"GraphChat/internal/graph"
	"GraphChat/internal/llm"
)

// awaitApproval 先消费本次恢复携带的审批决定，没有就挂起整条会话。
func awaitApproval(ctx context.Context, toolName string, toolArgs map[string]any, message string) (*approval.Decision, error) {
	if decision, ok := graph.TakeResume(ctx); ok {
		return decision, nil
	}
	return nil, graph.InterruptWith(approval.NewRequest(toolName, toolArgs, message))
}

// HITLSearchTool 是 google_search 的人工审批版本。
type HITLSearchTool struct {
	inner Tool
}

// NewHITLSearchTool 包装搜索工具，每次调用前都要人批准。
func NewHITLSearchTool(inner Tool) *HITLSearchTool {
	return &HITLSearchTool{inner: inner}
}

func (t *HITLSearchTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "google_search_hitl",
		DisplayName: "Google Search",
		Description: "Search the web using Google Search (requires human approval). Use this tool to find current information, news, or answers to topical questions.",
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

func (t *HITLSearchTool) Call(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")

	decision, err := awaitApproval(ctx, "google_search",
		map[string]any{"query": query},
		"Requesting approval to search for: "+query)
	if err != nil {
		return "", err
	}

	switch decision.Action {
	case approval.ActionApprove:
		return t.inner.Call(ctx, map[string]any{"query": query})
	case approval.ActionReject:
		return "Google search was rejected by human reviewer.", nil
	case approval.ActionEdit:
		edited := query
		if _, ok := decision.EditedArgs["query"]; ok {
			edited = stringArg(decision.EditedArgs, "query")
		}
		return t.inner.Call(ctx, map[string]any{"query": edited})
	default:
		return "Google search was not approved.", nil
	}
}

// HITLWeatherTool 是 get_weather 的人工审批版本，对外参数名是 location，
// 放行后映射为内部工具的 city 参数。
type HITLWeatherTool struct {
	inner Tool
}

// NewHITLWeatherTool 包装天气工具，每次调用前都要人批准。
func NewHITLWeatherTool(inner Tool) *HITLWeatherTool {
	return &HITLWeatherTool{inner: inner}
}

func (t *HITLWeatherTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "get_weather_hitl",
		DisplayName: "Get Weather",
		Description: "Get current weather information for a specific location (requires human approval). Provide the city, state, and/or country for accurate results.",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"location": {
					Type:        "string",
					Description: "The location to get weather for, e.g. London or Paris, France",
				},
			},
			Required: []string{"location"},
		},
	}
}

func (t *HITLWeatherTool) Call(ctx context.Context, args map[string]any) (string, error) {
	location := stringArg(args, "location")

	decision, err := awaitApproval(ctx, "get_weather",
		map[string]any{"location": location},
		"Requesting approval to get weather for: "+location)
	if err != nil {
		return "", err
	}

	switch decision.Action {
	case approval.ActionApprove:
		return t.inner.Call(ctx, map[string]any{"city": location})
	case approval.ActionReject:
		return "Weather lookup was rejected by human reviewer.", nil
	case approval.ActionEdit:
		edited := location
		if _, ok := decision.EditedArgs["location"]; ok {
			edited = stringArg(decision.EditedArgs, "location")
		}
		return t.inner.Call(ctx, map[string]any{"city": edited})
	default:
		return "Weather lookup was not approved.", nil
	}
}

var (
	_ Tool = (*HITLSearchTool)(nil)
	_ Tool = (*HITLWeatherTool)(nil)
)

package tool

import (
	"context"
	"fmt"
	"strings"

	"GraphChat/internal/llm"
)

// WeatherTool 提供内置城市的天气查询，不依赖外部服务。
type WeatherTool struct{}

// NewWeatherTool 创建天气工具。
func NewWeatherTool() *WeatherTool {
	return &WeatherTool{}
}

func (t *WeatherTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "get_weather",
		DisplayName: "Get Weather",
		Description: "Use this tool to get the current weather for a specific city. Returns a string describing the weather.",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"city": {
					Type:        "string",
					Description: "The city to get the weather for, e.g. London",
				},
			},
			Required: []string{"city"},
		},
	}
}

func (t *WeatherTool) Call(_ context.Context, args map[string]any) (string, error) {
	city := stringArg(args, "city")
	lowered := strings.ToLower(city)
	switch {
	case strings.Contains(lowered, "london"):
		return "It's currently 15°C and cloudy in London.", nil
	case strings.Contains(lowered, "paris"):
		return "It's a sunny 22°C in Paris.", nil
	default:
		return fmt.Sprintf("Sorry, I don't have the weather for %s.", city), nil
	}
}

var _ Tool = (*WeatherTool)(nil)

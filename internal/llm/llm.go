package llm

import (
	"context"

	"GraphChat/internal/chat"
)

// Request 描述一次大模型调用的完整上下文。
type Request struct {
	// Messages 是完整的对话消息序列，含系统提示词。
	Messages []chat.Message
	// Tools 列出本次调用允许模型使用的工具声明，为空表示纯对话。
	Tools []ToolDecl
	// ResponseSchema 非空时要求模型输出符合该 JSON Schema 的结构化内容。
	ResponseSchema *Schema
}

// Response 是大模型的一次推理产物：一条助手消息，
// 可能携带文本内容、工具调用，或两者皆有。
type Response struct {
	Message chat.Message
}

// ToolDecl 描述一个可供模型调用的工具。
type ToolDecl struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Schema 是 JSON Schema 的一个子集，用于声明工具参数与结构化输出。
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	// Generate 发起一次阻塞调用，返回完整的助手消息。
	Generate(ctx context.Context, req Request) (*Response, error)
	// GenerateStream 以流式方式调用模型，文本增量通过 onToken 逐段回调，
	// 返回值仍是聚合后的完整消息。不支持流式的实现可以整段回调一次。
	GenerateStream(ctx context.Context, req Request, onToken func(token string)) (*Response, error)
}

// Float 返回浮点数的指针，便于填写 Schema 的 Minimum/Maximum。
func Float(v float64) *float64 {
	return &v
}

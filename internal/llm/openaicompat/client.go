package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"GraphChat/internal/chat"
	"GraphChat/internal/llm"
)

const (
	defaultModelName = "custom-enterprise-llm"
	defaultTimeout   = 60 * time.Second
)

// 自定义网关支持的两种协议模式。
const (
	// ModePrompt 走文本补全协议：{"prompt","model","stop"} → {"text"|"response"}。
	// 不支持工具调用与结构化输出，对话上下文展平成单段提示词。
	ModePrompt = "prompt"
	// ModeChat 走 OpenAI 兼容的 /chat/completions 协议，
	// 支持工具调用、结构化输出与 SSE 流式返回。
	ModeChat = "chat"
)

// Config 描述了调用企业自建 LLM 网关所需的信息。
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Mode     string
	Timeout  time.Duration
}

// Client 调用企业内部的 LLM 网关。协议模式由配置决定：
// 老式网关用补全协议，新式网关用 OpenAI 兼容的对话协议。
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	mode       string
	httpClient *http.Client
}

// NewClient 根据配置创建自定义 LLM 客户端。
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("未提供自定义 LLM 端点")
	}

	mode := strings.TrimSpace(cfg.Mode)
	switch mode {
	case "":
		mode = ModePrompt
	case ModePrompt, ModeChat:
	default:
		return nil, fmt.Errorf("不支持的自定义 LLM 协议模式: %q", cfg.Mode)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		model:    model,
		mode:     mode,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Model 返回客户端使用的模型名。
func (c *Client) Model() string {
	return c.model
}

// SupportsTools 报告当前协议模式能否绑定工具。
func (c *Client) SupportsTools() bool {
	return c.mode == ModeChat
}

// Generate 发起一次阻塞调用。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if c.mode == ModeChat {
		return c.generateChat(ctx, req)
	}
	return c.generatePrompt(ctx, req)
}

// GenerateStream 以流式方式调用模型。补全协议没有真正的流式能力，
// 退化为一次完整调用并把全文整段回调。
func (c *Client) GenerateStream(ctx context.Context, req llm.Request, onToken func(token string)) (*llm.Response, error) {
	if c.mode == ModeChat {
		return c.streamChat(ctx, req, onToken)
	}

	resp, err := c.generatePrompt(ctx, req)
	if err != nil {
		return nil, err
	}
	if onToken != nil && resp.Message.Content != "" {
		onToken(resp.Message.Content)
	}
	return resp, nil
}

// generatePrompt 把对话展平成提示词后调用补全接口。
func (c *Client) generatePrompt(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Tools) > 0 {
		return nil, errors.New("Custom LLM does not support tool binding")
	}
	if req.ResponseSchema != nil {
		return nil, errors.New("Custom LLM does not support structured output")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("消息序列不能为空")
	}

	payload := struct {
		Prompt string   `json:"prompt"`
		Model  string   `json:"model"`
		Stop   []string `json:"stop"`
	}{
		Prompt: chat.Transcript(req.Messages),
		Model:  c.model,
	}

	body, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var decoded struct {
		Text     string `json:"text"`
		Response string `json:"response"`
	}
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析自定义 LLM 响应失败: %w", err)
	}

	content := strings.TrimSpace(decoded.Text)
	if content == "" {
		content = strings.TrimSpace(decoded.Response)
	}
	if content == "" {
		return nil, errors.New("自定义 LLM 响应内容为空")
	}

	return &llm.Response{Message: chat.Assistant(content)}, nil
}

// 对话协议的线格式，与 OpenAI /chat/completions 对齐。

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string          `json:"type"`
	Function chatFunctionDef `json:"function"`
}

type chatFunctionDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  *llm.Schema `json:"parameters,omitempty"`
}

type chatResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *chatJSONSchema `json:"json_schema,omitempty"`
}

type chatJSONSchema struct {
	Name   string      `json:"name"`
	Schema *llm.Schema `json:"schema"`
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Tools          []chatTool          `json:"tools,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
	Stream         bool                `json:"stream,omitempty"`
}

type chatCompletion struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int              `json:"index"`
				ID       string           `json:"id"`
				Function chatFunctionCall `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *Client) buildChatRequest(req llm.Request, stream bool) (*chatRequest, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("消息序列不能为空")
	}

	payload := &chatRequest{
		Model:    c.model,
		Messages: toChatMessages(req.Messages),
		Stream:   stream,
	}
	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, chatTool{
			Type: "function",
			Function: chatFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	if req.ResponseSchema != nil {
		payload.ResponseFormat = &chatResponseFormat{
			Type:       "json_schema",
			JSONSchema: &chatJSONSchema{Name: "response", Schema: req.ResponseSchema},
		}
	}
	return payload, nil
}

func (c *Client) generateChat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := c.buildChatRequest(req, false)
	if err != nil {
		return nil, err
	}

	body, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var decoded chatCompletion
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析自定义 LLM 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("自定义 LLM 响应中没有有效的 choices")
	}

	msg, err := fromChatMessage(decoded.Choices[0].Message)
	if err != nil {
		return nil, err
	}
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return nil, errors.New("自定义 LLM 响应内容为空")
	}
	return &llm.Response{Message: msg}, nil
}

// streamChat 消费 SSE 流：文本增量逐段回调，
// 工具调用的参数分片按 index 聚合，流结束后整体还原。
func (c *Client) streamChat(ctx context.Context, req llm.Request, onToken func(token string)) (*llm.Response, error) {
	payload, err := c.buildChatRequest(req, true)
	if err != nil {
		return nil, err
	}

	body, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	type pendingCall struct {
		id   string
		name string
		args strings.Builder
	}

	var text strings.Builder
	pending := make(map[int]*pendingCall)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if onToken != nil {
				onToken(delta.Content)
			}
		}
		for _, tc := range delta.ToolCalls {
			call := pending[tc.Index]
			if call == nil {
				call = &pendingCall{}
				pending[tc.Index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取自定义 LLM 流式响应失败: %w", err)
	}

	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var toolCalls []chat.ToolCall
	for _, idx := range indexes {
		call := pending[idx]
		args := map[string]any{}
		if raw := strings.TrimSpace(call.args.String()); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("解析工具调用参数失败: %w", err)
			}
		}
		id := call.id
		if id == "" {
			id = fmt.Sprintf("call_%d", idx)
		}
		toolCalls = append(toolCalls, chat.ToolCall{ID: id, Name: call.name, Args: args})
	}

	msg := chat.Message{Role: chat.RoleAssistant, Content: text.String(), ToolCalls: toolCalls}
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return nil, errors.New("自定义 LLM 流式响应为空")
	}
	return &llm.Response{Message: msg}, nil
}

func toChatMessages(msgs []chat.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, msg := range msgs {
		m := chatMessage{Role: string(msg.Role), Content: msg.Content}
		if msg.Role == chat.RoleTool {
			m.ToolCallID = msg.ToolCallID
		}
		for _, call := range msg.ToolCalls {
			args := "{}"
			if len(call.Args) > 0 {
				if encoded, err := json.Marshal(call.Args); err == nil {
					args = string(encoded)
				}
			}
			m.ToolCalls = append(m.ToolCalls, chatToolCall{
				ID:       call.ID,
				Type:     "function",
				Function: chatFunctionCall{Name: call.Name, Arguments: args},
			})
		}
		out = append(out, m)
	}
	return out
}

func fromChatMessage(m chatMessage) (chat.Message, error) {
	msg := chat.Message{Role: chat.RoleAssistant, Content: strings.TrimSpace(m.Content)}
	for i, call := range m.ToolCalls {
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return chat.Message{}, fmt.Errorf("解析工具调用参数失败: %w", err)
			}
		}
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		msg.ToolCalls = append(msg.ToolCalls, chat.ToolCall{ID: id, Name: call.Function.Name, Args: args})
	}
	return msg, nil
}

func (c *Client) post(ctx context.Context, payload any) (io.ReadCloser, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化自定义 LLM 请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("构建自定义 LLM 请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求自定义 LLM 失败: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("自定义 LLM 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}

var _ llm.Client = (*Client)(nil)

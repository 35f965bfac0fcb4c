package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"GraphChat/internal/chat"
	"GraphChat/internal/llm"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com"
	defaultModelName = "gemini-2.5-flash"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 Gemini API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 Google Gemini 的生成接口，
// 支持工具调用、结构化输出与 SSE 流式返回。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 Gemini 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Gemini API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Model 返回客户端使用的模型名。
func (c *Client) Model() string {
	return c.model
}

// 请求与响应的线格式，与 v1beta REST 接口一一对应。

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart map[string]any

type geminiToolSet struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations,omitempty"`
	GoogleSearch         *googleSearchTool    `json:"google_search,omitempty"`
}

// googleSearchTool 序列化为空对象 {}，启用 Gemini 内置的联网搜索。
type googleSearchTool struct{}

type geminiFunctionDecl struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  *llm.Schema `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string      `json:"responseMimeType,omitempty"`
	ResponseSchema   *llm.Schema `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiToolSet         `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate 调用 generateContent 接口，返回完整的助手消息。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	body, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var decoded geminiResponse
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 Gemini 响应失败: %w", err)
	}
	return parseResponse(&decoded)
}

// GenerateStream 调用 streamGenerateContent 接口，文本增量逐段回调，
// 工具调用与完整文本在流结束后聚合返回。
func (c *Client) GenerateStream(ctx context.Context, req llm.Request, onToken func(token string)) (*llm.Response, error) {
	payload, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, c.apiKey)
	body, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var text strings.Builder
	var toolCalls []chat.ToolCall

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var decoded geminiResponse
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			continue
		}
		if decoded.Error != nil {
			return nil, fmt.Errorf("Gemini 返回错误: %s", decoded.Error.Message)
		}
		if len(decoded.Candidates) == 0 {
			continue
		}
		for _, part := range decoded.Candidates[0].Content.Parts {
			if chunk, ok := part["text"].(string); ok && chunk != "" {
				text.WriteString(chunk)
				if onToken != nil {
					onToken(chunk)
				}
			}
			if fc, ok := part["functionCall"].(map[string]any); ok {
				toolCalls = append(toolCalls, toolCallFromPart(fc, len(toolCalls)))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取 Gemini 流式响应失败: %w", err)
	}

	msg := chat.Message{Role: chat.RoleAssistant, Content: text.String(), ToolCalls: toolCalls}
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return nil, errors.New("Gemini 流式响应为空")
	}
	return &llm.Response{Message: msg}, nil
}

// GenerateGrounded 使用内置的 google_search 工具执行一次检索增强生成，
// 返回融合了实时搜索结果的文本。
func (c *Client) GenerateGrounded(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("检索提示词不能为空")
	}

	payload := &geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{"text": prompt}}},
		},
		Tools: []geminiToolSet{
			{GoogleSearch: &googleSearchTool{}},
		},
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	body, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var decoded geminiResponse
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析 Gemini 响应失败: %w", err)
	}
	resp, err := parseResponse(&decoded)
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload *geminiRequest) (io.ReadCloser, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化 Gemini 请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("构建 Gemini 请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 Gemini 失败: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("Gemini 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}

func (c *Client) buildRequest(req llm.Request) (*geminiRequest, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("消息序列不能为空")
	}
	if req.ResponseSchema != nil && len(req.Tools) > 0 {
		return nil, errors.New("结构化输出模式不支持同时绑定工具")
	}

	payload := &geminiRequest{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case chat.RoleSystem:
			// 系统提示词走 systemInstruction，多条时拼接。
			if payload.SystemInstruction == nil {
				payload.SystemInstruction = &geminiContent{Parts: []geminiPart{}}
			}
			payload.SystemInstruction.Parts = append(payload.SystemInstruction.Parts, geminiPart{"text": msg.Content})
		case chat.RoleAssistant:
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{"text": msg.Content})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, geminiPart{
					"functionCall": map[string]any{
						"name": call.Name,
						"args": call.Args,
					},
				})
			}
			if len(parts) > 0 {
				payload.Contents = append(payload.Contents, geminiContent{Role: "model", Parts: parts})
			}
		case chat.RoleTool:
			payload.Contents = append(payload.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					"functionResponse": map[string]any{
						"name": msg.ToolName,
						"response": map[string]any{
							"content": msg.Content,
						},
					},
				}},
			})
		default:
			payload.Contents = append(payload.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{"text": msg.Content}},
			})
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, geminiFunctionDecl{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
		payload.Tools = []geminiToolSet{{FunctionDeclarations: decls}}
	}

	if req.ResponseSchema != nil {
		payload.GenerationConfig = &geminiGenerationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   req.ResponseSchema,
		}
	}

	return payload, nil
}

func parseResponse(decoded *geminiResponse) (*llm.Response, error) {
	if decoded.Error != nil {
		return nil, fmt.Errorf("Gemini 返回错误: %s", decoded.Error.Message)
	}
	if len(decoded.Candidates) == 0 {
		return nil, errors.New("Gemini 响应中没有有效的 candidates")
	}

	var textParts []string
	var toolCalls []chat.ToolCall
	for _, part := range decoded.Candidates[0].Content.Parts {
		if text, ok := part["text"].(string); ok && text != "" {
			textParts = append(textParts, text)
		}
		if fc, ok := part["functionCall"].(map[string]any); ok {
			toolCalls = append(toolCalls, toolCallFromPart(fc, len(toolCalls)))
		}
	}

	msg := chat.Message{
		Role:      chat.RoleAssistant,
		Content:   strings.Join(textParts, ""),
		ToolCalls: toolCalls,
	}
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return nil, errors.New("Gemini 响应内容为空")
	}
	return &llm.Response{Message: msg}, nil
}

// toolCallFromPart 从 functionCall part 中还原工具调用。
// Gemini 不返回调用 ID，这里按序号合成，供工具结果回填时引用。
func toolCallFromPart(fc map[string]any, index int) chat.ToolCall {
	name, _ := fc["name"].(string)
	args, _ := fc["args"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	return chat.ToolCall{
		ID:   fmt.Sprintf("call_%d", index),
		Name: name,
		Args: args,
	}
}

var _ llm.Client = (*Client)(nil)

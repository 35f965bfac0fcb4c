package scripted

import (
	"context"
	"fmt"
	"sync"

	"GraphChat/internal/chat"
	"GraphChat/internal/llm"
)

// Client 是一个确定性的本地模型实现：按入队顺序吐出预设消息，
// 队列耗尽后退化为回显最后一条用户消息。用于离线演示与测试，
// 不需要任何外部凭据。
type Client struct {
	mu    sync.Mutex
	queue []chat.Message
	calls []llm.Request
}

// New 创建脚本化客户端，可以预先注入一串回复。
func New(replies ...chat.Message) *Client {
	return &Client{queue: append([]chat.Message(nil), replies...)}
}

// Enqueue 追加预设回复，Generate 按先进先出顺序消费。
func (c *Client) Enqueue(replies ...chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, replies...)
}

// Requests 返回客户端收到过的全部请求，便于测试断言。
func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.calls...)
}

// Generate 弹出下一条预设回复；队列为空时回显最后一条用户消息。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.calls = append(c.calls, req)
	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		return &llm.Response{Message: next}, nil
	}
	c.mu.Unlock()

	lastUser := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == chat.RoleUser {
			lastUser = req.Messages[i].Content
			break
		}
	}
	return &llm.Response{Message: chat.Assistant(fmt.Sprintf("You said: %s", lastUser))}, nil
}

// GenerateStream 复用 Generate，并把文本按小片段回调以模拟流式输出。
func (c *Client) GenerateStream(ctx context.Context, req llm.Request, onToken func(token string)) (*llm.Response, error) {
	resp, err := c.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if onToken != nil {
		for _, chunk := range chunkRunes(resp.Message.Content, 16) {
			onToken(chunk)
		}
	}
	return resp, nil
}

func chunkRunes(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

var _ llm.Client = (*Client)(nil)

package graphchat

import "fmt"

// ChatRequest is the payload for starting or continuing a conversation.
type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ChatResponse is the reply envelope returned by /chat and /approve.
type ChatResponse struct {
	Response      string     `json:"response"`
	ToolsUsed     []string   `json:"tools_used"`
	ThreadID      string     `json:"thread_id"`
	Interrupted   bool       `json:"interrupted"`
	InterruptData *Interrupt `json:"interrupt_data,omitempty"`
}

// Interrupt describes a tool call waiting for human approval.
type Interrupt struct {
	Type     string         `json:"type"`
	ToolName string         `json:"tool_name"`
	ToolArgs map[string]any `json:"tool_args"`
	Message  string         `json:"message"`
}

// HistoryMessage is one turn of a client-managed conversation history.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ApproveRequest carries a human decision for a paused tool call.
// Action is one of approve, reject or edit; EditedArgs applies to edit only.
type ApproveRequest struct {
	Action     string         `json:"action"`
	EditedArgs map[string]any `json:"edited_args,omitempty"`
	ThreadID   string         `json:"thread_id"`
}

// StreamEvent is a single server-sent event from /chat/stream.
// Type is one of content, tools, interrupt, error or end.
type StreamEvent struct {
	Type      string     `json:"type"`
	Tools     []string   `json:"tools,omitempty"`
	Content   string     `json:"content,omitempty"`
	Interrupt *Interrupt `json:"interrupt,omitempty"`
	ThreadID  string     `json:"thread_id,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

// Message is one message of a stored conversation thread.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ThreadSummary is one row of the thread listing.
type ThreadSummary struct {
	ThreadID     string `json:"thread_id"`
	Status       string `json:"status"`
	Turns        int    `json:"turns"`
	MessageCount int    `json:"message_count"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// ThreadStats aggregates the stored threads.
type ThreadStats struct {
	Total           int   `json:"total"`
	Active          int   `json:"active"`
	Interrupted     int   `json:"interrupted"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ThreadList is the response of GET /threads.
type ThreadList struct {
	Threads []ThreadSummary `json:"threads"`
	Stats   *ThreadStats    `json:"stats,omitempty"`
}

// ThreadDetail is the full view of a stored thread.
type ThreadDetail struct {
	ThreadID  string     `json:"thread_id"`
	Status    string     `json:"status"`
	Turns     int        `json:"turns"`
	Messages  []Message  `json:"messages"`
	Interrupt *Interrupt `json:"interrupt,omitempty"`
	CreatedAt int64      `json:"created_at"`
	UpdatedAt int64      `json:"updated_at"`
}

// ThreadFilter narrows the thread listing. The zero value lists everything.
type ThreadFilter struct {
	Limit    int
	Statuses []string
}

// IndexInfo is the self-description served at the API root.
type IndexInfo struct {
	Message   string            `json:"message"`
	Endpoints map[string]string `json:"endpoints"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("graphchat api error (%d): %s", e.StatusCode, e.Detail)
}

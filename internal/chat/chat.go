// Package chat 定义会话消息模型，是图运行时、模型客户端与工具层之间的公共语言。
package chat

import "strings"

// Role 表示消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// IsValidRole 判断角色是否合法。
func IsValidRole(role Role) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// ToolCall 表示助手消息中请求执行的一次工具调用。
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message 是会话中的一条消息。tool 角色的消息通过 ToolCallID
// 关联触发它的那次调用。
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// HasToolCalls 判断消息是否携带待执行的工具调用。
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// System 构造 system 消息。
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User 构造 user 消息。
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant 构造纯文本的 assistant 消息。
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResult 构造 tool 消息，回传某次工具调用的结果。
func ToolResult(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, ToolName: toolName}
}

// State 是图运行时承载的会话状态，消息序列只追加、不覆盖。
type State struct {
	Messages []Message `json:"messages"`
}

// Append 追加消息，语义等同于 add-messages 式的状态合并。
func (s *State) Append(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	s.Messages = append(s.Messages, msgs...)
}

// Last 返回最后一条消息，状态为空时返回 nil。
func (s *State) Last() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// Clone 返回状态的深拷贝，消息切片与工具调用参数都会被复制。
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := &State{Messages: make([]Message, len(s.Messages))}
	for i, msg := range s.Messages {
		clone.Messages[i] = cloneMessage(msg)
	}
	return clone
}

func cloneMessage(msg Message) Message {
	if len(msg.ToolCalls) > 0 {
		calls := make([]ToolCall, len(msg.ToolCalls))
		for i, call := range msg.ToolCalls {
			calls[i] = ToolCall{ID: call.ID, Name: call.Name, Args: cloneArgs(call.Args)}
		}
		msg.ToolCalls = calls
	}
	return msg
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	clone := make(map[string]any, len(args))
	for k, v := range args {
		clone[k] = v
	}
	return clone
}

// Transcript 将消息渲染为 "System:/Human:/Assistant:" 的纯文本形式，
// 供仅支持单一 prompt 的模型端点使用。
func Transcript(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			parts = append(parts, "System: "+msg.Content)
		case RoleUser:
			parts = append(parts, "Human: "+msg.Content)
		case RoleAssistant:
			parts = append(parts, "Assistant: "+msg.Content)
		case RoleTool:
			parts = append(parts, "Tool: "+msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

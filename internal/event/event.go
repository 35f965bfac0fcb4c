package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type 标识审计事件的种类。
type Type string

const (
	TypeThreadCreated Type = "thread.created"
	TypeChatCompleted Type = "chat.completed"
	TypeToolRequested Type = "tool.requested"
	TypeToolApproved  Type = "tool.approved"
	TypeToolRejected  Type = "tool.rejected"
	TypeToolEdited    Type = "tool.edited"
	TypeToolExecuted  Type = "tool.executed"
	TypeToolFailed    Type = "tool.failed"
)

// IsValidType 检查事件类型是否为支持的枚举值。
func IsValidType(typ Type) bool {
	switch typ {
	case TypeThreadCreated, TypeChatCompleted,
		TypeToolRequested, TypeToolApproved, TypeToolRejected,
		TypeToolEdited, TypeToolExecuted, TypeToolFailed:
		return true
	default:
		return false
	}
}

// Event 描述会话流水线上的一次审计事件。
// Tool 与 Args 仅在 tool.* 事件上出现，Detail 是人类可读的补充说明。
type Event struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Type      Type           `json:"type"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// New 创建一个带 ID 与时间戳的事件，工具相关字段由调用方按需填写。
func New(typ Type, threadID string) Event {
	return Event{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Type:      typ,
		CreatedAt: time.Now().Unix(),
	}
}

// Encode 把事件序列化为队列载荷。
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return data, nil
}

// Decode 从队列载荷还原事件。
func Decode(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	return evt, nil
}

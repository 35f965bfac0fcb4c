// Package approval 定义人工审批（human-in-the-loop）工作流的公共类型：
// 工具调用暂停时向人侧呈现的请求，以及人侧回传的处置决定。
package approval

// Status 表示一次工具调用在审批流中的状态。
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusEdited   Status = "edited"
)

// Action 是人侧可选的处置动作。
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
)

// RequestType 是审批请求载荷中固定的 type 字段值。
const RequestType = "tool_approval"

// Request 是图运行时暂停后暴露给人侧的审批请求载荷。
type Request struct {
	Type     string         `json:"type"`
	ToolName string         `json:"tool_name"`
	ToolArgs map[string]any `json:"tool_args"`
	Message  string         `json:"message"`
}

// NewRequest 构造一个工具审批请求。
func NewRequest(toolName string, toolArgs map[string]any, message string) *Request {
	return &Request{
		Type:     RequestType,
		ToolName: toolName,
		ToolArgs: toolArgs,
		Message:  message,
	}
}

// Decision 是人侧对审批请求的处置结果。EditedArgs 仅在 edit 动作下有意义。
type Decision struct {
	Action     Action         `json:"action"`
	EditedArgs map[string]any `json:"edited_args,omitempty"`
}

// Status 将处置动作映射为审批状态。未知动作按默认拒绝处理。
func (d Decision) Status() Status {
	switch d.Action {
	case ActionApprove:
		return StatusApproved
	case ActionReject:
		return StatusRejected
	case ActionEdit:
		return StatusEdited
	default:
		return StatusRejected
	}
}

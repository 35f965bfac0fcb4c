// Package checkpoint 负责会话线程状态的持久化。图运行时在每个节点执行后
// 保存检查点，中断时额外记录待审批的请求，恢复执行时从这里取回现场。
package checkpoint

import (
	"context"
	"strings"
	"time"

	"GraphChat/internal/approval"
	"GraphChat/internal/chat"
	xerrors "GraphChat/internal/errors"
)

// Status 表示线程当前所处的状态。
type Status string

const (
	// StatusActive 表示线程没有待处理的中断，可以继续接收消息。
	StatusActive Status = "active"
	// StatusInterrupted 表示线程停在某个节点上等待人工审批。
	StatusInterrupted Status = "interrupted"
)

// IsValidStatus 检查给定的线程状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusActive, StatusInterrupted:
		return true
	default:
		return false
	}
}

// Checkpoint 是一个会话线程的完整现场：消息状态，加上中断时的暂停位置。
type Checkpoint struct {
	ThreadID  string            `json:"thread_id"`
	Status    Status            `json:"status"`
	State     chat.State        `json:"state"`
	Node      string            `json:"node,omitempty"`
	Interrupt *approval.Request `json:"interrupt,omitempty"`
	// Resumed 记录被中断节点已获得的审批决定。节点恢复时从头重跑，
	// 这些决定按申请顺序重放，新的审批请求才会再次挂起线程。
	Resumed   []approval.Decision `json:"resumed,omitempty"`
	Turns     int                 `json:"turns"`
	CreatedAt int64               `json:"created_at"`
	UpdatedAt int64               `json:"updated_at"`
}

// Validate 校验检查点的必填字段。
func (c *Checkpoint) Validate() error {
	if c == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "checkpoint cannot be nil")
	}
	if strings.TrimSpace(c.ThreadID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "thread id cannot be empty")
	}
	if !IsValidStatus(c.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "unsupported thread status")
	}
	if c.Status == StatusInterrupted && c.Interrupt == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "interrupted checkpoint requires an interrupt payload")
	}
	return nil
}

// Clone 返回检查点的深拷贝，避免调用方修改存储内部的数据。
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	clone := *c
	if state := c.State.Clone(); state != nil {
		clone.State = *state
	}
	if c.Interrupt != nil {
		req := *c.Interrupt
		if req.ToolArgs != nil {
			args := make(map[string]any, len(req.ToolArgs))
			for k, v := range req.ToolArgs {
				args[k] = v
			}
			req.ToolArgs = args
		}
		clone.Interrupt = &req
	}
	if len(c.Resumed) > 0 {
		resumed := make([]approval.Decision, len(c.Resumed))
		for i, decision := range c.Resumed {
			resumed[i] = decision
			if decision.EditedArgs != nil {
				args := make(map[string]any, len(decision.EditedArgs))
				for k, v := range decision.EditedArgs {
					args[k] = v
				}
				resumed[i].EditedArgs = args
			}
		}
		clone.Resumed = resumed
	}
	return &clone
}

// Touch 刷新时间戳，首次写入时补齐 CreatedAt。
func (c *Checkpoint) Touch(now time.Time) {
	ts := now.Unix()
	if c.CreatedAt == 0 {
		c.CreatedAt = ts
	}
	c.UpdatedAt = ts
}

// ThreadStats 聚合线程状态的统计信息，供运维端点与健康检查使用。
type ThreadStats struct {
	Total           int   `json:"total"`
	Active          int   `json:"active"`
	Interrupted     int   `json:"interrupted"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// Store 抽象线程检查点的持久化接口。
type Store interface {
	Put(ctx context.Context, cp *Checkpoint) error
	Get(ctx context.Context, threadID string) (*Checkpoint, error)
	Delete(ctx context.Context, threadID string) error
	List(ctx context.Context, opts ...ListOption) ([]*Checkpoint, error)
	Stats(ctx context.Context) (*ThreadStats, error)
	Close() error
}

var (
	// ErrThreadNotFound 表示指定的会话线程不存在。
	ErrThreadNotFound = xerrors.New(CodeThreadNotFound, "thread not found")
)

const (
	CodeThreadNotFound xerrors.Code = "THREAD_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeThreadNotFound, xerrors.Attributes{
		Message:   "thread not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

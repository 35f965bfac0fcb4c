// Package archive 持久化会话审计事件，供运维回查与合规留档。
package archive

import (
	"context"

	"GraphChat/internal/event"
)

// Repository 抽象审计事件的持久化。
type Repository interface {
	// Save 追加一条事件记录。
	Save(ctx context.Context, evt event.Event) error
	// ListRecent 返回最近的事件，按时间倒序排列。
	ListRecent(ctx context.Context, limit int) ([]event.Event, error)
	// Close 释放底层资源。
	Close() error
}

package event

import (
	"context"
	"log/slog"
	"time"

	"GraphChat/pkg/logger"
)

const defaultEmitTimeout = 3 * time.Second

// Emitter 异步投递事件：发布失败只记日志，永远不拖慢会话主流程。
type Emitter struct {
	producer Producer
	timeout  time.Duration
}

// NewEmitter 创建事件发射器。producer 为空时 Emit 是空操作。
func NewEmitter(producer Producer) *Emitter {
	return &Emitter{producer: producer, timeout: defaultEmitTimeout}
}

// Emit 在后台投递事件。投递使用独立的超时上下文，
// 不继承请求上下文，避免响应结束后事件被取消。
func (e *Emitter) Emit(evt Event) {
	if e == nil || e.producer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := e.producer.Publish(ctx, evt); err != nil {
			logger.L().Warn("发布事件失败",
				slog.Any("error", err),
				slog.String("event_id", evt.ID),
				slog.String("type", string(evt.Type)),
			)
		}
	}()
}

package event

import (
	"context"
	"log/slog"
	"time"

	xerrors "GraphChat/internal/errors"
	"GraphChat/internal/observability/alerting"
	"GraphChat/pkg/logger"
)

// Archiver 定义了记录器落盘事件所需的能力。
type Archiver interface {
	Save(ctx context.Context, evt Event) error
}

// Recorder 从队列消费审计事件：归档、写审计日志，
// 工具执行失败时额外派发告警。
type Recorder struct {
	archive     Archiver
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// RecorderOption 定义可选配置。
type RecorderOption func(*Recorder)

// WithRecorderLogger 指定日志输出。
func WithRecorderLogger(log *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = log
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) RecorderOption {
	return func(r *Recorder) {
		if workers > 0 {
			r.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) RecorderOption {
	return func(r *Recorder) {
		r.alerter = dispatcher
	}
}

// NewRecorder 构造 Recorder。archive 为空时事件只进审计日志。
func NewRecorder(archive Archiver, consumer Consumer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		archive:     archive,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.workerCount <= 0 {
		r.workerCount = 1
	}
	return r
}

// Start 启动事件消费循环，阻塞到 ctx 取消。
func (r *Recorder) Start(ctx context.Context) error {
	if r.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置事件消费者")
	}
	return r.consumer.Consume(ctx, r.workerCount, r.handle)
}

func (r *Recorder) handle(ctx context.Context, evt Event) error {
	if !IsValidType(evt.Type) {
		r.logDebug("丢弃未知类型事件", slog.String("event_id", evt.ID), slog.String("type", string(evt.Type)))
		return nil
	}

	if r.archive != nil {
		if err := r.archive.Save(ctx, evt); err != nil {
			logger.L().Error("归档事件失败",
				slog.Any("error", err),
				slog.String("event_id", evt.ID),
				slog.String("type", string(evt.Type)),
			)
			// 返回错误让队列驱动重投，归档不能丢。
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "归档事件失败")
		}
	}

	attrs := []any{
		slog.String("event_id", evt.ID),
		slog.String("thread_id", evt.ThreadID),
		slog.String("type", string(evt.Type)),
	}
	if evt.Tool != "" {
		attrs = append(attrs, slog.String("tool", evt.Tool))
	}
	if evt.Detail != "" {
		attrs = append(attrs, slog.String("detail", evt.Detail))
	}
	logger.Audit().Info("会话事件", attrs...)

	if evt.Type == TypeToolFailed {
		r.emitAlert(ctx, evt)
	}
	return nil
}

func (r *Recorder) emitAlert(ctx context.Context, evt Event) {
	if r == nil || r.alerter == nil {
		return
	}
	alert := alerting.Event{
		Source:   "event-recorder",
		Severity: xerrors.SeverityWarning,
		Summary:  "工具执行失败: " + evt.Tool,
		Detail:   evt.Detail,
		Metadata: map[string]string{
			"thread_id": evt.ThreadID,
			"event_id":  evt.ID,
		},
		OccurredAt: time.Unix(evt.CreatedAt, 0),
	}
	if err := r.alerter.Notify(ctx, alert); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("event_id", evt.ID),
			slog.String("tool", evt.Tool),
		)
	}
}

func (r *Recorder) logDebug(msg string, attrs ...slog.Attr) {
	if r.logger == nil {
		return
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	r.logger.Debug(msg, args...)
}

package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "GraphChat/internal/errors"
	"GraphChat/pkg/logger"
)

// Event 描述一次需要通知运维的告警。
type Event struct {
	Source     string            `json:"source"`
	Severity   xerrors.Severity  `json:"severity"`
	Summary    string            `json:"summary"`
	Detail     string            `json:"detail,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier 负责将告警发送到某个渠道。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将告警广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 把告警投递到所有注册的通知器，错误聚合返回。
type FanoutDispatcher struct {
	notifiers []Notifier
}

// NewFanout 创建 FanoutDispatcher，nil 通知器被忽略。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			set = append(set, n)
		}
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将告警广播至所有通知器。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("notifier %s: %w", notifier.Name(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 把告警写进结构化日志，是默认兜底渠道。
type LogNotifier struct {
	Logger *slog.Logger
}

// Name 返回渠道名。
func (n *LogNotifier) Name() string { return "log" }

// Notify 记录告警日志。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log := n.Logger
	if log == nil {
		log = logger.L()
	}
	attrs := []any{
		slog.String("source", event.Source),
		slog.String("severity", string(event.Severity)),
		slog.String("summary", event.Summary),
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	if event.Severity == xerrors.SeverityCritical {
		log.Error("告警", attrs...)
	} else {
		log.Warn("告警", attrs...)
	}
	return nil
}

// WebhookNotifier 把告警以 JSON POST 到外部系统（值班机器人、事件平台等）。
type WebhookNotifier struct {
	URL        string
	Token      string
	HTTPClient *http.Client
}

// Name 返回渠道名。
func (n *WebhookNotifier) Name() string { return "webhook" }

// Notify 发送 webhook 请求。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || strings.TrimSpace(n.URL) == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("summary", event.Summary))
		return nil
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}

	client := n.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("告警接收端返回状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

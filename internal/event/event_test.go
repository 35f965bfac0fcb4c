package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"GraphChat/internal/observability/alerting"
)

func TestNewEvent(t *testing.T) {
	evt := New(TypeToolRequested, "thread-1")
	if evt.ID == "" {
		t.Fatalf("事件缺少 ID")
	}
	if evt.ThreadID != "thread-1" || evt.Type != TypeToolRequested {
		t.Fatalf("事件字段错误: %+v", evt)
	}
	if evt.CreatedAt == 0 {
		t.Fatalf("事件缺少时间戳")
	}

	evt.Tool = "google_search"
	evt.Args = map[string]any{"query": "golang"}
	payload, err := evt.Encode()
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	decoded, err := Decode(payload)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if decoded.ID != evt.ID || decoded.Tool != "google_search" || decoded.Args["query"] != "golang" {
		t.Fatalf("往返结果不一致: %+v", decoded)
	}

	if IsValidType("tool.exploded") {
		t.Fatalf("未知类型不应合法")
	}
	if !IsValidType(TypeChatCompleted) {
		t.Fatalf("chat.completed 应当合法")
	}
}

type memoryArchive struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (a *memoryArchive) Save(ctx context.Context, evt Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, evt)
	return nil
}

func (a *memoryArchive) snapshot() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.events...)
}

type captureDispatcher struct {
	mu     sync.Mutex
	alerts []alerting.Event
}

func (d *captureDispatcher) Notify(ctx context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, event)
	return nil
}

func (d *captureDispatcher) snapshot() []alerting.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]alerting.Event(nil), d.alerts...)
}

func TestRecorderArchivesAndAlerts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := NewMemoryQueue(16)
	archive := &memoryArchive{}
	dispatcher := &captureDispatcher{}
	recorder := NewRecorder(archive, queue, WithWorkerCount(2), WithAlertDispatcher(dispatcher))

	go func() {
		if err := recorder.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("recorder exited: %v", err)
		}
	}()

	completed := New(TypeChatCompleted, "thread-1")
	failed := New(TypeToolFailed, "thread-1")
	failed.Tool = "query_database"
	failed.Detail = "connection refused"

	if err := queue.Publish(ctx, completed); err != nil {
		t.Fatalf("投递事件失败: %v", err)
	}
	if err := queue.Publish(ctx, failed); err != nil {
		t.Fatalf("投递事件失败: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(archive.snapshot()) >= 2 && len(dispatcher.snapshot()) >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("事件未被及时处理: archived=%d alerts=%d",
				len(archive.snapshot()), len(dispatcher.snapshot()))
		case <-time.After(20 * time.Millisecond):
		}
	}

	alerts := dispatcher.snapshot()
	if alerts[0].Summary != "工具执行失败: query_database" {
		t.Fatalf("告警摘要 = %q", alerts[0].Summary)
	}
	if alerts[0].Metadata["thread_id"] != "thread-1" {
		t.Fatalf("告警元数据 = %+v", alerts[0].Metadata)
	}
	cancel()
}

func TestRecorderRequiresConsumer(t *testing.T) {
	recorder := NewRecorder(nil, nil)
	if err := recorder.Start(context.Background()); err == nil {
		t.Fatalf("expected error when consumer is missing")
	}
}

func TestMemoryQueueClosed(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("关闭队列失败: %v", err)
	}
	if err := queue.Publish(context.Background(), New(TypeThreadCreated, "t")); err == nil {
		t.Fatalf("关闭后的投递应当失败")
	}
}

func TestEmitterNeverBlocks(t *testing.T) {
	var published atomic.Int32
	queue := NewMemoryQueue(4)
	emitter := NewEmitter(queue)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		_ = queue.Consume(ctx, 1, func(ctx context.Context, evt Event) error {
			published.Add(1)
			return nil
		})
	}()

	for i := 0; i < 4; i++ {
		emitter.Emit(New(TypeChatCompleted, "thread-1"))
	}
	// nil 发射器与空生产者都应当是安全的空操作。
	var empty *Emitter
	empty.Emit(New(TypeChatCompleted, "thread-1"))
	NewEmitter(nil).Emit(New(TypeChatCompleted, "thread-1"))

	deadline := time.After(2 * time.Second)
	for {
		if published.Load() >= 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("事件未被及时投递, 已处理 %d", published.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

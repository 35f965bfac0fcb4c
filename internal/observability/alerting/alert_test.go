package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "GraphChat/internal/errors"
)

type stubNotifier struct {
	name   string
	err    error
	called int
}

func (n *stubNotifier) Name() string { return n.name }

func (n *stubNotifier) Notify(_ context.Context, _ Event) error {
	n.called++
	return n.err
}

func TestFanoutNotifiesAllAndAggregatesErrors(t *testing.T) {
	t.Parallel()

	good := &stubNotifier{name: "log"}
	bad := &stubNotifier{name: "webhook", err: fmt.Errorf("connection refused")}
	dispatcher := NewFanout(good, nil, bad)

	err := dispatcher.Notify(context.Background(), Event{Summary: "boom"})
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	if !strings.Contains(err.Error(), "notifier webhook") {
		t.Fatalf("error must name the failing notifier: %v", err)
	}
	if good.called != 1 || bad.called != 1 {
		t.Fatalf("all notifiers must run: good=%d bad=%d", good.called, bad.called)
	}
}

func TestWebhookNotifierPostsEvent(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	notifier := &WebhookNotifier{URL: srv.URL, Token: "secret", HTTPClient: srv.Client()}
	evt := Event{
		Source:     "event-recorder",
		Severity:   xerrors.SeverityWarning,
		Summary:    "工具执行失败: get_weather",
		Metadata:   map[string]string{"thread_id": "thread-1"},
		OccurredAt: time.Unix(100, 0),
	}
	if err := notifier.Notify(context.Background(), evt); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	var decoded Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.Summary != evt.Summary || decoded.Metadata["thread_id"] != "thread-1" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestWebhookNotifierRejectedByReceiver(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	notifier := &WebhookNotifier{URL: srv.URL, HTTPClient: srv.Client()}
	err := notifier.Notify(context.Background(), Event{Summary: "boom"})
	if err == nil {
		t.Fatalf("expected error for 4xx response")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Fatalf("error must carry the status code: %v", err)
	}
}

func TestWebhookNotifierSkipsWhenUnconfigured(t *testing.T) {
	t.Parallel()

	notifier := &WebhookNotifier{}
	if err := notifier.Notify(context.Background(), Event{Summary: "boom"}); err != nil {
		t.Fatalf("unconfigured webhook must be a no-op, got %v", err)
	}
}

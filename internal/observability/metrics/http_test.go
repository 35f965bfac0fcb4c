package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestCollectorRendersPrometheusText(t *testing.T) {
	t.Parallel()

	c := &collector{
		requests: make(map[requestKey]uint64),
		errors:   make(map[errorKey]uint64),
		latency:  make(map[latencyKey]*histogram),
	}

	c.observe("/chat", "POST", 200, 120*time.Millisecond)
	c.observe("/chat", "POST", 200, 80*time.Millisecond)
	c.observe("/chat", "POST", 500, 2*time.Second)

	out := c.render()

	if !strings.Contains(out, `graphchat_http_requests_total{handler="/chat",method="POST",code="200"} 2`) {
		t.Fatalf("missing request counter:\n%s", out)
	}
	if !strings.Contains(out, `graphchat_http_request_errors_total{handler="/chat",method="POST"} 1`) {
		t.Fatalf("missing error counter:\n%s", out)
	}
	if !strings.Contains(out, `graphchat_http_request_duration_seconds_count{handler="/chat",method="POST"} 3`) {
		t.Fatalf("missing histogram count:\n%s", out)
	}
	if !strings.Contains(out, `graphchat_http_request_duration_seconds_bucket{handler="/chat",method="POST",le="+Inf"} 3`) {
		t.Fatalf("missing +Inf bucket:\n%s", out)
	}
	if !strings.Contains(out, `le="0.25"} 2`) {
		t.Fatalf("latencies not bucketed cumulatively:\n%s", out)
	}
}

func TestHistogramOverflowCountedInInf(t *testing.T) {
	t.Parallel()

	h := newHistogram()
	h.observe(30) // 最后一个桶之外
	h.observe(0.01)

	if h.count != 2 {
		t.Fatalf("expected count 2, got %d", h.count)
	}
	if h.counts[len(h.counts)-1] != 1 {
		t.Fatalf("overflow value must not land in a finite bucket: %v", h.counts)
	}
}

func TestEscapeLabelValues(t *testing.T) {
	t.Parallel()

	got := escape("a\"b\\c\nd")
	if got != `a\"b\\cd` {
		t.Fatalf("unexpected escape result: %q", got)
	}
}

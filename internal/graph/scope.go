package graph

import (
	"context"
	stdErrors "errors"

	"GraphChat/internal/approval"
)

// runScope carries per-run plumbing that node functions may tap into: the
// ledger of approval decisions to replay and the optional token sink used
// by streaming runs. It travels through the context so that tool wrappers
// deep inside a node can reach it without threading extra parameters.
type runScope struct {
	// resumed holds the decisions already granted to the interrupted node,
	// oldest first. A resumed node re-executes from the top, so its earlier
	// approval requests are answered from this ledger in call order; the
	// first request past the ledger raises a fresh interrupt.
	resumed  []approval.Decision
	next     int
	emit     func(token string)
	threadID string
}

// clearResumed drops the ledger once the replayed node has completed.
// Decisions never outlive the node execution they were granted for.
func (s *runScope) clearResumed() {
	s.resumed = nil
	s.next = 0
}

type scopeKey struct{}

func withScope(ctx context.Context, scope *runScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

func scopeFrom(ctx context.Context) *runScope {
	scope, _ := ctx.Value(scopeKey{}).(*runScope)
	return scope
}

// TakeResume hands out the next replayed approval decision, or reports
// false when the ledger is exhausted and the caller must interrupt.
func TakeResume(ctx context.Context) (*approval.Decision, bool) {
	scope := scopeFrom(ctx)
	if scope == nil || scope.next >= len(scope.resumed) {
		return nil, false
	}
	decision := scope.resumed[scope.next]
	scope.next++
	return &decision, true
}

// Streaming reports whether the current run wants incremental tokens.
func Streaming(ctx context.Context) bool {
	scope := scopeFrom(ctx)
	return scope != nil && scope.emit != nil
}

// ThreadIDFrom returns the thread id of the current run, or "" outside one.
// Tool wrappers use it to tag audit events without extra parameters.
func ThreadIDFrom(ctx context.Context) string {
	scope := scopeFrom(ctx)
	if scope == nil {
		return ""
	}
	return scope.threadID
}

// EmitToken forwards a model token to the run's sink. It is a no-op for
// non-streaming runs, so node code can call it unconditionally.
func EmitToken(ctx context.Context, token string) {
	scope := scopeFrom(ctx)
	if scope == nil || scope.emit == nil || token == "" {
		return
	}
	scope.emit(token)
}

// interruptSignal 是节点暂停执行时返回的哨兵错误，携带审批请求载荷。
type interruptSignal struct {
	request *approval.Request
}

func (s *interruptSignal) Error() string {
	if s.request == nil {
		return "graph interrupted"
	}
	return "graph interrupted: " + s.request.Message
}

// InterruptWith 构造携带审批请求的中断信号，节点返回该错误即挂起整张图。
func InterruptWith(req *approval.Request) error {
	return &interruptSignal{request: req}
}

// IsInterrupt 判断错误是否为中断信号，并取出其中的审批请求。
func IsInterrupt(err error) (*approval.Request, bool) {
	var sig *interruptSignal
	if stdErrors.As(err, &sig) {
		return sig.request, true
	}
	return nil, false
}

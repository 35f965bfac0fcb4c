package graph

import (
	"context"
	stdErrors "errors"
	"strings"
	"testing"

	"GraphChat/internal/approval"
	"GraphChat/internal/chat"
	"GraphChat/internal/checkpoint"
	xerrors "GraphChat/internal/errors"
)

func echoNode(reply string) NodeFunc {
	return func(ctx context.Context, state chat.State) (Delta, error) {
		return Delta{Messages: []chat.Message{chat.Assistant(reply)}}, nil
	}
}

func TestGraphLinearInvoke(t *testing.T) {
	ctx := context.Background()

	g, err := NewBuilder("ping").
		AddNode("respond", echoNode("pong")).
		AddEdge("respond", End).
		SetEntryPoint("respond").
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	res, err := g.Invoke(ctx, "thread-1", []chat.Message{chat.User("ping")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Interrupted {
		t.Fatal("unexpected interrupt")
	}
	if len(res.Messages) != 2 || len(res.NewMessages) != 2 {
		t.Fatalf("unexpected message counts: %d total, %d new", len(res.Messages), len(res.NewMessages))
	}
	if res.LastReply() != "pong" {
		t.Fatalf("unexpected reply: %q", res.LastReply())
	}

	cp, err := g.Checkpointer().Get(ctx, "thread-1")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp.Status != checkpoint.StatusActive || cp.Turns != 1 {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}

	// 第二轮对话延续同一线程的历史。
	res, err = g.Invoke(ctx, "thread-1", []chat.Message{chat.User("again")})
	if err != nil {
		t.Fatalf("second invoke: %v", err)
	}
	if len(res.Messages) != 4 || len(res.NewMessages) != 2 {
		t.Fatalf("unexpected message counts after second turn: %d total, %d new", len(res.Messages), len(res.NewMessages))
	}

	cp, err = g.Checkpointer().Get(ctx, "thread-1")
	if err != nil {
		t.Fatalf("checkpoint after second turn: %v", err)
	}
	if cp.Turns != 2 {
		t.Fatalf("expected 2 turns, got %d", cp.Turns)
	}
}

func TestGraphConditionalRouting(t *testing.T) {
	ctx := context.Background()

	modelCalls := 0
	model := func(ctx context.Context, state chat.State) (Delta, error) {
		modelCalls++
		if modelCalls == 1 {
			call := chat.ToolCall{ID: "c1", Name: "echo", Args: map[string]any{"text": "hi"}}
			return Delta{Messages: []chat.Message{{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{call}}}}, nil
		}
		return Delta{Messages: []chat.Message{chat.Assistant("done")}}, nil
	}
	tools := func(ctx context.Context, state chat.State) (Delta, error) {
		last := state.Last()
		if last == nil || !last.HasToolCalls() {
			t.Fatal("tools node reached without tool calls")
		}
		call := last.ToolCalls[0]
		return Delta{Messages: []chat.Message{chat.ToolResult(call.ID, call.Name, "hi")}}, nil
	}
	route := func(state chat.State) string {
		if last := state.Last(); last != nil && last.HasToolCalls() {
			return "tools"
		}
		return End
	}

	g, err := NewBuilder("agent").
		AddNode("model", model).
		AddNode("tools", tools).
		AddConditionalEdge("model", route, "tools", End).
		AddEdge("tools", "model").
		SetEntryPoint("model").
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	res, err := g.Invoke(ctx, "thread-1", []chat.Message{chat.User("say hi")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if modelCalls != 2 {
		t.Fatalf("expected model to run twice, ran %d times", modelCalls)
	}
	if len(res.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(res.Messages))
	}
	roles := []chat.Role{chat.RoleUser, chat.RoleAssistant, chat.RoleTool, chat.RoleAssistant}
	for i, want := range roles {
		if res.Messages[i].Role != want {
			t.Fatalf("message %d: expected role %s, got %s", i, want, res.Messages[i].Role)
		}
	}
	if res.LastReply() != "done" {
		t.Fatalf("unexpected reply: %q", res.LastReply())
	}
}

func TestGraphStepLimit(t *testing.T) {
	g, err := NewBuilder("spinner").
		AddNode("spin", echoNode("spin")).
		AddEdge("spin", "spin").
		SetEntryPoint("spin").
		Compile(WithStepLimit(3))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	_, err = g.Invoke(context.Background(), "thread-1", []chat.Message{chat.User("go")})
	if err == nil {
		t.Fatal("expected step limit error")
	}
	if xerrors.CodeOf(err) != CodeGraphRecursion {
		t.Fatalf("expected %s, got %s", CodeGraphRecursion, xerrors.CodeOf(err))
	}
}

// approvalGate 模拟需要人工审批的节点：每次执行需要 needed 个决定，
// 不足时挂起等待。
func approvalGate(t *testing.T, needed int, executions *int) NodeFunc {
	return func(ctx context.Context, state chat.State) (Delta, error) {
		*executions++
		var out []chat.Message
		for i := 0; i < needed; i++ {
			decision, ok := TakeResume(ctx)
			if !ok {
				req := approval.NewRequest(
					"google_search",
					map[string]any{"query": "golang", "slot": i},
					"Requesting approval to search for: golang",
				)
				return Delta{}, InterruptWith(req)
			}
			switch decision.Action {
			case approval.ActionApprove:
				out = append(out, chat.Assistant("approved"))
			case approval.ActionReject:
				out = append(out, chat.Assistant("rejected"))
			default:
				t.Fatalf("unexpected action: %s", decision.Action)
			}
		}
		return Delta{Messages: out}, nil
	}
}

func TestGraphInterruptAndResume(t *testing.T) {
	ctx := context.Background()

	executions := 0
	g, err := NewBuilder("hitl").
		AddNode("gate", approvalGate(t, 1, &executions)).
		AddEdge("gate", End).
		SetEntryPoint("gate").
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	res, err := g.Invoke(ctx, "thread-1", []chat.Message{chat.User("search golang")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.Interrupted || res.Interrupt == nil {
		t.Fatalf("expected interrupt, got %+v", res)
	}
	if res.Interrupt.ToolName != "google_search" {
		t.Fatalf("unexpected interrupt payload: %+v", res.Interrupt)
	}
	if executions != 1 {
		t.Fatalf("expected 1 execution, got %d", executions)
	}

	// 挂起现场不包含被中断节点的产物。
	cp, err := g.Checkpointer().Get(ctx, "thread-1")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp.Status != checkpoint.StatusInterrupted || cp.Node != "gate" {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
	if len(cp.State.Messages) != 1 {
		t.Fatalf("interrupted state should hold only the user message, got %d", len(cp.State.Messages))
	}

	// 未决审批期间拒绝新消息。
	if _, err := g.Invoke(ctx, "thread-1", []chat.Message{chat.User("more")}); !stdErrors.Is(err, ErrApprovalPending) {
		t.Fatalf("expected ErrApprovalPending, got %v", err)
	}

	res, err = g.Resume(ctx, "thread-1", approval.Decision{Action: approval.ActionApprove})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.Interrupted {
		t.Fatal("unexpected interrupt after resume")
	}
	if executions != 2 {
		t.Fatalf("expected node to re-execute, executions=%d", executions)
	}
	if res.LastReply() != "approved" {
		t.Fatalf("unexpected reply: %q", res.LastReply())
	}

	cp, err = g.Checkpointer().Get(ctx, "thread-1")
	if err != nil {
		t.Fatalf("checkpoint after resume: %v", err)
	}
	if cp.Status != checkpoint.StatusActive || cp.Interrupt != nil || len(cp.Resumed) != 0 {
		t.Fatalf("expected clean active checkpoint, got %+v", cp)
	}
}

func TestGraphChainedInterrupts(t *testing.T) {
	ctx := context.Background()

	executions := 0
	g, err := NewBuilder("hitl").
		AddNode("gate", approvalGate(t, 2, &executions)).
		AddEdge("gate", End).
		SetEntryPoint("gate").
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	res, err := g.Invoke(ctx, "thread-1", []chat.Message{chat.User("two searches")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.Interrupted {
		t.Fatal("expected first interrupt")
	}

	// 第一个决定只放行第一个审批，节点重跑后仍会为第二个审批挂起。
	res, err = g.Resume(ctx, "thread-1", approval.Decision{Action: approval.ActionApprove})
	if err != nil {
		t.Fatalf("first resume: %v", err)
	}
	if !res.Interrupted {
		t.Fatal("expected second interrupt")
	}
	if executions != 2 {
		t.Fatalf("expected 2 executions, got %d", executions)
	}

	cp, err := g.Checkpointer().Get(ctx, "thread-1")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if len(cp.Resumed) != 1 {
		t.Fatalf("expected 1 recorded decision, got %d", len(cp.Resumed))
	}

	res, err = g.Resume(ctx, "thread-1", approval.Decision{Action: approval.ActionReject})
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}
	if res.Interrupted {
		t.Fatal("unexpected interrupt after final resume")
	}
	if executions != 3 {
		t.Fatalf("expected 3 executions, got %d", executions)
	}

	// 重放保证第一个决定仍然生效，第二个决定作用于新的审批。
	replies := make([]string, 0, 2)
	for _, msg := range res.NewMessages {
		if msg.Role == chat.RoleAssistant {
			replies = append(replies, msg.Content)
		}
	}
	if len(replies) != 2 || replies[0] != "approved" || replies[1] != "rejected" {
		t.Fatalf("unexpected replies: %v", replies)
	}
}

func TestGraphResumeWithoutPending(t *testing.T) {
	ctx := context.Background()

	g, err := NewBuilder("ping").
		AddNode("respond", echoNode("pong")).
		AddEdge("respond", End).
		SetEntryPoint("respond").
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if _, err := g.Resume(ctx, "missing", approval.Decision{Action: approval.ActionApprove}); !stdErrors.Is(err, ErrNoPendingApproval) {
		t.Fatalf("expected ErrNoPendingApproval for missing thread, got %v", err)
	}

	if _, err := g.Invoke(ctx, "thread-1", []chat.Message{chat.User("hi")}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if _, err := g.Resume(ctx, "thread-1", approval.Decision{Action: approval.ActionApprove}); !stdErrors.Is(err, ErrNoPendingApproval) {
		t.Fatalf("expected ErrNoPendingApproval for active thread, got %v", err)
	}
}

func TestGraphStreamTokens(t *testing.T) {
	ctx := context.Background()

	var sawStreaming bool
	node := func(ctx context.Context, state chat.State) (Delta, error) {
		sawStreaming = Streaming(ctx)
		EmitToken(ctx, "Hel")
		EmitToken(ctx, "lo")
		return Delta{Messages: []chat.Message{chat.Assistant("Hello")}}, nil
	}

	g, err := NewBuilder("streamer").
		AddNode("respond", node).
		AddEdge("respond", End).
		SetEntryPoint("respond").
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	var tokens []string
	res, err := g.Stream(ctx, "thread-1", []chat.Message{chat.User("hi")}, func(token string) {
		tokens = append(tokens, token)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !sawStreaming {
		t.Fatal("node should observe streaming mode")
	}
	if len(tokens) != 2 || tokens[0] != "Hel" || tokens[1] != "lo" {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
	if res.LastReply() != "Hello" {
		t.Fatalf("unexpected reply: %q", res.LastReply())
	}

	// 非流式执行时 EmitToken 静默丢弃。
	sawStreaming = true
	if _, err := g.Invoke(ctx, "thread-2", []chat.Message{chat.User("hi")}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if sawStreaming {
		t.Fatal("invoke should not report streaming mode")
	}
}

func TestGraphVisualization(t *testing.T) {
	g, err := NewBuilder("agent").
		AddNode("model", echoNode("m")).
		AddNode("tools", echoNode("t")).
		AddConditionalEdge("model", func(chat.State) string { return End }, "tools", End).
		AddEdge("tools", "model").
		SetEntryPoint("model").
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	mermaid := g.Mermaid()
	for _, want := range []string{
		"graph TD;",
		"__start__ --> model;",
		"model -.-> tools;",
		"model -.-> __end__;",
		"tools --> model;",
	} {
		if !strings.Contains(mermaid, want) {
			t.Fatalf("mermaid output missing %q:\n%s", want, mermaid)
		}
	}

	dot := g.DOT()
	for _, want := range []string{
		`digraph "agent"`,
		`"__start__" -> "model";`,
		`"model" -> "tools" [style=dashed];`,
		`"tools" -> "model";`,
	} {
		if !strings.Contains(dot, want) {
			t.Fatalf("dot output missing %q:\n%s", want, dot)
		}
	}
}

func TestBuilderValidation(t *testing.T) {
	cases := []struct {
		name  string
		build func() *Builder
	}{
		{"no nodes", func() *Builder {
			return NewBuilder("g").SetEntryPoint("a")
		}},
		{"missing entry", func() *Builder {
			return NewBuilder("g").AddNode("a", echoNode("x")).AddEdge("a", End)
		}},
		{"unknown entry", func() *Builder {
			return NewBuilder("g").AddNode("a", echoNode("x")).AddEdge("a", End).SetEntryPoint("b")
		}},
		{"duplicate node", func() *Builder {
			return NewBuilder("g").AddNode("a", echoNode("x")).AddNode("a", echoNode("y"))
		}},
		{"reserved name", func() *Builder {
			return NewBuilder("g").AddNode(End, echoNode("x"))
		}},
		{"nil node func", func() *Builder {
			return NewBuilder("g").AddNode("a", nil)
		}},
		{"edge to unknown node", func() *Builder {
			return NewBuilder("g").AddNode("a", echoNode("x")).AddEdge("a", "b").SetEntryPoint("a")
		}},
		{"dangling node", func() *Builder {
			return NewBuilder("g").AddNode("a", echoNode("x")).SetEntryPoint("a")
		}},
		{"double edge", func() *Builder {
			return NewBuilder("g").AddNode("a", echoNode("x")).AddEdge("a", End).AddEdge("a", End)
		}},
		{"conditional after edge", func() *Builder {
			return NewBuilder("g").AddNode("a", echoNode("x")).AddEdge("a", End).
				AddConditionalEdge("a", func(chat.State) string { return End }, End)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.build().Compile(); err == nil {
				t.Fatal("expected compile error")
			}
		})
	}
}

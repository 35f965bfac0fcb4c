package tool

import (
	"context"
	"testing"

	"GraphChat/internal/approval"
	"GraphChat/internal/chat"
	"GraphChat/internal/graph"
)

type recorderTool struct {
	name  string
	reply string
	calls []map[string]any
}

func (r *recorderTool) Descriptor() Descriptor {
	return Descriptor{Name: r.name, Description: "records calls"}
}

func (r *recorderTool) Call(_ context.Context, args map[string]any) (string, error) {
	copied := make(map[string]any, len(args))
	for k, v := range args {
		copied[k] = v
	}
	r.calls = append(r.calls, copied)
	return r.reply, nil
}

// approvalFlowGraph 构造单节点图，把最后一条用户消息作为工具参数执行。
func approvalFlowGraph(t *testing.T, wrapped Tool, argKey string) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder("approval_flow").
		AddNode("tools", func(ctx context.Context, state chat.State) (graph.Delta, error) {
			out, err := wrapped.Call(ctx, map[string]any{argKey: state.Last().Content})
			if err != nil {
				return graph.Delta{}, err
			}
			return graph.Delta{Messages: []chat.Message{chat.Assistant(out)}}, nil
		}).
		AddEdge("tools", graph.End).
		SetEntryPoint("tools").
		Compile()
	if err != nil {
		t.Fatalf("compile approval flow: %v", err)
	}
	return g
}

func TestHITLSearchToolApprove(t *testing.T) {
	ctx := context.Background()
	inner := &recorderTool{name: "google_search", reply: "search results for golang"}
	g := approvalFlowGraph(t, NewHITLSearchTool(inner), "query")

	res, err := g.Invoke(ctx, "search-approve", []chat.Message{chat.User("golang")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.Interrupted || res.Interrupt == nil {
		t.Fatal("expected run to pause for approval")
	}
	if res.Interrupt.Type != approval.RequestType {
		t.Fatalf("interrupt type = %q", res.Interrupt.Type)
	}
	if res.Interrupt.ToolName != "google_search" {
		t.Fatalf("interrupt tool = %q", res.Interrupt.ToolName)
	}
	if res.Interrupt.ToolArgs["query"] != "golang" {
		t.Fatalf("interrupt args = %v", res.Interrupt.ToolArgs)
	}
	if res.Interrupt.Message != "Requesting approval to search for: golang" {
		t.Fatalf("interrupt message = %q", res.Interrupt.Message)
	}

	res, err = g.Resume(ctx, "search-approve", approval.Decision{Action: approval.ActionApprove})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.LastReply() != inner.reply {
		t.Fatalf("reply = %q", res.LastReply())
	}
	if len(inner.calls) != 1 || inner.calls[0]["query"] != "golang" {
		t.Fatalf("inner calls = %v", inner.calls)
	}
}

func TestHITLSearchToolReject(t *testing.T) {
	ctx := context.Background()
	inner := &recorderTool{name: "google_search", reply: "should not run"}
	g := approvalFlowGraph(t, NewHITLSearchTool(inner), "query")

	if _, err := g.Invoke(ctx, "search-reject", []chat.Message{chat.User("golang")}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	res, err := g.Resume(ctx, "search-reject", approval.Decision{Action: approval.ActionReject})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.LastReply() != "Google search was rejected by human reviewer." {
		t.Fatalf("reply = %q", res.LastReply())
	}
	if len(inner.calls) != 0 {
		t.Fatalf("rejected tool still ran: %v", inner.calls)
	}
}

func TestHITLSearchToolEdit(t *testing.T) {
	ctx := context.Background()
	inner := &recorderTool{name: "google_search", reply: "edited results"}
	g := approvalFlowGraph(t, NewHITLSearchTool(inner), "query")

	if _, err := g.Invoke(ctx, "search-edit", []chat.Message{chat.User("golang")}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	res, err := g.Resume(ctx, "search-edit", approval.Decision{
		Action:     approval.ActionEdit,
		EditedArgs: map[string]any{"query": "rust"},
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.LastReply() != "edited results" {
		t.Fatalf("reply = %q", res.LastReply())
	}
	if len(inner.calls) != 1 || inner.calls[0]["query"] != "rust" {
		t.Fatalf("inner calls = %v", inner.calls)
	}

	// 没带改写参数时沿用原始入参。
	if _, err := g.Invoke(ctx, "search-edit-fallback", []chat.Message{chat.User("golang")}); err != nil {
		t.Fatalf("invoke fallback: %v", err)
	}
	if _, err := g.Resume(ctx, "search-edit-fallback", approval.Decision{Action: approval.ActionEdit}); err != nil {
		t.Fatalf("resume fallback: %v", err)
	}
	if len(inner.calls) != 2 || inner.calls[1]["query"] != "golang" {
		t.Fatalf("fallback inner calls = %v", inner.calls)
	}
}

func TestHITLSearchToolUnknownAction(t *testing.T) {
	ctx := context.Background()
	inner := &recorderTool{name: "google_search", reply: "should not run"}
	g := approvalFlowGraph(t, NewHITLSearchTool(inner), "query")

	if _, err := g.Invoke(ctx, "search-unknown", []chat.Message{chat.User("golang")}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	res, err := g.Resume(ctx, "search-unknown", approval.Decision{Action: approval.Action("defer")})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.LastReply() != "Google search was not approved." {
		t.Fatalf("reply = %q", res.LastReply())
	}
	if len(inner.calls) != 0 {
		t.Fatalf("unapproved tool still ran: %v", inner.calls)
	}
}

func TestHITLWeatherToolMapsLocation(t *testing.T) {
	ctx := context.Background()
	inner := &recorderTool{name: "get_weather", reply: "weather data"}
	g := approvalFlowGraph(t, NewHITLWeatherTool(inner), "location")

	res, err := g.Invoke(ctx, "weather-approve", []chat.Message{chat.User("Paris, France")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.Interrupted || res.Interrupt == nil {
		t.Fatal("expected run to pause for approval")
	}
	if res.Interrupt.ToolName != "get_weather" {
		t.Fatalf("interrupt tool = %q", res.Interrupt.ToolName)
	}
	if res.Interrupt.ToolArgs["location"] != "Paris, France" {
		t.Fatalf("interrupt args = %v", res.Interrupt.ToolArgs)
	}
	if res.Interrupt.Message != "Requesting approval to get weather for: Paris, France" {
		t.Fatalf("interrupt message = %q", res.Interrupt.Message)
	}

	if _, err := g.Resume(ctx, "weather-approve", approval.Decision{Action: approval.ActionApprove}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(inner.calls) != 1 {
		t.Fatalf("inner calls = %v", inner.calls)
	}
	if inner.calls[0]["city"] != "Paris, France" {
		t.Fatalf("expected location to map to city, got %v", inner.calls[0])
	}
	if _, leaked := inner.calls[0]["location"]; leaked {
		t.Fatalf("location key leaked through: %v", inner.calls[0])
	}

	// 改写参数同样走 location 到 city 的映射。
	if _, err := g.Invoke(ctx, "weather-edit", []chat.Message{chat.User("Paris")}); err != nil {
		t.Fatalf("invoke edit: %v", err)
	}
	if _, err := g.Resume(ctx, "weather-edit", approval.Decision{
		Action:     approval.ActionEdit,
		EditedArgs: map[string]any{"location": "London"},
	}); err != nil {
		t.Fatalf("resume edit: %v", err)
	}
	if len(inner.calls) != 2 || inner.calls[1]["city"] != "London" {
		t.Fatalf("edited inner calls = %v", inner.calls)
	}
}

func TestHITLWeatherToolReject(t *testing.T) {
	ctx := context.Background()
	inner := &recorderTool{name: "get_weather", reply: "should not run"}
	g := approvalFlowGraph(t, NewHITLWeatherTool(inner), "location")

	if _, err := g.Invoke(ctx, "weather-reject", []chat.Message{chat.User("Paris")}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	res, err := g.Resume(ctx, "weather-reject", approval.Decision{Action: approval.ActionReject})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.LastReply() != "Weather lookup was rejected by human reviewer." {
		t.Fatalf("reply = %q", res.LastReply())
	}
	if len(inner.calls) != 0 {
		t.Fatalf("rejected tool still ran: %v", inner.calls)
	}
}

func TestHITLWeatherToolEndToEnd(t *testing.T) {
	ctx := context.Background()
	g := approvalFlowGraph(t, NewHITLWeatherTool(NewWeatherTool()), "location")

	if _, err := g.Invoke(ctx, "weather-real", []chat.Message{chat.User("Paris")}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	res, err := g.Resume(ctx, "weather-real", approval.Decision{Action: approval.ActionApprove})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.LastReply() != "It's a sunny 22°C in Paris." {
		t.Fatalf("reply = %q", res.LastReply())
	}
}

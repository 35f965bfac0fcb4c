package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"GraphChat/sdk/go/graphchat"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req graphchat.ChatRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(graphchat.ChatResponse{
				Response:  fmt.Sprintf("You said: %s", req.Message),
				ToolsUsed: []string{},
				ThreadID:  "thread-demo",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/chat/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Streaming ", "works ", "too."} {
			fmt.Fprintf(w, "data: {\"type\":\"content\",\"content\":%q}\n\n", chunk)
		}
		fmt.Fprint(w, "data: {\"type\":\"end\",\"thread_id\":\"thread-demo\"}\n\n")
	})
	mux.HandleFunc("/threads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(graphchat.ThreadList{
			Threads: []graphchat.ThreadSummary{{
				ThreadID:  "thread-demo",
				Status:    "active",
				Turns:     1,
				CreatedAt: time.Now().Add(-time.Minute).UTC().Unix(),
				UpdatedAt: time.Now().UTC().Unix(),
			}},
			Stats: &graphchat.ThreadStats{Total: 1, Active: 1},
		})
	})
	mux.HandleFunc("/visualize", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/vnd.mermaid")
		fmt.Fprint(w, "graph TD;\n  model --> respond;")
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := graphchat.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Chat(ctx, graphchat.ChatRequest{Message: "hello"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("chat reply: %s (thread=%s)\n", resp.Response, resp.ThreadID)

	var streamed strings.Builder
	err = client.ChatStream(ctx, graphchat.ChatRequest{Message: "stream please"}, func(evt graphchat.StreamEvent) error {
		if evt.Type == "content" {
			streamed.WriteString(evt.Content)
		}
		return nil
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("streamed reply: %s\n", streamed.String())

	list, err := client.Threads(ctx, graphchat.ThreadFilter{})
	if err != nil {
		panic(err)
	}
	fmt.Printf("threads stored: %d (active=%d)\n", list.Stats.Total, list.Stats.Active)

	diagram, err := client.Visualize(ctx, "mermaid")
	if err != nil {
		panic(err)
	}
	fmt.Printf("graph diagram:\n%s\n", diagram)
}

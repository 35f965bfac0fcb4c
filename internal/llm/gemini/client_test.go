package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"GraphChat/internal/chat"
	"GraphChat/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestGenerateToolCall(t *testing.T) {
	var captured struct {
		Path  string
		Query string
		Body  map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Query = r.URL.RawQuery
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role": "model",
						"parts": []map[string]any{
							{"functionCall": map[string]any{
								"name": "get_weather",
								"args": map[string]any{"city": "Tokyo"},
							}},
						},
					},
					"finishReason": "STOP",
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	req := llm.Request{
		Messages: []chat.Message{
			chat.System("You are helpful."),
			chat.User("What's the weather in Tokyo?"),
		},
		Tools: []llm.ToolDecl{
			{
				Name:        "get_weather",
				Description: "Get current weather for a city.",
				Parameters: &llm.Schema{
					Type: "object",
					Properties: map[string]*llm.Schema{
						"city": {Type: "string"},
					},
					Required: []string{"city"},
				},
			},
		},
	}

	resp, err := client.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(captured.Path, "gemini-2.5-flash:generateContent") {
		t.Fatalf("unexpected path: %s", captured.Path)
	}
	if !strings.Contains(captured.Query, "key=test") {
		t.Fatalf("api key missing from query: %s", captured.Query)
	}
	if captured.Body["systemInstruction"] == nil {
		t.Fatalf("system instruction missing: %+v", captured.Body)
	}
	if captured.Body["tools"] == nil {
		t.Fatalf("tools missing from request")
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", resp.Message)
	}
	call := resp.Message.ToolCalls[0]
	if call.Name != "get_weather" || call.ID != "call_0" {
		t.Fatalf("unexpected tool call: %+v", call)
	}
	if call.Args["city"] != "Tokyo" {
		t.Fatalf("unexpected args: %+v", call.Args)
	}
}

func TestGenerateStructuredOutput(t *testing.T) {
	var captured map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role": "model",
						"parts": []map[string]any{
							{"text": `{"answer":"42","confidence":0.9}`},
						},
					},
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	schema := &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"answer":     {Type: "string"},
			"confidence": {Type: "number", Minimum: llm.Float(0), Maximum: llm.Float(1)},
		},
		Required: []string{"answer", "confidence"},
	}

	resp, err := client.Generate(context.Background(), llm.Request{
		Messages:       []chat.Message{chat.User("answer please")},
		ResponseSchema: schema,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	genConfig, ok := captured["generationConfig"].(map[string]any)
	if !ok {
		t.Fatalf("generationConfig missing: %+v", captured)
	}
	if genConfig["responseMimeType"] != "application/json" {
		t.Fatalf("unexpected mime type: %+v", genConfig)
	}
	if genConfig["responseSchema"] == nil {
		t.Fatalf("response schema missing")
	}

	var structured struct {
		Answer     string  `json:"answer"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(resp.Message.Content), &structured); err != nil {
		t.Fatalf("content is not the promised JSON: %v", err)
	}
	if structured.Answer != "42" {
		t.Fatalf("unexpected structured answer: %+v", structured)
	}
}

func TestGenerateRejectsToolsWithSchema(t *testing.T) {
	client, err := NewClient(Config{APIKey: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = client.Generate(context.Background(), llm.Request{
		Messages:       []chat.Message{chat.User("hi")},
		Tools:          []llm.ToolDecl{{Name: "t"}},
		ResponseSchema: &llm.Schema{Type: "object"},
	})
	if err == nil {
		t.Fatalf("expected error when combining tools with structured output")
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Generate(context.Background(), llm.Request{Messages: []chat.Message{chat.User("hi")}}); err == nil {
		t.Fatalf("expected error when http status is not success")
	}
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}`,
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]}}]}`,
		}
		for _, chunk := range chunks {
			_, _ = w.Write([]byte("data: " + chunk + "\n\n"))
		}
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	var tokens []string
	resp, err := client.GenerateStream(context.Background(), llm.Request{
		Messages: []chat.Message{chat.User("hi")},
	}, func(token string) {
		tokens = append(tokens, token)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tokens) != 2 || tokens[0] != "Hel" || tokens[1] != "lo" {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
	if resp.Message.Content != "Hello" {
		t.Fatalf("unexpected aggregated content: %q", resp.Message.Content)
	}
}

func TestGenerateGrounded(t *testing.T) {
	var captured map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role":  "model",
						"parts": []map[string]any{{"text": "Go 1.24 发布了。"}},
					},
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	text, err := client.GenerateGrounded(context.Background(), "search: golang release")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Go 1.24 发布了。" {
		t.Fatalf("unexpected text: %q", text)
	}

	tools, ok := captured["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("expected built-in search tool in request: %+v", captured)
	}
	toolSet, _ := tools[0].(map[string]any)
	if _, ok := toolSet["google_search"]; !ok {
		t.Fatalf("google_search tool missing: %+v", toolSet)
	}
}

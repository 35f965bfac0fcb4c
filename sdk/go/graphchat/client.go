// Package graphchat is a small client for the GraphChat REST and SSE API.
package graphchat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Streaming calls strip it and rely on the context.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the GraphChat API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient instantiates a client for the GraphChat API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// SetToken stores a Bearer token attached to every subsequent request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the currently stored token string.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Ping fetches the API self-description from the root endpoint.
func (c *Client) Ping(ctx context.Context) (IndexInfo, error) {
	var info IndexInfo
	if err := c.get(ctx, "/", &info); err != nil {
		return IndexInfo{}, err
	}
	return info, nil
}

// Chat sends a message and waits for the full reply. When the request names
// no thread the server opens a new one and returns its id.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var resp ChatResponse
	if err := c.post(ctx, "/chat", req, &resp); err != nil {
		return ChatResponse{}, err
	}
	return resp, nil
}

// ChatWithHistory runs a one-shot conversation over a client-supplied
// history. The server keeps no state for it.
func (c *Client) ChatWithHistory(ctx context.Context, messages []HistoryMessage) (string, error) {
	payload := struct {
		Messages []HistoryMessage `json:"messages"`
	}{Messages: messages}
	var resp struct {
		Response string `json:"response"`
	}
	if err := c.post(ctx, "/chat/history", payload, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

// ChatStream sends a message and delivers server-sent events to handler as
// they arrive. It returns after the end event, when handler returns an
// error, or when the context is cancelled.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, handler func(StreamEvent) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/chat/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	// 流的生命周期交给 ctx，客户端级超时会掐断长回答。
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		if err := handler(evt); err != nil {
			return err
		}
		if evt.Type == "end" {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// Approve resolves a paused tool call with a human decision and returns the
// continued conversation's reply. The reply may pause again when another
// tool call needs approval.
func (c *Client) Approve(ctx context.Context, req ApproveRequest) (ChatResponse, error) {
	var resp ChatResponse
	if err := c.post(ctx, "/approve", req, &resp); err != nil {
		return ChatResponse{}, err
	}
	return resp, nil
}

// Threads lists stored conversation threads.
func (c *Client) Threads(ctx context.Context, filter ThreadFilter) (ThreadList, error) {
	endpoint := "/threads"
	query := url.Values{}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if len(filter.Statuses) > 0 {
		query.Set("status", strings.Join(filter.Statuses, ","))
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var list ThreadList
	if err := c.get(ctx, endpoint, &list); err != nil {
		return ThreadList{}, err
	}
	return list, nil
}

// Thread fetches one thread with its full message history.
func (c *Client) Thread(ctx context.Context, threadID string) (ThreadDetail, error) {
	var detail ThreadDetail
	if err := c.get(ctx, "/threads/"+url.PathEscape(threadID), &detail); err != nil {
		return ThreadDetail{}, err
	}
	return detail, nil
}

// DeleteThread removes a stored thread.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/threads/"+url.PathEscape(threadID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Visualize returns the graph rendering in the requested format (mermaid or
// dot). For png the server answers with a redirect; the target URL is
// returned instead of the image bytes.
func (c *Client) Visualize(ctx context.Context, format string) (string, error) {
	endpoint := "/visualize"
	if format != "" {
		endpoint += "?format=" + url.QueryEscape(format)
	}
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	noRedirect := *c.httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return resp.Header.Get("Location"), nil
	}
	if resp.StatusCode >= 400 {
		return "", c.decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(data), nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	var rawQuery string
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint, rawQuery = endpoint[:i], endpoint[i+1:]
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: rawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	if apiErr.Detail == "" {
		apiErr.Detail = string(bytes.TrimSpace(data))
	}
	return apiErr
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"GraphChat/internal/auth"
	"GraphChat/internal/checkpoint"
	"GraphChat/internal/event"
	"GraphChat/internal/graph"
	"GraphChat/internal/observability/metrics"
	"GraphChat/internal/tool"
	"GraphChat/pkg/logger"
)

// Config 描述服务器的依赖项。Graph 是唯一必需的部件，
// 其余为空时对应能力自动降级（无线程管理、无事件、无认证）。
type Config struct {
	Addr     string
	Graph    *graph.Graph
	Registry *tool.Registry
	Store    checkpoint.Store
	Emitter  *event.Emitter
	Guard    *auth.Guard
}

// Server 负责暴露对话 REST 接口，供客户端驱动图执行。
type Server struct {
	addr     string
	graph    *graph.Graph
	registry *tool.Registry
	store    checkpoint.Store
	emitter  *event.Emitter
	guard    *auth.Guard
	log      *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(cfg Config) *Server {
	return &Server{
		addr:     cfg.Addr,
		graph:    cfg.Graph,
		registry: cfg.Registry,
		store:    cfg.Store,
		emitter:  cfg.Emitter,
		guard:    cfg.Guard,
		log:      logger.Named("api"),
	}
}

// Handler 返回完整的路由与中间件栈，Start 与测试共用。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.observed("/", s.handleIndex))
	mux.HandleFunc("/chat", s.observed("/chat", s.handleChat))
	mux.HandleFunc("/chat/history", s.observed("/chat/history", s.handleChatHistory))
	mux.HandleFunc("/chat/stream", s.observed("/chat/stream", s.handleChatStream))
	mux.HandleFunc("/approve", s.observed("/approve", s.handleApprove))
	mux.HandleFunc("/visualize", s.observed("/visualize", s.handleVisualize))
	mux.HandleFunc("/threads", s.observed("/threads", s.handleThreads))
	mux.HandleFunc("/threads/", s.observed("/threads/{id}", s.handleThreadDetail))
	mux.Handle("/metrics", metrics.Handler())

	var handler http.Handler = mux
	if s.guard.Enabled() {
		handler = s.guard.Middleware(handler)
	}
	return handler
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.Info("API 服务已启动", slog.String("addr", s.addr), slog.String("graph", s.graphName()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) graphName() string {
	if s.graph == nil {
		return ""
	}
	return s.graph.Name()
}

// observed 给处理器套上请求日志与指标观测。
func (s *Server) observed(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		duration := time.Since(start)

		metrics.ObserveHTTPRequest(route, r.Method, sw.status, duration)
		s.log.Info("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
	}
}

// statusWriter 包装 http.ResponseWriter 以捕获响应状态码。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush 透传底层的流式刷新能力，SSE 端点依赖它。
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeDetail(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeDetail(w, http.StatusNotFound, "Not Found")
		return
	}
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "GraphChat Conversational API",
		"endpoints": map[string]string{
			"POST /chat":         "Send a message to the chatbot",
			"POST /chat/history": "Send a conversation with message history",
			"POST /chat/stream":  "Stream a chatbot response over SSE",
			"POST /approve":      "Approve, reject, or edit a tool call",
			"GET /visualize":     "Get the graph visualization",
			"GET /threads":       "List conversation threads",
			"GET /metrics":       "Prometheus metrics",
		},
	})
}

// writeJSON 输出 JSON 响应体。
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeDetail 按 {"detail": ...} 的错误契约输出。
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

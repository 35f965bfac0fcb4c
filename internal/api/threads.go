package api

import (
	"encoding/base64"
	stdErrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"GraphChat/internal/approval"
	"GraphChat/internal/chat"
	"GraphChat/internal/checkpoint"
)

// threadSummary 是线程列表的精简视图，不携带完整消息体。
type threadSummary struct {
	ThreadID     string            `json:"thread_id"`
	Status       checkpoint.Status `json:"status"`
	Turns        int               `json:"turns"`
	MessageCount int               `json:"message_count"`
	CreatedAt    int64             `json:"created_at"`
	UpdatedAt    int64             `json:"updated_at"`
}

type threadListResponse struct {
	Threads []threadSummary         `json:"threads"`
	Stats   *checkpoint.ThreadStats `json:"stats"`
}

type threadDetail struct {
	ThreadID  string            `json:"thread_id"`
	Status    checkpoint.Status `json:"status"`
	Turns     int               `json:"turns"`
	Messages  []chat.Message    `json:"messages"`
	Interrupt *approval.Request `json:"interrupt,omitempty"`
	CreatedAt int64             `json:"created_at"`
	UpdatedAt int64             `json:"updated_at"`
}

func (s *Server) handleVisualize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.graph == nil {
		writeDetail(w, http.StatusInternalServerError, "Error generating graph visualization: graph not initialized")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "mermaid"
	}

	switch format {
	case "mermaid":
		w.Header().Set("Content-Type", "text/vnd.mermaid")
		fmt.Fprint(w, s.graph.Mermaid())
	case "dot":
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		fmt.Fprint(w, s.graph.DOT())
	case "png":
		encoded := base64.URLEncoding.EncodeToString([]byte(s.graph.Mermaid()))
		http.Redirect(w, r, "https://mermaid.ink/img/"+encoded, http.StatusFound)
	default:
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("不支持的可视化格式: %q", format))
	}
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.store == nil {
		writeDetail(w, http.StatusServiceUnavailable, "线程存储未配置")
		return
	}

	var opts []checkpoint.ListOption
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, checkpoint.WithLimit(parsed))
		}
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		var statuses []checkpoint.Status
		for _, part := range strings.Split(raw, ",") {
			status := checkpoint.Status(strings.TrimSpace(part))
			if status == "" {
				continue
			}
			if !checkpoint.IsValidStatus(status) {
				writeDetail(w, http.StatusBadRequest, fmt.Sprintf("无效的线程状态: %q", status))
				return
			}
			statuses = append(statuses, status)
		}
		if len(statuses) > 0 {
			opts = append(opts, checkpoint.WithStatuses(statuses...))
		}
	}

	ctx := r.Context()
	threads, err := s.store.List(ctx, opts...)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	summaries := make([]threadSummary, 0, len(threads))
	for _, cp := range threads {
		summaries = append(summaries, threadSummary{
			ThreadID:     cp.ThreadID,
			Status:       cp.Status,
			Turns:        cp.Turns,
			MessageCount: len(cp.State.Messages),
			CreatedAt:    cp.CreatedAt,
			UpdatedAt:    cp.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, threadListResponse{Threads: summaries, Stats: stats})
}

func (s *Server) handleThreadDetail(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeDetail(w, http.StatusServiceUnavailable, "线程存储未配置")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/threads/")
	if id == "" || strings.Contains(id, "/") {
		writeDetail(w, http.StatusBadRequest, "缺少线程 ID")
		return
	}

	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		cp, err := s.store.Get(ctx, id)
		if err != nil {
			if stdErrors.Is(err, checkpoint.ErrThreadNotFound) {
				writeDetail(w, http.StatusNotFound, "thread not found")
				return
			}
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, threadDetail{
			ThreadID:  cp.ThreadID,
			Status:    cp.Status,
			Turns:     cp.Turns,
			Messages:  cp.State.Messages,
			Interrupt: cp.Interrupt,
			CreatedAt: cp.CreatedAt,
			UpdatedAt: cp.UpdatedAt,
		})
	case http.MethodDelete:
		if err := s.store.Delete(ctx, id); err != nil {
			if stdErrors.Is(err, checkpoint.ErrThreadNotFound) {
				writeDetail(w, http.StatusNotFound, "thread not found")
				return
			}
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeDetail(w, http.StatusMethodNotAllowed, "仅支持 GET/DELETE")
	}
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"GraphChat/internal/approval"
	"GraphChat/internal/chat"
	"GraphChat/internal/event"
)

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

type chatResponse struct {
	Response      string            `json:"response"`
	ToolsUsed     []string          `json:"tools_used"`
	ThreadID      string            `json:"thread_id"`
	Interrupted   bool              `json:"interrupted"`
	InterruptData *approval.Request `json:"interrupt_data,omitempty"`
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatHistoryRequest struct {
	Messages []historyMessage `json:"messages"`
}

type approveRequest struct {
	Action     string         `json:"action"`
	EditedArgs map[string]any `json:"edited_args,omitempty"`
	ThreadID   string         `json:"thread_id"`
}

// streamEvent 是 /chat/stream 推送的 SSE 载荷。
type streamEvent struct {
	Type      string            `json:"type"`
	Tools     []string          `json:"tools,omitempty"`
	Content   string            `json:"content,omitempty"`
	Interrupt *approval.Request `json:"interrupt,omitempty"`
	ThreadID  string            `json:"thread_id,omitempty"`
	Detail    string            `json:"detail,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "仅支持 POST")
		return
	}
	if s.graph == nil {
		writeDetail(w, http.StatusServiceUnavailable, "对话图未初始化")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	if req.Message == "" {
		writeDetail(w, http.StatusBadRequest, "message 不能为空")
		return
	}

	threadID := req.ThreadID
	newThread := threadID == ""
	if newThread {
		threadID = uuid.NewString()
	}

	ctx := r.Context()
	result, err := s.graph.Invoke(ctx, threadID, []chat.Message{chat.User(req.Message)})
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Error processing chat: "+err.Error())
		return
	}

	if newThread {
		s.emit(event.New(event.TypeThreadCreated, threadID))
	}

	if result.Interrupted {
		s.emitInterrupt(threadID, result.Interrupt)
		writeJSON(w, http.StatusOK, chatResponse{
			Response:      "Execution paused for human approval",
			ToolsUsed:     []string{},
			ThreadID:      threadID,
			Interrupted:   true,
			InterruptData: result.Interrupt,
		})
		return
	}

	reply := result.LastReply()
	s.emitCompleted(threadID, reply)
	writeJSON(w, http.StatusOK, chatResponse{
		Response:  reply,
		ToolsUsed: s.toolsUsed(result.Messages),
		ThreadID:  threadID,
	})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "仅支持 POST")
		return
	}
	if s.graph == nil {
		writeDetail(w, http.StatusServiceUnavailable, "对话图未初始化")
		return
	}

	var req chatHistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	if len(req.Messages) == 0 {
		writeDetail(w, http.StatusBadRequest, "messages 不能为空")
		return
	}

	input := make([]chat.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		input = append(input, convertHistoryMessage(msg))
	}

	// 一次性线程，跑完即清，保持端点无状态。
	ctx := r.Context()
	threadID := uuid.NewString()
	result, err := s.graph.Invoke(ctx, threadID, input)
	if s.store != nil {
		_ = s.store.Delete(ctx, threadID)
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Error processing chat: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"response": result.LastReply()})
}

// convertHistoryMessage 宽松映射客户端角色，未知角色按用户消息处理。
func convertHistoryMessage(msg historyMessage) chat.Message {
	switch msg.Role {
	case "system":
		return chat.System(msg.Content)
	case "assistant", "ai":
		return chat.Assistant(msg.Content)
	case "user", "human":
		return chat.User(msg.Content)
	default:
		return chat.User(msg.Content)
	}
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "仅支持 POST")
		return
	}
	if s.graph == nil {
		writeDetail(w, http.StatusServiceUnavailable, "对话图未初始化")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	if req.Message == "" {
		writeDetail(w, http.StatusBadRequest, "message 不能为空")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "响应不支持流式输出")
		return
	}

	threadID := req.ThreadID
	newThread := threadID == ""
	if newThread {
		threadID = uuid.NewString()
	}

	streamed := false
	send := func(evt streamEvent) {
		if !streamed {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			streamed = true
		}
		data, err := json.Marshal(evt)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	ctx := r.Context()
	result, err := s.graph.Stream(ctx, threadID, []chat.Message{chat.User(req.Message)}, func(token string) {
		send(streamEvent{Type: "content", Content: token})
	})
	if err != nil {
		detail := "Error processing chat: " + err.Error()
		if !streamed {
			writeDetail(w, http.StatusInternalServerError, detail)
			return
		}
		// 流已经开始，错误只能以事件形式送达。
		send(streamEvent{Type: "error", Detail: detail})
		send(streamEvent{Type: "end"})
		return
	}

	if newThread {
		s.emit(event.New(event.TypeThreadCreated, threadID))
	}

	if result.Interrupted {
		s.emitInterrupt(threadID, result.Interrupt)
		send(streamEvent{Type: "interrupt", Interrupt: result.Interrupt, ThreadID: threadID})
		send(streamEvent{Type: "end"})
		return
	}

	if tools := s.toolsUsed(result.Messages); len(tools) > 0 {
		send(streamEvent{Type: "tools", Tools: tools})
	}
	if reply := result.LastReply(); !streamed && reply != "" {
		// 结构化回答不走增量通道，整段补发。
		send(streamEvent{Type: "content", Content: reply})
	}
	s.emitCompleted(threadID, result.LastReply())
	send(streamEvent{Type: "end", ThreadID: threadID})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "仅支持 POST")
		return
	}
	if s.graph == nil {
		writeDetail(w, http.StatusServiceUnavailable, "对话图未初始化")
		return
	}

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	if req.ThreadID == "" {
		writeDetail(w, http.StatusBadRequest, "thread_id 不能为空")
		return
	}

	decision := approval.Decision{Action: approval.Action(req.Action)}
	if decision.Action == approval.ActionEdit && len(req.EditedArgs) > 0 {
		decision.EditedArgs = req.EditedArgs
	}

	ctx := r.Context()
	pendingTool, pendingArgs := s.pendingInterrupt(ctx, req.ThreadID)

	result, err := s.graph.Resume(ctx, req.ThreadID, decision)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Error processing approval: "+err.Error())
		return
	}

	s.emitDecision(req.ThreadID, decision, pendingTool, pendingArgs)

	if result.Interrupted {
		s.emitInterrupt(req.ThreadID, result.Interrupt)
		writeJSON(w, http.StatusOK, chatResponse{
			Response:      "Execution paused for human approval",
			ToolsUsed:     []string{},
			ThreadID:      req.ThreadID,
			Interrupted:   true,
			InterruptData: result.Interrupt,
		})
		return
	}

	reply := result.LastReply()
	s.emitCompleted(req.ThreadID, reply)
	writeJSON(w, http.StatusOK, chatResponse{
		Response:  reply,
		ToolsUsed: s.toolsUsed(result.Messages),
		ThreadID:  req.ThreadID,
	})
}

// toolsUsed 汇总整条线程里出现过的工具调用展示名，按首次出现顺序去重。
func (s *Server) toolsUsed(messages []chat.Message) []string {
	used := []string{}
	seen := make(map[string]struct{})
	for _, msg := range messages {
		for _, call := range msg.ToolCalls {
			display := call.Name
			if s.registry != nil {
				display = s.registry.DisplayName(call.Name)
			}
			if _, dup := seen[display]; dup {
				continue
			}
			seen[display] = struct{}{}
			used = append(used, display)
		}
	}
	return used
}

// pendingInterrupt 读取线程当前挂起的审批请求，用于审计事件。
func (s *Server) pendingInterrupt(ctx context.Context, threadID string) (string, map[string]any) {
	if s.store == nil {
		return "", nil
	}
	cp, err := s.store.Get(ctx, threadID)
	if err != nil || cp.Interrupt == nil {
		return "", nil
	}
	return cp.Interrupt.ToolName, cp.Interrupt.ToolArgs
}

func (s *Server) emit(evt event.Event) {
	if s.emitter != nil {
		s.emitter.Emit(evt)
	}
}

func (s *Server) emitInterrupt(threadID string, req *approval.Request) {
	if req == nil {
		return
	}
	evt := event.New(event.TypeToolRequested, threadID)
	evt.Tool = req.ToolName
	evt.Args = req.ToolArgs
	evt.Detail = req.Message
	s.emit(evt)
}

func (s *Server) emitCompleted(threadID, reply string) {
	evt := event.New(event.TypeChatCompleted, threadID)
	evt.Detail = reply
	s.emit(evt)
}

func (s *Server) emitDecision(threadID string, decision approval.Decision, tool string, args map[string]any) {
	var typ event.Type
	switch decision.Action {
	case approval.ActionApprove:
		typ = event.TypeToolApproved
	case approval.ActionEdit:
		typ = event.TypeToolEdited
	default:
		typ = event.TypeToolRejected
	}

	evt := event.New(typ, threadID)
	evt.Tool = tool
	evt.Args = args
	if decision.Action == approval.ActionEdit && len(decision.EditedArgs) > 0 {
		evt.Args = decision.EditedArgs
	}
	evt.Detail = string(decision.Status())
	s.emit(evt)
}

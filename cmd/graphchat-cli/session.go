package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"GraphChat/sdk/go/graphchat"
)

const thinking = "Thinking..."

// session 维护一次 CLI 会话：当前线程、输入流与输出偏好。
// 流式模式靠服务端线程续聊，纯文本模式在客户端自带历史。
type session struct {
	client   *graphchat.Client
	in       *bufio.Scanner
	threadID string
	stream   bool
	history  []graphchat.HistoryMessage
}

// oneShot 发送单条消息后退出，-m 参数走这里。
func (s *session) oneShot(message string) {
	fmt.Printf("You: %s\n", message)

	response, tools, displayed, err := s.exchange(message)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if displayed {
		return
	}
	if len(tools) > 0 {
		fmt.Printf("[Tools: %s]\n", strings.Join(tools, ", "))
	}
	fmt.Printf("Bot: %s\n", response)
}

// interactive 运行读取-发送-展示的主循环。
func (s *session) interactive() {
	fmt.Println("🤖 GraphChat CLI Client")
	fmt.Println("Type 'exit' or 'quit' to end the session")
	fmt.Println("\nCommands:")
	fmt.Println("  /new     - Start a new conversation thread")
	fmt.Println("  /thread  - Show current thread ID")
	fmt.Println("  /help    - Show this help message")
	fmt.Println("\nNote: Tool calls require human approval")
	fmt.Println(strings.Repeat("-", 60))

	for {
		fmt.Print("\nYou: ")
		if !s.in.Scan() {
			fmt.Println("\nGoodbye!")
			return
		}
		input := strings.TrimSpace(s.in.Text())

		if lower := strings.ToLower(input); lower == "exit" || lower == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		if strings.HasPrefix(input, "/") {
			s.command(strings.ToLower(input))
			continue
		}

		if input == "" {
			continue
		}

		response, tools, displayed, err := s.exchange(input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		if !displayed {
			if len(tools) > 0 {
				fmt.Printf("\n[Tools: %s]\n", strings.Join(tools, ", "))
			}
			fmt.Printf("Bot: %s\n", response)
		}

		if s.threadID != "" {
			fmt.Printf("\nThread ID: %.8s...\n", s.threadID)
		}
	}
}

func (s *session) command(cmd string) {
	switch cmd {
	case "/new":
		s.threadID = ""
		s.history = nil
		fmt.Println("\n🔄 Started new conversation thread")
		fmt.Println(strings.Repeat("-", 50))
	case "/thread":
		if s.threadID != "" {
			fmt.Printf("\n📍 Current thread ID: %s\n", s.threadID)
		} else {
			fmt.Println("\n❌ No active thread. Send a message to start one.")
		}
	case "/help":
		fmt.Println("\nAvailable commands:")
		fmt.Println("  /new     - Start a new conversation thread")
		fmt.Println("  /thread  - Show current thread ID")
		fmt.Println("  /help    - Show this help message")
		fmt.Println("\nType 'exit' or 'quit' to end the session")
	default:
		fmt.Printf("\n❌ Unknown command: %s\n", cmd)
		fmt.Println("Type /help for available commands")
	}
}

// exchange 发送一条消息并走完可能的审批环节。
// displayed 表示回复已经在流式输出中展示过。
func (s *session) exchange(message string) (string, []string, bool, error) {
	if s.stream {
		resp, err := s.sendStreaming(message)
		if err != nil {
			return "", nil, false, err
		}
		return s.finish(resp, true)
	}
	return s.exchangePlain(message)
}

// exchangePlain 是纯文本模式：首条消息走 /chat，
// 之后带着客户端侧历史走 /chat/history 维持上下文。
func (s *session) exchangePlain(message string) (string, []string, bool, error) {
	s.history = append(s.history, graphchat.HistoryMessage{Role: "user", Content: message})

	if len(s.history) == 1 {
		resp, err := s.sendBlocking(message)
		if err != nil {
			return "", nil, false, err
		}
		response, tools, displayed, err := s.finish(resp, false)
		if err == nil {
			s.history = append(s.history, graphchat.HistoryMessage{Role: "assistant", Content: response})
		}
		return response, tools, displayed, err
	}

	showSpinner()
	reply, err := s.client.ChatWithHistory(context.Background(), s.history)
	clearSpinner()
	if err != nil {
		return "", nil, false, err
	}
	s.history = append(s.history, graphchat.HistoryMessage{Role: "assistant", Content: reply})
	return reply, nil, false, nil
}

// finish 收尾一次请求：记录线程、处理中断审批。
func (s *session) finish(resp graphchat.ChatResponse, displayed bool) (string, []string, bool, error) {
	if resp.ThreadID != "" {
		s.threadID = resp.ThreadID
	}
	if resp.Interrupted && resp.InterruptData != nil {
		response, tools, err := s.handleApproval(resp.InterruptData)
		return response, tools, false, err
	}
	return resp.Response, resp.ToolsUsed, displayed, nil
}

func (s *session) sendBlocking(message string) (graphchat.ChatResponse, error) {
	showSpinner()
	resp, err := s.client.Chat(context.Background(), graphchat.ChatRequest{
		Message:  message,
		ThreadID: s.threadID,
	})
	clearSpinner()
	return resp, err
}

// sendStreaming 边接收边渲染：首个内容块前打印 Bot: 前缀，
// 工具清单视到达顺序决定展示位置，中断事件留给审批环节。
func (s *session) sendStreaming(message string) (graphchat.ChatResponse, error) {
	showSpinner()
	cleared := false
	clearOnce := func() {
		if !cleared {
			clearSpinner()
			cleared = true
		}
	}

	var resp graphchat.ChatResponse
	var content strings.Builder
	var lateTools []string
	firstContent := true

	err := s.client.ChatStream(context.Background(), graphchat.ChatRequest{
		Message:  message,
		ThreadID: s.threadID,
	}, func(evt graphchat.StreamEvent) error {
		clearOnce()
		switch evt.Type {
		case "tools":
			resp.ToolsUsed = evt.Tools
			if len(evt.Tools) == 0 {
				break
			}
			if firstContent {
				fmt.Printf("[Tools: %s]\n\n", strings.Join(evt.Tools, ", "))
			} else {
				lateTools = evt.Tools
			}
		case "content":
			if firstContent {
				fmt.Print("Bot: ")
				firstContent = false
			}
			content.WriteString(evt.Content)
			fmt.Print(evt.Content)
			time.Sleep(50 * time.Millisecond)
		case "interrupt":
			resp.Interrupted = true
			resp.InterruptData = evt.Interrupt
			if evt.ThreadID != "" {
				resp.ThreadID = evt.ThreadID
			}
		case "error":
			fmt.Printf("Error: %s\n", evt.Detail)
		case "end":
			if !firstContent {
				fmt.Println()
			}
			if evt.ThreadID != "" {
				resp.ThreadID = evt.ThreadID
			}
			if len(lateTools) > 0 {
				fmt.Printf("\n[Tools: %s]\n", strings.Join(lateTools, ", "))
			}
		}
		return nil
	})
	clearOnce()
	if err != nil {
		return graphchat.ChatResponse{}, err
	}
	resp.Response = content.String()
	return resp, nil
}

// handleApproval 展示审批面板并提交决定，连环审批递归处理。
// 网络错误按原始文案折叠进回复文本。
func (s *session) handleApproval(interrupt *graphchat.Interrupt) (string, []string, error) {
	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("🔍 TOOL APPROVAL REQUIRED")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Tool: %s\n", interrupt.ToolName)
	args, _ := json.MarshalIndent(interrupt.ToolArgs, "", "  ")
	fmt.Printf("Arguments: %s\n", args)
	fmt.Printf("\n%s\n", interrupt.Message)
	fmt.Println("\nOptions: approve, reject, edit")

	var action string
	for {
		fmt.Print("\nChoose action (approve/reject/edit): ")
		if !s.in.Scan() {
			return "", nil, errors.New("input closed")
		}
		action = strings.ToLower(strings.TrimSpace(s.in.Text()))
		if action == "approve" || action == "reject" || action == "edit" {
			break
		}
		fmt.Println("Please choose 'approve', 'reject', or 'edit'")
	}

	var edited map[string]any
	if action == "edit" {
		fmt.Println("\nEdit tool arguments:")
		keys := make([]string, 0, len(interrupt.ToolArgs))
		for key := range interrupt.ToolArgs {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			current := interrupt.ToolArgs[key]
			fmt.Printf("  %s (current: %v): ", key, current)
			if !s.in.Scan() {
				return "", nil, errors.New("input closed")
			}
			value := strings.TrimSpace(s.in.Text())
			if value == "" || value == fmt.Sprint(current) {
				continue
			}
			if edited == nil {
				edited = make(map[string]any, len(interrupt.ToolArgs))
				for k, v := range interrupt.ToolArgs {
					edited[k] = v
				}
			}
			edited[key] = value
		}
	}

	fmt.Print("Processing approval...")
	resp, err := s.client.Approve(context.Background(), graphchat.ApproveRequest{
		Action:     action,
		EditedArgs: edited,
		ThreadID:   s.threadID,
	})
	fmt.Print("\r" + strings.Repeat(" ", 20) + "\r")
	if err != nil {
		return "Error processing approval: " + err.Error(), nil, nil
	}
	if resp.ThreadID != "" {
		s.threadID = resp.ThreadID
	}

	if resp.Interrupted && resp.InterruptData != nil {
		fmt.Println("\n⚠️  Another approval required...")
		return s.handleApproval(resp.InterruptData)
	}
	return resp.Response, resp.ToolsUsed, nil
}

func showSpinner() {
	fmt.Print(thinking)
}

func clearSpinner() {
	fmt.Print("\r" + strings.Repeat(" ", len(thinking)) + "\r")
}

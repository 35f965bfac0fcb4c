package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"GraphChat/sdk/go/graphchat"
)

const defaultBaseURL = "http://localhost:8001"

// main 解析参数并进入单发、连通性测试或交互模式。
func main() {
	var (
		baseURL     string
		message     string
		interactive bool
		testConn    bool
		noStream    bool
		token       string
	)
	flag.StringVar(&baseURL, "url", defaultBaseURL, "Base URL of the API server")
	flag.StringVar(&message, "message", "", "Send a single message")
	flag.StringVar(&message, "m", "", "Send a single message (shorthand)")
	flag.BoolVar(&interactive, "interactive", false, "Start interactive chat session")
	flag.BoolVar(&interactive, "i", false, "Start interactive chat session (shorthand)")
	flag.BoolVar(&testConn, "test", false, "Test API connection")
	flag.BoolVar(&testConn, "t", false, "Test API connection (shorthand)")
	flag.BoolVar(&noStream, "no-stream", false, "Disable streaming output")
	flag.StringVar(&token, "token", os.Getenv("GRAPHCHAT_AUTH_TOKEN"), "Bearer token for protected servers")
	flag.Parse()

	// 模型回答可能远超常规超时，请求时长交给服务端控制。
	client := graphchat.NewClient(baseURL, &http.Client{})
	if token != "" {
		client.SetToken(token)
	}

	if _, err := client.Ping(context.Background()); err != nil {
		fmt.Printf("❌ Cannot connect to API server at %s\n", baseURL)
		fmt.Println("Make sure the server is running with: graphchatd")
		os.Exit(1)
	}

	if testConn {
		fmt.Printf("✅ API server is running at %s\n", baseURL)
		return
	}

	// Ctrl-C 在任意输入点直接收尾。
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	go func() {
		<-interrupts
		fmt.Println("\nGoodbye!")
		os.Exit(0)
	}()

	s := &session{
		client: client,
		in:     bufio.NewScanner(os.Stdin),
		stream: !noStream,
	}

	if message != "" {
		s.oneShot(message)
		return
	}
	// 未带 -m 时无论是否传 -i 都进入交互模式。
	s.interactive()
}

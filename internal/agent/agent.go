package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"GraphChat/internal/chat"
	xerrors "GraphChat/internal/errors"
	"GraphChat/internal/graph"
	"GraphChat/internal/knowledge"
	"GraphChat/internal/llm"
	"GraphChat/internal/tool"
)

// options 汇总各个图构建器共享的可选配置。
type options struct {
	systemPrompt string
	format       *llm.Schema
	knowledge    knowledge.Provider
	maxRounds    int
	llmTimeout   time.Duration
}

// Option 定义可选的图构建配置。
type Option func(*options)

// WithSystemPrompt 覆盖构建器默认的系统提示词。
func WithSystemPrompt(prompt string) Option {
	return func(o *options) {
		o.systemPrompt = prompt
	}
}

// WithResponseFormat 要求最终回答符合给定的 JSON Schema。
func WithResponseFormat(format *llm.Schema) Option {
	return func(o *options) {
		o.format = format
	}
}

// WithKnowledge 配置知识库，命中的条目会拼进系统提示词。
func WithKnowledge(provider knowledge.Provider) Option {
	return func(o *options) {
		o.knowledge = provider
	}
}

// WithMaxRounds 限制单条消息允许的工具调用轮数，
// 每轮是一次模型决策加一次工具执行。
func WithMaxRounds(rounds int) Option {
	return func(o *options) {
		o.maxRounds = rounds
	}
}

// WithLLMTimeout 设置单次模型调用的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout <= 0 {
			o.llmTimeout = 0
			return
		}
		o.llmTimeout = timeout
	}
}

func buildOptions(opts []Option) options {
	var cfg options
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// compileOptions 把 agent 层配置翻译成图编译选项。
func (o options) compileOptions(extra ...graph.CompileOption) []graph.CompileOption {
	compiled := append([]graph.CompileOption(nil), extra...)
	if o.maxRounds > 0 {
		compiled = append(compiled, graph.WithStepLimit(o.maxRounds*2+1))
	}
	return compiled
}

// promptedMessages 在对话前面拼上系统提示词与命中的知识条目。
// 提示词只进请求不进状态，避免被持久化后重复累积。
func promptedMessages(cfg options, state chat.State) []chat.Message {
	prompt := cfg.systemPrompt
	if cfg.knowledge != nil {
		if question := lastUserContent(state); question != "" {
			if snippets := cfg.knowledge.Query(question, 0); len(snippets) > 0 {
				prompt = appendKnowledge(prompt, snippets)
			}
		}
	}
	if prompt == "" {
		return state.Messages
	}

	msgs := make([]chat.Message, 0, len(state.Messages)+1)
	msgs = append(msgs, chat.System(prompt))
	msgs = append(msgs, state.Messages...)
	return msgs
}

func lastUserContent(state chat.State) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == chat.RoleUser {
			return state.Messages[i].Content
		}
	}
	return ""
}

func appendKnowledge(prompt string, snippets []knowledge.Snippet) string {
	var b strings.Builder
	b.WriteString(prompt)
	if prompt != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("Background knowledge:")
	for _, snippet := range snippets {
		if strings.TrimSpace(snippet.Content) == "" {
			continue
		}
		b.WriteString("\n- ")
		if snippet.Title != "" {
			b.WriteString(snippet.Title)
			b.WriteString(": ")
		}
		b.WriteString(snippet.Content)
	}
	return b.String()
}

// modelNode 构造模型决策节点：流式运行时把增量文本推给调用方。
func modelNode(client llm.Client, cfg options, decls []llm.ToolDecl) graph.NodeFunc {
	return func(ctx context.Context, state chat.State) (graph.Delta, error) {
		req := llm.Request{Messages: promptedMessages(cfg, state), Tools: decls}

		llmCtx := ctx
		if cfg.llmTimeout > 0 {
			var cancel context.CancelFunc
			llmCtx, cancel = context.WithTimeout(ctx, cfg.llmTimeout)
			defer cancel()
		}

		var resp *llm.Response
		var err error
		if graph.Streaming(ctx) {
			resp, err = client.GenerateStream(llmCtx, req, func(token string) {
				graph.EmitToken(ctx, token)
			})
		} else {
			resp, err = client.Generate(llmCtx, req)
		}
		if err != nil {
			if stdErrors.Is(err, context.DeadlineExceeded) {
				return graph.Delta{}, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
			}
			return graph.Delta{}, xerrors.Wrap(xerrors.CodeLLMFailure, err, "大模型推理失败")
		}
		return graph.Delta{Messages: []chat.Message{resp.Message}}, nil
	}
}

// respondNode 在工具轮次结束后再调一次模型，产出结构化回答。
func respondNode(client llm.Client, cfg options) graph.NodeFunc {
	return func(ctx context.Context, state chat.State) (graph.Delta, error) {
		req := llm.Request{
			Messages:       promptedMessages(cfg, state),
			ResponseSchema: cfg.format,
		}

		llmCtx := ctx
		if cfg.llmTimeout > 0 {
			var cancel context.CancelFunc
			llmCtx, cancel = context.WithTimeout(ctx, cfg.llmTimeout)
			defer cancel()
		}

		resp, err := client.Generate(llmCtx, req)
		if err != nil {
			if stdErrors.Is(err, context.DeadlineExceeded) {
				return graph.Delta{}, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
			}
			return graph.Delta{}, xerrors.Wrap(xerrors.CodeLLMFailure, err, "结构化回答生成失败")
		}
		return graph.Delta{Messages: []chat.Message{resp.Message}}, nil
	}
}

// toolsNode 执行最后一条助手消息里的全部工具调用。
// 审批挂起原样上抛，其余错误折叠成工具消息交给模型自行纠正。
func toolsNode(registry *tool.Registry) graph.NodeFunc {
	return func(ctx context.Context, state chat.State) (graph.Delta, error) {
		last := state.Last()
		if last == nil || !last.HasToolCalls() {
			return graph.Delta{}, nil
		}

		results := make([]chat.Message, 0, len(last.ToolCalls))
		for _, call := range last.ToolCalls {
			output, err := registry.Execute(ctx, call.Name, call.Args)
			if err != nil {
				if _, ok := graph.IsInterrupt(err); ok {
					return graph.Delta{}, err
				}
				output = fmt.Sprintf("Error: %v\n Please fix your mistakes.", err)
			}
			results = append(results, chat.ToolResult(call.ID, call.Name, output))
		}
		return graph.Delta{Messages: results}, nil
	}
}

// routeAfterModel 在模型决策后选边：有待执行的工具调用就去工具节点，
// 否则去 fallback（终点或结构化回答节点）。
func routeAfterModel(toolsTarget, fallback string) graph.RouteFunc {
	return func(state chat.State) string {
		if last := state.Last(); last != nil && last.HasToolCalls() {
			return toolsTarget
		}
		return fallback
	}
}

// AnswerFormat 是结构化回答的 JSON Schema：主回答加可选的来源与置信度。
func AnswerFormat() *llm.Schema {
	return answerFormat(false)
}

// AnswerFormatWithTools 在 AnswerFormat 基础上加上使用过的工具列表。
func AnswerFormatWithTools() *llm.Schema {
	return answerFormat(true)
}

func answerFormat(withTools bool) *llm.Schema {
	properties := map[string]*llm.Schema{
		"answer": {
			Type:        "string",
			Description: "The main answer to the user's question",
		},
		"sources": {
			Type:        "array",
			Description: "List of sources used, if applicable",
			Items:       &llm.Schema{Type: "string"},
		},
		"confidence": {
			Type:        "number",
			Description: "Confidence level between 0 and 1",
			Minimum:     llm.Float(0),
			Maximum:     llm.Float(1),
		},
	}
	if withTools {
		properties["tools_used"] = &llm.Schema{
			Type:        "array",
			Description: "List of tools that were used",
			Items:       &llm.Schema{Type: "string"},
		}
	}
	return &llm.Schema{
		Type:       "object",
		Properties: properties,
		Required:   []string{"answer"},
	}
}

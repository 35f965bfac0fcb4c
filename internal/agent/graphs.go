package agent

import (
	"GraphChat/internal/checkpoint"
	xerrors "GraphChat/internal/errors"
	"GraphChat/internal/graph"
	"GraphChat/internal/llm"
	"GraphChat/internal/tool"
)

// 各个内置图的默认系统提示词。
const (
	reactPrompt = "You are a helpful AI assistant. Use the available tools to help answer questions.\n" +
		"When appropriate, structure your response using the provided format."

	reactStructuredPrompt = "You are a helpful AI assistant. Use the available tools to help answer questions.\n" +
		"Always try to provide structured responses when possible."

	hitlPrompt = "You are a helpful AI assistant with human oversight capabilities.\n" +
		"Use the available tools to help answer questions when needed.\n\n" +
		"For weather questions, use the get_weather_hitl tool.\n" +
		"For web searches, use the google_search_hitl tool.\n\n" +
		"Note that all tool calls require human approval before execution."

	hitlStructuredPrompt = "You are a helpful AI assistant with human oversight capabilities.\n" +
		"Use the available tools to help answer questions when needed.\n" +
		"Always provide structured responses when possible.\n\n" +
		"For weather questions, use the get_weather_hitl tool.\n" +
		"For web searches, use the google_search_hitl tool.\n\n" +
		"Include information about which tools were used in your structured response."
)

// Chatbot 构建最小的单节点对话图：一次模型调用，没有工具。
func Chatbot(client llm.Client, opts ...Option) (*graph.Graph, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	cfg := buildOptions(opts)

	node := modelNode(client, cfg, nil)
	if cfg.format != nil {
		node = respondNode(client, cfg)
	}
	return graph.NewBuilder("chatbot").
		AddNode("chatbot", node).
		AddEdge("chatbot", graph.End).
		SetEntryPoint("chatbot").
		Compile(cfg.compileOptions()...)
}

// ChatbotWithTools 构建模型决策加工具执行的循环图，不持久化状态。
func ChatbotWithTools(client llm.Client, registry *tool.Registry, opts ...Option) (*graph.Graph, error) {
	return toolLoop("chatbot_with_tools", "agent", "call_tool", client, registry, buildOptions(opts))
}

// ChatbotWithMemory 与 ChatbotWithTools 拓扑一致，
// 但把状态写入检查点存储，线程可以跨请求续聊。
func ChatbotWithMemory(client llm.Client, registry *tool.Registry, store checkpoint.Store, opts ...Option) (*graph.Graph, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置检查点存储")
	}
	return toolLoop("chatbot_with_memory", "agent", "call_tool", client, registry, buildOptions(opts),
		graph.WithCheckpointer(store))
}

// ReactAgent 构建 ReAct 风格的工具智能体。
// 设置了回答格式时会在循环外追加一个结构化回答节点。
func ReactAgent(client llm.Client, registry *tool.Registry, opts ...Option) (*graph.Graph, error) {
	cfg := buildOptions(opts)
	if cfg.systemPrompt == "" {
		cfg.systemPrompt = reactPrompt
		if cfg.format != nil {
			cfg.systemPrompt = reactStructuredPrompt
		}
	}
	return toolLoop("react", "agent", "tools", client, registry, cfg)
}

// ReactHITL 构建带人工审批的 ReAct 智能体。
// 中断依赖检查点恢复现场，因此存储是必选项。
func ReactHITL(client llm.Client, registry *tool.Registry, store checkpoint.Store, opts ...Option) (*graph.Graph, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置检查点存储")
	}
	cfg := buildOptions(opts)
	if cfg.systemPrompt == "" {
		cfg.systemPrompt = hitlPrompt
		if cfg.format != nil {
			cfg.systemPrompt = hitlStructuredPrompt
		}
	}
	return toolLoop("react_hitl", "agent", "tools", client, registry, cfg,
		graph.WithCheckpointer(store))
}

// HITLRegistry 组装默认的人工审批工具集：搜索与天气各包一层审批。
func HITLRegistry(searcher tool.GroundedSearcher) (*tool.Registry, error) {
	registry := tool.NewRegistry()
	if err := registry.Register(tool.NewHITLSearchTool(tool.NewSearchTool(searcher))); err != nil {
		return nil, err
	}
	if err := registry.Register(tool.NewHITLWeatherTool(tool.NewWeatherTool())); err != nil {
		return nil, err
	}
	return registry, nil
}

// toolLoop 搭建共享的「决策-执行」循环拓扑。
func toolLoop(name, agentNode, toolNode string, client llm.Client, registry *tool.Registry, cfg options, extra ...graph.CompileOption) (*graph.Graph, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置工具注册表")
	}

	b := graph.NewBuilder(name).
		AddNode(agentNode, modelNode(client, cfg, registry.Decls())).
		AddNode(toolNode, toolsNode(registry))

	fallback := graph.End
	if cfg.format != nil {
		fallback = "respond"
		b.AddNode("respond", respondNode(client, cfg)).
			AddEdge("respond", graph.End)
	}

	return b.AddConditionalEdge(agentNode, routeAfterModel(toolNode, fallback), toolNode, fallback).
		AddEdge(toolNode, agentNode).
		SetEntryPoint(agentNode).
		Compile(cfg.compileOptions(extra...)...)
}

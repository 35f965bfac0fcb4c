package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"GraphChat/internal/agent"
	"GraphChat/internal/api"
	"GraphChat/internal/auth"
	"GraphChat/internal/checkpoint"
	"GraphChat/internal/config"
	"GraphChat/internal/event"
	"GraphChat/internal/graph"
	"GraphChat/internal/knowledge"
	"GraphChat/internal/llm"
	"GraphChat/internal/llm/gemini"
	"GraphChat/internal/llm/openaicompat"
	"GraphChat/internal/llm/scripted"
	"GraphChat/internal/observability/alerting"
	"GraphChat/internal/storage/archive"
	"GraphChat/internal/tool"
	"GraphChat/pkg/logger"
	"GraphChat/pkg/toolkit"
)

// main 是 GraphChat 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("graphchatd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		AddSource:   cfg.Logging.AddSource,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 初始化大模型客户端。searcher 只有 Gemini 提供，
	// 其余 provider 下搜索工具会向模型反馈未配置。
	llmClient, searcher, supportsTools, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	var store checkpoint.Store
	switch cfg.Checkpoint.Driver {
	case "memory", "":
		store = checkpoint.NewMemoryStore()
	case "mysql":
		s, err := checkpoint.NewMySQLStore(cfg.Checkpoint.DSN)
		if err != nil {
			return err
		}
		store = s
	case "redis":
		s, err := checkpoint.NewRedisStore(checkpoint.RedisStoreConfig{
			Address:   cfg.Checkpoint.Redis.Address,
			Password:  cfg.Checkpoint.Redis.Password,
			DB:        cfg.Checkpoint.Redis.DB,
			KeyPrefix: cfg.Checkpoint.Redis.KeyPrefix,
			TTL:       cfg.Checkpoint.Redis.TTL(),
		})
		if err != nil {
			return err
		}
		store = s
	default:
		return fmt.Errorf("未知的检查点驱动: %s", cfg.Checkpoint.Driver)
	}
	defer store.Close()

	var queue event.Queue
	switch cfg.Events.Driver {
	case "memory", "":
		queue = event.NewMemoryQueue(1024)
	case "redis":
		q, err := event.NewRedisQueue(event.RedisQueueConfig{
			Address:   cfg.Events.Redis.Address,
			Password:  cfg.Events.Redis.Password,
			DB:        cfg.Events.Redis.DB,
			Queue:     cfg.Events.Redis.Queue,
			BlockWait: cfg.Events.Redis.BlockWait(),
		})
		if err != nil {
			return err
		}
		queue = q
	case "rabbitmq":
		q, err := event.NewRabbitMQQueue(event.RabbitMQConfig{
			URL:        cfg.Events.RabbitMQ.URL,
			Queue:      cfg.Events.RabbitMQ.Queue,
			Prefetch:   cfg.Events.RabbitMQ.Prefetch,
			Durable:    cfg.Events.RabbitMQ.Durable,
			AutoDelete: cfg.Events.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		queue = q
	default:
		return fmt.Errorf("未知的事件队列驱动: %s", cfg.Events.Driver)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭事件队列失败", slog.Any("error", err))
		}
	}()

	var archiver event.Archiver
	switch cfg.Archive.Driver {
	case "file", "":
		repo, err := archive.NewFileRepository(cfg.Archive.Dir)
		if err != nil {
			return err
		}
		archiver = repo
	case "mysql":
		repo, err := archive.NewMySQLRepository(ctx, cfg.Archive.DSN)
		if err != nil {
			return err
		}
		archiver = repo
	default:
		return fmt.Errorf("未知的归档驱动: %s", cfg.Archive.Driver)
	}
	if closer, ok := archiver.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	emitter := event.NewEmitter(queue)

	toolset, err := buildRegistry(ctx, cfg, searcher, emitter)
	if err != nil {
		return err
	}
	defer toolset.close()

	var knowledgeProvider knowledge.Provider
	if cfg.Knowledge.Source != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			return err
		}
		knowledgeProvider = provider
	}

	g, err := buildGraph(cfg, llmClient, toolset.tools, store, knowledgeProvider, supportsTools)
	if err != nil {
		return err
	}

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:   cfg.Alerting.WebhookURL,
			Token: cfg.Alerting.WebhookToken,
		})
	}

	recorder := event.NewRecorder(archiver, queue,
		event.WithWorkerCount(cfg.Events.Workers),
		event.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
	)

	recorderCtx, recorderCancel := context.WithCancel(ctx)
	defer recorderCancel()

	go func() {
		if err := recorder.Start(recorderCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("事件记录器异常退出", slog.Any("error", err))
		}
	}()

	server := api.NewServer(api.Config{
		Addr:     cfg.Server.Address,
		Graph:    g,
		Registry: toolset.tools,
		Store:    store,
		Emitter:  emitter,
		Guard:    auth.NewGuard(cfg.Server.AuthToken),
	})

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig 叠加三层配置：JSON 文件、.env 文件、进程环境变量。
// 未显式指定路径且默认文件不存在时退回到零配置默认值。
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}

	path := os.Getenv("GRAPHCHAT_CONFIG")
	explicit := path != ""
	if path == "" {
		path = filepath.Join("configs", "graphchat.json")
	}

	cfg, err := config.Load(path)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createLLMClient(cfg *config.Config) (llm.Client, tool.GroundedSearcher, bool, error) {
	switch provider := cfg.LLM.EffectiveProvider(); provider {
	case "gemini":
		client, err := gemini.NewClient(gemini.Config{
			APIKey:  cfg.LLM.Gemini.APIKey,
			BaseURL: cfg.LLM.Gemini.BaseURL,
			Model:   cfg.LLM.Gemini.Model,
			Timeout: cfg.LLM.Gemini.Timeout(),
		})
		if err != nil {
			return nil, nil, false, err
		}
		return client, client, true, nil
	case "custom":
		client, err := openaicompat.NewClient(openaicompat.Config{
			Endpoint: cfg.LLM.Custom.Endpoint,
			APIKey:   cfg.LLM.Custom.APIKey,
			Model:    cfg.LLM.Custom.Model,
			Mode:     cfg.LLM.Custom.Mode,
			Timeout:  cfg.LLM.Custom.Timeout(),
		})
		if err != nil {
			return nil, nil, false, err
		}
		return client, nil, client.SupportsTools(), nil
	case "scripted":
		logger.L().Warn("未配置任何大模型凭据，使用脚本化模型回显输入")
		return scripted.New(), nil, true, nil
	default:
		return nil, nil, false, fmt.Errorf("未知的大模型 provider: %s", provider)
	}
}

// toolSet 聚合注册表与其底层资源的关闭函数。
type toolSet struct {
	tools   *tool.Registry
	closers []func() error
}

func (s *toolSet) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.L().Warn("关闭工具资源失败", slog.Any("error", err))
		}
	}
}

// buildRegistry 组装全量工具集：内置搜索与天气、按需的数据库
// 工具、动态工具包，最后统一包上审计事件中间件。
func buildRegistry(ctx context.Context, cfg *config.Config, searcher tool.GroundedSearcher, emitter *event.Emitter) (*toolSet, error) {
	set := &toolSet{}

	var registry *tool.Registry
	var err error
	if cfg.Agent.Graph == "react_hitl" {
		registry, err = agent.HITLRegistry(searcher)
		if err != nil {
			return nil, err
		}
	} else {
		registry = tool.NewRegistry()
		if err := registry.Register(tool.NewSearchTool(searcher)); err != nil {
			return nil, err
		}
		if err := registry.Register(tool.NewWeatherTool()); err != nil {
			return nil, err
		}
	}

	if cfg.Database.Configured() {
		manager, err := tool.NewDatabaseManager(tool.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Name:     cfg.Database.Name,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, manager.Close)
		for _, t := range tool.DatabaseTools(manager) {
			if err := registry.Register(t); err != nil {
				return nil, err
			}
		}
	}

	if cfg.Toolkits.Manifest != "" {
		manifest, err := toolkit.LoadManifest(cfg.Toolkits.Manifest)
		if err != nil {
			return nil, err
		}
		manager, err := toolkit.NewManager(manifest)
		if err != nil {
			return nil, err
		}
		if err := manager.OpenAll(ctx); err != nil {
			return nil, err
		}
		set.closers = append(set.closers, func() error {
			return manager.CloseAll(context.Background())
		})
		for _, tk := range manager.ActiveTools() {
			adapted, err := adaptToolkitTool(tk)
			if err != nil {
				return nil, err
			}
			if err := registry.Register(adapted); err != nil {
				return nil, err
			}
		}
	}

	// 审计中间件放在最外层，对每个工具统一生效。
	instrumented := tool.NewRegistry()
	for _, t := range registry.List() {
		if err := instrumented.Register(event.Instrument(t, emitter)); err != nil {
			return nil, err
		}
	}
	set.tools = instrumented
	return set, nil
}

// buildGraph 按配置选择对话图。工具不可用（补全协议的自定义
// 网关）时回退到无工具的 chatbot，而不是启动失败。
func buildGraph(cfg *config.Config, client llm.Client, registry *tool.Registry, store checkpoint.Store, provider knowledge.Provider, supportsTools bool) (*graph.Graph, error) {
	var opts []agent.Option
	if cfg.Agent.SystemPrompt != "" {
		opts = append(opts, agent.WithSystemPrompt(cfg.Agent.SystemPrompt))
	}
	if cfg.Agent.MaxRounds > 0 {
		opts = append(opts, agent.WithMaxRounds(cfg.Agent.MaxRounds))
	}
	if provider != nil {
		opts = append(opts, agent.WithKnowledge(provider))
	}

	name := cfg.Agent.Graph
	if name != "chatbot" && !supportsTools {
		logger.L().Warn("当前模型不支持工具调用，回退到 chatbot 图",
			slog.String("configured", name))
		name = "chatbot"
	}

	switch name {
	case "chatbot", "":
		return agent.Chatbot(client, opts...)
	case "tools":
		return agent.ChatbotWithTools(client, registry, opts...)
	case "memory":
		return agent.ChatbotWithMemory(client, registry, store, opts...)
	case "react":
		return agent.ReactAgent(client, registry, opts...)
	case "react_hitl":
		return agent.ReactHITL(client, registry, store, opts...)
	default:
		return nil, fmt.Errorf("未知的对话图: %s", name)
	}
}

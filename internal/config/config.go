package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 GraphChat 在启动阶段需要加载的全部配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Agent      AgentConfig      `json:"agent"`
	LLM        LLMConfig        `json:"llm"`
	Checkpoint CheckpointConfig `json:"checkpoint"`
	Events     EventsConfig     `json:"events"`
	Archive    ArchiveConfig    `json:"archive"`
	Database   DatabaseConfig   `json:"database"`
	Knowledge  KnowledgeConfig  `json:"knowledge"`
	Toolkits   ToolkitsConfig   `json:"toolkits"`
	Logging    LoggingConfig    `json:"logging"`
	Alerting   AlertingConfig   `json:"alerting"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与可选的访问令牌。
type ServerConfig struct {
	Address   string `json:"address"`
	AuthToken string `json:"auth_token"`
}

// AgentConfig 选择对话图并调整其行为。
// Graph 取值: chatbot、tools、memory、react、react_hitl。
type AgentConfig struct {
	Graph        string `json:"graph"`
	SystemPrompt string `json:"system_prompt"`
	MaxRounds    int    `json:"max_rounds"`
}

// LLMConfig 用于配置大模型推理的调用方式。
// Provider 取值: auto、gemini、custom、scripted。
type LLMConfig struct {
	Provider string       `json:"provider"`
	Gemini   GeminiConfig `json:"gemini"`
	Custom   CustomConfig `json:"custom"`
}

// GeminiConfig 描述 Gemini API 的访问参数。
type GeminiConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 把配置的秒数转换为时长，未配置时返回零值交给客户端取默认。
func (c GeminiConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CustomConfig 描述企业自建 LLM 网关的访问参数。
// Mode 取值: prompt、chat。
type CustomConfig struct {
	Endpoint       string `json:"endpoint"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	Mode           string `json:"mode"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 把配置的秒数转换为时长。
func (c CustomConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EffectiveProvider 解析 auto：有 Gemini 密钥用 gemini，
// 配了自定义端点用 custom，否则退化为离线的 scripted。
func (c LLMConfig) EffectiveProvider() string {
	if c.Provider != "" && c.Provider != "auto" {
		return c.Provider
	}
	if c.Gemini.APIKey != "" {
		return "gemini"
	}
	if c.Custom.Endpoint != "" {
		return "custom"
	}
	return "scripted"
}

// CheckpointConfig 描述线程检查点存储。
// Driver 取值: memory、mysql、redis。
type CheckpointConfig struct {
	Driver string                `json:"driver"`
	DSN    string                `json:"dsn"`
	Redis  CheckpointRedisConfig `json:"redis"`
}

// CheckpointRedisConfig 描述 Redis 检查点存储的连接参数。
type CheckpointRedisConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// TTL 把配置的秒数转换为时长。
func (c CheckpointRedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// EventsConfig 描述审计事件队列与归档消费者。
// Driver 取值: memory、redis、rabbitmq。
type EventsConfig struct {
	Driver   string            `json:"driver"`
	Workers  int               `json:"workers"`
	Redis    EventsRedisConfig `json:"redis"`
	RabbitMQ RabbitMQConfig    `json:"rabbitmq"`
}

// EventsRedisConfig 描述 Redis 事件队列的连接参数。
type EventsRedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// BlockWait 把配置的秒数转换为时长。
func (c EventsRedisConfig) BlockWait() time.Duration {
	return time.Duration(c.BlockWaitSeconds) * time.Second
}

// RabbitMQConfig 描述 RabbitMQ 事件队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// ArchiveConfig 描述事件归档仓库。
// Driver 取值: file、mysql。
type ArchiveConfig struct {
	Driver string `json:"driver"`
	Dir    string `json:"dir"`
	DSN    string `json:"dsn"`
}

// DatabaseConfig 描述只读查询库的连接参数，对应 SQL 工具集。
// 必填项不齐时工具集不注册，环境变量 DB_* 可以覆盖每个字段。
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Name     string `json:"name"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslmode"`
}

// Configured 判断必填项是否齐全，主机和端口有默认值。
func (c DatabaseConfig) Configured() bool {
	return c.Name != "" && c.User != "" && c.Password != ""
}

// KnowledgeConfig 指向静态知识库文件。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// ToolkitsConfig 指向动态工具包的 YAML 清单，为空时不加载任何工具包。
type ToolkitsConfig struct {
	Manifest string `json:"manifest"`
}

// LoggingConfig 控制结构化日志与审计通道。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	AddSource   bool        `json:"add_source"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制独立的审计日志文件。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// AlertingConfig 配置工具执行失败的告警外发渠道。
// WebhookURL 为空时告警只落结构化日志。
type AlertingConfig struct {
	WebhookURL   string `json:"webhook_url"`
	WebhookToken string `json:"webhook_token"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// Default 返回不依赖任何文件即可运行的配置：
// 内存存储、文件归档、脚本化模型，监听 :8001。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值，
// 相对路径一律相对配置文件所在目录解析。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8001"
	}

	if c.Agent.Graph == "" {
		c.Agent.Graph = "react_hitl"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "auto"
	}
	if c.LLM.Gemini.Model == "" {
		// tools/memory 图沿用历史部署的 2.0 型号，其余图用 2.5。
		switch c.Agent.Graph {
		case "tools", "memory":
			c.LLM.Gemini.Model = "gemini-2.0-flash"
		default:
			c.LLM.Gemini.Model = "gemini-2.5-flash"
		}
	}

	if c.Checkpoint.Driver == "" {
		c.Checkpoint.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Archive.Driver == "" {
		c.Archive.Driver = "file"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Archive.Dir == "" {
		c.Archive.Dir = c.Runtime.DataDir
	} else if !filepath.IsAbs(c.Archive.Dir) {
		c.Archive.Dir = filepath.Join(baseDir, c.Archive.Dir)
	}

	if c.Knowledge.Source != "" && !filepath.IsAbs(c.Knowledge.Source) {
		c.Knowledge.Source = filepath.Join(baseDir, c.Knowledge.Source)
	}

	if c.Toolkits.Manifest != "" && !filepath.IsAbs(c.Toolkits.Manifest) {
		c.Toolkits.Manifest = filepath.Join(baseDir, c.Toolkits.Manifest)
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv 加载 .env 文件，.env.local 优先，已存在的环境变量不会被覆盖。
// 文件不存在不算错误。
func LoadEnv() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("加载 %s 失败: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv 用环境变量覆盖配置中的凭据与开关，环境变量优先于文件。
// 变量名沿用部署方已有的约定：GOOGLE_API_KEY、USE_CUSTOM_LLM、DB_* 等。
func (c *Config) ApplyEnv() error {
	if token := os.Getenv("GRAPHCHAT_AUTH_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.Gemini.APIKey = key
	} else if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.Gemini.APIKey = key
	}

	if endpoint := os.Getenv("CUSTOM_LLM_ENDPOINT"); endpoint != "" {
		c.LLM.Custom.Endpoint = endpoint
	}
	if key := os.Getenv("CUSTOM_LLM_API_KEY"); key != "" {
		c.LLM.Custom.APIKey = key
	}
	if model := os.Getenv("CUSTOM_LLM_MODEL"); model != "" {
		c.LLM.Custom.Model = model
	}
	if mode := os.Getenv("CUSTOM_LLM_MODE"); mode != "" {
		c.LLM.Custom.Mode = mode
	}
	if raw := os.Getenv("CUSTOM_LLM_TIMEOUT"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("解析 CUSTOM_LLM_TIMEOUT 失败: %w", err)
		}
		c.LLM.Custom.TimeoutSeconds = seconds
	}
	if strings.EqualFold(os.Getenv("USE_CUSTOM_LLM"), "true") {
		c.LLM.Provider = "custom"
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		c.Database.Port = port
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		c.Database.Name = name
	}
	if user := os.Getenv("DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}

	return nil
}

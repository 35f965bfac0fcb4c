package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "graphchat.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, dir, "{}"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Address != ":8001" {
		t.Fatalf("unexpected address: %q", cfg.Server.Address)
	}
	if cfg.Agent.Graph != "react_hitl" {
		t.Fatalf("unexpected graph: %q", cfg.Agent.Graph)
	}
	if cfg.LLM.Provider != "auto" {
		t.Fatalf("unexpected provider: %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Gemini.Model != "gemini-2.5-flash" {
		t.Fatalf("unexpected gemini model: %q", cfg.LLM.Gemini.Model)
	}
	if cfg.Checkpoint.Driver != "memory" || cfg.Events.Driver != "memory" || cfg.Archive.Driver != "file" {
		t.Fatalf("unexpected drivers: %q %q %q", cfg.Checkpoint.Driver, cfg.Events.Driver, cfg.Archive.Driver)
	}
	wantData := filepath.Join(dir, "data")
	if cfg.Runtime.DataDir != wantData {
		t.Fatalf("unexpected data dir: %q", cfg.Runtime.DataDir)
	}
	if cfg.Archive.Dir != wantData {
		t.Fatalf("archive dir must default to the data dir, got %q", cfg.Archive.Dir)
	}
}

func TestLoadDefaultsGeminiModelPerGraph(t *testing.T) {
	cases := []struct {
		graph string
		want  string
	}{
		{"tools", "gemini-2.0-flash"},
		{"memory", "gemini-2.0-flash"},
		{"chatbot", "gemini-2.5-flash"},
		{"react", "gemini-2.5-flash"},
		{"react_hitl", "gemini-2.5-flash"},
	}
	for _, tc := range cases {
		cfg, err := Load(writeConfig(t, t.TempDir(), `{"agent": {"graph": "`+tc.graph+`"}}`))
		if err != nil {
			t.Fatalf("load config for graph %s: %v", tc.graph, err)
		}
		if cfg.LLM.Gemini.Model != tc.want {
			t.Fatalf("graph %s: unexpected gemini model %q, want %q", tc.graph, cfg.LLM.Gemini.Model, tc.want)
		}
	}

	cfg, err := Load(writeConfig(t, t.TempDir(), `{
		"agent": {"graph": "tools"},
		"llm": {"gemini": {"model": "gemini-2.5-pro"}}
	}`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LLM.Gemini.Model != "gemini-2.5-pro" {
		t.Fatalf("explicit model must win, got %q", cfg.LLM.Gemini.Model)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, dir, `{
		"runtime": {"data_dir": "state"},
		"archive": {"dir": "archive"},
		"knowledge": {"source": "kb.json"}
	}`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if want := filepath.Join(dir, "state"); cfg.Runtime.DataDir != want {
		t.Fatalf("unexpected data dir: %q want %q", cfg.Runtime.DataDir, want)
	}
	if want := filepath.Join(dir, "archive"); cfg.Archive.Dir != want {
		t.Fatalf("unexpected archive dir: %q want %q", cfg.Archive.Dir, want)
	}
	if want := filepath.Join(dir, "kb.json"); cfg.Knowledge.Source != want {
		t.Fatalf("unexpected knowledge source: %q want %q", cfg.Knowledge.Source, want)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		if _, err := Load(""); err == nil {
			t.Fatalf("expected error for empty path")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
			t.Fatalf("expected error for missing file")
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := Load(writeConfig(t, t.TempDir(), "{")); err == nil {
			t.Fatalf("expected error for invalid json")
		}
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GRAPHCHAT_AUTH_TOKEN", "token-1")
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("CUSTOM_LLM_ENDPOINT", "http://llm.internal/api")
	t.Setenv("CUSTOM_LLM_API_KEY", "custom-key")
	t.Setenv("CUSTOM_LLM_MODEL", "enterprise-v2")
	t.Setenv("CUSTOM_LLM_MODE", "chat")
	t.Setenv("CUSTOM_LLM_TIMEOUT", "90")
	t.Setenv("USE_CUSTOM_LLM", "TRUE")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_NAME", "analytics")
	t.Setenv("DB_USER", "reader")
	t.Setenv("DB_PASSWORD", "pw")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}

	if cfg.Server.AuthToken != "token-1" {
		t.Fatalf("unexpected auth token: %q", cfg.Server.AuthToken)
	}
	if cfg.LLM.Gemini.APIKey != "gem-key" {
		t.Fatalf("GEMINI_API_KEY must win over GOOGLE_API_KEY: %q", cfg.LLM.Gemini.APIKey)
	}
	if cfg.LLM.Provider != "custom" {
		t.Fatalf("USE_CUSTOM_LLM must force the custom provider: %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Custom.Endpoint != "http://llm.internal/api" || cfg.LLM.Custom.APIKey != "custom-key" {
		t.Fatalf("unexpected custom llm config: %+v", cfg.LLM.Custom)
	}
	if cfg.LLM.Custom.Model != "enterprise-v2" || cfg.LLM.Custom.Mode != "chat" {
		t.Fatalf("unexpected custom llm model/mode: %+v", cfg.LLM.Custom)
	}
	if cfg.LLM.Custom.Timeout() != 90*time.Second {
		t.Fatalf("unexpected custom llm timeout: %v", cfg.LLM.Custom.Timeout())
	}
	if !cfg.Database.Configured() {
		t.Fatalf("database must be configured from env: %+v", cfg.Database)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != "5433" {
		t.Fatalf("unexpected database host/port: %+v", cfg.Database)
	}
}

func TestApplyEnvFallsBackToGoogleKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.LLM.Gemini.APIKey != "google-key" {
		t.Fatalf("unexpected gemini key: %q", cfg.LLM.Gemini.APIKey)
	}
}

func TestApplyEnvRejectsBadTimeout(t *testing.T) {
	t.Setenv("CUSTOM_LLM_TIMEOUT", "soon")

	cfg := Default()
	if err := cfg.ApplyEnv(); err == nil {
		t.Fatalf("expected error for invalid timeout")
	}
}

func TestEffectiveProvider(t *testing.T) {
	cases := []struct {
		name string
		cfg  LLMConfig
		want string
	}{
		{"explicit provider wins", LLMConfig{Provider: "scripted", Gemini: GeminiConfig{APIKey: "k"}}, "scripted"},
		{"auto with gemini key", LLMConfig{Provider: "auto", Gemini: GeminiConfig{APIKey: "k"}}, "gemini"},
		{"auto with custom endpoint", LLMConfig{Provider: "auto", Custom: CustomConfig{Endpoint: "http://x"}}, "custom"},
		{"gemini key beats endpoint", LLMConfig{Provider: "auto", Gemini: GeminiConfig{APIKey: "k"}, Custom: CustomConfig{Endpoint: "http://x"}}, "gemini"},
		{"auto with nothing", LLMConfig{Provider: "auto"}, "scripted"},
		{"empty behaves like auto", LLMConfig{}, "scripted"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.EffectiveProvider(); got != tc.want {
				t.Fatalf("unexpected provider: got %q want %q", got, tc.want)
			}
		})
	}
}

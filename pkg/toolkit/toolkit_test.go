package toolkit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type stubTool struct {
	name string
}

func (t stubTool) Descriptor() Descriptor {
	return Descriptor{Name: t.name, Description: "stub"}
}

func (t stubTool) Call(context.Context, map[string]any) (string, error) {
	return "ok", nil
}

type stubToolkit struct {
	info     Info
	tools    []Tool
	opened   int
	closed   int
	sawCfg   map[string]any
	openErr  error
	closeErr error
}

func (s *stubToolkit) Info() Info { return s.info }

func (s *stubToolkit) Open(ctx *Context) error {
	s.opened++
	s.sawCfg = ctx.Config
	return s.openErr
}

func (s *stubToolkit) Tools() []Tool { return s.tools }

func (s *stubToolkit) Close(*Context) error {
	s.closed++
	return s.closeErr
}

type stubLoader struct {
	toolkit Toolkit
	paths   []string
}

func (l *stubLoader) Load(path string) (Toolkit, error) {
	l.paths = append(l.paths, path)
	return l.toolkit, nil
}

func TestManagerLifecycle(t *testing.T) {
	tk := &stubToolkit{
		info:  Info{Name: "Clock"},
		tools: []Tool{stubTool{name: "current_time"}},
	}
	m, err := NewManager(Manifest{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Register("clock", tk, map[string]any{"timezone": "UTC"}, Policy{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	state, err := m.State("clock")
	if err != nil || state != StateRegistered {
		t.Fatalf("unexpected state after register: %v %v", state, err)
	}
	if _, err := m.Tools("clock"); err == nil {
		t.Fatalf("tools must be unavailable before open")
	}

	ctx := context.Background()
	if err := m.Open(ctx, "clock"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if tk.opened != 1 {
		t.Fatalf("open must run once, got %d", tk.opened)
	}
	if tz := tk.sawCfg["timezone"]; tz != "UTC" {
		t.Fatalf("toolkit must receive its config block, got %v", tk.sawCfg)
	}
	// 二次 Open 幂等。
	if err := m.Open(ctx, "clock"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if tk.opened != 1 {
		t.Fatalf("reopen must be a no-op, got %d opens", tk.opened)
	}

	tools, err := m.Tools("clock")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	if len(tools) != 1 || tools[0].Descriptor().Name != "current_time" {
		t.Fatalf("unexpected tools: %+v", tools)
	}

	if err := m.Close(ctx, "clock"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if state, _ := m.State("clock"); state != StateClosed {
		t.Fatalf("unexpected state after close: %v", state)
	}
	if err := m.Close(ctx, "clock"); err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}
	if tk.closed != 1 {
		t.Fatalf("close must run once, got %d", tk.closed)
	}
}

func TestRegisterValidation(t *testing.T) {
	m, err := NewManager(Manifest{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if err := m.Register("", &stubToolkit{}, nil, Policy{}); err == nil {
		t.Fatalf("empty id must be rejected")
	}
	if err := m.Register("x", nil, nil, Policy{}); err == nil {
		t.Fatalf("nil toolkit must be rejected")
	}
	if err := m.Register("x", &stubToolkit{info: Info{ID: "y"}}, nil, Policy{}); err == nil {
		t.Fatalf("id mismatch must be rejected")
	}
	if err := m.Register("x", &stubToolkit{}, nil, Policy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register("x", &stubToolkit{}, nil, Policy{}); err == nil {
		t.Fatalf("duplicate id must be rejected")
	}
}

func TestCapabilityPolicies(t *testing.T) {
	network := &stubToolkit{info: Info{Capabilities: []Capability{CapabilityNetwork}}}

	t.Run("capabilities require a policy", func(t *testing.T) {
		m, _ := NewManager(Manifest{})
		if err := m.Register("net", network, nil, Policy{}); err == nil {
			t.Fatalf("toolkit with capabilities must require a policy")
		}
	})

	t.Run("denied capability rejected", func(t *testing.T) {
		m, _ := NewManager(Manifest{})
		err := m.Register("net", network, nil, Policy{DeniedCapabilities: []Capability{CapabilityNetwork}})
		if err == nil {
			t.Fatalf("denied capability must be rejected")
		}
	})

	t.Run("unlisted capability rejected", func(t *testing.T) {
		m, _ := NewManager(Manifest{})
		err := m.Register("net", network, nil, Policy{AllowedCapabilities: []Capability{CapabilityFilesystem}})
		if err == nil {
			t.Fatalf("capability outside the allow list must be rejected")
		}
	})

	t.Run("allowed capability accepted", func(t *testing.T) {
		m, _ := NewManager(Manifest{})
		err := m.Register("net", network, nil, Policy{AllowedCapabilities: []Capability{CapabilityNetwork}})
		if err != nil {
			t.Fatalf("allowed capability rejected: %v", err)
		}
	})

	t.Run("manifest defaults apply", func(t *testing.T) {
		m, _ := NewManager(Manifest{Defaults: Policy{AllowedCapabilities: []Capability{CapabilityNetwork}}})
		if err := m.Register("net", network, nil, Policy{}); err != nil {
			t.Fatalf("defaults must apply to empty policies: %v", err)
		}
	})
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolkits.yaml")
	content := `
toolkitDir: /opt/graphchat/toolkits
defaults:
  allowedCapabilities: [network]
toolkits:
  clock:
    enabled: true
    path: clock.so
    config:
      timezone: UTC
  disabled:
    enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	manifest, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if manifest.ToolkitDir != "/opt/graphchat/toolkits" {
		t.Fatalf("unexpected toolkit dir: %q", manifest.ToolkitDir)
	}
	if len(manifest.Defaults.AllowedCapabilities) != 1 || manifest.Defaults.AllowedCapabilities[0] != CapabilityNetwork {
		t.Fatalf("unexpected defaults: %+v", manifest.Defaults)
	}
	clock, ok := manifest.Toolkits["clock"]
	if !ok || !clock.Enabled || clock.Path != "clock.so" {
		t.Fatalf("unexpected clock entry: %+v", clock)
	}
	if tz := clock.Config["timezone"]; tz != "UTC" {
		t.Fatalf("unexpected clock config: %+v", clock.Config)
	}

	if err := manifest.Validate(); err != nil {
		t.Fatalf("manifest must validate: %v", err)
	}

	manifest.Toolkits["broken"] = ToolkitConfig{Enabled: true}
	if err := manifest.Validate(); err == nil {
		t.Fatalf("enabled toolkit without path must fail validation")
	}
}

func TestManagerLoadsFromManifest(t *testing.T) {
	tk := &stubToolkit{tools: []Tool{stubTool{name: "current_time"}}}
	loader := &stubLoader{toolkit: tk}

	manifest := Manifest{
		ToolkitDir: "/opt/toolkits",
		Toolkits: map[string]ToolkitConfig{
			"clock": {Enabled: true, Path: "clock.so"},
			"off":   {Enabled: false, Path: "off.so"},
		},
	}
	m, err := NewManager(manifest, WithLoader(loader))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if len(loader.paths) != 1 || loader.paths[0] != filepath.Join("/opt/toolkits", "clock.so") {
		t.Fatalf("unexpected loader paths: %v", loader.paths)
	}
	if _, err := m.State("off"); err == nil {
		t.Fatalf("disabled toolkits must not be registered")
	}

	if err := m.OpenAll(context.Background()); err != nil {
		t.Fatalf("open all: %v", err)
	}
	tools := m.ActiveTools()
	if len(tools) != 1 || tools[0].Descriptor().Name != "current_time" {
		t.Fatalf("unexpected active tools: %+v", tools)
	}
	if err := m.CloseAll(context.Background()); err != nil {
		t.Fatalf("close all: %v", err)
	}
	if len(m.ActiveTools()) != 0 {
		t.Fatalf("closed toolkits must not contribute tools")
	}
}

package toolkit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// Manager keeps track of registered toolkits and orchestrates their lifecycle.
type Manager struct {
	mu        sync.RWMutex
	registry  map[string]*instance
	loader    Loader
	isolation IsolationStrategy
	resources map[string]any
	defaults  Policy
}

type instance struct {
	mu      sync.Mutex
	Toolkit Toolkit
	Info    Info
	State   State
	Config  map[string]any
	Policy  Policy
	Source  string
}

// NewManager constructs a manager from the supplied manifest and options.
// Enabled toolkits are loaded immediately; call OpenAll to activate them.
func NewManager(manifest Manifest, opts ...Option) (*Manager, error) {
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		registry:  make(map[string]*instance),
		loader:    GoPluginLoader{},
		isolation: NewIsolationStrategy(nil),
		resources: make(map[string]any),
		defaults:  manifest.Defaults,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.isolation = NewIsolationStrategy(m.isolation)
	if err := m.loadManifest(manifest); err != nil {
		return nil, err
	}
	return m, nil
}

// Register registers a toolkit instance directly with the manager.
func (m *Manager) Register(id string, tk Toolkit, cfg map[string]any, policy Policy) error {
	if id == "" {
		return errors.New("toolkit id cannot be empty")
	}
	if tk == nil {
		return errors.New("toolkit implementation cannot be nil")
	}
	info := tk.Info()
	if info.ID != "" && info.ID != id {
		return fmt.Errorf("toolkit id mismatch: %s != %s", info.ID, id)
	}
	policy = MergePolicies(m.defaults, &policy)
	if err := EnsurePolicy(info, policy); err != nil {
		return err
	}
	if err := m.isolation.Validate(info, policy); err != nil {
		return err
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[id]; exists {
		return fmt.Errorf("toolkit %s already registered", id)
	}
	m.registry[id] = &instance{Toolkit: tk, Info: mergeInfo(info, id), State: StateRegistered, Config: cfg, Policy: policy, Source: "manual"}
	return nil
}

// Load loads a toolkit implementation from disk and registers it with the manager.
func (m *Manager) Load(id string, path string, cfg map[string]any, policy Policy) error {
	if path == "" {
		return errors.New("toolkit path cannot be empty")
	}
	tk, err := m.loader.Load(path)
	if err != nil {
		return fmt.Errorf("load toolkit from %s: %w", path, err)
	}
	return m.Register(id, tk, cfg, policy)
}

// Open activates a toolkit by id. Opening an active toolkit is a no-op.
func (m *Manager) Open(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State == StateActive {
		return nil
	}
	if err := m.isolation.Prepare(inst.Info); err != nil {
		return fmt.Errorf("prepare isolation for %s: %w", id, err)
	}
	execCtx := &Context{C: ctx, Config: inst.Config, Resources: m.resources}
	if err := inst.Toolkit.Open(execCtx.Clone()); err != nil {
		_ = m.isolation.Cleanup(inst.Info)
		return fmt.Errorf("open toolkit %s: %w", id, err)
	}
	inst.State = StateActive
	return nil
}

// Close deactivates a toolkit if it is active.
func (m *Manager) Close(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State != StateActive {
		return nil
	}
	execCtx := &Context{C: ctx, Config: inst.Config, Resources: m.resources}
	if err := inst.Toolkit.Close(execCtx.Clone()); err != nil {
		return fmt.Errorf("close toolkit %s: %w", id, err)
	}
	if err := m.isolation.Cleanup(inst.Info); err != nil {
		return fmt.Errorf("cleanup isolation for %s: %w", id, err)
	}
	inst.State = StateClosed
	return nil
}

// OpenAll activates all registered toolkits.
func (m *Manager) OpenAll(ctx context.Context) error {
	for _, id := range m.ids() {
		if err := m.Open(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// CloseAll deactivates all active toolkits.
func (m *Manager) CloseAll(ctx context.Context) error {
	for _, id := range m.ids() {
		if err := m.Close(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Tools returns the tools contributed by an active toolkit.
func (m *Manager) Tools(id string) ([]Tool, error) {
	inst, err := m.get(id)
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State != StateActive {
		return nil, fmt.Errorf("toolkit %s is not active", id)
	}
	return inst.Toolkit.Tools(), nil
}

// ActiveTools returns the tools of every active toolkit, ordered by toolkit id.
func (m *Manager) ActiveTools() []Tool {
	var tools []Tool
	for _, id := range m.ids() {
		contributed, err := m.Tools(id)
		if err != nil {
			continue
		}
		tools = append(tools, contributed...)
	}
	return tools
}

// State returns the lifecycle state of a toolkit.
func (m *Manager) State(id string) (State, error) {
	inst, err := m.get(id)
	if err != nil {
		return "", err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.State, nil
}

func (m *Manager) get(id string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.registry[id]
	if !ok {
		return nil, fmt.Errorf("toolkit %s not registered", id)
	}
	return inst, nil
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.registry))
	for id := range m.registry {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (m *Manager) loadManifest(manifest Manifest) error {
	for id, tkCfg := range manifest.Toolkits {
		if !tkCfg.Enabled {
			continue
		}
		path := tkCfg.Path
		if !filepath.IsAbs(path) && manifest.ToolkitDir != "" {
			path = filepath.Join(manifest.ToolkitDir, path)
		}
		policy := MergePolicies(manifest.Defaults, tkCfg.Policy)
		if err := m.Load(id, path, cloneConfig(tkCfg.Config), policy); err != nil {
			return err
		}
	}
	return nil
}

func mergeInfo(info Info, id string) Info {
	if info.ID == "" {
		info.ID = id
	}
	return info
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return cp
}

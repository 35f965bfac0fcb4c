package toolkit

import "context"

// Tool is a single callable exposed by a toolkit. It mirrors the host's
// tool contract without depending on it, so toolkits can be built out of
// tree: Parameters carries a JSON Schema object describing the arguments.
type Tool interface {
	// Descriptor returns the static metadata the host uses to register the tool.
	Descriptor() Descriptor
	// Call executes the tool with the decoded arguments and returns text for the model.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Descriptor contains the metadata for a single tool.
type Descriptor struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name,omitempty"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Toolkit defines the lifecycle hooks a dynamically loaded tool bundle
// must satisfy.
type Toolkit interface {
	// Info returns the static metadata for the toolkit.
	Info() Info
	// Open prepares the toolkit for use. Implementations read their
	// configuration block here and may allocate connections.
	Open(ctx *Context) error
	// Tools returns the tools the toolkit contributes. Only called between
	// Open and Close.
	Tools() []Tool
	// Close releases any resources held by the toolkit.
	Close(ctx *Context) error
}

// Context is passed to toolkits for every lifecycle stage.
type Context struct {
	// C is the underlying context for cancellation and deadlines.
	C context.Context
	// Config is the toolkit specific configuration block from the manifest.
	Config map[string]any
	// Resources exposes shared services supplied by the host application.
	Resources map[string]any
}

// Clone returns a shallow copy of the context so toolkits can safely mutate maps.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Config != nil {
		dup.Config = make(map[string]any, len(c.Config))
		for k, v := range c.Config {
			dup.Config[k] = v
		}
	}
	if c.Resources != nil {
		dup.Resources = make(map[string]any, len(c.Resources))
		for k, v := range c.Resources {
			dup.Resources[k] = v
		}
	}
	return &dup
}

// Option modifies the behaviour of a toolkit manager instance.
type Option func(*Manager)

// WithLoader overrides the default binary loader implementation.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithIsolationStrategy sets a custom isolation policy enforcement strategy.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithResource registers a shared resource that will be exposed to all toolkits.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key == "" || value == nil {
			return
		}
		if m.resources == nil {
			m.resources = make(map[string]any)
		}
		m.resources[key] = value
	}
}

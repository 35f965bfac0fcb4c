package tool

import (
	"context"
	"fmt"
	"sync"

	xerrors "GraphChat/internal/errors"
	"GraphChat/internal/llm"
)

// Descriptor 描述一个工具：模型可见的名字和参数 schema，
// 以及给人看的展示名。
type Descriptor struct {
	Name        string
	DisplayName string
	Description string
	Parameters  *llm.Schema
}

// Tool 定义一个可供模型调用的工具。
type Tool interface {
	Descriptor() Descriptor
	// Call 执行工具并返回文本结果。业务性失败（搜索出错、查询被拒）
	// 应当编码进返回文本交给模型续写，错误仅用于协议层问题。
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Registry 维护工具名到实现的映射，注册顺序即对外暴露顺序。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry 创建一个空的工具注册表。
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register 注册一个工具，名字不能为空或重复。
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具不能为空")
	}
	name := tool.Descriptor().Name
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具名不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("工具 %s 已注册", name))
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Get 按名字查找工具。
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("工具 %s 不存在", name))
	}
	return tool, nil
}

// List 按注册顺序返回全部工具。
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Names 按注册顺序返回全部工具名。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Descriptors 按注册顺序返回全部工具描述。
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descs = append(descs, r.tools[name].Descriptor())
	}
	return descs
}

// Decls 按注册顺序返回工具声明，供绑定到模型请求。
func (r *Registry) Decls() []llm.ToolDecl {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decls := make([]llm.ToolDecl, 0, len(r.order))
	for _, name := range r.order {
		desc := r.tools[name].Descriptor()
		decls = append(decls, llm.ToolDecl{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  desc.Parameters,
		})
	}
	return decls
}

// DisplayName 返回工具的展示名，未注册或未设置时原样返回工具名。
func (r *Registry) DisplayName(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if tool, exists := r.tools[name]; exists {
		if display := tool.Descriptor().DisplayName; display != "" {
			return display
		}
	}
	return name
}

// Execute 校验必填参数后执行指定工具。
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, err := r.Get(name)
	if err != nil {
		return "", err
	}
	if schema := tool.Descriptor().Parameters; schema != nil {
		for _, field := range schema.Required {
			if _, present := args[field]; !present {
				return "", xerrors.New(xerrors.CodeInvalidArgument,
					fmt.Sprintf("工具 %s 缺少必填参数 %q", name, field))
			}
		}
	}
	return tool.Call(ctx, args)
}

// stringArg 按字符串取出参数值，非字符串类型做宽松转换。
func stringArg(args map[string]any, key string) string {
	value, ok := args[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

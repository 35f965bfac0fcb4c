package graph

import (
	"context"
	"fmt"

	"GraphChat/internal/chat"
	"GraphChat/internal/checkpoint"
	xerrors "GraphChat/internal/errors"
)

// End 是图的终止标记，路由函数返回它表示本轮执行结束。
const End = "__end__"

// entryMarker 仅用于可视化输出中的起点节点。
const entryMarker = "__start__"

// defaultStepLimit 限制单轮执行的节点步数，防止路由环路失控。
const defaultStepLimit = 25

// Delta 是节点的执行产物：追加到线程状态尾部的新消息。
// 节点永远不修改既有消息，状态只增不减。
type Delta struct {
	Messages []chat.Message
}

// NodeFunc 定义一个图节点。节点读取当前状态并返回要追加的消息；
// 返回 InterruptWith 构造的错误可挂起整张图等待人工审批。
type NodeFunc func(ctx context.Context, state chat.State) (Delta, error)

// RouteFunc 根据当前状态决定下一个节点，返回 End 表示结束。
type RouteFunc func(state chat.State) string

// conditionalEdge 记录一条条件边及其可视化用的候选目标。
type conditionalEdge struct {
	route   RouteFunc
	targets []string
}

// Builder 以声明方式组装图：节点、边与入口，最后 Compile 校验并固化。
type Builder struct {
	name        string
	nodes       map[string]NodeFunc
	order       []string
	edges       map[string]string
	conditional map[string]conditionalEdge
	entry       string
	err         error
}

// NewBuilder 创建一个命名的图构建器，名字会出现在可视化输出里。
func NewBuilder(name string) *Builder {
	return &Builder{
		name:        name,
		nodes:       make(map[string]NodeFunc),
		edges:       make(map[string]string),
		conditional: make(map[string]conditionalEdge),
	}
}

// AddNode 注册一个节点。节点名不能为空、不能重复、不能占用保留名。
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	if b.err != nil {
		return b
	}
	if name == "" || name == End || name == entryMarker {
		b.err = xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法节点名: %q", name))
		return b
	}
	if fn == nil {
		b.err = xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("节点 %q 缺少执行函数", name))
		return b
	}
	if _, exists := b.nodes[name]; exists {
		b.err = xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("节点 %q 重复注册", name))
		return b
	}
	b.nodes[name] = fn
	b.order = append(b.order, name)
	return b
}

// AddEdge 注册一条固定边：from 执行成功后无条件进入 to。
func (b *Builder) AddEdge(from, to string) *Builder {
	if b.err != nil {
		return b
	}
	if _, exists := b.edges[from]; exists {
		b.err = xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("节点 %q 已存在出边", from))
		return b
	}
	if _, exists := b.conditional[from]; exists {
		b.err = xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("节点 %q 已存在条件出边", from))
		return b
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdge 注册一条条件边，targets 列出路由可能返回的目标，
// 仅用于编译期校验与可视化。
func (b *Builder) AddConditionalEdge(from string, route RouteFunc, targets ...string) *Builder {
	if b.err != nil {
		return b
	}
	if route == nil {
		b.err = xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("节点 %q 的路由函数为空", from))
		return b
	}
	if _, exists := b.edges[from]; exists {
		b.err = xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("节点 %q 已存在出边", from))
		return b
	}
	if _, exists := b.conditional[from]; exists {
		b.err = xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("节点 %q 已存在条件出边", from))
		return b
	}
	b.conditional[from] = conditionalEdge{route: route, targets: targets}
	return b
}

// SetEntryPoint 指定入口节点。
func (b *Builder) SetEntryPoint(name string) *Builder {
	if b.err != nil {
		return b
	}
	b.entry = name
	return b
}

// CompileOption 定义编译期的可选配置。
type CompileOption func(*Graph)

// WithCheckpointer 指定线程检查点存储，默认使用内存存储。
func WithCheckpointer(store checkpoint.Store) CompileOption {
	return func(g *Graph) {
		if store != nil {
			g.store = store
		}
	}
}

// WithStepLimit 覆盖单轮执行的节点步数上限。
func WithStepLimit(limit int) CompileOption {
	return func(g *Graph) {
		if limit > 0 {
			g.stepLimit = limit
		}
	}
}

// Compile 校验图结构并固化为可执行的 Graph。
func (b *Builder) Compile(opts ...CompileOption) (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.nodes) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "图中没有任何节点")
	}
	if b.entry == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "图缺少入口节点")
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("入口节点 %q 未注册", b.entry))
	}
	// 每条边的两端都必须指向已注册节点或 End。
	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("边的起点 %q 未注册", from))
		}
		if to != End {
			if _, ok := b.nodes[to]; !ok {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("边的终点 %q 未注册", to))
			}
		}
	}
	for from, edge := range b.conditional {
		if _, ok := b.nodes[from]; !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("条件边的起点 %q 未注册", from))
		}
		for _, target := range edge.targets {
			if target == End {
				continue
			}
			if _, ok := b.nodes[target]; !ok {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("条件边目标 %q 未注册", target))
			}
		}
	}
	// 非终点节点必须有出边，否则执行会悬空。
	for _, name := range b.order {
		_, hasEdge := b.edges[name]
		_, hasConditional := b.conditional[name]
		if !hasEdge && !hasConditional {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("节点 %q 没有出边", name))
		}
	}

	g := &Graph{
		name:        b.name,
		nodes:       b.nodes,
		order:       append([]string(nil), b.order...),
		edges:       b.edges,
		conditional: b.conditional,
		entry:       b.entry,
		stepLimit:   defaultStepLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.store == nil {
		g.store = checkpoint.NewMemoryStore()
	}
	return g, nil
}

// Graph 是编译后的会话图。编译之后结构不可变，可被多个线程并发执行；
// 线程间的隔离由检查点存储按 thread_id 承担。
type Graph struct {
	name        string
	nodes       map[string]NodeFunc
	order       []string
	edges       map[string]string
	conditional map[string]conditionalEdge
	entry       string
	store       checkpoint.Store
	stepLimit   int
}

// Name 返回图的名称。
func (g *Graph) Name() string {
	return g.name
}

// Checkpointer 暴露底层的线程检查点存储，供运维端点查询线程列表。
func (g *Graph) Checkpointer() checkpoint.Store {
	return g.store
}

const (
	// CodeGraphRecursion 表示执行步数超过上限仍未到达终点。
	CodeGraphRecursion xerrors.Code = "GRAPH_RECURSION"
	// CodeApprovalPending 表示线程存在未决审批，不能接受新消息。
	CodeApprovalPending xerrors.Code = "APPROVAL_PENDING"
	// CodeNoPendingApproval 表示线程没有待恢复的审批。
	CodeNoPendingApproval xerrors.Code = "NO_PENDING_APPROVAL"
)

var (
	// ErrApprovalPending 表示线程被审批挂起，需要先调用 Resume。
	ErrApprovalPending = xerrors.New(CodeApprovalPending, "thread has a pending approval", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrNoPendingApproval 表示线程当前没有可恢复的中断。
	ErrNoPendingApproval = xerrors.New(CodeNoPendingApproval, "thread has no pending approval", xerrors.WithSeverity(xerrors.SeverityWarning))
)

func init() {
	xerrors.Register(CodeGraphRecursion, xerrors.Attributes{
		Message:   "graph step limit reached",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeApprovalPending, xerrors.Attributes{
		Message:   "thread has a pending approval",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeNoPendingApproval, xerrors.Attributes{
		Message:   "thread has no pending approval",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

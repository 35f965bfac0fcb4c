package graph

import (
	"context"
	stdErrors "errors"
	"fmt"

	"GraphChat/internal/approval"
	"GraphChat/internal/chat"
	"GraphChat/internal/checkpoint"
	xerrors "GraphChat/internal/errors"
)

// Result 汇总一轮图执行的结果。
type Result struct {
	ThreadID string `json:"thread_id"`
	// Messages 是执行结束后线程的完整消息序列。
	Messages []chat.Message `json:"messages"`
	// NewMessages 是本轮追加的消息，包含用户输入与各节点的产物。
	NewMessages []chat.Message `json:"new_messages"`
	// Interrupted 为真时图被审批请求挂起，Interrupt 携带待审批的载荷。
	Interrupted bool              `json:"interrupted"`
	Interrupt   *approval.Request `json:"interrupt,omitempty"`
}

// LastReply 返回最后一条助手消息的内容，没有则返回空串。
func (r *Result) LastReply() string {
	if r == nil {
		return ""
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == chat.RoleAssistant && r.Messages[i].Content != "" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Invoke 在指定线程上执行一轮对话：追加输入消息并从入口节点运行到终点。
// 线程存在未决审批时拒绝执行，返回 ErrApprovalPending。
func (g *Graph) Invoke(ctx context.Context, threadID string, input []chat.Message) (*Result, error) {
	return g.start(ctx, &runScope{}, threadID, input)
}

// Stream 与 Invoke 语义一致，额外把模型增量 token 推给 onToken 回调。
func (g *Graph) Stream(ctx context.Context, threadID string, input []chat.Message, onToken func(token string)) (*Result, error) {
	return g.start(ctx, &runScope{emit: onToken}, threadID, input)
}

// Resume 恢复一个被审批挂起的线程。被中断的节点从头重新执行，
// 已获得的审批决定按申请顺序重放；重放耗尽后的新审批请求会再次挂起。
func (g *Graph) Resume(ctx context.Context, threadID string, decision approval.Decision) (*Result, error) {
	if threadID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "thread_id 不能为空")
	}

	cp, err := g.store.Get(ctx, threadID)
	if err != nil {
		if stdErrors.Is(err, checkpoint.ErrThreadNotFound) {
			return nil, ErrNoPendingApproval
		}
		return nil, err
	}
	if cp.Status != checkpoint.StatusInterrupted || cp.Interrupt == nil {
		return nil, ErrNoPendingApproval
	}

	ledger := append(append([]approval.Decision(nil), cp.Resumed...), decision)
	scope := &runScope{resumed: ledger}
	baseLen := len(cp.State.Messages)
	return g.run(ctx, scope, threadID, cp.State, cp.Node, baseLen, cp.Turns)
}

func (g *Graph) start(ctx context.Context, scope *runScope, threadID string, input []chat.Message) (*Result, error) {
	if threadID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "thread_id 不能为空")
	}
	if len(input) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "输入消息不能为空")
	}

	var state chat.State
	turns := 1

	cp, err := g.store.Get(ctx, threadID)
	switch {
	case err == nil:
		if cp.Status == checkpoint.StatusInterrupted {
			return nil, ErrApprovalPending
		}
		state = cp.State
		turns = cp.Turns + 1
	case stdErrors.Is(err, checkpoint.ErrThreadNotFound):
		// 新线程，从空状态开始。
	default:
		return nil, err
	}

	baseLen := len(state.Messages)
	state.Append(input...)
	return g.run(ctx, scope, threadID, state, g.entry, baseLen, turns)
}

// run 是图的执行主循环：执行节点、追加产物、落检查点、按边路由，
// 直到 End、中断或超出步数上限。
func (g *Graph) run(ctx context.Context, scope *runScope, threadID string, state chat.State, startNode string, baseLen, turns int) (*Result, error) {
	scope.threadID = threadID
	ctx = withScope(ctx, scope)

	current := startNode
	for steps := 0; ; steps++ {
		if steps >= g.stepLimit {
			return nil, xerrors.New(CodeGraphRecursion,
				fmt.Sprintf("执行 %d 步后仍未到达终点，疑似路由环路", g.stepLimit))
		}
		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "图执行被取消")
		}

		fn, ok := g.nodes[current]
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("检查点指向未知节点 %q", current))
		}

		delta, err := fn(ctx, state)
		if err != nil {
			if req, yes := IsInterrupt(err); yes {
				// 挂起时保存不含本节点产物的现场，恢复后该节点从头重跑；
				// 已消费的审批决定随检查点保存，供重跑时按序重放。
				pause := &checkpoint.Checkpoint{
					ThreadID:  threadID,
					Status:    checkpoint.StatusInterrupted,
					State:     state,
					Node:      current,
					Interrupt: req,
					Resumed:   scope.resumed,
					Turns:     turns,
				}
				if putErr := g.store.Put(ctx, pause); putErr != nil {
					return nil, putErr
				}
				return &Result{
					ThreadID:    threadID,
					Messages:    state.Messages,
					NewMessages: state.Messages[baseLen:],
					Interrupted: true,
					Interrupt:   req,
				}, nil
			}
			return nil, err
		}

		// 节点完成后其审批记录随之失效。
		scope.clearResumed()
		state.Append(delta.Messages...)

		save := &checkpoint.Checkpoint{
			ThreadID: threadID,
			Status:   checkpoint.StatusActive,
			State:    state,
			Node:     current,
			Turns:    turns,
		}
		if err := g.store.Put(ctx, save); err != nil {
			return nil, err
		}

		next, err := g.nextNode(current, state)
		if err != nil {
			return nil, err
		}
		if next == End {
			break
		}
		current = next
	}

	return &Result{
		ThreadID:    threadID,
		Messages:    state.Messages,
		NewMessages: state.Messages[baseLen:],
	}, nil
}

func (g *Graph) nextNode(current string, state chat.State) (string, error) {
	if edge, ok := g.conditional[current]; ok {
		next := edge.route(state)
		if next == End {
			return End, nil
		}
		if _, exists := g.nodes[next]; !exists {
			return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("路由返回未注册节点 %q", next))
		}
		return next, nil
	}
	if next, ok := g.edges[current]; ok {
		return next, nil
	}
	return End, nil
}

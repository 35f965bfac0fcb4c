package event

import (
	"context"

	"GraphChat/internal/graph"
	"GraphChat/internal/tool"
)

// InstrumentedTool 包装工具调用，把每次执行写入审计事件流。
type InstrumentedTool struct {
	inner   tool.Tool
	emitter *Emitter
}

// Instrument 给工具套上审计外壳；emitter 为 nil 时原样返回。
func Instrument(t tool.Tool, emitter *Emitter) tool.Tool {
	if t == nil || emitter == nil {
		return t
	}
	return &InstrumentedTool{inner: t, emitter: emitter}
}

func (t *InstrumentedTool) Descriptor() tool.Descriptor { return t.inner.Descriptor() }

func (t *InstrumentedTool) Call(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.inner.Call(ctx, args)

	name := t.inner.Descriptor().Name
	threadID := graph.ThreadIDFrom(ctx)
	if err != nil {
		// 审批挂起不算失败，tool.requested 由服务端记录。
		if _, interrupted := graph.IsInterrupt(err); interrupted {
			return result, err
		}
		evt := New(TypeToolFailed, threadID)
		evt.Tool = name
		evt.Args = args
		evt.Detail = err.Error()
		t.emitter.Emit(evt)
		return result, err
	}

	evt := New(TypeToolExecuted, threadID)
	evt.Tool = name
	evt.Args = args
	evt.Detail = result
	t.emitter.Emit(evt)
	return result, nil
}

var _ tool.Tool = (*InstrumentedTool)(nil)

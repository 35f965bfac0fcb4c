package main

import (
	"context"
	"encoding/json"
	"fmt"

	"GraphChat/internal/llm"
	"GraphChat/internal/tool"
	"GraphChat/pkg/toolkit"
)

// toolkitTool 把动态工具包贡献的工具适配成注册表工具。
type toolkitTool struct {
	inner      toolkit.Tool
	descriptor tool.Descriptor
}

// adaptToolkitTool 转换工具描述。参数走一次 JSON 往返变成内部
// Schema，坏的参数描述在启动期报错而不是拖到首次调用。
func adaptToolkitTool(inner toolkit.Tool) (tool.Tool, error) {
	d := inner.Descriptor()
	params, err := schemaFromMap(d.Parameters)
	if err != nil {
		return nil, fmt.Errorf("工具 %s 的参数描述无效: %w", d.Name, err)
	}
	return &toolkitTool{
		inner: inner,
		descriptor: tool.Descriptor{
			Name:        d.Name,
			DisplayName: d.DisplayName,
			Description: d.Description,
			Parameters:  params,
		},
	}, nil
}

func (t *toolkitTool) Descriptor() tool.Descriptor { return t.descriptor }

func (t *toolkitTool) Call(ctx context.Context, args map[string]any) (string, error) {
	return t.inner.Call(ctx, args)
}

func schemaFromMap(params map[string]any) (*llm.Schema, error) {
	if len(params) == 0 {
		return &llm.Schema{Type: "object", Properties: map[string]*llm.Schema{}}, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var schema llm.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

var _ tool.Tool = (*toolkitTool)(nil)

package timeline

import (
	"strings"

	"github.com/deepwiki/sentra-console/internal/sentraxml"
)

// ToolCall 结构化工具调用请求。
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// TraceItem 旧协议的单个模型轮次记录。只用于派生 Event, 从不直接渲染。
type TraceItem struct {
	Loop           int        `json:"loop"`
	ModelOutput    string     `json:"model_output"`
	NeedTools      *bool      `json:"need_tools,omitempty"`
	SentraToolsXML string     `json:"sentra_tools_xml,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	ToolResultsXML string     `json:"tool_results_xml,omitempty"`
}

// DecodeTrace 将 trace 记录序列解码为有序事件流。
//
// 每个 item 固定产出顺序: plan → 每个 tool_call 的 tool_start → 每个
// sentra-result 块的 tool_result。结果 XML 非空但解析不出任何块时,
// 降级为单个 info 事件携带原文 — 协议产出的载荷绝不静默丢弃。
func DecodeTrace(items []TraceItem) []Event {
	var events []Event
	for _, item := range items {
		events = append(events, decodeTraceItem(item)...)
	}
	return events
}

func decodeTraceItem(item TraceItem) []Event {
	var events []Event

	if plan := sentraxml.ExtractTag(item.ModelOutput, "plan"); plan != "" {
		events = append(events, Event{Type: EventPlan, Text: plan, Loop: item.Loop})
	}

	for _, call := range item.ToolCalls {
		if strings.TrimSpace(call.Name) == "" {
			continue
		}
		args := call.Args
		if args == nil {
			args = map[string]any{}
		}
		events = append(events, Event{
			Type: EventToolStart,
			Tool: call.Name,
			Args: args,
			Loop: item.Loop,
		})
	}

	if strings.TrimSpace(item.ToolResultsXML) != "" {
		blocks := sentraxml.ExtractBlocks(item.ToolResultsXML, "sentra-result")
		if len(blocks) == 0 {
			events = append(events, Event{
				Type: EventInfo,
				Text: item.ToolResultsXML,
				Loop: item.Loop,
			})
		}
		for _, block := range blocks {
			events = append(events, Event{
				Type:    EventToolResult,
				Tool:    block.Tool(),
				Success: block.Success(),
				Data:    map[string]any{"raw": block.Raw},
				Loop:    item.Loop,
			})
		}
	}

	return events
}

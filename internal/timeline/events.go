// Package timeline 构建单条 assistant 消息的 agent 执行时间线。
//
// 两条来源路径:
//   - 传输层显式下发的 agent_events (权威, 原样使用)
//   - 兼容旧协议的 agent_trace (经 DecodeTrace 派生)
//
// 两者永不合并 — events 非空时 trace 被忽略。
package timeline

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// 事件类型常量。
const (
	EventPlan           = "plan"
	EventToolStart      = "tool_start"
	EventToolResult     = "tool_result"
	EventActionRequired = "action_required"
	EventFinal          = "final"
	EventInfo           = "info"
	EventError          = "error"
)

// Event 时间线单项。append-only, 一旦入列不再修改。
type Event struct {
	Type    string         `json:"type"`
	Loop    int            `json:"loop,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Success bool           `json:"success,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Text    string         `json:"text,omitempty"`
	At      string         `json:"at,omitempty"` // RFC3339
}

// UnmarshalJSON 宽容解码: 帧里的事件可以携带任意字段子集,
// 缺失/未知字段一律落到安全默认值, 不在下游各处分支判断。
//
// at 兼容两种线上形态: RFC3339 字符串或 Unix 毫秒数。
func (e *Event) UnmarshalJSON(data []byte) error {
	type shadow struct {
		Type    string          `json:"type"`
		Loop    int             `json:"loop"`
		Tool    string          `json:"tool"`
		Args    map[string]any  `json:"args"`
		Success bool            `json:"success"`
		Data    map[string]any  `json:"data"`
		Text    string          `json:"text"`
		At      json.RawMessage `json:"at"`
	}
	var s shadow
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	e.Type = s.Type
	e.Loop = s.Loop
	e.Tool = s.Tool
	e.Args = s.Args
	e.Success = s.Success
	e.Data = s.Data
	e.Text = s.Text
	e.At = normalizeAt(s.At)
	return nil
}

func normalizeAt(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	ms, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return ""
	}
	return time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339)
}

// Now 返回当前时刻的事件时间戳。
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// IsErrorState 判断事件是否渲染为错误态:
// type == error, 或失败的 tool_result。其余一律非错误。
func IsErrorState(e Event) bool {
	if e.Type == EventError {
		return true
	}
	return e.Type == EventToolResult && !e.Success
}

// Package stream 消费补全端点的增量响应帧。
//
// 线格式: 按行分隔的 JSON 帧, 可选 SSE "data:" 前缀, 以 [DONE] 哨兵或
// 流关闭收尾。每帧独立承载两类信息:
//   - 文本更新: delta (追加) 或 full (整体替换)
//   - 带外控制字段: agent_events / agent_trace / action_required 等,
//     流内只记录每个键的最新值, 流结束时一次性落到消息 meta 上
//     (避免时间线中途闪烁)。
//
// 容错边界: 单行解析失败只丢该行; 单个控制字段解析失败只丢该字段;
// 流本身绝不因一个坏帧中断。
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/deepwiki/sentra-console/internal/timeline"
	apperrors "github.com/deepwiki/sentra-console/pkg/errors"
	"github.com/deepwiki/sentra-console/pkg/logger"
)

// EmptyReplyPlaceholder 整条流结束仍无任何文本时的占位内容 —
// 把"确实没返回东西"和"还在加载"区分开。
const EmptyReplyPlaceholder = "(no content)"

// doneSentinel 流逻辑终止哨兵。
const doneSentinel = "[DONE]"

// Handlers 流式消费回调。任一字段可为 nil。
type Handlers struct {
	// OnContent 每次文本变化后收到当前完整内容 (按帧到达顺序)。
	OnContent func(content string)
	// OnUIEvent dw_event 即时派发, 不缓冲。
	OnUIEvent func(raw json.RawMessage)
}

// Result 一次流 (或非流式响应) 的最终产物。
type Result struct {
	Content string
	SawText bool

	AgentEvents      []timeline.Event
	AgentTrace       []timeline.TraceItem
	ActionRequired   bool
	PendingToolCalls []timeline.ToolCall
	PendingToolsXML  string
	AgentStateID     string

	// LastTimelineField 记录 agent_events / agent_trace 哪个最后到达
	// ("events" / "trace" / "")。两者都出现时调用方据此取最近者。
	LastTimelineField string
}

// Awaiting 流结束后是否进入等待工具确认状态。
func (r *Result) Awaiting() bool {
	return r.ActionRequired && len(r.PendingToolCalls) > 0
}

// Reader 按行消费补全流。非并发安全, 一次流一个实例。
type Reader struct {
	handlers Handlers

	buf     bytes.Buffer // 未到换行的残留字节 (含可能的半个多字节 rune)
	content strings.Builder
	result  Result
}

// NewReader 创建流读取器。
func NewReader(h Handlers) *Reader {
	return &Reader{handlers: h}
}

// Consume 读完整个流并返回最终结果。
//
// ctx 取消时立即停止且不再发出任何更新 — 取消不是失败,
// 返回 pkg/errors.ErrCancelled 包装。
func (r *Reader) Consume(ctx context.Context, body io.Reader) (*Result, error) {
	chunk := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCancelled, "stream.Consume", "cancelled between chunks")
		}

		n, err := body.Read(chunk)
		if n > 0 {
			// 按字节缓冲、只在换行处切串: UTF-8 连续字节不含 '\n',
			// 残留的半个 rune 自然滞留在 buf 里等下一个 chunk。
			r.buf.Write(chunk[:n])
			r.drainLines()
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperrors.Wrap(apperrors.ErrCancelled, "stream.Consume", "cancelled mid-read")
			}
			return nil, apperrors.Wrap(err, "stream.Consume", "read stream")
		}
	}

	// 残留的最后一行 (无结尾换行) 也要处理
	if r.buf.Len() > 0 {
		r.handleLine(r.buf.String())
		r.buf.Reset()
	}

	return r.finish(), nil
}

// DecodeBody 非流式变体: 对单个 JSON 响应体做同样的文本+控制字段提取。
func DecodeBody(body []byte, h Handlers) (*Result, error) {
	r := NewReader(h)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.Wrap(err, "stream.DecodeBody", "parse response body")
	}
	r.applyFrame(raw)
	return r.finish(), nil
}

func (r *Reader) finish() *Result {
	r.result.Content = r.content.String()
	r.result.SawText = r.result.Content != ""
	if !r.result.SawText {
		r.result.Content = EmptyReplyPlaceholder
	}
	out := r.result
	return &out
}

// drainLines 把缓冲里所有完整行切出来逐行处理, 末段不完整的留在缓冲。
func (r *Reader) drainLines() {
	for {
		data := r.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return
		}
		line := string(data[:idx])
		r.buf.Next(idx + 1)
		r.handleLine(line)
	}
}

// handleLine 处理单个完整行: 清洗、分类、解析。坏行只丢自己。
func (r *Reader) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		line = strings.TrimSpace(rest)
	}
	if line == doneSentinel {
		return
	}
	if !strings.HasPrefix(line, "{") && !strings.HasPrefix(line, "[") {
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		logger.Debug("stream: dropping malformed frame", logger.FieldLen, len(line))
		return
	}
	r.applyFrame(raw)
}

// applyFrame 对一个已解析帧做两件互相独立的事:
// (a) 文本 delta/full 应用; (b) 带外控制字段记录 (最新值覆盖)。
func (r *Reader) applyFrame(raw map[string]json.RawMessage) {
	if text, mode, ok := extractText(raw); ok {
		if mode == textFull {
			r.content.Reset()
		}
		r.content.WriteString(text)
		if r.handlers.OnContent != nil {
			r.handlers.OnContent(r.content.String())
		}
	}

	r.applyControlFields(raw)
}

func (r *Reader) applyControlFields(raw map[string]json.RawMessage) {
	if ev, ok := raw["dw_event"]; ok && r.handlers.OnUIEvent != nil {
		r.handlers.OnUIEvent(ev)
	}
	if v, ok := raw["agent_events"]; ok {
		var events []timeline.Event
		if err := json.Unmarshal(v, &events); err == nil {
			r.result.AgentEvents = events
			r.result.LastTimelineField = "events"
		}
	}
	if v, ok := raw["agent_trace"]; ok {
		var trace []timeline.TraceItem
		if err := json.Unmarshal(v, &trace); err == nil {
			r.result.AgentTrace = trace
			r.result.LastTimelineField = "trace"
		}
	}
	if v, ok := raw["action_required"]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			r.result.ActionRequired = b
		}
	}
	if v, ok := raw["pending_tool_calls"]; ok {
		var calls []timeline.ToolCall
		if err := json.Unmarshal(v, &calls); err == nil {
			r.result.PendingToolCalls = calls
		}
	}
	if v, ok := raw["pending_tools_xml"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			r.result.PendingToolsXML = s
		}
	}
	if v, ok := raw["agent_state_id"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			r.result.AgentStateID = s
		}
	}
}

type textMode int

const (
	textDelta textMode = iota
	textFull
)

// extractText 从帧里取文本更新。
//
// delta 字段优先序: choices[0].delta.content → choices[0].delta.text →
// choices[0].text → choices[0].message.content → 顶层 message.content →
// 顶层 content。仅当 choices[0].message.content 存在且 choices[0] 完全
// 没有 delta 键时判为 full (整体替换), 其余一律按 delta (追加)。
func extractText(raw map[string]json.RawMessage) (string, textMode, bool) {
	choice, hasChoice := firstChoice(raw)

	if hasChoice {
		if deltaRaw, hasDelta := choice["delta"]; hasDelta {
			var delta map[string]json.RawMessage
			if json.Unmarshal(deltaRaw, &delta) == nil {
				if text, ok := flattenContent(delta["content"]); ok {
					return text, textDelta, true
				}
				if text, ok := flattenContent(delta["text"]); ok {
					return text, textDelta, true
				}
			}
			// delta 键存在但没带文本: 仍按 delta 语义继续探测其余字段
			if text, ok := flattenContent(choice["text"]); ok {
				return text, textDelta, true
			}
			if text, ok := messageContent(choice); ok {
				return text, textDelta, true
			}
		} else {
			if text, ok := flattenContent(choice["text"]); ok {
				return text, textDelta, true
			}
			if text, ok := messageContent(choice); ok {
				return text, textFull, true
			}
		}
	}

	if text, ok := messageContent(raw); ok {
		return text, textDelta, true
	}
	if text, ok := flattenContent(raw["content"]); ok {
		return text, textDelta, true
	}
	return "", textDelta, false
}

func firstChoice(raw map[string]json.RawMessage) (map[string]json.RawMessage, bool) {
	choicesRaw, ok := raw["choices"]
	if !ok {
		return nil, false
	}
	var choices []map[string]json.RawMessage
	if err := json.Unmarshal(choicesRaw, &choices); err != nil || len(choices) == 0 {
		return nil, false
	}
	return choices[0], true
}

func messageContent(m map[string]json.RawMessage) (string, bool) {
	msgRaw, ok := m["message"]
	if !ok {
		return "", false
	}
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(msgRaw, &msg); err != nil {
		return "", false
	}
	return flattenContent(msg["content"])
}

// flattenContent 把 content 字段拍平成纯文本。
// 支持两种线上形态: 字符串, 或 content-part 数组
// ([{type:"text",text:"..."}, ...] — 非文本 part 跳过)。
func flattenContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "" || p.Type == "text" {
				b.WriteString(p.Text)
			}
		}
		return b.String(), true
	}
	return "", false
}

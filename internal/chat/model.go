// Package chat 管理单个活跃会话: 消息列表、工具确认门、
// 消息变更 (发送/编辑重发/重试/删除) 与防抖持久化。
package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deepwiki/sentra-console/internal/timeline"
	"github.com/deepwiki/sentra-console/pkg/util"
)

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleError     = "error"
)

// WelcomeMessageID 会话首条欢迎消息的固定 id。
// 级联删除时欢迎消息不随前一条用户消息一起删。
const WelcomeMessageID = "welcome"

// CancellationNotice 用户取消工具执行后追加到可见内容的提示。
const CancellationNotice = "\n\n[Tool execution cancelled by user]"

// titleMaxRunes 自动标题最大长度 (按 rune 计)。
const titleMaxRunes = 60

// LocalFile 本地附件描述符, 内容以 data-URL 形式内联。
type LocalFile struct {
	Name    string `json:"name"`
	DataURL string `json:"dataUrl"`
}

// MessageMeta 消息附加元数据。assistant 消息承载 agent 执行痕迹,
// user 消息承载文件引用。
type MessageMeta struct {
	ProjectRefs      []string             `json:"projectRefs,omitempty"`
	LocalFiles       []LocalFile          `json:"localFiles,omitempty"`
	AgentEvents      []timeline.Event     `json:"agentEvents,omitempty"`
	AgentTrace       []timeline.TraceItem `json:"agentTrace,omitempty"`
	RawSentraXML     string               `json:"rawSentraXml,omitempty"` // 仅调试用途
	ActionRequired   bool                 `json:"actionRequired,omitempty"`
	PendingToolCalls []timeline.ToolCall  `json:"pendingToolCalls,omitempty"`
	PendingToolsXML  string               `json:"pendingToolsXml,omitempty"`
	AgentStateID     string               `json:"agentStateId,omitempty"`
}

// Message 单条会话消息。assistant 的 Content 只含用户可见文本,
// 协议 XML 原文只留在 Meta.RawSentraXML。
type Message struct {
	ID        string       `json:"id"`
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"createdAt"`
	Meta      *MessageMeta `json:"meta,omitempty"`
}

// EnsureMeta 惰性初始化 Meta。
func (m *Message) EnsureMeta() *MessageMeta {
	if m.Meta == nil {
		m.Meta = &MessageMeta{}
	}
	return m.Meta
}

// Clone 深拷贝消息。Meta 及其内部切片一并复制,
// 拷贝与原件不共享任何可变状态。
func (m Message) Clone() Message {
	cp := m
	if m.Meta != nil {
		meta := *m.Meta
		meta.ProjectRefs = append([]string(nil), m.Meta.ProjectRefs...)
		meta.LocalFiles = append([]LocalFile(nil), m.Meta.LocalFiles...)
		meta.AgentEvents = append([]timeline.Event(nil), m.Meta.AgentEvents...)
		meta.AgentTrace = append([]timeline.TraceItem(nil), m.Meta.AgentTrace...)
		meta.PendingToolCalls = append([]timeline.ToolCall(nil), m.Meta.PendingToolCalls...)
		cp.Meta = &meta
	}
	return cp
}

// Awaiting 消息是否处于等待工具确认状态。
// 不变式: ActionRequired 为真时 PendingToolCalls 必须非空。
func (m *Message) Awaiting() bool {
	return m.Meta != nil && m.Meta.ActionRequired && len(m.Meta.PendingToolCalls) > 0
}

// ClearPending 一次性清掉确认三元组 — 绝不单清其一。
func (m *MessageMeta) ClearPending() {
	m.ActionRequired = false
	m.PendingToolCalls = nil
	m.PendingToolsXML = ""
}

// Cursor 输入框光标区间。
type Cursor struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// EditorState 随会话持久化的编辑器瞬态: 刷新后可恢复到编辑中途。
type EditorState struct {
	Draft       string `json:"draft"`
	Cursor      Cursor `json:"cursor"`
	TitleLocked bool   `json:"titleLocked"`
}

// Conversation 一个会话及其全部消息。
type Conversation struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Messages  []Message   `json:"messages"`
	State     EditorState `json:"state"`
}

// NewConversation 创建带欢迎消息的新会话。
func NewConversation(title string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages: []Message{{
			ID:        WelcomeMessageID,
			Role:      RoleAssistant,
			Content:   "Hi! How can I help you today?",
			CreatedAt: now,
		}},
	}
}

// NewMessage 创建消息, id 为随机 uuid。
func NewMessage(role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// FindMessage 按 id 查消息, 返回索引; 不存在返回 -1。
func (c *Conversation) FindMessage(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// DeriveTitle 从首条用户消息派生标题。TitleLocked 时不改。
func (c *Conversation) DeriveTitle() {
	if c.State.TitleLocked {
		return
	}
	for i := range c.Messages {
		if c.Messages[i].Role == RoleUser {
			if t := strings.TrimSpace(c.Messages[i].Content); t != "" {
				c.Title = util.TruncateRunes(t, titleMaxRunes)
			}
			return
		}
	}
}

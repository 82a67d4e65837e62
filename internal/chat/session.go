package chat

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/deepwiki/sentra-console/internal/sentra"
	"github.com/deepwiki/sentra-console/internal/stream"
	"github.com/deepwiki/sentra-console/internal/timeline"
	apperrors "github.com/deepwiki/sentra-console/pkg/errors"
	"github.com/deepwiki/sentra-console/pkg/logger"
)

// CompletionClient 补全端点抽象, 真实实现为 internal/sentra.Client。
type CompletionClient interface {
	Stream(ctx context.Context, req sentra.Request) (io.ReadCloser, error)
	Complete(ctx context.Context, req sentra.Request) ([]byte, error)
}

// Notifier 消息/UI 事件推送出口 (SSE 总线、WS hub)。实现须非阻塞。
type Notifier interface {
	MessageUpdated(convID string, msg Message)
	UIEvent(convID string, raw json.RawMessage)
}

// Options 会话级设置, 启动时加载一次, 不在深层逻辑里临时读取。
type Options struct {
	StreamEnabled bool
	AgentMode     string
}

// Session 一个活跃会话的全部可变状态。
//
// 同一会话同一时刻至多一个在途请求: 新的发送/重试/确认先取消旧的,
// 被取消的读循环在下一个 chunk 边界干净退出, 不再发出任何更新。
type Session struct {
	client  CompletionClient
	persist *Persistence
	files   FileResolver
	notify  Notifier
	opts    Options

	mu             sync.Mutex
	conv           *Conversation
	cancelInflight context.CancelFunc
	inflightGen    uint64
	timelines      map[string][]timeline.Event // 按消息 id 缓存的已构建时间线
}

// NewSession 创建会话。notify 可为 nil (无推送出口)。
func NewSession(client CompletionClient, persist *Persistence, files FileResolver, notify Notifier, opts Options) *Session {
	return &Session{
		client:    client,
		persist:   persist,
		files:     files,
		notify:    notify,
		opts:      opts,
		timelines: map[string][]timeline.Event{},
	}
}

// Open 切换到指定会话。旧会话的在途请求与待写定时器一并作废。
func (s *Session) Open(conv *Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelInflight != nil {
		s.cancelInflight()
		s.cancelInflight = nil
	}
	s.persist.BeginLoad(conv.ID)
	s.conv = conv
	s.timelines = map[string][]timeline.Event{}
	s.persist.FinishLoad()
}

// Conversation 返回当前会话的快照。
func (s *Session) Conversation() *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return nil
	}
	return cloneConversation(s.conv)
}

// UpdateEditorState 更新编辑器瞬态并登记防抖保存。
func (s *Session) UpdateEditorState(state EditorState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return
	}
	s.conv.State = state
	s.persist.Touch(s.conv)
}

// Abort 取消在途请求 (用户点停止)。无在途请求时为空操作。
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelInflight != nil {
		s.cancelInflight()
		s.cancelInflight = nil
	}
}

// ========================================
// 消息变更 (发送 / 编辑重发 / 重试 / 删除)
// ========================================

// Send 追加用户消息与空 assistant 占位, 然后对占位 id 跑请求管线。
// 返回占位消息 id。
func (s *Session) Send(ctx context.Context, text string, refs []string, localFiles []LocalFile) (string, error) {
	const op = "Session.Send"

	s.mu.Lock()
	if s.conv == nil {
		s.mu.Unlock()
		return "", apperrors.Wrap(apperrors.ErrInvalidInput, op, "no active conversation")
	}

	userMsg := NewMessage(RoleUser, text)
	if len(refs) > 0 || len(localFiles) > 0 {
		meta := userMsg.EnsureMeta()
		meta.ProjectRefs = refs
		meta.LocalFiles = localFiles
	}
	s.conv.Messages = append(s.conv.Messages, userMsg)

	placeholder := NewMessage(RoleAssistant, "")
	s.conv.Messages = append(s.conv.Messages, placeholder)

	s.conv.DeriveTitle()
	s.persist.Touch(s.conv)

	req := s.buildRequestLocked(len(s.conv.Messages) - 2)
	s.mu.Unlock()

	s.emitMessage(userMsg)
	s.emitMessage(placeholder)

	return placeholder.ID, s.run(ctx, placeholder.ID, req)
}

// EditResend 原地替换用户消息内容 (保留 id 与附件元数据), 截断其后
// 全部历史, 追加新占位并重发。上行历史以被编辑的消息收尾, 不重复。
func (s *Session) EditResend(ctx context.Context, msgID, newContent string) (string, error) {
	const op = "Session.EditResend"

	s.mu.Lock()
	idx := s.findLocked(msgID)
	if idx < 0 {
		s.mu.Unlock()
		return "", apperrors.Wrap(apperrors.ErrNotFound, op, "message "+msgID)
	}
	if s.conv.Messages[idx].Role != RoleUser {
		s.mu.Unlock()
		return "", apperrors.Wrap(apperrors.ErrInvalidInput, op, "only user messages can be edited")
	}

	s.conv.Messages[idx].Content = newContent
	s.truncateAfterLocked(idx)

	placeholder := NewMessage(RoleAssistant, "")
	s.conv.Messages = append(s.conv.Messages, placeholder)

	s.conv.DeriveTitle()
	s.persist.Touch(s.conv)

	req := s.buildRequestLocked(idx)
	s.mu.Unlock()

	s.emitMessage(placeholder)
	return placeholder.ID, s.run(ctx, placeholder.ID, req)
}

// Retry 清空 assistant 消息的内容与时间线, 截断其后历史,
// 用最近的前置用户消息重跑管线 — 文件载荷经同一解析器重建,
// 保证重试可复现。
func (s *Session) Retry(ctx context.Context, msgID string) error {
	const op = "Session.Retry"

	s.mu.Lock()
	idx := s.findLocked(msgID)
	if idx < 0 {
		s.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrNotFound, op, "message "+msgID)
	}
	msg := &s.conv.Messages[idx]
	if msg.Role != RoleAssistant || msg.ID == WelcomeMessageID {
		s.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "only assistant replies can be retried")
	}

	userIdx := -1
	for i := idx - 1; i >= 0; i-- {
		if s.conv.Messages[i].Role == RoleUser {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		s.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "no preceding user message")
	}

	msg.Content = ""
	if msg.Meta != nil {
		msg.Meta.AgentEvents = nil
		msg.Meta.AgentTrace = nil
		msg.Meta.RawSentraXML = ""
		msg.Meta.ClearPending()
	}
	delete(s.timelines, msgID)
	s.truncateAfterLocked(idx)
	s.persist.Touch(s.conv)

	req := s.buildRequestLocked(userIdx)
	snapshot := *msg
	s.mu.Unlock()

	s.emitMessage(snapshot)
	return s.run(ctx, msgID, req)
}

// Delete 删除消息。用户消息级联删除紧随其后的 assistant 回复
// (欢迎消息除外); 其余消息只删自身。关联时间线缓存一并清除。
func (s *Session) Delete(msgID string) error {
	const op = "Session.Delete"

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findLocked(msgID)
	if idx < 0 {
		return apperrors.Wrap(apperrors.ErrNotFound, op, "message "+msgID)
	}

	end := idx + 1
	if s.conv.Messages[idx].Role == RoleUser && end < len(s.conv.Messages) {
		next := s.conv.Messages[end]
		if next.Role == RoleAssistant && next.ID != WelcomeMessageID {
			delete(s.timelines, next.ID)
			end++
		}
	}
	delete(s.timelines, msgID)

	s.conv.Messages = append(s.conv.Messages[:idx], s.conv.Messages[end:]...)
	s.persist.Touch(s.conv)
	return nil
}

// ========================================
// 工具确认门
// ========================================

// Confirm 确认执行待定工具。针对同一条 assistant 消息重发请求:
// 上行内容复用原始用户轮次 (文件引用重新解析), 附带确认回执与
// 记住的 agent_state_id; 消息内容先清空, 重跑的文本不叠在旧文本上。
// 一次 AwaitingConfirmation 只能确认/取消一次。
func (s *Session) Confirm(ctx context.Context, msgID string) error {
	const op = "Session.Confirm"

	s.mu.Lock()
	idx := s.findLocked(msgID)
	if idx < 0 {
		s.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrNotFound, op, "message "+msgID)
	}
	msg := &s.conv.Messages[idx]
	if !msg.Awaiting() {
		s.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "message is not awaiting confirmation")
	}

	userIdx := -1
	for i := idx - 1; i >= 0; i-- {
		if s.conv.Messages[i].Role == RoleUser {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		s.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "no originating user message")
	}

	confirmation := &sentra.ToolConfirmation{
		Required:  true,
		Confirmed: true,
		ToolCalls: msg.Meta.PendingToolCalls,
		ToolsXML:  msg.Meta.PendingToolsXML,
	}
	stateID := msg.Meta.AgentStateID

	msg.Content = ""
	msg.Meta.ClearPending()
	delete(s.timelines, msgID)
	s.persist.Touch(s.conv)

	req := s.buildRequestLocked(userIdx)
	req.ToolConfirmation = confirmation
	req.AgentStateID = stateID
	snapshot := *msg
	s.mu.Unlock()

	s.emitMessage(snapshot)
	return s.run(ctx, msgID, req)
}

// CancelPending 拒绝执行待定工具: 可见内容追加取消提示,
// 确认三元组整体清空。之后再确认需要 agent 在后续轮次重新提议。
func (s *Session) CancelPending(msgID string) error {
	const op = "Session.CancelPending"

	s.mu.Lock()
	idx := s.findLocked(msgID)
	if idx < 0 {
		s.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrNotFound, op, "message "+msgID)
	}
	msg := &s.conv.Messages[idx]
	if !msg.Awaiting() {
		s.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "message is not awaiting confirmation")
	}

	msg.Content += CancellationNotice
	msg.Meta.ClearPending()
	s.persist.Touch(s.conv)
	snapshot := *msg
	s.mu.Unlock()

	s.emitMessage(snapshot)
	return nil
}

// ========================================
// 时间线
// ========================================

// Timeline 返回消息的规范时间线, 带缓存。缓存随删除/重试/确认失效。
func (s *Session) Timeline(msgID string) []timeline.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.timelines[msgID]; ok {
		return cached
	}
	idx := s.findLocked(msgID)
	if idx < 0 || s.conv.Messages[idx].Meta == nil {
		return nil
	}
	meta := s.conv.Messages[idx].Meta
	events := timeline.Build(meta.AgentEvents, meta.AgentTrace)
	s.timelines[msgID] = events
	return events
}

// ========================================
// 请求管线
// ========================================

// run 对目标消息执行一次补全。流式路径逐帧更新内容,
// 控制字段在流结束时一次性落 meta。
func (s *Session) run(ctx context.Context, targetID string, req sentra.Request) error {
	s.mu.Lock()
	if s.cancelInflight != nil {
		s.cancelInflight()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.inflightGen++
	gen := s.inflightGen
	s.cancelInflight = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		// 期间可能已有更新的在途请求接管了槽位
		if s.inflightGen == gen {
			s.cancelInflight = nil
		}
		s.mu.Unlock()
	}()

	handlers := stream.Handlers{
		OnContent: func(content string) { s.setContent(targetID, content) },
		OnUIEvent: func(raw json.RawMessage) { s.emitUIEvent(raw) },
	}

	var res *stream.Result
	var err error
	if s.opts.StreamEnabled {
		var body io.ReadCloser
		body, err = s.client.Stream(ctx, req)
		if err == nil {
			res, err = stream.NewReader(handlers).Consume(ctx, body)
			body.Close()
		}
	} else {
		var raw []byte
		raw, err = s.client.Complete(ctx, req)
		if err == nil {
			res, err = stream.DecodeBody(raw, handlers)
		}
	}

	if err != nil {
		s.handleRunError(targetID, err)
		return err
	}

	s.applyResult(targetID, res)
	return nil
}

// buildRequestLocked 把 messages[0..upto] 转成上行请求。
// 欢迎消息与 error 角色不上行; 用户消息的文件引用每次重新解析。
func (s *Session) buildRequestLocked(upto int) sentra.Request {
	msgs := make([]sentra.ChatMessage, 0, upto+1)
	for i := 0; i <= upto && i < len(s.conv.Messages); i++ {
		m := s.conv.Messages[i]
		if m.ID == WelcomeMessageID || m.Role == RoleError {
			continue
		}
		content := any(m.Content)
		if m.Role == RoleUser && m.Meta != nil {
			content = resolveRefs(s.files, m.Content, m.Meta.ProjectRefs, m.Meta.LocalFiles)
		}
		msgs = append(msgs, sentra.ChatMessage{Role: m.Role, Content: content})
	}
	return sentra.Request{
		Messages:  msgs,
		AgentMode: s.opts.AgentMode,
	}
}

// applyResult 流结束后的单次 meta 更新 (last-writer-wins 的终值)。
func (s *Session) applyResult(targetID string, res *stream.Result) {
	s.mu.Lock()
	idx := s.findLocked(targetID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	msg := &s.conv.Messages[idx]
	msg.Content = res.Content

	meta := msg.EnsureMeta()
	// events 和 trace 同流并存时保留后到者, 时间线只认一个来源
	switch {
	case res.AgentEvents != nil && res.AgentTrace != nil:
		if res.LastTimelineField == "trace" {
			meta.AgentEvents = nil
			meta.AgentTrace = res.AgentTrace
		} else {
			meta.AgentEvents = res.AgentEvents
			meta.AgentTrace = nil
		}
	case res.AgentEvents != nil:
		meta.AgentEvents = res.AgentEvents
		meta.AgentTrace = nil
	case res.AgentTrace != nil:
		meta.AgentTrace = res.AgentTrace
	}

	if res.Awaiting() {
		meta.ActionRequired = true
		meta.PendingToolCalls = res.PendingToolCalls
		meta.PendingToolsXML = res.PendingToolsXML
		meta.RawSentraXML = res.PendingToolsXML
	} else {
		meta.ClearPending()
	}
	if res.AgentStateID != "" {
		meta.AgentStateID = res.AgentStateID
	}

	delete(s.timelines, targetID)
	s.persist.Touch(s.conv)
	snapshot := *msg
	s.mu.Unlock()

	s.emitMessage(snapshot)
}

// handleRunError 取消不算失败: 只在占位仍为空时放一条安静的提示。
// 传输失败以 error 角色消息带服务端文本落到会话里。
func (s *Session) handleRunError(targetID string, err error) {
	if apperrors.IsCancelled(err) {
		s.mu.Lock()
		idx := s.findLocked(targetID)
		if idx >= 0 && s.conv.Messages[idx].Content == "" {
			s.conv.Messages[idx].Content = "(request cancelled)"
		}
		var snapshot Message
		if idx >= 0 {
			snapshot = s.conv.Messages[idx]
		}
		s.persist.Touch(s.conv)
		s.mu.Unlock()
		if snapshot.ID != "" {
			s.emitMessage(snapshot)
		}
		logger.Info("chat: request cancelled", logger.FieldMessageID, targetID)
		return
	}

	s.mu.Lock()
	errMsg := NewMessage(RoleError, sentra.ErrorText(err))
	s.conv.Messages = append(s.conv.Messages, errMsg)
	s.persist.Touch(s.conv)
	s.mu.Unlock()

	s.emitMessage(errMsg)
	logger.Error("chat: request failed",
		logger.FieldMessageID, targetID,
		logger.FieldError, err)
}

func (s *Session) setContent(targetID, content string) {
	s.mu.Lock()
	idx := s.findLocked(targetID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.conv.Messages[idx].Content = content
	snapshot := s.conv.Messages[idx]
	s.mu.Unlock()

	s.emitMessage(snapshot)
}

// truncateAfterLocked 丢弃 idx 之后的全部消息并清除其时间线缓存。
func (s *Session) truncateAfterLocked(idx int) {
	for i := idx + 1; i < len(s.conv.Messages); i++ {
		delete(s.timelines, s.conv.Messages[i].ID)
	}
	s.conv.Messages = s.conv.Messages[:idx+1]
}

func (s *Session) findLocked(msgID string) int {
	if s.conv == nil {
		return -1
	}
	return s.conv.FindMessage(msgID)
}

func (s *Session) emitMessage(msg Message) {
	if s.notify == nil {
		return
	}
	s.mu.Lock()
	convID := ""
	if s.conv != nil {
		convID = s.conv.ID
	}
	s.mu.Unlock()
	s.notify.MessageUpdated(convID, msg)
}

func (s *Session) emitUIEvent(raw json.RawMessage) {
	if s.notify == nil {
		return
	}
	s.mu.Lock()
	convID := ""
	if s.conv != nil {
		convID = s.conv.ID
	}
	s.mu.Unlock()
	s.notify.UIEvent(convID, raw)
}

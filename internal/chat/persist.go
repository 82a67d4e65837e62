package chat

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/deepwiki/sentra-console/pkg/logger"
)

// Phase 持久化控制器的生命周期状态。
// Loading 期间抑制一切写回, 防止"加载后立刻把刚加载的内容当新编辑回存"。
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseReady
)

// Persistence 防抖写回控制器。每个会话同一时刻至多一个待触发定时器,
// 切换会话时旧定时器作废 (代际计数, 不靠时序)。
type Persistence struct {
	store Store

	mu        sync.Mutex
	phase     Phase
	convID    string
	gen       uint64 // 每次 BeginLoad 递增, 旧代的延迟写成为空操作
	debounced func(f func())

	saveTimeout time.Duration
}

// NewPersistence 创建控制器。wait 为防抖窗口。
func NewPersistence(store Store, wait time.Duration) *Persistence {
	return &Persistence{
		store:       store,
		phase:       PhaseReady,
		debounced:   debounce.New(wait),
		saveTimeout: 10 * time.Second,
	}
}

// Phase 返回当前状态。
func (p *Persistence) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// BeginLoad 进入加载态并作废上一个会话遗留的待写定时器。
func (p *Persistence) BeginLoad(convID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = PhaseLoading
	p.convID = convID
	p.gen++
}

// FinishLoad 加载完成, 恢复写回。
func (p *Persistence) FinishLoad() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = PhaseReady
}

// Touch 登记一次编辑。快照在登记时刻拍下 (深拷贝消息切片),
// 防抖窗口内的连续编辑互相合并, 只有最后一次的快照落盘。
// Loading 期间的 Touch 直接丢弃。
func (p *Persistence) Touch(conv *Conversation) {
	p.mu.Lock()
	if p.phase == PhaseLoading {
		p.mu.Unlock()
		return
	}
	snapshot := cloneConversation(conv)
	gen := p.gen
	p.mu.Unlock()

	p.debounced(func() {
		p.mu.Lock()
		stale := gen != p.gen
		p.mu.Unlock()
		if stale {
			return
		}
		p.write(snapshot)
	})
}

// SaveNow 立即落盘, 绕过防抖 (切走会话 / 进程退出前使用)。
func (p *Persistence) SaveNow(conv *Conversation) {
	p.write(cloneConversation(conv))
}

// write 持久化失败只记日志, 绝不阻塞会话 —
// 下一次编辑触发的防抖周期天然就是重试。
func (p *Persistence) write(conv *Conversation) {
	ctx, cancel := context.WithTimeout(context.Background(), p.saveTimeout)
	defer cancel()

	patch := Patch{
		Title:    &conv.Title,
		Messages: conv.Messages,
		State:    &conv.State,
	}
	if err := p.store.Update(ctx, conv.ID, patch); err != nil {
		logger.Warn("persistence: save failed",
			logger.FieldConversationID, conv.ID,
			logger.FieldError, err)
	}
}

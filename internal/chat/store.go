package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/deepwiki/sentra-console/pkg/errors"
)

// Summary 会话列表项, 不含消息体。
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Patch 部分更新字段, nil 表示该字段不动。
type Patch struct {
	Title    *string
	Messages []Message
	State    *EditorState
}

// Store 会话存储。pgx 实现在 internal/store, 内存实现见 MemoryStore。
type Store interface {
	List(ctx context.Context, keyword string) ([]Summary, error)
	Create(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
	Update(ctx context.Context, id string, patch Patch) error
	Delete(ctx context.Context, id string) error
}

// ========================================
// 内存实现 (测试与无 DB 运行模式)
// ========================================

// MemoryStore Store 的进程内实现。并发安全。
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: map[string]*Conversation{}}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) List(_ context.Context, keyword string) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.convs))
	for _, c := range s.convs {
		if keyword != "" && !containsFold(c.Title, keyword) {
			continue
		}
		out = append(out, Summary{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneConversation(conv)
	s.convs[conv.ID] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "MemoryStore.Get", "conversation "+id)
	}
	return cloneConversation(c), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return apperrors.Wrap(apperrors.ErrNotFound, "MemoryStore.Update", "conversation "+id)
	}
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.Messages != nil {
		msgs := make([]Message, len(patch.Messages))
		for i := range patch.Messages {
			msgs[i] = patch.Messages[i].Clone()
		}
		c.Messages = msgs
	}
	if patch.State != nil {
		c.State = *patch.State
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return apperrors.Wrap(apperrors.ErrNotFound, "MemoryStore.Delete", "conversation "+id)
	}
	delete(s.convs, id)
	return nil
}

// cloneConversation 深拷贝会话。浅拷贝消息切片会让快照与原件
// 共享 *MessageMeta, 防抖写回 goroutine 序列化快照时就会和
// 会话变更 (ClearPending / applyResult) 产生数据竞争。
func cloneConversation(c *Conversation) *Conversation {
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	for i := range c.Messages {
		cp.Messages[i] = c.Messages[i].Clone()
	}
	return &cp
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

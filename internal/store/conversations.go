package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepwiki/sentra-console/internal/chat"
	apperrors "github.com/deepwiki/sentra-console/pkg/errors"
)

// listLimit 会话列表单页上限。
const listLimit = 200

// ConversationStore 会话持久化。消息列表与编辑器状态存 JSONB,
// 列表查询只取摘要列。
type ConversationStore struct{ BaseStore }

// NewConversationStore 创建。
func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{NewBaseStore(pool)}
}

var _ chat.Store = (*ConversationStore)(nil)

type summaryRow struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// List 按更新时间倒序返回会话摘要, keyword 对标题做 LIKE 过滤。
func (s *ConversationStore) List(ctx context.Context, keyword string) ([]chat.Summary, error) {
	qb := NewQueryBuilder().KeywordLike(keyword, "title")
	sql, params := qb.Build(
		"SELECT id, title, created_at, updated_at FROM conversations",
		"updated_at DESC", listLimit)

	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, apperrors.Wrap(err, "ConversationStore.List", "query conversations")
	}
	defer rows.Close()

	items, err := collectRows[summaryRow](rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "ConversationStore.List", "scan conversations")
	}

	out := make([]chat.Summary, 0, len(items))
	for _, r := range items {
		out = append(out, chat.Summary{ID: r.ID, Title: r.Title, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt})
	}
	return out, nil
}

// Create 插入新会话。
func (s *ConversationStore) Create(ctx context.Context, conv *chat.Conversation) error {
	const op = "ConversationStore.Create"

	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return apperrors.Wrap(err, op, "marshal messages")
	}
	state, err := json.Marshal(conv.State)
	if err != nil {
		return apperrors.Wrap(err, op, "marshal state")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at, messages, state)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt, messages, state)
	if err != nil {
		return apperrors.Wrap(err, op, "insert conversation")
	}
	return nil
}

// Get 返回完整会话 (含消息体)。
func (s *ConversationStore) Get(ctx context.Context, id string) (*chat.Conversation, error) {
	const op = "ConversationStore.Get"

	var conv chat.Conversation
	var messages, state json.RawMessage
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, created_at, updated_at, messages, state
		FROM conversations WHERE id = $1
	`, id).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt, &messages, &state)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Wrap(apperrors.ErrNotFound, op, "conversation "+id)
		}
		return nil, apperrors.Wrap(err, op, "query conversation")
	}

	if err := json.Unmarshal(messages, &conv.Messages); err != nil {
		return nil, apperrors.Wrap(err, op, "unmarshal messages")
	}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &conv.State); err != nil {
			return nil, apperrors.Wrap(err, op, "unmarshal state")
		}
	}
	return &conv, nil
}

// Update 部分更新: 只写 patch 里非 nil 的字段, updated_at 总是刷新。
func (s *ConversationStore) Update(ctx context.Context, id string, patch chat.Patch) error {
	const op = "ConversationStore.Update"

	set := []string{"updated_at = NOW()"}
	var params []any
	n := 0

	if patch.Title != nil {
		n++
		set = append(set, fmt.Sprintf("title = $%d", n))
		params = append(params, *patch.Title)
	}
	if patch.Messages != nil {
		data, err := json.Marshal(patch.Messages)
		if err != nil {
			return apperrors.Wrap(err, op, "marshal messages")
		}
		n++
		set = append(set, fmt.Sprintf("messages = $%d", n))
		params = append(params, data)
	}
	if patch.State != nil {
		data, err := json.Marshal(patch.State)
		if err != nil {
			return apperrors.Wrap(err, op, "marshal state")
		}
		n++
		set = append(set, fmt.Sprintf("state = $%d", n))
		params = append(params, data)
	}

	n++
	sql := fmt.Sprintf("UPDATE conversations SET %s WHERE id = $%d", strings.Join(set, ", "), n)
	params = append(params, id)

	tag, err := s.pool.Exec(ctx, sql, params...)
	if err != nil {
		return apperrors.Wrap(err, op, "update conversation")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Wrap(apperrors.ErrNotFound, op, "conversation "+id)
	}
	return nil
}

// Delete 删除会话。
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	const op = "ConversationStore.Delete"

	tag, err := s.pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return apperrors.Wrap(err, op, "delete conversation")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Wrap(apperrors.ErrNotFound, op, "conversation "+id)
	}
	return nil
}

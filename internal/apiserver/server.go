// Package apiserver 提供会话控制台的 HTTP API:
// 会话 CRUD、消息操作 (发送/编辑重发/重试/删除)、工具确认,
// 以及 SSE 与 WebSocket 两条推送通道。
package apiserver

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deepwiki/sentra-console/internal/chat"
)

// Server 会话 API 服务。
type Server struct {
	router *gin.Engine
	bus    *EventBus
	hub    *Hub

	store  chat.Store
	client chat.CompletionClient
	files  chat.FileResolver
	opts   chat.Options

	saveDebounce time.Duration

	mu       sync.Mutex
	sessions map[string]*chat.Session // conversation id → session
}

// Deps 服务依赖, 一次注入。
type Deps struct {
	Store        chat.Store
	Client       chat.CompletionClient
	Files        chat.FileResolver
	Opts         chat.Options
	SaveDebounce time.Duration
}

// NewServer 创建服务并注册路由。
func NewServer(deps Deps) *Server {
	r := gin.Default()
	s := &Server{
		router:       r,
		bus:          NewEventBus(),
		hub:          NewHub(),
		store:        deps.Store,
		client:       deps.Client,
		files:        deps.Files,
		opts:         deps.Opts,
		saveDebounce: deps.SaveDebounce,
		sessions:     map[string]*chat.Session{},
	}
	go s.hub.Run()
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// session 返回会话对应的 Session, 不存在时从存储加载并建立。
func (s *Server) session(ctx context.Context, convID string) (*chat.Session, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[convID]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	conv, err := s.store.Get(ctx, convID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 加载期间可能有并发请求已建好
	if sess, ok := s.sessions[convID]; ok {
		return sess, nil
	}
	persist := chat.NewPersistence(s.store, s.saveDebounce)
	sess := chat.NewSession(s.client, persist, s.files, s.notifier(), s.opts)
	sess.Open(conv)
	s.sessions[convID] = sess
	return sess, nil
}

// dropSession 会话被删除后移除其 Session。
func (s *Server) dropSession(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[convID]; ok {
		sess.Abort()
		delete(s.sessions, convID)
	}
}

func (s *Server) notifier() chat.Notifier {
	return &pushNotifier{bus: s.bus, hub: s.hub}
}

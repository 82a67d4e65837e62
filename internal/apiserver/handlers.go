// handlers.go — 会话与消息 REST handlers。
package apiserver

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/deepwiki/sentra-console/internal/chat"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/conversations", s.listConversations)
	api.POST("/conversations", s.createConversation)
	api.GET("/conversations/:id", s.getConversation)
	api.DELETE("/conversations/:id", s.deleteConversation)
	api.PUT("/conversations/:id/state", s.updateEditorState)
	api.POST("/conversations/:id/abort", s.abortInflight)

	api.POST("/conversations/:id/messages", s.sendMessage)
	api.PUT("/conversations/:id/messages/:mid", s.editResendMessage)
	api.POST("/conversations/:id/messages/:mid/retry", s.retryMessage)
	api.DELETE("/conversations/:id/messages/:mid", s.deleteMessage)
	api.GET("/conversations/:id/messages/:mid/timeline", s.getTimeline)
	api.POST("/conversations/:id/messages/:mid/confirm", s.confirmTools)
	api.POST("/conversations/:id/messages/:mid/cancel", s.cancelTools)

	api.GET("/events", s.sseHandler)
	api.GET("/ws", s.wsHandler)
}

// ========================================
// 会话
// ========================================

func (s *Server) listConversations(c *gin.Context) {
	items, err := s.store.List(c.Request.Context(), c.Query("keyword"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, items)
}

func (s *Server) createConversation(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		badRequest(c, "bad_json", err.Error())
		return
	}
	if req.Title == "" {
		req.Title = "New Chat"
	}

	conv := chat.NewConversation(req.Title)
	if err := s.store.Create(c.Request.Context(), conv); err != nil {
		fail(c, err)
		return
	}
	created(c, conv)
}

func (s *Server) getConversation(c *gin.Context) {
	sess, err := s.session(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, sess.Conversation())
}

func (s *Server) deleteConversation(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	s.dropSession(id)
	success(c, gin.H{"deleted": id})
}

func (s *Server) updateEditorState(c *gin.Context) {
	var state chat.EditorState
	if err := c.ShouldBindJSON(&state); err != nil {
		badRequest(c, "bad_json", err.Error())
		return
	}
	sess, err := s.session(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	sess.UpdateEditorState(state)
	success(c, state)
}

func (s *Server) abortInflight(c *gin.Context) {
	sess, err := s.session(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	sess.Abort()
	success(c, gin.H{"aborted": true})
}

// ========================================
// 消息
// ========================================

func (s *Server) sendMessage(c *gin.Context) {
	var req struct {
		Content    string           `json:"content" binding:"required"`
		Refs       []string         `json:"refs"`
		LocalFiles []chat.LocalFile `json:"localFiles"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "bad_json", err.Error())
		return
	}
	sess, err := s.session(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	// 流式期间客户端断开不终止管线, 由显式 abort 接口负责取消
	msgID, err := sess.Send(context.WithoutCancel(c.Request.Context()), req.Content, req.Refs, req.LocalFiles)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"messageId": msgID, "conversation": sess.Conversation()})
}

func (s *Server) editResendMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "bad_json", err.Error())
		return
	}
	sess, err := s.session(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	msgID, err := sess.EditResend(context.WithoutCancel(c.Request.Context()), c.Param("mid"), req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"messageId": msgID, "conversation": sess.Conversation()})
}

func (s *Server) retryMessage(c *gin.Context) {
	sess, err := s.session(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := sess.Retry(context.WithoutCancel(c.Request.Context()), c.Param("mid")); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"conversation": sess.Conversation()})
}

func (s *Server) deleteMessage(c *gin.Context) {
	sess, err := s.session(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := sess.Delete(c.Param("mid")); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"conversation": sess.Conversation()})
}

func (s *Server) getTimeline(c *gin.Context) {
	sess, err := s.session(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, sess.Timeline(c.Param("mid")))
}

// ========================================
// 工具确认门
// ========================================

func (s *Server) confirmTools(c *gin.Context) {
	sess, err := s.session(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := sess.Confirm(context.WithoutCancel(c.Request.Context()), c.Param("mid")); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"conversation": sess.Conversation()})
}

func (s *Server) cancelTools(c *gin.Context) {
	sess, err := s.session(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := sess.CancelPending(c.Param("mid")); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"conversation": sess.Conversation()})
}

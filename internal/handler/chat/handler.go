package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/parley/backend/internal/handler/httperr"
	"github.com/zhouzirui/parley/backend/internal/middleware"
	chatService "github.com/zhouzirui/parley/backend/internal/service/chat"
	"github.com/zhouzirui/parley/backend/pkg/utils"
)

// Handler 会话与历史记录的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages", h.handleHistory)
	r.Get("/sessions", h.handleListSessions)
	r.Delete("/sessions", h.handleDeleteSession)
}

// handleHistory 按时间顺序返回会话消息
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("id")
	}

	history, err := h.chatSvc.History(r.Context(), sessionID, middleware.UserID(r.Context()))
	if err != nil {
		httperr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, history)
}

// handleListSessions 列出当前用户的会话，最新的在前
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatSvc.Sessions(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		httperr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

// handleDeleteSession 删除会话及其全部消息
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := h.chatSvc.DeleteSession(r.Context(), r.URL.Query().Get("id"), middleware.UserID(r.Context()))
	if err != nil {
		httperr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/parley/backend/internal/handler/httperr"
	"github.com/zhouzirui/parley/backend/internal/middleware"
	"github.com/zhouzirui/parley/backend/internal/model/chat"
	"github.com/zhouzirui/parley/backend/internal/service/ai"
	chatService "github.com/zhouzirui/parley/backend/internal/service/chat"
	"github.com/zhouzirui/parley/backend/pkg/utils"
)

const (
	maxRequestBytes    = 4 << 20
	PersistenceWarning = "X-Persistence-Warning"
	uiStreamHeader     = "X-Vercel-AI-UI-Message-Stream"
)

// SelectionSource yields the model selection for a user's next turn.
type SelectionSource interface {
	Selection(ctx context.Context, userID string) (ai.Selection, error)
}

// Handler serves chat turns over SSE and WebSocket.
type Handler struct {
	orch     *chatService.Orchestrator
	settings SelectionSource
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// New creates a stream handler. origins gates WebSocket handshakes the same
// way CORS gates fetches.
func New(orch *chatService.Orchestrator, settings SelectionSource, log logrus.FieldLogger, origins []string) *Handler {
	return &Handler{
		orch:     orch,
		settings: settings,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.OriginAllowed(origins, origin)
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes registers the turn endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/ws", h.handleWebSocket)
}

// turnRequest is the body of a turn submission. The session id may come from
// the query string or either body field.
type turnRequest struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"sessionId"`
	Messages  []chat.IncomingMessage `json:"messages"`
}

func (req turnRequest) session(fallback string) string {
	for _, id := range []string{fallback, req.ID, req.SessionID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

// prepare builds the orchestrator request for userID and opens the turn.
func (h *Handler) prepare(ctx context.Context, userID, sessionID string, messages []chat.IncomingMessage) (*chatService.Turn, error) {
	sel, err := h.settings.Selection(ctx, userID)
	if err != nil {
		// The resolver falls back to the default provider.
		h.log.WithError(err).WithField("user_id", userID).Warn("[stream] settings unavailable, using default model")
	}

	return h.orch.Prepare(ctx, chatService.TurnRequest{
		SessionID: sessionID,
		Owner:     userID,
		Messages:  messages,
		Selection: sel,
	})
}

// handleChat 处理一次对话轮次，以 UI message stream 格式通过 SSE 返回
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var req turnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		httperr.Write(w, fmt.Errorf("%w: %v", chatService.ErrInvalidHistory, err))
		return
	}

	sessionID := req.session(r.URL.Query().Get("id"))
	turn, err := h.prepare(ctx, userID, sessionID, req.Messages)
	if err != nil {
		httperr.Write(w, err)
		return
	}

	if warnings := turn.Warnings(); len(warnings) > 0 {
		w.Header().Set(PersistenceWarning, strings.Join(warnings, ","))
	}
	utils.SetupSSEHeaders(w)
	w.Header().Set(uiStreamHeader, "v1")
	w.WriteHeader(http.StatusOK)

	send := func(ev Event) error {
		return utils.SendSSEChunk(w, flusher, ev)
	}
	if err := relay(ctx, turn, send); err != nil {
		if ctx.Err() != nil {
			return
		}
		if turn.State() != chatService.StateFailed {
			h.log.WithError(err).WithField("session_id", sessionID).Warn("[stream] client write failed")
			return
		}
	}
	if err := utils.SendSSEDone(w, flusher); err != nil {
		h.log.WithError(err).WithField("session_id", sessionID).Debug("[stream] done marker not delivered")
	}
}

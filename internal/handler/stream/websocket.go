package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/parley/backend/internal/handler/httperr"
	"github.com/zhouzirui/parley/backend/internal/middleware"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsWriteWait    = 10 * time.Second
)

// wsFrame is a client frame. Type is "turn" (the default) or "cancel".
type wsFrame struct {
	Type string `json:"type"`
	turnRequest
}

// wsConn serialises writes; gorilla connections allow one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(ev)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleWebSocket 处理 WebSocket 对话连接，每个入站帧是一次轮次，
// 连接关闭即取消正在进行的生成
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	defaultSession := r.URL.Query().Get("id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("[websocket] upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws := &wsConn{conn: conn}
	conn.SetReadLimit(maxRequestBytes)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go h.pingLoop(ctx, ws)

	// current is the running turn's cancel func; nil while idle. The reader
	// claims it before queueing, so at most one turn is ever pending.
	var (
		mu      sync.Mutex
		current context.CancelFunc
	)
	release := func() {
		mu.Lock()
		current = nil
		mu.Unlock()
	}
	turns := make(chan wsTurn, 1)

	go func() {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.WithError(err).Info("[websocket] read error")
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(wsPongWait))

			var frame wsFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				_ = ws.send(Event{Type: EventError, ErrorText: "invalid frame", Code: httperr.CodeBadRequest})
				continue
			}

			mu.Lock()
			if frame.Type == "cancel" {
				if current != nil {
					current()
				}
				mu.Unlock()
				continue
			}
			if current != nil {
				mu.Unlock()
				_ = ws.send(Event{Type: EventError, ErrorText: "a turn is already in progress", Code: httperr.CodeBadRequest})
				continue
			}
			turnCtx, stop := context.WithCancel(ctx)
			current = stop
			mu.Unlock()

			turns <- wsTurn{ctx: turnCtx, stop: stop, req: frame.turnRequest}
		}
	}()

	h.log.WithField("user_id", userID).Debug("[websocket] connected")
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-turns:
			last := h.runWebSocketTurn(t.ctx, ws, userID, t.req.session(defaultSession), t.req)
			t.stop()
			release()
			if ctx.Err() == nil {
				_ = ws.send(last)
			}
		}
	}
}

type wsTurn struct {
	ctx  context.Context
	stop context.CancelFunc
	req  turnRequest
}

// runWebSocketTurn streams one turn and returns the frame that ends it. The
// caller sends that frame once the connection is free for the next turn.
func (h *Handler) runWebSocketTurn(ctx context.Context, ws *wsConn, userID, sessionID string, req turnRequest) Event {
	turn, err := h.prepare(ctx, userID, sessionID, req.Messages)
	if err != nil {
		if ctx.Err() != nil {
			return Event{Type: EventError, ErrorText: "turn cancelled", Code: CodeCancelled}
		}
		_, code := httperr.Classify(err)
		return Event{Type: EventError, ErrorText: httperr.Message(err), Code: code}
	}

	if err := relay(ctx, turn, ws.send); err != nil && ctx.Err() != nil {
		return Event{Type: EventError, MessageID: turn.MessageID(), ErrorText: "turn cancelled", Code: CodeCancelled}
	}
	return Event{Type: EventDone, MessageID: turn.MessageID()}
}

func (h *Handler) pingLoop(ctx context.Context, ws *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				return
			}
		}
	}
}

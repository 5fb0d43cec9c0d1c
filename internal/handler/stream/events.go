package stream

import (
	"context"
	"errors"

	chatService "github.com/zhouzirui/parley/backend/internal/service/chat"
)

// UI message stream part types.
const (
	EventStart     = "start"
	EventTextStart = "text-start"
	EventTextDelta = "text-delta"
	EventTextEnd   = "text-end"
	EventFinish    = "finish"
	EventError     = "error"
	EventDone      = "done"
)

// CodeCancelled marks the error frame a WebSocket client receives after its
// turn was cancelled.
const CodeCancelled = "cancelled"

// Event is one part of the UI message stream. SSE and WebSocket clients
// receive the same JSON.
type Event struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId,omitempty"`
	ID        string `json:"id,omitempty"`
	Delta     string `json:"delta,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
	Code      string `json:"code,omitempty"`
}

type sink func(Event) error

// relay runs a prepared turn and frames its output for the client. A
// cancelled turn sends nothing further; a failed one ends with an error part.
func relay(ctx context.Context, turn *chatService.Turn, send sink) error {
	textID := turn.MessageID() + "-text"

	if err := send(Event{Type: EventStart, MessageID: turn.MessageID()}); err != nil {
		turn.Close()
		return err
	}
	if err := send(Event{Type: EventTextStart, ID: textID}); err != nil {
		turn.Close()
		return err
	}

	_, err := turn.Run(ctx, func(delta string) error {
		return send(Event{Type: EventTextDelta, ID: textID, Delta: delta})
	})
	if err != nil {
		if ctx.Err() == nil && turn.State() == chatService.StateFailed {
			_ = send(Event{Type: EventError, ErrorText: clientMessage(err)})
		}
		return err
	}

	if err := send(Event{Type: EventTextEnd, ID: textID}); err != nil {
		return err
	}
	return send(Event{Type: EventFinish})
}

func clientMessage(err error) string {
	if errors.Is(err, chatService.ErrGeneration) {
		return "The model stopped responding. Please try again."
	}
	return "Generation failed."
}

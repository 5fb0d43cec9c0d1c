// Package chat implements the conversation core: streaming turns and the
// retrieval, listing and deletion of stored sessions.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/parley/backend/internal/model/chat"
	"github.com/zhouzirui/parley/backend/internal/repository"
)

var (
	ErrMissingSession = errors.New("missing session id")
	ErrInvalidHistory = errors.New("invalid message history")
	ErrUnauthorized   = errors.New("no authenticated user")
	ErrForbidden      = errors.New("session belongs to another user")
	ErrSessionUnknown = errors.New("session not found")
)

// Store is the persistence the chat core needs.
type Store interface {
	GetSession(ctx context.Context, id string) (*chat.Session, error)
	UpsertSession(ctx context.Context, id, owner, title string) error
	AppendMessage(ctx context.Context, msg *chat.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
	CountMessages(ctx context.Context, sessionID string) (int64, error)
	ListSessions(ctx context.Context, owner string) ([]chat.Session, error)
	DeleteSession(ctx context.Context, id, owner string) error
}

// Service serves stored conversations back to their owners.
type Service struct {
	store Store
	log   logrus.FieldLogger
}

// NewService wires the retrieval service to a store.
func NewService(store Store, log logrus.FieldLogger) *Service {
	return &Service{store: store, log: log}
}

// History returns the session's messages in conversation order. A session
// with no messages yet, or one never registered, yields an empty slice.
func (s *Service) History(ctx context.Context, sessionID, owner string) ([]chat.HistoryMessage, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	if owner == "" {
		return nil, ErrUnauthorized
	}

	session, err := s.store.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	case session.UserID != "" && session.UserID != owner:
		return nil, ErrForbidden
	}

	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	out := make([]chat.HistoryMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, msg.ToHistory())
	}
	return out, nil
}

// Sessions lists the owner's sessions, most recent first.
func (s *Service) Sessions(ctx context.Context, owner string) ([]chat.Session, error) {
	if owner == "" {
		return nil, ErrUnauthorized
	}
	sessions, err := s.store.ListSessions(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	return sessions, nil
}

// DeleteSession removes a session and its messages. Sessions the owner does
// not hold are reported as ErrSessionUnknown.
func (s *Service) DeleteSession(ctx context.Context, sessionID, owner string) error {
	if sessionID == "" {
		return ErrMissingSession
	}
	if owner == "" {
		return ErrUnauthorized
	}

	err := s.store.DeleteSession(ctx, sessionID, owner)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return ErrSessionUnknown
	}
	if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Error("[chat] delete session failed")
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

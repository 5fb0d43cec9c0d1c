package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zhouzirui/parley/backend/internal/model/chat"
)

// GetSession returns ErrSessionNotFound for unknown ids.
func (s *Store) GetSession(ctx context.Context, id string) (*chat.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	session := toSession(row)
	return &session, nil
}

// UpsertSession registers a session. Repeating the call is idempotent. A blank
// title leaves the stored title untouched, and the owner of an existing
// session never changes.
func (s *Store) UpsertSession(ctx context.Context, id, owner, title string) error {
	if id == "" {
		return fmt.Errorf("upsert session: empty id")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := sessionRow{ID: id, UserID: owner, Title: title, CreatedAt: s.now()}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}

		var existing sessionRow
		if err := tx.Where("id = ?", id).Take(&existing).Error; err != nil {
			return err
		}
		if owner != "" && existing.UserID != owner {
			return ErrOwnerMismatch
		}
		if title == "" || title == existing.Title {
			return nil
		}
		return tx.Model(&sessionRow{}).Where("id = ?", id).Update("title", title).Error
	})
}

// AppendMessage inserts a message. ID and CreatedAt are assigned when empty.
func (s *Store) AppendMessage(ctx context.Context, msg *chat.Message) error {
	if msg.SessionID == "" {
		return fmt.Errorf("append message: empty session id")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	parts := msg.Parts
	if parts == nil {
		parts = chat.Parts{}
	}
	content, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("encode message parts: %w", err)
	}

	row := messageRow{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Role:      string(msg.Role),
		Content:   datatypes.JSON(content),
		CreatedAt: msg.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListMessages returns a session's messages oldest first; insertion order
// breaks timestamp ties.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	messages := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := toMessage(row)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// CountMessages returns how many messages a session holds.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&messageRow{}).Where("session_id = ?", sessionID).Count(&n).Error
	return n, err
}

// ListSessions returns the owner's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, owner string) ([]chat.Session, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", owner).
		Order("created_at DESC").Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	sessions := make([]chat.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, toSession(row))
	}
	return sessions, nil
}

// DeleteSession removes the owner's session and every message in it, messages
// first. A session that is missing or owned by someone else yields
// ErrSessionNotFound and nothing is deleted.
func (s *Store) DeleteSession(ctx context.Context, id, owner string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		err := tx.Where("id = ? AND user_id = ?", id, owner).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		if err := tx.Where("session_id = ?", id).Delete(&messageRow{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Where("id = ? AND user_id = ?", id, owner).Delete(&sessionRow{}).Error; err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

func toSession(row sessionRow) chat.Session {
	return chat.Session{
		ID:        row.ID,
		UserID:    row.UserID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
	}
}

func toMessage(row messageRow) (chat.Message, error) {
	var parts chat.Parts
	if len(row.Content) > 0 {
		if err := json.Unmarshal(row.Content, &parts); err != nil {
			return chat.Message{}, fmt.Errorf("decode message %s parts: %w", row.ID, err)
		}
	}
	return chat.Message{
		ID:        row.ID,
		SessionID: row.SessionID,
		Role:      chat.Role(row.Role),
		Parts:     parts,
		CreatedAt: row.CreatedAt,
	}, nil
}

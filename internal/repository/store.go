// Package repository is the persistence gateway for sessions, messages and
// user settings.
package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrOwnerMismatch   = errors.New("session belongs to another user")
)

type sessionRow struct {
	ID        string    `gorm:"column:id;primaryKey;size:191"`
	UserID    string    `gorm:"column:user_id;size:191;not null;index:idx_sessions_user_created,priority:1"`
	Title     string    `gorm:"column:title;type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_sessions_user_created,priority:2"`
}

func (sessionRow) TableName() string { return "chat_sessions" }

// messageRow has no foreign key on session_id: an append must succeed even
// when the session upsert before it failed.
type messageRow struct {
	Seq       uint64         `gorm:"column:seq;primaryKey;autoIncrement"`
	ID        string         `gorm:"column:id;size:191;not null;uniqueIndex"`
	SessionID string         `gorm:"column:session_id;size:191;not null;index:idx_messages_session_created,priority:1"`
	Role      string         `gorm:"column:role;size:16;not null"`
	Content   datatypes.JSON `gorm:"column:content;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;index:idx_messages_session_created,priority:2"`
}

func (messageRow) TableName() string { return "chat_messages" }

type settingsRow struct {
	UserID           string    `gorm:"column:user_id;primaryKey;size:191"`
	SelectedProvider string    `gorm:"column:selected_provider;size:64"`
	SelectedModel    string    `gorm:"column:selected_model;size:191"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (settingsRow) TableName() string { return "user_settings" }

type credentialRow struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:191"`
	Provider  string    `gorm:"column:provider;primaryKey;size:64"`
	Secret    string    `gorm:"column:secret;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (credentialRow) TableName() string { return "user_credentials" }

// Store implements the gateway on top of gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the configured database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if driver != "postgres" {
		// For in-memory SQLite, multiple connections create separate databases.
		if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
			sqlDB.SetMaxOpenConns(1)
			sqlDB.SetMaxIdleConns(1)
		}
		if err := db.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	if err := db.AutoMigrate(&sessionRow{}, &messageRow{}, &settingsRow{}, &credentialRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/assistant/internal/models"
)

var ErrNotFound = errors.New("not found")

// Storage is the system of record for sessions and messages.
type Storage interface {
	SessionStorage
	MessageStorage
	Close() error
}

type SessionStorage interface {
	// ListSessions returns the sessions of one user, newest activity first.
	ListSessions(ctx context.Context, q SessionQuery) ([]*models.Session, error)
	UpsertSessions(ctx context.Context, sessions []*models.Session) error
	// UpdateSessionStatus returns ErrNotFound when no session matches.
	UpdateSessionStatus(ctx context.Context, u StatusUpdate) (*models.Session, error)
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
}

type MessageStorage interface {
	// ListMessages returns messages newest first.
	ListMessages(ctx context.Context, q MessageQuery) ([]*models.Message, error)
	UpsertMessages(ctx context.Context, messages []*models.Message) error
	DeleteMessages(ctx context.Context, sessionID string) (int64, error)
}

type SessionQuery struct {
	UserID string
	Status models.SessionStatus // empty matches any status
}

type MessageQuery struct {
	SessionID string
	Status    models.MessageStatus // empty matches any status
	BeforeID  string               // only ids lexicographically below this one
	Limit     int                  // <= 0 means no limit
}

type StatusUpdate struct {
	SessionID string
	Status    models.SessionStatus
	Metadata  models.Metadata // nil keeps the stored metadata
	UpdatedAt time.Time
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Path     string
}

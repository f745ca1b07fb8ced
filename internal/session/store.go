package session

import (
	"context"
	"errors"
	"time"
)

// ErrMissingID is returned when a session without an ID is persisted.
var ErrMissingID = errors.New("session: missing session_id")

// Session is the persisted form of one browser session.
// Values holds the auth markers and flash messages; nothing else.
type Session struct {
	SessionID string            `json:"session_id"`
	Values    map[string]string `json:"values"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Store defines how sessions are stored and retrieved.
// Get returns (nil, nil) for unknown or expired sessions.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Update(ctx context.Context, s Session) error
	Delete(ctx context.Context, sessionID string) error
}

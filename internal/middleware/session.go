package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/offsoc/copr/internal/logger"
	"github.com/offsoc/copr/internal/session"
)

const sessionContextKey = "session"

// Sessions loads the browser session before handlers run and persists it
// when handlers call Save.
type Sessions struct {
	Store  session.Store
	Cookie session.CookieOptions
	TTL    time.Duration
	now    func() time.Time
}

func NewSessions(store session.Store, cookie session.CookieOptions, ttl time.Duration) *Sessions {
	return &Sessions{Store: store, Cookie: cookie, TTL: ttl, now: time.Now}
}

// Load attaches the request's *session.Values to the gin context. Unknown,
// expired or unreadable sessions start empty.
func (s *Sessions) Load() gin.HandlerFunc {
	return func(c *gin.Context) {
		values := session.NewValues()

		cookie, err := c.Request.Cookie(s.Cookie.CookieName())
		if err == nil && cookie.Value != "" {
			stored, err := s.Store.Get(c.Request.Context(), cookie.Value)
			switch {
			case err != nil:
				logger.Error("session load failed", map[string]any{"error": err.Error()})
			case stored != nil:
				values = session.FromSession(stored)
			}
		}

		c.Set(sessionContextKey, values)
		c.Next()
	}
}

// Save persists the session if it changed and sets or clears the cookie.
// It must run before the response is written.
func (s *Sessions) Save(c *gin.Context) error {
	values := SessionFrom(c)
	if !values.Dirty() {
		return nil
	}
	ctx := c.Request.Context()

	if values.Len() == 0 {
		if id := values.ID(); id != "" {
			if err := s.Store.Delete(ctx, id); err != nil {
				return fmt.Errorf("session delete: %w", err)
			}
		}
		session.ClearCookie(c.Writer, s.Cookie)
		values.MarkSaved("")
		return nil
	}

	expiresAt := s.now().Add(s.TTL)
	record := session.Session{
		SessionID: values.ID(),
		Values:    values.Snapshot(),
		ExpiresAt: expiresAt,
	}

	if record.SessionID == "" {
		id, err := session.GenerateID()
		if err != nil {
			return err
		}
		record.SessionID = id
		if err := s.Store.Create(ctx, record); err != nil {
			return fmt.Errorf("session create: %w", err)
		}
	} else if err := s.Store.Update(ctx, record); err != nil {
		return fmt.Errorf("session update: %w", err)
	}

	session.SetCookie(c.Writer, record.SessionID, expiresAt, s.Cookie)
	values.MarkSaved(record.SessionID)
	return nil
}

// Renew rotates the session ID, e.g. after a successful login. The old
// record is removed from the store.
func (s *Sessions) Renew(c *gin.Context) error {
	old := SessionFrom(c).Renew()
	if old == "" {
		return nil
	}
	if err := s.Store.Delete(c.Request.Context(), old); err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// SessionFrom returns the request's session. Requests that did not pass
// through Load get a fresh, empty session.
func SessionFrom(c *gin.Context) *session.Values {
	if v, ok := c.Get(sessionContextKey); ok {
		if values, ok := v.(*session.Values); ok {
			return values
		}
	}
	values := session.NewValues()
	c.Set(sessionContextKey, values)
	return values
}

package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/videncia/oraculo/internal/idgen"
	"github.com/videncia/oraculo/internal/logging"
)

// ContextKey is the gin context key holding the resolved session id.
const ContextKey = "sessionID"

// Manager wraps a Store with cookie handling, expiry touching, and typed
// JSON accessors that recover from corrupted values.
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager creates a session manager.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}
}

// Store exposes the underlying store.
func (m *Manager) Store() Store { return m.store }

// Middleware resolves or creates the session cookie and stashes the
// session id in the gin context. Every request extends the session TTL.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, err := c.Cookie(CookieName)
		if err != nil || sid == "" {
			sid = idgen.WithPrefix("ses_")
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(CookieName, sid, 0, "/", "", false, true)
		}
		ctx := logging.WithSessionID(c.Request.Context(), sid)
		c.Request = c.Request.WithContext(ctx)
		if err := m.store.Touch(ctx, sid, time.Now().Add(m.ttl)); err != nil {
			logging.L(ctx).Warn("session touch failed", "error", err)
		}
		c.Set(ContextKey, sid)
		c.Next()
	}
}

// FromContext returns the session id placed by Middleware.
func FromContext(c *gin.Context) string {
	return c.GetString(ContextKey)
}

// GetJSON loads and decodes a value. Returns (false, nil) when the key is
// absent. A value that fails to decode is treated as corrupted: it is
// deleted and reported as absent so the caller reinitializes the entity
// instead of failing.
func (m *Manager) GetJSON(ctx context.Context, sessionID, key string, v interface{}) (bool, error) {
	raw, err := m.store.Get(ctx, sessionID, key)
	if err != nil {
		if err == ErrKeyNotFound || err == ErrSessionNotFound {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		logging.L(ctx).Warn("discarding corrupted session value", "key", key, "error", err)
		_ = m.store.Delete(ctx, sessionID, key)
		return false, nil
	}
	return true, nil
}

// PutJSON encodes and stores a value.
func (m *Manager) PutJSON(ctx context.Context, sessionID, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, sessionID, key, raw)
}

// Delete removes a single key.
func (m *Manager) Delete(ctx context.Context, sessionID, key string) error {
	err := m.store.Delete(ctx, sessionID, key)
	if err == ErrKeyNotFound || err == ErrSessionNotFound {
		return nil
	}
	return err
}

// GetInt loads an integer counter, defaulting to 0.
func (m *Manager) GetInt(ctx context.Context, sessionID, key string) (int, error) {
	var n int
	if _, err := m.GetJSON(ctx, sessionID, key, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// PutInt stores an integer counter.
func (m *Manager) PutInt(ctx context.Context, sessionID, key string, n int) error {
	return m.PutJSON(ctx, sessionID, key, n)
}

// GetBool loads a boolean flag, defaulting to false.
func (m *Manager) GetBool(ctx context.Context, sessionID, key string) (bool, error) {
	var b bool
	if _, err := m.GetJSON(ctx, sessionID, key, &b); err != nil {
		return false, err
	}
	return b, nil
}

// PutBool stores a boolean flag.
func (m *Manager) PutBool(ctx context.Context, sessionID, key string, b bool) error {
	return m.PutJSON(ctx, sessionID, key, b)
}

// GetString loads a string value, defaulting to "".
func (m *Manager) GetString(ctx context.Context, sessionID, key string) (string, error) {
	var s string
	if _, err := m.GetJSON(ctx, sessionID, key, &s); err != nil {
		return "", err
	}
	return s, nil
}

// PutString stores a string value.
func (m *Manager) PutString(ctx context.Context, sessionID, key string, s string) error {
	return m.PutJSON(ctx, sessionID, key, s)
}

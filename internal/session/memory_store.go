package session

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-memory session store used when no DATABASE_URL is
// configured. Expired sessions are removed by the sweeper.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
}

type memSession struct {
	values    map[string]json.RawMessage
	createdAt time.Time
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memSession)}
}

func (m *MemoryStore) Get(ctx context.Context, sessionID, key string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	val, ok := sess.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := make(json.RawMessage, len(val))
	copy(cp, val)
	return cp, nil
}

func (m *MemoryStore) Put(ctx context.Context, sessionID, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &memSession{
			values:    make(map[string]json.RawMessage),
			createdAt: time.Now(),
			expiresAt: time.Now().Add(DefaultTTL),
		}
		m.sessions[sessionID] = sess
	}
	cp := make(json.RawMessage, len(value))
	copy(cp, value)
	sess.values[key] = cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	delete(sess.values, key)
	return nil
}

func (m *MemoryStore) DeleteAll(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &memSession{values: make(map[string]json.RawMessage), createdAt: time.Now()}
		m.sessions[sessionID] = sess
	}
	sess.expiresAt = expiresAt
	return nil
}

func (m *MemoryStore) CountActive(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

func (m *MemoryStore) ListActive(ctx context.Context, createdBefore time.Time, beforeID string, limit int) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var infos []Info
	for id, sess := range m.sessions {
		if !sess.expiresAt.IsZero() && sess.expiresAt.Before(now) {
			continue
		}
		infos = append(infos, Info{ID: id, CreatedAt: sess.createdAt, ExpiresAt: sess.expiresAt})
	}

	// Newest first, id as tiebreaker for a stable order.
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].ID > infos[j].ID
	})

	if !createdBefore.IsZero() {
		cut := 0
		for cut < len(infos) {
			in := infos[cut]
			if in.CreatedAt.Before(createdBefore) ||
				(in.CreatedAt.Equal(createdBefore) && in.ID < beforeID) {
				break
			}
			cut++
		}
		infos = infos[cut:]
	}

	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

// SweepExpired removes sessions past their expiry and returns how many
// were dropped. The caller receives the ids so it can cancel any delayed
// tasks still scheduled for them.
func (m *MemoryStore) SweepExpired(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for id, sess := range m.sessions {
		if !sess.expiresAt.IsZero() && sess.expiresAt.Before(now) {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}

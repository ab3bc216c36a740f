package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. Useful when the
// service runs with more than one replica and sticky sessions are not
// guaranteed; the semantics stay session-scoped because rows carry an
// expiry and are purged by PurgeExpired.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the session tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id         VARCHAR(64) PRIMARY KEY,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS session_values (
			session_id VARCHAR(64) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			key        VARCHAR(128) NOT NULL,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (session_id, key)
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, sessionID, key string) (json.RawMessage, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT v.value FROM session_values v
		JOIN sessions s ON s.id = v.session_id
		WHERE v.session_id = $1 AND v.key = $2 AND s.expires_at > NOW()
	`, sessionID, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session value: %w", err)
	}
	return raw, nil
}

func (p *PostgresStore) Put(ctx context.Context, sessionID, key string, value json.RawMessage) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO session_values (session_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, sessionID, key, []byte(value))
	if err != nil {
		return fmt.Errorf("put session value: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, sessionID, key string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM session_values WHERE session_id = $1 AND key = $2
	`, sessionID, key)
	if err != nil {
		return fmt.Errorf("delete session value: %w", err)
	}
	return nil
}

func (p *PostgresStore) DeleteAll(ctx context.Context, sessionID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, expires_at) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, sessionID, expiresAt)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (p *PostgresStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE expires_at > NOW()
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func (p *PostgresStore) ListActive(ctx context.Context, createdBefore time.Time, beforeID string, limit int) ([]Info, error) {
	var before sql.NullTime
	if !createdBefore.IsZero() {
		before = sql.NullTime{Time: createdBefore, Valid: true}
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, created_at, expires_at FROM sessions
		WHERE expires_at > NOW()
		  AND ($1::timestamptz IS NULL OR (created_at, id) < ($1, $2))
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, before, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []Info
	for rows.Next() {
		var in Info
		if err := rows.Scan(&in.ID, &in.CreatedAt, &in.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		infos = append(infos, in)
	}
	return infos, rows.Err()
}

// PurgeExpired deletes expired sessions and returns their ids so callers
// can tear down associated in-process resources.
func (p *PostgresStore) PurgeExpired(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		DELETE FROM sessions WHERE expires_at <= NOW() RETURNING id
	`)
	if err != nil {
		return nil, fmt.Errorf("purge sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

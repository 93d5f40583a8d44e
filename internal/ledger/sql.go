package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const schema = `CREATE TABLE IF NOT EXISTS idempotency_keys (
	key_hash   TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	status     INTEGER NOT NULL DEFAULT 0,
	body       TEXT NOT NULL DEFAULT '',
	updated_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL
)`

type sqlRow struct {
	Key       string `db:"key_hash"`
	State     string `db:"state"`
	Status    int    `db:"status"`
	Body      string `db:"body"`
	UpdatedAt int64  `db:"updated_at"`
	ExpiresAt int64  `db:"expires_at"`
}

func (r sqlRow) entry() Entry {
	return Entry{
		Key:       r.Key,
		State:     EntryState(r.State),
		Status:    r.Status,
		Body:      []byte(r.Body),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

// SQLStore keeps the ledger in Postgres or SQLite. Timestamps are stored as
// Unix milliseconds so both dialects share one schema.
type SQLStore struct {
	db         *sqlx.DB
	ttl        time.Duration
	pendingTTL time.Duration
	now        func() time.Time
}

// NewSQLStore wraps db. A nil clock uses time.Now.
func NewSQLStore(db *sqlx.DB, ttl time.Duration, now func() time.Time) *SQLStore {
	if now == nil {
		now = time.Now
	}
	return &SQLStore{db: db, ttl: ttl, pendingTTL: pendingTTL(ttl), now: now}
}

// Migrate creates the ledger table if needed.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

func (s *SQLStore) Reserve(ctx context.Context, key string) (Entry, bool, error) {
	now := s.now()
	nowMs := now.UnixMilli()

	if _, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM idempotency_keys WHERE key_hash = ? AND expires_at <= ?`),
		key, nowMs); err != nil {
		return Entry{}, false, fmt.Errorf("expire idempotency key: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO idempotency_keys (key_hash, state, status, body, updated_at, expires_at)
			VALUES (?, ?, 0, '', ?, ?) ON CONFLICT (key_hash) DO NOTHING`),
		key, string(StatePending), nowMs, now.Add(s.pendingTTL).UnixMilli())
	if err != nil {
		return Entry{}, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return Entry{Key: key, State: StatePending, UpdatedAt: time.UnixMilli(nowMs).UTC()}, true, nil
	}

	var row sqlRow
	err = s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT key_hash, state, status, body, updated_at, expires_at FROM idempotency_keys WHERE key_hash = ?`),
		key)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, fmt.Errorf("idempotency key %s vanished during reserve", key)
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("load idempotency key: %w", err)
	}
	return row.entry(), false, nil
}

func (s *SQLStore) Complete(ctx context.Context, key string, status int, body []byte) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE idempotency_keys SET state = ?, status = ?, body = ?, updated_at = ?, expires_at = ? WHERE key_hash = ?`),
		string(StateDone), status, string(body), now.UnixMilli(), now.Add(s.ttl).UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

func (s *SQLStore) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM idempotency_keys WHERE key_hash = ?`), key)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLStore) Close() error                   { return s.db.Close() }

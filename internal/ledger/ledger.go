// Package ledger records which idempotency keys the tool service has relayed,
// so a retried request returns the stored response instead of relaying twice.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultTTL is how long a completed key suppresses duplicates.
	DefaultTTL = 24 * time.Hour
	// DefaultPendingTTL is how long an unfinished reservation blocks retries.
	// It outlives one relay attempt so a crash or a failed Complete frees the key.
	DefaultPendingTTL = 30 * time.Second
)

// ErrUnknownDriver is returned by Open for an unsupported backend.
var ErrUnknownDriver = errors.New("unknown ledger driver")

// EntryState says whether a key is in flight or finished.
type EntryState string

const (
	StatePending EntryState = "pending"
	StateDone    EntryState = "done"
)

// Entry is the ledger record for one idempotency key.
type Entry struct {
	Key       string     `json:"key"`
	State     EntryState `json:"state"`
	Status    int        `json:"status,omitempty"`
	Body      []byte     `json:"body,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Store is an idempotency ledger. Implementations are safe for concurrent use.
type Store interface {
	// Reserve claims key for the pending TTL. When the key is already claimed
	// it returns the existing entry and false.
	Reserve(ctx context.Context, key string) (Entry, bool, error)
	// Complete stores the response for a reserved key for the full TTL.
	Complete(ctx context.Context, key string, status int, body []byte) error
	// Release drops a reservation so the request can be retried.
	Release(ctx context.Context, key string) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver     string // memory | redis | postgres | sqlite
	DSN        string
	TTL        time.Duration
	PendingTTL time.Duration
	Redis      *redis.Client
}

// pendingTTL is the reservation lifetime for a store with the given full TTL.
func pendingTTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < DefaultPendingTTL {
		return ttl
	}
	return DefaultPendingTTL
}

// Open builds the Store named by opts.Driver.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Store, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}
	if opts.PendingTTL > opts.TTL {
		opts.PendingTTL = opts.TTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch opts.Driver {
	case "", "memory":
		s := NewMemoryStore(opts.TTL, nil)
		s.pendingTTL = opts.PendingTTL
		return s, nil
	case "redis":
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis ledger requires a redis client")
		}
		s := NewRedisStore(opts.Redis, opts.TTL)
		s.pendingTTL = opts.PendingTTL
		return s, nil
	case "postgres", "sqlite":
		driver := "postgres"
		if opts.Driver == "sqlite" {
			driver = "sqlite3"
		}
		db, err := sqlx.ConnectContext(ctx, driver, opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect %s ledger: %w", opts.Driver, err)
		}
		store := NewSQLStore(db, opts.TTL, nil)
		store.pendingTTL = opts.PendingTTL
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("Idempotency ledger ready", zap.String("driver", opts.Driver))
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

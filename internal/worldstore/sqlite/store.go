// Package sqlite provides the SQLite-backed world storage implementation.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/worldvault/internal/codec"
	sqlitemigrate "github.com/louisbranch/worldvault/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/worldvault/internal/worldstore/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists world aggregates and their bookkeeping records in SQLite.
type Store struct {
	sqlDB     *sql.DB
	codec     *codec.Codec
	clock     func() time.Time
	maxWorlds int
	locks     sync.Map // world id -> *sync.Mutex
}

// Option configures a Store at open time.
type Option func(*Store)

// WithClock injects the time source used to stamp writes.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCodec injects the codec used for world snapshot compression.
func WithCodec(c *codec.Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithMaxWorlds caps how many worlds the store accepts. Zero means unlimited.
func WithMaxWorlds(limit int) Option {
	return func(s *Store) {
		s.maxWorlds = limit
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite world store and applies embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store := &Store{
		sqlDB: sqlDB,
		codec: codec.New(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// lockWorld serializes multi-collection transactions per world. At most one
// save or delete is in flight for a given world id at any time.
func (s *Store) lockWorld(worldID string) func() {
	value, _ := s.locks.LoadOrStore(worldID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

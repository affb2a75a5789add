// Package bolt provides a BoltDB-backed world store for embedded use. It
// implements the same save semantics as the sqlite backend but stores each
// world as a single compressed document; the joined history collections
// (backups, conflicts, corruption, sync status) stay on the sqlite backend.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/louisbranch/worldvault/internal/codec"
	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/platform/id"
	"github.com/louisbranch/worldvault/internal/world"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

const worldBucket = "worlds"

// record is the stored per-world value: the compressed document plus the
// summary so listings never decompress.
type record struct {
	Algorithm    string        `json:"algorithm"`
	OriginalSize int           `json:"originalSize"`
	Data         []byte        `json:"data"`
	Summary      world.Summary `json:"summary"`
}

// Store provides a BoltDB-backed world store.
type Store struct {
	db        *bbolt.DB
	codec     *codec.Codec
	clock     func() time.Time
	maxWorlds int
	locks     sync.Map
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCodec injects the snapshot codec.
func WithCodec(c *codec.Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithMaxWorlds enforces a world-count quota on first saves.
func WithMaxWorlds(maxWorlds int) Option {
	return func(s *Store) {
		if maxWorlds > 0 {
			s.maxWorlds = maxWorlds
		}
	}
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db, codec: codec.New(), clock: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(worldBucket)); err != nil {
			return fmt.Errorf("create world bucket: %w", err)
		}
		return nil
	})
}

func (s *Store) lockWorld(worldID string) func() {
	value, _ := s.locks.LoadOrStore(worldID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SaveWorld bumps the version, stamps last-modified, appends a save event to
// the active branch timeline, and writes the compressed document in a single
// update transaction. The caller's copy is only updated after the commit.
func (s *Store) SaveWorld(ctx context.Context, w *world.World) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if w == nil || strings.TrimSpace(w.ID) == "" {
		return fmt.Errorf("world id is required")
	}

	unlock := s.lockWorld(w.ID)
	defer unlock()

	next := w.Clone()
	next.Version++
	next.LastModified = s.clock().UTC()
	next.Stats.TotalSaves++

	eventID, err := id.NewID()
	if err != nil {
		return err
	}
	if br, ok := next.ActiveBranch(); ok {
		br.AppendEvent(world.TimelineEvent{
			ID:        eventID,
			Type:      world.EventSave,
			Timestamp: next.LastModified,
		})
	}
	next.RefreshStats()

	if err := next.CheckIntegrity(); err != nil {
		return err
	}

	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal world %s: %w", next.ID, err)
	}
	env, err := s.codec.Compress(doc, codec.Options{})
	if err != nil {
		return fmt.Errorf("compress world %s: %w", next.ID, err)
	}
	payload, err := json.Marshal(record{
		Algorithm:    string(env.Algorithm),
		OriginalSize: env.OriginalSize,
		Data:         env.Data,
		Summary: world.Summary{
			ID:           next.ID,
			Name:         next.Name,
			LastModified: next.LastModified,
			Version:      next.Version,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal world record: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(worldBucket))
		if bucket == nil {
			return fmt.Errorf("world bucket is missing")
		}
		if bucket.Get([]byte(next.ID)) == nil && s.maxWorlds > 0 {
			if bucket.Stats().KeyN >= s.maxWorlds {
				return worldstore.ErrQuotaExceeded
			}
		}
		return bucket.Put([]byte(next.ID), payload)
	})
	if err != nil {
		return err
	}

	*w = next
	return nil
}

// LoadWorld reconstructs the world from its compressed document.
func (s *Store) LoadWorld(ctx context.Context, worldID string) (world.World, error) {
	if err := ctx.Err(); err != nil {
		return world.World{}, err
	}
	if s == nil || s.db == nil {
		return world.World{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(worldID) == "" {
		return world.World{}, fmt.Errorf("world id is required")
	}

	var rec record
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(worldBucket))
		if bucket == nil {
			return fmt.Errorf("world bucket is missing")
		}
		payload := bucket.Get([]byte(worldID))
		if payload == nil {
			return worldstore.ErrNotFound
		}
		return json.Unmarshal(payload, &rec)
	})
	if err != nil {
		return world.World{}, err
	}

	doc, err := s.codec.Decompress(codec.Envelope{
		Algorithm:    codec.Algorithm(rec.Algorithm),
		OriginalSize: rec.OriginalSize,
		Data:         rec.Data,
	})
	if err != nil {
		return world.World{}, apperrors.Wrap(apperrors.CodeCorruptPayload, "decompress world document", err)
	}
	var w world.World
	if err := json.Unmarshal(doc, &w); err != nil {
		return world.World{}, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode world document", err)
	}
	return w, nil
}

// DeleteWorld removes the world document.
func (s *Store) DeleteWorld(ctx context.Context, worldID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(worldID) == "" {
		return fmt.Errorf("world id is required")
	}

	unlock := s.lockWorld(worldID)
	defer unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(worldBucket))
		if bucket == nil {
			return fmt.Errorf("world bucket is missing")
		}
		if bucket.Get([]byte(worldID)) == nil {
			return worldstore.ErrNotFound
		}
		return bucket.Delete([]byte(worldID))
	})
}

// ListWorlds returns summaries ordered newest first.
func (s *Store) ListWorlds(ctx context.Context) ([]world.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var summaries []world.Summary
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(worldBucket))
		if bucket == nil {
			return fmt.Errorf("world bucket is missing")
		}
		return bucket.ForEach(func(_, payload []byte) error {
			var rec record
			if err := json.Unmarshal(payload, &rec); err != nil {
				return fmt.Errorf("unmarshal world record: %w", err)
			}
			summaries = append(summaries, rec.Summary)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].LastModified.Equal(summaries[j].LastModified) {
			return summaries[i].LastModified.After(summaries[j].LastModified)
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

var _ worldstore.WorldStore = (*Store)(nil)

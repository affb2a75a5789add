// Package recovery detects structural corruption, validates world invariants,
// repairs what is automatically fixable, and manages backup and restore.
package recovery

import (
	"context"
	"time"

	"github.com/louisbranch/worldvault/internal/codec"
	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/telemetry"
	"github.com/louisbranch/worldvault/internal/world"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

// DefaultMaxBackups caps retained backups per world before pruning.
const DefaultMaxBackups = 10

// DefaultRetention is how long a backup stays eligible for retention.
const DefaultRetention = 30 * 24 * time.Hour

// Store is the storage surface the recovery service needs.
type Store interface {
	worldstore.WorldStore
	worldstore.BackupStore
	worldstore.CorruptionStore
}

// Service implements validation, repair, backup, restore, and corruption
// detection against a world store.
type Service struct {
	store      Store
	codec      *codec.Codec
	emitter    *telemetry.Emitter
	clock      func() time.Time
	maxBackups int
	retention  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCodec injects the codec used for backup compression. The codec needs a
// baseline store resolving backup baselines (see NewService) or delta-encoded
// backups cannot be restored.
func WithCodec(c *codec.Codec) Option {
	return func(s *Service) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithEmitter injects the telemetry emitter.
func WithEmitter(emitter *telemetry.Emitter) Option {
	return func(s *Service) {
		s.emitter = emitter
	}
}

// WithMaxBackups caps retained backups per world.
func WithMaxBackups(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxBackups = limit
		}
	}
}

// WithRetention sets the backup retention window.
func WithRetention(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.retention = window
		}
	}
}

// NewService creates a recovery service over the given store. The default
// codec resolves delta baselines from prior backups in the same store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		clock:      time.Now,
		maxBackups: DefaultMaxBackups,
		retention:  DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.codec == nil {
		s.codec = codec.New(codec.WithBaselineStore(backupBaselines{
			store: store,
			plain: codec.New(),
		}))
	}
	return s
}

// Validate loads a world and runs the full validation pass.
func (s *Service) Validate(ctx context.Context, worldID string) (Report, error) {
	w, err := s.store.LoadWorld(ctx, worldID)
	if err != nil {
		return Report{}, err
	}
	return ValidateWorld(&w), nil
}

// Repair loads a world, applies every named repair action against a copy,
// and persists the result only when at least one repair was applied. The
// repaired world is returned either way.
func (s *Service) Repair(ctx context.Context, worldID string) (world.World, []AppliedRepair, error) {
	w, err := s.store.LoadWorld(ctx, worldID)
	if err != nil {
		return world.World{}, nil, err
	}

	repaired, applied, err := RepairWorld(w, s.clock)
	if err != nil {
		return world.World{}, nil, err
	}
	if len(applied) == 0 {
		return w, nil, nil
	}

	remaining := ValidateWorld(&repaired)
	if !remaining.IsValid() {
		return repaired, applied, apperrors.WithMetadata(apperrors.CodeRepairNotPossible,
			"critical issues remain after repair",
			map[string]string{"world_id": worldID})
	}

	if err := s.store.SaveWorld(ctx, &repaired); err != nil {
		return world.World{}, nil, err
	}
	s.emit(ctx, worldID, telemetry.SeverityWarn, "repair",
		"repaired world with "+string(applied[0].Action))
	return repaired, applied, nil
}

// RecoverWorld is the documented fallback chain: repair what is repairable,
// otherwise restore the most recent intact backup, otherwise fail explicitly.
func (s *Service) RecoverWorld(ctx context.Context, worldID string) (world.World, error) {
	record, detected, err := s.DetectCorruption(ctx, worldID)
	if err != nil {
		return world.World{}, err
	}
	if !detected {
		return s.store.LoadWorld(ctx, worldID)
	}

	if record.Kind != worldstore.CorruptionComplete {
		repaired, applied, err := s.Repair(ctx, worldID)
		if err == nil && len(applied) > 0 {
			return repaired, nil
		}
	}

	backups, err := s.store.ListBackups(ctx, worldID)
	if err != nil {
		return world.World{}, err
	}
	for _, backup := range backups {
		if !backup.IntegrityOK {
			continue
		}
		restored, err := s.RestoreFromBackup(ctx, worldID, backup.ID, RestoreOptions{
			Mode: RestoreReplace,
		})
		if err != nil {
			continue
		}
		return restored, nil
	}

	return world.World{}, apperrors.WithMetadata(apperrors.CodeUnrecoverableWorld,
		"world cannot be repaired and no intact backup exists",
		map[string]string{"world_id": worldID, "corruption_kind": string(record.Kind)})
}

func (s *Service) emit(ctx context.Context, worldID string, severity telemetry.Severity, kind, message string) {
	_ = s.emitter.Emit(ctx, worldstore.TelemetryEvent{
		WorldID:  worldID,
		Kind:     kind,
		Severity: string(severity),
		Message:  message,
	})
}

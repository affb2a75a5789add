// Package syncsvc reconciles local worlds against a remote copy under
// unreliable connectivity. One sync may be in flight per world; offline
// attempts queue and drain once connectivity returns.
package syncsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/platform/id"
	"github.com/louisbranch/worldvault/internal/platform/scheduler"
	"github.com/louisbranch/worldvault/internal/telemetry"
	"github.com/louisbranch/worldvault/internal/world"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

// Strategy names a conflict resolution strategy.
type Strategy string

const (
	StrategyLastWriteWins Strategy = "last_write_wins"
	StrategyLocalWins     Strategy = "local_wins"
	StrategyRemoteWins    Strategy = "remote_wins"
	StrategyMerge         Strategy = "merge"
	// StrategyManual records conflicts and defers to the caller. The service
	// never guesses under this strategy.
	StrategyManual Strategy = "manual"
)

// Remote is the transport surface the sync service consumes.
type Remote interface {
	// FetchWorld returns the remote copy. A missing remote world is not an
	// error; found is false.
	FetchWorld(ctx context.Context, worldID string) (w world.World, found bool, err error)
	// PushWorld uploads a world, compressed above the codec threshold.
	PushWorld(ctx context.Context, w world.World) error
}

// Backupper takes pre-sync safety snapshots. Usually the recovery service.
type Backupper interface {
	CreateBackup(ctx context.Context, worldID string, backupType worldstore.BackupType) (worldstore.BackupRecord, error)
}

// Store is the storage surface the sync service needs.
type Store interface {
	worldstore.WorldStore
	worldstore.SyncStatusStore
	worldstore.ConflictStore
}

// Result is the outcome of one sync pass.
type Result struct {
	State         worldstore.SyncState
	Diff          Diff
	RemoteVersion int64
	Uploaded      bool
	// ManualElementIDs lists elements needing caller resolution. Set only
	// under the manual strategy or the manual field-conflict policy.
	ManualElementIDs []string
	// RenamedBranchIDs lists branches kept under a conflict rename.
	RenamedBranchIDs []string
}

// Service implements world synchronization.
type Service struct {
	store   Store
	remote  Remote
	backup  Backupper
	emitter *telemetry.Emitter
	clock   func() time.Time
	policy  world.FieldConflictPolicy

	inflight sync.Map // world id -> struct{}

	mu      sync.Mutex
	queue   []string // FIFO world ids awaiting connectivity
	intents map[string]Strategy
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

// WithBackupper injects the pre-sync backup provider.
func WithBackupper(backup Backupper) Option {
	return func(s *Service) {
		s.backup = backup
	}
}

// WithEmitter injects the telemetry emitter.
func WithEmitter(emitter *telemetry.Emitter) Option {
	return func(s *Service) {
		s.emitter = emitter
	}
}

// WithFieldConflictPolicy sets how merge handles both-side element edits.
func WithFieldConflictPolicy(policy world.FieldConflictPolicy) Option {
	return func(s *Service) {
		if policy != "" {
			s.policy = policy
		}
	}
}

// NewService creates a sync service over the given store and remote.
func NewService(store Store, remote Remote, opts ...Option) *Service {
	s := &Service{
		store:   store,
		remote:  remote,
		clock:   time.Now,
		policy:  world.PolicyNewest,
		intents: make(map[string]Strategy),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncWorld reconciles one world against the remote. A second call for the
// same world while one is in flight is rejected immediately rather than
// queued silently.
func (s *Service) SyncWorld(ctx context.Context, worldID string, strategy Strategy) (Result, error) {
	worldID = strings.TrimSpace(worldID)
	if worldID == "" {
		return Result{}, apperrors.New(apperrors.CodeWorldIDEmpty, "world id is required")
	}
	if _, busy := s.inflight.LoadOrStore(worldID, struct{}{}); busy {
		return Result{State: worldstore.SyncStateSyncing}, apperrors.WithMetadata(
			apperrors.CodeSyncInFlight, "sync already in flight",
			map[string]string{"world_id": worldID})
	}
	defer s.inflight.Delete(worldID)

	return s.sync(ctx, worldID, strategy)
}

func (s *Service) sync(ctx context.Context, worldID string, strategy Strategy) (Result, error) {
	local, err := s.store.LoadWorld(ctx, worldID)
	if err != nil {
		return Result{}, err
	}

	if err := s.store.PutSyncStatus(ctx, worldstore.SyncStatusRecord{
		WorldID:   worldID,
		State:     worldstore.SyncStateSyncing,
		UpdatedAt: s.clock().UTC(),
	}); err != nil {
		return Result{}, err
	}

	remote, found, err := s.remote.FetchWorld(ctx, worldID)
	if err != nil {
		return s.failSync(ctx, worldID, "fetch remote world", strategy, err)
	}

	// First upload: nothing to reconcile.
	if !found {
		if err := s.remote.PushWorld(ctx, local); err != nil {
			return s.failSync(ctx, worldID, "push first upload", strategy, err)
		}
		result := Result{State: worldstore.SyncStateSynced, RemoteVersion: local.Version, Uploaded: true}
		return result, s.finishSync(ctx, worldID, result, 0)
	}

	diff, err := diffWorlds(&local, &remote)
	if err != nil {
		return s.abortSync(ctx, worldID, "diff worlds", err)
	}
	if diff.Empty() {
		result := Result{State: worldstore.SyncStateSynced, RemoteVersion: remote.Version}
		return result, s.finishSync(ctx, worldID, result, 0)
	}

	if s.backup != nil {
		// Best effort: a refused snapshot must not block the sync.
		_, _ = s.backup.CreateBackup(ctx, worldID, worldstore.BackupPreSync)
	}

	conflicts := s.recordConflicts(ctx, worldID, strategy, diff)

	if strategy == StrategyManual {
		result := Result{
			State:            worldstore.SyncStateConflicted,
			Diff:             diff,
			RemoteVersion:    remote.Version,
			ManualElementIDs: diff.Modified,
		}
		return result, s.finishSync(ctx, worldID, result, conflicts)
	}

	resolved, renamed, manual, err := s.resolve(local, remote, strategy)
	if err != nil {
		return s.abortSync(ctx, worldID, "resolve conflicts", err)
	}
	if len(manual) > 0 {
		result := Result{
			State:            worldstore.SyncStateConflicted,
			Diff:             diff,
			RemoteVersion:    remote.Version,
			ManualElementIDs: manual,
		}
		if finishErr := s.finishSync(ctx, worldID, result, conflicts); finishErr != nil {
			return Result{}, finishErr
		}
		return result, apperrors.WithMetadata(apperrors.CodeSyncManualRequired,
			"elements need manual resolution",
			map[string]string{"world_id": worldID})
	}

	result := Result{
		State:            worldstore.SyncStateSynced,
		Diff:             diff,
		RemoteVersion:    resolved.Version,
		RenamedBranchIDs: renamed,
	}

	changedRemote, err := worldsDiffer(resolved, remote)
	if err != nil {
		return s.abortSync(ctx, worldID, "compare resolved world", err)
	}
	changedLocal, err := worldsDiffer(resolved, local)
	if err != nil {
		return s.abortSync(ctx, worldID, "compare resolved world", err)
	}

	// Persist before pushing: saving bumps the version, and the upload must
	// carry that bump or the next sync reads it back as drift.
	if changedLocal {
		if err := s.store.SaveWorld(ctx, &resolved); err != nil {
			return s.abortSync(ctx, worldID, "save resolved world", err)
		}
		result.RemoteVersion = resolved.Version
	}
	if changedRemote || changedLocal {
		if err := s.remote.PushWorld(ctx, resolved); err != nil {
			return s.failSync(ctx, worldID, "push resolved world", strategy, err)
		}
		result.Uploaded = true
	}

	return result, s.finishSync(ctx, worldID, result, conflicts)
}

// resolve applies the conflict strategy and returns the reconciled world.
func (s *Service) resolve(local, remote world.World, strategy Strategy) (world.World, []string, []string, error) {
	switch strategy {
	case StrategyLocalWins:
		return local, nil, nil, nil
	case StrategyRemoteWins:
		return remote, nil, nil, nil
	case StrategyLastWriteWins:
		if remote.LastModified.After(local.LastModified) {
			return remote, nil, nil, nil
		}
		return local, nil, nil, nil
	case StrategyMerge, "":
		merged, err := world.Merge(local, remote, world.MergeOptions{
			Policy: s.policy,
			Clock:  s.clock,
		})
		if err != nil {
			return world.World{}, nil, nil, err
		}
		return merged.World, merged.RenamedBranchIDs, merged.ManualElementIDs, nil
	default:
		return world.World{}, nil, nil, fmt.Errorf("unknown sync strategy %q", strategy)
	}
}

// recordConflicts appends one audit record per conflict category present in
// the diff. Records are best effort; a failed append never blocks the sync.
func (s *Service) recordConflicts(ctx context.Context, worldID string, strategy Strategy, diff Diff) int {
	count := 0
	appendRecord := func(category worldstore.ConflictCategory, description string, subjects []string) {
		recordID, err := id.NewID()
		if err != nil {
			return
		}
		if err := s.store.AppendConflict(ctx, worldstore.ConflictRecord{
			ID:          recordID,
			WorldID:     worldID,
			DetectedAt:  s.clock().UTC(),
			Category:    category,
			Strategy:    string(strategy),
			Description: description,
			SubjectIDs:  subjects,
		}); err == nil {
			count++
		}
	}

	if len(diff.Modified) > 0 {
		appendRecord(worldstore.ConflictElement,
			fmt.Sprintf("%d elements modified on both sides", len(diff.Modified)),
			diff.Modified)
	}
	if diff.BranchCountMismatch {
		appendRecord(worldstore.ConflictBranch, "branch counts differ", nil)
	}
	if diff.VersionDrift {
		appendRecord(worldstore.ConflictVersion, "metadata version or timestamp drift", nil)
	}
	return count
}

// failSync records a transport failure and queues the world for a retry
// under the strategy the caller asked for.
func (s *Service) failSync(ctx context.Context, worldID, op string, strategy Strategy, cause error) (Result, error) {
	code := apperrors.CodeSyncNetworkFailure
	if errors.Is(cause, context.DeadlineExceeded) {
		code = apperrors.CodeSyncTimeout
	}
	syncErr := apperrors.Wrap(code, op, cause)

	_ = s.store.PutSyncStatus(ctx, worldstore.SyncStatusRecord{
		WorldID:   worldID,
		State:     worldstore.SyncStateError,
		Pending:   true,
		Error:     syncErr.Error(),
		UpdatedAt: s.clock().UTC(),
	})
	s.enqueue(worldID, strategy)
	s.emit(ctx, worldID, telemetry.SeverityError, "sync failed: "+syncErr.Error())
	return Result{State: worldstore.SyncStateError}, syncErr
}

// abortSync records a terminal error status for failures a retry cannot fix.
// The world is not re-queued.
func (s *Service) abortSync(ctx context.Context, worldID, op string, cause error) (Result, error) {
	syncErr := fmt.Errorf("%s: %w", op, cause)
	_ = s.store.PutSyncStatus(ctx, worldstore.SyncStatusRecord{
		WorldID:   worldID,
		State:     worldstore.SyncStateError,
		Error:     syncErr.Error(),
		UpdatedAt: s.clock().UTC(),
	})
	s.emit(ctx, worldID, telemetry.SeverityError, "sync failed: "+syncErr.Error())
	return Result{State: worldstore.SyncStateError}, syncErr
}

func (s *Service) finishSync(ctx context.Context, worldID string, result Result, conflicts int) error {
	now := s.clock().UTC()
	err := s.store.PutSyncStatus(ctx, worldstore.SyncStatusRecord{
		WorldID:       worldID,
		State:         result.State,
		LastSyncAt:    now,
		Pending:       false,
		RemoteVersion: result.RemoteVersion,
		ConflictCount: conflicts,
		UpdatedAt:     now,
	})
	s.dequeue(worldID)
	s.emit(ctx, worldID, telemetry.SeverityInfo, "sync finished as "+string(result.State))
	return err
}

// QueueSync flags a world for a later sync pass. Multiple enqueues for the
// same world coalesce; only the latest intent survives.
func (s *Service) QueueSync(ctx context.Context, worldID string, strategy Strategy) error {
	worldID = strings.TrimSpace(worldID)
	if worldID == "" {
		return apperrors.New(apperrors.CodeWorldIDEmpty, "world id is required")
	}
	s.enqueue(worldID, strategy)

	status, err := s.store.GetSyncStatus(ctx, worldID)
	if err != nil {
		return err
	}
	status.WorldID = worldID
	status.Pending = true
	status.UpdatedAt = s.clock().UTC()
	return s.store.PutSyncStatus(ctx, status)
}

func (s *Service) enqueue(worldID string, strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, queued := s.intents[worldID]; !queued {
		s.queue = append(s.queue, worldID)
	}
	s.intents[worldID] = strategy
}

func (s *Service) dequeue(worldID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, queued := s.intents[worldID]; !queued {
		return
	}
	delete(s.intents, worldID)
	for i, queuedID := range s.queue {
		if queuedID == worldID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
}

// Sweep drains the offline queue in FIFO order, then catches worlds whose
// pending flag survived a restart. Failed attempts re-queue themselves.
func (s *Service) Sweep(ctx context.Context) {
	s.mu.Lock()
	batch := make([]string, len(s.queue))
	copy(batch, s.queue)
	intents := make(map[string]Strategy, len(s.intents))
	for worldID, strategy := range s.intents {
		intents[worldID] = strategy
	}
	s.mu.Unlock()

	seen := make(map[string]struct{}, len(batch))
	for _, worldID := range batch {
		seen[worldID] = struct{}{}
		_, _ = s.SyncWorld(ctx, worldID, intents[worldID])
	}

	pending, err := s.store.ListPendingSync(ctx)
	if err != nil {
		return
	}
	for _, status := range pending {
		if _, done := seen[status.WorldID]; done {
			continue
		}
		_, _ = s.SyncWorld(ctx, status.WorldID, StrategyMerge)
	}
}

// StartSweep schedules periodic pending-sync sweeps. The returned cancel
// stops them.
func (s *Service) StartSweep(sched scheduler.Scheduler, interval time.Duration) scheduler.CancelFunc {
	return sched.ScheduleEvery(interval, func() {
		s.Sweep(context.Background())
	})
}

// Status returns the persisted sync status for a world.
func (s *Service) Status(ctx context.Context, worldID string) (worldstore.SyncStatusRecord, error) {
	return s.store.GetSyncStatus(ctx, worldID)
}

func (s *Service) emit(ctx context.Context, worldID string, severity telemetry.Severity, message string) {
	_ = s.emitter.Emit(ctx, worldstore.TelemetryEvent{
		WorldID:  worldID,
		Kind:     "sync",
		Severity: string(severity),
		Message:  message,
	})
}

func worldsDiffer(a, b world.World) (bool, error) {
	docA, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	docB, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return !bytes.Equal(docA, docB), nil
}

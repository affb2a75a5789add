// Package vault is the single entry point the calling application talks to.
// It composes storage, sync, recovery, and exchange behind one facade and
// broadcasts lifecycle events on an in-process bus.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/worldvault/internal/exchange"
	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/platform/scheduler"
	"github.com/louisbranch/worldvault/internal/platform/timeouts"
	"github.com/louisbranch/worldvault/internal/recovery"
	"github.com/louisbranch/worldvault/internal/syncsvc"
	"github.com/louisbranch/worldvault/internal/world"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

var tracer = otel.Tracer("github.com/louisbranch/worldvault/internal/vault")

func startSpan(ctx context.Context, op, worldID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, op, trace.WithAttributes(attribute.String("world.id", worldID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// Event kinds published on the bus.
const (
	KindSaved         = "saved"
	KindDeleted       = "deleted"
	KindImported      = "imported"
	KindRestored      = "restored"
	KindRepaired      = "repaired"
	KindBackupCreated = "backup_created"
	KindSyncFinished  = "sync_finished"
	KindAutoSaveFlush = "auto_save_flush"
)

// Deps are the collaborating services. Store is required; a nil optional
// service disables the operations that need it.
type Deps struct {
	Store     worldstore.WorldStore
	Sync      *syncsvc.Service
	Recovery  *recovery.Service
	Exchange  *exchange.Service
	Scheduler scheduler.Scheduler
	Clock     func() time.Time
}

// Engine is the persistence facade.
type Engine struct {
	store    worldstore.WorldStore
	sync     *syncsvc.Service
	recovery *recovery.Service
	exchange *exchange.Service
	sched    scheduler.Scheduler
	clock    func() time.Time
	bus      *Bus
	autosave *autoSaveQueue
	cancels  []scheduler.CancelFunc
}

// NewEngine composes the facade from explicitly injected services.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("world store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:    deps.Store,
		sync:     deps.Sync,
		recovery: deps.Recovery,
		exchange: deps.Exchange,
		sched:    deps.Scheduler,
		clock:    clock,
		bus:      NewBus(),
		autosave: newAutoSaveQueue(),
	}, nil
}

// Bus exposes the event bus for subscribers.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Start schedules the periodic auto-save flush and pending-sync sweep.
func (e *Engine) Start() {
	if e.sched == nil {
		return
	}
	e.cancels = append(e.cancels, e.sched.ScheduleEvery(timeouts.AutoSaveFlush, func() {
		e.FlushAutoSaves(context.Background())
	}))
	if e.sync != nil {
		e.cancels = append(e.cancels, e.sync.StartSweep(e.sched, timeouts.AutoSaveFlush))
	}
}

// Close stops scheduled work, flushes pending auto-saves, and shuts the bus.
func (e *Engine) Close(ctx context.Context) {
	for _, cancel := range e.cancels {
		cancel()
	}
	e.cancels = nil
	e.FlushAutoSaves(ctx)
	e.bus.Close()
}

// SaveOptions tunes a single save.
type SaveOptions struct {
	// CreateBackup snapshots the stored world before overwriting it.
	CreateBackup bool
	// SyncAfter kicks a sync pass once the save commits.
	SyncAfter bool
	Strategy  syncsvc.Strategy
}

// Save persists a world and publishes the change.
func (e *Engine) Save(ctx context.Context, w *world.World, opts SaveOptions) (err error) {
	if w == nil {
		return fmt.Errorf("world is required")
	}
	ctx, span := startSpan(ctx, "vault.save", w.ID)
	defer func() { endSpan(span, err) }()

	if opts.CreateBackup && e.recovery != nil {
		if _, err := e.recovery.CreateBackup(ctx, w.ID, worldstore.BackupPreUpdate); err != nil &&
			!errors.Is(err, worldstore.ErrNotFound) {
			return err
		}
	}
	if err := e.store.SaveWorld(ctx, w); err != nil {
		return err
	}
	e.publish(TopicWorldChanged, w.ID, KindSaved)
	if opts.SyncAfter && e.sync != nil {
		if _, err := e.sync.SyncWorld(ctx, w.ID, opts.Strategy); err != nil {
			return err
		}
	}
	return nil
}

// LoadOptions tunes a single load.
type LoadOptions struct {
	// VerifyIntegrity validates the loaded graph and fails the load when a
	// critical issue is present.
	VerifyIntegrity bool
}

// Load fetches a world by id.
func (e *Engine) Load(ctx context.Context, worldID string, opts LoadOptions) (_ world.World, err error) {
	ctx, span := startSpan(ctx, "vault.load", worldID)
	defer func() { endSpan(span, err) }()

	w, err := e.store.LoadWorld(ctx, worldID)
	if err != nil {
		return world.World{}, err
	}
	if opts.VerifyIntegrity && e.recovery != nil {
		report, err := e.recovery.Validate(ctx, worldID)
		if err != nil {
			return world.World{}, err
		}
		if !report.IsValid() {
			return world.World{}, apperrors.WithMetadata(apperrors.CodeIntegrityViolation,
				"world failed integrity verification",
				map[string]string{"world_id": worldID, "severity": string(report.MaxSeverity())})
		}
	}
	return w, nil
}

// Delete removes a world and all associated records.
func (e *Engine) Delete(ctx context.Context, worldID string) (err error) {
	ctx, span := startSpan(ctx, "vault.delete", worldID)
	defer func() { endSpan(span, err) }()

	e.autosave.drop(worldID)
	if err = e.store.DeleteWorld(ctx, worldID); err != nil {
		return err
	}
	e.publish(TopicWorldChanged, worldID, KindDeleted)
	return nil
}

// List returns lightweight summaries of every stored world.
func (e *Engine) List(ctx context.Context) ([]world.Summary, error) {
	return e.store.ListWorlds(ctx)
}

// Export packs a world into an exchange envelope.
func (e *Engine) Export(ctx context.Context, worldID string, format exchange.Format) (exchange.Envelope, error) {
	if e.exchange == nil {
		return exchange.Envelope{}, fmt.Errorf("exchange service not configured")
	}
	return e.exchange.Export(ctx, worldID, format)
}

// Import unpacks an envelope into the store.
func (e *Engine) Import(ctx context.Context, env exchange.Envelope, opts exchange.ImportOptions) (exchange.ImportResult, error) {
	if e.exchange == nil {
		return exchange.ImportResult{}, fmt.Errorf("exchange service not configured")
	}
	result, err := e.exchange.Import(ctx, env, opts)
	if err != nil {
		return exchange.ImportResult{}, err
	}
	e.publish(TopicWorldChanged, result.World.ID, KindImported)
	return result, nil
}

// Sync reconciles a world against the remote.
func (e *Engine) Sync(ctx context.Context, worldID string, strategy syncsvc.Strategy) (_ syncsvc.Result, err error) {
	if e.sync == nil {
		return syncsvc.Result{}, apperrors.WithMetadata(apperrors.CodeRemoteAbsent,
			"no sync remote configured", map[string]string{"world_id": worldID})
	}
	ctx, span := startSpan(ctx, "vault.sync", worldID)
	defer func() { endSpan(span, err) }()

	result, err := e.sync.SyncWorld(ctx, worldID, strategy)
	if err != nil {
		return result, err
	}
	e.publish(TopicPersistence, worldID, KindSyncFinished)
	return result, nil
}

// Backup snapshots a world.
func (e *Engine) Backup(ctx context.Context, worldID string, backupType worldstore.BackupType) (_ worldstore.BackupRecord, err error) {
	if e.recovery == nil {
		return worldstore.BackupRecord{}, fmt.Errorf("recovery service not configured")
	}
	ctx, span := startSpan(ctx, "vault.backup", worldID)
	defer func() { endSpan(span, err) }()

	rec, err := e.recovery.CreateBackup(ctx, worldID, backupType)
	if err != nil {
		return worldstore.BackupRecord{}, err
	}
	e.publish(TopicPersistence, worldID, KindBackupCreated)
	return rec, nil
}

// Restore rebuilds a world from a backup.
func (e *Engine) Restore(ctx context.Context, worldID, backupID string, opts recovery.RestoreOptions) (_ world.World, err error) {
	if e.recovery == nil {
		return world.World{}, fmt.Errorf("recovery service not configured")
	}
	ctx, span := startSpan(ctx, "vault.restore", worldID)
	defer func() { endSpan(span, err) }()

	w, err := e.recovery.RestoreFromBackup(ctx, worldID, backupID, opts)
	if err != nil {
		return world.World{}, err
	}
	if !opts.DryRun {
		e.publish(TopicWorldChanged, worldID, KindRestored)
	}
	return w, nil
}

// Validate reports on a world's structural integrity.
func (e *Engine) Validate(ctx context.Context, worldID string) (recovery.Report, error) {
	if e.recovery == nil {
		return recovery.Report{}, fmt.Errorf("recovery service not configured")
	}
	return e.recovery.Validate(ctx, worldID)
}

// Repair fixes every repairable issue and persists the result.
func (e *Engine) Repair(ctx context.Context, worldID string) (world.World, []recovery.AppliedRepair, error) {
	if e.recovery == nil {
		return world.World{}, nil, fmt.Errorf("recovery service not configured")
	}
	w, applied, err := e.recovery.Repair(ctx, worldID)
	if err != nil {
		return world.World{}, nil, err
	}
	if len(applied) > 0 {
		e.publish(TopicWorldChanged, worldID, KindRepaired)
	}
	return w, applied, nil
}

// EnqueueAutoSave registers a world for the next flush. Repeated enqueues of
// the same world coalesce; the latest copy wins.
func (e *Engine) EnqueueAutoSave(w world.World) {
	e.autosave.put(w)
}

// FlushAutoSaves persists every queued world. Failed saves re-queue so the
// next flush retries them.
func (e *Engine) FlushAutoSaves(ctx context.Context) {
	for _, queued := range e.autosave.drain() {
		w := queued
		if err := e.store.SaveWorld(ctx, &w); err != nil {
			e.autosave.putIfAbsent(queued)
			continue
		}
		e.publish(TopicPersistence, w.ID, KindAutoSaveFlush)
	}
}

func (e *Engine) publish(topic Topic, worldID, kind string) {
	e.bus.Publish(Event{Topic: topic, WorldID: worldID, Kind: kind, At: e.clock().UTC()})
}

// Package worldstore defines the persistence interfaces and record types for
// world aggregates and their bookkeeping collections. Implementations live in
// subpackages; the rest of the engine depends only on these interfaces.
package worldstore

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/world"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such world" states
// and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrQuotaExceeded indicates a write was refused because it would exceed a
// configured storage quota.
var ErrQuotaExceeded = apperrors.New(apperrors.CodeQuotaExceeded, "storage quota exceeded")

// WorldStore owns atomic, versioned persistence of world aggregates.
type WorldStore interface {
	// SaveWorld bumps the version, stamps last-modified, and persists the
	// metadata record plus every joined collection in one transaction.
	// On failure prior state stays untouched, including the caller's copy.
	SaveWorld(ctx context.Context, w *world.World) error
	// LoadWorld reconstructs the aggregate for the given world id.
	LoadWorld(ctx context.Context, worldID string) (world.World, error)
	// DeleteWorld removes the world and every joined record in one transaction.
	DeleteWorld(ctx context.Context, worldID string) error
	// ListWorlds returns lightweight summaries without materializing graphs.
	ListWorlds(ctx context.Context) ([]world.Summary, error)
}

// BackupType describes why a backup was taken.
type BackupType string

const (
	BackupAutomatic  BackupType = "automatic"
	BackupManual     BackupType = "manual"
	BackupPreRestore BackupType = "pre_restore"
	BackupPreUpdate  BackupType = "pre_update"
	BackupPreSync    BackupType = "pre_sync"
)

// BackupRecord is a point-in-time, optionally compressed world snapshot.
type BackupRecord struct {
	ID             string
	WorldID        string
	CreatedAt      time.Time
	Type           BackupType
	Algorithm      string
	BaselineID     string
	Checksum       string
	OriginalSize   int64
	CompressedSize int64
	Ratio          float64
	RetainUntil    time.Time
	IntegrityOK    bool
	Payload        []byte
}

// BackupStore persists world backups, newest first on listing.
type BackupStore interface {
	PutBackup(ctx context.Context, rec BackupRecord) error
	GetBackup(ctx context.Context, worldID, backupID string) (BackupRecord, error)
	ListBackups(ctx context.Context, worldID string) ([]BackupRecord, error)
	DeleteBackup(ctx context.Context, worldID, backupID string) error
}

// ConflictCategory classifies a detected divergence.
type ConflictCategory string

const (
	ConflictElement ConflictCategory = "element"
	ConflictBranch  ConflictCategory = "branch"
	ConflictVersion ConflictCategory = "version"
)

// ConflictRecord documents a detected divergence and how it was resolved.
type ConflictRecord struct {
	ID          string
	WorldID     string
	DetectedAt  time.Time
	Category    ConflictCategory
	Strategy    string
	Description string
	SubjectIDs  []string
	ResolvedAt  *time.Time
}

// ConflictStore persists conflict audit records.
type ConflictStore interface {
	AppendConflict(ctx context.Context, rec ConflictRecord) error
	ListConflicts(ctx context.Context, worldID string) ([]ConflictRecord, error)
}

// CorruptionKind classifies a detected structural problem.
type CorruptionKind string

const (
	CorruptionPartial    CorruptionKind = "partial"
	CorruptionComplete   CorruptionKind = "complete"
	CorruptionMetadata   CorruptionKind = "metadata"
	CorruptionStructural CorruptionKind = "structural"
)

// CorruptionRecord documents a detected structural problem and its repair status.
type CorruptionRecord struct {
	ID                string
	WorldID           string
	DetectedAt        time.Time
	Kind              CorruptionKind
	Severity          string
	EstimatedLossPct  float64
	AffectedElementID []string
	Repaired          bool
	RepairedAt        *time.Time
}

// CorruptionStore persists the per-world corruption history for audit.
type CorruptionStore interface {
	AppendCorruption(ctx context.Context, rec CorruptionRecord) error
	ListCorruption(ctx context.Context, worldID string) ([]CorruptionRecord, error)
}

// SyncState names the terminal states of a sync pass.
type SyncState string

const (
	SyncStateIdle       SyncState = "idle"
	SyncStateSyncing    SyncState = "syncing"
	SyncStateSynced     SyncState = "synced"
	SyncStateConflicted SyncState = "conflicted"
	SyncStateError      SyncState = "error"
)

// SyncStatusRecord is the last synchronization outcome for a world.
type SyncStatusRecord struct {
	WorldID       string
	State         SyncState
	LastSyncAt    time.Time
	Pending       bool
	RemoteVersion int64
	ConflictCount int
	Error         string
	UpdatedAt     time.Time
}

// SyncStatusStore persists sync outcomes and pending-sync flags.
type SyncStatusStore interface {
	PutSyncStatus(ctx context.Context, rec SyncStatusRecord) error
	GetSyncStatus(ctx context.Context, worldID string) (SyncStatusRecord, error)
	ListPendingSync(ctx context.Context) ([]SyncStatusRecord, error)
}

// TelemetryEvent records one operational event.
type TelemetryEvent struct {
	WorldID   string
	Kind      string
	Severity  string
	Message   string
	Timestamp time.Time
}

// TelemetryStore appends operational telemetry events.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
}

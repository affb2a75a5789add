package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

// PutSyncStatus inserts or replaces the sync status row for a world.
func (s *Store) PutSyncStatus(ctx context.Context, rec worldstore.SyncStatusRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(rec.WorldID) == "" {
		return fmt.Errorf("world id is required")
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.clock()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_status (
		  world_id, state, last_sync_at, pending, remote_version,
		  conflict_count, error, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.WorldID,
		string(rec.State),
		toMillis(rec.LastSyncAt),
		rec.Pending,
		rec.RemoteVersion,
		rec.ConflictCount,
		rec.Error,
		toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("put sync status: %w", err)
	}
	return nil
}

// GetSyncStatus returns the last sync outcome for a world. A world that has
// never synced yields an idle record rather than an error.
func (s *Store) GetSyncStatus(ctx context.Context, worldID string) (worldstore.SyncStatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return worldstore.SyncStatusRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return worldstore.SyncStatusRecord{}, fmt.Errorf("storage is not configured")
	}
	worldID = strings.TrimSpace(worldID)
	if worldID == "" {
		return worldstore.SyncStatusRecord{}, fmt.Errorf("world id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
		SELECT world_id, state, last_sync_at, pending, remote_version,
		       conflict_count, error, updated_at
		  FROM sync_status
		 WHERE world_id = ?`, worldID)

	rec, err := scanSyncStatus(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return worldstore.SyncStatusRecord{
				WorldID: worldID,
				State:   worldstore.SyncStateIdle,
			}, nil
		}
		return worldstore.SyncStatusRecord{}, fmt.Errorf("get sync status: %w", err)
	}
	return rec, nil
}

// ListPendingSync returns the worlds flagged for a later sync pass, oldest
// flag first so the offline queue drains in FIFO order.
func (s *Store) ListPendingSync(ctx context.Context) ([]worldstore.SyncStatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT world_id, state, last_sync_at, pending, remote_version,
		       conflict_count, error, updated_at
		  FROM sync_status
		 WHERE pending = 1
		 ORDER BY updated_at ASC, world_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending sync: %w", err)
	}
	defer rows.Close()

	var records []worldstore.SyncStatusRecord
	for rows.Next() {
		rec, err := scanSyncStatus(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list pending sync: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanSyncStatus(scan func(dest ...any) error) (worldstore.SyncStatusRecord, error) {
	var rec worldstore.SyncStatusRecord
	var state string
	var lastSyncAt int64
	var updatedAt int64
	err := scan(
		&rec.WorldID,
		&state,
		&lastSyncAt,
		&rec.Pending,
		&rec.RemoteVersion,
		&rec.ConflictCount,
		&rec.Error,
		&updatedAt,
	)
	if err != nil {
		return worldstore.SyncStatusRecord{}, err
	}
	rec.State = worldstore.SyncState(state)
	rec.LastSyncAt = fromMillis(lastSyncAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

// AppendConflict inserts one conflict audit record.
func (s *Store) AppendConflict(ctx context.Context, rec worldstore.ConflictRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(rec.WorldID) == "" {
		return fmt.Errorf("world id is required")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("conflict id is required")
	}

	subjects, err := json.Marshal(rec.SubjectIDs)
	if err != nil {
		return fmt.Errorf("marshal conflict subjects: %w", err)
	}
	detectedAt := rec.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = s.clock()
	}
	var resolvedAt any
	if rec.ResolvedAt != nil {
		resolvedAt = toMillis(*rec.ResolvedAt)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
		INSERT INTO conflict_records (
		  world_id, id, detected_at, category, strategy, description,
		  subject_ids, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.WorldID,
		rec.ID,
		toMillis(detectedAt),
		string(rec.Category),
		rec.Strategy,
		rec.Description,
		string(subjects),
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("append conflict: %w", err)
	}
	return nil
}

// ListConflicts returns the conflict history for a world, newest first.
func (s *Store) ListConflicts(ctx context.Context, worldID string) ([]worldstore.ConflictRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT world_id, id, detected_at, category, strategy, description,
		       subject_ids, resolved_at
		  FROM conflict_records
		 WHERE world_id = ?
		 ORDER BY detected_at DESC, id DESC`,
		strings.TrimSpace(worldID))
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var records []worldstore.ConflictRecord
	for rows.Next() {
		var rec worldstore.ConflictRecord
		var category string
		var detectedAt int64
		var subjects string
		var resolvedAt sql.NullInt64
		if err := rows.Scan(
			&rec.WorldID,
			&rec.ID,
			&detectedAt,
			&category,
			&rec.Strategy,
			&rec.Description,
			&subjects,
			&resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("list conflicts: %w", err)
		}
		rec.Category = worldstore.ConflictCategory(category)
		rec.DetectedAt = fromMillis(detectedAt)
		if err := json.Unmarshal([]byte(subjects), &rec.SubjectIDs); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode conflict subjects", err)
		}
		if resolvedAt.Valid {
			at := fromMillis(resolvedAt.Int64)
			rec.ResolvedAt = &at
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ worldstore.SyncStatusStore = (*Store)(nil)
var _ worldstore.ConflictStore = (*Store)(nil)

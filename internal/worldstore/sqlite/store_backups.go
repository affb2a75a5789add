package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

// PutBackup inserts or replaces one backup record.
func (s *Store) PutBackup(ctx context.Context, rec worldstore.BackupRecord) error {
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
		return fmt.Errorf("backup id is required")
	}
	if strings.TrimSpace(rec.Checksum) == "" {
		return fmt.Errorf("backup checksum is required")
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT OR REPLACE INTO backups (
		  world_id, id, created_at, type, algorithm, baseline_id, checksum,
		  original_size, compressed_size, ratio, retain_until, integrity_ok, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.WorldID,
		rec.ID,
		toMillis(createdAt),
		string(rec.Type),
		rec.Algorithm,
		rec.BaselineID,
		rec.Checksum,
		rec.OriginalSize,
		rec.CompressedSize,
		rec.Ratio,
		toMillis(rec.RetainUntil),
		rec.IntegrityOK,
		rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("put backup: %w", err)
	}
	return nil
}

// GetBackup returns one backup record with its payload.
func (s *Store) GetBackup(ctx context.Context, worldID, backupID string) (worldstore.BackupRecord, error) {
	if err := ctx.Err(); err != nil {
		return worldstore.BackupRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return worldstore.BackupRecord{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
		SELECT world_id, id, created_at, type, algorithm, baseline_id, checksum,
		       original_size, compressed_size, ratio, retain_until, integrity_ok, payload
		  FROM backups
		 WHERE world_id = ? AND id = ?`,
		strings.TrimSpace(worldID), strings.TrimSpace(backupID))

	rec, err := scanBackup(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return worldstore.BackupRecord{}, apperrors.WithMetadata(apperrors.CodeBackupNotFound,
				"backup not found",
				map[string]string{"world_id": worldID, "backup_id": backupID})
		}
		return worldstore.BackupRecord{}, fmt.Errorf("get backup: %w", err)
	}
	return rec, nil
}

// ListBackups returns every backup for a world, newest first.
func (s *Store) ListBackups(ctx context.Context, worldID string) ([]worldstore.BackupRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT world_id, id, created_at, type, algorithm, baseline_id, checksum,
		       original_size, compressed_size, ratio, retain_until, integrity_ok, payload
		  FROM backups
		 WHERE world_id = ?
		 ORDER BY created_at DESC, id DESC`,
		strings.TrimSpace(worldID))
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var records []worldstore.BackupRecord
	for rows.Next() {
		rec, err := scanBackup(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteBackup removes one backup record.
func (s *Store) DeleteBackup(ctx context.Context, worldID, backupID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM backups WHERE world_id = ? AND id = ?`,
		strings.TrimSpace(worldID), strings.TrimSpace(backupID))
	if err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	if affected == 0 {
		return apperrors.WithMetadata(apperrors.CodeBackupNotFound,
			"backup not found",
			map[string]string{"world_id": worldID, "backup_id": backupID})
	}
	return nil
}

func scanBackup(scan func(dest ...any) error) (worldstore.BackupRecord, error) {
	var rec worldstore.BackupRecord
	var backupType string
	var createdAt int64
	var retainUntil int64
	err := scan(
		&rec.WorldID,
		&rec.ID,
		&createdAt,
		&backupType,
		&rec.Algorithm,
		&rec.BaselineID,
		&rec.Checksum,
		&rec.OriginalSize,
		&rec.CompressedSize,
		&rec.Ratio,
		&retainUntil,
		&rec.IntegrityOK,
		&rec.Payload,
	)
	if err != nil {
		return worldstore.BackupRecord{}, err
	}
	rec.Type = worldstore.BackupType(backupType)
	rec.CreatedAt = fromMillis(createdAt)
	rec.RetainUntil = fromMillis(retainUntil)
	return rec, nil
}

var _ worldstore.BackupStore = (*Store)(nil)

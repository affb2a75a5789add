package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

// AppendCorruption inserts one corruption history record.
func (s *Store) AppendCorruption(ctx context.Context, rec worldstore.CorruptionRecord) error {
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
		return fmt.Errorf("corruption record id is required")
	}

	affected, err := json.Marshal(rec.AffectedElementID)
	if err != nil {
		return fmt.Errorf("marshal affected elements: %w", err)
	}
	detectedAt := rec.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = s.clock()
	}
	var repairedAt any
	if rec.RepairedAt != nil {
		repairedAt = toMillis(*rec.RepairedAt)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
		INSERT INTO corruption_records (
		  world_id, id, detected_at, kind, severity, estimated_loss_pct,
		  affected_element_ids, repaired, repaired_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.WorldID,
		rec.ID,
		toMillis(detectedAt),
		string(rec.Kind),
		rec.Severity,
		rec.EstimatedLossPct,
		string(affected),
		rec.Repaired,
		repairedAt,
	)
	if err != nil {
		return fmt.Errorf("append corruption: %w", err)
	}
	return nil
}

// ListCorruption returns the corruption history for a world, newest first.
func (s *Store) ListCorruption(ctx context.Context, worldID string) ([]worldstore.CorruptionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT world_id, id, detected_at, kind, severity, estimated_loss_pct,
		       affected_element_ids, repaired, repaired_at
		  FROM corruption_records
		 WHERE world_id = ?
		 ORDER BY detected_at DESC, id DESC`,
		strings.TrimSpace(worldID))
	if err != nil {
		return nil, fmt.Errorf("list corruption: %w", err)
	}
	defer rows.Close()

	var records []worldstore.CorruptionRecord
	for rows.Next() {
		var rec worldstore.CorruptionRecord
		var kind string
		var detectedAt int64
		var affected string
		var repairedAt sql.NullInt64
		if err := rows.Scan(
			&rec.WorldID,
			&rec.ID,
			&detectedAt,
			&kind,
			&rec.Severity,
			&rec.EstimatedLossPct,
			&affected,
			&rec.Repaired,
			&repairedAt,
		); err != nil {
			return nil, fmt.Errorf("list corruption: %w", err)
		}
		rec.Kind = worldstore.CorruptionKind(kind)
		rec.DetectedAt = fromMillis(detectedAt)
		if err := json.Unmarshal([]byte(affected), &rec.AffectedElementID); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode affected elements", err)
		}
		if repairedAt.Valid {
			at := fromMillis(repairedAt.Int64)
			rec.RepairedAt = &at
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendTelemetryEvent inserts one operational telemetry event.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt worldstore.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(evt.Kind) == "" {
		return fmt.Errorf("telemetry kind is required")
	}

	timestamp := evt.Timestamp
	if timestamp.IsZero() {
		timestamp = s.clock()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO telemetry_events (world_id, kind, severity, message, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		evt.WorldID,
		evt.Kind,
		evt.Severity,
		evt.Message,
		toMillis(timestamp),
	)
	if err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}

var _ worldstore.CorruptionStore = (*Store)(nil)
var _ worldstore.TelemetryStore = (*Store)(nil)

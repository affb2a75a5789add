package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/worldvault/internal/codec"
	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/platform/id"
	"github.com/louisbranch/worldvault/internal/world"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

// SaveWorld bumps the version, stamps last-modified, appends a save event to
// the active branch timeline, and writes the metadata row plus every joined
// collection in a single transaction. When the serialized graph exceeds the
// codec threshold a compressed snapshot is stored alongside the rows. The
// caller's copy is only updated after the transaction commits.
func (s *Store) SaveWorld(ctx context.Context, w *world.World) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
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
	snapshotAlgorithm := ""
	var snapshot []byte
	if env.Algorithm != codec.AlgorithmNone {
		snapshotAlgorithm = string(env.Algorithm)
		snapshot = env.Data
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransactionFailed, "begin save transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM worlds WHERE id = ?`, next.ID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if s.maxWorlds > 0 {
			var count int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM worlds`).Scan(&count); err != nil {
				return apperrors.Wrap(apperrors.CodeTransactionFailed, "count worlds", err)
			}
			if count >= s.maxWorlds {
				return worldstore.ErrQuotaExceeded
			}
		}
	case err != nil:
		return apperrors.Wrap(apperrors.CodeTransactionFailed, "check world exists", err)
	}

	tags, err := json.Marshal(next.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	creativeState, err := json.Marshal(next.CreativeState)
	if err != nil {
		return fmt.Errorf("marshal creative state: %w", err)
	}
	settings, err := json.Marshal(next.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	stats, err := json.Marshal(next.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO worlds (
		  id, name, description, created_at, last_modified, version,
		  active_branch_id, owned, tags, creative_state, settings, stats,
		  snapshot_algorithm, snapshot_original_size, snapshot
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		  name = excluded.name,
		  description = excluded.description,
		  last_modified = excluded.last_modified,
		  version = excluded.version,
		  active_branch_id = excluded.active_branch_id,
		  owned = excluded.owned,
		  tags = excluded.tags,
		  creative_state = excluded.creative_state,
		  settings = excluded.settings,
		  stats = excluded.stats,
		  snapshot_algorithm = excluded.snapshot_algorithm,
		  snapshot_original_size = excluded.snapshot_original_size,
		  snapshot = excluded.snapshot`,
		next.ID,
		next.Name,
		next.Description,
		toMillis(next.CreatedAt),
		toMillis(next.LastModified),
		next.Version,
		next.ActiveBranchID,
		next.Owned,
		string(tags),
		string(creativeState),
		string(settings),
		string(stats),
		snapshotAlgorithm,
		env.OriginalSize,
		snapshot,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransactionFailed, "upsert world row", err)
	}

	for _, table := range []string{"elements", "branches", "patterns", "timeline_events"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE world_id = ?`, next.ID); err != nil {
			return apperrors.Wrap(apperrors.CodeTransactionFailed, "clear "+table, err)
		}
	}

	if err := insertCollections(ctx, tx, &next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeTransactionFailed, "commit save transaction", err)
	}

	*w = next
	return nil
}

func insertCollections(ctx context.Context, tx *sql.Tx, w *world.World) error {
	for i := range w.Elements {
		el := &w.Elements[i]
		payload, err := json.Marshal(el)
		if err != nil {
			return fmt.Errorf("marshal element %s: %w", el.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO elements (world_id, id, type, name, version, updated_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			w.ID, el.ID, el.Type, el.Meta.Name, el.Meta.Version,
			toMillis(el.Meta.UpdatedAt), string(payload),
		)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeTransactionFailed, "insert element row", err)
		}
	}

	for i := range w.Branches {
		br := &w.Branches[i]
		// Events live in timeline_events rows; the branch payload carries
		// everything else so the two never drift apart on load.
		trimmed := *br
		trimmed.Events = nil
		payload, err := json.Marshal(trimmed)
		if err != nil {
			return fmt.Errorf("marshal branch %s: %w", br.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO branches (world_id, id, name, parent_id, is_active, diverged_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			w.ID, br.ID, br.Name, br.ParentID, br.IsActive,
			toMillis(br.DivergedAt), string(payload),
		)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeTransactionFailed, "insert branch row", err)
		}

		for j := range br.Events {
			evt := &br.Events[j]
			eventPayload, err := json.Marshal(evt)
			if err != nil {
				return fmt.Errorf("marshal timeline event %s: %w", evt.ID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO timeline_events (world_id, branch_id, id, type, timestamp, payload)
				VALUES (?, ?, ?, ?, ?, ?)`,
				w.ID, br.ID, evt.ID, string(evt.Type),
				toMillis(evt.Timestamp), string(eventPayload),
			)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeTransactionFailed, "insert timeline event row", err)
			}
		}
	}

	for i := range w.Patterns {
		p := &w.Patterns[i]
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal pattern %s: %w", p.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO patterns (world_id, id, type, payload)
			VALUES (?, ?, ?, ?)`,
			w.ID, p.ID, p.Type, string(payload),
		)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeTransactionFailed, "insert pattern row", err)
		}
	}

	return nil
}

// LoadWorld reconstructs the aggregate. When a compressed snapshot is
// present it is decompressed and decoded directly; otherwise the graph is
// rebuilt from the joined collection rows, loaded concurrently.
func (s *Store) LoadWorld(ctx context.Context, worldID string) (world.World, error) {
	if err := ctx.Err(); err != nil {
		return world.World{}, err
	}
	if s == nil || s.sqlDB == nil {
		return world.World{}, fmt.Errorf("storage is not configured")
	}
	worldID = strings.TrimSpace(worldID)
	if worldID == "" {
		return world.World{}, fmt.Errorf("world id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, last_modified, version,
		       active_branch_id, owned, tags, creative_state, settings, stats,
		       snapshot_algorithm, snapshot_original_size, snapshot
		  FROM worlds
		 WHERE id = ?`, worldID)

	var (
		w                    world.World
		createdAt            int64
		lastModified         int64
		tags                 string
		creativeState        string
		settings             string
		stats                string
		snapshotAlgorithm    string
		snapshotOriginalSize int
		snapshot             []byte
	)
	err := row.Scan(
		&w.ID, &w.Name, &w.Description, &createdAt, &lastModified, &w.Version,
		&w.ActiveBranchID, &w.Owned, &tags, &creativeState, &settings, &stats,
		&snapshotAlgorithm, &snapshotOriginalSize, &snapshot,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return world.World{}, worldstore.ErrNotFound
		}
		return world.World{}, fmt.Errorf("load world %s: %w", worldID, err)
	}

	if snapshotAlgorithm != "" {
		doc, err := s.codec.Decompress(codec.Envelope{
			Algorithm:    codec.Algorithm(snapshotAlgorithm),
			OriginalSize: snapshotOriginalSize,
			Data:         snapshot,
		})
		if err != nil {
			return world.World{}, apperrors.Wrap(apperrors.CodeCorruptPayload,
				"decompress world snapshot", err)
		}
		var loaded world.World
		if err := json.Unmarshal(doc, &loaded); err != nil {
			return world.World{}, apperrors.Wrap(apperrors.CodeCorruptPayload,
				"decode world snapshot", err)
		}
		return loaded, nil
	}

	w.CreatedAt = fromMillis(createdAt)
	w.LastModified = fromMillis(lastModified)
	if err := json.Unmarshal([]byte(tags), &w.Tags); err != nil {
		return world.World{}, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode tags", err)
	}
	if err := json.Unmarshal([]byte(creativeState), &w.CreativeState); err != nil {
		return world.World{}, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode creative state", err)
	}
	if err := json.Unmarshal([]byte(settings), &w.Settings); err != nil {
		return world.World{}, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode settings", err)
	}
	if err := json.Unmarshal([]byte(stats), &w.Stats); err != nil {
		return world.World{}, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode stats", err)
	}

	var (
		elements []world.Element
		branches []world.Branch
		patterns []world.Pattern
		events   map[string][]world.TimelineEvent
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		elements, err = s.loadElements(groupCtx, worldID)
		return err
	})
	group.Go(func() error {
		var err error
		branches, err = s.loadBranches(groupCtx, worldID)
		return err
	})
	group.Go(func() error {
		var err error
		patterns, err = s.loadPatterns(groupCtx, worldID)
		return err
	})
	group.Go(func() error {
		var err error
		events, err = s.loadTimelineEvents(groupCtx, worldID)
		return err
	})
	if err := group.Wait(); err != nil {
		return world.World{}, err
	}

	for i := range branches {
		branches[i].Events = events[branches[i].ID]
	}
	w.Elements = elements
	w.Branches = branches
	w.Patterns = patterns
	return w, nil
}

func (s *Store) loadElements(ctx context.Context, worldID string) ([]world.Element, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT payload FROM elements WHERE world_id = ? ORDER BY id ASC`, worldID)
	if err != nil {
		return nil, fmt.Errorf("load elements: %w", err)
	}
	defer rows.Close()

	var elements []world.Element
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("load elements: %w", err)
		}
		var el world.Element
		if err := json.Unmarshal([]byte(payload), &el); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode element row", err)
		}
		elements = append(elements, el)
	}
	return elements, rows.Err()
}

func (s *Store) loadBranches(ctx context.Context, worldID string) ([]world.Branch, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT payload FROM branches WHERE world_id = ? ORDER BY diverged_at ASC, id ASC`, worldID)
	if err != nil {
		return nil, fmt.Errorf("load branches: %w", err)
	}
	defer rows.Close()

	var branches []world.Branch
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("load branches: %w", err)
		}
		var br world.Branch
		if err := json.Unmarshal([]byte(payload), &br); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode branch row", err)
		}
		branches = append(branches, br)
	}
	return branches, rows.Err()
}

func (s *Store) loadPatterns(ctx context.Context, worldID string) ([]world.Pattern, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT payload FROM patterns WHERE world_id = ? ORDER BY id ASC`, worldID)
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	defer rows.Close()

	var patterns []world.Pattern
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("load patterns: %w", err)
		}
		var p world.Pattern
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode pattern row", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func (s *Store) loadTimelineEvents(ctx context.Context, worldID string) (map[string][]world.TimelineEvent, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT branch_id, payload FROM timeline_events WHERE world_id = ? ORDER BY seq ASC`, worldID)
	if err != nil {
		return nil, fmt.Errorf("load timeline events: %w", err)
	}
	defer rows.Close()

	events := make(map[string][]world.TimelineEvent)
	for rows.Next() {
		var branchID string
		var payload string
		if err := rows.Scan(&branchID, &payload); err != nil {
			return nil, fmt.Errorf("load timeline events: %w", err)
		}
		var evt world.TimelineEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode timeline event row", err)
		}
		events[branchID] = append(events[branchID], evt)
	}
	return events, rows.Err()
}

// DeleteWorld removes the world row, its joined collections, and its
// bookkeeping records in one transaction. Backups are removed too; deletion
// is an explicit caller decision, unlike corruption.
func (s *Store) DeleteWorld(ctx context.Context, worldID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	worldID = strings.TrimSpace(worldID)
	if worldID == "" {
		return fmt.Errorf("world id is required")
	}

	unlock := s.lockWorld(worldID)
	defer unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransactionFailed, "begin delete transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM worlds WHERE id = ?`, worldID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransactionFailed, "delete world row", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransactionFailed, "delete world row", err)
	}
	if affected == 0 {
		return worldstore.ErrNotFound
	}

	for _, table := range []string{"backups", "conflict_records", "corruption_records", "sync_status"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE world_id = ?`, worldID); err != nil {
			return apperrors.Wrap(apperrors.CodeTransactionFailed, "delete "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeTransactionFailed, "commit delete transaction", err)
	}
	return nil
}

// ListWorlds returns summaries ordered by most recently modified first.
func (s *Store) ListWorlds(ctx context.Context) ([]world.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, name, last_modified, version
		  FROM worlds
		 ORDER BY last_modified DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	defer rows.Close()

	var summaries []world.Summary
	for rows.Next() {
		var summary world.Summary
		var lastModified int64
		if err := rows.Scan(&summary.ID, &summary.Name, &lastModified, &summary.Version); err != nil {
			return nil, fmt.Errorf("list worlds: %w", err)
		}
		summary.LastModified = fromMillis(lastModified)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

var _ worldstore.WorldStore = (*Store)(nil)

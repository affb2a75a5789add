package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/louisbranch/worldvault/internal/codec"
	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/telemetry"
	"github.com/louisbranch/worldvault/internal/world"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

// RestoreMode selects how a backup is applied to the current state.
type RestoreMode string

const (
	// RestoreReplace discards the current state; the backup wins entirely.
	RestoreReplace RestoreMode = "replace"
	// RestoreMerge merges backup and current state under the element and
	// branch merge rules shared with the sync service.
	RestoreMerge RestoreMode = "merge"
	// RestoreSelective restores only the named elements and branches.
	RestoreSelective RestoreMode = "selective"
)

// RestoreOptions tunes a RestoreFromBackup call.
type RestoreOptions struct {
	Mode RestoreMode
	// DryRun computes the would-be result without persisting anything.
	DryRun bool
	// SkipPreRestoreBackup suppresses the safety snapshot of current state.
	SkipPreRestoreBackup bool
	// ElementIDs and BranchIDs drive selective restores.
	ElementIDs []string
	BranchIDs  []string
	// Policy applies to merge restores. Defaults to newest.
	Policy world.FieldConflictPolicy
}

// RestoreFromBackup verifies, decompresses, and applies a backup. The backup
// checksum is verified before anything else; a mismatch aborts the restore.
// Unless suppressed, the current state is snapshotted first so a bad restore
// is itself recoverable.
func (s *Service) RestoreFromBackup(ctx context.Context, worldID, backupID string, opts RestoreOptions) (world.World, error) {
	mode := opts.Mode
	if mode == "" {
		mode = RestoreReplace
	}

	rec, err := s.store.GetBackup(ctx, worldID, backupID)
	if err != nil {
		return world.World{}, err
	}
	if checksumHex(rec.Payload) != rec.Checksum {
		return world.World{}, apperrors.WithMetadata(apperrors.CodeChecksumMismatch,
			"backup payload does not match its checksum",
			map[string]string{"world_id": worldID, "backup_id": backupID})
	}

	doc, err := s.codec.Decompress(codec.Envelope{
		Algorithm:    codec.Algorithm(rec.Algorithm),
		OriginalSize: int(rec.OriginalSize),
		BaselineID:   rec.BaselineID,
		Data:         rec.Payload,
	})
	if err != nil {
		return world.World{}, err
	}
	var fromBackup world.World
	if err := json.Unmarshal(doc, &fromBackup); err != nil {
		return world.World{}, apperrors.Wrap(apperrors.CodeCorruptPayload,
			"decode backup payload", err)
	}

	current, loadErr := s.store.LoadWorld(ctx, worldID)
	if loadErr != nil && !errors.Is(loadErr, worldstore.ErrNotFound) {
		// The current state may be exactly why we're restoring. Treat an
		// unloadable world like an absent one.
		loadErr = worldstore.ErrNotFound
	}

	if !opts.DryRun && !opts.SkipPreRestoreBackup && loadErr == nil {
		// Best effort: a current state with critical errors is refused by
		// CreateBackup, and that must not block the restore.
		_, _ = s.CreateBackup(ctx, worldID, worldstore.BackupPreRestore)
	}

	var result world.World
	switch mode {
	case RestoreReplace:
		result = fromBackup
	case RestoreMerge:
		if loadErr != nil {
			result = fromBackup
			break
		}
		merged, err := world.Merge(current, fromBackup, world.MergeOptions{
			Policy: opts.Policy,
			Clock:  s.clock,
		})
		if err != nil {
			return world.World{}, err
		}
		result = merged.World
	case RestoreSelective:
		if loadErr != nil {
			return world.World{}, apperrors.WithMetadata(apperrors.CodeRepairNotPossible,
				"selective restore needs a loadable current state",
				map[string]string{"world_id": worldID})
		}
		result = applySelective(current, fromBackup, opts.ElementIDs, opts.BranchIDs)
	default:
		return world.World{}, fmt.Errorf("unknown restore mode %q", mode)
	}

	if opts.DryRun {
		return result, nil
	}

	if err := s.store.SaveWorld(ctx, &result); err != nil {
		return world.World{}, err
	}
	observeRestore(mode)
	s.emit(ctx, worldID, telemetry.SeverityWarn, "restore",
		fmt.Sprintf("restored from backup %s in %s mode", backupID, mode))
	return result, nil
}

// applySelective copies the named elements and branches from the backup into
// a clone of the current state. Elements missing from the current state are
// appended; branches never steal the active flag.
func applySelective(current, fromBackup world.World, elementIDs, branchIDs []string) world.World {
	result := current.Clone()

	for _, elementID := range elementIDs {
		backupEl, ok := fromBackup.ElementByID(elementID)
		if !ok {
			continue
		}
		if el, ok := result.ElementByID(elementID); ok {
			*el = *backupEl
			continue
		}
		result.Elements = append(result.Elements, *backupEl)
	}

	for _, branchID := range branchIDs {
		backupBr, ok := fromBackup.BranchByID(branchID)
		if !ok {
			continue
		}
		restored := *backupBr
		restored.IsActive = result.ActiveBranchID == branchID
		if br, ok := result.BranchByID(branchID); ok {
			*br = restored
			continue
		}
		restored.IsActive = false
		result.Branches = append(result.Branches, restored)
	}

	result.RefreshStats()
	return result
}

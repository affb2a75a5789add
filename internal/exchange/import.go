package exchange

import (
	"context"
	"encoding/json"
	"errors"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/platform/id"
	"github.com/louisbranch/worldvault/internal/world"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

// ConflictResolution names how an import handles an existing world with the
// same identifier.
type ConflictResolution string

const (
	ResolutionReplace ConflictResolution = "replace"
	ResolutionMerge   ConflictResolution = "merge"
	ResolutionSkip    ConflictResolution = "skip"
	ResolutionRename  ConflictResolution = "rename"
	// ResolutionPrompt refuses to decide. The caller surfaces the conflict
	// and re-imports with an explicit resolution.
	ResolutionPrompt ConflictResolution = "prompt"
)

// ImportOptions tunes a single import.
type ImportOptions struct {
	ConflictResolution ConflictResolution
	// PreserveIDs keeps the envelope's identifiers. When false every world,
	// element, branch, and pattern id is regenerated and cross-references
	// are remapped consistently.
	PreserveIDs    bool
	ValidateSchema bool
	// CreateBackup snapshots the existing world before it is replaced or
	// merged over. A failed snapshot aborts the import.
	CreateBackup bool
}

// ImportAction names what an import pass did.
type ImportAction string

const (
	ActionCreated  ImportAction = "created"
	ActionReplaced ImportAction = "replaced"
	ActionMerged   ImportAction = "merged"
	ActionSkipped  ImportAction = "skipped"
	ActionRenamed  ImportAction = "renamed"
)

// ImportResult is the outcome of an import pass.
type ImportResult struct {
	World  world.World
	Action ImportAction
}

// Import unpacks an envelope and persists the world. The checksum is
// verified before any payload bytes are interpreted; a mismatch always
// aborts.
func (s *Service) Import(ctx context.Context, env Envelope, opts ImportOptions) (ImportResult, error) {
	if !compatible(env) {
		return ImportResult{}, apperrors.WithMetadata(apperrors.CodeIncompatibleEnvelope,
			"envelope version not supported",
			map[string]string{"version": env.Version})
	}

	doc, err := s.unpack(env)
	if err != nil {
		return ImportResult{}, err
	}

	var imported world.World
	if err := json.Unmarshal(doc, &imported); err != nil {
		return ImportResult{}, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode world document", err)
	}

	if opts.ValidateSchema {
		if err := imported.CheckIntegrity(); err != nil {
			return ImportResult{}, apperrors.Wrap(apperrors.CodeSchemaInvalid, "imported world failed validation", err)
		}
	}

	if !opts.PreserveIDs {
		if err := regenerateIDs(&imported); err != nil {
			return ImportResult{}, err
		}
	}

	existing, err := s.store.LoadWorld(ctx, imported.ID)
	switch {
	case errors.Is(err, worldstore.ErrNotFound):
		if saveErr := s.store.SaveWorld(ctx, &imported); saveErr != nil {
			return ImportResult{}, saveErr
		}
		return ImportResult{World: imported, Action: ActionCreated}, nil
	case err != nil:
		return ImportResult{}, err
	}

	switch opts.ConflictResolution {
	case ResolutionSkip:
		return ImportResult{World: existing, Action: ActionSkipped}, nil

	case ResolutionPrompt, "":
		return ImportResult{}, apperrors.WithMetadata(apperrors.CodeImportPromptRequired,
			"world already exists",
			map[string]string{"world_id": imported.ID})

	case ResolutionRename:
		if err := regenerateIDs(&imported); err != nil {
			return ImportResult{}, err
		}
		imported.Name += " (imported)"
		if err := s.store.SaveWorld(ctx, &imported); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{World: imported, Action: ActionRenamed}, nil

	case ResolutionReplace:
		if err := s.preImportBackup(ctx, existing.ID, opts); err != nil {
			return ImportResult{}, err
		}
		// Keep versions monotonic when the envelope is older than the
		// stored world.
		if imported.Version < existing.Version {
			imported.Version = existing.Version
		}
		if err := s.store.SaveWorld(ctx, &imported); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{World: imported, Action: ActionReplaced}, nil

	case ResolutionMerge:
		if err := s.preImportBackup(ctx, existing.ID, opts); err != nil {
			return ImportResult{}, err
		}
		merged, err := world.Merge(existing, imported, world.MergeOptions{Clock: s.clock})
		if err != nil {
			return ImportResult{}, err
		}
		result := merged.World
		if err := s.store.SaveWorld(ctx, &result); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{World: result, Action: ActionMerged}, nil

	default:
		return ImportResult{}, apperrors.WithMetadata(apperrors.CodeImportSkipped,
			"unknown conflict resolution",
			map[string]string{"resolution": string(opts.ConflictResolution)})
	}
}

func (s *Service) preImportBackup(ctx context.Context, worldID string, opts ImportOptions) error {
	if !opts.CreateBackup || s.backup == nil {
		return nil
	}
	_, err := s.backup.CreateBackup(ctx, worldID, worldstore.BackupPreUpdate)
	return err
}

func compatible(env Envelope) bool {
	if env.Version == EnvelopeVersion {
		return true
	}
	for _, v := range env.Metadata.Compatibility {
		if v == EnvelopeVersion {
			return true
		}
	}
	return false
}

// regenerateIDs rewrites every identifier in the world and remaps all
// cross-references so the graph topology survives intact.
func regenerateIDs(w *world.World) error {
	worldID, err := id.NewID()
	if err != nil {
		return err
	}
	w.ID = worldID

	elementIDs := make(map[string]string, len(w.Elements))
	for i := range w.Elements {
		next, err := id.NewID()
		if err != nil {
			return err
		}
		elementIDs[w.Elements[i].ID] = next
		w.Elements[i].ID = next
	}
	for i := range w.Elements {
		rels := w.Elements[i].Relationships
		for j := range rels {
			if mapped, ok := elementIDs[rels[j].TargetID]; ok {
				rels[j].TargetID = mapped
			}
		}
	}

	branchIDs := make(map[string]string, len(w.Branches))
	for i := range w.Branches {
		next, err := id.NewID()
		if err != nil {
			return err
		}
		branchIDs[w.Branches[i].ID] = next
		w.Branches[i].ID = next
	}
	for i := range w.Branches {
		br := &w.Branches[i]
		if mapped, ok := branchIDs[br.ParentID]; ok {
			br.ParentID = mapped
		}
		for j, elementID := range br.ElementIDs {
			if mapped, ok := elementIDs[elementID]; ok {
				br.ElementIDs[j] = mapped
			}
		}
		for j, mergedID := range br.MergedBranchIDs {
			if mapped, ok := branchIDs[mergedID]; ok {
				br.MergedBranchIDs[j] = mapped
			}
		}
		for j := range br.Events {
			evt := &br.Events[j]
			if mapped, ok := elementIDs[evt.TargetID]; ok {
				evt.TargetID = mapped
			}
		}
	}
	if mapped, ok := branchIDs[w.ActiveBranchID]; ok {
		w.ActiveBranchID = mapped
	}

	for i := range w.Patterns {
		next, err := id.NewID()
		if err != nil {
			return err
		}
		w.Patterns[i].ID = next
	}
	return nil
}

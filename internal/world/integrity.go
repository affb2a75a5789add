package world

import (
	"math"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
)

// CheckIntegrity enforces the hard graph invariants a persisted world must
// satisfy. Stores run it before committing a save transaction; a violation
// aborts the write and leaves prior state untouched.
func (w *World) CheckIntegrity() error {
	if w == nil {
		return apperrors.New(apperrors.CodeIntegrityViolation, "world is required")
	}
	if w.ID == "" {
		return apperrors.New(apperrors.CodeWorldIDEmpty, "world id is required")
	}
	if w.Name == "" {
		return apperrors.New(apperrors.CodeWorldNameEmpty, "world name is required")
	}

	elementIDs := make(map[string]struct{}, len(w.Elements))
	for i := range w.Elements {
		el := &w.Elements[i]
		if el.ID == "" {
			return apperrors.New(apperrors.CodeMissingElementID, "element has no identifier")
		}
		if _, dup := elementIDs[el.ID]; dup {
			return apperrors.WithMetadata(apperrors.CodeDuplicateElementID,
				"duplicate element id",
				map[string]string{"element_id": el.ID})
		}
		elementIDs[el.ID] = struct{}{}
		if !finitePosition(el.Position) {
			return apperrors.WithMetadata(apperrors.CodeNonFinitePosition,
				"element position must be finite",
				map[string]string{"element_id": el.ID})
		}
	}

	for i := range w.Elements {
		el := &w.Elements[i]
		for _, rel := range el.Relationships {
			if _, ok := elementIDs[rel.TargetID]; !ok {
				return apperrors.WithMetadata(apperrors.CodeDanglingRelationship,
					"relationship targets a missing element",
					map[string]string{"element_id": el.ID, "target_id": rel.TargetID})
			}
		}
	}

	active := 0
	activeID := ""
	branchIDs := make(map[string]struct{}, len(w.Branches))
	for i := range w.Branches {
		br := &w.Branches[i]
		if br.ID == "" {
			return apperrors.New(apperrors.CodeMissingBranchID, "branch has no identifier")
		}
		if _, dup := branchIDs[br.ID]; dup {
			return apperrors.WithMetadata(apperrors.CodeDuplicateBranchID,
				"duplicate branch id",
				map[string]string{"branch_id": br.ID})
		}
		branchIDs[br.ID] = struct{}{}
		if br.IsActive {
			active++
			activeID = br.ID
		}
		for _, elementID := range br.ElementIDs {
			if _, ok := elementIDs[elementID]; !ok {
				return apperrors.WithMetadata(apperrors.CodeDanglingBranchElement,
					"branch references a missing element",
					map[string]string{"branch_id": br.ID, "element_id": elementID})
			}
		}
	}
	switch {
	case active == 0:
		return apperrors.New(apperrors.CodeNoActiveBranch, "world has no active branch")
	case active > 1:
		return apperrors.New(apperrors.CodeNoActiveBranch, "world has multiple active branches")
	}
	if w.ActiveBranchID != activeID {
		return apperrors.WithMetadata(apperrors.CodeActiveBranchNotFound,
			"active branch pointer does not match the flagged branch",
			map[string]string{"active_branch_id": w.ActiveBranchID, "flagged_branch_id": activeID})
	}
	if _, ok := branchIDs[w.ActiveBranchID]; !ok {
		return apperrors.WithMetadata(apperrors.CodeActiveBranchNotFound,
			"active branch pointer names a missing branch",
			map[string]string{"active_branch_id": w.ActiveBranchID})
	}

	return nil
}

func finitePosition(p Position) bool {
	for _, v := range [3]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

package recovery

import (
	"fmt"
	"time"

	"github.com/louisbranch/worldvault/internal/platform/id"
	"github.com/louisbranch/worldvault/internal/world"
)

// AppliedRepair documents one fix applied during a repair pass.
type AppliedRepair struct {
	Action RepairAction
	Detail string
}

// maxRepairPasses bounds the validate/fix loop. Repairs can expose issues the
// previous pass masked (a dropped duplicate unmasks a dangling reference), so
// the loop runs until clean or until nothing new gets fixed.
const maxRepairPasses = 5

// RepairWorld applies every named repair action against a copy of the world.
// The input is never mutated. The returned slice lists what was fixed; an
// empty slice means the world either was already clean or only has issues no
// named action covers.
func RepairWorld(w world.World, clock func() time.Time) (world.World, []AppliedRepair, error) {
	if clock == nil {
		clock = time.Now
	}
	repaired := w.Clone()
	var applied []AppliedRepair

	for pass := 0; pass < maxRepairPasses; pass++ {
		report := ValidateWorld(&repaired)
		if len(report.Issues) == 0 {
			break
		}
		fixedThisPass := 0
		for _, issue := range report.Issues {
			if issue.Repair == "" {
				continue
			}
			fixed, err := applyRepair(&repaired, issue)
			if err != nil {
				return world.World{}, nil, err
			}
			if fixed != (AppliedRepair{}) {
				applied = append(applied, fixed)
				fixedThisPass++
			}
		}
		if fixedThisPass == 0 {
			break
		}
	}

	if len(applied) > 0 {
		repaired.Touch(clock)
		repaired.RefreshStats()
	}
	return repaired, applied, nil
}

func applyRepair(w *world.World, issue Issue) (AppliedRepair, error) {
	switch issue.Repair {
	case RepairSynthesizeWorldID:
		if w.ID != "" {
			return AppliedRepair{}, nil
		}
		newID, err := id.NewID()
		if err != nil {
			return AppliedRepair{}, err
		}
		w.ID = newID
		return AppliedRepair{Action: issue.Repair, Detail: "assigned world id " + newID}, nil

	case RepairSynthesizeElementID:
		for i := range w.Elements {
			if w.Elements[i].ID != "" {
				continue
			}
			newID, err := id.NewID()
			if err != nil {
				return AppliedRepair{}, err
			}
			w.Elements[i].ID = newID
			return AppliedRepair{Action: issue.Repair, Detail: "assigned element id " + newID}, nil
		}
		return AppliedRepair{}, nil

	case RepairSynthesizeBranchID:
		for i := range w.Branches {
			if w.Branches[i].ID != "" {
				continue
			}
			newID, err := id.NewID()
			if err != nil {
				return AppliedRepair{}, err
			}
			w.Branches[i].ID = newID
			return AppliedRepair{Action: issue.Repair, Detail: "assigned branch id " + newID}, nil
		}
		return AppliedRepair{}, nil

	case RepairDropDuplicateElements:
		seen := make(map[string]struct{}, len(w.Elements))
		kept := w.Elements[:0]
		dropped := 0
		for _, el := range w.Elements {
			if _, dup := seen[el.ID]; dup {
				dropped++
				continue
			}
			seen[el.ID] = struct{}{}
			kept = append(kept, el)
		}
		w.Elements = kept
		if dropped == 0 {
			return AppliedRepair{}, nil
		}
		return AppliedRepair{Action: issue.Repair,
			Detail: fmt.Sprintf("dropped %d duplicate elements", dropped)}, nil

	case RepairDropDuplicateBranches:
		seen := make(map[string]struct{}, len(w.Branches))
		kept := w.Branches[:0]
		dropped := 0
		for _, br := range w.Branches {
			if _, dup := seen[br.ID]; dup {
				dropped++
				continue
			}
			seen[br.ID] = struct{}{}
			kept = append(kept, br)
		}
		w.Branches = kept
		if dropped == 0 {
			return AppliedRepair{}, nil
		}
		return AppliedRepair{Action: issue.Repair,
			Detail: fmt.Sprintf("dropped %d duplicate branches", dropped)}, nil

	case RepairDropDuplicatePatterns:
		seen := make(map[string]struct{}, len(w.Patterns))
		kept := w.Patterns[:0]
		dropped := 0
		for _, p := range w.Patterns {
			if _, dup := seen[p.ID]; dup {
				dropped++
				continue
			}
			seen[p.ID] = struct{}{}
			kept = append(kept, p)
		}
		w.Patterns = kept
		if dropped == 0 {
			return AppliedRepair{}, nil
		}
		return AppliedRepair{Action: issue.Repair,
			Detail: fmt.Sprintf("dropped %d duplicate patterns", dropped)}, nil

	case RepairResetPosition:
		fixed := 0
		for i := range w.Elements {
			el := &w.Elements[i]
			if finite(el.Position.X) && finite(el.Position.Y) && finite(el.Position.Z) {
				continue
			}
			el.Position = world.Position{}
			fixed++
		}
		if fixed == 0 {
			return AppliedRepair{}, nil
		}
		return AppliedRepair{Action: issue.Repair,
			Detail: fmt.Sprintf("reset %d non-finite positions", fixed)}, nil

	case RepairDropDanglingRefs:
		elementIDs := make(map[string]struct{}, len(w.Elements))
		for i := range w.Elements {
			elementIDs[w.Elements[i].ID] = struct{}{}
		}
		dropped := 0
		for i := range w.Elements {
			el := &w.Elements[i]
			kept := el.Relationships[:0]
			for _, rel := range el.Relationships {
				if _, ok := elementIDs[rel.TargetID]; !ok {
					dropped++
					continue
				}
				kept = append(kept, rel)
			}
			el.Relationships = kept
		}
		if dropped == 0 {
			return AppliedRepair{}, nil
		}
		return AppliedRepair{Action: issue.Repair,
			Detail: fmt.Sprintf("dropped %d dangling relationships", dropped)}, nil

	case RepairDropMissingBranchRefs:
		elementIDs := make(map[string]struct{}, len(w.Elements))
		for i := range w.Elements {
			elementIDs[w.Elements[i].ID] = struct{}{}
		}
		dropped := 0
		for i := range w.Branches {
			br := &w.Branches[i]
			kept := br.ElementIDs[:0]
			for _, elementID := range br.ElementIDs {
				if _, ok := elementIDs[elementID]; !ok {
					dropped++
					continue
				}
				kept = append(kept, elementID)
			}
			br.ElementIDs = kept
		}
		if dropped == 0 {
			return AppliedRepair{}, nil
		}
		return AppliedRepair{Action: issue.Repair,
			Detail: fmt.Sprintf("dropped %d missing branch element references", dropped)}, nil

	case RepairActivateFirstBranch:
		if len(w.Branches) == 0 {
			return AppliedRepair{}, nil
		}
		activate := 0
		for i := range w.Branches {
			if w.Branches[i].ID == w.ActiveBranchID {
				activate = i
				break
			}
		}
		for i := range w.Branches {
			w.Branches[i].IsActive = i == activate
		}
		w.ActiveBranchID = w.Branches[activate].ID
		return AppliedRepair{Action: issue.Repair,
			Detail: "activated branch " + w.ActiveBranchID}, nil

	case RepairRepointActiveBranch:
		if br, ok := w.ActiveBranch(); ok {
			w.ActiveBranchID = br.ID
			return AppliedRepair{Action: issue.Repair,
				Detail: "repointed active branch to " + br.ID}, nil
		}
		return AppliedRepair{}, nil

	case RepairResetVersion:
		if w.Version >= 1 {
			return AppliedRepair{}, nil
		}
		w.Version = 1
		return AppliedRepair{Action: issue.Repair, Detail: "reset version to 1"}, nil
	}

	return AppliedRepair{}, nil
}

package recovery

import (
	"fmt"
	"math"

	"github.com/louisbranch/worldvault/internal/world"
)

// Severity ranks how badly an issue compromises a world.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities for max comparisons.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// RepairAction names an automatic fix for a validation issue. An issue with
// an empty action cannot be repaired in place.
type RepairAction string

const (
	RepairSynthesizeWorldID     RepairAction = "synthesize_world_id"
	RepairSynthesizeElementID   RepairAction = "synthesize_element_id"
	RepairSynthesizeBranchID    RepairAction = "synthesize_branch_id"
	RepairDropDuplicateElements RepairAction = "drop_duplicate_elements"
	RepairDropDuplicateBranches RepairAction = "drop_duplicate_branches"
	RepairDropDuplicatePatterns RepairAction = "drop_duplicate_patterns"
	RepairResetPosition         RepairAction = "reset_position"
	RepairDropDanglingRefs      RepairAction = "drop_dangling_relationships"
	RepairDropMissingBranchRefs RepairAction = "drop_missing_branch_elements"
	RepairActivateFirstBranch   RepairAction = "activate_first_branch"
	RepairRepointActiveBranch   RepairAction = "repoint_active_branch"
	RepairResetVersion          RepairAction = "reset_version"
)

// Issue codes.
const (
	CheckMissingWorldID         = "MISSING_WORLD_ID"
	CheckMissingElementID       = "MISSING_ELEMENT_ID"
	CheckDuplicateElementID     = "DUPLICATE_ELEMENT_ID"
	CheckMissingBranchID        = "MISSING_BRANCH_ID"
	CheckDuplicateBranchID      = "DUPLICATE_BRANCH_ID"
	CheckDuplicatePatternID     = "DUPLICATE_PATTERN_ID"
	CheckNonFinitePosition      = "NON_FINITE_POSITION"
	CheckDanglingRelationship   = "DANGLING_RELATIONSHIP"
	CheckMissingBranchElement   = "MISSING_BRANCH_ELEMENT"
	CheckNoActiveBranch         = "NO_ACTIVE_BRANCH"
	CheckActiveBranchNotFound   = "ACTIVE_BRANCH_NOT_FOUND"
	CheckVersionBelowMinimum    = "VERSION_BELOW_MINIMUM"
	CheckMultipleActiveBranches = "MULTIPLE_ACTIVE_BRANCHES"
)

// Issue is one typed validation error.
type Issue struct {
	Code       string
	Severity   Severity
	Message    string
	Repair     RepairAction
	ElementIDs []string
	BranchIDs  []string
}

// Warning is a non-blocking observation with a recommendation.
type Warning struct {
	Message        string
	Recommendation string
}

// Report is the outcome of a validation pass.
type Report struct {
	Issues   []Issue
	Warnings []Warning
}

// IsValid reports whether the world has no critical issues.
func (r Report) IsValid() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityCritical {
			return false
		}
	}
	return true
}

// Repairable reports whether every issue carries a named repair action.
func (r Report) Repairable() bool {
	for _, issue := range r.Issues {
		if issue.Repair == "" {
			return false
		}
	}
	return true
}

// MaxSeverity returns the highest severity present, or empty when clean.
func (r Report) MaxSeverity() Severity {
	var max Severity
	for _, issue := range r.Issues {
		if issue.Severity.rank() > max.rank() {
			max = issue.Severity
		}
	}
	return max
}

// AffectedElementIDs returns the union of element ids named by issues.
func (r Report) AffectedElementIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, issue := range r.Issues {
		for _, elementID := range issue.ElementIDs {
			if _, dup := seen[elementID]; dup {
				continue
			}
			seen[elementID] = struct{}{}
			ids = append(ids, elementID)
		}
	}
	return ids
}

// ValidateWorld walks the aggregate and reports every invariant violation.
// It never mutates the world and never stops at the first problem.
func ValidateWorld(w *world.World) Report {
	var report Report
	if w == nil {
		report.Issues = append(report.Issues, Issue{
			Code:     CheckMissingWorldID,
			Severity: SeverityCritical,
			Message:  "world is missing",
		})
		return report
	}

	if w.ID == "" {
		report.Issues = append(report.Issues, Issue{
			Code:     CheckMissingWorldID,
			Severity: SeverityCritical,
			Message:  "world has no identifier",
			Repair:   RepairSynthesizeWorldID,
		})
	}
	if w.Version < 1 {
		report.Issues = append(report.Issues, Issue{
			Code:     CheckVersionBelowMinimum,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("version %d is below the minimum of 1", w.Version),
			Repair:   RepairResetVersion,
		})
	}

	elementIDs := make(map[string]struct{}, len(w.Elements))
	for i := range w.Elements {
		el := &w.Elements[i]
		if el.ID == "" {
			report.Issues = append(report.Issues, Issue{
				Code:     CheckMissingElementID,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("element at index %d has no identifier", i),
				Repair:   RepairSynthesizeElementID,
			})
			continue
		}
		if _, dup := elementIDs[el.ID]; dup {
			report.Issues = append(report.Issues, Issue{
				Code:       CheckDuplicateElementID,
				Severity:   SeverityCritical,
				Message:    fmt.Sprintf("element id %q appears more than once", el.ID),
				Repair:     RepairDropDuplicateElements,
				ElementIDs: []string{el.ID},
			})
			continue
		}
		elementIDs[el.ID] = struct{}{}
		if !finite(el.Position.X) || !finite(el.Position.Y) || !finite(el.Position.Z) {
			report.Issues = append(report.Issues, Issue{
				Code:       CheckNonFinitePosition,
				Severity:   SeverityMedium,
				Message:    fmt.Sprintf("element %q has a non-finite position", el.ID),
				Repair:     RepairResetPosition,
				ElementIDs: []string{el.ID},
			})
		}
	}

	for i := range w.Elements {
		el := &w.Elements[i]
		for _, rel := range el.Relationships {
			if _, ok := elementIDs[rel.TargetID]; !ok {
				report.Issues = append(report.Issues, Issue{
					Code:       CheckDanglingRelationship,
					Severity:   SeverityHigh,
					Message:    fmt.Sprintf("element %q relates to missing element %q", el.ID, rel.TargetID),
					Repair:     RepairDropDanglingRefs,
					ElementIDs: []string{el.ID, rel.TargetID},
				})
			}
		}
	}

	branchIDs := make(map[string]struct{}, len(w.Branches))
	active := 0
	for i := range w.Branches {
		br := &w.Branches[i]
		if br.ID == "" {
			report.Issues = append(report.Issues, Issue{
				Code:     CheckMissingBranchID,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("branch at index %d has no identifier", i),
				Repair:   RepairSynthesizeBranchID,
			})
		} else if _, dup := branchIDs[br.ID]; dup {
			report.Issues = append(report.Issues, Issue{
				Code:      CheckDuplicateBranchID,
				Severity:  SeverityCritical,
				Message:   fmt.Sprintf("branch id %q appears more than once", br.ID),
				Repair:    RepairDropDuplicateBranches,
				BranchIDs: []string{br.ID},
			})
		} else {
			branchIDs[br.ID] = struct{}{}
		}
		if br.IsActive {
			active++
		}
		for _, elementID := range br.ElementIDs {
			if _, ok := elementIDs[elementID]; !ok {
				report.Issues = append(report.Issues, Issue{
					Code:       CheckMissingBranchElement,
					Severity:   SeverityHigh,
					Message:    fmt.Sprintf("branch %q references missing element %q", br.ID, elementID),
					Repair:     RepairDropMissingBranchRefs,
					BranchIDs:  []string{br.ID},
					ElementIDs: []string{elementID},
				})
			}
		}
	}
	switch {
	case active == 0:
		report.Issues = append(report.Issues, Issue{
			Code:     CheckNoActiveBranch,
			Severity: SeverityHigh,
			Message:  "no branch is marked active",
			Repair:   RepairActivateFirstBranch,
		})
	case active > 1:
		report.Issues = append(report.Issues, Issue{
			Code:     CheckMultipleActiveBranches,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("%d branches are marked active", active),
			Repair:   RepairActivateFirstBranch,
		})
	}
	if active == 1 {
		if _, ok := branchIDs[w.ActiveBranchID]; !ok {
			report.Issues = append(report.Issues, Issue{
				Code:     CheckActiveBranchNotFound,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("active branch id %q not found among branches", w.ActiveBranchID),
				Repair:   RepairRepointActiveBranch,
			})
		} else if br, ok := w.ActiveBranch(); ok && br.ID != w.ActiveBranchID {
			report.Issues = append(report.Issues, Issue{
				Code:     CheckActiveBranchNotFound,
				Severity: SeverityHigh,
				Message:  "active branch pointer does not match the flagged branch",
				Repair:   RepairRepointActiveBranch,
			})
		}
	}

	patternIDs := make(map[string]struct{}, len(w.Patterns))
	for i := range w.Patterns {
		p := &w.Patterns[i]
		if _, dup := patternIDs[p.ID]; dup {
			report.Issues = append(report.Issues, Issue{
				Code:     CheckDuplicatePatternID,
				Severity: SeverityLow,
				Message:  fmt.Sprintf("pattern id %q appears more than once", p.ID),
				Repair:   RepairDropDuplicatePatterns,
			})
			continue
		}
		patternIDs[p.ID] = struct{}{}
	}

	if len(w.Elements) == 0 {
		report.Warnings = append(report.Warnings, Warning{
			Message:        "world has no elements",
			Recommendation: "an empty world is valid but usually indicates a failed import",
		})
	}
	if w.Stats.ElementCount != len(w.Elements) || w.Stats.BranchCount != len(w.Branches) {
		report.Warnings = append(report.Warnings, Warning{
			Message:        "aggregate counters drifted from the graph",
			Recommendation: "counters are recomputed on the next save",
		})
	}

	return report
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

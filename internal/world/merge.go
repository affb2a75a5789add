package world

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/louisbranch/worldvault/internal/platform/id"
)

// FieldConflictPolicy decides what happens when both sides changed the same
// element. Newest picks the later lastModified timestamp; manual keeps the
// local copy and reports the element so the caller can resolve it.
type FieldConflictPolicy string

const (
	PolicyNewest FieldConflictPolicy = "newest"
	PolicyManual FieldConflictPolicy = "manual"
)

// MergeOptions tunes a Merge call.
type MergeOptions struct {
	Policy FieldConflictPolicy
	Clock  func() time.Time
}

// MergeResult is the merged world plus the audit trail of what diverged.
type MergeResult struct {
	World World
	// ConflictElementIDs lists elements both sides changed, resolved by policy.
	ConflictElementIDs []string
	// ManualElementIDs lists elements deferred under the manual policy. The
	// merged world keeps the local copy for these.
	ManualElementIDs []string
	// RenamedBranchIDs lists the new ids of remote branches kept under a
	// conflict rename.
	RenamedBranchIDs []string
}

// Merge combines a local and a remote copy of the same world. Elements
// present on only one side are kept. Elements present on both are resolved
// per the field-conflict policy. Branches present on both sides under the
// same id are kept twice: the local copy untouched, the remote copy renamed
// and flagged rather than silently overwritten. Patterns are unioned; they
// are advisory, so duplicates cost nothing but a redundant suggestion.
func Merge(local, remote World, opts MergeOptions) (MergeResult, error) {
	policy := opts.Policy
	if policy == "" {
		policy = PolicyNewest
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	merged := local.Clone()
	result := MergeResult{}

	localElements := make(map[string]int, len(merged.Elements))
	for i := range merged.Elements {
		localElements[merged.Elements[i].ID] = i
	}
	for i := range remote.Elements {
		remoteEl := remote.Elements[i]
		localIdx, both := localElements[remoteEl.ID]
		if !both {
			merged.Elements = append(merged.Elements, remoteEl.clone())
			continue
		}
		localEl := merged.Elements[localIdx]
		same, err := elementsEqual(localEl, remoteEl)
		if err != nil {
			return MergeResult{}, err
		}
		if same {
			continue
		}
		switch policy {
		case PolicyManual:
			result.ManualElementIDs = append(result.ManualElementIDs, remoteEl.ID)
		default:
			result.ConflictElementIDs = append(result.ConflictElementIDs, remoteEl.ID)
			if remoteEl.Meta.UpdatedAt.After(localEl.Meta.UpdatedAt) {
				merged.Elements[localIdx] = remoteEl.clone()
			}
		}
	}

	localBranches := make(map[string]int, len(merged.Branches))
	for i := range merged.Branches {
		localBranches[merged.Branches[i].ID] = i
	}
	for i := range remote.Branches {
		remoteBr := remote.Branches[i]
		localIdx, both := localBranches[remoteBr.ID]
		if !both {
			kept := remoteBr.clone()
			kept.IsActive = false
			merged.Branches = append(merged.Branches, kept)
			continue
		}
		same, err := branchesEqual(merged.Branches[localIdx], remoteBr)
		if err != nil {
			return MergeResult{}, err
		}
		if same {
			continue
		}
		renamedID, err := id.NewID()
		if err != nil {
			return MergeResult{}, err
		}
		renamed := remoteBr.clone()
		renamed.ID = renamedID
		renamed.Name = remoteBr.Name + " (merged with conflict)"
		renamed.IsActive = false
		renamed.ConflictRenamed = true
		renamed.MergedWithRemote = true
		renamed.ParentID = remoteBr.ID
		merged.Branches = append(merged.Branches, renamed)
		result.RenamedBranchIDs = append(result.RenamedBranchIDs, renamedID)
	}

	localPatterns := make(map[string]struct{}, len(merged.Patterns))
	for i := range merged.Patterns {
		localPatterns[merged.Patterns[i].ID] = struct{}{}
	}
	for i := range remote.Patterns {
		if _, ok := localPatterns[remote.Patterns[i].ID]; !ok {
			merged.Patterns = append(merged.Patterns, remote.Patterns[i].clone())
		}
	}

	sort.Strings(result.ConflictElementIDs)
	sort.Strings(result.ManualElementIDs)

	merged.Touch(clock)
	merged.RefreshStats()
	result.World = merged
	return result, nil
}

func elementsEqual(a, b Element) (bool, error) {
	hashA, err := a.ContentHash()
	if err != nil {
		return false, err
	}
	hashB, err := b.ContentHash()
	if err != nil {
		return false, err
	}
	return hashA == hashB, nil
}

func branchesEqual(a, b Branch) (bool, error) {
	docA, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	docB, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(docA, docB), nil
}

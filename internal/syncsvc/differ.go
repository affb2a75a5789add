package syncsvc

import (
	"sort"

	"github.com/louisbranch/worldvault/internal/world"
)

// Diff is the structural difference between a local and a remote world.
type Diff struct {
	// VersionDrift reports metadata divergence (version or lastModified).
	VersionDrift bool
	// LocalOnly and RemoteOnly are the element-set symmetric difference.
	LocalOnly  []string
	RemoteOnly []string
	// Modified lists common elements whose content hashes differ.
	Modified []string
	// BranchCountMismatch reports differing branch counts.
	BranchCountMismatch bool
}

// Empty reports whether the two worlds are structurally identical.
func (d Diff) Empty() bool {
	return !d.VersionDrift && !d.BranchCountMismatch &&
		len(d.LocalOnly) == 0 && len(d.RemoteOnly) == 0 && len(d.Modified) == 0
}

// diffWorlds computes the structural diff used to decide whether a sync pass
// has anything to reconcile. Content hashes keep per-element comparison cheap
// without shipping payloads.
func diffWorlds(local, remote *world.World) (Diff, error) {
	var diff Diff

	if local.Version != remote.Version || !local.LastModified.Equal(remote.LastModified) {
		diff.VersionDrift = true
	}
	if len(local.Branches) != len(remote.Branches) {
		diff.BranchCountMismatch = true
	}

	localHashes := make(map[string]string, len(local.Elements))
	for i := range local.Elements {
		hash, err := local.Elements[i].ContentHash()
		if err != nil {
			return Diff{}, err
		}
		localHashes[local.Elements[i].ID] = hash
	}

	remoteIDs := make(map[string]struct{}, len(remote.Elements))
	for i := range remote.Elements {
		el := &remote.Elements[i]
		remoteIDs[el.ID] = struct{}{}
		localHash, common := localHashes[el.ID]
		if !common {
			diff.RemoteOnly = append(diff.RemoteOnly, el.ID)
			continue
		}
		remoteHash, err := el.ContentHash()
		if err != nil {
			return Diff{}, err
		}
		if localHash != remoteHash {
			diff.Modified = append(diff.Modified, el.ID)
		}
	}
	for i := range local.Elements {
		if _, ok := remoteIDs[local.Elements[i].ID]; !ok {
			diff.LocalOnly = append(diff.LocalOnly, local.Elements[i].ID)
		}
	}

	sort.Strings(diff.LocalOnly)
	sort.Strings(diff.RemoteOnly)
	sort.Strings(diff.Modified)
	return diff, nil
}

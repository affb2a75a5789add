// Package world defines the persistent world aggregate: a graph of creative
// elements, branching timelines, and advisory patterns rooted at a World.
package world

import (
	"time"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/platform/id"
)

// MainBranchName is the name given to the branch a new world starts on.
const MainBranchName = "main"

// World is the root aggregate persisted by the engine.
type World struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastModified   time.Time     `json:"lastModified"`
	Version        int64         `json:"version"`
	ActiveBranchID string        `json:"activeBranchId"`
	Tags           []string      `json:"tags,omitempty"`
	Owned          bool          `json:"owned"`
	CreativeState  CreativeState `json:"creativeState"`
	Elements       []Element     `json:"elements"`
	Branches       []Branch      `json:"branches"`
	Patterns       []Pattern     `json:"patterns,omitempty"`
	Settings       Settings      `json:"settings"`
	Stats          Stats         `json:"stats"`
}

// New creates a world with version 1 and a single active main branch.
func New(name string, clock func() time.Time) (World, error) {
	if name == "" {
		return World{}, apperrors.New(apperrors.CodeWorldNameEmpty, "world name is required")
	}
	if clock == nil {
		clock = time.Now
	}
	now := clock().UTC()

	worldID, err := id.NewID()
	if err != nil {
		return World{}, err
	}
	branchID, err := id.NewID()
	if err != nil {
		return World{}, err
	}

	w := World{
		ID:             worldID,
		Name:           name,
		CreatedAt:      now,
		LastModified:   now,
		Version:        1,
		ActiveBranchID: branchID,
		Owned:          true,
		Branches: []Branch{{
			ID:         branchID,
			Name:       MainBranchName,
			DivergedAt: now,
			IsActive:   true,
		}},
		Settings: DefaultSettings(),
	}
	w.RefreshStats()
	return w, nil
}

// Touch stamps the last-modified time. Version bumps happen at save time.
func (w *World) Touch(clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	w.LastModified = clock().UTC()
}

// ElementByID returns the element with the given id, if present.
func (w *World) ElementByID(elementID string) (*Element, bool) {
	for i := range w.Elements {
		if w.Elements[i].ID == elementID {
			return &w.Elements[i], true
		}
	}
	return nil, false
}

// BranchByID returns the branch with the given id, if present.
func (w *World) BranchByID(branchID string) (*Branch, bool) {
	for i := range w.Branches {
		if w.Branches[i].ID == branchID {
			return &w.Branches[i], true
		}
	}
	return nil, false
}

// ActiveBranch returns the branch flagged active, if exactly one exists.
func (w *World) ActiveBranch() (*Branch, bool) {
	var active *Branch
	for i := range w.Branches {
		if !w.Branches[i].IsActive {
			continue
		}
		if active != nil {
			return nil, false
		}
		active = &w.Branches[i]
	}
	return active, active != nil
}

// RefreshStats recomputes aggregate counters from the graph.
func (w *World) RefreshStats() {
	events := 0
	for i := range w.Branches {
		events += len(w.Branches[i].Events)
	}
	w.Stats.ElementCount = len(w.Elements)
	w.Stats.BranchCount = len(w.Branches)
	w.Stats.PatternCount = len(w.Patterns)
	w.Stats.EventCount = events
}

// Clone returns a deep copy of the world. Mutating the copy never affects
// the receiver; repair and merge operations work against clones.
func (w World) Clone() World {
	cloned := w
	cloned.Tags = append([]string(nil), w.Tags...)
	cloned.CreativeState = w.CreativeState.clone()
	cloned.Settings = w.Settings.clone()

	cloned.Elements = make([]Element, len(w.Elements))
	for i, el := range w.Elements {
		cloned.Elements[i] = el.clone()
	}
	cloned.Branches = make([]Branch, len(w.Branches))
	for i, br := range w.Branches {
		cloned.Branches[i] = br.clone()
	}
	cloned.Patterns = make([]Pattern, len(w.Patterns))
	for i, p := range w.Patterns {
		cloned.Patterns[i] = p.clone()
	}
	return cloned
}

// Summary is the lightweight listing projection of a world.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LastModified time.Time `json:"lastModified"`
	Version      int64     `json:"version"`
}

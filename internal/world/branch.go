package world

import "time"

// Branch is a named divergent timeline of a world's elements.
type Branch struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	ParentID         string          `json:"parentId,omitempty"`
	DivergedAt       time.Time       `json:"divergedAt"`
	IsActive         bool            `json:"isActive"`
	ElementIDs       []string        `json:"elementIds,omitempty"`
	Events           []TimelineEvent `json:"events,omitempty"`
	MergedBranchIDs  []string        `json:"mergedBranchIds,omitempty"`
	ConflictRenamed  bool            `json:"conflictRenamed,omitempty"`
	MergedWithRemote bool            `json:"mergedWithRemote,omitempty"`
}

// AppendEvent adds an immutable audit event to the branch timeline.
// Events are append-only; nothing in the engine mutates them afterwards.
func (b *Branch) AppendEvent(evt TimelineEvent) {
	b.Events = append(b.Events, evt)
}

func (b Branch) clone() Branch {
	cloned := b
	cloned.ElementIDs = append([]string(nil), b.ElementIDs...)
	cloned.MergedBranchIDs = append([]string(nil), b.MergedBranchIDs...)
	cloned.Events = make([]TimelineEvent, len(b.Events))
	for i, evt := range b.Events {
		cloned.Events[i] = evt.clone()
	}
	return cloned
}

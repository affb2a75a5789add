package world

import (
	"encoding/json"
	"time"
)

// EventType classifies timeline events.
type EventType string

const (
	// EventCreation records an element being created.
	EventCreation EventType = "creation"
	// EventModification records an element being changed.
	EventModification EventType = "modification"
	// EventDeletion records an element being removed.
	EventDeletion EventType = "deletion"
	// EventBranch records a new branch diverging.
	EventBranch EventType = "branch"
	// EventMerge records a branch merge.
	EventMerge EventType = "merge"
	// EventPattern records a pattern being detected or reinforced.
	EventPattern EventType = "pattern"
	// EventInspiration records an externally sourced creative prompt.
	EventInspiration EventType = "inspiration"
	// EventSave records a successful persistence pass.
	EventSave EventType = "save"
)

// TimelineEvent is an immutable audit record on a branch timeline.
type TimelineEvent struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ActorID   string          `json:"actorId,omitempty"`
	TargetID  string          `json:"targetId,omitempty"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
}

func (e TimelineEvent) clone() TimelineEvent {
	cloned := e
	cloned.Before = append(json.RawMessage(nil), e.Before...)
	cloned.After = append(json.RawMessage(nil), e.After...)
	return cloned
}

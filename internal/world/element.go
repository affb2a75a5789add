package world

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Element is a typed node in the world graph.
type Element struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Position      Position       `json:"position"`
	Properties    Properties     `json:"properties"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Meta          ElementMeta    `json:"meta"`
}

// Position is the spatial placement of an element.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Relationship is a typed edge to another element in the same world.
type Relationship struct {
	Type     string `json:"type"`
	TargetID string `json:"targetId"`
}

// ElementMeta carries authorship and per-element versioning.
type ElementMeta struct {
	Name      string    `json:"name,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Author    string    `json:"author,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Properties is the closed set of typed sub-records plus an open extension
// map for fields the schema does not model yet.
type Properties struct {
	Visual      VisualProps      `json:"visual,omitempty"`
	Physics     PhysicsProps     `json:"physics,omitempty"`
	Behavior    BehaviorProps    `json:"behavior,omitempty"`
	Interaction InteractionProps `json:"interaction,omitempty"`
	Extra       map[string]any   `json:"extra,omitempty"`
}

// VisualProps describes how an element is rendered.
type VisualProps struct {
	Color   string  `json:"color,omitempty"`
	Texture string  `json:"texture,omitempty"`
	Scale   float64 `json:"scale,omitempty"`
	Opacity float64 `json:"opacity,omitempty"`
}

// PhysicsProps describes physical simulation hints.
type PhysicsProps struct {
	Mass       float64 `json:"mass,omitempty"`
	Collidable bool    `json:"collidable,omitempty"`
	Anchored   bool    `json:"anchored,omitempty"`
}

// BehaviorProps describes autonomous behavior hints.
type BehaviorProps struct {
	Mobility string   `json:"mobility,omitempty"`
	Routines []string `json:"routines,omitempty"`
}

// InteractionProps describes how players can interact with an element.
type InteractionProps struct {
	Interactive bool     `json:"interactive,omitempty"`
	Triggers    []string `json:"triggers,omitempty"`
}

// ContentHash returns a stable hash of the element's content, used by the
// sync differ to detect per-element drift without shipping payloads.
func (e Element) ContentHash() (string, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal element %s: %w", e.ID, err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(payload)), nil
}

func (e Element) clone() Element {
	cloned := e
	cloned.Relationships = append([]Relationship(nil), e.Relationships...)
	cloned.Meta.Tags = append([]string(nil), e.Meta.Tags...)
	cloned.Properties = e.Properties.clone()
	return cloned
}

func (p Properties) clone() Properties {
	cloned := p
	cloned.Behavior.Routines = append([]string(nil), p.Behavior.Routines...)
	cloned.Interaction.Triggers = append([]string(nil), p.Interaction.Triggers...)
	if p.Extra != nil {
		cloned.Extra = make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			cloned.Extra[k] = v
		}
	}
	return cloned
}

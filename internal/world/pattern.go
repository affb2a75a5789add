package world

import "time"

// Pattern is an advisory aggregate signal derived from repeated
// element/behavior combinations. Patterns are never authoritative state:
// losing one degrades suggestions, not the world.
type Pattern struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Frequency  int64           `json:"frequency"`
	Confidence float64         `json:"confidence"`
	FirstSeen  time.Time       `json:"firstSeen"`
	LastSeen   time.Time       `json:"lastSeen"`
	Evolution  []PatternSample `json:"evolution,omitempty"`
}

// PatternSample is one point in a pattern's evolution trace.
type PatternSample struct {
	At    time.Time `json:"at"`
	Score float64   `json:"score"`
}

func (p Pattern) clone() Pattern {
	cloned := p
	cloned.Evolution = append([]PatternSample(nil), p.Evolution...)
	return cloned
}

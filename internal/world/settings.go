package world

// Settings is the per-world creative profile established during session zero.
// Preference scores run 1-10.
type Settings struct {
	Tone               string   `json:"tone"`
	Consistency        string   `json:"consistency"`
	MysteryPreference  int      `json:"mysteryPreference"`
	SocialComplexity   int      `json:"socialComplexity"`
	CulturalUniqueness int      `json:"culturalUniqueness"`
	MagicalRarity      int      `json:"magicalRarity"`
	HistoricalDepth    int      `json:"historicalDepth"`
	PlayerArchetypes   []string `json:"playerArchetypes,omitempty"`
	EstablishedThemes  []string `json:"establishedThemes,omitempty"`
}

// DefaultSettings mirrors the defaults applied when a world is established
// without an explicit session-zero pass.
func DefaultSettings() Settings {
	return Settings{
		Tone:               "neutral and imaginative",
		Consistency:        "natural",
		MysteryPreference:  6,
		SocialComplexity:   5,
		CulturalUniqueness: 7,
		MagicalRarity:      4,
		HistoricalDepth:    6,
	}
}

func (s Settings) clone() Settings {
	cloned := s
	cloned.PlayerArchetypes = append([]string(nil), s.PlayerArchetypes...)
	cloned.EstablishedThemes = append([]string(nil), s.EstablishedThemes...)
	return cloned
}

// ScoredMetric is an opaque named score tracked by the creative state.
type ScoredMetric struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// CreativeState summarizes the world's creative evolution. The engine
// persists it verbatim; scoring is owned by the narrative layer.
type CreativeState struct {
	PatternHistory   []ScoredMetric `json:"patternHistory,omitempty"`
	EvolutionScore   float64        `json:"evolutionScore"`
	AdaptationTraits []ScoredMetric `json:"adaptationTraits,omitempty"`
}

func (c CreativeState) clone() CreativeState {
	cloned := c
	cloned.PatternHistory = append([]ScoredMetric(nil), c.PatternHistory...)
	cloned.AdaptationTraits = append([]ScoredMetric(nil), c.AdaptationTraits...)
	return cloned
}

// Stats holds aggregate counters refreshed on save.
type Stats struct {
	ElementCount int   `json:"elementCount"`
	BranchCount  int   `json:"branchCount"`
	PatternCount int   `json:"patternCount"`
	EventCount   int   `json:"eventCount"`
	TotalSaves   int64 `json:"totalSaves"`
}

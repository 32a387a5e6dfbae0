package engine

// RecallTrace records per-recall provenance for debugging and tests:
// which seeds each source produced, which edges the expansion walked,
// and the final fused scores.
type RecallTrace struct {
	VectorSeeds  []SeedTrace      `json:"vector_seeds"`
	LexicalSeeds []SeedTrace      `json:"lexical_seeds"`
	EntitySeeds  []SeedTrace      `json:"entity_seeds"`
	Expansion    []ExpansionTrace `json:"expansion,omitempty"`
	Final        []ScoreTrace     `json:"final"`
}

// SeedTrace is one candidate produced by a seed source.
type SeedTrace struct {
	UnitID string  `json:"unit_id"`
	Score  float64 `json:"score"`

	// EntityID is set for entity seeds: the entity that led here.
	EntityID string `json:"entity_id,omitempty"`
}

// ExpansionTrace is one edge the graph expansion traversed.
type ExpansionTrace struct {
	FromUnitID string  `json:"from_unit_id"`
	ToUnitID   string  `json:"to_unit_id"`
	LinkType   string  `json:"link_type"`
	Hop        int     `json:"hop"`
	Weight     float64 `json:"weight"`
}

// ScoreTrace is one unit's fused score components.
type ScoreTrace struct {
	UnitID   string  `json:"unit_id"`
	Semantic float64 `json:"semantic"`
	Lexical  float64 `json:"lexical"`
	Graph    float64 `json:"graph"`
	Recency  float64 `json:"recency"`
	Score    float64 `json:"score"`
	Included bool    `json:"included"`
}

// ExpandedUnitIDs reports the unit IDs reached by graph expansion. Used
// by tests asserting that entity-linked units are reachable.
func (t *RecallTrace) ExpandedUnitIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range t.Expansion {
		if !seen[e.ToUnitID] {
			seen[e.ToUnitID] = true
			ids = append(ids, e.ToUnitID)
		}
	}
	return ids
}

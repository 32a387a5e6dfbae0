package engine

import (
	"fmt"
	"time"

	"github.com/vanvuongngo/hindsight/pkg/types"
)

// ValidationError marks caller mistakes (bad fact type, malformed input).
// It maps to the 4xx class at outer surfaces and is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Config holds the engine tunables. Zero values select the calibrated
// defaults, applied by withDefaults.
type Config struct {
	// TemporalWindow bounds temporal link formation around each unit's
	// occurrence.
	TemporalWindow time.Duration

	// TemporalMaxLinks caps temporal neighbors per new unit.
	TemporalMaxLinks int

	// SemanticTopK and SemanticThreshold bound semantic link formation.
	SemanticTopK      int
	SemanticThreshold float64

	// DedupThreshold is the cosine similarity at which an incoming fact
	// with the same fact type and overlapping occurrence is dropped.
	DedupThreshold float64

	// GraphDecay attenuates activation per hop during recall expansion.
	GraphDecay float64

	// ConsolidationThreshold is the mention count at which an entity's
	// observations are refreshed after a retain.
	ConsolidationThreshold int

	// RecencyHorizon is the lookback beyond which units older than the
	// query timestamp are deprioritized during recall.
	RecencyHorizon time.Duration

	// MaxEntityTokens bounds the entity sidebar per recall.
	MaxEntityTokens int
}

func (c *Config) withDefaults() {
	if c.TemporalWindow <= 0 {
		c.TemporalWindow = 24 * time.Hour
	}
	if c.TemporalMaxLinks < 1 {
		c.TemporalMaxLinks = 10
	}
	if c.SemanticTopK < 1 {
		c.SemanticTopK = 5
	}
	if c.SemanticThreshold <= 0 {
		c.SemanticThreshold = 0.7
	}
	if c.DedupThreshold <= 0 {
		c.DedupThreshold = 0.95
	}
	if c.GraphDecay <= 0 {
		c.GraphDecay = 0.7
	}
	if c.ConsolidationThreshold < 1 {
		c.ConsolidationThreshold = 10
	}
	if c.RecencyHorizon <= 0 {
		c.RecencyHorizon = 30 * 24 * time.Hour
	}
	if c.MaxEntityTokens < 1 {
		c.MaxEntityTokens = 512
	}
}

// RetainItem is one piece of raw text to ingest.
type RetainItem struct {
	// Content is the raw utterance or passage.
	Content string `json:"content"`

	// Timestamp is the reference wall-clock time for resolving relative
	// dates; zero means "now".
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Context is a short descriptor of the source setting, e.g.
	// "podcast between you (Marcus) and Jamie".
	Context string `json:"context,omitempty"`

	// Metadata is copied onto every unit derived from this item.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RetainRequest ingests a batch of items, optionally grouped under a
// document with upsert semantics.
type RetainRequest struct {
	Items      []RetainItem `json:"items"`
	DocumentID string       `json:"document_id,omitempty"`
}

// RetainResult reports what a retain call did. OperationID is set only
// by the async entry point.
type RetainResult struct {
	OperationID string   `json:"operation_id,omitempty"`
	ItemsCount  int      `json:"items_count"`
	UnitIDs     []string `json:"unit_ids,omitempty"`
}

// Budget is the qualitative recall tier controlling seed counts and
// graph expansion depth.
type Budget string

const (
	BudgetLow  Budget = "low"
	BudgetMid  Budget = "mid"
	BudgetHigh Budget = "high"
)

// budgetParams maps a tier onto concrete retrieval bounds.
type budgetParams struct {
	Seeds  int
	Depth  int
	Fanout int
}

var budgetTable = map[Budget]budgetParams{
	BudgetLow:  {Seeds: 8, Depth: 0, Fanout: 0},
	BudgetMid:  {Seeds: 20, Depth: 1, Fanout: 5},
	BudgetHigh: {Seeds: 50, Depth: 2, Fanout: 10},
}

// params resolves the tier, defaulting to mid on empty and erroring on
// unknown values.
func (b Budget) params() (budgetParams, error) {
	if b == "" {
		b = BudgetMid
	}
	p, ok := budgetTable[b]
	if !ok {
		return budgetParams{}, Validationf("invalid budget %q (must be low, mid, or high)", string(b))
	}
	return p, nil
}

// RecallRequest queries a bank's memory graph.
type RecallRequest struct {
	Query string `json:"query"`

	// FactTypes restricts results; empty means all types except
	// observation.
	FactTypes []types.FactType `json:"fact_types,omitempty"`

	Budget    Budget `json:"budget,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`

	// Trace enables the provenance record.
	Trace bool `json:"trace,omitempty"`

	// Filters restricts to units whose metadata contains every pair.
	Filters map[string]string `json:"filters,omitempty"`

	// QueryTimestamp anchors the recency signal and the temporal
	// deprioritization; zero means "now".
	QueryTimestamp time.Time `json:"query_timestamp,omitempty"`

	// IncludeEntities adds the entity sidebar with observations.
	IncludeEntities bool `json:"include_entities,omitempty"`
}

// ScoredMemory is one recall result.
type ScoredMemory struct {
	Unit  *types.MemoryUnit `json:"unit"`
	Score float64           `json:"score"`
}

// EntitySummary is one entity sidebar row: the entity plus its current
// observations.
type EntitySummary struct {
	Entity       *types.Entity       `json:"entity"`
	Observations []*types.MemoryUnit `json:"observations,omitempty"`
}

// RecallResult is the ordered, token-budgeted answer to a recall.
type RecallResult struct {
	Results  []ScoredMemory  `json:"results"`
	Entities []EntitySummary `json:"entities,omitempty"`
	Trace    *RecallTrace    `json:"trace,omitempty"`
}

// ReflectRequest asks the bank to answer a question from its memories,
// colored by its personality and background.
type ReflectRequest struct {
	Query string `json:"query"`

	Budget Budget `json:"budget,omitempty"`

	// Context is optional extra situational framing for the answer.
	Context string `json:"context,omitempty"`

	// FactTypes restricts the underlying recall. Unknown values are
	// rejected, not coerced.
	FactTypes []types.FactType `json:"fact_types,omitempty"`

	IncludeEntities bool `json:"include_entities,omitempty"`
}

// ReflectResult carries the synthesized answer plus the unit IDs it was
// grounded on.
type ReflectResult struct {
	Text     string          `json:"text"`
	BasedOn  []string        `json:"based_on"`
	Entities []EntitySummary `json:"entities,omitempty"`
}

// validateFactTypes rejects unknown fact type strings up front.
func validateFactTypes(fts []types.FactType) error {
	for _, ft := range fts {
		if !types.ValidFactType(string(ft)) {
			return Validationf("invalid fact type %q (must be world, agent, opinion, or observation)", string(ft))
		}
	}
	return nil
}

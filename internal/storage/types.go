package storage

import (
	"errors"
	"time"

	"github.com/vanvuongngo/hindsight/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Page represents a paginated result set.
type Page[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (1-indexed).
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// ListOptions provides pagination for list operations.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 20, max: 200).
	Limit int
}

// Normalize applies defaults and bounds.
func (o *ListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// ListUnitsOptions filters and pages unit listings.
type ListUnitsOptions struct {
	ListOptions

	// FactTypes restricts to the given types. Empty means all types
	// except observation.
	FactTypes []types.FactType

	// DocumentID restricts to units derived from one document.
	DocumentID string

	// EntityID restricts to units mentioning one entity.
	EntityID string

	// IncludeObservations includes observation units when FactTypes is
	// empty. Observations are excluded by default.
	IncludeObservations bool
}

// SearchOptions restricts recall candidate queries.
type SearchOptions struct {
	// Limit is the maximum number of candidates to return.
	Limit int

	// FactTypes restricts to the given types. Empty means all types
	// except observation.
	FactTypes []types.FactType

	// Metadata filters to units whose metadata contains every given
	// key/value pair.
	Metadata map[string]string
}

// Normalize applies defaults and bounds.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
}

// ScoredUnit pairs a unit with a backend relevance score in [0, 1].
type ScoredUnit struct {
	Unit  *types.MemoryUnit
	Score float64
}

// UnitEmbedding is one row of the bank-wide embedding scan.
type UnitEmbedding struct {
	ID        string
	FactType  types.FactType
	Embedding []float32

	// OccurredStart/OccurredEnd support the dedup temporal-overlap rule
	// without a second query.
	OccurredStart time.Time
	OccurredEnd   time.Time
}

// UnitTime is one row of the temporal-candidate scan.
type UnitTime struct {
	ID            string
	OccurredStart time.Time
}

// UnitEntity is one unit_entities membership row.
type UnitEntity struct {
	UnitID   string
	EntityID string
}

// EntityMentionRecord carries one mention-count bump for RecordMentions.
type EntityMentionRecord struct {
	EntityID string
	SeenAt   time.Time
}

// GraphData is the visualization payload for get_graph_data.
type GraphData struct {
	Units    []*types.MemoryUnit
	Entities []*types.Entity
	Links    []types.MemoryLink
}

// BankStats aggregates per-bank counts.
type BankStats struct {
	Units     int            `json:"units"`
	Links     int            `json:"links"`
	Entities  int            `json:"entities"`
	Documents int            `json:"documents"`
	ByType    map[string]int `json:"by_fact_type"`
}

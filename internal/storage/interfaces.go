// Package storage provides composable storage interfaces for the Hindsight
// memory engine.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The engine depends only
// on the combined Store interface; the postgres and sqlite packages provide
// the two backends.
package storage

import (
	"context"
	"time"

	"github.com/vanvuongngo/hindsight/pkg/types"
)

// UnitStore provides persistence and retrieval of memory units.
type UnitStore interface {
	// InsertUnits writes the units in one batched statement, preserving
	// slice order (causal link indices depend on it). IDs must be assigned
	// by the caller before the write.
	InsertUnits(ctx context.Context, units []*types.MemoryUnit) error

	// GetUnit retrieves a unit by ID within a bank.
	// Returns ErrNotFound if the unit doesn't exist.
	GetUnit(ctx context.Context, bankID, id string) (*types.MemoryUnit, error)

	// GetUnits retrieves units by ID. Missing IDs are silently omitted;
	// order of the result matches the order of ids.
	GetUnits(ctx context.Context, bankID string, ids []string) ([]*types.MemoryUnit, error)

	// ListUnits retrieves units with pagination and filtering, ordered by
	// mentioned_at descending.
	ListUnits(ctx context.Context, bankID string, opts ListUnitsOptions) (*Page[types.MemoryUnit], error)

	// AppendUnitMetadata merges extra keys into a unit's metadata map.
	// Existing keys are preserved; only missing keys are added.
	AppendUnitMetadata(ctx context.Context, bankID, id string, extra map[string]string) error

	// DeleteUnits removes units in a bank, optionally restricted to one
	// fact type. Links and unit_entities rows cascade. Returns the number
	// of deleted units.
	DeleteUnits(ctx context.Context, bankID string, factType *types.FactType) (int, error)

	// UnitsInTimeRange returns (id, occurred_start) for units in the bank
	// whose occurred_start falls in [from, to], excluding the given IDs.
	// Candidate source for the temporal link pass.
	UnitsInTimeRange(ctx context.Context, bankID string, from, to time.Time, excludeIDs []string) ([]UnitTime, error)

	// BankEmbeddings returns every stored embedding in the bank except the
	// excluded IDs, in one query. Candidate source for the semantic link
	// pass and for dedup.
	BankEmbeddings(ctx context.Context, bankID string, excludeIDs []string) ([]UnitEmbedding, error)

	// UnitsForEntity returns units linked to the entity via unit_entities,
	// ordered by mentioned_at descending, bounded by limit.
	UnitsForEntity(ctx context.Context, bankID, entityID string, limit int) ([]*types.MemoryUnit, error)
}

// SearchProvider provides the recall candidate queries: vector K-NN and
// full-text search over text + context.
type SearchProvider interface {
	// VectorSearch returns the top-k units by cosine similarity to the
	// query embedding, restricted to the given fact types (empty = all
	// non-observation types) and metadata filters.
	VectorSearch(ctx context.Context, bankID string, query []float32, opts SearchOptions) ([]ScoredUnit, error)

	// TextSearch performs full-text search over text + context with the
	// same restrictions as VectorSearch. Scores are backend-normalized
	// into [0, 1].
	TextSearch(ctx context.Context, bankID, query string, opts SearchOptions) ([]ScoredUnit, error)
}

// LinkStore persists and queries typed edges between units.
type LinkStore interface {
	// InsertLinks writes all links in one batched statement with
	// ON CONFLICT DO NOTHING on the (from, to, type, entity) key.
	InsertLinks(ctx context.Context, links []types.MemoryLink) error

	// LinksFrom returns outgoing links from any of the given units,
	// restricted to the given link types (empty = all).
	LinksFrom(ctx context.Context, bankID string, unitIDs []string, linkTypes []types.LinkType) ([]types.MemoryLink, error)

	// GraphData returns the bank's units and links for visualization,
	// optionally restricted to one fact type.
	GraphData(ctx context.Context, bankID string, factType *types.FactType) (*GraphData, error)
}

// EntityStore manages canonical entities and unit-entity membership.
type EntityStore interface {
	// GetEntity retrieves an entity by ID.
	// Returns ErrNotFound if the entity doesn't exist.
	GetEntity(ctx context.Context, bankID, id string) (*types.Entity, error)

	// FindEntityByName does an exact canonical-name match within the bank.
	// Returns ErrNotFound when no entity has that name.
	FindEntityByName(ctx context.Context, bankID, name string) (*types.Entity, error)

	// SearchEntitiesByName returns up to limit entities whose canonical
	// name contains the pattern (case-insensitive). Seeds LLM arbitration.
	SearchEntitiesByName(ctx context.Context, bankID, pattern string, limit int) ([]*types.Entity, error)

	// ListEntities pages through a bank's entities ordered by mention
	// count descending.
	ListEntities(ctx context.Context, bankID string, opts ListOptions) (*Page[types.Entity], error)

	// CreateEntity inserts the entity row. The caller assigns the ID.
	CreateEntity(ctx context.Context, entity *types.Entity) error

	// RecordMentions bumps mention_count and widens first_seen/last_seen
	// for each (entity, seenAt) pair in one statement.
	RecordMentions(ctx context.Context, mentions []EntityMentionRecord) error

	// LinkUnitsToEntities writes unit_entities rows in bulk with
	// ON CONFLICT DO NOTHING.
	LinkUnitsToEntities(ctx context.Context, pairs []UnitEntity) error

	// EntitiesForUnits returns the entity IDs referenced by each unit.
	EntitiesForUnits(ctx context.Context, unitIDs []string) (map[string][]string, error)

	// WithEntityLock runs fn while holding a per-entity advisory lock so
	// two observation refreshes cannot race.
	WithEntityLock(ctx context.Context, entityID string, fn func(context.Context) error) error

	// ReplaceObservations deletes the entity's prior observation units and
	// inserts the new ones with their entity links, in one transaction.
	// Prior observations are identified by the entity_id back-reference
	// in their metadata, so an observation linked to several entities is
	// only replaced by a refresh of the entity it summarizes.
	ReplaceObservations(ctx context.Context, bankID, entityID string, units []*types.MemoryUnit, pairs []UnitEntity) error
}

// DocumentStore manages document rows and their upsert semantics.
type DocumentStore interface {
	// ReplaceDocument deletes any prior document with the same (bank, id)
	// — cascading its derived units and links — then inserts the fresh
	// row, all in one transaction.
	ReplaceDocument(ctx context.Context, doc *types.Document) error

	// UpdateDocumentUnitCount records the number of units derived from
	// the document after extraction completes.
	UpdateDocumentUnitCount(ctx context.Context, bankID, id string, count int) error

	// GetDocument retrieves a document by (bank, id).
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, bankID, id string) (*types.Document, error)

	// ListDocuments pages through a bank's documents by updated_at desc.
	ListDocuments(ctx context.Context, bankID string, opts ListOptions) (*Page[types.Document], error)

	// DeleteDocument removes the document and cascades its units/links.
	DeleteDocument(ctx context.Context, bankID, id string) error
}

// BankStore manages bank rows and bank-wide operations.
type BankStore interface {
	// GetOrCreateBank fetches the bank, auto-creating it with neutral
	// defaults (0.5 traits, empty background) when missing.
	GetOrCreateBank(ctx context.Context, bankID string) (*types.Bank, error)

	// UpsertBank creates or updates name/background/personality.
	UpsertBank(ctx context.Context, bank *types.Bank) error

	// UpdateBankPersonality replaces the personality record.
	UpdateBankPersonality(ctx context.Context, bankID string, p types.Personality) error

	// UpdateBankBackground replaces the background and optionally the
	// personality in one statement.
	UpdateBankBackground(ctx context.Context, bankID, background string, p *types.Personality) error

	// ListBanks returns all banks ordered by updated_at descending.
	ListBanks(ctx context.Context) ([]*types.Bank, error)

	// DeleteBank removes the bank and everything it owns. When factType
	// is set only the units of that type (and their links) are removed
	// and the bank row survives. Returns deleted unit count.
	DeleteBank(ctx context.Context, bankID string, factType *types.FactType) (int, error)

	// BankStats returns unit/link/entity/document counts for a bank.
	BankStats(ctx context.Context, bankID string) (*BankStats, error)
}

// OperationStore is the ledger for background work.
type OperationStore interface {
	// CreateOperation inserts a pending operation row.
	CreateOperation(ctx context.Context, op *types.AsyncOperation) error

	// GetOperation fetches one row. Returns ErrNotFound when missing,
	// which workers treat as "cancelled, skip".
	GetOperation(ctx context.Context, bankID, id string) (*types.AsyncOperation, error)

	// UpdateOperationStatus transitions the row; errMsg is stored when
	// status is failed.
	UpdateOperationStatus(ctx context.Context, id string, status types.OperationStatus, errMsg string) error

	// ListOperations returns a bank's operations, newest first.
	ListOperations(ctx context.Context, bankID string) ([]*types.AsyncOperation, error)

	// DeleteOperation removes a row; cancellation of a pending task.
	DeleteOperation(ctx context.Context, bankID, id string) error
}

// Store is the combined interface the engine depends on.
type Store interface {
	UnitStore
	SearchProvider
	LinkStore
	EntityStore
	DocumentStore
	BankStore
	OperationStore

	// Close releases the connection pool.
	Close() error
}

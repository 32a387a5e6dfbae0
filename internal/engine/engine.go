// Package engine implements the memory engine core: the retain pipeline
// (extraction, dedup, embedding, link construction), the retrieval
// planner, entity resolution, observation consolidation, reflection, and
// the bank profile operations. All persistence goes through the
// storage.Store interface and all model calls through the llm contracts,
// so the engine itself is backend-agnostic.
package engine

import (
	"context"
	"time"

	"github.com/vanvuongngo/hindsight/internal/llm"
	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/internal/task"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// Engine wires the pipelines over their shared dependencies. It is safe
// for concurrent use; all state lives in the store.
type Engine struct {
	store   storage.Store
	gen     llm.TextGenerator
	emb     llm.Embedder
	backend task.Backend
	cfg     Config

	// now is swapped in tests for deterministic timestamps.
	now func() time.Time
}

// New creates the engine and registers it as the task backend's
// executor. The backend must not have been initialized yet.
func New(store storage.Store, gen llm.TextGenerator, emb llm.Embedder, backend task.Backend, cfg Config) *Engine {
	cfg.withDefaults()
	e := &Engine{
		store:   store,
		gen:     gen,
		emb:     emb,
		backend: backend,
		cfg:     cfg,
		now:     time.Now,
	}
	backend.SetExecutor(e.executeTask)
	return e
}

// Initialize starts the task backend.
func (e *Engine) Initialize(ctx context.Context) error {
	return e.backend.Initialize(ctx)
}

// Shutdown stops the task backend. In-flight tasks finish; queued but
// unstarted tasks stay pending on the ledger.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.backend.Shutdown(ctx)
}

// WaitForPending blocks until the task backend has drained, when the
// backend supports it. The inline backend has nothing pending.
func (e *Engine) WaitForPending(timeout time.Duration) error {
	if w, ok := e.backend.(interface{ WaitForPending(time.Duration) error }); ok {
		return w.WaitForPending(timeout)
	}
	return nil
}

// ListMemories pages through a bank's units.
func (e *Engine) ListMemories(ctx context.Context, bankID string, opts storage.ListUnitsOptions) (*storage.Page[types.MemoryUnit], error) {
	if err := validateFactTypes(opts.FactTypes); err != nil {
		return nil, err
	}
	return e.store.ListUnits(ctx, bankID, opts)
}

// GetMemory fetches one unit.
func (e *Engine) GetMemory(ctx context.Context, bankID, id string) (*types.MemoryUnit, error) {
	return e.store.GetUnit(ctx, bankID, id)
}

// ListEntities pages through a bank's entities by mention count.
func (e *Engine) ListEntities(ctx context.Context, bankID string, opts storage.ListOptions) (*storage.Page[types.Entity], error) {
	return e.store.ListEntities(ctx, bankID, opts)
}

// GetEntity fetches one entity.
func (e *Engine) GetEntity(ctx context.Context, bankID, id string) (*types.Entity, error) {
	return e.store.GetEntity(ctx, bankID, id)
}

// ListDocuments pages through a bank's documents.
func (e *Engine) ListDocuments(ctx context.Context, bankID string, opts storage.ListOptions) (*storage.Page[types.Document], error) {
	return e.store.ListDocuments(ctx, bankID, opts)
}

// GetDocument fetches one document.
func (e *Engine) GetDocument(ctx context.Context, bankID, id string) (*types.Document, error) {
	return e.store.GetDocument(ctx, bankID, id)
}

// DeleteDocument removes a document and cascades its derived units.
func (e *Engine) DeleteDocument(ctx context.Context, bankID, id string) error {
	return e.store.DeleteDocument(ctx, bankID, id)
}

// ListOperations returns a bank's operation ledger, newest first.
func (e *Engine) ListOperations(ctx context.Context, bankID string) ([]*types.AsyncOperation, error) {
	return e.store.ListOperations(ctx, bankID)
}

// GetOperation fetches one ledger row. A cancelled operation reads as
// storage.ErrNotFound.
func (e *Engine) GetOperation(ctx context.Context, bankID, id string) (*types.AsyncOperation, error) {
	return e.store.GetOperation(ctx, bankID, id)
}

// CancelOperation cancels a pending task by deleting its ledger row; the
// worker checks row presence before executing and skips when gone. A
// task that has already started runs to completion.
func (e *Engine) CancelOperation(ctx context.Context, bankID, id string) error {
	return e.store.DeleteOperation(ctx, bankID, id)
}

// GetGraphData returns the bank's graph for visualization.
func (e *Engine) GetGraphData(ctx context.Context, bankID string, factType *types.FactType) (*storage.GraphData, error) {
	if factType != nil && !types.ValidFactType(string(*factType)) {
		return nil, Validationf("invalid fact type %q", string(*factType))
	}
	return e.store.GraphData(ctx, bankID, factType)
}

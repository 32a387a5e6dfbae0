// Package task provides the background execution backends for the memory
// engine. Tasks are serializable records routed to an executor callback,
// so the backend can be swapped for a broker-based one without touching
// the engine.
package task

import (
	"context"
	"encoding/json"
	"log"
)

// Task is one unit of background work. Payload carries the
// variant-specific body, serialized so a future broker backend can ship
// it over the wire unchanged.
type Task struct {
	// Type names the task variant (e.g. "batch_put", "refresh_observation").
	Type string `json:"type"`

	// BankID scopes the task to one bank.
	BankID string `json:"bank_id"`

	// OperationID is the async_operations ledger row tracking this task;
	// empty for tasks without client-visible progress.
	OperationID string `json:"operation_id,omitempty"`

	// Payload is the variant-specific body.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Executor processes one task. The engine registers its task router here.
type Executor func(ctx context.Context, t Task) error

// Backend runs submitted tasks through the registered executor.
type Backend interface {
	// SetExecutor registers the callback before Initialize.
	SetExecutor(fn Executor)

	// Initialize starts workers or broker connections.
	Initialize(ctx context.Context) error

	// Submit enqueues a task for execution.
	Submit(ctx context.Context, t Task) error

	// Shutdown stops accepting tasks and waits for workers to exit.
	Shutdown(ctx context.Context) error
}

// execute runs t through fn, logging instead of propagating the error:
// background task failures are recorded on the operation ledger by the
// executor itself, not surfaced to the submitter.
func execute(ctx context.Context, fn Executor, t Task) {
	if fn == nil {
		log.Printf("task: no executor registered, skipping task %s", t.Type)
		return
	}
	if err := fn(ctx, t); err != nil {
		log.Printf("task: error executing task %s (bank=%s): %v", t.Type, t.BankID, err)
	}
}

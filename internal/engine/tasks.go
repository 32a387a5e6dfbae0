package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/internal/task"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// Task type names. Stable strings: a broker backend ships them over the
// wire.
const (
	taskBatchPut           = "batch_put"
	taskRefreshObservation = "refresh_observation"
)

// refreshObservationPayload is the body of a refresh_observation task.
type refreshObservationPayload struct {
	EntityID string `json:"entity_id"`
}

// executeTask is the executor registered with the task backend. It
// checks the operation ledger for cancellation, routes the task by type,
// and records the outcome on the ledger.
func (e *Engine) executeTask(ctx context.Context, t task.Task) error {
	if t.OperationID != "" {
		_, err := e.store.GetOperation(ctx, t.BankID, t.OperationID)
		if errors.Is(err, storage.ErrNotFound) {
			log.Printf("engine: operation %s cancelled, skipping task %s", t.OperationID, t.Type)
			return nil
		}
		if err != nil {
			return fmt.Errorf("check operation %s: %w", t.OperationID, err)
		}
		if err := e.store.UpdateOperationStatus(ctx, t.OperationID, types.OpRunning, ""); err != nil {
			return fmt.Errorf("mark operation %s running: %w", t.OperationID, err)
		}
	}

	err := e.runTask(ctx, t)

	if t.OperationID != "" {
		status, msg := types.OpCompleted, ""
		if err != nil {
			status, msg = types.OpFailed, err.Error()
		}
		if uerr := e.store.UpdateOperationStatus(ctx, t.OperationID, status, msg); uerr != nil {
			log.Printf("engine: update operation %s failed: %v", t.OperationID, uerr)
		}
	}
	return err
}

func (e *Engine) runTask(ctx context.Context, t task.Task) error {
	switch t.Type {
	case taskBatchPut:
		var req RetainRequest
		if err := json.Unmarshal(t.Payload, &req); err != nil {
			return fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
		_, err := e.retain(ctx, t.BankID, req)
		return err

	case taskRefreshObservation:
		var p refreshObservationPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
		return e.RegenerateEntityObservations(ctx, t.BankID, p.EntityID)

	default:
		return fmt.Errorf("unknown task type %q", t.Type)
	}
}

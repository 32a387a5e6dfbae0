package types

import "time"

// OperationStatus tracks the lifecycle of a background task.
type OperationStatus string

const (
	// OpPending means the task is queued but not yet picked up.
	OpPending OperationStatus = "pending"

	// OpRunning means a worker is executing the task.
	OpRunning OperationStatus = "running"

	// OpCompleted means the task finished successfully.
	OpCompleted OperationStatus = "completed"

	// OpFailed means the task errored; ErrorMessage carries the cause.
	OpFailed OperationStatus = "failed"
)

// AsyncOperation is the ledger row for one background task, letting
// clients poll progress and cancel pending work. Cancelling deletes the
// row; workers skip tasks whose row has disappeared.
type AsyncOperation struct {
	// ID is the operation's UUID.
	ID string `json:"id"`

	// BankID identifies the bank the task operates on.
	BankID string `json:"bank_id"`

	// TaskType names the task variant (e.g. "retain", "refresh_observations").
	TaskType string `json:"task_type"`

	// ItemsCount is the number of payload items, when applicable.
	ItemsCount int `json:"items_count"`

	// DocumentID is set for document-scoped retain tasks.
	DocumentID string `json:"document_id,omitempty"`

	// Status is the current lifecycle state.
	Status OperationStatus `json:"status"`

	// ErrorMessage is set when Status is failed.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

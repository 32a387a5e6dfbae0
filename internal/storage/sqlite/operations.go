package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

const operationColumns = `id, bank_id, task_type, items_count, document_id, status, error_message, created_at`

// CreateOperation inserts a pending operation row.
func (s *Store) CreateOperation(ctx context.Context, op *types.AsyncOperation) error {
	if op.Status == "" {
		op.Status = types.OpPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO async_operations (id, bank_id, task_type, items_count, document_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		op.ID, op.BankID, op.TaskType, op.ItemsCount, nullString(op.DocumentID), string(op.Status))
	if err != nil {
		return fmt.Errorf("sqlite: failed to create operation: %w", err)
	}
	return nil
}

// GetOperation fetches one ledger row. ErrNotFound means the operation was
// cancelled (or never existed); workers skip such tasks.
func (s *Store) GetOperation(ctx context.Context, bankID, id string) (*types.AsyncOperation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM async_operations WHERE bank_id = ? AND id = ?`,
		bankID, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return op, err
}

// UpdateOperationStatus transitions the row.
func (s *Store) UpdateOperationStatus(ctx context.Context, id string, status types.OperationStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE async_operations SET status = ?, error_message = ? WHERE id = ?`,
		string(status), nullString(errMsg), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update operation status: %w", err)
	}
	return nil
}

// ListOperations returns a bank's operations, newest first.
func (s *Store) ListOperations(ctx context.Context, bankID string) ([]*types.AsyncOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+operationColumns+` FROM async_operations
		 WHERE bank_id = ? ORDER BY created_at DESC, id`, bankID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list operations: %w", err)
	}
	defer rows.Close()

	var out []*types.AsyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// DeleteOperation removes a ledger row; this is how pending tasks are
// cancelled.
func (s *Store) DeleteOperation(ctx context.Context, bankID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM async_operations WHERE bank_id = ? AND id = ?", bankID, id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanOperation(row scanner) (*types.AsyncOperation, error) {
	var (
		op            types.AsyncOperation
		docID, errMsg sql.NullString
		status        string
	)
	err := row.Scan(&op.ID, &op.BankID, &op.TaskType, &op.ItemsCount, &docID, &status, &errMsg, &op.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: failed to scan operation: %w", err)
	}
	op.Status = types.OperationStatus(status)
	op.DocumentID = docID.String
	op.ErrorMessage = errMsg.String
	return &op, nil
}

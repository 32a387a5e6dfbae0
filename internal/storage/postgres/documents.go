package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

const documentColumns = `id, bank_id, original_text, content_hash, memory_unit_count, created_at, updated_at`

// ReplaceDocument deletes any prior document with the same (bank, id),
// cascading its derived units and links, then inserts the fresh row.
func (s *Store) ReplaceDocument(ctx context.Context, doc *types.Document) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM documents WHERE bank_id = $1 AND id = $2",
			doc.BankID, doc.ID); err != nil {
			return fmt.Errorf("postgres: failed to delete prior document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, bank_id, original_text, content_hash, memory_unit_count)
			VALUES ($1, $2, $3, $4, 0)`,
			doc.ID, doc.BankID, doc.OriginalText, doc.ContentHash); err != nil {
			return fmt.Errorf("postgres: failed to insert document: %w", err)
		}
		return nil
	})
}

// UpdateDocumentUnitCount records the derived unit count.
func (s *Store) UpdateDocumentUnitCount(ctx context.Context, bankID, id string, count int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET memory_unit_count = $1, updated_at = NOW()
		WHERE bank_id = $2 AND id = $3`, count, bankID, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update document unit count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetDocument retrieves a document by (bank, id).
func (s *Store) GetDocument(ctx context.Context, bankID, id string) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE bank_id = $1 AND id = $2`, bankID, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return d, err
}

// ListDocuments pages a bank's documents by updated_at descending.
func (s *Store) ListDocuments(ctx context.Context, bankID string, opts storage.ListOptions) (*storage.Page[types.Document], error) {
	opts.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE bank_id = $1", bankID).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: failed to count documents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE bank_id = $1
		 ORDER BY updated_at DESC, id LIMIT $2 OFFSET $3`,
		bankID, opts.Limit, opts.Offset())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list documents: %w", err)
	}
	defer rows.Close()

	var items []types.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: document row iteration failed: %w", err)
	}

	return &storage.Page[types.Document]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// DeleteDocument removes the document and cascades its units and links.
func (s *Store) DeleteDocument(ctx context.Context, bankID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE bank_id = $1 AND id = $2", bankID, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanDocument(row scanner) (*types.Document, error) {
	var d types.Document
	err := row.Scan(&d.ID, &d.BankID, &d.OriginalText, &d.ContentHash,
		&d.MemoryUnitCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: failed to scan document: %w", err)
	}
	return &d, nil
}

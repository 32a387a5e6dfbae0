package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// GetOrCreateBank fetches the bank, auto-creating it with neutral defaults
// when missing. The default name is the bank ID itself.
func (s *Store) GetOrCreateBank(ctx context.Context, bankID string) (*types.Bank, error) {
	bank, err := s.getBank(ctx, bankID)
	if err == nil {
		return bank, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	defaults := types.DefaultPersonality()
	p, err := json.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to marshal personality: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO banks (bank_id, name, personality, background)
		VALUES (?, ?, ?, '')
		ON CONFLICT (bank_id) DO NOTHING`, bankID, bankID, string(p)); err != nil {
		return nil, fmt.Errorf("sqlite: failed to create bank: %w", err)
	}

	return s.getBank(ctx, bankID)
}

// UpsertBank creates or updates name/background/personality.
func (s *Store) UpsertBank(ctx context.Context, bank *types.Bank) error {
	p, err := json.Marshal(bank.Personality)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal personality: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO banks (bank_id, name, personality, background)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (bank_id) DO UPDATE SET
			name = excluded.name,
			personality = excluded.personality,
			background = excluded.background,
			updated_at = CURRENT_TIMESTAMP`,
		bank.BankID, bank.Name, string(p), bank.Background)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert bank: %w", err)
	}
	return nil
}

// UpdateBankPersonality replaces the personality record.
func (s *Store) UpdateBankPersonality(ctx context.Context, bankID string, p types.Personality) error {
	enc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal personality: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE banks SET personality = ?, updated_at = CURRENT_TIMESTAMP
		WHERE bank_id = ?`, string(enc), bankID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update personality: %w", err)
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

// UpdateBankBackground replaces the background, and the personality when
// given, in one statement.
func (s *Store) UpdateBankBackground(ctx context.Context, bankID, background string, p *types.Personality) error {
	if p != nil {
		enc, err := json.Marshal(*p)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal personality: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE banks SET background = ?, personality = ?, updated_at = CURRENT_TIMESTAMP
			WHERE bank_id = ?`, background, string(enc), bankID)
		if err != nil {
			return fmt.Errorf("sqlite: failed to update background: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE banks SET background = ?, updated_at = CURRENT_TIMESTAMP
		WHERE bank_id = ?`, background, bankID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update background: %w", err)
	}
	return nil
}

// ListBanks returns all banks ordered by updated_at descending.
func (s *Store) ListBanks(ctx context.Context) ([]*types.Bank, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bank_id, name, personality, background, created_at, updated_at
		FROM banks ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list banks: %w", err)
	}
	defer rows.Close()

	var out []*types.Bank
	for rows.Next() {
		b, err := scanBank(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBank removes the bank and everything it owns; when factType is set
// only units of that type are removed and the bank row survives.
func (s *Store) DeleteBank(ctx context.Context, bankID string, factType *types.FactType) (int, error) {
	if factType != nil {
		return s.DeleteUnits(ctx, bankID, factType)
	}

	var deleted int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM memory_units WHERE bank_id = ?", bankID).Scan(&deleted); err != nil {
			return fmt.Errorf("sqlite: failed to count units: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM banks WHERE bank_id = ?", bankID); err != nil {
			return fmt.Errorf("sqlite: failed to delete bank: %w", err)
		}
		// async_operations carries no FK to banks; clean it up explicitly.
		if _, err := tx.ExecContext(ctx, "DELETE FROM async_operations WHERE bank_id = ?", bankID); err != nil {
			return fmt.Errorf("sqlite: failed to delete operations: %w", err)
		}
		return nil
	})
	return deleted, err
}

// BankStats returns unit/link/entity/document counts for a bank.
func (s *Store) BankStats(ctx context.Context, bankID string) (*storage.BankStats, error) {
	stats := &storage.BankStats{ByType: map[string]int{}}

	rows, err := s.db.QueryContext(ctx,
		"SELECT fact_type, COUNT(*) FROM memory_units WHERE bank_id = ? GROUP BY fact_type", bankID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to count units by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ft string
		var n int
		if err := rows.Scan(&ft, &n); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan unit counts: %w", err)
		}
		stats.ByType[ft] = n
		stats.Units += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_links l
		JOIN memory_units u ON u.id = l.from_unit_id
		WHERE u.bank_id = ?`, bankID).Scan(&stats.Links); err != nil {
		return nil, fmt.Errorf("sqlite: failed to count links: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE bank_id = ?", bankID).Scan(&stats.Entities); err != nil {
		return nil, fmt.Errorf("sqlite: failed to count entities: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE bank_id = ?", bankID).Scan(&stats.Documents); err != nil {
		return nil, fmt.Errorf("sqlite: failed to count documents: %w", err)
	}
	return stats, nil
}

func (s *Store) getBank(ctx context.Context, bankID string) (*types.Bank, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT bank_id, name, personality, background, created_at, updated_at
		FROM banks WHERE bank_id = ?`, bankID)
	b, err := scanBank(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return b, err
}

func scanBank(row scanner) (*types.Bank, error) {
	var (
		b   types.Bank
		enc string
	)
	err := row.Scan(&b.BankID, &b.Name, &enc, &b.Background, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: failed to scan bank: %w", err)
	}
	if err := json.Unmarshal([]byte(enc), &b.Personality); err != nil {
		return nil, fmt.Errorf("sqlite: failed to unmarshal personality: %w", err)
	}
	return &b, nil
}

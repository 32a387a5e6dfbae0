package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

const unitColumns = `id, bank_id, document_id, text, fact_type, context, embedding,
	occurred_start, occurred_end, mentioned_at, metadata, created_at`

// InsertUnits writes the units in one transaction with a prepared
// statement, preserving slice order.
func (s *Store) InsertUnits(ctx context.Context, units []*types.MemoryUnit) error {
	if len(units) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO memory_units (id, bank_id, document_id, text, fact_type, context,
				embedding, occurred_start, occurred_end, mentioned_at, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`)
		if err != nil {
			return fmt.Errorf("sqlite: failed to prepare unit insert: %w", err)
		}
		defer stmt.Close()

		for _, u := range units {
			meta, err := marshalJSON(u.Metadata)
			if err != nil {
				return err
			}
			_, err = stmt.ExecContext(ctx,
				u.ID, u.BankID, nullString(u.DocumentID), u.Text, string(u.FactType),
				nullString(u.Context), encodeVector(u.Embedding),
				nullTime(u.OccurredStart), nullTime(u.OccurredEnd), u.MentionedAt, meta)
			if err != nil {
				return fmt.Errorf("sqlite: failed to insert unit %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

// GetUnit retrieves a unit by ID within a bank.
func (s *Store) GetUnit(ctx context.Context, bankID, id string) (*types.MemoryUnit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+unitColumns+` FROM memory_units WHERE bank_id = ? AND id = ?`,
		bankID, id)
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return u, err
}

// GetUnits retrieves units by ID, in the order of ids; missing IDs are
// omitted.
func (s *Store) GetUnits(ctx context.Context, bankID string, ids []string) ([]*types.MemoryUnit, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, bankID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM memory_units
		 WHERE bank_id = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query units: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*types.MemoryUnit, len(ids))
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		byID[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: unit row iteration failed: %w", err)
	}

	out := make([]*types.MemoryUnit, 0, len(byID))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// ListUnits retrieves units with pagination, ordered by mentioned_at desc.
func (s *Store) ListUnits(ctx context.Context, bankID string, opts storage.ListUnitsOptions) (*storage.Page[types.MemoryUnit], error) {
	opts.Normalize()

	where := []string{"bank_id = ?"}
	args := []any{bankID}

	if len(opts.FactTypes) > 0 {
		ph := make([]string, len(opts.FactTypes))
		for i, ft := range opts.FactTypes {
			ph[i] = "?"
			args = append(args, string(ft))
		}
		where = append(where, "fact_type IN ("+strings.Join(ph, ", ")+")")
	} else if !opts.IncludeObservations {
		where = append(where, "fact_type != 'observation'")
	}
	if opts.DocumentID != "" {
		where = append(where, "document_id = ?")
		args = append(args, opts.DocumentID)
	}
	if opts.EntityID != "" {
		where = append(where, "id IN (SELECT unit_id FROM unit_entities WHERE entity_id = ?)")
		args = append(args, opts.EntityID)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memory_units WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: failed to count units: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM memory_units WHERE `+cond+`
		 ORDER BY mentioned_at DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list units: %w", err)
	}
	defer rows.Close()

	var items []types.MemoryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: unit row iteration failed: %w", err)
	}

	return &storage.Page[types.MemoryUnit]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// AppendUnitMetadata merges extra keys into a unit's metadata, keeping
// existing keys.
func (s *Store) AppendUnitMetadata(ctx context.Context, bankID, id string, extra map[string]string) error {
	if len(extra) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var raw sql.NullString
		err := tx.QueryRowContext(ctx,
			"SELECT metadata FROM memory_units WHERE bank_id = ? AND id = ?",
			bankID, id).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("sqlite: failed to read unit metadata: %w", err)
		}

		meta, err := unmarshalJSON(raw)
		if err != nil {
			return err
		}
		if meta == nil {
			meta = make(map[string]string, len(extra))
		}
		for k, v := range extra {
			if _, exists := meta[k]; !exists {
				meta[k] = v
			}
		}

		enc, err := marshalJSON(meta)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE memory_units SET metadata = ? WHERE bank_id = ? AND id = ?",
			enc, bankID, id); err != nil {
			return fmt.Errorf("sqlite: failed to update unit metadata: %w", err)
		}
		return nil
	})
}

// DeleteUnits removes units in a bank, optionally only one fact type.
func (s *Store) DeleteUnits(ctx context.Context, bankID string, factType *types.FactType) (int, error) {
	query := "DELETE FROM memory_units WHERE bank_id = ?"
	args := []any{bankID}
	if factType != nil {
		query += " AND fact_type = ?"
		args = append(args, string(*factType))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to delete units: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// UnitsInTimeRange returns temporal-link candidates in one query.
func (s *Store) UnitsInTimeRange(ctx context.Context, bankID string, from, to time.Time, excludeIDs []string) ([]storage.UnitTime, error) {
	args := []any{bankID, from, to}
	query := `
		SELECT id, occurred_start FROM memory_units
		WHERE bank_id = ? AND occurred_start IS NOT NULL
		  AND occurred_start BETWEEN ? AND ?`
	if len(excludeIDs) > 0 {
		query += " AND id NOT IN (" + placeholders(len(excludeIDs)) + ")"
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY occurred_start DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query temporal candidates: %w", err)
	}
	defer rows.Close()

	var out []storage.UnitTime
	for rows.Next() {
		var ut storage.UnitTime
		if err := rows.Scan(&ut.ID, &ut.OccurredStart); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan temporal candidate: %w", err)
		}
		out = append(out, ut)
	}
	return out, rows.Err()
}

// BankEmbeddings returns every stored embedding in the bank except the
// excluded IDs.
func (s *Store) BankEmbeddings(ctx context.Context, bankID string, excludeIDs []string) ([]storage.UnitEmbedding, error) {
	args := []any{bankID}
	query := `
		SELECT id, fact_type, embedding, occurred_start, occurred_end, mentioned_at
		FROM memory_units
		WHERE bank_id = ? AND embedding IS NOT NULL`
	if len(excludeIDs) > 0 {
		query += " AND id NOT IN (" + placeholders(len(excludeIDs)) + ")"
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var out []storage.UnitEmbedding
	for rows.Next() {
		var (
			ue          storage.UnitEmbedding
			factType    string
			blob        []byte
			start, end  sql.NullTime
			mentionedAt time.Time
		)
		if err := rows.Scan(&ue.ID, &factType, &blob, &start, &end, &mentionedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan embedding row: %w", err)
		}
		ue.FactType = types.FactType(factType)
		if ue.Embedding, err = decodeVector(blob); err != nil {
			return nil, err
		}
		// Occurrence defaults mirror MemoryUnit.Occurrence.
		ue.OccurredStart = mentionedAt
		if start.Valid {
			ue.OccurredStart = start.Time
		}
		ue.OccurredEnd = ue.OccurredStart
		if end.Valid {
			ue.OccurredEnd = end.Time
		}
		out = append(out, ue)
	}
	return out, rows.Err()
}

// UnitsForEntity returns units mentioning the entity, newest first.
func (s *Store) UnitsForEntity(ctx context.Context, bankID, entityID string, limit int) ([]*types.MemoryUnit, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+unitColumns+` FROM memory_units
		WHERE bank_id = ?
		  AND id IN (SELECT unit_id FROM unit_entities WHERE entity_id = ?)
		ORDER BY mentioned_at DESC, id
		LIMIT ?`, bankID, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query units for entity: %w", err)
	}
	defer rows.Close()

	var out []*types.MemoryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanUnit.
type scanner interface {
	Scan(dest ...any) error
}

func scanUnit(row scanner) (*types.MemoryUnit, error) {
	var (
		u                  types.MemoryUnit
		docID, unitContext sql.NullString
		blob               []byte
		start, end         sql.NullTime
		meta               sql.NullString
		factType           string
	)
	err := row.Scan(&u.ID, &u.BankID, &docID, &u.Text, &factType, &unitContext,
		&blob, &start, &end, &u.MentionedAt, &meta, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: failed to scan unit: %w", err)
	}

	u.FactType = types.FactType(factType)
	u.DocumentID = docID.String
	u.Context = unitContext.String
	if start.Valid {
		u.OccurredStart = start.Time
	}
	if end.Valid {
		u.OccurredEnd = end.Time
	}
	if u.Embedding, err = decodeVector(blob); err != nil {
		return nil, err
	}
	if u.Metadata, err = unmarshalJSON(meta); err != nil {
		return nil, err
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

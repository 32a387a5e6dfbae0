package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

const unitColumnsBase = `id, bank_id, document_id, text, fact_type, context,
	occurred_start, occurred_end, mentioned_at, metadata, created_at`

// unitColumns selects the embedding when the pgvector column exists and a
// NULL placeholder otherwise, keeping one scan path for both.
func (s *Store) unitColumns() string {
	if s.pgvectorAvailable {
		return unitColumnsBase + ", embedding"
	}
	return unitColumnsBase + ", NULL AS embedding"
}

// InsertUnits writes the units in one transaction with a prepared
// statement, preserving slice order.
func (s *Store) InsertUnits(ctx context.Context, units []*types.MemoryUnit) error {
	if len(units) == 0 {
		return nil
	}

	query := `
		INSERT INTO memory_units (id, bank_id, document_id, text, fact_type, context,
			occurred_start, occurred_end, mentioned_at, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if !s.pgvectorAvailable {
		query = `
		INSERT INTO memory_units (id, bank_id, document_id, text, fact_type, context,
			occurred_start, occurred_end, mentioned_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("postgres: failed to prepare unit insert: %w", err)
		}
		defer stmt.Close()

		for _, u := range units {
			meta, err := marshalJSON(u.Metadata)
			if err != nil {
				return err
			}
			args := []any{
				u.ID, u.BankID, nullString(u.DocumentID), u.Text, string(u.FactType),
				nullString(u.Context), nullTime(u.OccurredStart), nullTime(u.OccurredEnd),
				u.MentionedAt, meta,
			}
			if s.pgvectorAvailable {
				args = append(args, embeddingValue(u.Embedding))
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("postgres: failed to insert unit %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

// embeddingValue converts a vector to its column value, NULL when empty.
func embeddingValue(emb []float32) any {
	if len(emb) == 0 {
		return nil
	}
	return pgvector.NewVector(emb)
}

// GetUnit retrieves a unit by ID within a bank.
func (s *Store) GetUnit(ctx context.Context, bankID, id string) (*types.MemoryUnit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+s.unitColumns()+` FROM memory_units WHERE bank_id = $1 AND id = $2`,
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

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+s.unitColumns()+` FROM memory_units
		 WHERE bank_id = $1 AND id = ANY($2)`, bankID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query units: %w", err)
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
		return nil, fmt.Errorf("postgres: unit row iteration failed: %w", err)
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

	where := []string{"bank_id = $1"}
	args := []any{bankID}

	if len(opts.FactTypes) > 0 {
		fts := make([]string, len(opts.FactTypes))
		for i, ft := range opts.FactTypes {
			fts[i] = string(ft)
		}
		args = append(args, pq.Array(fts))
		where = append(where, fmt.Sprintf("fact_type = ANY($%d)", len(args)))
	} else if !opts.IncludeObservations {
		where = append(where, "fact_type != 'observation'")
	}
	if opts.DocumentID != "" {
		args = append(args, opts.DocumentID)
		where = append(where, fmt.Sprintf("document_id = $%d", len(args)))
	}
	if opts.EntityID != "" {
		args = append(args, opts.EntityID)
		where = append(where, fmt.Sprintf(
			"id IN (SELECT unit_id FROM unit_entities WHERE entity_id = $%d)", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memory_units WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: failed to count units: %w", err)
	}

	args = append(args, opts.Limit, opts.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+s.unitColumns()+` FROM memory_units WHERE `+cond+
			fmt.Sprintf(" ORDER BY mentioned_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list units: %w", err)
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
		return nil, fmt.Errorf("postgres: unit row iteration failed: %w", err)
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
// existing keys. JSONB || merges right-over-left, so the existing map is
// applied last.
func (s *Store) AppendUnitMetadata(ctx context.Context, bankID, id string, extra map[string]string) error {
	if len(extra) == 0 {
		return nil
	}

	enc, err := marshalJSON(extra)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_units
		SET metadata = $1::jsonb || COALESCE(metadata, '{}'::jsonb)
		WHERE bank_id = $2 AND id = $3`, enc, bankID, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update unit metadata: %w", err)
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

// DeleteUnits removes units in a bank, optionally only one fact type.
func (s *Store) DeleteUnits(ctx context.Context, bankID string, factType *types.FactType) (int, error) {
	query := "DELETE FROM memory_units WHERE bank_id = $1"
	args := []any{bankID}
	if factType != nil {
		query += " AND fact_type = $2"
		args = append(args, string(*factType))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete units: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// UnitsInTimeRange returns temporal-link candidates in one query.
func (s *Store) UnitsInTimeRange(ctx context.Context, bankID string, from, to time.Time, excludeIDs []string) ([]storage.UnitTime, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_start FROM memory_units
		WHERE bank_id = $1 AND occurred_start IS NOT NULL
		  AND occurred_start BETWEEN $2 AND $3
		  AND id != ALL($4)
		ORDER BY occurred_start DESC`,
		bankID, from, to, pq.Array(excludeIDs))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query temporal candidates: %w", err)
	}
	defer rows.Close()

	var out []storage.UnitTime
	for rows.Next() {
		var ut storage.UnitTime
		if err := rows.Scan(&ut.ID, &ut.OccurredStart); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan temporal candidate: %w", err)
		}
		out = append(out, ut)
	}
	return out, rows.Err()
}

// BankEmbeddings returns every stored embedding in the bank except the
// excluded IDs.
func (s *Store) BankEmbeddings(ctx context.Context, bankID string, excludeIDs []string) ([]storage.UnitEmbedding, error) {
	if !s.pgvectorAvailable {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fact_type, embedding, occurred_start, occurred_end, mentioned_at
		FROM memory_units
		WHERE bank_id = $1 AND embedding IS NOT NULL AND id != ALL($2)`,
		bankID, pq.Array(excludeIDs))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var out []storage.UnitEmbedding
	for rows.Next() {
		var (
			ue          storage.UnitEmbedding
			factType    string
			vec         pgvector.Vector
			start, end  sql.NullTime
			mentionedAt time.Time
		)
		if err := rows.Scan(&ue.ID, &factType, &vec, &start, &end, &mentionedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan embedding row: %w", err)
		}
		ue.FactType = types.FactType(factType)
		ue.Embedding = vec.Slice()
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
		SELECT `+s.unitColumns()+` FROM memory_units
		WHERE bank_id = $1
		  AND id IN (SELECT unit_id FROM unit_entities WHERE entity_id = $2)
		ORDER BY mentioned_at DESC, id
		LIMIT $3`, bankID, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query units for entity: %w", err)
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

func scanUnit(row scanner, extra ...any) (*types.MemoryUnit, error) {
	var (
		u                  types.MemoryUnit
		docID, unitContext sql.NullString
		start, end         sql.NullTime
		meta               sql.NullString
		factType           string
		vec                sql.Null[pgvector.Vector]
	)
	dest := []any{&u.ID, &u.BankID, &docID, &u.Text, &factType, &unitContext,
		&start, &end, &u.MentionedAt, &meta, &u.CreatedAt, &vec}
	dest = append(dest, extra...)
	err := row.Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: failed to scan unit: %w", err)
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
	if vec.Valid {
		u.Embedding = vec.V.Slice()
	}
	if u.Metadata, err = unmarshalJSON(meta); err != nil {
		return nil, err
	}
	return &u, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

const entityColumns = `id, bank_id, canonical_name, mention_count, first_seen, last_seen, metadata`

// GetEntity retrieves an entity by ID.
func (s *Store) GetEntity(ctx context.Context, bankID, id string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE bank_id = $1 AND id = $2`, bankID, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return e, err
}

// FindEntityByName does an exact canonical-name match within the bank.
func (s *Store) FindEntityByName(ctx context.Context, bankID, name string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE bank_id = $1 AND canonical_name = $2`,
		bankID, name)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return e, err
}

// SearchEntitiesByName returns entities whose canonical name contains the
// pattern, case-insensitively, most-mentioned first.
func (s *Store) SearchEntitiesByName(ctx context.Context, bankID, pattern string, limit int) ([]*types.Entity, error) {
	if limit < 1 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE bank_id = $1 AND canonical_name ILIKE '%' || $2 || '%'
		 ORDER BY mention_count DESC, canonical_name
		 LIMIT $3`, bankID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to search entities: %w", err)
	}
	defer rows.Close()

	var out []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListEntities pages a bank's entities by mention count descending.
func (s *Store) ListEntities(ctx context.Context, bankID string, opts storage.ListOptions) (*storage.Page[types.Entity], error) {
	opts.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE bank_id = $1", bankID).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: failed to count entities: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE bank_id = $1
		 ORDER BY mention_count DESC, canonical_name LIMIT $2 OFFSET $3`,
		bankID, opts.Limit, opts.Offset())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list entities: %w", err)
	}
	defer rows.Close()

	var items []types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: entity row iteration failed: %w", err)
	}

	return &storage.Page[types.Entity]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// CreateEntity inserts the entity row.
func (s *Store) CreateEntity(ctx context.Context, entity *types.Entity) error {
	meta, err := marshalJSON(entity.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, bank_id, canonical_name, mention_count, first_seen, last_seen, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entity.ID, entity.BankID, entity.CanonicalName, entity.MentionCount,
		nullTime(entity.FirstSeen), nullTime(entity.LastSeen), meta)
	if err != nil {
		return fmt.Errorf("postgres: failed to create entity %q: %w", entity.CanonicalName, err)
	}
	return nil
}

// RecordMentions bumps mention_count and widens first_seen/last_seen.
func (s *Store) RecordMentions(ctx context.Context, mentions []storage.EntityMentionRecord) error {
	if len(mentions) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE entities
			SET mention_count = mention_count + 1,
			    first_seen = LEAST(COALESCE(first_seen, $1), $1),
			    last_seen  = GREATEST(COALESCE(last_seen, $1), $1)
			WHERE id = $2
		`)
		if err != nil {
			return fmt.Errorf("postgres: failed to prepare mention update: %w", err)
		}
		defer stmt.Close()

		for _, m := range mentions {
			if _, err := stmt.ExecContext(ctx, m.SeenAt, m.EntityID); err != nil {
				return fmt.Errorf("postgres: failed to record mention for %s: %w", m.EntityID, err)
			}
		}
		return nil
	})
}

// LinkUnitsToEntities writes unit_entities rows in bulk.
func (s *Store) LinkUnitsToEntities(ctx context.Context, pairs []storage.UnitEntity) error {
	if len(pairs) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO unit_entities (unit_id, entity_id) VALUES ($1, $2)
			ON CONFLICT (unit_id, entity_id) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("postgres: failed to prepare unit_entities insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range pairs {
			if _, err := stmt.ExecContext(ctx, p.UnitID, p.EntityID); err != nil {
				return fmt.Errorf("postgres: failed to link unit %s to entity %s: %w", p.UnitID, p.EntityID, err)
			}
		}
		return nil
	})
}

// EntitiesForUnits returns the entity IDs referenced by each unit.
func (s *Store) EntitiesForUnits(ctx context.Context, unitIDs []string) (map[string][]string, error) {
	if len(unitIDs) == 0 {
		return map[string][]string{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT unit_id, entity_id FROM unit_entities WHERE unit_id = ANY($1)`,
		pq.Array(unitIDs))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query unit_entities: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var unitID, entityID string
		if err := rows.Scan(&unitID, &entityID); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan unit_entities row: %w", err)
		}
		out[unitID] = append(out[unitID], entityID)
	}
	return out, rows.Err()
}

// ReplaceObservations swaps the entity's observation units in one
// transaction: delete the old set, insert the new units and membership.
// Ownership is the entity_id back-reference in the unit metadata, not
// unit_entities membership: observations cross-linked to co-mentioned
// entities must survive those entities' refreshes.
func (s *Store) ReplaceObservations(ctx context.Context, bankID, entityID string, units []*types.MemoryUnit, pairs []storage.UnitEntity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM memory_units
			WHERE bank_id = $1 AND fact_type = 'observation'
			  AND metadata->>'entity_id' = $2`,
			bankID, entityID)
		if err != nil {
			return fmt.Errorf("postgres: failed to delete prior observations: %w", err)
		}

		insQuery := `
			INSERT INTO memory_units (id, bank_id, document_id, text, fact_type, context,
				occurred_start, occurred_end, mentioned_at, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		if !s.pgvectorAvailable {
			insQuery = `
			INSERT INTO memory_units (id, bank_id, document_id, text, fact_type, context,
				occurred_start, occurred_end, mentioned_at, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
		}
		insUnit, err := tx.PrepareContext(ctx, insQuery)
		if err != nil {
			return fmt.Errorf("postgres: failed to prepare observation insert: %w", err)
		}
		defer insUnit.Close()

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
			if _, err := insUnit.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("postgres: failed to insert observation %s: %w", u.ID, err)
			}
		}

		insPair, err := tx.PrepareContext(ctx, `
			INSERT INTO unit_entities (unit_id, entity_id) VALUES ($1, $2)
			ON CONFLICT (unit_id, entity_id) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("postgres: failed to prepare membership insert: %w", err)
		}
		defer insPair.Close()

		for _, p := range pairs {
			if _, err := insPair.ExecContext(ctx, p.UnitID, p.EntityID); err != nil {
				return fmt.Errorf("postgres: failed to insert membership: %w", err)
			}
		}
		return nil
	})
}

func scanEntity(row scanner) (*types.Entity, error) {
	var (
		e           types.Entity
		first, last sql.NullTime
		meta        sql.NullString
	)
	err := row.Scan(&e.ID, &e.BankID, &e.CanonicalName, &e.MentionCount, &first, &last, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: failed to scan entity: %w", err)
	}
	if first.Valid {
		e.FirstSeen = first.Time
	}
	if last.Valid {
		e.LastSeen = last.Time
	}
	if e.Metadata, err = unmarshalJSON(meta); err != nil {
		return nil, err
	}
	return &e, nil
}

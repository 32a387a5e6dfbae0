package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// InsertLinks writes all links in one transaction with ON CONFLICT DO
// NOTHING on the (from, to, type, entity) key.
func (s *Store) InsertLinks(ctx context.Context, links []types.MemoryLink) error {
	if len(links) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO memory_links (from_unit_id, to_unit_id, link_type, weight, entity_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (from_unit_id, to_unit_id, link_type, entity_id) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("postgres: failed to prepare link insert: %w", err)
		}
		defer stmt.Close()

		for i := range links {
			l := &links[i]
			if _, err := stmt.ExecContext(ctx,
				l.FromUnitID, l.ToUnitID, string(l.LinkType), l.Weight, l.KeyEntityID()); err != nil {
				return fmt.Errorf("postgres: failed to insert link %s->%s: %w",
					l.FromUnitID, l.ToUnitID, err)
			}
		}
		return nil
	})
}

// LinksFrom returns outgoing links from any of the given units. The join
// to memory_units enforces bank scoping.
func (s *Store) LinksFrom(ctx context.Context, bankID string, unitIDs []string, linkTypes []types.LinkType) ([]types.MemoryLink, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT l.from_unit_id, l.to_unit_id, l.link_type, l.weight, l.entity_id
		FROM memory_links l
		JOIN memory_units u ON u.id = l.from_unit_id
		WHERE u.bank_id = $1 AND l.from_unit_id = ANY($2)`
	args := []any{bankID, pq.Array(unitIDs)}

	if len(linkTypes) > 0 {
		lts := make([]string, len(linkTypes))
		for i, lt := range linkTypes {
			lts[i] = string(lt)
		}
		args = append(args, pq.Array(lts))
		query += fmt.Sprintf(" AND l.link_type = ANY($%d)", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query links: %w", err)
	}
	defer rows.Close()

	return scanLinks(rows)
}

// GraphData returns the bank's units, entities and links for
// visualization, bounded to keep the payload renderable.
func (s *Store) GraphData(ctx context.Context, bankID string, factType *types.FactType) (*storage.GraphData, error) {
	const unitCap = 200

	opts := storage.ListUnitsOptions{
		ListOptions:         storage.ListOptions{Limit: unitCap},
		IncludeObservations: true,
	}
	if factType != nil {
		opts.FactTypes = []types.FactType{*factType}
	}
	page, err := s.ListUnits(ctx, bankID, opts)
	if err != nil {
		return nil, err
	}

	data := &storage.GraphData{}
	ids := make([]string, 0, len(page.Items))
	for i := range page.Items {
		data.Units = append(data.Units, &page.Items[i])
		ids = append(ids, page.Items[i].ID)
	}

	entityPage, err := s.ListEntities(ctx, bankID, storage.ListOptions{Limit: unitCap})
	if err != nil {
		return nil, err
	}
	for i := range entityPage.Items {
		data.Entities = append(data.Entities, &entityPage.Items[i])
	}

	if len(ids) > 0 {
		// Only edges with both endpoints in the returned unit set.
		rows, err := s.db.QueryContext(ctx, `
			SELECT from_unit_id, to_unit_id, link_type, weight, entity_id
			FROM memory_links
			WHERE from_unit_id = ANY($1) AND to_unit_id = ANY($1)`, pq.Array(ids))
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to query graph links: %w", err)
		}
		defer rows.Close()
		if data.Links, err = scanLinks(rows); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func scanLinks(rows *sql.Rows) ([]types.MemoryLink, error) {
	var out []types.MemoryLink
	for rows.Next() {
		var (
			l        types.MemoryLink
			linkType string
			entityID string
		)
		if err := rows.Scan(&l.FromUnitID, &l.ToUnitID, &linkType, &l.Weight, &entityID); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan link: %w", err)
		}
		l.LinkType = types.LinkType(linkType)
		if entityID != types.ZeroUUID {
			l.EntityID = entityID
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// InsertLinks writes all links in one transaction with ON CONFLICT DO
// NOTHING on the (from, to, type, entity) key. Pre-existing rows win.
func (s *Store) InsertLinks(ctx context.Context, links []types.MemoryLink) error {
	if len(links) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO memory_links (from_unit_id, to_unit_id, link_type, weight, entity_id)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (from_unit_id, to_unit_id, link_type, entity_id) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("sqlite: failed to prepare link insert: %w", err)
		}
		defer stmt.Close()

		for _, l := range links {
			if _, err := stmt.ExecContext(ctx,
				l.FromUnitID, l.ToUnitID, string(l.LinkType), l.Weight, l.KeyEntityID()); err != nil {
				return fmt.Errorf("sqlite: failed to insert link %s->%s: %w", l.FromUnitID, l.ToUnitID, err)
			}
		}
		return nil
	})
}

// LinksFrom returns outgoing links from any of the given units.
func (s *Store) LinksFrom(ctx context.Context, bankID string, unitIDs []string, linkTypes []types.LinkType) ([]types.MemoryLink, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(unitIDs)+len(linkTypes)+1)
	for _, id := range unitIDs {
		args = append(args, id)
	}
	query := `
		SELECT l.from_unit_id, l.to_unit_id, l.link_type, l.weight, l.entity_id
		FROM memory_links l
		JOIN memory_units f ON f.id = l.from_unit_id
		WHERE l.from_unit_id IN (` + placeholders(len(unitIDs)) + `) AND f.bank_id = ?`
	args = append(args, bankID)

	if len(linkTypes) > 0 {
		ph := make([]string, len(linkTypes))
		for i, lt := range linkTypes {
			ph[i] = "?"
			args = append(args, string(lt))
		}
		query += " AND l.link_type IN (" + strings.Join(ph, ", ") + ")"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query links: %w", err)
	}
	defer rows.Close()

	return scanLinks(rows)
}

// GraphData returns the bank's units, entities, and links for
// visualization.
func (s *Store) GraphData(ctx context.Context, bankID string, factType *types.FactType) (*storage.GraphData, error) {
	opts := storage.ListUnitsOptions{IncludeObservations: true}
	opts.Limit = 200
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

	if data.Links, err = s.LinksFrom(ctx, bankID, ids, nil); err != nil {
		return nil, err
	}

	entPage, err := s.ListEntities(ctx, bankID, storage.ListOptions{Limit: 200})
	if err != nil {
		return nil, err
	}
	for i := range entPage.Items {
		data.Entities = append(data.Entities, &entPage.Items[i])
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
			return nil, fmt.Errorf("sqlite: failed to scan link: %w", err)
		}
		l.LinkType = types.LinkType(linkType)
		if entityID != types.ZeroUUID {
			l.EntityID = entityID
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

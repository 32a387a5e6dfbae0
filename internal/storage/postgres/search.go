package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/vanvuongngo/hindsight/internal/storage"
)

// VectorSearch returns the top-k units by cosine similarity using the
// pgvector <=> operator. Embeddings are unit-normalized, so
// 1 - cosine_distance is the cosine similarity in [0, 1] for non-negative
// similarities.
func (s *Store) VectorSearch(ctx context.Context, bankID string, query []float32, opts storage.SearchOptions) ([]storage.ScoredUnit, error) {
	opts.Normalize()
	if len(query) == 0 || !s.pgvectorAvailable {
		return nil, nil
	}

	where, args := s.searchFilters(bankID, opts)
	args = append(args, pgvector.NewVector(query))
	vecArg := len(args)
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $%d) AS score
		FROM memory_units
		WHERE %s AND embedding IS NOT NULL
		ORDER BY embedding <=> $%d
		LIMIT $%d`, s.unitColumns(), vecArg, where, vecArg, vecArg+1), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search failed: %w", err)
	}
	defer rows.Close()

	return scanScored(rows)
}

// TextSearch performs tsvector full-text search over text + context.
// ts_rank normalization flag 32 maps scores into [0, 1).
func (s *Store) TextSearch(ctx context.Context, bankID, query string, opts storage.SearchOptions) ([]storage.ScoredUnit, error) {
	opts.Normalize()
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	where, args := s.searchFilters(bankID, opts)
	args = append(args, query)
	qArg := len(args)
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, ts_rank(text_tsv, plainto_tsquery('english', $%d), 32) AS score
		FROM memory_units
		WHERE %s AND text_tsv @@ plainto_tsquery('english', $%d)
		ORDER BY score DESC, mentioned_at DESC
		LIMIT $%d`, s.unitColumns(), qArg, where, qArg, qArg+1), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: text search failed: %w", err)
	}
	defer rows.Close()

	return scanScored(rows)
}

// searchFilters builds the shared WHERE clause for the candidate queries.
func (s *Store) searchFilters(bankID string, opts storage.SearchOptions) (string, []any) {
	where := []string{"bank_id = $1"}
	args := []any{bankID}

	if len(opts.FactTypes) > 0 {
		fts := make([]string, len(opts.FactTypes))
		for i, ft := range opts.FactTypes {
			fts[i] = string(ft)
		}
		args = append(args, pq.Array(fts))
		where = append(where, fmt.Sprintf("fact_type = ANY($%d)", len(args)))
	} else {
		where = append(where, "fact_type != 'observation'")
	}
	if len(opts.Metadata) > 0 {
		enc, err := marshalJSON(opts.Metadata)
		if err == nil {
			args = append(args, enc)
			where = append(where, fmt.Sprintf("metadata @> $%d::jsonb", len(args)))
		}
	}
	return strings.Join(where, " AND "), args
}

func scanScored(rows *sql.Rows) ([]storage.ScoredUnit, error) {
	var out []storage.ScoredUnit
	for rows.Next() {
		var su storage.ScoredUnit
		u, err := scanUnit(rows, &su.Score)
		if err != nil {
			return nil, err
		}
		su.Unit = u
		out = append(out, su)
	}
	return out, rows.Err()
}

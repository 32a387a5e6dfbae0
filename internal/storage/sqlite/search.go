package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// VectorSearch is an exact scan: it loads the candidate units and ranks
// them by dot product against the query embedding. Embeddings are
// unit-normalized so the dot product is the cosine similarity.
func (s *Store) VectorSearch(ctx context.Context, bankID string, query []float32, opts storage.SearchOptions) ([]storage.ScoredUnit, error) {
	opts.Normalize()
	if len(query) == 0 {
		return nil, nil
	}

	units, err := s.searchCandidates(ctx, bankID, opts)
	if err != nil {
		return nil, err
	}

	scored := make([]storage.ScoredUnit, 0, len(units))
	for _, u := range units {
		if len(u.Embedding) == 0 {
			continue
		}
		scored = append(scored, storage.ScoredUnit{Unit: u, Score: dotProduct(query, u.Embedding)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Unit.ID < scored[j].Unit.ID
	})
	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}
	return scored, nil
}

// TextSearch does token matching over text + context. The score is the
// fraction of query tokens present, which keeps it in [0, 1] like the
// postgres ts_rank path.
func (s *Store) TextSearch(ctx context.Context, bankID, query string, opts storage.SearchOptions) ([]storage.ScoredUnit, error) {
	opts.Normalize()

	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	units, err := s.searchCandidates(ctx, bankID, opts)
	if err != nil {
		return nil, err
	}

	var scored []storage.ScoredUnit
	for _, u := range units {
		haystack := strings.ToLower(u.Text + " " + u.Context)
		matched := 0
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		scored = append(scored, storage.ScoredUnit{
			Unit:  u,
			Score: float64(matched) / float64(len(tokens)),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Unit.MentionedAt.After(scored[j].Unit.MentionedAt)
	})
	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}
	return scored, nil
}

// searchCandidates loads the bank's units matching the fact-type and
// metadata restrictions. Small banks make a full scan acceptable; large
// deployments use the postgres backend's indexed paths.
func (s *Store) searchCandidates(ctx context.Context, bankID string, opts storage.SearchOptions) ([]*types.MemoryUnit, error) {
	where := []string{"bank_id = ?"}
	args := []any{bankID}

	if len(opts.FactTypes) > 0 {
		ph := make([]string, len(opts.FactTypes))
		for i, ft := range opts.FactTypes {
			ph[i] = "?"
			args = append(args, string(ft))
		}
		where = append(where, "fact_type IN ("+strings.Join(ph, ", ")+")")
	} else {
		where = append(where, "fact_type != 'observation'")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM memory_units WHERE `+strings.Join(where, " AND "),
		args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query search candidates: %w", err)
	}
	defer rows.Close()

	var out []*types.MemoryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		if !matchesMetadata(u.Metadata, opts.Metadata) {
			continue
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func matchesMetadata(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r > 127)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

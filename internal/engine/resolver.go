package engine

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vanvuongngo/hindsight/internal/llm"
	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// resolverCandidates bounds the lexical neighbor query and the
// arbitration candidate list.
const (
	resolverLexicalLimit   = 10
	resolverArbitrationTop = 5
)

// mentionAt pairs a surface form with the occurrence time of the fact
// that carried it.
type mentionAt struct {
	Mention types.EntityMention
	SeenAt  time.Time
}

// resolveBatch maps every surface form in the batch to a stable entity
// ID. Mentions sharing a normalized name collapse to one entity within
// the batch, so a retain cannot create duplicates for its own repeats.
func (e *Engine) resolveBatch(ctx context.Context, bankID string, mentions []mentionAt) (map[string]string, error) {
	resolved := make(map[string]string)
	var records []storage.EntityMentionRecord

	for _, m := range mentions {
		key := normalizeName(m.Mention.Text)
		if key == "" {
			continue
		}
		id, ok := resolved[key]
		if !ok {
			var err error
			id, err = e.resolveOne(ctx, bankID, m.Mention, m.SeenAt)
			if err != nil {
				return nil, err
			}
			resolved[key] = id
		}
		records = append(records, storage.EntityMentionRecord{EntityID: id, SeenAt: m.SeenAt})
	}

	if len(records) > 0 {
		if err := e.store.RecordMentions(ctx, records); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// resolveOne resolves a single surface form: exact canonical match,
// then LLM arbitration over lexical+embedding neighbors, then create.
// On LLM failure it falls back to creating with the raw surface form,
// which keeps resolution idempotent across retries.
func (e *Engine) resolveOne(ctx context.Context, bankID string, m types.EntityMention, seenAt time.Time) (string, error) {
	surface := strings.TrimSpace(m.Text)

	if ent, err := e.store.FindEntityByName(ctx, bankID, surface); err == nil {
		return ent.ID, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	candidates, err := e.store.SearchEntitiesByName(ctx, bankID, surface, resolverLexicalLimit)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return e.createEntity(ctx, bankID, surface, seenAt)
	}

	candidates = e.rankCandidates(ctx, surface, candidates)

	var verdict struct {
		EntityID      string `json:"entity_id"`
		CanonicalName string `json:"canonical_name"`
	}
	err = llm.CompleteJSON(ctx, e.gen, llm.Request{
		Scope:  llm.ScopeMemory,
		System: resolutionSystem,
		Prompt: resolutionPrompt(surface, m.Type, candidates),
		Schema: resolutionSchema,
	}, &verdict)
	if err != nil {
		log.Printf("engine: entity arbitration failed for %q in bank %s, creating as-is: %v", surface, bankID, err)
		return e.createEntity(ctx, bankID, surface, seenAt)
	}

	if verdict.EntityID != "" {
		for _, c := range candidates {
			if c.ID == verdict.EntityID {
				return c.ID, nil
			}
		}
		log.Printf("engine: arbitration returned unknown entity id %q for %q, creating", verdict.EntityID, surface)
	}

	name := strings.TrimSpace(verdict.CanonicalName)
	if name == "" {
		name = surface
	}
	// The arbitrated canonical name may already exist under a different
	// surface form.
	if ent, err := e.store.FindEntityByName(ctx, bankID, name); err == nil {
		return ent.ID, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	return e.createEntity(ctx, bankID, name, seenAt)
}

// rankCandidates orders arbitration candidates by embedding similarity
// of their canonical names to the surface form, keeping the top few. On
// embedding failure the lexical order stands.
func (e *Engine) rankCandidates(ctx context.Context, surface string, candidates []*types.Entity) []*types.Entity {
	if len(candidates) <= resolverArbitrationTop {
		return candidates
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, surface)
	for _, c := range candidates {
		texts = append(texts, c.CanonicalName)
	}
	vecs, err := e.emb.Embed(ctx, texts)
	if err != nil || len(vecs) != len(texts) {
		return candidates[:resolverArbitrationTop]
	}

	type scored struct {
		ent *types.Entity
		sim float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{ent: c, sim: dot(vecs[0], vecs[i+1])}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	out := make([]*types.Entity, resolverArbitrationTop)
	for i := range out {
		out[i] = ranked[i].ent
	}
	return out
}

// createEntity inserts a fresh entity row.
func (e *Engine) createEntity(ctx context.Context, bankID, name string, seenAt time.Time) (string, error) {
	ent := &types.Entity{
		ID:            uuid.NewString(),
		BankID:        bankID,
		CanonicalName: name,
		FirstSeen:     seenAt,
		LastSeen:      seenAt,
	}
	if err := e.store.CreateEntity(ctx, ent); err != nil {
		return "", err
	}
	return ent.ID, nil
}

// normalizeName is the in-batch collapse key for surface forms.
func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// dot computes the inner product of two unit vectors.
func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

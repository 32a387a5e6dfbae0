package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// Fusion weights for the final score: semantic similarity, lexical
// match, graph activation, recency.
const (
	fusionSemantic = 0.5
	fusionLexical  = 0.2
	fusionGraph    = 0.2
	fusionRecency  = 0.1
)

// defaultMaxTokens bounds recall output when the caller does not.
const defaultMaxTokens = 4096

// entityScanLimit bounds the entity-seed name scan.
const entityScanLimit = 200

// candidate accumulates one unit's score components across sources.
type candidate struct {
	unit    *types.MemoryUnit
	sim     float64
	lexical float64
	graph   float64
}

// Recall answers a query against the bank's memory graph: parallel seed
// generation, graph expansion, score fusion, and token-budgeted
// assembly.
func (e *Engine) Recall(ctx context.Context, bankID string, req RecallRequest) (RecallResult, error) {
	if err := validateFactTypes(req.FactTypes); err != nil {
		return RecallResult{}, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return RecallResult{}, Validationf("query must not be empty")
	}
	params, err := req.Budget.params()
	if err != nil {
		return RecallResult{}, err
	}
	maxTokens := req.MaxTokens
	if maxTokens < 1 {
		maxTokens = defaultMaxTokens
	}
	queryTS := req.QueryTimestamp
	if queryTS.IsZero() {
		queryTS = e.now()
	}

	var trace *RecallTrace
	if req.Trace {
		trace = &RecallTrace{}
	}

	searchOpts := storage.SearchOptions{
		Limit:     params.Seeds,
		FactTypes: req.FactTypes,
		Metadata:  req.Filters,
	}

	// The three seed sources run concurrently; each writes its own slice.
	var vectorSeeds, textSeeds []storage.ScoredUnit
	var entitySeeds []entitySeed

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := e.emb.Embed(gctx, []string{req.Query})
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		vectorSeeds, err = e.store.VectorSearch(gctx, bankID, vecs[0], searchOpts)
		return err
	})
	g.Go(func() error {
		var err error
		textSeeds, err = e.store.TextSearch(gctx, bankID, req.Query, searchOpts)
		return err
	})
	g.Go(func() error {
		var err error
		entitySeeds, err = e.entitySeeds(gctx, bankID, req.Query, params.Seeds)
		return err
	})
	if err := g.Wait(); err != nil {
		return RecallResult{}, err
	}

	candidates := make(map[string]*candidate)
	upsert := func(u *types.MemoryUnit) *candidate {
		c, ok := candidates[u.ID]
		if !ok {
			c = &candidate{unit: u}
			candidates[u.ID] = c
		}
		return c
	}

	// Seed activation for graph expansion: the best source score per unit.
	seedWeight := make(map[string]float64)
	bump := func(id string, w float64) {
		if w > seedWeight[id] {
			seedWeight[id] = w
		}
	}

	for _, s := range vectorSeeds {
		c := upsert(s.Unit)
		if s.Score > c.sim {
			c.sim = s.Score
		}
		bump(s.Unit.ID, s.Score)
		if trace != nil {
			trace.VectorSeeds = append(trace.VectorSeeds, SeedTrace{UnitID: s.Unit.ID, Score: s.Score})
		}
	}
	for _, s := range textSeeds {
		c := upsert(s.Unit)
		if s.Score > c.lexical {
			c.lexical = s.Score
		}
		bump(s.Unit.ID, s.Score)
		if trace != nil {
			trace.LexicalSeeds = append(trace.LexicalSeeds, SeedTrace{UnitID: s.Unit.ID, Score: s.Score})
		}
	}
	for _, s := range entitySeeds {
		c := upsert(s.unit)
		if c.graph < 1.0 {
			c.graph = 1.0
		}
		bump(s.unit.ID, 1.0)
		if trace != nil {
			trace.EntitySeeds = append(trace.EntitySeeds, SeedTrace{UnitID: s.unit.ID, Score: 1.0, EntityID: s.entityID})
		}
	}

	if params.Depth > 0 && len(seedWeight) > 0 {
		if err := e.expand(ctx, bankID, params, seedWeight, candidates, trace); err != nil {
			return RecallResult{}, err
		}
	}

	ranked := e.rank(candidates, req, queryTS)

	// Greedy token-budget assembly over the ranked list.
	var results []ScoredMemory
	remaining := maxTokens
	included := make(map[string]bool)
	for _, r := range ranked {
		cost := estimateTokens(r.Unit.Text)
		if cost > remaining {
			continue
		}
		remaining -= cost
		included[r.Unit.ID] = true
		results = append(results, r)
	}

	if trace != nil {
		for _, r := range ranked {
			c := candidates[r.Unit.ID]
			trace.Final = append(trace.Final, ScoreTrace{
				UnitID:   r.Unit.ID,
				Semantic: c.sim,
				Lexical:  c.lexical,
				Graph:    c.graph,
				Recency:  recency(r.Unit.MentionedAt, queryTS),
				Score:    r.Score,
				Included: included[r.Unit.ID],
			})
		}
	}

	out := RecallResult{Results: results, Trace: trace}
	if req.IncludeEntities && len(results) > 0 {
		out.Entities, err = e.entitySidebar(ctx, bankID, results)
		if err != nil {
			return RecallResult{}, err
		}
	}
	return out, nil
}

// entitySeed is one unit reached through a query-mentioned entity.
type entitySeed struct {
	unit     *types.MemoryUnit
	entityID string
}

// entitySeeds finds entities whose canonical name appears in the query
// and returns their linked units, bounded per entity.
func (e *Engine) entitySeeds(ctx context.Context, bankID, query string, limit int) ([]entitySeed, error) {
	page, err := e.store.ListEntities(ctx, bankID, storage.ListOptions{Limit: entityScanLimit})
	if err != nil {
		return nil, err
	}
	lowered := strings.ToLower(query)

	var seeds []entitySeed
	for i := range page.Items {
		ent := &page.Items[i]
		name := strings.ToLower(ent.CanonicalName)
		if name == "" || !strings.Contains(lowered, name) {
			continue
		}
		units, err := e.store.UnitsForEntity(ctx, bankID, ent.ID, limit)
		if err != nil {
			return nil, err
		}
		for _, u := range units {
			if u.FactType == types.FactObservation {
				continue
			}
			seeds = append(seeds, entitySeed{unit: u, entityID: ent.ID})
		}
	}
	return seeds, nil
}

// expand walks entity and semantic edges from the seed set, accumulating
// activation w_seed times the edge-weight product times decay per hop.
func (e *Engine) expand(ctx context.Context, bankID string, params budgetParams, seedWeight map[string]float64, candidates map[string]*candidate, trace *RecallTrace) error {
	activation := make(map[string]float64, len(seedWeight))
	for id, w := range seedWeight {
		activation[id] = w
	}
	frontier := make([]string, 0, len(seedWeight))
	for id := range seedWeight {
		frontier = append(frontier, id)
	}
	sort.Strings(frontier) // deterministic traversal

	linkTypes := []types.LinkType{types.LinkEntity, types.LinkSemantic}

	for hop := 1; hop <= params.Depth && len(frontier) > 0; hop++ {
		links, err := e.store.LinksFrom(ctx, bankID, frontier, linkTypes)
		if err != nil {
			return err
		}

		// Per frontier unit, keep only the strongest fanout edges.
		bySource := make(map[string][]types.MemoryLink)
		for _, l := range links {
			bySource[l.FromUnitID] = append(bySource[l.FromUnitID], l)
		}

		reached := make(map[string]float64)
		for _, from := range frontier {
			edges := bySource[from]
			sort.SliceStable(edges, func(i, j int) bool {
				if edges[i].Weight != edges[j].Weight {
					return edges[i].Weight > edges[j].Weight
				}
				return edges[i].ToUnitID < edges[j].ToUnitID
			})
			if len(edges) > params.Fanout {
				edges = edges[:params.Fanout]
			}
			for _, l := range edges {
				w := activation[from] * l.Weight * pow(e.cfg.GraphDecay, hop)
				if w <= reached[l.ToUnitID] {
					continue
				}
				reached[l.ToUnitID] = w
				if trace != nil {
					trace.Expansion = append(trace.Expansion, ExpansionTrace{
						FromUnitID: from, ToUnitID: l.ToUnitID, LinkType: string(l.LinkType), Hop: hop, Weight: w,
					})
				}
			}
		}

		// Materialize newly reached units and build the next frontier.
		var fetch []string
		frontier = frontier[:0]
		for id, w := range reached {
			if w <= activation[id] {
				continue
			}
			activation[id] = w
			frontier = append(frontier, id)
			if _, ok := candidates[id]; !ok {
				fetch = append(fetch, id)
			}
		}
		sort.Strings(frontier)
		sort.Strings(fetch)

		if len(fetch) > 0 {
			units, err := e.store.GetUnits(ctx, bankID, fetch)
			if err != nil {
				return err
			}
			for _, u := range units {
				candidates[u.ID] = &candidate{unit: u}
			}
		}
		for id, w := range reached {
			if c, ok := candidates[id]; ok && w > c.graph {
				c.graph = w
			}
		}
	}
	return nil
}

// rank fuses the score components and orders the candidates. Units
// falling outside the requested fact types are dropped here so graph
// expansion can still traverse through them.
func (e *Engine) rank(candidates map[string]*candidate, req RecallRequest, queryTS time.Time) []ScoredMemory {
	allowed := make(map[types.FactType]bool, len(req.FactTypes))
	for _, ft := range req.FactTypes {
		allowed[ft] = true
	}

	ranked := make([]ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		if len(req.FactTypes) > 0 {
			if !allowed[c.unit.FactType] {
				continue
			}
		} else if c.unit.FactType == types.FactObservation {
			continue
		}

		score := fusionSemantic*c.sim + fusionLexical*c.lexical + fusionGraph*c.graph +
			fusionRecency*recency(c.unit.MentionedAt, queryTS)

		// Units long before the query's temporal anchor are deprioritized,
		// not excluded.
		if !req.QueryTimestamp.IsZero() {
			_, end := c.unit.Occurrence()
			if end.Before(queryTS.Add(-e.cfg.RecencyHorizon)) {
				score *= 0.5
			}
		}
		ranked = append(ranked, ScoredMemory{Unit: c.unit, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if !ranked[i].Unit.MentionedAt.Equal(ranked[j].Unit.MentionedAt) {
			return ranked[i].Unit.MentionedAt.After(ranked[j].Unit.MentionedAt)
		}
		return ranked[i].Unit.ID < ranked[j].Unit.ID
	})
	return ranked
}

// entitySidebar fetches observations for the entities referenced by the
// included units, bounded by the entity token budget.
func (e *Engine) entitySidebar(ctx context.Context, bankID string, results []ScoredMemory) ([]EntitySummary, error) {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Unit.ID)
	}
	byUnit, err := e.store.EntitiesForUnits(ctx, ids)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var entityIDs []string
	for _, unitID := range ids {
		for _, entID := range byUnit[unitID] {
			if !seen[entID] {
				seen[entID] = true
				entityIDs = append(entityIDs, entID)
			}
		}
	}

	remaining := e.cfg.MaxEntityTokens
	var sidebar []EntitySummary
	for _, entID := range entityIDs {
		ent, err := e.store.GetEntity(ctx, bankID, entID)
		if err != nil {
			return nil, err
		}
		page, err := e.store.ListUnits(ctx, bankID, storage.ListUnitsOptions{
			ListOptions: storage.ListOptions{Limit: 20},
			FactTypes:   []types.FactType{types.FactObservation},
			EntityID:    entID,
		})
		if err != nil {
			return nil, err
		}
		summary := EntitySummary{Entity: ent}
		for i := range page.Items {
			obs := &page.Items[i]
			cost := estimateTokens(obs.Text)
			if cost > remaining {
				continue
			}
			remaining -= cost
			summary.Observations = append(summary.Observations, obs)
		}
		sidebar = append(sidebar, summary)
	}
	return sidebar, nil
}

// recency scores how recently a unit was mentioned relative to the
// query anchor, in (0, 1].
func recency(mentionedAt, queryTS time.Time) float64 {
	age := queryTS.Sub(mentionedAt)
	if age < 0 {
		age = 0
	}
	days := age.Hours() / 24
	return 1 / (1 + days/30)
}

// estimateTokens approximates token cost from text length.
func estimateTokens(s string) int {
	n := (len(s) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// pow is integer exponentiation for the per-hop decay.
func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

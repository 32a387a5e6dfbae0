package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vanvuongngo/hindsight/pkg/types"
)

// entityFanLimit bounds the per-entity unit fetch during the entity
// link pass.
const entityFanLimit = 200

// causalSpec is one extractor-declared relation between two units of the
// same batch, already remapped past dedup drops.
type causalSpec struct {
	FromIdx  int
	ToIdx    int
	LinkType types.LinkType
	Weight   float64
}

// buildLinks runs the four bulk link passes over freshly written units.
// unitEntities maps unit ID to the entity IDs it mentions. Inserts use
// ON CONFLICT DO NOTHING, so concurrent sibling retains are safe.
func (e *Engine) buildLinks(ctx context.Context, bankID string, units []*types.MemoryUnit, unitEntities map[string][]string, causal []causalSpec) error {
	if len(units) == 0 {
		return nil
	}
	if err := e.entityLinks(ctx, bankID, units, unitEntities); err != nil {
		return fmt.Errorf("entity links: %w", err)
	}
	if err := e.temporalLinks(ctx, bankID, units); err != nil {
		return fmt.Errorf("temporal links: %w", err)
	}
	if err := e.semanticLinks(ctx, bankID, units); err != nil {
		return fmt.Errorf("semantic links: %w", err)
	}
	if err := e.causalLinks(ctx, units, causal); err != nil {
		return fmt.Errorf("causal links: %w", err)
	}
	return nil
}

// entityLinks pairs each new unit bidirectionally with every other unit
// that references a shared entity. Pairs among previously stored units
// were created when those units were new.
func (e *Engine) entityLinks(ctx context.Context, bankID string, units []*types.MemoryUnit, unitEntities map[string][]string) error {
	newByEntity := make(map[string][]string)
	for _, u := range units {
		for _, entID := range unitEntities[u.ID] {
			newByEntity[entID] = append(newByEntity[entID], u.ID)
		}
	}

	var links []types.MemoryLink
	for entID, newIDs := range newByEntity {
		members, err := e.store.UnitsForEntity(ctx, bankID, entID, entityFanLimit)
		if err != nil {
			return err
		}
		isNew := make(map[string]bool, len(newIDs))
		for _, id := range newIDs {
			isNew[id] = true
		}
		for _, newID := range newIDs {
			for _, other := range members {
				if other.ID == newID {
					continue
				}
				// Avoid emitting each new-new pair twice.
				if isNew[other.ID] && other.ID < newID {
					continue
				}
				links = append(links,
					types.MemoryLink{FromUnitID: newID, ToUnitID: other.ID, LinkType: types.LinkEntity, Weight: 1.0, EntityID: entID},
					types.MemoryLink{FromUnitID: other.ID, ToUnitID: newID, LinkType: types.LinkEntity, Weight: 1.0, EntityID: entID},
				)
			}
		}
	}
	return e.store.InsertLinks(ctx, links)
}

// temporalLinks connects each new unit to its nearest neighbors inside
// the configured time window, weight decaying linearly with the gap.
func (e *Engine) temporalLinks(ctx context.Context, bankID string, units []*types.MemoryUnit) error {
	w := e.cfg.TemporalWindow

	var lo, hi time.Time
	newIDs := make([]string, 0, len(units))
	for _, u := range units {
		start, _ := u.Occurrence()
		if lo.IsZero() || start.Before(lo) {
			lo = start
		}
		if hi.IsZero() || start.After(hi) {
			hi = start
		}
		newIDs = append(newIDs, u.ID)
	}

	neighbors, err := e.store.UnitsInTimeRange(ctx, bankID, lo.Add(-w), hi.Add(w), newIDs)
	if err != nil {
		return err
	}

	var links []types.MemoryLink
	for _, u := range units {
		start, _ := u.Occurrence()
		type cand struct {
			id  string
			gap time.Duration
		}
		var near []cand
		for _, n := range neighbors {
			gap := start.Sub(n.OccurredStart)
			if gap < 0 {
				gap = -gap
			}
			if gap <= w {
				near = append(near, cand{id: n.ID, gap: gap})
			}
		}
		sort.Slice(near, func(i, j int) bool {
			if near[i].gap != near[j].gap {
				return near[i].gap < near[j].gap
			}
			return near[i].id < near[j].id
		})
		if len(near) > e.cfg.TemporalMaxLinks {
			near = near[:e.cfg.TemporalMaxLinks]
		}
		for _, n := range near {
			weight := 1 - float64(n.gap)/float64(w)
			if weight < 0.3 {
				weight = 0.3
			}
			links = append(links,
				types.MemoryLink{FromUnitID: u.ID, ToUnitID: n.id, LinkType: types.LinkTemporal, Weight: weight},
				types.MemoryLink{FromUnitID: n.id, ToUnitID: u.ID, LinkType: types.LinkTemporal, Weight: weight},
			)
		}
	}
	return e.store.InsertLinks(ctx, links)
}

// semanticLinks connects each new unit to its top-K most similar stored
// units above the threshold. Observation units are the consolidator's
// layer and are skipped as neighbors.
func (e *Engine) semanticLinks(ctx context.Context, bankID string, units []*types.MemoryUnit) error {
	newIDs := make([]string, 0, len(units))
	for _, u := range units {
		newIDs = append(newIDs, u.ID)
	}
	existing, err := e.store.BankEmbeddings(ctx, bankID, newIDs)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}

	var links []types.MemoryLink
	for _, u := range units {
		if len(u.Embedding) == 0 {
			continue
		}
		type cand struct {
			id  string
			sim float64
		}
		var near []cand
		for _, ex := range existing {
			if ex.FactType == types.FactObservation {
				continue
			}
			if sim := dot(u.Embedding, ex.Embedding); sim >= e.cfg.SemanticThreshold {
				near = append(near, cand{id: ex.ID, sim: sim})
			}
		}
		sort.Slice(near, func(i, j int) bool {
			if near[i].sim != near[j].sim {
				return near[i].sim > near[j].sim
			}
			return near[i].id < near[j].id
		})
		if len(near) > e.cfg.SemanticTopK {
			near = near[:e.cfg.SemanticTopK]
		}
		for _, n := range near {
			links = append(links,
				types.MemoryLink{FromUnitID: u.ID, ToUnitID: n.id, LinkType: types.LinkSemantic, Weight: n.sim},
				types.MemoryLink{FromUnitID: n.id, ToUnitID: u.ID, LinkType: types.LinkSemantic, Weight: n.sim},
			)
		}
	}
	return e.store.InsertLinks(ctx, links)
}

// causalLinks writes the extractor-declared relations between units of
// the batch. Specs with out-of-range indices were dropped upstream.
func (e *Engine) causalLinks(ctx context.Context, units []*types.MemoryUnit, causal []causalSpec) error {
	var links []types.MemoryLink
	for _, c := range causal {
		weight := c.Weight
		if weight <= 0 || weight > 1 {
			weight = 0.8
		}
		links = append(links, types.MemoryLink{
			FromUnitID: units[c.FromIdx].ID,
			ToUnitID:   units[c.ToIdx].ID,
			LinkType:   c.LinkType,
			Weight:     weight,
		})
	}
	return e.store.InsertLinks(ctx, links)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/vanvuongngo/hindsight/internal/llm"
	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// Consolidation bounds: how many source facts feed one synthesis and
// how much of them fits the prompt.
const (
	consolidationUnitLimit   = 20
	consolidationTokenBudget = 2048
)

// RegenerateEntityObservations rebuilds the entity's mental model: it
// synthesizes compact observations from the facts mentioning the entity
// and replaces the prior observation units. A per-entity advisory lock
// serializes concurrent refreshes.
func (e *Engine) RegenerateEntityObservations(ctx context.Context, bankID, entityID string) error {
	ent, err := e.store.GetEntity(ctx, bankID, entityID)
	if err != nil {
		return err
	}

	return e.store.WithEntityLock(ctx, entityID, func(ctx context.Context) error {
		sources, err := e.consolidationSources(ctx, bankID, entityID)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			// No facts left: clear any stale observations.
			return e.store.ReplaceObservations(ctx, bankID, entityID, nil, nil)
		}

		var resp struct {
			Observations []string `json:"observations"`
		}
		err = llm.CompleteJSON(ctx, e.gen, llm.Request{
			Scope:  llm.ScopeMemory,
			System: consolidationSystem,
			Prompt: consolidationPrompt(ent.CanonicalName, sources),
			Schema: consolidationSchema,
		}, &resp)
		if err != nil {
			var schemaErr *llm.SchemaError
			if errors.As(err, &schemaErr) {
				// Keep the prior observations rather than replacing them
				// with a broken synthesis.
				log.Printf("engine: observation synthesis for entity %s unparseable, keeping prior: %v", entityID, err)
				return nil
			}
			return fmt.Errorf("synthesize observations: %w", err)
		}

		texts := make([]string, 0, len(resp.Observations))
		for _, obs := range resp.Observations {
			if obs != "" {
				texts = append(texts, obs)
			}
		}
		if len(texts) == 0 {
			return e.store.ReplaceObservations(ctx, bankID, entityID, nil, nil)
		}

		vectors, err := e.emb.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed observations: %w", err)
		}

		// Each observation carries the union of the source facts' entity
		// links, plus the summarized entity itself.
		entitySet, err := e.sourceEntitySet(ctx, entityID, sources)
		if err != nil {
			return err
		}

		now := e.now()
		units := make([]*types.MemoryUnit, len(texts))
		var pairs []storage.UnitEntity
		for i, text := range texts {
			units[i] = &types.MemoryUnit{
				ID:            uuid.NewString(),
				BankID:        bankID,
				Text:          text,
				FactType:      types.FactObservation,
				Embedding:     vectors[i],
				OccurredStart: now,
				OccurredEnd:   now,
				MentionedAt:   now,
				Metadata: map[string]string{
					"entity_id":   entityID,
					"entity_name": ent.CanonicalName,
				},
			}
			for _, eid := range entitySet {
				pairs = append(pairs, storage.UnitEntity{UnitID: units[i].ID, EntityID: eid})
			}
		}
		return e.store.ReplaceObservations(ctx, bankID, entityID, units, pairs)
	})
}

// consolidationSources picks the facts feeding the synthesis: the most
// recent units mentioning the entity, minus observations, trimmed to the
// prompt budget.
func (e *Engine) consolidationSources(ctx context.Context, bankID, entityID string) ([]*types.MemoryUnit, error) {
	units, err := e.store.UnitsForEntity(ctx, bankID, entityID, consolidationUnitLimit)
	if err != nil {
		return nil, err
	}

	var sources []*types.MemoryUnit
	remaining := consolidationTokenBudget
	for _, u := range units {
		if u.FactType == types.FactObservation {
			continue
		}
		cost := estimateTokens(u.Text)
		if cost > remaining {
			break
		}
		remaining -= cost
		sources = append(sources, u)
	}
	return sources, nil
}

// sourceEntitySet unions the entity references of the source facts with
// the summarized entity itself.
func (e *Engine) sourceEntitySet(ctx context.Context, entityID string, sources []*types.MemoryUnit) ([]string, error) {
	ids := make([]string, 0, len(sources))
	for _, u := range sources {
		ids = append(ids, u.ID)
	}
	byUnit, err := e.store.EntitiesForUnits(ctx, ids)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{entityID: true}
	set := []string{entityID}
	for _, unitID := range ids {
		for _, eid := range byUnit[unitID] {
			if !seen[eid] {
				seen[eid] = true
				set = append(set, eid)
			}
		}
	}
	return set, nil
}

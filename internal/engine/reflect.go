package engine

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/vanvuongngo/hindsight/internal/llm"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// Reflect answers a question in the bank's voice, grounded on a recall
// over its memories and colored by its personality and background. The
// returned BasedOn lists the unit IDs the model actually used.
func (e *Engine) Reflect(ctx context.Context, bankID string, req ReflectRequest) (ReflectResult, error) {
	if err := validateFactTypes(req.FactTypes); err != nil {
		return ReflectResult{}, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return ReflectResult{}, Validationf("query must not be empty")
	}

	bank, err := e.store.GetOrCreateBank(ctx, bankID)
	if err != nil {
		return ReflectResult{}, err
	}

	recall, err := e.Recall(ctx, bankID, RecallRequest{
		Query:           req.Query,
		FactTypes:       req.FactTypes,
		Budget:          req.Budget,
		IncludeEntities: req.IncludeEntities,
	})
	if err != nil {
		return ReflectResult{}, err
	}

	units := make([]*types.MemoryUnit, len(recall.Results))
	for i, r := range recall.Results {
		units[i] = r.Unit
	}

	var resp struct {
		Text    string `json:"text"`
		BasedOn []int  `json:"based_on"`
	}
	err = llm.CompleteJSON(ctx, e.gen, llm.Request{
		Scope:       llm.ScopeReflect,
		System:      reflectionSystem,
		Prompt:      reflectionPrompt(bank, req.Context, req.Query, units),
		Schema:      reflectionSchema,
		Temperature: 0.7,
	}, &resp)
	if err != nil {
		var schemaErr *llm.SchemaError
		if !errors.As(err, &schemaErr) {
			return ReflectResult{}, err
		}
		// Unparseable but non-empty output still answers the question;
		// attribute it to everything retrieved.
		log.Printf("engine: reflect response for bank %s unparseable, using raw text", bankID)
		resp.Text = strings.TrimSpace(schemaErr.Raw)
		resp.BasedOn = nil
		for i := range units {
			resp.BasedOn = append(resp.BasedOn, i+1)
		}
	}

	// Citations are 1-based indices into the numbered memory list.
	var basedOn []string
	seen := make(map[int]bool)
	for _, n := range resp.BasedOn {
		if n < 1 || n > len(units) || seen[n] {
			continue
		}
		seen[n] = true
		basedOn = append(basedOn, units[n-1].ID)
	}

	return ReflectResult{
		Text:     resp.Text,
		BasedOn:  basedOn,
		Entities: recall.Entities,
	}, nil
}

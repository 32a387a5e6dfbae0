package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/internal/task"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// Retain runs the full ingestion pipeline synchronously: document
// upsert, extraction, dedup, embedding, write, link construction, entity
// bookkeeping, consolidation triggers.
func (e *Engine) Retain(ctx context.Context, bankID string, req RetainRequest) (RetainResult, error) {
	return e.retain(ctx, bankID, req)
}

// RetainAsync records an operation row, enqueues the work, and returns
// immediately with the operation ID for polling.
func (e *Engine) RetainAsync(ctx context.Context, bankID string, req RetainRequest) (RetainResult, error) {
	if len(req.Items) == 0 {
		return RetainResult{ItemsCount: 0}, nil
	}
	if _, err := e.store.GetOrCreateBank(ctx, bankID); err != nil {
		return RetainResult{}, err
	}

	op := &types.AsyncOperation{
		ID:         uuid.NewString(),
		BankID:     bankID,
		TaskType:   taskBatchPut,
		ItemsCount: len(req.Items),
		DocumentID: req.DocumentID,
		Status:     types.OpPending,
		CreatedAt:  e.now(),
	}
	if err := e.store.CreateOperation(ctx, op); err != nil {
		return RetainResult{}, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return RetainResult{}, fmt.Errorf("marshal retain payload: %w", err)
	}
	if err := e.backend.Submit(ctx, task.Task{
		Type:        taskBatchPut,
		BankID:      bankID,
		OperationID: op.ID,
		Payload:     payload,
	}); err != nil {
		return RetainResult{}, err
	}
	return RetainResult{OperationID: op.ID, ItemsCount: len(req.Items)}, nil
}

// pendingFact is one extracted fact on its way through dedup.
type pendingFact struct {
	fact    extractedFact
	item    int // index into req.Items
	itemIdx int // index within its item's extraction, for causal refs
}

func (e *Engine) retain(ctx context.Context, bankID string, req RetainRequest) (RetainResult, error) {
	bank, err := e.store.GetOrCreateBank(ctx, bankID)
	if err != nil {
		return RetainResult{}, err
	}
	if len(req.Items) == 0 {
		return RetainResult{ItemsCount: 0}, nil
	}

	if req.DocumentID != "" {
		if err := e.replaceDocument(ctx, bankID, req); err != nil {
			return RetainResult{}, err
		}
	}

	// Extraction, item by item. Causal indices are scoped to one item's
	// extraction.
	var pending []pendingFact
	for i, item := range req.Items {
		eventDate := item.Timestamp
		if eventDate.IsZero() {
			eventDate = e.now()
		}
		facts, err := e.extractFacts(ctx, bank, item, eventDate)
		if err != nil {
			return RetainResult{}, fmt.Errorf("extract item %d: %w", i, err)
		}
		for j, f := range facts {
			pending = append(pending, pendingFact{fact: f, item: i, itemIdx: j})
		}
	}
	if len(pending) == 0 {
		return RetainResult{ItemsCount: len(req.Items)}, nil
	}

	// One batched embedding call for every candidate.
	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = p.fact.Text
	}
	vectors, err := e.emb.Embed(ctx, texts)
	if err != nil {
		return RetainResult{}, fmt.Errorf("embed facts: %w", err)
	}
	if len(vectors) != len(pending) {
		return RetainResult{}, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(pending))
	}

	units, unitMentions, causal, err := e.dedupAndBuild(ctx, bankID, req, pending, vectors)
	if err != nil {
		return RetainResult{}, err
	}
	if len(units) == 0 {
		return RetainResult{ItemsCount: len(req.Items)}, nil
	}

	if err := e.store.InsertUnits(ctx, units); err != nil {
		return RetainResult{}, fmt.Errorf("insert units: %w", err)
	}
	if req.DocumentID != "" {
		if err := e.store.UpdateDocumentUnitCount(ctx, bankID, req.DocumentID, len(units)); err != nil {
			return RetainResult{}, err
		}
	}

	unitEntities, touched, err := e.linkEntities(ctx, bankID, units, unitMentions)
	if err != nil {
		return RetainResult{}, err
	}
	if err := e.buildLinks(ctx, bankID, units, unitEntities, causal); err != nil {
		return RetainResult{}, err
	}
	e.triggerConsolidation(ctx, bankID, touched)

	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return RetainResult{ItemsCount: len(req.Items), UnitIDs: ids}, nil
}

// replaceDocument upserts the document row, cascading units derived from
// any prior version.
func (e *Engine) replaceDocument(ctx context.Context, bankID string, req RetainRequest) error {
	parts := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		parts = append(parts, item.Content)
	}
	text := strings.Join(parts, "\n\n")
	sum := sha256.Sum256([]byte(text))

	now := e.now()
	return e.store.ReplaceDocument(ctx, &types.Document{
		ID:           req.DocumentID,
		BankID:       bankID,
		OriginalText: text,
		ContentHash:  hex.EncodeToString(sum[:]),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// dedupAndBuild drops facts that duplicate stored or in-batch units and
// materializes the survivors as memory units in extraction order. A
// duplicate has cosine similarity at or above the threshold, the same
// fact type, and an overlapping occurrence range; its metadata is folded
// into the surviving unit.
func (e *Engine) dedupAndBuild(ctx context.Context, bankID string, req RetainRequest, pending []pendingFact, vectors [][]float32) ([]*types.MemoryUnit, [][]types.EntityMention, []causalSpec, error) {
	existing, err := e.store.BankEmbeddings(ctx, bankID, nil)
	if err != nil {
		return nil, nil, nil, err
	}

	var units []*types.MemoryUnit
	var unitMentions [][]types.EntityMention

	// survivorPos maps (item, itemIdx) to the unit's final position.
	survivorPos := make(map[[2]int]int)

	for i, p := range pending {
		item := req.Items[p.item]
		mentionedAt := item.Timestamp
		if mentionedAt.IsZero() {
			mentionedAt = e.now()
		}

		unit := &types.MemoryUnit{
			ID:            uuid.NewString(),
			BankID:        bankID,
			DocumentID:    req.DocumentID,
			Text:          p.fact.Text,
			FactType:      types.FactType(p.fact.FactType),
			Context:       item.Context,
			Embedding:     vectors[i],
			OccurredStart: p.fact.start,
			OccurredEnd:   p.fact.end,
			MentionedAt:   mentionedAt,
			Metadata:      item.Metadata,
		}

		if dupID := e.findDuplicate(unit, existing, units); dupID != "" {
			if len(item.Metadata) > 0 {
				if err := e.store.AppendUnitMetadata(ctx, bankID, dupID, item.Metadata); err != nil {
					log.Printf("engine: append metadata to duplicate %s failed: %v", dupID, err)
				}
			}
			continue
		}

		survivorPos[[2]int{p.item, p.itemIdx}] = len(units)
		units = append(units, unit)
		unitMentions = append(unitMentions, p.fact.Entities)
	}

	// Remap causal relations past dedup drops. Relations whose endpoint
	// was dropped or whose index is out of range are logged and skipped.
	var causal []causalSpec
	for _, p := range pending {
		from, ok := survivorPos[[2]int{p.item, p.itemIdx}]
		if !ok {
			continue
		}
		for _, rel := range p.fact.CausalRelations {
			lt := types.LinkType(rel.RelationType)
			if !types.CausalLinkType(lt) {
				log.Printf("engine: unknown causal relation type %q, skipping", rel.RelationType)
				continue
			}
			to, ok := survivorPos[[2]int{p.item, rel.TargetFactIndex}]
			if !ok || to == from {
				log.Printf("engine: causal relation references invalid fact index %d, skipping", rel.TargetFactIndex)
				continue
			}
			causal = append(causal, causalSpec{FromIdx: from, ToIdx: to, LinkType: lt, Weight: rel.Strength})
		}
	}
	return units, unitMentions, causal, nil
}

// findDuplicate checks the new unit against stored embeddings and
// earlier survivors of the same batch.
func (e *Engine) findDuplicate(unit *types.MemoryUnit, existing []storage.UnitEmbedding, accepted []*types.MemoryUnit) string {
	for _, ex := range existing {
		if ex.FactType != unit.FactType {
			continue
		}
		if dot(unit.Embedding, ex.Embedding) < e.cfg.DedupThreshold {
			continue
		}
		if unit.OverlapsRange(ex.OccurredStart, ex.OccurredEnd) {
			return ex.ID
		}
	}
	for _, prev := range accepted {
		if prev.FactType != unit.FactType {
			continue
		}
		if dot(unit.Embedding, prev.Embedding) < e.cfg.DedupThreshold {
			continue
		}
		start, end := prev.Occurrence()
		if unit.OverlapsRange(start, end) {
			return prev.ID
		}
	}
	return ""
}

// linkEntities resolves every mention, records unit_entities membership,
// and returns the per-unit entity sets plus the mention deltas used for
// consolidation triggers.
func (e *Engine) linkEntities(ctx context.Context, bankID string, units []*types.MemoryUnit, unitMentions [][]types.EntityMention) (map[string][]string, map[string]int, error) {
	var flat []mentionAt
	for i, mentions := range unitMentions {
		start, _ := units[i].Occurrence()
		for _, m := range mentions {
			flat = append(flat, mentionAt{Mention: m, SeenAt: start})
		}
	}
	if len(flat) == 0 {
		return nil, nil, nil
	}

	resolved, err := e.resolveBatch(ctx, bankID, flat)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve entities: %w", err)
	}

	unitEntities := make(map[string][]string)
	touched := make(map[string]int)
	var pairs []storage.UnitEntity
	for i, mentions := range unitMentions {
		seen := make(map[string]bool)
		for _, m := range mentions {
			id, ok := resolved[normalizeName(m.Text)]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			unitEntities[units[i].ID] = append(unitEntities[units[i].ID], id)
			pairs = append(pairs, storage.UnitEntity{UnitID: units[i].ID, EntityID: id})
			touched[id]++
		}
	}
	if err := e.store.LinkUnitsToEntities(ctx, pairs); err != nil {
		return nil, nil, err
	}
	return unitEntities, touched, nil
}

// triggerConsolidation enqueues observation refreshes for entities whose
// mention count crossed a multiple of the consolidation threshold in
// this batch. Failures only log; consolidation is advisory.
func (e *Engine) triggerConsolidation(ctx context.Context, bankID string, touched map[string]int) {
	threshold := e.cfg.ConsolidationThreshold
	for entityID, added := range touched {
		ent, err := e.store.GetEntity(ctx, bankID, entityID)
		if err != nil {
			log.Printf("engine: consolidation check for entity %s failed: %v", entityID, err)
			continue
		}
		prev := ent.MentionCount - added
		if prev < 0 {
			prev = 0
		}
		if prev/threshold == ent.MentionCount/threshold {
			continue
		}
		payload, _ := json.Marshal(refreshObservationPayload{EntityID: entityID})
		if err := e.backend.Submit(ctx, task.Task{
			Type:    taskRefreshObservation,
			BankID:  bankID,
			Payload: payload,
		}); err != nil {
			log.Printf("engine: enqueue observation refresh for entity %s failed: %v", entityID, err)
		}
	}
}

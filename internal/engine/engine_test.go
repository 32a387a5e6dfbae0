package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanvuongngo/hindsight/internal/llm"
	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/internal/storage/sqlite"
	"github.com/vanvuongngo/hindsight/internal/task"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// stubEmbedder builds deterministic bag-of-words vectors so that similar
// sentences land close together without a model.
type stubEmbedder struct{}

func (stubEmbedder) Dimension() int { return 32 }

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, 32)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			tok = strings.Trim(tok, ".,!?:;\"'()")
			if tok == "" {
				continue
			}
			h := fnv.New32a()
			h.Write([]byte(tok))
			v[h.Sum32()%32]++
		}
		out[i] = llm.Normalize(v)
	}
	return out, nil
}

// fakeGenerator routes completions to per-schema handlers. Schemas
// without a handler get "{}", which drives the engine's fallback paths.
type fakeGenerator struct {
	handlers map[string]func(req llm.Request) string
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{handlers: make(map[string]func(req llm.Request) string)}
}

func (g *fakeGenerator) handle(schema string, fn func(req llm.Request) string) {
	g.handlers[schema] = fn
}

func (g *fakeGenerator) Complete(_ context.Context, req llm.Request) (string, error) {
	name := ""
	if req.Schema != nil {
		name = req.Schema.Name
	}
	if fn, ok := g.handlers[name]; ok {
		return fn(req), nil
	}
	return "{}", nil
}

func (g *fakeGenerator) Model(llm.Scope) string { return "fake-model" }

func newTestEngine(t *testing.T, gen llm.TextGenerator) *Engine {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if gen == nil {
		gen = newFakeGenerator()
	}
	return New(store, gen, stubEmbedder{}, task.NewInlineBackend(), Config{})
}

// factJSON renders an extraction response with one fact.
func factJSON(text, factType, start, end string, entities ...string) string {
	ents := make([]map[string]string, 0, len(entities))
	for _, e := range entities {
		ents = append(ents, map[string]string{"text": e})
	}
	fact := map[string]any{
		"text":           text,
		"fact_type":      factType,
		"occurred_start": start,
		"occurred_end":   end,
		"entities":       ents,
	}
	out, _ := json.Marshal(map[string]any{"facts": []any{fact}})
	return string(out)
}

func TestRetainResolvesRelativeDates(t *testing.T) {
	gen := newFakeGenerator()
	gen.handle("extracted_facts", func(llm.Request) string {
		return factJSON(
			"On 2024-11-12, I went for a morning jog for the first time in a nearby park.",
			"agent", "2024-11-12", "2024-11-12")
	})
	eng := newTestEngine(t, gen)
	ctx := context.Background()

	res, err := eng.Retain(ctx, "testuser", RetainRequest{Items: []RetainItem{{
		Content:   "Yesterday I went for a morning jog for the first time in a nearby park.",
		Timestamp: time.Date(2024, 11, 13, 9, 0, 0, 0, time.UTC),
	}}})
	require.NoError(t, err)
	require.Len(t, res.UnitIDs, 1)

	unit, err := eng.GetMemory(ctx, "testuser", res.UnitIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "2024-11-12", unit.OccurredStart.Format("2006-01-02"))
	assert.Equal(t, types.FactAgent, unit.FactType)
	assert.NotContains(t, strings.ToLower(unit.Text), "yesterday")
	assert.NotContains(t, strings.ToLower(unit.Text), "recently")
	assert.Contains(t, strings.ToLower(unit.Text), "first")
}

func TestRetainIntervalFacts(t *testing.T) {
	gen := newFakeGenerator()
	gen.handle("extracted_facts", func(llm.Request) string {
		return factJSON("Alice visited Paris in February 2024.",
			"world", "2024-02-01", "2024-02-29", "Alice", "Paris")
	})
	eng := newTestEngine(t, gen)
	ctx := context.Background()

	res, err := eng.Retain(ctx, "bank-1", RetainRequest{Items: []RetainItem{{
		Content:   "In February 2024, Alice visited Paris.",
		Timestamp: time.Date(2024, 11, 17, 0, 0, 0, 0, time.UTC),
	}}})
	require.NoError(t, err)
	require.Len(t, res.UnitIDs, 1)

	unit, err := eng.GetMemory(ctx, "bank-1", res.UnitIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", unit.OccurredStart.Format("2006-01-02"))
	assert.Contains(t, []string{"2024-02-28", "2024-02-29"}, unit.OccurredEnd.Format("2006-01-02"))
	assert.Equal(t, types.FactWorld, unit.FactType)
}

func TestDocumentUpsertReplacesUnits(t *testing.T) {
	eng := newTestEngine(t, nil) // default extraction stores the raw text
	ctx := context.Background()

	v1, err := eng.Retain(ctx, "bank-1", RetainRequest{
		DocumentID: "meeting-002",
		Items:      []RetainItem{{Content: "Alice works at Google.", Timestamp: time.Now()}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, v1.UnitIDs)

	doc, err := eng.GetDocument(ctx, "bank-1", "meeting-002")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, doc.MemoryUnitCount, 1)

	_, err = eng.Retain(ctx, "bank-1", RetainRequest{
		DocumentID: "meeting-002",
		Items:      []RetainItem{{Content: "Alice works at Microsoft. Bob works at Apple.", Timestamp: time.Now()}},
	})
	require.NoError(t, err)

	doc, err = eng.GetDocument(ctx, "bank-1", "meeting-002")
	require.NoError(t, err)
	assert.Contains(t, doc.OriginalText, "Microsoft")

	for _, id := range v1.UnitIDs {
		_, err := eng.GetMemory(ctx, "bank-1", id)
		assert.ErrorIs(t, err, storage.ErrNotFound, "unit %s from v1 should be gone", id)
	}
}

func TestSpeakerAttribution(t *testing.T) {
	gen := newFakeGenerator()
	gen.handle("extracted_facts", func(llm.Request) string {
		facts := map[string]any{"facts": []any{
			map[string]any{
				"text": "I predict the Rams will win 27-24.", "fact_type": "agent",
				"occurred_start": "2024-01-10", "occurred_end": "2024-01-10",
				"entities": []map[string]string{{"text": "Rams"}},
			},
			map[string]any{
				"text": "Jamie predicts the Niners will win 27-13.", "fact_type": "world",
				"occurred_start": "2024-01-10", "occurred_end": "2024-01-10",
				"entities": []map[string]string{{"text": "Jamie"}, {"text": "Niners"}},
			},
		}}
		out, _ := json.Marshal(facts)
		return string(out)
	})
	eng := newTestEngine(t, gen)
	ctx := context.Background()

	_, err := eng.Retain(ctx, "marcus", RetainRequest{Items: []RetainItem{{
		Content:   "Marcus: I predict Rams 27-24. Jamie: I predict Niners 27-13.",
		Context:   "podcast between you (Marcus) and Jamie",
		Timestamp: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}}})
	require.NoError(t, err)

	page, err := eng.ListMemories(ctx, "marcus", storage.ListUnitsOptions{})
	require.NoError(t, err)

	var agentRams, worldNiners bool
	for _, u := range page.Items {
		if u.FactType == types.FactAgent {
			assert.NotContains(t, u.Text, "Niners")
			if strings.Contains(u.Text, "Rams") && strings.Contains(u.Text, "27-24") {
				agentRams = true
			}
		}
		if u.FactType == types.FactWorld && strings.Contains(u.Text, "Niners") {
			worldNiners = true
		}
	}
	assert.True(t, agentRams, "expected a first-person agent fact about the Rams prediction")
	assert.True(t, worldNiners, "expected a world fact attributing the Niners prediction to Jamie")
}

func TestEntityGraphExpansion(t *testing.T) {
	gen := newFakeGenerator()
	gen.handle("extracted_facts", func(req llm.Request) string {
		switch {
		case strings.Contains(req.Prompt, "Alice works with Python"):
			return factJSON("Alice works with Python at TechCorp.", "world",
				"2024-06-01", "2024-06-01", "Alice", "Python", "TechCorp")
		case strings.Contains(req.Prompt, "Bob uses Python"):
			return factJSON("Bob uses Python at DataSoft.", "world",
				"2024-06-02", "2024-06-02", "Bob", "Python", "DataSoft")
		default:
			return "{}" // fallback: raw text as a world fact, no entities
		}
	})
	eng := newTestEngine(t, gen)
	ctx := context.Background()

	base := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	retainOne := func(content string, ts time.Time) []string {
		res, err := eng.Retain(ctx, "bank-1", RetainRequest{Items: []RetainItem{{Content: content, Timestamp: ts}}})
		require.NoError(t, err)
		return res.UnitIDs
	}

	retainOne("Alice works with Python at TechCorp", base)
	bIDs := retainOne("Bob uses Python at DataSoft", base.Add(24*time.Hour))
	require.Len(t, bIDs, 1)
	for i := 0; i < 8; i++ {
		retainOne(fmt.Sprintf("Unrelated filler statement number %d about topic %d.", i, i), base.Add(time.Duration(i+2)*72*time.Hour))
	}

	res, err := eng.Recall(ctx, "bank-1", RecallRequest{
		Query:     "Alice",
		Budget:    BudgetMid,
		FactTypes: []types.FactType{types.FactWorld},
		Trace:     true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Trace)

	assert.Contains(t, res.Trace.ExpandedUnitIDs(), bIDs[0],
		"Bob's unit should be reached through the shared Python entity")
}

func TestBudgetMonotonicity(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()
	store := eng.store

	_, err := store.GetOrCreateBank(ctx, "bank-1")
	require.NoError(t, err)

	topics := []string{"gardening", "astronomy", "cooking", "cycling", "painting", "chess", "sailing", "history"}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	emb := stubEmbedder{}
	var units []*types.MemoryUnit
	for i := 0; i < 200; i++ {
		text := fmt.Sprintf("Fact %d concerns %s and detail %d.", i, topics[i%len(topics)], i*7)
		vecs, err := emb.Embed(ctx, []string{text})
		require.NoError(t, err)
		ts := base.Add(time.Duration(i) * time.Hour)
		units = append(units, &types.MemoryUnit{
			ID: fmt.Sprintf("00000000-0000-0000-0000-%012d", i), BankID: "bank-1",
			Text: text, FactType: types.FactWorld, Embedding: vecs[0],
			OccurredStart: ts, OccurredEnd: ts, MentionedAt: ts,
		})
	}
	require.NoError(t, store.InsertUnits(ctx, units))

	idSet := func(b Budget) map[string]bool {
		res, err := eng.Recall(ctx, "bank-1", RecallRequest{Query: "gardening details", Budget: b})
		require.NoError(t, err)
		out := make(map[string]bool)
		for _, r := range res.Results {
			out[r.Unit.ID] = true
		}
		return out
	}

	low, mid, high := idSet(BudgetLow), idSet(BudgetMid), idSet(BudgetHigh)
	assert.LessOrEqual(t, len(high), 200)
	for id := range low {
		assert.True(t, mid[id], "low result %s missing at mid budget", id)
	}
	for id := range mid {
		assert.True(t, high[id], "mid result %s missing at high budget", id)
	}
}

func TestRecallRespectsMaxTokens(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := eng.Retain(ctx, "bank-1", RetainRequest{Items: []RetainItem{{
			Content:   fmt.Sprintf("A reasonably long statement about sailing trip number %d across the bay.", i),
			Timestamp: time.Date(2024, 5, 1+i, 0, 0, 0, 0, time.UTC),
		}}})
		require.NoError(t, err)
	}

	res, err := eng.Recall(ctx, "bank-1", RecallRequest{Query: "sailing across the bay", MaxTokens: 30})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)

	total := 0
	for _, r := range res.Results {
		total += estimateTokens(r.Unit.Text)
	}
	assert.LessOrEqual(t, total, 30)
}

func TestRetainEmptyItemsIsNoOp(t *testing.T) {
	eng := newTestEngine(t, nil)
	res, err := eng.Retain(context.Background(), "bank-1", RetainRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ItemsCount)
	assert.Empty(t, res.UnitIDs)
}

func TestRecallEmptyBank(t *testing.T) {
	eng := newTestEngine(t, nil)
	res, err := eng.Recall(context.Background(), "nobody", RecallRequest{Query: "anything at all"})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestRetainDeduplicates(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	item := RetainItem{
		Content:   "The Saturn V rocket first flew in 1967.",
		Timestamp: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		Metadata:  map[string]string{"source": "first"},
	}
	first, err := eng.Retain(ctx, "bank-1", RetainRequest{Items: []RetainItem{item}})
	require.NoError(t, err)
	require.Len(t, first.UnitIDs, 1)

	item.Metadata = map[string]string{"round": "second"}
	second, err := eng.Retain(ctx, "bank-1", RetainRequest{Items: []RetainItem{item}})
	require.NoError(t, err)
	assert.Empty(t, second.UnitIDs, "identical fact should be dropped as a duplicate")

	unit, err := eng.GetMemory(ctx, "bank-1", first.UnitIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "first", unit.Metadata["source"], "existing metadata keys win")
	assert.Equal(t, "second", unit.Metadata["round"], "duplicate metadata is folded in")
}

func TestRetainAsyncLedger(t *testing.T) {
	eng := newTestEngine(t, nil) // inline backend runs the task before returning
	ctx := context.Background()

	res, err := eng.RetainAsync(ctx, "bank-1", RetainRequest{Items: []RetainItem{{
		Content: "Asynchronous ingestion works.", Timestamp: time.Now(),
	}}})
	require.NoError(t, err)
	require.NotEmpty(t, res.OperationID)
	assert.Equal(t, 1, res.ItemsCount)

	op, err := eng.GetOperation(ctx, "bank-1", res.OperationID)
	require.NoError(t, err)
	assert.Equal(t, types.OpCompleted, op.Status)

	page, err := eng.ListMemories(ctx, "bank-1", storage.ListUnitsOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestCancelledTaskIsSkipped(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	op := &types.AsyncOperation{
		ID: "11111111-1111-1111-1111-111111111111", BankID: "bank-1",
		TaskType: taskBatchPut, ItemsCount: 1, Status: types.OpPending, CreatedAt: time.Now(),
	}
	_, err := eng.store.GetOrCreateBank(ctx, "bank-1")
	require.NoError(t, err)
	require.NoError(t, eng.store.CreateOperation(ctx, op))
	require.NoError(t, eng.CancelOperation(ctx, "bank-1", op.ID))

	payload, _ := json.Marshal(RetainRequest{Items: []RetainItem{{Content: "should not be stored"}}})
	err = eng.executeTask(ctx, task.Task{Type: taskBatchPut, BankID: "bank-1", OperationID: op.ID, Payload: payload})
	require.NoError(t, err)

	page, err := eng.ListMemories(ctx, "bank-1", storage.ListUnitsOptions{})
	require.NoError(t, err)
	assert.Zero(t, page.Total, "cancelled task must not ingest anything")
}

func TestReflectRejectsUnknownFactType(t *testing.T) {
	eng := newTestEngine(t, nil)
	_, err := eng.Reflect(context.Background(), "bank-1", ReflectRequest{
		Query:     "who am I",
		FactTypes: []types.FactType{"bank"},
	})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr), "unknown fact type should be a validation error, got %v", err)
}

func TestReflectGroundsAnswer(t *testing.T) {
	gen := newFakeGenerator()
	gen.handle("reflection", func(llm.Request) string {
		return `{"text": "I jog in the park in the mornings.", "based_on": [1]}`
	})
	eng := newTestEngine(t, gen)
	ctx := context.Background()

	res, err := eng.Retain(ctx, "bank-1", RetainRequest{Items: []RetainItem{{
		Content: "I went jogging in the park this morning.", Timestamp: time.Now(),
	}}})
	require.NoError(t, err)
	require.Len(t, res.UnitIDs, 1)

	out, err := eng.Reflect(ctx, "bank-1", ReflectRequest{Query: "do I exercise in the park"})
	require.NoError(t, err)
	assert.Equal(t, "I jog in the park in the mornings.", out.Text)
	assert.Equal(t, []string{res.UnitIDs[0]}, out.BasedOn)
}

func TestRegenerateEntityObservations(t *testing.T) {
	gen := newFakeGenerator()
	gen.handle("extracted_facts", func(req llm.Request) string {
		if strings.Contains(req.Prompt, "Karlie") {
			return factJSON("Karlie enjoys trail running in the mountains.", "world",
				"2024-04-01", "2024-04-01", "Karlie")
		}
		return "{}"
	})
	gen.handle("entity_observations", func(llm.Request) string {
		return `{"observations": ["Karlie is an avid trail runner."]}`
	})
	eng := newTestEngine(t, gen)
	ctx := context.Background()

	_, err := eng.Retain(ctx, "bank-1", RetainRequest{Items: []RetainItem{{
		Content: "Karlie enjoys trail running.", Timestamp: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}}})
	require.NoError(t, err)

	ents, err := eng.ListEntities(ctx, "bank-1", storage.ListOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, ents.Items)
	entityID := ents.Items[0].ID

	require.NoError(t, eng.RegenerateEntityObservations(ctx, "bank-1", entityID))

	page, err := eng.ListMemories(ctx, "bank-1", storage.ListUnitsOptions{
		FactTypes: []types.FactType{types.FactObservation},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	obs := page.Items[0]
	assert.Equal(t, "Karlie is an avid trail runner.", obs.Text)
	assert.Equal(t, entityID, obs.Metadata["entity_id"])

	// Refreshing replaces rather than accumulates.
	gen.handle("entity_observations", func(llm.Request) string {
		return `{"observations": ["Karlie trains in the mountains.", "Karlie values endurance."]}`
	})
	require.NoError(t, eng.RegenerateEntityObservations(ctx, "bank-1", entityID))

	page, err = eng.ListMemories(ctx, "bank-1", storage.ListUnitsOptions{
		FactTypes: []types.FactType{types.FactObservation},
	})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

func TestObservationRefreshScopedToOwningEntity(t *testing.T) {
	gen := newFakeGenerator()
	gen.handle("extracted_facts", func(req llm.Request) string {
		if strings.Contains(req.Prompt, "Karlie visited Boston") {
			return factJSON("Karlie visited Boston in April 2024.", "world",
				"2024-04-10", "2024-04-10", "Karlie", "Boston")
		}
		return "{}"
	})
	gen.handle("entity_observations", func(req llm.Request) string {
		if strings.HasPrefix(req.Prompt, "Entity: Karlie") {
			return `{"observations": ["Karlie travels to coastal cities."]}`
		}
		return `{"observations": ["Boston drew a spring visitor."]}`
	})
	eng := newTestEngine(t, gen)
	ctx := context.Background()

	_, err := eng.Retain(ctx, "bank-1", RetainRequest{Items: []RetainItem{{
		Content: "Karlie visited Boston.", Timestamp: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
	}}})
	require.NoError(t, err)

	ents, err := eng.ListEntities(ctx, "bank-1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, ents.Items, 2)
	byName := make(map[string]string)
	for _, e := range ents.Items {
		byName[e.CanonicalName] = e.ID
	}

	// Both observations reference both entities, so each refresh must only
	// replace the observation it owns.
	require.NoError(t, eng.RegenerateEntityObservations(ctx, "bank-1", byName["Karlie"]))
	require.NoError(t, eng.RegenerateEntityObservations(ctx, "bank-1", byName["Boston"]))

	page, err := eng.ListMemories(ctx, "bank-1", storage.ListUnitsOptions{
		FactTypes: []types.FactType{types.FactObservation},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	owners := make(map[string]string)
	for _, obs := range page.Items {
		owners[obs.Metadata["entity_id"]] = obs.Text
	}
	assert.Equal(t, "Karlie travels to coastal cities.", owners[byName["Karlie"]])
	assert.Equal(t, "Boston drew a spring visitor.", owners[byName["Boston"]])
}

func TestRecallDeprioritizesStaleOccurrences(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()
	store := eng.store

	_, err := store.GetOrCreateBank(ctx, "bank-1")
	require.NoError(t, err)

	queryTS := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	mentioned := queryTS.Add(-time.Hour)
	text := "The harbor festival drew a large crowd."
	vecs, err := stubEmbedder{}.Embed(ctx, []string{text})
	require.NoError(t, err)

	// Identical text and mention time, so the fused components match and
	// only the occurrence window separates the two units.
	recentEnd := queryTS.Add(-48 * time.Hour)
	staleEnd := queryTS.Add(-60 * 24 * time.Hour)
	units := []*types.MemoryUnit{
		{ID: "00000000-0000-0000-0000-000000000001", BankID: "bank-1", Text: text,
			FactType: types.FactWorld, Embedding: vecs[0],
			OccurredStart: recentEnd, OccurredEnd: recentEnd, MentionedAt: mentioned},
		{ID: "00000000-0000-0000-0000-000000000002", BankID: "bank-1", Text: text,
			FactType: types.FactWorld, Embedding: vecs[0],
			OccurredStart: staleEnd, OccurredEnd: staleEnd, MentionedAt: mentioned},
	}
	require.NoError(t, store.InsertUnits(ctx, units))

	res, err := eng.Recall(ctx, "bank-1", RecallRequest{
		Query:          "harbor festival crowd",
		QueryTimestamp: queryTS,
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 2, "stale unit is deprioritized, not excluded")

	assert.Equal(t, units[0].ID, res.Results[0].Unit.ID)
	assert.Equal(t, units[1].ID, res.Results[1].Unit.ID)
	assert.InDelta(t, 0.5*res.Results[0].Score, res.Results[1].Score, 1e-9,
		"stale score should be exactly half the fresh score")
}

func TestMergeBankBackgroundFallsBackToAppend(t *testing.T) {
	gen := newFakeGenerator()
	gen.handle("background_merge", func(llm.Request) string {
		return "this is not json at all"
	})
	eng := newTestEngine(t, gen)
	ctx := context.Background()

	_, err := eng.MergeBankBackground(ctx, "bank-1", "Grew up in Lisbon.")
	require.NoError(t, err)
	bank, err := eng.MergeBankBackground(ctx, "bank-1", "Moved to Berlin in 2020.")
	require.NoError(t, err)

	assert.Contains(t, bank.Background, "Lisbon")
	assert.Contains(t, bank.Background, "Berlin")
	assert.Equal(t, types.DefaultPersonality(), bank.Personality)
}

func TestMergeBankBackgroundInfersPersonality(t *testing.T) {
	gen := newFakeGenerator()
	gen.handle("background_merge", func(llm.Request) string {
		return `{"background": "I am a meticulous sailor from Lisbon.",
			"personality": {"openness": 0.8, "conscientiousness": 1.4, "extraversion": 0.4,
			"agreeableness": 0.6, "neuroticism": -0.2, "bias_strength": 0.5}}`
	})
	eng := newTestEngine(t, gen)

	bank, err := eng.MergeBankBackground(context.Background(), "bank-1", "I sail and I am meticulous.")
	require.NoError(t, err)
	assert.Equal(t, "I am a meticulous sailor from Lisbon.", bank.Background)
	assert.Equal(t, 1.0, bank.Personality.Conscientiousness, "traits are clamped to [0, 1]")
	assert.Equal(t, 0.0, bank.Personality.Neuroticism)
	assert.Equal(t, 0.8, bank.Personality.Openness)
}

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// newTestStore creates an in-memory SQLite store. NewStore applies the
// full Schema, so no additional DDL is required in tests.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedBank(t *testing.T, store *Store, bankID string) {
	t.Helper()
	if _, err := store.GetOrCreateBank(context.Background(), bankID); err != nil {
		t.Fatalf("GetOrCreateBank(%q) failed: %v", bankID, err)
	}
}

func testUnit(bankID, id, text string, factType types.FactType, mentionedAt time.Time) *types.MemoryUnit {
	return &types.MemoryUnit{
		ID:          id,
		BankID:      bankID,
		Text:        text,
		FactType:    factType,
		MentionedAt: mentionedAt,
	}
}

func TestInsertAndGetUnit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	now := time.Now().UTC().Truncate(time.Second)
	u := testUnit("alice", "u1", "Alice moved to Berlin in 2024.", types.FactWorld, now)
	u.Context = "relocation chat"
	u.Embedding = []float32{0.6, 0.8}
	u.OccurredStart = now.Add(-48 * time.Hour)
	u.OccurredEnd = now.Add(-24 * time.Hour)
	u.Metadata = map[string]string{"source": "chat"}

	if err := store.InsertUnits(ctx, []*types.MemoryUnit{u}); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}

	got, err := store.GetUnit(ctx, "alice", "u1")
	if err != nil {
		t.Fatalf("GetUnit() failed: %v", err)
	}
	if got.Text != u.Text {
		t.Errorf("Text: got %q, want %q", got.Text, u.Text)
	}
	if got.FactType != types.FactWorld {
		t.Errorf("FactType: got %q, want %q", got.FactType, types.FactWorld)
	}
	if got.Context != "relocation chat" {
		t.Errorf("Context: got %q, want %q", got.Context, "relocation chat")
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 0.6 || got.Embedding[1] != 0.8 {
		t.Errorf("Embedding: got %v, want [0.6 0.8]", got.Embedding)
	}
	if !got.OccurredStart.Equal(u.OccurredStart) || !got.OccurredEnd.Equal(u.OccurredEnd) {
		t.Errorf("occurrence: got [%v, %v], want [%v, %v]",
			got.OccurredStart, got.OccurredEnd, u.OccurredStart, u.OccurredEnd)
	}
	if got.Metadata["source"] != "chat" {
		t.Errorf("Metadata[source]: got %q, want %q", got.Metadata["source"], "chat")
	}

	if _, err := store.GetUnit(ctx, "alice", "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetUnit(missing): got %v, want ErrNotFound", err)
	}
	if _, err := store.GetUnit(ctx, "bob", "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetUnit(wrong bank): got %v, want ErrNotFound", err)
	}
}

func TestGetUnitsPreservesRequestOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	now := time.Now().UTC()
	units := []*types.MemoryUnit{
		testUnit("alice", "u1", "fact one", types.FactWorld, now),
		testUnit("alice", "u2", "fact two", types.FactWorld, now),
		testUnit("alice", "u3", "fact three", types.FactWorld, now),
	}
	if err := store.InsertUnits(ctx, units); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}

	got, err := store.GetUnits(ctx, "alice", []string{"u3", "missing", "u1"})
	if err != nil {
		t.Fatalf("GetUnits() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetUnits(): got %d units, want 2", len(got))
	}
	if got[0].ID != "u3" || got[1].ID != "u1" {
		t.Errorf("order: got [%s, %s], want [u3, u1]", got[0].ID, got[1].ID)
	}
}

func TestListUnitsFiltersAndPaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	base := time.Now().UTC().Truncate(time.Second)
	var units []*types.MemoryUnit
	for i := 0; i < 5; i++ {
		units = append(units, testUnit("alice", fmt.Sprintf("w%d", i),
			fmt.Sprintf("world fact %d", i), types.FactWorld, base.Add(time.Duration(i)*time.Minute)))
	}
	units = append(units,
		testUnit("alice", "o1", "opinion fact", types.FactOpinion, base),
		testUnit("alice", "obs1", "observation fact", types.FactObservation, base))
	if err := store.InsertUnits(ctx, units); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}

	// Default listing excludes observations.
	page, err := store.ListUnits(ctx, "alice", storage.ListUnitsOptions{})
	if err != nil {
		t.Fatalf("ListUnits() failed: %v", err)
	}
	if page.Total != 6 {
		t.Errorf("Total: got %d, want 6", page.Total)
	}
	for _, u := range page.Items {
		if u.FactType == types.FactObservation {
			t.Errorf("default listing returned observation %s", u.ID)
		}
	}

	// Explicit fact-type filter.
	page, err = store.ListUnits(ctx, "alice", storage.ListUnitsOptions{
		FactTypes: []types.FactType{types.FactOpinion},
	})
	if err != nil {
		t.Fatalf("ListUnits(opinion) failed: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != "o1" {
		t.Errorf("opinion filter: got total=%d, want 1 item o1", page.Total)
	}

	// Paging, newest first.
	page, err = store.ListUnits(ctx, "alice", storage.ListUnitsOptions{
		ListOptions: storage.ListOptions{Page: 1, Limit: 2},
		FactTypes:   []types.FactType{types.FactWorld},
	})
	if err != nil {
		t.Fatalf("ListUnits(page 1) failed: %v", err)
	}
	if len(page.Items) != 2 || !page.HasMore {
		t.Fatalf("page 1: got %d items hasMore=%v, want 2 items hasMore=true", len(page.Items), page.HasMore)
	}
	if page.Items[0].ID != "w4" || page.Items[1].ID != "w3" {
		t.Errorf("page 1 order: got [%s, %s], want [w4, w3]", page.Items[0].ID, page.Items[1].ID)
	}
}

func TestAppendUnitMetadataKeepsExistingKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	u := testUnit("alice", "u1", "fact", types.FactWorld, time.Now().UTC())
	u.Metadata = map[string]string{"source": "chat"}
	if err := store.InsertUnits(ctx, []*types.MemoryUnit{u}); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}

	err := store.AppendUnitMetadata(ctx, "alice", "u1", map[string]string{
		"source":  "import", // existing key must win
		"speaker": "alice",
	})
	if err != nil {
		t.Fatalf("AppendUnitMetadata() failed: %v", err)
	}

	got, err := store.GetUnit(ctx, "alice", "u1")
	if err != nil {
		t.Fatalf("GetUnit() failed: %v", err)
	}
	if got.Metadata["source"] != "chat" {
		t.Errorf("Metadata[source]: got %q, want %q", got.Metadata["source"], "chat")
	}
	if got.Metadata["speaker"] != "alice" {
		t.Errorf("Metadata[speaker]: got %q, want %q", got.Metadata["speaker"], "alice")
	}

	if err := store.AppendUnitMetadata(ctx, "alice", "missing", map[string]string{"k": "v"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AppendUnitMetadata(missing): got %v, want ErrNotFound", err)
	}
}

func TestInsertLinksIgnoresDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	now := time.Now().UTC()
	units := []*types.MemoryUnit{
		testUnit("alice", "u1", "fact one", types.FactWorld, now),
		testUnit("alice", "u2", "fact two", types.FactWorld, now),
	}
	if err := store.InsertUnits(ctx, units); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}

	links := []types.MemoryLink{
		{FromUnitID: "u1", ToUnitID: "u2", LinkType: types.LinkTemporal, Weight: 0.8},
		{FromUnitID: "u1", ToUnitID: "u2", LinkType: types.LinkTemporal, Weight: 0.5}, // dup key
		{FromUnitID: "u1", ToUnitID: "u2", LinkType: types.LinkSemantic, Weight: 0.9},
	}
	if err := store.InsertLinks(ctx, links); err != nil {
		t.Fatalf("InsertLinks() failed: %v", err)
	}
	// Re-inserting the whole batch must be a no-op.
	if err := store.InsertLinks(ctx, links); err != nil {
		t.Fatalf("InsertLinks(again) failed: %v", err)
	}

	got, err := store.LinksFrom(ctx, "alice", []string{"u1"}, nil)
	if err != nil {
		t.Fatalf("LinksFrom() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LinksFrom(): got %d links, want 2", len(got))
	}

	got, err = store.LinksFrom(ctx, "alice", []string{"u1"}, []types.LinkType{types.LinkTemporal})
	if err != nil {
		t.Fatalf("LinksFrom(temporal) failed: %v", err)
	}
	if len(got) != 1 || got[0].Weight != 0.8 {
		t.Errorf("temporal link: got %+v, want weight 0.8 (first write wins)", got)
	}
	if got[0].EntityID != "" {
		t.Errorf("EntityID: got %q, want empty for non-entity link", got[0].EntityID)
	}
}

func TestEntityLinksKeyedByEntity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	now := time.Now().UTC()
	units := []*types.MemoryUnit{
		testUnit("alice", "u1", "fact one", types.FactWorld, now),
		testUnit("alice", "u2", "fact two", types.FactWorld, now),
	}
	if err := store.InsertUnits(ctx, units); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}
	for _, name := range []string{"e1", "e2"} {
		if err := store.CreateEntity(ctx, &types.Entity{ID: name, BankID: "alice", CanonicalName: name}); err != nil {
			t.Fatalf("CreateEntity(%s) failed: %v", name, err)
		}
	}

	// Same unit pair, two different shared entities: both edges survive.
	links := []types.MemoryLink{
		{FromUnitID: "u1", ToUnitID: "u2", LinkType: types.LinkEntity, Weight: 1.0, EntityID: "e1"},
		{FromUnitID: "u1", ToUnitID: "u2", LinkType: types.LinkEntity, Weight: 1.0, EntityID: "e2"},
	}
	if err := store.InsertLinks(ctx, links); err != nil {
		t.Fatalf("InsertLinks() failed: %v", err)
	}

	got, err := store.LinksFrom(ctx, "alice", []string{"u1"}, []types.LinkType{types.LinkEntity})
	if err != nil {
		t.Fatalf("LinksFrom() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entity links: got %d, want 2", len(got))
	}
}

func TestEntityLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	e := &types.Entity{ID: "e1", BankID: "alice", CanonicalName: "Acme Corp"}
	if err := store.CreateEntity(ctx, e); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	got, err := store.FindEntityByName(ctx, "alice", "Acme Corp")
	if err != nil {
		t.Fatalf("FindEntityByName() failed: %v", err)
	}
	if got.ID != "e1" {
		t.Errorf("FindEntityByName: got ID %q, want e1", got.ID)
	}
	if _, err := store.FindEntityByName(ctx, "alice", "Nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("FindEntityByName(missing): got %v, want ErrNotFound", err)
	}

	matches, err := store.SearchEntitiesByName(ctx, "alice", "acme", 10)
	if err != nil {
		t.Fatalf("SearchEntitiesByName() failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "e1" {
		t.Errorf("SearchEntitiesByName: got %d matches, want 1 (e1)", len(matches))
	}

	earlier := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	later := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	err = store.RecordMentions(ctx, []storage.EntityMentionRecord{
		{EntityID: "e1", SeenAt: later},
		{EntityID: "e1", SeenAt: earlier},
	})
	if err != nil {
		t.Fatalf("RecordMentions() failed: %v", err)
	}

	got, err = store.GetEntity(ctx, "alice", "e1")
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.MentionCount != 2 {
		t.Errorf("MentionCount: got %d, want 2", got.MentionCount)
	}
	if !got.FirstSeen.Equal(earlier) {
		t.Errorf("FirstSeen: got %v, want %v", got.FirstSeen, earlier)
	}
	if !got.LastSeen.Equal(later) {
		t.Errorf("LastSeen: got %v, want %v", got.LastSeen, later)
	}
}

func TestUnitsForEntity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	base := time.Now().UTC().Truncate(time.Second)
	units := []*types.MemoryUnit{
		testUnit("alice", "u1", "fact one", types.FactWorld, base),
		testUnit("alice", "u2", "fact two", types.FactWorld, base.Add(time.Minute)),
		testUnit("alice", "u3", "fact three", types.FactWorld, base.Add(2*time.Minute)),
	}
	if err := store.InsertUnits(ctx, units); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}
	if err := store.CreateEntity(ctx, &types.Entity{ID: "e1", BankID: "alice", CanonicalName: "Bob"}); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	err := store.LinkUnitsToEntities(ctx, []storage.UnitEntity{
		{UnitID: "u1", EntityID: "e1"},
		{UnitID: "u3", EntityID: "e1"},
		{UnitID: "u1", EntityID: "e1"}, // duplicate pair is ignored
	})
	if err != nil {
		t.Fatalf("LinkUnitsToEntities() failed: %v", err)
	}

	got, err := store.UnitsForEntity(ctx, "alice", "e1", 10)
	if err != nil {
		t.Fatalf("UnitsForEntity() failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "u3" || got[1].ID != "u1" {
		t.Fatalf("UnitsForEntity: got %d units, want [u3, u1] newest first", len(got))
	}

	byUnit, err := store.EntitiesForUnits(ctx, []string{"u1", "u2", "u3"})
	if err != nil {
		t.Fatalf("EntitiesForUnits() failed: %v", err)
	}
	if len(byUnit["u1"]) != 1 || byUnit["u1"][0] != "e1" {
		t.Errorf("EntitiesForUnits[u1]: got %v, want [e1]", byUnit["u1"])
	}
	if len(byUnit["u2"]) != 0 {
		t.Errorf("EntitiesForUnits[u2]: got %v, want empty", byUnit["u2"])
	}
}

func TestReplaceObservations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	now := time.Now().UTC()
	if err := store.CreateEntity(ctx, &types.Entity{ID: "e1", BankID: "alice", CanonicalName: "Bob"}); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	if err := store.CreateEntity(ctx, &types.Entity{ID: "e2", BankID: "alice", CanonicalName: "Acme"}); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	old := testUnit("alice", "obs-old", "Bob seems punctual.", types.FactObservation, now)
	old.Metadata = map[string]string{"entity_id": "e1"}
	keep := testUnit("alice", "w1", "Bob works at Acme.", types.FactWorld, now)
	// Acme's own observation references Bob too, so it is cross-linked to
	// both entities but owned by e2.
	other := testUnit("alice", "obs-acme", "Acme employs people like Bob.", types.FactObservation, now)
	other.Metadata = map[string]string{"entity_id": "e2"}
	if err := store.InsertUnits(ctx, []*types.MemoryUnit{old, keep, other}); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}
	err := store.LinkUnitsToEntities(ctx, []storage.UnitEntity{
		{UnitID: "obs-old", EntityID: "e1"},
		{UnitID: "w1", EntityID: "e1"},
		{UnitID: "obs-acme", EntityID: "e2"},
		{UnitID: "obs-acme", EntityID: "e1"},
	})
	if err != nil {
		t.Fatalf("LinkUnitsToEntities() failed: %v", err)
	}

	fresh := testUnit("alice", "obs-new", "Bob is consistently early to meetings.", types.FactObservation, now)
	fresh.Metadata = map[string]string{"entity_id": "e1"}
	err = store.ReplaceObservations(ctx, "alice", "e1",
		[]*types.MemoryUnit{fresh},
		[]storage.UnitEntity{{UnitID: "obs-new", EntityID: "e1"}})
	if err != nil {
		t.Fatalf("ReplaceObservations() failed: %v", err)
	}

	if _, err := store.GetUnit(ctx, "alice", "obs-old"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("old observation: got %v, want ErrNotFound", err)
	}
	if _, err := store.GetUnit(ctx, "alice", "obs-new"); err != nil {
		t.Errorf("new observation: got %v, want nil", err)
	}
	// Non-observation units tied to the entity are untouched.
	if _, err := store.GetUnit(ctx, "alice", "w1"); err != nil {
		t.Errorf("world unit: got %v, want nil", err)
	}
	// Another entity's observation survives even though it is linked to e1.
	if _, err := store.GetUnit(ctx, "alice", "obs-acme"); err != nil {
		t.Errorf("cross-linked observation: got %v, want nil", err)
	}
}

func TestReplaceDocumentCascadesDerivedUnits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	doc := &types.Document{ID: "d1", BankID: "alice", OriginalText: "v1 text", ContentHash: "h1"}
	if err := store.ReplaceDocument(ctx, doc); err != nil {
		t.Fatalf("ReplaceDocument() failed: %v", err)
	}

	u := testUnit("alice", "u1", "derived fact", types.FactWorld, time.Now().UTC())
	u.DocumentID = "d1"
	if err := store.InsertUnits(ctx, []*types.MemoryUnit{u}); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}
	if err := store.UpdateDocumentUnitCount(ctx, "alice", "d1", 1); err != nil {
		t.Fatalf("UpdateDocumentUnitCount() failed: %v", err)
	}

	got, err := store.GetDocument(ctx, "alice", "d1")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if got.MemoryUnitCount != 1 || got.OriginalText != "v1 text" {
		t.Errorf("document v1: got count=%d text=%q", got.MemoryUnitCount, got.OriginalText)
	}

	// Re-ingesting replaces the document and drops the derived units.
	doc2 := &types.Document{ID: "d1", BankID: "alice", OriginalText: "v2 text", ContentHash: "h2"}
	if err := store.ReplaceDocument(ctx, doc2); err != nil {
		t.Fatalf("ReplaceDocument(v2) failed: %v", err)
	}
	if _, err := store.GetUnit(ctx, "alice", "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("derived unit after replace: got %v, want ErrNotFound", err)
	}
	got, err = store.GetDocument(ctx, "alice", "d1")
	if err != nil {
		t.Fatalf("GetDocument(v2) failed: %v", err)
	}
	if got.OriginalText != "v2 text" || got.MemoryUnitCount != 0 {
		t.Errorf("document v2: got text=%q count=%d, want v2 text / 0", got.OriginalText, got.MemoryUnitCount)
	}
}

func TestGetOrCreateBankDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bank, err := store.GetOrCreateBank(ctx, "fresh-bank")
	if err != nil {
		t.Fatalf("GetOrCreateBank() failed: %v", err)
	}
	if bank.Name != "fresh-bank" {
		t.Errorf("Name: got %q, want %q", bank.Name, "fresh-bank")
	}
	if bank.Personality != types.DefaultPersonality() {
		t.Errorf("Personality: got %+v, want neutral defaults", bank.Personality)
	}
	if bank.Background != "" {
		t.Errorf("Background: got %q, want empty", bank.Background)
	}

	// Second call returns the same bank, not a reset one.
	if err := store.UpdateBankBackground(ctx, "fresh-bank", "I am a test bank.", nil); err != nil {
		t.Fatalf("UpdateBankBackground() failed: %v", err)
	}
	bank, err = store.GetOrCreateBank(ctx, "fresh-bank")
	if err != nil {
		t.Fatalf("GetOrCreateBank(again) failed: %v", err)
	}
	if bank.Background != "I am a test bank." {
		t.Errorf("Background after update: got %q", bank.Background)
	}
}

func TestDeleteBank(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	now := time.Now().UTC()
	units := []*types.MemoryUnit{
		testUnit("alice", "u1", "world fact", types.FactWorld, now),
		testUnit("alice", "u2", "opinion fact", types.FactOpinion, now),
	}
	if err := store.InsertUnits(ctx, units); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}
	op := &types.AsyncOperation{ID: "op1", BankID: "alice", TaskType: "batch_put"}
	if err := store.CreateOperation(ctx, op); err != nil {
		t.Fatalf("CreateOperation() failed: %v", err)
	}

	// Scoped delete keeps the bank.
	ft := types.FactOpinion
	n, err := store.DeleteBank(ctx, "alice", &ft)
	if err != nil {
		t.Fatalf("DeleteBank(opinion) failed: %v", err)
	}
	if n != 1 {
		t.Errorf("scoped delete: got %d, want 1", n)
	}
	if _, err := store.GetUnit(ctx, "alice", "u1"); err != nil {
		t.Errorf("world unit survived scoped delete: got %v", err)
	}

	// Full delete removes everything, including the operations ledger.
	n, err = store.DeleteBank(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("DeleteBank() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("full delete: got %d, want 1", n)
	}
	if _, err := store.GetUnit(ctx, "alice", "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unit after full delete: got %v, want ErrNotFound", err)
	}
	if _, err := store.GetOperation(ctx, "alice", "op1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("operation after full delete: got %v, want ErrNotFound", err)
	}
}

func TestBankStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	now := time.Now().UTC()
	units := []*types.MemoryUnit{
		testUnit("alice", "u1", "fact one", types.FactWorld, now),
		testUnit("alice", "u2", "fact two", types.FactWorld, now),
		testUnit("alice", "u3", "opinion", types.FactOpinion, now),
	}
	if err := store.InsertUnits(ctx, units); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}
	if err := store.InsertLinks(ctx, []types.MemoryLink{
		{FromUnitID: "u1", ToUnitID: "u2", LinkType: types.LinkSemantic, Weight: 0.9},
	}); err != nil {
		t.Fatalf("InsertLinks() failed: %v", err)
	}
	if err := store.CreateEntity(ctx, &types.Entity{ID: "e1", BankID: "alice", CanonicalName: "Bob"}); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	stats, err := store.BankStats(ctx, "alice")
	if err != nil {
		t.Fatalf("BankStats() failed: %v", err)
	}
	if stats.Units != 3 || stats.Links != 1 || stats.Entities != 1 || stats.Documents != 0 {
		t.Errorf("stats: got %+v", stats)
	}
	if stats.ByType["world"] != 2 || stats.ByType["opinion"] != 1 {
		t.Errorf("ByType: got %v", stats.ByType)
	}
}

func TestOperationLedger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	op := &types.AsyncOperation{ID: "op1", BankID: "alice", TaskType: "batch_put", ItemsCount: 3}
	if err := store.CreateOperation(ctx, op); err != nil {
		t.Fatalf("CreateOperation() failed: %v", err)
	}

	got, err := store.GetOperation(ctx, "alice", "op1")
	if err != nil {
		t.Fatalf("GetOperation() failed: %v", err)
	}
	if got.Status != types.OpPending || got.ItemsCount != 3 {
		t.Errorf("operation: got status=%q items=%d, want pending/3", got.Status, got.ItemsCount)
	}

	if err := store.UpdateOperationStatus(ctx, "op1", types.OpFailed, "llm unavailable"); err != nil {
		t.Fatalf("UpdateOperationStatus() failed: %v", err)
	}
	got, err = store.GetOperation(ctx, "alice", "op1")
	if err != nil {
		t.Fatalf("GetOperation(after update) failed: %v", err)
	}
	if got.Status != types.OpFailed || got.ErrorMessage != "llm unavailable" {
		t.Errorf("after update: got status=%q err=%q", got.Status, got.ErrorMessage)
	}

	// Cancellation deletes the row; a later lookup reports not found.
	if err := store.DeleteOperation(ctx, "alice", "op1"); err != nil {
		t.Fatalf("DeleteOperation() failed: %v", err)
	}
	if _, err := store.GetOperation(ctx, "alice", "op1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("after cancel: got %v, want ErrNotFound", err)
	}
	if err := store.DeleteOperation(ctx, "alice", "op1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("double cancel: got %v, want ErrNotFound", err)
	}
}

func TestVectorSearchRanksBySimilarity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	now := time.Now().UTC()
	mk := func(id string, ft types.FactType, emb []float32) *types.MemoryUnit {
		u := testUnit("alice", id, "fact "+id, ft, now)
		u.Embedding = emb
		return u
	}
	units := []*types.MemoryUnit{
		mk("close", types.FactWorld, []float32{1, 0}),
		mk("mid", types.FactWorld, []float32{0.707, 0.707}),
		mk("far", types.FactWorld, []float32{0, 1}),
		mk("obs", types.FactObservation, []float32{1, 0}),
	}
	if err := store.InsertUnits(ctx, units); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}

	got, err := store.VectorSearch(ctx, "alice", []float32{1, 0}, storage.SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("VectorSearch() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("VectorSearch: got %d results, want 3 (observations excluded)", len(got))
	}
	if got[0].Unit.ID != "close" || got[1].Unit.ID != "mid" || got[2].Unit.ID != "far" {
		t.Errorf("order: got [%s, %s, %s]", got[0].Unit.ID, got[1].Unit.ID, got[2].Unit.ID)
	}
	if got[0].Score < 0.99 {
		t.Errorf("top score: got %f, want ~1.0", got[0].Score)
	}

	// Explicit observation filter reaches consolidated units.
	got, err = store.VectorSearch(ctx, "alice", []float32{1, 0}, storage.SearchOptions{
		Limit: 10, FactTypes: []types.FactType{types.FactObservation},
	})
	if err != nil {
		t.Fatalf("VectorSearch(observation) failed: %v", err)
	}
	if len(got) != 1 || got[0].Unit.ID != "obs" {
		t.Errorf("observation search: got %d results", len(got))
	}
}

func TestTextSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	now := time.Now().UTC()
	u1 := testUnit("alice", "u1", "Alice moved to Berlin for a new job.", types.FactWorld, now)
	u2 := testUnit("alice", "u2", "Bob prefers tea over coffee.", types.FactWorld, now)
	u2.Context = "breakfast conversation in Berlin"
	if err := store.InsertUnits(ctx, []*types.MemoryUnit{u1, u2}); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}

	got, err := store.TextSearch(ctx, "alice", "berlin job", storage.SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("TextSearch() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("TextSearch: got %d results, want 2", len(got))
	}
	// u1 matches both tokens, u2 only "berlin" via context.
	if got[0].Unit.ID != "u1" || got[0].Score != 1.0 {
		t.Errorf("top result: got %s score=%f, want u1 score=1", got[0].Unit.ID, got[0].Score)
	}
	if got[1].Unit.ID != "u2" || got[1].Score != 0.5 {
		t.Errorf("second result: got %s score=%f, want u2 score=0.5", got[1].Unit.ID, got[1].Score)
	}

	got, err = store.TextSearch(ctx, "alice", "zeppelin", storage.SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("TextSearch(no match) failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("no-match search: got %d results, want 0", len(got))
	}
}

func TestMetadataFilterOnSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	now := time.Now().UTC()
	u1 := testUnit("alice", "u1", "session fact", types.FactWorld, now)
	u1.Embedding = []float32{1, 0}
	u1.Metadata = map[string]string{"session": "a"}
	u2 := testUnit("alice", "u2", "session fact", types.FactWorld, now)
	u2.Embedding = []float32{1, 0}
	u2.Metadata = map[string]string{"session": "b"}
	if err := store.InsertUnits(ctx, []*types.MemoryUnit{u1, u2}); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}

	got, err := store.VectorSearch(ctx, "alice", []float32{1, 0}, storage.SearchOptions{
		Limit: 10, Metadata: map[string]string{"session": "a"},
	})
	if err != nil {
		t.Fatalf("VectorSearch() failed: %v", err)
	}
	if len(got) != 1 || got[0].Unit.ID != "u1" {
		t.Errorf("metadata filter: got %d results", len(got))
	}
}

func TestWithEntityLockSerialises(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var order []string
	done := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = store.WithEntityLock(ctx, "e1", func(context.Context) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			order = append(order, "first")
			return nil
		})
	}()

	<-started
	err := store.WithEntityLock(ctx, "e1", func(context.Context) error {
		order = append(order, "second")
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("WithEntityLock() failed: %v", err)
	}

	<-done
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("lock ordering: got %v", order)
	}
}

func TestGraphData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBank(t, store, "alice")

	now := time.Now().UTC()
	units := []*types.MemoryUnit{
		testUnit("alice", "u1", "fact one", types.FactWorld, now),
		testUnit("alice", "u2", "fact two", types.FactOpinion, now),
	}
	if err := store.InsertUnits(ctx, units); err != nil {
		t.Fatalf("InsertUnits() failed: %v", err)
	}
	if err := store.CreateEntity(ctx, &types.Entity{ID: "e1", BankID: "alice", CanonicalName: "Bob"}); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	if err := store.InsertLinks(ctx, []types.MemoryLink{
		{FromUnitID: "u1", ToUnitID: "u2", LinkType: types.LinkSemantic, Weight: 0.8},
	}); err != nil {
		t.Fatalf("InsertLinks() failed: %v", err)
	}

	data, err := store.GraphData(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("GraphData() failed: %v", err)
	}
	if len(data.Units) != 2 || len(data.Entities) != 1 || len(data.Links) != 1 {
		t.Errorf("graph data: got units=%d entities=%d links=%d",
			len(data.Units), len(data.Entities), len(data.Links))
	}

	ft := types.FactWorld
	data, err = store.GraphData(ctx, "alice", &ft)
	if err != nil {
		t.Fatalf("GraphData(world) failed: %v", err)
	}
	if len(data.Units) != 1 || data.Units[0].ID != "u1" {
		t.Errorf("filtered graph: got %d units", len(data.Units))
	}
}

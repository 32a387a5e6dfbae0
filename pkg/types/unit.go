package types

import "time"

// MemoryUnit is the atomic record of the memory graph: one self-contained,
// dated proposition extracted from ingested text.
type MemoryUnit struct {
	// ID is the unit's UUID.
	ID string `json:"id"`

	// BankID identifies the owning bank.
	BankID string `json:"bank_id"`

	// DocumentID groups units ingested in one call; empty when the caller
	// did not supply a document.
	DocumentID string `json:"document_id,omitempty"`

	// Text is the self-contained fact sentence. Pronouns are resolved,
	// referents named, and relative dates replaced with absolute ones.
	Text string `json:"text"`

	// FactType is one of world, agent, opinion, observation.
	FactType FactType `json:"fact_type"`

	// Context is an optional short descriptor of the source setting.
	Context string `json:"context,omitempty"`

	// Embedding is the unit-normalized embedding vector. Nil until the
	// embedder has run; once set it is never mutated.
	Embedding []float32 `json:"embedding,omitempty"`

	// OccurredStart and OccurredEnd bound when the fact happened.
	// Points collapse start == end; intervals carry both.
	OccurredStart time.Time `json:"occurred_start"`
	OccurredEnd   time.Time `json:"occurred_end"`

	// MentionedAt is the wall-clock ingestion time of the utterance that
	// produced the fact.
	MentionedAt time.Time `json:"mentioned_at"`

	// Metadata is an arbitrary flat key/value map supplied by the caller.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the row was written.
	CreatedAt time.Time `json:"created_at"`
}

// Occurrence returns the occurred range, substituting MentionedAt for
// either bound when it is unset. Used by the dedup overlap rule.
func (u *MemoryUnit) Occurrence() (start, end time.Time) {
	start, end = u.OccurredStart, u.OccurredEnd
	if start.IsZero() {
		start = u.MentionedAt
	}
	if end.IsZero() {
		end = start
	}
	return start, end
}

// OverlapsRange reports whether the unit's occurrence range intersects
// [start, end] (closed intervals).
func (u *MemoryUnit) OverlapsRange(start, end time.Time) bool {
	us, ue := u.Occurrence()
	return !us.After(end) && !start.After(ue)
}

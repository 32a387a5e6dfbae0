package types

import "time"

// Entity is a resolved canonical referent (person, organization, concept)
// within a bank. Units reference entities many-to-many via unit_entities.
type Entity struct {
	// ID is the entity's UUID.
	ID string `json:"id"`

	// BankID identifies the owning bank.
	BankID string `json:"bank_id"`

	// CanonicalName is the resolved display name for the entity.
	CanonicalName string `json:"canonical_name"`

	// MentionCount is how many unit mentions have resolved to this entity.
	MentionCount int `json:"mention_count"`

	// FirstSeen and LastSeen bracket the occurrence dates of mentions.
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// Metadata is arbitrary entity metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EntityMention is one surface form emitted by the fact extractor, prior
// to resolution. Type is a coarse category hint (PERSON, ORG, CONCEPT...).
type EntityMention struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Package types defines the public domain records for the Hindsight memory
// engine: banks, memory units, typed links, entities, documents, and the
// async operation ledger. These are the shapes that cross every API
// boundary; internal pipelines pass them by value or pointer rather than
// loose maps.
package types

import "fmt"

// FactType classifies a memory unit.
type FactType string

const (
	// FactWorld is a third-person fact about the world.
	FactWorld FactType = "world"

	// FactAgent is a first-person fact about the bank's own actions.
	FactAgent FactType = "agent"

	// FactOpinion is a stated position held by the bank.
	FactOpinion FactType = "opinion"

	// FactObservation is an entity-centric synthesized summary produced by
	// the observation consolidator. Observations are excluded from recall
	// unless explicitly requested.
	FactObservation FactType = "observation"
)

// ValidFactType reports whether s is one of the four declared fact types.
func ValidFactType(s string) bool {
	switch FactType(s) {
	case FactWorld, FactAgent, FactOpinion, FactObservation:
		return true
	}
	return false
}

// ParseFactType converts s to a FactType or returns an error naming the
// allowed values.
func ParseFactType(s string) (FactType, error) {
	if !ValidFactType(s) {
		return "", fmt.Errorf("invalid fact type %q (must be world, agent, opinion, or observation)", s)
	}
	return FactType(s), nil
}

// LinkType classifies a directed edge between two memory units.
type LinkType string

const (
	// LinkTemporal connects units whose occurrence times fall within the
	// configured time window; weight decays linearly with the gap.
	LinkTemporal LinkType = "temporal"

	// LinkSemantic connects units whose embeddings exceed the similarity
	// threshold; at most K outgoing per unit.
	LinkSemantic LinkType = "semantic"

	// LinkEntity is a bidirectional pair between units sharing a resolved
	// entity; weight is always 1.0 and EntityID is set.
	LinkEntity LinkType = "entity"

	// Causal link types, produced only when the extractor declared them.
	LinkCauses   LinkType = "causes"
	LinkCausedBy LinkType = "caused_by"
	LinkEnables  LinkType = "enables"
	LinkPrevents LinkType = "prevents"
)

// ValidLinkType reports whether s is a declared link type.
func ValidLinkType(s string) bool {
	switch LinkType(s) {
	case LinkTemporal, LinkSemantic, LinkEntity,
		LinkCauses, LinkCausedBy, LinkEnables, LinkPrevents:
		return true
	}
	return false
}

// CausalLinkType reports whether t is one of the four causal relation types.
func CausalLinkType(t LinkType) bool {
	switch t {
	case LinkCauses, LinkCausedBy, LinkEnables, LinkPrevents:
		return true
	}
	return false
}

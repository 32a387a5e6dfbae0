package types

// MemoryLink is a typed weighted edge between two memory units in the same
// bank. The uniqueness key is (FromUnitID, ToUnitID, LinkType, EntityID)
// where a missing EntityID is treated as the zero UUID.
type MemoryLink struct {
	// FromUnitID is the source unit.
	FromUnitID string `json:"from_unit_id"`

	// ToUnitID is the target unit.
	ToUnitID string `json:"to_unit_id"`

	// LinkType is temporal, semantic, entity, or a causal relation.
	LinkType LinkType `json:"link_type"`

	// Weight is the edge strength in [0, 1].
	Weight float64 `json:"weight"`

	// EntityID is set only for entity links: the shared entity.
	EntityID string `json:"entity_id,omitempty"`
}

// ZeroUUID stands in for a missing EntityID in the link uniqueness key.
const ZeroUUID = "00000000-0000-0000-0000-000000000000"

// KeyEntityID returns the entity component of the uniqueness key.
func (l *MemoryLink) KeyEntityID() string {
	if l.EntityID == "" {
		return ZeroUUID
	}
	return l.EntityID
}

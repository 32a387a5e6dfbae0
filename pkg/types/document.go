package types

import "time"

// Document groups the raw text ingested in one retain call. Documents are
// identified by a caller-supplied ID unique per bank, and re-ingesting with
// the same (bank, id) replaces all units and links derived from the prior
// version.
type Document struct {
	// ID is the caller-supplied document identifier.
	ID string `json:"id"`

	// BankID identifies the owning bank.
	BankID string `json:"bank_id"`

	// OriginalText is the full ingested text.
	OriginalText string `json:"original_text"`

	// ContentHash is the SHA-256 hex digest of OriginalText.
	ContentHash string `json:"content_hash"`

	// MemoryUnitCount is the number of units derived from this document.
	MemoryUnitCount int `json:"memory_unit_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

package types

import "time"

// Personality holds Big Five traits plus bias strength, all in [0, 1].
type Personality struct {
	Openness          float64 `json:"openness" yaml:"openness"`
	Conscientiousness float64 `json:"conscientiousness" yaml:"conscientiousness"`
	Extraversion      float64 `json:"extraversion" yaml:"extraversion"`
	Agreeableness     float64 `json:"agreeableness" yaml:"agreeableness"`
	Neuroticism       float64 `json:"neuroticism" yaml:"neuroticism"`
	BiasStrength      float64 `json:"bias_strength" yaml:"bias_strength"`
}

// DefaultPersonality returns the neutral profile assigned to auto-created
// banks: 0.5 across every trait.
func DefaultPersonality() Personality {
	return Personality{
		Openness:          0.5,
		Conscientiousness: 0.5,
		Extraversion:      0.5,
		Agreeableness:     0.5,
		Neuroticism:       0.5,
		BiasStrength:      0.5,
	}
}

// Clamp bounds every trait to [0, 1] in place.
func (p *Personality) Clamp() {
	for _, f := range []*float64{
		&p.Openness, &p.Conscientiousness, &p.Extraversion,
		&p.Agreeableness, &p.Neuroticism, &p.BiasStrength,
	} {
		if *f < 0 {
			*f = 0
		}
		if *f > 1 {
			*f = 1
		}
	}
}

// Bank is a per-subject memory partition identified by an opaque external
// string. Banks are auto-created on first reference with neutral defaults.
type Bank struct {
	// BankID is the opaque external identifier.
	BankID string `json:"bank_id"`

	// Name defaults to the BankID when the bank is auto-created.
	Name string `json:"name"`

	// Personality is the bank's Big Five record.
	Personality Personality `json:"personality"`

	// Background is the free-form first-person background narrative.
	Background string `json:"background"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

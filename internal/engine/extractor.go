package engine

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vanvuongngo/hindsight/internal/llm"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// maxFactChars caps a single fact's text.
const maxFactChars = 1000

// extractedFact is the extractor's wire shape for one fact, prior to
// becoming a memory unit.
type extractedFact struct {
	Text            string                `json:"text"`
	FactType        string                `json:"fact_type"`
	OccurredStart   string                `json:"occurred_start"`
	OccurredEnd     string                `json:"occurred_end"`
	Entities        []types.EntityMention `json:"entities,omitempty"`
	CausalRelations []causalRelation      `json:"causal_relations,omitempty"`

	// resolved occurrence, filled by validation.
	start, end time.Time
}

// causalRelation references another fact in the same extraction by index.
type causalRelation struct {
	TargetFactIndex int     `json:"target_fact_index"`
	RelationType    string  `json:"relation_type"`
	Strength        float64 `json:"strength,omitempty"`
}

type extractionResponse struct {
	Facts []extractedFact `json:"facts"`
}

// extractFacts turns one raw item into validated facts. On a schema
// failure or an empty extraction from non-empty input it falls back to a
// single world fact carrying the trimmed source text, so user content is
// never silently dropped.
func (e *Engine) extractFacts(ctx context.Context, bank *types.Bank, item RetainItem, eventDate time.Time) ([]extractedFact, error) {
	content := strings.TrimSpace(item.Content)
	if content == "" {
		return nil, nil
	}

	req := llm.Request{
		Scope:       llm.ScopeMemory,
		System:      extractionSystem,
		Prompt:      extractionPrompt(bank.Name, content, item.Context, eventDate),
		Schema:      extractionSchema,
		Temperature: 0.2,
	}

	var resp extractionResponse
	err := llm.CompleteJSON(ctx, e.gen, req, &resp)
	if err != nil {
		var schemaErr *llm.SchemaError
		if !errors.As(err, &schemaErr) {
			return nil, err
		}
		log.Printf("engine: extraction schema failure for bank %s, storing raw text as fallback: %v", bank.BankID, err)
		resp.Facts = nil
	}

	facts := validateFacts(resp.Facts, content, eventDate)

	// Oversized output gets one tightened retry before truncation.
	if err == nil && overBudget(facts, content) {
		log.Printf("engine: extraction output exceeds size discipline for bank %s, retrying", bank.BankID)
		retry := req
		retry.Prompt += "\n\nYour previous output was too long. Emit fewer, tighter facts."
		retry.Temperature = 0
		var second extractionResponse
		if rerr := llm.CompleteJSON(ctx, e.gen, retry, &second); rerr == nil {
			if redone := validateFacts(second.Facts, content, eventDate); len(redone) > 0 {
				facts = redone
			}
		}
		facts = truncateToBudget(facts, content)
	}

	if len(facts) == 0 {
		facts = []extractedFact{fallbackFact(content, eventDate)}
	}
	return facts, nil
}

// fallbackFact wraps the raw input as a single world fact.
func fallbackFact(content string, eventDate time.Time) extractedFact {
	content = truncateText(content, maxFactChars)
	return extractedFact{
		Text:     content,
		FactType: string(types.FactWorld),
		start:    eventDate,
		end:      eventDate,
	}
}

// validateFacts enforces the extraction contracts the schema cannot:
// parsed absolute dates, ordered ranges, known fact types, per-fact and
// per-batch size bounds.
func validateFacts(raw []extractedFact, input string, eventDate time.Time) []extractedFact {
	out := make([]extractedFact, 0, len(raw))
	for _, f := range raw {
		f.Text = strings.TrimSpace(f.Text)
		if f.Text == "" {
			continue
		}
		f.Text = truncateText(f.Text, maxFactChars)
		if !types.ValidFactType(f.FactType) || f.FactType == string(types.FactObservation) {
			f.FactType = string(types.FactWorld)
		}
		f.start = parseWhen(f.OccurredStart, eventDate)
		f.end = parseWhen(f.OccurredEnd, f.start)
		if f.end.Before(f.start) {
			f.start, f.end = f.end, f.start
		}
		out = append(out, f)
	}

	// Fact count is bounded by twice the input sentence count.
	if max := 2 * sentenceCount(input); len(out) > max {
		out = out[:max]
	}
	return out
}

// overBudget reports whether total fact text exceeds 4x the input.
func overBudget(facts []extractedFact, input string) bool {
	total := 0
	for _, f := range facts {
		total += len(f.Text)
	}
	return total > 4*len(input)
}

// truncateToBudget drops trailing facts until the 4x bound holds.
func truncateToBudget(facts []extractedFact, input string) []extractedFact {
	budget := 4 * len(input)
	total := 0
	for i, f := range facts {
		total += len(f.Text)
		if total > budget {
			return facts[:i]
		}
	}
	return facts
}

// truncateText cuts s to at most limit bytes without splitting a rune.
func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// sentenceCount approximates the number of sentences in the input.
func sentenceCount(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case '.', '!', '?', '\n':
			n++
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

// whenLayouts are the timestamp shapes the extractor may emit.
var whenLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// parseWhen parses a model-emitted timestamp, falling back to the given
// default on anything unparseable.
func parseWhen(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	for _, layout := range whenLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

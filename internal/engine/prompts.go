package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/vanvuongngo/hindsight/internal/llm"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// extractionSystem is the fact extractor's standing instruction set. The
// contracts here mirror what the component re-validates afterwards.
const extractionSystem = `You extract durable memory facts from raw text.

Rules:
1. Each fact text must be fully self-contained: resolve pronouns, name every referent.
2. Resolve all relative time expressions (yesterday, last week, in February) against the given event date into absolute dates. A point in time has occurred_start equal to occurred_end; a period (a month, a season) has a real range.
3. Never use vague temporal words such as "recently", "soon", or "lately" in fact text.
4. If the context names the agent as one of the speakers, write the agent's own statements as fact_type "agent" in first person ("I ..."). Other speakers' statements become fact_type "world" in third person using the speaker's name. Attribute predictions, claims, and actions to the person who actually said or did them.
5. Drop meta-commentary: greetings, sign-offs, subscription or rating calls, filler.
6. Preserve emotional, sensory, certainty, capability, comparative, attitudinal, intentional and evaluative content in at least one fact.
7. When adjacent statements clearly share a referent, emit at least one fact stating the joined proposition.
8. Tag each fact with the entities it mentions. Use causal_relations only when the text itself states the relation, referencing the other fact by its index in your output.
9. Be concise: total output text must stay well under four times the input length.`

// extractionSchema constrains the extractor's output.
var extractionSchema = &llm.JSONSchema{
	Name: "extracted_facts",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"facts": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text":           map[string]any{"type": "string"},
						"fact_type":      map[string]any{"type": "string", "enum": []string{"world", "agent", "opinion"}},
						"occurred_start": map[string]any{"type": "string"},
						"occurred_end":   map[string]any{"type": "string"},
						"entities": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"text": map[string]any{"type": "string"},
									"type": map[string]any{"type": "string"},
								},
								"required": []string{"text"},
							},
						},
						"causal_relations": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"target_fact_index": map[string]any{"type": "integer"},
									"relation_type":     map[string]any{"type": "string", "enum": []string{"causes", "caused_by", "enables", "prevents"}},
									"strength":          map[string]any{"type": "number"},
								},
								"required": []string{"target_fact_index", "relation_type"},
							},
						},
					},
					"required": []string{"text", "fact_type", "occurred_start", "occurred_end"},
				},
			},
		},
		"required": []string{"facts"},
	},
}

// extractionPrompt renders one extraction call.
func extractionPrompt(agentName, content, docContext string, eventDate time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent name: %s\n", agentName)
	fmt.Fprintf(&b, "Event date: %s\n", eventDate.Format("2006-01-02 (Monday)"))
	if docContext != "" {
		fmt.Fprintf(&b, "Context: %s\n", docContext)
	}
	fmt.Fprintf(&b, "\nText:\n%s", content)
	return b.String()
}

// resolutionSchema constrains entity arbitration: either pick an existing
// candidate or name a new canonical entity.
var resolutionSchema = &llm.JSONSchema{
	Name: "entity_resolution",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entity_id":      map[string]any{"type": "string"},
			"canonical_name": map[string]any{"type": "string"},
		},
	},
}

const resolutionSystem = `You resolve entity mentions to canonical entities.
Given a surface form and candidate existing entities, decide whether the mention refers to one of the candidates or to something new.
If it matches a candidate, return that candidate's entity_id. Otherwise return a canonical_name for the new entity (properly capitalized, no honorifics). Return exactly one of the two fields.`

// resolutionPrompt renders one arbitration call.
func resolutionPrompt(surface, entityType string, candidates []*types.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mention: %q", surface)
	if entityType != "" {
		fmt.Fprintf(&b, " (type: %s)", entityType)
	}
	b.WriteString("\n\nCandidates:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- entity_id=%s name=%q mentions=%d\n", c.ID, c.CanonicalName, c.MentionCount)
	}
	return b.String()
}

// consolidationSchema constrains observation synthesis.
var consolidationSchema = &llm.JSONSchema{
	Name: "entity_observations",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"observations": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"observations"},
	},
}

const consolidationSystem = `You maintain an agent's mental model of an entity.
Given the facts that mention the entity, synthesize a compact sequence of observations: stable conclusions about who or what the entity is, their traits, relationships, and trajectory. Each observation is one self-contained sentence. Use first person when the facts are first person, third person otherwise. Do not repeat near-identical facts; synthesize.`

// consolidationPrompt renders one synthesis call.
func consolidationPrompt(entityName string, units []*types.MemoryUnit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s\n\nFacts:\n", entityName)
	for _, u := range units {
		start, _ := u.Occurrence()
		fmt.Fprintf(&b, "- [%s] %s\n", start.Format("2006-01-02"), u.Text)
	}
	return b.String()
}

// reflectionSchema constrains the reflect answer.
var reflectionSchema = &llm.JSONSchema{
	Name: "reflection",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
			"based_on": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "integer"},
			},
		},
		"required": []string{"text", "based_on"},
	},
}

// reflectionSystem frames the answer in the bank's voice.
const reflectionSystem = `You answer a question as the agent whose memories and personality are given.
Ground the answer strictly in the numbered memories. Answer in the agent's first-person voice, colored by the personality traits and background. In based_on, list the numbers of the memories you actually used.`

// reflectionPrompt renders one reflect call.
func reflectionPrompt(bank *types.Bank, extraContext, query string, units []*types.MemoryUnit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n", bank.Name)
	p := bank.Personality
	fmt.Fprintf(&b, "Personality: openness=%.2f conscientiousness=%.2f extraversion=%.2f agreeableness=%.2f neuroticism=%.2f bias=%.2f\n",
		p.Openness, p.Conscientiousness, p.Extraversion, p.Agreeableness, p.Neuroticism, p.BiasStrength)
	if bank.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", bank.Background)
	}
	if extraContext != "" {
		fmt.Fprintf(&b, "Situation: %s\n", extraContext)
	}
	b.WriteString("\nMemories:\n")
	for i, u := range units {
		fmt.Fprintf(&b, "%d. %s\n", i+1, u.Text)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", query)
	return b.String()
}

// backgroundMergeSchema constrains the profile merge.
var backgroundMergeSchema = &llm.JSONSchema{
	Name: "background_merge",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"background": map[string]any{"type": "string"},
			"personality": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"openness":          map[string]any{"type": "number"},
					"conscientiousness": map[string]any{"type": "number"},
					"extraversion":      map[string]any{"type": "number"},
					"agreeableness":     map[string]any{"type": "number"},
					"neuroticism":       map[string]any{"type": "number"},
					"bias_strength":     map[string]any{"type": "number"},
				},
			},
		},
		"required": []string{"background"},
	},
}

const backgroundMergeSystem = `You maintain an agent's background narrative and personality profile.
Merge the new information into the existing background: one coherent first-person narrative, no contradictions, newest information wins. Then infer the Big Five personality traits plus bias_strength from the merged narrative, each in [0, 1].`

// backgroundMergePrompt renders one merge call.
func backgroundMergePrompt(existing, incoming string) string {
	var b strings.Builder
	b.WriteString("Existing background:\n")
	if existing == "" {
		b.WriteString("(none)\n")
	} else {
		b.WriteString(existing + "\n")
	}
	fmt.Fprintf(&b, "\nNew information:\n%s", incoming)
	return b.String()
}

package llm

import (
	"context"
	"encoding/json"
	"log"
	"strings"
)

// ExtractJSON extracts the first complete JSON object or array from text
// that may contain extra prose. Models add explanations around the JSON
// despite instructions; this strips markdown fences and scans for
// balanced braces outside string literals.
func ExtractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	objStart := strings.IndexByte(text, '{')
	arrStart := strings.IndexByte(text, '[')
	start := objStart
	open, close := byte('{'), byte('}')
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start = arrStart
		open, close = '[', ']'
	}
	if start == -1 {
		return text // no JSON found; let the parser report it
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}

// tightenedSuffix is appended to the prompt on the retry after a schema
// failure.
const tightenedSuffix = "\n\nReturn ONLY a single valid JSON value matching the requested structure. No prose, no markdown fences, no trailing commentary."

// CompleteJSON runs a completion and unmarshals the response into out.
// On a parse failure it retries once with a tightened prompt before
// giving up with a SchemaError.
func CompleteJSON(ctx context.Context, gen TextGenerator, req Request, out any) error {
	raw, err := gen.Complete(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), out); err == nil {
		return nil
	}

	name := "unnamed"
	if req.Schema != nil {
		name = req.Schema.Name
	}
	log.Printf("llm: malformed %s response from %s, retrying with tightened prompt", name, gen.Model(req.Scope))

	retry := req
	retry.Prompt = req.Prompt + tightenedSuffix
	retry.Temperature = 0
	raw, err = gen.Complete(ctx, retry)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), out); err != nil {
		return &SchemaError{SchemaName: name, Raw: raw, Err: err}
	}
	return nil
}

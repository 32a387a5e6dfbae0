package llm

import (
	"context"
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain JSON object",
			input: `{"key": "value"}`,
			want:  `{"key": "value"}`,
		},
		{
			name:  "markdown code fence",
			input: "```json\n{\"key\": \"value\"}\n```",
			want:  `{"key": "value"}`,
		},
		{
			name:  "prose around the object",
			input: "Here is the extraction:\n{\"facts\": []}\nLet me know if you need more.",
			want:  `{"facts": []}`,
		},
		{
			name:  "top-level array",
			input: "Sure! [1, 2, 3] is the answer.",
			want:  `[1, 2, 3]`,
		},
		{
			name:  "braces inside string literals",
			input: `{"text": "a {nested} brace \" and quote"} trailing`,
			want:  `{"text": "a {nested} brace \" and quote"}`,
		},
		{
			name:  "nested objects",
			input: `result: {"a": {"b": {"c": 1}}} done`,
			want:  `{"a": {"b": {"c": 1}}}`,
		},
		{
			name:  "no JSON at all",
			input: "I cannot help with that.",
			want:  "I cannot help with that.",
		},
		{
			name:  "unterminated object returned as-is from the brace",
			input: `{"key": "value"`,
			want:  `{"key": "value"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.input); got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

// scriptedGenerator replays canned responses in order.
type scriptedGenerator struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (g *scriptedGenerator) Complete(_ context.Context, req Request) (string, error) {
	i := g.calls
	g.calls++
	g.prompts = append(g.prompts, req.Prompt)
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i >= len(g.responses) {
		return "", errors.New("no scripted response")
	}
	return g.responses[i], nil
}

func (g *scriptedGenerator) Model(Scope) string { return "scripted" }

func TestCompleteJSONFirstTry(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"value": 42}`}}
	var out struct {
		Value int `json:"value"`
	}

	err := CompleteJSON(context.Background(), gen, Request{}, &out)
	if err != nil {
		t.Fatalf("CompleteJSON() failed: %v", err)
	}
	if out.Value != 42 {
		t.Errorf("Value: got %d, want 42", out.Value)
	}
	if gen.calls != 1 {
		t.Errorf("calls: got %d, want 1", gen.calls)
	}
}

func TestCompleteJSONRetriesWithTightenedPrompt(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"I think the answer is forty-two.",
		`{"value": 42}`,
	}}
	var out struct {
		Value int `json:"value"`
	}

	err := CompleteJSON(context.Background(), gen, Request{Prompt: "count things"}, &out)
	if err != nil {
		t.Fatalf("CompleteJSON() failed: %v", err)
	}
	if out.Value != 42 {
		t.Errorf("Value: got %d, want 42", out.Value)
	}
	if gen.calls != 2 {
		t.Fatalf("calls: got %d, want 2", gen.calls)
	}
	if gen.prompts[1] == gen.prompts[0] {
		t.Error("retry prompt was not tightened")
	}
}

func TestCompleteJSONSchemaErrorAfterRetry(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"nope", "still nope"}}
	var out struct{}

	err := CompleteJSON(context.Background(), gen, Request{
		Schema: &JSONSchema{Name: "extraction"},
	}, &out)
	if err == nil {
		t.Fatal("CompleteJSON() succeeded, want SchemaError")
	}
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("error type: got %T, want *SchemaError", err)
	}
	if se.SchemaName != "extraction" {
		t.Errorf("SchemaName: got %q, want extraction", se.SchemaName)
	}
}

func TestCompleteJSONPropagatesProviderError(t *testing.T) {
	provErr := errors.New("provider down")
	gen := &scriptedGenerator{errs: []error{provErr}}
	var out struct{}

	err := CompleteJSON(context.Background(), gen, Request{}, &out)
	if !errors.Is(err, provErr) {
		t.Errorf("error: got %v, want provider error", err)
	}
}

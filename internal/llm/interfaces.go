// Package llm provides the language-model clients used by the memory
// engine: schema-constrained text completion and batched embeddings,
// behind small interfaces so the engine can be tested with fakes.
package llm

import (
	"context"
	"fmt"
)

// Scope routes a completion to the model configured for that pipeline
// stage. Extraction and consolidation run on the memory scope; reflect
// and profile synthesis run on the reflect scope, which may be a larger
// model.
type Scope string

const (
	ScopeMemory  Scope = "memory"
	ScopeReflect Scope = "reflect"
)

// Request is one completion call. When Schema is set the provider is
// asked for JSON constrained to that schema; providers without native
// schema support fall back to prompt instructions plus response repair.
type Request struct {
	Scope       Scope
	System      string
	Prompt      string
	Schema      *JSONSchema
	Temperature float64
	MaxTokens   int
}

// JSONSchema is a named JSON schema for constrained output.
type JSONSchema struct {
	Name   string
	Schema map[string]any
}

// TextGenerator is the interface for LLM text completion.
type TextGenerator interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model(scope Scope) string
}

// Embedder generates unit-normalized embedding vectors in batches. The
// output slice is index-aligned with the input and every vector has
// Dimension() components.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// SchemaError indicates the model produced output that could not be
// parsed into the requested shape, after repair and retry.
type SchemaError struct {
	SchemaName string
	Raw        string
	Err        error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("llm: response does not match schema %q: %v", e.SchemaName, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

package llm

import (
	"context"
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("Normalize([3 4]) = %v, want [0.6 0.8]", v)
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("norm: got %f, want 1", norm)
	}

	zero := Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("Normalize(zero) = %v, want unchanged", zero)
	}
}

// countingEmbedder records which texts reached the provider.
type countingEmbedder struct {
	calls [][]string
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls = append(e.calls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0}
	}
	return out, nil
}

func (e *countingEmbedder) Dimension() int { return 2 }

func TestCachingEmbedderServesHits(t *testing.T) {
	inner := &countingEmbedder{}
	emb, err := NewCachingEmbedder(inner, 16)
	if err != nil {
		t.Fatalf("NewCachingEmbedder() failed: %v", err)
	}
	ctx := context.Background()

	out, err := emb.Embed(ctx, []string{"aa", "bbb"})
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	if len(out) != 2 || out[0][0] != 2 || out[1][0] != 3 {
		t.Fatalf("first batch: got %v", out)
	}

	// Second call mixes one hit and one miss; only the miss goes through.
	out, err = emb.Embed(ctx, []string{"aa", "cccc"})
	if err != nil {
		t.Fatalf("Embed(second) failed: %v", err)
	}
	if out[0][0] != 2 || out[1][0] != 4 {
		t.Errorf("second batch: got %v", out)
	}
	if len(inner.calls) != 2 {
		t.Fatalf("provider calls: got %d, want 2", len(inner.calls))
	}
	if len(inner.calls[1]) != 1 || inner.calls[1][0] != "cccc" {
		t.Errorf("second provider call: got %v, want [cccc]", inner.calls[1])
	}

	// Fully cached batch does not touch the provider.
	if _, err := emb.Embed(ctx, []string{"bbb", "aa"}); err != nil {
		t.Fatalf("Embed(cached) failed: %v", err)
	}
	if len(inner.calls) != 2 {
		t.Errorf("provider calls after cached batch: got %d, want 2", len(inner.calls))
	}
}

package domain

import (
	"context"
	"errors"
	"math"
	"testing"
)

type stubEmbedder struct {
	result EmbeddingResult
	err    error
	got    string
	calls  int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	s.got = text
	s.calls++
	return s.result, s.err
}

func TestInstructionEmbedder_PrependsInstruction(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	emb := NewInstructionEmbedder(inner, "query: ")

	result, err := emb.Embed(context.Background(), "concert de jazz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.got != "query: concert de jazz" {
		t.Errorf("expected prepended text, got %q", inner.got)
	}
	if len(result.Embedding) != 3 {
		t.Errorf("expected 3-element vector, got %d", len(result.Embedding))
	}
}

func TestInstructionEmbedder_BlankInputSkipsInner(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{1}}}
	emb := NewInstructionEmbedder(inner, "query: ")

	result, err := emb.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsEmpty() {
		t.Errorf("expected empty result, got %v", result.Embedding)
	}
	if inner.calls != 0 {
		t.Errorf("inner embedder should not be called, got %d calls", inner.calls)
	}
}

func TestInstructionEmbedder_ErrorPropagation(t *testing.T) {
	innerErr := errors.New("provider down")
	inner := &stubEmbedder{err: innerErr}
	emb := NewInstructionEmbedder(inner, "query: ")

	_, err := emb.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped inner error, got %v", err)
	}
}

func TestNormalize_UnitLength(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(Norm(v)-1) > 1e-6 {
		t.Fatalf("expected unit norm, got %f", Norm(v))
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("unexpected components: %v", v)
	}
}

func TestNormalize_ZeroVectorUnchanged(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	if !IsZero(v) {
		t.Errorf("expected zero vector, got %v", v)
	}
	if len(v) != 3 {
		t.Errorf("expected length 3, got %d", len(v))
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	in := []float32{2, 0}
	_ = Normalize(in)
	if in[0] != 2 {
		t.Errorf("input mutated: %v", in)
	}
}

func TestIsZero(t *testing.T) {
	tests := []struct {
		name string
		v    []float32
		want bool
	}{
		{"empty", nil, true},
		{"zeros", []float32{0, 0}, true},
		{"non-zero", []float32{0, 0.1}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsZero(tc.v); got != tc.want {
				t.Errorf("IsZero(%v) = %v, want %v", tc.v, got, tc.want)
			}
		})
	}
}

func TestDot(t *testing.T) {
	got, err := Dot([]float32{1, 0}, []float32{0.25, 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}

	if _, err := Dot([]float32{1}, []float32{1, 2}); !errors.Is(err, ErrVectorDimMismatch) {
		t.Errorf("expected ErrVectorDimMismatch, got %v", err)
	}
}

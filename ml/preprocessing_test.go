package ml

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPreprocessorComputeAndTransform(t *testing.T) {
	p := NewPreprocessor(true)
	if err := p.ComputeNumeric("age", []float64{10, 30, 20, 40}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.ComputeCategorical("sex", []string{"male", "female", "female"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.ComputeNumeric("empty", nil); err == nil {
		t.Fatal("expected error for empty values")
	}

	stats, ok := p.NumericStat("age")
	if !ok {
		t.Fatal("expected age stats")
	}
	if stats.Min != 10 || stats.Max != 40 || stats.Fill != 25 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if cat, _ := p.CategoricalStat("sex"); cat.Fill != "female" {
		t.Fatalf("unexpected fill: %q", cat.Fill)
	}

	v := 25.0
	if got := p.TransformNumeric("age", &v); got != 0.5 {
		t.Fatalf("expected scaled 0.5, got %f", got)
	}
	if got := p.TransformNumeric("age", nil); got != 0.5 {
		t.Fatalf("expected imputed median scaled to 0.5, got %f", got)
	}
	if got := p.TransformNumeric("unknown", nil); got != 0 {
		t.Fatalf("expected zero for unknown feature, got %f", got)
	}

	var nilPre *Preprocessor
	if got := nilPre.TransformNumeric("age", &v); got != 25 {
		t.Fatalf("nil preprocessor must pass values through, got %f", got)
	}
}

func TestPreprocessorSaveLoad(t *testing.T) {
	p := NewPreprocessor(true)
	_ = p.ComputeNumeric("age", []float64{1, 2, 3})
	_ = p.ComputeCategorical("sex", []string{"male"})

	path := filepath.Join(t.TempDir(), "preprocessor.json")
	if err := p.Save(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded, err := LoadPreprocessor(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(p, loaded); diff != "" {
		t.Fatalf("preprocessor mismatch (-want +got):\n%s", diff)
	}
	if stats := loaded.FeatureStats(); stats["age"] != [2]float64{1, 3} {
		t.Fatalf("unexpected feature stats: %v", stats)
	}
}

func TestRoundAndArgmax(t *testing.T) {
	if got := Round(0.123456, 5); got != 0.12346 {
		t.Fatalf("unexpected rounding: %v", got)
	}
	if got := Argmax([]float64{0.2, 0.5, 0.3}); got != 1 {
		t.Fatalf("unexpected argmax: %d", got)
	}
}

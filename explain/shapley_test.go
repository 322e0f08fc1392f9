package explain

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var classNames = []string{"no", "yes"}

// additive: P(yes) = mean of the three features.
func additive(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		s := (row[0] + row[1] + row[2]) / 3
		out[i] = []float64{1 - s, s}
	}
	return out, nil
}

func background() [][]float64 {
	return [][]float64{
		{0, 0, 0},
		{1, 0.5, 0},
		{0.5, 1, 0.3},
	}
}

func newTestShapley(t *testing.T, maxExact int) *Shapley {
	t.Helper()
	settings := DefaultSettings()
	settings.Background = background()
	settings.MaxExactFeatures = maxExact
	settings.Permutations = 8
	s, err := NewShapley(settings, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestShapleyAdditiveModel(t *testing.T) {
	rows := [][]float64{{1, 1, 1}, {0.2, 0.4, 0.9}}
	means := []float64{0.5, 0.5, 0.1}

	for _, tt := range []struct {
		name     string
		maxExact int
	}{
		{"exact", 10},
		{"sampled", 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestShapley(t, tt.maxExact)
			attrs, err := s.Explain(context.Background(), rows, additive, classNames)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(attrs) != len(rows) {
				t.Fatalf("expected %d attributions, got %d", len(rows), len(attrs))
			}
			preds, _ := additive(rows)
			for i, attr := range attrs {
				for j := range rows[i] {
					want := (rows[i][j] - means[j]) / 3
					if math.Abs(attr.Values[1][j]-want) > 1e-9 {
						t.Fatalf("row %d feature %d: expected %f, got %f", i, j, want, attr.Values[1][j])
					}
					if math.Abs(attr.Values[0][j]+want) > 1e-9 {
						t.Fatalf("row %d feature %d: class 0 should mirror class 1", i, j)
					}
				}
				for c := range classNames {
					sum := attr.Baseline[c]
					for _, v := range attr.Values[c] {
						sum += v
					}
					if math.Abs(sum-preds[i][c]) > 1e-9 {
						t.Fatalf("row %d class %d: baseline+scores=%f, prediction=%f", i, c, sum, preds[i][c])
					}
				}
			}
		})
	}
}

func TestShapleySampledIsDeterministic(t *testing.T) {
	s := newTestShapley(t, 0)
	interaction := func(rows [][]float64) ([][]float64, error) {
		out := make([][]float64, len(rows))
		for i, row := range rows {
			p := row[0] * row[1] * (0.5 + row[2]/2)
			out[i] = []float64{1 - p, p}
		}
		return out, nil
	}

	row := []float64{0.9, 0.7, 0.2}
	first, err := s.Explain(context.Background(), [][]float64{row, {0.1, 0.1, 0.1}, row}, interaction, classNames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.Explain(context.Background(), [][]float64{row}, interaction, classNames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(first[0], first[2]); diff != "" {
		t.Fatalf("same row explained differently within a request:\n%s", diff)
	}
	if diff := cmp.Diff(first[0], second[0]); diff != "" {
		t.Fatalf("same row explained differently across requests:\n%s", diff)
	}
}

func TestShapleyPropagatesFailures(t *testing.T) {
	s := newTestShapley(t, 10)
	boom := errors.New("boom")

	_, err := s.Explain(context.Background(), [][]float64{{1, 1, 1}}, func([][]float64) ([][]float64, error) {
		return nil, boom
	}, classNames)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}

	_, err = s.Explain(context.Background(), [][]float64{{1, 1, 1}}, func([][]float64) ([][]float64, error) {
		panic("native failure")
	}, classNames)
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic to surface as error, got %v", err)
	}

	_, err = s.Explain(context.Background(), [][]float64{{1, 1}}, additive, classNames)
	if err == nil {
		t.Fatal("expected error for wrong row width")
	}

	_, err = s.Explain(context.Background(), [][]float64{{1, 1, 1}}, additive, []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error for class count mismatch")
	}
}

func TestSettingsValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty background", func(s *Settings) { s.Background = nil }},
		{"ragged background", func(s *Settings) { s.Background = [][]float64{{1, 2}, {1}} }},
		{"unknown method", func(s *Settings) { s.Method = "Lime" }},
		{"no permutations", func(s *Settings) { s.Permutations = 0 }},
		{"exact too large", func(s *Settings) { s.MaxExactFeatures = 40 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := DefaultSettings()
			settings.Background = background()
			tt.mutate(&settings)
			if _, err := NewShapley(settings, 1); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSettingsSaveLoad(t *testing.T) {
	settings := DefaultSettings()
	settings.Background = background()
	path := filepath.Join(t.TempDir(), "explainer.json")
	if err := settings.Save(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := Load(path, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Method() != MethodShap || s.Width() != 3 {
		t.Fatalf("unexpected explainer: method=%s width=%d", s.Method(), s.Width())
	}
}

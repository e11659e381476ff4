package vectorstore

import (
	"errors"
	"math"
	"testing"
)

func TestFilter_Matches(t *testing.T) {
	payload := map[string]any{"ownerId": "u1", "sessionId": "i1", "n": 3}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"nil filter", nil, true},
		{"full match", Filter{"ownerId": "u1", "sessionId": "i1"}, true},
		{"value mismatch", Filter{"ownerId": "u2"}, false},
		{"missing field", Filter{"category": "memory"}, false},
		{"non-string field", Filter{"n": "3"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(payload); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNamespaceSpec_Validate(t *testing.T) {
	if err := (NamespaceSpec{Name: "ns", Dimension: 3, Metric: MetricCosine}).Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	bad := []NamespaceSpec{
		{Dimension: 3, Metric: MetricCosine},
		{Name: "ns", Metric: MetricCosine},
		{Name: "ns", Dimension: 3, Metric: "dot"},
	}
	for _, s := range bad {
		if err := s.Validate(); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidInput", s, err)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("identical vectors: got %v, want 1", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(float64(got)) > 1e-6 {
		t.Errorf("orthogonal vectors: got %v, want 0", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("mismatched lengths: got %v, want 0", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("zero vector: got %v, want 0", got)
	}
}

func TestTopK(t *testing.T) {
	in := []ScoredRecord{
		{Record: Record{ID: "b"}, Score: 0.5},
		{Record: Record{ID: "a"}, Score: 0.9},
		{Record: Record{ID: "c"}, Score: 0.5},
		{Record: Record{ID: "d"}, Score: 0.1},
	}

	got := TopK(in, 3)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("result[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}

	if TopK(in, 0) != nil {
		t.Error("k=0 should return nil")
	}
}

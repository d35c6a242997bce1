package policy

import (
	"math"
	"math/rand"
	"testing"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func TestSoftmax_Normalizes(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
	}{
		{name: "small", values: []float64{0.1, 0.2, 0.3}},
		{name: "equal", values: []float64{5, 5, 5, 5}},
		{name: "huge", values: []float64{1e308, 1e308, -1e308}},
		{name: "large spread", values: []float64{1000, -1000, 0, 999.5}},
		{name: "tiny", values: []float64{1e-300, -1e-300, 0}},
		{name: "single", values: []float64{-42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probs, err := Softmax(tt.values)
			if err != nil {
				t.Fatalf("Softmax failed: %v", err)
			}
			for i, p := range probs {
				if math.IsNaN(p) || p < 0 || p > 1 {
					t.Errorf("probs[%d] = %v", i, p)
				}
			}
			if s := sum(probs); math.Abs(s-1) > 1e-9 {
				t.Errorf("sum = %v, want 1", s)
			}
		})
	}
}

func TestSoftmax_Invalid(t *testing.T) {
	for _, values := range [][]float64{
		{1, math.NaN()},
		{math.Inf(1), 0},
		{0, math.Inf(-1)},
	} {
		if _, err := Softmax(values); !errors.Is(err, ErrNonFiniteValues) {
			t.Errorf("Softmax(%v) err = %v, want ErrNonFiniteValues", values, err)
		}
	}
	if _, err := Softmax(nil); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Softmax(nil) err = %v, want ErrInvalidInput", err)
	}
}

func TestArgMax(t *testing.T) {
	tests := []struct {
		values []float64
		want   int
	}{
		{[]float64{1, 3, 2}, 1},
		{[]float64{7, 7, 1}, 0},
		{[]float64{-3, -1, -1}, 1},
		{[]float64{0}, 0},
	}
	for _, tt := range tests {
		if got := ArgMax(tt.values); got != tt.want {
			t.Errorf("ArgMax(%v) = %d, want %d", tt.values, got, tt.want)
		}
	}
}

func TestSelect_AlwaysGreedy(t *testing.T) {
	s := NewSelector(1, rand.New(rand.NewSource(1)))
	values := []float64{0.1, 0.9, 0.5, 0.9}

	for i := 0; i < 100; i++ {
		d, err := s.Select(values)
		if err != nil {
			t.Fatal(err)
		}
		if d.Mode != ModeGreedy || d.Index != 1 {
			t.Fatalf("decision = %+v, want greedy index 1", d)
		}
	}
}

func TestSelect_SamplingConverges(t *testing.T) {
	s := NewSelector(0, rand.New(rand.NewSource(42)))
	values := []float64{0, math.Log(2), math.Log(3), math.Log(4)}
	probs, err := Softmax(values)
	if err != nil {
		t.Fatal(err)
	}

	const n = 50000
	counts := make([]int, len(values))
	for i := 0; i < n; i++ {
		d, err := s.Select(values)
		if err != nil {
			t.Fatal(err)
		}
		if d.Mode != ModeSampled {
			t.Fatalf("Mode = %s, want sampled", d.Mode)
		}
		counts[d.Index]++
	}

	for i, c := range counts {
		freq := float64(c) / n
		if math.Abs(freq-probs[i]) > 0.02 {
			t.Errorf("index %d frequency %.3f, want %.3f", i, freq, probs[i])
		}
	}
}

func TestSelect_GreedyRate(t *testing.T) {
	s := NewSelector(DefaultGreedyProbability, rand.New(rand.NewSource(7)))
	values := make([]float64, 21)

	const n = 20000
	greedy := 0
	for i := 0; i < n; i++ {
		d, err := s.Select(values)
		if err != nil {
			t.Fatal(err)
		}
		if d.Mode == ModeGreedy {
			greedy++
		}
	}
	if rate := float64(greedy) / n; math.Abs(rate-DefaultGreedyProbability) > 0.02 {
		t.Errorf("greedy rate = %.3f, want about %.2f", rate, DefaultGreedyProbability)
	}
}

func TestSelect_DecisionCopiesValues(t *testing.T) {
	s := NewSelector(0.5, nil)
	values := []float64{1, 2, 3}
	d, err := s.Select(values)
	if err != nil {
		t.Fatal(err)
	}
	values[0] = 100
	if d.Values[0] != 1 {
		t.Error("decision should not alias caller values")
	}
	if len(d.Probs) != 3 || math.Abs(sum(d.Probs)-1) > 1e-9 {
		t.Errorf("Probs = %v", d.Probs)
	}
}

func TestSampleCategorical(t *testing.T) {
	probs := []float64{0.25, 0, 0.75, 0}
	tests := []struct {
		threshold float64
		want      int
	}{
		{0, 0},
		{0.2499, 0},
		{0.25, 2},
		{0.9999, 2},
		{1, 2},
	}
	for _, tt := range tests {
		if got := sampleCategorical(probs, tt.threshold); got != tt.want {
			t.Errorf("sampleCategorical(%v) = %d, want %d", tt.threshold, got, tt.want)
		}
	}
}

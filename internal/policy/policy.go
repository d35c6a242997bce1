// Package policy turns the model's per-action values into a decision:
// usually a sample from the softmax distribution, sometimes the arg-max.
package policy

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

// DefaultGreedyProbability is the chance of taking the arg-max action
// instead of sampling.
const DefaultGreedyProbability = 0.2

// ErrNonFiniteValues is returned for NaN or infinite action values.
var ErrNonFiniteValues = errors.New("action values are not finite")

// Mode records how a decision was made.
type Mode string

const (
	ModeSampled Mode = "sampled"
	ModeGreedy  Mode = "greedy"
)

// Decision is the outcome of one selection.
type Decision struct {
	Index  int
	Values []float64
	Probs  []float64
	Mode   Mode
}

// Selector chooses action indices. It is safe for concurrent use.
type Selector struct {
	GreedyProbability float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector creates a Selector. A nil rng is seeded from the clock.
func NewSelector(greedyProbability float64, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{GreedyProbability: greedyProbability, rng: rng}
}

// Select picks an action index from values. With probability
// GreedyProbability it takes the arg-max, otherwise it samples from
// Softmax(values).
func (s *Selector) Select(values []float64) (Decision, error) {
	probs, err := Softmax(values)
	if err != nil {
		return Decision{}, err
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	var d Decision
	if roll < s.GreedyProbability {
		d = Decision{Index: ArgMax(values), Mode: ModeGreedy}
	} else {
		d = Decision{Index: sampleCategorical(probs, s.rng.Float64()), Mode: ModeSampled}
	}
	s.mu.Unlock()

	d.Values = append([]float64(nil), values...)
	d.Probs = probs
	return d, nil
}

// Softmax returns the normalized exponentials of values. The maximum is
// subtracted first so large magnitudes do not overflow.
func Softmax(values []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, errors.NewValidationError("no action values").WithField("values")
	}
	maxV := values[0]
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: index %d is %v", ErrNonFiniteValues, i, v)
		}
		if v > maxV {
			maxV = v
		}
	}

	probs := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		probs[i] = math.Exp(v - maxV)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs, nil
}

// ArgMax returns the index of the largest value, the first one on ties.
func ArgMax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// sampleCategorical maps threshold in [0, 1) onto the cumulative
// distribution of probs.
func sampleCategorical(probs []float64, threshold float64) int {
	var cumulative float64
	for i, p := range probs {
		cumulative += p
		if threshold < cumulative {
			return i
		}
	}
	for i := len(probs) - 1; i > 0; i-- {
		if probs[i] > 0 {
			return i
		}
	}
	return 0
}

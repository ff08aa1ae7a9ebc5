// Package scoring ranks candidates by a weighted mixture of retrieval
// relevance with personal, global and contextual signals.
package scoring

import (
	"fmt"
	"math"
	"sync"

	"github.com/tutor-agent/backend/pkg/faults"
)

const weightTolerance = 1e-6

// Weights are the four mixture weights applied by the scorer.
type Weights struct {
	Base     float64
	Personal float64
	Global   float64
	Context  float64
}

func DefaultWeights() Weights {
	return Weights{Base: 0.4, Personal: 0.25, Global: 0.15, Context: 0.2}
}

// Validate checks each weight is in [0,1] and the four sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"base": w.Base, "personal": w.Personal, "global": w.Global, "context": w.Context,
	} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return faults.New(faults.KindInvalidWeights,
				fmt.Sprintf("weight %q out of bounds: %v", name, v))
		}
	}
	sum := w.Base + w.Personal + w.Global + w.Context
	if math.Abs(sum-1) > weightTolerance {
		return faults.New(faults.KindInvalidWeights,
			fmt.Sprintf("weights sum to %v, want 1", sum))
	}
	return nil
}

// Normalize rescales the weights to sum to 1. Degenerate all-zero weights
// reset to the defaults.
func (w Weights) Normalize() Weights {
	sum := w.Base + w.Personal + w.Global + w.Context
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Base:     w.Base / sum,
		Personal: w.Personal / sum,
		Global:   w.Global / sum,
		Context:  w.Context / sum,
	}
}

// Store is the shared weight snapshot. The tuner writes, scorers read.
type Store struct {
	mu      sync.RWMutex
	weights Weights
}

func NewStore(initial Weights) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Store{weights: initial}, nil
}

func (s *Store) Get() Weights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weights
}

// Set replaces the snapshot after validation. Invalid weights keep the
// previous snapshot.
func (s *Store) Set(w Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.weights = w
	s.mu.Unlock()
	return nil
}

// Package pedagogy tracks the per-learner pedagogical state: the zone of
// proximal development level, the Bloom taxonomy classification of a query
// and the cognitive load of candidate content.
package pedagogy

import (
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/pkg/logger"
)

// Level is the ordinal learner-capability level gating content difficulty.
type Level int

const (
	Beginner Level = iota
	Elementary
	Intermediate
	Advanced
	Expert
)

func (l Level) String() string {
	switch l {
	case Beginner:
		return "beginner"
	case Elementary:
		return "elementary"
	case Intermediate:
		return "intermediate"
	case Advanced:
		return "advanced"
	case Expert:
		return "expert"
	default:
		return "unknown"
	}
}

func ParseLevel(s string) Level {
	switch s {
	case "elementary":
		return Elementary
	case "intermediate":
		return Intermediate
	case "advanced":
		return Advanced
	case "expert":
		return Expert
	default:
		return Beginner
	}
}

// Clamp bounds a level to [Beginner, Expert].
func (l Level) Clamp() Level {
	if l < Beginner {
		return Beginner
	}
	if l > Expert {
		return Expert
	}
	return l
}

// Advance moves up exactly one level, clamped at Expert.
func (l Level) Advance() Level {
	return (l + 1).Clamp()
}

// Regress moves down exactly one level, clamped at Beginner.
func (l Level) Regress() Level {
	return (l - 1).Clamp()
}

// Outcome is one scored interaction result in the rolling history window.
type Outcome struct {
	Success    bool    `json:"success"`
	Difficulty float64 `json:"difficulty"`
}

// ZPDTracker evaluates level transitions from the rolling outcome window.
// A level changes by at most one step per evaluation; the band between the
// regress and advance thresholds is the stable optimal zone.
type ZPDTracker struct {
	window           int
	advanceThreshold float64
	regressThreshold float64
}

func NewZPDTracker(window int, advanceThreshold, regressThreshold float64) *ZPDTracker {
	if window <= 0 {
		window = 20
	}
	return &ZPDTracker{
		window:           window,
		advanceThreshold: advanceThreshold,
		regressThreshold: regressThreshold,
	}
}

func (t *ZPDTracker) Window() int {
	return t.window
}

// Evaluate returns the next level for the rolling outcome history. Only the
// most recent window of outcomes counts.
func (t *ZPDTracker) Evaluate(current Level, outcomes []Outcome) Level {
	if len(outcomes) == 0 {
		return current.Clamp()
	}

	if len(outcomes) > t.window {
		outcomes = outcomes[len(outcomes)-t.window:]
	}

	var successes int
	var difficultySum float64
	for _, o := range outcomes {
		if o.Success {
			successes++
		}
		difficultySum += o.Difficulty
	}

	successRate := float64(successes) / float64(len(outcomes))
	avgDifficulty := difficultySum / float64(len(outcomes))

	next := current
	switch {
	case successRate > t.advanceThreshold && avgDifficulty >= float64(current):
		next = current.Advance()
	case successRate < t.regressThreshold:
		next = current.Regress()
	}

	if next != current {
		logger.Debug("ZPD level transition",
			zap.String("from", current.String()),
			zap.String("to", next.String()),
			zap.Float64("success_rate", successRate),
			zap.Float64("avg_difficulty", avgDifficulty),
		)
	}

	return next.Clamp()
}

// SuccessRate computes the rolling success rate over the bounded window.
func (t *ZPDTracker) SuccessRate(outcomes []Outcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	if len(outcomes) > t.window {
		outcomes = outcomes[len(outcomes)-t.window:]
	}
	var successes int
	for _, o := range outcomes {
		if o.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(outcomes))
}

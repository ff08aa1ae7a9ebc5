package pedagogy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func outcomes(n int, successes int, difficulty float64) []Outcome {
	out := make([]Outcome, n)
	for i := range out {
		out[i] = Outcome{Success: i < successes, Difficulty: difficulty}
	}
	return out
}

func TestLevelClamp(t *testing.T) {
	assert.Equal(t, Beginner, Level(-3).Clamp())
	assert.Equal(t, Expert, Level(9).Clamp())
	assert.Equal(t, Intermediate, Intermediate.Clamp())
}

func TestAdvanceRegressBounded(t *testing.T) {
	assert.Equal(t, Expert, Expert.Advance())
	assert.Equal(t, Beginner, Beginner.Regress())
	assert.Equal(t, Advanced, Intermediate.Advance())
	assert.Equal(t, Elementary, Intermediate.Regress())
}

func TestEvaluateAdvancesOnHighSuccessAtLevel(t *testing.T) {
	tracker := NewZPDTracker(20, 0.80, 0.40)

	// 20/20 recent successes at advanced difficulty.
	next := tracker.Evaluate(Advanced, outcomes(20, 20, float64(Advanced)))
	assert.Equal(t, Expert, next)
}

func TestEvaluateDoesNotAdvanceOnEasyContent(t *testing.T) {
	tracker := NewZPDTracker(20, 0.80, 0.40)

	// Perfect success rate but attempted difficulty below current level.
	next := tracker.Evaluate(Advanced, outcomes(20, 20, float64(Beginner)))
	assert.Equal(t, Advanced, next)
}

func TestEvaluateRegressesOnLowSuccess(t *testing.T) {
	tracker := NewZPDTracker(20, 0.80, 0.40)

	next := tracker.Evaluate(Intermediate, outcomes(20, 6, float64(Intermediate)))
	assert.Equal(t, Elementary, next)
}

func TestEvaluateStableInOptimalZone(t *testing.T) {
	tracker := NewZPDTracker(20, 0.80, 0.40)

	next := tracker.Evaluate(Intermediate, outcomes(20, 12, float64(Intermediate)))
	assert.Equal(t, Intermediate, next)
}

func TestEvaluateChangesAtMostOneStep(t *testing.T) {
	tracker := NewZPDTracker(20, 0.80, 0.40)

	next := tracker.Evaluate(Beginner, outcomes(20, 20, float64(Expert)))
	assert.Equal(t, Elementary, next)

	next = tracker.Evaluate(Expert, outcomes(20, 0, float64(Beginner)))
	assert.Equal(t, Advanced, next)
}

func TestEvaluateNeverLeavesBounds(t *testing.T) {
	tracker := NewZPDTracker(20, 0.80, 0.40)

	assert.Equal(t, Expert, tracker.Evaluate(Expert, outcomes(20, 20, float64(Expert))))
	assert.Equal(t, Beginner, tracker.Evaluate(Beginner, outcomes(20, 0, float64(Beginner))))
}

func TestEvaluateUsesOnlyRecentWindow(t *testing.T) {
	tracker := NewZPDTracker(5, 0.80, 0.40)

	// Old failures followed by five recent successes at level.
	history := append(outcomes(20, 0, float64(Elementary)), outcomes(5, 5, float64(Elementary))...)
	next := tracker.Evaluate(Elementary, history)
	assert.Equal(t, Intermediate, next)
}

func TestEvaluateEmptyHistory(t *testing.T) {
	tracker := NewZPDTracker(20, 0.80, 0.40)
	assert.Equal(t, Intermediate, tracker.Evaluate(Intermediate, nil))
}

func TestSuccessRate(t *testing.T) {
	tracker := NewZPDTracker(20, 0.80, 0.40)
	assert.InDelta(t, 0.6, tracker.SuccessRate(outcomes(20, 12, 1)), 1e-9)
	assert.Equal(t, 0.0, tracker.SuccessRate(nil))
}

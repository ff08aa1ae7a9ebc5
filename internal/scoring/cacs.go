package scoring

import (
	"sort"

	"github.com/tutor-agent/backend/internal/pedagogy"
	"github.com/tutor-agent/backend/internal/retrieval"
	"github.com/tutor-agent/backend/pkg/utils"
)

// GlobalStats supplies the smoothed cross-learner popularity of a
// candidate, keyed by normalized text hash, in [0,1].
type GlobalStats interface {
	Popularity(textHash string) float64
}

// LearnerSignal is the slice of learner state CACS needs: the current ZPD
// level and the learner's historical per-topic success rates.
type LearnerSignal struct {
	Level      pedagogy.Level
	TopicRates map[string]float64
}

// ScoredCandidate annotates a retrieval candidate with the four sub-scores
// and the final mixture score.
type ScoredCandidate struct {
	retrieval.Candidate
	Load     pedagogy.LoadAssessment
	Personal float64
	Global   float64
	Context  float64
	Final    float64
}

// Scorer combines retrieval relevance with personal, global and contextual
// signals. Scoring is deterministic: identical inputs produce identical
// rankings, with text-hash tie-breaking.
type Scorer struct {
	globals GlobalStats
	loads   *pedagogy.LoadAssessor
}

func NewScorer(globals GlobalStats, loads *pedagogy.LoadAssessor) *Scorer {
	return &Scorer{globals: globals, loads: loads}
}

// Score annotates and ranks the merged candidate list. Weights are read,
// never mutated, here. All sub-scores are pre-normalized to [0,1].
func (s *Scorer) Score(candidates []retrieval.Candidate, learner LearnerSignal, cls pedagogy.Classification, w Weights) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(candidates))

	for _, cand := range candidates {
		load := s.loads.Assess(cand.Text)

		sc := ScoredCandidate{
			Candidate: cand,
			Load:      load,
			Personal:  personalScore(cand, load, learner),
			Global:    clamp01(s.globals.Popularity(utils.HashText(cand.Text))),
			Context:   contextScore(cand, cls),
		}
		sc.Final = w.Base*sc.Score + w.Personal*sc.Personal + w.Global*sc.Global + w.Context*sc.Context
		scored = append(scored, sc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Final != scored[j].Final {
			return scored[i].Final > scored[j].Final
		}
		return utils.HashText(scored[i].Text) < utils.HashText(scored[j].Text)
	})

	return scored
}

// personalScore rewards topic affinity from the learner's history and
// penalizes cognitive load mismatched to the ZPD level.
func personalScore(cand retrieval.Candidate, load pedagogy.LoadAssessment, learner LearnerSignal) float64 {
	score := 0.5
	if rate, ok := learner.TopicRates[cand.Topic]; ok && cand.Topic != "" {
		// Strong topics pull the score up, weak ones down.
		score = 0.25 + 0.5*rate
	}

	// Tolerance for load grows with the learner level: a beginner is
	// penalized for heavy content an expert absorbs easily.
	tolerance := float64(learner.Level.Clamp()) / float64(pedagogy.Expert)
	mismatch := load.Combined * (1 - tolerance)
	return clamp01(score + 0.25 - 0.5*mismatch)
}

// contextScore rewards a match between the candidate's content shape and
// what the classified taxonomy level calls for, weighted by classification
// confidence.
func contextScore(cand retrieval.Candidate, cls pedagogy.Classification) float64 {
	shape := 0.5
	hasExample := pedagogy.HasWorkedExample(cand.Text)
	short := len(cand.Text) < 400

	switch cls.Level {
	case pedagogy.Recall, pedagogy.Comprehension:
		// Concise definitional content answers low-order questions best.
		if short {
			shape = 0.9
		} else {
			shape = 0.4
		}
	case pedagogy.Application, pedagogy.Synthesis:
		if hasExample {
			shape = 0.95
		} else {
			shape = 0.35
		}
	case pedagogy.Analysis, pedagogy.Evaluation:
		if !short {
			shape = 0.85
		} else {
			shape = 0.45
		}
	}

	// Low-confidence classifications drag the signal toward neutral.
	return clamp01(0.5 + (shape-0.5)*cls.Confidence)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

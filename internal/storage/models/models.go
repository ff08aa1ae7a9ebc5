package models

import (
	"time"

	"github.com/tutor-agent/backend/internal/pedagogy"
)

// LearnerProfile is the per-learner pedagogical state. Created on first
// interaction, mutated after every scored interaction, archived rather
// than deleted.
type LearnerProfile struct {
	LearnerID        string
	Level            pedagogy.Level
	RecentOutcomes   []pedagogy.Outcome
	SuccessRate      float64
	AvgDifficulty    float64
	TopicRates       map[string]float64
	InteractionCount int
	Archived         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Interaction is one append-only entry in the interaction log. Immutable
// once written.
type Interaction struct {
	ID                 string
	LearnerID          string
	Query              string
	Topic              string
	CandidateText      string
	CandidateHash      string
	Source             string
	TaxonomyLevel      string
	TaxonomyConfidence float64
	CognitiveLoad      float64
	RawScore           float64
	BaseScore          float64
	PersonalScore      float64
	GlobalScore        float64
	ContextScore       float64
	FinalScore         float64
	DirectAnswer       bool
	Degraded           bool
	LatencyMS          int
	CreatedAt          time.Time
}

// FeedbackSignal is the learner's reaction to an interaction. At most one
// signal exists per interaction; later signals update the record.
type FeedbackSignal struct {
	InteractionID string
	Reaction      Reaction
	Understanding float64
	Satisfaction  float64
	CorrectedText string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Reaction string

const (
	ReactionPositive         Reaction = "positive"
	ReactionNeutral          Reaction = "neutral"
	ReactionNegative         Reaction = "negative"
	ReactionStronglyNegative Reaction = "strongly-negative"
)

// Positive reports whether the reaction counts as a successful outcome in
// the ZPD rolling window.
func (r Reaction) Positive() bool {
	return r == ReactionPositive || r == ReactionNeutral
}

func (r Reaction) Valid() bool {
	switch r {
	case ReactionPositive, ReactionNeutral, ReactionNegative, ReactionStronglyNegative:
		return true
	}
	return false
}

// WeightsRecord is one persisted version of the CACS mixture weights.
type WeightsRecord struct {
	Version   int
	Base      float64
	Personal  float64
	Global    float64
	Context   float64
	CreatedAt time.Time
}

// SourceStatRecord holds the min/max normalization bounds for one source.
type SourceStatRecord struct {
	Source    string
	Min       float64
	Max       float64
	UpdatedAt time.Time
}

// QAPair is a pre-authored question/answer pair with its stored question
// embedding.
type QAPair struct {
	ID        string
	Question  string
	Answer    string
	Topic     string
	Embedding []float32
	CreatedAt time.Time
}

// TunerRun records one feedback-tuner cycle: the window it consumed and
// whether the produced weights were rejected.
type TunerRun struct {
	ID           int
	RanAt        time.Time
	WindowStart  time.Time
	Interactions int
	Flagged      bool
	Note         string
	Report       string
}

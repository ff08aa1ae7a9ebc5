package tuner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutor-agent/backend/internal/retrieval"
	"github.com/tutor-agent/backend/internal/scoring"
	"github.com/tutor-agent/backend/internal/storage/models"
	"github.com/tutor-agent/backend/internal/storage/sqlite"
)

type fakeStorage struct {
	window      []sqlite.InteractionFeedback
	runs        []*models.TunerRun
	savedWts    []*models.WeightsRecord
	savedStats  []*models.SourceStatRecord
	sinceCalled []time.Time
}

func (f *fakeStorage) InteractionsWithFeedbackSince(since time.Time) ([]sqlite.InteractionFeedback, error) {
	f.sinceCalled = append(f.sinceCalled, since)
	var out []sqlite.InteractionFeedback
	for _, pair := range f.window {
		if pair.Interaction.CreatedAt.After(since) {
			out = append(out, pair)
		}
	}
	return out, nil
}

func (f *fakeStorage) LastTunerRun() (*models.TunerRun, error) {
	if len(f.runs) == 0 {
		return nil, nil
	}
	return f.runs[len(f.runs)-1], nil
}

func (f *fakeStorage) RecordTunerRun(run *models.TunerRun) error {
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStorage) SaveWeights(w *models.WeightsRecord) error {
	f.savedWts = append(f.savedWts, w)
	return nil
}

func (f *fakeStorage) SaveSourceStat(stat *models.SourceStatRecord) error {
	f.savedStats = append(f.savedStats, stat)
	return nil
}

func pair(reaction models.Reaction, base, personal, global, contextScore float64, created time.Time) sqlite.InteractionFeedback {
	return sqlite.InteractionFeedback{
		Interaction: models.Interaction{
			ID:            "i-" + string(reaction),
			Source:        string(retrieval.SourcePassage),
			RawScore:      base,
			BaseScore:     base,
			PersonalScore: personal,
			GlobalScore:   global,
			ContextScore:  contextScore,
			CreatedAt:     created,
		},
		Feedback: models.FeedbackSignal{Reaction: reaction},
	}
}

func newTestTuner(db *fakeStorage) (*Tuner, *scoring.Store, *retrieval.StatsStore) {
	weights, _ := scoring.NewStore(scoring.DefaultWeights())
	stats := retrieval.NewStatsStore()
	tn := New(db, weights, stats, Config{LearningRate: 0.05})
	return tn, weights, stats
}

func TestRunEmptyWindowIsFixedPoint(t *testing.T) {
	db := &fakeStorage{}
	tn, weights, _ := newTestTuner(db)

	before := weights.Get()
	run, err := tn.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, run.Interactions)
	assert.Equal(t, "no feedback in window", run.Note)
	assert.Equal(t, before, weights.Get())
	assert.Empty(t, db.savedWts)
}

func TestRunNudgesTowardPositiveComponents(t *testing.T) {
	now := time.Now()
	db := &fakeStorage{window: []sqlite.InteractionFeedback{
		// Positive feedback where the personal sub-score dominated.
		pair(models.ReactionPositive, 0.5, 0.9, 0.3, 0.4, now),
		// Negative feedback where it did not.
		pair(models.ReactionNegative, 0.5, 0.1, 0.3, 0.4, now),
	}}
	tn, weights, _ := newTestTuner(db)

	run, err := tn.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, run.Flagged)
	assert.Equal(t, 2, run.Interactions)

	tuned := weights.Get()
	require.NoError(t, tuned.Validate(), "tuned weights stay valid")
	assert.Greater(t, tuned.Personal, scoring.DefaultWeights().Personal,
		"personal weight rises when it separates positive from negative")
	require.Len(t, db.savedWts, 1)
}

func TestRunRecordsReport(t *testing.T) {
	now := time.Now()
	db := &fakeStorage{window: []sqlite.InteractionFeedback{
		pair(models.ReactionPositive, 0.5, 0.9, 0.3, 0.4, now),
		pair(models.ReactionNegative, 0.5, 0.1, 0.3, 0.4, now),
	}}
	tn, _, _ := newTestTuner(db)

	run, err := tn.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, run.Report, "Total Interactions: 2")
	assert.Contains(t, run.Report, "Active Weights")
	require.Len(t, db.runs, 1)
	assert.Equal(t, run.Report, db.runs[0].Report, "the report is persisted with the run")
}

func TestRunRefreshesSourceStats(t *testing.T) {
	now := time.Now()
	low := pair(models.ReactionPositive, 0.2, 0, 0, 0, now)
	high := pair(models.ReactionPositive, 0.8, 0, 0, 0, now)
	db := &fakeStorage{window: []sqlite.InteractionFeedback{low, high}}
	tn, _, stats := newTestTuner(db)

	_, err := tn.Run(context.Background())
	require.NoError(t, err)

	bounds := stats.Get(retrieval.SourcePassage)
	assert.Equal(t, 0.2, bounds.Min)
	assert.Equal(t, 0.8, bounds.Max)
	require.Len(t, db.savedStats, 1)
}

func TestRunWatermarkMakesRerunIdempotent(t *testing.T) {
	created := time.Now().Add(-time.Minute)
	db := &fakeStorage{window: []sqlite.InteractionFeedback{
		pair(models.ReactionPositive, 0.5, 0.9, 0.3, 0.4, created),
		pair(models.ReactionNegative, 0.5, 0.1, 0.3, 0.4, created),
	}}
	tn, weights, _ := newTestTuner(db)

	first, err := tn.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Interactions)
	afterFirst := weights.Get()

	second, err := tn.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Interactions)
	assert.Equal(t, afterFirst, weights.Get(), "re-run without new feedback changes nothing")
}

func TestRunDirectAnswersOnlySkipsWeightUpdate(t *testing.T) {
	now := time.Now()
	direct := pair(models.ReactionPositive, 0.95, 0, 0, 0, now)
	direct.Interaction.DirectAnswer = true
	db := &fakeStorage{window: []sqlite.InteractionFeedback{direct}}
	tn, weights, _ := newTestTuner(db)

	before := weights.Get()
	run, err := tn.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "only direct answers in window", run.Note)
	assert.Equal(t, before, weights.Get())
	assert.Empty(t, db.savedWts)
}

func TestBuildReportAggregates(t *testing.T) {
	now := time.Now()
	window := []sqlite.InteractionFeedback{
		pair(models.ReactionPositive, 0.5, 0.2, 0.3, 0.4, now),
		pair(models.ReactionNegative, 0.5, 0.2, 0.3, 0.4, now),
	}
	window[0].Feedback.Understanding = 0.8
	window[0].Feedback.Satisfaction = 0.9
	window[0].Interaction.FinalScore = 0.7
	window[1].Feedback.Understanding = 0.2
	window[1].Interaction.FinalScore = 0.3
	window[1].Interaction.Degraded = true

	report := BuildReport(window, now.Add(-time.Hour), now, scoring.DefaultWeights())

	assert.Equal(t, 2, report.TotalInteractions)
	assert.Equal(t, 1, report.PositiveCount)
	assert.Equal(t, 1, report.NegativeCount)
	assert.Equal(t, 1, report.DegradedAnswers)
	assert.InDelta(t, 0.5, report.AvgUnderstanding, 1e-9)
	assert.InDelta(t, 0.5, report.AvgFinalScore, 1e-9)
	assert.InDelta(t, 50.0, report.PositiveRate, 1e-9)

	text := report.Format()
	assert.Contains(t, text, "Total Interactions: 2")
	assert.Contains(t, text, "Positive Rate: 50.0%")
}

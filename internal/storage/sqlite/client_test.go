package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutor-agent/backend/internal/pedagogy"
	"github.com/tutor-agent/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })
	return c
}

func testProfile(learnerID string) *models.LearnerProfile {
	now := time.Now()
	return &models.LearnerProfile{
		LearnerID:  learnerID,
		Level:      pedagogy.Beginner,
		TopicRates: map[string]float64{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func testInteraction(id, learnerID string, createdAt time.Time) *models.Interaction {
	return &models.Interaction{
		ID:            id,
		LearnerID:     learnerID,
		Query:         "What is photosynthesis?",
		Topic:         "photosynthesis",
		CandidateText: "Photosynthesis converts light into chemical energy.",
		CandidateHash: "hash-" + id,
		Source:        "passage",
		RawScore:      0.8,
		FinalScore:    0.7,
		CreatedAt:     createdAt,
	}
}

func TestTunerWindowKeysOnFeedbackTime(t *testing.T) {
	c := newTestClient(t)
	profile := testProfile("learner-1")

	// The interaction predates the watermark by two days; only its
	// feedback is recent.
	old := testInteraction("i1", "learner-1", time.Now().Add(-48*time.Hour))
	require.NoError(t, c.CommitInteraction(profile, old))
	require.NoError(t, c.ApplyFeedback(profile, &models.FeedbackSignal{
		InteractionID: "i1",
		Reaction:      models.ReactionPositive,
	}))

	watermark := time.Now().Add(-24 * time.Hour)
	pairs, err := c.InteractionsWithFeedbackSince(watermark)
	require.NoError(t, err)
	require.Len(t, pairs, 1, "late feedback on an old interaction enters the window")
	assert.Equal(t, "i1", pairs[0].Interaction.ID)
	assert.Equal(t, models.ReactionPositive, pairs[0].Feedback.Reaction)
}

func TestTunerWindowExcludesConsumedFeedback(t *testing.T) {
	c := newTestClient(t)
	profile := testProfile("learner-1")

	require.NoError(t, c.CommitInteraction(profile, testInteraction("i1", "learner-1", time.Now())))
	require.NoError(t, c.ApplyFeedback(profile, &models.FeedbackSignal{
		InteractionID: "i1",
		Reaction:      models.ReactionNegative,
	}))

	pairs, err := c.InteractionsWithFeedbackSince(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestTunerRunRoundTrip(t *testing.T) {
	c := newTestClient(t)

	run := &models.TunerRun{
		RanAt:        time.Now(),
		WindowStart:  time.Now().Add(-24 * time.Hour),
		Interactions: 3,
		Note:         "ok",
		Report:       "Feedback Tuning Report",
	}
	require.NoError(t, c.RecordTunerRun(run))

	last, err := c.LastTunerRun()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 3, last.Interactions)
	assert.Equal(t, "Feedback Tuning Report", last.Report)
}

package personalization

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutor-agent/backend/internal/llm"
	"github.com/tutor-agent/backend/internal/pedagogy"
	"github.com/tutor-agent/backend/internal/retrieval"
	"github.com/tutor-agent/backend/internal/scoring"
	"github.com/tutor-agent/backend/internal/storage/models"
	"github.com/tutor-agent/backend/pkg/faults"
)

type fakeRetriever struct {
	result *retrieval.Result
	err    error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string) (*retrieval.Result, error) {
	return f.result, f.err
}

type fakeGenerator struct {
	text string
	err  error
	last llm.AnswerRequest
}

func (f *fakeGenerator) GenerateAnswer(_ context.Context, req llm.AnswerRequest) (string, error) {
	f.last = req
	return f.text, f.err
}

type fakeStorage struct {
	profiles     map[string]*models.LearnerProfile
	interactions map[string]*models.Interaction
	committed    []*models.Interaction
	feedback     []*models.FeedbackSignal
	profileErr   error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		profiles:     map[string]*models.LearnerProfile{},
		interactions: map[string]*models.Interaction{},
	}
}

func (f *fakeStorage) GetOrCreateProfile(learnerID string) (*models.LearnerProfile, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	if p, ok := f.profiles[learnerID]; ok {
		return p, nil
	}
	p := &models.LearnerProfile{
		LearnerID:  learnerID,
		Level:      pedagogy.Beginner,
		TopicRates: map[string]float64{},
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	f.profiles[learnerID] = p
	return p, nil
}

func (f *fakeStorage) CommitInteraction(profile *models.LearnerProfile, interaction *models.Interaction) error {
	f.profiles[profile.LearnerID] = profile
	f.interactions[interaction.ID] = interaction
	f.committed = append(f.committed, interaction)
	return nil
}

func (f *fakeStorage) ApplyFeedback(profile *models.LearnerProfile, fb *models.FeedbackSignal) error {
	f.profiles[profile.LearnerID] = profile
	f.feedback = append(f.feedback, fb)
	return nil
}

func (f *fakeStorage) GetInteraction(id string) (*models.Interaction, error) {
	return f.interactions[id], nil
}

type fakeGlobals struct{}

func (fakeGlobals) Popularity(string) float64 { return 0.5 }

type fakeAnswerCache struct {
	entries map[string]string
	getErr  error
}

func newFakeAnswerCache() *fakeAnswerCache {
	return &fakeAnswerCache{entries: map[string]string{}}
}

func (f *fakeAnswerCache) GetDirectAnswer(_ context.Context, query string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	payload, ok := f.entries[query]
	return payload, ok, nil
}

func (f *fakeAnswerCache) SetDirectAnswer(_ context.Context, query, answer string) error {
	f.entries[query] = answer
	return nil
}

func newTestOrchestrator(ret Retriever, gen Generator, store Storage) *Orchestrator {
	return newTestOrchestratorWithCache(ret, gen, store, nil)
}

func newTestOrchestratorWithCache(ret Retriever, gen Generator, store Storage, cache AnswerCache) *Orchestrator {
	classifier := pedagogy.NewTaxonomyClassifier(map[string][]string{
		"recall":      {"what is", "nedir"},
		"application": {"how do i", "apply"},
	}, 0.1)
	loads := pedagogy.NewLoadAssessor([]string{"mitochondria"}, 20)
	scorer := scoring.NewScorer(fakeGlobals{}, loads)
	weights, _ := scoring.NewStore(scoring.DefaultWeights())
	zpd := pedagogy.NewZPDTracker(20, 0.80, 0.40)

	return NewOrchestrator(ret, gen, store, cache, classifier, loads, scorer, weights, zpd, Config{
		SimplifyLoadLimit: 0.7,
		GenerateTimeout:   time.Second,
	})
}

func candidates() []retrieval.Candidate {
	return []retrieval.Candidate{
		{ID: "c1", Text: "Photosynthesis converts light into chemical energy.", Source: retrieval.SourcePassage, RawScore: 0.8, Score: 0.9, Topic: "photosynthesis"},
		{ID: "c2", Text: "Plants use chlorophyll to capture sunlight.", Source: retrieval.SourceStructured, RawScore: 0.7, Score: 0.6, Topic: "photosynthesis"},
	}
}

func TestAnswerGeneratesFromTopCandidate(t *testing.T) {
	store := newFakeStorage()
	gen := &fakeGenerator{text: "A tutored explanation."}
	ret := &fakeRetriever{result: &retrieval.Result{
		Candidates: candidates(),
		Topic:      "photosynthesis",
	}}

	o := newTestOrchestrator(ret, gen, store)

	answer, err := o.Answer(context.Background(), "learner-1", "What is photosynthesis?")
	require.NoError(t, err)

	assert.Equal(t, "A tutored explanation.", answer.Text)
	assert.False(t, answer.Direct)
	assert.False(t, answer.Degraded)
	assert.Equal(t, "photosynthesis", answer.Topic)
	assert.Equal(t, "recall", answer.TaxonomyLevel)

	require.Len(t, store.committed, 1)
	interaction := store.committed[0]
	assert.Equal(t, "learner-1", interaction.LearnerID)
	assert.False(t, interaction.DirectAnswer)
	assert.NotEmpty(t, interaction.CandidateHash)
	assert.Equal(t, 1, store.profiles["learner-1"].InteractionCount)
}

func TestAnswerDirectShortCircuit(t *testing.T) {
	store := newFakeStorage()
	gen := &fakeGenerator{text: "should not be used"}
	ret := &fakeRetriever{result: &retrieval.Result{
		Direct: &retrieval.Candidate{
			ID: "qa1", Text: "The curated answer.", Source: retrieval.SourceQAPair,
			RawScore: 0.95, Score: 0.95,
		},
		Topic: "photosynthesis",
	}}

	o := newTestOrchestrator(ret, gen, store)

	answer, err := o.Answer(context.Background(), "learner-1", "What is photosynthesis?")
	require.NoError(t, err)

	assert.True(t, answer.Direct)
	assert.Equal(t, "The curated answer.", answer.Text)
	assert.Empty(t, gen.last.Query, "generator must not run for direct answers")

	require.Len(t, store.committed, 1)
	assert.True(t, store.committed[0].DirectAnswer)
	assert.Equal(t, "What is photosynthesis?", store.committed[0].Query)
}

func TestAnswerDirectHitPopulatesCache(t *testing.T) {
	store := newFakeStorage()
	cache := newFakeAnswerCache()
	ret := &fakeRetriever{result: &retrieval.Result{
		Direct: &retrieval.Candidate{
			ID: "qa1", Text: "The curated answer.", Source: retrieval.SourceQAPair,
			RawScore: 0.95, Score: 0.95,
		},
		Topic: "photosynthesis",
	}}

	o := newTestOrchestratorWithCache(ret, &fakeGenerator{}, store, cache)

	_, err := o.Answer(context.Background(), "learner-1", "What is photosynthesis?")
	require.NoError(t, err)

	payload, ok := cache.entries["What is photosynthesis?"]
	require.True(t, ok, "direct hit must be cached")
	assert.Contains(t, payload, "The curated answer.")
	assert.Contains(t, payload, "photosynthesis")
}

func TestAnswerServedFromCacheSkipsRetrieval(t *testing.T) {
	store := newFakeStorage()
	cache := newFakeAnswerCache()
	// A failing retriever proves a cached hit never reaches the sources.
	ret := &fakeRetriever{err: errors.New("sources down")}

	o := newTestOrchestratorWithCache(ret, &fakeGenerator{}, store, cache)
	require.NoError(t, cache.SetDirectAnswer(context.Background(), "What is photosynthesis?",
		`{"text":"The curated answer.","topic":"photosynthesis","source":"qa-pair","score":0.95,"raw_score":0.95}`))

	answer, err := o.Answer(context.Background(), "learner-2", "What is photosynthesis?")
	require.NoError(t, err)

	assert.True(t, answer.Direct)
	assert.Equal(t, "The curated answer.", answer.Text)
	assert.Equal(t, "photosynthesis", answer.Topic)

	// Cached hits are still logged so feedback on them works.
	require.Len(t, store.committed, 1)
	assert.True(t, store.committed[0].DirectAnswer)
	assert.Equal(t, "learner-2", store.committed[0].LearnerID)
}

func TestAnswerCacheFailureFallsThrough(t *testing.T) {
	store := newFakeStorage()
	cache := newFakeAnswerCache()
	cache.getErr = errors.New("redis down")
	gen := &fakeGenerator{text: "A tutored explanation."}
	ret := &fakeRetriever{result: &retrieval.Result{
		Candidates: candidates(),
		Topic:      "photosynthesis",
	}}

	o := newTestOrchestratorWithCache(ret, gen, store, cache)

	answer, err := o.Answer(context.Background(), "learner-1", "What is photosynthesis?")
	require.NoError(t, err)
	assert.Equal(t, "A tutored explanation.", answer.Text)
	assert.False(t, answer.Degraded)
}

func TestAnswerRetrievalFailurePropagates(t *testing.T) {
	store := newFakeStorage()
	ret := &fakeRetriever{err: faults.New(faults.KindRetrievalUnavailable, "all sources failed")}

	o := newTestOrchestrator(ret, &fakeGenerator{}, store)

	_, err := o.Answer(context.Background(), "learner-1", "anything")
	require.Error(t, err)
	assert.Equal(t, faults.KindRetrievalUnavailable, faults.KindOf(err))
	assert.Empty(t, store.committed)
}

func TestAnswerGenerationFailureDegrades(t *testing.T) {
	store := newFakeStorage()
	gen := &fakeGenerator{err: errors.New("llm down")}
	ret := &fakeRetriever{result: &retrieval.Result{
		Candidates: candidates(),
		Topic:      "photosynthesis",
	}}

	o := newTestOrchestrator(ret, gen, store)

	answer, err := o.Answer(context.Background(), "learner-1", "What is photosynthesis?")
	require.NoError(t, err)

	assert.True(t, answer.Degraded)
	assert.Contains(t, []string{candidates()[0].Text, candidates()[1].Text}, answer.Text,
		"degraded answer serves raw retrieved content")
}

func TestAnswerGenerationFailureStillRecorded(t *testing.T) {
	store := newFakeStorage()
	gen := &fakeGenerator{err: errors.New("llm down")}
	ret := &fakeRetriever{result: &retrieval.Result{
		Candidates: candidates(),
		Topic:      "photosynthesis",
	}}

	o := newTestOrchestrator(ret, gen, store)

	answer, err := o.Answer(context.Background(), "learner-1", "What is photosynthesis?")
	require.NoError(t, err)
	require.True(t, answer.Degraded)

	// The profile store is healthy, so the degraded answer must still land
	// in the interaction log and accept feedback.
	require.Len(t, store.committed, 1)
	assert.Equal(t, answer.InteractionID, store.committed[0].ID)
	assert.True(t, store.committed[0].Degraded)

	err = o.RecordFeedback(context.Background(), &models.FeedbackSignal{
		InteractionID: answer.InteractionID,
		Reaction:      models.ReactionNegative,
	})
	require.NoError(t, err)
	require.Len(t, store.feedback, 1)
}

func TestAnswerProfileFailureStillAnswers(t *testing.T) {
	store := newFakeStorage()
	store.profileErr = errors.New("db locked")
	gen := &fakeGenerator{text: "generic answer"}
	ret := &fakeRetriever{result: &retrieval.Result{
		Candidates: candidates(),
		Topic:      "photosynthesis",
	}}

	o := newTestOrchestrator(ret, gen, store)

	answer, err := o.Answer(context.Background(), "learner-1", "What is photosynthesis?")
	require.NoError(t, err)
	assert.True(t, answer.Degraded)
	assert.Equal(t, pedagogy.Beginner, answer.Level)
	assert.Empty(t, store.committed, "no write when the profile store is down")
}

func TestAnswerEmptyCandidatesIsRetrievalFailure(t *testing.T) {
	store := newFakeStorage()
	ret := &fakeRetriever{result: &retrieval.Result{Topic: "unknown"}}

	o := newTestOrchestrator(ret, &fakeGenerator{}, store)

	_, err := o.Answer(context.Background(), "learner-1", "no matches")
	require.Error(t, err)
	assert.Equal(t, faults.KindRetrievalUnavailable, faults.KindOf(err))
}

func TestRecordFeedbackUpdatesProfile(t *testing.T) {
	store := newFakeStorage()
	gen := &fakeGenerator{text: "answer"}
	ret := &fakeRetriever{result: &retrieval.Result{
		Candidates: candidates(),
		Topic:      "photosynthesis",
	}}

	o := newTestOrchestrator(ret, gen, store)

	answer, err := o.Answer(context.Background(), "learner-1", "What is photosynthesis?")
	require.NoError(t, err)

	err = o.RecordFeedback(context.Background(), &models.FeedbackSignal{
		InteractionID: answer.InteractionID,
		Reaction:      models.ReactionPositive,
	})
	require.NoError(t, err)

	profile := store.profiles["learner-1"]
	require.Len(t, profile.RecentOutcomes, 1)
	assert.True(t, profile.RecentOutcomes[0].Success)
	assert.Equal(t, 1.0, profile.SuccessRate)
	assert.Equal(t, 1.0, profile.TopicRates["photosynthesis"])
	require.Len(t, store.feedback, 1)
}

func TestRecordFeedbackAdvancesLevel(t *testing.T) {
	store := newFakeStorage()
	gen := &fakeGenerator{text: "answer"}
	ret := &fakeRetriever{result: &retrieval.Result{
		Candidates: candidates(),
		Topic:      "photosynthesis",
	}}

	o := newTestOrchestrator(ret, gen, store)

	// Seed a history of hard successful interactions so the next signal
	// crosses the advance threshold.
	profile, _ := store.GetOrCreateProfile("learner-1")
	for i := 0; i < 19; i++ {
		profile.RecentOutcomes = append(profile.RecentOutcomes, pedagogy.Outcome{
			Success:    true,
			Difficulty: 1.0,
		})
	}

	answer, err := o.Answer(context.Background(), "learner-1", "What is photosynthesis?")
	require.NoError(t, err)
	// Give the recorded interaction a load high enough that its outcome
	// difficulty stays on the hard side.
	store.interactions[answer.InteractionID].CognitiveLoad = 0.5

	err = o.RecordFeedback(context.Background(), &models.FeedbackSignal{
		InteractionID: answer.InteractionID,
		Reaction:      models.ReactionPositive,
	})
	require.NoError(t, err)

	assert.Equal(t, pedagogy.Elementary, store.profiles["learner-1"].Level)
}

func TestRecordFeedbackInvalidReaction(t *testing.T) {
	o := newTestOrchestrator(&fakeRetriever{}, &fakeGenerator{}, newFakeStorage())

	err := o.RecordFeedback(context.Background(), &models.FeedbackSignal{
		InteractionID: "x",
		Reaction:      models.Reaction("meh"),
	})
	require.Error(t, err)
}

func TestRecordFeedbackUnknownInteraction(t *testing.T) {
	o := newTestOrchestrator(&fakeRetriever{}, &fakeGenerator{}, newFakeStorage())

	err := o.RecordFeedback(context.Background(), &models.FeedbackSignal{
		InteractionID: "missing",
		Reaction:      models.ReactionPositive,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRecordFeedbackWindowTrimmed(t *testing.T) {
	store := newFakeStorage()
	gen := &fakeGenerator{text: "answer"}
	ret := &fakeRetriever{result: &retrieval.Result{
		Candidates: candidates(),
		Topic:      "photosynthesis",
	}}

	o := newTestOrchestrator(ret, gen, store)

	profile, _ := store.GetOrCreateProfile("learner-1")
	for i := 0; i < 25; i++ {
		profile.RecentOutcomes = append(profile.RecentOutcomes, pedagogy.Outcome{Success: false})
	}

	answer, err := o.Answer(context.Background(), "learner-1", "What is photosynthesis?")
	require.NoError(t, err)

	err = o.RecordFeedback(context.Background(), &models.FeedbackSignal{
		InteractionID: answer.InteractionID,
		Reaction:      models.ReactionNegative,
	})
	require.NoError(t, err)

	assert.Len(t, store.profiles["learner-1"].RecentOutcomes, 20)
}

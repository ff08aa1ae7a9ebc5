package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutor-agent/backend/pkg/faults"
)

type fakeTopics struct {
	topic string
	err   error
}

func (f *fakeTopics) ClassifyTopic(ctx context.Context, text string) (string, error) {
	return f.topic, f.err
}

type fakeVectors struct {
	results []RawResult
	err     error
}

func (f *fakeVectors) Search(ctx context.Context, query string, topK int, minScore float64, topic string) ([]RawResult, error) {
	return f.results, f.err
}

type fakeKB struct {
	results []RawResult
	err     error
}

func (f *fakeKB) Lookup(ctx context.Context, topic string) ([]RawResult, error) {
	return f.results, f.err
}

type fakeQA struct {
	results []RawResult
	err     error
}

func (f *fakeQA) Match(ctx context.Context, query string, minSimilarity float64) ([]RawResult, error) {
	return f.results, f.err
}

func newTestRetriever(v *fakeVectors, k *fakeKB, q *fakeQA) *Retriever {
	return NewRetriever(
		&fakeTopics{topic: "biology"},
		v, k, q,
		NewStatsStore(),
		Config{TopK: 5, DirectAnswerFloor: 0.90, DedupThreshold: 0.85, SourceTimeout: time.Second},
	)
}

func TestRetrieveMergesAllSources(t *testing.T) {
	r := newTestRetriever(
		&fakeVectors{results: []RawResult{{ID: "p1", Text: "photosynthesis converts light", Score: 0.8, Topic: "biology"}}},
		&fakeKB{results: []RawResult{{ID: "k1", Text: "chlorophyll absorbs photons", Score: 0.6, Topic: "biology"}}},
		&fakeQA{},
	)

	result, err := r.Retrieve(context.Background(), "How does photosynthesis work?")
	require.NoError(t, err)
	require.Nil(t, result.Direct)
	assert.False(t, result.Partial)
	assert.Equal(t, "biology", result.Topic)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, SourcePassage, result.Candidates[0].Source)
	assert.Equal(t, 0.8, result.Candidates[0].Score)
}

func TestRetrieveDirectAnswerShortCircuit(t *testing.T) {
	r := newTestRetriever(
		&fakeVectors{results: []RawResult{{ID: "p1", Text: "some passage", Score: 0.99}}},
		&fakeKB{},
		&fakeQA{results: []RawResult{
			{ID: "qa1", Text: "Photosynthesis is how plants make food.", Score: 0.95},
			{ID: "qa2", Text: "A weaker match.", Score: 0.91},
		}},
	)

	result, err := r.Retrieve(context.Background(), "What is photosynthesis?")
	require.NoError(t, err)
	require.NotNil(t, result.Direct)
	assert.Equal(t, "qa1", result.Direct.ID)
	assert.Equal(t, SourceQAPair, result.Direct.Source)
	assert.Empty(t, result.Candidates)
}

func TestRetrieveBelowFloorIsNotDirect(t *testing.T) {
	r := newTestRetriever(
		&fakeVectors{},
		&fakeKB{},
		&fakeQA{results: []RawResult{{ID: "qa1", Text: "near miss", Score: 0.89}}},
	)

	result, err := r.Retrieve(context.Background(), "What is photosynthesis?")
	require.NoError(t, err)
	assert.Nil(t, result.Direct)
	assert.Len(t, result.Candidates, 1)
}

func TestRetrievePartialOnSingleSourceFailure(t *testing.T) {
	r := newTestRetriever(
		&fakeVectors{err: errors.New("vector store timeout")},
		&fakeKB{results: []RawResult{{ID: "k1", Text: "chlorophyll absorbs photons", Score: 0.6}}},
		&fakeQA{},
	)

	result, err := r.Retrieve(context.Background(), "How does photosynthesis work?")
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, []SourceType{SourcePassage}, result.FailedSources)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "k1", result.Candidates[0].ID)
}

func TestRetrieveAllSourcesFailed(t *testing.T) {
	r := newTestRetriever(
		&fakeVectors{err: errors.New("down")},
		&fakeKB{err: errors.New("down")},
		&fakeQA{err: errors.New("down")},
	)

	_, err := r.Retrieve(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, faults.KindRetrievalUnavailable, faults.KindOf(err))
}

func TestRetrieveDeduplicatesKeepingHigherScore(t *testing.T) {
	r := newTestRetriever(
		&fakeVectors{results: []RawResult{{ID: "p1", Text: "Plants convert sunlight into chemical energy", Score: 0.7}}},
		&fakeKB{results: []RawResult{{ID: "k1", Text: "plants convert sunlight into chemical energy", Score: 0.9}}},
		&fakeQA{},
	)

	result, err := r.Retrieve(context.Background(), "photosynthesis")
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "k1", result.Candidates[0].ID)
	assert.Equal(t, 0.9, result.Candidates[0].Score)
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	var many []RawResult
	texts := []string{
		"mitochondria produce energy",
		"ribosomes build proteins",
		"the nucleus stores dna",
		"vacuoles store water reserves",
		"cell walls give plants rigidity",
		"chloroplasts capture light",
		"membranes control transport",
	}
	for i, text := range texts {
		many = append(many, RawResult{ID: string(rune('a' + i)), Text: text, Score: float64(i) / 10})
	}
	r := newTestRetriever(&fakeVectors{results: many}, &fakeKB{}, &fakeQA{})

	result, err := r.Retrieve(context.Background(), "cells")
	require.NoError(t, err)
	assert.Len(t, result.Candidates, 5)
	// Sorted descending by normalized score.
	for i := 1; i < len(result.Candidates); i++ {
		assert.GreaterOrEqual(t, result.Candidates[i-1].Score, result.Candidates[i].Score)
	}
}

func TestRetrieveTopicClassifierFailureDegrades(t *testing.T) {
	r := NewRetriever(
		&fakeTopics{err: errors.New("classifier down")},
		&fakeVectors{results: []RawResult{{ID: "p1", Text: "unfiltered passage", Score: 0.5}}},
		&fakeKB{}, &fakeQA{},
		NewStatsStore(),
		Config{TopK: 5, SourceTimeout: time.Second},
	)

	result, err := r.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "", result.Topic)
	assert.Len(t, result.Candidates, 1)
}

func TestNormalizeUsesSourceStats(t *testing.T) {
	stats := NewStatsStore()
	stats.Set(SourcePassage, SourceStats{Min: 0.0, Max: 2.0})

	assert.Equal(t, 0.5, stats.Normalize(SourcePassage, 1.0))
	assert.Equal(t, 0.0, stats.Normalize(SourcePassage, -1.0))
	assert.Equal(t, 1.0, stats.Normalize(SourcePassage, 3.0))
	// Unknown sources pass through on identity bounds.
	assert.Equal(t, 0.4, stats.Normalize(SourceStructured, 0.4))
}

func TestStatsStoreRejectsDegenerateBounds(t *testing.T) {
	stats := NewStatsStore()
	stats.Set(SourcePassage, SourceStats{Min: 1, Max: 1})
	assert.Equal(t, SourceStats{Min: 0, Max: 1}, stats.Get(SourcePassage))
}

func TestTextSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, textSimilarity("Plants grow.", "plants grow"))
	assert.Equal(t, 0.0, textSimilarity("completely different", "unrelated words entirely"))
	mid := textSimilarity("plants convert sunlight into energy", "plants convert water into energy")
	assert.Greater(t, mid, 0.4)
	assert.Less(t, mid, 1.0)
}

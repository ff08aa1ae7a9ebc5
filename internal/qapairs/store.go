// Package qapairs matches learner questions against a curated set of
// question/answer pairs by embedding similarity. Pairs are persisted in
// SQLite and held in memory for matching.
package qapairs

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/retrieval"
	"github.com/tutor-agent/backend/internal/storage/models"
	"github.com/tutor-agent/backend/pkg/logger"
)

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Persistence is the slice of the storage layer the store needs.
type Persistence interface {
	AllQAPairs() ([]models.QAPair, error)
	InsertQAPair(pair *models.QAPair) error
}

type Store struct {
	db       Persistence
	embedder Embedder

	mu    sync.RWMutex
	pairs []models.QAPair
}

func NewStore(db Persistence, embedder Embedder) *Store {
	return &Store{
		db:       db,
		embedder: embedder,
	}
}

// Load pulls every persisted pair into the in-memory index.
func (s *Store) Load(ctx context.Context) error {
	pairs, err := s.db.AllQAPairs()
	if err != nil {
		return fmt.Errorf("failed to load QA pairs: %w", err)
	}

	s.mu.Lock()
	s.pairs = pairs
	s.mu.Unlock()

	logger.Info("QA pairs loaded", zap.Int("count", len(pairs)))
	return nil
}

// AddPair embeds the question, persists the pair, and indexes it.
func (s *Store) AddPair(ctx context.Context, question, answer, topic string) (*models.QAPair, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	pair := &models.QAPair{
		ID:        uuid.New().String(),
		Question:  question,
		Answer:    answer,
		Topic:     topic,
		Embedding: embedding,
		CreatedAt: time.Now(),
	}

	if err := s.db.InsertQAPair(pair); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.pairs = append(s.pairs, *pair)
	s.mu.Unlock()

	logger.Info("QA pair added", zap.String("pair_id", pair.ID), zap.String("topic", topic))
	return pair, nil
}

// Match implements the hybrid retriever's question-pair port. The result
// score is the cosine similarity between the query and the stored
// question, so a sufficiently close hit can short-circuit retrieval.
func (s *Store) Match(ctx context.Context, query string, minSimilarity float64) ([]retrieval.RawResult, error) {
	s.mu.RLock()
	pairs := s.pairs
	s.mu.RUnlock()

	if len(pairs) == 0 {
		return nil, nil
	}

	queryEmbedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var results []retrieval.RawResult
	for _, pair := range pairs {
		sim := cosineSimilarity(queryEmbedding, pair.Embedding)
		if sim < minSimilarity {
			continue
		}
		results = append(results, retrieval.RawResult{
			ID:    pair.ID,
			Text:  pair.Answer,
			Score: sim,
			Topic: pair.Topic,
		})
	}

	logger.Debug("QA pair match completed",
		zap.Int("candidates", len(pairs)),
		zap.Int("matched", len(results)),
	)

	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

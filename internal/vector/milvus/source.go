package milvus

import (
	"context"

	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/retrieval"
	"github.com/tutor-agent/backend/pkg/logger"
)

// Embedder turns query text into the vector the collection is searched with.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingCache avoids re-embedding repeated queries. A nil cache is fine.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, bool)
	SetEmbedding(ctx context.Context, text string, embedding []float32)
}

// PassageSource exposes the passage collection as a retrieval source.
type PassageSource struct {
	client   *Client
	embedder Embedder
	cache    EmbeddingCache
}

func NewPassageSource(client *Client, embedder Embedder, cache EmbeddingCache) *PassageSource {
	return &PassageSource{
		client:   client,
		embedder: embedder,
		cache:    cache,
	}
}

// Search implements the hybrid retriever's vector port.
func (s *PassageSource) Search(ctx context.Context, query string, topK int, minScore float64, topic string) ([]retrieval.RawResult, error) {
	embedding, err := s.queryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.client.Search(ctx, embedding, topK, topic)
	if err != nil {
		return nil, err
	}

	results := make([]retrieval.RawResult, 0, len(hits))
	for _, hit := range hits {
		score := float64(hit.Score)
		if score < minScore {
			continue
		}
		results = append(results, retrieval.RawResult{
			ID:    hit.ChunkID,
			Text:  hit.Text,
			Score: score,
			Topic: hit.Topic,
		})
	}

	logger.Debug("Passage source searched",
		zap.Int("hits", len(hits)),
		zap.Int("kept", len(results)),
	)

	return results, nil
}

func (s *PassageSource) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if s.cache != nil {
		if embedding, ok := s.cache.GetEmbedding(ctx, query); ok {
			return embedding, nil
		}
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetEmbedding(ctx, query, embedding)
	}

	return embedding, nil
}

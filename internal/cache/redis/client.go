package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/pkg/logger"
	"github.com/tutor-agent/backend/pkg/utils"
)

const (
	embeddingTTL    = 24 * time.Hour
	directAnswerTTL = time.Hour
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetEmbedding caches a query embedding keyed by normalized text hash.
// Cache writes are best effort, failures are logged and swallowed.
func (c *Client) SetEmbedding(ctx context.Context, text string, embedding []float32) {
	data, err := json.Marshal(embedding)
	if err != nil {
		logger.Warn("Failed to marshal embedding", zap.Error(err))
		return
	}

	key := fmt.Sprintf("embedding:%s", utils.HashText(text))
	if err := c.client.Set(ctx, key, data, embeddingTTL).Err(); err != nil {
		logger.Warn("Failed to cache embedding", zap.Error(err))
		return
	}

	logger.Debug("Embedding cached", zap.String("key", key))
}

func (c *Client) GetEmbedding(ctx context.Context, text string) ([]float32, bool) {
	key := fmt.Sprintf("embedding:%s", utils.HashText(text))
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("Failed to read embedding cache", zap.Error(err))
		return nil, false
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		logger.Warn("Failed to unmarshal cached embedding", zap.Error(err))
		return nil, false
	}

	logger.Debug("Embedding cache hit", zap.String("key", key))
	return embedding, true
}

// SetDirectAnswer caches a verbatim curated answer keyed by query hash.
// Direct answers bypass personalization, so the payload is safe to share
// across learners.
func (c *Client) SetDirectAnswer(ctx context.Context, query, answer string) error {
	key := fmt.Sprintf("direct:%s", utils.HashText(query))
	err := c.client.Set(ctx, key, answer, directAnswerTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to cache direct answer: %w", err)
	}

	logger.Debug("Direct answer cached", zap.String("key", key))
	return nil
}

func (c *Client) GetDirectAnswer(ctx context.Context, query string) (string, bool, error) {
	key := fmt.Sprintf("direct:%s", utils.HashText(query))
	answer, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get direct answer cache: %w", err)
	}

	logger.Debug("Direct answer cache hit", zap.String("key", key))
	return answer, true, nil
}

// InvalidateAnswerCache clears cached direct answers after content
// ingestion changes what the curated corpus would say.
func (c *Client) InvalidateAnswerCache(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "direct:*", 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Direct answer cache invalidated")
	return nil
}

package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// Passage is one embedded course content chunk.
type Passage struct {
	ID        string
	Embedding []float32
	Text      string
	Topic     string
	SourceRef string
	Summary   string
	Timestamp time.Time
}

type SearchResult struct {
	ChunkID   string
	Text      string
	Topic     string
	SourceRef string
	Summary   string
	Score     float32
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CreateCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Course passage embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "4096",
				},
			},
			{
				Name:     "topic",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "source_ref",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "summary",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "1024",
				},
			},
			{
				Name:     "timestamp",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Cosine metric so scores arrive as similarities, higher is better.
	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(passages))
	embeddings := make([][]float32, len(passages))
	texts := make([]string, len(passages))
	topics := make([]string, len(passages))
	sourceRefs := make([]string, len(passages))
	summaries := make([]string, len(passages))
	timestamps := make([]int64, len(passages))

	for i, p := range passages {
		chunkIDs[i] = p.ID
		embeddings[i] = p.Embedding
		texts[i] = p.Text
		topics[i] = p.Topic
		sourceRefs[i] = p.SourceRef
		summaries[i] = p.Summary
		timestamps[i] = p.Timestamp.Unix()
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("topic", topics),
		entity.NewColumnVarChar("source_ref", sourceRefs),
		entity.NewColumnVarChar("summary", summaries),
		entity.NewColumnInt64("timestamp", timestamps),
	)

	if err != nil {
		return fmt.Errorf("failed to insert passages: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Passages inserted into vector DB", zap.Int("count", len(passages)))

	return nil
}

func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, topic string) ([]SearchResult, error) {
	expr := ""
	if topic != "" {
		expr = fmt.Sprintf(`topic == "%s"`, topic)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "text", "topic", "source_ref", "summary"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			chunkIDCol := sr.Fields.GetColumn("chunk_id")
			textCol := sr.Fields.GetColumn("text")
			topicCol := sr.Fields.GetColumn("topic")
			sourceRefCol := sr.Fields.GetColumn("source_ref")
			summaryCol := sr.Fields.GetColumn("summary")

			chunkID, _ := chunkIDCol.Get(i)
			text, _ := textCol.Get(i)
			resTopic, _ := topicCol.Get(i)
			sourceRef, _ := sourceRefCol.Get(i)
			summary, _ := summaryCol.Get(i)

			results = append(results, SearchResult{
				ChunkID:   chunkID.(string),
				Text:      text.(string),
				Topic:     resTopic.(string),
				SourceRef: sourceRef.(string),
				Summary:   summary.(string),
				Score:     sr.Scores[i],
			})
		}
	}

	logger.Info("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("filter", expr),
	)

	return results, nil
}

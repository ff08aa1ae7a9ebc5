package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/pedagogy"
	"github.com/tutor-agent/backend/pkg/circuitbreaker"
	"github.com/tutor-agent/backend/pkg/logger"
	"github.com/tutor-agent/backend/pkg/retry"
)

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// AnswerRequest carries the selected content plus the pedagogical hints
// the prompt is shaped with.
type AnswerRequest struct {
	Query         string
	Context       string
	Level         pedagogy.Level
	TaxonomyLevel pedagogy.TaxonomyLevel
	Simplify      bool
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			for i, v := range resp.Data[0].Embedding {
				embedding[i] = v
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embedding, nil
}

func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var embeddings [][]float32

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(
					ctx,
					openai.EmbeddingRequest{
						Input: batch,
						Model: openai.EmbeddingModel(c.embeddingModel),
					},
				)

				if err != nil {
					return fmt.Errorf("failed to generate batch embeddings: %w", err)
				}

				for _, data := range resp.Data {
					embedding := make([]float32, len(data.Embedding))
					for j, v := range data.Embedding {
						embedding[j] = v
					}
					embeddings = append(embeddings, embedding)
				}

				return nil
			})
		})

		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

// ClassifyTopic maps a learner query onto a single curriculum topic slug.
// The classifier answers with one lowercase token so downstream lookups
// can use it as an index key directly.
func (c *Client) ClassifyTopic(ctx context.Context, text string) (string, error) {
	systemPrompt := `You are a curriculum topic classifier for a tutoring system.
Given a student question, respond with the single most relevant course topic
as one lowercase slug (e.g. "photosynthesis", "cell-division", "newton-laws").
Respond with the slug only, no punctuation or explanation. The question may be
in English or Turkish.`

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   text,
		Temperature:  0.1,
		MaxTokens:    20,
	})

	if err != nil {
		return "", fmt.Errorf("failed to classify topic: %w", err)
	}

	topic := strings.ToLower(strings.TrimSpace(resp.Content))
	topic = strings.Trim(topic, `"'.`)

	logger.Debug("Topic classified", zap.String("topic", topic))

	return topic, nil
}

// GenerateAnswer produces the tutored answer, shaping tone and depth by
// the learner's mastery level and the question's cognitive demand.
func (c *Client) GenerateAnswer(ctx context.Context, req AnswerRequest) (string, error) {
	systemPrompt := `You are a patient, encouraging tutor. Answer the student's
question using ONLY the provided course material.

Your answer must:
1. Stay grounded in the provided material, never invent facts
2. Match the requested difficulty register
3. Use examples when the question asks how to apply something
4. Answer in the same language as the question (English or Turkish)
5. Say so plainly when the material does not cover the question`

	var hints []string
	hints = append(hints, fmt.Sprintf("Student mastery level: %s.", req.Level))
	hints = append(hints, fmt.Sprintf("Question demand: %s.", req.TaxonomyLevel))
	if req.Simplify {
		hints = append(hints, "The material is dense for this student. Use short sentences, define every technical term, and add a simple analogy.")
	}

	userPrompt := fmt.Sprintf(`Question: %s

Course material:
%s

Guidance: %s`, req.Query, req.Context, strings.Join(hints, " "))

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.4,
		MaxTokens:    1024,
	})

	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	logger.Info("Answer generated",
		zap.String("level", req.Level.String()),
		zap.Bool("simplified", req.Simplify),
		zap.Int("answer_length", len(resp.Content)),
	)

	return resp.Content, nil
}

// SummarizePassage generates the short summary stored alongside each
// ingested course passage.
func (c *Client) SummarizePassage(ctx context.Context, content string) (string, error) {
	systemPrompt := `You are a course content editor. Summarize the given course
passage in 1-2 sentences. Name the central concept and what the passage teaches
about it. Keep the summary in the passage's own language.`

	userPrompt := fmt.Sprintf("Summarize this course passage:\n\n%s", content)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.3,
		MaxTokens:    200,
	})

	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}

	logger.Debug("Passage summarized", zap.Int("summary_length", len(resp.Content)))

	return resp.Content, nil
}

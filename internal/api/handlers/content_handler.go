package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/ingestion"
	"github.com/tutor-agent/backend/internal/metrics"
	"github.com/tutor-agent/backend/pkg/logger"
)

// TopicLister enumerates the topics present in the curated knowledge base.
type TopicLister interface {
	AllTopics(ctx context.Context) ([]string, error)
}

type ContentHandler struct {
	processor *ingestion.Processor
	topics    TopicLister
}

func NewContentHandler(processor *ingestion.Processor, topics TopicLister) *ContentHandler {
	return &ContentHandler{
		processor: processor,
		topics:    topics,
	}
}

func (h *ContentHandler) IngestContent(c *fiber.Ctx) error {
	var req struct {
		SourceRef string `json:"source_ref"`
		Topic     string `json:"topic"`
		Content   string `json:"content"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.SourceRef == "" || req.Topic == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "source_ref, topic and content are required",
		})
	}

	if err := h.processor.ProcessContent(c.Context(), req.SourceRef, req.Topic, req.Content); err != nil {
		logger.Error("Failed to ingest content", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest content",
		})
	}

	metrics.ContentIngested.Inc()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "ingested",
	})
}

func (h *ContentHandler) SeedQAPairs(c *fiber.Ctx) error {
	var req struct {
		Pairs []ingestion.QAPairInput `json:"pairs"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Pairs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "pairs is required",
		})
	}

	if err := h.processor.SeedQAPairs(c.Context(), req.Pairs); err != nil {
		logger.Error("Failed to seed QA pairs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to seed QA pairs",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": "seeded",
		"count":  len(req.Pairs),
	})
}

func (h *ContentHandler) SeedConcepts(c *fiber.Ctx) error {
	var req struct {
		Concepts []ingestion.ConceptInput     `json:"concepts"`
		Links    []ingestion.ConceptLinkInput `json:"links"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Concepts) == 0 && len(req.Links) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "concepts or links required",
		})
	}

	if err := h.processor.SeedConcepts(c.Context(), req.Concepts, req.Links); err != nil {
		logger.Error("Failed to seed concepts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to seed concepts",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":   "seeded",
		"concepts": len(req.Concepts),
		"links":    len(req.Links),
	})
}

func (h *ContentHandler) ListTopics(c *fiber.Ctx) error {
	topics, err := h.topics.AllTopics(c.Context())
	if err != nil {
		logger.Error("Failed to list topics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list topics",
		})
	}

	if topics == nil {
		topics = []string{}
	}

	return c.JSON(fiber.Map{
		"topics": topics,
		"count":  len(topics),
	})
}

package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/metrics"
	"github.com/tutor-agent/backend/internal/personalization"
	"github.com/tutor-agent/backend/internal/storage/models"
	"github.com/tutor-agent/backend/pkg/logger"
)

type FeedbackHandler struct {
	orchestrator *personalization.Orchestrator
}

func NewFeedbackHandler(orchestrator *personalization.Orchestrator) *FeedbackHandler {
	return &FeedbackHandler{
		orchestrator: orchestrator,
	}
}

func (h *FeedbackHandler) HandleFeedback(c *fiber.Ctx) error {
	var req struct {
		InteractionID string  `json:"interaction_id"`
		Reaction      string  `json:"reaction"`
		Understanding float64 `json:"understanding"`
		Satisfaction  float64 `json:"satisfaction"`
		CorrectedText string  `json:"corrected_text"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.InteractionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "interaction_id is required",
		})
	}

	fb := &models.FeedbackSignal{
		InteractionID: req.InteractionID,
		Reaction:      models.Reaction(req.Reaction),
		Understanding: req.Understanding,
		Satisfaction:  req.Satisfaction,
		CorrectedText: req.CorrectedText,
	}

	if !fb.Reaction.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "reaction must be positive, neutral, negative or strongly-negative",
		})
	}

	if err := h.orchestrator.RecordFeedback(c.Context(), fb); err != nil {
		if strings.Contains(err.Error(), "not found") {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Interaction not found",
			})
		}
		logger.Error("Failed to record feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record feedback",
		})
	}

	metrics.FeedbackTotal.WithLabelValues(string(fb.Reaction)).Inc()

	return c.JSON(fiber.Map{
		"status": "recorded",
	})
}

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/metrics"
	"github.com/tutor-agent/backend/internal/personalization"
	"github.com/tutor-agent/backend/pkg/faults"
	"github.com/tutor-agent/backend/pkg/logger"
)

type AnswerHandler struct {
	orchestrator *personalization.Orchestrator
}

func NewAnswerHandler(orchestrator *personalization.Orchestrator) *AnswerHandler {
	return &AnswerHandler{
		orchestrator: orchestrator,
	}
}

func (h *AnswerHandler) HandleAnswer(c *fiber.Ctx) error {
	var req struct {
		LearnerID string `json:"learner_id"`
		Query     string `json:"query"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.LearnerID == "" {
		req.LearnerID = c.Get("X-Learner-ID")
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}
	if req.LearnerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "learner_id is required",
		})
	}

	answer, err := h.orchestrator.Answer(c.Context(), req.LearnerID, req.Query)
	if err != nil {
		metrics.AnswerTotal.WithLabelValues("error").Inc()
		logger.Error("Failed to answer query", zap.Error(err))

		if faults.KindOf(err) == faults.KindRetrievalUnavailable {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "No course content is available for this question",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to answer query",
		})
	}

	metrics.AnswerTotal.WithLabelValues("ok").Inc()
	if answer.Direct {
		metrics.DirectAnswers.Inc()
	}
	if answer.Degraded {
		metrics.DegradedAnswers.Inc()
	}
	metrics.CognitiveLoadScore.Observe(answer.CognitiveLoad)

	return c.JSON(answer)
}

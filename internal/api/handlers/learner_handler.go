package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/storage/sqlite"
	"github.com/tutor-agent/backend/pkg/logger"
)

type LearnerHandler struct {
	db *sqlite.Client
}

func NewLearnerHandler(db *sqlite.Client) *LearnerHandler {
	return &LearnerHandler{db: db}
}

func (h *LearnerHandler) GetProfile(c *fiber.Ctx) error {
	learnerID := c.Params("id")

	profile, err := h.db.GetProfile(learnerID)
	if err != nil {
		logger.Error("Failed to load profile", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load profile",
		})
	}
	if profile == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Learner not found",
		})
	}

	return c.JSON(fiber.Map{
		"learner_id":        profile.LearnerID,
		"level":             profile.Level.String(),
		"success_rate":      profile.SuccessRate,
		"avg_difficulty":    profile.AvgDifficulty,
		"topic_rates":       profile.TopicRates,
		"interaction_count": profile.InteractionCount,
		"archived":          profile.Archived,
		"updated_at":        profile.UpdatedAt,
	})
}

func (h *LearnerHandler) GetHistory(c *fiber.Ctx) error {
	learnerID := c.Params("id")

	limit := 20
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 200 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be between 1 and 200",
			})
		}
		limit = parsed
	}

	history, err := h.db.GetInteractionHistory(learnerID, limit)
	if err != nil {
		logger.Error("Failed to load history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	items := make([]fiber.Map, 0, len(history))
	for _, i := range history {
		items = append(items, fiber.Map{
			"interaction_id": i.ID,
			"query":          i.Query,
			"topic":          i.Topic,
			"source":         i.Source,
			"taxonomy_level": i.TaxonomyLevel,
			"final_score":    i.FinalScore,
			"direct":         i.DirectAnswer,
			"degraded":       i.Degraded,
			"created_at":     i.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"learner_id": learnerID,
		"history":    items,
	})
}

func (h *LearnerHandler) Archive(c *fiber.Ctx) error {
	learnerID := c.Params("id")

	if err := h.db.ArchiveProfile(learnerID); err != nil {
		logger.Error("Failed to archive profile", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to archive profile",
		})
	}

	logger.Info("Learner archived", zap.String("learner_id", learnerID))
	return c.JSON(fiber.Map{
		"status": "archived",
	})
}

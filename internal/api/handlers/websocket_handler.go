package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/personalization"
	"github.com/tutor-agent/backend/internal/storage/models"
	"github.com/tutor-agent/backend/pkg/logger"
)

// WebSocketHandler runs an interactive tutoring session over one
// connection. Questions and feedback arrive as typed messages; answers
// stream back word by word.
type WebSocketHandler struct {
	orchestrator *personalization.Orchestrator
}

func NewWebSocketHandler(orchestrator *personalization.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{
		orchestrator: orchestrator,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("Tutoring session started")

	defer func() {
		c.Close()
		logger.Info("Tutoring session closed")
	}()

	for {
		var msg struct {
			Type          string `json:"type"`
			Content       string `json:"content"`
			LearnerID     string `json:"learner_id"`
			InteractionID string `json:"interaction_id"`
			Reaction      string `json:"reaction"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		switch msg.Type {
		case "question":
			if err := h.streamAnswer(c, msg.LearnerID, msg.Content); err != nil {
				logger.Error("Failed to stream answer", zap.Error(err))
				h.sendError(c, "Failed to answer question")
			}
		case "feedback":
			h.handleFeedback(c, msg.InteractionID, msg.Reaction)
		default:
			// Unknown message types are ignored so clients can extend.
		}
	}
}

func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, learnerID, question string) error {
	ctx := context.Background()

	h.sendChunk(c, "status", "Thinking...")

	answer, err := h.orchestrator.Answer(ctx, learnerID, question)
	if err != nil {
		return err
	}

	words := splitIntoWords(answer.Text)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}

		err := h.sendChunk(c, "chunk", chunk)
		if err != nil {
			return err
		}
	}

	return h.sendComplete(c, answer)
}

func (h *WebSocketHandler) handleFeedback(c *websocket.Conn, interactionID, reaction string) {
	fb := &models.FeedbackSignal{
		InteractionID: interactionID,
		Reaction:      models.Reaction(reaction),
	}

	if err := h.orchestrator.RecordFeedback(context.Background(), fb); err != nil {
		logger.Warn("Failed to record session feedback", zap.Error(err))
		h.sendError(c, "Failed to record feedback")
		return
	}

	c.WriteJSON(map[string]interface{}{
		"type":           "feedback_recorded",
		"interaction_id": interactionID,
	})
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, answer *personalization.Answer) error {
	msg := map[string]interface{}{
		"type":           "complete",
		"interaction_id": answer.InteractionID,
		"topic":          answer.Topic,
		"direct":         answer.Direct,
		"degraded":       answer.Degraded,
		"level":          answer.Level.String(),
		"taxonomy_level": answer.TaxonomyLevel,
		"confidence":     answer.Confidence,
		"latency_ms":     answer.LatencyMS,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}

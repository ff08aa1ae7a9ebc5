package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	sqlInjectionPattern = regexp.MustCompile(`(?i)(union|select|insert|update|delete|drop|create|alter|exec|script|javascript|onerror|onload)`)
	xssPattern          = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
	learnerIDPattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
)

type Config struct {
	MaxQueryLength      int
	MaxContentSize      int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 2000
	}
	if cfg.MaxContentSize == 0 {
		cfg.MaxContentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		path := c.Path()

		if strings.Contains(path, "/api/v1/answer") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			query, ok := req["query"].(string)
			if !ok || query == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query is required and must be a string",
				})
			}

			if len(query) > cfg.MaxQueryLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query exceeds maximum length",
				})
			}

			if learnerID, ok := req["learner_id"].(string); ok && learnerID != "" {
				if !learnerIDPattern.MatchString(learnerID) {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Invalid learner_id format",
					})
				}
			}

			if containsSQLInjection(query) || containsXSS(query) {
				cfg.Logger.Warn("Suspicious query content",
					zap.String("ip", c.IP()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid query content",
				})
			}
		}

		if strings.Contains(path, "/api/v1/content") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			content, ok := req["content"].(string)
			if ok && len(content) > cfg.MaxContentSize {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Content exceeds maximum size",
				})
			}
		}

		return c.Next()
	}
}

func containsSQLInjection(input string) bool {
	return sqlInjectionPattern.MatchString(input)
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

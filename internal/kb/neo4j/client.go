package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/retrieval"
	"github.com/tutor-agent/backend/pkg/circuitbreaker"
	"github.com/tutor-agent/backend/pkg/logger"
	"github.com/tutor-agent/backend/pkg/retry"
)

// Client wraps the curriculum knowledge base. Concepts are nodes indexed
// by topic slug; explanatory entries hang off them with a curator-assigned
// confidence.
type Client struct {
	driver      neo4j.DriverWithContext
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type Concept struct {
	ID         string
	Name       string
	Topic      string
	Definition string
	Confidence float64
}

type ConceptLink struct {
	From       string
	To         string
	Relation   string
	Confidence float64
}

func NewClient(uri, username, password string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri))

	return &Client{
		driver:      driver,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "neo4j"})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

func (c *Client) CreateConcept(ctx context.Context, concept *Concept) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "neo4j"})
	defer session.Close(ctx)

	query := `
		MERGE (k:Concept {id: $id})
		SET k.name = $name,
		    k.topic = $topic,
		    k.definition = $definition,
		    k.confidence = $confidence,
		    k.created_at = timestamp()
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":         concept.ID,
		"name":       concept.Name,
		"topic":      concept.Topic,
		"definition": concept.Definition,
		"confidence": concept.Confidence,
	})

	if err != nil {
		return fmt.Errorf("failed to create concept: %w", err)
	}

	logger.Debug("Concept created", zap.String("concept_id", concept.ID), zap.String("topic", concept.Topic))

	return nil
}

func (c *Client) LinkConcepts(ctx context.Context, link *ConceptLink) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "neo4j"})
	defer session.Close(ctx)

	query := `
		MATCH (a:Concept {id: $from_id})
		MATCH (b:Concept {id: $to_id})
		MERGE (a)-[r:RELATES {type: $relation}]->(b)
		SET r.confidence = $confidence,
		    r.created_at = timestamp()
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"from_id":    link.From,
		"to_id":      link.To,
		"relation":   link.Relation,
		"confidence": link.Confidence,
	})

	if err != nil {
		return fmt.Errorf("failed to link concepts: %w", err)
	}

	logger.Debug("Concepts linked",
		zap.String("from", link.From),
		zap.String("relation", link.Relation),
		zap.String("to", link.To),
	)

	return nil
}

// Lookup implements the hybrid retriever's structured-knowledge port. It
// returns the concepts indexed under the topic, rendered as text entries
// weighted by curator confidence. Related concepts one hop away are folded
// into the entry text.
func (c *Client) Lookup(ctx context.Context, topic string) ([]retrieval.RawResult, error) {
	var results []retrieval.RawResult

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (k:Concept {topic: $topic})
			OPTIONAL MATCH (k)-[r:RELATES]->(related:Concept)
			RETURN k.id, k.name, k.definition, k.confidence,
			       collect(r.type + ' ' + related.name) AS relations
			ORDER BY k.confidence DESC
			LIMIT 20
		`

		result, err := session.Run(ctx, query, map[string]interface{}{
			"topic": topic,
		})
		if err != nil {
			return fmt.Errorf("failed to look up topic: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()

			id, _ := record.Get("k.id")
			name, _ := record.Get("k.name")
			definition, _ := record.Get("k.definition")
			confidence, _ := record.Get("k.confidence")
			relations, _ := record.Get("relations")

			text := fmt.Sprintf("%s: %s", name.(string), definition.(string))
			if rels, ok := relations.([]interface{}); ok && len(rels) > 0 {
				var parts []string
				for _, rel := range rels {
					if s, ok := rel.(string); ok && s != "" {
						parts = append(parts, s)
					}
				}
				if len(parts) > 0 {
					text += " (" + strings.Join(parts, "; ") + ")"
				}
			}

			results = append(results, retrieval.RawResult{
				ID:    id.(string),
				Text:  text,
				Score: confidence.(float64),
				Topic: topic,
			})
		}

		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	logger.Info("Knowledge base lookup completed",
		zap.String("topic", topic),
		zap.Int("entries", len(results)),
	)

	return results, nil
}

func (c *Client) GetConcept(ctx context.Context, name string) (*Concept, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "neo4j"})
	defer session.Close(ctx)

	query := `
		MATCH (k:Concept)
		WHERE k.name = $name OR k.id = $name
		RETURN k.id, k.name, k.topic, k.definition, k.confidence
		LIMIT 1
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"name": name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get concept: %w", err)
	}

	if result.Next(ctx) {
		record := result.Record()
		id, _ := record.Get("k.id")
		conceptName, _ := record.Get("k.name")
		topic, _ := record.Get("k.topic")
		definition, _ := record.Get("k.definition")
		confidence, _ := record.Get("k.confidence")

		return &Concept{
			ID:         id.(string),
			Name:       conceptName.(string),
			Topic:      topic.(string),
			Definition: definition.(string),
			Confidence: confidence.(float64),
		}, nil
	}

	return nil, fmt.Errorf("concept not found: %s", name)
}

func (c *Client) AllTopics(ctx context.Context) ([]string, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "neo4j"})
	defer session.Close(ctx)

	query := `
		MATCH (k:Concept)
		RETURN DISTINCT k.topic AS topic
		ORDER BY topic
	`

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}

	var topics []string
	for result.Next(ctx) {
		record := result.Record()
		topic, _ := record.Get("topic")
		topics = append(topics, topic.(string))
	}

	if err = result.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return topics, nil
}

// Package ingestion loads course material into the retrieval stores:
// passages into the vector collection, concepts into the knowledge base,
// and curated question/answer pairs into the pair index.
package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/kb/neo4j"
	"github.com/tutor-agent/backend/internal/llm"
	"github.com/tutor-agent/backend/internal/qapairs"
	"github.com/tutor-agent/backend/internal/vector/milvus"
	"github.com/tutor-agent/backend/pkg/logger"
	"github.com/tutor-agent/backend/pkg/utils"
)

// AnswerCache is invalidated after ingestion so stale curated answers are
// not served against the refreshed corpus. A nil cache is fine.
type AnswerCache interface {
	InvalidateAnswerCache(ctx context.Context) error
}

type Processor struct {
	vectorDB     *milvus.Client
	kb           *neo4j.Client
	pairs        *qapairs.Store
	llmClient    *llm.Client
	cache        AnswerCache
	chunkSize    int
	chunkOverlap int
}

func NewProcessor(vectorDB *milvus.Client, kb *neo4j.Client, pairs *qapairs.Store, llmClient *llm.Client, cache AnswerCache) *Processor {
	return &Processor{
		vectorDB:     vectorDB,
		kb:           kb,
		pairs:        pairs,
		llmClient:    llmClient,
		cache:        cache,
		chunkSize:    1000,
		chunkOverlap: 100,
	}
}

// ProcessContent chunks one piece of course material, embeds the chunks,
// and inserts them as passages under the given topic. HTML input is
// stripped to text first.
func (p *Processor) ProcessContent(ctx context.Context, sourceRef, topic, content string) error {
	logger.Info("Processing course content",
		zap.String("source_ref", sourceRef),
		zap.String("topic", topic),
	)

	text := content
	if looksLikeHTML(content) {
		text = p.cleanHTML(content)
	}
	text = normalizeWhitespace(text)
	if text == "" {
		return fmt.Errorf("no content extracted from source %s", sourceRef)
	}

	summary, err := p.llmClient.SummarizePassage(ctx, text[:min(len(text), 4000)])
	if err != nil {
		logger.Warn("Failed to summarize content", zap.Error(err))
		summary = "Summary unavailable"
	}

	chunks := p.chunkText(text)
	logger.Info("Content chunked", zap.Int("chunks", len(chunks)))

	embeddings, err := p.llmClient.GenerateBatchEmbeddings(ctx, chunks)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	contentID := utils.HashString(sourceRef)
	passages := make([]milvus.Passage, 0, len(chunks))
	for i, chunkText := range chunks {
		passages = append(passages, milvus.Passage{
			ID:        fmt.Sprintf("%s_chunk_%d", contentID, i),
			Embedding: embeddings[i],
			Text:      chunkText,
			Topic:     topic,
			SourceRef: sourceRef,
			Summary:   summary,
			Timestamp: time.Now(),
		})
	}

	if len(passages) > 0 {
		err = p.vectorDB.Insert(ctx, passages)
		if err != nil {
			return fmt.Errorf("failed to insert into vector DB: %w", err)
		}
	}

	p.invalidateCache(ctx)

	logger.Info("Content processed successfully",
		zap.String("content_id", contentID),
		zap.Int("passages", len(passages)),
	)

	return nil
}

// ConceptInput is one curated knowledge base entry.
type ConceptInput struct {
	Name       string  `json:"name"`
	Topic      string  `json:"topic"`
	Definition string  `json:"definition"`
	Confidence float64 `json:"confidence"`
}

// ConceptLinkInput relates two concepts by name.
type ConceptLinkInput struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`
}

// SeedConcepts loads curated concepts and their relations into the
// knowledge base. Link endpoints reference concept names within the same
// batch or already-stored concepts.
func (p *Processor) SeedConcepts(ctx context.Context, concepts []ConceptInput, links []ConceptLinkInput) error {
	for _, c := range concepts {
		if c.Confidence == 0 {
			c.Confidence = 0.8
		}
		err := p.kb.CreateConcept(ctx, &neo4j.Concept{
			ID:         utils.HashString(c.Topic + ":" + c.Name),
			Name:       c.Name,
			Topic:      c.Topic,
			Definition: c.Definition,
			Confidence: c.Confidence,
		})
		if err != nil {
			return fmt.Errorf("failed to seed concept %q: %w", c.Name, err)
		}
	}

	for _, l := range links {
		from, err := p.kb.GetConcept(ctx, l.From)
		if err != nil {
			return fmt.Errorf("link source %q: %w", l.From, err)
		}
		to, err := p.kb.GetConcept(ctx, l.To)
		if err != nil {
			return fmt.Errorf("link target %q: %w", l.To, err)
		}
		err = p.kb.LinkConcepts(ctx, &neo4j.ConceptLink{
			From:       from.ID,
			To:         to.ID,
			Relation:   l.Relation,
			Confidence: l.Confidence,
		})
		if err != nil {
			return fmt.Errorf("failed to link %q to %q: %w", l.From, l.To, err)
		}
	}

	logger.Info("Concepts seeded",
		zap.Int("concepts", len(concepts)),
		zap.Int("links", len(links)),
	)

	return nil
}

// QAPairInput is one curated question/answer pair.
type QAPairInput struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Topic    string `json:"topic"`
}

// SeedQAPairs embeds and stores curated pairs, then drops cached direct
// answers so the new pairs take effect immediately.
func (p *Processor) SeedQAPairs(ctx context.Context, inputs []QAPairInput) error {
	for _, in := range inputs {
		if strings.TrimSpace(in.Question) == "" || strings.TrimSpace(in.Answer) == "" {
			return fmt.Errorf("QA pair requires both question and answer")
		}
		if _, err := p.pairs.AddPair(ctx, in.Question, in.Answer, in.Topic); err != nil {
			return fmt.Errorf("failed to seed QA pair: %w", err)
		}
	}

	p.invalidateCache(ctx)

	logger.Info("QA pairs seeded", zap.Int("count", len(inputs)))
	return nil
}

func (p *Processor) invalidateCache(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateAnswerCache(ctx); err != nil {
		logger.Warn("Failed to invalidate answer cache", zap.Error(err))
	}
}

func (p *Processor) cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return doc.Find("body").Text()
}

func (p *Processor) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var currentChunk strings.Builder
	currentSize := 0

	for _, word := range words {
		wordLen := len(word) + 1

		if currentSize+wordLen > p.chunkSize && currentChunk.Len() > 0 {
			chunks = append(chunks, currentChunk.String())

			overlapWords := strings.Fields(currentChunk.String())
			overlapStart := max(0, len(overlapWords)-p.chunkOverlap/10)
			currentChunk.Reset()
			currentChunk.WriteString(strings.Join(overlapWords[overlapStart:], " ") + " ")
			currentSize = currentChunk.Len()
		}

		currentChunk.WriteString(word + " ")
		currentSize += wordLen
	}

	if currentChunk.Len() > 0 {
		chunks = append(chunks, currentChunk.String())
	}

	return chunks
}

func looksLikeHTML(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<p>") || strings.Contains(lower, "<div")
}

func normalizeWhitespace(text string) string {
	text = regexp.MustCompile(`\s+`).ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Package retrieval merges candidate answers from passage vector search,
// the curated knowledge store and the question-pair store into one ranked,
// deduplicated list.
package retrieval

import "context"

// SourceType identifies which candidate source supplied a result.
type SourceType string

const (
	SourcePassage    SourceType = "passage"
	SourceStructured SourceType = "structured-entry"
	SourceQAPair     SourceType = "qa-pair"
)

// RawResult is the (text, score, provenance) tuple every source returns.
type RawResult struct {
	ID    string
	Text  string
	Score float64
	Topic string
}

// Candidate is the ephemeral per-query unit flowing through scoring. Score
// is the source score normalized to [0,1]; RawScore keeps the original.
type Candidate struct {
	ID       string
	Text     string
	Source   SourceType
	RawScore float64
	Score    float64
	Topic    string
}

// Result is the retriever output. When Direct is set the question-pair
// store matched at or above the direct-answer floor and Candidates is
// empty; the orchestrator must emit Direct verbatim without scoring.
type Result struct {
	Candidates    []Candidate
	Direct        *Candidate
	Topic         string
	Partial       bool
	FailedSources []SourceType
}

// Collaborator contracts. Concrete adapters live in internal/vector/milvus,
// internal/kb/neo4j, internal/qapairs and internal/llm.

type TopicClassifier interface {
	ClassifyTopic(ctx context.Context, text string) (string, error)
}

type VectorSearcher interface {
	Search(ctx context.Context, query string, topK int, minScore float64, topic string) ([]RawResult, error)
}

type KnowledgeStore interface {
	Lookup(ctx context.Context, topic string) ([]RawResult, error)
}

type QuestionPairStore interface {
	Match(ctx context.Context, query string, minSimilarity float64) ([]RawResult, error)
}

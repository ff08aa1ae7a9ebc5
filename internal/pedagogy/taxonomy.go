package pedagogy

import (
	"strings"

	"go.uber.org/zap"

	"github.com/tutor-agent/backend/pkg/logger"
)

// TaxonomyLevel is one of the six ordered Bloom cognitive-demand levels.
type TaxonomyLevel int

const (
	Recall TaxonomyLevel = iota
	Comprehension
	Application
	Analysis
	Evaluation
	Synthesis
)

func (t TaxonomyLevel) String() string {
	switch t {
	case Recall:
		return "recall"
	case Comprehension:
		return "comprehension"
	case Application:
		return "application"
	case Analysis:
		return "analysis"
	case Evaluation:
		return "evaluation"
	case Synthesis:
		return "synthesis"
	default:
		return "unknown"
	}
}

func ParseTaxonomyLevel(s string) TaxonomyLevel {
	switch s {
	case "comprehension":
		return Comprehension
	case "application":
		return Application
	case "analysis":
		return Analysis
	case "evaluation":
		return Evaluation
	case "synthesis":
		return Synthesis
	default:
		return Recall
	}
}

// Classification tags a query with a taxonomy level and a confidence so
// downstream consumers can weight low-confidence classifications down.
type Classification struct {
	Level      TaxonomyLevel
	Confidence float64
}

// TaxonomyClassifier matches a query against the bilingual keyword sets of
// each taxonomy level. Classification is stateless and approximate: when
// several levels match, the most cognitively demanding one wins.
type TaxonomyClassifier struct {
	keywords      map[TaxonomyLevel][]string
	minConfidence float64
}

// NewTaxonomyClassifier builds a classifier from configured keyword lists
// keyed by level name. Unknown level names are ignored.
func NewTaxonomyClassifier(keywords map[string][]string, minConfidence float64) *TaxonomyClassifier {
	byLevel := make(map[TaxonomyLevel][]string, len(keywords))
	for name, words := range keywords {
		level := ParseTaxonomyLevel(name)
		if level.String() != name {
			logger.Warn("Unknown taxonomy level in keyword config", zap.String("level", name))
			continue
		}
		lowered := make([]string, len(words))
		for i, w := range words {
			lowered[i] = strings.ToLower(w)
		}
		byLevel[level] = lowered
	}

	if minConfidence <= 0 {
		minConfidence = 0.1
	}

	return &TaxonomyClassifier{
		keywords:      byLevel,
		minConfidence: minConfidence,
	}
}

// Classify matches the query against every level's keyword set. Confidence
// is the fraction of the winning level's keywords present in the query,
// floored at the minimum confidence. A query matching nothing falls back to
// the lowest level at minimum confidence.
func (c *TaxonomyClassifier) Classify(query string) Classification {
	lowered := strings.ToLower(query)

	winner := Recall
	matched := false
	confidence := c.minConfidence

	for level := Recall; level <= Synthesis; level++ {
		words := c.keywords[level]
		if len(words) == 0 {
			continue
		}

		hits := 0
		for _, w := range words {
			if strings.Contains(lowered, w) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}

		// Ascending iteration: a later (more demanding) match replaces
		// an earlier one, which breaks ties toward the higher level.
		matched = true
		winner = level
		confidence = float64(hits) / float64(len(words))
	}

	if !matched {
		return Classification{Level: Recall, Confidence: c.minConfidence}
	}

	if confidence < c.minConfidence {
		confidence = c.minConfidence
	}

	return Classification{Level: winner, Confidence: confidence}
}

package pedagogy

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/pkg/logger"
)

// LoadAssessment breaks the estimated mental effort of a piece of content
// into intrinsic, extraneous and germane components. Combined is the
// unweighted mean of the three, clamped to [0,1].
type LoadAssessment struct {
	Intrinsic  float64
	Extraneous float64
	Germane    float64
	Combined   float64
}

const germaneBaseline = 0.5

var workedExampleMarkers = []string{
	"for example", "example:", "worked example", "step 1", "step-by-step",
	"örneğin", "örnek:", "adım adım", "adım 1",
}

// LoadAssessor estimates cognitive load per candidate text. Stateless; the
// term list and sentence-length cutoff come from configuration.
type LoadAssessor struct {
	technicalTerms    map[string]bool
	longSentenceWords int
}

func NewLoadAssessor(technicalTerms []string, longSentenceWords int) *LoadAssessor {
	terms := make(map[string]bool, len(technicalTerms))
	for _, t := range technicalTerms {
		terms[strings.ToLower(t)] = true
	}
	if longSentenceWords <= 0 {
		longSentenceWords = 20
	}
	return &LoadAssessor{
		technicalTerms:    terms,
		longSentenceWords: longSentenceWords,
	}
}

// Assess computes the load sub-scores for one candidate text. Empty text
// yields the minimum load.
func (a *LoadAssessor) Assess(text string) LoadAssessment {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return LoadAssessment{}
	}

	doc, err := prose.NewDocument(trimmed,
		prose.WithExtraction(false),
		prose.WithTagging(false),
	)
	if err != nil {
		logger.Warn("Failed to tokenize candidate text", zap.Error(err))
		return LoadAssessment{}
	}

	tokens := doc.Tokens()
	sentences := doc.Sentences()

	intrinsic := a.intrinsicLoad(tokens)
	extraneous := a.extraneousLoad(trimmed, sentences)
	germane := germaneLoad(trimmed)

	combined := clamp01((intrinsic + extraneous + germane) / 3)

	return LoadAssessment{
		Intrinsic:  intrinsic,
		Extraneous: extraneous,
		Germane:    germane,
		Combined:   combined,
	}
}

// intrinsicLoad rises monotonically with technical-term density. Terms come
// from the configured vocabulary; long alphanumeric tokens count as a
// fallback when no vocabulary is configured for the subject.
func (a *LoadAssessor) intrinsicLoad(tokens []prose.Token) float64 {
	if len(tokens) == 0 {
		return 0
	}

	technical := 0
	words := 0
	for _, tok := range tokens {
		word := strings.ToLower(tok.Text)
		if !isWord(word) {
			continue
		}
		words++
		if a.technicalTerms[word] || len([]rune(word)) >= 12 {
			technical++
		}
	}
	if words == 0 {
		return 0
	}

	density := float64(technical) / float64(words)
	return clamp01(density * 4)
}

// extraneousLoad rises with structural complexity: the ratio of long
// sentences plus the density of nested lists and headers. HTML content is
// parsed for list/header elements; plain text falls back to line markers.
func (a *LoadAssessor) extraneousLoad(text string, sentences []prose.Sentence) float64 {
	longRatio := 0.0
	if len(sentences) > 0 {
		long := 0
		for _, s := range sentences {
			if len(strings.Fields(s.Text)) > a.longSentenceWords {
				long++
			}
		}
		longRatio = float64(long) / float64(len(sentences))
	}

	structure := structuralDensity(text)

	return clamp01(0.7*longRatio + 0.3*structure)
}

func structuralDensity(text string) float64 {
	lines := strings.Split(text, "\n")
	structural := 0

	if strings.Contains(text, "<") && strings.Contains(text, ">") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			structural += doc.Find("ul, ol, h1, h2, h3, h4, h5, h6, table").Length()
		}
	}

	for _, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "- ") || strings.HasPrefix(t, "* ") || strings.HasPrefix(t, "#") {
			structural++
		}
	}

	if len(lines) == 0 {
		return 0
	}
	return clamp01(float64(structural) / float64(len(lines)))
}

// germaneLoad is a fixed baseline adjusted upward when the content carries
// worked examples, which invite schema-building effort.
func germaneLoad(text string) float64 {
	lowered := strings.ToLower(text)
	for _, marker := range workedExampleMarkers {
		if strings.Contains(lowered, marker) {
			return clamp01(germaneBaseline + 0.2)
		}
	}
	return germaneBaseline
}

// HasWorkedExample reports whether the content carries a worked example.
// The contextual CACS sub-score uses this to match taxonomy expectations.
func HasWorkedExample(text string) bool {
	lowered := strings.ToLower(text)
	for _, marker := range workedExampleMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func isWord(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127 {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

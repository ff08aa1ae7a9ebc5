package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tutor-agent/backend/pkg/faults"
	"github.com/tutor-agent/backend/pkg/logger"
	"github.com/tutor-agent/backend/pkg/retry"
	"github.com/tutor-agent/backend/pkg/utils"
)

// Config bounds the hybrid retriever. Zero values fall back to safe
// defaults at construction.
type Config struct {
	TopK              int
	MinVectorScore    float64
	MinPairSimilarity float64
	DirectAnswerFloor float64
	DedupThreshold    float64
	SourceTimeout     time.Duration
}

// Retriever fans a query out to the three candidate sources in parallel
// and merges their normalized results. A question-pair match at the
// high-precision floor short-circuits into a direct answer.
type Retriever struct {
	topics  TopicClassifier
	vectors VectorSearcher
	kb      KnowledgeStore
	qa      QuestionPairStore
	stats   *StatsStore
	cfg     Config
	retry   retry.Config
}

func NewRetriever(topics TopicClassifier, vectors VectorSearcher, kb KnowledgeStore, qa QuestionPairStore, stats *StatsStore, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.MinPairSimilarity <= 0 {
		cfg.MinPairSimilarity = 0.5
	}
	if cfg.DirectAnswerFloor <= 0 {
		cfg.DirectAnswerFloor = 0.90
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = 0.85
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 5 * time.Second
	}

	return &Retriever{
		topics:  topics,
		vectors: vectors,
		kb:      kb,
		qa:      qa,
		stats:   stats,
		cfg:     cfg,
		retry:   retry.SourceConfig(logger.GetLogger()),
	}
}

type sourceOutcome struct {
	source  SourceType
	results []RawResult
	err     error
}

// Retrieve runs the three-source fan-out for one query. A single failed
// source degrades to a partial result; all three failing is fatal with
// kind RetrievalUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query string) (*Result, error) {
	topic, err := r.topics.ClassifyTopic(ctx, query)
	if err != nil {
		logger.Warn("Topic classification failed, retrieving unfiltered", zap.Error(err))
		topic = ""
	}

	outcomes := make(chan sourceOutcome, 3)
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		results, err := r.callSource(ctx, SourcePassage, func(sctx context.Context) ([]RawResult, error) {
			return r.vectors.Search(sctx, query, r.cfg.TopK, r.cfg.MinVectorScore, topic)
		})
		outcomes <- sourceOutcome{SourcePassage, results, err}
	}()

	go func() {
		defer wg.Done()
		results, err := r.callSource(ctx, SourceStructured, func(sctx context.Context) ([]RawResult, error) {
			return r.kb.Lookup(sctx, topic)
		})
		outcomes <- sourceOutcome{SourceStructured, results, err}
	}()

	go func() {
		defer wg.Done()
		results, err := r.callSource(ctx, SourceQAPair, func(sctx context.Context) ([]RawResult, error) {
			return r.qa.Match(sctx, query, r.cfg.MinPairSimilarity)
		})
		outcomes <- sourceOutcome{SourceQAPair, results, err}
	}()

	wg.Wait()
	close(outcomes)

	bySource := make(map[SourceType][]RawResult, 3)
	var failed []SourceType
	for outcome := range outcomes {
		if outcome.err != nil {
			logger.Warn("Candidate source failed",
				zap.String("source", string(outcome.source)),
				zap.Error(outcome.err),
			)
			failed = append(failed, outcome.source)
			continue
		}
		bySource[outcome.source] = outcome.results
	}

	if len(failed) == 3 {
		return nil, faults.New(faults.KindRetrievalUnavailable, "all candidate sources failed")
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })

	result := &Result{
		Topic:         topic,
		Partial:       len(failed) > 0,
		FailedSources: failed,
	}

	if result.Partial {
		logger.Info("Proceeding with partial retrieval",
			zap.String("kind", string(faults.KindPartialRetrieval)),
			zap.Int("failed_sources", len(failed)),
		)
	}

	// Question-pair short-circuit: a match at or above the floor is the
	// only candidate returned.
	if direct := r.pickDirect(bySource[SourceQAPair]); direct != nil {
		result.Direct = direct
		return result, nil
	}

	result.Candidates = r.merge(bySource)
	return result, nil
}

func (r *Retriever) callSource(ctx context.Context, source SourceType, fn func(context.Context) ([]RawResult, error)) ([]RawResult, error) {
	return retry.DoWithResult(ctx, r.retry, func() ([]RawResult, error) {
		sctx, cancel := context.WithTimeout(ctx, r.cfg.SourceTimeout)
		defer cancel()
		return fn(sctx)
	})
}

func (r *Retriever) pickDirect(matches []RawResult) *Candidate {
	var best *RawResult
	for i := range matches {
		if matches[i].Score < r.cfg.DirectAnswerFloor {
			continue
		}
		if best == nil || matches[i].Score > best.Score {
			best = &matches[i]
		}
	}
	if best == nil {
		return nil
	}

	return &Candidate{
		ID:       best.ID,
		Text:     best.Text,
		Source:   SourceQAPair,
		RawScore: best.Score,
		Score:    best.Score,
		Topic:    best.Topic,
	}
}

func (r *Retriever) merge(bySource map[SourceType][]RawResult) []Candidate {
	var candidates []Candidate
	for _, source := range []SourceType{SourcePassage, SourceStructured, SourceQAPair} {
		for _, raw := range bySource[source] {
			candidates = append(candidates, Candidate{
				ID:       raw.ID,
				Text:     raw.Text,
				Source:   source,
				RawScore: raw.Score,
				Score:    r.stats.Normalize(source, raw.Score),
				Topic:    raw.Topic,
			})
		}
	}

	candidates = dedupe(candidates, r.cfg.DedupThreshold)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return utils.HashText(candidates[i].Text) < utils.HashText(candidates[j].Text)
	})

	if len(candidates) > r.cfg.TopK {
		candidates = candidates[:r.cfg.TopK]
	}

	return candidates
}

// dedupe removes near-duplicate texts, keeping the higher-scored copy.
func dedupe(candidates []Candidate, threshold float64) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	for _, cand := range candidates {
		duplicateOf := -1
		for i := range kept {
			if textSimilarity(cand.Text, kept[i].Text) >= threshold {
				duplicateOf = i
				break
			}
		}
		if duplicateOf == -1 {
			kept = append(kept, cand)
			continue
		}
		if cand.Score > kept[duplicateOf].Score {
			kept[duplicateOf] = cand
		}
	}
	return kept
}

// textSimilarity is the Jaccard overlap of the normalized token sets.
func textSimilarity(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		if len(tokensA) == len(tokensB) {
			return 1
		}
		return 0
	}

	intersection := 0
	for tok := range tokensA {
		if tokensB[tok] {
			intersection++
		}
	}
	union := len(tokensA) + len(tokensB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(tok, ".,;:!?\"'()")] = true
	}
	delete(set, "")
	return set
}

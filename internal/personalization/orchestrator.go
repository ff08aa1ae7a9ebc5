// Package personalization coordinates one learner turn: retrieve, assess,
// score, generate, record.
package personalization

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/llm"
	"github.com/tutor-agent/backend/internal/pedagogy"
	"github.com/tutor-agent/backend/internal/retrieval"
	"github.com/tutor-agent/backend/internal/scoring"
	"github.com/tutor-agent/backend/internal/storage/models"
	"github.com/tutor-agent/backend/pkg/faults"
	"github.com/tutor-agent/backend/pkg/logger"
	"github.com/tutor-agent/backend/pkg/utils"
)

// Retriever is the hybrid retrieval front.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (*retrieval.Result, error)
}

// Generator produces the final tutored answer text.
type Generator interface {
	GenerateAnswer(ctx context.Context, req llm.AnswerRequest) (string, error)
}

// Storage is the slice of the persistence layer the orchestrator drives.
type Storage interface {
	GetOrCreateProfile(learnerID string) (*models.LearnerProfile, error)
	CommitInteraction(profile *models.LearnerProfile, interaction *models.Interaction) error
	ApplyFeedback(profile *models.LearnerProfile, fb *models.FeedbackSignal) error
	GetInteraction(id string) (*models.Interaction, error)
}

// AnswerCache shares verbatim curated answers across learners.
type AnswerCache interface {
	GetDirectAnswer(ctx context.Context, query string) (string, bool, error)
	SetDirectAnswer(ctx context.Context, query, answer string) error
}

// cachedDirect carries the provenance needed to log a cached hit as a
// full interaction.
type cachedDirect struct {
	Text     string  `json:"text"`
	Topic    string  `json:"topic"`
	Source   string  `json:"source"`
	Score    float64 `json:"score"`
	RawScore float64 `json:"raw_score"`
}

type Config struct {
	// SimplifyLoadLimit is the combined-load ceiling for a beginner.
	// Each mastery level above beginner relaxes it by 0.05.
	SimplifyLoadLimit float64
	GenerateTimeout   time.Duration
	// TopicRateAlpha is the smoothing factor for per-topic success rates.
	TopicRateAlpha float64
}

func (c *Config) applyDefaults() {
	if c.SimplifyLoadLimit == 0 {
		c.SimplifyLoadLimit = 0.7
	}
	if c.GenerateTimeout == 0 {
		c.GenerateTimeout = 30 * time.Second
	}
	if c.TopicRateAlpha == 0 {
		c.TopicRateAlpha = 0.2
	}
}

type Orchestrator struct {
	retriever  Retriever
	generator  Generator
	store      Storage
	answers    AnswerCache
	classifier *pedagogy.TaxonomyClassifier
	loads      *pedagogy.LoadAssessor
	scorer     *scoring.Scorer
	weights    *scoring.Store
	zpd        *pedagogy.ZPDTracker
	cfg        Config
}

// Answer is the outcome of one learner turn.
type Answer struct {
	InteractionID string         `json:"interaction_id"`
	Text          string         `json:"text"`
	Topic         string         `json:"topic"`
	Direct        bool           `json:"direct"`
	Degraded      bool           `json:"degraded"`
	Level         pedagogy.Level `json:"level"`
	TaxonomyLevel string         `json:"taxonomy_level"`
	Confidence    float64        `json:"confidence"`
	CognitiveLoad float64        `json:"cognitive_load"`
	Source        string         `json:"source"`
	Score         float64        `json:"score"`
	LatencyMS     int            `json:"latency_ms"`
}

func NewOrchestrator(
	retriever Retriever,
	generator Generator,
	store Storage,
	answers AnswerCache,
	classifier *pedagogy.TaxonomyClassifier,
	loads *pedagogy.LoadAssessor,
	scorer *scoring.Scorer,
	weights *scoring.Store,
	zpd *pedagogy.ZPDTracker,
	cfg Config,
) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		retriever:  retriever,
		generator:  generator,
		store:      store,
		answers:    answers,
		classifier: classifier,
		loads:      loads,
		scorer:     scorer,
		weights:    weights,
		zpd:        zpd,
		cfg:        cfg,
	}
}

// Answer runs the full turn for one query. Retrieval failure is the only
// hard error; generation and profile failures degrade instead.
func (o *Orchestrator) Answer(ctx context.Context, learnerID, query string) (*Answer, error) {
	start := time.Now()

	profile, storeDown := o.loadProfile(learnerID)
	degraded := storeDown

	if answer, ok := o.cachedDirectAnswer(ctx, profile, query, storeDown, start); ok {
		return answer, nil
	}

	res, err := o.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	classification := o.classifier.Classify(query)

	if res.Direct != nil {
		return o.answerDirect(ctx, profile, query, res, classification, storeDown, start)
	}

	if len(res.Candidates) == 0 {
		return nil, faults.New(faults.KindRetrievalUnavailable, "no course content matched the query")
	}

	weights := o.weights.Get()
	signal := scoring.LearnerSignal{
		Level:      profile.Level,
		TopicRates: profile.TopicRates,
	}
	if degraded {
		// No personalization signal, rank on base relevance alone.
		weights = scoring.Weights{Base: 1}
		signal = scoring.LearnerSignal{Level: pedagogy.Beginner}
	}

	scored := o.scorer.Score(res.Candidates, signal, classification, weights)
	top := scored[0]

	simplify := top.Load.Combined > o.simplifyLimit(profile.Level)

	text, genErr := o.generate(ctx, query, top.Candidate.Text, profile.Level, classification.Level, simplify)
	if genErr != nil {
		logger.Warn("Answer generation failed, serving raw content",
			zap.String("learner_id", learnerID),
			zap.Error(faults.Wrap(faults.KindPersonalizationUnavailable, "generation failed", genErr)),
		)
		text = top.Candidate.Text
		degraded = true
	}

	answer := &Answer{
		InteractionID: uuid.New().String(),
		Text:          text,
		Topic:         res.Topic,
		Degraded:      degraded,
		Level:         profile.Level,
		TaxonomyLevel: classification.Level.String(),
		Confidence:    classification.Confidence,
		CognitiveLoad: top.Load.Combined,
		Source:        string(top.Candidate.Source),
		Score:         top.Final,
		LatencyMS:     int(time.Since(start).Milliseconds()),
	}

	o.record(profile, answer, query, &top, degraded, storeDown)

	return answer, nil
}

func (o *Orchestrator) answerDirect(
	ctx context.Context,
	profile *models.LearnerProfile,
	query string,
	res *retrieval.Result,
	classification pedagogy.Classification,
	storeDown bool,
	start time.Time,
) (*Answer, error) {
	direct := res.Direct

	answer := &Answer{
		InteractionID: uuid.New().String(),
		Text:          direct.Text,
		Topic:         res.Topic,
		Direct:        true,
		Degraded:      storeDown,
		Level:         profile.Level,
		TaxonomyLevel: classification.Level.String(),
		Confidence:    classification.Confidence,
		Source:        string(direct.Source),
		Score:         direct.Score,
		LatencyMS:     int(time.Since(start).Milliseconds()),
	}

	interaction := &models.Interaction{
		ID:                 answer.InteractionID,
		LearnerID:          profile.LearnerID,
		Query:              query,
		Topic:              res.Topic,
		CandidateText:      direct.Text,
		CandidateHash:      utils.HashText(direct.Text),
		Source:             string(direct.Source),
		TaxonomyLevel:      classification.Level.String(),
		TaxonomyConfidence: classification.Confidence,
		RawScore:           direct.RawScore,
		FinalScore:         direct.Score,
		DirectAnswer:       true,
		Degraded:           storeDown,
		LatencyMS:          answer.LatencyMS,
		CreatedAt:          time.Now(),
	}

	o.commit(profile, interaction, storeDown)
	o.cacheDirectAnswer(ctx, query, res)

	logger.Info("Direct answer served",
		zap.String("learner_id", profile.LearnerID),
		zap.Float64("similarity", direct.RawScore),
	)

	return answer, nil
}

// cachedDirectAnswer serves a cached curated answer without touching the
// retrieval sources. The hit is still logged so feedback on it works.
func (o *Orchestrator) cachedDirectAnswer(
	ctx context.Context,
	profile *models.LearnerProfile,
	query string,
	storeDown bool,
	start time.Time,
) (*Answer, bool) {
	if o.answers == nil {
		return nil, false
	}

	payload, ok, err := o.answers.GetDirectAnswer(ctx, query)
	if err != nil {
		logger.Warn("Direct answer cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var cached cachedDirect
	if err := json.Unmarshal([]byte(payload), &cached); err != nil {
		logger.Warn("Discarding malformed cached answer", zap.Error(err))
		return nil, false
	}

	classification := o.classifier.Classify(query)

	answer := &Answer{
		InteractionID: uuid.New().String(),
		Text:          cached.Text,
		Topic:         cached.Topic,
		Direct:        true,
		Degraded:      storeDown,
		Level:         profile.Level,
		TaxonomyLevel: classification.Level.String(),
		Confidence:    classification.Confidence,
		Source:        cached.Source,
		Score:         cached.Score,
		LatencyMS:     int(time.Since(start).Milliseconds()),
	}

	interaction := &models.Interaction{
		ID:                 answer.InteractionID,
		LearnerID:          profile.LearnerID,
		Query:              query,
		Topic:              cached.Topic,
		CandidateText:      cached.Text,
		CandidateHash:      utils.HashText(cached.Text),
		Source:             cached.Source,
		TaxonomyLevel:      classification.Level.String(),
		TaxonomyConfidence: classification.Confidence,
		RawScore:           cached.RawScore,
		FinalScore:         cached.Score,
		DirectAnswer:       true,
		Degraded:           storeDown,
		LatencyMS:          answer.LatencyMS,
		CreatedAt:          time.Now(),
	}

	o.commit(profile, interaction, storeDown)

	logger.Info("Direct answer served from cache",
		zap.String("learner_id", profile.LearnerID),
	)

	return answer, true
}

func (o *Orchestrator) cacheDirectAnswer(ctx context.Context, query string, res *retrieval.Result) {
	if o.answers == nil {
		return
	}

	payload, err := json.Marshal(cachedDirect{
		Text:     res.Direct.Text,
		Topic:    res.Topic,
		Source:   string(res.Direct.Source),
		Score:    res.Direct.Score,
		RawScore: res.Direct.RawScore,
	})
	if err != nil {
		return
	}

	if err := o.answers.SetDirectAnswer(ctx, query, string(payload)); err != nil {
		logger.Warn("Failed to cache direct answer", zap.Error(err))
	}
}

func (o *Orchestrator) loadProfile(learnerID string) (*models.LearnerProfile, bool) {
	profile, err := o.store.GetOrCreateProfile(learnerID)
	if err != nil {
		logger.Warn("Profile unavailable, answering without personalization",
			zap.String("learner_id", learnerID),
			zap.Error(faults.Wrap(faults.KindPersonalizationUnavailable, "profile load failed", err)),
		)
		now := time.Now()
		return &models.LearnerProfile{
			LearnerID:  learnerID,
			Level:      pedagogy.Beginner,
			TopicRates: map[string]float64{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}, true
	}
	return profile, false
}

func (o *Orchestrator) simplifyLimit(level pedagogy.Level) float64 {
	return o.cfg.SimplifyLoadLimit + 0.05*float64(level)
}

func (o *Orchestrator) generate(
	ctx context.Context,
	query, content string,
	level pedagogy.Level,
	taxonomy pedagogy.TaxonomyLevel,
	simplify bool,
) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()

	return o.generator.GenerateAnswer(genCtx, llm.AnswerRequest{
		Query:         query,
		Context:       content,
		Level:         level,
		TaxonomyLevel: taxonomy,
		Simplify:      simplify,
	})
}

func (o *Orchestrator) record(
	profile *models.LearnerProfile,
	answer *Answer,
	query string,
	top *scoring.ScoredCandidate,
	degraded bool,
	storeDown bool,
) {
	interaction := &models.Interaction{
		ID:                 answer.InteractionID,
		LearnerID:          profile.LearnerID,
		Query:              query,
		Topic:              answer.Topic,
		CandidateText:      top.Candidate.Text,
		CandidateHash:      utils.HashText(top.Candidate.Text),
		Source:             string(top.Candidate.Source),
		TaxonomyLevel:      answer.TaxonomyLevel,
		TaxonomyConfidence: answer.Confidence,
		CognitiveLoad:      top.Load.Combined,
		RawScore:           top.Candidate.RawScore,
		BaseScore:          top.Candidate.Score,
		PersonalScore:      top.Personal,
		GlobalScore:        top.Global,
		ContextScore:       top.Context,
		FinalScore:         top.Final,
		Degraded:           degraded,
		LatencyMS:          answer.LatencyMS,
		CreatedAt:          time.Now(),
	}

	o.commit(profile, interaction, storeDown)
}

// commit skips the write only when the profile store failed this turn.
// A generation-degraded answer still gets logged so feedback on it lands.
func (o *Orchestrator) commit(profile *models.LearnerProfile, interaction *models.Interaction, storeDown bool) {
	if storeDown {
		return
	}

	profile.InteractionCount++
	profile.UpdatedAt = time.Now()

	if err := o.store.CommitInteraction(profile, interaction); err != nil {
		logger.Error("Failed to record interaction",
			zap.String("interaction_id", interaction.ID),
			zap.Error(err),
		)
	}
}

// RecordFeedback applies a feedback signal: the reaction becomes an
// outcome in the learner's history, the mastery level is re-evaluated,
// and the signal is stored for the nightly tuner.
func (o *Orchestrator) RecordFeedback(ctx context.Context, fb *models.FeedbackSignal) error {
	if !fb.Reaction.Valid() {
		return fmt.Errorf("invalid reaction: %s", fb.Reaction)
	}

	interaction, err := o.store.GetInteraction(fb.InteractionID)
	if err != nil {
		return err
	}
	if interaction == nil {
		return fmt.Errorf("interaction not found: %s", fb.InteractionID)
	}

	profile, err := o.store.GetOrCreateProfile(interaction.LearnerID)
	if err != nil {
		return faults.Wrap(faults.KindPersonalizationUnavailable, "profile load failed", err)
	}

	outcome := pedagogy.Outcome{
		Success: fb.Reaction.Positive(),
		// Scale combined load onto the level axis so difficulty and
		// mastery compare in the same units.
		Difficulty: interaction.CognitiveLoad * float64(pedagogy.Expert),
	}

	profile.RecentOutcomes = append(profile.RecentOutcomes, outcome)
	if len(profile.RecentOutcomes) > o.zpd.Window() {
		profile.RecentOutcomes = profile.RecentOutcomes[len(profile.RecentOutcomes)-o.zpd.Window():]
	}

	previousLevel := profile.Level
	profile.Level = o.zpd.Evaluate(profile.Level, profile.RecentOutcomes)
	profile.SuccessRate = o.zpd.SuccessRate(profile.RecentOutcomes)
	profile.AvgDifficulty = avgDifficulty(profile.RecentOutcomes)
	profile.UpdatedAt = time.Now()

	if interaction.Topic != "" {
		o.updateTopicRate(profile, interaction.Topic, outcome.Success)
	}

	if err := o.store.ApplyFeedback(profile, fb); err != nil {
		return err
	}

	if profile.Level != previousLevel {
		logger.Info("Mastery level changed",
			zap.String("learner_id", profile.LearnerID),
			zap.String("from", previousLevel.String()),
			zap.String("to", profile.Level.String()),
		)
	}

	return nil
}

func (o *Orchestrator) updateTopicRate(profile *models.LearnerProfile, topic string, success bool) {
	if profile.TopicRates == nil {
		profile.TopicRates = map[string]float64{}
	}

	observed := 0.0
	if success {
		observed = 1.0
	}

	prev, ok := profile.TopicRates[topic]
	if !ok {
		profile.TopicRates[topic] = observed
		return
	}

	alpha := o.cfg.TopicRateAlpha
	profile.TopicRates[topic] = (1-alpha)*prev + alpha*observed
}

func avgDifficulty(outcomes []pedagogy.Outcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	var sum float64
	for _, out := range outcomes {
		sum += out.Difficulty
	}
	return sum / float64(len(outcomes))
}

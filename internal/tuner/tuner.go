// Package tuner runs the scheduled feedback cycle that nudges the scoring
// weights toward the mixture positive feedback favored.
package tuner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/retrieval"
	"github.com/tutor-agent/backend/internal/scoring"
	"github.com/tutor-agent/backend/internal/storage/models"
	"github.com/tutor-agent/backend/internal/storage/sqlite"
	"github.com/tutor-agent/backend/pkg/faults"
	"github.com/tutor-agent/backend/pkg/logger"
)

// Storage is the slice of the persistence layer the tuner drives.
type Storage interface {
	InteractionsWithFeedbackSince(since time.Time) ([]sqlite.InteractionFeedback, error)
	LastTunerRun() (*models.TunerRun, error)
	RecordTunerRun(run *models.TunerRun) error
	SaveWeights(w *models.WeightsRecord) error
	SaveSourceStat(stat *models.SourceStatRecord) error
}

type Config struct {
	Interval     time.Duration
	LearningRate float64
}

type Tuner struct {
	db      Storage
	weights *scoring.Store
	stats   *retrieval.StatsStore
	cfg     Config
}

func New(db Storage, weights *scoring.Store, stats *retrieval.StatsStore, cfg Config) *Tuner {
	if cfg.Interval == 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.05
	}
	return &Tuner{
		db:      db,
		weights: weights,
		stats:   stats,
		cfg:     cfg,
	}
}

// Start runs the tuning loop until the context is cancelled. One cycle
// runs immediately so a restart does not wait a full interval.
func (t *Tuner) Start(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	if _, err := t.Run(ctx); err != nil {
		logger.Error("Tuner cycle failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Tuner stopped")
			return
		case <-ticker.C:
			if _, err := t.Run(ctx); err != nil {
				logger.Error("Tuner cycle failed", zap.Error(err))
			}
		}
	}
}

// Run executes one tuning cycle. The window starts at the previous run's
// watermark, so re-running immediately sees an empty window and changes
// nothing.
func (t *Tuner) Run(ctx context.Context) (*models.TunerRun, error) {
	start := time.Now()

	var windowStart time.Time
	last, err := t.db.LastTunerRun()
	if err != nil {
		return nil, err
	}
	if last != nil {
		windowStart = last.RanAt
	}

	window, err := t.db.InteractionsWithFeedbackSince(windowStart)
	if err != nil {
		return nil, err
	}

	run := &models.TunerRun{
		RanAt:        start,
		WindowStart:  windowStart,
		Interactions: len(window),
	}

	if len(window) == 0 {
		run.Note = "no feedback in window"
		if err := t.db.RecordTunerRun(run); err != nil {
			return nil, err
		}
		logger.Info("Tuner cycle skipped, empty window")
		return run, nil
	}

	if err := t.adjustWeights(window, run); err != nil {
		return nil, err
	}

	t.refreshSourceStats(window)

	report := BuildReport(window, windowStart, start, t.weights.Get())
	run.Report = report.Format()

	if err := t.db.RecordTunerRun(run); err != nil {
		return nil, err
	}

	logger.Info("Tuner cycle completed",
		zap.String("report", run.Report),
		zap.Int("interactions", len(window)),
		zap.Bool("flagged", run.Flagged),
		zap.Duration("took", time.Since(start)),
	)

	return run, nil
}

// adjustWeights nudges each weight toward the sub-scores that separated
// positively from negatively received answers. Direct answers skip the
// scorer, so they carry no sub-scores and are excluded here.
func (t *Tuner) adjustWeights(window []sqlite.InteractionFeedback, run *models.TunerRun) error {
	var posSum, negSum [4]float64
	var posCount, negCount int

	for _, pair := range window {
		if pair.Interaction.DirectAnswer {
			continue
		}

		components := [4]float64{
			pair.Interaction.BaseScore,
			pair.Interaction.PersonalScore,
			pair.Interaction.GlobalScore,
			pair.Interaction.ContextScore,
		}

		if pair.Feedback.Reaction.Positive() {
			for i, v := range components {
				posSum[i] += v
			}
			posCount++
		} else {
			for i, v := range components {
				negSum[i] += v
			}
			negCount++
		}
	}

	if posCount == 0 && negCount == 0 {
		run.Note = "only direct answers in window"
		return nil
	}

	var delta [4]float64
	for i := 0; i < 4; i++ {
		var posAvg, negAvg float64
		if posCount > 0 {
			posAvg = posSum[i] / float64(posCount)
		}
		if negCount > 0 {
			negAvg = negSum[i] / float64(negCount)
		}
		delta[i] = t.cfg.LearningRate * (posAvg - negAvg)
	}

	current := t.weights.Get()
	next := scoring.Weights{
		Base:     clampNonNegative(current.Base + delta[0]),
		Personal: clampNonNegative(current.Personal + delta[1]),
		Global:   clampNonNegative(current.Global + delta[2]),
		Context:  clampNonNegative(current.Context + delta[3]),
	}
	next = next.Normalize()

	if err := t.weights.Set(next); err != nil {
		// Keep the previous weights and surface the rejection in the run
		// record instead of failing the cycle.
		run.Flagged = true
		run.Note = fmt.Sprintf("weights rejected: %v", err)
		logger.Warn("Tuned weights rejected, keeping previous",
			zap.Error(err),
			zap.String("kind", string(faults.KindOf(err))),
		)
		return nil
	}

	if err := t.db.SaveWeights(&models.WeightsRecord{
		Base:     next.Base,
		Personal: next.Personal,
		Global:   next.Global,
		Context:  next.Context,
	}); err != nil {
		return err
	}

	logger.Info("Scoring weights tuned",
		zap.Float64("base", next.Base),
		zap.Float64("personal", next.Personal),
		zap.Float64("global", next.Global),
		zap.Float64("context", next.Context),
	)

	return nil
}

// refreshSourceStats recomputes min/max raw-score bounds per source from
// the window and publishes them to the retriever.
func (t *Tuner) refreshSourceStats(window []sqlite.InteractionFeedback) {
	type bounds struct {
		min, max float64
		seen     bool
	}
	observed := map[retrieval.SourceType]*bounds{}

	for _, pair := range window {
		source := retrieval.SourceType(pair.Interaction.Source)
		b, ok := observed[source]
		if !ok {
			b = &bounds{}
			observed[source] = b
		}
		raw := pair.Interaction.RawScore
		if !b.seen || raw < b.min {
			b.min = raw
		}
		if !b.seen || raw > b.max {
			b.max = raw
		}
		b.seen = true
	}

	for source, b := range observed {
		if b.max <= b.min {
			continue
		}
		t.stats.Set(source, retrieval.SourceStats{Min: b.min, Max: b.max})
		if err := t.db.SaveSourceStat(&models.SourceStatRecord{
			Source: string(source),
			Min:    b.min,
			Max:    b.max,
		}); err != nil {
			logger.Warn("Failed to persist source stat",
				zap.String("source", string(source)),
				zap.Error(err),
			)
		}
	}
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

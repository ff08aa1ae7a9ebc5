package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnswerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutor_answer_duration_seconds",
			Help:    "Answer turn duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"path"},
	)

	AnswerTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_answer_total",
			Help: "Total number of answer turns",
		},
		[]string{"status"},
	)

	DirectAnswers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tutor_direct_answers_total",
			Help: "Total answers served verbatim from QA pairs",
		},
	)

	DegradedAnswers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tutor_degraded_answers_total",
			Help: "Total answers served without personalization",
		},
	)

	RetrievalResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutor_retrieval_results_count",
			Help:    "Number of raw results per source per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"source"},
	)

	RetrievalFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_retrieval_failures_total",
			Help: "Total per-source retrieval failures",
		},
		[]string{"source"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CognitiveLoadScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tutor_cognitive_load_score",
			Help:    "Combined cognitive load of served content",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	LevelTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_level_transitions_total",
			Help: "Total mastery level transitions",
		},
		[]string{"direction"},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_feedback_total",
			Help: "Total feedback signals by reaction",
		},
		[]string{"reaction"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ContentIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tutor_content_ingested_total",
			Help: "Total course content items ingested",
		},
	)

	TunerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_tuner_runs_total",
			Help: "Total feedback tuner cycles",
		},
		[]string{"outcome"},
	)
)

func Init() {
	prometheus.MustRegister(AnswerDuration)
	prometheus.MustRegister(AnswerTotal)
	prometheus.MustRegister(DirectAnswers)
	prometheus.MustRegister(DegradedAnswers)
	prometheus.MustRegister(RetrievalResults)
	prometheus.MustRegister(RetrievalFailures)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CognitiveLoadScore)
	prometheus.MustRegister(LevelTransitions)
	prometheus.MustRegister(FeedbackTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ContentIngested)
	prometheus.MustRegister(TunerRuns)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/api/handlers"
	"github.com/tutor-agent/backend/internal/cache/redis"
	"github.com/tutor-agent/backend/internal/ingestion"
	"github.com/tutor-agent/backend/internal/kb/neo4j"
	"github.com/tutor-agent/backend/internal/llm"
	"github.com/tutor-agent/backend/internal/metrics"
	"github.com/tutor-agent/backend/internal/middleware/ratelimit"
	"github.com/tutor-agent/backend/internal/middleware/security"
	"github.com/tutor-agent/backend/internal/middleware/validation"
	"github.com/tutor-agent/backend/internal/pedagogy"
	"github.com/tutor-agent/backend/internal/personalization"
	"github.com/tutor-agent/backend/internal/qapairs"
	"github.com/tutor-agent/backend/internal/retrieval"
	"github.com/tutor-agent/backend/internal/scoring"
	"github.com/tutor-agent/backend/internal/storage/sqlite"
	"github.com/tutor-agent/backend/internal/tuner"
	"github.com/tutor-agent/backend/internal/vector/milvus"
	"github.com/tutor-agent/backend/pkg/config"
	appLogger "github.com/tutor-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Tutor Agent API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	kbClient, err := neo4j.NewClient(
		cfg.Neo4j.URI,
		cfg.Neo4j.Username,
		cfg.Neo4j.Password,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
	}
	defer kbClient.Close(context.Background())

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.CreateCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to create collection", zap.Error(err))
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	// The cache is optional; the retriever runs without it.
	var cacheClient *redis.Client
	cacheClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, running without caches", zap.Error(err))
		cacheClient = nil
	} else {
		defer cacheClient.Close()
	}

	pairStore := qapairs.NewStore(sqliteClient, llmClient)
	if err := pairStore.Load(context.Background()); err != nil {
		appLogger.Warn("Failed to load QA pairs", zap.Error(err))
	}

	var embeddingCache milvus.EmbeddingCache
	if cacheClient != nil {
		embeddingCache = cacheClient
	}
	passageSource := milvus.NewPassageSource(milvusClient, llmClient, embeddingCache)

	statsStore := retrieval.NewStatsStore()
	loadSourceStats(sqliteClient, statsStore)

	retriever := retrieval.NewRetriever(
		llmClient,
		passageSource,
		kbClient,
		pairStore,
		statsStore,
		retrieval.Config{
			TopK:              cfg.Retrieval.TopK,
			MinVectorScore:    cfg.Retrieval.MinVectorScore,
			MinPairSimilarity: cfg.Retrieval.MinPairSimilarity,
			DirectAnswerFloor: cfg.Retrieval.DirectAnswerFloor,
			DedupThreshold:    cfg.Retrieval.DedupThreshold,
			SourceTimeout:     time.Duration(cfg.Retrieval.SourceTimeoutSec) * time.Second,
		},
	)

	classifier := pedagogy.NewTaxonomyClassifier(cfg.Pedagogy.TaxonomyKeywords, cfg.Pedagogy.MinConfidence)
	loads := pedagogy.NewLoadAssessor(cfg.Pedagogy.TechnicalTerms, cfg.Pedagogy.LongSentenceWords)
	zpd := pedagogy.NewZPDTracker(cfg.Pedagogy.HistoryWindow, cfg.Pedagogy.AdvanceThreshold, cfg.Pedagogy.RegressThreshold)

	weightsStore := loadWeights(cfg, sqliteClient)
	scorer := scoring.NewScorer(sqliteClient, loads)

	var directCache personalization.AnswerCache
	if cacheClient != nil {
		directCache = cacheClient
	}

	orchestrator := personalization.NewOrchestrator(
		retriever,
		llmClient,
		sqliteClient,
		directCache,
		classifier,
		loads,
		scorer,
		weightsStore,
		zpd,
		personalization.Config{
			SimplifyLoadLimit: cfg.Pedagogy.SimplifyLoadLimit,
			GenerateTimeout:   time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		},
	)

	var answerCache ingestion.AnswerCache
	if cacheClient != nil {
		answerCache = cacheClient
	}
	processor := ingestion.NewProcessor(milvusClient, kbClient, pairStore, llmClient, answerCache)

	tunerCtx, stopTuner := context.WithCancel(context.Background())
	defer stopTuner()
	feedbackTuner := tuner.New(sqliteClient, weightsStore, statsStore, tuner.Config{
		Interval:     time.Duration(cfg.Tuner.IntervalHours) * time.Hour,
		LearningRate: cfg.Tuner.LearningRate,
	})
	go feedbackTuner.Start(tunerCtx)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Learner-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{Logger: appLogger.GetLogger()})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	answerHandler := handlers.NewAnswerHandler(orchestrator)
	feedbackHandler := handlers.NewFeedbackHandler(orchestrator)
	learnerHandler := handlers.NewLearnerHandler(sqliteClient)
	contentHandler := handlers.NewContentHandler(processor, kbClient)
	wsHandler := handlers.NewWebSocketHandler(orchestrator)

	api := app.Group("/api/v1")

	api.Post("/answer", answerHandler.HandleAnswer)
	api.Post("/feedback", feedbackHandler.HandleFeedback)

	api.Get("/learners/:id/profile", learnerHandler.GetProfile)
	api.Get("/learners/:id/history", learnerHandler.GetHistory)
	api.Post("/learners/:id/archive", learnerHandler.Archive)

	api.Post("/content", contentHandler.IngestContent)
	api.Post("/content/qa-pairs", contentHandler.SeedQAPairs)
	api.Post("/content/concepts", contentHandler.SeedConcepts)
	api.Get("/topics", contentHandler.ListTopics)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/session", websocket.New(wsHandler.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	stopTuner()
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// loadWeights restores the last tuned weights, falling back to the
// configured mixture when none are stored or the stored record is invalid.
func loadWeights(cfg *config.Config, db *sqlite.Client) *scoring.Store {
	configured := scoring.Weights{
		Base:     cfg.Scoring.BaseWeight,
		Personal: cfg.Scoring.PersonalWeight,
		Global:   cfg.Scoring.GlobalWeight,
		Context:  cfg.Scoring.ContextWeight,
	}

	store, err := scoring.NewStore(configured)
	if err != nil {
		appLogger.Warn("Configured weights invalid, using defaults", zap.Error(err))
		store, _ = scoring.NewStore(scoring.DefaultWeights())
	}

	record, err := db.LoadLatestWeights()
	if err != nil {
		appLogger.Warn("Failed to load stored weights", zap.Error(err))
		return store
	}
	if record == nil {
		return store
	}

	stored := scoring.Weights{
		Base:     record.Base,
		Personal: record.Personal,
		Global:   record.Global,
		Context:  record.Context,
	}
	if err := store.Set(stored); err != nil {
		appLogger.Warn("Stored weights invalid, keeping configured", zap.Error(err))
	}

	return store
}

func loadSourceStats(db *sqlite.Client, stats *retrieval.StatsStore) {
	records, err := db.LoadSourceStats()
	if err != nil {
		appLogger.Warn("Failed to load source stats", zap.Error(err))
		return
	}
	for _, r := range records {
		stats.Set(retrieval.SourceType(r.Source), retrieval.SourceStats{Min: r.Min, Max: r.Max})
	}
}

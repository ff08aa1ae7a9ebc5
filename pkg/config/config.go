package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Milvus    MilvusConfig
	Neo4j     Neo4jConfig
	LLM       LLMConfig
	Retrieval RetrievalConfig
	Pedagogy  PedagogyConfig
	Scoring   ScoringConfig
	Tuner     TunerConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

// RetrievalConfig drives the hybrid retriever: the fan-out bounds, the
// direct-answer floor and the text-similarity dedup threshold.
type RetrievalConfig struct {
	TopK              int
	MinVectorScore    float64
	MinPairSimilarity float64
	DirectAnswerFloor float64
	DedupThreshold    float64
	SourceTimeoutSec  int
}

// PedagogyConfig externalizes the keyword lists and load-formula constants
// so the core algorithms stay testable against synthetic configurations.
type PedagogyConfig struct {
	HistoryWindow     int
	AdvanceThreshold  float64
	RegressThreshold  float64
	MinConfidence     float64
	SimplifyLoadLimit float64
	TaxonomyKeywords  map[string][]string
	TechnicalTerms    []string
	LongSentenceWords int
}

type ScoringConfig struct {
	BaseWeight     float64
	PersonalWeight float64
	GlobalWeight   float64
	ContextWeight  float64
}

type TunerConfig struct {
	IntervalHours int
	LearningRate  float64
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/tutor-agent")

	viper.SetEnvPrefix("TUTOR_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/tutor.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "course_passages")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 30)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-large")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("retrieval.topK", 10)
	viper.SetDefault("retrieval.minVectorScore", 0.5)
	viper.SetDefault("retrieval.minPairSimilarity", 0.5)
	viper.SetDefault("retrieval.directAnswerFloor", 0.90)
	viper.SetDefault("retrieval.dedupThreshold", 0.85)
	viper.SetDefault("retrieval.sourceTimeoutSec", 5)

	viper.SetDefault("pedagogy.historyWindow", 20)
	viper.SetDefault("pedagogy.advanceThreshold", 0.80)
	viper.SetDefault("pedagogy.regressThreshold", 0.40)
	viper.SetDefault("pedagogy.minConfidence", 0.1)
	viper.SetDefault("pedagogy.simplifyLoadLimit", 0.7)
	viper.SetDefault("pedagogy.longSentenceWords", 20)
	viper.SetDefault("pedagogy.taxonomyKeywords", map[string][]string{
		"recall":        {"what is", "define", "list", "name", "when did", "nedir", "tanımla", "listele", "kimdir"},
		"comprehension": {"explain", "describe", "summarize", "interpret", "açıkla", "özetle", "yorumla"},
		"application":   {"apply", "solve", "use", "calculate", "demonstrate", "uygula", "çöz", "hesapla", "göster"},
		"analysis":      {"analyze", "compare", "contrast", "differentiate", "why does", "analiz", "karşılaştır", "neden"},
		"evaluation":    {"evaluate", "judge", "critique", "justify", "assess", "değerlendir", "eleştir", "savun"},
		"synthesis":     {"design", "create", "propose", "formulate", "construct", "tasarla", "oluştur", "öner", "kurgula"},
	})
	viper.SetDefault("pedagogy.technicalTerms", []string{})

	viper.SetDefault("scoring.baseWeight", 0.4)
	viper.SetDefault("scoring.personalWeight", 0.25)
	viper.SetDefault("scoring.globalWeight", 0.15)
	viper.SetDefault("scoring.contextWeight", 0.2)

	viper.SetDefault("tuner.intervalHours", 24)
	viper.SetDefault("tuner.learningRate", 0.05)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

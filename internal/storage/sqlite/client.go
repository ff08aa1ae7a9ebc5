package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/tutor-agent/backend/internal/pedagogy"
	"github.com/tutor-agent/backend/internal/storage/models"
	"github.com/tutor-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS learner_profiles (
		learner_id TEXT PRIMARY KEY,
		level INTEGER NOT NULL DEFAULT 0,
		recent_outcomes TEXT NOT NULL DEFAULT '[]',
		success_rate REAL NOT NULL DEFAULT 0,
		avg_difficulty REAL NOT NULL DEFAULT 0,
		topic_rates TEXT NOT NULL DEFAULT '{}',
		interaction_count INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		learner_id TEXT NOT NULL,
		query_text TEXT NOT NULL,
		topic TEXT,
		candidate_text TEXT NOT NULL,
		candidate_hash TEXT NOT NULL,
		source TEXT NOT NULL,
		taxonomy_level TEXT,
		taxonomy_confidence REAL,
		cognitive_load REAL,
		raw_score REAL,
		base_score REAL,
		personal_score REAL,
		global_score REAL,
		context_score REAL,
		final_score REAL,
		direct_answer INTEGER NOT NULL DEFAULT 0,
		degraded INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (learner_id) REFERENCES learner_profiles(learner_id)
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_learner ON interactions(learner_id);
	CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_interactions_hash ON interactions(candidate_hash);

	CREATE TABLE IF NOT EXISTS feedback (
		interaction_id TEXT PRIMARY KEY,
		reaction TEXT NOT NULL,
		understanding REAL,
		satisfaction REAL,
		corrected_text TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (interaction_id) REFERENCES interactions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS scoring_weights (
		version INTEGER PRIMARY KEY AUTOINCREMENT,
		base_weight REAL NOT NULL,
		personal_weight REAL NOT NULL,
		global_weight REAL NOT NULL,
		context_weight REAL NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS source_stats (
		source TEXT PRIMARY KEY,
		min_score REAL NOT NULL,
		max_score REAL NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tuner_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ran_at INTEGER NOT NULL,
		window_start INTEGER NOT NULL,
		interactions INTEGER NOT NULL,
		flagged INTEGER NOT NULL DEFAULT 0,
		note TEXT,
		report TEXT
	);

	CREATE TABLE IF NOT EXISTS qa_pairs (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		topic TEXT,
		embedding TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_qa_topic ON qa_pairs(topic);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// GetProfile loads a learner profile; missing learners return nil.
func (c *Client) GetProfile(learnerID string) (*models.LearnerProfile, error) {
	query := `
		SELECT learner_id, level, recent_outcomes, success_rate, avg_difficulty,
		       topic_rates, interaction_count, archived, created_at, updated_at
		FROM learner_profiles WHERE learner_id = ?
	`

	var p models.LearnerProfile
	var outcomesJSON, ratesJSON string
	var archived int
	var createdAt, updatedAt int64
	var level int

	err := c.db.QueryRow(query, learnerID).Scan(
		&p.LearnerID, &level, &outcomesJSON, &p.SuccessRate, &p.AvgDifficulty,
		&ratesJSON, &p.InteractionCount, &archived, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	p.Level = pedagogy.Level(level).Clamp()
	p.Archived = archived == 1
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)

	if err := json.Unmarshal([]byte(outcomesJSON), &p.RecentOutcomes); err != nil {
		return nil, fmt.Errorf("failed to decode outcome history: %w", err)
	}
	if err := json.Unmarshal([]byte(ratesJSON), &p.TopicRates); err != nil {
		return nil, fmt.Errorf("failed to decode topic rates: %w", err)
	}

	return &p, nil
}

// GetOrCreateProfile returns the existing profile or creates a fresh
// beginner profile on the learner's first interaction.
func (c *Client) GetOrCreateProfile(learnerID string) (*models.LearnerProfile, error) {
	profile, err := c.GetProfile(learnerID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}

	now := time.Now()
	profile = &models.LearnerProfile{
		LearnerID:  learnerID,
		Level:      pedagogy.Beginner,
		TopicRates: make(map[string]float64),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := c.upsertProfile(c.db, profile); err != nil {
		return nil, err
	}

	logger.Info("Learner profile created", zap.String("learner_id", learnerID))
	return profile, nil
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (c *Client) upsertProfile(ex execer, p *models.LearnerProfile) error {
	outcomesJSON, err := json.Marshal(p.RecentOutcomes)
	if err != nil {
		return fmt.Errorf("failed to encode outcome history: %w", err)
	}
	if p.RecentOutcomes == nil {
		outcomesJSON = []byte("[]")
	}
	ratesJSON, err := json.Marshal(p.TopicRates)
	if err != nil {
		return fmt.Errorf("failed to encode topic rates: %w", err)
	}

	archived := 0
	if p.Archived {
		archived = 1
	}

	query := `
		INSERT INTO learner_profiles (learner_id, level, recent_outcomes, success_rate,
			avg_difficulty, topic_rates, interaction_count, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(learner_id) DO UPDATE SET
			level = excluded.level,
			recent_outcomes = excluded.recent_outcomes,
			success_rate = excluded.success_rate,
			avg_difficulty = excluded.avg_difficulty,
			topic_rates = excluded.topic_rates,
			interaction_count = excluded.interaction_count,
			archived = excluded.archived,
			updated_at = excluded.updated_at
	`

	_, err = ex.Exec(query,
		p.LearnerID, int(p.Level), string(outcomesJSON), p.SuccessRate,
		p.AvgDifficulty, string(ratesJSON), p.InteractionCount, archived,
		p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// CommitInteraction applies the profile mutation and the interaction
// append in one transaction, so a profile update never lands without its
// audit record.
func (c *Client) CommitInteraction(profile *models.LearnerProfile, interaction *models.Interaction) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := c.upsertProfile(tx, profile); err != nil {
		return err
	}

	directAnswer, degraded := 0, 0
	if interaction.DirectAnswer {
		directAnswer = 1
	}
	if interaction.Degraded {
		degraded = 1
	}

	query := `
		INSERT INTO interactions (id, learner_id, query_text, topic, candidate_text,
			candidate_hash, source, taxonomy_level, taxonomy_confidence, cognitive_load,
			raw_score, base_score, personal_score, global_score, context_score, final_score,
			direct_answer, degraded, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.Exec(query,
		interaction.ID, interaction.LearnerID, interaction.Query, interaction.Topic,
		interaction.CandidateText, interaction.CandidateHash, interaction.Source,
		interaction.TaxonomyLevel, interaction.TaxonomyConfidence, interaction.CognitiveLoad,
		interaction.RawScore, interaction.BaseScore, interaction.PersonalScore,
		interaction.GlobalScore, interaction.ContextScore, interaction.FinalScore,
		directAnswer, degraded, interaction.LatencyMS, interaction.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit interaction: %w", err)
	}

	logger.Info("Interaction recorded",
		zap.String("interaction_id", interaction.ID),
		zap.String("learner_id", interaction.LearnerID),
		zap.String("source", interaction.Source),
		zap.Bool("direct", interaction.DirectAnswer),
	)

	return nil
}

// ApplyFeedback stores the feedback signal and the resulting profile
// mutation together. A second signal on the same interaction updates the
// existing record rather than duplicating it.
func (c *Client) ApplyFeedback(profile *models.LearnerProfile, fb *models.FeedbackSignal) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := c.upsertProfile(tx, profile); err != nil {
		return err
	}

	query := `
		INSERT INTO feedback (interaction_id, reaction, understanding, satisfaction,
			corrected_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(interaction_id) DO UPDATE SET
			reaction = excluded.reaction,
			understanding = excluded.understanding,
			satisfaction = excluded.satisfaction,
			corrected_text = excluded.corrected_text,
			updated_at = excluded.updated_at
	`

	now := time.Now().Unix()
	_, err = tx.Exec(query,
		fb.InteractionID, string(fb.Reaction), fb.Understanding, fb.Satisfaction,
		fb.CorrectedText, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit feedback: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("interaction_id", fb.InteractionID),
		zap.String("reaction", string(fb.Reaction)),
	)

	return nil
}

func (c *Client) GetInteraction(id string) (*models.Interaction, error) {
	query := `
		SELECT id, learner_id, query_text, topic, candidate_text, candidate_hash,
		       source, taxonomy_level, taxonomy_confidence, cognitive_load, raw_score,
		       final_score, direct_answer, degraded, created_at
		FROM interactions WHERE id = ?
	`

	var i models.Interaction
	var direct, degraded int
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(
		&i.ID, &i.LearnerID, &i.Query, &i.Topic, &i.CandidateText, &i.CandidateHash,
		&i.Source, &i.TaxonomyLevel, &i.TaxonomyConfidence, &i.CognitiveLoad,
		&i.RawScore, &i.FinalScore, &direct, &degraded, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}

	i.DirectAnswer = direct == 1
	i.Degraded = degraded == 1
	i.CreatedAt = time.Unix(createdAt, 0)
	return &i, nil
}

func (c *Client) GetInteractionHistory(learnerID string, limit int) ([]models.Interaction, error) {
	query := `
		SELECT id, query_text, topic, candidate_text, source, taxonomy_level,
		       final_score, direct_answer, degraded, created_at
		FROM interactions
		WHERE learner_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, learnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction history: %w", err)
	}
	defer rows.Close()

	var records []models.Interaction
	for rows.Next() {
		var i models.Interaction
		var direct, degraded int
		var createdAt int64

		err := rows.Scan(&i.ID, &i.Query, &i.Topic, &i.CandidateText, &i.Source,
			&i.TaxonomyLevel, &i.FinalScore, &direct, &degraded, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		i.LearnerID = learnerID
		i.DirectAnswer = direct == 1
		i.Degraded = degraded == 1
		i.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, i)
	}

	return records, rows.Err()
}

// InteractionFeedback pairs an interaction with its feedback signal for
// the tuner window.
type InteractionFeedback struct {
	Interaction models.Interaction
	Feedback    models.FeedbackSignal
}

// InteractionsWithFeedbackSince returns every pair whose feedback arrived
// after the watermark, oldest first. The window keys on feedback time, not
// interaction time, so late feedback on an old answer still enters the
// next cycle.
func (c *Client) InteractionsWithFeedbackSince(since time.Time) ([]InteractionFeedback, error) {
	query := `
		SELECT i.id, i.learner_id, i.topic, i.candidate_hash, i.source, i.raw_score,
		       i.base_score, i.personal_score, i.global_score, i.context_score,
		       i.final_score, i.direct_answer, i.degraded, i.created_at,
		       f.reaction, f.understanding, f.satisfaction
		FROM interactions i
		JOIN feedback f ON f.interaction_id = i.id
		WHERE f.updated_at > ?
		ORDER BY f.updated_at ASC
	`

	rows, err := c.db.Query(query, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query tuner window: %w", err)
	}
	defer rows.Close()

	var pairs []InteractionFeedback
	for rows.Next() {
		var p InteractionFeedback
		var direct, degraded int
		var createdAt int64
		var reaction string

		err := rows.Scan(
			&p.Interaction.ID, &p.Interaction.LearnerID, &p.Interaction.Topic,
			&p.Interaction.CandidateHash, &p.Interaction.Source, &p.Interaction.RawScore,
			&p.Interaction.BaseScore, &p.Interaction.PersonalScore, &p.Interaction.GlobalScore,
			&p.Interaction.ContextScore, &p.Interaction.FinalScore, &direct, &degraded, &createdAt,
			&reaction, &p.Feedback.Understanding, &p.Feedback.Satisfaction,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		p.Interaction.DirectAnswer = direct == 1
		p.Interaction.Degraded = degraded == 1
		p.Interaction.CreatedAt = time.Unix(createdAt, 0)
		p.Feedback.InteractionID = p.Interaction.ID
		p.Feedback.Reaction = models.Reaction(reaction)
		pairs = append(pairs, p)
	}

	return pairs, rows.Err()
}

func (c *Client) SaveWeights(w *models.WeightsRecord) error {
	query := `
		INSERT INTO scoring_weights (base_weight, personal_weight, global_weight, context_weight, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := c.db.Exec(query, w.Base, w.Personal, w.Global, w.Context, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save weights: %w", err)
	}
	return nil
}

func (c *Client) LoadLatestWeights() (*models.WeightsRecord, error) {
	query := `
		SELECT version, base_weight, personal_weight, global_weight, context_weight, created_at
		FROM scoring_weights ORDER BY version DESC LIMIT 1
	`

	var w models.WeightsRecord
	var createdAt int64
	err := c.db.QueryRow(query).Scan(&w.Version, &w.Base, &w.Personal, &w.Global, &w.Context, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load weights: %w", err)
	}

	w.CreatedAt = time.Unix(createdAt, 0)
	return &w, nil
}

func (c *Client) SaveSourceStat(stat *models.SourceStatRecord) error {
	query := `
		INSERT INTO source_stats (source, min_score, max_score, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			min_score = excluded.min_score,
			max_score = excluded.max_score,
			updated_at = excluded.updated_at
	`
	_, err := c.db.Exec(query, stat.Source, stat.Min, stat.Max, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save source stat: %w", err)
	}
	return nil
}

func (c *Client) LoadSourceStats() ([]models.SourceStatRecord, error) {
	rows, err := c.db.Query(`SELECT source, min_score, max_score, updated_at FROM source_stats`)
	if err != nil {
		return nil, fmt.Errorf("failed to load source stats: %w", err)
	}
	defer rows.Close()

	var stats []models.SourceStatRecord
	for rows.Next() {
		var s models.SourceStatRecord
		var updatedAt int64
		if err := rows.Scan(&s.Source, &s.Min, &s.Max, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		s.UpdatedAt = time.Unix(updatedAt, 0)
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (c *Client) RecordTunerRun(run *models.TunerRun) error {
	query := `INSERT INTO tuner_runs (ran_at, window_start, interactions, flagged, note, report) VALUES (?, ?, ?, ?, ?, ?)`

	flagged := 0
	if run.Flagged {
		flagged = 1
	}
	_, err := c.db.Exec(query, run.RanAt.Unix(), run.WindowStart.Unix(), run.Interactions, flagged, run.Note, run.Report)
	if err != nil {
		return fmt.Errorf("failed to record tuner run: %w", err)
	}
	return nil
}

// LastTunerRun returns the most recent run, or nil before the first cycle.
func (c *Client) LastTunerRun() (*models.TunerRun, error) {
	query := `SELECT id, ran_at, window_start, interactions, flagged, note, report FROM tuner_runs ORDER BY id DESC LIMIT 1`

	var run models.TunerRun
	var ranAt, windowStart int64
	var flagged int
	err := c.db.QueryRow(query).Scan(&run.ID, &ranAt, &windowStart, &run.Interactions, &flagged, &run.Note, &run.Report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last tuner run: %w", err)
	}

	run.RanAt = time.Unix(ranAt, 0)
	run.WindowStart = time.Unix(windowStart, 0)
	run.Flagged = flagged == 1
	return &run, nil
}

func (c *Client) InsertQAPair(pair *models.QAPair) error {
	embeddingJSON, err := json.Marshal(pair.Embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}

	query := `
		INSERT INTO qa_pairs (id, question, answer, topic, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question = excluded.question,
			answer = excluded.answer,
			topic = excluded.topic,
			embedding = excluded.embedding
	`
	_, err = c.db.Exec(query, pair.ID, pair.Question, pair.Answer, pair.Topic,
		string(embeddingJSON), pair.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert QA pair: %w", err)
	}
	return nil
}

func (c *Client) AllQAPairs() ([]models.QAPair, error) {
	rows, err := c.db.Query(`SELECT id, question, answer, topic, embedding, created_at FROM qa_pairs`)
	if err != nil {
		return nil, fmt.Errorf("failed to load QA pairs: %w", err)
	}
	defer rows.Close()

	var pairs []models.QAPair
	for rows.Next() {
		var p models.QAPair
		var embeddingJSON string
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Question, &p.Answer, &p.Topic, &embeddingJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &p.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		pairs = append(pairs, p)
	}

	return pairs, rows.Err()
}

const popularitySmoothing = 5.0

// Popularity is the smoothed cross-learner usage of a candidate text, in
// [0,1]. Implements the scorer's global-signal contract.
func (c *Client) Popularity(textHash string) float64 {
	var count int
	err := c.db.QueryRow(
		`SELECT COUNT(*) FROM interactions WHERE candidate_hash = ?`, textHash,
	).Scan(&count)
	if err != nil {
		logger.Warn("Failed to read candidate popularity", zap.Error(err))
		return 0
	}
	return float64(count) / (float64(count) + popularitySmoothing)
}

// ArchiveProfile marks a learner inactive. Profiles are never deleted.
func (c *Client) ArchiveProfile(learnerID string) error {
	_, err := c.db.Exec(
		`UPDATE learner_profiles SET archived = 1, updated_at = ? WHERE learner_id = ?`,
		time.Now().Unix(), learnerID,
	)
	if err != nil {
		return fmt.Errorf("failed to archive profile: %w", err)
	}
	return nil
}

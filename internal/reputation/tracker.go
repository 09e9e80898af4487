// Package reputation tracks agent forecasting performance in Postgres and
// turns it into the per-agent weight multipliers the consensus step uses.
// Every forecast records one pending prediction per voting agent; when a
// question resolves, RecordOutcome grades those predictions and future
// scores shift accordingly.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solstice-ai/delphi/migrations"
)

// ErrPredictionNotFound is returned by RecordOutcome for an unknown id.
var ErrPredictionNotFound = errors.New("reputation: prediction not found")

// scoreCacheTTL bounds how stale a computed reputation score may be when no
// outcome has been recorded for the agent in the meantime.
const scoreCacheTTL = 24 * time.Hour

// Prediction is one agent's recorded forecast, pending or verified.
type Prediction struct {
	ID          string
	Agent       string
	Domain      string
	Text        string
	Probability float64
	Confidence  float64
	RecordedAt  time.Time
}

// AgentReputation is the full performance picture for one agent.
type AgentReputation struct {
	Agent            string             `json:"agent"`
	OverallScore     float64            `json:"overallScore"`
	DomainScores     map[string]float64 `json:"domainScores"`
	TotalPredictions int                `json:"totalPredictions"`
	Verified         int                `json:"verified"`
	RecentAccuracy   float64            `json:"recentAccuracy"`
	Calibration      float64            `json:"calibration"`
}

// Tracker persists predictions and computes reputation scores.
// Safe for concurrent use. Reads may serve a cached score while another
// goroutine records an outcome; there is no global lock.
type Tracker struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	scores *scoreCache

	now func() time.Time // injectable for tests
}

// New connects to Postgres and applies the embedded migrations.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("reputation: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reputation: ping: %w", err)
	}
	t := NewWithPool(pool, logger)
	if err := t.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return t, nil
}

// NewWithPool wraps an existing pool. The caller owns the pool's lifecycle;
// Close still stops the score cache.
func NewWithPool(pool *pgxpool.Pool, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		pool:   pool,
		logger: logger,
		scores: newScoreCache(scoreCacheTTL),
		now:    time.Now,
	}
}

// Close releases the pool and stops the cache eviction goroutine.
func (t *Tracker) Close() {
	t.scores.close()
	t.pool.Close()
}

// migrate applies unapplied SQL files from the embedded migrations
// filesystem, tracked in a schema_migrations table so each runs at most once.
func (t *Tracker) migrate(ctx context.Context) error {
	if _, err := t.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("reputation: create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := t.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("reputation: load applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("reputation: scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reputation: iterate migrations: %w", err)
	}

	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("reputation: read migrations dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		content, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("reputation: read migration %s: %w", name, err)
		}
		t.logger.Info("running migration", "file", name)
		if _, err := t.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("reputation: execute migration %s: %w", name, err)
		}
		if _, err := t.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("reputation: record migration %s: %w", name, err)
		}
	}
	return nil
}

// RecordPrediction stores a pending prediction. Re-recording the same id
// overwrites the pending row, so a requeried agent's final answer is the one
// that gets graded.
func (t *Tracker) RecordPrediction(ctx context.Context, p Prediction) error {
	if p.RecordedAt.IsZero() {
		p.RecordedAt = t.now().UTC()
	}
	_, err := t.pool.Exec(ctx, `
		INSERT INTO predictions
			(prediction_id, agent_name, domain, prediction, probability, confidence, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (prediction_id) DO UPDATE SET
			agent_name = EXCLUDED.agent_name,
			domain = EXCLUDED.domain,
			prediction = EXCLUDED.prediction,
			probability = EXCLUDED.probability,
			confidence = EXCLUDED.confidence,
			recorded_at = EXCLUDED.recorded_at`,
		p.ID, p.Agent, p.Domain, p.Text, p.Probability, p.Confidence, p.RecordedAt)
	if err != nil {
		return fmt.Errorf("reputation: record prediction: %w", err)
	}
	return nil
}

// RecordOutcome grades a prediction against the resolved outcome (1 for
// happened, 0 for did not; fractional for partial resolutions). Accuracy is
// one minus the squared probability error. Idempotent: re-recording the same
// outcome overwrites the grade.
func (t *Tracker) RecordOutcome(ctx context.Context, predictionID string, outcome float64) error {
	row := t.pool.QueryRow(ctx, `
		UPDATE predictions
		SET outcome = $2,
		    accuracy = 1 - (probability - $2) * (probability - $2),
		    verified_at = $3
		WHERE prediction_id = $1
		RETURNING agent_name, domain`,
		predictionID, outcome, t.now().UTC())

	var agent, domain string
	if err := row.Scan(&agent, &domain); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPredictionNotFound
		}
		return fmt.Errorf("reputation: record outcome: %w", err)
	}

	t.scores.invalidate(scoreKey(agent, domain))
	t.scores.invalidate(scoreKey(agent, ""))
	return nil
}

// Score returns the reputation score for an agent within a domain (empty
// domain means across all domains). Agents with no verified history score
// the neutral 0.5.
func (t *Tracker) Score(ctx context.Context, agent, domain string) (float64, error) {
	key := scoreKey(agent, domain)
	if s, ok := t.scores.get(key); ok {
		return s, nil
	}

	samples, err := t.verifiedSamples(ctx, agent, domain)
	if err != nil {
		return 0, err
	}
	score := combine(samples, t.now().UTC())
	t.scores.set(key, score)
	return score, nil
}

func (t *Tracker) verifiedSamples(ctx context.Context, agent, domain string) ([]sample, error) {
	query := `
		SELECT accuracy, confidence, recorded_at
		FROM predictions
		WHERE agent_name = $1 AND outcome IS NOT NULL`
	args := []any{agent}
	if domain != "" {
		query += ` AND domain = $2`
		args = append(args, domain)
	}

	rows, err := t.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reputation: query samples: %w", err)
	}
	defer rows.Close()

	var samples []sample
	for rows.Next() {
		var s sample
		if err := rows.Scan(&s.accuracy, &s.confidence, &s.recordedAt); err != nil {
			return nil, fmt.Errorf("reputation: scan sample: %w", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reputation: iterate samples: %w", err)
	}
	return samples, nil
}

// Report assembles the full reputation picture for one agent.
func (t *Tracker) Report(ctx context.Context, agent string) (AgentReputation, error) {
	rep := AgentReputation{Agent: agent, DomainScores: make(map[string]float64)}

	row := t.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE outcome IS NOT NULL),
		       coalesce(avg(accuracy) FILTER (WHERE outcome IS NOT NULL AND recorded_at >= $2), 0.5),
		       coalesce(1 - avg(abs(accuracy - confidence)) FILTER (WHERE outcome IS NOT NULL), 0.5)
		FROM predictions
		WHERE agent_name = $1`,
		agent, t.now().UTC().Add(-recentWindow))
	if err := row.Scan(&rep.TotalPredictions, &rep.Verified, &rep.RecentAccuracy, &rep.Calibration); err != nil {
		return AgentReputation{}, fmt.Errorf("reputation: report totals: %w", err)
	}

	rows, err := t.pool.Query(ctx,
		`SELECT DISTINCT domain FROM predictions WHERE agent_name = $1`, agent)
	if err != nil {
		return AgentReputation{}, fmt.Errorf("reputation: report domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return AgentReputation{}, fmt.Errorf("reputation: scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return AgentReputation{}, fmt.Errorf("reputation: iterate domains: %w", err)
	}

	for _, d := range domains {
		s, err := t.Score(ctx, agent, d)
		if err != nil {
			return AgentReputation{}, err
		}
		rep.DomainScores[d] = s
	}

	overall, err := t.Score(ctx, agent, "")
	if err != nil {
		return AgentReputation{}, err
	}
	rep.OverallScore = overall
	return rep, nil
}

// Package cache persists agent responses in SQLite so repeated questions
// never re-invoke a model. Entries are content-addressed by
// (questionHash, agentName); a decline is cached too, as a sentinel row, so
// an agent that refused a question is not asked again within the TTL.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/solstice-ai/delphi/internal/model"
)

// ErrNotFound is returned by Get on a miss or an expired entry.
var ErrNotFound = errors.New("cache: entry not found")

const schema = `
CREATE TABLE IF NOT EXISTS agent_responses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	question_hash TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	analysis TEXT,
	probability REAL,
	confidence REAL,
	recommendation TEXT,
	raw_response TEXT,
	declined INTEGER NOT NULL DEFAULT 0,
	decline_reason TEXT,
	created_at TIMESTAMP NOT NULL,
	UNIQUE(question_hash, agent_name)
);
CREATE INDEX IF NOT EXISTS idx_agent_responses_created ON agent_responses(created_at);
`

// Entry is one cached agent response. Declined entries carry no brief.
type Entry struct {
	Brief         *model.Brief
	Raw           string
	Declined      bool
	DeclineReason string
	CreatedAt     time.Time
}

// Store is the SQLite-backed response cache. Safe for concurrent use; the
// database/sql pool serializes writers and the singleflight group collapses
// concurrent fills of the same key into one model call.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group

	now func() time.Time // injectable for tests
}

// Open opens (creating if needed) the cache database at path. Use ":memory:"
// for an ephemeral cache. ttl <= 0 means entries never expire.
func Open(path string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	// modernc sqlite is a single-writer engine; one connection avoids
	// SQLITE_BUSY under concurrent dispatch.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: init schema: %w", err)
	}
	return &Store{db: db, ttl: ttl, logger: logger, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the cached entry for (questionHash, agentName), or ErrNotFound
// on a miss or when the entry has outlived the TTL.
func (s *Store) Get(ctx context.Context, questionHash, agentName string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT analysis, probability, confidence, recommendation, raw_response,
		       declined, decline_reason, created_at
		FROM agent_responses
		WHERE question_hash = ? AND agent_name = ?`,
		questionHash, agentName)

	var (
		analysis, recommendation, raw, declineReason sql.NullString
		probability, confidence                      sql.NullFloat64
		declined                                     bool
		createdAt                                    time.Time
	)
	err := row.Scan(&analysis, &probability, &confidence, &recommendation, &raw,
		&declined, &declineReason, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("cache: get: %w", err)
	}

	if s.ttl > 0 && s.now().Sub(createdAt) > s.ttl {
		return Entry{}, ErrNotFound
	}

	e := Entry{
		Raw:           raw.String,
		Declined:      declined,
		DeclineReason: declineReason.String,
		CreatedAt:     createdAt,
	}
	if !declined {
		e.Brief = &model.Brief{
			Analysis:       analysis.String,
			Probability:    probability.Float64,
			Confidence:     confidence.Float64,
			Recommendation: recommendation.String,
		}
	}
	return e, nil
}

// Put upserts an entry. Re-answering the same question replaces the previous
// row and restarts its TTL.
func (s *Store) Put(ctx context.Context, questionHash, agentName string, e Entry) error {
	var (
		analysis, recommendation string
		probability, confidence  float64
	)
	if e.Brief != nil {
		analysis = e.Brief.Analysis
		probability = e.Brief.Probability
		confidence = e.Brief.Confidence
		recommendation = e.Brief.Recommendation
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_responses
			(question_hash, agent_name, analysis, probability, confidence,
			 recommendation, raw_response, declined, decline_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(question_hash, agent_name) DO UPDATE SET
			analysis = excluded.analysis,
			probability = excluded.probability,
			confidence = excluded.confidence,
			recommendation = excluded.recommendation,
			raw_response = excluded.raw_response,
			declined = excluded.declined,
			decline_reason = excluded.decline_reason,
			created_at = excluded.created_at`,
		questionHash, agentName, analysis, probability, confidence,
		recommendation, e.Raw, e.Declined, e.DeclineReason, s.now().UTC())
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// GetOrFill returns the cached entry, or invokes fill to produce one and
// stores it. The boolean reports whether the entry came from the store.
// Concurrent calls for the same (questionHash, agentName) share a single
// fill; the duplicates receive the first caller's result.
func (s *Store) GetOrFill(ctx context.Context, questionHash, agentName string, fill func(context.Context) (Entry, error)) (Entry, bool, error) {
	if e, err := s.Get(ctx, questionHash, agentName); err == nil {
		return e, true, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Entry{}, false, err
	}

	key := questionHash + "\x00" + agentName
	v, err, _ := s.group.Do(key, func() (any, error) {
		e, err := fill(ctx)
		if err != nil {
			return Entry{}, err
		}
		if err := s.Put(ctx, questionHash, agentName, e); err != nil {
			// A failed write is not a failed answer.
			s.logger.Warn("cache write failed", "agent", agentName, "error", err)
		}
		return e, nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	// The hit flag is reserved for entries served from the store. Callers
	// that rode along on a shared fill still triggered a model call for
	// this response, so they report a miss too.
	return v.(Entry), false, nil
}

// CleanupExpired deletes entries older than the TTL and returns how many
// rows were removed. A no-op when the TTL is unset.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-s.ttl)
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_responses WHERE created_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache: cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: cleanup rows: %w", err)
	}
	if n > 0 {
		s.logger.Info("cache cleanup", "removed", n)
	}
	return n, nil
}

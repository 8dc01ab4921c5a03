// Package postgres provides a PostgreSQL-backed [store.Store] for the
// utterance log, using a single [pgxpool.Pool]. [Migrate] is idempotent and
// runs on every start.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/earshot-voice/earshot/internal/store"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    id             BIGSERIAL    PRIMARY KEY,
    correlation_id TEXT         NOT NULL,
    speaker_id     TEXT         NOT NULL,
    transcript     TEXT         NOT NULL,
    wake_phrase    TEXT         NOT NULL DEFAULT '',
    wake_source    TEXT         NOT NULL DEFAULT '',
    started_at     TIMESTAMPTZ  NOT NULL,
    ended_at       TIMESTAMPTZ  NOT NULL,
    duration_ns    BIGINT       NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_utterances_speaker_id
    ON utterances (speaker_id);

CREATE INDEX IF NOT EXISTS idx_utterances_started_at
    ON utterances (started_at);

CREATE INDEX IF NOT EXISTS idx_utterances_correlation_id
    ON utterances (correlation_id);
`

// Store is the PostgreSQL utterance log. All methods are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies the connection, and ensures
// the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the utterances table and indexes if they do not exist.
// Safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlUtterances); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// SaveUtterance implements [store.Store].
func (s *Store) SaveUtterance(ctx context.Context, u store.Utterance) error {
	const q = `
		INSERT INTO utterances
		    (correlation_id, speaker_id, transcript, wake_phrase, wake_source,
		     started_at, ended_at, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		u.CorrelationID,
		u.SpeakerID,
		u.Transcript,
		u.WakePhrase,
		u.WakeSource,
		u.Start,
		u.End,
		u.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: save utterance: %w", err)
	}
	return nil
}

// RecentUtterances implements [store.Store]. Results are ordered newest
// first.
func (s *Store) RecentUtterances(ctx context.Context, speakerID string, limit int) ([]store.Utterance, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT correlation_id, speaker_id, transcript, wake_phrase, wake_source,
		       started_at, ended_at, duration_ns
		FROM   utterances`
	args := []any{}
	if speakerID != "" {
		q += `
		WHERE  speaker_id = $1`
		args = append(args, speakerID)
	}
	args = append(args, limit)
	q += fmt.Sprintf(`
		ORDER  BY started_at DESC
		LIMIT  $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent utterances: %w", err)
	}

	utterances, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Utterance, error) {
		var (
			u          store.Utterance
			durationNS int64
		)
		if err := row.Scan(
			&u.CorrelationID,
			&u.SpeakerID,
			&u.Transcript,
			&u.WakePhrase,
			&u.WakeSource,
			&u.Start,
			&u.End,
			&durationNS,
		); err != nil {
			return u, err
		}
		u.Duration = time.Duration(durationNS)
		return u, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan utterances: %w", err)
	}
	return utterances, nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

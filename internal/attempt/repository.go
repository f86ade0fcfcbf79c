package attempt

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists attempts.
type Repository interface {
	Save(ctx context.Context, a Attempt) error
	// ListByIdentity returns the newest attempts of one client for an
	// identity first.
	ListByIdentity(ctx context.Context, clientID, identity string, limit int) ([]Attempt, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS scrape_attempts (
    id          UUID PRIMARY KEY,
    client_id   TEXT        NOT NULL DEFAULT '',
    identity    TEXT        NOT NULL,
    session_id  UUID        NOT NULL,
    step        TEXT        NOT NULL,
    outcome     TEXT        NOT NULL,
    phase       TEXT        NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT      NOT NULL
);
ALTER TABLE scrape_attempts ADD COLUMN IF NOT EXISTS client_id TEXT NOT NULL DEFAULT '';
DROP INDEX IF EXISTS scrape_attempts_identity_started_idx;
CREATE INDEX IF NOT EXISTS scrape_attempts_client_identity_started_idx
    ON scrape_attempts (client_id, identity, started_at DESC);`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed attempt journal.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the journal table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create scrape_attempts: %w", err)
	}
	return nil
}

// Save inserts an attempt.
func (r *PostgresRepository) Save(ctx context.Context, a Attempt) error {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return err
	}
	sessionID, err := uuid.Parse(a.SessionID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO scrape_attempts (id, client_id, identity, session_id, step, outcome, phase, started_at, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, a.ClientID, a.Identity, sessionID, a.Step, a.Outcome, a.Phase, a.StartedAt.UTC(), a.Duration.Milliseconds())
	return err
}

// ListByIdentity fetches the most recent attempts a client made for an identity.
func (r *PostgresRepository) ListByIdentity(ctx context.Context, clientID, identity string, limit int) ([]Attempt, error) {
	rows, err := r.db.Query(ctx, `SELECT id, client_id, identity, session_id, step, outcome, phase, started_at, duration_ms
        FROM scrape_attempts WHERE client_id = $1 AND identity = $2 ORDER BY started_at DESC LIMIT $3`, clientID, identity, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Attempt, error) {
		var (
			a          Attempt
			id         uuid.UUID
			sessionID  uuid.UUID
			durationMS int64
		)
		if err := row.Scan(&id, &a.ClientID, &a.Identity, &sessionID, &a.Step, &a.Outcome, &a.Phase, &a.StartedAt, &durationMS); err != nil {
			return Attempt{}, err
		}
		a.ID = id.String()
		a.SessionID = sessionID.String()
		a.StartedAt = a.StartedAt.UTC()
		a.Duration = time.Duration(durationMS) * time.Millisecond
		return a, nil
	})
}

package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("client not found")
	ErrExists   = errors.New("client exists")
)

// Repository persists API clients.
type Repository interface {
	Create(ctx context.Context, c Client) error
	FindByID(ctx context.Context, id string) (Client, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

const schema = `
CREATE TABLE IF NOT EXISTS api_clients (
    id          TEXT PRIMARY KEY,
    secret_hash BYTEA       NOT NULL,
    disabled    BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL,
    last_seen   TIMESTAMPTZ
);`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed client registry.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the clients table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create api_clients: %w", err)
	}
	return nil
}

// Create inserts a new client.
func (r *PostgresRepository) Create(ctx context.Context, c Client) error {
	_, err := r.db.Exec(ctx, `INSERT INTO api_clients (id, secret_hash, disabled, created_at)
        VALUES ($1, $2, $3, $4)`, c.ID, c.SecretHash, c.Disabled, c.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrExists
	}
	return err
}

// FindByID fetches a client.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Client, error) {
	row := r.db.QueryRow(ctx, `SELECT id, secret_hash, disabled, created_at, last_seen FROM api_clients WHERE id = $1`, id)
	var (
		c        Client
		lastSeen *time.Time
	)
	if err := row.Scan(&c.ID, &c.SecretHash, &c.Disabled, &c.CreatedAt, &lastSeen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrNotFound
		}
		return Client{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	if lastSeen != nil {
		c.LastSeen = lastSeen.UTC()
	}
	return c, nil
}

// Touch stamps the last successful authentication.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE api_clients SET last_seen = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Package store is the Postgres persistence layer: jobs, users, listings,
// the known-listing index and per-run statistics.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/listing-service/internal/logger"
)

// Schema creates every table the service touches. Jobs and users are owned
// by the API service; they are declared here so a fresh database works.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id       TEXT PRIMARY KEY,
	is_admin BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS jobs (
	id                    TEXT PRIMARY KEY,
	owner_user_id         TEXT NOT NULL REFERENCES users(id),
	name                  TEXT NOT NULL DEFAULT '',
	enabled               BOOLEAN NOT NULL DEFAULT true,
	blacklist             TEXT[] NOT NULL DEFAULT '{}',
	providers             JSONB NOT NULL DEFAULT '[]',
	notification_adapters JSONB NOT NULL DEFAULT '[]',
	shared_with           TEXT[] NOT NULL DEFAULT '{}',
	max_price             DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS listings (
	job_id        TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	id            TEXT NOT NULL,
	provider_id   TEXT NOT NULL,
	title         TEXT NOT NULL,
	price         TEXT NOT NULL DEFAULT '',
	size          TEXT NOT NULL DEFAULT '',
	address       TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	image         TEXT NOT NULL DEFAULT '',
	link          TEXT NOT NULL DEFAULT '',
	first_seen_at TIMESTAMPTZ NOT NULL,
	liveness      TEXT NOT NULL DEFAULT 'unknown',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, id)
);
CREATE INDEX IF NOT EXISTS listings_liveness_idx ON listings (liveness);

CREATE TABLE IF NOT EXISTS known_listings (
	job_id      TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	listing_id  TEXT NOT NULL,
	PRIMARY KEY (job_id, provider_id, listing_id)
);

CREATE TABLE IF NOT EXISTS job_runs (
	job_id      TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	ran_at      TIMESTAMPTZ NOT NULL,
	new_count   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS job_runs_job_idx ON job_runs (job_id, ran_at DESC);
`

// Store implements the pipeline, scheduler and reconciler persistence
// interfaces on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// New wraps an open pool.
func New(pool *pgxpool.Pool, log logger.Logger) *Store {
	return &Store{pool: pool, log: log.With(logger.String("component", "store"))}
}

// Migrate applies Schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

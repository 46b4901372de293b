package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"jobmate/listing-service/internal/logger"
	"jobmate/listing-service/internal/model"
)

// KnownIDs returns every listing id already seen for (jobID, providerID).
func (s *Store) KnownIDs(ctx context.Context, jobID, providerID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT listing_id FROM known_listings WHERE job_id = $1 AND provider_id = $2`,
		jobID, providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query known_listings: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan known_listings: %w", err)
	}

	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	return known, nil
}

const upsertListing = `
INSERT INTO listings (job_id, id, provider_id, title, price, size, address,
                      description, image, link, first_seen_at, liveness)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (job_id, id) DO UPDATE SET
	title       = EXCLUDED.title,
	price       = EXCLUDED.price,
	size        = EXCLUDED.size,
	address     = EXCLUDED.address,
	description = EXCLUDED.description,
	image       = EXCLUDED.image,
	link        = EXCLUDED.link,
	updated_at  = now()`

// SaveListings upserts listings and adds their ids to the known index in
// one transaction, so the index never runs ahead of the stored rows.
func (s *Store) SaveListings(ctx context.Context, jobID, providerID string, listings []model.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		ids := make([]string, 0, len(listings))
		for _, l := range listings {
			batch.Queue(upsertListing,
				jobID, l.ID, providerID, l.Title, l.Price, l.Size, l.Address,
				l.Description, l.Image, l.Link, l.FirstSeenAt, string(l.Liveness),
			)
			ids = append(ids, l.ID)
		}
		batch.Queue(
			`INSERT INTO known_listings (job_id, provider_id, listing_id)
			 SELECT $1, $2, unnest($3::text[])
			 ON CONFLICT DO NOTHING`,
			jobID, providerID, ids,
		)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert %d listings: %w", len(listings), err)
		}
		return nil
	})
}

// RecordRun appends one (job, provider) run to job_runs.
func (s *Store) RecordRun(ctx context.Context, jobID, providerID string, at time.Time, newCount int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_runs (job_id, provider_id, ran_at, new_count) VALUES ($1, $2, $3, $4)`,
		jobID, providerID, at, newCount,
	)
	if err != nil {
		return fmt.Errorf("insert job_runs: %w", err)
	}
	return nil
}

// ListingsByLiveness returns every listing in one of the given states.
func (s *Store) ListingsByLiveness(ctx context.Context, states ...model.Liveness) ([]model.Listing, error) {
	want := make([]string, len(states))
	for i, st := range states {
		want[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT job_id, id, provider_id, title, price, size, address, description,
		        image, link, first_seen_at, liveness
		 FROM listings
		 WHERE liveness = ANY($1)`,
		want,
	)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}

	listings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Listing, error) {
		var l model.Listing
		var liveness string
		err := row.Scan(
			&l.JobID, &l.ID, &l.ProviderID, &l.Title, &l.Price, &l.Size, &l.Address,
			&l.Description, &l.Image, &l.Link, &l.FirstSeenAt, &liveness,
		)
		l.Liveness = model.Liveness(liveness)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan listings: %w", err)
	}
	return listings, nil
}

// DeactivateListings marks every listing with one of ids inactive.
func (s *Store) DeactivateListings(ctx context.Context, ids []string) error {
	return s.setLiveness(ctx, ids, model.LivenessInactive)
}

// MarkActive marks every listing with one of ids active.
func (s *Store) MarkActive(ctx context.Context, ids []string) error {
	return s.setLiveness(ctx, ids, model.LivenessActive)
}

func (s *Store) setLiveness(ctx context.Context, ids []string, state model.Liveness) error {
	if len(ids) == 0 {
		return nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET liveness = $1, updated_at = now() WHERE id = ANY($2)`,
		string(state), ids,
	)
	if err != nil {
		return fmt.Errorf("set liveness %s: %w", state, err)
	}
	s.log.Debug("Liveness updated",
		logger.String("liveness", string(state)),
		logger.Int("requested", len(ids)),
		logger.Int("rows", int(tag.RowsAffected())),
	)
	return nil
}

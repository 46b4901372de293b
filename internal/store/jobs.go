package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"jobmate/listing-service/internal/model"
	"jobmate/listing-service/internal/scheduler"
)

const selectJobs = `
SELECT id, owner_user_id, name, enabled, blacklist, providers,
       notification_adapters, shared_with, max_price
FROM jobs`

func scanJob(row pgx.CollectableRow) (model.Job, error) {
	var j model.Job
	err := row.Scan(
		&j.ID, &j.OwnerUserID, &j.Name, &j.Enabled, &j.BlacklistTerms, &j.Providers,
		&j.NotificationAdapters, &j.SharedWithUserIDs, &j.MaxPrice,
	)
	return j, err
}

// EnabledJobs returns every job with enabled = true.
func (s *Store) EnabledJobs(ctx context.Context) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx, selectJobs+` WHERE enabled = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	jobs, err := pgx.CollectRows(rows, scanJob)
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	return jobs, nil
}

// JobByID returns one job regardless of its enabled flag.
func (s *Store) JobByID(ctx context.Context, id string) (model.Job, error) {
	rows, err := s.pool.Query(ctx, selectJobs+` WHERE id = $1`, id)
	if err != nil {
		return model.Job{}, fmt.Errorf("query job: %w", err)
	}
	job, err := pgx.CollectExactlyOneRow(rows, scanJob)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, id)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// Admins returns the ids of every administrator.
func (s *Store) Admins(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users WHERE is_admin = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query admins: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan admins: %w", err)
	}
	return ids, nil
}

// Package similarity detects near-duplicate listings within a short,
// per-job window. Exact repeats are handled by the store's known-id index;
// this cache catches the same item re-posted under a new id.
package similarity

import (
	"context"
	"strings"
	"sync"
	"time"

	"jobmate/listing-service/internal/logger"
	"jobmate/listing-service/internal/model"
)

const (
	// Threshold is the Dice score at or above which two fingerprints are duplicates.
	Threshold = 0.70

	// MaxRetention caps how long a job's fingerprints are kept.
	MaxRetention = 5 * time.Minute

	// SweepInterval is how often stale job sets are discarded.
	SweepInterval = 10 * time.Second
)

// Retention returns min(MaxRetention, interval/2), so the window is always
// shorter than the job's own run interval. A non-positive interval means
// no periodic runs; MaxRetention applies.
func Retention(interval time.Duration) time.Duration {
	if interval <= 0 {
		return MaxRetention
	}
	return min(MaxRetention, interval/2)
}

type entry struct {
	createdAt time.Time
	values    []string
}

// Cache holds the rolling fingerprint set of every job.
type Cache struct {
	mu        sync.Mutex
	jobs      map[string]*entry
	retention time.Duration
	now       func() time.Time
	log       logger.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache whose retention derives from the job interval.
func New(jobInterval time.Duration, log logger.Logger, opts ...Option) *Cache {
	c := &Cache{
		jobs:      make(map[string]*entry),
		retention: Retention(jobInterval),
		now:       time.Now,
		log:       log.With(logger.String("component", "similarity")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAndAdd reports whether fingerprint is a near-duplicate of anything
// recorded for jobID inside the retention window. When it is not, the
// fingerprint is recorded and false is returned.
func (c *Cache) CheckAndAdd(jobID, fingerprint string) bool {
	candidate := normalize(fingerprint)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.jobs[jobID]
	if ok && now.Sub(e.createdAt) > c.retention {
		delete(c.jobs, jobID)
		ok = false
	}
	if !ok {
		e = &entry{createdAt: now}
		c.jobs[jobID] = e
	}

	for _, v := range e.values {
		if Dice(v, candidate) >= Threshold {
			return true
		}
	}
	e.values = append(e.values, candidate)
	return false
}

// Sweep discards every job set older than the retention window and returns
// how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for jobID, e := range c.jobs {
		if now.Sub(e.createdAt) > c.retention {
			delete(c.jobs, jobID)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of jobs currently holding fingerprints.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// Start sweeps every SweepInterval until ctx is done.
func (c *Cache) Start(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	c.log.Info("Similarity sweeper started", logger.Duration("retention", c.retention))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.Debug("Discarded stale fingerprint sets", logger.Int("jobs", n))
			}
		}
	}
}

// Fingerprint derives the near-duplicate key of a listing.
func Fingerprint(l model.Listing) string {
	return l.Title + " " + l.Address + " " + l.Price
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

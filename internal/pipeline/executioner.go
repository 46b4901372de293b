// Package pipeline runs one job across its providers: fetch, normalize,
// filter, enrich, dedup, persist, notify, record stats.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"jobmate/listing-service/internal/logger"
	"jobmate/listing-service/internal/metrics"
	"jobmate/listing-service/internal/model"
	"jobmate/listing-service/internal/notify"
	"jobmate/listing-service/internal/processor"
	"jobmate/listing-service/internal/provider"
	"jobmate/listing-service/internal/similarity"
)

// DefaultConcurrency is the number of providers of one job run in parallel.
const DefaultConcurrency = 4

// Store is the persistence the pipeline needs.
type Store interface {
	// KnownIDs returns every listing id already seen for (job, provider).
	KnownIDs(ctx context.Context, jobID, providerID string) (map[string]struct{}, error)
	// SaveListings upserts listings by id and adds their ids to the
	// known-id index of (job, provider), atomically.
	SaveListings(ctx context.Context, jobID, providerID string, listings []model.Listing) error
	// RecordRun stores the last-run time and new-listing count of (job, provider).
	RecordRun(ctx context.Context, jobID, providerID string, at time.Time, newCount int) error
}

// SimilarityChecker is the near-duplicate detector.
type SimilarityChecker interface {
	CheckAndAdd(jobID, fingerprint string) bool
}

// Failure is one isolated error inside a job run.
type Failure struct {
	ProviderID string
	Stage      string
	Err        error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s/%s: %v", f.ProviderID, f.Stage, f.Err)
}

// ProviderResult summarises one (job, provider) run.
type ProviderResult struct {
	ProviderID string
	Fetched    int
	Filtered   int
	Duplicates int
	New        int
}

// Result is what a job fan-out reports once every provider has settled.
type Result struct {
	RunID     string
	JobID     string
	Providers []ProviderResult
	Failures  []Failure
}

// NewCount sums new listings over all providers.
func (r Result) NewCount() int {
	n := 0
	for _, p := range r.Providers {
		n += p.New
	}
	return n
}

// Executioner runs the listing pipeline for a job.
type Executioner struct {
	providers   *provider.Registry
	adapters    *notify.Registry
	chain       processor.Chain
	store       Store
	similarity  SimilarityChecker
	metrics     *metrics.Metrics
	log         logger.Logger
	concurrency int
	now         func() time.Time
}

// Option configures an Executioner.
type Option func(*Executioner)

// WithConcurrency bounds how many providers of one job run at once.
func WithConcurrency(n int) Option {
	return func(e *Executioner) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithProcessors sets the enrichment chain.
func WithProcessors(chain processor.Chain) Option {
	return func(e *Executioner) { e.chain = chain }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executioner) { e.now = now }
}

// NewExecutioner wires the pipeline.
func NewExecutioner(
	providers *provider.Registry,
	adapters *notify.Registry,
	store Store,
	similarity SimilarityChecker,
	m *metrics.Metrics,
	log logger.Logger,
	opts ...Option,
) *Executioner {
	e := &Executioner{
		providers:   providers,
		adapters:    adapters,
		store:       store,
		similarity:  similarity,
		metrics:     m,
		log:         log.With(logger.String("component", "pipeline")),
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute fans job out across its providers and waits for all of them.
// It never returns an error: every provider failure is isolated and listed
// in Result.Failures.
func (e *Executioner) Execute(ctx context.Context, job model.Job) Result {
	res := Result{RunID: uuid.NewString(), JobID: job.ID}
	log := e.log.With(logger.String("job_id", job.ID), logger.String("run_id", res.RunID))
	log.Info("Job run started", logger.Int("providers", len(job.Providers)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, sel := range job.Providers {
		g.Go(func() error {
			pr, failures := e.runProvider(gctx, job, sel, log)
			mu.Lock()
			res.Providers = append(res.Providers, pr)
			res.Failures = append(res.Failures, failures...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range res.Failures {
		log.Warn("Provider unit failed",
			logger.String("provider", f.ProviderID),
			logger.String("stage", f.Stage),
			logger.Error(f.Err),
		)
	}
	log.Info("Job run settled",
		logger.Int("new", res.NewCount()),
		logger.Int("failures", len(res.Failures)),
	)
	return res
}

// runProvider executes steps 1–8 for one (job, provider). Panics are turned
// into a failure so siblings are unaffected.
func (e *Executioner) runProvider(
	ctx context.Context,
	job model.Job,
	sel model.ProviderSelection,
	log logger.Logger,
) (pr ProviderResult, failures []Failure) {
	pr.ProviderID = sel.ID
	start := time.Now()
	log = log.With(logger.String("provider", sel.ID))

	fail := func(stage string, err error) {
		failures = append(failures, Failure{ProviderID: sel.ID, Stage: stage, Err: err})
		e.metrics.Failures.WithLabelValues(stage).Inc()
	}
	// stage tracks where a panic came from.
	stage := metrics.StageFetch
	defer func() {
		if r := recover(); r != nil {
			fail(stage, fmt.Errorf("provider panic: %v", r))
		}
		e.metrics.ProviderDuration.WithLabelValues(sel.ID).Observe(time.Since(start).Seconds())
	}()

	p, err := e.providers.New(sel.ID)
	if err != nil {
		fail(metrics.StageFetch, err)
		return pr, failures
	}
	p.Init(sel, job.BlacklistTerms)

	// ── 1. Fetch ────────────────────────────────────────────
	raw, err := p.Fetch(ctx)
	if err != nil {
		fail(metrics.StageFetch, err)
		if len(raw) == 0 {
			return pr, failures
		}
		log.Warn("Partial fetch, continuing with first page", logger.Int("items", len(raw)))
	}
	pr.Fetched = len(raw)
	if len(raw) == 0 {
		e.recordRun(ctx, job.ID, sel.ID, 0, fail)
		return pr, failures
	}

	// ── 2–4. Normalize, filter, enrich ──────────────────────
	pctx := processor.Context{Job: job, ProviderID: sel.ID}
	var candidates []model.Listing
	texts := make(map[string]string)
	for _, item := range raw {
		stage = metrics.StageNormalize
		l, err := p.Normalize(item)
		if err != nil {
			fail(metrics.StageNormalize, err)
			continue
		}
		l.JobID = job.ID
		l.ProviderID = sel.ID

		stage = metrics.StageFilter
		if !p.Filter(l) {
			pr.Filtered++
			continue
		}

		stage = metrics.StageProcess
		out, err := e.chain.Apply(ctx, l, pctx)
		if err != nil {
			fail(metrics.StageProcess, err)
			continue
		}
		if !out.Keep {
			pr.Filtered++
			continue
		}
		candidates = append(candidates, out.Listing)
		if out.Text != "" {
			texts[out.Listing.ID] = out.Text
		}
	}

	// ── 5. Two-tier dedup ───────────────────────────────────
	stage = metrics.StagePersist
	known, err := e.store.KnownIDs(ctx, job.ID, sel.ID)
	if err != nil {
		fail(metrics.StagePersist, fmt.Errorf("known ids: %w", err))
		return pr, failures
	}
	fresh := e.dedup(job.ID, candidates, known)
	pr.Duplicates = len(candidates) - len(fresh)

	if len(fresh) == 0 {
		log.Debug("Nothing new", logger.Int("fetched", pr.Fetched))
		e.recordRun(ctx, job.ID, sel.ID, 0, fail)
		return pr, failures
	}

	// ── 6. Persist ──────────────────────────────────────────
	seenAt := e.now().UTC()
	var lines []string
	for i := range fresh {
		if text, ok := texts[fresh[i].ID]; ok {
			lines = append(lines, text)
		}
		fresh[i].FirstSeenAt = seenAt
		fresh[i].Liveness = model.LivenessUnknown
	}
	if err := e.store.SaveListings(ctx, job.ID, sel.ID, fresh); err != nil {
		// The similarity cache already holds these fingerprints; the
		// items may be re-offered once its window expires.
		fail(metrics.StagePersist, err)
	}
	pr.New = len(fresh)
	e.metrics.NewListings.WithLabelValues(sel.ID).Add(float64(len(fresh)))

	// ── 7. Notify ───────────────────────────────────────────
	stage = metrics.StageNotify
	msg := notify.Message{
		ServiceName: p.Meta().Name,
		NewListings: fresh,
		JobKey:      job.ID,
		Text:        strings.Join(lines, "\n"),
	}
	for _, f := range notify.Dispatch(ctx, e.adapters, job.NotificationAdapters, msg) {
		fail(metrics.StageNotify, fmt.Errorf("%s: %w", f.AdapterID, f.Err))
	}

	// ── 8. Stats ────────────────────────────────────────────
	stage = metrics.StageStats
	e.recordRun(ctx, job.ID, sel.ID, len(fresh), fail)

	log.Info("Provider run complete",
		logger.Int("fetched", pr.Fetched),
		logger.Int("filtered", pr.Filtered),
		logger.Int("duplicates", pr.Duplicates),
		logger.Int("new", pr.New),
	)
	return pr, failures
}

// dedup drops listings whose id is already known, repeated within the
// batch, or a near-duplicate of something the job saw recently.
func (e *Executioner) dedup(jobID string, candidates []model.Listing, known map[string]struct{}) []model.Listing {
	batch := make(map[string]struct{}, len(candidates))
	fresh := make([]model.Listing, 0, len(candidates))
	for _, l := range candidates {
		if _, ok := known[l.ID]; ok {
			continue
		}
		if _, ok := batch[l.ID]; ok {
			continue
		}
		batch[l.ID] = struct{}{}
		if e.similarity.CheckAndAdd(jobID, similarity.Fingerprint(l)) {
			continue
		}
		fresh = append(fresh, l)
	}
	return fresh
}

func (e *Executioner) recordRun(ctx context.Context, jobID, providerID string, n int, fail func(string, error)) {
	if err := e.store.RecordRun(ctx, jobID, providerID, e.now().UTC(), n); err != nil {
		fail(metrics.StageStats, err)
	}
}

// Package reconciler periodically re-validates stored listings against their
// source and deactivates the ones that are confirmed gone.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"jobmate/listing-service/internal/logger"
	"jobmate/listing-service/internal/metrics"
	"jobmate/listing-service/internal/model"
	"jobmate/listing-service/internal/provider"
)

const (
	DefaultWidth    = 5
	DefaultInterval = 24 * time.Hour
)

// ErrReadOnly is returned by RunOnce when the reconciler may not write.
var ErrReadOnly = errors.New("reconciler is in read-only mode")

// LivenessStore is the persistence the reconciler needs.
type LivenessStore interface {
	ListingsByLiveness(ctx context.Context, states ...model.Liveness) ([]model.Listing, error)
	DeactivateListings(ctx context.Context, ids []string) error
	MarkActive(ctx context.Context, ids []string) error
}

// Report summarises one pass.
type Report struct {
	Checked      int
	Deactivated  int
	Confirmed    int // unknown listings promoted to active
	Inconclusive int
	Skipped      int // provider unknown or without a liveness probe
}

// Reconciler probes listings with at most width requests in flight.
type Reconciler struct {
	store     LivenessStore
	providers *provider.Registry
	width     int
	interval  time.Duration
	cron      *cron.Cron
	metrics   *metrics.Metrics
	log       logger.Logger
	readOnly  bool

	initial sync.WaitGroup
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithReadOnly disables the timer and makes RunOnce refuse to run.
func WithReadOnly(readOnly bool) Option {
	return func(r *Reconciler) { r.readOnly = readOnly }
}

// New creates a Reconciler. width and interval fall back to their defaults
// when not positive.
func New(store LivenessStore, providers *provider.Registry, width int, interval time.Duration, m *metrics.Metrics, log logger.Logger, opts ...Option) *Reconciler {
	if width <= 0 {
		width = DefaultWidth
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Reconciler{
		store:     store,
		providers: providers,
		width:     width,
		interval:  interval,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		metrics:   m,
		log:       log.With(logger.String("component", "reconciler")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs one pass in the background right away, then one per interval.
// In read-only mode nothing is scheduled.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.readOnly {
		r.log.Info("Reconciler disabled in read-only mode")
		return nil
	}
	spec := fmt.Sprintf("@every %s", r.interval)
	if _, err := r.cron.AddFunc(spec, func() { r.runLogged(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	r.cron.Start()
	r.log.Info("Reconciler started", logger.String("spec", spec), logger.Int("width", r.width))

	r.initial.Add(1)
	go func() {
		defer r.initial.Done()
		r.runLogged(ctx)
	}()
	return nil
}

// Stop stops the timer and waits for any pass in progress to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
	r.initial.Wait()
	r.log.Info("Reconciler stopped")
}

func (r *Reconciler) runLogged(ctx context.Context) {
	rep, err := r.RunOnce(ctx)
	if err != nil {
		r.log.Error("Reconcile pass failed", logger.Error(err))
		return
	}
	r.log.Info("Reconcile pass complete",
		logger.Int("checked", rep.Checked),
		logger.Int("deactivated", rep.Deactivated),
		logger.Int("confirmed", rep.Confirmed),
		logger.Int("inconclusive", rep.Inconclusive),
		logger.Int("skipped", rep.Skipped),
	)
}

type probeResult struct {
	listing model.Listing
	signal  provider.Signal
}

// RunOnce probes every unknown or active listing. Only a confirmed-gone
// signal deactivates; inconclusive results leave the listing as it was.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	if r.readOnly {
		return Report{}, ErrReadOnly
	}
	listings, err := r.store.ListingsByLiveness(ctx, model.LivenessUnknown, model.LivenessActive)
	if err != nil {
		return Report{}, fmt.Errorf("load listings: %w", err)
	}

	var rep Report
	probers := make(map[string]provider.LivenessProber)
	var targets []model.Listing
	for _, l := range listings {
		p, ok := probers[l.ProviderID]
		if !ok {
			p = r.proberFor(l.ProviderID)
			probers[l.ProviderID] = p
		}
		if p == nil || l.Link == "" {
			rep.Skipped++
			continue
		}
		targets = append(targets, l)
	}

	var (
		mu      sync.Mutex
		results = make([]probeResult, 0, len(targets))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.width)
	for _, l := range targets {
		g.Go(func() error {
			sig := probers[l.ProviderID].ProbeLiveness(gctx, l.Link)
			r.metrics.Probes.WithLabelValues(sig.String()).Inc()

			mu.Lock()
			results = append(results, probeResult{listing: l, signal: sig})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var gone, confirmed []string
	for _, res := range results {
		rep.Checked++
		switch res.signal {
		case provider.SignalGone:
			gone = append(gone, res.listing.ID)
		case provider.SignalActive:
			if res.listing.Liveness == model.LivenessUnknown {
				confirmed = append(confirmed, res.listing.ID)
			}
		default:
			rep.Inconclusive++
		}
	}

	if len(gone) > 0 {
		if err := r.store.DeactivateListings(ctx, gone); err != nil {
			return rep, fmt.Errorf("deactivate %d listings: %w", len(gone), err)
		}
		rep.Deactivated = len(gone)
		r.metrics.Deactivated.Add(float64(len(gone)))
	}

	if len(confirmed) > 0 {
		if err := r.store.MarkActive(ctx, confirmed); err != nil {
			r.log.Warn("Failed to mark listings active", logger.Error(err), logger.Int("count", len(confirmed)))
		} else {
			rep.Confirmed = len(confirmed)
		}
	}

	return rep, nil
}

// proberFor returns nil when the provider is not registered or cannot probe.
func (r *Reconciler) proberFor(providerID string) provider.LivenessProber {
	p, err := r.providers.New(providerID)
	if err != nil {
		r.log.Warn("Listing from unknown provider, skipping", logger.String("provider", providerID))
		return nil
	}
	lp, ok := p.(provider.LivenessProber)
	if !ok {
		return nil
	}
	return lp
}

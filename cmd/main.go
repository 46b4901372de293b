// jobmate-listing-service
//
// Periodically runs every enabled search job against its listing providers,
// deduplicates and persists what is new, notifies the job's adapters, and
// once a day re-checks stored listings to deactivate the ones that are gone.
//
// Commands:
//
//	serve            (default) scheduler + reconciler + HTTP (health, metrics, triggers)
//	run <jobID>      force-run one job and wait for it
//	reconcile        run one liveness pass and exit
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"jobmate/listing-service/internal/config"
	"jobmate/listing-service/internal/db"
	"jobmate/listing-service/internal/events"
	"jobmate/listing-service/internal/logger"
	"jobmate/listing-service/internal/metrics"
	"jobmate/listing-service/internal/notify"
	"jobmate/listing-service/internal/pipeline"
	"jobmate/listing-service/internal/processor"
	"jobmate/listing-service/internal/provider"
	"jobmate/listing-service/internal/reconciler"
	"jobmate/listing-service/internal/runstate"
	"jobmate/listing-service/internal/scheduler"
	"jobmate/listing-service/internal/similarity"
	"jobmate/listing-service/internal/store"
	"jobmate/listing-service/internal/trigger"
)

const version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	root := &cobra.Command{
		Use:          "listing-service",
		Short:        "Listing discovery, deduplication and liveness service",
		Version:      version,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.AddCommand(serve, newRunCmd(), newReconcileCmd())
	return root
}

// service holds everything the commands share.
type service struct {
	cfg        *config.Config
	log        logger.Logger
	pool       *pgxpool.Pool
	rdb        *redis.Client
	store      *store.Store
	metrics    *metrics.Metrics
	runs       *runstate.Registry
	similarity *similarity.Cache
	providers  *provider.Registry
	scheduler  *scheduler.Scheduler
	reconciler *reconciler.Reconciler
}

func bootstrap(ctx context.Context) (*service, error) {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log = log.With(logger.String("service", "listing-service"))

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, int32(cfg.ProviderConcurrency+cfg.ProbeConcurrency+2))
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	log.Info("PostgreSQL connected")

	st := store.New(pool, log)
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// ── Redis ────────────────────────────────────────────────────────────────
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	log.Info("Redis connected")

	// ── Plugins ──────────────────────────────────────────────────────────────
	providers := provider.NewRegistry()
	provider.RegisterBuiltins(providers, provider.NewProber(),
		cfg.AdzunaAppID, cfg.AdzunaAppKey, cfg.AdzunaCountry)

	adapters := notify.NewRegistry()
	adapters.Register(notify.NewRedisAdapter(rdb))
	adapters.Register(notify.NewLogAdapter(log))

	processors := processor.NewRegistry()
	processors.Register(processor.MaxPrice{})
	chain, err := processors.Chain(processor.MaxPriceID)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, err
	}

	// ── Core ─────────────────────────────────────────────────────────────────
	m := metrics.New()
	runs := runstate.New()
	sim := similarity.New(cfg.JobInterval(), log)

	exec := pipeline.NewExecutioner(providers, adapters, st, sim, m, log,
		pipeline.WithConcurrency(cfg.ProviderConcurrency),
		pipeline.WithProcessors(chain),
	)
	sched := scheduler.New(st, exec, runs, events.NewStatusPublisher(rdb, log), m, log, scheduler.Options{
		Interval:     cfg.JobInterval(),
		WorkingHours: cfg.WorkingHours,
		ReadOnly:     cfg.ReadOnly,
	})
	recon := reconciler.New(st, providers, cfg.ProbeConcurrency, cfg.ReconcileInterval(), m, log,
		reconciler.WithReadOnly(cfg.ReadOnly),
	)

	log.Info("Service wired",
		logger.Strings("providers", providers.IDs()),
		logger.Strings("adapters", adapters.IDs()),
		logger.Bool("read_only", cfg.ReadOnly),
	)

	return &service{
		cfg:        cfg,
		log:        log,
		pool:       pool,
		rdb:        rdb,
		store:      st,
		metrics:    m,
		runs:       runs,
		similarity: sim,
		providers:  providers,
		scheduler:  sched,
		reconciler: recon,
	}, nil
}

func (s *service) close() {
	if err := s.rdb.Close(); err != nil {
		s.log.Warn("Redis close error", logger.Error(err))
	}
	s.pool.Close()
	_ = s.log.Sync()
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the reconciler and the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer svc.close()
			return svc.serve(ctx)
		},
	}
}

func (s *service) serve(ctx context.Context) error {
	// Runs and passes use a context that survives the shutdown signal, so a
	// started run completes before its guard is released.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	go s.similarity.Start(workCtx)

	if err := s.scheduler.Start(workCtx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := s.reconciler.Start(workCtx); err != nil {
		s.scheduler.Stop()
		return fmt.Errorf("reconciler: %w", err)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", s.metrics.Handler())
	trigger.NewHandler(workCtx, s.scheduler, s.runs, s.log).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", s.cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Listening", logger.String("addr", srv.Addr), logger.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		s.log.Error("HTTP server error", logger.Error(serveErr))
	}

	s.log.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP shutdown error", logger.Error(err))
	}

	s.scheduler.Stop()
	s.reconciler.Stop()
	s.log.Info("Stopped")
	return serveErr
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <jobID>",
		Short: "Force-run one job, ignoring its enabled flag and working hours",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			if err := svc.scheduler.RunOne(cmd.Context(), args[0]); err != nil {
				return err
			}
			svc.scheduler.Wait()
			return nil
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one liveness pass over stored listings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			rep, err := svc.reconciler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d deactivated=%d confirmed=%d inconclusive=%d skipped=%d\n",
				rep.Checked, rep.Deactivated, rep.Confirmed, rep.Inconclusive, rep.Skipped)
			return nil
		},
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "listing-service",
		"version": version,
	})
}

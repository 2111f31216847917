// Package main is the entrypoint of the melding service.
//
// The service notifies an external authority whenever a newly published
// governmental decision document becomes eligible for mandatory reporting.
//
// Startup sequence:
//  1. Initialize the structured logger.
//  2. Load and validate configuration (fail fast).
//  3. Open the pgx connection pool.
//  4. Build repositories, rule cache, evaluator, submission client,
//     orchestrator, retry scheduler, and sweeper.
//  5. Prime the rule cache (non-fatal; the refresh schedule retries).
//  6. Run the boot reconciliation sweep in the background, including failed
//     tasks whose retry timers died with the previous process.
//  7. Register the cron entries for the periodic sweep and rule refresh.
//  8. Serve the intake endpoint until SIGINT/SIGTERM, then shut down
//     gracefully.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"melding/internal/api"
	"melding/internal/config"
	"melding/internal/db"
	"melding/internal/orchestrator"
	"melding/internal/rules"
	"melding/internal/submit"
	"melding/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog satisfies Info/Warn/Error directly but With returns *slog.Logger,
// not types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

func main() {
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slogger)
	logger := &slogAdapter{logger: slogger}

	cfg, err := config.LoadConfig()
	if err != nil {
		slogger.Error("configuration load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		slogger.Error("database pool initialization failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Repositories
	taskRepo := db.NewTaskRepository(pool)
	resourceRepo := db.NewResourceRepository(pool)
	ruleRepo := db.NewRuleRepository(pool)

	// Eligibility
	ruleCache := rules.NewCache(ruleRepo, logger.With("component", "rule-cache"), nil)
	evaluator := rules.NewEvaluator(resourceRepo, ruleCache)

	// Submission
	client := submit.NewClient(cfg.Submission, resourceRepo, logger.With("component", "submit"))

	// Orchestration
	guard := orchestrator.NewGuard()
	orch := orchestrator.New(orchestrator.Config{
		Tasks:       taskRepo,
		Resources:   resourceRepo,
		Eligibility: evaluator,
		Submitter:   client,
		Guard:       guard,
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		Logger:      logger.With("component", "orchestrator"),
	})
	retries := orchestrator.NewRetryScheduler(ctx, taskRepo, resourceRepo, orch,
		logger.With("component", "retry-scheduler"))
	orch.SetRetryScheduler(retries)

	sweeper := orchestrator.NewSweeper(orchestrator.SweeperConfig{
		Tasks:       taskRepo,
		Resources:   resourceRepo,
		Orch:        orch,
		Guard:       guard,
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		Staleness:   cfg.Scheduler.PendingStaleness,
		Logger:      logger.With("component", "sweeper"),
	})

	// Prime the rule cache. A failure here is survivable: the cache stays
	// empty (nothing matches, nothing is skipped permanently -- task-less
	// resources are reconsidered every sweep) and the refresh schedule
	// retries.
	if err := ruleCache.Refresh(ctx); err != nil {
		logger.Warn("initial rule cache refresh failed", "error", err)
	}

	// Boot sweep: recover pending tasks and failed tasks with retry budget
	// left from before the restart.
	go func() {
		if err := sweeper.Sweep(ctx, true); err != nil {
			logger.Error("boot sweep failed", "error", err)
		}
	}()

	// Schedules
	c := cron.New()
	if _, err := c.AddFunc(cfg.Scheduler.SweepCronPattern, func() {
		if err := sweeper.Sweep(ctx, false); err != nil {
			logger.Error("scheduled sweep failed", "error", err)
		}
	}); err != nil {
		slogger.Error("invalid sweep cron pattern", "pattern", cfg.Scheduler.SweepCronPattern, "error", err)
		os.Exit(1)
	}
	if _, err := c.AddFunc(cfg.Scheduler.RuleRefreshCronPattern, func() {
		if err := ruleCache.Refresh(ctx); err != nil {
			logger.Error("scheduled rule refresh failed", "error", err)
		}
	}); err != nil {
		slogger.Error("invalid rule refresh cron pattern", "pattern", cfg.Scheduler.RuleRefreshCronPattern, "error", err)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	// HTTP intake
	handler := api.NewHandler(ctx, orch, cfg.Intake, logger.With("component", "api"))
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(handler, logger.With("component", "api")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("melding service listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
}

// newPool opens the pgx connection pool with the configured tuning and
// verifies connectivity before the service starts accepting work.
func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apphttp "rebate_portal_backend/internal/http"
	"rebate_portal_backend/internal/http/router"
	"rebate_portal_backend/internal/rebates"
	"rebate_portal_backend/internal/rebates/bap"
	"rebate_portal_backend/internal/rebates/formio"
	"rebate_portal_backend/internal/rebates/guard"
	"rebate_portal_backend/internal/rebates/service"
	"rebate_portal_backend/migrations"
	"rebate_portal_backend/platform/config"
	"rebate_portal_backend/platform/db"
	"rebate_portal_backend/platform/logger"
	"rebate_portal_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "rebate_years", len(cfg.RebateYearList()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// The mirror is normally owned by the BAP ETL; local setups create it here.
	if cfg.GetBAPAutoMigrate() {
		applied, err := db.RunMigrations(ctx, pool, migrations.FS)
		if err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
		log.Info("database migrations complete", "applied", applied)
	}

	mutationGuard, closeGuard := initMutationGuard(ctx, cfg, log)
	defer closeGuard()

	// ========================================================================
	// Domain Modules
	// ========================================================================

	val := validator.New()
	forms := formio.New(cfg, log)
	statuses := bap.New(pool)

	rebatesModule := rebates.NewModule(forms, statuses, mutationGuard, cfg, val, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Health:  statuses,
		Modules: []apphttp.Module{rebatesModule},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err, ok := <-srvErr:
		if ok && err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initMutationGuard returns the Redis guard when REDIS_URL is set so all
// replicas share in-flight keys, and a process-local guard otherwise.
func initMutationGuard(ctx context.Context, cfg *config.Config, log *logger.Logger) (service.MutationGuard, func()) {
	if !cfg.IsRedisEnabled() {
		log.Warn("REDIS_URL not configured; mutation guard is local to this process")
		return guard.NewLocal(), func() {}
	}

	rdb, err := guard.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis client", "error", err)
		panic("failed to initialize redis client: " + err.Error())
	}
	if err := withRetry(ctx, log, "redis connection", 5, 2*time.Second, func() error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	log.Info("redis mutation guard enabled", "ttl", cfg.GetMutationGuardTTL())

	return guard.NewRedis(rdb, cfg.GetMutationGuardTTL(), log), func() {
		_ = rdb.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}

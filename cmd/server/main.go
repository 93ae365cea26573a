package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cabangpos/backend/internal/alert"
	"cabangpos/backend/internal/cache"
	"cabangpos/backend/internal/config"
	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/httpapi"
	"cabangpos/backend/internal/logging"
	"cabangpos/backend/internal/recon"
	"cabangpos/backend/internal/store"
	"cabangpos/backend/internal/store/memory"
	pgstore "cabangpos/backend/internal/store/postgres"
)

func main() {
	cfg := config.LoadServer()
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("postgres unavailable and DATABASE_URL is set, refusing in-memory fallback", "error", err)
			os.Exit(1)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		mem := memory.NewSeeded("branch-1")
		seedDevTerminal(mem, logger)
		repo = mem
		logger.Info("repository: in-memory (dev mode)")
	}

	outcomes := cache.OutcomeCache(cache.NopCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisOutcomeCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using nop cache", "error", err)
		} else {
			outcomes = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("outcome cache: redis")
		}
	}

	notifier := alert.Notifier(alert.NewLogNotifier(logger))
	if cfg.RabbitMQURL != "" {
		mq, err := alert.NewRabbitMQNotifier(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("rabbitmq unavailable, alerts go to the log", "error", err)
		} else {
			notifier = mq
			closers = append(closers, mq.Close)
		}
	}

	svc := recon.NewService(repo, outcomes, notifier, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, repo, auth, logger)

	pruneCtx, stopPrune := context.WithCancel(context.Background())
	go pruneLedgerLoop(pruneCtx, repo, time.Duration(cfg.LedgerRetentionDays)*24*time.Hour, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("branch server listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopPrune()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", "error", err)
		}
	}

	logger.Info("server stopped")
}

func validateConfig(cfg config.ServerConfig) error {
	// Dev mode without a database may run on the built-in signing secret;
	// anything backed by postgres must not.
	if cfg.DatabaseURL != "" && len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

func pruneLedgerLoop(ctx context.Context, repo store.Repository, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := repo.PruneIdempotencyEntries(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				logger.Error("ledger prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				logger.Info("pruned idempotency entries", "count", pruned)
			}
		}
	}
}

// seedDevTerminal registers a terminal account so a dev agent can log in
// without a database.
func seedDevTerminal(mem *memory.Store, logger *slog.Logger) {
	hash, err := httpapi.HashSecret("dev-secret")
	if err != nil {
		logger.Warn("seeding dev terminal failed", "error", err)
		return
	}
	mem.PutTerminalAccount(domain.TerminalAccount{
		TerminalID: "till-1",
		BranchID:   "branch-1",
		SecretHash: hash,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	})
}

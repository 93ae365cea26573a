package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cabangpos/backend/internal/agentapi"
	"cabangpos/backend/internal/alert"
	"cabangpos/backend/internal/config"
	"cabangpos/backend/internal/connectivity"
	"cabangpos/backend/internal/dispatcher"
	"cabangpos/backend/internal/logging"
	"cabangpos/backend/internal/queue"
	qmemory "cabangpos/backend/internal/queue/memory"
	qsqlite "cabangpos/backend/internal/queue/sqlite"
	"cabangpos/backend/internal/syncclient"
)

func main() {
	cfg := config.LoadAgent()
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	var qstore queue.Store
	if cfg.DataDir != "" {
		sq, err := qsqlite.Open(cfg.DataDir)
		if err != nil {
			logger.Error("opening queue database", "error", err)
			os.Exit(1)
		}
		qstore = sq
		logger.Info("queue: sqlite", "dir", cfg.DataDir)
	} else {
		qstore = qmemory.New()
		logger.Warn("queue: in-memory, records will not survive restart")
	}

	// Anything still marked syncing belonged to a pass that died with the
	// previous process.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	reset, err := qstore.ResetSyncing(startupCtx)
	startupCancel()
	if err != nil {
		logger.Error("resetting interrupted records", "error", err)
		os.Exit(1)
	}
	if reset > 0 {
		logger.Info("recovered interrupted records", "count", reset)
	}

	notifier := alert.Notifier(alert.NewLogNotifier(logger))
	var closers []func() error
	if cfg.RabbitMQURL != "" {
		mq, err := alert.NewRabbitMQNotifier(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("rabbitmq unavailable, alerts go to the log", "error", err)
		} else {
			notifier = mq
			closers = append(closers, mq.Close)
		}
	}

	prober := connectivity.NewHTTPProber(cfg.ServerURL, 5*time.Second)
	monitor := connectivity.NewMonitor(prober, time.Duration(cfg.ProbeIntervalSec)*time.Second, logger)

	client := syncclient.New(cfg.ServerURL, cfg.TerminalID, cfg.TerminalSecret, cfg.RequestTimeout)

	d := dispatcher.New(qstore, client, monitor, notifier, logger, dispatcher.Config{
		BranchID:   cfg.BranchID,
		TerminalID: cfg.TerminalID,
		BatchSize:  cfg.BatchSize,
		Interval:   time.Duration(cfg.SyncIntervalSec) * time.Second,
		BacklogCap: cfg.BacklogCap,
	})

	runCtx, cancelRun := context.WithCancel(context.Background())
	monitor.Start(runCtx)
	d.Start(runCtx)
	go pruneQueueLoop(runCtx, qstore, cfg.QueueRetention, logger)

	api := agentapi.New(qstore, d, logger)
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("sync agent listening", "addr", cfg.Address(), "terminal_id", cfg.TerminalID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("agent server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Stop the dispatcher before the queue so an in-flight pass can settle
	// its records.
	d.Stop()
	monitor.Stop()
	cancelRun()

	if err := qstore.Close(); err != nil {
		logger.Error("closing queue store", "error", err)
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", "error", err)
		}
	}

	logger.Info("agent stopped")
}

func pruneQueueLoop(ctx context.Context, qstore queue.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := qstore.Prune(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				logger.Error("queue prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				logger.Info("pruned completed queue records", "count", pruned)
			}
		}
	}
}

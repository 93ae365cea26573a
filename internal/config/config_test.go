package config

import (
	"testing"
	"time"
)

func TestLoadAgentDefaults(t *testing.T) {
	cfg := LoadAgent()

	if cfg.BatchSize != 10 {
		t.Fatalf("expected default batch size 10, got %d", cfg.BatchSize)
	}
	if cfg.SyncIntervalSec != 30 {
		t.Fatalf("expected default sync interval 30s, got %d", cfg.SyncIntervalSec)
	}
	if cfg.QueueRetention != 72*time.Hour {
		t.Fatalf("expected default retention 72h, got %v", cfg.QueueRetention)
	}
	if cfg.BacklogCap != 500 {
		t.Fatalf("expected default backlog cap 500, got %d", cfg.BacklogCap)
	}
}

func TestLoadAgentClampsBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "9999")
	cfg := LoadAgent()
	if cfg.BatchSize != MaxBatchSize {
		t.Fatalf("expected clamp to %d, got %d", MaxBatchSize, cfg.BatchSize)
	}

	t.Setenv("BATCH_SIZE", "0")
	cfg = LoadAgent()
	if cfg.BatchSize != MinBatchSize {
		t.Fatalf("expected clamp to %d, got %d", MinBatchSize, cfg.BatchSize)
	}
}

func TestLoadServerRetentionFloor(t *testing.T) {
	t.Setenv("LEDGER_RETENTION_DAYS", "7")
	cfg := LoadServer()
	if cfg.LedgerRetentionDays != 30 {
		t.Fatalf("retention below the floor must clamp to 30, got %d", cfg.LedgerRetentionDays)
	}
}

func TestAgentAddressIsLoopback(t *testing.T) {
	cfg := LoadAgent()
	if cfg.Address() != "127.0.0.1:8090" {
		t.Fatalf("agent must bind loopback, got %s", cfg.Address())
	}
}

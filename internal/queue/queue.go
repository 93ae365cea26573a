// Package queue defines the terminal-side durable transaction queue. Every
// domain write on a terminal is enqueued here first; the queue write is the
// only durability guarantee a sale has while the branch is offline.
package queue

import (
	"context"
	"errors"
	"time"

	"cabangpos/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("queue record not found")
	ErrInvalidRecord = errors.New("invalid queue record")
	ErrClosed        = errors.New("queue store is closed")
)

// Store is the durable queue abstraction. Implementations must make Enqueue
// durable before returning and must keep status transitions atomic: the
// dispatcher is the only writer after enqueue, but the UI may enqueue and
// read counts concurrently.
type Store interface {
	// Enqueue persists a new record with a fresh UUID id and status pending.
	// The record is committed before Enqueue returns.
	Enqueue(ctx context.Context, txType domain.TransactionType, payload []byte) (*domain.QueueRecord, error)

	// ListReady returns pending records with next_retry_at <= now, oldest
	// first. Chronological order is part of the sync contract: two sales
	// against the same product must reach the server in the order the
	// cashier created them.
	ListReady(ctx context.Context, now time.Time) ([]domain.QueueRecord, error)

	MarkSyncing(ctx context.Context, ids []string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailedRetry(ctx context.Context, id string, reason string, nextRetryAt time.Time) error
	MarkFailedTerminal(ctx context.Context, id string, reason string) error

	// ResetSyncing moves any record stuck in syncing back to pending and
	// returns how many were reset. Run at startup: a crash mid-batch must
	// not leave records unreachable.
	ResetSyncing(ctx context.Context) (int, error)

	PendingCount(ctx context.Context) (int, error)
	FailedCount(ctx context.Context) (int, error)

	// Prune removes completed records older than the given cutoff.
	Prune(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}

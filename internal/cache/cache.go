// Package cache fronts idempotency ledger reads. A replayed batch after a
// flaky link hits the same transaction ids within seconds; the cache absorbs
// those reads. The database stays the source of truth.
package cache

import (
	"context"
	"time"

	"cabangpos/backend/internal/domain"
)

// OutcomeCache caches idempotency entries by transaction id. A miss or a
// cache error both mean "go to the database".
type OutcomeCache interface {
	Get(ctx context.Context, transactionID string) (*domain.IdempotencyEntry, bool, error)
	Set(ctx context.Context, entry domain.IdempotencyEntry, ttl time.Duration) error
	Close() error
}

// NopCache misses everything. Used when Redis is not configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*domain.IdempotencyEntry, bool, error) {
	return nil, false, nil
}

func (NopCache) Set(context.Context, domain.IdempotencyEntry, time.Duration) error { return nil }

func (NopCache) Close() error { return nil }

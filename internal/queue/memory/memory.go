// Package memory provides an in-memory queue.Store used by tests and by the
// agent's dev mode. It honors the same transition rules as the SQLite store
// but loses state on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/queue"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]*domain.QueueRecord
	closed  bool
	now     func() time.Time
}

func New() *Store {
	return &Store{
		records: make(map[string]*domain.QueueRecord),
		now:     time.Now,
	}
}

// NewWithClock injects a clock for deterministic tests.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.now = now
	return s
}

func (s *Store) Enqueue(_ context.Context, txType domain.TransactionType, payload []byte) (*domain.QueueRecord, error) {
	if !txType.Valid() || len(payload) == 0 {
		return nil, queue.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, queue.ErrClosed
	}

	now := s.now().UTC()
	record := &domain.QueueRecord{
		ID:          uuid.NewString(),
		Type:        txType,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   now,
		Status:      domain.QueuePending,
		NextRetryAt: now,
	}
	s.records[record.ID] = record

	copied := *record
	return &copied, nil
}

func (s *Store) ListReady(_ context.Context, now time.Time) ([]domain.QueueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, queue.ErrClosed
	}

	ready := make([]domain.QueueRecord, 0, len(s.records))
	for _, record := range s.records {
		if record.Status != domain.QueuePending {
			continue
		}
		if record.NextRetryAt.After(now) {
			continue
		}
		ready = append(ready, *record)
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].ID < ready[j].ID
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	return ready, nil
}

func (s *Store) MarkSyncing(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return queue.ErrClosed
	}

	for _, id := range ids {
		record, ok := s.records[id]
		if !ok {
			return queue.ErrNotFound
		}
		if record.Status != domain.QueuePending {
			return queue.ErrInvalidRecord
		}
	}
	for _, id := range ids {
		s.records[id].Status = domain.QueueSyncing
	}
	return nil
}

func (s *Store) MarkCompleted(_ context.Context, id string) error {
	return s.transition(id, domain.QueueSyncing, func(record *domain.QueueRecord) {
		record.Status = domain.QueueCompleted
		record.LastError = ""
	})
}

func (s *Store) MarkFailedRetry(_ context.Context, id string, reason string, nextRetryAt time.Time) error {
	return s.transition(id, domain.QueueSyncing, func(record *domain.QueueRecord) {
		record.Status = domain.QueuePending
		record.Attempts++
		record.LastError = reason
		record.NextRetryAt = nextRetryAt.UTC()
	})
}

func (s *Store) MarkFailedTerminal(_ context.Context, id string, reason string) error {
	return s.transition(id, domain.QueueSyncing, func(record *domain.QueueRecord) {
		record.Status = domain.QueueFailed
		record.Attempts++
		record.LastError = reason
	})
}

func (s *Store) transition(id string, from domain.QueueStatus, apply func(*domain.QueueRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return queue.ErrClosed
	}

	record, ok := s.records[id]
	if !ok {
		return queue.ErrNotFound
	}
	if record.Status != from {
		return queue.ErrInvalidRecord
	}
	apply(record)
	return nil
}

func (s *Store) ResetSyncing(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, queue.ErrClosed
	}

	reset := 0
	for _, record := range s.records {
		if record.Status == domain.QueueSyncing {
			record.Status = domain.QueuePending
			reset++
		}
	}
	return reset, nil
}

func (s *Store) PendingCount(_ context.Context) (int, error) {
	return s.countByStatus(domain.QueuePending)
}

func (s *Store) FailedCount(_ context.Context) (int, error) {
	return s.countByStatus(domain.QueueFailed)
}

func (s *Store) countByStatus(status domain.QueueStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, queue.ErrClosed
	}

	count := 0
	for _, record := range s.records {
		if record.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *Store) Prune(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, queue.ErrClosed
	}

	pruned := 0
	for id, record := range s.records {
		if record.Status == domain.QueueCompleted && record.CreatedAt.Before(olderThan) {
			delete(s.records, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Get returns a copy of a record by id, for tests.
func (s *Store) Get(id string) (*domain.QueueRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, false
	}
	copied := *record
	return &copied, true
}

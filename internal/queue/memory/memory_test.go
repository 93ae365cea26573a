package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/queue"
)

func TestEnqueueValidation(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, domain.TransactionType("void"), []byte(`{}`)); !errors.Is(err, queue.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord for unknown type, got %v", err)
	}
	if _, err := s.Enqueue(ctx, domain.TxTypeSale, nil); !errors.Is(err, queue.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord for empty payload, got %v", err)
	}

	rec, err := s.Enqueue(ctx, domain.TxTypeSale, []byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if rec.ID == "" || rec.Status != domain.QueuePending {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestListReadyOrderAndRetryGate(t *testing.T) {
	base := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	clock := base
	s := NewWithClock(func() time.Time { return clock })
	ctx := context.Background()

	first, _ := s.Enqueue(ctx, domain.TxTypeSale, []byte(`{"n":1}`))
	clock = clock.Add(time.Second)
	second, _ := s.Enqueue(ctx, domain.TxTypeSale, []byte(`{"n":2}`))
	clock = clock.Add(time.Second)

	ready, err := s.ListReady(ctx, clock)
	if err != nil {
		t.Fatalf("list ready: %v", err)
	}
	if len(ready) != 2 || ready[0].ID != first.ID || ready[1].ID != second.ID {
		t.Fatalf("expected oldest-first order, got %v", ready)
	}

	if err := s.MarkSyncing(ctx, []string{first.ID}); err != nil {
		t.Fatalf("mark syncing: %v", err)
	}
	if err := s.MarkFailedRetry(ctx, first.ID, "timeout", clock.Add(5*time.Second)); err != nil {
		t.Fatalf("mark failed retry: %v", err)
	}

	ready, _ = s.ListReady(ctx, clock)
	if len(ready) != 1 || ready[0].ID != second.ID {
		t.Fatalf("retrying record should be hidden, got %v", ready)
	}
	ready, _ = s.ListReady(ctx, clock.Add(5*time.Second))
	if len(ready) != 2 {
		t.Fatalf("retrying record should be visible when due, got %v", ready)
	}
}

func TestMarkSyncingIsAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, _ := s.Enqueue(ctx, domain.TxTypeSale, []byte(`{}`))
	b, _ := s.Enqueue(ctx, domain.TxTypeSale, []byte(`{}`))
	if err := s.MarkSyncing(ctx, []string{b.ID}); err != nil {
		t.Fatalf("mark syncing: %v", err)
	}

	if err := s.MarkSyncing(ctx, []string{a.ID, b.ID}); !errors.Is(err, queue.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	got, _ := s.Get(a.ID)
	if got.Status != domain.QueuePending {
		t.Fatalf("failed batch mark must not touch other records, got %s", got.Status)
	}
}

func TestTransitionGuards(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec, _ := s.Enqueue(ctx, domain.TxTypeExpense, []byte(`{}`))

	if err := s.MarkCompleted(ctx, rec.ID); !errors.Is(err, queue.ErrInvalidRecord) {
		t.Fatalf("completing a pending record must fail, got %v", err)
	}
	if err := s.MarkCompleted(ctx, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.MarkSyncing(ctx, []string{rec.ID}); err != nil {
		t.Fatalf("mark syncing: %v", err)
	}
	if err := s.MarkFailedTerminal(ctx, rec.ID, "unknown category"); err != nil {
		t.Fatalf("mark failed terminal: %v", err)
	}

	failed, _ := s.FailedCount(ctx)
	if failed != 1 {
		t.Fatalf("expected 1 failed, got %d", failed)
	}
}

func TestResetSyncing(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, _ := s.Enqueue(ctx, domain.TxTypeSale, []byte(`{}`))
	b, _ := s.Enqueue(ctx, domain.TxTypeSale, []byte(`{}`))
	if err := s.MarkSyncing(ctx, []string{a.ID, b.ID}); err != nil {
		t.Fatalf("mark syncing: %v", err)
	}

	reset, err := s.ResetSyncing(ctx)
	if err != nil {
		t.Fatalf("reset syncing: %v", err)
	}
	if reset != 2 {
		t.Fatalf("expected 2 reset, got %d", reset)
	}
	pending, _ := s.PendingCount(ctx)
	if pending != 2 {
		t.Fatalf("expected 2 pending after reset, got %d", pending)
	}
}

func TestPrune(t *testing.T) {
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := old
	s := NewWithClock(func() time.Time { return clock })
	ctx := context.Background()

	done, _ := s.Enqueue(ctx, domain.TxTypeSale, []byte(`{}`))
	_ = s.MarkSyncing(ctx, []string{done.ID})
	_ = s.MarkCompleted(ctx, done.ID)

	clock = old.Add(100 * time.Hour)
	fresh, _ := s.Enqueue(ctx, domain.TxTypeSale, []byte(`{}`))
	_ = s.MarkSyncing(ctx, []string{fresh.ID})
	_ = s.MarkCompleted(ctx, fresh.ID)

	pruned, err := s.Prune(ctx, clock.Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", pruned)
	}
	if _, ok := s.Get(fresh.ID); !ok {
		t.Fatal("recent completed record should survive prune")
	}
}

func TestClosedStoreRefusesWork(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Close()

	if _, err := s.Enqueue(ctx, domain.TxTypeSale, []byte(`{}`)); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := s.PendingCount(ctx); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// Package alert delivers operational signals that need a human: stock driven
// negative by an offline sale, a transaction that exhausted its retries, a
// queue backlog past its cap.
package alert

import (
	"context"
	"log/slog"
	"time"
)

// Kind classifies an alert event.
type Kind string

const (
	KindStockDiscrepancy Kind = "stock_discrepancy"
	KindSyncFailure      Kind = "sync_failure"
	KindQueueBacklog     Kind = "queue_backlog"
)

// Event is one alertable occurrence.
type Event struct {
	Kind       Kind      `json:"kind"`
	BranchID   string    `json:"branch_id,omitempty"`
	TerminalID string    `json:"terminal_id,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers alert events. Delivery failure must never fail the
// operation that raised the alert.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier writes alerts to the structured log. It is the default sink
// and always available.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) {
	n.logger.Warn("alert raised",
		"kind", string(event.Kind),
		"branch_id", event.BranchID,
		"terminal_id", event.TerminalID,
		"entity_id", event.EntityID,
		"detail", event.Detail,
	)
}

// NopNotifier discards alerts, for tests.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// Package dispatcher drains the terminal queue to the branch server. One
// pass runs at a time; triggers arriving mid-pass set a rerun flag instead
// of starting a second pass, so batch submission is strictly sequential and
// queue order is preserved on the wire.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cabangpos/backend/internal/alert"
	"cabangpos/backend/internal/connectivity"
	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/metrics"
	"cabangpos/backend/internal/queue"
	"cabangpos/backend/internal/syncclient"
)

// Submitter posts one batch to the server. A non-nil error means the whole
// batch failed at the transport level; per-item outcomes come back in the
// response.
type Submitter interface {
	SubmitBatch(ctx context.Context, batch domain.SyncBatchRequest) (*domain.SyncBatchResponse, error)
}

// Link is the connectivity surface the dispatcher needs.
type Link interface {
	IsOnline() bool
	ReportFailure()
	ReportSuccess()
	Subscribe() <-chan connectivity.State
}

// Config tunes a Dispatcher. Zero values fall back to defaults.
type Config struct {
	BranchID   string
	TerminalID string
	BatchSize  int
	Interval   time.Duration
	// RetrySchedule maps a record's failure count to its next retry delay.
	// A record whose failures reach MaxAttempts is parked as Failed.
	RetrySchedule []time.Duration
	MaxAttempts   int
	BacklogCap    int
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if len(c.RetrySchedule) == 0 {
		c.RetrySchedule = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BacklogCap <= 0 {
		c.BacklogCap = 500
	}
}

type Dispatcher struct {
	store     queue.Store
	submitter Submitter
	link      Link
	notifier  alert.Notifier
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time

	mu         sync.Mutex
	inProgress bool
	lastSyncAt *time.Time

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func New(store queue.Store, submitter Submitter, link Link, notifier alert.Notifier, logger *slog.Logger, cfg Config) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		store:     store,
		submitter: submitter,
		link:      link,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the trigger loop: reconnect events, the periodic timer, and
// Kick all funnel into runPass.
func (d *Dispatcher) Start(ctx context.Context) {
	reconnect := d.link.Subscribe()
	go func() {
		defer close(d.done)

		ticker := time.NewTicker(d.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			case state := <-reconnect:
				if state == connectivity.Online {
					d.runPass(ctx)
				}
			case <-ticker.C:
				d.runPass(ctx)
			case <-d.kick:
				d.runPass(ctx)
			}
		}
	}()
}

// Stop ends the trigger loop and waits for any in-flight pass to settle, so
// no record is left Syncing by a clean shutdown.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

// Kick requests a pass, e.g. right after an enqueue. Never blocks.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Status is the agent-local sync view for the cashier UI.
func (d *Dispatcher) Status(ctx context.Context) (domain.SyncStatus, error) {
	pending, err := d.store.PendingCount(ctx)
	if err != nil {
		return domain.SyncStatus{}, err
	}
	failed, err := d.store.FailedCount(ctx)
	if err != nil {
		return domain.SyncStatus{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return domain.SyncStatus{
		PendingCount:   pending,
		FailedCount:    failed,
		LastSyncAt:     d.lastSyncAt,
		SyncInProgress: d.inProgress,
		Online:         d.link.IsOnline(),
	}, nil
}

// runPass drains the ready queue in batches until nothing is ready, the
// link drops, or a transport failure tells us to back off. The rerun flag
// is implicit: runPass is only called from the single trigger loop, and it
// keeps looping while work remains, so a trigger landing mid-pass at most
// re-queues one Kick.
func (d *Dispatcher) runPass(ctx context.Context) {
	if !d.link.IsOnline() {
		return
	}

	d.mu.Lock()
	d.inProgress = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inProgress = false
		d.mu.Unlock()
	}()

	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		ready, err := d.store.ListReady(ctx, d.now())
		if err != nil {
			d.logger.Error("listing ready queue records", "error", err)
			metrics.DispatchPasses.WithLabelValues("store_error").Inc()
			return
		}
		if len(ready) == 0 {
			d.updateBacklogGauge(ctx)
			metrics.DispatchPasses.WithLabelValues("drained").Inc()
			return
		}

		batch := ready
		if len(batch) > d.cfg.BatchSize {
			batch = batch[:d.cfg.BatchSize]
		}

		ok := d.submitBatch(ctx, batch)
		d.updateBacklogGauge(ctx)
		if !ok {
			metrics.DispatchPasses.WithLabelValues("transport_failure").Inc()
			return
		}
	}
}

// submitBatch sends one batch and settles every record in it. Returns false
// when the transport failed and the pass should stop.
func (d *Dispatcher) submitBatch(ctx context.Context, records []domain.QueueRecord) bool {
	ids := make([]string, len(records))
	items := make([]domain.BatchItem, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		items[i] = domain.BatchItem{
			TransactionID: rec.ID,
			Type:          rec.Type,
			CreatedAt:     rec.CreatedAt,
			Payload:       rec.Payload,
		}
	}

	if err := d.store.MarkSyncing(ctx, ids); err != nil {
		d.logger.Error("marking batch syncing", "error", err, "count", len(ids))
		return false
	}

	resp, err := d.submitter.SubmitBatch(ctx, domain.SyncBatchRequest{
		BranchID:   d.cfg.BranchID,
		TerminalID: d.cfg.TerminalID,
		Items:      items,
	})
	if err != nil {
		// The whole batch failed before the server reported outcomes.
		// Every record goes through the transient path.
		d.link.ReportFailure()
		d.logger.Warn("batch submission failed", "error", err, "count", len(records))
		for _, rec := range records {
			d.settleTransient(ctx, rec, err.Error())
		}
		return false
	}
	d.link.ReportSuccess()

	results := make(map[string]domain.ItemResult, len(resp.Results))
	for _, res := range resp.Results {
		results[res.TransactionID] = res
	}

	for _, rec := range records {
		res, ok := results[rec.ID]
		if !ok {
			// The server did not report this item. Treat as transient so
			// it is retried rather than silently dropped.
			d.settleTransient(ctx, rec, "no result in batch response")
			continue
		}
		d.settleResult(ctx, rec, res)
	}

	d.mu.Lock()
	now := d.now()
	d.lastSyncAt = &now
	d.mu.Unlock()
	return true
}

func (d *Dispatcher) settleResult(ctx context.Context, rec domain.QueueRecord, res domain.ItemResult) {
	switch res.Outcome {
	case domain.OutcomeApplied:
		if err := d.store.MarkCompleted(ctx, rec.ID); err != nil {
			d.logger.Error("marking record completed", "id", rec.ID, "error", err)
		}

	case domain.OutcomeDiscrepancy:
		if err := d.store.MarkCompleted(ctx, rec.ID); err != nil {
			d.logger.Error("marking record completed", "id", rec.ID, "error", err)
		}
		d.notifier.Notify(ctx, alert.Event{
			Kind:       alert.KindStockDiscrepancy,
			BranchID:   d.cfg.BranchID,
			TerminalID: d.cfg.TerminalID,
			EntityID:   rec.ID,
			Detail:     res.Discrepancy,
			OccurredAt: d.now(),
		})

	case domain.OutcomeRejected:
		if err := d.store.MarkFailedTerminal(ctx, rec.ID, res.Error); err != nil {
			d.logger.Error("marking record failed", "id", rec.ID, "error", err)
		}
		d.notifier.Notify(ctx, alert.Event{
			Kind:       alert.KindSyncFailure,
			BranchID:   d.cfg.BranchID,
			TerminalID: d.cfg.TerminalID,
			EntityID:   rec.ID,
			Detail:     "rejected by server: " + res.Error,
			OccurredAt: d.now(),
		})

	default:
		d.settleTransient(ctx, rec, res.Error)
	}
}

// settleTransient applies the retry schedule. A record that has burned all
// its attempts is parked as Failed and an alert is raised; otherwise it goes
// back to Pending with the next delay from the schedule.
func (d *Dispatcher) settleTransient(ctx context.Context, rec domain.QueueRecord, reason string) {
	if rec.Attempts+1 >= d.cfg.MaxAttempts {
		if err := d.store.MarkFailedTerminal(ctx, rec.ID, reason); err != nil {
			d.logger.Error("marking record failed", "id", rec.ID, "error", err)
			return
		}
		d.notifier.Notify(ctx, alert.Event{
			Kind:       alert.KindSyncFailure,
			BranchID:   d.cfg.BranchID,
			TerminalID: d.cfg.TerminalID,
			EntityID:   rec.ID,
			Detail:     "retries exhausted: " + reason,
			OccurredAt: d.now(),
		})
		return
	}

	delay := d.cfg.RetrySchedule[len(d.cfg.RetrySchedule)-1]
	if rec.Attempts < len(d.cfg.RetrySchedule) {
		delay = d.cfg.RetrySchedule[rec.Attempts]
	}
	if err := d.store.MarkFailedRetry(ctx, rec.ID, reason, d.now().Add(delay)); err != nil {
		d.logger.Error("marking record for retry", "id", rec.ID, "error", err)
	}
}

func (d *Dispatcher) updateBacklogGauge(ctx context.Context) {
	pending, err := d.store.PendingCount(ctx)
	if err != nil {
		if !errors.Is(err, queue.ErrClosed) {
			d.logger.Error("reading pending count", "error", err)
		}
		return
	}
	metrics.QueueBacklog.Set(float64(pending))

	if pending > d.cfg.BacklogCap {
		d.notifier.Notify(ctx, alert.Event{
			Kind:       alert.KindQueueBacklog,
			BranchID:   d.cfg.BranchID,
			TerminalID: d.cfg.TerminalID,
			Detail:     "pending queue backlog exceeds cap",
			OccurredAt: d.now(),
		})
	}
}

var _ Submitter = (*syncclient.Client)(nil)

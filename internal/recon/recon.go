// Package recon applies replayed terminal transactions to the branch state.
// The contract is last-commit-wins: a sale recorded offline is a fact that
// already happened at the till, so it is never rejected for stock. Stock
// that goes negative is flagged, not refused.
package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"cabangpos/backend/internal/alert"
	"cabangpos/backend/internal/cache"
	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/metrics"
	"cabangpos/backend/internal/store"
	"cabangpos/backend/internal/xid"
)

const outcomeCacheTTL = 24 * time.Hour

type Service struct {
	repo     store.Repository
	outcomes cache.OutcomeCache
	notifier alert.Notifier
	logger   *slog.Logger
	now      func() time.Time

	branchMu sync.Mutex
	branches map[string]*sync.Mutex
}

func NewService(repo store.Repository, outcomes cache.OutcomeCache, notifier alert.Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		outcomes: outcomes,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		branches: make(map[string]*sync.Mutex),
	}
}

// WithClock injects a clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// branchLock serializes reconciliation per branch. Items for different
// branches apply in parallel; within a branch the read-compute-write on
// stock must not interleave.
func (s *Service) branchLock(branchID string) *sync.Mutex {
	s.branchMu.Lock()
	defer s.branchMu.Unlock()

	mu, ok := s.branches[branchID]
	if !ok {
		mu = &sync.Mutex{}
		s.branches[branchID] = mu
	}
	return mu
}

// ApplyBatch applies items sequentially and independently. One bad item
// never fails its neighbors; results come back in request order.
func (s *Service) ApplyBatch(ctx context.Context, req domain.SyncBatchRequest) domain.SyncBatchResponse {
	timer := time.Now()
	defer func() {
		metrics.BatchApplyDuration.Observe(time.Since(timer).Seconds())
	}()

	results := make([]domain.ItemResult, 0, len(req.Items))
	for _, item := range req.Items {
		result := s.Apply(ctx, req.BranchID, req.TerminalID, item)
		metrics.SyncedTransactions.WithLabelValues(string(item.Type), string(result.Outcome)).Inc()
		results = append(results, result)
	}
	return domain.SyncBatchResponse{Results: results}
}

// Apply reconciles one transaction. The idempotency ledger is consulted
// before any side effect; a repeat delivery returns the stored outcome.
func (s *Service) Apply(ctx context.Context, branchID string, terminalID string, item domain.BatchItem) domain.ItemResult {
	if item.TransactionID == "" || !item.Type.Valid() || len(item.Payload) == 0 {
		return domain.ItemResult{
			TransactionID: item.TransactionID,
			Outcome:       domain.OutcomeRejected,
			Error:         "malformed batch item",
		}
	}

	if entry := s.lookupOutcome(ctx, item.TransactionID); entry != nil {
		return resultFromEntry(*entry)
	}

	mu := s.branchLock(branchID)
	mu.Lock()
	result, err := s.applyLocked(ctx, branchID, terminalID, item)
	mu.Unlock()

	if err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			// Lost a replay race: another delivery of the same transaction
			// committed first. Its outcome is the outcome.
			if entry := s.lookupOutcome(ctx, item.TransactionID); entry != nil {
				return resultFromEntry(*entry)
			}
		}
		s.logger.Error("reconciliation failed",
			"transaction_id", item.TransactionID,
			"type", string(item.Type),
			"error", err,
		)
		return domain.ItemResult{
			TransactionID: item.TransactionID,
			Outcome:       domain.OutcomeTransientFailed,
			Error:         "internal error",
		}
	}
	return result
}

func (s *Service) lookupOutcome(ctx context.Context, transactionID string) *domain.IdempotencyEntry {
	if entry, hit, err := s.outcomes.Get(ctx, transactionID); err == nil && hit {
		return entry
	}

	entry, err := s.repo.GetIdempotencyEntry(ctx, transactionID)
	if err != nil {
		return nil
	}
	if cacheErr := s.outcomes.Set(ctx, *entry, outcomeCacheTTL); cacheErr != nil {
		s.logger.Debug("outcome cache write failed", "error", cacheErr)
	}
	return entry
}

func (s *Service) applyLocked(ctx context.Context, branchID string, terminalID string, item domain.BatchItem) (domain.ItemResult, error) {
	switch item.Type {
	case domain.TxTypeSale:
		return s.applySale(ctx, branchID, terminalID, item)
	case domain.TxTypePurchase:
		return s.applyPurchase(ctx, branchID, terminalID, item)
	case domain.TxTypeExpense:
		return s.applyExpense(ctx, branchID, terminalID, item)
	case domain.TxTypeInventoryAdjustment:
		return s.applyAdjustment(ctx, branchID, terminalID, item)
	default:
		return s.reject(ctx, item, "unsupported transaction type")
	}
}

func (s *Service) applySale(ctx context.Context, branchID string, terminalID string, item domain.BatchItem) (domain.ItemResult, error) {
	var req domain.SaleRequest
	if err := json.Unmarshal(item.Payload, &req); err != nil {
		return s.reject(ctx, item, "invalid sale payload")
	}
	if len(req.Lines) == 0 {
		return s.reject(ctx, item, "sale has no lines")
	}
	for _, line := range req.Lines {
		if line.SKU == "" || line.Qty < 1 || line.UnitPriceCents < 0 {
			return s.reject(ctx, item, fmt.Sprintf("invalid sale line for sku %q", line.SKU))
		}
	}

	skus := uniqueSKUs(req.Lines)
	products, err := s.repo.GetProductsBySKUs(ctx, branchID, skus)
	if err != nil {
		return domain.ItemResult{}, err
	}
	for _, sku := range skus {
		if _, ok := products[sku]; !ok {
			return s.reject(ctx, item, fmt.Sprintf("unknown sku %s", sku))
		}
	}

	// Unconditional decrement. The stock number is bookkeeping; the goods
	// already left the shelf.
	var flagged []string
	for _, line := range req.Lines {
		p := products[line.SKU]
		p.StockQty -= line.Qty
		if p.StockQty < 0 {
			p.HasDiscrepancy = true
			flagged = append(flagged, fmt.Sprintf("%s=%d", line.SKU, p.StockQty))
		}
		products[line.SKU] = p
	}

	subtotal := int64(0)
	for _, line := range req.Lines {
		subtotal += int64(line.Qty) * line.UnitPriceCents
	}
	tax := int64(float64(subtotal-req.DiscountCents) * req.TaxRatePercent / 100)
	now := s.now().UTC()

	sale := domain.Sale{
		ID:             xid.New("sale"),
		BranchID:       branchID,
		TerminalID:     terminalID,
		TransactionID:  item.TransactionID,
		SubtotalCents:  subtotal,
		DiscountCents:  req.DiscountCents,
		TaxCents:       tax,
		TotalCents:     subtotal - req.DiscountCents + tax,
		PaymentMethod:  req.PaymentMethod,
		SoldAt:         item.CreatedAt.UTC(),
		RecordedAt:     now,
		Lines:          req.Lines,
		HadDiscrepancy: len(flagged) > 0,
	}

	entry := domain.IdempotencyEntry{
		TransactionID:  item.TransactionID,
		Outcome:        domain.OutcomeApplied,
		ResultEntityID: sale.ID,
		AppliedAt:      now,
	}
	if len(flagged) > 0 {
		entry.Outcome = domain.OutcomeDiscrepancy
		entry.Discrepancy = "stock negative: " + strings.Join(flagged, ", ")
	}

	if err := s.repo.ApplySale(ctx, branchID, sale, products, entry); err != nil {
		return domain.ItemResult{}, err
	}

	s.finishApplied(ctx, branchID, terminalID, entry, "sale", sale.ID)
	if len(flagged) > 0 {
		metrics.StockDiscrepancies.Inc()
		s.notifier.Notify(ctx, alert.Event{
			Kind:       alert.KindStockDiscrepancy,
			BranchID:   branchID,
			TerminalID: terminalID,
			EntityID:   sale.ID,
			Detail:     entry.Discrepancy,
			OccurredAt: now,
		})
	}
	return resultFromEntry(entry), nil
}

func (s *Service) applyPurchase(ctx context.Context, branchID string, terminalID string, item domain.BatchItem) (domain.ItemResult, error) {
	var req domain.PurchaseRequest
	if err := json.Unmarshal(item.Payload, &req); err != nil {
		return s.reject(ctx, item, "invalid purchase payload")
	}
	if len(req.Lines) == 0 {
		return s.reject(ctx, item, "purchase has no lines")
	}
	for _, line := range req.Lines {
		if line.SKU == "" || line.Qty < 1 || line.CostCents < 0 {
			return s.reject(ctx, item, fmt.Sprintf("invalid purchase line for sku %q", line.SKU))
		}
	}

	skus := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		skus = append(skus, line.SKU)
	}
	products, err := s.repo.GetProductsBySKUs(ctx, branchID, skus)
	if err != nil {
		return domain.ItemResult{}, err
	}
	for _, sku := range skus {
		if _, ok := products[sku]; !ok {
			return s.reject(ctx, item, fmt.Sprintf("unknown sku %s", sku))
		}
	}

	// Restock clears the discrepancy flag once the count is back above
	// water; the negative period stays visible in the sale records.
	total := int64(0)
	for _, line := range req.Lines {
		p := products[line.SKU]
		p.StockQty += line.Qty
		if p.StockQty >= 0 {
			p.HasDiscrepancy = false
		}
		products[line.SKU] = p
		total += int64(line.Qty) * line.CostCents
	}

	now := s.now().UTC()
	purchase := domain.Purchase{
		ID:            xid.New("pur"),
		BranchID:      branchID,
		TransactionID: item.TransactionID,
		SupplierID:    req.SupplierID,
		TotalCents:    total,
		RecordedAt:    now,
		Lines:         req.Lines,
	}
	entry := domain.IdempotencyEntry{
		TransactionID:  item.TransactionID,
		Outcome:        domain.OutcomeApplied,
		ResultEntityID: purchase.ID,
		AppliedAt:      now,
	}

	if err := s.repo.ApplyPurchase(ctx, branchID, purchase, products, entry); err != nil {
		return domain.ItemResult{}, err
	}
	s.finishApplied(ctx, branchID, terminalID, entry, "purchase", purchase.ID)
	return resultFromEntry(entry), nil
}

func (s *Service) applyExpense(ctx context.Context, branchID string, terminalID string, item domain.BatchItem) (domain.ItemResult, error) {
	var req domain.ExpenseRequest
	if err := json.Unmarshal(item.Payload, &req); err != nil {
		return s.reject(ctx, item, "invalid expense payload")
	}
	if req.Category == "" || req.AmountCents < 1 {
		return s.reject(ctx, item, "expense needs a category and a positive amount")
	}

	now := s.now().UTC()
	expense := domain.Expense{
		ID:            xid.New("exp"),
		BranchID:      branchID,
		TransactionID: item.TransactionID,
		Category:      req.Category,
		Description:   req.Description,
		AmountCents:   req.AmountCents,
		RecordedAt:    now,
	}
	entry := domain.IdempotencyEntry{
		TransactionID:  item.TransactionID,
		Outcome:        domain.OutcomeApplied,
		ResultEntityID: expense.ID,
		AppliedAt:      now,
	}

	if err := s.repo.ApplyExpense(ctx, branchID, expense, entry); err != nil {
		return domain.ItemResult{}, err
	}
	s.finishApplied(ctx, branchID, terminalID, entry, "expense", expense.ID)
	return resultFromEntry(entry), nil
}

func (s *Service) applyAdjustment(ctx context.Context, branchID string, terminalID string, item domain.BatchItem) (domain.ItemResult, error) {
	var req domain.AdjustmentRequest
	if err := json.Unmarshal(item.Payload, &req); err != nil {
		return s.reject(ctx, item, "invalid adjustment payload")
	}
	if len(req.Items) == 0 {
		return s.reject(ctx, item, "adjustment has no items")
	}

	skus := make([]string, 0, len(req.Items))
	for _, adj := range req.Items {
		if adj.SKU == "" {
			return s.reject(ctx, item, "adjustment item missing sku")
		}
		skus = append(skus, adj.SKU)
	}
	products, err := s.repo.GetProductsBySKUs(ctx, branchID, skus)
	if err != nil {
		return domain.ItemResult{}, err
	}
	for _, sku := range skus {
		if _, ok := products[sku]; !ok {
			return s.reject(ctx, item, fmt.Sprintf("unknown sku %s", sku))
		}
	}

	// A physical count is authoritative: it overwrites the running number
	// and settles any open discrepancy.
	for _, adj := range req.Items {
		p := products[adj.SKU]
		p.StockQty = adj.CountedQty
		p.HasDiscrepancy = adj.CountedQty < 0
		products[adj.SKU] = p
	}

	now := s.now().UTC()
	adjustmentID := xid.New("adj")
	entry := domain.IdempotencyEntry{
		TransactionID:  item.TransactionID,
		Outcome:        domain.OutcomeApplied,
		ResultEntityID: adjustmentID,
		AppliedAt:      now,
	}

	if err := s.repo.ApplyAdjustment(ctx, branchID, products, entry); err != nil {
		return domain.ItemResult{}, err
	}
	s.finishApplied(ctx, branchID, terminalID, entry, "inventory_adjustment", adjustmentID)
	return resultFromEntry(entry), nil
}

// reject records a permanent rejection in the ledger so a replayed bad item
// gets the same answer without re-validation. Losing the race to another
// delivery is fine; the stored outcome wins either way.
func (s *Service) reject(ctx context.Context, item domain.BatchItem, reason string) (domain.ItemResult, error) {
	entry := domain.IdempotencyEntry{
		TransactionID: item.TransactionID,
		Outcome:       domain.OutcomeRejected,
		Discrepancy:   "",
		AppliedAt:     s.now().UTC(),
	}
	if err := s.repo.RecordIdempotencyEntry(ctx, entry); err != nil && !errors.Is(err, store.ErrDuplicateTransaction) {
		s.logger.Error("recording rejection", "transaction_id", item.TransactionID, "error", err)
	}
	if cacheErr := s.outcomes.Set(ctx, entry, outcomeCacheTTL); cacheErr != nil {
		s.logger.Debug("outcome cache write failed", "error", cacheErr)
	}

	return domain.ItemResult{
		TransactionID: item.TransactionID,
		Outcome:       domain.OutcomeRejected,
		Error:         reason,
	}, nil
}

func (s *Service) finishApplied(ctx context.Context, branchID string, terminalID string, entry domain.IdempotencyEntry, entityType string, entityID string) {
	if err := s.outcomes.Set(ctx, entry, outcomeCacheTTL); err != nil {
		s.logger.Debug("outcome cache write failed", "error", err)
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		BranchID:      branchID,
		TerminalID:    terminalID,
		Action:        "sync_apply",
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        string(entry.Outcome),
		TransactionID: entry.TransactionID,
		CreatedAt:     entry.AppliedAt,
	}); err != nil {
		s.logger.Error("writing audit log", "transaction_id", entry.TransactionID, "error", err)
	}
}

func resultFromEntry(entry domain.IdempotencyEntry) domain.ItemResult {
	result := domain.ItemResult{
		TransactionID:  entry.TransactionID,
		Outcome:        entry.Outcome,
		ResultEntityID: entry.ResultEntityID,
		Discrepancy:    entry.Discrepancy,
	}
	if entry.Outcome == domain.OutcomeRejected {
		result.Error = "previously rejected"
	}
	return result
}

func uniqueSKUs(lines []domain.SaleLine) []string {
	seen := make(map[string]struct{}, len(lines))
	skus := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.SKU]; ok {
			continue
		}
		seen[line.SKU] = struct{}{}
		skus = append(skus, line.SKU)
	}
	sort.Strings(skus)
	return skus
}

// Package memory implements store.Repository with in-process maps. It backs
// tests and dev mode; the guarantees mirror the Postgres implementation,
// with the package mutex standing in for database transactions.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/store"
	"cabangpos/backend/internal/xid"
)

type branchKey struct {
	branchID string
	sku      string
}

type Store struct {
	mu          sync.RWMutex
	products    map[branchKey]domain.Product
	sales       map[string]domain.Sale
	purchases   map[string]domain.Purchase
	expenses    map[string]domain.Expense
	idempotency map[string]domain.IdempotencyEntry
	terminals   map[string]domain.TerminalAccount
	auditLogs   []domain.AuditLog
}

func New() *Store {
	return &Store{
		products:    make(map[branchKey]domain.Product),
		sales:       make(map[string]domain.Sale),
		purchases:   make(map[string]domain.Purchase),
		expenses:    make(map[string]domain.Expense),
		idempotency: make(map[string]domain.IdempotencyEntry),
		terminals:   make(map[string]domain.TerminalAccount),
	}
}

// NewSeeded returns a store pre-loaded with a small branch catalog, for dev
// mode and tests.
func NewSeeded(branchID string) *Store {
	s := New()
	seed := []domain.Product{
		{SKU: "COLA-330", Name: "Cola Can 330ml", Category: "beverage", PriceCents: 250, StockQty: 48, Active: true},
		{SKU: "WTR-600", Name: "Water Bottle 600ml", Category: "beverage", PriceCents: 150, StockQty: 120, Active: true},
		{SKU: "CHOC-BAR", Name: "Chocolate Bar", Category: "snack", PriceCents: 300, StockQty: 36, Active: true},
		{SKU: "BREAD-WH", Name: "White Bread Loaf", Category: "bakery", PriceCents: 450, StockQty: 12, Active: true},
	}
	for _, p := range seed {
		s.products[branchKey{branchID, p.SKU}] = p
	}
	return s
}

func (s *Store) GetProductBySKU(_ context.Context, branchID string, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[branchKey{branchID, sku}]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, branchID string, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if product, ok := s.products[branchKey{branchID, sku}]; ok {
			out[sku] = product
		}
	}
	return out, nil
}

func (s *Store) UpsertProduct(_ context.Context, branchID string, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.SKU) == "" {
		return nil, store.ErrInvalidPayload
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[branchKey{branchID, product.SKU}] = product
	copied := product
	return &copied, nil
}

func (s *Store) ListDiscrepancies(_ context.Context, branchID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Product
	for key, product := range s.products {
		if key.branchID == branchID && product.HasDiscrepancy {
			out = append(out, product)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *Store) ApplySale(_ context.Context, branchID string, sale domain.Sale, stock map[string]domain.Product, entry domain.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.idempotency[entry.TransactionID]; exists {
		return store.ErrDuplicateTransaction
	}
	s.sales[sale.ID] = sale
	s.writeStock(branchID, stock)
	s.idempotency[entry.TransactionID] = entry
	return nil
}

func (s *Store) ApplyPurchase(_ context.Context, branchID string, purchase domain.Purchase, stock map[string]domain.Product, entry domain.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.idempotency[entry.TransactionID]; exists {
		return store.ErrDuplicateTransaction
	}
	s.purchases[purchase.ID] = purchase
	s.writeStock(branchID, stock)
	s.idempotency[entry.TransactionID] = entry
	return nil
}

func (s *Store) ApplyExpense(_ context.Context, _ string, expense domain.Expense, entry domain.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.idempotency[entry.TransactionID]; exists {
		return store.ErrDuplicateTransaction
	}
	s.expenses[expense.ID] = expense
	s.idempotency[entry.TransactionID] = entry
	return nil
}

func (s *Store) ApplyAdjustment(_ context.Context, branchID string, stock map[string]domain.Product, entry domain.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.idempotency[entry.TransactionID]; exists {
		return store.ErrDuplicateTransaction
	}
	s.writeStock(branchID, stock)
	s.idempotency[entry.TransactionID] = entry
	return nil
}

func (s *Store) writeStock(branchID string, stock map[string]domain.Product) {
	for sku, product := range stock {
		s.products[branchKey{branchID, sku}] = product
	}
}

func (s *Store) GetIdempotencyEntry(_ context.Context, transactionID string) (*domain.IdempotencyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.idempotency[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := entry
	return &copied, nil
}

func (s *Store) RecordIdempotencyEntry(_ context.Context, entry domain.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.idempotency[entry.TransactionID]; exists {
		return store.ErrDuplicateTransaction
	}
	s.idempotency[entry.TransactionID] = entry
	return nil
}

func (s *Store) PruneIdempotencyEntries(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, entry := range s.idempotency {
		if entry.AppliedAt.Before(olderThan) {
			delete(s.idempotency, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *Store) GetTerminalAccount(_ context.Context, terminalID string) (*domain.TerminalAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.terminals[terminalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := account
	return &copied, nil
}

// PutTerminalAccount registers a terminal, for dev mode and tests.
func (s *Store) PutTerminalAccount(account domain.TerminalAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminals[account.TerminalID] = account
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditLog
	for _, entry := range s.auditLogs {
		if entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetSale returns a persisted sale by id, for tests.
func (s *Store) GetSale(id string) (*domain.Sale, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, false
	}
	copied := sale
	return &copied, true
}

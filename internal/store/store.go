package store

import (
	"context"
	"errors"
	"time"

	"cabangpos/backend/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrInactiveTerminal     = errors.New("terminal inactive or unknown")
)

// Repository is the branch server's persistence surface. Write methods that
// carry a transactionID must persist the entity, the stock effect, and the
// idempotency entry atomically.
type Repository interface {
	// Products
	GetProductBySKU(ctx context.Context, branchID string, sku string) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, branchID string, skus []string) (map[string]domain.Product, error)
	UpsertProduct(ctx context.Context, branchID string, product domain.Product) (*domain.Product, error)
	ListDiscrepancies(ctx context.Context, branchID string) ([]domain.Product, error)

	// Reconciled transactions. Each Apply* persists its entity together
	// with the stock mutation and the idempotency entry in one transaction.
	ApplySale(ctx context.Context, branchID string, sale domain.Sale, stock map[string]domain.Product, entry domain.IdempotencyEntry) error
	ApplyPurchase(ctx context.Context, branchID string, purchase domain.Purchase, stock map[string]domain.Product, entry domain.IdempotencyEntry) error
	ApplyExpense(ctx context.Context, branchID string, expense domain.Expense, entry domain.IdempotencyEntry) error
	ApplyAdjustment(ctx context.Context, branchID string, stock map[string]domain.Product, entry domain.IdempotencyEntry) error

	// Idempotency ledger
	GetIdempotencyEntry(ctx context.Context, transactionID string) (*domain.IdempotencyEntry, error)
	RecordIdempotencyEntry(ctx context.Context, entry domain.IdempotencyEntry) error
	PruneIdempotencyEntries(ctx context.Context, olderThan time.Time) (int, error)

	// Terminal accounts
	GetTerminalAccount(ctx context.Context, terminalID string) (*domain.TerminalAccount, error)

	// Audit
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

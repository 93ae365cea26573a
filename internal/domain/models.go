package domain

import "time"

// TransactionType tags the payload carried by a QueueRecord.
type TransactionType string

const (
	TxTypeSale                TransactionType = "sale"
	TxTypePurchase            TransactionType = "purchase"
	TxTypeExpense             TransactionType = "expense"
	TxTypeInventoryAdjustment TransactionType = "inventory_adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxTypeSale, TxTypePurchase, TxTypeExpense, TxTypeInventoryAdjustment:
		return true
	default:
		return false
	}
}

// QueueStatus is the lifecycle state of a queued transaction on the terminal.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueSyncing   QueueStatus = "syncing"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
)

// QueueRecord is one durable unit of offline work. ID doubles as the
// idempotency key on the server, so it is never regenerated on retry.
type QueueRecord struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	Payload     []byte          `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	Status      QueueStatus     `json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	NextRetryAt time.Time       `json:"next_retry_at"`
}

// Outcome values reported by the server per transaction.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeDiscrepancy     Outcome = "applied_with_discrepancy"
	OutcomeRejected        Outcome = "permanent_rejection"
	OutcomeTransientFailed Outcome = "transient_failure"
)

// BatchItem is one transaction inside a sync batch on the wire.
type BatchItem struct {
	TransactionID string          `json:"transaction_id"`
	Type          TransactionType `json:"type"`
	CreatedAt     time.Time       `json:"created_at"`
	Payload       []byte          `json:"payload"`
}

// SyncBatchRequest is the body of POST /api/v1/sync/batch. Items are ordered
// oldest first and the server applies them in that order.
type SyncBatchRequest struct {
	BranchID   string      `json:"branch_id"`
	TerminalID string      `json:"terminal_id"`
	Items      []BatchItem `json:"items"`
}

// ItemResult reports the server's decision for one batch item. The results
// array matches the request item order.
type ItemResult struct {
	TransactionID  string  `json:"transaction_id"`
	Outcome        Outcome `json:"outcome"`
	ResultEntityID string  `json:"result_entity_id,omitempty"`
	Discrepancy    string  `json:"discrepancy,omitempty"`
	Error          string  `json:"error,omitempty"`
}

type SyncBatchResponse struct {
	Results []ItemResult `json:"results"`
}

// IdempotencyEntry is the server-side record of an already applied
// transaction. A repeat delivery of the same transaction id returns the
// stored outcome without re-executing side effects.
type IdempotencyEntry struct {
	TransactionID  string    `json:"transaction_id"`
	Outcome        Outcome   `json:"outcome"`
	ResultEntityID string    `json:"result_entity_id,omitempty"`
	Discrepancy    string    `json:"discrepancy,omitempty"`
	AppliedAt      time.Time `json:"applied_at"`
}

// Product is the inventory view the reconciliation core mutates. StockQty is
// signed: a negative value is a flagged state, not an error.
type Product struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	PriceCents     int64  `json:"price_cents"`
	StockQty       int    `json:"stock_qty"`
	HasDiscrepancy bool   `json:"has_discrepancy"`
	Active         bool   `json:"active"`
}

type SaleLine struct {
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// SaleRequest is the payload of a TxTypeSale queue record.
type SaleRequest struct {
	BranchID          string     `json:"branch_id"`
	TerminalID        string     `json:"terminal_id"`
	CashierName       string     `json:"cashier_name,omitempty"`
	PaymentMethod     string     `json:"payment_method"`
	CashReceivedCents int64      `json:"cash_received_cents,omitempty"`
	DiscountCents     int64      `json:"discount_cents,omitempty"`
	TaxRatePercent    float64    `json:"tax_rate_percent,omitempty"`
	Lines             []SaleLine `json:"lines"`
}

// Sale is the persisted result of applying a SaleRequest.
type Sale struct {
	ID             string     `json:"id"`
	BranchID       string     `json:"branch_id"`
	TerminalID     string     `json:"terminal_id"`
	TransactionID  string     `json:"transaction_id"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	DiscountCents  int64      `json:"discount_cents"`
	TaxCents       int64      `json:"tax_cents"`
	TotalCents     int64      `json:"total_cents"`
	PaymentMethod  string     `json:"payment_method"`
	SoldAt         time.Time  `json:"sold_at"`
	RecordedAt     time.Time  `json:"recorded_at"`
	Lines          []SaleLine `json:"lines"`
	HadDiscrepancy bool       `json:"had_discrepancy"`
}

type PurchaseLine struct {
	SKU       string `json:"sku"`
	Qty       int    `json:"qty"`
	CostCents int64  `json:"cost_cents"`
}

// PurchaseRequest restocks inventory (TxTypePurchase payload).
type PurchaseRequest struct {
	BranchID   string         `json:"branch_id"`
	TerminalID string         `json:"terminal_id"`
	SupplierID string         `json:"supplier_id,omitempty"`
	Lines      []PurchaseLine `json:"lines"`
}

type Purchase struct {
	ID            string         `json:"id"`
	BranchID      string         `json:"branch_id"`
	TransactionID string         `json:"transaction_id"`
	SupplierID    string         `json:"supplier_id,omitempty"`
	TotalCents    int64          `json:"total_cents"`
	RecordedAt    time.Time      `json:"recorded_at"`
	Lines         []PurchaseLine `json:"lines"`
}

// ExpenseRequest records a cash expense (TxTypeExpense payload). No
// inventory effect.
type ExpenseRequest struct {
	BranchID    string `json:"branch_id"`
	TerminalID  string `json:"terminal_id"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	AmountCents int64  `json:"amount_cents"`
}

type Expense struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	TransactionID string    `json:"transaction_id"`
	Category      string    `json:"category"`
	Description   string    `json:"description,omitempty"`
	AmountCents   int64     `json:"amount_cents"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// AdjustmentRequest sets absolute stock counts (TxTypeInventoryAdjustment
// payload), e.g. after a physical count at the branch.
type AdjustmentRequest struct {
	BranchID string           `json:"branch_id"`
	Notes    string           `json:"notes,omitempty"`
	Items    []AdjustmentItem `json:"items"`
}

type AdjustmentItem struct {
	SKU        string `json:"sku"`
	CountedQty int    `json:"counted_qty"`
}

// SyncStatus is the agent-local view served to the cashier UI.
type SyncStatus struct {
	PendingCount   int        `json:"pending_count"`
	FailedCount    int        `json:"failed_count"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	SyncInProgress bool       `json:"sync_in_progress"`
	Online         bool       `json:"online"`
}

type LoginRequest struct {
	TerminalID string `json:"terminal_id"`
	Secret     string `json:"secret"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	BranchID    string `json:"branch_id"`
	ExpiresAt   string `json:"expires_at"`
}

// TerminalAccount is the persistence model for terminal credentials.
type TerminalAccount struct {
	TerminalID string
	BranchID   string
	SecretHash string
	Active     bool
	CreatedAt  time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	TerminalID    string    `json:"terminal_id"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	TransactionID string    `json:"transaction_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

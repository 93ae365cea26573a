// Package postgres implements store.Repository against the branch server's
// Postgres database. Apply* methods persist the entity, the stock rows, and
// the idempotency entry in one transaction; the primary key on
// idempotency_entries.transaction_id is the dedup guarantee under
// concurrent replays.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/store"
	"cabangpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetProductBySKU(ctx context.Context, branchID string, sku string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT sku, name, category, price_cents, stock_qty, has_discrepancy, active
		FROM products
		WHERE branch_id = $1 AND sku = $2
	`, branchID, sku).Scan(&product.SKU, &product.Name, &product.Category, &product.PriceCents, &product.StockQty, &product.HasDiscrepancy, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsBySKUs(ctx context.Context, branchID string, skus []string) (map[string]domain.Product, error) {
	if len(skus) == 0 {
		return map[string]domain.Product{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, category, price_cents, stock_qty, has_discrepancy, active
		FROM products
		WHERE branch_id = $1 AND sku = ANY($2)
	`, branchID, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Product, len(skus))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.Category, &p.PriceCents, &p.StockQty, &p.HasDiscrepancy, &p.Active); err != nil {
			return nil, err
		}
		out[p.SKU] = p
	}
	return out, rows.Err()
}

func (s *Store) UpsertProduct(ctx context.Context, branchID string, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" {
		return nil, store.ErrInvalidPayload
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (branch_id, sku, name, category, price_cents, stock_qty, has_discrepancy, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
		ON CONFLICT (branch_id, sku) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			price_cents = EXCLUDED.price_cents,
			stock_qty = EXCLUDED.stock_qty,
			has_discrepancy = EXCLUDED.has_discrepancy,
			active = EXCLUDED.active,
			updated_at = now()
	`, branchID, product.SKU, product.Name, product.Category, product.PriceCents, product.StockQty, product.HasDiscrepancy, product.Active)
	if err != nil {
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) ListDiscrepancies(ctx context.Context, branchID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, category, price_cents, stock_qty, has_discrepancy, active
		FROM products
		WHERE branch_id = $1 AND has_discrepancy = true
		ORDER BY sku
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 16)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.Category, &p.PriceCents, &p.StockQty, &p.HasDiscrepancy, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) ApplySale(ctx context.Context, branchID string, sale domain.Sale, stock map[string]domain.Product, entry domain.IdempotencyEntry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertIdempotencyEntry(ctx, tx, entry); err != nil {
		return err
	}

	lines, err := json.Marshal(sale.Lines)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, branch_id, terminal_id, transaction_id, subtotal_cents, discount_cents, tax_cents, total_cents, payment_method, sold_at, recorded_at, lines, had_discrepancy)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.BranchID, sale.TerminalID, sale.TransactionID, sale.SubtotalCents, sale.DiscountCents, sale.TaxCents, sale.TotalCents, sale.PaymentMethod, sale.SoldAt, sale.RecordedAt, lines, sale.HadDiscrepancy)
	if err != nil {
		return err
	}

	if err := writeStock(ctx, tx, branchID, stock); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ApplyPurchase(ctx context.Context, branchID string, purchase domain.Purchase, stock map[string]domain.Product, entry domain.IdempotencyEntry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertIdempotencyEntry(ctx, tx, entry); err != nil {
		return err
	}

	lines, err := json.Marshal(purchase.Lines)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases (id, branch_id, transaction_id, supplier_id, total_cents, recorded_at, lines)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, purchase.ID, purchase.BranchID, purchase.TransactionID, nullIfEmpty(purchase.SupplierID), purchase.TotalCents, purchase.RecordedAt, lines)
	if err != nil {
		return err
	}

	if err := writeStock(ctx, tx, branchID, stock); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ApplyExpense(ctx context.Context, _ string, expense domain.Expense, entry domain.IdempotencyEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertIdempotencyEntry(ctx, tx, entry); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO expenses (id, branch_id, transaction_id, category, description, amount_cents, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, expense.ID, expense.BranchID, expense.TransactionID, expense.Category, expense.Description, expense.AmountCents, expense.RecordedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ApplyAdjustment(ctx context.Context, branchID string, stock map[string]domain.Product, entry domain.IdempotencyEntry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertIdempotencyEntry(ctx, tx, entry); err != nil {
		return err
	}
	if err := writeStock(ctx, tx, branchID, stock); err != nil {
		return err
	}
	return tx.Commit()
}

func insertIdempotencyEntry(ctx context.Context, tx *sql.Tx, entry domain.IdempotencyEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_entries (transaction_id, outcome, result_entity_id, discrepancy, applied_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.TransactionID, string(entry.Outcome), entry.ResultEntityID, entry.Discrepancy, entry.AppliedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

func writeStock(ctx context.Context, tx *sql.Tx, branchID string, stock map[string]domain.Product) error {
	for sku, product := range stock {
		_, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_qty = $1, has_discrepancy = $2, updated_at = now()
			WHERE branch_id = $3 AND sku = $4
		`, product.StockQty, product.HasDiscrepancy, branchID, sku)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetIdempotencyEntry(ctx context.Context, transactionID string) (*domain.IdempotencyEntry, error) {
	var entry domain.IdempotencyEntry
	var outcome string
	err := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, outcome, result_entity_id, discrepancy, applied_at
		FROM idempotency_entries
		WHERE transaction_id = $1
	`, transactionID).Scan(&entry.TransactionID, &outcome, &entry.ResultEntityID, &entry.Discrepancy, &entry.AppliedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	entry.Outcome = domain.Outcome(outcome)
	return &entry, nil
}

func (s *Store) RecordIdempotencyEntry(ctx context.Context, entry domain.IdempotencyEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_entries (transaction_id, outcome, result_entity_id, discrepancy, applied_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.TransactionID, string(entry.Outcome), entry.ResultEntityID, entry.Discrepancy, entry.AppliedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

func (s *Store) PruneIdempotencyEntries(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_entries WHERE applied_at < $1
	`, olderThan)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *Store) GetTerminalAccount(ctx context.Context, terminalID string) (*domain.TerminalAccount, error) {
	var account domain.TerminalAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT terminal_id, branch_id, secret_hash, active, created_at
		FROM terminal_accounts
		WHERE terminal_id = $1
	`, terminalID).Scan(&account.TerminalID, &account.BranchID, &account.SecretHash, &account.Active, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, branch_id, terminal_id, action, entity_type, entity_id, detail, transaction_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.TerminalID, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, nullIfEmpty(entry.TransactionID), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, terminal_id, action, entity_type, entity_id, detail, COALESCE(transaction_id, ''), created_at
		FROM audit_logs
		WHERE branch_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.TerminalID, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.TransactionID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cabangpos/backend/internal/alert"
	"cabangpos/backend/internal/cache"
	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/recon"
	"cabangpos/backend/internal/store/memory"
)

const (
	testBranch   = "branch-1"
	testTerminal = "till-1"
	testSecret   = "till-secret"
)

func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	repo := memory.NewSeeded(testBranch)
	hash, err := HashSecret(testSecret)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	repo.PutTerminalAccount(domain.TerminalAccount{
		TerminalID: testTerminal,
		BranchID:   testBranch,
		SecretHash: hash,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := recon.NewService(repo, cache.NopCache{}, alert.NopNotifier{}, logger)
	auth := NewAuthManager("test-secret-that-is-long-enough-0123", time.Hour, repo)
	return New(svc, repo, auth, logger), repo
}

func loginToken(t *testing.T, api *API) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{TerminalID: testTerminal, Secret: testSecret})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func postBatch(t *testing.T, api *API, token string, batch domain.SyncBatchRequest) *httptest.ResponseRecorder {
	t.Helper()

	body, _ := json.Marshal(batch)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func saleBatchItem(t *testing.T, txID string, sku string, qty int) domain.BatchItem {
	t.Helper()

	payload, _ := json.Marshal(domain.SaleRequest{
		BranchID:      testBranch,
		TerminalID:    testTerminal,
		PaymentMethod: "cash",
		Lines:         []domain.SaleLine{{SKU: sku, Qty: qty, UnitPriceCents: 250}},
	})
	return domain.BatchItem{
		TransactionID: txID,
		Type:          domain.TxTypeSale,
		CreatedAt:     time.Now().UTC(),
		Payload:       payload,
	}
}

func TestHealthNoAuth(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	api, _ := newTestAPI(t)

	body, _ := json.Marshal(domain.LoginRequest{TerminalID: testTerminal, Secret: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSyncBatchRequiresAuth(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := postBatch(t, api, "", domain.SyncBatchRequest{
		Items: []domain.BatchItem{saleBatchItem(t, "tx-1", "COLA-330", 1)},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSyncBatchAppliesItems(t *testing.T) {
	api, repo := newTestAPI(t)
	token := loginToken(t, api)

	rec := postBatch(t, api, token, domain.SyncBatchRequest{
		Items: []domain.BatchItem{
			saleBatchItem(t, "tx-1", "COLA-330", 2),
			saleBatchItem(t, "tx-2", "NO-SUCH", 1),
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.SyncBatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Outcome != domain.OutcomeApplied {
		t.Fatalf("first item: expected applied, got %s", resp.Results[0].Outcome)
	}
	if resp.Results[1].Outcome != domain.OutcomeRejected {
		t.Fatalf("second item: expected rejected, got %s", resp.Results[1].Outcome)
	}

	product, err := repo.GetProductBySKU(context.Background(), testBranch, "COLA-330")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockQty != 46 {
		t.Fatalf("expected stock 46, got %d", product.StockQty)
	}
}

func TestSyncBatchBranchComesFromToken(t *testing.T) {
	api, repo := newTestAPI(t)
	token := loginToken(t, api)

	// The body claims another branch; the token's branch must win.
	rec := postBatch(t, api, token, domain.SyncBatchRequest{
		BranchID: "branch-evil",
		Items:    []domain.BatchItem{saleBatchItem(t, "tx-spoof", "COLA-330", 1)},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	product, err := repo.GetProductBySKU(context.Background(), testBranch, "COLA-330")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockQty != 47 {
		t.Fatalf("sale should have applied to the token's branch, stock %d", product.StockQty)
	}
}

func TestSyncBatchReplayIdempotent(t *testing.T) {
	api, repo := newTestAPI(t)
	token := loginToken(t, api)

	batch := domain.SyncBatchRequest{
		Items: []domain.BatchItem{saleBatchItem(t, "tx-replay", "WTR-600", 3)},
	}

	first := postBatch(t, api, token, batch)
	second := postBatch(t, api, token, batch)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200/200, got %d/%d", first.Code, second.Code)
	}

	product, err := repo.GetProductBySKU(context.Background(), testBranch, "WTR-600")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockQty != 117 {
		t.Fatalf("replay must not decrement twice, stock %d", product.StockQty)
	}
}

func TestSyncBatchValidation(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginToken(t, api)

	empty := postBatch(t, api, token, domain.SyncBatchRequest{})
	if empty.Code != http.StatusBadRequest {
		t.Fatalf("empty batch: expected 400, got %d", empty.Code)
	}

	missing := postBatch(t, api, token, domain.SyncBatchRequest{
		Items: []domain.BatchItem{{Type: domain.TxTypeSale, Payload: []byte(`{}`)}},
	})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("missing transaction_id: expected 400, got %d", missing.Code)
	}
}

func TestDiscrepanciesEndpoint(t *testing.T) {
	api, repo := newTestAPI(t)
	token := loginToken(t, api)

	_, _ = repo.UpsertProduct(context.Background(), testBranch, domain.Product{
		SKU: "MILK-1L", Name: "Milk 1L", Category: "dairy", PriceCents: 500, StockQty: -2, HasDiscrepancy: true, Active: true,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/discrepancies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Products) != 1 || resp.Products[0].SKU != "MILK-1L" {
		t.Fatalf("expected the flagged product, got %v", resp.Products)
	}
}

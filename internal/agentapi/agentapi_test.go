package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"cabangpos/backend/internal/alert"
	"cabangpos/backend/internal/connectivity"
	"cabangpos/backend/internal/dispatcher"
	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/queue/memory"
)

type stubSubmitter struct{}

func (stubSubmitter) SubmitBatch(_ context.Context, batch domain.SyncBatchRequest) (*domain.SyncBatchResponse, error) {
	resp := &domain.SyncBatchResponse{}
	for _, item := range batch.Items {
		resp.Results = append(resp.Results, domain.ItemResult{
			TransactionID: item.TransactionID,
			Outcome:       domain.OutcomeApplied,
		})
	}
	return resp, nil
}

type offlineLink struct{}

func (offlineLink) IsOnline() bool                         { return false }
func (offlineLink) ReportFailure()                         {}
func (offlineLink) ReportSuccess()                         {}
func (offlineLink) Subscribe() <-chan connectivity.State   { return make(chan connectivity.State) }

func newTestAPI() (*API, *memory.Store) {
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dispatcher.New(store, stubSubmitter{}, offlineLink{}, alert.NopNotifier{}, logger, dispatcher.Config{
		BranchID:   "branch-1",
		TerminalID: "till-1",
	})
	return New(store, d, logger), store
}

func postJSON(t *testing.T, api *API, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestEnqueueSaleAcceptedWhileOffline(t *testing.T) {
	api, store := newTestAPI()

	rec := postJSON(t, api, "/api/v1/sale", domain.SaleRequest{
		BranchID:      "branch-1",
		TerminalID:    "till-1",
		PaymentMethod: "cash",
		Lines:         []domain.SaleLine{{SKU: "COLA-330", Qty: 1, UnitPriceCents: 250}},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TransactionID == "" || resp.Status != "pending" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	pending, _ := store.PendingCount(context.Background())
	if pending != 1 {
		t.Fatalf("expected 1 pending record, got %d", pending)
	}
}

func TestEnqueueRejectsInvalidPayloads(t *testing.T) {
	api, _ := newTestAPI()

	rec := postJSON(t, api, "/api/v1/sale", domain.SaleRequest{PaymentMethod: "cash"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("sale with no lines: expected 400, got %d", rec.Code)
	}

	rec = postJSON(t, api, "/api/v1/expense", domain.ExpenseRequest{Category: "rent", AmountCents: 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero-amount expense: expected 400, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sale", bytes.NewReader([]byte(`{"unknown_field":1}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	api.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", w.Code)
	}
}

func TestEnqueueRequiresJSONContentType(t *testing.T) {
	api, _ := newTestAPI()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sale", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
}

func TestSyncStatusEndpoint(t *testing.T) {
	api, store := newTestAPI()
	_, _ = store.Enqueue(context.Background(), domain.TxTypeSale, []byte(`{"x":1}`))

	req := httptest.NewRequest(http.MethodGet, "/sync/status", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status domain.SyncStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.PendingCount != 1 || status.Online {
		t.Fatalf("unexpected status: %+v", status)
	}
}

// Package agentapi is the terminal-local HTTP surface the cashier UI talks
// to. It binds on loopback; everything here works with or without a link to
// the branch server, because writes only touch the local queue.
package agentapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cabangpos/backend/internal/dispatcher"
	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/queue"
)

type API struct {
	store      queue.Store
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger
}

func New(store queue.Store, d *dispatcher.Dispatcher, logger *slog.Logger) *API {
	return &API{
		store:      store,
		dispatcher: d,
		logger:     logger,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/sync/status", a.handleSyncStatus)

	mux.HandleFunc("/api/v1/sale", a.handleEnqueue(domain.TxTypeSale, validateSale))
	mux.HandleFunc("/api/v1/purchase", a.handleEnqueue(domain.TxTypePurchase, validatePurchase))
	mux.HandleFunc("/api/v1/expense", a.handleEnqueue(domain.TxTypeExpense, validateExpense))
	mux.HandleFunc("/api/v1/inventory-adjustment", a.handleEnqueue(domain.TxTypeInventoryAdjustment, validateAdjustment))

	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	status, err := a.dispatcher.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleEnqueue accepts a domain payload, validates its shape, and commits
// it to the queue. The 202 is the terminal's durability receipt: from here
// the dispatcher owns delivery.
func (a *API) handleEnqueue(txType domain.TransactionType, validate func([]byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		if !strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			writeError(w, http.StatusUnsupportedMediaType, errors.New("expected application/json"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var payload json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := validate(payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		record, err := a.store.Enqueue(r.Context(), txType, payload)
		if err != nil {
			if errors.Is(err, queue.ErrInvalidRecord) {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		a.dispatcher.Kick()
		a.logger.Info("transaction queued",
			"transaction_id", record.ID,
			"type", string(txType),
		)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"transaction_id": record.ID,
			"status":         string(record.Status),
			"queued_at":      record.CreatedAt.Format(time.RFC3339),
		})
	}
}

func validateSale(payload []byte) error {
	var req domain.SaleRequest
	if err := strictUnmarshal(payload, &req); err != nil {
		return err
	}
	if len(req.Lines) == 0 {
		return errors.New("sale needs at least one line")
	}
	for _, line := range req.Lines {
		if line.SKU == "" || line.Qty < 1 || line.UnitPriceCents < 0 {
			return errors.New("invalid sale line")
		}
	}
	return nil
}

func validatePurchase(payload []byte) error {
	var req domain.PurchaseRequest
	if err := strictUnmarshal(payload, &req); err != nil {
		return err
	}
	if len(req.Lines) == 0 {
		return errors.New("purchase needs at least one line")
	}
	for _, line := range req.Lines {
		if line.SKU == "" || line.Qty < 1 || line.CostCents < 0 {
			return errors.New("invalid purchase line")
		}
	}
	return nil
}

func validateExpense(payload []byte) error {
	var req domain.ExpenseRequest
	if err := strictUnmarshal(payload, &req); err != nil {
		return err
	}
	if req.Category == "" || req.AmountCents < 1 {
		return errors.New("expense needs a category and a positive amount")
	}
	return nil
}

func validateAdjustment(payload []byte) error {
	var req domain.AdjustmentRequest
	if err := strictUnmarshal(payload, &req); err != nil {
		return err
	}
	if len(req.Items) == 0 {
		return errors.New("adjustment needs at least one item")
	}
	for _, item := range req.Items {
		if item.SKU == "" {
			return errors.New("adjustment item missing sku")
		}
	}
	return nil
}

func strictUnmarshal(payload []byte, dest any) error {
	decoder := json.NewDecoder(strings.NewReader(string(payload)))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		slog.Error("internal error", "status", status, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

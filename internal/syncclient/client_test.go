package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cabangpos/backend/internal/domain"
)

func testBatch() domain.SyncBatchRequest {
	return domain.SyncBatchRequest{
		BranchID:   "branch-1",
		TerminalID: "till-1",
		Items: []domain.BatchItem{{
			TransactionID: "tx-1",
			Type:          domain.TxTypeSale,
			Payload:       []byte(`{}`),
		}},
	}
}

func TestSubmitBatchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sync/batch" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req domain.SyncBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(domain.SyncBatchResponse{Results: []domain.ItemResult{
			{TransactionID: "tx-1", Outcome: domain.OutcomeApplied},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, "till-1", "secret", 5*time.Second)
	resp, err := c.SubmitBatch(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Outcome != domain.OutcomeApplied {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "till-1", "secret", 5*time.Second)
	_, err := c.SubmitBatch(context.Background(), testBatch())
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestConnectionErrorIsTransient(t *testing.T) {
	c := New("http://127.0.0.1:1", "till-1", "secret", time.Second)
	_, err := c.SubmitBatch(context.Background(), testBatch())
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestBadRequestIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"batch too large"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "till-1", "secret", 5*time.Second)
	_, err := c.SubmitBatch(context.Background(), testBatch())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestReloginOn401(t *testing.T) {
	logins := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			logins++
			_ = json.NewEncoder(w).Encode(domain.LoginResponse{AccessToken: "fresh-token", BranchID: "branch-1"})
		case "/api/v1/sync/batch":
			if r.Header.Get("Authorization") != "Bearer fresh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(domain.SyncBatchResponse{Results: []domain.ItemResult{
				{TransactionID: "tx-1", Outcome: domain.OutcomeApplied},
			}})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "till-1", "secret", 5*time.Second)
	resp, err := c.SubmitBatch(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if logins != 1 {
		t.Fatalf("expected exactly one login, got %d", logins)
	}
	if resp.Results[0].Outcome != domain.OutcomeApplied {
		t.Fatalf("unexpected outcome %s", resp.Results[0].Outcome)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "till-1", "wrong", 5*time.Second)
	if err := c.Login(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

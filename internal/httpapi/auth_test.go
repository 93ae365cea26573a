package httpapi

import (
	"context"
	"testing"
	"time"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/store/memory"
)

func newAuthFixture(t *testing.T, ttl time.Duration) *AuthManager {
	t.Helper()

	repo := memory.New()
	hash, err := HashSecret("till-secret")
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	repo.PutTerminalAccount(domain.TerminalAccount{
		TerminalID: "till-1",
		BranchID:   "branch-1",
		SecretHash: hash,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	})
	repo.PutTerminalAccount(domain.TerminalAccount{
		TerminalID: "till-dead",
		BranchID:   "branch-1",
		SecretHash: hash,
		Active:     false,
		CreatedAt:  time.Now().UTC(),
	})
	return NewAuthManager("unit-test-secret-0123456789abcdef", ttl, repo)
}

func TestLoginAndParseToken(t *testing.T) {
	auth := newAuthFixture(t, time.Hour)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{TerminalID: "till-1", Secret: "till-secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.BranchID != "branch-1" || resp.AccessToken == "" {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	terminal, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if terminal.TerminalID != "till-1" || terminal.BranchID != "branch-1" {
		t.Fatalf("unexpected terminal claims: %+v", terminal)
	}
}

func TestLoginFailures(t *testing.T) {
	auth := newAuthFixture(t, time.Hour)
	ctx := context.Background()

	if _, err := auth.Login(ctx, domain.LoginRequest{TerminalID: "till-1", Secret: "wrong"}); err == nil {
		t.Fatal("wrong secret must fail")
	}
	if _, err := auth.Login(ctx, domain.LoginRequest{TerminalID: "nobody", Secret: "till-secret"}); err == nil {
		t.Fatal("unknown terminal must fail")
	}
	if _, err := auth.Login(ctx, domain.LoginRequest{TerminalID: "till-dead", Secret: "till-secret"}); err == nil {
		t.Fatal("inactive terminal must fail")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	auth := newAuthFixture(t, -time.Minute)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{TerminalID: "till-1", Secret: "till-secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	auth := newAuthFixture(t, time.Hour)

	if _, err := auth.ParseToken("not.a.token"); err == nil {
		t.Fatal("garbage token must be rejected")
	}
}

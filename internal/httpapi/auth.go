package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/store"
)

// AuthManager issues and validates the bearer tokens terminals use on the
// sync endpoints. Terminal secrets live bcrypt-hashed in the repository.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	accounts TerminalStore
}

type TerminalStore interface {
	GetTerminalAccount(ctx context.Context, terminalID string) (*domain.TerminalAccount, error)
}

// Terminal is the authenticated caller attached to a request.
type Terminal struct {
	TerminalID string
	BranchID   string
}

type terminalClaims struct {
	jwtlib.RegisteredClaims
	BranchID string `json:"branch_id"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, accounts TerminalStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		accounts: accounts,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	terminalID := strings.TrimSpace(req.TerminalID)
	account, err := a.accounts.GetTerminalAccount(ctx, terminalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, errors.New("invalid credentials")
		}
		return domain.LoginResponse{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.SecretHash), []byte(req.Secret)) != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !account.Active {
		return domain.LoginResponse{}, errors.New("terminal is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(account.TerminalID, account.BranchID, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		BranchID:    account.BranchID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) sign(terminalID string, branchID string, expiresAt time.Time) (string, error) {
	claims := terminalClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   terminalID,
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
		},
		BranchID: branchID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ParseToken(tokenStr string) (Terminal, error) {
	claims := &terminalClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return Terminal{}, errors.New("invalid or expired token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.BranchID == "" {
		return Terminal{}, errors.New("invalid token claims")
	}
	return Terminal{TerminalID: sub, BranchID: claims.BranchID}, nil
}

// HashSecret is the write-side counterpart of Login, used when registering
// terminals.
func HashSecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

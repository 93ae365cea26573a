// Package syncclient is the agent's HTTP client for the branch server. It
// owns the terminal's JWT session and classifies failures for the
// dispatcher: transport errors and 5xx are transient, 4xx are not.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"cabangpos/backend/internal/domain"
)

var (
	// ErrTransient marks failures worth retrying: connection errors,
	// timeouts, 5xx responses.
	ErrTransient = errors.New("transient sync failure")
	// ErrRejected marks a request the server refused outright.
	ErrRejected = errors.New("sync request rejected")
	// ErrUnauthorized means login is required or the token expired.
	ErrUnauthorized = errors.New("terminal not authorized")
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	terminalID string
	secret     string

	mu    sync.Mutex
	token string
}

func New(baseURL, terminalID, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		terminalID: terminalID,
		secret:     secret,
	}
}

// Login exchanges the terminal credentials for a bearer token.
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(domain.LoginRequest{TerminalID: c.terminalID, Secret: c.secret})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: login status %d", ErrTransient, resp.StatusCode)
	default:
		return fmt.Errorf("%w: login status %d", ErrRejected, resp.StatusCode)
	}

	var login domain.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return fmt.Errorf("%w: decode login response: %v", ErrTransient, err)
	}

	c.mu.Lock()
	c.token = login.AccessToken
	c.mu.Unlock()
	return nil
}

// SubmitBatch posts one sync batch and returns the per-item results. A nil
// error means the server processed the batch; individual items may still
// carry rejection outcomes. On 401 the client re-logs in once and retries.
func (c *Client) SubmitBatch(ctx context.Context, batch domain.SyncBatchRequest) (*domain.SyncBatchResponse, error) {
	resp, err := c.postBatch(ctx, batch)
	if errors.Is(err, ErrUnauthorized) {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		resp, err = c.postBatch(ctx, batch)
	}
	return resp, err
}

func (c *Client) postBatch(ctx context.Context, batch domain.SyncBatchRequest) (*domain.SyncBatchResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sync/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: batch status %d", ErrTransient, resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: batch status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out domain.SyncBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode batch response: %v", ErrTransient, err)
	}
	return &out, nil
}

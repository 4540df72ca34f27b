// Package api is the HTTP transport between the sync coordinator and the
// reconciliation server: one synchronous request/response exchange per
// operation, bearer credential attached, failures mapped to the typed
// errors the coordinator understands.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/momscoder/expensesmanager/internal/protocol"
	"github.com/momscoder/expensesmanager/internal/syncer"
)

// Client talks to the server's /api surface.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  syncer.TokenSource
	logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, tokens syncer.TokenSource, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  logger,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", syncer.ErrNotAuthenticated, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Connection refused, DNS failure, timeout: all present to the
		// caller as being offline rather than hanging indefinitely.
		return fmt.Errorf("%w: %v", syncer.ErrOffline, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return syncer.ErrNotAuthenticated
	}
	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error == "" {
			eb.Error = resp.Status
		}
		return fmt.Errorf("%w: %s", syncer.ErrServerRejected, eb.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Ping checks server reachability without authenticating.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", syncer.ErrOffline, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %s", syncer.ErrOffline, resp.Status)
	}
	return nil
}

// Sync uploads one batch and returns the server's identifier mappings.
func (c *Client) Sync(ctx context.Context, req protocol.SyncRequest) (*protocol.SyncResponse, error) {
	var resp protocol.SyncResponse
	if err := c.do(ctx, http.MethodPost, "/api/sync", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches the full server snapshot for the authenticated user.
func (c *Client) Pull(ctx context.Context) (*protocol.PullResponse, error) {
	var resp protocol.PullResponse
	if err := c.do(ctx, http.MethodGet, "/api/pull", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/api/login", credentials{Email: email, Password: password}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Register creates an account and returns a bearer token.
func (c *Client) Register(ctx context.Context, email, password string) (string, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/api/register", credentials{Email: email, Password: password}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

var _ syncer.Transport = (*Client)(nil)

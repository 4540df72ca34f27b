// Package syncer orchestrates sync cycles between the local store and the
// reconciliation server. One cycle at a time: a second caller fails fast
// with ErrSyncInProgress instead of queuing behind the first.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/momscoder/expensesmanager/internal/domain"
	"github.com/momscoder/expensesmanager/internal/protocol"
)

var (
	ErrNotAuthenticated       = errors.New("not authenticated")
	ErrOffline                = errors.New("server unreachable")
	ErrSyncInProgress         = errors.New("sync already in progress")
	ErrServerRejected         = errors.New("server rejected batch")
	ErrPostSyncReconciliation = errors.New("post-sync reconciliation failed")
)

// Transport is the one-request-per-operation network boundary. All methods
// must honor ctx and return typed errors: ErrOffline for connectivity
// failures, ErrNotAuthenticated for rejected credentials, ErrServerRejected
// for batch-level failures.
type Transport interface {
	Ping(ctx context.Context) error
	Sync(ctx context.Context, req protocol.SyncRequest) (*protocol.SyncResponse, error)
	Pull(ctx context.Context) (*protocol.PullResponse, error)
}

// LocalStore is the sync-relevant surface of the client-side repository.
type LocalStore interface {
	UnsyncedReceipts(ctx context.Context) ([]domain.Receipt, error)
	Categories(ctx context.Context) ([]domain.Category, error)
	RewriteIdentifiers(ctx context.Context, localToServer map[int64]int64, hashToServer map[string]int64) error
	ReplaceAll(ctx context.Context, snap *protocol.PullResponse) error
}

// TokenSource supplies the bearer credential attached to sync requests.
// An empty token means the user is not authenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed credential.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

type state int

const (
	stateIdle state = iota
	stateSyncing
)

// Coordinator owns the Idle/Syncing state machine. All state transitions
// happen under mu so two near-simultaneous triggers cannot both pass the
// Idle check.
type Coordinator struct {
	store     LocalStore
	transport Transport
	tokens    TokenSource
	logger    *slog.Logger

	mu    sync.Mutex
	state state
}

func New(store LocalStore, transport Transport, tokens TokenSource, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		transport: transport,
		tokens:    tokens,
		logger:    logger,
	}
}

func (c *Coordinator) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateSyncing {
		return ErrSyncInProgress
	}
	c.state = stateSyncing
	return nil
}

func (c *Coordinator) finish() {
	c.mu.Lock()
	c.state = stateIdle
	c.mu.Unlock()
}

// preflight checks credentials and reachability before any mutation.
func (c *Coordinator) preflight(ctx context.Context) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if token == "" {
		return ErrNotAuthenticated
	}
	if err := c.transport.Ping(ctx); err != nil {
		if errors.Is(err, ErrOffline) || errors.Is(err, ErrNotAuthenticated) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	return nil
}

// SyncResult summarizes one upload cycle.
type SyncResult struct {
	ReceiptsSent   int
	PurchasesSent  int
	CategoriesSent int
	Created        int
	Updated        int
}

// NoOp reports whether the cycle had nothing to upload.
func (r SyncResult) NoOp() bool { return r.ReceiptsSent == 0 }

// PullResult summarizes one pull cycle.
type PullResult struct {
	Receipts   int
	Purchases  int
	Categories int
}

// SyncToServer uploads locally-created records and applies the returned
// identifier mappings. Transport failures leave the local store untouched;
// re-invoking later is safe because server-side matching is idempotent by
// content hash.
func (c *Coordinator) SyncToServer(ctx context.Context) (*SyncResult, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.finish()
	return c.syncLocked(ctx)
}

func (c *Coordinator) syncLocked(ctx context.Context) (*SyncResult, error) {
	if err := c.preflight(ctx); err != nil {
		return nil, err
	}

	receipts, err := c.store.UnsyncedReceipts(ctx)
	if err != nil {
		return nil, fmt.Errorf("read unsynced receipts: %w", err)
	}
	if len(receipts) == 0 {
		c.logger.Debug("nothing to sync")
		return &SyncResult{}, nil
	}
	categories, err := c.store.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}

	req := buildBatch(receipts, categories)
	resp, err := c.transport.Sync(ctx, req)
	if err != nil {
		c.logger.Warn("upload failed, local records remain unsynced", "error", err)
		return nil, err
	}

	if err := c.store.RewriteIdentifiers(ctx, resp.LocalIDToServerID, resp.HashToServerID); err != nil {
		// The server has already committed this batch. Surface
		// distinctly: the next cycle will resubmit by hash, which is
		// harmless but must not pass silently.
		c.logger.Error("identifier rewrite failed after server commit", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPostSyncReconciliation, err)
	}

	result := &SyncResult{
		ReceiptsSent:   len(req.Receipts),
		PurchasesSent:  len(req.Purchases),
		CategoriesSent: len(req.Categories),
	}
	for _, r := range resp.Results.Receipts {
		switch r.Status {
		case protocol.StatusCreated:
			result.Created++
		case protocol.StatusUpdated:
			result.Updated++
		}
	}
	c.logger.Info("sync cycle complete",
		"receipts", result.ReceiptsSent, "created", result.Created, "updated", result.Updated)
	return result, nil
}

// buildBatch flattens unsynced receipts into one request. Receipts carry
// their local identifier and natural-key hash; purchases carry the parent's
// local-or-server identifier.
func buildBatch(receipts []domain.Receipt, categories []domain.Category) protocol.SyncRequest {
	req := protocol.SyncRequest{
		Receipts:   make([]protocol.ReceiptUpload, 0, len(receipts)),
		Purchases:  []protocol.PurchaseUpload{},
		Categories: make([]protocol.CategoryUpload, 0, len(categories)),
	}
	for _, rec := range receipts {
		up := protocol.ReceiptUpload{
			Hash:        rec.Hash,
			UID:         rec.UID,
			Date:        rec.Date,
			TotalAmount: rec.TotalAmount,
		}
		if !rec.UpdatedAt.IsZero() {
			up.UpdatedAt = rec.UpdatedAt.UTC().Format(time.RFC3339)
		}
		if rec.ID.IsLocal() {
			up.LocalID = rec.ID.Int64()
		}
		req.Receipts = append(req.Receipts, up)

		for _, p := range rec.Purchases {
			req.Purchases = append(req.Purchases, protocol.PurchaseUpload{
				LocalID:   p.ID.Int64(),
				ReceiptID: p.ReceiptID.Int64(),
				Name:      p.Name,
				Amount:    p.Amount,
				Category:  p.Category,
			})
		}
	}
	for _, c := range categories {
		req.Categories = append(req.Categories, protocol.CategoryUpload{Name: c.Name})
	}
	return req
}

// PullFromServer fetches the full server snapshot and replaces local
// contents wholesale. Destructive: callers that may hold local-only changes
// must use FullSync instead so the upload runs first.
func (c *Coordinator) PullFromServer(ctx context.Context) (*PullResult, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.finish()
	return c.pullLocked(ctx)
}

func (c *Coordinator) pullLocked(ctx context.Context) (*PullResult, error) {
	if err := c.preflight(ctx); err != nil {
		return nil, err
	}

	snap, err := c.transport.Pull(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.store.ReplaceAll(ctx, snap); err != nil {
		return nil, fmt.Errorf("import server snapshot: %w", err)
	}

	result := &PullResult{
		Receipts:   len(snap.Receipts),
		Purchases:  len(snap.Purchases),
		Categories: len(snap.Categories),
	}
	c.logger.Info("pull complete",
		"receipts", result.Receipts, "purchases", result.Purchases, "categories", result.Categories)
	return result, nil
}

// FullSync uploads local changes and then pulls the server's view, holding
// the Syncing state across both phases. Upload runs first so the subsequent
// replace cannot clobber local-only edits.
func (c *Coordinator) FullSync(ctx context.Context) (*SyncResult, *PullResult, error) {
	if err := c.begin(); err != nil {
		return nil, nil, err
	}
	defer c.finish()

	syncRes, err := c.syncLocked(ctx)
	if err != nil {
		return nil, nil, err
	}
	pullRes, err := c.pullLocked(ctx)
	if err != nil {
		return syncRes, nil, err
	}
	return syncRes, pullRes, nil
}

// Status describes the coordinator and store state for callers that decide
// whether to trigger a cycle.
type Status struct {
	UnsyncedCount int
	Authenticated bool
	Online        bool
	Syncing       bool
}

// Status reports without mutating. The reachability probe is best-effort.
func (c *Coordinator) Status(ctx context.Context) (*Status, error) {
	receipts, err := c.store.UnsyncedReceipts(ctx)
	if err != nil {
		return nil, fmt.Errorf("read unsynced receipts: %w", err)
	}

	token, _ := c.tokens.Token(ctx)

	c.mu.Lock()
	syncing := c.state == stateSyncing
	c.mu.Unlock()

	return &Status{
		UnsyncedCount: len(receipts),
		Authenticated: token != "",
		Online:        c.transport.Ping(ctx) == nil,
		Syncing:       syncing,
	}, nil
}

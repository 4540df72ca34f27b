// Package service implements server-side reconciliation: for each incoming
// record, decide whether it already exists by natural key, create or update
// accordingly, and hand back the identifier mappings the client needs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/momscoder/expensesmanager/internal/domain"
	"github.com/momscoder/expensesmanager/internal/protocol"
)

var (
	// ErrBadBatch marks validation failures in the incoming batch; the
	// handler maps it to 422.
	ErrBadBatch = errors.New("invalid sync batch")
	// ErrUnresolvedParent is a purchase referencing a local receipt id
	// that does not appear in the same batch.
	ErrUnresolvedParent = errors.New("purchase parent not in batch")
)

// Tx is the storage surface one reconciliation runs against. The whole
// batch executes inside a single transaction: any error aborts everything.
type Tx interface {
	FindReceiptByHash(ctx context.Context, userID int64, hash string) (int64, bool, error)
	UpdateReceipt(ctx context.Context, id int64, uid *string, date string, total float64) error
	InsertReceipt(ctx context.Context, userID int64, r protocol.ReceiptUpload) (int64, error)
	ClearPurchases(ctx context.Context, receiptID int64) error
	InsertPurchase(ctx context.Context, receiptID int64, p protocol.PurchaseUpload) error
	// UpsertCategory matches by (name, user) and reports whether a row
	// was created.
	UpsertCategory(ctx context.Context, userID int64, name string) (bool, error)
}

// TxRunner opens the per-user transaction scope. Implementations must
// serialize concurrent batches from the same user.
type TxRunner interface {
	InReconcileTx(ctx context.Context, userID int64, fn func(Tx) error) error
}

// Reconciler processes upload batches against the authoritative store.
type Reconciler struct {
	db     TxRunner
	logger *slog.Logger
}

func NewReconciler(db TxRunner, logger *slog.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// ProcessBatch reconciles one upload. Two passes: receipts first (resolve
// or create every parent and build the identifier map), then purchases
// (replace-children using that map). Categories are matched individually by
// name, never deleted.
func (r *Reconciler) ProcessBatch(ctx context.Context, userID int64, req protocol.SyncRequest) (*protocol.SyncResponse, error) {
	if err := validateBatch(req); err != nil {
		return nil, err
	}

	resp := &protocol.SyncResponse{
		LocalIDToServerID: map[int64]int64{},
		HashToServerID:    map[string]int64{},
		Results: protocol.BatchResults{
			Receipts:   []protocol.ReceiptResult{},
			Categories: []protocol.CategoryResult{},
		},
	}

	err := r.db.InReconcileTx(ctx, userID, func(tx Tx) error {
		// Pass 1: parents before children.
		for _, rec := range req.Receipts {
			existingID, found, err := tx.FindReceiptByHash(ctx, userID, rec.Hash)
			if err != nil {
				return fmt.Errorf("lookup receipt by hash: %w", err)
			}

			var serverID int64
			status := protocol.StatusUpdated
			if found {
				serverID = existingID
				if err := tx.UpdateReceipt(ctx, serverID, rec.UID, rec.Date, rec.TotalAmount); err != nil {
					return fmt.Errorf("update receipt %d: %w", serverID, err)
				}
			} else {
				serverID, err = tx.InsertReceipt(ctx, userID, rec)
				if err != nil {
					return fmt.Errorf("insert receipt: %w", err)
				}
				status = protocol.StatusCreated
			}

			resp.HashToServerID[rec.Hash] = serverID
			if rec.LocalID < 0 {
				resp.LocalIDToServerID[rec.LocalID] = serverID
			}
			resp.Results.Receipts = append(resp.Results.Receipts, protocol.ReceiptResult{
				Hash:     rec.Hash,
				ServerID: serverID,
				Status:   status,
			})
		}

		// Pass 2: resolve parent references, then replace children
		// wholesale. The batch is the complete current state of each
		// touched receipt's line items.
		parents := make(map[int64][]protocol.PurchaseUpload)
		for _, p := range req.Purchases {
			parentID := p.ReceiptID
			if parentID < 0 {
				mapped, ok := resp.LocalIDToServerID[parentID]
				if !ok {
					return fmt.Errorf("%w: local id %d", ErrUnresolvedParent, parentID)
				}
				parentID = mapped
			}
			parents[parentID] = append(parents[parentID], p)
		}
		for parentID, purchases := range parents {
			if err := tx.ClearPurchases(ctx, parentID); err != nil {
				return fmt.Errorf("clear purchases of %d: %w", parentID, err)
			}
			for _, p := range purchases {
				if err := tx.InsertPurchase(ctx, parentID, p); err != nil {
					return fmt.Errorf("insert purchase for %d: %w", parentID, err)
				}
			}
		}

		for _, c := range req.Categories {
			created, err := tx.UpsertCategory(ctx, userID, c.Name)
			if err != nil {
				return fmt.Errorf("upsert category %q: %w", c.Name, err)
			}
			status := protocol.StatusUpdated
			if created {
				status = protocol.StatusCreated
			}
			resp.Results.Categories = append(resp.Results.Categories, protocol.CategoryResult{
				Name:   c.Name,
				Status: status,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("batch reconciled",
		"user_id", userID,
		"receipts", len(req.Receipts),
		"purchases", len(req.Purchases),
		"categories", len(req.Categories))
	return resp, nil
}

func validateBatch(req protocol.SyncRequest) error {
	for _, rec := range req.Receipts {
		if rec.Hash == "" {
			return fmt.Errorf("%w: receipt without hash", ErrBadBatch)
		}
		if _, err := time.Parse(domain.DateLayout, rec.Date); err != nil {
			return fmt.Errorf("%w: bad date %q", ErrBadBatch, rec.Date)
		}
		if rec.TotalAmount < 0 {
			return fmt.Errorf("%w: negative total", ErrBadBatch)
		}
	}
	for _, p := range req.Purchases {
		if p.Name == "" {
			return fmt.Errorf("%w: purchase without name", ErrBadBatch)
		}
		if len(p.Name) > domain.MaxPurchaseNameLen {
			return fmt.Errorf("%w: purchase name too long", ErrBadBatch)
		}
		if p.Amount <= 0 {
			return fmt.Errorf("%w: purchase amount must be positive", ErrBadBatch)
		}
		if p.ReceiptID == 0 {
			return fmt.Errorf("%w: purchase without parent reference", ErrBadBatch)
		}
	}
	for _, c := range req.Categories {
		if c.Name == "" {
			return fmt.Errorf("%w: category without name", ErrBadBatch)
		}
	}
	return nil
}

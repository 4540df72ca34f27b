package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/momscoder/expensesmanager/internal/protocol"
	"github.com/momscoder/expensesmanager/internal/server/service"
)

// InReconcileTx runs fn inside one transaction per batch. The advisory lock
// keyed by user id serializes concurrent sync requests from the same user,
// so two racing batches cannot both miss the hash lookup and insert twice.
func (s *Store) InReconcileTx(ctx context.Context, userID int64, fn func(service.Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", userID); err != nil {
		return fmt.Errorf("acquire user lock: %w", err)
	}

	if err := fn(&reconcileTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isPgCode(err, uniqueViolation) {
			return ErrConflict
		}
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type reconcileTx struct {
	tx pgx.Tx
}

var _ service.Tx = (*reconcileTx)(nil)

func (r *reconcileTx) FindReceiptByHash(ctx context.Context, userID int64, hash string) (int64, bool, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		"SELECT id FROM receipts WHERE hash = $1 AND user_id = $2", hash, userID).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *reconcileTx) UpdateReceipt(ctx context.Context, id int64, uid *string, date string, total float64) error {
	_, err := r.tx.Exec(ctx,
		"UPDATE receipts SET uid = $1, date = $2, total_amount = $3, updated_at = now() WHERE id = $4",
		uid, date, total, id)
	return err
}

func (r *reconcileTx) InsertReceipt(ctx context.Context, userID int64, rec protocol.ReceiptUpload) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO receipts (user_id, uid, date, hash, total_amount)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		userID, rec.UID, rec.Date, rec.Hash, rec.TotalAmount).Scan(&id)
	if err != nil {
		if isPgCode(err, uniqueViolation) {
			return 0, ErrConflict
		}
		return 0, err
	}
	return id, nil
}

func (r *reconcileTx) ClearPurchases(ctx context.Context, receiptID int64) error {
	_, err := r.tx.Exec(ctx, "DELETE FROM purchases WHERE receipt_id = $1", receiptID)
	return err
}

func (r *reconcileTx) InsertPurchase(ctx context.Context, receiptID int64, p protocol.PurchaseUpload) error {
	_, err := r.tx.Exec(ctx,
		"INSERT INTO purchases (receipt_id, name, category, amount) VALUES ($1, $2, $3, $4)",
		receiptID, p.Name, p.Category, p.Amount)
	return err
}

func (r *reconcileTx) UpsertCategory(ctx context.Context, userID int64, name string) (bool, error) {
	tag, err := r.tx.Exec(ctx, `
		INSERT INTO categories (user_id, name) VALUES ($1, $2)
		ON CONFLICT (user_id, name) DO NOTHING`, userID, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

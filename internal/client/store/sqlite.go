// Package store is the durable client-side repository of receipts, purchases
// and categories. Records created while offline get negative identifiers;
// positive identifiers always come from the server. The sync coordinator
// reads unsynced receipts from here and writes the server's identifier
// mappings back in.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/momscoder/expensesmanager/internal/domain"
	"github.com/momscoder/expensesmanager/internal/hash"
	"github.com/momscoder/expensesmanager/internal/protocol"
)

var (
	ErrDuplicateReceipt = errors.New("receipt already exists")
	ErrReceiptNotFound  = errors.New("receipt not found")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrCategoryExists   = errors.New("category already exists")
	ErrCategoryNotFound = errors.New("category not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
	id INTEGER PRIMARY KEY,
	uid TEXT,
	date TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE,
	total_amount REAL NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS purchases (
	id INTEGER PRIMARY KEY,
	receipt_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	category TEXT,
	amount REAL NOT NULL,
	FOREIGN KEY (receipt_id) REFERENCES receipts (id)
		ON DELETE CASCADE ON UPDATE CASCADE
);
CREATE TABLE IF NOT EXISTS categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL
);
`

// Store wraps the local SQLite database. Writes are serialized through a
// mutex to avoid SQLITE_BUSY under concurrent callers.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	writeMu sync.Mutex
}

// Open opens (creating if needed) the local database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// nextLocalID allocates the next negative identifier within tx. Receipts and
// purchases share the receipts-side minimum so allocations never collide
// inside one insert.
func nextLocalID(tx *sql.Tx, table string) (int64, error) {
	var min sql.NullInt64
	if err := tx.QueryRow("SELECT MIN(id) FROM " + table).Scan(&min); err != nil {
		return 0, err
	}
	if !min.Valid || min.Int64 >= 0 {
		return -1, nil
	}
	return min.Int64 - 1, nil
}

// NewReceipt is the input for AddReceipt.
type NewReceipt struct {
	UID       *string
	Date      string
	Purchases []domain.Purchase
}

// AddReceipt creates a receipt offline. The identifier is local (negative)
// until a sync cycle reconciles it. Submitting the same (uid, date) twice
// fails with ErrDuplicateReceipt.
func (s *Store) AddReceipt(ctx context.Context, in NewReceipt) (*domain.Receipt, error) {
	rec := domain.Receipt{
		UID:       in.UID,
		Date:      in.Date,
		Purchases: in.Purchases,
	}
	rec.TotalAmount = rec.SumPurchases()
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	var uid string
	if in.UID != nil {
		uid = *in.UID
	}
	rec.Hash = hash.Receipt(uid, in.Date)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM receipts WHERE hash = ?", rec.Hash).Scan(&exists)
	if err == nil {
		return nil, ErrDuplicateReceipt
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}

	id, err := nextLocalID(tx, "receipts")
	if err != nil {
		return nil, fmt.Errorf("allocate local id: %w", err)
	}
	now := time.Now().UTC()
	rec.ID = domain.RecordID(id)
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO receipts (id, uid, date, hash, total_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, in.UID, rec.Date, rec.Hash, rec.TotalAmount,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert receipt: %w", err)
	}

	if err := insertPurchases(ctx, tx, id, rec.Purchases); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("receipt added", "id", id, "hash", rec.Hash, "purchases", len(rec.Purchases))
	return s.ReceiptByID(ctx, rec.ID)
}

func insertPurchases(ctx context.Context, tx *sql.Tx, receiptID int64, purchases []domain.Purchase) error {
	for _, p := range purchases {
		pid, err := nextLocalID(tx, "purchases")
		if err != nil {
			return fmt.Errorf("allocate purchase id: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO purchases (id, receipt_id, name, category, amount)
			VALUES (?, ?, ?, ?, ?)`,
			pid, receiptID, p.Name, p.Category, p.Amount)
		if err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}
	}
	return nil
}

// ReceiptByID returns one receipt with its purchases.
func (s *Store) ReceiptByID(ctx context.Context, id domain.RecordID) (*domain.Receipt, error) {
	rec, err := scanReceipt(s.db.QueryRowContext(ctx,
		"SELECT id, uid, date, hash, total_amount, created_at, updated_at FROM receipts WHERE id = ?",
		id.Int64()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachPurchases(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListReceipts returns all receipts, newest date first, with purchases.
func (s *Store) ListReceipts(ctx context.Context) ([]domain.Receipt, error) {
	return s.queryReceipts(ctx,
		"SELECT id, uid, date, hash, total_amount, created_at, updated_at FROM receipts ORDER BY date DESC, id")
}

// ReceiptsByDateRange returns receipts whose date falls within [from, to].
func (s *Store) ReceiptsByDateRange(ctx context.Context, from, to string) ([]domain.Receipt, error) {
	return s.queryReceipts(ctx,
		"SELECT id, uid, date, hash, total_amount, created_at, updated_at FROM receipts WHERE date >= ? AND date <= ? ORDER BY date DESC, id",
		from, to)
}

// UnsyncedReceipts returns exactly those receipts whose identifier is still
// local, with nested purchases. Read-only.
func (s *Store) UnsyncedReceipts(ctx context.Context) ([]domain.Receipt, error) {
	return s.queryReceipts(ctx,
		"SELECT id, uid, date, hash, total_amount, created_at, updated_at FROM receipts WHERE id < 0 ORDER BY created_at DESC")
}

func (s *Store) queryReceipts(ctx context.Context, query string, args ...any) ([]domain.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []domain.Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range receipts {
		if err := s.attachPurchases(ctx, &receipts[i]); err != nil {
			return nil, err
		}
	}
	return receipts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*domain.Receipt, error) {
	var (
		rec     domain.Receipt
		id      int64
		uid     sql.NullString
		created string
		updated string
	)
	if err := row.Scan(&id, &uid, &rec.Date, &rec.Hash, &rec.TotalAmount, &created, &updated); err != nil {
		return nil, err
	}
	rec.ID = domain.RecordID(id)
	if uid.Valid {
		rec.UID = &uid.String
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &rec, nil
}

func (s *Store) attachPurchases(ctx context.Context, rec *domain.Receipt) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, receipt_id, name, category, amount FROM purchases WHERE receipt_id = ? ORDER BY id",
		rec.ID.Int64())
	if err != nil {
		return fmt.Errorf("query purchases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p        domain.Purchase
			pid, rid int64
			category sql.NullString
		)
		if err := rows.Scan(&pid, &rid, &p.Name, &category, &p.Amount); err != nil {
			return err
		}
		p.ID = domain.RecordID(pid)
		p.ReceiptID = domain.RecordID(rid)
		if category.Valid {
			p.Category = &category.String
		}
		rec.Purchases = append(rec.Purchases, p)
	}
	return rows.Err()
}

// ReceiptUpdate carries the mutable receipt fields; nil means unchanged.
// Purchases, when set, replace the full set of line items.
type ReceiptUpdate struct {
	Date      *string
	UID       *string
	Purchases *[]domain.Purchase
}

// UpdateReceipt edits a receipt in place. Replacing the purchases recomputes
// the derived total. The content hash is not recomputed: the natural key of
// a receipt is fixed at creation.
func (s *Store) UpdateReceipt(ctx context.Context, id domain.RecordID, upd ReceiptUpdate) (*domain.Receipt, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM receipts WHERE id = ?", id.Int64()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}

	if upd.Date != nil {
		if _, err := time.Parse(domain.DateLayout, *upd.Date); err != nil {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidDate, *upd.Date)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE receipts SET date = ? WHERE id = ?", *upd.Date, id.Int64()); err != nil {
			return nil, fmt.Errorf("update date: %w", err)
		}
	}
	if upd.UID != nil {
		if _, err := tx.ExecContext(ctx, "UPDATE receipts SET uid = ? WHERE id = ?", *upd.UID, id.Int64()); err != nil {
			return nil, fmt.Errorf("update uid: %w", err)
		}
	}
	if upd.Purchases != nil {
		for _, p := range *upd.Purchases {
			if err := p.Validate(); err != nil {
				return nil, err
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM purchases WHERE receipt_id = ?", id.Int64()); err != nil {
			return nil, fmt.Errorf("delete purchases: %w", err)
		}
		if err := insertPurchases(ctx, tx, id.Int64(), *upd.Purchases); err != nil {
			return nil, err
		}
		var total float64
		for _, p := range *upd.Purchases {
			total += p.Amount
		}
		if _, err := tx.ExecContext(ctx, "UPDATE receipts SET total_amount = ? WHERE id = ?", total, id.Int64()); err != nil {
			return nil, fmt.Errorf("update total: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, "UPDATE receipts SET updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), id.Int64())
	if err != nil {
		return nil, fmt.Errorf("touch updated_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.ReceiptByID(ctx, id)
}

// DeleteReceipt removes a receipt and, via the cascade, its purchases.
func (s *Store) DeleteReceipt(ctx context.Context, id domain.RecordID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM receipts WHERE id = ?", id.Int64())
	if err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

// DeletePurchase removes one line item and recomputes the parent's total.
// Removing the last purchase deletes the receipt itself.
func (s *Store) DeletePurchase(ctx context.Context, purchaseID domain.RecordID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var receiptID int64
	err = tx.QueryRowContext(ctx, "SELECT receipt_id FROM purchases WHERE id = ?", purchaseID.Int64()).Scan(&receiptID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPurchaseNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup purchase: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM purchases WHERE id = ?", purchaseID.Int64()); err != nil {
		return fmt.Errorf("delete purchase: %w", err)
	}

	var remaining int
	var total sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*), SUM(amount) FROM purchases WHERE receipt_id = ?", receiptID).Scan(&remaining, &total)
	if err != nil {
		return fmt.Errorf("recount purchases: %w", err)
	}

	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM receipts WHERE id = ?", receiptID); err != nil {
			return fmt.Errorf("delete empty receipt: %w", err)
		}
	} else {
		_, err := tx.ExecContext(ctx,
			"UPDATE receipts SET total_amount = ?, updated_at = ? WHERE id = ?",
			total.Float64, time.Now().UTC().Format(time.RFC3339), receiptID)
		if err != nil {
			return fmt.Errorf("update total: %w", err)
		}
	}
	return tx.Commit()
}

// UpdatePurchaseCategory reassigns one line item's category. A nil category
// clears it.
func (s *Store) UpdatePurchaseCategory(ctx context.Context, purchaseID domain.RecordID, category *string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE purchases SET category = ? WHERE id = ?", category, purchaseID.Int64())
	if err != nil {
		return fmt.Errorf("update purchase category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}

// Categories returns all local categories ordered by name.
func (s *Store) Categories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM categories ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var cats []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// AddCategory creates a category; the name is the natural key.
func (s *Store) AddCategory(ctx context.Context, name string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, "INSERT INTO categories (name) VALUES (?)", name)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCategoryExists
		}
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// RenameCategory renames a category and follows the rename into every
// purchase that referenced the old name.
func (s *Store) RenameCategory(ctx context.Context, oldName, newName string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE categories SET name = ? WHERE name = ?", newName, oldName)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCategoryExists
		}
		return fmt.Errorf("rename category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCategoryNotFound
	}
	if _, err := tx.ExecContext(ctx, "UPDATE purchases SET category = ? WHERE category = ?", newName, oldName); err != nil {
		return fmt.Errorf("rename purchase categories: %w", err)
	}
	return tx.Commit()
}

// DeleteCategory removes a category and clears it from every purchase.
// Deletions are not propagated to the server by the sync path.
func (s *Store) DeleteCategory(ctx context.Context, name string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM categories WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCategoryNotFound
	}
	if _, err := tx.ExecContext(ctx, "UPDATE purchases SET category = NULL WHERE category = ?", name); err != nil {
		return fmt.Errorf("clear purchase categories: %w", err)
	}
	return tx.Commit()
}

// RewriteIdentifiers applies the server's identifier mappings after a
// successful upload: every receipt matched by local id or by hash takes its
// server identifier, and the ON UPDATE CASCADE on purchases.receipt_id keeps
// child references consistent within the same transaction. A reader can
// never observe a purchase pointing at a parent that no longer exists.
func (s *Store) RewriteIdentifiers(ctx context.Context, localToServer map[int64]int64, hashToServer map[string]int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for localID, serverID := range localToServer {
		if err := rewriteReceiptID(ctx, tx, localID, serverID); err != nil {
			return err
		}
	}
	for h, serverID := range hashToServer {
		var localID int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM receipts WHERE hash = ? AND id < 0", h).Scan(&localID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("lookup by hash: %w", err)
		}
		if err := rewriteReceiptID(ctx, tx, localID, serverID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rewrite: %w", err)
	}
	s.logger.Debug("identifiers rewritten", "by_local_id", len(localToServer), "by_hash", len(hashToServer))
	return nil
}

func rewriteReceiptID(ctx context.Context, tx *sql.Tx, localID, serverID int64) error {
	// A row with the server id can already exist if a pull imported it
	// earlier; in that case the local row is a duplicate of the same
	// logical receipt and its purchases move over.
	var exists int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM receipts WHERE id = ?", serverID).Scan(&exists)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, "UPDATE purchases SET receipt_id = ? WHERE receipt_id = ?", serverID, localID); err != nil {
			return fmt.Errorf("move purchases: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM receipts WHERE id = ?", localID); err != nil {
			return fmt.Errorf("drop duplicate receipt: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, "UPDATE receipts SET id = ? WHERE id = ?", serverID, localID); err != nil {
			return fmt.Errorf("rewrite receipt id: %w", err)
		}
	default:
		return fmt.Errorf("check server id: %w", err)
	}
	return nil
}

// ReplaceAll deletes all local content and re-inserts the server snapshot
// verbatim. Destructive by contract: callers must have uploaded local-only
// changes first.
func (s *Store) ReplaceAll(ctx context.Context, snap *protocol.PullResponse) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM purchases", "DELETE FROM receipts", "DELETE FROM categories"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear tables: %w", err)
		}
	}

	for _, c := range snap.Categories {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO categories (name) VALUES (?)", c.Name); err != nil {
			return fmt.Errorf("import category: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range snap.Receipts {
		created, updated := r.CreatedAt, r.UpdatedAt
		if created == "" {
			created = now
		}
		if updated == "" {
			updated = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO receipts (id, uid, date, hash, total_amount, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.UID, r.Date, r.Hash, r.TotalAmount, created, updated)
		if err != nil {
			return fmt.Errorf("import receipt %d: %w", r.ID, err)
		}
	}
	for _, p := range snap.Purchases {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchases (id, receipt_id, name, category, amount)
			VALUES (?, ?, ?, ?, ?)`,
			p.ID, p.ReceiptID, p.Name, p.Category, p.Amount)
		if err != nil {
			return fmt.Errorf("import purchase %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	s.logger.Info("local store replaced from server snapshot",
		"receipts", len(snap.Receipts), "purchases", len(snap.Purchases), "categories", len(snap.Categories))
	return nil
}

// CategoryTotal is one row of the expenses-by-category aggregation.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
}

// ExpensesByCategory sums purchase amounts per category over a date range.
// Uncategorized purchases group under the empty string.
func (s *Store) ExpensesByCategory(ctx context.Context, from, to string) ([]CategoryTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(p.category, ''), SUM(p.amount)
		FROM purchases p
		JOIN receipts r ON p.receipt_id = r.id
		WHERE r.date >= ? AND r.date <= ?
		GROUP BY p.category
		ORDER BY SUM(p.amount) DESC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query expenses by category: %w", err)
	}
	defer rows.Close()

	var totals []CategoryTotal
	for rows.Next() {
		var t CategoryTotal
		if err := rows.Scan(&t.Category, &t.Total); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// DateTotal is one row of the totals-by-date aggregation.
type DateTotal struct {
	Date  string  `json:"date"`
	Total float64 `json:"total"`
}

// TotalsByDate sums receipt totals per calendar date over a range.
func (s *Store) TotalsByDate(ctx context.Context, from, to string) ([]DateTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, SUM(total_amount)
		FROM receipts
		WHERE date >= ? AND date <= ?
		GROUP BY date
		ORDER BY date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query totals by date: %w", err)
	}
	defer rows.Close()

	var totals []DateTotal
	for rows.Next() {
		var t DateTotal
		if err := rows.Scan(&t.Date, &t.Total); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

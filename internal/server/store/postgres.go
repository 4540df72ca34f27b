// Package store is the authoritative server-side repository. Receipts are
// unique per (user, content hash); that index is what makes batch
// resubmission idempotent.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/momscoder/expensesmanager/internal/protocol"
)

var (
	ErrUserExists      = errors.New("email already registered")
	ErrUserNotFound    = errors.New("user not found")
	ErrReceiptNotFound = errors.New("receipt not found")
	ErrCategoryExists  = errors.New("category already exists")
	ErrCategoryMissing = errors.New("category not found")
	ErrConflict        = errors.New("concurrent write conflict")
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS categories (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	UNIQUE (user_id, name)
);
CREATE TABLE IF NOT EXISTS receipts (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	uid TEXT,
	date TEXT NOT NULL,
	hash TEXT NOT NULL,
	total_amount DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, hash)
);
CREATE TABLE IF NOT EXISTS purchases (
	id BIGSERIAL PRIMARY KEY,
	receipt_id BIGINT NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	category TEXT,
	amount DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_purchases_receipt ON purchases(receipt_id);
CREATE INDEX IF NOT EXISTS idx_receipts_user_date ON receipts(user_id, date);
`

type Store struct {
	Db     *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(ctx context.Context, connString string, logger *slog.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// InitSchema creates the tables and indexes if they do not exist yet.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// User is a registered account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser inserts an account; the email is unique.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (int64, error) {
	var id int64
	err := s.Db.QueryRow(ctx,
		"INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id",
		email, passwordHash).Scan(&id)
	if err != nil {
		if isPgCode(err, uniqueViolation) {
			return 0, ErrUserExists
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

// UserByEmail fetches an account for credential checks.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.Db.QueryRow(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = $1",
		email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// Snapshot returns the user's complete server-side state for the pull path.
func (s *Store) Snapshot(ctx context.Context, userID int64) (*protocol.PullResponse, error) {
	snap := &protocol.PullResponse{
		Receipts:   []protocol.PullReceipt{},
		Purchases:  []protocol.PullPurchase{},
		Categories: []protocol.PullCategory{},
	}

	rows, err := s.Db.Query(ctx, `
		SELECT id, uid, date, hash, total_amount, created_at, updated_at
		FROM receipts WHERE user_id = $1 ORDER BY date, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r                protocol.PullReceipt
			created, updated time.Time
		)
		if err := rows.Scan(&r.ID, &r.UID, &r.Date, &r.Hash, &r.TotalAmount, &created, &updated); err != nil {
			return nil, err
		}
		r.CreatedAt = created.UTC().Format(time.RFC3339)
		r.UpdatedAt = updated.UTC().Format(time.RFC3339)
		snap.Receipts = append(snap.Receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := s.Db.Query(ctx, `
		SELECT p.id, p.receipt_id, p.name, p.category, p.amount
		FROM purchases p JOIN receipts r ON p.receipt_id = r.id
		WHERE r.user_id = $1 ORDER BY p.receipt_id, p.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var p protocol.PullPurchase
		if err := prows.Scan(&p.ID, &p.ReceiptID, &p.Name, &p.Category, &p.Amount); err != nil {
			return nil, err
		}
		snap.Purchases = append(snap.Purchases, p)
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.Db.Query(ctx,
		"SELECT id, name FROM categories WHERE user_id = $1 ORDER BY name", userID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var c protocol.PullCategory
		if err := crows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		snap.Categories = append(snap.Categories, c)
	}
	return snap, crows.Err()
}

// DeleteReceipt removes a receipt (and its purchases via the cascade),
// scoped to the owning user.
func (s *Store) DeleteReceipt(ctx context.Context, userID, receiptID int64) error {
	tag, err := s.Db.Exec(ctx,
		"DELETE FROM receipts WHERE id = $1 AND user_id = $2", receiptID, userID)
	if err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

// ListCategories returns the user's categories ordered by name.
func (s *Store) ListCategories(ctx context.Context, userID int64) ([]protocol.PullCategory, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT id, name FROM categories WHERE user_id = $1 ORDER BY name", userID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	cats := []protocol.PullCategory{}
	for rows.Next() {
		var c protocol.PullCategory
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// CreateCategory inserts a category for the user.
func (s *Store) CreateCategory(ctx context.Context, userID int64, name string) (int64, error) {
	var id int64
	err := s.Db.QueryRow(ctx,
		"INSERT INTO categories (name, user_id) VALUES ($1, $2) RETURNING id",
		name, userID).Scan(&id)
	if err != nil {
		if isPgCode(err, uniqueViolation) {
			return 0, ErrCategoryExists
		}
		return 0, fmt.Errorf("insert category: %w", err)
	}
	return id, nil
}

// DeleteCategory removes a category and clears the name from the user's
// purchases, mirroring the client-side semantics.
func (s *Store) DeleteCategory(ctx context.Context, userID, categoryID int64) error {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var name string
	err = tx.QueryRow(ctx,
		"SELECT name FROM categories WHERE id = $1 AND user_id = $2",
		categoryID, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrCategoryMissing
	}
	if err != nil {
		return fmt.Errorf("query category: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"DELETE FROM categories WHERE id = $1 AND user_id = $2", categoryID, userID); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE purchases SET category = NULL
		WHERE category = $1 AND receipt_id IN (SELECT id FROM receipts WHERE user_id = $2)`,
		name, userID); err != nil {
		return fmt.Errorf("clear purchase categories: %w", err)
	}
	return tx.Commit(ctx)
}

// CategoryTotal is one row of the expenses-by-category aggregation.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
}

// ExpensesByCategory sums purchase amounts per category over a date range.
func (s *Store) ExpensesByCategory(ctx context.Context, userID int64, from, to string) ([]CategoryTotal, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT COALESCE(p.category, ''), SUM(p.amount)
		FROM purchases p JOIN receipts r ON p.receipt_id = r.id
		WHERE r.user_id = $1 AND r.date BETWEEN $2 AND $3
		GROUP BY p.category ORDER BY SUM(p.amount) DESC`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query expenses by category: %w", err)
	}
	defer rows.Close()

	totals := []CategoryTotal{}
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
func (s *Store) TotalsByDate(ctx context.Context, userID int64, from, to string) ([]DateTotal, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT date, SUM(total_amount)
		FROM receipts
		WHERE user_id = $1 AND date BETWEEN $2 AND $3
		GROUP BY date ORDER BY date`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query totals by date: %w", err)
	}
	defer rows.Close()

	totals := []DateTotal{}
	for rows.Next() {
		var t DateTotal
		if err := rows.Scan(&t.Date, &t.Total); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

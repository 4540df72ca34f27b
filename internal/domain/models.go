package domain

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used everywhere: receipts carry a
// date, never a time of day.
const DateLayout = "2006-01-02"

// MaxPurchaseNameLen bounds the length of a purchase name in bytes.
const MaxPurchaseNameLen = 256

// Receipt is one purchase event. UID is present for machine-scanned receipts
// and doubles as a free-text label for manually entered ones.
type Receipt struct {
	ID          RecordID   `json:"id"`
	UID         *string    `json:"uid,omitempty"`
	Date        string     `json:"date"`
	Hash        string     `json:"hash"`
	TotalAmount float64    `json:"total_amount"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Purchases   []Purchase `json:"purchases"`
}

// Purchase is one line item. ReceiptID holds the parent's local identifier
// for records created offline and is rewritten to the parent's server
// identifier once the parent is reconciled.
type Purchase struct {
	ID        RecordID `json:"id"`
	ReceiptID RecordID `json:"receipt_id"`
	Name      string   `json:"name"`
	Category  *string  `json:"category,omitempty"`
	Amount    float64  `json:"amount"`
}

// Category is a user-defined label. The name is the natural key,
// case-sensitive and unique per user.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

var (
	ErrEmptyName     = errors.New("purchase name must not be empty")
	ErrNameTooLong   = errors.New("purchase name too long")
	ErrNonPositive   = errors.New("purchase amount must be positive")
	ErrInvalidDate   = errors.New("date must be YYYY-MM-DD")
	ErrNegativeTotal = errors.New("receipt total must not be negative")
)

// Validate checks the invariants a purchase must satisfy before it is stored
// or put on the wire.
func (p Purchase) Validate() error {
	if p.Name == "" {
		return ErrEmptyName
	}
	if len(p.Name) > MaxPurchaseNameLen {
		return fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(p.Name))
	}
	if p.Amount <= 0 {
		return ErrNonPositive
	}
	return nil
}

// Validate checks the receipt and all nested purchases.
func (r Receipt) Validate() error {
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, r.Date)
	}
	if r.TotalAmount < 0 {
		return ErrNegativeTotal
	}
	for _, p := range r.Purchases {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SumPurchases recomputes the derived total from the line items.
func (r Receipt) SumPurchases() float64 {
	var total float64
	for _, p := range r.Purchases {
		total += p.Amount
	}
	return total
}

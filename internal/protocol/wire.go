// Package protocol defines the request/response units exchanged between the
// sync coordinator and the reconciliation server. These are transient wire
// shapes, not stored entities; nullable columns become pointer fields so the
// JSON stays clean.
package protocol

// ReceiptUpload is one receipt in an upload batch. LocalID is negative for
// records created offline and zero when the receipt was already reconciled
// in an earlier cycle (the hash alone identifies it then).
type ReceiptUpload struct {
	LocalID     int64   `json:"localId,omitempty"`
	Hash        string  `json:"hash"`
	UID         *string `json:"uid,omitempty"`
	Date        string  `json:"date"`
	TotalAmount float64 `json:"totalAmount"`
	UpdatedAt   string  `json:"updatedAt,omitempty"`
}

// PurchaseUpload is one line item in an upload batch. ReceiptID carries the
// parent's local identifier (negative) when the parent is created in the
// same batch, or its server identifier when the parent was reconciled
// earlier.
type PurchaseUpload struct {
	LocalID   int64   `json:"localId,omitempty"`
	ReceiptID int64   `json:"receiptId"`
	Name      string  `json:"name"`
	Amount    float64 `json:"amount"`
	Category  *string `json:"category,omitempty"`
}

// CategoryUpload is one category in an upload batch, matched server-side by
// exact name.
type CategoryUpload struct {
	Name string `json:"name"`
}

// SyncRequest is the full upload batch for one sync cycle.
type SyncRequest struct {
	Receipts   []ReceiptUpload  `json:"receipts"`
	Purchases  []PurchaseUpload `json:"purchases"`
	Categories []CategoryUpload `json:"categories"`
}

// Record statuses reported per reconciled record.
const (
	StatusCreated = "created"
	StatusUpdated = "updated"
)

// ReceiptResult reports what the server did with one uploaded receipt.
type ReceiptResult struct {
	Hash     string `json:"hash"`
	ServerID int64  `json:"serverId"`
	Status   string `json:"status"`
}

// CategoryResult reports what the server did with one uploaded category.
type CategoryResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// BatchResults groups per-record statuses for observability.
type BatchResults struct {
	Receipts   []ReceiptResult  `json:"receipts"`
	Categories []CategoryResult `json:"categories"`
}

// SyncResponse carries the identifier mappings the client needs to rewrite
// its local store, plus per-record outcomes.
type SyncResponse struct {
	LocalIDToServerID map[int64]int64  `json:"localIdToServerId"`
	HashToServerID    map[string]int64 `json:"hashToServerId"`
	Results           BatchResults     `json:"results"`
}

// PullReceipt is one receipt in a full server snapshot.
type PullReceipt struct {
	ID          int64   `json:"id"`
	UID         *string `json:"uid,omitempty"`
	Date        string  `json:"date"`
	Hash        string  `json:"hash"`
	TotalAmount float64 `json:"total_amount"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// PullPurchase is one purchase in a full server snapshot.
type PullPurchase struct {
	ID        int64   `json:"id"`
	ReceiptID int64   `json:"receipt_id"`
	Name      string  `json:"name"`
	Category  *string `json:"category,omitempty"`
	Amount    float64 `json:"amount"`
}

// PullCategory is one category in a full server snapshot.
type PullCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PullResponse is the full snapshot of a user's server-side state. There is
// no delta or cursor support; the client replaces its store wholesale.
type PullResponse struct {
	Receipts   []PullReceipt  `json:"receipts"`
	Purchases  []PullPurchase `json:"purchases"`
	Categories []PullCategory `json:"categories"`
}

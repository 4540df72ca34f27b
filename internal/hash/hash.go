// Package hash derives the idempotency key for a receipt from its natural
// identity. The same key is used on the wire and as a uniqueness constraint
// in server-side storage, so the derivation must never change.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Receipt returns the hex-encoded SHA-256 digest of uid + "_" + date.
// uid is empty for manually entered receipts; date is YYYY-MM-DD. The
// function is pure: same input, same output, no failure modes.
func Receipt(uid, date string) string {
	sum := sha256.Sum256([]byte(uid + "_" + date))
	return hex.EncodeToString(sum[:])
}

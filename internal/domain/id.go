package domain

// RecordID identifies a receipt or purchase on either side of the sync
// boundary. The server assigns positive integers; records created offline
// carry negative integers until they are reconciled. The sign is the storage
// and wire encoding; code should go through IsLocal/IsServer instead of
// comparing against zero.
type RecordID int64

// NewLocalID builds a local identifier from a positive sequence number.
func NewLocalID(seq int64) RecordID {
	if seq <= 0 {
		panic("domain: local id sequence must be positive")
	}
	return RecordID(-seq)
}

// NewServerID builds a server-assigned identifier.
func NewServerID(id int64) RecordID {
	if id <= 0 {
		panic("domain: server id must be positive")
	}
	return RecordID(id)
}

func (id RecordID) IsLocal() bool  { return id < 0 }
func (id RecordID) IsServer() bool { return id > 0 }

// IsZero reports whether the id has not been assigned at all.
func (id RecordID) IsZero() bool { return id == 0 }

func (id RecordID) Int64() int64 { return int64(id) }

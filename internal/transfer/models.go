package transfer

import (
	"gorm.io/gorm"
)

const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

const (
	// KindTransfer moves tokens to a recipient, optionally carrying a
	// settlement instruction for the receiving venue.
	KindTransfer = "TRANSFER"
	// KindFinalize is the self-addressed route finalize check, scheduled at
	// route begin and delivered after the chain of hops unwinds.
	KindFinalize = "FINALIZE"
)

// Instruction is one queued side effect. Rows are written inside the same
// transaction as the state change that emitted them, so a failed operation
// leaves no instruction behind.
type Instruction struct {
	gorm.Model
	TransferID string `gorm:"uniqueIndex" json:"transfer_id"`
	Kind       string `json:"kind"`
	Token      string `json:"token"`
	Recipient  string `json:"recipient"`
	Amount     uint64 `json:"amount"`
	Payload    string `json:"payload,omitempty"` // settlement instruction for the venue
	RouteID    string `gorm:"index" json:"route_id,omitempty"`
	Status     string `json:"status"`
}

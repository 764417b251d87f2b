package activity

import (
	"gorm.io/gorm"
)

const (
	KindCancel = "cancel"
	KindFill   = "fill"
)

// Record is an immutable audit entry appended when an order is cancelled or
// filled. Sequence is monotonic per actor and kind; fill snapshots are nil
// for cancels. Records are never mutated or deleted.
type Record struct {
	gorm.Model
	Actor             string  `gorm:"index:idx_actor_kind" json:"-"`
	Kind              string  `gorm:"index:idx_actor_kind" json:"kind"`
	Sequence          uint64  `json:"sequence"`
	OrderPosition     uint64  `json:"order_position"`
	ResultFromFilled  *uint64 `json:"result_from_filled,omitempty"`
	ResultNetToFilled *uint64 `json:"result_net_to_filled,omitempty"`
	Height            uint64  `json:"at"`
}

package orders

import (
	"gorm.io/gorm"
)

// Order is a resting limit order. It is stored once, keyed by a synthetic
// id, with two position sequences: CreatorPosition in the creator's
// namespace and BookPosition in the operator's book. Lookups by either side
// synthesize the mirrored view with the position fields swapped, so the two
// namespaces can never drift apart.
type Order struct {
	gorm.Model
	Creator           string `gorm:"index:idx_creator_pos"`
	CreatorPosition   uint64 `gorm:"index:idx_creator_pos"`
	BookPosition      uint64 `gorm:"uniqueIndex"`
	FromToken         string `json:"from_token"`
	ToToken           string `json:"to_token"`
	FromAmount        uint64 `json:"from_amount"`
	FromAmountFilled  uint64 `json:"from_amount_filled"`
	NetToAmount       uint64 `json:"net_to_amount"`
	NetToAmountFilled uint64 `json:"net_to_amount_filled"`
	Fee               uint64 `json:"fee"`
	ExecutionFee      uint64 `json:"execution_fee"`
	ExecutionFeeSet   bool   `json:"execution_fee_set"`
	EscrowToken       string `json:"escrow_token,omitempty"`
	Cancelled         bool   `json:"cancelled"`
	CreatedAtHeight   uint64 `json:"created_at"`
}

// Remaining returns the unfilled output still owed to the creator.
func (o *Order) Remaining() uint64 {
	return o.NetToAmount - o.NetToAmountFilled
}

// FullyFilled reports whether the order has released all of its input.
func (o *Order) FullyFilled() bool {
	return o.FromAmountFilled == o.FromAmount
}

// OrderView is an order as seen from one namespace: Position is the
// sequence in that namespace, OtherStoragePosition the sequence in the
// opposite one.
type OrderView struct {
	Creator              string `json:"creator"`
	Position             uint64 `json:"position"`
	OtherStoragePosition uint64 `json:"other_storage_position"`
	FromToken            string `json:"from_token"`
	ToToken              string `json:"to_token"`
	FromAmount           uint64 `json:"from_amount"`
	FromAmountFilled     uint64 `json:"from_amount_filled"`
	NetToAmount          uint64 `json:"net_to_amount"`
	NetToAmountFilled    uint64 `json:"net_to_amount_filled"`
	Fee                  uint64 `json:"fee"`
	ExecutionFee         uint64 `json:"execution_fee,omitempty"`
	Cancelled            bool   `json:"cancelled"`
	CreatedAt            uint64 `json:"created_at"`
}

// CreatorView returns the order as stored in the creator's namespace.
func (o *Order) CreatorView() *OrderView {
	return o.view(o.CreatorPosition, o.BookPosition)
}

// BookView returns the order as stored in the operator's book namespace.
func (o *Order) BookView() *OrderView {
	return o.view(o.BookPosition, o.CreatorPosition)
}

func (o *Order) view(position, other uint64) *OrderView {
	return &OrderView{
		Creator:              o.Creator,
		Position:             position,
		OtherStoragePosition: other,
		FromToken:            o.FromToken,
		ToToken:              o.ToToken,
		FromAmount:           o.FromAmount,
		FromAmountFilled:     o.FromAmountFilled,
		NetToAmount:          o.NetToAmount,
		NetToAmountFilled:    o.NetToAmountFilled,
		Fee:                  o.Fee,
		ExecutionFee:         o.ExecutionFee,
		Cancelled:            o.Cancelled,
		CreatedAt:            o.CreatedAtHeight,
	}
}

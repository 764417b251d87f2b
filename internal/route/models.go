package route

import (
	"gorm.io/gorm"
)

// Route phases. Transitions:
//
//	Begin:            -> AWAITING_HOP
//	Advance mid-route: AWAITING_HOP -> AWAITING_HOP | AWAITING_FINAL
//	Advance final leg: AWAITING_FINAL -> DRAINING
//	Finalize:          DRAINING -> deleted
//
// Any other transition is rejected with an invalid-state error.
const (
	StatusAwaitingHop   = "AWAITING_HOP"
	StatusAwaitingFinal = "AWAITING_FINAL"
	StatusDraining      = "DRAINING"
)

// Hop is one leg of a route: the token it consumes, the venue expected to
// receive it and emit the swapped asset back, and optionally the book
// position of an on-ledger order when the leg is a fill rather than an
// external swap.
type Hop struct {
	FromToken     string  `json:"from_token"`
	TradingVenue  string  `json:"trading_venue"`
	OrderPosition *uint64 `json:"order_position,omitempty"`
}

// Route is one in-flight saga. Routes are keyed by a generated id so
// several can be in flight without colliding; every callback carries the id.
type Route struct {
	gorm.Model
	RouteID                 string  `gorm:"uniqueIndex" json:"route_id"`
	Status                  string  `json:"status"`
	BorrowToken             string  `json:"borrow_token"`
	BorrowAmount            uint64  `json:"borrow_amount"`
	Initiator               string  `json:"initiator"`
	MinimumAcceptableAmount *uint64 `json:"minimum_acceptable_amount,omitempty"`
	CurrentHop              *Hop    `gorm:"serializer:json" json:"current_hop,omitempty"`
	RemainingHops           []Hop   `gorm:"serializer:json" json:"remaining_hops"`
}

// VenueInstruction is the settlement payload attached to the transfer sent
// to a hop's venue: either fill an on-ledger order or swap and return the
// proceeds to the router.
type VenueInstruction struct {
	RouteID   string           `json:"route_id"`
	FillOrder *FillInstruction `json:"fill_order,omitempty"`
	Swap      *SwapInstruction `json:"swap,omitempty"`
}

type FillInstruction struct {
	Position uint64 `json:"position"`
}

// SwapInstruction asks an external venue to swap and send the proceeds to
// Recipient. ExpectedReturn stays nil mid-route; slippage is only enforced
// on the final leg.
type SwapInstruction struct {
	ExpectedReturn *uint64 `json:"expected_return,omitempty"`
	Recipient      string  `json:"recipient"`
}

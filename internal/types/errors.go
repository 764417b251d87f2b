package types

import "errors"

// Base error kinds for the whole service. Domain packages wrap these with
// fmt.Errorf("...: %w", ...) so callers can classify with errors.Is while
// the message keeps the operation-specific detail.
var (
	// ErrUnauthorized is returned when the caller is not allow-listed, is not
	// the admin, is not the expected venue, or is not the service itself.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when an order, asset, or route does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when the resource exists but cannot accept
	// the operation: order already cancelled or filled, fee already set,
	// route missing hops or in the wrong phase.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidInput is returned for malformed operations: zero amounts,
	// mismatched tokens, routes shorter than two hops, shortfall or slippage.
	ErrInvalidInput = errors.New("invalid input")

	// ErrArithmetic is returned on overflow or underflow in fee,
	// proportional-fill, or locked-balance math. It signals a consistency bug
	// upstream and is never expected in normal operation.
	ErrArithmetic = errors.New("arithmetic error")
)

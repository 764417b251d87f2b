package orders

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/ksred/atomex-api/internal/types"
)

const feeBasisPoints = 10_000

// feeTierBps maps the caller's loyalty balance to a fee in basis points.
func feeTierBps(loyaltyBalance uint64) uint64 {
	switch {
	case loyaltyBalance >= 100_000_000_000:
		return 0
	case loyaltyBalance >= 50_000_000_000:
		return 6
	case loyaltyBalance >= 25_000_000_000:
		return 12
	case loyaltyBalance >= 12_500_000_000:
		return 18
	case loyaltyBalance >= 6_250_000_000:
		return 24
	default:
		return 30
	}
}

// calculateFee returns the output-denominated fee for the order, floored.
func calculateFee(loyaltyBalance, toAmount uint64) (uint64, error) {
	bps := feeTierBps(loyaltyBalance)
	if bps == 0 {
		return 0, nil
	}

	f := new(uint256.Int).Mul(uint256.NewInt(toAmount), uint256.NewInt(bps))
	f.Div(f, uint256.NewInt(feeBasisPoints))
	if !f.IsUint64() {
		return 0, fmt.Errorf("overflow while calculating fee: %w", types.ErrArithmetic)
	}
	return f.Uint64(), nil
}

// proportionalRelease computes floor(fromAmount * incoming / netToAmount)
// with a wide intermediate so the multiply cannot overflow at token-amount
// magnitudes. The completing fill never takes this path; it releases the
// exact remainder instead, so no rounding dust outlives the order.
func proportionalRelease(fromAmount, incoming, netToAmount uint64) (uint64, error) {
	if netToAmount == 0 {
		return 0, fmt.Errorf("division by zero in proportional release: %w", types.ErrArithmetic)
	}
	f := new(uint256.Int).Mul(uint256.NewInt(fromAmount), uint256.NewInt(incoming))
	f.Div(f, uint256.NewInt(netToAmount))
	if !f.IsUint64() {
		return 0, fmt.Errorf("overflow in proportional release: %w", types.ErrArithmetic)
	}
	return f.Uint64(), nil
}

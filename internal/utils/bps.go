package utils

import (
	"fmt"
	"math/big"

	"vault-backend/internal/types"
)

// BpsDenominator is the basis point scale (10000 = 100%)
const BpsDenominator = 10000

// ValidateBps rejects basis point parameters outside [0, 10000].
// Out-of-range values are a programming error and must be caught before any
// network call is issued.
func ValidateBps(name string, bps int64) error {
	if bps < 0 || bps > BpsDenominator {
		return fmt.Errorf("%s = %d: %w", name, bps, types.ErrInvalidBps)
	}
	return nil
}

// ApplyBpsFloor returns amount * (10000 - bps) / 10000, the minimum-out floor
// for a slippage tolerance. Integer multiply-then-divide only; truncation
// toward zero.
func ApplyBpsFloor(amount *big.Int, bps int64) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, big.NewInt(BpsDenominator-bps))
	return out.Div(out, big.NewInt(BpsDenominator))
}

// BpsPortion returns amount * bps / 10000
func BpsPortion(amount *big.Int, bps int64) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, big.NewInt(bps))
	return out.Div(out, big.NewInt(BpsDenominator))
}

// Pow10 returns 10^exp as a big.Int
func Pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

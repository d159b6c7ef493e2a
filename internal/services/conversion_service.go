package services

import (
	"context"
	"fmt"
	"math/big"

	"vault-backend/internal/types"
	"vault-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ConversionService converts between underlying-asset amounts and vault-share
// amounts, and classifies near-total withdrawal requests as full withdrawals.
//
// Between quote time and execution time the per-share value can move as
// interest accrues. Requesting a share amount equal to the current full
// balance risks under-withdrawing by the time the transaction lands, and
// over-requesting reverts. The tolerance band turns "withdraw ~100%" into an
// exact full-balance redemption, eliminating both dust and revert risk.
type ConversionService struct {
	oracle *OracleService
}

// NewConversionService creates the conversion engine on top of the oracle
func NewConversionService(oracle *OracleService) *ConversionService {
	return &ConversionService{oracle: oracle}
}

// SharesForWithdraw resolves a requested underlying amount into the share
// amount to redeem. toleranceBps outside [0, 10000] is rejected before any
// network call. Accounting fields are re-read fresh so the classification is
// made against the live share balance.
func (s *ConversionService) SharesForWithdraw(ctx context.Context, vault *types.VaultDescriptor, owner common.Address, amount *big.Int, toleranceBps int64) (*types.ShareConversion, error) {
	if err := utils.ValidateBps("toleranceBps", toleranceBps); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, types.ErrNonPositiveValue
	}

	// Conversion happens close to execution; stale accounting here turns
	// into on-chain reverts.
	s.oracle.InvalidateVault(vault.ChainID, vault.Address)

	accounting := s.oracle.Accounting(vault)

	shares, err := accounting.ConvertToShares(ctx, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to convert amount to shares: %w", err)
	}

	shareBalance, err := accounting.ShareBalance(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read share balance: %w", err)
	}

	conversion := &types.ShareConversion{
		Shares:               shares,
		UnderlyingEquivalent: new(big.Int).Set(amount),
	}

	if IsFullWithdrawal(shares, shareBalance, toleranceBps) {
		conversion.IsFullWithdrawal = true
		conversion.Shares = new(big.Int).Set(shareBalance)
		logrus.WithFields(logrus.Fields{
			"vault":         vault.Address.Hex(),
			"owner":         owner.Hex(),
			"requested":     shares.String(),
			"share_balance": shareBalance.String(),
			"tolerance_bps": toleranceBps,
		}).Debug("Withdraw request classified as full withdrawal")
	}

	return conversion, nil
}

// IsFullWithdrawal reports whether redeeming shares out of shareBalance
// leaves a remainder inside the tolerance band. Equality is always a full
// withdrawal, including at zero tolerance; requests exceeding the balance
// are clamped to it.
func IsFullWithdrawal(shares, shareBalance *big.Int, toleranceBps int64) bool {
	if shareBalance == nil || shareBalance.Sign() <= 0 {
		return false
	}
	remainder := new(big.Int).Sub(shareBalance, shares)
	if remainder.Sign() < 0 {
		return true
	}
	band := utils.BpsPortion(shareBalance, toleranceBps)
	return remainder.Cmp(band) <= 0
}

// LegacySharesForAmount is the pure legacy conversion:
// amount * 10^decimals / pricePerShare, integer multiply-then-divide.
func LegacySharesForAmount(amount, pricePerShare *big.Int, decimals uint8) *big.Int {
	shares := new(big.Int).Mul(amount, utils.Pow10(decimals))
	return shares.Div(shares, pricePerShare)
}

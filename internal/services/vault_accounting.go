package services

import (
	"context"
	"fmt"
	"math/big"

	"vault-backend/internal/types"
	"vault-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
)

// legacyAccounting answers accounting queries for share-based vaults from a
// scalar pricePerShare and the vault's decimals.
type legacyAccounting struct {
	oracle *OracleService
	vault  *types.VaultDescriptor
}

func (a *legacyAccounting) pricePerShare(ctx context.Context) (*big.Int, error) {
	pps, err := a.oracle.vaultField(ctx, a.vault, legacyVaultABI, "pricePerShare", "pps")
	if err != nil {
		return nil, err
	}
	if pps.Sign() <= 0 {
		return nil, fmt.Errorf("vault %s reports non-positive pricePerShare", a.vault.Address.Hex())
	}
	return pps, nil
}

// MaxDeposit for legacy vaults is the vault-level deposit limit, not per-user
func (a *legacyAccounting) MaxDeposit(ctx context.Context, _ common.Address) (*big.Int, error) {
	return a.oracle.vaultField(ctx, a.vault, legacyVaultABI, "availableDepositLimit", "depositLimit")
}

func (a *legacyAccounting) MaxWithdraw(ctx context.Context, owner common.Address) (*big.Int, error) {
	shares, err := a.ShareBalance(ctx, owner)
	if err != nil {
		return nil, err
	}
	return a.ConvertToAssets(ctx, shares)
}

func (a *legacyAccounting) PreviewDeposit(ctx context.Context, amount *big.Int) (*big.Int, error) {
	return a.ConvertToShares(ctx, amount)
}

// ConvertToShares computes amount * 10^decimals / pricePerShare.
// Multiply before divide; truncation toward zero.
func (a *legacyAccounting) ConvertToShares(ctx context.Context, amount *big.Int) (*big.Int, error) {
	pps, err := a.pricePerShare(ctx)
	if err != nil {
		return nil, err
	}
	shares := new(big.Int).Mul(amount, utils.Pow10(a.vault.Decimals))
	return shares.Div(shares, pps), nil
}

// ConvertToAssets computes shares * pricePerShare / 10^decimals
func (a *legacyAccounting) ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error) {
	pps, err := a.pricePerShare(ctx)
	if err != nil {
		return nil, err
	}
	assets := new(big.Int).Mul(shares, pps)
	return assets.Div(assets, utils.Pow10(a.vault.Decimals)), nil
}

func (a *legacyAccounting) ShareBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	key := fmt.Sprintf("shares:%s", owner.Hex())
	return a.oracle.vaultField(ctx, a.vault, legacyVaultABI, "balanceOf", key, owner)
}

// standardAccounting answers accounting queries through the vault's own
// standardized functions. Conversion and preview queries are authoritative
// and always read live: the rate can drift between quote and confirmation.
type standardAccounting struct {
	oracle *OracleService
	vault  *types.VaultDescriptor
}

func (a *standardAccounting) MaxDeposit(ctx context.Context, owner common.Address) (*big.Int, error) {
	key := fmt.Sprintf("maxDeposit:%s", owner.Hex())
	return a.oracle.vaultField(ctx, a.vault, standardVaultABI, "maxDeposit", key, owner)
}

func (a *standardAccounting) MaxWithdraw(ctx context.Context, owner common.Address) (*big.Int, error) {
	key := fmt.Sprintf("maxWithdraw:%s", owner.Hex())
	return a.oracle.vaultField(ctx, a.vault, standardVaultABI, "maxWithdraw", key, owner)
}

func (a *standardAccounting) PreviewDeposit(ctx context.Context, amount *big.Int) (*big.Int, error) {
	return a.oracle.vaultLiveField(ctx, a.vault, standardVaultABI, "previewDeposit", amount)
}

func (a *standardAccounting) ConvertToShares(ctx context.Context, amount *big.Int) (*big.Int, error) {
	return a.oracle.vaultLiveField(ctx, a.vault, standardVaultABI, "convertToShares", amount)
}

func (a *standardAccounting) ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error) {
	return a.oracle.vaultLiveField(ctx, a.vault, standardVaultABI, "convertToAssets", shares)
}

func (a *standardAccounting) ShareBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	key := fmt.Sprintf("shares:%s", owner.Hex())
	return a.oracle.vaultField(ctx, a.vault, standardVaultABI, "balanceOf", key, owner)
}

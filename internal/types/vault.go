package types

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// VaultVersion identifies the vault interface generation
type VaultVersion string

const (
	// VaultVersionLegacy share-based vault with a scalar pricePerShare and a deposit limit query
	VaultVersionLegacy VaultVersion = "LEGACY"
	// VaultVersionStandard ERC-4626 style vault with convert/max/preview functions
	VaultVersionStandard VaultVersion = "STANDARD"
)

// TokenDescriptor identifies an ERC-20 token on a chain
type TokenDescriptor struct {
	ChainID  int            `json:"chain_id"`
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// IsNative reports whether this token is the chain-native asset.
// The frontend uses the conventional 0xEeee... sentinel for native coins.
func (t TokenDescriptor) IsNative() bool {
	return t.Address == NativeTokenAddress
}

// NativeTokenAddress is the conventional sentinel for the chain-native asset
var NativeTokenAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// VaultDescriptor identifies a vault and carries its block-scoped accounting fields.
// Identity (chain id, address, version, underlying) is immutable; the accounting
// block must be re-fetched after any state-changing call.
type VaultDescriptor struct {
	ChainID    int             `json:"chain_id"`
	Address    common.Address  `json:"address"`
	Version    VaultVersion    `json:"version"`
	Symbol     string          `json:"symbol"`
	Decimals   uint8           `json:"decimals"`
	Underlying TokenDescriptor `json:"underlying"`
}

// IsLegacy reports whether the vault predates the standardized interface
func (v *VaultDescriptor) IsLegacy() bool {
	return v.Version == VaultVersionLegacy
}

// VaultAccounting exposes the vault's accounting surface independent of its
// interface generation. Legacy vaults derive everything from pricePerShare;
// standard vaults answer through their own contract functions.
type VaultAccounting interface {
	// MaxDeposit returns the largest underlying amount owner may deposit right now
	MaxDeposit(ctx context.Context, owner common.Address) (*big.Int, error)

	// MaxWithdraw returns the largest underlying amount owner may withdraw right now
	MaxWithdraw(ctx context.Context, owner common.Address) (*big.Int, error)

	// PreviewDeposit returns the shares minted for depositing amount
	PreviewDeposit(ctx context.Context, amount *big.Int) (*big.Int, error)

	// ConvertToShares returns the share equivalent of an underlying amount
	ConvertToShares(ctx context.Context, amount *big.Int) (*big.Int, error)

	// ConvertToAssets returns the underlying equivalent of a share amount
	ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error)

	// ShareBalance returns owner's vault share balance
	ShareBalance(ctx context.Context, owner common.Address) (*big.Int, error)
}

// ShareConversion is the result of converting an underlying amount into shares
type ShareConversion struct {
	Shares               *big.Int `json:"shares"`
	UnderlyingEquivalent *big.Int `json:"underlying_equivalent"`
	IsFullWithdrawal     bool     `json:"is_full_withdrawal"`
}

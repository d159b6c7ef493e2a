package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferDirection deposit or withdraw
type TransferDirection string

const (
	DirectionDeposit  TransferDirection = "DEPOSIT"
	DirectionWithdraw TransferDirection = "WITHDRAW"
)

// TransferIntent is one user-initiated deposit or withdraw request.
// Amount is raw (smallest unit, token-denominated) and unvalidated until it
// passes the conversion engine and the strategy selector.
type TransferIntent struct {
	Direction TransferDirection `json:"direction"`
	ChainID   int               `json:"chain_id"`
	Token     TokenDescriptor   `json:"token"`
	Vault     *VaultDescriptor  `json:"vault"`
	Owner     common.Address    `json:"owner"`
	Receiver  common.Address    `json:"receiver"`
	Amount    *big.Int          `json:"amount"`
}

// NeedsZap reports whether the input token differs from the vault's accepted
// asset, requiring an aggregator swap on the way in or out.
func (i *TransferIntent) NeedsZap() bool {
	if i.Vault == nil {
		return false
	}
	return i.Token.Address != i.Vault.Underlying.Address
}

// Call is one on-chain call to be executed, alone or as part of a batch
type Call struct {
	ChainID int            `json:"chain_id"`
	To      common.Address `json:"to"`
	Value   *big.Int       `json:"value"`
	Data    []byte         `json:"data"`
}

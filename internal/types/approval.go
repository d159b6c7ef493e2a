package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxUint256 is the approval width ceiling; an allowance at this value is
// treated as "no practical ceiling"
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PermitSignature is an off-chain EIP-2612 spending authorization
type PermitSignature struct {
	V        uint8       `json:"v"`
	R        common.Hash `json:"r"`
	S        common.Hash `json:"s"`
	Deadline *big.Int    `json:"deadline"`
	Value    *big.Int    `json:"value"`
}

// ApprovalState is the spending authorization view for one (owner, spender, token)
// tuple. A permit signature and its implied allowance supersede the on-chain
// allowance reading whenever both are present.
type ApprovalState struct {
	Allowance       *big.Int         `json:"allowance"`
	Permit          *PermitSignature `json:"permit,omitempty"`
	PermitAllowance *big.Int         `json:"permit_allowance,omitempty"`
}

// IsApproved reports whether amount is covered. Permit allowance takes
// precedence over the on-chain allowance whenever a signature is present.
func (s *ApprovalState) IsApproved(amount *big.Int) bool {
	if amount == nil || amount.Sign() <= 0 {
		return false
	}
	if s.Permit != nil {
		return s.PermitAllowance != nil && s.PermitAllowance.Cmp(amount) >= 0
	}
	return s.Allowance != nil && s.Allowance.Cmp(amount) >= 0
}

// IsInfiniteApproved reports whether the effective allowance is the maximum
// representable approval, with the same permit precedence as IsApproved.
func (s *ApprovalState) IsInfiniteApproved() bool {
	if s.Permit != nil {
		return s.PermitAllowance != nil && s.PermitAllowance.Cmp(MaxUint256) >= 0
	}
	return s.Allowance != nil && s.Allowance.Cmp(MaxUint256) >= 0
}

// ClearPermit drops any permit signature, falling back to the on-chain allowance
func (s *ApprovalState) ClearPermit() {
	s.Permit = nil
	s.PermitAllowance = nil
}

package services

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"vault-backend/internal/metrics"
	"vault-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

var erc20WriteABI = mustABI(`[
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"permit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]}
]`)

// ApprovalOptions steers EnsureApproved between the permit and the
// transaction path
type ApprovalOptions struct {
	// UsePermit requests a gasless signature-based approval first
	UsePermit bool
	// DeadlineMinutes lifetime of a requested permit signature
	DeadlineMinutes int
}

// ApprovalService decides whether spending must be authorized via an on-chain
// approval transaction or an off-chain signed permit, and executes the chosen
// path. Signing refusal is recovered locally: the permit state is cleared and
// failure reported, never thrown.
type ApprovalService struct {
	oracle   *OracleService
	signer   PermitSigner
	executor CallExecutor
}

// NewApprovalService creates the approval manager
func NewApprovalService(oracle *OracleService, signer PermitSigner, executor CallExecutor) *ApprovalService {
	return &ApprovalService{oracle: oracle, signer: signer, executor: executor}
}

// CanApprove reports whether (token, spender, amount) is an approvable tuple.
// Chain-native assets carry no ERC-20 semantics and are never approvable.
func (s *ApprovalService) CanApprove(token types.TokenDescriptor, spender common.Address, amount *big.Int) bool {
	if token.IsNative() {
		return false
	}
	if token.Address == (common.Address{}) || spender == (common.Address{}) {
		return false
	}
	return amount != nil && amount.Sign() > 0
}

// CurrentState reads the on-chain allowance into a fresh ApprovalState
func (s *ApprovalService) CurrentState(ctx context.Context, token types.TokenDescriptor, owner, spender common.Address) (*types.ApprovalState, error) {
	allowance, err := s.oracle.Allowance(ctx, token, owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowance: %w", err)
	}
	return &types.ApprovalState{Allowance: allowance}, nil
}

// EnsureApproved authorizes spender over amount of owner's token. The
// returned bool reports whether authorization is now in place; recoverable
// failures (signing refusal, reverted approve) come back as (state, false,
// nil). The allowance cache is invalidated and refreshed on every path.
func (s *ApprovalService) EnsureApproved(ctx context.Context, owner, spender common.Address, token types.TokenDescriptor, amount *big.Int, opts ApprovalOptions) (*types.ApprovalState, bool, error) {
	if token.IsNative() {
		// always considered approved
		return &types.ApprovalState{Allowance: types.MaxUint256}, true, nil
	}
	if !s.CanApprove(token, spender, amount) {
		return nil, false, fmt.Errorf("cannot approve: %w", types.ErrInvalidAddress)
	}

	state, err := s.CurrentState(ctx, token, owner, spender)
	if err != nil {
		return nil, false, err
	}
	if state.IsApproved(amount) {
		return state, true, nil
	}

	if opts.UsePermit {
		deadline := big.NewInt(time.Now().Unix() + int64(opts.DeadlineMinutes)*60)
		sig, err := s.signer.SignPermit(ctx, token, owner, spender, amount, deadline)
		if err != nil {
			return nil, false, fmt.Errorf("failed to request permit signature: %w", err)
		}
		if sig == nil {
			// refusal or unsupported: clear any prior permit and report
			// failure without throwing
			state.ClearPermit()
			metrics.ApprovalRequests.WithLabelValues("permit", "refused").Inc()
			s.refreshAllowance(ctx, token, owner, spender, state)
			return state, false, nil
		}

		state.Permit = sig
		state.PermitAllowance = new(big.Int).Set(amount)
		metrics.ApprovalRequests.WithLabelValues("permit", "signed").Inc()
		logrus.WithFields(logrus.Fields{
			"token":    token.Address.Hex(),
			"spender":  spender.Hex(),
			"deadline": sig.Deadline.String(),
		}).Info("Permit signature obtained")
		s.refreshAllowance(ctx, token, owner, spender, state)
		return state, true, nil
	}

	// standard approval transaction
	data, err := erc20WriteABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, false, fmt.Errorf("failed to pack approve call: %w", err)
	}
	outcome := s.executor.Execute(ctx, &types.Call{
		ChainID: token.ChainID,
		To:      token.Address,
		Value:   big.NewInt(0),
		Data:    data,
	})
	if !outcome.IsSuccessful {
		metrics.ApprovalRequests.WithLabelValues("transaction", "failed").Inc()
		s.refreshAllowance(ctx, token, owner, spender, state)
		return state, false, nil
	}
	metrics.ApprovalRequests.WithLabelValues("transaction", "confirmed").Inc()

	s.refreshAllowance(ctx, token, owner, spender, state)
	return state, state.IsApproved(amount), nil
}

// PermitCallData packs the on-chain permit redemption for a signed permit
func PermitCallData(owner, spender common.Address, sig *types.PermitSignature) ([]byte, error) {
	return erc20WriteABI.Pack("permit", owner, spender, sig.Value, sig.Deadline, sig.V, sig.R, sig.S)
}

// ApproveCallData packs a plain ERC-20 approve
func ApproveCallData(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20WriteABI.Pack("approve", spender, amount)
}

// refreshAllowance invalidates the token cache and re-reads the allowance.
// A failed refresh keeps the previous reading; the next read repopulates.
func (s *ApprovalService) refreshAllowance(ctx context.Context, token types.TokenDescriptor, owner, spender common.Address, state *types.ApprovalState) {
	s.oracle.InvalidateToken(token.ChainID, token.Address)
	if allowance, err := s.oracle.Allowance(ctx, token, owner, spender); err == nil {
		state.Allowance = allowance
	}
}

package services

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"vault-backend/internal/clients"
	"vault-backend/internal/config"
	"vault-backend/internal/metrics"
	"vault-backend/internal/types"
	"vault-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

var (
	legacyVaultWriteABI = mustABI(`[
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
	]`)

	standardVaultWriteABI = mustABI(`[
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"redeem","type":"function","stateMutability":"nonpayable","inputs":[{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`)

	routerABI = mustABI(`[
		{"name":"multicall","type":"function","stateMutability":"payable","inputs":[{"name":"data","type":"bytes[]"}],"outputs":[{"name":"results","type":"bytes[]"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
		{"name":"selfPermit","type":"function","stateMutability":"payable","inputs":[{"name":"token","type":"address"},{"name":"value","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]},
		{"name":"depositToVault","type":"function","stateMutability":"nonpayable","inputs":[{"name":"vault","type":"address"},{"name":"amount","type":"uint256"},{"name":"recipient","type":"address"},{"name":"minSharesOut","type":"uint256"}],"outputs":[{"name":"sharesOut","type":"uint256"}]}
	]`)
)

// ZapBuilder turns an aggregator quote into a submittable call
type ZapBuilder interface {
	BuildExecution(ctx context.Context, quote *clients.ZapQuote, permit *types.PermitSignature) (*types.Call, error)
}

// BatchProposer runs an ordered call batch through the multisig service
type BatchProposer interface {
	ExecuteBatch(ctx context.Context, serviceURL string, chainID int, safe common.Address, calls []*types.Call) *types.ExecutionOutcome
}

// StrategyOptions carries the execution context the selection rules branch on
type StrategyOptions struct {
	// IsMultisigWallet marks the owner as a smart-contract wallet whose
	// transactions go through batch proposals
	IsMultisigWallet bool
	// DisableBatch forces single-transaction execution for multisig owners
	DisableBatch bool
	// SlippageBps floors the shares received on routed deposits
	SlippageBps int64
	// ToleranceBps widens the full-withdrawal classification band
	ToleranceBps int64
	// Approval is the current approval state; a contained permit signature is
	// redeemed inside router multicalls and zap executions
	Approval *types.ApprovalState
	// Quote is the pre-fetched aggregator route, required for zap intents
	Quote *clients.ZapQuote
}

// StrategyService picks and runs the execution path for a validated intent:
// a multisig batch proposal, a router multicall, an aggregator zap, or a
// direct vault call. Selection is strictly ordered; the first applicable
// rule wins.
type StrategyService struct {
	oracle     *OracleService
	conversion *ConversionService
	executor   CallExecutor
	batch      BatchProposer
	zaps       ZapBuilder
}

// NewStrategyService creates the strategy selector
func NewStrategyService(oracle *OracleService, conversion *ConversionService, executor CallExecutor, batch BatchProposer, zaps ZapBuilder) *StrategyService {
	return &StrategyService{
		oracle:     oracle,
		conversion: conversion,
		executor:   executor,
		batch:      batch,
		zaps:       zaps,
	}
}

// Select resolves which strategy an intent takes under the given options.
// Pure decision, no network I/O.
func (s *StrategyService) Select(intent *types.TransferIntent, opts *StrategyOptions) types.ExecutionStrategy {
	networkConfig, err := config.GetNetworkConfigByChainID(intent.ChainID)
	if err != nil {
		networkConfig = &config.NetworkConfig{}
	}

	if opts.IsMultisigWallet && !opts.DisableBatch && networkConfig.SafeServiceURL != "" {
		return types.StrategySafeBatch
	}
	// the router deposits the vault's own underlying; a mismatched input
	// token must swap through the aggregator first
	if intent.Direction == types.DirectionDeposit &&
		!intent.NeedsZap() &&
		intent.Vault.Version == types.VaultVersionStandard &&
		networkConfig.RouterContract != "" {
		return types.StrategyPermitRouter
	}
	if intent.NeedsZap() && opts.Quote != nil {
		return types.StrategyAggregatorZap
	}
	return types.StrategyDirect
}

// CanDeposit validates a deposit intent. A zero preview or a breached limit
// resolves false without error: the intent cannot proceed yet, nothing is
// broken.
func (s *StrategyService) CanDeposit(ctx context.Context, intent *types.TransferIntent) (bool, error) {
	if !s.wellFormed(intent) {
		metrics.SolverValidationRejections.WithLabelValues(string(intent.Direction), "malformed").Inc()
		return false, nil
	}

	accounting := s.oracle.Accounting(intent.Vault)

	maxDeposit, err := accounting.MaxDeposit(ctx, intent.Owner)
	if err != nil {
		return false, fmt.Errorf("failed to read deposit limit: %w", err)
	}
	if intent.Amount.Cmp(maxDeposit) > 0 {
		metrics.SolverValidationRejections.WithLabelValues(string(intent.Direction), "limit").Inc()
		return false, nil
	}

	if intent.Vault.Version == types.VaultVersionStandard {
		previewed, err := accounting.PreviewDeposit(ctx, intent.Amount)
		if err != nil {
			return false, fmt.Errorf("failed to preview deposit: %w", err)
		}
		if previewed.Sign() <= 0 {
			metrics.SolverValidationRejections.WithLabelValues(string(intent.Direction), "zero_preview").Inc()
			return false, nil
		}
	}
	return true, nil
}

// CanWithdraw validates a withdraw intent. Legacy vaults have no client-side
// ceiling beyond positivity; the limit is enforced on-chain.
func (s *StrategyService) CanWithdraw(ctx context.Context, intent *types.TransferIntent) (bool, error) {
	if !s.wellFormed(intent) {
		metrics.SolverValidationRejections.WithLabelValues(string(intent.Direction), "malformed").Inc()
		return false, nil
	}

	if intent.Vault.Version == types.VaultVersionStandard {
		maxWithdraw, err := s.oracle.Accounting(intent.Vault).MaxWithdraw(ctx, intent.Owner)
		if err != nil {
			return false, fmt.Errorf("failed to read withdraw limit: %w", err)
		}
		if intent.Amount.Cmp(maxWithdraw) > 0 {
			metrics.SolverValidationRejections.WithLabelValues(string(intent.Direction), "limit").Inc()
			return false, nil
		}
	}
	return true, nil
}

// wellFormed checks addresses and amount positivity
func (s *StrategyService) wellFormed(intent *types.TransferIntent) bool {
	if intent.Vault == nil || utils.IsZeroAddress(intent.Vault.Address.Hex()) {
		return false
	}
	if !intent.Token.IsNative() && utils.IsZeroAddress(intent.Token.Address.Hex()) {
		return false
	}
	if utils.IsZeroAddress(intent.Owner.Hex()) {
		return false
	}
	return intent.Amount != nil && intent.Amount.Sign() > 0
}

// Execute drives one intent through validation, strategy selection and
// settlement. Bps parameters are validated before any network interaction;
// every failure settles into an outcome, nothing is thrown past this point.
func (s *StrategyService) Execute(ctx context.Context, intent *types.TransferIntent, opts *StrategyOptions) *types.ExecutionOutcome {
	if err := utils.ValidateBps("slippageBps", opts.SlippageBps); err != nil {
		return types.Failure("", err.Error())
	}
	if err := utils.ValidateBps("toleranceBps", opts.ToleranceBps); err != nil {
		return types.Failure("", err.Error())
	}

	ok, err := s.validate(ctx, intent)
	if err != nil {
		return types.Failure("", humanReadableError(err))
	}
	if !ok {
		return types.Failure("", "intent cannot proceed: validation failed")
	}

	strategy := s.Select(intent, opts)
	logrus.WithFields(logrus.Fields{
		"direction": intent.Direction,
		"chain_id":  intent.ChainID,
		"vault":     intent.Vault.Address.Hex(),
		"strategy":  strategy,
	}).Info("Execution strategy selected")

	start := time.Now()
	var outcome *types.ExecutionOutcome
	switch strategy {
	case types.StrategySafeBatch:
		outcome = s.executeSafeBatch(ctx, intent, opts)
	case types.StrategyPermitRouter:
		outcome = s.executePermitRouter(ctx, intent, opts)
	case types.StrategyAggregatorZap:
		outcome = s.executeZap(ctx, intent, opts)
	default:
		outcome = s.executeDirect(ctx, intent, opts)
	}
	outcome.Strategy = strategy
	metrics.SolverSettleDuration.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())

	result := "failed"
	if outcome.IsSuccessful {
		result = "succeeded"
	}
	metrics.SolverExecutions.WithLabelValues(string(intent.Direction), string(strategy), result).Inc()
	return outcome
}

func (s *StrategyService) validate(ctx context.Context, intent *types.TransferIntent) (bool, error) {
	if intent.Direction == types.DirectionDeposit {
		return s.CanDeposit(ctx, intent)
	}
	return s.CanWithdraw(ctx, intent)
}

// executeDirect calls the vault's own deposit/withdraw entry point
func (s *StrategyService) executeDirect(ctx context.Context, intent *types.TransferIntent, opts *StrategyOptions) *types.ExecutionOutcome {
	call, err := s.buildVaultCall(ctx, intent, opts)
	if err != nil {
		return types.Failure(types.StrategyDirect, humanReadableError(err))
	}
	return s.executor.Execute(ctx, call)
}

// executePermitRouter assembles the router multicall for a standard-vault
// deposit: an unlimited router allowance toward the vault when the current
// one is below the maximum, redemption of a held permit signature, then the
// deposit with a minimum-shares floor.
func (s *StrategyService) executePermitRouter(ctx context.Context, intent *types.TransferIntent, opts *StrategyOptions) *types.ExecutionOutcome {
	networkConfig, err := config.GetNetworkConfigByChainID(intent.ChainID)
	if err != nil {
		return types.Failure(types.StrategyPermitRouter, humanReadableError(err))
	}
	router := common.HexToAddress(networkConfig.RouterContract)

	previewed, err := s.oracle.Accounting(intent.Vault).PreviewDeposit(ctx, intent.Amount)
	if err != nil {
		return types.Failure(types.StrategyPermitRouter, humanReadableError(err))
	}
	minShares := utils.ApplyBpsFloor(previewed, opts.SlippageBps)

	var inner [][]byte

	routerAllowance, err := s.oracle.Allowance(ctx, intent.Vault.Underlying, router, intent.Vault.Address)
	if err != nil {
		return types.Failure(types.StrategyPermitRouter, humanReadableError(err))
	}
	if routerAllowance.Cmp(types.MaxUint256) < 0 {
		raiseCall, err := routerABI.Pack("approve", intent.Vault.Underlying.Address, intent.Vault.Address, types.MaxUint256)
		if err != nil {
			return types.Failure(types.StrategyPermitRouter, humanReadableError(err))
		}
		inner = append(inner, raiseCall)
	}

	if opts.Approval != nil && opts.Approval.Permit != nil {
		permit := opts.Approval.Permit
		permitCall, err := routerABI.Pack("selfPermit",
			intent.Token.Address, permit.Value, permit.Deadline, permit.V, permit.R, permit.S)
		if err != nil {
			return types.Failure(types.StrategyPermitRouter, humanReadableError(err))
		}
		inner = append(inner, permitCall)
	}

	depositCall, err := routerABI.Pack("depositToVault",
		intent.Vault.Address, intent.Amount, intent.Receiver, minShares)
	if err != nil {
		return types.Failure(types.StrategyPermitRouter, humanReadableError(err))
	}
	inner = append(inner, depositCall)

	data, err := routerABI.Pack("multicall", inner)
	if err != nil {
		return types.Failure(types.StrategyPermitRouter, humanReadableError(err))
	}

	return s.executor.Execute(ctx, &types.Call{
		ChainID: intent.ChainID,
		To:      router,
		Value:   big.NewInt(0),
		Data:    data,
	})
}

// executeZap delegates to the aggregator with the pre-fetched quote. A held
// permit signature is redeemed inside the routed transaction.
func (s *StrategyService) executeZap(ctx context.Context, intent *types.TransferIntent, opts *StrategyOptions) *types.ExecutionOutcome {
	if opts.Quote == nil {
		return types.Failure(types.StrategyAggregatorZap, "no aggregator quote available for zap intent")
	}

	var permit *types.PermitSignature
	if opts.Approval != nil {
		permit = opts.Approval.Permit
	}

	call, err := s.zaps.BuildExecution(ctx, opts.Quote, permit)
	if err != nil {
		return types.Failure(types.StrategyAggregatorZap, humanReadableError(err))
	}
	return s.executor.Execute(ctx, call)
}

// executeSafeBatch builds the ordered batch (approve when the allowance
// falls short, then the vault call) and hands it to the proposal runner.
func (s *StrategyService) executeSafeBatch(ctx context.Context, intent *types.TransferIntent, opts *StrategyOptions) *types.ExecutionOutcome {
	networkConfig, err := config.GetNetworkConfigByChainID(intent.ChainID)
	if err != nil {
		return types.Failure(types.StrategySafeBatch, humanReadableError(err))
	}
	if networkConfig.SafeServiceURL == "" {
		return types.Failure(types.StrategySafeBatch, fmt.Sprintf("no multisig service configured for chainID %d", intent.ChainID))
	}

	var batchCalls []*types.Call

	if intent.Direction == types.DirectionDeposit && !intent.Token.IsNative() {
		allowance, err := s.oracle.Allowance(ctx, intent.Token, intent.Owner, intent.Vault.Address)
		if err != nil {
			return types.Failure(types.StrategySafeBatch, humanReadableError(err))
		}
		if allowance.Cmp(intent.Amount) < 0 {
			data, err := ApproveCallData(intent.Vault.Address, intent.Amount)
			if err != nil {
				return types.Failure(types.StrategySafeBatch, humanReadableError(err))
			}
			batchCalls = append(batchCalls, &types.Call{
				ChainID: intent.ChainID,
				To:      intent.Token.Address,
				Value:   big.NewInt(0),
				Data:    data,
			})
		}
	}

	vaultCall, err := s.buildVaultCall(ctx, intent, opts)
	if err != nil {
		return types.Failure(types.StrategySafeBatch, humanReadableError(err))
	}
	batchCalls = append(batchCalls, vaultCall)

	return s.batch.ExecuteBatch(ctx, networkConfig.SafeServiceURL, intent.ChainID, intent.Owner, batchCalls)
}

// buildVaultCall packs the direct vault call for an intent. Withdraw amounts
// go through the conversion engine so near-total requests redeem the full
// share balance.
func (s *StrategyService) buildVaultCall(ctx context.Context, intent *types.TransferIntent, opts *StrategyOptions) (*types.Call, error) {
	var data []byte
	var err error

	if intent.Direction == types.DirectionDeposit {
		if intent.Vault.IsLegacy() {
			data, err = legacyVaultWriteABI.Pack("deposit", intent.Amount)
		} else {
			data, err = standardVaultWriteABI.Pack("deposit", intent.Amount, intent.Receiver)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pack deposit call: %w", err)
		}
	} else {
		conversion, convErr := s.conversion.SharesForWithdraw(ctx, intent.Vault, intent.Owner, intent.Amount, opts.ToleranceBps)
		if convErr != nil {
			return nil, convErr
		}

		if intent.Vault.IsLegacy() {
			data, err = legacyVaultWriteABI.Pack("withdraw", conversion.Shares)
		} else if conversion.IsFullWithdrawal {
			// redeem by shares: exact full-balance redemption, immune to
			// per-share drift between quote and execution
			data, err = standardVaultWriteABI.Pack("redeem", conversion.Shares, intent.Receiver, intent.Owner)
		} else {
			data, err = standardVaultWriteABI.Pack("withdraw", intent.Amount, intent.Receiver, intent.Owner)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pack withdraw call: %w", err)
		}
	}

	return &types.Call{
		ChainID: intent.ChainID,
		To:      intent.Vault.Address,
		Value:   big.NewInt(0),
		Data:    data,
	}, nil
}

package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"vault-backend/internal/clients"
	"vault-backend/internal/config"
	"vault-backend/internal/metrics"
	"vault-backend/internal/types"
	"vault-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ZapRouter is the aggregator surface the facade consults before a zap:
// how to authorize spending, and the priced route.
type ZapRouter interface {
	GetApproval(ctx context.Context, chainID int, sender, token common.Address, amount *big.Int) (*clients.ApprovalTarget, error)
	GetQuote(ctx context.Context, req *clients.ZapQuoteRequest) (*clients.ZapQuote, error)
}

// SettlementSink receives every terminal outcome, successful or not.
// The server wires persistence, event publishing and websocket push here.
type SettlementSink interface {
	Settled(intent *types.TransferIntent, outcome *types.ExecutionOutcome)
}

// SolverService is the public solver surface: per-direction entry points
// that sequence approval, strategy selection, execution and the
// unconditional post-settle refresh.
//
// Concurrent invocations for the same intent are excluded by an in-flight
// guard checked at entry and cleared on every exit path; a second call while
// one is running is a no-op rejection, not queued.
type SolverService struct {
	oracle   *OracleService
	approval *ApprovalService
	strategy *StrategyService
	zaps     ZapRouter
	sink     SettlementSink

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewSolverService creates the solver facade. sink may be nil.
func NewSolverService(oracle *OracleService, approval *ApprovalService, strategy *StrategyService, zaps ZapRouter, sink SettlementSink) *SolverService {
	return &SolverService{
		oracle:   oracle,
		approval: approval,
		strategy: strategy,
		zaps:     zaps,
		sink:     sink,
		inFlight: make(map[string]bool),
	}
}

// SolverOptions is the caller-facing execution context; zero-valued bps
// fields fall back to the configured solver defaults.
type SolverOptions struct {
	IsMultisigWallet bool
	DisableBatch     bool
	UsePermit        bool
	SlippageBps      int64
	ToleranceBps     int64
}

// NeedsZap reports whether the intent requires an aggregator swap
func (s *SolverService) NeedsZap(intent *types.TransferIntent) bool {
	return intent.NeedsZap()
}

// NeedsApproval reports whether the owner must authorize spending before the
// intent can execute against the given spender
func (s *SolverService) NeedsApproval(ctx context.Context, intent *types.TransferIntent, spender common.Address) (bool, error) {
	if intent.Direction == types.DirectionWithdraw || intent.Token.IsNative() {
		return false, nil
	}
	state, err := s.approval.CurrentState(ctx, intent.Token, intent.Owner, spender)
	if err != nil {
		return false, err
	}
	return !state.IsApproved(intent.Amount), nil
}

// InFlight reports whether the intent is currently executing
func (s *SolverService) InFlight(intent *types.TransferIntent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[intentKey(intent)]
}

// CanDeposit revalidates a deposit intent without executing anything
func (s *SolverService) CanDeposit(ctx context.Context, intent *types.TransferIntent) (bool, error) {
	intent.Direction = types.DirectionDeposit
	return s.strategy.CanDeposit(ctx, intent)
}

// CanWithdraw revalidates a withdraw intent without executing anything
func (s *SolverService) CanWithdraw(ctx context.Context, intent *types.TransferIntent) (bool, error) {
	intent.Direction = types.DirectionWithdraw
	return s.strategy.CanWithdraw(ctx, intent)
}

// OnDeposit runs a deposit intent end to end. The boolean reports success;
// the message is human-readable failure context, empty on success.
func (s *SolverService) OnDeposit(ctx context.Context, intent *types.TransferIntent, opts *SolverOptions) (bool, string) {
	intent.Direction = types.DirectionDeposit
	outcome := s.run(ctx, intent, opts)
	return outcome.IsSuccessful, outcome.Error
}

// OnWithdraw runs a withdraw intent end to end
func (s *SolverService) OnWithdraw(ctx context.Context, intent *types.TransferIntent, opts *SolverOptions) (bool, string) {
	intent.Direction = types.DirectionWithdraw
	outcome := s.run(ctx, intent, opts)
	return outcome.IsSuccessful, outcome.Error
}

// OnDepositWithCallbacks is the callback-style convenience wrapper around
// OnDeposit; the returned boolean matches what the callbacks were told.
func (s *SolverService) OnDepositWithCallbacks(ctx context.Context, intent *types.TransferIntent, opts *SolverOptions, onSuccess, onFailure func(*types.ExecutionOutcome)) bool {
	intent.Direction = types.DirectionDeposit
	return s.runWithCallbacks(ctx, intent, opts, onSuccess, onFailure)
}

// OnWithdrawWithCallbacks is the callback-style convenience wrapper around
// OnWithdraw
func (s *SolverService) OnWithdrawWithCallbacks(ctx context.Context, intent *types.TransferIntent, opts *SolverOptions, onSuccess, onFailure func(*types.ExecutionOutcome)) bool {
	intent.Direction = types.DirectionWithdraw
	return s.runWithCallbacks(ctx, intent, opts, onSuccess, onFailure)
}

func (s *SolverService) runWithCallbacks(ctx context.Context, intent *types.TransferIntent, opts *SolverOptions, onSuccess, onFailure func(*types.ExecutionOutcome)) bool {
	outcome := s.run(ctx, intent, opts)
	if outcome.IsSuccessful {
		if onSuccess != nil {
			onSuccess(outcome)
		}
	} else if onFailure != nil {
		onFailure(outcome)
	}
	return outcome.IsSuccessful
}

// Execute runs an intent whose direction is already set and returns the full
// outcome. This is the primary contract; the On* entry points are thin views
// over it.
func (s *SolverService) Execute(ctx context.Context, intent *types.TransferIntent, opts *SolverOptions) *types.ExecutionOutcome {
	return s.run(ctx, intent, opts)
}

// run sequences one execution: guard, approval, strategy, refresh, sink.
// The guard is cleared and the refresh performed on every exit path.
func (s *SolverService) run(ctx context.Context, intent *types.TransferIntent, opts *SolverOptions) *types.ExecutionOutcome {
	if opts == nil {
		opts = &SolverOptions{}
	}
	strategyOpts := s.strategyOptions(opts)

	// out-of-range bps are a caller programming error: reject before the
	// guard is taken, before any chain read and before any approval
	if err := utils.ValidateBps("slippageBps", strategyOpts.SlippageBps); err != nil {
		metrics.SolverValidationRejections.WithLabelValues(string(intent.Direction), "bps").Inc()
		return types.Failure("", err.Error())
	}
	if err := utils.ValidateBps("toleranceBps", strategyOpts.ToleranceBps); err != nil {
		metrics.SolverValidationRejections.WithLabelValues(string(intent.Direction), "bps").Inc()
		return types.Failure("", err.Error())
	}

	key := intentKey(intent)

	s.mu.Lock()
	if s.inFlight[key] {
		s.mu.Unlock()
		metrics.SolverInFlightRejections.Inc()
		return types.Failure("", types.ErrInFlight.Error())
	}
	s.inFlight[key] = true
	s.mu.Unlock()

	var outcome *types.ExecutionOutcome
	defer func() {
		s.refresh(ctx, intent)
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
		if s.sink != nil && outcome != nil {
			s.sink.Settled(intent, outcome)
		}
	}()

	strategy := s.strategy.Select(intent, strategyOpts)

	// A zap-needing intent selects DIRECT until a quote is held; fetch the
	// route first so both the selection and the approval spender see it.
	if strategy == types.StrategyDirect && intent.NeedsZap() {
		quote, err := s.fetchQuote(ctx, intent, strategyOpts)
		if err != nil {
			outcome = types.Failure(strategy, humanReadableError(err))
			return outcome
		}
		strategyOpts.Quote = quote
		strategy = s.strategy.Select(intent, strategyOpts)
	}

	approved, approvalState, msg := s.ensureApproval(ctx, intent, strategy, strategyOpts, opts)
	if !approved {
		outcome = types.Failure(strategy, msg)
		return outcome
	}
	strategyOpts.Approval = approvalState

	outcome = s.strategy.Execute(ctx, intent, strategyOpts)
	return outcome
}

// strategyOptions resolves caller options against configured defaults
func (s *SolverService) strategyOptions(opts *SolverOptions) *StrategyOptions {
	out := &StrategyOptions{
		IsMultisigWallet: opts.IsMultisigWallet,
		DisableBatch:     opts.DisableBatch,
		SlippageBps:      opts.SlippageBps,
		ToleranceBps:     opts.ToleranceBps,
	}
	if config.AppConfig != nil {
		if out.SlippageBps == 0 {
			out.SlippageBps = config.AppConfig.Solver.SlippageBps
		}
		if out.ToleranceBps == 0 {
			out.ToleranceBps = config.AppConfig.Solver.ToleranceBps
		}
	}
	return out
}

// ensureApproval authorizes spending for the chosen strategy. Multisig
// batches carry their approve call inside the proposal; withdrawals and
// native deposits need none. A refused permit reports failure without error.
func (s *SolverService) ensureApproval(ctx context.Context, intent *types.TransferIntent, strategy types.ExecutionStrategy, strategyOpts *StrategyOptions, opts *SolverOptions) (bool, *types.ApprovalState, string) {
	if intent.Direction == types.DirectionWithdraw || intent.Token.IsNative() || strategy == types.StrategySafeBatch {
		return true, nil, ""
	}

	spender := intent.Vault.Address
	usePermit := false

	switch strategy {
	case types.StrategyPermitRouter:
		networkConfig, err := config.GetNetworkConfigByChainID(intent.ChainID)
		if err != nil {
			return false, nil, humanReadableError(err)
		}
		spender = common.HexToAddress(networkConfig.RouterContract)
		usePermit = opts.UsePermit
	case types.StrategyAggregatorZap:
		target, err := s.zaps.GetApproval(ctx, intent.ChainID, intent.Owner, intent.Token.Address, intent.Amount)
		if err != nil {
			return false, nil, humanReadableError(err)
		}
		if target == nil {
			return false, nil, "aggregator cannot route this token"
		}
		spender = target.Spender
		usePermit = opts.UsePermit && target.CanPermit
	}

	deadlineMinutes := 30
	if config.AppConfig != nil && config.AppConfig.Solver.PermitDeadlineMinutes > 0 {
		deadlineMinutes = config.AppConfig.Solver.PermitDeadlineMinutes
	}

	state, ok, err := s.approval.EnsureApproved(ctx, intent.Owner, spender, intent.Token, intent.Amount, ApprovalOptions{
		UsePermit:       usePermit,
		DeadlineMinutes: deadlineMinutes,
	})
	if err != nil {
		return false, nil, humanReadableError(err)
	}
	if !ok {
		return false, state, "approval was not granted"
	}
	return true, state, ""
}

// fetchQuote prices the zap route right before execution
func (s *SolverService) fetchQuote(ctx context.Context, intent *types.TransferIntent, strategyOpts *StrategyOptions) (*clients.ZapQuote, error) {
	tokenIn, tokenOut := intent.Token.Address, intent.Vault.Underlying.Address
	if intent.Direction == types.DirectionWithdraw {
		tokenIn, tokenOut = intent.Vault.Underlying.Address, intent.Token.Address
	}
	return s.zaps.GetQuote(ctx, &clients.ZapQuoteRequest{
		ChainID:     intent.ChainID,
		Sender:      intent.Owner,
		Receiver:    intent.Receiver,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    intent.Amount,
		SlippageBps: strategyOpts.SlippageBps,
	})
}

// refresh invalidates everything the execution may have moved: vault
// accounting, underlying and input tokens, and the native balance (gas was
// spent either way).
func (s *SolverService) refresh(ctx context.Context, intent *types.TransferIntent) {
	s.oracle.InvalidateVault(intent.ChainID, intent.Vault.Address)
	s.oracle.InvalidateToken(intent.ChainID, intent.Vault.Underlying.Address)
	s.oracle.InvalidateToken(intent.ChainID, intent.Token.Address)
	s.oracle.InvalidateToken(intent.ChainID, types.NativeTokenAddress)

	// warm the refreshed entries; a failed re-read just repopulates later
	native := types.TokenDescriptor{ChainID: intent.ChainID, Address: types.NativeTokenAddress}
	if _, err := s.oracle.Balance(ctx, intent.Token, intent.Owner); err != nil {
		logrus.WithError(err).Debug("Post-settle token balance refresh failed")
	}
	if _, err := s.oracle.Balance(ctx, native, intent.Owner); err != nil {
		logrus.WithError(err).Debug("Post-settle native balance refresh failed")
	}
}

// intentKey identifies an intent for mutual exclusion
func intentKey(intent *types.TransferIntent) string {
	return fmt.Sprintf("%s:%d:%s:%s", intent.Direction, intent.ChainID, intent.Vault.Address.Hex(), intent.Owner.Hex())
}

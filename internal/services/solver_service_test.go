package services

import (
	"context"
	"math/big"
	"testing"
	"time"

	"vault-backend/internal/clients"
	"vault-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type solverHarness struct {
	caller   *fakeCaller
	executor *fakeExecutor
	batch    *fakeBatchProposer
	zaps     *fakeZapRouter
	sink     *fakeSink
	solver   *SolverService
}

func newSolverHarness(caller *fakeCaller) *solverHarness {
	oracle := NewOracleService(&fakePool{caller: caller})
	conversion := NewConversionService(oracle)
	executor := &fakeExecutor{}
	batch := &fakeBatchProposer{}
	zaps := &fakeZapRouter{}
	sink := &fakeSink{}

	strategy := NewStrategyService(oracle, conversion, executor, batch, zaps)
	approval := NewApprovalService(oracle, RefusingPermitSigner{}, executor)
	solver := NewSolverService(oracle, approval, strategy, zaps, sink)

	return &solverHarness{
		caller:   caller,
		executor: executor,
		batch:    batch,
		zaps:     zaps,
		sink:     sink,
		solver:   solver,
	}
}

func TestOnDepositDirectSettlesThroughSink(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	caller.set("availableDepositLimit", eth(1000))
	caller.set("allowance", types.MaxUint256)
	caller.set("balanceOf", eth(10))
	h := newSolverHarness(caller)

	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))
	intent.Amount = eth(10)

	ok, msg := h.solver.OnDeposit(context.Background(), intent, &SolverOptions{})
	require.True(t, ok, msg)
	assert.Empty(t, msg)

	require.Equal(t, 1, h.executor.count())
	assert.Equal(t, testVaultAddr, h.executor.last().To)

	require.Len(t, h.sink.outcomes, 1)
	assert.True(t, h.sink.outcomes[0].IsSuccessful)
	assert.Equal(t, types.StrategyDirect, h.sink.outcomes[0].Strategy)
	assert.Equal(t, types.DirectionDeposit, h.sink.intents[0].Direction)
}

func TestOnWithdrawFailureStillSettles(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	caller.set("pricePerShare", eth(1))
	caller.set("balanceOf", eth(100))
	h := newSolverHarness(caller)
	h.executor.outcome = &types.ExecutionOutcome{IsSuccessful: false, Error: "transaction reverted"}

	intent := testIntent(types.DirectionWithdraw, testVault(types.VaultVersionLegacy))
	intent.Amount = eth(10)

	ok, msg := h.solver.OnWithdraw(context.Background(), intent, &SolverOptions{})
	assert.False(t, ok)
	assert.Contains(t, msg, "reverted")

	require.Len(t, h.sink.outcomes, 1)
	assert.False(t, h.sink.outcomes[0].IsSuccessful)
}

func TestInFlightExclusion(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	caller.set("pricePerShare", eth(1))
	caller.set("balanceOf", eth(100))
	caller.block = make(chan struct{})
	h := newSolverHarness(caller)

	intent := testIntent(types.DirectionWithdraw, testVault(types.VaultVersionLegacy))
	intent.Amount = eth(10)

	done := make(chan struct {
		ok  bool
		msg string
	}, 1)
	go func() {
		first := testIntent(types.DirectionWithdraw, testVault(types.VaultVersionLegacy))
		first.Amount = eth(10)
		ok, msg := h.solver.OnWithdraw(context.Background(), first, &SolverOptions{})
		done <- struct {
			ok  bool
			msg string
		}{ok, msg}
	}()

	// wait until the first execution holds the guard, parked on a chain read
	require.Eventually(t, func() bool {
		return h.solver.InFlight(intent)
	}, time.Second, time.Millisecond)

	ok, msg := h.solver.OnWithdraw(context.Background(), intent, &SolverOptions{})
	assert.False(t, ok, "a concurrent identical intent must be rejected immediately")
	assert.Contains(t, msg, "in flight")

	close(caller.block)
	result := <-done
	assert.True(t, result.ok, result.msg)

	assert.False(t, h.solver.InFlight(intent), "the guard is cleared after settling")

	// only the winning execution reached the sink
	require.Len(t, h.sink.outcomes, 1)
	assert.True(t, h.sink.outcomes[0].IsSuccessful)
}

func TestGuardClearedAfterFailure(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	caller.set("pricePerShare", eth(1))
	caller.set("balanceOf", eth(100))
	h := newSolverHarness(caller)
	h.executor.outcome = &types.ExecutionOutcome{IsSuccessful: false, Error: "boom"}

	intent := testIntent(types.DirectionWithdraw, testVault(types.VaultVersionLegacy))
	intent.Amount = eth(10)

	ok, _ := h.solver.OnWithdraw(context.Background(), intent, &SolverOptions{})
	assert.False(t, ok)
	assert.False(t, h.solver.InFlight(intent))

	// the same intent can run again once the first attempt settled
	h.executor.outcome = nil
	ok, msg := h.solver.OnWithdraw(context.Background(), intent, &SolverOptions{})
	assert.True(t, ok, msg)
}

func TestZapUnsupportedToken(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	caller.set("availableDepositLimit", eth(1000))
	caller.set("balanceOf", eth(10))
	h := newSolverHarness(caller)
	h.zaps.quote = &clients.ZapQuote{ID: "q-1", ChainID: 1}
	h.zaps.approvalTarget = nil // aggregator has no route for this token

	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))
	intent.Token = types.TokenDescriptor{ChainID: 1, Address: testDAIAddr, Symbol: "DAI", Decimals: 18}

	ok, msg := h.solver.OnDeposit(context.Background(), intent, &SolverOptions{})
	assert.False(t, ok)
	assert.Contains(t, msg, "aggregator cannot route this token")
	assert.Equal(t, 1, h.zaps.approvalCalls)
	assert.Zero(t, h.executor.count())
}

func TestZapDepositEndToEnd(t *testing.T) {
	setTestConfig(t, testNetwork())

	aggregatorSpender := common.HexToAddress("0x3333333333333333333333333333333333333333")
	zapTarget := common.HexToAddress("0x4444444444444444444444444444444444444444")

	caller := newFakeCaller()
	caller.set("availableDepositLimit", eth(1000))
	caller.set("allowance", types.MaxUint256)
	caller.set("balanceOf", eth(10))
	h := newSolverHarness(caller)
	h.zaps.quote = &clients.ZapQuote{ID: "q-1", ChainID: 1, Target: zapTarget}
	h.zaps.approvalTarget = &clients.ApprovalTarget{Spender: aggregatorSpender}
	h.zaps.execution = &types.Call{ChainID: 1, To: zapTarget, Value: big.NewInt(0), Data: []byte{0x01}}

	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))
	intent.Token = types.TokenDescriptor{ChainID: 1, Address: testDAIAddr, Symbol: "DAI", Decimals: 18}

	ok, msg := h.solver.OnDeposit(context.Background(), intent, &SolverOptions{})
	require.True(t, ok, msg)

	assert.Equal(t, 1, h.zaps.quoteCalls, "the route is priced once, before execution")
	require.Equal(t, 1, h.executor.count())
	assert.Equal(t, zapTarget, h.executor.last().To)

	require.Len(t, h.sink.outcomes, 1)
	assert.Equal(t, types.StrategyAggregatorZap, h.sink.outcomes[0].Strategy)
}

func TestRejectsBpsBeforeAnyNetworkCall(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	caller.set("allowance", big.NewInt(0))
	h := newSolverHarness(caller)

	deposit := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))
	ok, msg := h.solver.OnDeposit(context.Background(), deposit, &SolverOptions{SlippageBps: 10001})
	assert.False(t, ok)
	assert.Contains(t, msg, "slippageBps")

	withdraw := testIntent(types.DirectionWithdraw, testVault(types.VaultVersionLegacy))
	ok, msg = h.solver.OnWithdraw(context.Background(), withdraw, &SolverOptions{ToleranceBps: -1})
	assert.False(t, ok)
	assert.Contains(t, msg, "toleranceBps")

	assert.Zero(t, caller.calls(), "rejection must precede every chain read, including the post-settle refresh")
	assert.Zero(t, h.executor.count(), "no approval transaction may be submitted for an invalid request")
	assert.Empty(t, h.sink.outcomes)
	assert.False(t, h.solver.InFlight(deposit))
}

func TestZapDepositWithRouterConfigured(t *testing.T) {
	network := testNetwork()
	network.RouterContract = testRouterAddr.Hex()
	setTestConfig(t, network)

	zapTarget := common.HexToAddress("0x4444444444444444444444444444444444444444")

	caller := newFakeCaller()
	caller.set("maxDeposit", eth(1000))
	caller.set("previewDeposit", big.NewInt(1_000_000))
	caller.set("allowance", types.MaxUint256)
	caller.set("balanceOf", eth(10))
	h := newSolverHarness(caller)
	h.zaps.quote = &clients.ZapQuote{ID: "q-1", ChainID: 1, Target: zapTarget}
	h.zaps.approvalTarget = &clients.ApprovalTarget{Spender: zapTarget}
	h.zaps.execution = &types.Call{ChainID: 1, To: zapTarget, Value: big.NewInt(0), Data: []byte{0x01}}

	// depositing a token the vault does not hold: the router cannot take it,
	// even on a chain where one is configured
	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionStandard))
	intent.Token = types.TokenDescriptor{ChainID: 1, Address: testDAIAddr, Symbol: "DAI", Decimals: 18}

	ok, msg := h.solver.OnDeposit(context.Background(), intent, &SolverOptions{})
	require.True(t, ok, msg)

	assert.Equal(t, 1, h.zaps.quoteCalls, "the aggregator must be consulted for a mismatched-token deposit")
	require.Equal(t, 1, h.executor.count())
	assert.Equal(t, zapTarget, h.executor.last().To)
	assert.NotEqual(t, testRouterAddr, h.executor.last().To)

	require.Len(t, h.sink.outcomes, 1)
	assert.Equal(t, types.StrategyAggregatorZap, h.sink.outcomes[0].Strategy)
}

func TestNeedsApproval(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	caller.set("allowance", big.NewInt(500))
	h := newSolverHarness(caller)

	deposit := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))
	deposit.Amount = big.NewInt(1000)

	needs, err := h.solver.NeedsApproval(context.Background(), deposit, testVaultAddr)
	require.NoError(t, err)
	assert.True(t, needs)

	deposit.Amount = big.NewInt(500)
	caller.set("allowance", big.NewInt(500))
	h.solver.oracle.InvalidateAll()
	needs, err = h.solver.NeedsApproval(context.Background(), deposit, testVaultAddr)
	require.NoError(t, err)
	assert.False(t, needs)

	// withdrawals and native deposits never need approval
	withdraw := testIntent(types.DirectionWithdraw, testVault(types.VaultVersionLegacy))
	needs, err = h.solver.NeedsApproval(context.Background(), withdraw, testVaultAddr)
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestCallbackWrappers(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	caller.set("availableDepositLimit", eth(1000))
	caller.set("allowance", types.MaxUint256)
	caller.set("balanceOf", eth(10))
	h := newSolverHarness(caller)

	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))
	intent.Amount = eth(10)

	var succeeded, failed bool
	ok := h.solver.OnDepositWithCallbacks(context.Background(), intent, &SolverOptions{},
		func(*types.ExecutionOutcome) { succeeded = true },
		func(*types.ExecutionOutcome) { failed = true },
	)
	assert.True(t, ok)
	assert.True(t, succeeded)
	assert.False(t, failed)
}

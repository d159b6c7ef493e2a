package services

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"vault-backend/internal/clients"
	"vault-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStrategyHarness(caller *fakeCaller) (*StrategyService, *fakeExecutor, *fakeBatchProposer, *fakeZapRouter) {
	oracle := NewOracleService(&fakePool{caller: caller})
	conversion := NewConversionService(oracle)
	executor := &fakeExecutor{}
	batch := &fakeBatchProposer{}
	zaps := &fakeZapRouter{}
	return NewStrategyService(oracle, conversion, executor, batch, zaps), executor, batch, zaps
}

func TestSelectOrderedRules(t *testing.T) {
	network := testNetwork()
	network.SafeServiceURL = "https://safe.example"
	network.RouterContract = testRouterAddr.Hex()
	setTestConfig(t, network)

	strategy, _, _, _ := newStrategyHarness(newFakeCaller())

	deposit := testIntent(types.DirectionDeposit, testVault(types.VaultVersionStandard))
	withdraw := testIntent(types.DirectionWithdraw, testVault(types.VaultVersionStandard))

	// multisig owners take the batch path regardless of everything else
	assert.Equal(t, types.StrategySafeBatch,
		strategy.Select(deposit, &StrategyOptions{IsMultisigWallet: true}))
	assert.Equal(t, types.StrategySafeBatch,
		strategy.Select(withdraw, &StrategyOptions{IsMultisigWallet: true}))

	// disabling the batch falls through to the next applicable rule
	assert.Equal(t, types.StrategyPermitRouter,
		strategy.Select(deposit, &StrategyOptions{IsMultisigWallet: true, DisableBatch: true}))

	// standard-vault deposits ride the router when one is configured
	assert.Equal(t, types.StrategyPermitRouter, strategy.Select(deposit, &StrategyOptions{}))

	// withdrawals never route
	assert.Equal(t, types.StrategyDirect, strategy.Select(withdraw, &StrategyOptions{}))

	// token mismatch with a quote in hand zaps; without one it stays direct
	zapIntent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))
	zapIntent.Token = types.TokenDescriptor{ChainID: 1, Address: testDAIAddr, Symbol: "DAI", Decimals: 18}
	assert.Equal(t, types.StrategyAggregatorZap,
		strategy.Select(zapIntent, &StrategyOptions{Quote: &clients.ZapQuote{ID: "q-1"}}))
	assert.Equal(t, types.StrategyDirect, strategy.Select(zapIntent, &StrategyOptions{}))
}

func TestSelectRouterRequiresMatchingToken(t *testing.T) {
	network := testNetwork()
	network.RouterContract = testRouterAddr.Hex()
	setTestConfig(t, network)

	strategy, _, _, _ := newStrategyHarness(newFakeCaller())

	mismatched := testIntent(types.DirectionDeposit, testVault(types.VaultVersionStandard))
	mismatched.Token = types.TokenDescriptor{ChainID: 1, Address: testDAIAddr, Symbol: "DAI", Decimals: 18}

	// the router deposits the vault's underlying; a foreign input token must
	// swap first, so the router rule never captures it
	assert.Equal(t, types.StrategyDirect, strategy.Select(mismatched, &StrategyOptions{}))
	assert.Equal(t, types.StrategyAggregatorZap,
		strategy.Select(mismatched, &StrategyOptions{Quote: &clients.ZapQuote{ID: "q-1"}}))

	matched := testIntent(types.DirectionDeposit, testVault(types.VaultVersionStandard))
	assert.Equal(t, types.StrategyPermitRouter, strategy.Select(matched, &StrategyOptions{}))
}

func TestSelectWithoutRouterOrSafe(t *testing.T) {
	setTestConfig(t, testNetwork())

	strategy, _, _, _ := newStrategyHarness(newFakeCaller())
	deposit := testIntent(types.DirectionDeposit, testVault(types.VaultVersionStandard))

	// no safe service configured: multisig flag alone does not select the batch
	assert.Equal(t, types.StrategyDirect,
		strategy.Select(deposit, &StrategyOptions{IsMultisigWallet: true}))

	// no router configured: standard deposits stay direct
	assert.Equal(t, types.StrategyDirect, strategy.Select(deposit, &StrategyOptions{}))
}

func TestExecuteValidatesBpsBeforeNetwork(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	strategy, executor, _, _ := newStrategyHarness(caller)
	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))

	outcome := strategy.Execute(context.Background(), intent, &StrategyOptions{SlippageBps: 10001})
	assert.False(t, outcome.IsSuccessful)
	assert.Contains(t, outcome.Error, "slippageBps")

	outcome = strategy.Execute(context.Background(), intent, &StrategyOptions{ToleranceBps: -1})
	assert.False(t, outcome.IsSuccessful)
	assert.Contains(t, outcome.Error, "toleranceBps")

	assert.Zero(t, caller.calls(), "bps validation must precede any chain read")
	assert.Zero(t, executor.count())
}

func TestCanDeposit(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	caller.set("availableDepositLimit", eth(1000))
	strategy, _, _, _ := newStrategyHarness(caller)

	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))
	intent.Amount = eth(10)

	ok, err := strategy.CanDeposit(context.Background(), intent)
	require.NoError(t, err)
	assert.True(t, ok)

	// breaching the vault limit resolves false without error
	intent.Amount = eth(2000)
	ok, err = strategy.CanDeposit(context.Background(), intent)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanDepositMalformed(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	strategy, _, _, _ := newStrategyHarness(caller)

	zeroVault := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))
	zeroVault.Vault.Address = common.Address{}
	ok, err := strategy.CanDeposit(context.Background(), zeroVault)
	require.NoError(t, err)
	assert.False(t, ok)

	noAmount := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))
	noAmount.Amount = big.NewInt(0)
	ok, err = strategy.CanDeposit(context.Background(), noAmount)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Zero(t, caller.calls(), "malformed intents are rejected before any chain read")
}

func TestCanDepositZeroPreview(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	caller.set("maxDeposit", eth(1000))
	caller.set("previewDeposit", big.NewInt(0))
	strategy, _, _, _ := newStrategyHarness(caller)

	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionStandard))
	ok, err := strategy.CanDeposit(context.Background(), intent)
	require.NoError(t, err)
	assert.False(t, ok, "a deposit previewing zero shares cannot proceed")
}

func TestCanWithdraw(t *testing.T) {
	setTestConfig(t, testNetwork())

	caller := newFakeCaller()
	caller.set("maxWithdraw", eth(5))
	strategy, _, _, _ := newStrategyHarness(caller)

	intent := testIntent(types.DirectionWithdraw, testVault(types.VaultVersionStandard))
	intent.Amount = eth(5)
	ok, err := strategy.CanWithdraw(context.Background(), intent)
	require.NoError(t, err)
	assert.True(t, ok)

	intent.Amount = eth(6)
	ok, err = strategy.CanWithdraw(context.Background(), intent)
	require.NoError(t, err)
	assert.False(t, ok)

	// legacy vaults have no client-side withdraw ceiling
	legacy := testIntent(types.DirectionWithdraw, testVault(types.VaultVersionLegacy))
	legacy.Amount = eth(1_000_000)
	ok, err = strategy.CanWithdraw(context.Background(), legacy)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPermitRouterMulticallComposition(t *testing.T) {
	network := testNetwork()
	network.RouterContract = testRouterAddr.Hex()
	setTestConfig(t, network)

	caller := newFakeCaller()
	caller.set("previewDeposit", big.NewInt(1_000_000))
	caller.set("allowance", big.NewInt(0)) // router must approve the vault first
	strategy, executor, _, _ := newStrategyHarness(caller)

	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionStandard))
	opts := &StrategyOptions{
		SlippageBps: 50,
		Approval: &types.ApprovalState{
			Permit: &types.PermitSignature{
				V:        27,
				Value:    intent.Amount,
				Deadline: big.NewInt(1_900_000_000),
			},
			PermitAllowance: intent.Amount,
		},
	}

	outcome := strategy.executePermitRouter(context.Background(), intent, opts)
	require.True(t, outcome.IsSuccessful, outcome.Error)

	call := executor.last()
	require.NotNil(t, call)
	assert.Equal(t, testRouterAddr, call.To)

	multicall := routerABI.Methods["multicall"]
	require.True(t, bytes.Equal(multicall.ID, call.Data[:4]))

	unpacked, err := multicall.Inputs.Unpack(call.Data[4:])
	require.NoError(t, err)
	inner, ok := unpacked[0].([][]byte)
	require.True(t, ok)
	require.Len(t, inner, 3, "approve + selfPermit + depositToVault")

	assert.True(t, bytes.Equal(routerABI.Methods["approve"].ID, inner[0][:4]))
	assert.True(t, bytes.Equal(routerABI.Methods["selfPermit"].ID, inner[1][:4]))
	assert.True(t, bytes.Equal(routerABI.Methods["depositToVault"].ID, inner[2][:4]))

	depositArgs, err := routerABI.Methods["depositToVault"].Inputs.Unpack(inner[2][4:])
	require.NoError(t, err)
	minShares, ok := depositArgs[3].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(995_000), minShares, "minSharesOut floors the preview by the slippage bps")
}

func TestPermitRouterSkipsRedundantSteps(t *testing.T) {
	network := testNetwork()
	network.RouterContract = testRouterAddr.Hex()
	setTestConfig(t, network)

	caller := newFakeCaller()
	caller.set("previewDeposit", big.NewInt(1_000_000))
	caller.set("allowance", types.MaxUint256) // router already unlimited toward the vault
	strategy, executor, _, _ := newStrategyHarness(caller)

	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionStandard))

	// no permit held, allowance saturated: the multicall is just the deposit
	outcome := strategy.executePermitRouter(context.Background(), intent, &StrategyOptions{SlippageBps: 50})
	require.True(t, outcome.IsSuccessful, outcome.Error)

	call := executor.last()
	unpacked, err := routerABI.Methods["multicall"].Inputs.Unpack(call.Data[4:])
	require.NoError(t, err)
	inner := unpacked[0].([][]byte)
	require.Len(t, inner, 1)
	assert.True(t, bytes.Equal(routerABI.Methods["depositToVault"].ID, inner[0][:4]))
}

func TestSafeBatchComposition(t *testing.T) {
	network := testNetwork()
	network.SafeServiceURL = "https://safe.example"
	setTestConfig(t, network)

	caller := newFakeCaller()
	caller.set("allowance", big.NewInt(0))
	strategy, _, batch, _ := newStrategyHarness(caller)

	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))

	outcome := strategy.executeSafeBatch(context.Background(), intent, &StrategyOptions{})
	require.True(t, outcome.IsSuccessful, outcome.Error)

	assert.Equal(t, testOwnerAddr, batch.gotSafe, "the owner is the safe being proposed to")
	require.Len(t, batch.gotCalls, 2, "approve precedes the vault call when the allowance falls short")
	assert.Equal(t, testUSDCAddr, batch.gotCalls[0].To)
	assert.Equal(t, testVaultAddr, batch.gotCalls[1].To)
}

func TestSafeBatchSkipsApproveWhenCovered(t *testing.T) {
	network := testNetwork()
	network.SafeServiceURL = "https://safe.example"
	setTestConfig(t, network)

	caller := newFakeCaller()
	caller.set("allowance", eth(1000))
	strategy, _, batch, _ := newStrategyHarness(caller)

	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))

	outcome := strategy.executeSafeBatch(context.Background(), intent, &StrategyOptions{})
	require.True(t, outcome.IsSuccessful, outcome.Error)
	require.Len(t, batch.gotCalls, 1)
	assert.Equal(t, testVaultAddr, batch.gotCalls[0].To)
}

func TestExecuteZapWithoutQuote(t *testing.T) {
	setTestConfig(t, testNetwork())

	strategy, executor, _, _ := newStrategyHarness(newFakeCaller())
	intent := testIntent(types.DirectionDeposit, testVault(types.VaultVersionLegacy))

	outcome := strategy.executeZap(context.Background(), intent, &StrategyOptions{})
	assert.False(t, outcome.IsSuccessful)
	assert.Contains(t, outcome.Error, "quote")
	assert.Zero(t, executor.count())
}

package services

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"vault-backend/internal/chain"
	"vault-backend/internal/clients"
	"vault-backend/internal/config"
	"vault-backend/internal/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	testVaultAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testUSDCAddr   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	testDAIAddr    = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	testOwnerAddr  = common.HexToAddress("0x742d35Cc6634C0532925a3b0F26750C66d78EB66")
	testRouterAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// fakeCaller answers view calls from a method-name table. Unknown selectors
// fail the call so tests notice unexpected reads.
type fakeCaller struct {
	mu        sync.Mutex
	callCount int
	uints     map[string]*big.Int
	native    *big.Int
	// when set, every contract call waits for the channel before answering
	block chan struct{}
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		uints:  make(map[string]*big.Int),
		native: big.NewInt(0),
	}
}

func (f *fakeCaller) set(method string, value *big.Int) {
	f.mu.Lock()
	f.uints[method] = value
	f.mu.Unlock()
}

func (f *fakeCaller) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

var viewABIs = []abi.ABI{erc20ABI, legacyVaultABI, standardVaultABI}

func lookupViewMethod(data []byte) (string, abi.Arguments, error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("call data too short")
	}
	for _, viewABI := range viewABIs {
		for name, method := range viewABI.Methods {
			if bytes.Equal(method.ID, data[:4]) {
				return name, method.Outputs, nil
			}
		}
	}
	return "", nil, fmt.Errorf("unknown selector %x", data[:4])
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.callCount++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	method, outputs, err := lookupViewMethod(msg.Data)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	value, ok := f.uints[method]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no fake value configured for %s", method)
	}
	return outputs.Pack(value)
}

func (f *fakeCaller) BalanceAt(_ context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	return new(big.Int).Set(f.native), nil
}

type fakePool struct {
	caller chain.Caller
}

func (p *fakePool) Caller(_ int) (chain.Caller, bool) {
	if p.caller == nil {
		return nil, false
	}
	return p.caller, true
}

// fakeExecutor records submitted calls and settles them successfully unless
// given an explicit outcome
type fakeExecutor struct {
	mu        sync.Mutex
	submitted []*types.Call
	outcome   *types.ExecutionOutcome
	onExecute func(*types.Call)
}

func (e *fakeExecutor) Execute(_ context.Context, call *types.Call) *types.ExecutionOutcome {
	e.mu.Lock()
	e.submitted = append(e.submitted, call)
	hook := e.onExecute
	outcome := e.outcome
	e.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if outcome != nil {
		return outcome
	}
	return &types.ExecutionOutcome{IsSuccessful: true, TxHash: "0xfadedfaded"}
}

func (e *fakeExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.submitted)
}

func (e *fakeExecutor) last() *types.Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.submitted) == 0 {
		return nil
	}
	return e.submitted[len(e.submitted)-1]
}

// fakeZapRouter serves both the facade's route lookup and the strategy's
// execution building
type fakeZapRouter struct {
	mu             sync.Mutex
	approvalTarget *clients.ApprovalTarget
	approvalErr    error
	quote          *clients.ZapQuote
	quoteErr       error
	execution      *types.Call
	executionErr   error
	approvalCalls  int
	quoteCalls     int
}

func (z *fakeZapRouter) GetApproval(_ context.Context, _ int, _, _ common.Address, _ *big.Int) (*clients.ApprovalTarget, error) {
	z.mu.Lock()
	z.approvalCalls++
	z.mu.Unlock()
	return z.approvalTarget, z.approvalErr
}

func (z *fakeZapRouter) GetQuote(_ context.Context, _ *clients.ZapQuoteRequest) (*clients.ZapQuote, error) {
	z.mu.Lock()
	z.quoteCalls++
	z.mu.Unlock()
	return z.quote, z.quoteErr
}

func (z *fakeZapRouter) BuildExecution(_ context.Context, _ *clients.ZapQuote, _ *types.PermitSignature) (*types.Call, error) {
	return z.execution, z.executionErr
}

type fakeBatchProposer struct {
	outcome  *types.ExecutionOutcome
	gotSafe  common.Address
	gotCalls []*types.Call
}

func (b *fakeBatchProposer) ExecuteBatch(_ context.Context, _ string, _ int, safe common.Address, calls []*types.Call) *types.ExecutionOutcome {
	b.gotSafe = safe
	b.gotCalls = calls
	if b.outcome != nil {
		return b.outcome
	}
	return &types.ExecutionOutcome{IsSuccessful: true, Strategy: types.StrategySafeBatch, Synthetic: true}
}

type fakeSink struct {
	mu       sync.Mutex
	intents  []*types.TransferIntent
	outcomes []*types.ExecutionOutcome
}

func (s *fakeSink) Settled(intent *types.TransferIntent, outcome *types.ExecutionOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, intent)
	s.outcomes = append(s.outcomes, outcome)
}

// setTestConfig installs a single-network config and restores the previous
// one when the test finishes
func setTestConfig(t *testing.T, network config.NetworkConfig) {
	t.Helper()
	previous := config.AppConfig
	config.AppConfig = &config.Config{
		Blockchain: config.BlockchainConfig{
			Networks: map[string]config.NetworkConfig{"test": network},
		},
		Solver: config.SolverConfig{
			SlippageBps:           50,
			ToleranceBps:          100,
			PermitDeadlineMinutes: 30,
			SafePollSeconds:       30,
		},
	}
	t.Cleanup(func() { config.AppConfig = previous })
}

func testNetwork() config.NetworkConfig {
	return config.NetworkConfig{ChainID: 1, Name: "test", Enabled: true}
}

func testVault(version types.VaultVersion) *types.VaultDescriptor {
	return &types.VaultDescriptor{
		ChainID:  1,
		Address:  testVaultAddr,
		Version:  version,
		Symbol:   "yvUSDC",
		Decimals: 18,
		Underlying: types.TokenDescriptor{
			ChainID:  1,
			Address:  testUSDCAddr,
			Symbol:   "USDC",
			Decimals: 18,
		},
	}
}

func testIntent(direction types.TransferDirection, vault *types.VaultDescriptor) *types.TransferIntent {
	return &types.TransferIntent{
		Direction: direction,
		ChainID:   1,
		Token:     vault.Underlying,
		Vault:     vault,
		Owner:     testOwnerAddr,
		Receiver:  testOwnerAddr,
		Amount:    big.NewInt(1_000_000),
	}
}

// eth scales a whole-token amount to 18 decimals
func eth(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1e18))
}

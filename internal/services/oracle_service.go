package services

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"vault-backend/internal/chain"
	"vault-backend/internal/metrics"
	"vault-backend/internal/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// CallerPool resolves a chain id to a read surface
type CallerPool interface {
	Caller(chainID int) (chain.Caller, bool)
}

// mustABI parses an inline ABI fragment or panics
func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

var (
	erc20ABI = mustABI(`[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`)

	legacyVaultABI = mustABI(`[
		{"name":"pricePerShare","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"availableDepositLimit","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`)

	standardVaultABI = mustABI(`[
		{"name":"maxDeposit","type":"function","stateMutability":"view","inputs":[{"name":"receiver","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"maxWithdraw","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"previewDeposit","type":"function","stateMutability":"view","inputs":[{"name":"assets","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"convertToShares","type":"function","stateMutability":"view","inputs":[{"name":"assets","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"convertToAssets","type":"function","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`)
)

// OracleService is the balance/allowance oracle: read-only queries of token
// balances, allowances and vault accounting fields. Reads are mirrored in a
// local cache with explicit invalidation; the chain stays canonical. Live
// conversion queries (convertToShares/convertToAssets/previewDeposit) are
// never cached because the rate drifts between quote and execution.
type OracleService struct {
	pool CallerPool

	mu    sync.RWMutex
	cache map[string]*big.Int
}

// NewOracleService creates the oracle on top of a chain client pool
func NewOracleService(pool CallerPool) *OracleService {
	return &OracleService{
		pool:  pool,
		cache: make(map[string]*big.Int),
	}
}

// Balance returns owner's balance of token. The native sentinel address
// resolves to the chain-native balance.
func (o *OracleService) Balance(ctx context.Context, token types.TokenDescriptor, owner common.Address) (*big.Int, error) {
	key := fmt.Sprintf("%d:balance:%s:%s", token.ChainID, token.Address.Hex(), owner.Hex())
	if cached := o.lookup(key); cached != nil {
		metrics.OracleReads.WithLabelValues("balance", "hit").Inc()
		return cached, nil
	}
	metrics.OracleReads.WithLabelValues("balance", "miss").Inc()

	caller, ok := o.pool.Caller(token.ChainID)
	if !ok {
		return nil, fmt.Errorf("client not initialized for chainID %d", token.ChainID)
	}

	start := time.Now()
	defer func() { metrics.OracleReadDuration.WithLabelValues("balance").Observe(time.Since(start).Seconds()) }()

	if token.IsNative() {
		balance, err := caller.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to query native balance: %w", err)
		}
		o.store(key, balance)
		return balance, nil
	}

	balance, err := o.callUint256(ctx, caller, erc20ABI, token.Address, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query token balance: %w", err)
	}
	o.store(key, balance)
	return balance, nil
}

// Allowance returns the on-chain allowance of spender over owner's token
func (o *OracleService) Allowance(ctx context.Context, token types.TokenDescriptor, owner, spender common.Address) (*big.Int, error) {
	if token.IsNative() {
		// native coins have no ERC-20 allowance semantics
		return types.MaxUint256, nil
	}

	key := fmt.Sprintf("%d:allowance:%s:%s:%s", token.ChainID, token.Address.Hex(), owner.Hex(), spender.Hex())
	if cached := o.lookup(key); cached != nil {
		metrics.OracleReads.WithLabelValues("allowance", "hit").Inc()
		return cached, nil
	}
	metrics.OracleReads.WithLabelValues("allowance", "miss").Inc()

	caller, ok := o.pool.Caller(token.ChainID)
	if !ok {
		return nil, fmt.Errorf("client not initialized for chainID %d", token.ChainID)
	}

	start := time.Now()
	allowance, err := o.callUint256(ctx, caller, erc20ABI, token.Address, "allowance", owner, spender)
	metrics.OracleReadDuration.WithLabelValues("allowance").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to query allowance: %w", err)
	}
	o.store(key, allowance)
	return allowance, nil
}

// Accounting returns the accounting surface for a vault, branching once on
// the version tag. Callers hold a VaultAccounting and never branch again.
func (o *OracleService) Accounting(vault *types.VaultDescriptor) types.VaultAccounting {
	if vault.IsLegacy() {
		return &legacyAccounting{oracle: o, vault: vault}
	}
	return &standardAccounting{oracle: o, vault: vault}
}

// InvalidateToken drops cached balance/allowance entries touching token
func (o *OracleService) InvalidateToken(chainID int, token common.Address) {
	o.invalidatePrefixes(
		fmt.Sprintf("%d:balance:%s", chainID, token.Hex()),
		fmt.Sprintf("%d:allowance:%s", chainID, token.Hex()),
	)
}

// InvalidateVault drops cached accounting fields for vault
func (o *OracleService) InvalidateVault(chainID int, vault common.Address) {
	o.invalidatePrefixes(
		fmt.Sprintf("%d:vault:%s", chainID, vault.Hex()),
		fmt.Sprintf("%d:balance:%s", chainID, vault.Hex()),
	)
}

// InvalidateAll clears the whole read cache
func (o *OracleService) InvalidateAll() {
	o.mu.Lock()
	o.cache = make(map[string]*big.Int)
	o.mu.Unlock()
}

func (o *OracleService) lookup(key string) *big.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.cache[key]; ok {
		return new(big.Int).Set(v)
	}
	return nil
}

func (o *OracleService) store(key string, value *big.Int) {
	o.mu.Lock()
	o.cache[key] = new(big.Int).Set(value)
	o.mu.Unlock()
}

func (o *OracleService) invalidatePrefixes(prefixes ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key := range o.cache {
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				delete(o.cache, key)
				break
			}
		}
	}
}

// callUint256 packs, calls and unpacks a single-uint256 view function
func (o *OracleService) callUint256(ctx context.Context, caller chain.Caller, contractABI abi.ABI, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	result, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	values, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected %s result arity %d", method, len(values))
	}
	out, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, values[0])
	}
	return out, nil
}

// vaultField reads one cached vault accounting field
func (o *OracleService) vaultField(ctx context.Context, vault *types.VaultDescriptor, contractABI abi.ABI, method, cacheSuffix string, args ...interface{}) (*big.Int, error) {
	key := fmt.Sprintf("%d:vault:%s:%s", vault.ChainID, vault.Address.Hex(), cacheSuffix)
	if cached := o.lookup(key); cached != nil {
		metrics.OracleReads.WithLabelValues(method, "hit").Inc()
		return cached, nil
	}
	metrics.OracleReads.WithLabelValues(method, "miss").Inc()

	caller, ok := o.pool.Caller(vault.ChainID)
	if !ok {
		return nil, fmt.Errorf("client not initialized for chainID %d", vault.ChainID)
	}

	start := time.Now()
	value, err := o.callUint256(ctx, caller, contractABI, vault.Address, method, args...)
	metrics.OracleReadDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	o.store(key, value)
	return value, nil
}

// vaultLiveField reads one vault field bypassing the cache
func (o *OracleService) vaultLiveField(ctx context.Context, vault *types.VaultDescriptor, contractABI abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	metrics.OracleReads.WithLabelValues(method, "live").Inc()

	caller, ok := o.pool.Caller(vault.ChainID)
	if !ok {
		return nil, fmt.Errorf("client not initialized for chainID %d", vault.ChainID)
	}

	start := time.Now()
	value, err := o.callUint256(ctx, caller, contractABI, vault.Address, method, args...)
	metrics.OracleReadDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	return value, err
}

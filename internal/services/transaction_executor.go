package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"vault-backend/internal/chain"
	"vault-backend/internal/config"
	"vault-backend/internal/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// CallExecutor submits one on-chain call and settles it into an outcome.
// Implementations never let an error escape: every failure mode is folded
// into ExecutionOutcome.
type CallExecutor interface {
	Execute(ctx context.Context, call *types.Call) *types.ExecutionOutcome
}

// BackendPool resolves a chain id to a write surface
type BackendPool interface {
	Backend(chainID int) (chain.TxBackend, bool)
}

// TransactionExecutor builds, signs, sends and settles transactions against
// the configured networks.
type TransactionExecutor struct {
	pool BackendPool

	// receipt polling
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewTransactionExecutor creates the executor over a backend pool
func NewTransactionExecutor(pool BackendPool) *TransactionExecutor {
	return &TransactionExecutor{
		pool:         pool,
		pollInterval: 5 * time.Second,
		maxWait:      5 * time.Minute,
	}
}

// Execute submits the call and awaits confirmation. Thrown errors are
// extracted into the most specific human-readable message available and
// reported as a failed outcome; nothing propagates past this boundary.
func (e *TransactionExecutor) Execute(ctx context.Context, call *types.Call) *types.ExecutionOutcome {
	backend, ok := e.pool.Backend(call.ChainID)
	if !ok {
		return &types.ExecutionOutcome{Error: fmt.Sprintf("client not initialized for chainID %d", call.ChainID)}
	}

	networkConfig, err := config.GetNetworkConfigByChainID(call.ChainID)
	if err != nil {
		return &types.ExecutionOutcome{Error: humanReadableError(err)}
	}
	if networkConfig.PrivateKey == "" {
		return &types.ExecutionOutcome{Error: fmt.Sprintf("no signing key configured for chainID %d", call.ChainID)}
	}

	key, err := crypto.HexToECDSA(networkConfig.PrivateKey)
	if err != nil {
		return &types.ExecutionOutcome{Error: "invalid signing key configured"}
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	signedTx, err := e.buildAndSign(ctx, backend, networkConfig, key, from, call)
	if err != nil {
		return &types.ExecutionOutcome{Error: humanReadableError(err)}
	}

	if err := backend.SendTransaction(ctx, signedTx); err != nil {
		return &types.ExecutionOutcome{Error: humanReadableError(err)}
	}

	txHash := signedTx.Hash()
	logrus.WithFields(logrus.Fields{
		"chain_id": call.ChainID,
		"tx_hash":  txHash.Hex(),
		"to":       call.To.Hex(),
	}).Info("Transaction submitted")

	receipt, err := e.waitForReceipt(ctx, backend, txHash)
	if err != nil {
		return &types.ExecutionOutcome{TxHash: txHash.Hex(), Error: humanReadableError(err)}
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return &types.ExecutionOutcome{TxHash: txHash.Hex(), Receipt: receipt, Error: "transaction reverted"}
	}

	return &types.ExecutionOutcome{
		IsSuccessful: true,
		TxHash:       txHash.Hex(),
		Receipt:      receipt,
	}
}

// buildAndSign assembles an EIP-155 signed legacy transaction for the call
func (e *TransactionExecutor) buildAndSign(ctx context.Context, backend chain.TxBackend, networkConfig *config.NetworkConfig, key *ecdsa.PrivateKey, from common.Address, call *types.Call) (*ethtypes.Transaction, error) {
	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := e.gasPrice(ctx, backend, networkConfig)
	if err != nil {
		return nil, err
	}

	gasLimit := networkConfig.GasLimit
	if gasLimit == 0 {
		value := call.Value
		if value == nil {
			value = big.NewInt(0)
		}
		to := call.To
		estimated, err := backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &to,
			Value: value,
			Data:  call.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = estimated * 2
	}

	to := call.To
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    call.Value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     call.Data,
	})

	signer := ethtypes.NewEIP155Signer(big.NewInt(int64(call.ChainID)))
	signedTx, err := ethtypes.SignTx(tx, signer, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signedTx, nil
}

// gasPrice resolves the gas price: configured value, or the node suggestion
// with a 20% bump
func (e *TransactionExecutor) gasPrice(ctx context.Context, backend chain.TxBackend, networkConfig *config.NetworkConfig) (*big.Int, error) {
	if networkConfig.GasPrice != "" && networkConfig.GasPrice != "auto" {
		gasPrice, ok := new(big.Int).SetString(networkConfig.GasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("invalid configured gas price %q", networkConfig.GasPrice)
		}
		return gasPrice, nil
	}

	suggested, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	adjusted := new(big.Int).Mul(suggested, big.NewInt(120))
	return adjusted.Div(adjusted, big.NewInt(100)), nil
}

// waitForReceipt polls for the receipt until confirmed, the context is
// cancelled, or maxWait elapses
func (e *TransactionExecutor) waitForReceipt(ctx context.Context, backend chain.TxBackend, txHash common.Hash) (*ethtypes.Receipt, error) {
	deadline := time.Now().Add(e.maxWait)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !strings.Contains(err.Error(), "not found") {
			logrus.WithField("tx_hash", txHash.Hex()).WithError(err).Warn("Receipt query failed, retrying")
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("transaction confirmation timeout after %v (tx %s)", e.maxWait, txHash.Hex())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// humanReadableError extracts the most specific message from an error,
// preferring structured RPC revert data over the bare summary.
func humanReadableError(err error) string {
	if err == nil {
		return ""
	}
	var de rpc.DataError
	if ok := errorsAs(err, &de); ok {
		if data := de.ErrorData(); data != nil {
			return fmt.Sprintf("%s (%v)", de.Error(), data)
		}
		return de.Error()
	}
	return err.Error()
}

// errorsAs mirrors errors.As for the rpc.DataError interface without
// requiring a concrete target type
func errorsAs(err error, target *rpc.DataError) bool {
	for err != nil {
		if de, ok := err.(rpc.DataError); ok {
			*target = de
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"vault-backend/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Caller is the read surface the oracle needs from a chain connection.
// *ethclient.Client satisfies it; tests substitute fakes.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// TxBackend is the write surface the transaction executor needs.
// *ethclient.Client satisfies it.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Clients holds one connected RPC client per enabled chain
type Clients struct {
	clients map[int]*ethclient.Client
}

// NewClients returns an empty client pool; call Initialize to dial the
// configured networks.
func NewClients() *Clients {
	return &Clients{clients: make(map[int]*ethclient.Client)}
}

// Initialize dials every enabled network, trying each RPC endpoint in order
// until one answers a NetworkID probe.
func (c *Clients) Initialize() error {
	if config.AppConfig == nil {
		return fmt.Errorf("config not loaded")
	}
	if config.AppConfig.Blockchain.Networks == nil {
		return fmt.Errorf("blockchain networks not configured")
	}

	for networkName, networkConfig := range config.AppConfig.Blockchain.Networks {
		if !networkConfig.Enabled {
			continue
		}

		var client *ethclient.Client
		var err error
		var connectedEndpoint string

		for _, rpcEndpoint := range networkConfig.RPCEndpoints {
			client, err = ethclient.Dial(rpcEndpoint)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"network":  networkName,
					"endpoint": rpcEndpoint,
				}).WithError(err).Warn("RPC dial failed, trying next endpoint")
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			networkID, probeErr := client.NetworkID(ctx)
			cancel()
			if probeErr == nil {
				if networkID.Int64() != int64(networkConfig.ChainID) {
					client.Close()
					err = fmt.Errorf("endpoint %s answered for chain %s, expected %d", rpcEndpoint, networkID, networkConfig.ChainID)
					continue
				}
				connectedEndpoint = rpcEndpoint
				err = nil
				break
			}
			client.Close()
			err = probeErr
		}

		if err != nil || connectedEndpoint == "" {
			return fmt.Errorf("failed to connect to %s network: %w", networkName, err)
		}

		logrus.WithFields(logrus.Fields{
			"network":  networkName,
			"chain_id": networkConfig.ChainID,
			"endpoint": connectedEndpoint,
		}).Info("Connected RPC client")
		c.clients[networkConfig.ChainID] = client
	}

	return nil
}

// Get returns the RPC client for a chain id
func (c *Clients) Get(chainID int) (*ethclient.Client, bool) {
	client, exists := c.clients[chainID]
	return client, exists
}

// Caller returns the chain's read surface for a chain id
func (c *Clients) Caller(chainID int) (Caller, bool) {
	client, exists := c.clients[chainID]
	if !exists {
		return nil, false
	}
	return client, true
}

// Backend returns the chain's write surface for a chain id
func (c *Clients) Backend(chainID int) (TxBackend, bool) {
	client, exists := c.clients[chainID]
	if !exists {
		return nil, false
	}
	return client, true
}

// Count returns the number of initialized clients
func (c *Clients) Count() int {
	return len(c.clients)
}

// ChainIDs returns the chain ids with a live client
func (c *Clients) ChainIDs() []int {
	ids := make([]int, 0, len(c.clients))
	for chainID := range c.clients {
		ids = append(ids, chainID)
	}
	return ids
}

// Close shuts every client down
func (c *Clients) Close() {
	for _, client := range c.clients {
		client.Close()
	}
}

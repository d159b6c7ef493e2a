package services

import (
	"context"
	"time"

	"vault-backend/internal/clients"
	"vault-backend/internal/metrics"
	"vault-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// ProposalService is the multisig service surface the batch runner needs
type ProposalService interface {
	ProposeBatch(ctx context.Context, serviceURL string, chainID int, safe common.Address, calls []*types.Call) (*clients.ProposalHandle, error)
	GetStatus(ctx context.Context, handle *clients.ProposalHandle) (clients.ProposalStatus, string, error)
}

// SafeBatchService proposes an ordered call batch to a multisig wallet and
// polls the proposal until it settles. Execution happens out-of-band among
// the wallet owners, so finality is asynchronous and potentially unbounded;
// a zero deadline keeps polling forever.
type SafeBatchService struct {
	client       ProposalService
	pollInterval time.Duration
	deadline     time.Duration
}

// NewSafeBatchService creates the batch runner. pollSeconds below 1 falls
// back to 30; deadlineMinutes of 0 means no deadline.
func NewSafeBatchService(client ProposalService, pollSeconds, deadlineMinutes int) *SafeBatchService {
	if pollSeconds < 1 {
		pollSeconds = 30
	}
	return &SafeBatchService{
		client:       client,
		pollInterval: time.Duration(pollSeconds) * time.Second,
		deadline:     time.Duration(deadlineMinutes) * time.Minute,
	}
}

// ExecuteBatch proposes the calls atomically and awaits a terminal proposal
// status. A successful batch yields a synthetic receipt: the aggregated
// transaction has no individually mined fields, so block and gas values stay
// zeroed and the outcome is flagged Synthetic.
func (s *SafeBatchService) ExecuteBatch(ctx context.Context, serviceURL string, chainID int, safe common.Address, calls []*types.Call) *types.ExecutionOutcome {
	handle, err := s.client.ProposeBatch(ctx, serviceURL, chainID, safe, calls)
	if err != nil {
		return types.Failure(types.StrategySafeBatch, humanReadableError(err))
	}

	logrus.WithFields(logrus.Fields{
		"chain_id":     chainID,
		"safe":         safe.Hex(),
		"safe_tx_hash": handle.SafeTxHash,
		"calls":        len(calls),
	}).Info("Multisig batch proposed, awaiting co-signing")

	var deadlineAt time.Time
	if s.deadline > 0 {
		deadlineAt = time.Now().Add(s.deadline)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return types.Failure(types.StrategySafeBatch, ctx.Err().Error())
		case <-ticker.C:
		}

		metrics.SafeProposalPolls.Inc()
		status, txHash, err := s.client.GetStatus(ctx, handle)
		if err != nil {
			logrus.WithField("safe_tx_hash", handle.SafeTxHash).WithError(err).Warn("Proposal status poll failed, retrying")
		} else if status.Terminal() {
			metrics.SafeProposalOutcomes.WithLabelValues(string(status)).Inc()
			return s.settle(handle, status, txHash)
		}

		if !deadlineAt.IsZero() && time.Now().After(deadlineAt) {
			metrics.SafeProposalOutcomes.WithLabelValues("deadline").Inc()
			return types.Failure(types.StrategySafeBatch, "batch proposal still pending after poll deadline")
		}
	}
}

// settle maps a terminal proposal status to an outcome
func (s *SafeBatchService) settle(handle *clients.ProposalHandle, status clients.ProposalStatus, txHash string) *types.ExecutionOutcome {
	switch status {
	case clients.ProposalSuccess:
		receipt := &ethtypes.Receipt{
			Status: ethtypes.ReceiptStatusSuccessful,
			TxHash: common.HexToHash(txHash),
		}
		return &types.ExecutionOutcome{
			IsSuccessful: true,
			Strategy:     types.StrategySafeBatch,
			TxHash:       txHash,
			Receipt:      receipt,
			Synthetic:    true,
		}
	case clients.ProposalCancelled:
		return types.Failure(types.StrategySafeBatch, "batch proposal cancelled by wallet owners")
	default:
		return types.Failure(types.StrategySafeBatch, "batch proposal execution failed")
	}
}

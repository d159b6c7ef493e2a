package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vault-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ProposalStatus lifecycle of a proposed multisig batch
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "PENDING"
	ProposalSuccess   ProposalStatus = "SUCCESS"
	ProposalFailed    ProposalStatus = "FAILED"
	ProposalCancelled ProposalStatus = "CANCELLED"
)

// Terminal reports whether the status can no longer change
func (s ProposalStatus) Terminal() bool {
	return s == ProposalSuccess || s == ProposalFailed || s == ProposalCancelled
}

// SafeClient talks to the multisig transaction service. A batch is proposed
// atomically; signing and execution happen out-of-band among the wallet
// owners, so the proposal handle is polled until it reaches a terminal state.
type SafeClient struct {
	httpClient *http.Client
}

// NewSafeClient creates a multisig proposal client
func NewSafeClient() *SafeClient {
	return &SafeClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ProposalHandle identifies a proposed batch for status polling
type ProposalHandle struct {
	ServiceURL string `json:"service_url"`
	SafeTxHash string `json:"safe_tx_hash"`
}

// proposalCall is the wire shape of one call inside a batch
type proposalCall struct {
	To    common.Address `json:"to"`
	Value string         `json:"value"`
	Data  string         `json:"data"`
}

type proposeBatchRequest struct {
	ChainID int            `json:"chainId"`
	Safe    common.Address `json:"safe"`
	Calls   []proposalCall `json:"calls"`
}

type proposeBatchResponse struct {
	SafeTxHash string `json:"safeTxHash"`
}

type proposalStatusResponse struct {
	Status ProposalStatus `json:"status"`
	TxHash string         `json:"txHash,omitempty"`
}

// ProposeBatch submits the ordered calls as one atomic multisig transaction.
// Either the whole batch is accepted and a handle returned, or nothing is
// proposed.
func (c *SafeClient) ProposeBatch(ctx context.Context, serviceURL string, chainID int, safe common.Address, calls []*types.Call) (*ProposalHandle, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("cannot propose an empty batch")
	}

	payload := proposeBatchRequest{
		ChainID: chainID,
		Safe:    safe,
		Calls:   make([]proposalCall, 0, len(calls)),
	}
	for _, call := range calls {
		value := "0"
		if call.Value != nil {
			value = call.Value.String()
		}
		payload.Calls = append(payload.Calls, proposalCall{
			To:    call.To,
			Value: value,
			Data:  hexutil.Encode(call.Data),
		})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch proposal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", serviceURL+"/proposals", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("safe service error (status %d): %s", resp.StatusCode, string(body))
	}

	var proposed proposeBatchResponse
	if err := json.Unmarshal(body, &proposed); err != nil {
		return nil, fmt.Errorf("failed to decode proposal response: %w", err)
	}
	if proposed.SafeTxHash == "" {
		return nil, fmt.Errorf("safe service returned no transaction hash")
	}

	return &ProposalHandle{ServiceURL: serviceURL, SafeTxHash: proposed.SafeTxHash}, nil
}

// GetStatus reads the current state of a proposed batch. The on-chain
// transaction hash is returned once the batch has executed.
func (c *SafeClient) GetStatus(ctx context.Context, handle *ProposalHandle) (ProposalStatus, string, error) {
	reqURL := fmt.Sprintf("%s/proposals/%s", handle.ServiceURL, handle.SafeTxHash)

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("safe service error (status %d): %s", resp.StatusCode, string(body))
	}

	var status proposalStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return "", "", fmt.Errorf("failed to decode status response: %w", err)
	}
	if status.Status == "" {
		return "", "", fmt.Errorf("safe service returned no status")
	}

	return status.Status, status.TxHash, nil
}

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"vault-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AggregatorClient talks to the swap-aggregation API used for zap execution:
// entering or leaving a vault with a token that is not the vault's underlying
// asset in a single routed transaction.
type AggregatorClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAggregatorClient creates a client against the configured aggregator API
func NewAggregatorClient(baseURL, apiKey string) *AggregatorClient {
	return &AggregatorClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ApprovalTarget describes how spending must be authorized before a zap:
// which contract to approve, whether it accepts signature-based permits, and
// the execution target the routed call goes through.
type ApprovalTarget struct {
	Spender   common.Address `json:"spender"`
	CanPermit bool           `json:"canPermit"`
	Target    common.Address `json:"target"`
}

// ZapQuoteRequest identifies the routed conversion to price
type ZapQuoteRequest struct {
	ChainID     int            `json:"chainId"`
	Sender      common.Address `json:"sender"`
	Receiver    common.Address `json:"receiver"`
	TokenIn     common.Address `json:"tokenIn"`
	TokenOut    common.Address `json:"tokenOut"`
	AmountIn    *big.Int       `json:"amountIn"`
	SlippageBps int64          `json:"slippageBps"`
}

// ZapQuote is the aggregator's priced route. The route payload is opaque:
// it is handed back verbatim when building the execution.
type ZapQuote struct {
	ID           string          `json:"id"`
	ChainID      int             `json:"chainId"`
	Target       common.Address  `json:"target"`
	AmountIn     *big.Int        `json:"amountIn"`
	AmountOut    *big.Int        `json:"amountOut"`
	AmountOutMin *big.Int        `json:"amountOutMin"`
	Route        json.RawMessage `json:"route"`
}

// zapExecutionRequest is the build-transaction payload. Permit fields ride
// along when a signed permit should be redeemed inside the routed call.
type zapExecutionRequest struct {
	QuoteID string          `json:"quoteId"`
	Route   json.RawMessage `json:"route"`
	Permit  *permitPayload  `json:"permit,omitempty"`
}

type permitPayload struct {
	Value    string `json:"value"`
	Deadline string `json:"deadline"`
	V        uint8  `json:"v"`
	R        string `json:"r"`
	S        string `json:"s"`
}

// zapExecutionResponse is the wire shape of a built transaction
type zapExecutionResponse struct {
	ChainID int            `json:"chainId"`
	To      common.Address `json:"to"`
	Value   string         `json:"value"`
	Data    hexutil.Bytes  `json:"data"`
}

// GetApproval asks the aggregator how the input token must be approved for
// the routed conversion. A 404 means the aggregator cannot route this token
// and comes back as (nil, nil): the caller treats the zap as unsupported.
func (c *AggregatorClient) GetApproval(ctx context.Context, chainID int, sender, token common.Address, amount *big.Int) (*ApprovalTarget, error) {
	params := url.Values{}
	params.Add("chainId", fmt.Sprintf("%d", chainID))
	params.Add("sender", sender.Hex())
	params.Add("token", token.Hex())
	params.Add("amount", amount.String())

	reqURL := fmt.Sprintf("%s/approval?%s", c.baseURL, params.Encode())

	body, status, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("aggregator API error (status %d): %s", status, string(body))
	}

	var target ApprovalTarget
	if err := json.Unmarshal(body, &target); err != nil {
		return nil, fmt.Errorf("failed to decode approval response: %w", err)
	}
	return &target, nil
}

// GetQuote prices the routed conversion
func (c *AggregatorClient) GetQuote(ctx context.Context, req *ZapQuoteRequest) (*ZapQuote, error) {
	params := url.Values{}
	params.Add("chainId", fmt.Sprintf("%d", req.ChainID))
	params.Add("sender", req.Sender.Hex())
	params.Add("receiver", req.Receiver.Hex())
	params.Add("tokenIn", req.TokenIn.Hex())
	params.Add("tokenOut", req.TokenOut.Hex())
	params.Add("amountIn", req.AmountIn.String())
	params.Add("slippageBps", fmt.Sprintf("%d", req.SlippageBps))

	reqURL := fmt.Sprintf("%s/quote?%s", c.baseURL, params.Encode())

	body, status, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("aggregator API error (status %d): %s", status, string(body))
	}

	var quote ZapQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("failed to decode quote response: %w", err)
	}
	return &quote, nil
}

// BuildExecution turns a quote into the concrete call to submit. A signed
// permit, when present, is redeemed inside the routed transaction instead of
// requiring a prior approval transaction.
func (c *AggregatorClient) BuildExecution(ctx context.Context, quote *ZapQuote, permit *types.PermitSignature) (*types.Call, error) {
	payload := zapExecutionRequest{
		QuoteID: quote.ID,
		Route:   quote.Route,
	}
	if permit != nil {
		payload.Permit = &permitPayload{
			Value:    permit.Value.String(),
			Deadline: permit.Deadline.String(),
			V:        permit.V,
			R:        permit.R.Hex(),
			S:        permit.S.Hex(),
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/execution", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator API error (status %d): %s", resp.StatusCode, string(body))
	}

	var execution zapExecutionResponse
	if err := json.Unmarshal(body, &execution); err != nil {
		return nil, fmt.Errorf("failed to decode execution response: %w", err)
	}

	value := big.NewInt(0)
	if execution.Value != "" {
		parsed, ok := new(big.Int).SetString(execution.Value, 10)
		if !ok {
			return nil, fmt.Errorf("invalid call value %q in execution response", execution.Value)
		}
		value = parsed
	}

	return &types.Call{
		ChainID: execution.ChainID,
		To:      execution.To,
		Value:   value,
		Data:    []byte(execution.Data),
	}, nil
}

// get runs an authenticated GET and returns the body with the status code
func (c *AggregatorClient) get(ctx context.Context, reqURL string) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

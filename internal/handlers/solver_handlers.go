package handlers

import (
	"math/big"
	"net/http"

	"vault-backend/internal/services"
	"vault-backend/internal/types"
	"vault-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SolverHandler exposes the solver facade over HTTP
type SolverHandler struct {
	solver     *services.SolverService
	conversion *services.ConversionService
	oracle     *services.OracleService
}

// NewSolverHandler creates the solver API handler
func NewSolverHandler(solver *services.SolverService, conversion *services.ConversionService, oracle *services.OracleService) *SolverHandler {
	return &SolverHandler{solver: solver, conversion: conversion, oracle: oracle}
}

// tokenRequest is the wire shape of a token reference
type tokenRequest struct {
	Address  string `json:"address" binding:"required"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// vaultRequest is the wire shape of a vault reference
type vaultRequest struct {
	Address    string       `json:"address" binding:"required"`
	Version    string       `json:"version" binding:"required"`
	Symbol     string       `json:"symbol"`
	Decimals   uint8        `json:"decimals"`
	Underlying tokenRequest `json:"underlying" binding:"required"`
}

// transferRequest is the wire shape of a deposit or withdraw request
type transferRequest struct {
	ChainID  int          `json:"chain_id" binding:"required"`
	Token    tokenRequest `json:"token" binding:"required"`
	Vault    vaultRequest `json:"vault" binding:"required"`
	Amount   string       `json:"amount" binding:"required"`
	Receiver string       `json:"receiver"`

	IsMultisigWallet bool  `json:"is_multisig_wallet"`
	DisableBatch     bool  `json:"disable_batch"`
	UsePermit        bool  `json:"use_permit"`
	SlippageBps      int64 `json:"slippage_bps"`
	ToleranceBps     int64 `json:"tolerance_bps"`
}

// intentFromRequest validates and assembles a TransferIntent. The owner
// comes from the authenticated token, never the request body.
func intentFromRequest(c *gin.Context, req *transferRequest) (*types.TransferIntent, bool) {
	if !utils.IsEvmAddress(req.Token.Address) || !utils.IsEvmAddress(req.Vault.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Malformed token or vault address"})
		return nil, false
	}

	version := types.VaultVersion(req.Vault.Version)
	if version != types.VaultVersionLegacy && version != types.VaultVersionStandard {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "vault.version must be LEGACY or STANDARD"})
		return nil, false
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "amount must be a positive integer string"})
		return nil, false
	}

	value, exists := c.Get("claims")
	claims, ok := value.(*JWTClaims)
	if !exists || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authentication required"})
		return nil, false
	}
	owner := common.HexToAddress(claims.Owner)

	receiver := owner
	if req.Receiver != "" {
		if !utils.IsEvmAddress(req.Receiver) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Malformed receiver address"})
			return nil, false
		}
		receiver = common.HexToAddress(req.Receiver)
	}

	return &types.TransferIntent{
		ChainID: req.ChainID,
		Token: types.TokenDescriptor{
			ChainID:  req.ChainID,
			Address:  common.HexToAddress(req.Token.Address),
			Symbol:   req.Token.Symbol,
			Decimals: req.Token.Decimals,
		},
		Vault: &types.VaultDescriptor{
			ChainID:  req.ChainID,
			Address:  common.HexToAddress(req.Vault.Address),
			Version:  version,
			Symbol:   req.Vault.Symbol,
			Decimals: req.Vault.Decimals,
			Underlying: types.TokenDescriptor{
				ChainID:  req.ChainID,
				Address:  common.HexToAddress(req.Vault.Underlying.Address),
				Symbol:   req.Vault.Underlying.Symbol,
				Decimals: req.Vault.Underlying.Decimals,
			},
		},
		Owner:    owner,
		Receiver: receiver,
		Amount:   amount,
	}, true
}

func solverOptions(req *transferRequest) *services.SolverOptions {
	return &services.SolverOptions{
		IsMultisigWallet: req.IsMultisigWallet,
		DisableBatch:     req.DisableBatch,
		UsePermit:        req.UsePermit,
		SlippageBps:      req.SlippageBps,
		ToleranceBps:     req.ToleranceBps,
	}
}

// DepositHandler handles POST /api/v1/deposit
func (h *SolverHandler) DepositHandler(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body", "details": err.Error()})
		return
	}
	intent, ok := intentFromRequest(c, &req)
	if !ok {
		return
	}

	intent.Direction = types.DirectionDeposit
	outcome := h.solver.Execute(c.Request.Context(), intent, solverOptions(&req))
	h.respondOutcome(c, outcome)
}

// WithdrawHandler handles POST /api/v1/withdraw
func (h *SolverHandler) WithdrawHandler(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body", "details": err.Error()})
		return
	}
	intent, ok := intentFromRequest(c, &req)
	if !ok {
		return
	}

	intent.Direction = types.DirectionWithdraw
	outcome := h.solver.Execute(c.Request.Context(), intent, solverOptions(&req))
	h.respondOutcome(c, outcome)
}

func (h *SolverHandler) respondOutcome(c *gin.Context, outcome *types.ExecutionOutcome) {
	status := http.StatusOK
	if !outcome.IsSuccessful {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{
		"success":  outcome.IsSuccessful,
		"strategy": outcome.Strategy,
		"tx_hash":  outcome.TxHash,
		"error":    outcome.Error,
	})
}

// DepositQuoteHandler handles POST /api/v1/deposit/quote: previews the
// shares minted and reports whether the deposit can proceed.
func (h *SolverHandler) DepositQuoteHandler(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body", "details": err.Error()})
		return
	}
	intent, ok := intentFromRequest(c, &req)
	if !ok {
		return
	}

	canDeposit, err := h.solver.CanDeposit(c.Request.Context(), intent)
	if err != nil {
		logrus.WithError(err).Warn("Deposit quote failed")
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "Failed to query vault state"})
		return
	}

	response := gin.H{
		"success":     true,
		"can_deposit": canDeposit,
		"needs_zap":   h.solver.NeedsZap(intent),
	}
	if canDeposit {
		previewed, err := h.oracle.Accounting(intent.Vault).PreviewDeposit(c.Request.Context(), intent.Amount)
		if err == nil {
			response["previewed_shares"] = previewed.String()
		}
	}
	c.JSON(http.StatusOK, response)
}

// WithdrawQuoteHandler handles POST /api/v1/withdraw/quote: resolves the
// share amount to redeem and whether the request counts as a full exit.
func (h *SolverHandler) WithdrawQuoteHandler(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body", "details": err.Error()})
		return
	}
	intent, ok := intentFromRequest(c, &req)
	if !ok {
		return
	}

	canWithdraw, err := h.solver.CanWithdraw(c.Request.Context(), intent)
	if err != nil {
		logrus.WithError(err).Warn("Withdraw quote failed")
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "Failed to query vault state"})
		return
	}
	if !canWithdraw {
		c.JSON(http.StatusOK, gin.H{"success": true, "can_withdraw": false})
		return
	}

	conversion, err := h.conversion.SharesForWithdraw(c.Request.Context(), intent.Vault, intent.Owner, intent.Amount, req.ToleranceBps)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"can_withdraw":       true,
		"shares":             conversion.Shares.String(),
		"is_full_withdrawal": conversion.IsFullWithdrawal,
	})
}

package types

import (
	"errors"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ExecutionStrategy identifies which path the solver took for an intent
type ExecutionStrategy string

const (
	StrategyDirect        ExecutionStrategy = "DIRECT"
	StrategyPermitRouter  ExecutionStrategy = "PERMIT_ROUTER"
	StrategyAggregatorZap ExecutionStrategy = "AGGREGATOR_ZAP"
	StrategySafeBatch     ExecutionStrategy = "SAFE_BATCH"
)

// SolverState is the strategy state machine position
type SolverState string

const (
	StateIdle       SolverState = "IDLE"
	StateValidating SolverState = "VALIDATING"
	StateExecuting  SolverState = "EXECUTING"
	StateSettling   SolverState = "SETTLING"
	StateSucceeded  SolverState = "SUCCEEDED"
	StateFailed     SolverState = "FAILED"
)

// ExecutionOutcome is the terminal result of any execution strategy.
// Every settle, successful or not, triggers a balance/allowance refresh.
type ExecutionOutcome struct {
	IsSuccessful bool              `json:"is_successful"`
	Strategy     ExecutionStrategy `json:"strategy,omitempty"`
	TxHash       string            `json:"tx_hash,omitempty"`
	Receipt      *ethtypes.Receipt `json:"-"`
	// Synthetic marks receipts assembled for batch proposals, which have no
	// individually mined transaction; block and gas fields are zeroed.
	Synthetic bool   `json:"synthetic,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Failure builds a failed outcome from an error message
func Failure(strategy ExecutionStrategy, msg string) *ExecutionOutcome {
	return &ExecutionOutcome{IsSuccessful: false, Strategy: strategy, Error: msg}
}

// Validation errors are programming errors at the call site: they are raised
// before any network interaction.
var (
	ErrInvalidBps       = errors.New("basis points out of range [0, 10000]")
	ErrInvalidAddress   = errors.New("malformed address")
	ErrNonPositiveValue = errors.New("amount must be positive")
	ErrInFlight         = errors.New("operation already in flight")
)

package models

import (
	"time"
)

// ExecutionStatus lifecycle of a recorded solver execution
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ExecutionRecord is the persisted ledger entry for one solver execution.
// The chain stays canonical; this table is a read model for history queries
// and for re-driving status pushes.
type ExecutionRecord struct {
	ID        string `json:"id" gorm:"primaryKey;size:36"`
	ChainID   int    `json:"chain_id" gorm:"not null;index"`
	Direction string `json:"direction" gorm:"size:16;not null;index"`
	Strategy  string `json:"strategy" gorm:"size:32;index"`

	Vault    string `json:"vault" gorm:"size:42;not null;index"`
	Token    string `json:"token" gorm:"size:42;not null"`
	Owner    string `json:"owner" gorm:"size:42;not null;index"`
	Receiver string `json:"receiver" gorm:"size:42"`
	Amount   string `json:"amount" gorm:"size:80;not null"` // raw integer, smallest unit

	Status ExecutionStatus `json:"status" gorm:"size:16;not null;index"`
	TxHash string          `json:"tx_hash" gorm:"size:66;index"`
	// Synthetic marks outcomes settled through a batch proposal, whose
	// receipt has no individually mined fields
	Synthetic bool   `json:"synthetic"`
	Error     string `json:"error,omitempty" gorm:"type:text"`

	CreatedAt time.Time  `json:"created_at"`
	SettledAt *time.Time `json:"settled_at"`
}

// TableName overrides the gorm default
func (ExecutionRecord) TableName() string {
	return "execution_records"
}

// BatchProposalRecord tracks one multisig batch proposal through co-signing
type BatchProposalRecord struct {
	ID          uint64 `json:"id" gorm:"primaryKey;autoIncrement"`
	ExecutionID string `json:"execution_id" gorm:"size:36;index"`
	ChainID     int    `json:"chain_id" gorm:"not null;index"`

	Safe       string `json:"safe" gorm:"size:42;not null;index"`
	SafeTxHash string `json:"safe_tx_hash" gorm:"size:66;uniqueIndex;not null"`
	CallCount  int    `json:"call_count" gorm:"not null"`

	Status string `json:"status" gorm:"size:16;not null;index"`
	TxHash string `json:"tx_hash" gorm:"size:66"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the gorm default
func (BatchProposalRecord) TableName() string {
	return "batch_proposal_records"
}

package repository

import (
	"context"
	"time"

	"vault-backend/internal/models"

	"gorm.io/gorm"
)

// ExecutionRepository defines data access for the execution ledger
type ExecutionRepository interface {
	Create(ctx context.Context, record *models.ExecutionRecord) error
	GetByID(ctx context.Context, id string) (*models.ExecutionRecord, error)
	FindByOwner(ctx context.Context, owner string, page, limit int) ([]*models.ExecutionRecord, int64, error)
	Find(ctx context.Context, chainID int, status string, page, limit int) ([]*models.ExecutionRecord, int64, error)
	MarkSettled(ctx context.Context, id string, status models.ExecutionStatus, txHash, errMsg string, synthetic bool) error

	CreateProposal(ctx context.Context, record *models.BatchProposalRecord) error
	UpdateProposalStatus(ctx context.Context, safeTxHash, status, txHash string) error
}

type executionRepository struct {
	db *gorm.DB
}

// NewExecutionRepository creates an ExecutionRepository instance
func NewExecutionRepository(db *gorm.DB) ExecutionRepository {
	return &executionRepository{db: db}
}

func (r *executionRepository) Create(ctx context.Context, record *models.ExecutionRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *executionRepository) GetByID(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	var record models.ExecutionRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *executionRepository) FindByOwner(ctx context.Context, owner string, page, limit int) ([]*models.ExecutionRecord, int64, error) {
	var records []*models.ExecutionRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ExecutionRecord{}).Where("owner = ?", owner)
	query.Count(&total)

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&records).Error
	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

func (r *executionRepository) Find(ctx context.Context, chainID int, status string, page, limit int) ([]*models.ExecutionRecord, int64, error) {
	var records []*models.ExecutionRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ExecutionRecord{})
	if chainID != 0 {
		query = query.Where("chain_id = ?", chainID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	query.Count(&total)

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&records).Error
	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

func (r *executionRepository) MarkSettled(ctx context.Context, id string, status models.ExecutionStatus, txHash, errMsg string, synthetic bool) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.ExecutionRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"tx_hash":    txHash,
			"error":      errMsg,
			"synthetic":  synthetic,
			"settled_at": &now,
		}).Error
}

func (r *executionRepository) CreateProposal(ctx context.Context, record *models.BatchProposalRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *executionRepository) UpdateProposalStatus(ctx context.Context, safeTxHash, status, txHash string) error {
	return r.db.WithContext(ctx).Model(&models.BatchProposalRecord{}).
		Where("safe_tx_hash = ?", safeTxHash).
		Updates(map[string]interface{}{
			"status":  status,
			"tx_hash": txHash,
		}).Error
}

package services

import (
	"context"
	"time"

	"vault-backend/internal/clients"
	"vault-backend/internal/models"
	"vault-backend/internal/repository"
	"vault-backend/internal/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventPublisher is the messaging surface the recorder publishes settles to
type EventPublisher interface {
	PublishExecutionEvent(kind string, event *clients.ExecutionEvent) error
}

// SettlementRecorder receives every terminal outcome from the solver and
// fans it out: ledger row, event stream, websocket push. Failures here are
// logged and swallowed; recording must never affect the execution result.
type SettlementRecorder struct {
	repo      repository.ExecutionRepository
	publisher EventPublisher
	push      *WebSocketPushService
}

// NewSettlementRecorder creates the recorder; publisher and push may be nil
func NewSettlementRecorder(repo repository.ExecutionRepository, publisher EventPublisher, push *WebSocketPushService) *SettlementRecorder {
	return &SettlementRecorder{repo: repo, publisher: publisher, push: push}
}

// Settled persists and announces one terminal outcome
func (r *SettlementRecorder) Settled(intent *types.TransferIntent, outcome *types.ExecutionOutcome) {
	executionID := uuid.New().String()
	now := time.Now()

	status := models.ExecutionStatusSucceeded
	if !outcome.IsSuccessful {
		status = models.ExecutionStatusFailed
	}

	if r.repo != nil {
		record := &models.ExecutionRecord{
			ID:        executionID,
			ChainID:   intent.ChainID,
			Direction: string(intent.Direction),
			Strategy:  string(outcome.Strategy),
			Vault:     intent.Vault.Address.Hex(),
			Token:     intent.Token.Address.Hex(),
			Owner:     intent.Owner.Hex(),
			Receiver:  intent.Receiver.Hex(),
			Amount:    intent.Amount.String(),
			Status:    status,
			TxHash:    outcome.TxHash,
			Synthetic: outcome.Synthetic,
			Error:     outcome.Error,
			CreatedAt: now,
			SettledAt: &now,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.repo.Create(ctx, record); err != nil {
			logrus.WithError(err).Error("Failed to persist execution record")
		}
		cancel()
	}

	if r.publisher != nil {
		kind := clients.EventExecutionFailed
		if outcome.IsSuccessful {
			kind = clients.EventDepositSettled
			if intent.Direction == types.DirectionWithdraw {
				kind = clients.EventWithdrawSettled
			}
		}
		event := &clients.ExecutionEvent{
			ExecutionID: executionID,
			ChainID:     intent.ChainID,
			Direction:   string(intent.Direction),
			Strategy:    string(outcome.Strategy),
			Vault:       intent.Vault.Address.Hex(),
			Owner:       intent.Owner.Hex(),
			Amount:      intent.Amount.String(),
			TxHash:      outcome.TxHash,
			Error:       outcome.Error,
			SettledAt:   now.Unix(),
		}
		if err := r.publisher.PublishExecutionEvent(kind, event); err != nil {
			logrus.WithError(err).Error("Failed to publish execution event")
		}
	}

	if r.push != nil {
		r.push.PushOutcome(executionID, intent, outcome)
	}
}

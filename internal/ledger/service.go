package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nftsale/market-backend/pkg/db/models"
	"github.com/nftsale/market-backend/pkg/enums"
)

// Service records the immutable audit trail of the escrow chain. Duplicate
// callback deliveries are detected through HasEvent before any money moves.
type Service interface {
	RecordEvent(ctx context.Context, input RecordSettlementEventInput) (*models.SettlementEvent, error)
	HasEvent(ctx context.Context, callID uuid.UUID, eventType enums.SettlementEventType) (bool, error)
	ListByVault(ctx context.Context, vaultAccount string) ([]models.SettlementEvent, error)
}

type service struct {
	repo Repository
}

// RecordSettlementEventInput captures the immutable data a settlement event requires.
type RecordSettlementEventInput struct {
	CallID       uuid.UUID                 `json:"call_id"`
	VaultAccount string                    `json:"vault_account"`
	Owner        string                    `json:"owner"`
	Requester    string                    `json:"requester"`
	Type         enums.SettlementEventType `json:"type"`
	Amount       decimal.Decimal           `json:"amount"`
	Metadata     json.RawMessage           `json:"metadata"`
}

// NewService wires a settlement ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("settlement ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) RecordEvent(ctx context.Context, input RecordSettlementEventInput) (*models.SettlementEvent, error) {
	if input.CallID == uuid.Nil {
		return nil, fmt.Errorf("call id is required")
	}
	if input.VaultAccount == "" {
		return nil, fmt.Errorf("vault account is required")
	}
	if input.Requester == "" {
		return nil, fmt.Errorf("requester is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid settlement event type %q", input.Type)
	}
	if input.Amount.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative")
	}

	event := &models.SettlementEvent{
		CallID:       input.CallID,
		VaultAccount: input.VaultAccount,
		Owner:        input.Owner,
		Requester:    input.Requester,
		Type:         input.Type,
		Amount:       input.Amount,
		Metadata:     input.Metadata,
	}

	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) HasEvent(ctx context.Context, callID uuid.UUID, eventType enums.SettlementEventType) (bool, error) {
	if callID == uuid.Nil {
		return false, fmt.Errorf("call id is required")
	}
	if !eventType.IsValid() {
		return false, fmt.Errorf("invalid settlement event type %q", eventType)
	}

	events, err := s.repo.ListByCallID(ctx, callID)
	if err != nil {
		return false, err
	}
	for _, event := range events {
		if event.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (s *service) ListByVault(ctx context.Context, vaultAccount string) ([]models.SettlementEvent, error) {
	if vaultAccount == "" {
		return nil, fmt.Errorf("vault account is required")
	}
	return s.repo.ListByVault(ctx, vaultAccount)
}

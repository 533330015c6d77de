package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nftsale/market-backend/pkg/db/models"
	"github.com/nftsale/market-backend/pkg/enums"
)

type fakeRepository struct {
	createFn func(ctx context.Context, event *models.SettlementEvent) error
	events   []models.SettlementEvent
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, event *models.SettlementEvent) error {
	if f.createFn != nil {
		return f.createFn(ctx, event)
	}
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeRepository) ListByCallID(_ context.Context, callID uuid.UUID) ([]models.SettlementEvent, error) {
	var out []models.SettlementEvent
	for _, event := range f.events {
		if event.CallID == callID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeRepository) ListByVault(_ context.Context, vaultAccount string) ([]models.SettlementEvent, error) {
	var out []models.SettlementEvent
	for _, event := range f.events {
		if event.VaultAccount == vaultAccount {
			out = append(out, event)
		}
	}
	return out, nil
}

func TestService_RecordEvent(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	metadata := json.RawMessage(`{"item_key":"nft.collection.near|42"}`)
	input := RecordSettlementEventInput{
		CallID:       uuid.New(),
		VaultAccount: "shop.nftsale.near",
		Owner:        "alice.near",
		Requester:    "bob.near",
		Type:         enums.SettlementEventTypeSaleSettled,
		Amount:       decimal.RequireFromString("990000000000000000000000"),
		Metadata:     metadata,
	}

	var created *models.SettlementEvent
	repo.createFn = func(ctx context.Context, event *models.SettlementEvent) error {
		created = event
		return nil
	}

	got, err := svc.RecordEvent(context.Background(), input)
	if err != nil {
		t.Fatalf("RecordEvent error: %v", err)
	}
	if created == nil {
		t.Fatal("expected settlement event to be created")
	}
	if created.CallID != input.CallID || created.Type != input.Type || !created.Amount.Equal(input.Amount) {
		t.Fatalf("unexpected settlement event data: %+v", created)
	}
	if created.VaultAccount != input.VaultAccount || created.Owner != input.Owner || created.Requester != input.Requester {
		t.Fatalf("missing account metadata: %+v", created)
	}
	if string(created.Metadata) != string(metadata) {
		t.Fatalf("metadata mismatch: %s", created.Metadata)
	}
	if got != created {
		t.Fatalf("service should return created event")
	}
}

func TestService_RecordEventValidation(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	valid := RecordSettlementEventInput{
		CallID:       uuid.New(),
		VaultAccount: "shop.nftsale.near",
		Owner:        "alice.near",
		Requester:    "bob.near",
		Type:         enums.SettlementEventTypeSaleSettled,
		Amount:       decimal.RequireFromString("1"),
	}

	tests := []struct {
		name   string
		mutate func(input *RecordSettlementEventInput)
	}{
		{"missing call id", func(i *RecordSettlementEventInput) { i.CallID = uuid.Nil }},
		{"missing vault account", func(i *RecordSettlementEventInput) { i.VaultAccount = "" }},
		{"missing requester", func(i *RecordSettlementEventInput) { i.Requester = "" }},
		{"invalid type", func(i *RecordSettlementEventInput) { i.Type = "minted" }},
		{"negative amount", func(i *RecordSettlementEventInput) { i.Amount = decimal.RequireFromString("-1") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			input := valid
			tc.mutate(&input)
			if _, err := svc.RecordEvent(context.Background(), input); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestService_RecordEventRepositoryError(t *testing.T) {
	repo := &fakeRepository{createFn: func(context.Context, *models.SettlementEvent) error {
		return errors.New("insert failed")
	}}
	svc, _ := NewService(repo)

	_, err := svc.RecordEvent(context.Background(), RecordSettlementEventInput{
		CallID:       uuid.New(),
		VaultAccount: "shop.nftsale.near",
		Requester:    "bob.near",
		Type:         enums.SettlementEventTypeSaleRefunded,
		Amount:       decimal.Zero,
	})
	if err == nil || err.Error() != "insert failed" {
		t.Fatalf("RecordEvent error = %v, want repository error", err)
	}
}

func TestService_HasEvent(t *testing.T) {
	repo := &fakeRepository{}
	svc, _ := NewService(repo)
	callID := uuid.New()

	if _, err := svc.RecordEvent(context.Background(), RecordSettlementEventInput{
		CallID:       callID,
		VaultAccount: "shop.nftsale.near",
		Owner:        "alice.near",
		Requester:    "bob.near",
		Type:         enums.SettlementEventTypeSaleSettled,
		Amount:       decimal.RequireFromString("99"),
	}); err != nil {
		t.Fatalf("RecordEvent error: %v", err)
	}

	found, err := svc.HasEvent(context.Background(), callID, enums.SettlementEventTypeSaleSettled)
	if err != nil {
		t.Fatalf("HasEvent error: %v", err)
	}
	if !found {
		t.Fatal("expected event to be found")
	}

	found, err = svc.HasEvent(context.Background(), callID, enums.SettlementEventTypeSaleRefunded)
	if err != nil {
		t.Fatalf("HasEvent error: %v", err)
	}
	if found {
		t.Fatal("unexpected event type match")
	}
}

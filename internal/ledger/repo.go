package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nftsale/market-backend/pkg/db/models"
)

// Repository manages persistence for settlement events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.SettlementEvent) error
	ListByCallID(ctx context.Context, callID uuid.UUID) ([]models.SettlementEvent, error)
	ListByVault(ctx context.Context, vaultAccount string) ([]models.SettlementEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a settlement event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.SettlementEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListByCallID(ctx context.Context, callID uuid.UUID) ([]models.SettlementEvent, error) {
	var events []models.SettlementEvent
	if err := r.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) ListByVault(ctx context.Context, vaultAccount string) ([]models.SettlementEvent, error) {
	var events []models.SettlementEvent
	if err := r.db.WithContext(ctx).
		Where("vault_account = ?", vaultAccount).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

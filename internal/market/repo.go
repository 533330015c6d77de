package market

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/nftsale/market-backend/pkg/db/models"
	"github.com/nftsale/market-backend/pkg/identity"
)

// Repository manages persistence for ownership records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, owner identity.AccountID) (*models.OwnershipRecord, error)
	Create(ctx context.Context, record *models.OwnershipRecord) error
	Delete(ctx context.Context, owner identity.AccountID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an ownership record repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context, owner identity.AccountID) (*models.OwnershipRecord, error) {
	var record models.OwnershipRecord
	if err := r.db.WithContext(ctx).
		Where("owner = ?", string(owner)).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) Create(ctx context.Context, record *models.OwnershipRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) Delete(ctx context.Context, owner identity.AccountID) error {
	return r.db.WithContext(ctx).
		Where("owner = ?", string(owner)).
		Delete(&models.OwnershipRecord{}).Error
}

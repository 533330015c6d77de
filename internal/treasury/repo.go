package treasury

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nftsale/market-backend/pkg/db/models"
	"github.com/nftsale/market-backend/pkg/identity"
)

// Repository manages persistence for escrow balances.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, account identity.AccountID) (*models.TreasuryAccount, error)
	GetForUpdate(ctx context.Context, account identity.AccountID) (*models.TreasuryAccount, error)
	Save(ctx context.Context, record *models.TreasuryAccount) error
	Create(ctx context.Context, record *models.TreasuryAccount) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a treasury repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context, account identity.AccountID) (*models.TreasuryAccount, error) {
	var record models.TreasuryAccount
	if err := r.db.WithContext(ctx).
		Where("account = ?", string(account)).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) GetForUpdate(ctx context.Context, account identity.AccountID) (*models.TreasuryAccount, error) {
	var record models.TreasuryAccount
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account = ?", string(account)).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) Save(ctx context.Context, record *models.TreasuryAccount) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *repository) Create(ctx context.Context, record *models.TreasuryAccount) error {
	return r.db.WithContext(ctx).Create(record).Error
}

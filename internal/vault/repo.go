package vault

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nftsale/market-backend/pkg/db/models"
)

// Repository manages persistence for vault records and their price tables.
// Every query is scoped by vault account; vaults never see each other's rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetVault(ctx context.Context, account string) (*models.Vault, error)
	CreateVault(ctx context.Context, record *models.Vault) error
	SaveVault(ctx context.Context, record *models.Vault) error
	DeleteVault(ctx context.Context, account string) error
	ListVaults(ctx context.Context) ([]models.Vault, error)
	GetListing(ctx context.Context, account, itemKey string) (*models.Listing, error)
	UpsertListing(ctx context.Context, listing *models.Listing) error
	DeleteListing(ctx context.Context, account, itemKey string) error
	DeleteListingsByVault(ctx context.Context, account string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a vault repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetVault(ctx context.Context, account string) (*models.Vault, error) {
	var record models.Vault
	if err := r.db.WithContext(ctx).
		Where("account = ?", account).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) CreateVault(ctx context.Context, record *models.Vault) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) SaveVault(ctx context.Context, record *models.Vault) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *repository) DeleteVault(ctx context.Context, account string) error {
	return r.db.WithContext(ctx).
		Where("account = ?", account).
		Delete(&models.Vault{}).Error
}

func (r *repository) ListVaults(ctx context.Context) ([]models.Vault, error) {
	var records []models.Vault
	if err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) GetListing(ctx context.Context, account, itemKey string) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).
		Where("vault_account = ? AND item_key = ?", account, itemKey).
		First(&listing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &listing, nil
}

func (r *repository) UpsertListing(ctx context.Context, listing *models.Listing) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vault_account"}, {Name: "item_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"price", "updated_at"}),
		}).
		Create(listing).Error
}

func (r *repository) DeleteListing(ctx context.Context, account, itemKey string) error {
	return r.db.WithContext(ctx).
		Where("vault_account = ? AND item_key = ?", account, itemKey).
		Delete(&models.Listing{}).Error
}

func (r *repository) DeleteListingsByVault(ctx context.Context, account string) error {
	return r.db.WithContext(ctx).
		Where("vault_account = ?", account).
		Delete(&models.Listing{}).Error
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Listing is a fixed-price entry in a vault's price table. ItemKey is the
// composite "source|item_id" key; a positive price means purchasable.
type Listing struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	VaultAccount string          `gorm:"column:vault_account;not null;uniqueIndex:ux_listings_vault_item,priority:1"`
	ItemKey      string          `gorm:"column:item_key;not null;uniqueIndex:ux_listings_vault_item,priority:2"`
	Source       string          `gorm:"column:source;not null"`
	ItemID       string          `gorm:"column:item_id;not null"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(40,0);not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *Listing) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

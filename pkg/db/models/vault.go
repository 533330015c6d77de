package models

import "time"

// Vault is the per-seller sub-ledger record. Lister is the single payout
// target for the next settlement: whoever most recently listed a price.
type Vault struct {
	Account   string    `gorm:"column:account;primaryKey"`
	Lister    string    `gorm:"column:lister;not null;default:''"`
	AccessKey string    `gorm:"column:access_key;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

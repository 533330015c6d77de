package models

import "time"

// OwnershipRecord maps an owner account to the label of the vault it controls.
// At most one record exists per owner; absence means no vault is provisioned.
// Rows are inserted by the provisioning callback and removed on destruction,
// never updated in between.
type OwnershipRecord struct {
	Owner     string    `gorm:"column:owner;primaryKey"`
	Label     string    `gorm:"column:label;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

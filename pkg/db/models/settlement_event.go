package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nftsale/market-backend/pkg/enums"
)

// SettlementEvent records an immutable money lifecycle event in the escrow
// chain: provisioning outcomes, sale settlements, refunds, destructions.
type SettlementEvent struct {
	ID           uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	CallID       uuid.UUID                 `gorm:"column:call_id;type:uuid;not null"`
	VaultAccount string                    `gorm:"column:vault_account;not null"`
	Owner        string                    `gorm:"column:owner;not null"`
	Requester    string                    `gorm:"column:requester;not null"`
	Type         enums.SettlementEventType `gorm:"column:type;not null"`
	Amount       decimal.Decimal           `gorm:"column:amount;type:numeric(40,0);not null"`
	Metadata     json.RawMessage           `gorm:"column:metadata"`
	CreatedAt    time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

func (e *SettlementEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

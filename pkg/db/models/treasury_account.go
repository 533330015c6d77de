package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TreasuryAccount holds an account's escrow balance in the smallest currency
// unit. Balances only move through treasury.Service inside a transaction.
type TreasuryAccount struct {
	Account   string          `gorm:"column:account;primaryKey"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(40,0);not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

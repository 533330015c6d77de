// Package wire defines the message contract spoken over the mesh between the
// market coordinator, the per-seller vaults, and item source accounts. Both
// sides of every conversation import it, so payload shapes live here and
// nowhere else.
package wire

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nftsale/market-backend/pkg/identity"
)

// Methods handled by the market coordinator.
const (
	MethodProvision = "provision"
	MethodList      = "list"
	MethodWithdraw  = "withdraw"
	MethodBuy       = "buy"
	MethodUnlock    = "unlock"
	MethodDestroy   = "destroy"

	MethodOnProvisioned = "on_provisioned"
	MethodOnPayment     = "on_payment"
	MethodOnTransfer    = "on_transfer"
)

// Methods handled by a vault. Buy, withdraw, unlock and destroy reuse the
// constants above; the payload decides which side is speaking.
const (
	MethodSetPrice       = "set_price"
	MethodGetPrice       = "get_price"
	MethodOnItemTransfer = "on_item_transfer"
)

// MethodTransferItem is the opaque capability every item source account is
// expected to expose.
const MethodTransferItem = "transfer_item"

// ItemRef addresses one item at its source.
type ItemRef struct {
	Source string `json:"source"`
	ItemID string `json:"item_id"`
}

// ItemKey is the composite price-table key for an item.
func ItemKey(source, itemID string) string {
	return source + "|" + itemID
}

type ProvisionArgs struct {
	Label string `json:"label"`
}

type ProvisionAck struct {
	Subaccount identity.AccountID `json:"subaccount"`
}

type OnProvisionedArgs struct {
	ProvisionID uuid.UUID          `json:"provision_id"`
	Label       string             `json:"label"`
	Owner       identity.AccountID `json:"owner"`
	StartedAt   int64              `json:"started_at"`
}

type ListArgs struct {
	ItemRef
	Price decimal.Decimal `json:"price"`
}

type SetPriceArgs struct {
	ItemRef
	Price decimal.Decimal `json:"price"`
}

type PriceValue struct {
	Price decimal.Decimal `json:"price"`
}

// MarketBuyArgs is the buyer-facing purchase request; Label names the vault
// the buyer wants to buy from.
type MarketBuyArgs struct {
	ItemRef
	Label string `json:"label"`
}

// VaultBuyArgs is the coordinator's forwarded purchase. PayValue is the full
// deposit escrowed at the coordinator; the vault never holds the money.
type VaultBuyArgs struct {
	ItemRef
	PayValue decimal.Decimal `json:"pay_value"`
}

type OnPaymentArgs struct {
	PurchaseID   uuid.UUID          `json:"purchase_id"`
	Account      identity.AccountID `json:"account"`
	VaultAccount identity.AccountID `json:"vault_account"`
	Price        decimal.Decimal    `json:"price"`
	StartedAt    int64              `json:"started_at"`
}

type OnItemTransferArgs struct {
	SettlementID uuid.UUID          `json:"settlement_id"`
	ItemKey      string             `json:"item_key"`
	Owner        identity.AccountID `json:"owner"`
	Price        decimal.Decimal    `json:"price"`
}

type OnTransferArgs struct {
	SettlementID uuid.UUID          `json:"settlement_id"`
	Succeeded    bool               `json:"succeeded"`
	Price        decimal.Decimal    `json:"price"`
	Owner        identity.AccountID `json:"owner"`
}

type MarketUnlockArgs struct {
	SubAccount identity.AccountID `json:"sub_account"`
	PublicKey  string             `json:"public_key"`
}

type VaultUnlockArgs struct {
	PublicKey string `json:"public_key"`
}

type VaultDestroyArgs struct {
	Beneficiary identity.AccountID `json:"beneficiary"`
}

type TransferItemArgs struct {
	Receiver identity.AccountID `json:"receiver"`
	ItemID   string             `json:"item_id"`
}

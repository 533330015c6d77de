package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nftsale/market-backend/api/responses"
	"github.com/nftsale/market-backend/api/validators"
	"github.com/nftsale/market-backend/internal/wire"
	"github.com/nftsale/market-backend/pkg/db/models"
	pkgerrors "github.com/nftsale/market-backend/pkg/errors"
	"github.com/nftsale/market-backend/pkg/identity"
	"github.com/nftsale/market-backend/pkg/logger"
)

// TreasuryCreditor funds accounts; the operator surface is the only writer.
type TreasuryCreditor interface {
	Credit(ctx context.Context, account identity.AccountID, amount decimal.Decimal) error
	Balance(ctx context.Context, account identity.AccountID) (decimal.Decimal, error)
}

// SettlementLister reads the audit trail for one vault.
type SettlementLister interface {
	ListByVault(ctx context.Context, vaultAccount string) ([]models.SettlementEvent, error)
}

type unlockRequest struct {
	LabelOwner string `json:"label_owner" validate:"required"`
	PublicKey  string `json:"public_key" validate:"required"`
}

// AdminUnlockVault re-keys the vault owned by label_owner. The request is
// issued as the coordinator itself; vaults refuse the unlock from anyone else.
func AdminUnlockVault(bus Submitter, dir Directory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload unlockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		owner := identity.AccountID(strings.TrimSpace(payload.LabelOwner))
		label, err := dir.Subaccount(r.Context(), owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if label == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no market account found"))
			return
		}

		args := wire.MarketUnlockArgs{
			SubAccount: identity.Subaccount(dir.Root(), label),
			PublicKey:  strings.TrimSpace(payload.PublicKey),
		}
		submitAccepted(w, r, logg, bus, dir.Root(), dir.Root(), wire.MethodUnlock, mustJSON(args), decimal.Zero)
	}
}

type treasuryCreditRequest struct {
	Account string `json:"account" validate:"required"`
	Amount  string `json:"amount" validate:"required"`
}

type treasuryBalanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// AdminTreasuryCredit funds an account balance so it can attach deposits.
func AdminTreasuryCredit(treasurySvc TreasuryCreditor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload treasuryCreditRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		amount, err := parseAmount("amount", payload.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account := identity.AccountID(strings.TrimSpace(payload.Account))
		if err := treasurySvc.Credit(r.Context(), account, amount); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		balance, err := treasurySvc.Balance(r.Context(), account)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, treasuryBalanceResponse{
			Account: string(account),
			Balance: balance.String(),
		})
	}
}

// AdminTreasuryBalance reads one account's balance.
func AdminTreasuryBalance(treasurySvc TreasuryCreditor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := validators.RequireQuery(r, "account")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		balance, err := treasurySvc.Balance(r.Context(), identity.AccountID(account))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, treasuryBalanceResponse{Account: account, Balance: balance.String()})
	}
}

type settlementEventResponse struct {
	CallID       string `json:"call_id"`
	VaultAccount string `json:"vault_account"`
	Owner        string `json:"owner"`
	Requester    string `json:"requester"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	CreatedAt    string `json:"created_at"`
}

// AdminVaultSettlements lists the settlement trail recorded for one vault.
func AdminVaultSettlements(ledgerSvc SettlementLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vault, err := validators.RequireQuery(r, "vault")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events, err := ledgerSvc.ListByVault(r.Context(), vault)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]settlementEventResponse, 0, len(events))
		for _, event := range events {
			out = append(out, settlementEventResponse{
				CallID:       event.CallID.String(),
				VaultAccount: event.VaultAccount,
				Owner:        event.Owner,
				Requester:    event.Requester,
				Type:         string(event.Type),
				Amount:       event.Amount.String(),
				CreatedAt:    event.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		responses.WriteSuccess(w, out)
	}
}

package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nftsale/market-backend/api/middleware"
	"github.com/nftsale/market-backend/api/responses"
	"github.com/nftsale/market-backend/api/validators"
	"github.com/nftsale/market-backend/internal/wire"
	"github.com/nftsale/market-backend/pkg/db/models"
	pkgerrors "github.com/nftsale/market-backend/pkg/errors"
	"github.com/nftsale/market-backend/pkg/identity"
	"github.com/nftsale/market-backend/pkg/logger"
)

// Submitter enqueues a call on the mesh and returns its receipt.
type Submitter interface {
	Submit(ctx context.Context, from, to identity.AccountID, method string, payload []byte, deposit decimal.Decimal) (uuid.UUID, error)
}

// Directory is the synchronous read surface of the market coordinator.
type Directory interface {
	Root() identity.AccountID
	Subaccount(ctx context.Context, owner identity.AccountID) (string, error)
}

// ListingReader reads listed prices straight from storage; price queries do
// not travel over the mesh.
type ListingReader interface {
	GetListing(ctx context.Context, account, itemKey string) (*models.Listing, error)
}

type receiptResponse struct {
	ReceiptID string `json:"receipt_id"`
}

func callerAccount(r *http.Request) (identity.AccountID, error) {
	account := middleware.AccountIDFromContext(r.Context())
	if account == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing")
	}
	return identity.AccountID(account), nil
}

func parseAmount(field, value string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Decimal{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount").WithDetails(map[string]any{"field": field})
	}
	if amount.Sign() <= 0 {
		return decimal.Decimal{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive").WithDetails(map[string]any{"field": field})
	}
	return amount, nil
}

// parseOptionalAmount is parseAmount for fields where absence means zero.
func parseOptionalAmount(field, value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, nil
	}
	return parseAmount(field, value)
}

// mustJSON marshals a wire payload; the payload structs contain no values
// that can fail to encode.
func mustJSON(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return payload
}

func submitAccepted(w http.ResponseWriter, r *http.Request, logg *logger.Logger, bus Submitter, from, to identity.AccountID, method string, payload []byte, deposit decimal.Decimal) {
	receipt, err := bus.Submit(r.Context(), from, to, method, payload, deposit)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccessStatus(w, http.StatusAccepted, receiptResponse{ReceiptID: receipt.String()})
}

type provisionRequest struct {
	Label   string `json:"label" validate:"required,min=2,max=32,vault_label"`
	Deposit string `json:"deposit" validate:"required"`
}

// MarketProvision submits a vault creation request for the authenticated
// account. The deposit must cover the provisioning minimum; the stake is
// debited from the caller's treasury balance when the chain runs.
func MarketProvision(bus Submitter, dir Directory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := callerAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload provisionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		deposit, err := parseAmount("deposit", payload.Deposit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		args := wire.ProvisionArgs{Label: strings.TrimSpace(payload.Label)}
		submitAccepted(w, r, logg, bus, account, dir.Root(), wire.MethodProvision, mustJSON(args), deposit)
	}
}

type listingRequest struct {
	Source  string `json:"source" validate:"required"`
	ItemID  string `json:"item_id" validate:"required"`
	Price   string `json:"price" validate:"required"`
	Deposit string `json:"deposit"`
}

// MarketCreateListing lists an item for sale through the caller's vault.
func MarketCreateListing(bus Submitter, dir Directory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := callerAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload listingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		price, err := parseAmount("price", payload.Price)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		deposit, err := parseOptionalAmount("deposit", payload.Deposit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		args := wire.ListArgs{
			ItemRef: wire.ItemRef{Source: strings.TrimSpace(payload.Source), ItemID: strings.TrimSpace(payload.ItemID)},
			Price:   price,
		}
		submitAccepted(w, r, logg, bus, account, dir.Root(), wire.MethodList, mustJSON(args), deposit)
	}
}

type withdrawalRequest struct {
	Source  string `json:"source" validate:"required"`
	ItemID  string `json:"item_id" validate:"required"`
	Deposit string `json:"deposit"`
}

// MarketCreateWithdrawal pulls an item off sale and returns it to the caller.
func MarketCreateWithdrawal(bus Submitter, dir Directory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := callerAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload withdrawalRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		deposit, err := parseOptionalAmount("deposit", payload.Deposit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		args := wire.ItemRef{Source: strings.TrimSpace(payload.Source), ItemID: strings.TrimSpace(payload.ItemID)}
		submitAccepted(w, r, logg, bus, account, dir.Root(), wire.MethodWithdraw, mustJSON(args), deposit)
	}
}

type purchaseRequest struct {
	Source  string `json:"source" validate:"required"`
	ItemID  string `json:"item_id" validate:"required"`
	Label   string `json:"label" validate:"required,min=2,max=32,vault_label"`
	Deposit string `json:"deposit" validate:"required"`
}

// MarketCreatePurchase escrows the deposit and starts the purchase chain
// against the vault named by label.
func MarketCreatePurchase(bus Submitter, dir Directory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := callerAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload purchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		deposit, err := parseAmount("deposit", payload.Deposit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		args := wire.MarketBuyArgs{
			ItemRef: wire.ItemRef{Source: strings.TrimSpace(payload.Source), ItemID: strings.TrimSpace(payload.ItemID)},
			Label:   strings.TrimSpace(payload.Label),
		}
		submitAccepted(w, r, logg, bus, account, dir.Root(), wire.MethodBuy, mustJSON(args), deposit)
	}
}

type destroyRequest struct {
	Deposit string `json:"deposit" validate:"required"`
}

// MarketDestroySubaccount tears down the caller's vault; the vault balance is
// swept back to the caller when the chain completes.
func MarketDestroySubaccount(bus Submitter, dir Directory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := callerAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload destroyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		deposit, err := parseAmount("deposit", payload.Deposit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		submitAccepted(w, r, logg, bus, account, dir.Root(), wire.MethodDestroy, nil, deposit)
	}
}

type subaccountResponse struct {
	Owner      string `json:"owner"`
	Label      string `json:"label"`
	Subaccount string `json:"subaccount"`
}

// MarketSubaccount returns the vault label registered for an account. Label
// is empty when the account never provisioned a vault.
func MarketSubaccount(dir Directory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(chi.URLParam(r, "account"))
		if owner == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "account is required"))
			return
		}

		label, err := dir.Subaccount(r.Context(), identity.AccountID(owner))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := subaccountResponse{Owner: owner, Label: label}
		if label != "" {
			resp.Subaccount = string(identity.Subaccount(dir.Root(), label))
		}
		responses.WriteSuccess(w, resp)
	}
}

type priceResponse struct {
	Source string `json:"source"`
	ItemID string `json:"item_id"`
	Price  string `json:"price"`
	Listed bool   `json:"listed"`
}

// MarketPrice reads the listed price of an item from a vault's price table.
// Unlisted items report a zero price.
func MarketPrice(listings ListingReader, dir Directory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		label, err := validators.RequireQuery(r, "label")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		source, err := validators.RequireQuery(r, "source")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.RequireQuery(r, "item_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		vaultAccount := identity.Subaccount(dir.Root(), label)
		listing, err := listings.GetListing(r.Context(), string(vaultAccount), wire.ItemKey(source, itemID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := priceResponse{Source: source, ItemID: itemID, Price: decimal.Zero.String()}
		if listing != nil {
			resp.Price = listing.Price.String()
			resp.Listed = true
		}
		responses.WriteSuccess(w, resp)
	}
}

// Package vault implements the per-seller sub-ledger: a price table, the
// current lister, and the purchase settlement hop against the item source.
// One Service instance runs per provisioned vault account, registered as a
// mesh node, so calls to a vault are serialized by construction.
package vault

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nftsale/market-backend/internal/mesh"
	"github.com/nftsale/market-backend/internal/wire"
	"github.com/nftsale/market-backend/pkg/db/models"
	pkgerrors "github.com/nftsale/market-backend/pkg/errors"
	"github.com/nftsale/market-backend/pkg/identity"
	"github.com/nftsale/market-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is one vault node. pending marks item keys with a sale awaiting its
// settlement callback; only the node's own worker touches it.
type Service struct {
	account identity.AccountID
	repo    Repository
	tx      txRunner
	log     *logger.Logger

	pending map[string]bool
}

// NewService wires a vault node for one account.
func NewService(account identity.AccountID, repo Repository, tx txRunner, log *logger.Logger) (*Service, error) {
	if account == "" {
		return nil, fmt.Errorf("vault account required")
	}
	if repo == nil {
		return nil, fmt.Errorf("vault repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		account: account,
		repo:    repo,
		tx:      tx,
		log:     log,
		pending: make(map[string]bool),
	}, nil
}

// Account returns the vault's mesh address.
func (s *Service) Account() identity.AccountID {
	return s.account
}

func (s *Service) HandleCall(ctx context.Context, env *mesh.Env, call mesh.Call) (any, error) {
	ctx = s.log.WithVaultID(ctx, string(s.account))
	switch call.Method {
	case wire.MethodSetPrice:
		return nil, s.setPrice(ctx, call)
	case wire.MethodGetPrice:
		return s.getPrice(ctx, call)
	case wire.MethodBuy:
		return nil, s.buy(ctx, env, call)
	case wire.MethodOnItemTransfer:
		return s.onItemTransfer(ctx, env, call)
	case wire.MethodWithdraw:
		return nil, s.withdraw(ctx, env, call)
	case wire.MethodUnlock:
		return nil, s.unlock(ctx, call)
	case wire.MethodDestroy:
		return nil, s.destroy(ctx, env, call)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("unknown method %q", call.Method))
	}
}

// requireRoot is the access gate on every externally callable operation: only
// the marketplace root of the caller's own network may speak to a vault.
func (s *Service) requireRoot(call mesh.Call) error {
	if call.From != identity.MarketRoot(call.From) {
		return pkgerrors.New(pkgerrors.CodeAccessDenied, "access denied")
	}
	return nil
}

func (s *Service) requireSelf(call mesh.Call) error {
	if call.From != s.account || !call.IsCallback() {
		return pkgerrors.New(pkgerrors.CodeAccessDenied, "access denied")
	}
	return nil
}

func (s *Service) setPrice(ctx context.Context, call mesh.Call) error {
	if err := s.requireRoot(call); err != nil {
		return err
	}
	var args wire.SetPriceArgs
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid set_price payload")
	}
	if args.Price.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpsertListing(ctx, &models.Listing{
			VaultAccount: string(s.account),
			ItemKey:      wire.ItemKey(args.Source, args.ItemID),
			Source:       args.Source,
			ItemID:       args.ItemID,
			Price:        args.Price,
		}); err != nil {
			return err
		}
		record, err := repo.GetVault(ctx, string(s.account))
		if err != nil {
			return err
		}
		if record == nil {
			record = &models.Vault{Account: string(s.account)}
			record.Lister = string(call.Signer)
			return repo.CreateVault(ctx, record)
		}
		record.Lister = string(call.Signer)
		return repo.SaveVault(ctx, record)
	})
}

func (s *Service) getPrice(ctx context.Context, call mesh.Call) (*wire.PriceValue, error) {
	var args wire.ItemRef
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid get_price payload")
	}
	listing, err := s.repo.GetListing(ctx, string(s.account), wire.ItemKey(args.Source, args.ItemID))
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return &wire.PriceValue{Price: decimal.Zero}, nil
	}
	return &wire.PriceValue{Price: listing.Price}, nil
}

// buy validates the listing and hands the item transfer to the source
// account. The money never arrives here; PayValue is the deposit the
// coordinator escrowed, reported so settlement can price the payout.
func (s *Service) buy(ctx context.Context, env *mesh.Env, call mesh.Call) error {
	if err := s.requireRoot(call); err != nil {
		return err
	}
	var args wire.VaultBuyArgs
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid buy payload")
	}
	key := wire.ItemKey(args.Source, args.ItemID)

	listing, err := s.repo.GetListing(ctx, string(s.account), key)
	if err != nil {
		return err
	}
	if listing == nil || !listing.Price.IsPositive() {
		return pkgerrors.New(pkgerrors.CodePrecondition, "item is not available for sale")
	}
	if args.PayValue.LessThan(listing.Price) {
		return pkgerrors.New(pkgerrors.CodePrecondition, "not enough deposit to buy the item")
	}
	if s.pending[key] {
		return pkgerrors.New(pkgerrors.CodeConflict, "a sale for this item is already in flight")
	}
	record, err := s.repo.GetVault(ctx, string(s.account))
	if err != nil {
		return err
	}
	if record == nil {
		return pkgerrors.New(pkgerrors.CodePrecondition, "vault has no lister on record")
	}

	s.pending[key] = true
	env.Call(mesh.Request{
		To:     identity.AccountID(args.Source),
		Method: wire.MethodTransferItem,
		Payload: mesh.Marshal(wire.TransferItemArgs{
			Receiver: call.Signer,
			ItemID:   args.ItemID,
		}),
	}, &mesh.Continuation{
		Method: wire.MethodOnItemTransfer,
		Payload: mesh.Marshal(wire.OnItemTransferArgs{
			SettlementID: uuid.New(),
			ItemKey:      key,
			Owner:        identity.AccountID(record.Lister),
			Price:        args.PayValue,
		}),
	})
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"item_key": key,
		"buyer":    string(call.Signer),
	}), "item transfer requested")
	return nil
}

// onItemTransfer observes the asset-transfer outcome: remove the listing on
// success, keep it for resale on failure, and in both cases report settlement
// to the coordinator. A delivery with no pending sale for the key is a
// duplicate and does nothing.
func (s *Service) onItemTransfer(ctx context.Context, env *mesh.Env, call mesh.Call) (bool, error) {
	if err := s.requireSelf(call); err != nil {
		return false, err
	}
	var args wire.OnItemTransferArgs
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid on_item_transfer payload")
	}
	if !s.pending[args.ItemKey] {
		s.log.Warn(s.log.WithField(ctx, "item_key", args.ItemKey), "duplicate settlement notification ignored")
		return false, nil
	}
	delete(s.pending, args.ItemKey)

	succeeded := call.Outcome.OK
	if succeeded {
		if err := s.repo.DeleteListing(ctx, string(s.account), args.ItemKey); err != nil {
			return false, err
		}
		s.log.Info(s.log.WithField(ctx, "item_key", args.ItemKey), "item transfer completed")
	} else {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{
			"item_key": args.ItemKey,
			"error":    call.Outcome.Error,
		}), "item transfer failed, listing retained")
	}

	env.Call(mesh.Request{
		To:     identity.MarketRoot(s.account),
		Method: wire.MethodOnTransfer,
		Payload: mesh.Marshal(wire.OnTransferArgs{
			SettlementID: args.SettlementID,
			Succeeded:    succeeded,
			Price:        args.Price,
			Owner:        args.Owner,
		}),
	}, nil)
	return succeeded, nil
}

// withdraw removes the listing and sends the item back to the signer with no
// completion callback; a failed return transfer is unrecoverable here.
func (s *Service) withdraw(ctx context.Context, env *mesh.Env, call mesh.Call) error {
	if err := s.requireRoot(call); err != nil {
		return err
	}
	var args wire.ItemRef
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid withdraw payload")
	}
	key := wire.ItemKey(args.Source, args.ItemID)
	if err := s.repo.DeleteListing(ctx, string(s.account), key); err != nil {
		return err
	}
	env.Call(mesh.Request{
		To:     identity.AccountID(args.Source),
		Method: wire.MethodTransferItem,
		Payload: mesh.Marshal(wire.TransferItemArgs{
			Receiver: call.Signer,
			ItemID:   args.ItemID,
		}),
	}, nil)
	s.log.Info(s.log.WithField(ctx, "item_key", key), "listing withdrawn")
	return nil
}

func (s *Service) unlock(ctx context.Context, call mesh.Call) error {
	if err := s.requireRoot(call); err != nil {
		return err
	}
	var args wire.VaultUnlockArgs
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid unlock payload")
	}
	if args.PublicKey == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "public key is required")
	}
	record, err := s.repo.GetVault(ctx, string(s.account))
	if err != nil {
		return err
	}
	if record == nil {
		record = &models.Vault{Account: string(s.account), AccessKey: args.PublicKey}
		return s.repo.CreateVault(ctx, record)
	}
	record.AccessKey = args.PublicKey
	if err := s.repo.SaveVault(ctx, record); err != nil {
		return err
	}
	s.log.Info(ctx, "full access key granted")
	return nil
}

// destroy purges this vault's rows and deletes the account, sweeping its
// balance to the beneficiary. No operation is valid afterwards.
func (s *Service) destroy(ctx context.Context, env *mesh.Env, call mesh.Call) error {
	if err := s.requireRoot(call); err != nil {
		return err
	}
	var args wire.VaultDestroyArgs
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid destroy payload")
	}
	if args.Beneficiary == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "beneficiary is required")
	}
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.DeleteListingsByVault(ctx, string(s.account)); err != nil {
			return err
		}
		return repo.DeleteVault(ctx, string(s.account))
	}); err != nil {
		return err
	}
	s.pending = make(map[string]bool)
	env.DeleteAccount(args.Beneficiary)
	s.log.Info(s.log.WithField(ctx, "beneficiary", string(args.Beneficiary)), "vault destroyed")
	return nil
}

// Package market implements the coordinator: the single shared node that
// provisions per-seller vaults, proxies listing and purchase traffic to them,
// and settles or refunds escrowed deposits when the chain reports back.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nftsale/market-backend/internal/ledger"
	"github.com/nftsale/market-backend/internal/mesh"
	"github.com/nftsale/market-backend/internal/wire"
	"github.com/nftsale/market-backend/pkg/db"
	"github.com/nftsale/market-backend/pkg/db/models"
	"github.com/nftsale/market-backend/pkg/enums"
	pkgerrors "github.com/nftsale/market-backend/pkg/errors"
	"github.com/nftsale/market-backend/pkg/identity"
	"github.com/nftsale/market-backend/pkg/logger"
	"github.com/nftsale/market-backend/pkg/metrics"
)

// Deposit policy, in the smallest currency unit. These are contract
// constants, not tunables.
var (
	MinProvisionDeposit = decimal.RequireFromString("200000000000000000000000")
	MinDestroyDeposit   = decimal.RequireFromString("100000000000000000000000")
	ProvisionStake      = decimal.RequireFromString("1600000000000000000000000")
)

var hundred = decimal.NewFromInt(100)

// SaleFee returns the coordinator's cut of a settled sale: value/100 rounded
// down, exactly one percent at integer precision.
func SaleFee(value decimal.Decimal) decimal.Decimal {
	fee, _ := value.QuoRem(hundred, 0)
	return fee
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the coordinator node.
type Service struct {
	root    identity.AccountID
	repo    Repository
	tx      txRunner
	ledger  ledger.Service
	metrics *metrics.SettlementMetrics
	log     *logger.Logger
}

// NewService wires the coordinator for the given root account.
func NewService(root identity.AccountID, repo Repository, tx txRunner, ledgerSvc ledger.Service, m *metrics.SettlementMetrics, log *logger.Logger) (*Service, error) {
	if root == "" {
		return nil, fmt.Errorf("market root account required")
	}
	if root != identity.MarketRoot(root) {
		return nil, fmt.Errorf("account %q is not a marketplace root", root)
	}
	if repo == nil {
		return nil, fmt.Errorf("ownership repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("settlement ledger required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		root:    root,
		repo:    repo,
		tx:      tx,
		ledger:  ledgerSvc,
		metrics: m,
		log:     log,
	}, nil
}

// Root returns the coordinator's mesh address.
func (s *Service) Root() identity.AccountID {
	return s.root
}

// Subaccount returns the label of the owner's vault, or "" when none is
// provisioned. Pure read for the HTTP surface.
func (s *Service) Subaccount(ctx context.Context, owner identity.AccountID) (string, error) {
	record, err := s.repo.Get(ctx, owner)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", nil
	}
	return record.Label, nil
}

func (s *Service) HandleCall(ctx context.Context, env *mesh.Env, call mesh.Call) (any, error) {
	ctx = s.log.WithCallID(ctx, call.ID.String())
	switch call.Method {
	case wire.MethodProvision:
		return s.provision(ctx, env, call)
	case wire.MethodOnProvisioned:
		return s.onProvisioned(ctx, call)
	case wire.MethodList:
		return nil, s.list(ctx, env, call)
	case wire.MethodWithdraw:
		return nil, s.withdraw(ctx, env, call)
	case wire.MethodBuy:
		return nil, s.buy(ctx, env, call)
	case wire.MethodOnPayment:
		return s.onPayment(ctx, env, call)
	case wire.MethodOnTransfer:
		return nil, s.onTransfer(ctx, env, call)
	case wire.MethodUnlock:
		return nil, s.unlock(ctx, env, call)
	case wire.MethodDestroy:
		return nil, s.destroy(ctx, env, call)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("unknown method %q", call.Method))
	}
}

func (s *Service) requireSelf(call mesh.Call) error {
	if call.From != s.root || !call.IsCallback() {
		return pkgerrors.New(pkgerrors.CodeAccessDenied, "access denied")
	}
	return nil
}

// provision starts vault creation for the caller. The stake moves out with
// the creation attempt and is never refunded; the ownership record is written
// only by the success callback.
func (s *Service) provision(ctx context.Context, env *mesh.Env, call mesh.Call) (*wire.ProvisionAck, error) {
	var args wire.ProvisionArgs
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provision payload")
	}
	if args.Label == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "label is required")
	}
	if call.Deposit.LessThan(MinProvisionDeposit) {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "not enough deposit to create a subaccount")
	}
	existing, err := s.repo.Get(ctx, call.From)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "you cannot create more than one market account")
	}

	subaccount := identity.Subaccount(s.root, args.Label)
	env.CreateAccount(subaccount, ProvisionStake, &mesh.Continuation{
		Method: wire.MethodOnProvisioned,
		Payload: mesh.Marshal(wire.OnProvisionedArgs{
			ProvisionID: call.ID,
			Label:       args.Label,
			Owner:       call.From,
			StartedAt:   call.IssuedAt.UnixNano(),
		}),
	})
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"owner":      string(call.From),
		"subaccount": string(subaccount),
	}), "vault creation requested")
	return &wire.ProvisionAck{Subaccount: subaccount}, nil
}

func (s *Service) onProvisioned(ctx context.Context, call mesh.Call) (bool, error) {
	if err := s.requireSelf(call); err != nil {
		return false, err
	}
	var args wire.OnProvisionedArgs
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid on_provisioned payload")
	}
	subaccount := identity.Subaccount(s.root, args.Label)
	ctx = s.log.WithAccountID(ctx, string(args.Owner))

	seen, err := s.seenAny(ctx, args.ProvisionID, enums.SettlementEventTypeProvisionSucceeded, enums.SettlementEventTypeProvisionFailed)
	if err != nil {
		return false, err
	}
	if seen {
		s.log.Warn(ctx, "duplicate provisioning notification ignored")
		return false, nil
	}

	succeeded := call.Outcome.OK
	if succeeded {
		existing, err := s.repo.Get(ctx, args.Owner)
		if err != nil {
			return false, err
		}
		if existing == nil {
			err := s.repo.Create(ctx, &models.OwnershipRecord{
				Owner: string(args.Owner),
				Label: args.Label,
			})
			if err != nil && !db.IsUniqueViolation(err, "") {
				return false, err
			}
		}
		s.log.Info(ctx, fmt.Sprintf("account @%s creation completed successfully", subaccount))
	} else {
		// The stake is already consumed by the failed attempt.
		s.log.Warn(s.log.WithField(ctx, "error", call.Outcome.Error), fmt.Sprintf("failed to create @%s", subaccount))
	}

	result := "failed"
	if succeeded {
		result = "succeeded"
	}
	s.metrics.IncProvision(result)
	s.metrics.ObserveChainDuration("provision", time.Since(time.Unix(0, args.StartedAt)))

	eventType := enums.SettlementEventTypeProvisionFailed
	if succeeded {
		eventType = enums.SettlementEventTypeProvisionSucceeded
	}
	if _, err := s.ledger.RecordEvent(ctx, ledger.RecordSettlementEventInput{
		CallID:       args.ProvisionID,
		VaultAccount: string(subaccount),
		Owner:        string(args.Owner),
		Requester:    string(args.Owner),
		Type:         eventType,
		Amount:       ProvisionStake,
	}); err != nil {
		return false, err
	}
	return succeeded, nil
}

// list proxies a set_price to the caller's vault. A caller with no ownership
// record is ignored rather than rejected.
func (s *Service) list(ctx context.Context, env *mesh.Env, call mesh.Call) error {
	var args wire.ListArgs
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid list payload")
	}
	if args.Price.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	record, err := s.repo.Get(ctx, call.From)
	if err != nil {
		return err
	}
	if record == nil {
		s.log.Warn(s.log.WithAccountID(ctx, string(call.From)), "no market account found, listing ignored")
		return nil
	}
	env.Call(mesh.Request{
		To:     identity.Subaccount(call.From, record.Label),
		Method: wire.MethodSetPrice,
		Payload: mesh.Marshal(wire.SetPriceArgs{
			ItemRef: args.ItemRef,
			Price:   args.Price,
		}),
	}, nil)
	return nil
}

func (s *Service) withdraw(ctx context.Context, env *mesh.Env, call mesh.Call) error {
	var args wire.ItemRef
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid withdraw payload")
	}
	record, err := s.repo.Get(ctx, call.From)
	if err != nil {
		return err
	}
	if record == nil {
		s.log.Warn(s.log.WithAccountID(ctx, string(call.From)), "no market account found, withdrawal ignored")
		return nil
	}
	env.Call(mesh.Request{
		To:      identity.Subaccount(call.From, record.Label),
		Method:  wire.MethodWithdraw,
		Payload: mesh.Marshal(args),
	}, nil)
	return nil
}

// buy escrows the full deposit here and forwards the purchase to the named
// vault. Anyone may buy from any vault; there is no ownership precondition.
func (s *Service) buy(ctx context.Context, env *mesh.Env, call mesh.Call) error {
	var args wire.MarketBuyArgs
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid buy payload")
	}
	if args.Label == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "label is required")
	}
	vaultAccount := identity.Subaccount(call.From, args.Label)
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"buyer":    string(call.From),
		"item_key": wire.ItemKey(args.Source, args.ItemID),
		"vault":    string(vaultAccount),
		"value":    call.Deposit.String(),
	}), "purchase requested")

	env.Call(mesh.Request{
		To:     vaultAccount,
		Method: wire.MethodBuy,
		Payload: mesh.Marshal(wire.VaultBuyArgs{
			ItemRef:  args.ItemRef,
			PayValue: call.Deposit,
		}),
	}, &mesh.Continuation{
		Method: wire.MethodOnPayment,
		Payload: mesh.Marshal(wire.OnPaymentArgs{
			PurchaseID:   call.ID,
			Account:      call.From,
			VaultAccount: vaultAccount,
			Price:        call.Deposit,
			StartedAt:    call.IssuedAt.UnixNano(),
		}),
	})
	return nil
}

// onPayment observes the vault's acceptance of the purchase. A failure means
// the vault never started the asset transfer, so the whole deposit goes back
// to the buyer; on success the money stays escrowed until on_transfer.
func (s *Service) onPayment(ctx context.Context, env *mesh.Env, call mesh.Call) (bool, error) {
	if err := s.requireSelf(call); err != nil {
		return false, err
	}
	var args wire.OnPaymentArgs
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid on_payment payload")
	}
	if call.Outcome.OK {
		return true, nil
	}

	seen, err := s.seenAny(ctx, args.PurchaseID, enums.SettlementEventTypeSaleRefunded)
	if err != nil {
		return false, err
	}
	if seen {
		s.log.Warn(ctx, "duplicate payment notification ignored")
		return false, nil
	}

	s.log.Warn(s.log.WithField(ctx, "error", call.Outcome.Error),
		fmt.Sprintf("failed to buy item, deposit redirected to @%s", args.Account))
	env.Transfer(args.Account, args.Price)
	s.metrics.IncRefunded()
	if _, err := s.ledger.RecordEvent(ctx, ledger.RecordSettlementEventInput{
		CallID:       args.PurchaseID,
		VaultAccount: string(args.VaultAccount),
		Owner:        "",
		Requester:    string(args.Account),
		Type:         enums.SettlementEventTypeSaleRefunded,
		Amount:       args.Price,
	}); err != nil {
		return false, err
	}
	return false, nil
}

// onTransfer is the settlement report from a vault. The caller is authorized
// by recomputing the derivation for the claimed owner's record; a missing
// record is logged and ignored without moving money.
func (s *Service) onTransfer(ctx context.Context, env *mesh.Env, call mesh.Call) error {
	var args wire.OnTransferArgs
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid on_transfer payload")
	}
	record, err := s.repo.Get(ctx, args.Owner)
	if err != nil {
		return err
	}
	if record == nil {
		s.log.Warn(s.log.WithAccountID(ctx, string(args.Owner)), "access denied")
		return nil
	}
	if call.From != identity.Subaccount(call.From, record.Label) {
		return pkgerrors.New(pkgerrors.CodeAccessDenied, "access denied")
	}

	seen, err := s.seenAny(ctx, args.SettlementID, enums.SettlementEventTypeSaleSettled, enums.SettlementEventTypeSaleRefunded)
	if err != nil {
		return err
	}
	if seen {
		s.log.Warn(ctx, "duplicate settlement report ignored")
		return nil
	}

	if args.Succeeded {
		fee := SaleFee(args.Price)
		payout := args.Price.Sub(fee)
		env.Transfer(args.Owner, payout)
		s.log.Info(ctx, fmt.Sprintf("item transferred to @%s", call.Signer))
		s.metrics.IncSettled()
		s.metrics.AddFees(feeUnits(fee))
		_, err = s.ledger.RecordEvent(ctx, ledger.RecordSettlementEventInput{
			CallID:       args.SettlementID,
			VaultAccount: string(call.From),
			Owner:        string(args.Owner),
			Requester:    string(call.Signer),
			Type:         enums.SettlementEventTypeSaleSettled,
			Amount:       payout,
		})
		return err
	}

	env.Transfer(call.Signer, args.Price)
	s.log.Warn(ctx, fmt.Sprintf("failed to buy item, deposit redirected to @%s", call.Signer))
	s.metrics.IncRefunded()
	_, err = s.ledger.RecordEvent(ctx, ledger.RecordSettlementEventInput{
		CallID:       args.SettlementID,
		VaultAccount: string(call.From),
		Owner:        string(args.Owner),
		Requester:    string(call.Signer),
		Type:         enums.SettlementEventTypeSaleRefunded,
		Amount:       args.Price,
	})
	return err
}

// unlock forwards a full-access credential to a vault. Operator-only: the
// call must originate from the coordinator account itself.
func (s *Service) unlock(ctx context.Context, env *mesh.Env, call mesh.Call) error {
	if call.From != s.root {
		return pkgerrors.New(pkgerrors.CodeAccessDenied, "access denied")
	}
	var args wire.MarketUnlockArgs
	if err := mesh.Decode(call.Payload, &args); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid unlock payload")
	}
	if args.SubAccount == "" || args.PublicKey == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sub account and public key are required")
	}
	env.Call(mesh.Request{
		To:      args.SubAccount,
		Method:  wire.MethodUnlock,
		Payload: mesh.Marshal(wire.VaultUnlockArgs{PublicKey: args.PublicKey}),
	}, nil)
	return nil
}

// destroy tears down the caller's vault. The ownership record is removed
// before the destructive request goes out, so a crashed destroy still leaves
// the owner without a record.
func (s *Service) destroy(ctx context.Context, env *mesh.Env, call mesh.Call) error {
	if call.Deposit.LessThan(MinDestroyDeposit) {
		return pkgerrors.New(pkgerrors.CodePrecondition, "not enough deposit to destroy a subaccount")
	}
	record, err := s.repo.Get(ctx, call.From)
	if err != nil {
		return err
	}
	if record == nil {
		return pkgerrors.New(pkgerrors.CodePrecondition, "no market account found")
	}
	subaccount := identity.Subaccount(call.From, record.Label)
	if err := s.repo.Delete(ctx, call.From); err != nil {
		return err
	}
	env.Call(mesh.Request{
		To:      subaccount,
		Method:  wire.MethodDestroy,
		Payload: mesh.Marshal(wire.VaultDestroyArgs{Beneficiary: call.From}),
	}, nil)
	if _, err := s.ledger.RecordEvent(ctx, ledger.RecordSettlementEventInput{
		CallID:       call.ID,
		VaultAccount: string(subaccount),
		Owner:        string(call.From),
		Requester:    string(call.From),
		Type:         enums.SettlementEventTypeVaultDestroyed,
		Amount:       decimal.Zero,
	}); err != nil {
		return err
	}
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"owner":      string(call.From),
		"subaccount": string(subaccount),
	}), "vault destruction requested")
	return nil
}

func (s *Service) seenAny(ctx context.Context, callID uuid.UUID, types ...enums.SettlementEventType) (bool, error) {
	for _, eventType := range types {
		seen, err := s.ledger.HasEvent(ctx, callID, eventType)
		if err != nil {
			return false, err
		}
		if seen {
			return true, nil
		}
	}
	return false, nil
}

// feeUnits scales a fee to whole currency units for the gauge; precision loss
// is acceptable for a metric.
func feeUnits(fee decimal.Decimal) float64 {
	units, _ := fee.Float64()
	return units
}

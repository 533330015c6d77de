package market

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nftsale/market-backend/internal/ledger"
	"github.com/nftsale/market-backend/internal/mesh"
	"github.com/nftsale/market-backend/internal/wire"
	"github.com/nftsale/market-backend/pkg/db/models"
	"github.com/nftsale/market-backend/pkg/enums"
	pkgerrors "github.com/nftsale/market-backend/pkg/errors"
	"github.com/nftsale/market-backend/pkg/identity"
	"github.com/nftsale/market-backend/pkg/logger"
	"github.com/nftsale/market-backend/pkg/metrics"
)

const (
	testRoot  = identity.AccountID("nftsale.near")
	testOwner = identity.AccountID("alice.near")
	testBuyer = identity.AccountID("bob.near")
)

type fakeRepository struct {
	records map[string]*models.OwnershipRecord
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{records: make(map[string]*models.OwnershipRecord)}
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) Get(_ context.Context, owner identity.AccountID) (*models.OwnershipRecord, error) {
	record, ok := f.records[string(owner)]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (f *fakeRepository) Create(_ context.Context, record *models.OwnershipRecord) error {
	copied := *record
	f.records[record.Owner] = &copied
	return nil
}

func (f *fakeRepository) Delete(_ context.Context, owner identity.AccountID) error {
	delete(f.records, string(owner))
	return nil
}

type fakeLedger struct {
	events []ledger.RecordSettlementEventInput
}

func (f *fakeLedger) RecordEvent(_ context.Context, input ledger.RecordSettlementEventInput) (*models.SettlementEvent, error) {
	f.events = append(f.events, input)
	return &models.SettlementEvent{}, nil
}

func (f *fakeLedger) HasEvent(_ context.Context, callID uuid.UUID, eventType enums.SettlementEventType) (bool, error) {
	for _, event := range f.events {
		if event.CallID == callID && event.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) ListByVault(_ context.Context, vaultAccount string) ([]models.SettlementEvent, error) {
	return nil, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newTestService(t *testing.T) (*Service, *fakeRepository, *fakeLedger) {
	t.Helper()
	repo := newFakeRepository()
	audit := &fakeLedger{}
	log := logger.New(logger.Options{ServiceName: "market-test", Level: zerolog.Disabled})
	svc, err := NewService(testRoot, repo, passthroughTx{}, audit, metrics.NewSettlementMetrics(prometheus.NewRegistry()), log)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return svc, repo, audit
}

func entryCall(method string, from identity.AccountID, payload any, deposit decimal.Decimal) mesh.Call {
	return mesh.Call{
		ID:      uuid.New(),
		To:      testRoot,
		From:    from,
		Signer:  from,
		Method:  method,
		Payload: mesh.Marshal(payload),
		Deposit: deposit,
	}
}

func callbackCall(method string, payload any, outcome mesh.Outcome, signer identity.AccountID) mesh.Call {
	call := entryCall(method, testRoot, payload, decimal.Zero)
	call.Signer = signer
	call.Outcome = &outcome
	return call
}

func TestSaleFee(t *testing.T) {
	tests := []struct {
		value string
		fee   string
	}{
		{"100", "1"},
		{"101", "1"},
		{"199", "1"},
		{"99", "0"},
		{"1013000000000000000000001", "10130000000000000000000"},
	}
	for _, tc := range tests {
		fee := SaleFee(decimal.RequireFromString(tc.value))
		if !fee.Equal(decimal.RequireFromString(tc.fee)) {
			t.Fatalf("SaleFee(%s) = %s, want %s", tc.value, fee, tc.fee)
		}
	}
}

func TestService_ProvisionPreconditions(t *testing.T) {
	svc, repo, _ := newTestService(t)

	// Insufficient deposit.
	env := mesh.NewEnv(testRoot)
	_, err := svc.HandleCall(context.Background(), env,
		entryCall(wire.MethodProvision, testOwner, wire.ProvisionArgs{Label: "shop"}, MinProvisionDeposit.Sub(decimal.NewFromInt(1))))
	if !pkgerrors.IsCode(err, pkgerrors.CodePrecondition) {
		t.Fatalf("error = %v, want precondition", err)
	}
	if len(env.Creates()) != 0 {
		t.Fatal("failed provision must not create accounts")
	}

	// Existing ownership record.
	repo.records[string(testOwner)] = &models.OwnershipRecord{Owner: string(testOwner), Label: "old"}
	_, err = svc.HandleCall(context.Background(), mesh.NewEnv(testRoot),
		entryCall(wire.MethodProvision, testOwner, wire.ProvisionArgs{Label: "shop"}, MinProvisionDeposit))
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("error = %v, want conflict", err)
	}
}

func TestService_ProvisionStartsCreation(t *testing.T) {
	svc, _, _ := newTestService(t)

	env := mesh.NewEnv(testRoot)
	result, err := svc.HandleCall(context.Background(), env,
		entryCall(wire.MethodProvision, testOwner, wire.ProvisionArgs{Label: "shop"}, MinProvisionDeposit))
	if err != nil {
		t.Fatalf("provision error: %v", err)
	}

	creates := env.Creates()
	if len(creates) != 1 {
		t.Fatalf("expected one account creation, got %d", len(creates))
	}
	if creates[0].Account != "shop.nftsale.near" {
		t.Fatalf("subaccount = %s, want shop.nftsale.near", creates[0].Account)
	}
	if !creates[0].Stake.Equal(ProvisionStake) {
		t.Fatalf("stake = %s, want %s", creates[0].Stake, ProvisionStake)
	}
	if creates[0].Then == nil || creates[0].Then.Method != wire.MethodOnProvisioned {
		t.Fatalf("missing provisioning continuation: %+v", creates[0].Then)
	}
	ack, ok := result.(*wire.ProvisionAck)
	if !ok || ack.Subaccount != "shop.nftsale.near" {
		t.Fatalf("unexpected ack: %+v", result)
	}
}

func TestService_OnProvisioned(t *testing.T) {
	svc, repo, audit := newTestService(t)
	args := wire.OnProvisionedArgs{ProvisionID: uuid.New(), Label: "shop", Owner: testOwner}

	result, err := svc.HandleCall(context.Background(), mesh.NewEnv(testRoot),
		callbackCall(wire.MethodOnProvisioned, args, mesh.Outcome{OK: true}, testOwner))
	if err != nil {
		t.Fatalf("on_provisioned error: %v", err)
	}
	if result != true {
		t.Fatalf("result = %v, want true", result)
	}
	record := repo.records[string(testOwner)]
	if record == nil || record.Label != "shop" {
		t.Fatalf("ownership record not written: %+v", record)
	}
	if len(audit.events) != 1 || audit.events[0].Type != enums.SettlementEventTypeProvisionSucceeded {
		t.Fatalf("unexpected audit trail: %+v", audit.events)
	}

	// Duplicate delivery is a no-op.
	result, err = svc.HandleCall(context.Background(), mesh.NewEnv(testRoot),
		callbackCall(wire.MethodOnProvisioned, args, mesh.Outcome{OK: true}, testOwner))
	if err != nil {
		t.Fatalf("duplicate on_provisioned error: %v", err)
	}
	if result != false {
		t.Fatalf("duplicate result = %v, want false", result)
	}
	if len(audit.events) != 1 {
		t.Fatalf("duplicate delivery recorded again: %+v", audit.events)
	}
}

func TestService_OnProvisionedFailureWritesNoRecord(t *testing.T) {
	svc, repo, audit := newTestService(t)
	args := wire.OnProvisionedArgs{ProvisionID: uuid.New(), Label: "shop", Owner: testOwner}

	result, err := svc.HandleCall(context.Background(), mesh.NewEnv(testRoot),
		callbackCall(wire.MethodOnProvisioned, args, mesh.Outcome{OK: false, Error: "boot failed"}, testOwner))
	if err != nil {
		t.Fatalf("on_provisioned error: %v", err)
	}
	if result != false {
		t.Fatalf("result = %v, want false", result)
	}
	if len(repo.records) != 0 {
		t.Fatal("failed provisioning must not write a record")
	}
	if len(audit.events) != 1 || audit.events[0].Type != enums.SettlementEventTypeProvisionFailed {
		t.Fatalf("unexpected audit trail: %+v", audit.events)
	}
}

func TestService_CallbacksRejectExternalCallers(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, method := range []string{wire.MethodOnProvisioned, wire.MethodOnPayment} {
		call := entryCall(method, "mallory.near", map[string]string{}, decimal.Zero)
		outcome := mesh.Outcome{OK: true}
		call.Outcome = &outcome
		_, err := svc.HandleCall(context.Background(), mesh.NewEnv(testRoot), call)
		if !pkgerrors.IsCode(err, pkgerrors.CodeAccessDenied) {
			t.Fatalf("%s: error = %v, want access denied", method, err)
		}
	}
}

func TestService_ListProxiesToVault(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.records[string(testOwner)] = &models.OwnershipRecord{Owner: string(testOwner), Label: "shop"}

	env := mesh.NewEnv(testRoot)
	_, err := svc.HandleCall(context.Background(), env, entryCall(wire.MethodList, testOwner, wire.ListArgs{
		ItemRef: wire.ItemRef{Source: "punks.near", ItemID: "42"},
		Price:   decimal.RequireFromString("1000"),
	}, decimal.Zero))
	if err != nil {
		t.Fatalf("list error: %v", err)
	}

	issued := env.Issued()
	if len(issued) != 1 {
		t.Fatalf("expected one forwarded request, got %d", len(issued))
	}
	if issued[0].Request.To != "shop.nftsale.near" || issued[0].Request.Method != wire.MethodSetPrice {
		t.Fatalf("unexpected request: %+v", issued[0].Request)
	}
}

func TestService_ListWithoutRecordIsSilentNoOp(t *testing.T) {
	svc, _, _ := newTestService(t)
	env := mesh.NewEnv(testRoot)
	_, err := svc.HandleCall(context.Background(), env, entryCall(wire.MethodList, testOwner, wire.ListArgs{
		ItemRef: wire.ItemRef{Source: "punks.near", ItemID: "42"},
		Price:   decimal.RequireFromString("1000"),
	}, decimal.Zero))
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(env.Issued()) != 0 {
		t.Fatal("listing without a record must forward nothing")
	}
}

func TestService_BuyForwardsFullDeposit(t *testing.T) {
	svc, _, _ := newTestService(t)
	deposit := decimal.RequireFromString("500000")

	env := mesh.NewEnv(testRoot)
	call := entryCall(wire.MethodBuy, testBuyer, wire.MarketBuyArgs{
		ItemRef: wire.ItemRef{Source: "punks.near", ItemID: "42"},
		Label:   "shop",
	}, deposit)
	if _, err := svc.HandleCall(context.Background(), env, call); err != nil {
		t.Fatalf("buy error: %v", err)
	}

	issued := env.Issued()
	if len(issued) != 1 {
		t.Fatalf("expected one forwarded buy, got %d", len(issued))
	}
	if issued[0].Request.To != "shop.nftsale.near" {
		t.Fatalf("vault = %s, want shop.nftsale.near", issued[0].Request.To)
	}
	var fwd wire.VaultBuyArgs
	if err := mesh.Decode(issued[0].Request.Payload, &fwd); err != nil {
		t.Fatalf("decode forwarded buy: %v", err)
	}
	if !fwd.PayValue.Equal(deposit) {
		t.Fatalf("forwarded pay value = %s, want the full deposit", fwd.PayValue)
	}
	if issued[0].Then == nil || issued[0].Then.Method != wire.MethodOnPayment {
		t.Fatalf("missing payment continuation: %+v", issued[0].Then)
	}
	var payment wire.OnPaymentArgs
	if err := mesh.Decode(issued[0].Then.Payload, &payment); err != nil {
		t.Fatalf("decode payment args: %v", err)
	}
	if payment.Account != testBuyer || !payment.Price.Equal(deposit) || payment.PurchaseID != call.ID {
		t.Fatalf("unexpected payment args: %+v", payment)
	}
}

func TestService_OnPaymentRefundsOnFailureOnce(t *testing.T) {
	svc, _, audit := newTestService(t)
	args := wire.OnPaymentArgs{
		PurchaseID:   uuid.New(),
		Account:      testBuyer,
		VaultAccount: "shop.nftsale.near",
		Price:        decimal.RequireFromString("500000"),
	}

	env := mesh.NewEnv(testRoot)
	result, err := svc.HandleCall(context.Background(), env,
		callbackCall(wire.MethodOnPayment, args, mesh.Outcome{OK: false, Error: "item is not available for sale"}, testBuyer))
	if err != nil {
		t.Fatalf("on_payment error: %v", err)
	}
	if result != false {
		t.Fatalf("result = %v, want false", result)
	}
	transfers := env.Transfers()
	if len(transfers) != 1 || transfers[0].To != testBuyer || !transfers[0].Amount.Equal(args.Price) {
		t.Fatalf("expected full refund to buyer, got %+v", transfers)
	}
	if len(audit.events) != 1 || audit.events[0].Type != enums.SettlementEventTypeSaleRefunded {
		t.Fatalf("unexpected audit trail: %+v", audit.events)
	}

	// Duplicate failure notification must not refund twice.
	env2 := mesh.NewEnv(testRoot)
	if _, err := svc.HandleCall(context.Background(), env2,
		callbackCall(wire.MethodOnPayment, args, mesh.Outcome{OK: false, Error: "item is not available for sale"}, testBuyer)); err != nil {
		t.Fatalf("duplicate on_payment error: %v", err)
	}
	if len(env2.Transfers()) != 0 {
		t.Fatal("duplicate delivery refunded again")
	}
}

func TestService_OnPaymentSuccessMovesNoMoney(t *testing.T) {
	svc, _, audit := newTestService(t)
	env := mesh.NewEnv(testRoot)
	result, err := svc.HandleCall(context.Background(), env,
		callbackCall(wire.MethodOnPayment, wire.OnPaymentArgs{
			PurchaseID: uuid.New(),
			Account:    testBuyer,
			Price:      decimal.RequireFromString("500000"),
		}, mesh.Outcome{OK: true}, testBuyer))
	if err != nil {
		t.Fatalf("on_payment error: %v", err)
	}
	if result != true {
		t.Fatalf("result = %v, want true", result)
	}
	if len(env.Transfers()) != 0 {
		t.Fatal("successful acceptance must not move money yet")
	}
	if len(audit.events) != 0 {
		t.Fatalf("unexpected audit trail: %+v", audit.events)
	}
}

func onTransferCall(from identity.AccountID, signer identity.AccountID, args wire.OnTransferArgs) mesh.Call {
	return mesh.Call{
		ID:      uuid.New(),
		To:      testRoot,
		From:    from,
		Signer:  signer,
		Method:  wire.MethodOnTransfer,
		Payload: mesh.Marshal(args),
		Deposit: decimal.Zero,
	}
}

func TestService_OnTransferSettlesWithFee(t *testing.T) {
	svc, repo, audit := newTestService(t)
	repo.records[string(testOwner)] = &models.OwnershipRecord{Owner: string(testOwner), Label: "shop"}

	price := decimal.RequireFromString("1013000000000000000000001")
	args := wire.OnTransferArgs{SettlementID: uuid.New(), Succeeded: true, Price: price, Owner: testOwner}

	env := mesh.NewEnv(testRoot)
	if _, err := svc.HandleCall(context.Background(), env, onTransferCall("shop.nftsale.near", testBuyer, args)); err != nil {
		t.Fatalf("on_transfer error: %v", err)
	}

	wantPayout := decimal.RequireFromString("1002870000000000000000001")
	transfers := env.Transfers()
	if len(transfers) != 1 || transfers[0].To != testOwner || !transfers[0].Amount.Equal(wantPayout) {
		t.Fatalf("payout = %+v, want %s to %s", transfers, wantPayout, testOwner)
	}
	if len(audit.events) != 1 || audit.events[0].Type != enums.SettlementEventTypeSaleSettled {
		t.Fatalf("unexpected audit trail: %+v", audit.events)
	}

	// Duplicate settlement report must not pay twice.
	env2 := mesh.NewEnv(testRoot)
	if _, err := svc.HandleCall(context.Background(), env2, onTransferCall("shop.nftsale.near", testBuyer, args)); err != nil {
		t.Fatalf("duplicate on_transfer error: %v", err)
	}
	if len(env2.Transfers()) != 0 {
		t.Fatal("duplicate settlement paid again")
	}
}

func TestService_OnTransferRefundsSignerOnFailure(t *testing.T) {
	svc, repo, audit := newTestService(t)
	repo.records[string(testOwner)] = &models.OwnershipRecord{Owner: string(testOwner), Label: "shop"}

	price := decimal.RequireFromString("500000")
	env := mesh.NewEnv(testRoot)
	if _, err := svc.HandleCall(context.Background(), env, onTransferCall("shop.nftsale.near", testBuyer, wire.OnTransferArgs{
		SettlementID: uuid.New(),
		Succeeded:    false,
		Price:        price,
		Owner:        testOwner,
	})); err != nil {
		t.Fatalf("on_transfer error: %v", err)
	}

	transfers := env.Transfers()
	if len(transfers) != 1 || transfers[0].To != testBuyer || !transfers[0].Amount.Equal(price) {
		t.Fatalf("expected full refund to the original requester, got %+v", transfers)
	}
	if len(audit.events) != 1 || audit.events[0].Type != enums.SettlementEventTypeSaleRefunded {
		t.Fatalf("unexpected audit trail: %+v", audit.events)
	}
}

func TestService_OnTransferAuthorization(t *testing.T) {
	svc, repo, _ := newTestService(t)

	args := wire.OnTransferArgs{SettlementID: uuid.New(), Succeeded: true, Price: decimal.RequireFromString("100"), Owner: testOwner}

	// Missing ownership record: logged, no money moves, no error.
	env := mesh.NewEnv(testRoot)
	if _, err := svc.HandleCall(context.Background(), env, onTransferCall("shop.nftsale.near", testBuyer, args)); err != nil {
		t.Fatalf("on_transfer without record: %v", err)
	}
	if len(env.Transfers()) != 0 {
		t.Fatal("no record must mean no financial action")
	}

	// Caller is not the owner's derived vault.
	repo.records[string(testOwner)] = &models.OwnershipRecord{Owner: string(testOwner), Label: "shop"}
	_, err := svc.HandleCall(context.Background(), mesh.NewEnv(testRoot), onTransferCall("other.nftsale.near", testBuyer, args))
	if !pkgerrors.IsCode(err, pkgerrors.CodeAccessDenied) {
		t.Fatalf("error = %v, want access denied", err)
	}
}

func TestService_DestroyRemovesRecordBeforeIssuing(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.records[string(testOwner)] = &models.OwnershipRecord{Owner: string(testOwner), Label: "shop"}

	// Deposit below the destruction minimum.
	_, err := svc.HandleCall(context.Background(), mesh.NewEnv(testRoot),
		entryCall(wire.MethodDestroy, testOwner, map[string]string{}, MinDestroyDeposit.Sub(decimal.NewFromInt(1))))
	if !pkgerrors.IsCode(err, pkgerrors.CodePrecondition) {
		t.Fatalf("error = %v, want precondition", err)
	}

	env := mesh.NewEnv(testRoot)
	if _, err := svc.HandleCall(context.Background(), env,
		entryCall(wire.MethodDestroy, testOwner, map[string]string{}, MinDestroyDeposit)); err != nil {
		t.Fatalf("destroy error: %v", err)
	}
	if _, ok := repo.records[string(testOwner)]; ok {
		t.Fatal("ownership record must be removed before the destructive request")
	}
	issued := env.Issued()
	if len(issued) != 1 || issued[0].Request.Method != wire.MethodDestroy || issued[0].Request.To != "shop.nftsale.near" {
		t.Fatalf("unexpected destructive request: %+v", issued)
	}
	var fwd wire.VaultDestroyArgs
	if err := mesh.Decode(issued[0].Request.Payload, &fwd); err != nil {
		t.Fatalf("decode destroy args: %v", err)
	}
	if fwd.Beneficiary != testOwner {
		t.Fatalf("beneficiary = %s, want the owner", fwd.Beneficiary)
	}

	// No record at all.
	_, err = svc.HandleCall(context.Background(), mesh.NewEnv(testRoot),
		entryCall(wire.MethodDestroy, "stranger.near", map[string]string{}, MinDestroyDeposit))
	if !pkgerrors.IsCode(err, pkgerrors.CodePrecondition) {
		t.Fatalf("error = %v, want precondition", err)
	}
}

func TestService_UnlockIsOperatorOnly(t *testing.T) {
	svc, _, _ := newTestService(t)

	args := wire.MarketUnlockArgs{SubAccount: "shop.nftsale.near", PublicKey: "ed25519:abcdef"}
	_, err := svc.HandleCall(context.Background(), mesh.NewEnv(testRoot),
		entryCall(wire.MethodUnlock, testOwner, args, decimal.Zero))
	if !pkgerrors.IsCode(err, pkgerrors.CodeAccessDenied) {
		t.Fatalf("error = %v, want access denied", err)
	}

	env := mesh.NewEnv(testRoot)
	if _, err := svc.HandleCall(context.Background(), env,
		entryCall(wire.MethodUnlock, testRoot, args, decimal.Zero)); err != nil {
		t.Fatalf("unlock error: %v", err)
	}
	issued := env.Issued()
	if len(issued) != 1 || issued[0].Request.To != "shop.nftsale.near" || issued[0].Request.Method != wire.MethodUnlock {
		t.Fatalf("unexpected forwarded unlock: %+v", issued)
	}
}

func TestService_Subaccount(t *testing.T) {
	svc, repo, _ := newTestService(t)
	label, err := svc.Subaccount(context.Background(), testOwner)
	if err != nil || label != "" {
		t.Fatalf("Subaccount = %q, %v; want empty", label, err)
	}
	repo.records[string(testOwner)] = &models.OwnershipRecord{Owner: string(testOwner), Label: "shop"}
	label, err = svc.Subaccount(context.Background(), testOwner)
	if err != nil || label != "shop" {
		t.Fatalf("Subaccount = %q, %v; want shop", label, err)
	}
}

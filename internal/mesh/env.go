package mesh

import (
	"github.com/shopspring/decimal"

	"github.com/nftsale/market-backend/pkg/identity"
)

// Env is handed to a handler for the duration of one call. Requests, transfers
// and account operations issued through it are buffered and applied by the bus
// only after the handler returns without error; an erroring handler therefore
// leaves no outbound effects behind.
type Env struct {
	self identity.AccountID

	sends     []IssuedRequest
	transfers []IssuedTransfer
	creates   []IssuedCreate
	deleted   *identity.AccountID
}

// IssuedRequest pairs a buffered request with its continuation.
type IssuedRequest struct {
	Request Request
	Then    *Continuation
}

// IssuedTransfer is a buffered balance transfer from self.
type IssuedTransfer struct {
	To     identity.AccountID
	Amount decimal.Decimal
}

// IssuedCreate is a buffered account creation funded from self.
type IssuedCreate struct {
	Account identity.AccountID
	Stake   decimal.Decimal
	Then    *Continuation
}

// NewEnv returns an environment for a call addressed to self. The bus builds
// one per dispatch; tests build them directly.
func NewEnv(self identity.AccountID) *Env {
	return &Env{self: self}
}

// Self returns the account the current call is addressed to.
func (e *Env) Self() identity.AccountID {
	return e.self
}

// Call schedules an asynchronous request. When then is non-nil the named
// self-method is invoked with the request's outcome once it resolves.
func (e *Env) Call(req Request, then *Continuation) {
	e.sends = append(e.sends, IssuedRequest{Request: req, Then: then})
}

// Transfer schedules a balance transfer from self to another account. The
// transfer itself is fire-and-forget: a failure is logged by the bus and not
// reported back to the handler.
func (e *Env) Transfer(to identity.AccountID, amount decimal.Decimal) {
	e.transfers = append(e.transfers, IssuedTransfer{To: to, Amount: amount})
}

// CreateAccount schedules creation of a new account carrying an initial stake
// moved from self. The stake funds the new account and is not returned when
// creation fails.
func (e *Env) CreateAccount(account identity.AccountID, stake decimal.Decimal, then *Continuation) {
	e.creates = append(e.creates, IssuedCreate{Account: account, Stake: stake, Then: then})
}

// DeleteAccount schedules deletion of self once the current call completes.
// The account's remaining balance is swept to the beneficiary.
func (e *Env) DeleteAccount(beneficiary identity.AccountID) {
	e.deleted = &beneficiary
}

// Issued returns the buffered requests, in issue order.
func (e *Env) Issued() []IssuedRequest {
	return e.sends
}

// Transfers returns the buffered balance transfers, in issue order.
func (e *Env) Transfers() []IssuedTransfer {
	return e.transfers
}

// Creates returns the buffered account creations, in issue order.
func (e *Env) Creates() []IssuedCreate {
	return e.creates
}

// Deleted reports whether the handler scheduled self-deletion and for whom.
func (e *Env) Deleted() (identity.AccountID, bool) {
	if e.deleted == nil {
		return "", false
	}
	return *e.deleted, true
}

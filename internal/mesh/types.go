// Package mesh is the in-process asynchronous message bus the marketplace
// components run on. Every component owns an inbox and processes one call at a
// time to completion; cross-component communication is fire-and-forget with an
// optional completion callback delivered to the issuer after the callee's
// handler resolves to exactly one outcome. There is no synchronous wait
// anywhere: a handler issues requests, returns, and observes results only in
// its own callbacks.
package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nftsale/market-backend/pkg/identity"
)

// Outcome is the single result an asynchronous request resolves to. Downstream
// failures are only ever observable through it, inside the issuer's callback.
type Outcome struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Call is one message delivered to a node's inbox.
type Call struct {
	ID      uuid.UUID
	To      identity.AccountID
	From    identity.AccountID // immediate caller (predecessor)
	Signer  identity.AccountID // originator of the whole chain
	Method  string
	Payload json.RawMessage
	Deposit decimal.Decimal

	// Outcome is set only on continuation deliveries and carries the result
	// of the request that scheduled the continuation.
	Outcome *Outcome

	IssuedAt time.Time

	// continuation routes the call's outcome back to its issuer; only the
	// bus sets it.
	continuation *routedContinuation
}

// IsCallback reports whether the call is a continuation delivery.
func (c Call) IsCallback() bool {
	return c.Outcome != nil
}

// Request describes an asynchronous downstream call issued from a handler.
type Request struct {
	To      identity.AccountID
	Method  string
	Payload json.RawMessage
	Deposit decimal.Decimal
}

// Continuation names the self-method invoked when the paired request resolves.
type Continuation struct {
	Method  string
	Payload json.RawMessage
}

// Handler processes the calls addressed to one account.
type Handler interface {
	HandleCall(ctx context.Context, env *Env, call Call) (any, error)
}

// Spawner instantiates the component for a freshly created account. The
// mechanism behind real account creation is outside the bus; this is its seam.
type Spawner interface {
	Spawn(ctx context.Context, account identity.AccountID) (Handler, error)
}

// Treasury moves escrowed funds between accounts. Implemented by the treasury
// service; the bus is its only caller for deposit plumbing.
type Treasury interface {
	Move(ctx context.Context, from, to identity.AccountID, amount decimal.Decimal) error
	Credit(ctx context.Context, account identity.AccountID, amount decimal.Decimal) error
	Balance(ctx context.Context, account identity.AccountID) (decimal.Decimal, error)
}

// Marshal encodes a payload for a call; panics only on unmarshalable inputs,
// which would be a programming error.
func Marshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("mesh: marshal payload: %v", err))
	}
	return raw
}

// Decode unmarshals a call payload into dest.
func Decode(payload json.RawMessage, dest any) error {
	if len(payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(payload, dest)
}

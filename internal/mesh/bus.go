package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/nftsale/market-backend/pkg/errors"
	"github.com/nftsale/market-backend/pkg/identity"
	"github.com/nftsale/market-backend/pkg/logger"
)

// Bus routes calls between registered accounts. Each account runs a single
// worker goroutine over an unbounded backlog, so a node never observes two of
// its own calls concurrently and an enqueue never blocks a running handler.
type Bus struct {
	log      *logger.Logger
	treasury Treasury
	spawner  Spawner

	mu    sync.RWMutex
	nodes map[identity.AccountID]*node

	pending sync.WaitGroup
	closed  bool
}

type node struct {
	account identity.AccountID
	handler Handler

	mu      sync.Mutex
	backlog []Call
	closed  bool
	notify  chan struct{}
	done    chan struct{}
}

// Config carries the bus collaborators.
type Config struct {
	Logger   *logger.Logger
	Treasury Treasury
	Spawner  Spawner
}

func New(cfg Config) *Bus {
	return &Bus{
		log:      cfg.Logger,
		treasury: cfg.Treasury,
		spawner:  cfg.Spawner,
		nodes:    make(map[identity.AccountID]*node),
	}
}

// Register attaches a handler to an account and starts its worker. Used at
// boot for the coordinator and recovered sub-ledgers; new accounts created at
// runtime go through CreateAccount effects instead.
func (b *Bus) Register(account identity.AccountID, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return apperrors.New(apperrors.CodeInternal, "bus is closed")
	}
	if _, ok := b.nodes[account]; ok {
		return apperrors.New(apperrors.CodeConflict, fmt.Sprintf("account %q is already registered", account))
	}
	n := &node{
		account: account,
		handler: handler,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	b.nodes[account] = n
	go b.run(n)
	return nil
}

// Registered reports whether an account currently has a live node.
func (b *Bus) Registered(account identity.AccountID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.nodes[account]
	return ok
}

// Submit is the external entry point: it enqueues a call on behalf of an
// authenticated caller and returns its receipt id without waiting for any
// processing. The attached deposit is escrow-checked synchronously so callers
// get an immediate error instead of a silent downstream failure.
func (b *Bus) Submit(ctx context.Context, from, to identity.AccountID, method string, payload []byte, deposit decimal.Decimal) (uuid.UUID, error) {
	if deposit.IsPositive() {
		balance, err := b.treasury.Balance(ctx, from)
		if err != nil {
			return uuid.Nil, err
		}
		if balance.LessThan(deposit) {
			return uuid.Nil, apperrors.New(apperrors.CodePrecondition, "insufficient escrow balance for attached deposit")
		}
	}
	call := Call{
		ID:       uuid.New(),
		To:       to,
		From:     from,
		Signer:   from,
		Method:   method,
		Payload:  payload,
		Deposit:  deposit,
		IssuedAt: time.Now().UTC(),
	}
	if ok := b.enqueue(call); !ok {
		return uuid.Nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("account %q is not registered", to))
	}
	return call.ID, nil
}

// Quiesce blocks until every inbox is drained and no handler is running. Test
// and shutdown aid; new submissions during the wait extend it.
func (b *Bus) Quiesce() {
	b.pending.Wait()
}

// Close drains in-flight work and stops all workers.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	nodes := make([]*node, 0, len(b.nodes))
	for _, n := range b.nodes {
		nodes = append(nodes, n)
	}
	b.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		b.pending.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}
	// A node deleted while we drained already closed its done channel.
	for _, n := range nodes {
		n.mu.Lock()
		alreadyClosed := n.closed
		n.closed = true
		n.mu.Unlock()
		if !alreadyClosed {
			close(n.done)
		}
	}
	return nil
}

func (b *Bus) enqueue(call Call) bool {
	b.mu.RLock()
	n, ok := b.nodes[call.To]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	return b.post(n, call)
}

// post appends a call to a node the sender already resolved. The node may have
// been deleted between the map read and this append; the closed check under
// n.mu is what keeps a late call from landing in a backlog no worker will
// drain again.
func (b *Bus) post(n *node, call Call) bool {
	b.pending.Add(1)
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		b.pending.Done()
		return false
	}
	n.backlog = append(n.backlog, call)
	n.mu.Unlock()
	select {
	case n.notify <- struct{}{}:
	default:
	}
	return true
}

func (b *Bus) run(n *node) {
	for {
		n.mu.Lock()
		var call Call
		var ok bool
		if len(n.backlog) > 0 {
			call, n.backlog = n.backlog[0], n.backlog[1:]
			ok = true
		}
		n.mu.Unlock()

		if !ok {
			select {
			case <-n.notify:
				continue
			case <-n.done:
				return
			}
		}

		b.dispatch(n, call)
		b.pending.Done()
	}
}

// dispatch runs one call to completion: debit the attached deposit, invoke the
// handler, refund the deposit when the handler errors, apply buffered effects
// when it does not, and resolve the call to exactly one outcome.
func (b *Bus) dispatch(n *node, call Call) {
	ctx := b.log.WithFields(context.Background(), map[string]any{
		"call_id":   call.ID.String(),
		"method":    call.Method,
		"recipient": string(call.To),
		"caller":    string(call.From),
	})

	if call.Deposit.IsPositive() {
		if err := b.treasury.Move(ctx, call.From, call.To, call.Deposit); err != nil {
			b.log.Warn(b.log.WithField(ctx, "error", err.Error()), "deposit debit failed, call dropped")
			b.resolve(call, Outcome{OK: false, Error: "attached deposit could not be debited"})
			return
		}
	}

	env := NewEnv(call.To)
	result, err := n.handler.HandleCall(ctx, env, call)
	if err != nil {
		if call.Deposit.IsPositive() {
			if moveErr := b.treasury.Move(ctx, call.To, call.From, call.Deposit); moveErr != nil {
				b.log.Error(ctx, "deposit refund failed", moveErr)
			}
		}
		b.log.Warn(b.log.WithField(ctx, "error", err.Error()), "call failed")
		b.resolve(call, Outcome{OK: false, Error: err.Error()})
		return
	}

	b.applyEffects(ctx, call, env)

	var value []byte
	if result != nil {
		value = Marshal(result)
	}
	b.resolve(call, Outcome{OK: true, Value: value})
}

func (b *Bus) applyEffects(ctx context.Context, call Call, env *Env) {
	for _, t := range env.transfers {
		if err := b.treasury.Move(ctx, call.To, t.To, t.Amount); err != nil {
			b.log.Error(b.log.WithField(ctx, "transfer_to", string(t.To)), "balance transfer failed", err)
		}
	}
	for _, c := range env.creates {
		b.createAccount(ctx, call, c)
	}
	for _, s := range env.sends {
		next := Call{
			ID:       uuid.New(),
			To:       s.Request.To,
			From:     call.To,
			Signer:   call.Signer,
			Method:   s.Request.Method,
			Payload:  s.Request.Payload,
			Deposit:  s.Request.Deposit,
			IssuedAt: time.Now().UTC(),
		}
		if s.Then != nil {
			next.continuation = &routedContinuation{issuer: call.To, signer: call.Signer, then: *s.Then}
		}
		if ok := b.enqueue(next); !ok {
			b.log.Warn(b.log.WithField(ctx, "recipient", string(s.Request.To)), "recipient not registered, request failed")
			b.resolve(next, Outcome{OK: false, Error: fmt.Sprintf("account %q does not exist", s.Request.To)})
		}
	}
	if env.deleted != nil {
		b.deleteAccount(ctx, call.To, *env.deleted)
	}
}

// createAccount moves the stake first and only then attempts to bring the new
// node up. A failed attempt keeps the stake where it landed; it is the cost of
// provisioning, not a refundable fee.
func (b *Bus) createAccount(ctx context.Context, call Call, c IssuedCreate) {
	fail := func(reason string) {
		b.log.Warn(b.log.WithFields(ctx, map[string]any{"account": string(c.Account), "reason": reason}), "account creation failed")
		if c.Then != nil {
			b.deliverContinuation(&routedContinuation{issuer: call.To, signer: call.Signer, then: *c.Then}, Outcome{OK: false, Error: reason})
		}
	}

	if c.Stake.IsPositive() {
		if err := b.treasury.Move(ctx, call.To, c.Account, c.Stake); err != nil {
			fail("stake transfer failed")
			return
		}
	}
	if b.Registered(c.Account) {
		fail(fmt.Sprintf("account %q already exists", c.Account))
		return
	}
	handler, err := b.spawner.Spawn(ctx, c.Account)
	if err != nil {
		fail(err.Error())
		return
	}
	if err := b.Register(c.Account, handler); err != nil {
		fail(err.Error())
		return
	}
	b.log.Info(b.log.WithField(ctx, "account", string(c.Account)), "account created")
	if c.Then != nil {
		b.deliverContinuation(&routedContinuation{issuer: call.To, signer: call.Signer, then: *c.Then}, Outcome{OK: true})
	}
}

func (b *Bus) deleteAccount(ctx context.Context, account, beneficiary identity.AccountID) {
	b.mu.Lock()
	n, ok := b.nodes[account]
	if ok {
		delete(b.nodes, account)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	// Undelivered backlog resolves as failed; the account no longer exists.
	// Marking the node closed in the same critical section shuts the door on
	// senders that resolved the node before it left the map.
	n.mu.Lock()
	n.closed = true
	orphaned := n.backlog
	n.backlog = nil
	n.mu.Unlock()
	close(n.done)
	for _, call := range orphaned {
		b.resolve(call, Outcome{OK: false, Error: fmt.Sprintf("account %q does not exist", account)})
		b.pending.Done()
	}

	balance, err := b.treasury.Balance(ctx, account)
	if err != nil {
		b.log.Error(ctx, "sweeping deleted account balance failed", err)
		return
	}
	if balance.IsPositive() {
		if err := b.treasury.Move(ctx, account, beneficiary, balance); err != nil {
			b.log.Error(ctx, "sweeping deleted account balance failed", err)
		}
	}
	b.log.Info(b.log.WithFields(ctx, map[string]any{"account": string(account), "beneficiary": string(beneficiary)}), "account deleted")
}

// routedContinuation ties an issued request back to its issuer.
type routedContinuation struct {
	issuer identity.AccountID
	signer identity.AccountID
	then   Continuation
}

// resolve finishes a call: when a continuation is attached the outcome is
// delivered to the issuer as a fresh self-call, otherwise it is discarded.
func (b *Bus) resolve(call Call, outcome Outcome) {
	if call.continuation == nil {
		return
	}
	b.deliverContinuation(call.continuation, outcome)
}

func (b *Bus) deliverContinuation(rc *routedContinuation, outcome Outcome) {
	cb := Call{
		ID:       uuid.New(),
		To:       rc.issuer,
		From:     rc.issuer,
		Signer:   rc.signer,
		Method:   rc.then.Method,
		Payload:  rc.then.Payload,
		Outcome:  &outcome,
		IssuedAt: time.Now().UTC(),
	}
	if ok := b.enqueue(cb); !ok {
		b.log.Warn(context.Background(), fmt.Sprintf("continuation dropped, issuer %q no longer registered", rc.issuer))
	}
}

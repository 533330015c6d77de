// Package assets provides an in-memory item source node. Production item
// sources are external systems reachable over the mesh; this collection backs
// local development and the settlement tests.
package assets

import (
	"context"
	"fmt"
	"sync"

	"github.com/nftsale/market-backend/internal/mesh"
	"github.com/nftsale/market-backend/internal/wire"
	"github.com/nftsale/market-backend/pkg/identity"
	"github.com/nftsale/market-backend/pkg/logger"
)

// Collection tracks item holders for one source account and answers
// transfer_item calls.
type Collection struct {
	account identity.AccountID
	log     *logger.Logger

	mu      sync.Mutex
	holders map[string]identity.AccountID
}

func NewCollection(account identity.AccountID, log *logger.Logger) *Collection {
	return &Collection{
		account: account,
		log:     log,
		holders: make(map[string]identity.AccountID),
	}
}

// Grant assigns an item to a holder, minting it if unknown.
func (c *Collection) Grant(itemID string, holder identity.AccountID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holders[itemID] = holder
}

// Holder returns the current holder of an item, or "" when it does not exist.
func (c *Collection) Holder(itemID string) identity.AccountID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holders[itemID]
}

func (c *Collection) HandleCall(ctx context.Context, _ *mesh.Env, call mesh.Call) (any, error) {
	switch call.Method {
	case wire.MethodTransferItem:
		var args wire.TransferItemArgs
		if err := mesh.Decode(call.Payload, &args); err != nil {
			return nil, err
		}
		return nil, c.transfer(ctx, args)
	default:
		return nil, fmt.Errorf("unknown method %q", call.Method)
	}
}

func (c *Collection) transfer(ctx context.Context, args wire.TransferItemArgs) error {
	if args.Receiver == "" {
		return fmt.Errorf("receiver is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.holders[args.ItemID]; !ok {
		return fmt.Errorf("item %q does not exist", args.ItemID)
	}
	c.holders[args.ItemID] = args.Receiver
	c.log.Info(c.log.WithFields(ctx, map[string]any{
		"item_id":  args.ItemID,
		"receiver": string(args.Receiver),
	}), "item transferred")
	return nil
}

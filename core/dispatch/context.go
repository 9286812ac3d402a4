package dispatch

import (
	"context"
	"log/slog"
	"time"

	"melodex/core/errors"
	"melodex/core/events"
	"melodex/core/pool"
	"melodex/core/records"
	"melodex/core/types"
	"melodex/registry"
)

// Lookup answers the referential reads handlers need beyond the prefetched
// pool: index lookups whose keys are only known mid-validation (recovered
// addresses, delegate wallets). Implemented by the storage layer.
type Lookup interface {
	UserByWallet(ctx context.Context, wallet string) (*records.User, bool, error)
	AppByAddress(ctx context.Context, address string) (*records.DeveloperApp, bool, error)

	// DelegationsBySharedAddress returns the current delegation rows
	// targeting a shared address across all users, for the global
	// one-active-delegation-per-address check.
	DelegationsBySharedAddress(ctx context.Context, address string) ([]*records.Delegation, error)
}

// Context carries everything a handler needs to validate and apply one
// event. Built fresh per event, never reused.
type Context struct {
	Ctx   context.Context
	Block types.BlockRef

	TxHash     string
	EventIndex int
	Event      types.EntityEvent

	// Metadata is the resolved payload: inline JSON or the value behind
	// the event's content-address key.
	Metadata string

	Pool   *pool.Pool
	Bus    events.Emitter
	Nodes  *registry.Cache
	Lookup Lookup
	Logger *slog.Logger

	// ProcessedAt is the wall-clock time the block began processing, used
	// by checks that compare against "now" rather than chain time.
	ProcessedAt time.Time
}

// ActingUser resolves the event's acting user through the pool and verifies
// it exists and is not deleted.
func (c *Context) ActingUser() (*records.User, error) {
	rec, ok := c.Pool.Resolve(types.KindUser, records.UserKey(c.Event.UserID))
	if !ok {
		return nil, errors.Validationf("user %d does not exist", c.Event.UserID)
	}
	user, ok := rec.(*records.User)
	if !ok || user.IsDelete {
		return nil, errors.Validationf("user %d does not exist", c.Event.UserID)
	}
	return user, nil
}

// RequireSignerWallet checks the event signer against a wallet, both
// case-normalized.
func (c *Context) RequireSignerWallet(wallet string) error {
	if types.NormalizeAddress(c.Event.Signer) != types.NormalizeAddress(wallet) {
		return errors.Validationf("signer %s does not match wallet", c.Event.Signer)
	}
	return nil
}

// RequireOwner resolves the acting user and checks the signer against its
// wallet: the common ownership gate shared by most handlers.
func (c *Context) RequireOwner() (*records.User, error) {
	user, err := c.ActingUser()
	if err != nil {
		return nil, err
	}
	if err := c.RequireSignerWallet(user.Wallet); err != nil {
		return nil, err
	}
	return user, nil
}

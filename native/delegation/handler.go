// Package delegation implements the handlers that grant and revoke a shared
// address's right to act for a user. Revocation inserts a new version with
// the revoked flag set; rows are never physically removed.
package delegation

import (
	"melodex/core/dispatch"
	"melodex/core/errors"
	"melodex/core/records"
	"melodex/core/types"
)

// Register installs the delegation handlers.
func Register(r *dispatch.Registry) {
	r.Register(types.KindDelegation, types.ActionCreate, createHandler{})
	r.Register(types.KindDelegation, types.ActionDelete, revokeHandler{})
}

type createHandler struct{}

func (createHandler) Validate(ctx *dispatch.Context) error {
	if _, err := ctx.RequireOwner(); err != nil {
		return err
	}
	md, err := types.ParseDelegationMetadata(ctx.Metadata)
	if err != nil {
		return errors.WrapValidation("invalid delegation metadata", err)
	}
	known, err := isKnownDelegate(ctx, md.SharedAddress)
	if err != nil {
		return err
	}
	if !known {
		return errors.Validationf("delegate %s is neither a user wallet nor an app address", md.SharedAddress)
	}
	active, err := activeDelegationExists(ctx, md.SharedAddress)
	if err != nil {
		return err
	}
	if active {
		return errors.Validationf("active delegation to %s already exists", md.SharedAddress)
	}
	return nil
}

// activeDelegationExists reports whether any user, not just the acting one,
// currently holds an active delegation to the shared address. In-block
// versions take precedence over stored rows.
func activeDelegationExists(ctx *dispatch.Context, shared string) (bool, error) {
	active := false
	ctx.Pool.Each(types.KindDelegation, func(rec records.Record) bool {
		if d, isDelegation := rec.(*records.Delegation); isDelegation &&
			d.SharedAddress == shared && !d.IsRevoked && !d.IsDelete {
			active = true
			return false
		}
		return true
	})
	if active {
		return true, nil
	}
	rows, err := ctx.Lookup.DelegationsBySharedAddress(ctx.Ctx, shared)
	if err != nil {
		return false, errors.Environment("delegation lookup", err)
	}
	for _, row := range rows {
		d := row
		if rec, ok := ctx.Pool.Resolve(types.KindDelegation, records.DelegationKey(row.UserID, row.SharedAddress)); ok {
			cur, isDelegation := rec.(*records.Delegation)
			if !isDelegation {
				continue
			}
			d = cur
		}
		if !d.IsRevoked && !d.IsDelete {
			return true, nil
		}
	}
	return false, nil
}

func (createHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	md, err := types.ParseDelegationMetadata(ctx.Metadata)
	if err != nil {
		return nil, errors.WrapValidation("invalid delegation metadata", err)
	}
	next := &records.Delegation{
		UserID:        ctx.Event.UserID,
		SharedAddress: md.SharedAddress,
		RecordBase:    records.StampedBase(ctx.Block, ctx.TxHash),
	}
	if prev := resolveDelegation(ctx, ctx.Event.UserID, md.SharedAddress); prev != nil {
		next.CreatedAt = prev.CreatedAt
	}
	return next, nil
}

type revokeHandler struct{}

func (revokeHandler) Validate(ctx *dispatch.Context) error {
	_, err := requireRevocable(ctx)
	return err
}

func (revokeHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	prev, err := requireRevocable(ctx)
	if err != nil {
		return nil, err
	}
	next := *prev
	next.IsRevoked = true
	next.RecordBase = records.StampedBase(ctx.Block, ctx.TxHash)
	next.CreatedAt = prev.CreatedAt
	return &next, nil
}

// requireRevocable checks the delegation exists, is active, and that the
// signer is either the delegator's wallet or the delegate address itself.
func requireRevocable(ctx *dispatch.Context) (*records.Delegation, error) {
	user, err := ctx.ActingUser()
	if err != nil {
		return nil, err
	}
	md, err := types.ParseDelegationMetadata(ctx.Metadata)
	if err != nil {
		return nil, errors.WrapValidation("invalid delegation metadata", err)
	}
	prev := resolveDelegation(ctx, user.UserID, md.SharedAddress)
	if prev == nil || prev.IsRevoked {
		return nil, errors.Validationf("no active delegation to %s", md.SharedAddress)
	}
	signer := types.NormalizeAddress(ctx.Event.Signer)
	if signer != types.NormalizeAddress(user.Wallet) && signer != prev.SharedAddress {
		return nil, errors.Validationf("signer %s is neither delegator nor delegate", ctx.Event.Signer)
	}
	return prev, nil
}

func resolveDelegation(ctx *dispatch.Context, userID uint64, shared string) *records.Delegation {
	rec, ok := ctx.Pool.Resolve(types.KindDelegation, records.DelegationKey(userID, shared))
	if !ok {
		return nil
	}
	d, isDelegation := rec.(*records.Delegation)
	if !isDelegation {
		return nil
	}
	return d
}

// isKnownDelegate reports whether the address belongs to a registered user
// wallet or a live developer app.
func isKnownDelegate(ctx *dispatch.Context, address string) (bool, error) {
	user, found, err := ctx.Lookup.UserByWallet(ctx.Ctx, address)
	if err != nil {
		return false, errors.Environment("wallet lookup", err)
	}
	if found && !user.IsDelete {
		return true, nil
	}
	if rec, ok := ctx.Pool.Resolve(types.KindDeveloperApp, records.AppKey(address)); ok {
		if app, isApp := rec.(*records.DeveloperApp); isApp && !app.IsDelete {
			return true, nil
		}
	}
	app, found, err := ctx.Lookup.AppByAddress(ctx.Ctx, records.AppKey(address))
	if err != nil {
		return false, errors.Environment("app lookup", err)
	}
	return found && !app.IsDelete, nil
}

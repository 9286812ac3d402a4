// Package devapp implements the developer app provisioning handlers. An app
// is keyed by the address recovered from its off-chain signed provisioning
// message.
package devapp

import (
	"time"

	"melodex/core/dispatch"
	"melodex/core/errors"
	"melodex/core/records"
	"melodex/core/types"
	"melodex/crypto"
)

const (
	// MaxAppsPerUser bounds how many apps one user may own, counting both
	// durable rows and apps created earlier in the current block.
	MaxAppsPerUser = 3

	// SignatureWindow bounds how far the signed message's embedded
	// timestamp may drift from processing time, in either direction.
	SignatureWindow = 6 * time.Hour
)

// Register installs the developer app handlers.
func Register(r *dispatch.Registry) {
	r.Register(types.KindDeveloperApp, types.ActionCreate, createHandler{})
	r.Register(types.KindDeveloperApp, types.ActionDelete, deleteHandler{})
}

type createHandler struct{}

func (createHandler) Validate(ctx *dispatch.Context) error {
	user, err := ctx.RequireOwner()
	if err != nil {
		return err
	}
	md, err := types.ParseDeveloperAppMetadata(ctx.Metadata)
	if err != nil {
		return errors.WrapValidation("invalid developer app metadata", err)
	}

	signedAt, err := crypto.MessageTimestamp(md.Signature.Message)
	if err != nil {
		return errors.WrapValidation("unreadable signature timestamp", err)
	}
	drift := ctx.ProcessedAt.Sub(signedAt)
	if drift > SignatureWindow || drift < -SignatureWindow {
		return errors.Validationf("app signature timestamp outside ±%s window", SignatureWindow)
	}

	address, err := crypto.RecoverSigner(md.Signature.Message, md.Signature.Signature)
	if err != nil {
		return errors.WrapValidation("app signature recovery failed", err)
	}
	existing, err := resolveApp(ctx, address)
	if err != nil {
		return err
	}
	if existing != nil && !existing.IsDelete {
		return errors.Validationf("address %s already has a developer app", address)
	}

	owned := 0
	ctx.Pool.Each(types.KindDeveloperApp, func(rec records.Record) bool {
		if app, ok := rec.(*records.DeveloperApp); ok && app.OwnerID == user.UserID && !app.IsDelete {
			owned++
		}
		return true
	})
	if owned >= MaxAppsPerUser {
		return errors.Validationf("user %d already owns %d developer apps", user.UserID, owned)
	}
	return nil
}

func (createHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	md, err := types.ParseDeveloperAppMetadata(ctx.Metadata)
	if err != nil {
		return nil, errors.WrapValidation("invalid developer app metadata", err)
	}
	address, err := crypto.RecoverSigner(md.Signature.Message, md.Signature.Signature)
	if err != nil {
		return nil, errors.WrapValidation("app signature recovery failed", err)
	}
	return &records.DeveloperApp{
		Address:     records.AppKey(address),
		OwnerID:     ctx.Event.UserID,
		Name:        md.Name,
		Description: md.Description,
		RecordBase:  records.StampedBase(ctx.Block, ctx.TxHash),
	}, nil
}

type deleteHandler struct{}

func (deleteHandler) Validate(ctx *dispatch.Context) error {
	_, _, err := requireOwnedApp(ctx)
	return err
}

func (deleteHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	app, _, err := requireOwnedApp(ctx)
	if err != nil {
		return nil, err
	}
	next := *app
	next.RecordBase = records.StampedBase(ctx.Block, ctx.TxHash)
	next.CreatedAt = app.CreatedAt
	next.IsDelete = true
	return &next, nil
}

func requireOwnedApp(ctx *dispatch.Context) (*records.DeveloperApp, *records.User, error) {
	user, err := ctx.RequireOwner()
	if err != nil {
		return nil, nil, err
	}
	md, err := types.ParseAppReferenceMetadata(ctx.Metadata)
	if err != nil {
		return nil, nil, errors.WrapValidation("invalid app reference metadata", err)
	}
	app, err := resolveApp(ctx, md.Address)
	if err != nil {
		return nil, nil, err
	}
	if app == nil || app.IsDelete {
		return nil, nil, errors.Validationf("developer app %s does not exist", md.Address)
	}
	if app.OwnerID != user.UserID {
		return nil, nil, errors.Validationf("user %d does not own app %s", user.UserID, md.Address)
	}
	return app, user, nil
}

// resolveApp checks the pool overlay first (apps created earlier in the
// block) and falls back to the durable index for addresses the prefetch
// could not know about.
func resolveApp(ctx *dispatch.Context, address string) (*records.DeveloperApp, error) {
	key := records.AppKey(address)
	if rec, ok := ctx.Pool.Resolve(types.KindDeveloperApp, key); ok {
		if app, isApp := rec.(*records.DeveloperApp); isApp {
			return app, nil
		}
	}
	app, found, err := ctx.Lookup.AppByAddress(ctx.Ctx, key)
	if err != nil {
		return nil, errors.Environment("app lookup", err)
	}
	if !found {
		return nil, nil
	}
	return app, nil
}

// Package email implements the handlers for encrypted email sharing records.
package email

import (
	"melodex/core/dispatch"
	"melodex/core/errors"
	"melodex/core/records"
	"melodex/core/types"
)

// Register installs the encrypted email handlers.
func Register(r *dispatch.Registry) {
	r.Register(types.KindEmail, types.ActionCreate, createHandler{})
	r.Register(types.KindEmail, types.ActionUpdate, updateHandler{})
}

type createHandler struct{}

func (createHandler) Validate(ctx *dispatch.Context) error {
	md, err := validateCommon(ctx)
	if err != nil {
		return err
	}
	if prev, ok := resolve(ctx, ctx.Event.UserID, md.ReceivingUserID); ok && !prev.IsDelete {
		return errors.Validationf("email record %d:%d already exists", ctx.Event.UserID, md.ReceivingUserID)
	}
	return nil
}

func (createHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	md, err := types.ParseEmailMetadata(ctx.Metadata)
	if err != nil {
		return nil, errors.WrapValidation("invalid email metadata", err)
	}
	return &records.EncryptedEmail{
		OwnerID:    ctx.Event.UserID,
		ReceiverID: md.ReceivingUserID,
		Ciphertext: md.EncryptedEmail,
		RecordBase: records.StampedBase(ctx.Block, ctx.TxHash),
	}, nil
}

type updateHandler struct{}

func (updateHandler) Validate(ctx *dispatch.Context) error {
	md, err := validateCommon(ctx)
	if err != nil {
		return err
	}
	if prev, ok := resolve(ctx, ctx.Event.UserID, md.ReceivingUserID); !ok || prev.IsDelete {
		return errors.Validationf("email record %d:%d does not exist", ctx.Event.UserID, md.ReceivingUserID)
	}
	return nil
}

func (updateHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	md, err := types.ParseEmailMetadata(ctx.Metadata)
	if err != nil {
		return nil, errors.WrapValidation("invalid email metadata", err)
	}
	prev, _ := resolve(ctx, ctx.Event.UserID, md.ReceivingUserID)
	next := *prev
	next.Ciphertext = md.EncryptedEmail
	next.RecordBase = records.StampedBase(ctx.Block, ctx.TxHash)
	next.CreatedAt = prev.CreatedAt
	return &next, nil
}

// validateCommon applies the shared gates: owner signature, parsable
// metadata, and an existing receiving user.
func validateCommon(ctx *dispatch.Context) (*types.EmailMetadata, error) {
	if _, err := ctx.RequireOwner(); err != nil {
		return nil, err
	}
	md, err := types.ParseEmailMetadata(ctx.Metadata)
	if err != nil {
		return nil, errors.WrapValidation("invalid email metadata", err)
	}
	rec, ok := ctx.Pool.Resolve(types.KindUser, records.UserKey(md.ReceivingUserID))
	if !ok {
		return nil, errors.Validationf("receiving user %d does not exist", md.ReceivingUserID)
	}
	if user, isUser := rec.(*records.User); !isUser || user.IsDelete {
		return nil, errors.Validationf("receiving user %d does not exist", md.ReceivingUserID)
	}
	return md, nil
}

func resolve(ctx *dispatch.Context, owner, receiver uint64) (*records.EncryptedEmail, bool) {
	rec, ok := ctx.Pool.Resolve(types.KindEmail, records.EmailKey(owner, receiver))
	if !ok {
		return nil, false
	}
	e, isEmail := rec.(*records.EncryptedEmail)
	return e, isEmail
}

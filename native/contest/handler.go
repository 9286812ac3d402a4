// Package contest implements the handlers for time-bounded contest events.
package contest

import (
	"melodex/core/dispatch"
	"melodex/core/errors"
	"melodex/core/records"
	"melodex/core/types"
)

// Register installs the contest event handlers.
func Register(r *dispatch.Registry) {
	r.Register(types.KindContest, types.ActionCreate, createHandler{})
	r.Register(types.KindContest, types.ActionUpdate, updateHandler{})
	r.Register(types.KindContest, types.ActionDelete, deleteHandler{})
}

type createHandler struct{}

func (createHandler) Validate(ctx *dispatch.Context) error {
	if _, err := ctx.RequireOwner(); err != nil {
		return err
	}
	if ctx.Event.EntityID <= 0 {
		return errors.Validationf("invalid contest id %d", ctx.Event.EntityID)
	}
	if existing, ok := resolve(ctx, ctx.Event.EntityID); ok && !existing.IsDelete {
		return errors.Validationf("contest %d already exists", ctx.Event.EntityID)
	}
	if _, err := types.ParseContestMetadata(ctx.Metadata); err != nil {
		return errors.WrapValidation("invalid contest metadata", err)
	}
	return nil
}

func (createHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	md, err := types.ParseContestMetadata(ctx.Metadata)
	if err != nil {
		return nil, errors.WrapValidation("invalid contest metadata", err)
	}
	return &records.ContestEvent{
		ContestID:  ctx.Event.EntityID,
		OwnerID:    ctx.Event.UserID,
		EventType:  md.EventType,
		EndDate:    md.End(),
		Data:       md.Data,
		RecordBase: records.StampedBase(ctx.Block, ctx.TxHash),
	}, nil
}

type updateHandler struct{}

func (updateHandler) Validate(ctx *dispatch.Context) error {
	prev, err := requireOwned(ctx)
	if err != nil {
		return err
	}
	if _, err := types.ParseContestMetadata(ctx.Metadata); err != nil {
		return errors.WrapValidation("invalid contest metadata", err)
	}
	// A contest that already ended is frozen; the prior version stands.
	if !prev.EndDate.IsZero() && prev.EndDate.Before(ctx.ProcessedAt) {
		return errors.Validationf("contest %d ended at %s", prev.ContestID, prev.EndDate)
	}
	return nil
}

func (updateHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	prev, err := requireOwned(ctx)
	if err != nil {
		return nil, err
	}
	md, err := types.ParseContestMetadata(ctx.Metadata)
	if err != nil {
		return nil, errors.WrapValidation("invalid contest metadata", err)
	}
	next := *prev
	next.EventType = md.EventType
	next.EndDate = md.End()
	next.Data = md.Data
	next.RecordBase = records.StampedBase(ctx.Block, ctx.TxHash)
	next.CreatedAt = prev.CreatedAt
	return &next, nil
}

type deleteHandler struct{}

func (deleteHandler) Validate(ctx *dispatch.Context) error {
	_, err := requireOwned(ctx)
	return err
}

func (deleteHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	prev, err := requireOwned(ctx)
	if err != nil {
		return nil, err
	}
	next := *prev
	next.RecordBase = records.StampedBase(ctx.Block, ctx.TxHash)
	next.CreatedAt = prev.CreatedAt
	next.IsDelete = true
	return &next, nil
}

func requireOwned(ctx *dispatch.Context) (*records.ContestEvent, error) {
	user, err := ctx.RequireOwner()
	if err != nil {
		return nil, err
	}
	prev, ok := resolve(ctx, ctx.Event.EntityID)
	if !ok || prev.IsDelete {
		return nil, errors.Validationf("contest %d does not exist", ctx.Event.EntityID)
	}
	if prev.OwnerID != user.UserID {
		return nil, errors.Validationf("user %d does not own contest %d", user.UserID, ctx.Event.EntityID)
	}
	return prev, nil
}

func resolve(ctx *dispatch.Context, id int64) (*records.ContestEvent, bool) {
	rec, ok := ctx.Pool.Resolve(types.KindContest, records.ContestKey(id))
	if !ok {
		return nil, false
	}
	c, isContest := rec.(*records.ContestEvent)
	return c, isContest
}

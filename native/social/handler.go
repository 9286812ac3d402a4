// Package social implements the follow, save, repost, and subscription
// handlers. Repeated identical actions are silent no-ops; every real state
// change dispatches exactly one side-effect notification.
package social

import (
	"melodex/core/dispatch"
	"melodex/core/errors"
	"melodex/core/events"
	"melodex/core/records"
	"melodex/core/types"
)

// Register installs all social feature handlers. Create is the forward
// toggle (follow, save, repost, subscribe); delete is its inverse.
func Register(r *dispatch.Registry) {
	r.Register(types.KindFollow, types.ActionCreate, followHandler{})
	r.Register(types.KindFollow, types.ActionDelete, followHandler{remove: true})
	r.Register(types.KindSave, types.ActionCreate, saveHandler{})
	r.Register(types.KindSave, types.ActionDelete, saveHandler{remove: true})
	r.Register(types.KindRepost, types.ActionCreate, repostHandler{})
	r.Register(types.KindRepost, types.ActionDelete, repostHandler{remove: true})
	r.Register(types.KindSubscription, types.ActionCreate, subscriptionHandler{})
	r.Register(types.KindSubscription, types.ActionDelete, subscriptionHandler{remove: true})
}

type followHandler struct{ remove bool }

func (h followHandler) Validate(ctx *dispatch.Context) error {
	if _, err := ctx.RequireOwner(); err != nil {
		return err
	}
	if ctx.Event.UserID == ctx.Event.TargetID {
		return errors.Validationf("user %d cannot follow themselves", ctx.Event.UserID)
	}
	return requireUser(ctx, ctx.Event.TargetID)
}

func (h followHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	key := records.FollowKey(ctx.Event.UserID, ctx.Event.TargetID)
	prev, active := activeRecord(ctx, types.KindFollow, key)
	if h.remove == !active {
		// Already in the requested state.
		return nil, nil
	}

	next := &records.Follow{
		FollowerID: ctx.Event.UserID,
		FolloweeID: ctx.Event.TargetID,
		RecordBase: records.StampedBase(ctx.Block, ctx.TxHash),
	}
	next.IsDelete = h.remove
	carryCreatedAt(prev, &next.RecordBase)

	typ := events.TypeFollow
	if h.remove {
		typ = events.TypeUnfollow
	}
	ctx.Bus.Emit(events.FollowEvent(typ, ctx.Block.Number, ctx.Block.Time, ctx.Event.UserID, ctx.Event.TargetID))
	return next, nil
}

type saveHandler struct{ remove bool }

func (h saveHandler) Validate(ctx *dispatch.Context) error {
	if _, err := ctx.RequireOwner(); err != nil {
		return err
	}
	return requireVisibleTarget(ctx)
}

func (h saveHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	key := records.SaveKey(ctx.Event.UserID, ctx.Event.TargetKind, ctx.Event.TargetID)
	prev, active := activeRecord(ctx, types.KindSave, key)
	if h.remove == !active {
		return nil, nil
	}

	next := &records.Save{
		UserID:     ctx.Event.UserID,
		TargetKind: ctx.Event.TargetKind,
		TargetID:   ctx.Event.TargetID,
		RecordBase: records.StampedBase(ctx.Block, ctx.TxHash),
	}
	next.IsDelete = h.remove
	carryCreatedAt(prev, &next.RecordBase)

	typ := events.TypeSave
	if h.remove {
		typ = events.TypeUnsave
	}
	ctx.Bus.Emit(events.TargetEvent(typ, ctx.Block.Number, ctx.Block.Time,
		ctx.Event.UserID, string(ctx.Event.TargetKind), ctx.Event.TargetID))
	return next, nil
}

type repostHandler struct{ remove bool }

func (h repostHandler) Validate(ctx *dispatch.Context) error {
	if _, err := ctx.RequireOwner(); err != nil {
		return err
	}
	return requireVisibleTarget(ctx)
}

func (h repostHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	key := records.RepostKey(ctx.Event.UserID, ctx.Event.TargetKind, ctx.Event.TargetID)
	prev, active := activeRecord(ctx, types.KindRepost, key)
	if h.remove == !active {
		return nil, nil
	}

	next := &records.Repost{
		UserID:     ctx.Event.UserID,
		TargetKind: ctx.Event.TargetKind,
		TargetID:   ctx.Event.TargetID,
		RecordBase: records.StampedBase(ctx.Block, ctx.TxHash),
	}
	next.IsDelete = h.remove
	carryCreatedAt(prev, &next.RecordBase)

	typ := events.TypeRepost
	if h.remove {
		typ = events.TypeUnrepost
	}
	ctx.Bus.Emit(events.TargetEvent(typ, ctx.Block.Number, ctx.Block.Time,
		ctx.Event.UserID, string(ctx.Event.TargetKind), ctx.Event.TargetID))
	return next, nil
}

type subscriptionHandler struct{ remove bool }

func (h subscriptionHandler) Validate(ctx *dispatch.Context) error {
	if _, err := ctx.RequireOwner(); err != nil {
		return err
	}
	if ctx.Event.UserID == ctx.Event.TargetID {
		return errors.Validationf("user %d cannot subscribe to themselves", ctx.Event.UserID)
	}
	return requireUser(ctx, ctx.Event.TargetID)
}

func (h subscriptionHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	key := records.SubscriptionKey(ctx.Event.UserID, ctx.Event.TargetID)
	prev, active := activeRecord(ctx, types.KindSubscription, key)
	if h.remove == !active {
		return nil, nil
	}

	next := &records.Subscription{
		SubscriberID: ctx.Event.UserID,
		TargetUserID: ctx.Event.TargetID,
		RecordBase:   records.StampedBase(ctx.Block, ctx.TxHash),
	}
	next.IsDelete = h.remove
	carryCreatedAt(prev, &next.RecordBase)

	typ := events.TypeSubscribe
	if h.remove {
		typ = events.TypeUnsubscribe
	}
	ctx.Bus.Emit(events.SubscribeEvent(typ, ctx.Block.Number, ctx.Block.Time, ctx.Event.UserID, ctx.Event.TargetID))
	return next, nil
}

// activeRecord resolves a toggle record and reports whether the toggle is
// currently on (a non-deleted version exists).
func activeRecord(ctx *dispatch.Context, kind types.EntityKind, key string) (records.Record, bool) {
	rec, ok := ctx.Pool.Resolve(kind, key)
	if !ok {
		return nil, false
	}
	return rec, !rec.Base().IsDelete
}

func carryCreatedAt(prev records.Record, base *records.RecordBase) {
	if prev != nil {
		base.CreatedAt = prev.Base().CreatedAt
	}
}

func requireUser(ctx *dispatch.Context, id uint64) error {
	rec, ok := ctx.Pool.Resolve(types.KindUser, records.UserKey(id))
	if !ok {
		return errors.Validationf("target user %d does not exist", id)
	}
	if user, isUser := rec.(*records.User); !isUser || user.IsDelete {
		return errors.Validationf("target user %d does not exist", id)
	}
	return nil
}

// requireVisibleTarget checks that the save/repost target exists, is not
// deleted, is not private or unlisted, and does not belong to the acting
// user.
func requireVisibleTarget(ctx *dispatch.Context) error {
	ev := ctx.Event
	switch ev.TargetKind {
	case types.TargetTrack:
		rec, ok := ctx.Pool.Resolve(types.KindTrack, records.TrackKey(ev.TargetID))
		if !ok {
			return errors.Validationf("track %d does not exist", ev.TargetID)
		}
		track, isTrack := rec.(*records.Track)
		if !isTrack || track.IsDelete {
			return errors.Validationf("track %d does not exist", ev.TargetID)
		}
		if track.IsUnlisted {
			return errors.Validationf("track %d is unlisted", ev.TargetID)
		}
		if track.OwnerID == ev.UserID {
			return errors.Validationf("user %d cannot target their own track", ev.UserID)
		}
	case types.TargetPlaylist:
		rec, ok := ctx.Pool.Resolve(types.KindPlaylist, records.PlaylistKey(int64(ev.TargetID)))
		if !ok {
			return errors.Validationf("playlist %d does not exist", ev.TargetID)
		}
		pl, isPlaylist := rec.(*records.Playlist)
		if !isPlaylist || pl.IsDelete {
			return errors.Validationf("playlist %d does not exist", ev.TargetID)
		}
		if pl.IsPrivate {
			return errors.Validationf("playlist %d is private", ev.TargetID)
		}
		if pl.OwnerID == ev.UserID {
			return errors.Validationf("user %d cannot target their own playlist", ev.UserID)
		}
	default:
		return errors.Validationf("unsupported target kind %q", ev.TargetKind)
	}
	return nil
}

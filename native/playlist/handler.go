// Package playlist implements the validate/apply handlers for playlist
// entities.
package playlist

import (
	"melodex/core/dispatch"
	"melodex/core/errors"
	"melodex/core/records"
	"melodex/core/types"
)

// IDOffset is the floor of the synthetic playlist id space. Ids below it
// belong to a legacy namespace and are never minted here.
const IDOffset = 400_000

// Register installs the playlist handlers.
func Register(r *dispatch.Registry) {
	r.Register(types.KindPlaylist, types.ActionCreate, createHandler{})
	r.Register(types.KindPlaylist, types.ActionUpdate, updateHandler{})
	r.Register(types.KindPlaylist, types.ActionDelete, deleteHandler{})
}

type createHandler struct{}

func (createHandler) Validate(ctx *dispatch.Context) error {
	if _, err := ctx.RequireOwner(); err != nil {
		return err
	}
	if ctx.Event.EntityID < IDOffset {
		return errors.Validationf("playlist id %d below offset %d", ctx.Event.EntityID, IDOffset)
	}
	if existing, ok := resolve(ctx, ctx.Event.EntityID); ok && !existing.IsDelete {
		return errors.Validationf("playlist %d already exists", ctx.Event.EntityID)
	}
	if _, err := types.ParsePlaylistMetadata(ctx.Metadata); err != nil {
		return errors.WrapValidation("invalid playlist metadata", err)
	}
	return nil
}

func (createHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	md, err := types.ParsePlaylistMetadata(ctx.Metadata)
	if err != nil {
		return nil, errors.WrapValidation("invalid playlist metadata", err)
	}
	next := &records.Playlist{
		PlaylistID:  ctx.Event.EntityID,
		OwnerID:     ctx.Event.UserID,
		Name:        md.Name,
		Description: md.Description,
		IsPrivate:   md.IsPrivate,
		IsAlbum:     md.IsAlbum,
		Contents:    stampContents(md.Tracks, ctx.Block.Time),
		RecordBase:  records.StampedBase(ctx.Block, ctx.TxHash),
	}
	return next, nil
}

type updateHandler struct{}

func (updateHandler) Validate(ctx *dispatch.Context) error {
	if _, err := requireOwned(ctx); err != nil {
		return err
	}
	if _, err := types.ParsePlaylistMetadata(ctx.Metadata); err != nil {
		return errors.WrapValidation("invalid playlist metadata", err)
	}
	return nil
}

func (updateHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	prev, err := requireOwned(ctx)
	if err != nil {
		return nil, err
	}
	md, err := types.ParsePlaylistMetadata(ctx.Metadata)
	if err != nil {
		return nil, errors.WrapValidation("invalid playlist metadata", err)
	}
	next := *prev
	next.Name = md.Name
	next.Description = md.Description
	next.IsPrivate = md.IsPrivate
	next.IsAlbum = md.IsAlbum
	next.Contents = reconcileContents(prev.Contents, md.Tracks, ctx.Block.Time)
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

// requireOwned gates update/delete: the playlist must exist, not be deleted,
// and belong to the signing user.
func requireOwned(ctx *dispatch.Context) (*records.Playlist, error) {
	user, err := ctx.RequireOwner()
	if err != nil {
		return nil, err
	}
	prev, ok := resolve(ctx, ctx.Event.EntityID)
	if !ok || prev.IsDelete {
		return nil, errors.Validationf("playlist %d does not exist", ctx.Event.EntityID)
	}
	if prev.OwnerID != user.UserID {
		return nil, errors.Validationf("user %d does not own playlist %d", user.UserID, ctx.Event.EntityID)
	}
	return prev, nil
}

func resolve(ctx *dispatch.Context, id int64) (*records.Playlist, bool) {
	rec, ok := ctx.Pool.Resolve(types.KindPlaylist, records.PlaylistKey(id))
	if !ok {
		return nil, false
	}
	pl, ok := rec.(*records.Playlist)
	return pl, ok
}

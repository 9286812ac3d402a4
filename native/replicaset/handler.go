// Package replicaset implements the handler that moves a user's content
// replica set between service nodes. It produces new user versions.
package replicaset

import (
	"log/slog"
	"strings"

	"melodex/core/dispatch"
	"melodex/core/errors"
	"melodex/core/records"
	"melodex/core/types"
)

// EndpointDelimiter joins the rebuilt endpoint string, primary first.
const EndpointDelimiter = ","

// Register installs the replica set handler.
func Register(r *dispatch.Registry) {
	r.Register(types.KindReplicaSet, types.ActionUpdate, updateHandler{})
}

type updateHandler struct{}

func (updateHandler) Validate(ctx *dispatch.Context) error {
	user, err := ctx.ActingUser()
	if err != nil {
		return err
	}
	md, err := types.ParseReplicaSetMetadata(ctx.Metadata)
	if err != nil {
		return errors.WrapValidation("invalid replica set metadata", err)
	}

	if err := authorize(ctx, user); err != nil {
		return err
	}

	// Optimistic-concurrency guard: the submitter must echo the stored
	// set exactly, or their view is stale.
	if md.PrevPrimaryID != user.PrimaryID || !records.IDList(md.PrevSecondaryIDs).Equal(user.SecondaryIDs) {
		return errors.Validationf("submitted current replica set does not match stored set for user %d", user.UserID)
	}

	seen := map[uint64]struct{}{md.PrimaryID: {}}
	for _, id := range md.SecondaryIDs {
		if _, dup := seen[id]; dup {
			return errors.Validationf("duplicate node id %d in new replica set", id)
		}
		seen[id] = struct{}{}
	}
	for id := range seen {
		node, err := ctx.Nodes.Resolve(ctx.Ctx, id)
		if err != nil {
			return errors.Environment("resolve replica set node", err)
		}
		if strings.TrimSpace(node.Endpoint) == "" {
			return errors.Validationf("node %d has no registered endpoint", id)
		}
	}
	return nil
}

func (updateHandler) Apply(ctx *dispatch.Context) (records.Record, error) {
	user, err := ctx.ActingUser()
	if err != nil {
		return nil, err
	}
	md, err := types.ParseReplicaSetMetadata(ctx.Metadata)
	if err != nil {
		return nil, errors.WrapValidation("invalid replica set metadata", err)
	}

	next := *user
	next.PrimaryID = md.PrimaryID
	next.SecondaryIDs = append(records.IDList(nil), md.SecondaryIDs...)
	next.CreatorNodeEndpoint = rebuildEndpoints(ctx, md.PrimaryID, md.SecondaryIDs)
	next.RecordBase = records.StampedBase(ctx.Block, ctx.TxHash)
	next.CreatedAt = user.CreatedAt
	return &next, nil
}

// authorize accepts the user's own wallet or the delegate wallet of any node
// in the user's stored replica set. The set is read from the pre-block
// version when one exists: an earlier move in the same block must not change
// who may sign for the rest of the block.
func authorize(ctx *dispatch.Context, user *records.User) error {
	signer := types.NormalizeAddress(ctx.Event.Signer)
	if signer == types.NormalizeAddress(user.Wallet) {
		return nil
	}
	settled := user
	if rec, ok := ctx.Pool.Existing(types.KindUser, records.UserKey(user.UserID)); ok {
		if stored, isUser := rec.(*records.User); isUser {
			settled = stored
		}
	}
	ids := append(records.IDList{settled.PrimaryID}, settled.SecondaryIDs...)
	for _, id := range ids {
		if id == 0 {
			continue
		}
		node, err := ctx.Nodes.Resolve(ctx.Ctx, id)
		if err != nil {
			ctx.Logger.Warn("replica node unresolvable during authorization",
				slog.Uint64("node_id", id), slog.Any("err", err))
			continue
		}
		if signer == types.NormalizeAddress(node.DelegateOwnerWallet) {
			return nil
		}
	}
	return errors.Validationf("signer %s is neither user %d nor a replica node delegate", ctx.Event.Signer, user.UserID)
}

// rebuildEndpoints resolves the new set primary-first and joins endpoints
// with the fixed delimiter. An unresolved secondary leaves a logged gap
// rather than failing the whole update; the primary was checked during
// validation.
func rebuildEndpoints(ctx *dispatch.Context, primary uint64, secondaries []uint64) string {
	parts := make([]string, 0, 1+len(secondaries))
	parts = append(parts, endpointOrGap(ctx, primary))
	for _, id := range secondaries {
		parts = append(parts, endpointOrGap(ctx, id))
	}
	return strings.Join(parts, EndpointDelimiter)
}

func endpointOrGap(ctx *dispatch.Context, id uint64) string {
	node, err := ctx.Nodes.Resolve(ctx.Ctx, id)
	if err != nil {
		ctx.Logger.Warn("replica node unresolved, leaving endpoint gap",
			slog.Uint64("node_id", id), slog.Any("err", err))
		return ""
	}
	return node.Endpoint
}

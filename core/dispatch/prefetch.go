package dispatch

import (
	"context"

	"melodex/core/pool"
	"melodex/core/records"
	"melodex/core/types"
)

// prefetch loads the current version of every key referenced anywhere in the
// block into the pool, one batch per kind. Metadata that fails to parse here
// is ignored; the owning handler rejects the event later.
func (d *Dispatcher) prefetch(ctx context.Context, blk *types.Block, p *pool.Pool) error {
	probes := make(map[records.Key]records.Record)
	appOwners := make(map[uint64]struct{})

	add := func(rec records.Record) {
		k := records.KeyOf(rec)
		if _, seen := probes[k]; !seen {
			probes[k] = rec
		}
	}
	addUser := func(id uint64) {
		if id != 0 {
			add(&records.User{UserID: id})
		}
	}

	for _, tx := range blk.Txs {
		for i := range tx.Events {
			ev := tx.Events[i]
			addUser(ev.UserID)

			switch ev.Kind {
			case types.KindPlaylist:
				add(&records.Playlist{PlaylistID: ev.EntityID})
			case types.KindFollow:
				addUser(ev.TargetID)
				add(&records.Follow{FollowerID: ev.UserID, FolloweeID: ev.TargetID})
			case types.KindSave:
				add(&records.Save{UserID: ev.UserID, TargetKind: ev.TargetKind, TargetID: ev.TargetID})
				d.addTargetProbe(add, ev.TargetKind, ev.TargetID)
			case types.KindRepost:
				add(&records.Repost{UserID: ev.UserID, TargetKind: ev.TargetKind, TargetID: ev.TargetID})
				d.addTargetProbe(add, ev.TargetKind, ev.TargetID)
			case types.KindSubscription:
				addUser(ev.TargetID)
				add(&records.Subscription{SubscriberID: ev.UserID, TargetUserID: ev.TargetID})
			case types.KindDeveloperApp:
				if ev.Action == types.ActionCreate {
					appOwners[ev.UserID] = struct{}{}
				}
				if raw, err := blk.ResolveMetadata(&ev); err == nil {
					if md, err := types.ParseAppReferenceMetadata(raw); err == nil {
						add(&records.DeveloperApp{Address: records.AppKey(md.Address)})
					}
				}
			case types.KindDelegation:
				if raw, err := blk.ResolveMetadata(&ev); err == nil {
					if md, err := types.ParseDelegationMetadata(raw); err == nil {
						add(&records.Delegation{UserID: ev.UserID, SharedAddress: md.SharedAddress})
					}
				}
			case types.KindReplicaSet:
				// Acting user row already probed.
			case types.KindContest:
				add(&records.ContestEvent{ContestID: ev.EntityID})
			case types.KindEmail:
				if raw, err := blk.ResolveMetadata(&ev); err == nil {
					if md, err := types.ParseEmailMetadata(raw); err == nil {
						addUser(md.ReceivingUserID)
						add(&records.EncryptedEmail{OwnerID: ev.UserID, ReceiverID: md.ReceivingUserID})
					}
				}
			}
		}
	}

	if len(probes) > 0 {
		flat := make([]records.Record, 0, len(probes))
		for _, rec := range probes {
			flat = append(flat, rec)
		}
		current, err := d.store.FetchCurrent(ctx, flat)
		if err != nil {
			return err
		}
		for _, rec := range current {
			p.SeedExisting(rec)
		}
	}

	if len(appOwners) > 0 {
		owners := make([]uint64, 0, len(appOwners))
		for id := range appOwners {
			owners = append(owners, id)
		}
		apps, err := d.store.AppsByOwner(ctx, owners)
		if err != nil {
			return err
		}
		for _, app := range apps {
			p.SeedExisting(app)
		}
	}
	return nil
}

func (d *Dispatcher) addTargetProbe(add func(records.Record), kind types.TargetKind, id uint64) {
	switch kind {
	case types.TargetTrack:
		add(&records.Track{TrackID: id})
	case types.TargetPlaylist:
		add(&records.Playlist{PlaylistID: int64(id)})
	case types.TargetUser:
		add(&records.User{UserID: id})
	}
}

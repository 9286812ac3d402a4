package playlist

import (
	"time"

	"melodex/core/records"
	"melodex/core/types"
)

type contentKey struct {
	track int64
	meta  int64
}

// reconcileContents rebuilds the ordered content list from the submitted
// pairs. A (track, submitted-time) pair that already appeared in the prior
// version keeps its originally recorded index time, so reordering or renaming
// a playlist does not re-stamp every track. Pairs not present before are
// stamped with the current block time.
func reconcileContents(prev records.PlaylistContents, submitted []types.TrackRef, blockTime time.Time) records.PlaylistContents {
	firstSeen := make(map[contentKey]int64, len(prev))
	for _, t := range prev {
		k := contentKey{track: t.TrackID, meta: t.MetadataTime}
		if _, ok := firstSeen[k]; !ok {
			firstSeen[k] = t.Time
		}
	}

	out := make(records.PlaylistContents, 0, len(submitted))
	for _, ref := range submitted {
		indexedAt := blockTime.Unix()
		if ts, ok := firstSeen[contentKey{track: ref.TrackID, meta: ref.Time}]; ok {
			indexedAt = ts
		}
		out = append(out, records.PlaylistTrack{
			TrackID:      ref.TrackID,
			Time:         indexedAt,
			MetadataTime: ref.Time,
		})
	}
	return out
}

// stampContents builds a content list for a brand-new playlist, where every
// pair is first seen at the current block.
func stampContents(submitted []types.TrackRef, blockTime time.Time) records.PlaylistContents {
	return reconcileContents(nil, submitted, blockTime)
}

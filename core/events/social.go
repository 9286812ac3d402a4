package events

import (
	"strconv"
	"time"
)

const (
	// TypeFollow is emitted when a user starts following another user.
	TypeFollow = "social.follow"
	// TypeUnfollow is emitted when a follow is removed.
	TypeUnfollow = "social.unfollow"
	// TypeSave is emitted when a user saves a track or playlist.
	TypeSave = "social.save"
	// TypeUnsave is emitted when a save is removed.
	TypeUnsave = "social.unsave"
	// TypeRepost is emitted when a user reposts a track or playlist.
	TypeRepost = "social.repost"
	// TypeUnrepost is emitted when a repost is removed.
	TypeUnrepost = "social.unrepost"
	// TypeSubscribe is emitted when a user subscribes to another user.
	TypeSubscribe = "social.subscribe"
	// TypeUnsubscribe is emitted when a subscription is removed.
	TypeUnsubscribe = "social.unsubscribe"
)

// FollowEvent builds the notification for a follow state change.
func FollowEvent(typ string, blockNumber uint64, blockTime time.Time, followerID, followeeID uint64) Event {
	return newEvent(typ, blockNumber, blockTime, followerID, map[string]string{
		"followee_user_id": strconv.FormatUint(followeeID, 10),
	})
}

// TargetEvent builds the notification for a save or repost state change.
func TargetEvent(typ string, blockNumber uint64, blockTime time.Time, userID uint64, targetKind string, targetID uint64) Event {
	return newEvent(typ, blockNumber, blockTime, userID, map[string]string{
		"target_kind": targetKind,
		"target_id":   strconv.FormatUint(targetID, 10),
	})
}

// SubscribeEvent builds the notification for a subscription state change.
func SubscribeEvent(typ string, blockNumber uint64, blockTime time.Time, subscriberID, targetUserID uint64) Event {
	return newEvent(typ, blockNumber, blockTime, subscriberID, map[string]string{
		"target_user_id": strconv.FormatUint(targetUserID, 10),
	})
}

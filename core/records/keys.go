package records

import (
	"fmt"

	"melodex/core/types"
)

// Natural-key serializers. Handlers and the dispatcher must build pool keys
// through these so every component indexes the same strings.

func UserKey(id uint64) string     { return fmt.Sprintf("%d", id) }
func TrackKey(id uint64) string    { return fmt.Sprintf("%d", id) }
func PlaylistKey(id int64) string  { return fmt.Sprintf("%d", id) }
func ContestKey(id int64) string   { return fmt.Sprintf("%d", id) }
func AppKey(address string) string { return types.NormalizeAddress(address) }

func FollowKey(follower, followee uint64) string {
	return fmt.Sprintf("%d:%d", follower, followee)
}

func SaveKey(user uint64, target types.TargetKind, targetID uint64) string {
	return fmt.Sprintf("%d:%s:%d", user, target, targetID)
}

func RepostKey(user uint64, target types.TargetKind, targetID uint64) string {
	return fmt.Sprintf("%d:%s:%d", user, target, targetID)
}

func SubscriptionKey(subscriber, target uint64) string {
	return fmt.Sprintf("%d:%d", subscriber, target)
}

func DelegationKey(user uint64, sharedAddress string) string {
	return fmt.Sprintf("%d:%s", user, types.NormalizeAddress(sharedAddress))
}

func EmailKey(owner, receiver uint64) string {
	return fmt.Sprintf("%d:%d", owner, receiver)
}

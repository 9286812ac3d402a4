package records

import (
	"fmt"
	"time"

	"melodex/core/errors"
	"melodex/core/types"
)

// User is the account row. Replica set updates produce new user versions;
// wallet and handle are written by the (out of scope) user metadata path and
// carried forward verbatim here.
type User struct {
	UserID              uint64 `gorm:"column:user_id;primaryKey"`
	Handle              string `gorm:"column:handle;size:255"`
	Wallet              string `gorm:"column:wallet;size:42;index"`
	PrimaryID           uint64 `gorm:"column:primary_id"`
	SecondaryIDs        IDList `gorm:"column:secondary_ids;type:text"`
	CreatorNodeEndpoint string `gorm:"column:creator_node_endpoint;type:text"`
	RecordBase
}

func (User) TableName() string { return "users" }

func (u *User) Kind() types.EntityKind { return types.KindUser }
func (u *User) Key() string            { return fmt.Sprintf("%d", u.UserID) }

func (u *User) KeyConds() map[string]any {
	return map[string]any{"user_id": u.UserID}
}

func (u *User) Check() error {
	if u.UserID == 0 {
		return &errors.SchemaError{Kind: "user", Key: u.Key(), Field: "user_id"}
	}
	if u.Wallet == "" {
		return &errors.SchemaError{Kind: "user", Key: u.Key(), Field: "wallet"}
	}
	return u.checkBase(types.KindUser, u.Key())
}

// Track is a read-only referential target for social actions; this engine
// never writes track versions.
type Track struct {
	TrackID    uint64 `gorm:"column:track_id;primaryKey"`
	OwnerID    uint64 `gorm:"column:owner_id;index"`
	Title      string `gorm:"column:title;size:255"`
	IsUnlisted bool   `gorm:"column:is_unlisted"`
	RecordBase
}

func (Track) TableName() string { return "tracks" }

func (t *Track) Kind() types.EntityKind { return types.KindTrack }
func (t *Track) Key() string            { return fmt.Sprintf("%d", t.TrackID) }

func (t *Track) KeyConds() map[string]any {
	return map[string]any{"track_id": t.TrackID}
}

func (t *Track) Check() error {
	if t.TrackID == 0 {
		return &errors.SchemaError{Kind: "track", Key: t.Key(), Field: "track_id"}
	}
	return t.checkBase(types.KindTrack, t.Key())
}

// Playlist is an ordered collection of tracks. Contents preserve the time a
// pair was first indexed across unrelated edits.
type Playlist struct {
	PlaylistID  int64            `gorm:"column:playlist_id;primaryKey"`
	OwnerID     uint64           `gorm:"column:owner_id;index"`
	Name        string           `gorm:"column:name;size:255"`
	Description string           `gorm:"column:description;type:text"`
	IsPrivate   bool             `gorm:"column:is_private"`
	IsAlbum     bool             `gorm:"column:is_album"`
	Contents    PlaylistContents `gorm:"column:contents;type:text"`
	RecordBase
}

func (Playlist) TableName() string { return "playlists" }

func (p *Playlist) Kind() types.EntityKind { return types.KindPlaylist }
func (p *Playlist) Key() string            { return fmt.Sprintf("%d", p.PlaylistID) }

func (p *Playlist) KeyConds() map[string]any {
	return map[string]any{"playlist_id": p.PlaylistID}
}

func (p *Playlist) Check() error {
	if p.PlaylistID == 0 {
		return &errors.SchemaError{Kind: "playlist", Key: p.Key(), Field: "playlist_id"}
	}
	if p.OwnerID == 0 {
		return &errors.SchemaError{Kind: "playlist", Key: p.Key(), Field: "owner_id"}
	}
	if p.Name == "" && !p.IsDelete {
		return &errors.SchemaError{Kind: "playlist", Key: p.Key(), Field: "name"}
	}
	return p.checkBase(types.KindPlaylist, p.Key())
}

// Follow links a follower to a followee.
type Follow struct {
	FollowerID uint64 `gorm:"column:follower_user_id;primaryKey"`
	FolloweeID uint64 `gorm:"column:followee_user_id;primaryKey"`
	RecordBase
}

func (Follow) TableName() string { return "follows" }

func (f *Follow) Kind() types.EntityKind { return types.KindFollow }

func (f *Follow) Key() string {
	return fmt.Sprintf("%d:%d", f.FollowerID, f.FolloweeID)
}

func (f *Follow) KeyConds() map[string]any {
	return map[string]any{"follower_user_id": f.FollowerID, "followee_user_id": f.FolloweeID}
}

func (f *Follow) Check() error {
	if f.FollowerID == 0 || f.FolloweeID == 0 {
		return &errors.SchemaError{Kind: "follow", Key: f.Key(), Field: "user ids"}
	}
	return f.checkBase(types.KindFollow, f.Key())
}

// Save marks a user's save of a track or playlist.
type Save struct {
	UserID     uint64           `gorm:"column:user_id;primaryKey"`
	TargetKind types.TargetKind `gorm:"column:target_kind;primaryKey;size:16"`
	TargetID   uint64           `gorm:"column:target_id;primaryKey"`
	RecordBase
}

func (Save) TableName() string { return "saves" }

func (s *Save) Kind() types.EntityKind { return types.KindSave }

func (s *Save) Key() string {
	return fmt.Sprintf("%d:%s:%d", s.UserID, s.TargetKind, s.TargetID)
}

func (s *Save) KeyConds() map[string]any {
	return map[string]any{"user_id": s.UserID, "target_kind": s.TargetKind, "target_id": s.TargetID}
}

func (s *Save) Check() error {
	if s.UserID == 0 || s.TargetID == 0 || s.TargetKind == "" {
		return &errors.SchemaError{Kind: "save", Key: s.Key(), Field: "target"}
	}
	return s.checkBase(types.KindSave, s.Key())
}

// Repost marks a user's repost of a track or playlist.
type Repost struct {
	UserID     uint64           `gorm:"column:user_id;primaryKey"`
	TargetKind types.TargetKind `gorm:"column:target_kind;primaryKey;size:16"`
	TargetID   uint64           `gorm:"column:target_id;primaryKey"`
	RecordBase
}

func (Repost) TableName() string { return "reposts" }

func (r *Repost) Kind() types.EntityKind { return types.KindRepost }

func (r *Repost) Key() string {
	return fmt.Sprintf("%d:%s:%d", r.UserID, r.TargetKind, r.TargetID)
}

func (r *Repost) KeyConds() map[string]any {
	return map[string]any{"user_id": r.UserID, "target_kind": r.TargetKind, "target_id": r.TargetID}
}

func (r *Repost) Check() error {
	if r.UserID == 0 || r.TargetID == 0 || r.TargetKind == "" {
		return &errors.SchemaError{Kind: "repost", Key: r.Key(), Field: "target"}
	}
	return r.checkBase(types.KindRepost, r.Key())
}

// Subscription marks a user subscribing to another user's activity.
type Subscription struct {
	SubscriberID uint64 `gorm:"column:subscriber_user_id;primaryKey"`
	TargetUserID uint64 `gorm:"column:target_user_id;primaryKey"`
	RecordBase
}

func (Subscription) TableName() string { return "subscriptions" }

func (s *Subscription) Kind() types.EntityKind { return types.KindSubscription }

func (s *Subscription) Key() string {
	return fmt.Sprintf("%d:%d", s.SubscriberID, s.TargetUserID)
}

func (s *Subscription) KeyConds() map[string]any {
	return map[string]any{"subscriber_user_id": s.SubscriberID, "target_user_id": s.TargetUserID}
}

func (s *Subscription) Check() error {
	if s.SubscriberID == 0 || s.TargetUserID == 0 {
		return &errors.SchemaError{Kind: "subscription", Key: s.Key(), Field: "user ids"}
	}
	return s.checkBase(types.KindSubscription, s.Key())
}

// DeveloperApp is a provisioned third-party application keyed by the address
// recovered from its off-chain provisioning signature.
type DeveloperApp struct {
	Address     string `gorm:"column:address;primaryKey;size:42"`
	OwnerID     uint64 `gorm:"column:owner_user_id;index"`
	Name        string `gorm:"column:name;size:50"`
	Description string `gorm:"column:description;type:text"`
	RecordBase
}

func (DeveloperApp) TableName() string { return "developer_apps" }

func (a *DeveloperApp) Kind() types.EntityKind { return types.KindDeveloperApp }
func (a *DeveloperApp) Key() string            { return a.Address }

func (a *DeveloperApp) KeyConds() map[string]any {
	return map[string]any{"address": a.Address}
}

func (a *DeveloperApp) Check() error {
	if a.Address == "" {
		return &errors.SchemaError{Kind: "developer_app", Key: a.Key(), Field: "address"}
	}
	if a.OwnerID == 0 {
		return &errors.SchemaError{Kind: "developer_app", Key: a.Key(), Field: "owner_user_id"}
	}
	if a.Name == "" && !a.IsDelete {
		return &errors.SchemaError{Kind: "developer_app", Key: a.Key(), Field: "name"}
	}
	return a.checkBase(types.KindDeveloperApp, a.Key())
}

// Delegation grants a shared address the right to act for a user. Revocation
// is a new version with IsRevoked set, never a physical delete.
type Delegation struct {
	UserID        uint64 `gorm:"column:user_id;primaryKey"`
	SharedAddress string `gorm:"column:shared_address;primaryKey;size:42"`
	IsRevoked     bool   `gorm:"column:is_revoked"`
	RecordBase
}

func (Delegation) TableName() string { return "delegations" }

func (d *Delegation) Kind() types.EntityKind { return types.KindDelegation }

func (d *Delegation) Key() string {
	return fmt.Sprintf("%d:%s", d.UserID, d.SharedAddress)
}

func (d *Delegation) KeyConds() map[string]any {
	return map[string]any{"user_id": d.UserID, "shared_address": d.SharedAddress}
}

func (d *Delegation) Check() error {
	if d.UserID == 0 || d.SharedAddress == "" {
		return &errors.SchemaError{Kind: "delegation", Key: d.Key(), Field: "key"}
	}
	return d.checkBase(types.KindDelegation, d.Key())
}

// ContestEvent is a time-bounded contest or listening event owned by a user.
type ContestEvent struct {
	ContestID int64     `gorm:"column:contest_id;primaryKey"`
	OwnerID   uint64    `gorm:"column:owner_id;index"`
	EventType string    `gorm:"column:event_type;size:64"`
	EndDate   time.Time `gorm:"column:end_date"`
	Data      string    `gorm:"column:data;type:text"`
	RecordBase
}

func (ContestEvent) TableName() string { return "contest_events" }

func (c *ContestEvent) Kind() types.EntityKind { return types.KindContest }
func (c *ContestEvent) Key() string            { return fmt.Sprintf("%d", c.ContestID) }

func (c *ContestEvent) KeyConds() map[string]any {
	return map[string]any{"contest_id": c.ContestID}
}

func (c *ContestEvent) Check() error {
	if c.ContestID == 0 {
		return &errors.SchemaError{Kind: "contest", Key: c.Key(), Field: "contest_id"}
	}
	if c.OwnerID == 0 {
		return &errors.SchemaError{Kind: "contest", Key: c.Key(), Field: "owner_id"}
	}
	return c.checkBase(types.KindContest, c.Key())
}

// EncryptedEmail shares a ciphertext from an owner to a receiving user.
type EncryptedEmail struct {
	OwnerID    uint64 `gorm:"column:owner_user_id;primaryKey"`
	ReceiverID uint64 `gorm:"column:receiving_user_id;primaryKey"`
	Ciphertext string `gorm:"column:ciphertext;type:text"`
	RecordBase
}

func (EncryptedEmail) TableName() string { return "encrypted_emails" }

func (e *EncryptedEmail) Kind() types.EntityKind { return types.KindEmail }

func (e *EncryptedEmail) Key() string {
	return fmt.Sprintf("%d:%d", e.OwnerID, e.ReceiverID)
}

func (e *EncryptedEmail) KeyConds() map[string]any {
	return map[string]any{"owner_user_id": e.OwnerID, "receiving_user_id": e.ReceiverID}
}

func (e *EncryptedEmail) Check() error {
	if e.OwnerID == 0 || e.ReceiverID == 0 {
		return &errors.SchemaError{Kind: "email", Key: e.Key(), Field: "key"}
	}
	if e.Ciphertext == "" {
		return &errors.SchemaError{Kind: "email", Key: e.Key(), Field: "ciphertext"}
	}
	return e.checkBase(types.KindEmail, e.Key())
}

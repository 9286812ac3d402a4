package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Metadata payloads are tagged per (kind, action) and validated at
// construction. Handlers never see a payload that failed its schema check.

const maxNameLength = 50

// TrackRef is one (track id, submitter time) pair in a playlist payload.
// Time is the submitter-supplied timestamp used by the content-stability
// reconciliation; it is not the indexed-at time.
type TrackRef struct {
	TrackID int64 `json:"track"`
	Time    int64 `json:"time"`
}

// PlaylistMetadata is the payload for playlist create/update events.
type PlaylistMetadata struct {
	Name        string     `json:"playlist_name"`
	Description string     `json:"description"`
	IsPrivate   bool       `json:"is_private"`
	IsAlbum     bool       `json:"is_album"`
	Tracks      []TrackRef `json:"track_ids"`
}

// ParsePlaylistMetadata decodes and schema-checks a playlist payload.
func ParsePlaylistMetadata(raw string) (*PlaylistMetadata, error) {
	var md PlaylistMetadata
	if err := decodeStrict(raw, &md); err != nil {
		return nil, err
	}
	if strings.TrimSpace(md.Name) == "" {
		return nil, errors.New("playlist metadata: name required")
	}
	for _, ref := range md.Tracks {
		if ref.TrackID <= 0 {
			return nil, fmt.Errorf("playlist metadata: invalid track id %d", ref.TrackID)
		}
	}
	return &md, nil
}

// SignedPayload carries an off-chain message and its secp256k1 signature.
type SignedPayload struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// DeveloperAppMetadata is the payload for developer app create events.
type DeveloperAppMetadata struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Signature   SignedPayload `json:"app_signature"`
}

// ParseDeveloperAppMetadata decodes and schema-checks a developer app payload.
func ParseDeveloperAppMetadata(raw string) (*DeveloperAppMetadata, error) {
	var md DeveloperAppMetadata
	if err := decodeStrict(raw, &md); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(md.Name)
	if name == "" {
		return nil, errors.New("developer app metadata: name required")
	}
	if len(name) > maxNameLength {
		return nil, fmt.Errorf("developer app metadata: name exceeds %d characters", maxNameLength)
	}
	if md.Signature.Message == "" || md.Signature.Signature == "" {
		return nil, errors.New("developer app metadata: app signature required")
	}
	md.Name = name
	return &md, nil
}

// AppReferenceMetadata is the payload for developer app delete events: it
// names the app by its provisioned address.
type AppReferenceMetadata struct {
	Address string `json:"address"`
}

// ParseAppReferenceMetadata decodes and schema-checks an app reference.
func ParseAppReferenceMetadata(raw string) (*AppReferenceMetadata, error) {
	var md AppReferenceMetadata
	if err := decodeStrict(raw, &md); err != nil {
		return nil, err
	}
	addr := NormalizeAddress(md.Address)
	if addr == "" {
		return nil, errors.New("app reference metadata: address required")
	}
	md.Address = addr
	return &md, nil
}

// DelegationMetadata is the payload for delegation create/delete events.
type DelegationMetadata struct {
	SharedAddress string `json:"shared_address"`
}

// ParseDelegationMetadata decodes and schema-checks a delegation payload.
// The shared address is case-normalized here so every later comparison
// operates on the same form.
func ParseDelegationMetadata(raw string) (*DelegationMetadata, error) {
	var md DelegationMetadata
	if err := decodeStrict(raw, &md); err != nil {
		return nil, err
	}
	addr := NormalizeAddress(md.SharedAddress)
	if addr == "" {
		return nil, errors.New("delegation metadata: shared address required")
	}
	md.SharedAddress = addr
	return &md, nil
}

// ReplicaSetMetadata is the payload for replica set update events. The Prev
// fields echo what the submitter believes is the current set and act as an
// optimistic-concurrency guard.
type ReplicaSetMetadata struct {
	PrimaryID        uint64   `json:"primary_id"`
	SecondaryIDs     []uint64 `json:"secondary_ids"`
	PrevPrimaryID    uint64   `json:"prev_primary_id"`
	PrevSecondaryIDs []uint64 `json:"prev_secondary_ids"`
}

// ParseReplicaSetMetadata decodes and schema-checks a replica set payload.
func ParseReplicaSetMetadata(raw string) (*ReplicaSetMetadata, error) {
	var md ReplicaSetMetadata
	if err := decodeStrict(raw, &md); err != nil {
		return nil, err
	}
	if md.PrimaryID == 0 {
		return nil, errors.New("replica set metadata: primary id required")
	}
	return &md, nil
}

// ContestMetadata is the payload for contest event create/update events.
type ContestMetadata struct {
	EventType string `json:"event_type"`
	EndDate   int64  `json:"end_date"`
	Data      string `json:"data,omitempty"`
}

// ParseContestMetadata decodes and schema-checks a contest payload.
func ParseContestMetadata(raw string) (*ContestMetadata, error) {
	var md ContestMetadata
	if err := decodeStrict(raw, &md); err != nil {
		return nil, err
	}
	if strings.TrimSpace(md.EventType) == "" {
		return nil, errors.New("contest metadata: event type required")
	}
	return &md, nil
}

// End returns the contest end date as a time, or zero when unset.
func (m *ContestMetadata) End() time.Time {
	if m.EndDate == 0 {
		return time.Time{}
	}
	return time.Unix(m.EndDate, 0).UTC()
}

// EmailMetadata is the payload for encrypted email create/update events.
type EmailMetadata struct {
	ReceivingUserID uint64 `json:"receiving_user_id"`
	EncryptedEmail  string `json:"encrypted_email"`
}

// ParseEmailMetadata decodes and schema-checks an encrypted email payload.
func ParseEmailMetadata(raw string) (*EmailMetadata, error) {
	var md EmailMetadata
	if err := decodeStrict(raw, &md); err != nil {
		return nil, err
	}
	if md.ReceivingUserID == 0 {
		return nil, errors.New("email metadata: receiving user required")
	}
	if md.EncryptedEmail == "" {
		return nil, errors.New("email metadata: ciphertext required")
	}
	return &md, nil
}

func decodeStrict(raw string, dst any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	return nil
}

package types

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind identifies the class of record an on-chain event mutates.
type EntityKind string

const (
	KindUser         EntityKind = "user"
	KindTrack        EntityKind = "track"
	KindPlaylist     EntityKind = "playlist"
	KindFollow       EntityKind = "follow"
	KindSave         EntityKind = "save"
	KindRepost       EntityKind = "repost"
	KindSubscription EntityKind = "subscription"
	KindDeveloperApp EntityKind = "developer_app"
	KindDelegation   EntityKind = "delegation"
	KindReplicaSet   EntityKind = "replica_set"
	KindContest      EntityKind = "contest"
	KindEmail        EntityKind = "email"
)

// Valid reports whether the kind is one the engine knows how to dispatch.
func (k EntityKind) Valid() bool {
	switch k {
	case KindUser, KindTrack, KindPlaylist, KindFollow, KindSave, KindRepost,
		KindSubscription, KindDeveloperApp, KindDelegation, KindReplicaSet,
		KindContest, KindEmail:
		return true
	}
	return false
}

func (k EntityKind) String() string { return string(k) }

// Action identifies the mutation an event requests against its entity.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

func (a Action) String() string { return string(a) }

// TargetKind distinguishes what a social action points at.
type TargetKind string

const (
	TargetUser     TargetKind = "user"
	TargetTrack    TargetKind = "track"
	TargetPlaylist TargetKind = "playlist"
)

// BlockRef carries the provenance stamped onto every record version
// produced while processing a block.
type BlockRef struct {
	Number uint64
	Hash   string
	Time   time.Time
}

// EntityEvent is a single decoded mutation request. The upstream ingestion
// layer produces these; the engine only consumes them.
type EntityEvent struct {
	UserID     uint64     `json:"user_id"`
	Kind       EntityKind `json:"kind"`
	Action     Action     `json:"action"`
	EntityID   int64      `json:"entity_id,omitempty"`
	TargetKind TargetKind `json:"target_kind,omitempty"`
	TargetID   uint64     `json:"target_id,omitempty"`

	// Metadata is either an inline JSON object or a content-address key
	// into the block's Resolved table.
	Metadata string `json:"metadata,omitempty"`

	// Signer is the address recovered from the transaction signature by
	// the ingestion layer, already hex encoded.
	Signer string `json:"signer"`
}

// Transaction groups the events decoded from one chain transaction.
type Transaction struct {
	Hash   string        `json:"hash"`
	Events []EntityEvent `json:"events"`
}

// Block is the unit of work handed to the dispatcher.
type Block struct {
	Number uint64        `json:"number"`
	Hash   string        `json:"hash"`
	Time   time.Time     `json:"time"`
	Txs    []Transaction `json:"txs"`

	// Resolved maps content-address keys to metadata payloads fetched
	// ahead of time by the ingestion layer.
	Resolved map[string]string `json:"resolved,omitempty"`
}

// Ref returns the provenance stamp for records produced from this block.
func (b *Block) Ref() BlockRef {
	return BlockRef{Number: b.Number, Hash: b.Hash, Time: b.Time}
}

// ResolveMetadata returns the event's metadata payload, following a
// content-address indirection through the block's resolved table when the
// payload is not inline JSON.
func (b *Block) ResolveMetadata(ev *EntityEvent) (string, error) {
	raw := strings.TrimSpace(ev.Metadata)
	if raw == "" {
		return "", nil
	}
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw, nil
	}
	resolved, ok := b.Resolved[raw]
	if !ok {
		return "", fmt.Errorf("metadata key %q not in resolved table", raw)
	}
	return resolved, nil
}

// NormalizeAddress lower-cases a hex address for comparison. Signer and
// wallet checks throughout the engine operate on normalized addresses only.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Package records defines the versioned entity rows the engine produces.
// Every kind shares RecordBase: an append-only history where at most one row
// per natural key is current at any settled point in time.
package records

import (
	"time"

	"melodex/core/errors"
	"melodex/core/types"
)

// RecordBase carries the versioning flags and block provenance shared by all
// entity rows. The primary key of each table is (natural key, is_current,
// tx_hash) so a key can accumulate historical rows.
type RecordBase struct {
	IsCurrent   bool      `gorm:"column:is_current;primaryKey"`
	IsDelete    bool      `gorm:"column:is_delete"`
	BlockNumber uint64    `gorm:"column:block_number;index"`
	BlockHash   string    `gorm:"column:block_hash;size:66"`
	TxHash      string    `gorm:"column:tx_hash;primaryKey;size:66"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// StampedBase builds the base for a freshly produced version: current, not
// deleted, stamped with the block being processed. Handlers producing a new
// version of an existing entity carry the prior CreatedAt forward themselves.
func StampedBase(ref types.BlockRef, txHash string) RecordBase {
	return RecordBase{
		IsCurrent:   true,
		BlockNumber: ref.Number,
		BlockHash:   ref.Hash,
		TxHash:      txHash,
		CreatedAt:   ref.Time,
		UpdatedAt:   ref.Time,
	}
}

func (b *RecordBase) Base() *RecordBase { return b }

func (b *RecordBase) checkBase(kind types.EntityKind, key string) error {
	if b.BlockHash == "" {
		return &errors.SchemaError{Kind: kind.String(), Key: key, Field: "block_hash"}
	}
	if b.TxHash == "" {
		return &errors.SchemaError{Kind: kind.String(), Key: key, Field: "tx_hash"}
	}
	if b.CreatedAt.IsZero() || b.UpdatedAt.IsZero() {
		return &errors.SchemaError{Kind: kind.String(), Key: key, Field: "timestamps"}
	}
	return nil
}

// Record is the versioned row contract every entity model satisfies.
type Record interface {
	Kind() types.EntityKind
	Key() string
	Base() *RecordBase

	// KeyConds maps natural-key column names to values, used by storage
	// to demote and fetch current rows.
	KeyConds() map[string]any

	// Check validates required fields right before the record enters the
	// pool; a failure here is a SchemaError, not a validation failure.
	Check() error
}

// Key pairs an entity kind with a serialized natural key. It indexes both
// pool maps and the changed-key sets returned from a committed block.
type Key struct {
	Kind types.EntityKind
	Key  string
}

// KeyOf builds the pool index key for a record.
func KeyOf(r Record) Key {
	return Key{Kind: r.Kind(), Key: r.Key()}
}

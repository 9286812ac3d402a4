// Package pool holds the in-block working set of entity versions. Existing
// rows are prefetched once per block; pending versions accumulate in strict
// event order. Every handler resolves state through the same
// pending-overlay-over-existing rule.
package pool

import (
	"sort"

	"melodex/core/records"
	"melodex/core/types"
)

// Pool is the per-block record working set. It is not safe for concurrent
// use; block processing is strictly sequential.
type Pool struct {
	existing map[records.Key]records.Record
	pending  map[records.Key][]records.Record

	// order remembers the sequence keys first received a pending version,
	// keeping commit output deterministic.
	order []records.Key
}

// New returns an empty pool for a fresh block.
func New() *Pool {
	return &Pool{
		existing: make(map[records.Key]records.Record),
		pending:  make(map[records.Key][]records.Record),
	}
}

// SeedExisting installs the current pre-block version for a key. Called only
// during the dispatcher's prefetch phase, before any event is processed.
func (p *Pool) SeedExisting(rec records.Record) {
	p.existing[records.KeyOf(rec)] = rec
}

// Resolve returns the version of a key as seen at this point of the block:
// the newest pending version when one exists, otherwise the pre-block row.
// This is the read-your-writes rule; handlers must never bypass it.
func (p *Pool) Resolve(kind types.EntityKind, key string) (records.Record, bool) {
	k := records.Key{Kind: kind, Key: key}
	if chain := p.pending[k]; len(chain) > 0 {
		return chain[len(chain)-1], true
	}
	rec, ok := p.existing[k]
	return rec, ok
}

// Existing returns only the pre-block version of a key, ignoring pending
// writes. Used by checks that must compare against settled state, such as
// the replica set optimistic-concurrency guard.
func (p *Pool) Existing(kind types.EntityKind, key string) (records.Record, bool) {
	rec, ok := p.existing[records.Key{Kind: kind, Key: key}]
	return rec, ok
}

// Add appends a validated version to the pending chain for its key, after a
// completeness gate. A Check failure indicates a handler defect and surfaces
// as a SchemaError.
func (p *Pool) Add(rec records.Record) error {
	if err := rec.Check(); err != nil {
		return err
	}
	k := records.KeyOf(rec)
	if _, seen := p.pending[k]; !seen {
		p.order = append(p.order, k)
	}
	p.pending[k] = append(p.pending[k], rec)
	return nil
}

// Each visits the resolved view of every key of the given kind: pending
// chains contribute their newest version, untouched existing rows contribute
// themselves. Used for quota counts that must span durable and in-block
// state. Iteration stops when fn returns false.
func (p *Pool) Each(kind types.EntityKind, fn func(records.Record) bool) {
	for k, chain := range p.pending {
		if k.Kind != kind || len(chain) == 0 {
			continue
		}
		if !fn(chain[len(chain)-1]) {
			return
		}
	}
	for k, rec := range p.existing {
		if k.Kind != kind {
			continue
		}
		if _, shadowed := p.pending[k]; shadowed {
			continue
		}
		if !fn(rec) {
			return
		}
	}
}

// PendingEntry is one key's full in-block version chain plus the pre-block
// row it supersedes, in the order entries first appeared in the block.
type PendingEntry struct {
	Key      records.Key
	Prior    records.Record // nil when the key did not exist before the block
	Versions []records.Record
}

// Snapshot extracts the commit plan: every key with at least one pending
// version, in first-write order. The final version of each chain is the new
// current row; earlier versions are superseded history.
func (p *Pool) Snapshot() []PendingEntry {
	entries := make([]PendingEntry, 0, len(p.order))
	for _, k := range p.order {
		chain := p.pending[k]
		if len(chain) == 0 {
			continue
		}
		entries = append(entries, PendingEntry{
			Key:      k,
			Prior:    p.existing[k],
			Versions: chain,
		})
	}
	return entries
}

// ChangedKeys returns, per kind, the sorted natural keys with pending
// versions. Downstream cache and search invalidators consume this.
func (p *Pool) ChangedKeys() map[types.EntityKind][]string {
	out := make(map[types.EntityKind][]string)
	for k, chain := range p.pending {
		if len(chain) == 0 {
			continue
		}
		out[k.Kind] = append(out[k.Kind], k.Key)
	}
	for kind := range out {
		sort.Strings(out[kind])
	}
	return out
}

// MutationCount returns the total number of pending versions in the pool.
func (p *Pool) MutationCount() int {
	n := 0
	for _, chain := range p.pending {
		n += len(chain)
	}
	return n
}

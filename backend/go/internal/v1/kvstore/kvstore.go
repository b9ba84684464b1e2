// Package kvstore implements the typed, staged view over storage.Store that
// mutators read and write through during a turn. Writes are buffered in a
// staging map and only materialized into the durable store (and the
// broadcast patch) on commit, giving every mutator in a turn a consistent
// read-your-writes snapshot without touching storage per mutator.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/room-sync/fabric/internal/v1/storage"
	"github.com/room-sync/fabric/internal/v1/types"
)

// Tx is the view a mutator executes against. All keys are relative to the
// room's "user/" namespace; mutators never see AuthFront or RoomCore
// bookkeeping keys (client/, connected/, version).
type Tx interface {
	Get(key string) (json.RawMessage, bool, error)
	Put(key string, value json.RawMessage) error
	Del(key string) error
	Has(key string) (bool, error)
	Scan(prefix string, limit int) ([]storage.Entry, error)
	// DeleteAll wipes every key in the room's namespace. Earlier writes
	// staged in this turn are discarded; writes staged by mutators that
	// run after this one still apply on top of the cleared state.
	DeleteAll() error
}

// Mutator is a user-defined side-effect function from (tx, args, ctx) to
// writes, resolved by name from a registry.MutatorRegistry and invoked once
// per due mutation inside a turn.
type Mutator func(tx Tx, args json.RawMessage, ctx types.MutationCtx) error

const userPrefix = "user/"

type stagedOp struct {
	deleted bool
	value   json.RawMessage
}

// TxStore wraps storage.Store with a staging map for one turn's writes.
// Staged writes are always visible to later mutators in the same turn
// (read-your-writes) and reach the durable store only in Commit.
// allowUnconfirmedWrites is stored but does not change either behaviour.
type TxStore struct {
	ctx                    context.Context
	store                  storage.Store
	staged                 map[string]stagedOp
	clearedAll             bool
	allowUnconfirmedWrites bool
}

// Open begins a turn's transaction against store.
func Open(ctx context.Context, store storage.Store, allowUnconfirmedWrites bool) *TxStore {
	return &TxStore{
		ctx:                    ctx,
		store:                  store,
		staged:                 make(map[string]stagedOp),
		allowUnconfirmedWrites: allowUnconfirmedWrites,
	}
}

func (t *TxStore) k(key string) string {
	return userPrefix + key
}

// Get reads a key, preferring staged writes from earlier mutators in this
// turn over the durable value (read-your-writes within a turn).
func (t *TxStore) Get(key string) (json.RawMessage, bool, error) {
	if op, ok := t.staged[key]; ok {
		if op.deleted {
			return nil, false, nil
		}
		return op.value, true, nil
	}
	if t.clearedAll {
		return nil, false, nil
	}
	return t.store.Get(t.ctx, t.k(key))
}

// Put stages a write. Materialized into storage and the broadcast patch
// only when the turn commits.
func (t *TxStore) Put(key string, value json.RawMessage) error {
	t.staged[key] = stagedOp{value: value}
	return nil
}

// Del stages a deletion.
func (t *TxStore) Del(key string) error {
	t.staged[key] = stagedOp{deleted: true}
	return nil
}

// DeleteAll stages a wipe of the entire room namespace (the built-in
// "deleteAll" mutator, §4.5 step 6). Discards every write staged so far
// this turn, since they would just be wiped anyway.
func (t *TxStore) DeleteAll() error {
	t.staged = make(map[string]stagedOp)
	t.clearedAll = true
	return nil
}

// Has reports whether key currently resolves to a value, staged or durable.
func (t *TxStore) Has(key string) (bool, error) {
	_, ok, err := t.Get(key)
	return ok, err
}

// Scan lists keys under prefix, merging staged writes over the durable
// snapshot. limit <= 0 means unbounded.
func (t *TxStore) Scan(prefix string, limit int) ([]storage.Entry, error) {
	durable, err := t.store.List(t.ctx, t.k(prefix), "", "")
	if err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage)
	if !t.clearedAll {
		for _, e := range durable {
			merged[strip(e.Key)] = e.Value
		}
	}
	for key, op := range t.staged {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if op.deleted {
			delete(merged, key)
			continue
		}
		merged[key] = op.value
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	entries := make([]storage.Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, storage.Entry{Key: k, Value: merged[k]})
	}
	return entries, nil
}

func strip(key string) string {
	if len(key) >= len(userPrefix) && key[:len(userPrefix)] == userPrefix {
		return key[len(userPrefix):]
	}
	return key
}

// RollbackKeys drops the staged write for each of keys. roomcore's
// rollbackSince passes the keys first staged by a failed mutator.
func (t *TxStore) RollbackKeys(keys []string) {
	for _, k := range keys {
		delete(t.staged, k)
	}
}

// StagedKeys returns the keys written or deleted so far in this
// transaction, useful for a mutator-scoped rollback checkpoint.
func (t *TxStore) StagedKeys() []string {
	keys := make([]string, 0, len(t.staged))
	for k := range t.staged {
		keys = append(keys, k)
	}
	return keys
}

// Commit materializes staged writes into the durable store in key order
// and returns the ordered patch describing them, for broadcast as a poke.
// Commit is the point at which writes become durable, whatever
// allowUnconfirmedWrites says; callers must not broadcast the patch until
// Commit returns without error.
func (t *TxStore) Commit() ([]types.PatchOp, error) {
	if !t.clearedAll && len(t.staged) == 0 {
		return nil, nil
	}

	var patch []types.PatchOp

	if t.clearedAll {
		if err := t.store.DeleteAll(t.ctx, userPrefix); err != nil {
			return nil, fmt.Errorf("kvstore commit deleteAll: %w", err)
		}
		patch = append(patch, types.PatchOp{Op: "clear"})
	}

	keys := make([]string, 0, len(t.staged))
	for k := range t.staged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		op := t.staged[key]
		if op.deleted {
			if err := t.store.Delete(t.ctx, t.k(key)); err != nil {
				return nil, fmt.Errorf("kvstore commit delete %q: %w", key, err)
			}
			patch = append(patch, types.PatchOp{Op: "del", Key: key})
			continue
		}
		if err := t.store.Put(t.ctx, t.k(key), op.value); err != nil {
			return nil, fmt.Errorf("kvstore commit put %q: %w", key, err)
		}
		patch = append(patch, types.PatchOp{Op: "put", Key: key, Value: op.value})
	}

	if err := t.store.Flush(t.ctx); err != nil {
		return nil, fmt.Errorf("kvstore commit flush: %w", err)
	}

	return patch, nil
}

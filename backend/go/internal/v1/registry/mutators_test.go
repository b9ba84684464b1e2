package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/room-sync/fabric/internal/v1/kvstore"
	"github.com/room-sync/fabric/internal/v1/storage"
	"github.com/room-sync/fabric/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMutatorRegistry_HasBuiltins(t *testing.T) {
	m := NewMutatorRegistry()

	for _, name := range []string{"put", "del", "increment", "deleteAll"} {
		_, ok := m.Lookup(name)
		assert.True(t, ok, "expected builtin mutator %q", name)
	}

	_, ok := m.Lookup("does-not-exist")
	assert.False(t, ok)
}

func TestMutatorPut(t *testing.T) {
	m := NewMutatorRegistry()
	fn, _ := m.Lookup("put")

	store := storage.NewMemStore()
	tx := kvstore.Open(context.Background(), store, false)

	args, _ := json.Marshal(putArgs{Key: "x", Value: json.RawMessage(`42`)})
	require.NoError(t, fn(tx, args, types.MutationCtx{}))

	v, ok, err := tx.Get("x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, json.RawMessage(`42`), v)
}

func TestMutatorDel(t *testing.T) {
	m := NewMutatorRegistry()
	putFn, _ := m.Lookup("put")
	delFn, _ := m.Lookup("del")

	store := storage.NewMemStore()
	tx := kvstore.Open(context.Background(), store, false)

	pArgs, _ := json.Marshal(putArgs{Key: "x", Value: json.RawMessage(`1`)})
	require.NoError(t, putFn(tx, pArgs, types.MutationCtx{}))

	dArgs, _ := json.Marshal(delArgs{Key: "x"})
	require.NoError(t, delFn(tx, dArgs, types.MutationCtx{}))

	_, ok, err := tx.Get("x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMutatorIncrement_FromZero(t *testing.T) {
	m := NewMutatorRegistry()
	fn, _ := m.Lookup("increment")

	store := storage.NewMemStore()
	tx := kvstore.Open(context.Background(), store, false)

	args, _ := json.Marshal(incrementArgs{Key: "counter", By: 5})
	require.NoError(t, fn(tx, args, types.MutationCtx{}))

	v, ok, err := tx.Get("counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `5`, string(v))
}

func TestMutatorIncrement_Accumulates(t *testing.T) {
	m := NewMutatorRegistry()
	fn, _ := m.Lookup("increment")

	store := storage.NewMemStore()
	tx := kvstore.Open(context.Background(), store, false)

	args, _ := json.Marshal(incrementArgs{Key: "counter", By: 1})
	require.NoError(t, fn(tx, args, types.MutationCtx{}))
	require.NoError(t, fn(tx, args, types.MutationCtx{}))
	require.NoError(t, fn(tx, args, types.MutationCtx{}))

	v, _, err := tx.Get("counter")
	require.NoError(t, err)
	assert.JSONEq(t, `3`, string(v))
}

func TestMutatorIncrement_DefaultsByToOne(t *testing.T) {
	m := NewMutatorRegistry()
	fn, _ := m.Lookup("increment")

	store := storage.NewMemStore()
	tx := kvstore.Open(context.Background(), store, false)

	args, _ := json.Marshal(incrementArgs{Key: "counter"})
	require.NoError(t, fn(tx, args, types.MutationCtx{}))

	v, _, err := tx.Get("counter")
	require.NoError(t, err)
	assert.JSONEq(t, `1`, string(v))
}

func TestMutatorPut_MissingKeyErrors(t *testing.T) {
	m := NewMutatorRegistry()
	fn, _ := m.Lookup("put")

	store := storage.NewMemStore()
	tx := kvstore.Open(context.Background(), store, false)

	args, _ := json.Marshal(putArgs{Value: json.RawMessage(`1`)})
	assert.Error(t, fn(tx, args, types.MutationCtx{}))
}

func TestMutatorDeleteAll(t *testing.T) {
	m := NewMutatorRegistry()
	putFn, _ := m.Lookup("put")
	deleteAllFn, _ := m.Lookup("deleteAll")

	store := storage.NewMemStore()
	tx := kvstore.Open(context.Background(), store, false)

	pArgs, _ := json.Marshal(putArgs{Key: "x", Value: json.RawMessage(`1`)})
	require.NoError(t, putFn(tx, pArgs, types.MutationCtx{}))
	require.NoError(t, deleteAllFn(tx, nil, types.MutationCtx{}))

	_, ok, err := tx.Get("x")
	require.NoError(t, err)
	assert.False(t, ok)

	patch, err := tx.Commit()
	require.NoError(t, err)
	require.Len(t, patch, 1)
	assert.Equal(t, "clear", patch[0].Op)
}

func TestDisconnectMutatorRegistration(t *testing.T) {
	m := NewMutatorRegistry()
	assert.False(t, m.HasDisconnectMutator())

	m.Register(DisconnectMutatorName, func(tx kvstore.Tx, args json.RawMessage, ctx types.MutationCtx) error {
		return nil
	})
	assert.True(t, m.HasDisconnectMutator())
}

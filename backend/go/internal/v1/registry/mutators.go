package registry

import (
	"encoding/json"
	"fmt"

	"github.com/room-sync/fabric/internal/v1/kvstore"
	"github.com/room-sync/fabric/internal/v1/types"
)

// DisconnectMutatorName is the reserved name under which an application
// registers its disconnect mutator (C11). The TurnLoop invokes it by this
// name for any clientID present in the durable connected set but absent
// from the ClientRegistry.
const DisconnectMutatorName = "_disconnect"

// MutatorRegistry resolves mutation names to Mutator functions. Four
// built-ins (put, del, increment, deleteAll) are always registered so a
// room works out of the box; applications add domain mutators and,
// optionally, a disconnect mutator under DisconnectMutatorName.
type MutatorRegistry struct {
	mutators map[string]kvstore.Mutator
}

// NewMutatorRegistry creates a registry pre-populated with the built-in
// mutators.
func NewMutatorRegistry() *MutatorRegistry {
	m := &MutatorRegistry{mutators: make(map[string]kvstore.Mutator)}
	m.Register("put", mutatorPut)
	m.Register("del", mutatorDel)
	m.Register("increment", mutatorIncrement)
	m.Register("deleteAll", mutatorDeleteAll)
	return m
}

// Register adds or replaces a named mutator.
func (m *MutatorRegistry) Register(name string, fn kvstore.Mutator) {
	m.mutators[name] = fn
}

// Lookup resolves name to a Mutator. ok is false when no mutator with
// that name has been registered; the TurnLoop treats this as "skip with
// warn" while still advancing lastMutationID.
func (m *MutatorRegistry) Lookup(name string) (kvstore.Mutator, bool) {
	fn, ok := m.mutators[name]
	return fn, ok
}

// HasDisconnectMutator reports whether the application registered a
// disconnect mutator.
func (m *MutatorRegistry) HasDisconnectMutator() bool {
	_, ok := m.mutators[DisconnectMutatorName]
	return ok
}

// putArgs is the args shape for the built-in "put" mutator.
type putArgs struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func mutatorPut(tx kvstore.Tx, args json.RawMessage, ctx types.MutationCtx) error {
	var a putArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("put: invalid args: %w", err)
	}
	if a.Key == "" {
		return fmt.Errorf("put: key is required")
	}
	return tx.Put(a.Key, a.Value)
}

type delArgs struct {
	Key string `json:"key"`
}

func mutatorDel(tx kvstore.Tx, args json.RawMessage, ctx types.MutationCtx) error {
	var a delArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("del: invalid args: %w", err)
	}
	if a.Key == "" {
		return fmt.Errorf("del: key is required")
	}
	return tx.Del(a.Key)
}

type incrementArgs struct {
	Key string `json:"key"`
	By  int64  `json:"by"`
}

func mutatorIncrement(tx kvstore.Tx, args json.RawMessage, ctx types.MutationCtx) error {
	var a incrementArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("increment: invalid args: %w", err)
	}
	if a.Key == "" {
		return fmt.Errorf("increment: key is required")
	}
	if a.By == 0 {
		a.By = 1
	}

	var current int64
	raw, ok, err := tx.Get(a.Key)
	if err != nil {
		return fmt.Errorf("increment: read %q: %w", a.Key, err)
	}
	if ok {
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("increment: existing value at %q is not a number: %w", a.Key, err)
		}
	}

	next, err := json.Marshal(current + a.By)
	if err != nil {
		return fmt.Errorf("increment: marshal result: %w", err)
	}
	return tx.Put(a.Key, next)
}

// mutatorDeleteAll wipes every key in the room's namespace (§4.5 step 6:
// "clear is emitted only for deleteAll"). Takes no args.
func mutatorDeleteAll(tx kvstore.Tx, args json.RawMessage, ctx types.MutationCtx) error {
	return tx.DeleteAll()
}

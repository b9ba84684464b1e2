// Package registry implements the two in-memory registries a RoomCore
// owns: ClientRegistry (C5), the live clientID -> ClientState map, and
// MutatorRegistry (C22), the name -> Mutator lookup table mutators are
// resolved from during a turn.
package registry

import (
	"sync"

	"github.com/room-sync/fabric/internal/v1/types"
	"k8s.io/utils/set"
)

// ClientRegistry is the in-memory map of currently-connected clients for
// one room. Socket handlers hold only a clientID back-reference; the
// registry is the single owner of ClientState, so closing a client is
// just a map delete with no reference cycles to unwind.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[types.ClientIDType]*types.ClientState
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[types.ClientIDType]*types.ClientState)}
}

// Get returns the ClientState for clientID, if connected.
func (r *ClientRegistry) Get(clientID types.ClientIDType) (*types.ClientState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.clients[clientID]
	return s, ok
}

// Set installs or replaces the ClientState for clientID. Callers must
// close any previously-returned ClientState's connection themselves
// before replacing it (ConnectHandler's "forced reconnect" step).
func (r *ClientRegistry) Set(clientID types.ClientIDType, state *types.ClientState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[clientID] = state
}

// Delete removes clientID from the registry. Safe to call even if the
// entry is already gone.
func (r *ClientRegistry) Delete(clientID types.ClientIDType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
}

// Len reports the number of connected clients.
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns a stable copy of the registry for lock-free callers
// such as authConnections and the turn loop's poke fan-out.
func (r *ClientRegistry) Snapshot() map[types.ClientIDType]*types.ClientState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[types.ClientIDType]*types.ClientState, len(r.clients))
	for k, v := range r.clients {
		out[k] = v
	}
	return out
}

// IDs returns the set of currently-connected client IDs.
func (r *ClientRegistry) IDs() set.Set[types.ClientIDType] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := set.New[types.ClientIDType]()
	for k := range r.clients {
		ids.Insert(k)
	}
	return ids
}

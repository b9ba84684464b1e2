package authfront

import (
	"sync"

	"github.com/room-sync/fabric/internal/v1/clock"
	"github.com/room-sync/fabric/internal/v1/registry"
	"github.com/room-sync/fabric/internal/v1/roomcore"
	"github.com/room-sync/fabric/internal/v1/storage"
	"github.com/room-sync/fabric/internal/v1/types"
)

// RoomManager owns the set of live RoomCore actors this process hosts, one
// roomcore.Room per open roomID, all sharing a single durable Store. It is
// the in-process stand-in for the RoomCore RPC boundary the spec treats as
// an external collaborator: AuthFront and RoomCore run in one binary here,
// so "forward the upgrade to RoomCore" (§4.8 step 5) is a direct call
// rather than a network hop.
type RoomManager struct {
	store    storage.Store
	clk      clock.Clock
	bus      types.BusService
	mutators *registry.MutatorRegistry
	cfg      roomcore.Config

	mu    sync.Mutex
	rooms map[types.RoomIDType]*roomcore.Room
}

// NewRoomManager creates a manager that lazily instantiates rooms on first
// use, all configured identically via cfg.
func NewRoomManager(store storage.Store, clk clock.Clock, bus types.BusService, mutators *registry.MutatorRegistry, cfg roomcore.Config) *RoomManager {
	return &RoomManager{
		store:    store,
		clk:      clk,
		bus:      bus,
		mutators: mutators,
		cfg:      cfg,
		rooms:    make(map[types.RoomIDType]*roomcore.Room),
	}
}

// GetOrCreate returns the live Room for roomID, constructing one if this
// is the first reference since process start.
func (m *RoomManager) GetOrCreate(roomID types.RoomIDType) *roomcore.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[roomID]; ok {
		return room
	}
	room := roomcore.New(roomID, m.store, m.clk, m.bus, m.mutators, m.cfg)
	m.rooms[roomID] = room
	return room
}

// Lookup returns the live Room for roomID without creating one.
func (m *RoomManager) Lookup(roomID types.RoomIDType) (*roomcore.Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

// Remove shuts down and forgets roomID's Room, used when a room is deleted.
func (m *RoomManager) Remove(roomID types.RoomIDType) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	delete(m.rooms, roomID)
	m.mu.Unlock()
	if ok {
		room.Shutdown()
	}
}

// RoomIDs lists every room currently instantiated in this process.
func (m *RoomManager) RoomIDs() []types.RoomIDType {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]types.RoomIDType, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	return ids
}

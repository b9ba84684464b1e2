// Package roomcore implements RoomCore: the single-writer actor that owns
// one room's durable state. A Room serializes every mutating operation -
// connect admission, push application, disconnect bookkeeping - through its
// TurnLock so the room behaves as exactly one writer no matter how many
// goroutines feed it frames.
package roomcore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/room-sync/fabric/internal/v1/buffersizer"
	"github.com/room-sync/fabric/internal/v1/clock"
	"github.com/room-sync/fabric/internal/v1/mutationbuffer"
	"github.com/room-sync/fabric/internal/v1/registry"
	"github.com/room-sync/fabric/internal/v1/storage"
	"github.com/room-sync/fabric/internal/v1/turnlock"
	"github.com/room-sync/fabric/internal/v1/types"
	"k8s.io/utils/set"
)

const (
	versionKey      = "version"
	clientKeyPrefix = "client/"
	connectedPrefix = "connected/"
)

// Config tunes one Room's TurnLoop and BufferSizer. A zero TurnDuration
// becomes 1000/15 ms (1000/60 ms with AllowUnconfirmedWrites); BufferSizer
// is passed to buffersizer.New as given.
type Config struct {
	TurnDuration           time.Duration
	AllowUnconfirmedWrites bool
	BufferSizer            buffersizer.Config
}

func (c Config) withDefaults() Config {
	if c.TurnDuration == 0 {
		if c.AllowUnconfirmedWrites {
			c.TurnDuration = time.Duration(1000.0 / 60.0 * float64(time.Millisecond))
		} else {
			c.TurnDuration = time.Duration(1000.0 / 15.0 * float64(time.Millisecond))
		}
	}
	return c
}

// Room is RoomCore for a single roomID: the durable KV it owns, the live
// clients connected to it, and the TurnLock serializing writes against
// both.
type Room struct {
	ID       types.RoomIDType
	store    storage.Store
	clk      clock.Clock
	bus      types.BusService
	lock     *turnlock.TurnLock
	clients  *registry.ClientRegistry
	mutators *registry.MutatorRegistry
	buf      *mutationbuffer.Buffer
	sizer    *buffersizer.BufferSizer
	cfg      Config

	mu                   sync.Mutex
	cookie               types.Cookie
	timerArmed           bool
	shuttingDown         bool
	disconnectedThisTurn map[types.ClientIDType]struct{}
}

// New creates a Room for roomID. mutators must already carry every domain
// mutator the application registers, plus an optional disconnect mutator
// under registry.DisconnectMutatorName.
func New(roomID types.RoomIDType, store storage.Store, clk clock.Clock, bus types.BusService, mutators *registry.MutatorRegistry, cfg Config) *Room {
	cfg = cfg.withDefaults()
	return &Room{
		ID:                   roomID,
		store:                store,
		clk:                  clk,
		bus:                  bus,
		lock:                 turnlock.New(string(roomID)),
		clients:              registry.NewClientRegistry(),
		mutators:             mutators,
		buf:                  mutationbuffer.New(),
		sizer:                buffersizer.New(string(roomID), cfg.BufferSizer),
		cfg:                  cfg,
		disconnectedThisTurn: make(map[types.ClientIDType]struct{}),
	}
}

// Shutdown marks the room terminal: the TurnLock rejects new and queued
// waiters, and the turn loop stops scheduling further ticks once the
// current one (if any) finishes.
func (r *Room) Shutdown() {
	r.mu.Lock()
	r.shuttingDown = true
	r.mu.Unlock()
	r.lock.Shutdown()
}

// ClientCount reports the number of currently-connected clients.
// Lock-free per §4.9.
func (r *Room) ClientCount() int {
	return r.clients.Len()
}

// ConnectedClientIDs snapshots the live ClientRegistry, for
// AuthFront.revalidateConnections' authConnections call. Lock-free.
func (r *Room) ConnectedClientIDs() set.Set[types.ClientIDType] {
	return r.clients.IDs()
}

func clientKey(id types.ClientIDType) string    { return clientKeyPrefix + string(id) }
func connectedKey(id types.ClientIDType) string { return connectedPrefix + string(id) }

func (r *Room) loadVersion(ctx context.Context) (types.Cookie, error) {
	raw, ok, err := r.store.Get(ctx, versionKey)
	if err != nil {
		return nil, fmt.Errorf("roomcore: load version: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("roomcore: decode version: %w", err)
	}
	return types.NewCookie(v), nil
}

func (r *Room) saveVersion(ctx context.Context, v int64) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, versionKey, raw); err != nil {
		return fmt.Errorf("roomcore: save version: %w", err)
	}
	return nil
}

func (r *Room) loadClientRecord(ctx context.Context, id types.ClientIDType) (types.ClientRecord, bool, error) {
	raw, ok, err := r.store.Get(ctx, clientKey(id))
	if err != nil {
		return types.ClientRecord{}, false, fmt.Errorf("roomcore: load client record %q: %w", id, err)
	}
	if !ok {
		return types.ClientRecord{}, false, nil
	}
	var rec types.ClientRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return types.ClientRecord{}, false, fmt.Errorf("roomcore: decode client record %q: %w", id, err)
	}
	return rec, true, nil
}

func (r *Room) saveClientRecord(ctx context.Context, id types.ClientIDType, rec types.ClientRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, clientKey(id), raw); err != nil {
		return fmt.Errorf("roomcore: save client record %q: %w", id, err)
	}
	return nil
}

func (r *Room) markConnected(ctx context.Context, id types.ClientIDType) error {
	if err := r.store.Put(ctx, connectedKey(id), json.RawMessage(`{}`)); err != nil {
		return fmt.Errorf("roomcore: mark connected %q: %w", id, err)
	}
	return nil
}

func (r *Room) unmarkConnected(ctx context.Context, id types.ClientIDType) error {
	if err := r.store.Delete(ctx, connectedKey(id)); err != nil {
		return fmt.Errorf("roomcore: unmark connected %q: %w", id, err)
	}
	return nil
}

func (r *Room) connectedIDs(ctx context.Context) ([]types.ClientIDType, error) {
	entries, err := r.store.List(ctx, connectedPrefix, "", "")
	if err != nil {
		return nil, fmt.Errorf("roomcore: list connected: %w", err)
	}
	ids := make([]types.ClientIDType, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, types.ClientIDType(strings.TrimPrefix(e.Key, connectedPrefix)))
	}
	return ids, nil
}

func highestPendingID(pending []*types.PendingMutation) uint64 {
	var max uint64
	for _, m := range pending {
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}

func trimApplied(pending []*types.PendingMutation, upTo uint64) []*types.PendingMutation {
	if upTo == 0 {
		return pending
	}
	out := pending[:0:0]
	for _, m := range pending {
		if m.ID > upTo {
			out = append(out, m)
		}
	}
	return out
}

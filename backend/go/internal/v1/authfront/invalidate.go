package authfront

import (
	"context"
	"fmt"

	"github.com/room-sync/fabric/internal/v1/logging"
	"github.com/room-sync/fabric/internal/v1/types"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// InvalidateForUser forces every live connection belonging to userID off
// its room, across every affected room, under the exclusive auth lock
// (§4.8). The first per-room error is returned after every room has been
// attempted and logged (open question (c): a stricter implementation
// could return a structured multi-error instead).
func (a *AuthFront) InvalidateForUser(ctx context.Context, userID types.UserIDType) error {
	a.authMu.Lock()
	defer a.authMu.Unlock()

	keys, err := a.Connections.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	return a.invalidateGrouped(ctx, byRoom(keys))
}

// InvalidateForRoom forces every live connection to roomID closed.
func (a *AuthFront) InvalidateForRoom(ctx context.Context, roomID types.RoomIDType) error {
	a.authMu.Lock()
	defer a.authMu.Unlock()

	room, ok := a.Rooms.Lookup(roomID)
	if !ok {
		return nil // no live actor in this process: nothing to invalidate
	}
	if err := room.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("authfront: invalidate room %q: %w", roomID, err)
	}
	return a.forgetConnectionsForRoom(ctx, roomID)
}

// InvalidateAll forces every live connection across every room closed.
func (a *AuthFront) InvalidateAll(ctx context.Context) error {
	a.authMu.Lock()
	defer a.authMu.Unlock()

	keys, err := a.Connections.ListAll(ctx)
	if err != nil {
		return err
	}
	return a.invalidateGrouped(ctx, byRoom(keys))
}

// invalidateGrouped fans invalidation out to each room in grouped, one
// InvalidateClients call per room. Callers hold authMu exclusively.
func (a *AuthFront) invalidateGrouped(ctx context.Context, grouped map[types.RoomIDType][]ConnectionKey) error {
	var firstErr error
	for roomID, keys := range grouped {
		room, ok := a.Rooms.Lookup(roomID)
		if !ok {
			continue
		}
		ids := set.New[types.ClientIDType]()
		for _, k := range keys {
			ids.Insert(k.ClientID)
		}
		if err := room.InvalidateClients(ctx, ids); err != nil {
			logging.Error(ctx, "invalidate room failed", zap.String("room_id", string(roomID)), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("authfront: invalidate room %q: %w", roomID, err)
			}
			continue
		}
		for _, k := range keys {
			if err := a.Connections.Delete(ctx, k.UserID, k.RoomID, k.ClientID); err != nil {
				logging.Warn(ctx, "failed to clear connection record after invalidate", zap.Error(err))
			}
		}
	}
	return firstErr
}

func (a *AuthFront) forgetConnectionsForRoom(ctx context.Context, roomID types.RoomIDType) error {
	all, err := a.Connections.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, k := range all {
		if k.RoomID != roomID {
			continue
		}
		if err := a.Connections.Delete(ctx, k.UserID, k.RoomID, k.ClientID); err != nil {
			logging.Warn(ctx, "failed to clear connection record after room invalidate", zap.Error(err))
		}
	}
	return nil
}

// RevalidateConnections reconciles every durable ConnectionRecord against
// its room's live ClientRegistry (§4.8 revalidateConnections): a
// connection record whose clientID the room no longer reports live is
// stale and removed. Idempotent; a room this process has no live actor
// for is skipped rather than treated as empty, since a lazily-created
// Room lookup miss does not imply the room has no connections.
func (a *AuthFront) RevalidateConnections(ctx context.Context) error {
	a.authMu.Lock()
	defer a.authMu.Unlock()

	all, err := a.Connections.ListAll(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for roomID, keys := range byRoom(all) {
		room, ok := a.Rooms.Lookup(roomID)
		if !ok {
			continue
		}
		live := room.ConnectedClientIDs()
		for _, k := range keys {
			if live.Has(k.ClientID) {
				continue
			}
			if err := a.Connections.Delete(ctx, k.UserID, k.RoomID, k.ClientID); err != nil {
				logging.Warn(ctx, "revalidate: failed to clear stale connection record", zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

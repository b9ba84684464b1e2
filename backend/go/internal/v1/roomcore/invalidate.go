package roomcore

import (
	"context"

	"github.com/room-sync/fabric/internal/v1/turnlock"
	"github.com/room-sync/fabric/internal/v1/types"
	"k8s.io/utils/set"
)

// InvalidateClients forces every clientID in ids off this room with an
// AuthInvalidated error frame (§4.8 authInvalidateForUser/ForRoom/All route
// through each affected room's TurnLock, same as any other write-path
// endpoint per §4.9). Unknown clientIDs are ignored. Returns once every
// close has been issued.
func (r *Room) InvalidateClients(ctx context.Context, ids set.Set[types.ClientIDType]) error {
	_, err := turnlock.WithLock(ctx, r.lock, "invalidate", r.cfg.TurnDuration.Milliseconds(), func(ctx context.Context) (struct{}, error) {
		for id := range ids {
			state, ok := r.clients.Get(id)
			if !ok {
				continue
			}
			_ = state.Conn.SendFrame("error", types.ErrAuthInvalidated, "connection invalidated")
			_ = state.Conn.Close()
			r.Close(id)
		}
		return struct{}{}, nil
	})
	return err
}

// InvalidateAll forces every currently-connected client off this room.
func (r *Room) InvalidateAll(ctx context.Context) error {
	return r.InvalidateClients(ctx, r.clients.IDs())
}

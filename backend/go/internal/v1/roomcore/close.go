package roomcore

import (
	"github.com/room-sync/fabric/internal/v1/metrics"
	"github.com/room-sync/fabric/internal/v1/types"
)

// Close handles a socket close for a known clientID (§4.6): the ClientState
// is removed from the registry, the durable ClientRecord is left untouched,
// and clientID is marked for disconnect-mutator processing on the next
// turn. The turn loop is kicked so a room with no pending mutations still
// runs the disconnect bookkeeping promptly.
func (r *Room) Close(clientID types.ClientIDType) {
	r.clients.Delete(clientID)
	metrics.DecConnection()
	metrics.RoomClients.WithLabelValues(string(r.ID)).Set(float64(r.clients.Len()))

	r.mu.Lock()
	r.disconnectedThisTurn[clientID] = struct{}{}
	r.mu.Unlock()

	r.kick()
}

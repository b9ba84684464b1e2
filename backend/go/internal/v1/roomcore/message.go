package roomcore

import (
	"fmt"

	"github.com/room-sync/fabric/internal/v1/types"
)

// clockAlpha weighs new clock-skew samples against the running estimate;
// a small weight keeps clockBehindByMs stable against a single jittery push.
const clockAlpha = 0.2

func ewmaMs(prev, sample int64) int64 {
	if prev == 0 {
		return sample
	}
	return int64(float64(prev)*(1-clockAlpha) + float64(sample)*clockAlpha)
}

// HandlePush processes a ["push", payload] frame from clientID (§4.4): new
// mutations are timestamped and appended to the shared mutation buffer in
// arrival order, duplicates already seen this session are dropped, and the
// turn loop is kicked if the room was idle. An empty mutations slice is a
// valid no-op.
func (r *Room) HandlePush(clientID types.ClientIDType, payload types.PushPayload) error {
	state, ok := r.clients.Get(clientID)
	if !ok {
		return fmt.Errorf("roomcore: push from unknown client %q", clientID)
	}

	state.Lock()
	now := r.clk.NowMs()
	baseline := highestPendingID(state.Pending)

	for i := range payload.Mutations {
		m := payload.Mutations[i]
		if m.ID <= baseline {
			continue
		}
		pm := &types.PendingMutation{
			ClientID:                clientID,
			ID:                      m.ID,
			Name:                    m.Name,
			Args:                    m.Args,
			Timestamp:               m.Timestamp,
			ServerReceivedTimestamp: now,
			Auth:                    state.UserData,
		}
		state.Pending = append(state.Pending, pm)
		r.buf.Push(pm)
		baseline = m.ID

		behind := now - m.Timestamp
		if behind < 0 {
			behind = 0
		}
		state.ClockBehindByMs = ewmaMs(state.ClockBehindByMs, behind)
	}
	state.Unlock()

	r.kick()
	return nil
}

// HandlePing replies ["pong", {}] immediately; no turn involvement.
func (r *Room) HandlePing(clientID types.ClientIDType) error {
	state, ok := r.clients.Get(clientID)
	if !ok {
		return fmt.Errorf("roomcore: ping from unknown client %q", clientID)
	}
	return state.Conn.SendFrame("pong", map[string]any{})
}

// HandlePull validates a ["pull", ...] frame structurally and forwards it;
// pull requests are opaque to the core and answered by an external
// collaborator, so no room state is touched here beyond existence checks.
func (r *Room) HandlePull(clientID types.ClientIDType) error {
	if _, ok := r.clients.Get(clientID); !ok {
		return fmt.Errorf("roomcore: pull from unknown client %q", clientID)
	}
	return nil
}

// kick starts the turn loop if the room is currently idle.
func (r *Room) kick() {
	r.mu.Lock()
	if r.timerArmed || r.shuttingDown {
		r.mu.Unlock()
		return
	}
	r.timerArmed = true
	r.mu.Unlock()

	go r.runLoop()
}

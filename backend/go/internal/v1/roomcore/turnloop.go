package roomcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/room-sync/fabric/internal/v1/kvstore"
	"github.com/room-sync/fabric/internal/v1/logging"
	"github.com/room-sync/fabric/internal/v1/metrics"
	"github.com/room-sync/fabric/internal/v1/registry"
	"github.com/room-sync/fabric/internal/v1/turnlock"
	"github.com/room-sync/fabric/internal/v1/types"
	"go.uber.org/zap"
)

// maxTurnBackoff caps the retry delay after a storage commit failure
// (§4.5 failure semantics: "step 1.5x up to 1s").
const maxTurnBackoff = time.Second

// runLoop drives ticks at cfg.TurnDuration until a tick reports the room is
// idle (no due mutations, no pending disconnects) or the room shuts down.
// Exactly one runLoop is ever active per room: kick() only starts it when
// timerArmed is false.
func (r *Room) runLoop() {
	ctx := context.Background()
	backoff := r.cfg.TurnDuration

	for {
		more, failed := r.tick(ctx)
		if failed {
			if backoff < maxTurnBackoff {
				backoff = time.Duration(float64(backoff) * 1.5)
				if backoff > maxTurnBackoff {
					backoff = maxTurnBackoff
				}
			}
			time.Sleep(backoff)
			continue
		}
		backoff = r.cfg.TurnDuration
		if !more {
			break
		}
		time.Sleep(r.cfg.TurnDuration)
	}

	r.mu.Lock()
	r.timerArmed = false
	r.mu.Unlock()
}

// tick runs exactly one turn under the TurnLock. more reports whether
// another tick should follow immediately; failed reports a transient
// storage failure that should be retried with backoff rather than idling.
func (r *Room) tick(ctx context.Context) (more bool, failed bool) {
	start := time.Now()
	result, err := turnlock.WithLock(ctx, r.lock, "turn", r.cfg.TurnDuration.Milliseconds(), r.runTurnLocked)
	metrics.TurnDuration.WithLabelValues(string(r.ID)).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, turnlock.ErrShuttingDown) {
			return false, false
		}
		logging.Warn(ctx, "turn failed, will retry with backoff", zap.String("room_id", string(r.ID)), zap.Error(err))
		return true, true
	}
	return result, false
}

// runTurnLocked implements the TurnLoop algorithm (§4.5). Caller holds the
// TurnLock.
func (r *Room) runTurnLocked(ctx context.Context) (bool, error) {
	now := r.clk.NowMs()
	nowT := time.UnixMilli(now)
	r.sizer.Tick(nowT)
	bufferMs := r.sizer.Current()

	due := r.buf.DrainDue(func(m *types.PendingMutation) bool {
		return m.ServerReceivedTimestamp+bufferMs <= now
	})
	metrics.BufferDepth.WithLabelValues(string(r.ID)).Set(float64(r.buf.Len()))

	r.mu.Lock()
	pendingDisconnects := make([]types.ClientIDType, 0, len(r.disconnectedThisTurn))
	seen := make(map[types.ClientIDType]struct{}, len(r.disconnectedThisTurn))
	for id := range r.disconnectedThisTurn {
		pendingDisconnects = append(pendingDisconnects, id)
		seen[id] = struct{}{}
	}
	r.mu.Unlock()

	// Reconcile the durable connected-set against the live registry: a
	// clientID can be durably marked connected with no corresponding
	// ClientState if this process restarted after a crash that skipped
	// CloseHandler. Fold any such id into this turn's disconnect work
	// (§4.6) rather than leaving it connected forever.
	if durable, err := r.connectedIDs(ctx); err == nil {
		for _, id := range durable {
			if _, live := r.clients.Get(id); live {
				continue
			}
			if _, already := seen[id]; already {
				continue
			}
			seen[id] = struct{}{}
			pendingDisconnects = append(pendingDisconnects, id)
		}
	}

	if len(due) == 0 && len(pendingDisconnects) == 0 {
		return false, nil
	}

	currentVersion, err := r.loadVersion(ctx)
	if err != nil {
		r.requeue(due)
		return false, err
	}
	var nextCookie int64
	if currentVersion != nil {
		nextCookie = *currentVersion + 1
	}

	tx := kvstore.Open(ctx, r.store, r.cfg.AllowUnconfirmedWrites)
	lmidChanges := make(map[types.ClientIDType]uint64)

	for _, m := range due {
		if err := r.applyOne(ctx, tx, m, nextCookie, lmidChanges); err != nil {
			logging.Error(ctx, "apply mutation failed", zap.String("room_id", string(r.ID)),
				zap.String("client_id", string(m.ClientID)), zap.Uint64("id", m.ID), zap.Error(err))
		}
		r.sizer.Observe(nowT, m.ServerReceivedTimestamp, now)
	}

	stillPending := r.applyDisconnects(ctx, tx, pendingDisconnects, nextCookie)
	disconnectsProcessed := len(pendingDisconnects) - len(stillPending)

	if len(lmidChanges) == 0 && len(tx.StagedKeys()) == 0 && disconnectsProcessed == 0 {
		// Every due mutation was a duplicate no-op (id <= lastMutationID)
		// and no disconnect work ran: nothing changed, so the cookie must
		// not advance (idempotent replay, §8 round-trip property).
		r.mu.Lock()
		for _, id := range pendingDisconnects {
			if _, stillPend := stillPending[id]; !stillPend {
				delete(r.disconnectedThisTurn, id)
			}
		}
		r.mu.Unlock()
		return r.buf.Len() > 0, nil
	}

	patch, err := tx.Commit()
	if err != nil {
		r.requeue(due)
		return false, fmt.Errorf("roomcore: commit turn: %w", err)
	}

	if err := r.saveVersion(ctx, nextCookie); err != nil {
		r.requeue(due)
		return false, err
	}
	for clientID, lmid := range lmidChanges {
		rec, _, err := r.loadClientRecord(ctx, clientID)
		if err != nil {
			logging.Error(ctx, "failed to reload client record for commit", zap.String("client_id", string(clientID)), zap.Error(err))
			continue
		}
		rec.LastMutationID = lmid
		rec.LastMutationIDVersion = types.NewCookie(nextCookie)
		if err := r.saveClientRecord(ctx, clientID, rec); err != nil {
			logging.Error(ctx, "failed to persist client record after commit", zap.String("client_id", string(clientID)), zap.Error(err))
		}
	}

	r.mu.Lock()
	r.cookie = types.NewCookie(nextCookie)
	for _, id := range pendingDisconnects {
		if _, stillPend := stillPending[id]; !stillPend {
			delete(r.disconnectedThisTurn, id)
		}
	}
	r.mu.Unlock()

	r.broadcastPoke(nextCookie, lmidChanges, patch, now)

	metrics.TurnsCommitted.WithLabelValues(string(r.ID)).Inc()
	metrics.CurrentCookie.WithLabelValues(string(r.ID)).Set(float64(nextCookie))

	return r.buf.Len() > 0 || len(stillPending) > 0, nil
}

// requeue puts drained-but-uncommitted mutations back so the next retry
// re-attempts them in the same relative order.
func (r *Room) requeue(due []*types.PendingMutation) {
	for _, m := range due {
		r.buf.Push(m)
	}
}

// applyOne applies a single due mutation against tx, enforcing LMID
// admission and mutator rollback-on-error (§4.5 step 4 and failure
// semantics).
func (r *Room) applyOne(ctx context.Context, tx *kvstore.TxStore, m *types.PendingMutation, nextCookie int64, lmidChanges map[types.ClientIDType]uint64) error {
	rec, _, err := r.loadClientRecord(ctx, m.ClientID)
	if err != nil {
		return err
	}

	if m.ID <= rec.LastMutationID {
		return nil // idempotent replay: silent no-op
	}

	if m.ID > rec.LastMutationID+1 {
		r.rejectClient(m.ClientID, types.ErrClientNotFound,
			fmt.Sprintf("mutation id %d skips ahead of lastMutationID %d", m.ID, rec.LastMutationID))
		return nil
	}

	fn, ok := r.mutators.Lookup(m.Name)
	if !ok {
		logging.Warn(ctx, "no mutator registered for name, skipping with warning", zap.String("name", m.Name))
		lmidChanges[m.ClientID] = m.ID
		return nil
	}

	checkpoint := tx.StagedKeys()
	mctx := types.MutationCtx{Auth: m.Auth, MutationID: m.ID, ClientID: m.ClientID, Version: nextCookie}
	if err := runMutator(fn, tx, m.Args, mctx); err != nil {
		logging.Warn(ctx, "mutator failed, rolling back its writes; lastMutationID still advances",
			zap.String("name", m.Name), zap.Error(err))
		rollbackSince(tx, checkpoint)
	}

	lmidChanges[m.ClientID] = m.ID
	return nil
}

// runMutator invokes fn, converting a panic into an error so one
// misbehaving mutator cannot take down the turn loop.
func runMutator(fn kvstore.Mutator, tx kvstore.Tx, args []byte, mctx types.MutationCtx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("mutator panicked: %v", p)
		}
	}()
	return fn(tx, args, mctx)
}

// rollbackSince discards every key staged after checkpoint was taken,
// leaving earlier mutators' writes in this same turn untouched.
func rollbackSince(tx *kvstore.TxStore, checkpoint []string) {
	before := make(map[string]struct{}, len(checkpoint))
	for _, k := range checkpoint {
		before[k] = struct{}{}
	}
	var toRemove []string
	for _, k := range tx.StagedKeys() {
		if _, existed := before[k]; !existed {
			toRemove = append(toRemove, k)
		}
	}
	tx.RollbackKeys(toRemove)
}

// applyDisconnects runs the disconnect mutator for any clientID durably
// connected but absent from the live ClientRegistry (§4.6). It returns the
// subset of ids that must remain pending (the client reconnected before its
// turn arrived, so no disconnect mutator ran and the durable marker stays).
func (r *Room) applyDisconnects(ctx context.Context, tx *kvstore.TxStore, ids []types.ClientIDType, nextCookie int64) map[types.ClientIDType]struct{} {
	stillPending := make(map[types.ClientIDType]struct{})

	for _, id := range ids {
		if _, connected := r.clients.Get(id); connected {
			// Reconnected before we got to it; leave the durable marker
			// alone and keep it pending for a future disconnect.
			continue
		}

		fn, ok := r.mutators.Lookup(registry.DisconnectMutatorName)
		if ok {
			mctx := types.MutationCtx{ClientID: id, Version: nextCookie}
			if err := runMutator(fn, tx, nil, mctx); err != nil {
				logging.Warn(ctx, "disconnect mutator failed", zap.String("client_id", string(id)), zap.Error(err))
			}
		}
		if err := r.unmarkConnected(ctx, id); err != nil {
			logging.Error(ctx, "failed to clear durable connected marker", zap.String("client_id", string(id)), zap.Error(err))
			stillPending[id] = struct{}{}
		}
	}
	return stillPending
}

// broadcastPoke sends every connected client its per-client poke for the
// turn that just committed (§4.5 step 6). A send failure marks that client
// for close after the loop finishes; it never fails the turn.
func (r *Room) broadcastPoke(cookie int64, lmidChanges map[types.ClientIDType]uint64, patch []types.PatchOp, nowMs int64) {
	snap := r.clients.Snapshot()
	var toClose []types.ClientIDType

	for clientID, state := range snap {
		state.Lock()
		poke := types.PokePayload{
			BaseCookie:            state.LastCookieSent,
			Cookie:                cookie,
			LastMutationIDChanges: lmidChanges,
			Patch:                 patch,
			Timestamp:             nowMs,
		}
		err := state.Conn.SendFrame("poke", poke)
		state.LastCookieSent = types.NewCookie(cookie)
		if applied, ok := lmidChanges[clientID]; ok {
			state.Pending = trimApplied(state.Pending, applied)
		}
		state.Unlock()

		if err != nil {
			toClose = append(toClose, clientID)
		}
	}

	metrics.PokesSent.WithLabelValues(string(r.ID)).Add(float64(len(snap)))

	for _, clientID := range toClose {
		if state, ok := r.clients.Get(clientID); ok {
			_ = state.Conn.Close()
		}
		r.Close(clientID)
	}
}

// rejectClient sends an error frame to clientID and disconnects it; used
// for per-mutation failures (gap rejection) that are not turn-fatal.
func (r *Room) rejectClient(clientID types.ClientIDType, kind types.ErrorKind, detail string) {
	metrics.ErrorsTotal.WithLabelValues(string(kind)).Inc()
	state, ok := r.clients.Get(clientID)
	if !ok {
		return
	}
	_ = state.Conn.SendFrame("error", kind, detail)
	_ = state.Conn.Close()
	r.Close(clientID)
}

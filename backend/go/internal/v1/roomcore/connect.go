package roomcore

import (
	"context"
	"fmt"

	"github.com/room-sync/fabric/internal/v1/logging"
	"github.com/room-sync/fabric/internal/v1/metrics"
	"github.com/room-sync/fabric/internal/v1/turnlock"
	"github.com/room-sync/fabric/internal/v1/types"
	"go.uber.org/zap"
)

// ConnectRequest is the parsed connect URL plus the identity AuthFront
// resolved and forwarded in the user-data header.
type ConnectRequest struct {
	ClientID   types.ClientIDType
	BaseCookie types.Cookie
	Timestamp  int64
	LMID       uint64
	WSID       string
	Auth       types.UserData
}

// Connect admits conn as ClientID under the room's TurnLock (§4.3). On any
// admission failure it sends an ["error", kind, detail] frame, closes conn,
// and returns a non-nil error describing the rejection; the caller must
// treat conn as already closed in that case.
func (r *Room) Connect(ctx context.Context, conn types.ClientConn, req ConnectRequest) error {
	_, err := turnlock.WithLock(ctx, r.lock, "connect", r.cfg.TurnDuration.Milliseconds(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.connectLocked(ctx, conn, req)
	})
	return err
}

func (r *Room) reject(conn types.ClientConn, kind types.ErrorKind, detail string) error {
	metrics.ErrorsTotal.WithLabelValues(string(kind)).Inc()
	_ = conn.SendFrame("error", kind, detail)
	_ = conn.Close()
	return fmt.Errorf("roomcore: connect rejected (%s): %s", kind, detail)
}

func (r *Room) connectLocked(ctx context.Context, conn types.ClientConn, req ConnectRequest) error {
	rec, existed, err := r.loadClientRecord(ctx, req.ClientID)
	if err != nil {
		return r.reject(conn, types.ErrInternal, err.Error())
	}
	storedLMID := rec.LastMutationID

	currentVersion, err := r.loadVersion(ctx)
	if err != nil {
		return r.reject(conn, types.ErrInternal, err.Error())
	}

	// Cookie admission (§4.3 step 3).
	if currentVersion == nil && req.BaseCookie != nil {
		return r.reject(conn, types.ErrUnexpectedBaseCookie, "room has not committed a turn yet")
	}
	if currentVersion != nil && req.BaseCookie != nil && *req.BaseCookie > *currentVersion {
		return r.reject(conn, types.ErrUnexpectedBaseCookie, "client baseCookie is ahead of the room's committed version")
	}

	// LMID admission (§4.3 step 4).
	if req.LMID > storedLMID {
		return r.reject(conn, types.ErrUnexpectedLMID, fmt.Sprintf("claimed lmid %d exceeds stored lastMutationID %d", req.LMID, storedLMID))
	}

	rec = types.ClientRecord{
		BaseCookie:     req.BaseCookie,
		LastMutationID: storedLMID,
		UserID:         req.Auth.UserID,
	}
	if err := r.saveClientRecord(ctx, req.ClientID, rec); err != nil {
		return r.reject(conn, types.ErrInternal, err.Error())
	}
	if err := r.markConnected(ctx, req.ClientID); err != nil {
		return r.reject(conn, types.ErrInternal, err.Error())
	}

	// Forced reconnect: an existing ClientState under this clientID is
	// closed before the new one replaces it.
	if prior, ok := r.clients.Get(req.ClientID); ok {
		logging.Info(ctx, "closing prior connection for reconnecting client",
			zap.String("client_id", string(req.ClientID)), zap.String("room_id", string(r.ID)))
		_ = prior.Conn.Close()
	}

	state := &types.ClientState{
		Conn:           conn,
		UserData:       req.Auth,
		LastCookieSent: req.BaseCookie,
	}
	r.clients.Set(req.ClientID, state)

	r.mu.Lock()
	delete(r.disconnectedThisTurn, req.ClientID)
	r.mu.Unlock()

	metrics.RoomClients.WithLabelValues(string(r.ID)).Set(float64(r.clients.Len()))
	metrics.IncConnection()

	if existed {
		logging.Info(ctx, "client reconnected", zap.String("client_id", string(req.ClientID)), zap.String("room_id", string(r.ID)))
	}

	if err := conn.SendFrame("connected", map[string]any{}); err != nil {
		logging.Warn(ctx, "failed to send connected frame", zap.Error(err), zap.String("client_id", string(req.ClientID)))
	}
	return nil
}

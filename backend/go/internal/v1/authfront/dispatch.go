package authfront

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/room-sync/fabric/internal/v1/logging"
	"github.com/room-sync/fabric/internal/v1/roomcore"
	"github.com/room-sync/fabric/internal/v1/transport"
	"github.com/room-sync/fabric/internal/v1/types"
	"go.uber.org/zap"
)

// connectValidate enforces connectQuery's required fields the same way
// gin's ShouldBindJSON enforces `binding:"required"` on admin request
// bodies (admin.go) - one struct-tag validator for both query-string and
// JSON-body inputs.
var connectValidate = validator.New()

// ServeWs implements AuthFront.Dispatch (C12): it validates the connect
// request, upgrades the socket, authenticates, resolves the RoomRecord,
// records presence, and hands the connection to the room (§4.8). Errors
// discovered before the upgrade are reported as plain HTTP responses;
// errors discovered after are reported as an `error` frame over the
// socket so the client can distinguish the reason, then the socket closes.
func (a *AuthFront) ServeWs(c *gin.Context) {
	if a.RateLimit != nil && !a.RateLimit.CheckWebSocket(c) {
		return
	}

	req, ok := parseConnectQuery(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connect request"})
		return
	}

	protoHeader := c.GetHeader("Sec-WebSocket-Protocol")
	token, err := url.QueryUnescape(protoHeader)
	if protoHeader == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing Sec-WebSocket-Protocol token"})
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, http.Header{"Sec-WebSocket-Protocol": []string{protoHeader}})
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	wsConn := transport.NewWSConn(conn)
	go wsConn.WritePump()

	ctx := c.Request.Context()

	a.authMu.RLock()
	userData, err := a.Validator.ValidateToken(ctx, token, req.RoomID)
	if err != nil {
		a.authMu.RUnlock()
		sendAndClose(wsConn, types.ErrUnauthorized, "token validation failed")
		return
	}

	rec, err := a.RoomRecords.Get(ctx, req.RoomID)
	if err != nil {
		a.authMu.RUnlock()
		sendAndClose(wsConn, types.ErrInternal, err.Error())
		return
	}
	if rec == nil || rec.Status == types.RoomStatusDeleted {
		a.authMu.RUnlock()
		sendAndClose(wsConn, types.ErrRoomNotFound, "room does not exist")
		return
	}
	if rec.Status != types.RoomStatusOpen {
		a.authMu.RUnlock()
		sendAndClose(wsConn, types.ErrRoomClosed, "room is closed")
		return
	}

	if userData.UserID != "" {
		if a.RateLimit != nil {
			if err := a.RateLimit.CheckWebSocketUser(ctx, string(userData.UserID)); err != nil {
				a.authMu.RUnlock()
				sendAndClose(wsConn, types.ErrUnauthorized, "rate limit exceeded")
				return
			}
		}
		if err := a.Connections.Put(ctx, userData.UserID, req.RoomID, req.ClientID, a.Clock.NowMs()); err != nil {
			logging.Warn(ctx, "failed to persist connection record", zap.Error(err))
		}
	}
	room := a.Rooms.GetOrCreate(req.RoomID)
	a.authMu.RUnlock()

	connReq := roomcore.ConnectRequest{
		ClientID:   req.ClientID,
		BaseCookie: req.BaseCookie,
		Timestamp:  req.TS,
		LMID:       req.LMID,
		WSID:       req.WSID,
		Auth:       *userData,
	}
	if err := room.Connect(ctx, wsConn, connReq); err != nil {
		logging.Info(ctx, "connect rejected", zap.Error(err), zap.String("room_id", string(req.RoomID)), zap.String("client_id", string(req.ClientID)))
		return
	}

	readLoop(context.Background(), room, req.ClientID, wsConn)
}

func sendAndClose(conn *transport.WSConn, kind types.ErrorKind, detail string) {
	_ = conn.SendFrame("error", kind, detail)
	_ = conn.Close()
}

// readLoop dispatches incoming frames to the room until the socket closes,
// matching C10 MessageHandler's frame set.
func readLoop(ctx context.Context, room *roomcore.Room, clientID types.ClientIDType, conn *transport.WSConn) {
	defer room.Close(clientID)

	for {
		kind, raw, err := conn.ReadFrame()
		if err != nil {
			return
		}
		switch kind {
		case "push":
			var payload types.PushPayload
			if err := unmarshalOrReject(raw, &payload, conn, clientID, room); err != nil {
				return
			}
			if err := room.HandlePush(clientID, payload); err != nil {
				logging.Warn(ctx, "push handling failed", zap.Error(err), zap.String("client_id", string(clientID)))
			}
		case "ping":
			if err := room.HandlePing(clientID); err != nil {
				_ = conn.Close()
				return
			}
		case "pull":
			if err := room.HandlePull(clientID); err != nil {
				_ = conn.Close()
				return
			}
		default:
			_ = conn.SendFrame("error", types.ErrInvalidMessage, "unknown frame kind")
			_ = conn.Close()
			return
		}
	}
}

func unmarshalOrReject(raw []byte, v *types.PushPayload, conn *transport.WSConn, clientID types.ClientIDType, room *roomcore.Room) error {
	if err := json.Unmarshal(raw, v); err != nil {
		_ = conn.SendFrame("error", types.ErrInvalidMessage, "malformed push payload")
		_ = conn.Close()
		room.Close(clientID)
		return err
	}
	return nil
}

// connectQuery's TS and LMID have no `required` tag even though the
// protocol requires both query params present: LMID=0 is the legitimate
// value for a client that hasn't sent any mutations yet (§4.3), and
// validator's "required" treats a zero value as absent. Presence of
// those two params is checked directly in parseConnectQuery instead;
// ClientID/RoomID are never legitimately empty, so `required` covers them.
type connectQuery struct {
	ClientID   types.ClientIDType `validate:"required"`
	RoomID     types.RoomIDType   `validate:"required"`
	BaseCookie types.Cookie
	TS         int64
	LMID       uint64
	WSID       string
}

func parseConnectQuery(c *gin.Context) (connectQuery, bool) {
	var q connectQuery
	q.ClientID = types.ClientIDType(c.Query("clientID"))
	q.RoomID = types.RoomIDType(c.Param("roomID"))
	if q.RoomID == "" {
		q.RoomID = types.RoomIDType(c.Query("roomID"))
	}

	if bc := c.Query("baseCookie"); bc != "" {
		v, err := strconv.ParseInt(bc, 10, 64)
		if err != nil {
			return q, false
		}
		q.BaseCookie = types.NewCookie(v)
	}

	tsStr := c.Query("ts")
	if tsStr == "" {
		return q, false
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return q, false
	}
	q.TS = ts

	lmidStr := c.Query("lmid")
	if lmidStr == "" {
		return q, false
	}
	lmid, err := strconv.ParseUint(lmidStr, 10, 64)
	if err != nil {
		return q, false
	}
	q.LMID = lmid

	q.WSID = c.Query("wsid")

	if err := connectValidate.Struct(q); err != nil {
		return q, false
	}
	return q, true
}

package authfront

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/room-sync/fabric/internal/v1/clock"
	"github.com/room-sync/fabric/internal/v1/ratelimit"
	"github.com/room-sync/fabric/internal/v1/types"
)

// AuthFront is the single-instance gatekeeper (C12-C14): it authenticates
// connect requests, resolves roomID to a RoomRecord, records per-connection
// presence, and forwards accepted sockets to the owning RoomCore Room. The
// authMu RWMutex is the spec's "auth lock" (§5): connect takes it in shared
// mode, invalidation and revalidation take it exclusive, and whenever both
// the auth lock and a room's TurnLock are needed the auth lock is always
// acquired first.
type AuthFront struct {
	Validator   types.TokenValidator
	Rooms       *RoomManager
	RoomRecords *RoomRecordStore
	Connections *ConnectionRecordStore
	Clock       clock.Clock

	AdminAPIKey    string
	AllowedOrigins []string

	// RateLimit is optional; a nil value means rate limiting is disabled
	// (e.g. in tests that construct AuthFront directly via New).
	RateLimit *ratelimit.RateLimiter

	authMu   sync.RWMutex
	upgrader websocket.Upgrader
}

// New wires an AuthFront instance. adminAPIKey gates every admin HTTP
// endpoint (§6); allowedOrigins feeds the WebSocket upgrader's CheckOrigin.
func New(validator types.TokenValidator, rooms *RoomManager, roomRecords *RoomRecordStore, connections *ConnectionRecordStore, clk clock.Clock, adminAPIKey string, allowedOrigins []string) *AuthFront {
	a := &AuthFront{
		Validator:      validator,
		Rooms:          rooms,
		RoomRecords:    roomRecords,
		Connections:    connections,
		Clock:          clk,
		AdminAPIKey:    adminAPIKey,
		AllowedOrigins: allowedOrigins,
	}
	a.upgrader = websocket.Upgrader{
		WriteBufferPool: &sync.Pool{New: func() any { return make([]byte, 4096) }},
		CheckOrigin:     func(r *http.Request) bool { return a.checkOrigin(r.Header.Get("Origin")) },
	}
	return a
}

// checkOrigin validates a WebSocket upgrade's Origin header against
// AllowedOrigins, matching scheme+host the way the teacher's
// session.GetAllowedOriginsFromEnv-derived check does.
func (a *AuthFront) checkOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range a.AllowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// Package types defines shared wire and domain types for AuthFront and RoomCore.
package types

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/room-sync/fabric/internal/v1/bus"
)

// --- Identifiers ---

// ClientIDType is the opaque identifier a client chooses for its socket session.
type ClientIDType string

// RoomIDType identifies a room, and by extension its owning RoomCore.
type RoomIDType string

// UserIDType identifies the authenticated principal behind a connection.
type UserIDType string

// Cookie is the room's monotonic state version. A nil Cookie means
// "pre-genesis": the room has not committed a turn yet.
type Cookie = *int64

// NewCookie wraps an int64 as a Cookie.
func NewCookie(v int64) Cookie {
	c := v
	return &c
}

// CookieEqual compares two (possibly nil) cookies for equality.
func CookieEqual(a, b Cookie) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// --- UserData ---

// UserData is the identity resolved by the external AuthHandler from a
// (token, roomID) pair. Opaque beyond userID; additional claims ride in Extra.
type UserData struct {
	UserID UserIDType      `json:"userID"`
	Extra  json.RawMessage `json:"extra,omitempty"`
}

// --- Mutation model ---

// PendingMutation is a client-submitted (id, name, args) tuple awaiting
// application by the TurnLoop.
type PendingMutation struct {
	ClientID                ClientIDType    `json:"clientID"`
	ID                      uint64          `json:"id"`
	Name                    string          `json:"name"`
	Args                    json.RawMessage `json:"args"`
	Timestamp               int64           `json:"timestamp"`
	ServerReceivedTimestamp int64           `json:"serverReceivedTimestamp"`
	Auth                    UserData        `json:"auth"`
}

// --- Durable records ---

// ClientRecord is the durable per-client bookkeeping row: key "client/<clientID>".
type ClientRecord struct {
	BaseCookie            Cookie     `json:"baseCookie"`
	LastMutationID        uint64     `json:"lastMutationID"`
	LastMutationIDVersion Cookie     `json:"lastMutationIDVersion"`
	UserID                UserIDType `json:"userID"`
}

// ClientState is the in-memory session state for a connected client; lives
// for exactly one socket session and is destroyed on close.
type ClientState struct {
	mu sync.Mutex

	Conn                ClientConn
	UserData            UserData
	Pending             []*PendingMutation
	ClockBehindByMs      int64
	LastCookieSent      Cookie
	SentInitialPresence bool
}

// ClientConn abstracts the transport socket a ClientState writes frames to,
// so the room package never depends on gorilla/websocket directly.
type ClientConn interface {
	// SendFrame marshals frame as a JSON array `[kind, payload...]` and writes
	// it to the socket - one element per extra arg, so an error frame
	// (`SendFrame("error", kind, detail)`) comes out flat as
	// `["error", kind, detail]` rather than nesting kind/detail into a
	// second array element. Implementations must be safe to call
	// concurrently with Close but not with themselves.
	SendFrame(kind string, payload ...any) error
	Close() error
}

// Lock serializes access to the mutable fields of ClientState (LastCookieSent,
// Pending) that the TurnLoop and MessageHandler touch concurrently.
func (c *ClientState) Lock()   { c.mu.Lock() }
func (c *ClientState) Unlock() { c.mu.Unlock() }

// RoomStatus is the lifecycle state of a RoomRecord.
type RoomStatus string

const (
	RoomStatusUnknown RoomStatus = "Unknown"
	RoomStatusOpen    RoomStatus = "Open"
	RoomStatusClosed  RoomStatus = "Closed"
	RoomStatusDeleted RoomStatus = "Deleted"
)

// RoomRecord is AuthFront's durable directory entry for a room: key "room/<roomID>".
type RoomRecord struct {
	RoomID   RoomIDType `json:"roomID"`
	ObjectID string     `json:"objectID"`
	Status   RoomStatus `json:"status"`
}

// ConnectionRecord is AuthFront's per (user,room,client) presence marker:
// key "connection/<enc(userID)>/<enc(roomID)>/<enc(clientID)>/".
type ConnectionRecord struct {
	ConnectTimestamp int64 `json:"connectTimestamp"`
}

// --- Wire frames (§6) ---

// ErrorKind is the closed set of user-visible error reasons.
type ErrorKind string

const (
	ErrInvalidMessage      ErrorKind = "InvalidMessage"
	ErrAuthInvalidated     ErrorKind = "AuthInvalidated"
	ErrClientNotFound      ErrorKind = "ClientNotFound"
	ErrRoomClosed          ErrorKind = "RoomClosed"
	ErrRoomNotFound        ErrorKind = "RoomNotFound"
	ErrUnauthorized        ErrorKind = "Unauthorized"
	ErrUnexpectedBaseCookie ErrorKind = "UnexpectedBaseCookie"
	ErrUnexpectedLMID      ErrorKind = "UnexpectedLMID"
	ErrConnectTimeout      ErrorKind = "ConnectTimeout"
	ErrPingTimeout         ErrorKind = "PingTimeout"
	ErrInternal            ErrorKind = "InternalError"
)

// PatchOp is one entry of a poke's patch: a durable write observed this turn.
type PatchOp struct {
	Op    string          `json:"op"` // "put" | "del" | "clear"
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// PushMutation is the wire shape of one mutation inside a push frame.
type PushMutation struct {
	ID        uint64          `json:"id"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
	Timestamp int64           `json:"timestamp"`
}

// PushPayload is the payload of an upstream ["push", payload] frame.
type PushPayload struct {
	Mutations    []PushMutation `json:"mutations"`
	PushVersion  int            `json:"pushVersion"`
	SchemaVersion string        `json:"schemaVersion"`
	RequestID    string         `json:"requestID"`
	Timestamp    int64          `json:"timestamp"`
}

// PokePayload is the payload of a downstream ["poke", payload] frame.
type PokePayload struct {
	BaseCookie            Cookie            `json:"baseCookie"`
	Cookie                int64             `json:"cookie"`
	LastMutationIDChanges map[ClientIDType]uint64 `json:"lastMutationIDChanges"`
	Patch                 []PatchOp         `json:"patch"`
	Timestamp             int64             `json:"timestamp"`
	RequestID             string            `json:"requestID,omitempty"`
}

// --- Shared interfaces ---

// TokenValidator is the opaque AuthHandler contract: token + roomID -> identity.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string, roomID RoomIDType) (*UserData, error)
}

// BusService is the distributed pub/sub contract AuthFront replicas and
// RoomCore processes use to fan out invalidations and revalidation signals.
type BusService interface {
	Publish(ctx context.Context, roomID string, event string, payload any, senderID string) error
	PublishDirect(ctx context.Context, targetUserID string, event string, payload any, senderID string) error
	Subscribe(ctx context.Context, roomID string, wg *sync.WaitGroup, handler func(bus.PubSubPayload))
	Close() error
	SetAdd(ctx context.Context, key string, value string) error
	SetRem(ctx context.Context, key string, value string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
}

// MutationCtx is the per-invocation context passed to a kvstore.Mutator:
// the submitting client's identity, the mutation's id, and the cookie the
// turn will commit under.
type MutationCtx struct {
	Auth       UserData
	MutationID uint64
	ClientID   ClientIDType
	Version    int64
}

// Package transport adapts a real gorilla/websocket socket to the
// types.ClientConn contract roomcore depends on, and pumps frames between
// the wire and a Room the way the teacher's session.Client readPump/
// writePump pair does for its binary proto frames - except frames here
// are the spec's `[kind, payload]` JSON arrays (§6).
package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var (
	errSendBufferFull = errors.New("transport: send buffer full")
	errInvalidFrame   = errors.New("transport: invalid frame envelope")
)

// WSConn implements types.ClientConn over a *websocket.Conn. Outgoing
// frames are queued on a buffered channel so a slow reader never blocks
// the TurnLoop goroutine that calls SendFrame.
type WSConn struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWSConn wraps an already-upgraded socket. Callers must start WritePump
// in its own goroutine before any SendFrame call can make progress.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{
		conn:   conn,
		send:   make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

// SendFrame marshals [kind, payload...] - one array element per extra
// arg, so `SendFrame("error", kind, detail)` comes out as the flat
// 3-element `["error", kind, detail]` the wire protocol requires (§6)
// rather than nesting kind/detail as a 2-element sub-array - and enqueues
// it for WritePump. A full send buffer is reported as an error so the
// caller (roomcore's poke fan-out closes the client on it) can treat this
// client as unreachable, rather than silently dropping state updates
// forever.
func (c *WSConn) SendFrame(kind string, payload ...any) error {
	frame := make([]any, 0, 1+len(payload))
	frame = append(frame, kind)
	frame = append(frame, payload...)
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close shuts down the socket and stops WritePump. Safe to call more than
// once or concurrently with SendFrame.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.conn.Close()
}

// WritePump drains the send channel onto the socket until Close is called
// or a write fails. Run it in its own goroutine per connection.
func (c *WSConn) WritePump() {
	defer c.conn.Close()
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ReadFrame blocks for the next incoming text frame and decodes its
// `[kind, ...]` envelope. io errors (including a clean close) are returned
// as-is for the caller's readPump loop to break on.
func (c *WSConn) ReadFrame() (kind string, raw json.RawMessage, err error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return "", nil, err
	}
	var envelope []json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope) == 0 {
		return "", nil, errInvalidFrame
	}
	if err := json.Unmarshal(envelope[0], &kind); err != nil {
		return "", nil, errInvalidFrame
	}
	if len(envelope) > 1 {
		raw = envelope[1]
	}
	return kind, raw, nil
}

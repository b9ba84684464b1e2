package authfront

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/room-sync/fabric/internal/v1/buffersizer"
	"github.com/room-sync/fabric/internal/v1/clock"
	"github.com/room-sync/fabric/internal/v1/registry"
	"github.com/room-sync/fabric/internal/v1/roomcore"
	"github.com/room-sync/fabric/internal/v1/storage"
	"github.com/room-sync/fabric/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a minimal types.ClientConn for exercising Room.Connect and
// invalidation without a real socket.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]any
	closed bool
}

func (f *fakeConn) SendFrame(kind string, payload ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	frame := append([]any{kind}, payload...)
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeValidator struct {
	userID types.UserIDType
	err    error
}

func (v *fakeValidator) ValidateToken(ctx context.Context, tokenString string, roomID types.RoomIDType) (*types.UserData, error) {
	if v.err != nil {
		return nil, v.err
	}
	return &types.UserData{UserID: v.userID}, nil
}

func testAuthFront(t *testing.T) (*AuthFront, storage.Store) {
	t.Helper()
	store := storage.NewMemStore()
	mutators := registry.NewMutatorRegistry()
	rooms := NewRoomManager(store, clock.Real{}, nil, mutators, roomcore.Config{
		TurnDuration: 2 * time.Millisecond,
		BufferSizer:  buffersizer.Config{InitialMs: 0, MinMs: 0, MaxMs: 0},
	})
	af := New(&fakeValidator{userID: "u1"}, rooms, NewRoomRecordStore(store), NewConnectionRecordStore(store), clock.Real{}, "secret-key", nil)
	return af, store
}

func connectClient(t *testing.T, af *AuthFront, roomID types.RoomIDType, clientID types.ClientIDType, userID types.UserIDType) *fakeConn {
	t.Helper()
	ctx := context.Background()
	_, err := af.RoomRecords.Create(ctx, roomID, "obj-1")
	require.NoError(t, err)

	require.NoError(t, af.Connections.Put(ctx, userID, roomID, clientID, 1000))
	room := af.Rooms.GetOrCreate(roomID)
	conn := &fakeConn{}
	require.NoError(t, room.Connect(ctx, conn, roomcore.ConnectRequest{
		ClientID: clientID,
		Auth:     types.UserData{UserID: userID},
	}))
	return conn
}

func TestInvalidateForUser_ClosesConnectionsAcrossRooms(t *testing.T) {
	af, _ := testAuthFront(t)
	connR1 := connectClient(t, af, "r1", "c1", "u1")
	connR2 := connectClient(t, af, "r2", "c2", "u1")
	otherUserConn := connectClient(t, af, "r1", "c3", "u2")

	require.NoError(t, af.InvalidateForUser(context.Background(), "u1"))

	assert.True(t, connR1.isClosed())
	assert.True(t, connR2.isClosed())
	assert.False(t, otherUserConn.isClosed())

	keys, err := af.Connections.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCreateRoom_Idempotent(t *testing.T) {
	af, _ := testAuthFront(t)
	rec1, err := af.RoomRecords.Create(context.Background(), "r1", "obj-1")
	require.NoError(t, err)
	rec2, err := af.RoomRecords.Create(context.Background(), "r1", "obj-1")
	require.NoError(t, err)
	assert.Equal(t, rec1, rec2)
}

func TestCreateRoom_ConflictingObjectIDRejected(t *testing.T) {
	af, _ := testAuthFront(t)
	_, err := af.RoomRecords.Create(context.Background(), "r1", "obj-1")
	require.NoError(t, err)
	_, err = af.RoomRecords.Create(context.Background(), "r1", "obj-2")
	assert.ErrorIs(t, err, ErrRoomExists)
}

func TestInvalidateForRoom_ClosesOnlyThatRoom(t *testing.T) {
	af, _ := testAuthFront(t)
	connR1 := connectClient(t, af, "r1", "c1", "u1")
	connR2 := connectClient(t, af, "r2", "c2", "u1")

	require.NoError(t, af.InvalidateForRoom(context.Background(), "r1"))

	assert.True(t, connR1.isClosed())
	assert.False(t, connR2.isClosed())
}

func TestRevalidateConnections_DropsStaleRecords(t *testing.T) {
	af, _ := testAuthFront(t)
	conn := connectClient(t, af, "r1", "c1", "u1")

	room, _ := af.Rooms.Lookup("r1")
	room.Close("c1")
	_ = conn

	require.NoError(t, af.RevalidateConnections(context.Background()))

	keys, err := af.Connections.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

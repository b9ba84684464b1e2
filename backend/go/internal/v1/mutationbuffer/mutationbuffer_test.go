package mutationbuffer

import (
	"testing"

	"github.com/room-sync/fabric/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAndLen(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.Len())

	b.Push(&types.PendingMutation{ClientID: "c1", ID: 1})
	b.Push(&types.PendingMutation{ClientID: "c1", ID: 2})

	assert.Equal(t, 2, b.Len())
}

func TestDrainDue_OnlyRemovesDueMutations(t *testing.T) {
	b := New()
	b.Push(&types.PendingMutation{ClientID: "c1", ID: 1, ServerReceivedTimestamp: 100})
	b.Push(&types.PendingMutation{ClientID: "c1", ID: 2, ServerReceivedTimestamp: 200})

	due := b.DrainDue(func(m *types.PendingMutation) bool {
		return m.ServerReceivedTimestamp <= 100
	})

	require.Len(t, due, 1)
	assert.Equal(t, uint64(1), due[0].ID)
	assert.Equal(t, 1, b.Len())
}

func TestDrainDue_OrdersByTimestampThenClientIDThenID(t *testing.T) {
	b := New()
	b.Push(&types.PendingMutation{ClientID: "b", ID: 1, ServerReceivedTimestamp: 100})
	b.Push(&types.PendingMutation{ClientID: "a", ID: 2, ServerReceivedTimestamp: 100})
	b.Push(&types.PendingMutation{ClientID: "a", ID: 1, ServerReceivedTimestamp: 100})
	b.Push(&types.PendingMutation{ClientID: "z", ID: 1, ServerReceivedTimestamp: 50})

	due := b.DrainDue(func(m *types.PendingMutation) bool { return true })

	require.Len(t, due, 4)
	assert.Equal(t, types.ClientIDType("z"), due[0].ClientID)
	assert.Equal(t, types.ClientIDType("a"), due[1].ClientID)
	assert.Equal(t, uint64(1), due[1].ID)
	assert.Equal(t, types.ClientIDType("a"), due[2].ClientID)
	assert.Equal(t, uint64(2), due[2].ID)
	assert.Equal(t, types.ClientIDType("b"), due[3].ClientID)
}

func TestPeek_DoesNotRemove(t *testing.T) {
	b := New()
	b.Push(&types.PendingMutation{ClientID: "c1", ID: 1})

	snap := b.Peek()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, b.Len())
}

func TestDrainDue_EmptyBufferReturnsNil(t *testing.T) {
	b := New()
	due := b.DrainDue(func(m *types.PendingMutation) bool { return true })
	assert.Empty(t, due)
}

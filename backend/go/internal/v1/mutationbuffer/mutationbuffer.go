// Package mutationbuffer implements the time-ordered buffer of pending
// mutations shared by every client in a room (C6). It is a thin
// container/list wrapper, the same structure the fabric uses elsewhere for
// ordered queues, kept here as its own package since the TurnLoop, the
// MessageHandler, and tests all need to drain, peek, and measure it
// independently.
package mutationbuffer

import (
	"container/list"
	"sync"

	"github.com/room-sync/fabric/internal/v1/types"
)

// Buffer holds PendingMutations in arrival order (the order
// ServerReceivedTimestamp was assigned), across all clients in the room.
type Buffer struct {
	mu sync.Mutex
	l  *list.List
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{l: list.New()}
}

// Push appends a mutation to the back of the buffer, preserving arrival
// order.
func (b *Buffer) Push(m *types.PendingMutation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.l.PushBack(m)
}

// Len reports the number of buffered mutations.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.l.Len()
}

// DrainDue removes and returns every mutation for which isDue reports
// true, in (serverReceivedTimestamp, clientID, id) ascending order per
// the TurnLoop's tie-break rule. Mutations not yet due are left in the
// buffer.
func (b *Buffer) DrainDue(isDue func(m *types.PendingMutation) bool) []*types.PendingMutation {
	b.mu.Lock()
	defer b.mu.Unlock()

	var due []*types.PendingMutation
	var next *list.Element
	for e := b.l.Front(); e != nil; e = next {
		next = e.Next()
		m := e.Value.(*types.PendingMutation)
		if isDue(m) {
			due = append(due, m)
			b.l.Remove(e)
		}
	}

	sortDue(due)
	return due
}

// Peek returns a snapshot of all currently-buffered mutations without
// removing them, used for depth-based BufferSizer feedback.
func (b *Buffer) Peek() []*types.PendingMutation {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*types.PendingMutation, 0, b.l.Len())
	for e := b.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*types.PendingMutation))
	}
	return out
}

func sortDue(due []*types.PendingMutation) {
	// Insertion sort: due batches are small (a handful of mutations per
	// tick under normal load) and the buffer already delivers them in
	// arrival order, so this is nearly-sorted input.
	for i := 1; i < len(due); i++ {
		j := i
		for j > 0 && less(due[j], due[j-1]) {
			due[j], due[j-1] = due[j-1], due[j]
			j--
		}
	}
}

// less implements the tie-break rule: serverReceivedTimestamp first, then
// (clientID, id) lexicographic/numeric.
func less(a, b *types.PendingMutation) bool {
	if a.ServerReceivedTimestamp != b.ServerReceivedTimestamp {
		return a.ServerReceivedTimestamp < b.ServerReceivedTimestamp
	}
	if a.ClientID != b.ClientID {
		return a.ClientID < b.ClientID
	}
	return a.ID < b.ID
}

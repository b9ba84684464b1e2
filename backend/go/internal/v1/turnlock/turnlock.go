// Package turnlock implements the exclusive, FIFO, asynchronous lock that
// serializes every mutating operation against a single room: turn
// execution, connect admission, and invalidation all run under it so that
// RoomCore behaves as a single-writer actor.
package turnlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/room-sync/fabric/internal/v1/logging"
	"github.com/room-sync/fabric/internal/v1/metrics"
	"go.uber.org/zap"
)

// ErrShuttingDown is returned to any waiter queued (or newly queued) after
// Shutdown is called. A shutting-down room rejects new lock waiters with a
// terminal error and flushes no further pokes.
var ErrShuttingDown = errors.New("turnlock: room is shutting down")

// TurnLock is a 1-slot channel acting as an exclusive FIFO mutex: callers
// queue by receiving the single token from a buffered channel of capacity
// 1 and send it back on release; the channel's receive queue serves
// waiters in request order without an explicit wait queue.
type TurnLock struct {
	roomID string
	ch     chan struct{}

	mu          sync.Mutex
	shutdown    bool
	watchdogMul float64 // multiplier applied to a caller's expectedMaxMs, default 1.5
}

// New creates a TurnLock for the given room, used in log lines and the
// stuck-lock metric label.
func New(roomID string) *TurnLock {
	l := &TurnLock{
		roomID:      roomID,
		ch:          make(chan struct{}, 1),
		watchdogMul: 1.5,
	}
	l.ch <- struct{}{}
	return l
}

// WithLock runs fn exclusively. Acquisition respects ctx cancellation: a
// cancelled waiter never runs and never blocks successors, since it never
// claims the channel token. expectedMaxMs, when > 0, arms a watchdog that
// logs a warning if fn is still running past expectedMaxMs * 1.5.
func WithLock[T any](ctx context.Context, l *TurnLock, name string, expectedMaxMs int64, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return zero, ErrShuttingDown
	}
	l.mu.Unlock()

	waitStart := time.Now()
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-l.ch:
	}
	metrics.TurnLockWait.WithLabelValues(l.roomID).Observe(time.Since(waitStart).Seconds())

	defer func() { l.ch <- struct{}{} }()

	l.mu.Lock()
	shuttingDown := l.shutdown
	l.mu.Unlock()
	if shuttingDown {
		return zero, ErrShuttingDown
	}

	var watchdogDone chan struct{}
	if expectedMaxMs > 0 {
		watchdogDone = make(chan struct{})
		threshold := time.Duration(float64(expectedMaxMs)*l.watchdogMul) * time.Millisecond
		go func() {
			select {
			case <-watchdogDone:
			case <-time.After(threshold):
				metrics.TurnLockStuck.WithLabelValues(l.roomID).Inc()
				logging.Warn(ctx, "turn lock held past expected duration",
					zap.String("room_id", l.roomID),
					zap.String("lock_name", name),
					zap.Duration("threshold", threshold))
			}
		}()
	}

	result, err := fn(ctx)

	if watchdogDone != nil {
		close(watchdogDone)
	}

	return result, err
}

// Shutdown marks the lock terminal: any waiter queued now or in the future
// receives ErrShuttingDown instead of running fn. Already-running holders
// finish normally; the lock itself is never forcibly released.
func (l *TurnLock) Shutdown() {
	l.mu.Lock()
	l.shutdown = true
	l.mu.Unlock()
}

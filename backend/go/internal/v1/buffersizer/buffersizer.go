// Package buffersizer implements the adaptive delay controller that widens
// or narrows a room's mutation buffer window in response to observed
// arrival-to-process latency, trading freshness for the ability to batch
// concurrent writers into fewer turns.
package buffersizer

import (
	"sort"
	"sync"
	"time"

	"github.com/room-sync/fabric/internal/v1/metrics"
)

const (
	// upperLatenessThresholdMs is the p95 arrival lateness above which the
	// buffer window grows.
	upperLatenessThresholdMs = 50
	// lowerLatenessThresholdMs is the p95 arrival lateness below which the
	// buffer window shrinks back toward min.
	lowerLatenessThresholdMs = 10
	// growthFactor is the multiplicative step applied when growing.
	growthFactor = 1.25
	// shrinkFactor is the multiplicative step applied when shrinking.
	shrinkFactor = 0.85

	maxSamples = 256
)

// BufferSizer tracks recent arrival-latency samples for one room and
// periodically recomputes the buffer window the TurnLoop uses to decide
// whether a mutation is "due".
type BufferSizer struct {
	mu sync.Mutex

	roomID string
	min    int64
	max    int64
	current int64

	adjustInterval time.Duration
	lastAdjust     time.Time

	samples []int64 // arrival lateness, milliseconds
}

// Config bounds and paces a BufferSizer. A zero AdjustInterval is replaced
// with 10s; InitialMs, MinMs and MaxMs are used as given, so zero values
// there mean a zero-width window.
type Config struct {
	InitialMs      int64
	MinMs          int64
	MaxMs          int64
	AdjustInterval time.Duration
}

// New creates a BufferSizer for roomID, starting at cfg.InitialMs.
func New(roomID string, cfg Config) *BufferSizer {
	if cfg.AdjustInterval == 0 {
		cfg.AdjustInterval = 10 * time.Second
	}
	return &BufferSizer{
		roomID:         roomID,
		min:            cfg.MinMs,
		max:            cfg.MaxMs,
		current:        cfg.InitialMs,
		adjustInterval: cfg.AdjustInterval,
		lastAdjust:     time.Time{},
	}
}

// Current returns the buffer window, in milliseconds, currently in effect.
func (b *BufferSizer) Current() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Observe records one mutation's arrival lateness: processingStartedAtMs
// minus serverReceivedTimestamp, clamped at zero. Called once per dequeued
// mutation from the turn loop.
func (b *BufferSizer) Observe(now time.Time, serverReceivedTimestamp, processingStartedAtMs int64) {
	lateness := processingStartedAtMs - serverReceivedTimestamp
	if lateness < 0 {
		lateness = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, lateness)
	if len(b.samples) > maxSamples {
		b.samples = b.samples[len(b.samples)-maxSamples:]
	}

	if b.lastAdjust.IsZero() {
		b.lastAdjust = now
		return
	}
	if now.Sub(b.lastAdjust) < b.adjustInterval {
		return
	}
	b.adjustLocked(now)
}

// Tick forces an adjustment check regardless of whether a sample was just
// observed; the TurnLoop calls this once per tick so idle rooms still
// relax their buffer window back toward min.
func (b *BufferSizer) Tick(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastAdjust.IsZero() {
		b.lastAdjust = now
		return
	}
	if now.Sub(b.lastAdjust) < b.adjustInterval {
		return
	}
	b.adjustLocked(now)
}

// adjustLocked recomputes current from the p95 of recent samples. Caller
// holds b.mu.
func (b *BufferSizer) adjustLocked(now time.Time) {
	p95 := percentile95(b.samples)
	b.samples = b.samples[:0]
	b.lastAdjust = now

	switch {
	case p95 > upperLatenessThresholdMs:
		grown := int64(float64(b.current) * growthFactor)
		if grown <= b.current {
			grown = b.current + 1
		}
		if grown > b.max {
			grown = b.max
		}
		b.current = grown
	case p95 < lowerLatenessThresholdMs:
		shrunk := int64(float64(b.current) * shrinkFactor)
		if shrunk >= b.current && b.current > b.min {
			shrunk = b.current - 1
		}
		if shrunk < b.min {
			shrunk = b.min
		}
		b.current = shrunk
	}

	metrics.BufferSize.WithLabelValues(b.roomID).Set(float64(b.current))
}

func percentile95(samples []int64) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

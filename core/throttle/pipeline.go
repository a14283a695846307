package throttle

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adalundhe/ensemble/core/clock"
)

// EmitFunc receives each coalesced payload as it leaves the pipeline.
type EmitFunc func(channel Channel, key string, payload any)

// pendingKey addresses one coalescing slot.
type pendingKey struct {
	channel Channel
	key     string
}

// pendingEntry holds the single most recent payload awaiting flush.
type pendingEntry struct {
	payload    any
	enqueuedAt time.Time
	timer      clock.Timer
}

// Pipeline coalesces rapid updates per (channel, key) and emits the most
// recent payload on a trailing-edge timer. The first enqueue for a slot arms
// the timer; later enqueues replace only the stored payload and never extend
// the timer, bounding worst-case latency to one interval per key.
type Pipeline struct {
	mu        sync.Mutex
	pending   map[pendingKey]*pendingEntry
	intervals Intervals
	emit      EmitFunc
	clock     clock.Clock
	logger    *slog.Logger
	closed    bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock substitutes the timer source, for tests.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline returns a pipeline emitting through emit. The intervals are
// validated; nil intervals means defaults.
func NewPipeline(intervals Intervals, emit EmitFunc, opts ...Option) (*Pipeline, error) {
	if intervals == nil {
		intervals = DefaultIntervals()
	}
	if err := intervals.Validate(); err != nil {
		return nil, fmt.Errorf("throttle pipeline: %w", err)
	}
	p := &Pipeline{
		pending:   make(map[pendingKey]*pendingEntry),
		intervals: intervals,
		emit:      emit,
		clock:     clock.Real(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Enqueue stores payload for (channel, key), overwriting any pending payload
// for the slot. The first enqueue arms the channel's trailing-edge timer;
// while the timer runs, later enqueues replace the payload only.
func (p *Pipeline) Enqueue(channel Channel, key string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	slot := pendingKey{channel: channel, key: key}
	if entry, ok := p.pending[slot]; ok {
		entry.payload = payload
		return
	}

	entry := &pendingEntry{
		payload:    payload,
		enqueuedAt: p.clock.Now(),
	}
	entry.timer = p.clock.AfterFunc(p.intervals.Interval(channel), func() {
		p.fire(slot)
	})
	p.pending[slot] = entry
}

// fire delivers the pending payload for slot when its timer expires.
func (p *Pipeline) fire(slot pendingKey) {
	p.mu.Lock()
	entry, ok := p.pending[slot]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, slot)
	p.mu.Unlock()

	p.emit(slot.channel, slot.key, entry.payload)
}

// FlushNow immediately emits the pending payload for (channel, key), if any,
// and cancels its timer so no duplicate send follows. Used on gesture end to
// deliver the final state without waiting out the interval. Flushing an
// empty slot is a no-op.
func (p *Pipeline) FlushNow(channel Channel, key string) {
	slot := pendingKey{channel: channel, key: key}

	p.mu.Lock()
	entry, ok := p.pending[slot]
	if ok {
		delete(p.pending, slot)
		entry.timer.Stop()
	}
	p.mu.Unlock()

	if ok {
		p.emit(channel, key, entry.payload)
	}
}

// FlushKey immediately emits every pending payload for key across all
// channels, cancelling their timers. Used on gesture end when the gesture
// touched more than one lane.
func (p *Pipeline) FlushKey(key string) {
	p.mu.Lock()
	drained := make(map[pendingKey]*pendingEntry)
	for slot, entry := range p.pending {
		if slot.key == key {
			entry.timer.Stop()
			drained[slot] = entry
			delete(p.pending, slot)
		}
	}
	p.mu.Unlock()

	for slot, entry := range drained {
		p.emit(slot.channel, slot.key, entry.payload)
	}
}

// FlushAll force-emits every still-pending payload across all channels.
// Invoked on disconnect or teardown so no final state is dropped.
func (p *Pipeline) FlushAll() {
	p.mu.Lock()
	drained := make(map[pendingKey]*pendingEntry, len(p.pending))
	for slot, entry := range p.pending {
		entry.timer.Stop()
		drained[slot] = entry
	}
	p.pending = make(map[pendingKey]*pendingEntry)
	p.mu.Unlock()

	for slot, entry := range drained {
		p.emit(slot.channel, slot.key, entry.payload)
	}
}

// HasPending reports whether a payload is awaiting flush for (channel, key).
// The reconciler uses this to avoid clobbering an in-progress local gesture
// with a stale remote echo.
func (p *Pipeline) HasPending(channel Channel, key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[pendingKey{channel: channel, key: key}]
	return ok
}

// HasPendingForKey reports whether any channel holds a pending payload for
// key.
func (p *Pipeline) HasPendingForKey(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for slot := range p.pending {
		if slot.key == key {
			return true
		}
	}
	return false
}

// PendingCount returns the number of slots awaiting flush.
func (p *Pipeline) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close flushes everything still pending and rejects further enqueues.
// Closing twice is safe.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.FlushAll()
}

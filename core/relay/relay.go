// Package relay implements the authoritative side of a session: it owns the
// real lock table, serializes lock requests so concurrent acquires resolve
// first-request-wins, stamps mutations with per-element sequence numbers,
// journals them for late joiners, and broadcasts everything to the room.
// Client lock tables are read-through mirrors of this one.
package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/adalundhe/ensemble/core/clock"
	"github.com/adalundhe/ensemble/core/gateway"
	"github.com/adalundhe/ensemble/core/journal"
	"github.com/adalundhe/ensemble/core/locks"
	"github.com/adalundhe/ensemble/core/wire"
)

// Config tunes lock recovery.
type Config struct {
	// LockIdleTimeout is how long a lock may sit unrefreshed before the
	// sweeper reclaims it. Recovers from clients that crashed without a
	// disconnect event.
	LockIdleTimeout time.Duration

	// SweepInterval is how often the sweeper runs.
	SweepInterval time.Duration
}

// DefaultConfig returns the default lock recovery settings.
func DefaultConfig() Config {
	return Config{
		LockIdleTimeout: 30 * time.Second,
		SweepInterval:   5 * time.Second,
	}
}

// Relay is the authoritative session coordinator.
type Relay struct {
	hub     *gateway.Loopback
	locks   *locks.Table
	journal *journal.Journal
	clock   clock.Clock
	logger  *slog.Logger
	cfg     Config

	// mu serializes uplink processing: one request at a time is what makes
	// same-tick acquire races deterministic.
	mu      sync.Mutex
	seq     map[string]uint64
	members map[string]string // clientID -> room

	sweepMu   sync.Mutex
	sweepStop bool
	sweepTmr  clock.Timer
}

// Option configures a Relay.
type Option func(*Relay)

// WithClock substitutes the time source, for tests.
func WithClock(c clock.Clock) Option {
	return func(r *Relay) { r.clock = c }
}

// WithLogger sets the relay's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// New wires a relay to the hub's uplink and lifecycle notifications and
// starts the idle-lock sweeper.
func New(hub *gateway.Loopback, jnl *journal.Journal, cfg Config, opts ...Option) *Relay {
	if cfg.LockIdleTimeout <= 0 {
		cfg = DefaultConfig()
	}
	r := &Relay{
		hub:     hub,
		journal: jnl,
		clock:   clock.Real(),
		logger:  slog.Default(),
		cfg:     cfg,
		seq:     make(map[string]uint64),
		members: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.locks = locks.NewTable(locks.WithClock(r.clock), locks.WithLogger(r.logger))

	hub.SetUplink(r.handleUplink)
	hub.OnDetach(r.handleDetach)
	r.scheduleSweep()
	return r
}

// Join registers a client in a room and returns the state a late joiner
// needs: the current lock snapshot and the room's journaled mutations in
// applied order. Room membership itself (auth, invites) is outside this
// core. Clients attach to the hub under their user ID; denials and
// disconnect cleanup route by it.
func (r *Relay) Join(clientID, room string) ([]locks.LockInfo, []*wire.Envelope, error) {
	r.mu.Lock()
	r.members[clientID] = room
	r.mu.Unlock()

	replay, err := r.journal.Replay(room)
	if err != nil {
		return nil, nil, err
	}
	return r.locks.Snapshot(), replay, nil
}

// Locks exposes the authoritative lock table for inspection.
func (r *Relay) Locks() *locks.Table { return r.locks }

// handleUplink processes one inbound envelope. Requests are serialized;
// concurrent acquires on the same element resolve first-request-wins and the
// loser is told who holds the lock.
func (r *Relay) handleUplink(env *wire.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dup, err := r.journal.Has(env.ID); err == nil && dup {
		r.logger.Debug("dropping redelivered event", "id", env.ID)
		return
	}

	payload, err := env.DecodePayload()
	if err != nil {
		r.logger.Warn("dropping malformed uplink event",
			"id", env.ID, "name", env.Name, "error", err)
		return
	}

	switch env.Name {
	case wire.EventLockAcquire:
		r.handleAcquire(env, payload.(*wire.LockPayload))
	case wire.EventLockRelease:
		r.handleRelease(env, payload.(*wire.LockPayload))
	default:
		r.handleMutation(env, payload)
	}
}

func (r *Relay) handleAcquire(env *wire.Envelope, p *wire.LockPayload) {
	info, granted := r.locks.Acquire(p.ElementID, p.UserID, p.Username, p.LockType)

	// Either way the answer is the authoritative holder: on grant the room
	// learns the new owner, on denial only the loser hears who beat them,
	// rolling back its optimistic mirror.
	holder := &wire.LockPayload{
		RoomID:    p.RoomID,
		ElementID: info.ElementID,
		LockType:  info.Type,
		UserID:    info.UserID,
		Username:  info.Username,
	}
	out, err := wire.NewEnvelope(wire.EventLockAcquire, env.Room, info.UserID, info.Username, holder)
	if err != nil {
		r.logger.Error("building lock broadcast", "error", err)
		return
	}

	if granted {
		r.hub.Broadcast(env.Room, out, "")
		return
	}
	r.logger.Debug("lock denied at relay",
		"element", p.ElementID, "requester", p.UserID, "holder", info.UserID)
	if err := r.hub.Send(env.UserID, out); err != nil {
		r.logger.Debug("denial not deliverable", "client", env.UserID, "error", err)
	}
}

func (r *Relay) handleRelease(env *wire.Envelope, p *wire.LockPayload) {
	if !r.locks.Release(p.ElementID, p.UserID) {
		// Releasing an unheld or foreign lock is a no-op, never an error.
		r.logger.Debug("ignoring release from non-holder",
			"element", p.ElementID, "requester", p.UserID)
		return
	}
	r.broadcastRelease(env.Room, p.ElementID, p.UserID, p.Username)
}

// handleMutation relays an entity event: lock-gated for element updates,
// unconditional for broadcast-only channels, sequenced and journaled either
// way.
func (r *Relay) handleMutation(env *wire.Envelope, payload wire.Payload) {
	elementID := lockableElement(payload)
	if elementID != "" {
		if holder, held := r.locks.Get(elementID); held && holder.UserID != env.UserID {
			r.logger.Debug("dropping mutation from non-holder",
				"element", elementID, "origin", env.UserID, "holder", holder.UserID)
			return
		}
		r.seq[elementID]++
		env.Seq = r.seq[elementID]
	}

	if err := r.journal.Append(env); err != nil {
		r.logger.Error("journaling event", "id", env.ID, "error", err)
	}

	// The origin already applied this optimistically; echoing it back would
	// only fight the local gesture.
	r.hub.Broadcast(env.Room, env, env.UserID)
}

// handleDetach releases everything a departed client held and tells the
// room.
func (r *Relay) handleDetach(clientID string) {
	r.mu.Lock()
	room, known := r.members[clientID]
	delete(r.members, clientID)
	r.mu.Unlock()
	if !known {
		return
	}

	released := r.locks.ReleaseAll(clientID)
	for _, info := range released {
		r.broadcastRelease(room, info.ElementID, info.UserID, info.Username)
	}
	r.logger.Info("client detached", "client", clientID, "locks_released", len(released))
}

func (r *Relay) broadcastRelease(room, elementID, userID, username string) {
	p := &wire.LockPayload{
		RoomID:    room,
		ElementID: elementID,
		UserID:    userID,
		Username:  username,
	}
	out, err := wire.NewEnvelope(wire.EventLockRelease, room, userID, username, p)
	if err != nil {
		r.logger.Error("building release broadcast", "error", err)
		return
	}
	r.hub.Broadcast(room, out, "")
}

// scheduleSweep arms the next idle-lock sweep.
func (r *Relay) scheduleSweep() {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	if r.sweepStop {
		return
	}
	r.sweepTmr = r.clock.AfterFunc(r.cfg.SweepInterval, func() {
		r.sweep()
		r.scheduleSweep()
	})
}

// sweep reclaims locks idle past the timeout and notifies each holder's
// room.
func (r *Relay) sweep() {
	expired := r.locks.ExpireIdle(r.cfg.LockIdleTimeout)
	if len(expired) == 0 {
		return
	}

	r.mu.Lock()
	rooms := make(map[string]string, len(expired))
	for _, info := range expired {
		rooms[info.UserID] = r.members[info.UserID]
	}
	r.mu.Unlock()

	for _, info := range expired {
		room := rooms[info.UserID]
		if room == "" {
			continue
		}
		r.broadcastRelease(room, info.ElementID, info.UserID, info.Username)
	}
}

// Stop cancels the idle-lock sweeper. The relay stops reacting to uplink
// traffic once its hub is torn down.
func (r *Relay) Stop() {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	r.sweepStop = true
	if r.sweepTmr != nil {
		r.sweepTmr.Stop()
	}
}

// lockableElement returns the element an update-style payload targets.
// Add/delete and broadcast-only payloads are not lock-gated.
func lockableElement(payload wire.Payload) string {
	switch p := payload.(type) {
	case *wire.TrackUpdatePayload:
		// Property gestures lock the composite element, not the track.
		if p.ElementID != "" {
			return p.ElementID
		}
		return p.TrackID
	case *wire.RegionUpdatePayload:
		return p.RegionID
	case *wire.NoteUpdatePayload:
		return p.NoteID
	case *wire.SynthParamsPayload:
		return p.TrackID
	case *wire.EffectChainPayload:
		return p.TrackID
	default:
		return ""
	}
}

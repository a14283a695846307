// Package client wires one participant's editing surface to the session: an
// optimistic lock mirror, immediately-applied local mutations, the throttled
// outbound pipeline, and the reconciler for inbound events.
//
// A gesture's flow: BeginGesture acquires the lock (optimistic local write
// plus a relay request), each movement mutates local state instantly and
// enqueues a coalesced update, EndGesture flushes the final value and
// releases the lock. On teardown every pending payload is flushed before the
// transport learns the client is gone.
package client

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/adalundhe/ensemble/core/arrange"
	"github.com/adalundhe/ensemble/core/clock"
	"github.com/adalundhe/ensemble/core/gateway"
	"github.com/adalundhe/ensemble/core/locks"
	"github.com/adalundhe/ensemble/core/reconcile"
	"github.com/adalundhe/ensemble/core/throttle"
	"github.com/adalundhe/ensemble/core/wire"
)

var (
	// ErrLockDenied indicates the element is locked by another user. The
	// caller retries or abandons the edit; routine contention is not an
	// error dialog.
	ErrLockDenied = errors.New("element locked by another user")

	// ErrNotHolder indicates a mutation attempted without holding the
	// element's lock.
	ErrNotHolder = errors.New("lock not held")

	// ErrSessionClosed indicates use of a closed session.
	ErrSessionClosed = errors.New("session is closed")
)

// Params configures a session.
type Params struct {
	Room     string
	UserID   string
	Username string

	// Port is the client's transport connection.
	Port *gateway.Port

	// Intervals overrides throttle intervals; nil means defaults.
	Intervals throttle.Intervals

	Clock  clock.Clock
	Logger *slog.Logger
}

// Session is one user's handle on a collaborative arrangement.
type Session struct {
	room     string
	userID   string
	username string

	state    *arrange.State
	mirror   *locks.Table
	pipeline *throttle.Pipeline
	recon    *reconcile.Reconciler
	port     *gateway.Port
	logger   *slog.Logger

	sub    *gateway.Subscription
	closed bool
}

// NewSession builds a session and subscribes it to the room's events. Call
// Resync with the relay's join response before editing.
func NewSession(p Params) (*Session, error) {
	if p.Room == "" || p.UserID == "" || p.Port == nil {
		return nil, fmt.Errorf("client: room, user id and port are required")
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}

	s := &Session{
		room:     p.Room,
		userID:   p.UserID,
		username: p.Username,
		state:    arrange.NewState(),
		mirror:   locks.NewTable(locks.WithClock(p.Clock), locks.WithLogger(p.Logger)),
		port:     p.Port,
		logger:   p.Logger,
	}

	pipeline, err := throttle.NewPipeline(p.Intervals, s.emit, throttle.WithClock(p.Clock), throttle.WithLogger(p.Logger))
	if err != nil {
		return nil, err
	}
	s.pipeline = pipeline
	s.recon = reconcile.NewReconciler(s.state, s.mirror, p.UserID,
		reconcile.WithPendingChecker(pipeline),
		reconcile.WithLogger(p.Logger))

	p.Port.Join(p.Room)
	sub, err := p.Port.Subscribe("arrange:*", s.onRemote)
	if err != nil {
		return nil, err
	}
	s.sub = sub
	return s, nil
}

// State returns the session's entity stores.
func (s *Session) State() *arrange.State { return s.state }

// Locks returns the session's lock mirror.
func (s *Session) Locks() *locks.Table { return s.mirror }

// Resync applies a join response: the authoritative lock snapshot and the
// room's journaled history in order.
func (s *Session) Resync(snapshot []locks.LockInfo, replay []*wire.Envelope) {
	s.recon.ApplyLockSnapshot(snapshot)
	for _, env := range replay {
		if err := s.recon.Apply(env); err != nil {
			s.logger.Debug("resync event skipped", "id", env.ID, "error", err)
		}
	}
}

// onRemote feeds every delivered event through the reconciler. Drops are
// logged, never fatal: one bad event must not abort the session.
func (s *Session) onRemote(env *wire.Envelope) {
	if err := s.recon.Apply(env); err != nil {
		s.logger.Debug("remote event dropped", "id", env.ID, "name", env.Name, "error", err)
	}
}

// LockedBy returns the username holding elementID when it is locked by
// someone else. The UI renders the element as "locked by <user>" and
// disables editing.
func (s *Session) LockedBy(elementID string) (string, bool) {
	info, held := s.mirror.Get(elementID)
	if !held || info.UserID == s.userID {
		return "", false
	}
	return info.Username, true
}

// BeginGesture acquires the lock on elementID: an optimistic write to the
// local mirror for instant feedback, plus a request to the relay. A mirror
// already showing another holder fails fast with ErrLockDenied; losing the
// relay race later rolls the mirror back when the denial arrives.
func (s *Session) BeginGesture(elementID string, lockType locks.LockType) error {
	if s.closed {
		return ErrSessionClosed
	}

	if holder, lockedByOther := s.LockedBy(elementID); lockedByOther {
		return fmt.Errorf("%w: %s held by %s", ErrLockDenied, elementID, holder)
	}
	if _, granted := s.mirror.Acquire(elementID, s.userID, s.username, lockType); !granted {
		return fmt.Errorf("%w: %s", ErrLockDenied, elementID)
	}

	return s.publish(wire.EventLockAcquire, &wire.LockPayload{
		RoomID:    s.room,
		ElementID: elementID,
		LockType:  lockType,
		UserID:    s.userID,
		Username:  s.username,
	})
}

// EndGesture flushes every pending update for the element so the final
// state is delivered immediately, then releases the lock.
func (s *Session) EndGesture(elementID string) error {
	if s.closed {
		return ErrSessionClosed
	}

	s.pipeline.FlushKey(elementID)
	if !s.mirror.Release(elementID, s.userID) {
		s.logger.Debug("end gesture without lock", "element", elementID)
		return nil
	}
	return s.publish(wire.EventLockRelease, &wire.LockPayload{
		RoomID:    s.room,
		ElementID: elementID,
		UserID:    s.userID,
		Username:  s.username,
	})
}

// =============================================================================
// Continuous (throttled) edits
// =============================================================================

// DragRegion moves a region during a drag gesture: local state updates
// immediately, the wire sees at most one region_drag per interval.
func (s *Session) DragRegion(regionID string, updates arrange.RegionUpdates) error {
	return s.regionEdit(throttle.ChannelRegionDrag, regionID, updates)
}

// UpdateRegion edits region fields outside a drag (resize, rename during
// realtime preview).
func (s *Session) UpdateRegion(regionID string, updates arrange.RegionUpdates) error {
	return s.regionEdit(throttle.ChannelRegionRealtime, regionID, updates)
}

func (s *Session) regionEdit(channel throttle.Channel, regionID string, updates arrange.RegionUpdates) error {
	if err := s.requireLock(regionID); err != nil {
		return err
	}
	s.state.Regions.Update(regionID, func(r *arrange.Region) {
		updates.ApplyTo(r)
	})
	s.pipeline.Enqueue(channel, regionID, &wire.RegionUpdatePayload{
		RoomID:   s.room,
		RegionID: regionID,
		Updates:  updates,
	})
	return nil
}

// UpdateNote edits note fields during a continuous gesture.
func (s *Session) UpdateNote(noteID string, updates arrange.NoteUpdates) error {
	if err := s.requireLock(noteID); err != nil {
		return err
	}
	s.state.Notes.Update(noteID, func(n *arrange.Note) {
		updates.ApplyTo(n)
	})
	s.pipeline.Enqueue(throttle.ChannelNoteRealtime, noteID, &wire.NoteUpdatePayload{
		RoomID:  s.room,
		NoteID:  noteID,
		Updates: updates,
	})
	return nil
}

// SetTrackProperty edits one track property during a fader or knob gesture.
// The gesture element is TrackPropertyID(trackID, property), which also keys
// the coalescing slot: concurrent gestures on different properties of the
// same track throttle independently instead of overwriting each other's
// pending update.
func (s *Session) SetTrackProperty(trackID, property string, updates arrange.TrackUpdates) error {
	elementID := locks.TrackPropertyID(trackID, property)
	if err := s.requireLock(elementID); err != nil {
		return err
	}
	s.state.Tracks.Update(trackID, func(t *arrange.Track) {
		updates.ApplyTo(t)
	})
	s.pipeline.Enqueue(throttle.ChannelTrackProperty, elementID, &wire.TrackUpdatePayload{
		RoomID:    s.room,
		TrackID:   trackID,
		ElementID: elementID,
		Updates:   updates,
	})
	return nil
}

// UpdateSynthParams streams instrument parameter changes for a track.
func (s *Session) UpdateSynthParams(trackID string, params map[string]float64) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.state.Tracks.Update(trackID, func(t *arrange.Track) {
		if t.SynthParams == nil {
			t.SynthParams = make(map[string]float64, len(params))
		}
		for k, v := range params {
			t.SynthParams[k] = v
		}
	})
	s.pipeline.Enqueue(throttle.ChannelSynthParams, trackID, &wire.SynthParamsPayload{
		RoomID:  s.room,
		TrackID: trackID,
		Params:  params,
	})
	return nil
}

// UpdateEffectChain replaces a track's effect chain.
func (s *Session) UpdateEffectChain(trackID string, effects []arrange.Effect) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.state.Chains.Set(trackID, arrange.EffectChain{ID: trackID, TrackID: trackID, Effects: effects})
	s.pipeline.Enqueue(throttle.ChannelEffectChain, trackID, &wire.EffectChainPayload{
		RoomID:  s.room,
		TrackID: trackID,
		Effects: effects,
	})
	return nil
}

// StreamRecordingPreview shares the notes currently being recorded on a
// track so peers can render the take in progress.
func (s *Session) StreamRecordingPreview(trackID string, notes []arrange.Note) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.pipeline.Enqueue(throttle.ChannelRecordingPreview, trackID, &wire.RecordingPreviewPayload{
		RoomID:  s.room,
		TrackID: trackID,
		UserID:  s.userID,
		Notes:   notes,
	})
	return nil
}

// EndRecordingPreview clears this user's preview on a track. The end event
// flushes past any pending preview frame.
func (s *Session) EndRecordingPreview(trackID string) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.pipeline.FlushNow(throttle.ChannelRecordingPreview, trackID)
	return s.publish(wire.EventRecordingPreviewEnd, &wire.RecordingPreviewEndPayload{
		RoomID:  s.room,
		TrackID: trackID,
		UserID:  s.userID,
	})
}

// =============================================================================
// Discrete edits (sent immediately, not throttled)
// =============================================================================

// AddTrack creates a track.
func (s *Session) AddTrack(track arrange.Track) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.state.Tracks.Add(track.ID, track) {
		return nil
	}
	return s.publish(wire.EventTrackAdd, &wire.TrackAddPayload{RoomID: s.room, Track: track})
}

// DeleteTrack removes a track.
func (s *Session) DeleteTrack(trackID string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.state.Tracks.Delete(trackID) {
		return nil
	}
	return s.publish(wire.EventTrackDelete, &wire.TrackDeletePayload{RoomID: s.room, TrackID: trackID})
}

// AddRegion creates a region.
func (s *Session) AddRegion(region arrange.Region) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.state.Regions.Add(region.ID, region) {
		return nil
	}
	return s.publish(wire.EventRegionAdd, &wire.RegionAddPayload{RoomID: s.room, Region: region})
}

// DeleteRegion removes a region.
func (s *Session) DeleteRegion(regionID string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.state.Regions.Delete(regionID) {
		return nil
	}
	return s.publish(wire.EventRegionDelete, &wire.RegionDeletePayload{RoomID: s.room, RegionID: regionID})
}

// AddNote creates a note.
func (s *Session) AddNote(note arrange.Note) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.state.Notes.Add(note.ID, note) {
		return nil
	}
	return s.publish(wire.EventNoteAdd, &wire.NoteAddPayload{RoomID: s.room, Note: note})
}

// DeleteNote removes a note.
func (s *Session) DeleteNote(noteID string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.state.Notes.Delete(noteID) {
		return nil
	}
	return s.publish(wire.EventNoteDelete, &wire.NoteDeletePayload{RoomID: s.room, NoteID: noteID})
}

// =============================================================================
// Broadcast-only transport parameters (no lock required)
// =============================================================================

// SetBPM changes the session tempo.
func (s *Session) SetBPM(bpm float64) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.state.SetBPM(bpm)
	return s.publish(wire.EventBPMChange, &wire.BPMChangePayload{RoomID: s.room, BPM: bpm})
}

// SetTimeSignature changes the session time signature.
func (s *Session) SetTimeSignature(beats, unit int) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.state.SetTimeSignature(beats, unit)
	return s.publish(wire.EventTimeSignatureChange, &wire.TimeSignaturePayload{
		RoomID: s.room,
		Beats:  beats,
		Unit:   unit,
	})
}

// Close flushes every pending payload, then detaches from the transport so
// the relay releases this user's locks. Closing twice is safe.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true

	s.pipeline.Close()
	if s.sub != nil {
		s.sub.Cancel()
	}
	s.port.Close()
}

// requireLock gates continuous edits on holding the element's lock.
func (s *Session) requireLock(elementID string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.mirror.IsHeldBy(elementID, s.userID) {
		s.logger.Debug("edit without lock ignored", "element", elementID)
		return fmt.Errorf("%w: %s", ErrNotHolder, elementID)
	}
	return nil
}

// emit converts a flushed pipeline payload into its wire event.
func (s *Session) emit(channel throttle.Channel, key string, payload any) {
	p, ok := payload.(wire.Payload)
	if !ok {
		s.logger.Error("unexpected pipeline payload", "channel", channel, "key", key)
		return
	}

	name, ok := channelEvent(channel)
	if !ok {
		s.logger.Error("no wire event for channel", "channel", channel)
		return
	}
	if err := s.publish(name, p); err != nil {
		s.logger.Warn("flush not delivered", "channel", channel, "key", key, "error", err)
	}
}

func (s *Session) publish(name wire.EventName, payload wire.Payload) error {
	env, err := wire.NewEnvelope(name, s.room, s.userID, s.username, payload)
	if err != nil {
		return err
	}
	return s.port.Publish(env)
}

// channelEvent maps each throttle lane to the event it emits.
func channelEvent(channel throttle.Channel) (wire.EventName, bool) {
	switch channel {
	case throttle.ChannelRegionDrag:
		return wire.EventRegionDrag, true
	case throttle.ChannelRegionRealtime:
		return wire.EventRegionUpdate, true
	case throttle.ChannelNoteRealtime:
		return wire.EventNoteUpdate, true
	case throttle.ChannelTrackProperty:
		return wire.EventTrackUpdate, true
	case throttle.ChannelEffectChain:
		return wire.EventEffectChainUpdate, true
	case throttle.ChannelSynthParams:
		return wire.EventSynthParamsUpdate, true
	case throttle.ChannelRecordingPreview:
		return wire.EventRecordingPreview, true
	default:
		return "", false
	}
}

// Package reconcile applies inbound session events to local state: lock
// snapshots and incremental lock changes, entity add/update/delete, and the
// broadcast-only transport parameters. Values are never trusted as received;
// sanitization happens uniformly at this boundary. Duplicate deliveries from
// the at-least-once transport are suppressed, and remote echoes never fight
// an in-progress local gesture.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/ensemble/core/arrange"
	"github.com/adalundhe/ensemble/core/locks"
	"github.com/adalundhe/ensemble/core/throttle"
	"github.com/adalundhe/ensemble/core/wire"
)

// DefaultSeenCacheSize bounds the duplicate-suppression cache. Events older
// than the cache window can in principle be re-applied, which the idempotent
// store operations and sequence checks absorb.
const DefaultSeenCacheSize = 4096

// ErrDuplicateEvent indicates an envelope ID that was already applied.
var ErrDuplicateEvent = errors.New("duplicate event")

// ErrStaleSequence indicates a mutation older than one already applied to
// the same element.
var ErrStaleSequence = errors.New("stale sequence")

// ErrLocalGestureInProgress indicates a remote payload dropped because the
// receiving user holds the element's lock with an unflushed local edit.
var ErrLocalGestureInProgress = errors.New("local gesture in progress")

// PendingChecker reports whether an element has an unflushed local edit.
// Satisfied by *throttle.Pipeline.
type PendingChecker interface {
	HasPendingForKey(key string) bool
}

var _ PendingChecker = (*throttle.Pipeline)(nil)

// Reconciler applies remote events to one participant's state.
type Reconciler struct {
	state   *arrange.State
	locks   *locks.Table
	selfID  string
	pending PendingChecker
	seen    *lru.Cache[string, struct{}]
	logger  *slog.Logger

	seqMu   sync.Mutex
	lastSeq map[string]uint64
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPendingChecker wires the local throttle pipeline so in-progress
// gestures shadow stale remote echoes. Without it every remote mutation is
// applied.
func WithPendingChecker(pc PendingChecker) Option {
	return func(r *Reconciler) { r.pending = pc }
}

// WithLogger sets the reconciler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithSeenCacheSize overrides the duplicate-suppression cache size.
func WithSeenCacheSize(n int) Option {
	return func(r *Reconciler) {
		cache, err := lru.New[string, struct{}](n)
		if err == nil {
			r.seen = cache
		}
	}
}

// NewReconciler returns a reconciler writing into state and the local lock
// mirror. selfID identifies the local user for the own-gesture guard.
func NewReconciler(state *arrange.State, table *locks.Table, selfID string, opts ...Option) *Reconciler {
	seen, _ := lru.New[string, struct{}](DefaultSeenCacheSize)
	r := &Reconciler{
		state:   state,
		locks:   table,
		selfID:  selfID,
		seen:    seen,
		logger:  slog.Default(),
		lastSeq: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ApplyLockSnapshot replaces the entire local lock table. Used on join and
// resync.
func (r *Reconciler) ApplyLockSnapshot(snapshot []locks.LockInfo) {
	r.locks.Replace(snapshot)
	r.logger.Debug("applied lock snapshot", "locks", len(snapshot))
}

// Apply routes one inbound envelope to the matching handler. Malformed
// payloads, duplicates, and stale echoes are dropped with a non-nil reason;
// none of these interrupt processing of subsequent events.
func (r *Reconciler) Apply(env *wire.Envelope) error {
	if _, dup := r.seen.Get(env.ID); dup {
		r.logger.Debug("dropping duplicate event", "id", env.ID, "name", env.Name)
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, env.ID)
	}
	r.seen.Add(env.ID, struct{}{})

	payload, err := env.DecodePayload()
	if err != nil {
		r.logger.Warn("dropping malformed event", "id", env.ID, "name", env.Name, "error", err)
		return err
	}

	switch env.Name {
	case wire.EventLockAcquire:
		r.applyLockAcquired(payload.(*wire.LockPayload))
		return nil
	case wire.EventLockRelease:
		r.applyLockReleased(payload.(*wire.LockPayload))
		return nil
	}

	return r.applyMutation(env, payload)
}

// applyLockAcquired stores the authoritative lock record. An optimistic
// local acquire that lost arbitration is overwritten here, rolling the
// mirror back to the true holder.
func (r *Reconciler) applyLockAcquired(p *wire.LockPayload) {
	r.locks.Set(locks.LockInfo{
		ElementID: p.ElementID,
		UserID:    p.UserID,
		Username:  p.Username,
		Type:      p.LockType,
	})
}

func (r *Reconciler) applyLockReleased(p *wire.LockPayload) {
	r.locks.Remove(p.ElementID)
}

// applyMutation applies one entity event. Ordering: duplicate IDs were
// already dropped; a sequence older than the last applied for the element is
// dropped; an element locked locally with unflushed local edits shadows the
// remote payload.
func (r *Reconciler) applyMutation(env *wire.Envelope, payload wire.Payload) error {
	elementID := mutationElementID(payload)

	if elementID != "" && env.UserID != r.selfID {
		if r.pending != nil && r.locks.IsHeldBy(elementID, r.selfID) && r.pending.HasPendingForKey(elementID) {
			r.logger.Debug("deferring remote payload, local gesture in progress",
				"element", elementID, "origin", env.UserID)
			return fmt.Errorf("%w: %s", ErrLocalGestureInProgress, elementID)
		}
	}

	if elementID != "" && env.Seq > 0 {
		r.seqMu.Lock()
		if last, ok := r.lastSeq[elementID]; ok && env.Seq <= last {
			r.seqMu.Unlock()
			r.logger.Debug("dropping stale mutation",
				"element", elementID, "seq", env.Seq, "last", last)
			return fmt.Errorf("%w: element %s seq %d", ErrStaleSequence, elementID, env.Seq)
		}
		r.lastSeq[elementID] = env.Seq
		r.seqMu.Unlock()
	}

	switch p := payload.(type) {
	case *wire.TrackAddPayload:
		r.state.Tracks.Add(p.Track.ID, p.Track)
	case *wire.TrackUpdatePayload:
		r.state.Tracks.Update(p.TrackID, func(t *arrange.Track) {
			p.Updates.ApplyTo(t)
		})
	case *wire.TrackDeletePayload:
		r.state.Tracks.Delete(p.TrackID)

	case *wire.RegionAddPayload:
		region := p.Region
		arrange.SanitizeRegion(&region)
		r.state.Regions.Add(region.ID, region)
	case *wire.RegionUpdatePayload:
		updates := p.Updates
		arrange.SanitizeRegionUpdates(&updates)
		r.state.Regions.Update(p.RegionID, func(region *arrange.Region) {
			updates.ApplyTo(region)
		})
	case *wire.RegionDeletePayload:
		r.state.Regions.Delete(p.RegionID)

	case *wire.NoteAddPayload:
		note := p.Note
		arrange.SanitizeNote(&note)
		r.state.Notes.Add(note.ID, note)
	case *wire.NoteUpdatePayload:
		updates := p.Updates
		arrange.SanitizeNoteUpdates(&updates)
		r.state.Notes.Update(p.NoteID, func(note *arrange.Note) {
			updates.ApplyTo(note)
		})
	case *wire.NoteDeletePayload:
		r.state.Notes.Delete(p.NoteID)

	case *wire.SynthParamsPayload:
		r.state.Tracks.Update(p.TrackID, func(t *arrange.Track) {
			if t.SynthParams == nil {
				t.SynthParams = make(map[string]float64, len(p.Params))
			}
			for k, v := range p.Params {
				t.SynthParams[k] = v
			}
		})
	case *wire.EffectChainPayload:
		r.state.Chains.Set(p.TrackID, arrange.EffectChain{
			ID:      p.TrackID,
			TrackID: p.TrackID,
			Effects: p.Effects,
		})

	case *wire.BPMChangePayload:
		r.state.SetBPM(p.BPM)
	case *wire.TimeSignaturePayload:
		r.state.SetTimeSignature(p.Beats, p.Unit)

	case *wire.RecordingPreviewPayload:
		r.state.Previews.Set(p.TrackID, arrange.Preview{
			TrackID: p.TrackID,
			UserID:  p.UserID,
			Notes:   p.Notes,
		})
	case *wire.RecordingPreviewEndPayload:
		r.state.Previews.Delete(p.TrackID)

	default:
		r.logger.Warn("no handler for event", "name", env.Name)
	}
	return nil
}

// mutationElementID extracts the lockable element a payload targets, or
// empty for broadcast-only and add/delete events.
func mutationElementID(payload wire.Payload) string {
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

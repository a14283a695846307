package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/ensemble/core/arrange"
	"github.com/adalundhe/ensemble/core/clock"
	"github.com/adalundhe/ensemble/core/gateway"
	"github.com/adalundhe/ensemble/core/journal"
	"github.com/adalundhe/ensemble/core/locks"
	"github.com/adalundhe/ensemble/core/relay"
	"github.com/adalundhe/ensemble/core/throttle"
	"github.com/adalundhe/ensemble/core/wire"
)

const room = "room-1"

type env struct {
	hub   *gateway.Loopback
	relay *relay.Relay
	clk   *clock.Manual
}

func newEnv(t *testing.T) *env {
	t.Helper()
	jnl, err := journal.New(journal.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { jnl.Close() })

	hub := gateway.NewLoopback(nil)
	clk := clock.NewManual(time.Unix(1000, 0))
	r := relay.New(hub, jnl, relay.DefaultConfig(), relay.WithClock(clk))
	t.Cleanup(r.Stop)

	return &env{hub: hub, relay: r, clk: clk}
}

func (e *env) join(t *testing.T, userID string) *Session {
	t.Helper()
	port, err := e.hub.Attach(userID)
	require.NoError(t, err)

	s, err := NewSession(Params{
		Room:     room,
		UserID:   userID,
		Username: userID,
		Port:     port,
		Clock:    e.clk,
	})
	require.NoError(t, err)

	snapshot, replay, err := e.relay.Join(userID, room)
	require.NoError(t, err)
	s.Resync(snapshot, replay)
	return s
}

// seedRegion creates a track and region through alice and returns once both
// sessions converge.
func seedRegion(t *testing.T, alice, bob *Session) {
	t.Helper()
	require.NoError(t, alice.AddTrack(arrange.Track{ID: "track-1", Name: "Drums"}))
	require.NoError(t, alice.AddRegion(arrange.Region{
		ID: "region-1", TrackID: "track-1", Start: 4, Duration: 2, LoopIterations: 1,
	}))
	require.Equal(t, 1, bob.State().Regions.Len(), "discrete adds deliver immediately")
}

func TestSession_DragCoalescesToOneMessage(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	seedRegion(t, alice, bob)

	require.NoError(t, alice.BeginGesture("region-1", locks.LockRegion))

	// Ten drag updates inside one interval.
	for i := 1; i <= 10; i++ {
		start := float64(i)
		require.NoError(t, alice.DragRegion("region-1", arrange.RegionUpdates{Start: &start}))
		e.clk.Advance(10 * time.Millisecond)
	}

	// Local state tracked every movement instantly.
	local, _ := alice.State().Regions.Get("region-1")
	assert.Equal(t, 10.0, local.Start)

	// Bob has seen nothing yet: the interval has not elapsed.
	remote, _ := bob.State().Regions.Get("region-1")
	assert.Equal(t, 4.0, remote.Start)

	e.clk.Advance(throttle.DefaultInterval)

	remote, _ = bob.State().Regions.Get("region-1")
	assert.Equal(t, 10.0, remote.Start, "one message carrying the final position")
}

func TestSession_EndGestureFlushesAndReleases(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	seedRegion(t, alice, bob)

	require.NoError(t, alice.BeginGesture("region-1", locks.LockRegion))
	start := 16.0
	require.NoError(t, alice.DragRegion("region-1", arrange.RegionUpdates{Start: &start}))

	// Pointer-up: no waiting out the interval.
	require.NoError(t, alice.EndGesture("region-1"))

	remote, _ := bob.State().Regions.Get("region-1")
	assert.Equal(t, 16.0, remote.Start)
	assert.Equal(t, 0, e.relay.Locks().Len(), "lock released at the relay")

	// No duplicate when the timer would have fired.
	e.clk.Advance(2 * throttle.DefaultInterval)
	remote, _ = bob.State().Regions.Get("region-1")
	assert.Equal(t, 16.0, remote.Start)
}

func TestSession_LockContention(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	seedRegion(t, alice, bob)

	require.NoError(t, alice.BeginGesture("region-1", locks.LockRegion))

	err := bob.BeginGesture("region-1", locks.LockRegion)
	require.ErrorIs(t, err, ErrLockDenied, "mirror already knows alice holds it")

	holder, locked := bob.LockedBy("region-1")
	assert.True(t, locked)
	assert.Equal(t, "alice", holder)

	// Bob cannot edit while alice holds the lock.
	start := 1.0
	require.ErrorIs(t, bob.DragRegion("region-1", arrange.RegionUpdates{Start: &start}), ErrNotHolder)

	// After alice ends the gesture, bob can take over.
	require.NoError(t, alice.EndGesture("region-1"))
	require.NoError(t, bob.BeginGesture("region-1", locks.LockRegion))
	assert.True(t, e.relay.Locks().IsHeldBy("region-1", "bob"))
}

func TestSession_OptimisticAcquireRollsBackOnDenial(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	seedRegion(t, alice, bob)

	// Bob's mirror has not heard about alice's lock yet: simulate the race
	// by acquiring directly at the relay through a raw envelope from a
	// third participant bob's mirror never saw.
	carolPort, err := e.hub.Attach("carol")
	require.NoError(t, err)
	carolPort.Join(room)
	_, _, err = e.relay.Join("carol", room)
	require.NoError(t, err)

	// Deliver carol's acquire to the relay only; bob's mirror is stale.
	acquire, err := wire.NewEnvelope(wire.EventLockAcquire, room, "carol", "carol", &wire.LockPayload{
		RoomID:    room,
		ElementID: "region-9",
		LockType:  locks.LockRegion,
		UserID:    "carol",
		Username:  "carol",
	})
	require.NoError(t, err)
	require.NoError(t, carolPort.Publish(acquire))

	// Relay broadcast already reached bob, so roll bob's mirror back to
	// stale state to force the optimistic path.
	bob.Locks().Remove("region-9")

	err = bob.BeginGesture("region-9", locks.LockRegion)
	require.NoError(t, err, "optimistic acquire succeeds locally")

	// The relay denied it and told bob who holds the element.
	holder, locked := bob.LockedBy("region-9")
	assert.True(t, locked)
	assert.Equal(t, "carol", holder)
	assert.True(t, e.relay.Locks().IsHeldBy("region-9", "carol"))
}

func TestSession_CloseFlushesPendingAndReleasesLocks(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	seedRegion(t, alice, bob)

	require.NoError(t, alice.BeginGesture("region-1", locks.LockRegion))
	start := 32.0
	require.NoError(t, alice.DragRegion("region-1", arrange.RegionUpdates{Start: &start}))

	alice.Close()
	alice.Close() // idempotent

	remote, _ := bob.State().Regions.Get("region-1")
	assert.Equal(t, 32.0, remote.Start, "pending final state flushed on teardown")
	assert.Equal(t, 0, e.relay.Locks().Len(), "disconnect released the lock")
	assert.False(t, bob.Locks().IsHeldBy("region-1", "alice"))

	assert.ErrorIs(t, alice.SetBPM(120), ErrSessionClosed)
}

func TestSession_LateJoinerResyncs(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	seedRegion(t, alice, bob)

	require.NoError(t, alice.SetBPM(150))
	require.NoError(t, alice.BeginGesture("region-1", locks.LockRegion))

	carol := e.join(t, "carol")

	assert.Equal(t, 1, carol.State().Tracks.Len())
	assert.Equal(t, 1, carol.State().Regions.Len())
	assert.Equal(t, 150.0, carol.State().Transport().BPM)

	holder, locked := carol.LockedBy("region-1")
	assert.True(t, locked)
	assert.Equal(t, "alice", holder)
}

func TestSession_TrackPropertyThrottled(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	require.NoError(t, alice.AddTrack(arrange.Track{ID: "track-1", Volume: 0.8}))

	lockID := locks.TrackPropertyID("track-1", "volume")
	require.NoError(t, alice.BeginGesture(lockID, locks.LockTrackProperty))

	for _, v := range []float64{0.7, 0.6, 0.5} {
		vol := v
		require.NoError(t, alice.SetTrackProperty("track-1", "volume", arrange.TrackUpdates{Volume: &vol}))
	}
	e.clk.Advance(throttle.DefaultInterval)

	track, _ := bob.State().Tracks.Get("track-1")
	assert.Equal(t, 0.5, track.Volume, "final fader position wins")

	require.NoError(t, alice.EndGesture(lockID))
}

func TestSession_TrackPropertiesCoalesceIndependently(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	require.NoError(t, alice.AddTrack(arrange.Track{ID: "track-1", Volume: 0.5, Pan: 0}))

	volumeID := locks.TrackPropertyID("track-1", "volume")
	panID := locks.TrackPropertyID("track-1", "pan")
	require.NoError(t, alice.BeginGesture(volumeID, locks.LockTrackProperty))
	require.NoError(t, alice.BeginGesture(panID, locks.LockTrackProperty))

	vol := 0.9
	require.NoError(t, alice.SetTrackProperty("track-1", "volume", arrange.TrackUpdates{Volume: &vol}))
	pan := -0.4
	require.NoError(t, alice.SetTrackProperty("track-1", "pan", arrange.TrackUpdates{Pan: &pan}))
	e.clk.Advance(throttle.DefaultInterval)

	track, _ := bob.State().Tracks.Get("track-1")
	assert.Equal(t, 0.9, track.Volume, "volume survives the later pan enqueue")
	assert.Equal(t, -0.4, track.Pan)

	require.NoError(t, alice.EndGesture(volumeID))
	require.NoError(t, alice.EndGesture(panID))
}

func TestSession_EndGestureFlushesTrackProperty(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	require.NoError(t, alice.AddTrack(arrange.Track{ID: "track-1", Volume: 0.5}))

	lockID := locks.TrackPropertyID("track-1", "volume")
	require.NoError(t, alice.BeginGesture(lockID, locks.LockTrackProperty))

	vol := 0.9
	require.NoError(t, alice.SetTrackProperty("track-1", "volume", arrange.TrackUpdates{Volume: &vol}))
	require.NoError(t, alice.EndGesture(lockID))

	track, _ := bob.State().Tracks.Get("track-1")
	assert.Equal(t, 0.9, track.Volume, "final value delivered without waiting out the interval")
	assert.Equal(t, 0, e.relay.Locks().Len())
}

func TestSession_TrackPropertyRequiresLock(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	require.NoError(t, alice.AddTrack(arrange.Track{ID: "track-1", Volume: 0.5}))

	vol := 0.9
	err := alice.SetTrackProperty("track-1", "volume", arrange.TrackUpdates{Volume: &vol})
	assert.ErrorIs(t, err, ErrNotHolder)
}

func TestSession_BroadcastOnlyChannelsNeedNoLock(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")

	require.NoError(t, alice.SetBPM(174))
	require.NoError(t, alice.SetTimeSignature(7, 8))

	assert.Equal(t, 174.0, bob.State().Transport().BPM)
	assert.Equal(t, 7, bob.State().Transport().TimeSigBeats)
}

func TestSession_RecordingPreviewRoundTrip(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	require.NoError(t, alice.AddTrack(arrange.Track{ID: "track-1"}))

	notes := []arrange.Note{{ID: "n1", Pitch: 64, Velocity: 90, Duration: 0.5}}
	require.NoError(t, alice.StreamRecordingPreview("track-1", notes))
	e.clk.Advance(throttle.DefaultInterval)

	preview, ok := bob.State().Previews.Get("track-1")
	require.True(t, ok)
	assert.Equal(t, "alice", preview.UserID)
	assert.Len(t, preview.Notes, 1)

	require.NoError(t, alice.EndRecordingPreview("track-1"))
	assert.Equal(t, 0, bob.State().Previews.Len())
}

func TestSession_SynthParamsConverge(t *testing.T) {
	e := newEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	require.NoError(t, alice.AddTrack(arrange.Track{ID: "track-1"}))

	require.NoError(t, alice.UpdateSynthParams("track-1", map[string]float64{"cutoff": 0.3}))
	e.clk.Advance(throttle.DefaultInterval)

	track, _ := bob.State().Tracks.Get("track-1")
	assert.Equal(t, 0.3, track.SynthParams["cutoff"])
}

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/ensemble/core/arrange"
	"github.com/adalundhe/ensemble/core/wire"
)

func bpmEnvelope(t *testing.T, room string, bpm float64) *wire.Envelope {
	t.Helper()
	env, err := wire.NewEnvelope(wire.EventBPMChange, room, "u1", "alice", &wire.BPMChangePayload{
		RoomID: room,
		BPM:    bpm,
	})
	require.NoError(t, err)
	return env
}

func regionDragEnvelope(t *testing.T, room string) *wire.Envelope {
	t.Helper()
	start := 2.0
	env, err := wire.NewEnvelope(wire.EventRegionDrag, room, "u1", "alice", &wire.RegionUpdatePayload{
		RoomID:   room,
		RegionID: "region-1",
		Updates:  arrange.RegionUpdates{Start: &start},
	})
	require.NoError(t, err)
	return env
}

func TestLoopback_PublishReachesUplink(t *testing.T) {
	hub := NewLoopback(nil)

	var received []*wire.Envelope
	hub.SetUplink(func(env *wire.Envelope) { received = append(received, env) })

	port, err := hub.Attach("c1")
	require.NoError(t, err)

	env := bpmEnvelope(t, "room-1", 128)
	require.NoError(t, port.Publish(env))
	require.Len(t, received, 1)
	assert.Equal(t, env.ID, received[0].ID)
}

func TestLoopback_PublishWithoutUplinkFails(t *testing.T) {
	hub := NewLoopback(nil)
	port, err := hub.Attach("c1")
	require.NoError(t, err)

	require.ErrorIs(t, port.Publish(bpmEnvelope(t, "room-1", 120)), ErrNoUplink)
}

func TestLoopback_DuplicateAttachFails(t *testing.T) {
	hub := NewLoopback(nil)
	_, err := hub.Attach("c1")
	require.NoError(t, err)
	_, err = hub.Attach("c1")
	require.ErrorIs(t, err, ErrDuplicateClient)
}

func TestLoopback_BroadcastMatchesPatterns(t *testing.T) {
	hub := NewLoopback(nil)

	port, err := hub.Attach("c1")
	require.NoError(t, err)
	port.Join("room-1")

	var regionEvents, allEvents []*wire.Envelope
	_, err = port.Subscribe("arrange:region_*", func(env *wire.Envelope) {
		regionEvents = append(regionEvents, env)
	})
	require.NoError(t, err)
	_, err = port.Subscribe("arrange:*", func(env *wire.Envelope) {
		allEvents = append(allEvents, env)
	})
	require.NoError(t, err)

	hub.Broadcast("room-1", regionDragEnvelope(t, "room-1"), "")
	hub.Broadcast("room-1", bpmEnvelope(t, "room-1", 120), "")

	assert.Len(t, regionEvents, 1, "region pattern sees only region events")
	assert.Len(t, allEvents, 2, "wildcard sees everything")
}

func TestLoopback_BroadcastScopedToRoom(t *testing.T) {
	hub := NewLoopback(nil)

	port, err := hub.Attach("c1")
	require.NoError(t, err)
	port.Join("room-1")

	var seen int
	_, err = port.Subscribe("arrange:*", func(*wire.Envelope) { seen++ })
	require.NoError(t, err)

	hub.Broadcast("room-2", bpmEnvelope(t, "room-2", 120), "")
	assert.Zero(t, seen, "wrong room must not be delivered")

	hub.Broadcast("room-1", bpmEnvelope(t, "room-1", 120), "")
	assert.Equal(t, 1, seen)
}

func TestLoopback_BroadcastExceptsOrigin(t *testing.T) {
	hub := NewLoopback(nil)

	var c1Seen, c2Seen int
	for i, counter := range []*int{&c1Seen, &c2Seen} {
		id := []string{"c1", "c2"}[i]
		port, err := hub.Attach(id)
		require.NoError(t, err)
		port.Join("room-1")
		c := counter
		_, err = port.Subscribe("arrange:*", func(*wire.Envelope) { *c++ })
		require.NoError(t, err)
	}

	hub.Broadcast("room-1", bpmEnvelope(t, "room-1", 120), "c1")
	assert.Zero(t, c1Seen, "origin excluded")
	assert.Equal(t, 1, c2Seen)
}

func TestLoopback_SendTargetsOneClient(t *testing.T) {
	hub := NewLoopback(nil)

	var seen int
	port, err := hub.Attach("c1")
	require.NoError(t, err)
	port.Join("room-1")
	_, err = port.Subscribe("arrange:*", func(*wire.Envelope) { seen++ })
	require.NoError(t, err)

	require.NoError(t, hub.Send("c1", bpmEnvelope(t, "room-1", 120)))
	assert.Equal(t, 1, seen)

	require.ErrorIs(t, hub.Send("ghost", bpmEnvelope(t, "room-1", 120)), ErrUnknownClient)
}

func TestLoopback_CloseFiresDetach(t *testing.T) {
	hub := NewLoopback(nil)

	var detached []string
	hub.OnDetach(func(clientID string) { detached = append(detached, clientID) })

	port, err := hub.Attach("c1")
	require.NoError(t, err)

	port.Close()
	port.Close() // idempotent
	assert.Equal(t, []string{"c1"}, detached)

	require.ErrorIs(t, port.Publish(bpmEnvelope(t, "room-1", 120)), ErrPortClosed)

	// The ID is reusable after detach.
	_, err = hub.Attach("c1")
	require.NoError(t, err)
}

func TestLoopback_SubscriptionCancel(t *testing.T) {
	hub := NewLoopback(nil)

	port, err := hub.Attach("c1")
	require.NoError(t, err)
	port.Join("room-1")

	var seen int
	sub, err := port.Subscribe("arrange:*", func(*wire.Envelope) { seen++ })
	require.NoError(t, err)

	hub.Broadcast("room-1", bpmEnvelope(t, "room-1", 120), "")
	sub.Cancel()
	sub.Cancel() // safe
	hub.Broadcast("room-1", bpmEnvelope(t, "room-1", 121), "")

	assert.Equal(t, 1, seen)
}

func TestPort_SubscribeBadPattern(t *testing.T) {
	hub := NewLoopback(nil)
	port, err := hub.Attach("c1")
	require.NoError(t, err)

	_, err = port.Subscribe("arrange:[", func(*wire.Envelope) {})
	require.ErrorIs(t, err, ErrBadPattern)
}

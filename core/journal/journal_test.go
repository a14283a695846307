package journal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/ensemble/core/arrange"
	"github.com/adalundhe/ensemble/core/wire"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func trackAdd(t *testing.T, room, trackID string) *wire.Envelope {
	t.Helper()
	env, err := wire.NewEnvelope(wire.EventTrackAdd, room, "u1", "alice", &wire.TrackAddPayload{
		RoomID: room,
		Track:  arrange.Track{ID: trackID},
	})
	require.NoError(t, err)
	return env
}

func TestJournal_ReplayPreservesAppendOrder(t *testing.T) {
	j := newTestJournal(t)

	var ids []string
	for i := 0; i < 5; i++ {
		env := trackAdd(t, "room-1", fmt.Sprintf("track-%d", i))
		require.NoError(t, j.Append(env))
		ids = append(ids, env.ID)
	}

	replayed, err := j.Replay("room-1")
	require.NoError(t, err)
	require.Len(t, replayed, 5)
	for i, env := range replayed {
		assert.Equal(t, ids[i], env.ID)
	}
}

func TestJournal_ReplayIsScopedToRoom(t *testing.T) {
	j := newTestJournal(t)

	require.NoError(t, j.Append(trackAdd(t, "room-1", "track-a")))
	require.NoError(t, j.Append(trackAdd(t, "room-2", "track-b")))

	replayed, err := j.Replay("room-1")
	require.NoError(t, err)
	assert.Len(t, replayed, 1)

	n, err := j.Len("room-2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJournal_AppendDuplicateIsNoop(t *testing.T) {
	j := newTestJournal(t)

	env := trackAdd(t, "room-1", "track-1")
	require.NoError(t, j.Append(env))
	require.NoError(t, j.Append(env), "redelivered event must not error")

	n, err := j.Len("room-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJournal_Has(t *testing.T) {
	j := newTestJournal(t)

	env := trackAdd(t, "room-1", "track-1")
	require.NoError(t, j.Append(env))

	ok, err := j.Has(env.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = j.Has("unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJournal_CloseRejectsFurtherUse(t *testing.T) {
	j, err := New(DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, j.Append(trackAdd(t, "room-1", "track-1")))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "double close is safe")

	require.ErrorIs(t, j.Append(trackAdd(t, "room-1", "track-2")), ErrClosed)
	_, err = j.Replay("room-1")
	require.ErrorIs(t, err, ErrClosed)
}

package locks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/ensemble/core/clock"
)

func TestTable_AcquireFreeElement(t *testing.T) {
	table := NewTable()

	info, granted := table.Acquire("region-1", "u1", "alice", LockRegion)
	require.True(t, granted)
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, LockRegion, info.Type)
	assert.Equal(t, 1, table.Len())
}

func TestTable_AcquireIsIdempotentForHolder(t *testing.T) {
	clk := clock.NewManual(time.Unix(1000, 0))
	table := NewTable(WithClock(clk))

	first, granted := table.Acquire("region-1", "u1", "alice", LockRegion)
	require.True(t, granted)

	clk.Advance(5 * time.Second)
	second, granted := table.Acquire("region-1", "u1", "alice", LockRegion)
	require.True(t, granted, "re-acquire by the holder must be granted")
	assert.True(t, second.AcquiredAt.After(first.AcquiredAt), "re-acquire refreshes the timestamp")
	assert.Equal(t, 1, table.Len(), "at most one lock per element")
}

func TestTable_AcquireDeniedWhenHeldByOther(t *testing.T) {
	table := NewTable()

	_, granted := table.Acquire("note-1", "u1", "alice", LockNote)
	require.True(t, granted)

	holder, granted := table.Acquire("note-1", "u2", "bob", LockNote)
	assert.False(t, granted)
	assert.Equal(t, "u1", holder.UserID, "denial reports the current holder")
	assert.True(t, table.IsHeldBy("note-1", "u1"))
}

func TestTable_ReleaseOnlyByHolder(t *testing.T) {
	table := NewTable()
	table.Acquire("region-1", "u1", "alice", LockRegion)

	assert.False(t, table.Release("region-1", "u2"), "foreign release is a no-op")
	assert.True(t, table.IsHeldBy("region-1", "u1"))

	assert.True(t, table.Release("region-1", "u1"))
	assert.False(t, table.Release("region-1", "u1"), "double release is a no-op")
	assert.Equal(t, 0, table.Len())
}

func TestTable_ReleaseUnheldIsNoop(t *testing.T) {
	table := NewTable()
	assert.False(t, table.Release("missing", "u1"))
}

func TestTable_ReleaseAll(t *testing.T) {
	table := NewTable()
	table.Acquire("region-1", "u1", "alice", LockRegion)
	table.Acquire("track:track-1:volume", "u1", "alice", LockTrackProperty)
	table.Acquire("note-1", "u2", "bob", LockNote)

	released := table.ReleaseAll("u1")
	assert.Len(t, released, 2)
	assert.Equal(t, 1, table.Len())
	assert.True(t, table.IsHeldBy("note-1", "u2"), "other users' locks untouched")

	// Released elements are immediately acquirable by another user.
	_, granted := table.Acquire("region-1", "u2", "bob", LockRegion)
	assert.True(t, granted)
	_, granted = table.Acquire("track:track-1:volume", "u2", "bob", LockTrackProperty)
	assert.True(t, granted)
}

func TestTable_ExpireIdle(t *testing.T) {
	clk := clock.NewManual(time.Unix(1000, 0))
	table := NewTable(WithClock(clk))

	table.Acquire("region-1", "u1", "alice", LockRegion)
	clk.Advance(20 * time.Second)
	table.Acquire("region-2", "u2", "bob", LockRegion)

	expired := table.ExpireIdle(10 * time.Second)
	require.Len(t, expired, 1)
	assert.Equal(t, "region-1", expired[0].ElementID)
	assert.False(t, table.IsHeldBy("region-1", "u1"))
	assert.True(t, table.IsHeldBy("region-2", "u2"))
}

func TestTable_SnapshotAndReplace(t *testing.T) {
	table := NewTable()
	table.Acquire("region-1", "u1", "alice", LockRegion)
	table.Acquire("note-1", "u2", "bob", LockNote)

	snapshot := table.Snapshot()
	require.Len(t, snapshot, 2)

	mirror := NewTable()
	mirror.Acquire("stale", "u9", "zed", LockControl)
	mirror.Replace(snapshot)

	assert.Equal(t, 2, mirror.Len())
	assert.False(t, mirror.IsHeldBy("stale", "u9"), "replace drops entries absent from the snapshot")
	assert.True(t, mirror.IsHeldBy("region-1", "u1"))
}

func TestLockType_IsValid(t *testing.T) {
	for _, lt := range []LockType{LockRegion, LockTrack, LockTrackProperty, LockNote, LockSustain, LockControl} {
		assert.True(t, lt.IsValid(), string(lt))
	}
	assert.False(t, LockType("drum").IsValid())
}

// Package locks implements the per-element lock table used to guarantee
// single-writer editing of shared arrangement elements. One authoritative
// table lives on the relay; each client holds a mirror updated by the
// reconciler plus optimistic local writes.
//
// Policy: pessimistic, single-owner, no wait queue. A denied acquire is
// retried or abandoned by the caller. Stale locks are recovered on owner
// disconnect and by idle expiry.
package locks

import (
	"log/slog"
	"sync"
	"time"

	"github.com/adalundhe/ensemble/core/clock"
)

// LockType classifies what kind of element a lock covers.
type LockType string

const (
	LockRegion        LockType = "region"
	LockTrack         LockType = "track"
	LockTrackProperty LockType = "track_property"
	LockNote          LockType = "note"
	LockSustain       LockType = "sustain"
	LockControl       LockType = "control"
)

// IsValid reports whether the lock type is a recognized value.
func (t LockType) IsValid() bool {
	switch t {
	case LockRegion, LockTrack, LockTrackProperty, LockNote, LockSustain, LockControl:
		return true
	}
	return false
}

// TrackPropertyID builds the element ID for a lock on a single track
// property, e.g. "track:track-1:volume". Property locks are finer-grained
// than a whole-track lock so two users can tweak different knobs on the same
// track.
func TrackPropertyID(trackID, property string) string {
	return "track:" + trackID + ":" + property
}

// LockInfo records the current owner of one element.
type LockInfo struct {
	ElementID  string    `json:"elementId"`
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	Type       LockType  `json:"lockType"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Table maps element IDs to their current lock. At most one LockInfo exists
// per element at any time.
type Table struct {
	mu     sync.RWMutex
	locks  map[string]LockInfo
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Table.
type Option func(*Table)

// WithClock substitutes the time source, for tests.
func WithClock(c clock.Clock) Option {
	return func(t *Table) { t.clock = c }
}

// WithLogger sets the table's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) { t.logger = l }
}

// NewTable returns an empty lock table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		locks:  make(map[string]LockInfo),
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Acquire grants the lock on elementID to the requester when the element is
// unlocked, or when the requester already holds it (idempotent re-acquire,
// which refreshes the acquisition timestamp). Any other holder means denial.
func (t *Table) Acquire(elementID, userID, username string, lockType LockType) (LockInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, held := t.locks[elementID]; held && existing.UserID != userID {
		t.logger.Debug("lock denied",
			"element", elementID,
			"requester", userID,
			"holder", existing.UserID)
		return existing, false
	}

	info := LockInfo{
		ElementID:  elementID,
		UserID:     userID,
		Username:   username,
		Type:       lockType,
		AcquiredAt: t.clock.Now(),
	}
	t.locks[elementID] = info
	return info, true
}

// Release removes the lock on elementID when userID is the current holder.
// Releasing an unheld or foreign-held lock is a no-op returning false.
func (t *Table) Release(elementID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, held := t.locks[elementID]
	if !held {
		return false
	}
	if existing.UserID != userID {
		t.logger.Debug("release ignored, not the holder",
			"element", elementID,
			"requester", userID,
			"holder", existing.UserID)
		return false
	}
	delete(t.locks, elementID)
	return true
}

// ReleaseAll removes every lock held by userID and returns the released
// locks. Invoked on disconnect so a departed user cannot block others.
func (t *Table) ReleaseAll(userID string) []LockInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	var released []LockInfo
	for id, info := range t.locks {
		if info.UserID == userID {
			released = append(released, info)
			delete(t.locks, id)
		}
	}
	if len(released) > 0 {
		t.logger.Debug("released all locks for user", "user", userID, "count", len(released))
	}
	return released
}

// ExpireIdle removes every lock whose acquisition timestamp is older than
// maxIdle and returns the expired locks. Recovers from clients that crashed
// without a disconnect event.
func (t *Table) ExpireIdle(maxIdle time.Duration) []LockInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.clock.Now().Add(-maxIdle)
	var expired []LockInfo
	for id, info := range t.locks {
		if info.AcquiredAt.Before(cutoff) {
			expired = append(expired, info)
			delete(t.locks, id)
		}
	}
	for _, info := range expired {
		t.logger.Info("expired idle lock", "element", info.ElementID, "holder", info.UserID)
	}
	return expired
}

// Get returns the lock on elementID, if any.
func (t *Table) Get(elementID string) (LockInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.locks[elementID]
	return info, ok
}

// IsHeldBy reports whether userID currently holds the lock on elementID.
func (t *Table) IsHeldBy(elementID, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.locks[elementID]
	return ok && info.UserID == userID
}

// Len returns the number of active locks.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.locks)
}

// Snapshot returns every active lock, for join-time resync.
func (t *Table) Snapshot() []LockInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]LockInfo, 0, len(t.locks))
	for _, info := range t.locks {
		out = append(out, info)
	}
	return out
}

// Replace swaps the entire table contents, used when a lock snapshot arrives
// on join or resync.
func (t *Table) Replace(snapshot []LockInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locks = make(map[string]LockInfo, len(snapshot))
	for _, info := range snapshot {
		t.locks[info.ElementID] = info
	}
}

// Remove deletes the lock on elementID regardless of holder. Used by client
// mirrors applying an authoritative release.
func (t *Table) Remove(elementID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.locks[elementID]; !ok {
		return false
	}
	delete(t.locks, elementID)
	return true
}

// Set stores an authoritative lock record regardless of current holder. Used
// by client mirrors applying a remote acquisition.
func (t *Table) Set(info LockInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locks[info.ElementID] = info
}

// Package journal keeps the ordered record of mutation events applied during
// one session, so late joiners can replay the room to its current state.
// Storage is tiered: a ristretto cache answers hot duplicate lookups, while
// an in-process SQLite database holds the ordered log. The database lives in
// memory, since the journal exists only for the session's lifetime.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"
	_ "modernc.org/sqlite"

	"github.com/adalundhe/ensemble/core/wire"
)

// ErrClosed indicates an operation on a closed journal.
var ErrClosed = errors.New("journal is closed")

// Default cache configuration.
const (
	defaultNumCounters = 1e5
	defaultMaxCost     = 1 << 24 // 16MB
	defaultBufferItems = 64
)

// Config sizes the journal's hot tier.
type Config struct {
	// NumCounters is the number of keys ristretto tracks for admission.
	NumCounters int64

	// MaxCost is the maximum hot-tier size in bytes.
	MaxCost int64

	// BufferItems is the ristretto Get buffer size.
	BufferItems int64
}

// DefaultConfig returns the default journal sizing.
func DefaultConfig() Config {
	return Config{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
	}
}

// Journal is the session-scoped ordered event log.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	cache  *ristretto.Cache
	closed bool
}

// New opens an empty in-memory journal.
func New(cfg Config) (*Journal, error) {
	if cfg.NumCounters <= 0 {
		cfg = DefaultConfig()
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	// A single connection keeps every statement on the same in-memory
	// database instance.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS session_events (
		seq_no INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		room TEXT NOT NULL,
		name TEXT NOT NULL,
		user_id TEXT,
		element_seq INTEGER,
		envelope BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_session_events_room ON session_events(room);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init cache: %w", err)
	}

	return &Journal{db: db, cache: cache}, nil
}

// Append records one event at the end of the log. Appending an event ID that
// is already journaled is a no-op, which absorbs at-least-once redelivery.
func (j *Journal) Append(env *wire.Envelope) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	raw, err := env.Encode()
	if err != nil {
		return fmt.Errorf("journal: encode envelope: %w", err)
	}

	_, err = j.db.Exec(
		`INSERT OR IGNORE INTO session_events (event_id, room, name, user_id, element_seq, envelope)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		env.ID, env.Room, string(env.Name), env.UserID, int64(env.Seq), raw,
	)
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}

	j.cache.Set(env.ID, struct{}{}, int64(len(raw)))
	return nil
}

// Has reports whether the event ID is already journaled. The hot tier
// answers most lookups; the database is authoritative.
func (j *Journal) Has(eventID string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return false, ErrClosed
	}

	if _, ok := j.cache.Get(eventID); ok {
		return true, nil
	}

	var one int
	err := j.db.QueryRow(`SELECT 1 FROM session_events WHERE event_id = ?`, eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("journal: lookup: %w", err)
	}
	return true, nil
}

// Replay returns every journaled event for room in append order.
func (j *Journal) Replay(room string) ([]*wire.Envelope, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	rows, err := j.db.Query(
		`SELECT envelope FROM session_events WHERE room = ? ORDER BY seq_no ASC`, room)
	if err != nil {
		return nil, fmt.Errorf("journal: replay query: %w", err)
	}
	defer rows.Close()

	var out []*wire.Envelope
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("journal: replay scan: %w", err)
		}
		env, err := wire.DecodeEnvelope(raw)
		if err != nil {
			// A journaled envelope was validated on the way in; a decode
			// failure here means corruption, not bad remote input.
			return nil, fmt.Errorf("journal: replay decode: %w", err)
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

// Len returns the number of journaled events for room.
func (j *Journal) Len(room string) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrClosed
	}

	var n int
	if err := j.db.QueryRow(
		`SELECT COUNT(*) FROM session_events WHERE room = ?`, room).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}

// Close drops the journal. The in-memory database vanishes with it.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	j.cache.Close()
	return j.db.Close()
}

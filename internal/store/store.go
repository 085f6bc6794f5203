// Package store implements C1: the single-table, persistent,
// last-writer-wins map from key to (value, timestamp, origin,
// deleted) described in spec.md §4.1, backed by SQLite the same way
// the teacher's infra/sqlite.LocalStore is (modernc.org/sqlite, WAL
// journal mode, a busy timeout so concurrent daemon restarts don't
// collide on the lock file).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"envmesh/internal/check"
	"envmesh/internal/meshcore"
	"envmesh/internal/wire"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	key       TEXT PRIMARY KEY,
	value     TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	origin    TEXT NOT NULL,
	deleted   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp);
`

// Store is the persistent Record table. All operations are serialized
// by mu; per spec.md §5, Store calls are synchronous and must not
// suspend while the lock is held — every method here does only
// blocking SQL round trips under the lock (one each, except ApplyRemote,
// which reads the existing row and then upserts) and nothing else.
type Store struct {
	db    *sql.DB
	clock Clock

	mu       sync.Mutex
	lastUsed map[string]int64 // key -> last timestamp this process wrote for it
}

// Open opens (creating if necessary) the SQLite-backed store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return New(db, RealClock{}), nil
}

// New wraps an already-open *sql.DB with the given Clock. Exposed for
// tests that want to inject a fake clock; production code should use
// Open.
func New(db *sql.DB, clock Clock) *Store {
	check.Assert(db != nil, "store.New: db must not be nil")
	check.Assert(clock != nil, "store.New: clock must not be nil")
	return &Store{db: db, clock: clock, lastUsed: make(map[string]int64)}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the current value for key, or found=false if the key is
// absent or tombstoned (spec.md §4.1).
func (s *Store) Get(key string) (rec Record, found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT value, timestamp, origin, deleted FROM records WHERE key = ?`, key)
	var r Record
	r.Key = key
	if err := row.Scan(&r.Value, &r.Timestamp, &r.Origin, &r.Deleted); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, &meshcore.StoreError{Reason: fmt.Errorf("get %q: %w", key, err)}
	}
	if r.Deleted {
		return Record{}, false, nil
	}
	return r, true, nil
}

// nextTimestamp samples the clock and, if the sampled second has
// already been used by this process for key, advances by one second
// — the monotone-writer rule in spec.md §4.1. Must be called with mu
// held.
func (s *Store) nextTimestamp(key string) int64 {
	ts := s.clock.Now().Unix()
	if last, ok := s.lastUsed[key]; ok && ts <= last {
		ts = last + 1
	}
	s.lastUsed[key] = ts
	return ts
}

// Set upserts key=value as authored by origin, stamped with the
// current (monotone) timestamp.
func (s *Store) Set(key, value, origin string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{Key: key, Value: value, Timestamp: s.nextTimestamp(key), Origin: origin, Deleted: false}
	if err := s.upsertLocked(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Delete upserts a tombstone for key as authored by origin. Deletion
// is idempotent and broadcastable even when no prior row exists
// (spec.md §4.1).
func (s *Store) Delete(key, origin string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{Key: key, Value: "", Timestamp: s.nextTimestamp(key), Origin: origin, Deleted: true}
	if err := s.upsertLocked(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Store) upsertLocked(rec Record) error {
	_, err := s.db.Exec(
		`INSERT INTO records (key, value, timestamp, origin, deleted) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, timestamp = excluded.timestamp,
		   origin = excluded.origin, deleted = excluded.deleted`,
		rec.Key, rec.Value, rec.Timestamp, rec.Origin, rec.Deleted,
	)
	if err != nil {
		return &meshcore.StoreError{Reason: fmt.Errorf("upsert %q: %w", rec.Key, err)}
	}
	return nil
}

// ApplyRemote applies an inbound SyncMessage under the conflict rule
// in spec.md §3: the local row is replaced iff the incoming
// (timestamp, origin) is strictly greater. Returns applied=false as a
// no-op when the existing row is at least as recent — this is what
// makes repeated or out-of-order delivery safe (spec.md §8).
func (s *Store) ApplyRemote(msg wire.SyncMessage) (applied bool, err error) {
	candidate := fromMessage(msg)

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT value, timestamp, origin, deleted FROM records WHERE key = ?`, candidate.Key)
	var existing Record
	existing.Key = candidate.Key
	scanErr := row.Scan(&existing.Value, &existing.Timestamp, &existing.Origin, &existing.Deleted)
	switch scanErr {
	case nil:
		if !wins(candidate, existing) {
			return false, nil
		}
	case sql.ErrNoRows:
		// No existing row: candidate always wins.
	default:
		return false, &meshcore.StoreError{Reason: fmt.Errorf("apply_remote %q: %w", candidate.Key, scanErr)}
	}

	if err := s.upsertLocked(candidate); err != nil {
		return false, err
	}
	return true, nil
}

// List returns all non-tombstoned records ordered by key (spec.md
// §4.1). Tombstones are omitted.
func (s *Store) List() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT key, value, timestamp, origin FROM records WHERE deleted = 0 ORDER BY key`)
	if err != nil {
		return nil, &meshcore.StoreError{Reason: fmt.Errorf("list: %w", err)}
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Value, &r.Timestamp, &r.Origin); err != nil {
			return nil, &meshcore.StoreError{Reason: fmt.Errorf("list scan: %w", err)}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &meshcore.StoreError{Reason: fmt.Errorf("list rows: %w", err)}
	}
	return out, nil
}

// ChangesSince returns every record (including tombstones) with
// timestamp strictly greater than t, ordered ascending — required for
// catch-up sync (spec.md §4.1).
func (s *Store) ChangesSince(t int64) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT key, value, timestamp, origin, deleted FROM records WHERE timestamp > ? ORDER BY timestamp ASC`, t)
	if err != nil {
		return nil, &meshcore.StoreError{Reason: fmt.Errorf("changes_since: %w", err)}
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Value, &r.Timestamp, &r.Origin, &r.Deleted); err != nil {
			return nil, &meshcore.StoreError{Reason: fmt.Errorf("changes_since scan: %w", err)}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &meshcore.StoreError{Reason: fmt.Errorf("changes_since rows: %w", err)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

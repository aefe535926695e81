// Package cachestore is the response-addressed translation cache: a
// SQLite-backed key/value store keyed on the source text, glossary
// digest, and model, with TTL expiry and size-capped LRU eviction
// (spec.md §3, §4.3). The TTL-with-lazy-expiry shape is grounded on the
// teacher's runbook cache (pkg/runbook/cache.go); persistence itself uses
// mattn/go-sqlite3, the driver the ngoclaw example repo wires for local
// on-disk storage.
package cachestore

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	translation TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_access_at INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total_size_bytes INTEGER NOT NULL
);
INSERT OR IGNORE INTO cache_meta (id, total_size_bytes) VALUES (1, 0);
`

// Entry is one cached translation.
type Entry struct {
	Translation  string
	CreatedAt    time.Time
	LastAccessAt time.Time
	SizeBytes    int64
}

// Stats are in-memory, per-process counters, not persisted — a cold
// restart starts them at zero even though the on-disk cache survives
// (spec.md §4.3: "in-memory stats").
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Store is a thread-safe SQLite-backed cache. Every method is safe for
// concurrent use by multiple scheduler workers.
type Store struct {
	db *sql.DB

	ttl     time.Duration
	maxSize int64

	mu    sync.Mutex
	stats Stats
}

// Open opens (creating if absent) a SQLite cache database at path, with
// the given entry TTL and maximum total size in bytes before LRU
// eviction kicks in.
func Open(path string, ttl time.Duration, maxSizeBytes int64) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening cache db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: single writer, avoids SQLITE_BUSY storms.

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	return &Store{db: db, ttl: ttl, maxSize: maxSizeBytes}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Key computes the cache key for a (source text, glossary digest, model)
// triple: SHA-256(source‖"\0"‖digest‖"\0"‖model), per spec.md §3, §4.3.
func Key(sourceText, glossaryDigest, model string) string {
	h := sha256.New()
	h.Write([]byte(sourceText))
	h.Write([]byte{0})
	h.Write([]byte(glossaryDigest))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}

// Get looks up key. A storage fault is reported as a miss, never an
// error: cache faults must never fail the pipeline (spec.md §4.3, §5).
// An expired entry (older than the configured TTL) is treated as absent
// and is not evicted eagerly here — eviction is size-driven, not
// TTL-driven, per spec.md §4.3's LRU-on-size-cap design.
func (s *Store) Get(key string) (Entry, bool) {
	var e Entry
	var createdUnix, lastAccessUnix int64

	row := s.db.QueryRow(
		`SELECT translation, created_at, last_access_at, size_bytes FROM cache_entries WHERE key = ?`, key)
	err := row.Scan(&e.Translation, &createdUnix, &lastAccessUnix, &e.SizeBytes)
	if err != nil {
		s.recordMiss()
		return Entry{}, false
	}

	e.CreatedAt = time.Unix(createdUnix, 0)
	e.LastAccessAt = time.Unix(lastAccessUnix, 0)

	if s.ttl > 0 && time.Since(e.CreatedAt) > s.ttl {
		s.recordMiss()
		return Entry{}, false
	}

	now := time.Now().Unix()
	if _, err := s.db.Exec(`UPDATE cache_entries SET last_access_at = ? WHERE key = ?`, now, key); err != nil {
		// Touch failure does not invalidate the hit; LRU bookkeeping is
		// best-effort (spec.md §4.3: cache faults never fail the pipeline).
	}

	s.recordHit()
	return e, true
}

func (s *Store) recordHit() {
	s.mu.Lock()
	s.stats.Hits++
	s.mu.Unlock()
}

func (s *Store) recordMiss() {
	s.mu.Lock()
	s.stats.Misses++
	s.mu.Unlock()
}

// Put stores translation under key, evicting least-recently-used entries
// first if the write would push total cache size over the configured
// cap. A storage fault here is a no-op, never an error (spec.md §4.3).
func (s *Store) Put(key, translation string) error {
	size := int64(len(translation))
	now := time.Now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return nil // fail-open: cache write faults must not fail the pipeline.
	}
	defer tx.Rollback()

	var existingSize int64
	err = tx.QueryRow(`SELECT size_bytes FROM cache_entries WHERE key = ?`, key).Scan(&existingSize)
	isUpdate := err == nil

	if _, err := tx.Exec(
		`INSERT INTO cache_entries (key, translation, created_at, last_access_at, size_bytes)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET translation=excluded.translation,
			last_access_at=excluded.last_access_at, size_bytes=excluded.size_bytes`,
		key, translation, now, now, size,
	); err != nil {
		return nil
	}

	delta := size
	if isUpdate {
		delta = size - existingSize
	}
	if _, err := tx.Exec(
		`UPDATE cache_meta SET total_size_bytes = total_size_bytes + ? WHERE id = 1`, delta,
	); err != nil {
		return nil
	}

	if err := s.evictIfOverCapLocked(tx); err != nil {
		return nil
	}

	if err := tx.Commit(); err != nil {
		return nil
	}
	return nil
}

// evictIfOverCapLocked evicts least-recently-used entries within the
// already-open transaction tx until total size fits under s.maxSize. The
// whole read-evict-update sequence happens inside one transaction, the
// "single transactional metadata row" discipline spec.md §4.3 and §5
// call for.
func (s *Store) evictIfOverCapLocked(tx *sql.Tx) error {
	if s.maxSize <= 0 {
		return nil
	}

	var total int64
	if err := tx.QueryRow(`SELECT total_size_bytes FROM cache_meta WHERE id = 1`).Scan(&total); err != nil {
		return err
	}

	evicted := int64(0)
	for total > s.maxSize {
		var key string
		var size int64
		err := tx.QueryRow(
			`SELECT key, size_bytes FROM cache_entries ORDER BY last_access_at ASC LIMIT 1`,
		).Scan(&key, &size)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			return err
		}
		total -= size
		evicted++
	}

	if evicted > 0 {
		if _, err := tx.Exec(`UPDATE cache_meta SET total_size_bytes = ? WHERE id = 1`, total); err != nil {
			return err
		}
		s.mu.Lock()
		s.stats.Evictions += evicted
		s.mu.Unlock()
	}
	return nil
}

// Stats returns a copy of the in-memory hit/miss/eviction counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

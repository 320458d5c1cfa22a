package cache

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent serialized responses.
// Expiry is set separately from the value and is enforced by the provider.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Get returns the cached response for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	// If the cache entry has expired, the boolean should be false.
	Get(ctx context.Context, key uint64) ([]byte, bool, error)
	// Set stores the given response in the cache under the given key.
	// Any previous expiry of the key is cleared.
	Set(ctx context.Context, key uint64, bytes []byte) error
	// Expire makes the entry expire after the given duration.
	Expire(ctx context.Context, key uint64, ttl time.Duration) error
	// Purge removes the cache entry for the given key.
	Purge(ctx context.Context, key uint64) error
}

// FormatKey is the textual form of a key, used by providers with string keys.
func FormatKey(key uint64) string {
	return strconv.FormatUint(key, 10)
}

type memCacheEntry struct {
	// zero means no expiry
	expires time.Time
	bytes   []byte
}

// MemCache is an in-process cache provider.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[uint64]memCacheEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[uint64]memCacheEntry),
	}
}

func (m MemCache) Get(ctx context.Context, key uint64) ([]byte, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entry, ok := m.db[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		delete(m.db, key)
		return nil, false, nil
	}
	return entry.bytes, true, nil
}

func (m MemCache) Set(ctx context.Context, key uint64, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = memCacheEntry{bytes: bytes}
	return nil
}

func (m MemCache) Expire(ctx context.Context, key uint64, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entry, ok := m.db[key]
	if !ok {
		return nil
	}
	entry.expires = time.Now().Add(ttl)
	m.db[key] = entry
	return nil
}

func (m MemCache) Purge(ctx context.Context, key uint64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m MemCache) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.db)
}

// SQLiteCache stores entries in a SQLite database.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	// expires is in unix milliseconds, 0 for no expiry
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		expires INTEGER NOT NULL DEFAULT 0,
		bytes BLOB
	)`)
	if err != nil {
		return SQLiteCache{}, err
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)")
	if err != nil {
		return SQLiteCache{}, err
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return SQLiteCache{}, err
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Get(ctx context.Context, key uint64) ([]byte, bool, error) {
	var expires int64
	var bytes []byte
	err := s.db.QueryRowContext(ctx, "SELECT expires, bytes FROM cache WHERE key = ?", FormatKey(key)).Scan(&expires, &bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	if expires != 0 && time.Now().After(time.UnixMilli(expires)) {
		return nil, false, s.Purge(ctx, key)
	}
	return bytes, true, nil
}

func (s SQLiteCache) Set(ctx context.Context, key uint64, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO cache (key, expires, bytes) VALUES (?, 0, ?)", FormatKey(key), bytes)
	return err
}

func (s SQLiteCache) Expire(ctx context.Context, key uint64, ttl time.Duration) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "UPDATE cache SET expires = ? WHERE key = ?", time.Now().Add(ttl).UnixMilli(), FormatKey(key))
	return err
}

func (s SQLiteCache) Purge(ctx context.Context, key uint64) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", FormatKey(key))
	return err
}

// PurgeExpired removes all expired entries and returns how many were removed.
func (s SQLiteCache) PurgeExpired(ctx context.Context) (int64, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE expires > 0 AND expires < ?", time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}

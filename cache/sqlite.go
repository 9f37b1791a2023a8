package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore persists entries in a SQLite database, so that the cache
// survives process restarts.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration
	writeMu   sync.Mutex
}

// NewSQLiteStore opens (or creates) the cache database at filename.
// If filename is empty, an in-memory database is used. Pass a negative
// retention to use DefaultRetention.
func NewSQLiteStore(filename string, retention time.Duration) (*SQLiteStore, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	if retention < 0 {
		retention = DefaultRetention
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		status INTEGER,
		header BLOB,
		body BLOB,
		created_at INTEGER,
		lifespan INTEGER
	)`); err != nil {
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS created_at_idx ON cache (created_at)"); err != nil {
		return nil, fmt.Errorf("create cache index: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	return &SQLiteStore{db: db, retention: retention}, nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, key string) (*Entry, bool) {
	var entry Entry
	var headerBytes []byte
	var createdAt, lifespan int64
	err := s.db.QueryRowContext(ctx,
		"SELECT status, header, body, created_at, lifespan FROM cache WHERE key = ?", key).
		Scan(&entry.Status, &headerBytes, &entry.Body, &createdAt, &lifespan)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		storeErrors.WithLabelValues("sqlite", "lookup").Inc()
		return nil, false
	}
	entry.Header = make(http.Header)
	if err := json.Unmarshal(headerBytes, &entry.Header); err != nil {
		storeErrors.WithLabelValues("sqlite", "lookup").Inc()
		return nil, false
	}
	entry.CreatedAt = time.Unix(0, createdAt)
	entry.Lifespan = time.Duration(lifespan)
	return &entry, true
}

func (s *SQLiteStore) Insert(ctx context.Context, key string, entry *Entry) error {
	headerBytes, err := json.Marshal(entry.Header)
	if err != nil {
		storeErrors.WithLabelValues("sqlite", "insert").Inc()
		return fmt.Errorf("marshal header: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache (key, status, header, body, created_at, lifespan)
		VALUES (?, ?, ?, ?, ?, ?)`,
		key, entry.Status, headerBytes, entry.Body,
		entry.CreatedAt.UnixNano(), int64(entry.Lifespan))
	if err != nil {
		storeErrors.WithLabelValues("sqlite", "insert").Inc()
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key); err != nil {
		storeErrors.WithLabelValues("sqlite", "remove").Inc()
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveExpired(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cache WHERE created_at + lifespan + ? < ?",
		int64(s.retention), time.Now().UnixNano())
	if err != nil {
		storeErrors.WithLabelValues("sqlite", "remove_expired").Inc()
		return fmt.Errorf("remove expired entries: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

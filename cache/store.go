package cache

import (
	"context"
	"net/http"
	"time"
)

// DefaultRetention is how long stores keep an entry past its lifespan
// so that it remains available for stale fallback.
const DefaultRetention = 24 * time.Hour

// Store is a pluggable backend for cached responses.
// It stores immutable Entry values under opaque string keys.
// Freshness is never evaluated by the store on the read path: Lookup
// returns whatever is held for the key, expired or not, because the
// stale-fallback path of the middleware needs expired entries too.
//
// Implementations must be safe for concurrent use!
type Store interface {
	// Lookup returns the entry stored under key, regardless of freshness.
	// A backend failure is reported as a plain miss, so that the
	// middleware fails open toward the origin.
	Lookup(ctx context.Context, key string) (*Entry, bool)
	// Insert stores the entry under key, unconditionally replacing any
	// previous entry. Last writer wins under concurrent inserts.
	Insert(ctx context.Context, key string, entry *Entry) error
	// Remove deletes the entry stored under key, if any.
	Remove(ctx context.Context, key string) error
	// RemoveExpired deletes entries whose age exceeds their lifespan plus
	// the store's retention window. It is a maintenance sweep, never
	// called on the request path.
	RemoveExpired(ctx context.Context) error
}

// Entry is a complete captured response. Entries are immutable after
// creation; a refresh for the same key replaces the entry instead of
// mutating it.
type Entry struct {
	Status    int           `json:"status"`
	Header    http.Header   `json:"header"`
	Body      []byte        `json:"body"`
	CreatedAt time.Time     `json:"created_at"`
	Lifespan  time.Duration `json:"lifespan"`
}

// Fresh reports whether the entry's age is within its lifespan.
func (e *Entry) Fresh() bool {
	return e.Age() <= e.Lifespan
}

// Age returns the time elapsed since the entry was created.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CreatedAt)
}

// Stale reports whether the entry has outlived its lifespan but is
// still held by the store.
func (e *Entry) Stale() bool {
	return !e.Fresh()
}

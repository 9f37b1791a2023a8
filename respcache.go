// Package respcache provides HTTP middleware that caches responses by
// request method and path for a fixed lifespan.
//
// Only successful responses (status in the 200-299 range) whose body
// fits within the configured limit are stored. A fresh entry is served
// verbatim without touching the wrapped handler. When the origin fails
// and FallbackOnError is set, the last stored entry is served no matter
// how old it is.
package respcache

import (
	"net/http"
	"strconv"
	"time"

	cachekey "github.com/respcache/respcache/pkg/cache-key"
	tee "github.com/respcache/respcache/pkg/response-writer-tee"

	"github.com/respcache/respcache/cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxBodySize is the largest response body that will be cached
// unless Config.MaxBodySize says otherwise.
const DefaultMaxBodySize = 128 * 1024 * 1024

// InvalidateHeader is the request header that removes the entry for the
// request's key before handling, when Config.AllowInvalidation is set.
const InvalidateHeader = "X-Invalidate-Cache"

// AgeHeader carries the age (in whole seconds) of a cache-served
// response, when Config.AddAgeHeader is set.
const AgeHeader = "X-Cache-Age"

type Config struct {
	// Lifespan is how long a stored response stays fresh. Required.
	Lifespan time.Duration
	// MaxBodySize bounds the body size of cacheable responses.
	// Defaults to DefaultMaxBodySize. Larger responses are delivered
	// unchanged but never stored.
	MaxBodySize int
	// FallbackOnError serves the last stored entry, regardless of age,
	// when the origin fails or returns a non-2xx status.
	FallbackOnError bool
	// Store holds the cached entries. Defaults to an unbounded
	// in-memory store.
	Store cache.Store
	// Keyer derives cache keys. Defaults to method + path.
	Keyer cachekey.Keyer
	// AllowInvalidation honors the X-Invalidate-Cache request header.
	AllowInvalidation bool
	// AddAgeHeader adds X-Cache-Age to cache-served responses.
	AddAgeHeader bool
	// Coalesce collapses concurrent misses for the same key into a
	// single origin call. Off by default: without it, duplicate misses
	// each pay the origin's cost and the last insert wins.
	Coalesce bool
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Cache is the caching middleware. Create it with New and wrap a
// handler with Middleware.
type Cache struct {
	store             cache.Store
	keyer             cachekey.Keyer
	lifespan          time.Duration
	maxBodySize       int
	useStale          bool
	allowInvalidation bool
	addAgeHeader      bool
	coalesce          bool
	group             singleflight.Group
	log               zerolog.Logger
}

// New creates the middleware from config. It panics if Lifespan is not
// positive.
func New(config Config) *Cache {
	if config.Lifespan <= 0 {
		panic("respcache: Config.Lifespan must be positive")
	}
	c := &Cache{
		store:             config.Store,
		keyer:             config.Keyer,
		lifespan:          config.Lifespan,
		maxBodySize:       config.MaxBodySize,
		useStale:          config.FallbackOnError,
		allowInvalidation: config.AllowInvalidation,
		addAgeHeader:      config.AddAgeHeader,
		coalesce:          config.Coalesce,
	}
	if c.store == nil {
		c.store = cache.NewMemoryStore(0, -1)
	}
	if c.keyer == nil {
		c.keyer = cachekey.MethodPath{}
	}
	if config.Logger == nil {
		c.log = log.Logger
	} else {
		c.log = *config.Logger
	}
	return c
}

// Middleware wraps next with the caching policy.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := c.getLogger(r)
		key := c.keyer.Key(r)
		ctx := r.Context()

		if c.allowInvalidation && r.Header.Get(InvalidateHeader) != "" {
			if err := c.store.Remove(ctx, key); err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("Could not invalidate cache entry")
			} else {
				logger.Debug().Str("key", key).Msg("Cache entry invalidated by request header")
			}
		}

		entry, present := c.store.Lookup(ctx, key)
		if present && entry.Fresh() {
			logger.Trace().Str("key", key).Msg("Fresh cache hit")
			cacheHits.WithLabelValues("fresh").Inc()
			c.sendEntry(w, entry)
			return
		}
		// a present-but-expired entry counts as a miss here, but stays
		// eligible as a stale fallback below
		cacheMisses.Inc()

		if c.coalesce {
			c.serveCoalesced(w, r, next, key)
			return
		}

		// With fallback enabled and a stale candidate at hand, the
		// origin response is held back until its status is known, so a
		// failure can be replaced by the stale entry without the client
		// seeing a single failure byte.
		var rec *tee.Recorder
		armed := c.useStale && present
		if armed {
			rec = tee.NewDeferredRecorder(w, c.maxBody())
		} else {
			rec = tee.NewRecorder(w, c.maxBody())
		}

		next.ServeHTTP(rec, r)
		if rec.StatusCode() == 0 {
			// handler wrote nothing, finalize as an empty 200
			rec.WriteHeader(http.StatusOK)
		}

		if succeeded(rec.StatusCode()) {
			c.storeResponse(r, rec, key, logger)
			return
		}
		if rec.Suppressed() {
			// fallback was armed, so a stale entry existed at lookup
			// time; prefer whatever the store holds right now
			stale, ok := c.store.Lookup(ctx, key)
			if !ok {
				stale = entry
			}
			logger.Debug().Str("key", key).Msg("Origin failed, serving stale entry")
			cacheHits.WithLabelValues("stale").Inc()
			c.sendEntry(w, stale)
			return
		}
		logger.Trace().Str("key", key).Int("status", rec.StatusCode()).Msg("Non-cacheable response passed through")
		cachePassthrough.WithLabelValues("status").Inc()
	})
}

// serveCoalesced funnels concurrent misses for one key through a single
// origin call. The leader captures the full response and inserts it;
// every waiter replays the capture to its own client.
func (c *Cache) serveCoalesced(w http.ResponseWriter, r *http.Request, next http.Handler, key string) {
	logger := c.getLogger(r)
	v, _, shared := c.group.Do(key, func() (interface{}, error) {
		rec := tee.NewRecorder(nil, c.maxBody())
		next.ServeHTTP(rec, r)
		if rec.StatusCode() == 0 {
			rec.WriteHeader(http.StatusOK)
		}
		captured := &cache.Entry{
			Status:    rec.StatusCode(),
			Header:    rec.HeaderSnapshot(),
			Body:      rec.Body(),
			CreatedAt: time.Now(),
			Lifespan:  c.lifespan,
		}
		if succeeded(captured.Status) && !rec.Overflowed() && r.Context().Err() == nil {
			if err := c.store.Insert(r.Context(), key, captured); err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("Could not write to cache")
			} else {
				cacheInserts.Inc()
			}
		}
		return captured, nil
	})
	captured := v.(*cache.Entry)
	if shared {
		logger.Trace().Str("key", key).Msg("Joined in-flight origin call")
	}

	if !succeeded(captured.Status) {
		if c.useStale {
			if stale, ok := c.store.Lookup(r.Context(), key); ok {
				logger.Debug().Str("key", key).Msg("Origin failed, serving stale entry")
				cacheHits.WithLabelValues("stale").Inc()
				c.sendEntry(w, stale)
				return
			}
		}
		cachePassthrough.WithLabelValues("status").Inc()
	}
	copyHeader(w.Header(), captured.Header)
	w.WriteHeader(captured.Status)
	if _, err := w.Write(captured.Body); err != nil {
		logger.Error().Err(err).Msg("Could not write response body to client")
	}
}

// storeResponse inserts a successful origin response that has already
// been delivered to the client.
func (c *Cache) storeResponse(r *http.Request, rec *tee.Recorder, key string, logger zerolog.Logger) {
	if rec.Overflowed() {
		logger.Trace().Str("key", key).Msg("Response body over size limit, not cached")
		cachePassthrough.WithLabelValues("size").Inc()
		return
	}
	if r.Context().Err() != nil {
		// client went away, the buffer may be partial
		logger.Trace().Str("key", key).Msg("Request canceled, not cached")
		return
	}
	entry := &cache.Entry{
		Status:    rec.StatusCode(),
		Header:    rec.HeaderSnapshot(),
		Body:      rec.Body(),
		CreatedAt: time.Now(),
		Lifespan:  c.lifespan,
	}
	if err := c.store.Insert(r.Context(), key, entry); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		return
	}
	logger.Trace().Str("key", key).Msg("Cache write")
	cacheInserts.Inc()
}

// sendEntry writes a stored response to the client verbatim.
func (c *Cache) sendEntry(w http.ResponseWriter, entry *cache.Entry) {
	copyHeader(w.Header(), entry.Header)
	if c.addAgeHeader {
		w.Header().Set(AgeHeader, strconv.Itoa(int(entry.Age().Seconds())))
	}
	w.WriteHeader(entry.Status)
	if _, err := w.Write(entry.Body); err != nil {
		c.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

func (c *Cache) maxBody() int {
	if c.maxBodySize > 0 {
		return c.maxBodySize
	}
	return DefaultMaxBodySize
}

// getLogger returns the logger from the request context.
// If no logger is found, it will return the middleware's logger.
func (c *Cache) getLogger(r *http.Request) zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		return c.log
	}
	return *logger
}

func succeeded(status int) bool {
	return status >= 200 && status < 300
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

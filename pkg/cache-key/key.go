package cachekey

import "net/http"

const methodSeparator = ":"

// Keyer derives a cache key from a request. Implementations must be
// pure and deterministic: equal requests (under the keyer's notion of
// equality) must yield equal keys.
type Keyer interface {
	Key(r *http.Request) string
}

// KeyerFunc adapts a plain function to the Keyer interface. Use it to
// key on additional request material, e.g. the Accept header:
//
//	cachekey.KeyerFunc(func(r *http.Request) string {
//		return r.Method + ":" + r.Header.Get("Accept") + ":" + r.URL.Path
//	})
type KeyerFunc func(*http.Request) string

func (f KeyerFunc) Key(r *http.Request) string {
	return f(r)
}

// MethodPath is the default keying strategy: method plus path, nothing
// else. Query parameters, headers and the request body are deliberately
// excluded, trading cache granularity for a small, predictable key
// space.
type MethodPath struct{}

func (MethodPath) Key(r *http.Request) string {
	return r.Method + methodSeparator + r.URL.Path
}

var _ Keyer = MethodPath{}

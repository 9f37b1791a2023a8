package tee

import (
	"bytes"
	"net/http"
)

// Recorder is a wrapper around http.ResponseWriter that buffers the
// response for a caching decision while (optionally) writing it to the
// underlying http.ResponseWriter. Delivery to the client always takes
// precedence over buffering: every byte written through the Recorder
// reaches the underlying writer complete and in order, no matter what
// happens to the buffer.
//
// Three modes exist:
//
//   - tee (NewRecorder with a non-nil writer): bytes stream to the
//     client as they are produced; buffering stops quietly once the
//     limit is exceeded and Overflowed reports it.
//   - deferred (NewDeferredRecorder): headers and body are withheld
//     from the client until the status code is known. A 2xx status
//     resumes normal tee behavior; anything else suppresses delivery
//     entirely so the caller can substitute a stale response.
//   - capture (NewRecorder with a nil writer): everything is buffered,
//     even past the limit, so the caller can replay the full response.
type Recorder struct {
	rw          http.ResponseWriter
	b           *bytes.Buffer
	header      http.Header
	snapshot    http.Header
	status      int
	limit       int
	deferred    bool
	suppressed  bool
	overflowed  bool
	wroteHeader bool
}

// NewRecorder returns a Recorder that buffers at most limit body bytes.
// If w is not nil, the response is additionally written (tee'd) to it.
func NewRecorder(w http.ResponseWriter, limit int) *Recorder {
	r := &Recorder{
		rw:    w,
		b:     &bytes.Buffer{},
		limit: limit,
	}
	if w == nil {
		r.header = http.Header{}
	} else {
		r.header = w.Header()
	}
	return r
}

// NewDeferredRecorder returns a Recorder that holds back the response
// until WriteHeader runs: a 2xx status is forwarded to w and streaming
// continues normally, any other status suppresses delivery so the
// caller decides what the client gets instead.
func NewDeferredRecorder(w http.ResponseWriter, limit int) *Recorder {
	return &Recorder{
		rw:       w,
		b:        &bytes.Buffer{},
		header:   http.Header{},
		limit:    limit,
		deferred: true,
	}
}

// Header implements http.ResponseWriter.
func (t *Recorder) Header() http.Header {
	return t.header
}

// WriteHeader implements http.ResponseWriter.
func (t *Recorder) WriteHeader(statusCode int) {
	if t.wroteHeader {
		return
	}
	t.wroteHeader = true
	t.status = statusCode
	t.snapshot = t.header.Clone()
	if t.deferred {
		if statusCode < 200 || statusCode >= 300 {
			t.suppressed = true
			return
		}
		copyHeader(t.rw.Header(), t.header)
	}
	if t.rw != nil {
		t.rw.WriteHeader(statusCode)
	}
}

// Write implements http.ResponseWriter.
func (t *Recorder) Write(b []byte) (int, error) {
	if !t.wroteHeader {
		t.WriteHeader(http.StatusOK)
	}
	if t.suppressed {
		// failure body is dropped, the caller serves a substitute
		return len(b), nil
	}
	if t.rw != nil {
		if n, err := t.rw.Write(b); err != nil {
			return n, err
		}
	}
	if !t.overflowed && t.b.Len()+len(b) > t.limit {
		t.overflowed = true
		if t.rw != nil {
			// bytes already reached the client, the buffer is useless now
			t.b.Reset()
		}
	}
	if !t.overflowed || t.rw == nil {
		t.b.Write(b)
	}
	return len(b), nil
}

// Body returns the buffered body bytes. Meaningless if Overflowed
// reports true in tee mode.
func (t *Recorder) Body() []byte {
	return t.b.Bytes()
}

// HeaderSnapshot returns the response headers as they were when the
// status code was written.
func (t *Recorder) HeaderSnapshot() http.Header {
	if t.snapshot == nil {
		return t.header.Clone()
	}
	return t.snapshot
}

// StatusCode returns the status code of the response, or 0 if none was
// written yet.
func (t *Recorder) StatusCode() int {
	return t.status
}

// Overflowed reports whether the body exceeded the buffer limit.
func (t *Recorder) Overflowed() bool {
	return t.overflowed
}

// Suppressed reports whether a deferred response was withheld from the
// client because of its status code.
func (t *Recorder) Suppressed() bool {
	return t.suppressed
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

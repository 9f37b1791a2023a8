package tee

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecorderTeesToClient(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewRecorder(rr, 1024)

	rec.Header().Set("Content-Type", "text/test")
	rec.WriteHeader(http.StatusOK)
	rec.Write([]byte("Hello "))
	rec.Write([]byte("world"))

	if rr.Body.String() != "Hello world" {
		t.Fatalf("Client got %q", rr.Body.String())
	}
	if string(rec.Body()) != "Hello world" {
		t.Fatalf("Buffer holds %q", rec.Body())
	}
	if rr.Result().Header.Get("Content-Type") != "text/test" {
		t.Fatal("Header did not reach the client")
	}
	if rec.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rec.StatusCode())
	}
}

func TestRecorderDefaultsTo200(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewRecorder(rr, 1024)

	rec.Write([]byte("ok"))

	if rec.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rec.StatusCode())
	}
}

func TestRecorderOverflowStillDelivers(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewRecorder(rr, 8)
	long := strings.Repeat("x", 100)

	n, err := rec.Write([]byte(long))
	if err != nil || n != len(long) {
		t.Fatalf("Write returned %d, %v", n, err)
	}
	if !rec.Overflowed() {
		t.Fatal("Overflowed should report true")
	}
	if rr.Body.String() != long {
		t.Fatal("Client must receive the full body regardless of the limit")
	}
}

func TestRecorderOverflowAcrossWrites(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewRecorder(rr, 8)

	rec.Write([]byte("12345"))
	rec.Write([]byte("67890"))

	if !rec.Overflowed() {
		t.Fatal("Overflowed should report true")
	}
	if rr.Body.String() != "1234567890" {
		t.Fatalf("Client got %q", rr.Body.String())
	}
}

func TestRecorderHeaderSnapshot(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewRecorder(rr, 1024)

	rec.Header().Set("Content-Type", "text/test")
	rec.WriteHeader(http.StatusOK)
	rec.Header().Set("Trailer-Like", "late")

	if rec.HeaderSnapshot().Get("Trailer-Like") != "" {
		t.Fatal("Snapshot must not contain headers set after WriteHeader")
	}
	if rec.HeaderSnapshot().Get("Content-Type") != "text/test" {
		t.Fatal("Snapshot is missing a header set before WriteHeader")
	}
}

func TestDeferredRecorderForwardsSuccess(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewDeferredRecorder(rr, 1024)

	rec.Header().Set("Content-Type", "text/test")
	rec.WriteHeader(http.StatusOK)
	rec.Write([]byte("payload"))

	if rec.Suppressed() {
		t.Fatal("2xx must not be suppressed")
	}
	if rr.Body.String() != "payload" {
		t.Fatalf("Client got %q", rr.Body.String())
	}
	if rr.Result().Header.Get("Content-Type") != "text/test" {
		t.Fatal("Headers must be copied to the client on success")
	}
}

func TestDeferredRecorderSuppressesFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewDeferredRecorder(rr, 1024)

	rec.Header().Set("Content-Type", "text/error")
	rec.WriteHeader(http.StatusBadGateway)
	rec.Write([]byte("Error!"))

	if !rec.Suppressed() {
		t.Fatal("Non-2xx must be suppressed")
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("Client got %q, expected nothing", rr.Body.String())
	}
	if len(rr.Result().Header) != 0 {
		t.Fatal("Failure headers must not leak to the client")
	}
	if rec.StatusCode() != http.StatusBadGateway {
		t.Fatalf("Status is %d", rec.StatusCode())
	}
}

// shortWriter accepts half of every write and then fails, imitating a
// client that hangs up mid-response.
type shortWriter struct {
	header http.Header
}

func (w *shortWriter) Header() http.Header { return w.header }
func (w *shortWriter) WriteHeader(int)     {}
func (w *shortWriter) Write(b []byte) (int, error) {
	return len(b) / 2, io.ErrClosedPipe
}

func TestRecorderReportsPartialWrite(t *testing.T) {
	rec := NewRecorder(&shortWriter{header: http.Header{}}, 1024)

	n, err := rec.Write([]byte("abcd"))
	if err == nil {
		t.Fatal("Underlying write error must surface")
	}
	if n != 2 {
		t.Fatalf("Write returned %d, expected the underlying writer's count", n)
	}
}

func TestCaptureRecorderBuffersPastLimit(t *testing.T) {
	rec := NewRecorder(nil, 8)
	long := strings.Repeat("x", 100)

	rec.Write([]byte(long))

	if !rec.Overflowed() {
		t.Fatal("Overflowed should report true")
	}
	if string(rec.Body()) != long {
		t.Fatal("Capture mode must keep the full body for replay")
	}
}

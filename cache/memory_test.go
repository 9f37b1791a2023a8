package cache

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func testEntry(body string, age time.Duration, lifespan time.Duration) *Entry {
	return &Entry{
		Status:    http.StatusOK,
		Header:    http.Header{"Content-Type": []string{"text/test"}},
		Body:      []byte(body),
		CreatedAt: time.Now().Add(-age),
		Lifespan:  lifespan,
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 0)

	if _, ok := s.Lookup(ctx, "missing"); ok {
		t.Fatal("Lookup on an empty store must miss")
	}

	want := testEntry("hello", 0, time.Minute)
	if err := s.Insert(ctx, "k", want); err != nil {
		t.Fatal(err)
	}
	got, ok := s.Lookup(ctx, "k")
	if !ok {
		t.Fatal("Lookup missed after insert")
	}
	if string(got.Body) != "hello" || got.Status != http.StatusOK {
		t.Fatalf("Got %+v", got)
	}
}

func TestMemoryStoreReturnsStaleEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, time.Hour)
	s.Insert(ctx, "k", testEntry("old", 2*time.Minute, time.Minute))

	got, ok := s.Lookup(ctx, "k")
	if !ok {
		t.Fatal("Expired entries must still be returned by Lookup")
	}
	if got.Fresh() {
		t.Fatal("Entry should be stale")
	}
}

func TestMemoryStoreInsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 0)
	s.Insert(ctx, "k", testEntry("v1", 0, time.Minute))
	s.Insert(ctx, "k", testEntry("v2", 0, time.Minute))

	got, _ := s.Lookup(ctx, "k")
	if string(got.Body) != "v2" {
		t.Fatalf("Body is %s, last writer must win", got.Body)
	}
	if s.Len() != 1 {
		t.Fatalf("Store holds %d entries", s.Len())
	}
}

func TestMemoryStoreRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 0)
	s.Insert(ctx, "k", testEntry("v", 0, time.Minute))

	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Lookup(ctx, "k"); ok {
		t.Fatal("Entry still present after Remove")
	}
	if err := s.Remove(ctx, "never-existed"); err != nil {
		t.Fatal("Removing a missing key must not fail")
	}
}

func TestMemoryStoreRemoveExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, time.Minute)
	s.Insert(ctx, "fresh", testEntry("a", 0, time.Minute))
	s.Insert(ctx, "stale", testEntry("b", 90*time.Second, time.Minute))
	s.Insert(ctx, "gone", testEntry("c", time.Hour, time.Minute))

	if err := s.RemoveExpired(ctx); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Lookup(ctx, "fresh"); !ok {
		t.Fatal("Fresh entry was swept")
	}
	if _, ok := s.Lookup(ctx, "stale"); !ok {
		t.Fatal("Entry inside the retention window was swept")
	}
	if _, ok := s.Lookup(ctx, "gone"); ok {
		t.Fatal("Entry past the retention window survived the sweep")
	}
}

func TestMemoryStoreCapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3, 0)
	for i := 0; i < 3; i++ {
		age := time.Duration(3-i) * time.Minute
		s.Insert(ctx, fmt.Sprintf("k%d", i), testEntry("v", age, time.Minute))
	}
	s.Insert(ctx, "k3", testEntry("v", 0, time.Minute))

	if s.Len() != 3 {
		t.Fatalf("Store holds %d entries, capacity is 3", s.Len())
	}
	if _, ok := s.Lookup(ctx, "k0"); ok {
		t.Fatal("Oldest entry should have been evicted")
	}
	if _, ok := s.Lookup(ctx, "k3"); !ok {
		t.Fatal("Newest entry missing")
	}
}

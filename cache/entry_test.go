package cache

import (
	"testing"
	"time"
)

func TestEntryFreshness(t *testing.T) {
	fresh := &Entry{CreatedAt: time.Now(), Lifespan: time.Minute}
	if !fresh.Fresh() {
		t.Fatal("A just-created entry must be fresh")
	}
	if fresh.Stale() {
		t.Fatal("A fresh entry is not stale")
	}

	stale := &Entry{CreatedAt: time.Now().Add(-2 * time.Minute), Lifespan: time.Minute}
	if stale.Fresh() {
		t.Fatal("An entry past its lifespan must not be fresh")
	}
	if !stale.Stale() {
		t.Fatal("An entry past its lifespan is stale")
	}
}

func TestEntryAge(t *testing.T) {
	e := &Entry{CreatedAt: time.Now().Add(-10 * time.Second), Lifespan: time.Minute}
	if age := e.Age(); age < 10*time.Second || age > 11*time.Second {
		t.Fatalf("Age is %v", age)
	}
}

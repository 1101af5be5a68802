package relay

import (
	"fmt"
	"testing"
	"time"
)

func TestDedupFilterNew(t *testing.T) {
	c := NewDedupCache(8, time.Minute)
	if !c.FilterNew("e1") {
		t.Fatal("first sighting should pass")
	}
	if c.FilterNew("e1") {
		t.Fatal("second sighting should be filtered")
	}
	if c.FilterNew("") {
		t.Fatal("empty id should never pass")
	}
	if got := c.Len(); got != 1 {
		t.Fatalf("len = %d, want 1", got)
	}
}

func TestDedupSizeBoundEvictsOldest(t *testing.T) {
	c := NewDedupCache(3, time.Minute)
	for i := 1; i <= 4; i++ {
		c.FilterNew(fmt.Sprintf("e%d", i))
	}
	if got := c.Len(); got != 3 {
		t.Fatalf("len = %d, want 3", got)
	}
	// e1 fell out of the window and counts as new again.
	if !c.FilterNew("e1") {
		t.Fatal("evicted id should pass again")
	}
	if c.FilterNew("e4") {
		t.Fatal("retained id should stay filtered")
	}
}

func TestDedupTTLExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewDedupCache(8, 10*time.Second)
	c.now = func() time.Time { return now }

	c.FilterNew("e1")
	now = now.Add(5 * time.Second)
	if c.FilterNew("e1") {
		t.Fatal("fresh entry should be filtered")
	}
	now = now.Add(6 * time.Second)
	if !c.FilterNew("e1") {
		t.Fatal("expired entry should pass again")
	}
}

func TestDedupRepeatDoesNotRefreshPosition(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewDedupCache(8, 10*time.Second)
	c.now = func() time.Time { return now }

	c.FilterNew("e1")
	now = now.Add(8 * time.Second)
	c.FilterNew("e1") // duplicate, must not reset its age
	now = now.Add(3 * time.Second)
	if !c.FilterNew("e1") {
		t.Fatal("entry should expire relative to first insertion")
	}
}

package bus

import (
	"testing"
	"time"
)

func TestDedupeCacheSeen(t *testing.T) {
	c := NewDedupeCache(time.Minute, 100)

	if c.Seen("Ev1") {
		t.Error("first sighting should not be a duplicate")
	}
	if !c.Seen("Ev1") {
		t.Error("second sighting should be a duplicate")
	}
	if c.Seen("Ev2") {
		t.Error("different key should not be a duplicate")
	}
}

func TestDedupeCacheExpiry(t *testing.T) {
	c := NewDedupeCache(time.Minute, 100)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Seen("Ev1")

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if c.Seen("Ev1") {
		t.Error("expired entry should not count as duplicate")
	}
}

func TestDedupeCacheCap(t *testing.T) {
	c := NewDedupeCache(time.Minute, 10)

	for i := 0; i < 25; i++ {
		c.Seen(string(rune('a' + i)))
	}
	if c.Len() > 10 {
		t.Errorf("cache grew past cap: %d entries", c.Len())
	}
}

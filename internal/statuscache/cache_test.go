package statuscache

import (
	"sync"
	"testing"
	"time"
)

func TestPutGet(t *testing.T) {
	c := New(time.Minute)
	c.Put("T-1", 100)

	got, ok := c.Get("T-1")
	if !ok {
		t.Fatal("expected cached entry")
	}
	if got != 100 {
		t.Errorf("Get = %d, want 100", got)
	}
}

func TestGetMissing(t *testing.T) {
	c := New(time.Minute)
	if _, ok := c.Get("nope"); ok {
		t.Fatal("expected miss for unknown ticket")
	}
}

func TestExpiryWithoutInvalidate(t *testing.T) {
	now := time.Now()
	c := New(time.Minute)
	c.SetNowFunc(func() time.Time { return now })

	c.Put("T-1", 100)

	// One second short of the TTL: still present.
	now = now.Add(59 * time.Second)
	if _, ok := c.Get("T-1"); !ok {
		t.Fatal("entry expired too early")
	}

	// At the TTL boundary: absent, even though Invalidate was never called.
	now = now.Add(time.Second)
	if _, ok := c.Get("T-1"); ok {
		t.Fatal("entry survived past TTL")
	}
}

func TestPutRefreshesObservedAt(t *testing.T) {
	now := time.Now()
	c := New(time.Minute)
	c.SetNowFunc(func() time.Time { return now })

	c.Put("T-1", 100)
	now = now.Add(45 * time.Second)
	c.Put("T-1", 110)
	now = now.Add(45 * time.Second)

	got, ok := c.Get("T-1")
	if !ok {
		t.Fatal("refreshed entry should still be live")
	}
	if got != 110 {
		t.Errorf("Get = %d, want 110", got)
	}
}

func TestInvalidate(t *testing.T) {
	c := New(time.Minute)
	c.Put("T-1", 100)
	c.Invalidate("T-1")
	if _, ok := c.Get("T-1"); ok {
		t.Fatal("expected miss after Invalidate")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Put("T-1", n)
				c.Get("T-1")
				c.Invalidate("T-2")
			}
		}(i)
	}
	wg.Wait()
}

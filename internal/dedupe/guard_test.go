package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRememberFirstTime(t *testing.T) {
	g := New(time.Minute, 100)
	if !g.Remember("msg-1") {
		t.Fatal("first Remember should report new")
	}
	if g.Remember("msg-1") {
		t.Fatal("second Remember should report duplicate")
	}
}

func TestEmptyFingerprintNeverDeduplicated(t *testing.T) {
	g := New(time.Minute, 100)
	if !g.Remember("") {
		t.Fatal("empty fingerprint should always be new")
	}
	if !g.Remember("") {
		t.Fatal("empty fingerprint should always be new")
	}
}

func TestForgetAllowsRetry(t *testing.T) {
	g := New(time.Minute, 100)
	g.Remember("msg-1")
	g.Forget("msg-1")
	if !g.Remember("msg-1") {
		t.Fatal("Remember after Forget should report new")
	}
}

func TestRetentionExpiry(t *testing.T) {
	now := time.Now()
	g := New(time.Minute, 100)
	g.SetNowFunc(func() time.Time { return now })

	g.Remember("msg-1")
	now = now.Add(61 * time.Second)
	if !g.Remember("msg-1") {
		t.Fatal("expired fingerprint should be treated as new")
	}
}

func TestCapacityEviction(t *testing.T) {
	g := New(time.Hour, 3)
	for i := 0; i < 4; i++ {
		g.Remember(fmt.Sprintf("msg-%d", i))
	}
	// msg-0 was evicted to stay within capacity.
	if !g.Remember("msg-0") {
		t.Fatal("oldest fingerprint should have been evicted")
	}
	// msg-3 is still remembered.
	if g.Remember("msg-3") {
		t.Fatal("newest fingerprint should still be present")
	}
}

func TestConcurrentRemember(t *testing.T) {
	g := New(time.Minute, 1000)
	var wg sync.WaitGroup
	var mu sync.Mutex
	newCount := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Remember("same-event") {
				mu.Lock()
				newCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if newCount != 1 {
		t.Errorf("exactly one goroutine should win, got %d", newCount)
	}
}

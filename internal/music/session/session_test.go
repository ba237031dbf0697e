package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistryOneSessionPerGuild(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	var created atomic.Int32
	seen := make([]*Session, 16)
	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, isNew := r.GetOrCreate("g1")
			if isNew {
				created.Add(1)
			}
			seen[i] = s
		}(i)
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Fatalf("created = %d, want 1", created.Load())
	}
	for i, s := range seen {
		if s != seen[0] {
			t.Fatalf("session %d differs from first", i)
		}
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}

	if r.Remove("g1") == nil {
		t.Fatal("Remove returned nil for a live session")
	}
	if r.Get("g1") != nil || r.Len() != 0 {
		t.Error("session should be gone")
	}
	if r.Remove("g1") != nil {
		t.Error("second Remove should return nil")
	}
}

func TestClaimIntroOnce(t *testing.T) {
	r := NewRegistry()
	s, _ := r.GetOrCreate("g1")
	if !s.ClaimIntro() {
		t.Fatal("first claim should succeed")
	}
	if s.ClaimIntro() {
		t.Fatal("second claim should fail")
	}

	r.Remove("g1")
	s2, _ := r.GetOrCreate("g1")
	if !s2.ClaimIntro() {
		t.Fatal("a new session plays the intro again")
	}
}

func TestRetryCounts(t *testing.T) {
	s := newSession("g1")
	if got := s.IncRetry("a"); got != 1 {
		t.Fatalf("IncRetry = %d, want 1", got)
	}
	s.IncRetry("b")
	s.IncRetry("c")
	s.RetainRetry("b")
	if s.RetryCount("c") != 0 {
		t.Fatal("RetainRetry kept another entry")
	}
	s.ClearRetry("a")
	if s.RetryCount("a") != 0 || s.RetryCount("b") != 1 {
		t.Fatalf("counts a=%d b=%d", s.RetryCount("a"), s.RetryCount("b"))
	}
	s.ResetRetries()
	if s.RetryCount("b") != 0 {
		t.Fatal("ResetRetries should clear everything")
	}
}

func TestIdleTimerFiresOnce(t *testing.T) {
	s := newSession("g1")
	var fired atomic.Int32

	if !s.StartIdleTimer(20*time.Millisecond, func() { fired.Add(1) }) {
		t.Fatal("first start should arm")
	}
	if s.StartIdleTimer(20*time.Millisecond, func() { fired.Add(1) }) {
		t.Fatal("second start should not re-arm")
	}

	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("fired = %d, want 1", fired.Load())
	}
	if s.HasIdleTimer() {
		t.Error("timer handle should be released after firing")
	}
}

func TestIdleTimerStop(t *testing.T) {
	s := newSession("g1")
	var fired atomic.Int32
	s.StartIdleTimer(20*time.Millisecond, func() { fired.Add(1) })

	if !s.StopIdleTimer() {
		t.Fatal("stop should report an armed timer")
	}
	if s.StopIdleTimer() {
		t.Fatal("second stop should report nothing armed")
	}
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("stopped timer fired")
	}
}

package sessionlock

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock advances virtual time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestManager_AcquireExclusive(t *testing.T) {
	m := NewManager(30 * time.Second)

	token, err := m.Acquire("sn_001", OpWorkflow)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if token == "" {
		t.Fatal("Acquire() returned empty token")
	}

	if _, err := m.Acquire("sn_001", OpWorkflow); !errors.Is(err, ErrLockHeld) {
		t.Errorf("second Acquire() error = %v, want ErrLockHeld", err)
	}

	// Different operation class on the same session does not collide.
	if _, err := m.Acquire("sn_001", OpMessage); err != nil {
		t.Errorf("Acquire(OpMessage) error = %v", err)
	}

	// Different session does not collide.
	if _, err := m.Acquire("sn_002", OpWorkflow); err != nil {
		t.Errorf("Acquire(other session) error = %v", err)
	}
}

func TestManager_ReleaseThenReacquire(t *testing.T) {
	m := NewManager(30 * time.Second)

	token, _ := m.Acquire("sn_001", OpWorkflow)
	m.Release("sn_001", token, OpWorkflow)

	if _, err := m.Acquire("sn_001", OpWorkflow); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestManager_ReleaseIdempotent(t *testing.T) {
	m := NewManager(30 * time.Second)

	token, _ := m.Acquire("sn_001", OpWorkflow)

	// Unknown token is a no-op; the lock stays held.
	m.Release("sn_001", "lk_bogus", OpWorkflow)
	if !m.Held("sn_001", OpWorkflow) {
		t.Error("Held() = false after mismatched release")
	}

	m.Release("sn_001", token, OpWorkflow)
	m.Release("sn_001", token, OpWorkflow) // second release is a no-op
	if m.Held("sn_001", OpWorkflow) {
		t.Error("Held() = true after release")
	}
}

func TestManager_ExpiredLockReclaimed(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(30*time.Second, WithClock(clock.Now))

	first, _ := m.Acquire("sn_001", OpWorkflow)

	clock.Advance(31 * time.Second)

	second, err := m.Acquire("sn_001", OpWorkflow)
	if err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}
	if second == first {
		t.Error("reclaimed lock reused the old token")
	}

	// The stale token no longer releases anything.
	m.Release("sn_001", first, OpWorkflow)
	if !m.Held("sn_001", OpWorkflow) {
		t.Error("stale token released the live lock")
	}
}

func TestManager_Sweep(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(30*time.Second, WithClock(clock.Now))

	m.Acquire("sn_001", OpWorkflow)
	m.Acquire("sn_002", OpMessage)

	clock.Advance(10 * time.Second)
	m.Acquire("sn_003", OpWorkflow)

	clock.Advance(25 * time.Second)

	if removed := m.Sweep(); removed != 2 {
		t.Errorf("Sweep() = %d, want 2", removed)
	}
	if m.Held("sn_003", OpWorkflow) != true {
		t.Error("unexpired lock was swept")
	}
	if removed := m.Sweep(); removed != 0 {
		t.Errorf("second Sweep() = %d, want 0", removed)
	}
}

func TestManager_ConcurrentAcquireSingleWinner(t *testing.T) {
	m := NewManager(30 * time.Second)

	const goroutines = 32
	var wg sync.WaitGroup
	wins := make(chan string, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if token, err := m.Acquire("sn_001", OpWorkflow); err == nil {
				wins <- token
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Errorf("winners = %d, want exactly 1", got)
	}
}

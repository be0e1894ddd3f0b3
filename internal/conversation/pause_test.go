package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/asa/internal/store"
	"github.com/nextlevelbuilder/asa/internal/store/storetest"
)

type fakeQueue struct {
	mu        sync.Mutex
	cancelled []string
	pending   int
}

func (f *fakeQueue) Cancel(sender string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, sender)
	n := f.pending
	f.pending = 0
	return n
}

func newTestController(t *testing.T) (*Controller, *storetest.Memory, *fakeQueue) {
	t.Helper()
	mem := storetest.New()
	if _, err := mem.GetOrCreate(context.Background(), "S1", ""); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	q := &fakeQueue{pending: 2}
	return NewController(mem, NewLocker(), q), mem, q
}

// TestController_PauseCancelsPendingBatch verifies pause records paused_at
// and drops the sender's pending batch.
func TestController_PauseCancelsPendingBatch(t *testing.T) {
	c, mem, q := newTestController(t)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	conv, err := c.Pause(context.Background(), "S1", "operator")
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !conv.AIPaused || conv.PausedAt == nil || !conv.PausedAt.Equal(fixed) {
		t.Fatalf("returned conversation not paused at %v: %+v", fixed, conv)
	}
	if len(q.cancelled) != 1 || q.cancelled[0] != "S1" {
		t.Errorf("queue cancel calls = %v", q.cancelled)
	}

	stored, _ := mem.Get(context.Background(), "S1")
	if !stored.AIPaused || stored.PausedAt == nil {
		t.Errorf("stored conversation not paused: %+v", stored)
	}
}

// TestController_PauseIdempotent verifies a second pause keeps the first paused_at.
func TestController_PauseIdempotent(t *testing.T) {
	c, mem, _ := newTestController(t)
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return first }
	if _, err := c.Pause(context.Background(), "S1", "operator"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	c.now = func() time.Time { return first.Add(time.Hour) }
	if _, err := c.Pause(context.Background(), "S1", "rule"); err != nil {
		t.Fatalf("second Pause: %v", err)
	}

	stored, _ := mem.Get(context.Background(), "S1")
	if !stored.PausedAt.Equal(first) {
		t.Errorf("paused_at = %v, want %v", stored.PausedAt, first)
	}
}

// TestController_ResumeClearsPausedAt verifies the only way back to ACTIVE.
func TestController_ResumeClearsPausedAt(t *testing.T) {
	c, mem, _ := newTestController(t)
	ctx := context.Background()
	if _, err := c.Pause(ctx, "S1", "operator"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	conv, err := c.Resume(ctx, "S1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if conv.AIPaused || conv.PausedAt != nil {
		t.Fatalf("resume left state %+v", conv)
	}
	stored, _ := mem.Get(ctx, "S1")
	if stored.AIPaused || stored.PausedAt != nil {
		t.Errorf("stored state after resume: %+v", stored)
	}
}

func TestController_Toggle(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	want := []bool{true, false, true}
	for i, w := range want {
		conv, err := c.Toggle(ctx, "S1")
		if err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
		if conv.AIPaused != w {
			t.Fatalf("toggle %d: paused = %v, want %v", i, conv.AIPaused, w)
		}
	}
}

func TestController_UnknownSender(t *testing.T) {
	c, _, q := newTestController(t)
	_, err := c.Pause(context.Background(), "nobody", "operator")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(q.cancelled) != 0 {
		t.Errorf("queue touched for unknown sender: %v", q.cancelled)
	}
}

// TestLocker_SerializesAndReleases verifies one holder per key and that
// idle keys are forgotten.
func TestLocker_SerializesAndReleases(t *testing.T) {
	l := NewLocker()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("S1")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if n := l.size(); n != 0 {
		t.Errorf("locker still tracks %d keys", n)
	}
}

// TestController_PauseIfActiveReportsTransition verifies only the call that
// moves ACTIVE to PAUSED reports the transition.
func TestController_PauseIfActiveReportsTransition(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	_, first, err := c.PauseIfActive(ctx, "S1", "rule")
	if err != nil || !first {
		t.Fatalf("first pause: transitioned=%v err=%v", first, err)
	}
	conv, second, err := c.PauseIfActive(ctx, "S1", "rule")
	if err != nil || second {
		t.Fatalf("second pause: transitioned=%v err=%v", second, err)
	}
	if !conv.AIPaused {
		t.Errorf("conversation not paused: %+v", conv)
	}
}

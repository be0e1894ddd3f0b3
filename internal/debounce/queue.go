// Package debounce coalesces bursts of inbound messages per sender.
//
// Each sender owns at most one pending batch and one timer. Every Enqueue
// restarts the timer (sliding window); when it fires the batch is detached
// under the sender lock and handed to the flush callback on the timer
// goroutine, so a message arriving mid-flush starts a fresh batch.
package debounce

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultWindow is the quiet period after the last message of a burst.
const DefaultWindow = 8 * time.Second

// Batch is one detached burst for a sender. Texts are in arrival order.
type Batch struct {
	Sender         string
	ConversationID uuid.UUID
	Texts          []string
	FirstAt        time.Time
	LastAt         time.Time
}

// FlushFunc processes a detached batch. It runs outside every queue lock.
type FlushFunc func(Batch)

// Queue is a per-sender sliding-window debouncer. Safe for concurrent use.
type Queue struct {
	window    atomic.Int64 // time.Duration
	flush     FlushFunc
	onEnqueue func(sender string)

	mu      sync.Mutex
	senders map[string]*entry
	stopped bool
}

// entry is the per-sender state. Once dead it has been removed from the
// map and must not be reused; callers holding a stale pointer retry.
type entry struct {
	mu    sync.Mutex
	batch *Batch
	timer *time.Timer
	gen   uint64
	dead  bool
}

// New creates a queue that calls flush window after the last Enqueue for a sender.
func New(window time.Duration, flush FlushFunc) *Queue {
	q := &Queue{
		flush:   flush,
		senders: make(map[string]*entry),
	}
	q.SetWindow(window)
	return q
}

// SetOnEnqueue registers a hook run after each Enqueue (typing indicator).
// The hook must not block.
func (q *Queue) SetOnEnqueue(fn func(sender string)) { q.onEnqueue = fn }

// SetWindow changes the debounce window for timers started afterwards.
func (q *Queue) SetWindow(d time.Duration) {
	if d <= 0 {
		d = DefaultWindow
	}
	q.window.Store(int64(d))
}

// Window returns the current debounce window.
func (q *Queue) Window() time.Duration { return time.Duration(q.window.Load()) }

// Enqueue appends text to the sender's pending batch and restarts its timer.
func (q *Queue) Enqueue(sender, text string, conversationID uuid.UUID) {
	for {
		e, ok := q.entryFor(sender)
		if !ok {
			slog.Debug("debounce: queue stopped, dropping message", "sender", sender)
			return
		}

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}

		now := time.Now()
		if e.batch == nil {
			e.batch = &Batch{Sender: sender, ConversationID: conversationID, FirstAt: now}
		}
		e.batch.Texts = append(e.batch.Texts, text)
		e.batch.LastAt = now

		if e.timer != nil {
			e.timer.Stop()
		}
		e.gen++
		gen := e.gen
		e.timer = time.AfterFunc(q.Window(), func() { q.fire(sender, e, gen) })
		pending := len(e.batch.Texts)
		e.mu.Unlock()

		slog.Debug("debounce: enqueued", "sender", sender, "pending", pending)
		if q.onEnqueue != nil {
			q.onEnqueue(sender)
		}
		return
	}
}

// Flush detaches and processes the sender's batch immediately, on the
// caller's goroutine. It reports false if nothing was pending.
func (q *Queue) Flush(sender string) bool {
	b, ok := q.detach(sender, nil, 0)
	if !ok {
		return false
	}
	q.flush(b)
	return true
}

// Cancel drops the sender's pending batch and stops its timer.
// It returns the number of discarded texts.
func (q *Queue) Cancel(sender string) int {
	b, ok := q.detach(sender, nil, 0)
	if !ok {
		return 0
	}
	slog.Info("debounce: pending batch cancelled", "sender", sender, "dropped", len(b.Texts))
	return len(b.Texts)
}

// Pending returns the number of texts waiting for sender.
func (q *Queue) Pending(sender string) int {
	q.mu.Lock()
	e := q.senders[sender]
	q.mu.Unlock()
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.batch == nil {
		return 0
	}
	return len(e.batch.Texts)
}

// Stop cancels every timer. Pending batches are discarded and later
// Enqueue calls are ignored.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	entries := q.senders
	q.senders = make(map[string]*entry)
	q.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
		}
		e.batch, e.timer, e.dead = nil, nil, true
		e.mu.Unlock()
	}
}

func (q *Queue) entryFor(sender string) (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return nil, false
	}
	e, ok := q.senders[sender]
	if !ok {
		e = &entry{}
		q.senders[sender] = e
	}
	return e, true
}

func (q *Queue) fire(sender string, e *entry, gen uint64) {
	b, ok := q.detach(sender, e, gen)
	if !ok {
		return
	}
	q.flush(b)
}

// detach removes the sender's batch and timer. When want is non-nil the
// detach only happens if that entry is still current at generation gen,
// which turns a superseded timer into a no-op.
func (q *Queue) detach(sender string, want *entry, gen uint64) (Batch, bool) {
	e := want
	for e == nil {
		q.mu.Lock()
		cur := q.senders[sender]
		q.mu.Unlock()
		if cur == nil {
			return Batch{}, false
		}
		cur.mu.Lock()
		if !cur.dead {
			// keep cur locked; released by the deferred unlock below
			e = cur
			break
		}
		cur.mu.Unlock()
	}
	if want != nil {
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	if e.dead || e.batch == nil || (want != nil && e.gen != gen) {
		return Batch{}, false
	}

	b := *e.batch
	if e.timer != nil {
		e.timer.Stop()
	}
	e.batch, e.timer, e.dead = nil, nil, true

	q.mu.Lock()
	if q.senders[sender] == e {
		delete(q.senders, sender)
	}
	q.mu.Unlock()

	return b, true
}

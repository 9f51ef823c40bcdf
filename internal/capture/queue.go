package capture

import (
	"sync"
	"time"

	"github.com/lanternops/rdpd/internal/rdperr"
)

// Queue is a single-slot, overwrite-semantics frame handoff between the
// capture goroutine (producer) and the render goroutine (consumer). The
// producer never blocks: pushing a frame while the previous one is still
// unread replaces it and counts a drop, so a capture loop running ahead
// of a slow RDP peer never stalls waiting on the consumer.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	slot    *Frame
	hasSlot bool
	running bool
	dropped uint64
}

// New creates a running Queue.
func New() *Queue {
	q := &Queue{running: true}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push installs frame as the queue's current slot. If a frame was already
// queued and unread, it is dropped (returned to the pool) and the dropped
// counter increments. Never blocks. A push after Close is discarded
// silently: it neither occupies the slot nor wakes a waiter.
func (q *Queue) Push(f *Frame) {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		PutFrame(f)
		return
	}
	if q.hasSlot {
		q.dropped++
		PutFrame(q.slot)
	}
	q.slot = f
	q.hasSlot = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Wait retrieves the queued frame, blocking according to timeout:
//
//	timeout < 0: block indefinitely until a frame is available or the queue
//	             is closed.
//	timeout == 0: poll, return immediately with rdperr.Pending if no frame
//	              is queued.
//	timeout > 0: block up to timeout, returning rdperr.Timeout if it elapses.
func (q *Queue) Wait(timeout time.Duration) (*Frame, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if timeout == 0 {
		if !q.hasSlot {
			if !q.running {
				return nil, rdperr.New(rdperr.Failed, "frame queue closed")
			}
			return nil, rdperr.Pending
		}
		return q.take(), nil
	}

	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for !q.hasSlot && q.running {
		if !hasDeadline {
			q.cond.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, rdperr.Timeout
		}
		if !q.waitBounded(remaining) {
			return nil, rdperr.Timeout
		}
	}

	if !q.hasSlot {
		return nil, rdperr.New(rdperr.Failed, "frame queue closed")
	}
	return q.take(), nil
}

// waitBounded blocks on the condvar for at most d, returning false if it
// timed out. sync.Cond has no native timed wait, so the wait is delegated
// to a helper goroutine paired with a timer; the lock is released for the
// duration exactly as Cond.Wait would.
func (q *Queue) waitBounded(d time.Duration) bool {
	done := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		close(done)
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	q.cond.Wait()

	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (q *Queue) take() *Frame {
	f := q.slot
	q.slot = nil
	q.hasSlot = false
	return f
}

// Dropped returns the number of frames discarded because the consumer had
// not read the previous one.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close marks the queue as no longer running and wakes any blocked Wait.
func (q *Queue) Close() {
	q.mu.Lock()
	q.running = false
	if q.hasSlot {
		PutFrame(q.slot)
		q.slot = nil
		q.hasSlot = false
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

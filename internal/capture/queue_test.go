package capture

import (
	"testing"
	"time"

	"github.com/lanternops/rdpd/internal/rdperr"
)

func TestQueuePollPending(t *testing.T) {
	q := New()
	_, err := q.Wait(0)
	if !rdperr.Is(err, rdperr.Pending) {
		t.Fatalf("expected Pending on empty queue, got %v", err)
	}
}

func TestQueuePushThenPoll(t *testing.T) {
	q := New()
	f := GetFrame()
	f.Configure(64, 64, 256, 1)
	q.Push(f)

	got, err := q.Wait(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Width != 64 || got.Timestamp != 1 {
		t.Fatalf("unexpected frame: %+v", got)
	}
}

func TestQueueOverwriteCountsDrop(t *testing.T) {
	q := New()
	f1 := GetFrame()
	f1.Configure(1, 1, 4, 1)
	f2 := GetFrame()
	f2.Configure(1, 1, 4, 2)

	q.Push(f1)
	q.Push(f2)

	if d := q.Dropped(); d != 1 {
		t.Fatalf("expected 1 dropped frame, got %d", d)
	}

	got, err := q.Wait(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Timestamp != 2 {
		t.Fatalf("expected newest frame to win, got timestamp %d", got.Timestamp)
	}
}

func TestQueueBlockingWaitWakesOnPush(t *testing.T) {
	q := New()
	done := make(chan struct{})
	go func() {
		f, err := q.Wait(-1)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if f == nil || f.Timestamp != 9 {
			t.Errorf("unexpected frame: %+v", f)
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	f := GetFrame()
	f.Configure(1, 1, 4, 9)
	q.Push(f)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking wait did not wake up")
	}
}

func TestQueueTimeout(t *testing.T) {
	q := New()
	_, err := q.Wait(10 * time.Millisecond)
	if !rdperr.Is(err, rdperr.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestQueuePushAfterCloseDiscarded(t *testing.T) {
	q := New()
	q.Close()

	f := GetFrame()
	f.Configure(1, 1, 4, 1)
	q.Push(f)

	_, err := q.Wait(0)
	if !rdperr.Is(err, rdperr.Failed) {
		t.Fatalf("expected closed-queue error, got %v", err)
	}
}

func TestQueueCloseWakesWaiters(t *testing.T) {
	q := New()
	done := make(chan error)
	go func() {
		_, err := q.Wait(-1)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close did not wake blocked waiter")
	}
}

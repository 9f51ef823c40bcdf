package session

import (
	"context"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lanternops/rdpd/internal/capture"
	"github.com/lanternops/rdpd/internal/rdpffi"
)

type fakeSink struct {
	sends atomic.Int32
}

func (f *fakeSink) SendSurfaceBits(rect image.Rectangle, codec string, payload []byte) error {
	f.sends.Add(1)
	return nil
}

func TestOrchestratorActivateAndDisconnect(t *testing.T) {
	queue := capture.New()
	defer queue.Close()

	sink := &fakeSink{}
	var closedCount atomic.Int32
	peer := rdpffi.Peer{RemoteAddr: "10.0.0.1:51000"}

	o := New(peer, queue, 64, 64, Config{RenderInterval: 5 * time.Millisecond}, sink, func(*Orchestrator) {
		closedCount.Add(1)
	})

	if err := o.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if o.State() != StateActive {
		t.Fatalf("expected Active, got %v", o.State())
	}

	// Push a frame and let the render loop pick it up via the fallback sink.
	f := capture.GetFrame()
	f.Configure(64, 64, 64*4, 1)
	copy(f.EnsureCapacity(64*64*4), make([]byte, 64*64*4))
	queue.Push(f)

	deadline := time.After(2 * time.Second)
	for sink.sends.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected at least one surface bits send")
		case <-time.After(10 * time.Millisecond):
		}
	}

	o.Disconnect()
	o.Disconnect() // must be idempotent

	if o.State() != StateClosed {
		t.Fatalf("expected Closed, got %v", o.State())
	}
	if closedCount.Load() != 1 {
		t.Fatalf("expected onClosed exactly once, got %d", closedCount.Load())
	}
}

package gfx

import (
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lanternops/rdpd/internal/rdperr"
	"github.com/lanternops/rdpd/internal/rdpffi"
)

type fakeGfx struct {
	nextFrame uint32
	closed    atomic.Bool
}

func (f *fakeGfx) Open() error                            { return nil }
func (f *fakeGfx) NegotiatedCaps() rdpffi.CodecCaps       { return rdpffi.CodecCaps{RFX: true, AVC444: true} }
func (f *fakeGfx) CreateSurface(w, h int) (uint32, error) { return 7, nil }
func (f *fakeGfx) DeleteSurface(id uint32) error          { return nil }
func (f *fakeGfx) StartFrame() (uint32, error) {
	f.nextFrame++
	return f.nextFrame, nil
}
func (f *fakeGfx) SubmitSurfaceCommand(surfaceID uint32, rect image.Rectangle, codec string, payload []byte) error {
	return nil
}
func (f *fakeGfx) EndFrame(frameID uint32) error { return nil }
func (f *fakeGfx) Close() error                  { f.closed.Store(true); return nil }

type fakeOwner struct {
	notified atomic.Bool
	lastErr  error
}

func (o *fakeOwner) NotifyGraphicsClosed(err error) {
	o.notified.Store(true)
	o.lastErr = err
}

func readyPipeline(t *testing.T, maxOutstanding int) (*Pipeline, *fakeGfx, *fakeOwner) {
	t.Helper()
	fg := &fakeGfx{}
	owner := &fakeOwner{}
	p := New(fg, Config{MaxOutstandingFrames: maxOutstanding}, owner)
	if err := p.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.ConfirmCaps(fg.NegotiatedCaps()); err != nil {
		t.Fatalf("ConfirmCaps: %v", err)
	}
	if err := p.CreateSurface(800, 600); err != nil {
		t.Fatalf("CreateSurface: %v", err)
	}
	if p.State() != StateSurfaceReady {
		t.Fatalf("expected SurfaceReady, got %s", p.State())
	}
	return p, fg, owner
}

func TestPipelineLifecycle(t *testing.T) {
	readyPipeline(t, 2)
}

func TestPipelineAdmissionControl(t *testing.T) {
	p, _, _ := readyPipeline(t, 1)
	rect := image.Rect(0, 0, 64, 64)

	if _, err := p.SubmitFrame(rect, "rfx", []byte{1}); err != nil {
		t.Fatalf("first submit should succeed: %v", err)
	}

	if _, err := p.SubmitFrame(rect, "rfx", []byte{1}); !rdperr.Is(err, rdperr.WouldBlock) {
		t.Fatalf("expected WouldBlock at capacity, got %v", err)
	}

	p.OnFrameAck(rdpffi.FrameAck{FrameID: 1})

	if _, err := p.SubmitFrame(rect, "rfx", []byte{1}); err != nil {
		t.Fatalf("submit after ack should succeed: %v", err)
	}
}

func TestPipelineSuspendAcksBlocksSubmission(t *testing.T) {
	p, _, _ := readyPipeline(t, 4)
	p.SuspendAcks()
	if p.CanSubmit() {
		t.Fatal("expected CanSubmit false while acks suspended")
	}
	p.ResumeAcks()
	if !p.CanSubmit() {
		t.Fatal("expected CanSubmit true after resuming acks")
	}
}

func TestPipelineWaitForCapacityWakesOnAck(t *testing.T) {
	p, _, _ := readyPipeline(t, 1)
	rect := image.Rect(0, 0, 1, 1)
	if _, err := p.SubmitFrame(rect, "rfx", []byte{1}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := make(chan struct{})
	go func() {
		if err := p.WaitForCapacity(-1); err != nil {
			t.Errorf("WaitForCapacity: %v", err)
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	p.OnFrameAck(rdpffi.FrameAck{FrameID: 1})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForCapacity did not wake after ack")
	}
}

func TestPipelineSuspendAcksResetsOutstanding(t *testing.T) {
	p, _, _ := readyPipeline(t, 1)
	rect := image.Rect(0, 0, 1, 1)
	if _, err := p.SubmitFrame(rect, "rfx", []byte{1}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	p.SuspendAcks()
	p.ResumeAcks()

	if _, err := p.SubmitFrame(rect, "rfx", []byte{1}); err != nil {
		t.Fatalf("expected submission to succeed after suspend reset outstanding, got %v", err)
	}
}

func TestPipelineH264SelfAcknowledges(t *testing.T) {
	p, _, _ := readyPipeline(t, 1)
	rect := image.Rect(0, 0, 1, 1)
	if _, err := p.SubmitFrame(rect, "avc444", []byte{1}); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	if !p.CanSubmit() {
		t.Fatal("expected CanSubmit true after an H264 frame, even without an ack")
	}
	if err := p.WaitForCapacity(0); err != nil {
		t.Fatalf("expected WaitForCapacity to return immediately after an H264 frame: %v", err)
	}

	if _, err := p.SubmitFrame(rect, "rfx", []byte{1}); err != nil {
		t.Fatalf("expected RFX submit to succeed on H264 self-ack credit: %v", err)
	}
	if p.CanSubmit() {
		t.Fatal("expected CanSubmit false once an RFX frame consumes the credit")
	}
}

func TestPipelineCloseNotifiesOwnerOnce(t *testing.T) {
	p, fg, owner := readyPipeline(t, 1)
	p.Close()
	p.Close()

	if !fg.closed.Load() {
		t.Fatal("expected underlying channel to be closed")
	}
	if !owner.notified.Load() {
		t.Fatal("expected owner notification")
	}
	if p.State() != StateClosed {
		t.Fatalf("expected Closed state, got %s", p.State())
	}
}

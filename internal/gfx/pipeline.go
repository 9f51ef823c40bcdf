// Package gfx implements the Rdpgfx dynamic virtual channel lifecycle and
// frame admission control: a small state machine gating when frames may be
// submitted, plus outstanding-frame accounting fed by the client's
// asynchronous frame acknowledgements.
package gfx

import (
	"image"
	"strings"
	"sync"
	"time"

	"github.com/lanternops/rdpd/internal/rdperr"
	"github.com/lanternops/rdpd/internal/rdpffi"
)

// State is the channel's lifecycle stage.
type State int

const (
	StateCreated State = iota
	StateChannelOpened
	StateCapsConfirmed
	StateSurfaceReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateChannelOpened:
		return "channel-opened"
	case StateCapsConfirmed:
		return "caps-confirmed"
	case StateSurfaceReady:
		return "surface-ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Owner receives lifecycle notifications from the Pipeline without the
// Pipeline holding any owning reference back to it: the session always
// outlives its pipeline and must never be kept alive by it.
type Owner interface {
	// NotifyGraphicsClosed is invoked exactly once when the pipeline
	// transitions to StateClosed, whether by explicit Close or by an
	// unrecoverable channel error.
	NotifyGraphicsClosed(err error)
}

// Config bounds the pipeline's admission control.
type Config struct {
	// MaxOutstandingFrames caps how many frames may be in flight
	// (submitted but not yet acknowledged by the client) at once.
	MaxOutstandingFrames int
}

// Pipeline drives one peer's Rdpgfx channel: opening it, confirming
// capabilities, creating the surface, and gating frame submission on
// outstanding-frame admission control.
type Pipeline struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg   Config
	owner Owner
	gfx   rdpffi.GraphicsContext

	state     State
	surfaceID uint32
	width     int
	height    int
	caps      rdpffi.CodecCaps

	outstanding       int
	acksSuspended     bool
	lastFrameWasH264  bool
	closeOnce         sync.Once
}

// New creates a Pipeline bound to gfx; owner is notified once when the
// pipeline closes.
func New(gfx rdpffi.GraphicsContext, cfg Config, owner Owner) *Pipeline {
	if cfg.MaxOutstandingFrames <= 0 {
		cfg.MaxOutstandingFrames = 2
	}
	p := &Pipeline{cfg: cfg, owner: owner, gfx: gfx, state: StateCreated}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Open performs channel creation, advancing Created→ChannelOpened.
// Capability confirmation is the separate ConfirmCaps step.
func (p *Pipeline) Open() error {
	p.mu.Lock()
	if p.state != StateCreated {
		p.mu.Unlock()
		return rdperr.New(rdperr.InvalidArgument, "graphics pipeline already opened")
	}
	p.mu.Unlock()

	if err := p.gfx.Open(); err != nil {
		p.fail(err)
		return rdperr.Wrap(rdperr.Failed, err)
	}

	p.mu.Lock()
	p.state = StateChannelOpened
	p.mu.Unlock()
	return nil
}

// ConfirmCaps advances ChannelOpened→CapsConfirmed once capability exchange
// completes, recording the codec set the client advertised so callers can
// feed it to the encoding engine's auto-selection policy via ClientCaps.
func (p *Pipeline) ConfirmCaps(caps rdpffi.CodecCaps) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateChannelOpened {
		return rdperr.New(rdperr.InvalidArgument, "caps confirmed out of order: state=%s", p.state)
	}
	p.caps = caps
	p.state = StateCapsConfirmed
	return nil
}

// CreateSurface advances CapsConfirmed→SurfaceReady.
func (p *Pipeline) CreateSurface(width, height int) error {
	p.mu.Lock()
	if p.state != StateCapsConfirmed {
		p.mu.Unlock()
		return rdperr.New(rdperr.InvalidArgument, "create surface out of order: state=%s", p.state)
	}
	p.mu.Unlock()

	id, err := p.gfx.CreateSurface(width, height)
	if err != nil {
		p.fail(err)
		return rdperr.Wrap(rdperr.Failed, err)
	}

	p.mu.Lock()
	p.surfaceID = id
	p.width = width
	p.height = height
	p.state = StateSurfaceReady
	p.mu.Unlock()
	return nil
}

// CanSubmit reports whether the pipeline is ready for a new frame and
// admission control currently allows it.
func (p *Pipeline) CanSubmit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canSubmitLocked()
}

// canSubmitLocked implements surface_ready && !acks_suspended &&
// (outstanding<max || last_frame_was_h264): an H.264 frame carries its own
// reference state inside the bitstream, so it is self-acknowledging and
// doesn't need to wait on the client's frame-ack feedback the way a
// RemoteFX/Progressive tile update does.
func (p *Pipeline) canSubmitLocked() bool {
	return p.state == StateSurfaceReady &&
		!p.acksSuspended &&
		(p.outstanding < p.cfg.MaxOutstandingFrames || p.lastFrameWasH264)
}

// SubmitFrame sends one encoded region update. Returns rdperr.WouldBlock if
// admission control currently disallows submission (caller should wait on
// WaitForCapacity instead of retrying in a loop).
func (p *Pipeline) SubmitFrame(rect image.Rectangle, codec string, payload []byte) (frameID uint32, err error) {
	p.mu.Lock()
	if !p.canSubmitLocked() {
		p.mu.Unlock()
		return 0, rdperr.WouldBlock
	}
	surfaceID := p.surfaceID
	p.mu.Unlock()

	id, err := p.gfx.StartFrame()
	if err != nil {
		p.fail(err)
		return 0, rdperr.Wrap(rdperr.Failed, err)
	}
	if err := p.gfx.SubmitSurfaceCommand(surfaceID, rect, codec, payload); err != nil {
		p.fail(err)
		return 0, rdperr.Wrap(rdperr.Failed, err)
	}
	if err := p.gfx.EndFrame(id); err != nil {
		p.fail(err)
		return 0, rdperr.Wrap(rdperr.Failed, err)
	}

	p.mu.Lock()
	p.outstanding++
	p.lastFrameWasH264 = strings.HasPrefix(codec, "avc")
	p.mu.Unlock()
	p.cond.Broadcast()
	return id, nil
}

// WaitForCapacity blocks until CanSubmit would return true, or the
// pipeline closes, according to timeout:
//
//	timeout < 0: block indefinitely.
//	timeout == 0: poll, returning rdperr.WouldBlock immediately if not ready.
//	timeout > 0: block up to timeout, returning rdperr.Timeout if it elapses.
//
// If the last submitted frame was H.264, capacity is self-acknowledging and
// this returns immediately without waiting on a client frame ack.
func (p *Pipeline) WaitForCapacity(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if timeout == 0 {
		if !p.canSubmitLocked() {
			if p.state == StateClosed {
				return rdperr.New(rdperr.Failed, "graphics pipeline closed")
			}
			return rdperr.WouldBlock
		}
		return nil
	}

	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for !p.canSubmitLocked() {
		if p.state == StateClosed {
			return rdperr.New(rdperr.Failed, "graphics pipeline closed")
		}
		if !hasDeadline {
			p.cond.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return rdperr.Timeout
		}
		if !p.waitBounded(remaining) {
			return rdperr.Timeout
		}
	}
	return nil
}

// waitBounded blocks on the condvar for at most d, returning false if it
// timed out. sync.Cond has no native timed wait, so the wait is paired with
// a timer that broadcasts on expiry.
func (p *Pipeline) waitBounded(d time.Duration) bool {
	done := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		p.mu.Lock()
		close(done)
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()

	p.cond.Wait()

	select {
	case <-done:
		return false
	default:
		return true
	}
}

// OnFrameAck processes a client frame acknowledgement, decrementing the
// outstanding-frame count and waking any goroutine blocked in
// WaitForCapacity.
func (p *Pipeline) OnFrameAck(ack rdpffi.FrameAck) {
	p.mu.Lock()
	if p.outstanding > 0 {
		p.outstanding--
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// SuspendAcks marks the channel as unable to accept further frames until
// ResumeAcks is called, corresponding to a client-side backpressure signal.
// The client won't be acknowledging any frames still in flight once
// suspended, so outstanding is reset to 0 rather than left to linger until a
// resume that may never come.
func (p *Pipeline) SuspendAcks() {
	p.mu.Lock()
	p.acksSuspended = true
	p.outstanding = 0
	p.mu.Unlock()
	p.cond.Broadcast()
}

// ResumeAcks clears SuspendAcks and wakes waiters.
func (p *Pipeline) ResumeAcks() {
	p.mu.Lock()
	p.acksSuspended = false
	p.mu.Unlock()
	p.cond.Broadcast()
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ClientCaps returns the codec capabilities recorded by ConfirmCaps.
func (p *Pipeline) ClientCaps() rdpffi.CodecCaps {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps
}

func (p *Pipeline) fail(err error) {
	p.doClose(err)
}

// Close tears down the channel. Safe to call multiple times; the owner's
// NotifyGraphicsClosed fires exactly once.
func (p *Pipeline) Close() error {
	p.doClose(nil)
	return nil
}

// doClose performs the state transition and owner notification exactly
// once, regardless of how many goroutines call Close/fail concurrently.
func (p *Pipeline) doClose(err error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		wasOpen := p.state != StateClosed
		p.state = StateClosed
		p.mu.Unlock()

		if wasOpen {
			_ = p.gfx.Close()
		}
		if p.owner != nil {
			p.owner.NotifyGraphicsClosed(err)
		}
	})
	p.cond.Broadcast()
}

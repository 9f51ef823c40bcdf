// Package session implements the per-peer SessionOrchestrator: activation,
// a three-goroutine coordination model (event pump, virtual-channel
// manager pump, render loop), and shutdown.
package session

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lanternops/rdpd/internal/capture"
	"github.com/lanternops/rdpd/internal/encoding"
	"github.com/lanternops/rdpd/internal/gfx"
	"github.com/lanternops/rdpd/internal/rdperr"
	"github.com/lanternops/rdpd/internal/rdpffi"
	"github.com/lanternops/rdpd/internal/rdpffi/h264"
)

// State is the session's coarse lifecycle stage.
type State int

const (
	StateIdle State = iota
	StateActive
	StateClosing
	StateClosed
)

// SurfaceBitsSink is the classic fallback transport used when the peer has
// no (or a disabled) graphics pipeline channel.
type SurfaceBitsSink = rdpffi.SurfaceBitsSink

// Config bounds a session's behavior.
type Config struct {
	GraphicsPipeline gfx.Config
	Encoding         encoding.Config
	// RenderInterval bounds how long the render goroutine waits for a new
	// captured frame before checking for shutdown again.
	RenderInterval time.Duration
	// H264BitrateBps and H264FPS configure the software AVC encoder used
	// whenever the engine selects an H.264 codec variant.
	H264BitrateBps int
	H264FPS        int
}

// Orchestrator coordinates one peer connection: it owns the peer's
// graphics pipeline (when available), pulls frames from a capture.Queue,
// runs them through an encoding.Engine, and ships the result to the
// client, via the graphics pipeline when active, or a Surface Bits
// fallback otherwise.
type Orchestrator struct {
	log *slog.Logger
	cfg Config

	peer       rdpffi.Peer
	queue      *capture.Queue
	engine     *encoding.Engine
	pipeline   *gfx.Pipeline
	fallback   SurfaceBitsSink
	h264Enc    *h264.Encoder

	alive      atomic.Bool
	closeOnce  sync.Once
	onClosed   func(*Orchestrator)
	group      *errgroup.Group
	groupCtx   context.Context
	cancel     context.CancelFunc

	mu    sync.Mutex
	state State

	width, height int
}

// New creates an Orchestrator with no graphics pipeline. Activate succeeds
// without one and the session runs on the Surface Bits fallback until
// EnableGraphics is called.
func New(peer rdpffi.Peer, queue *capture.Queue, width, height int, cfg Config, fallback SurfaceBitsSink, onClosed func(*Orchestrator)) *Orchestrator {
	o := &Orchestrator{
		log:      slog.With("component", "session", "peer", peer.RemoteAddr),
		cfg:      cfg,
		peer:     peer,
		queue:    queue,
		fallback: fallback,
		onClosed: onClosed,
		state:    StateIdle,
		width:    width,
		height:   height,
	}
	o.engine = encoding.New(width, height, cfg.Encoding, encoding.ClientCodecSupport{})
	return o
}

// EnableGraphics installs a live Rdpgfx channel, replacing the Surface Bits
// fallback as the primary transport. conn is the session's own
// non-owning view of the channel: the Pipeline created here holds no
// reference back to the Orchestrator beyond the narrow gfx.Owner interface.
func (o *Orchestrator) EnableGraphics(conn rdpffi.GraphicsContext) error {
	p := gfx.New(conn, o.cfg.GraphicsPipeline, o)
	if err := p.Open(); err != nil {
		return err
	}
	if err := p.ConfirmCaps(conn.NegotiatedCaps()); err != nil {
		return err
	}
	if err := p.CreateSurface(o.width, o.height); err != nil {
		return err
	}

	caps := p.ClientCaps()
	o.engine.UpdateClientSupport(encoding.ClientCodecSupport{
		RFX:         caps.RFX,
		Progressive: caps.Progressive,
		AVC420:      caps.AVC420,
		AVC444:      caps.AVC444,
		AVC444v2:    caps.AVC444v2,
	})

	o.mu.Lock()
	o.pipeline = p
	o.mu.Unlock()
	return nil
}

// NotifyGraphicsClosed implements gfx.Owner. It demotes the session back to
// the Surface Bits fallback rather than tearing down the whole session: a
// client that loses its graphics channel mid-session (e.g. a
// RemoteFX-capable client disabling AVC support) should keep working.
func (o *Orchestrator) NotifyGraphicsClosed(err error) {
	o.mu.Lock()
	o.pipeline = nil
	o.mu.Unlock()
	if err != nil {
		o.log.Warn("graphics pipeline closed unexpectedly", "error", err)
	}
}

// Activate starts the three coordination goroutines and transitions the
// session to Active. The event and VCM goroutines only wait for
// cancellation (neither dispatches peer PDUs), and the render goroutine
// bridges the capture queue to the transport.
func (o *Orchestrator) Activate(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return rdperr.New(rdperr.InvalidArgument, "session already activated")
	}
	o.state = StateActive
	o.mu.Unlock()

	o.alive.Store(true)
	groupCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(groupCtx)
	o.group = group
	o.groupCtx = groupCtx
	o.cancel = cancel

	group.Go(func() error { return o.eventLoop(groupCtx) })
	group.Go(func() error { return o.vcmLoop(groupCtx) })
	group.Go(func() error { return o.renderLoop(groupCtx) })

	return nil
}

// eventLoop has no separate peer input-event source distinct from the VCM
// pump, so this goroutine only watches for shutdown. It is kept as its own
// goroutine so future per-peer input handling has a natural home.
func (o *Orchestrator) eventLoop(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// vcmLoop holds the virtual-channel pump's place in the three-goroutine
// model. It dispatches no PDUs (capability updates and frame
// acknowledgements are not read here) and returns once ctx is canceled.
func (o *Orchestrator) vcmLoop(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// renderLoop pulls frames from the queue, runs them through the encoding
// engine, and submits the result via the graphics pipeline (preferred) or
// the Surface Bits fallback.
func (o *Orchestrator) renderLoop(ctx context.Context) error {
	interval := o.cfg.RenderInterval
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := o.queue.Wait(interval)
		if err != nil {
			if rdperr.Is(err, rdperr.Timeout) || rdperr.Is(err, rdperr.Pending) {
				continue
			}
			return nil // queue closed
		}

		o.processFrame(frame)
		capture.PutFrame(frame)
	}
}

func (o *Orchestrator) processFrame(frame *capture.Frame) {
	decision := o.engine.Analyze(frame.Pix(), frame.Stride, frame.Width, frame.Height)
	if decision.Skip {
		return
	}

	o.mu.Lock()
	pipeline := o.pipeline
	o.mu.Unlock()

	rect := image.Rect(0, 0, frame.Width, frame.Height)
	if len(decision.DirtyRects) > 0 {
		rect = decision.DirtyRects[0]
	}

	payload := frame.Pix()
	if decision.Codec.IsAVC() {
		encoded, err := o.encodeAVC(frame, decision.ForceKeyframe)
		if err != nil {
			o.log.Warn("avc encode failed", "error", err)
			return
		}
		payload = encoded
	}

	if pipeline != nil {
		if err := pipeline.WaitForCapacity(-1); err != nil {
			o.log.Debug("graphics pipeline unavailable, falling back to surface bits", "error", err)
		} else {
			if _, err := pipeline.SubmitFrame(rect, decision.Codec.String(), payload); err != nil {
				o.log.Warn("graphics pipeline submit failed", "error", err)
			}
			return
		}
	}

	if o.fallback != nil {
		if err := o.fallback.SendSurfaceBits(rect, decision.Codec.String(), payload); err != nil {
			o.log.Warn("surface bits send failed", "error", err)
		}
	}
}

// encodeAVC runs frame through the software H.264 encoder, creating it on
// first use. Resize discards the encoder, so the first AVC frame after a
// size change comes from a new instance and is always a keyframe.
func (o *Orchestrator) encodeAVC(frame *capture.Frame, forceKeyframe bool) ([]byte, error) {
	o.mu.Lock()
	enc := o.h264Enc
	if enc == nil {
		bitrate := o.cfg.H264BitrateBps
		if bitrate <= 0 {
			bitrate = 4_000_000
		}
		fps := o.cfg.H264FPS
		if fps <= 0 {
			fps = 30
		}
		var err error
		enc, err = h264.New(h264.Config{Width: frame.Width, Height: frame.Height, BitrateBps: bitrate, FPS: fps})
		if err != nil {
			o.mu.Unlock()
			return nil, err
		}
		o.h264Enc = enc
		forceKeyframe = true
	}
	o.mu.Unlock()

	return enc.Encode(frame.Pix(), frame.Stride, frame.Width, frame.Height, nil, forceKeyframe)
}

// Resize updates the session's surface geometry, forcing the next encoded
// frame to be a full refresh.
func (o *Orchestrator) Resize(width, height int) {
	o.mu.Lock()
	o.width, o.height = width, height
	if o.h264Enc != nil {
		o.h264Enc.Close()
		o.h264Enc = nil
	}
	o.mu.Unlock()
	o.engine.Resize(width, height)
}

// Disconnect stops all goroutines and invokes onClosed exactly once,
// regardless of how many times Disconnect is called or from how many
// goroutines.
func (o *Orchestrator) Disconnect() {
	o.closeOnce.Do(func() {
		o.alive.Store(false)
		o.mu.Lock()
		o.state = StateClosing
		cancel := o.cancel
		pipeline := o.pipeline
		group := o.group
		o.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if pipeline != nil {
			pipeline.Close()
		}
		if group != nil {
			_ = group.Wait()
		}

		o.mu.Lock()
		o.state = StateClosed
		if o.h264Enc != nil {
			o.h264Enc.Close()
			o.h264Enc = nil
		}
		o.mu.Unlock()

		if o.onClosed != nil {
			o.onClosed(o)
		}
	})
}

// IsAlive reports whether the session is still active.
func (o *Orchestrator) IsAlive() bool { return o.alive.Load() }

// State returns the session's current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Package rdpffi is the narrow interface boundary between rdpd's pure-Go
// domain logic (internal/session, internal/gfx, internal/encoding) and the
// RDP wire protocol, implemented by binding to FreeRDP's server API
// (freerdp/server/rdpgfx.h, freerdp/codec/{h264,progressive,rfx}.h) in
// rdpffi_linux.go. Callers never touch cgo types directly: platform and
// codec variation stays behind these interfaces.
package rdpffi

import (
	"context"
	"crypto/tls"
	"image"
	"time"
)

// Peer represents one connected RDP client for the lifetime of its session.
type Peer struct {
	// RemoteAddr is the client's network address, for logging.
	RemoteAddr string
	// ClientIsMstsc reports whether the client identified itself as the
	// Microsoft Terminal Services client, which some quirks (e.g. the
	// Surface Bits row-chunking fallback) are conditioned on.
	ClientIsMstsc bool
}

// CodecCaps records which codecs the connected peer advertised support for
// in its RDPGFX_CAPS_ADVERTISE_PDU.
type CodecCaps struct {
	RFX         bool
	Progressive bool
	AVC420      bool
	AVC444      bool
	AVC444v2    bool
}

// GraphicsContext is the Rdpgfx dynamic virtual channel handle for one
// peer. internal/gfx drives its lifecycle and frame submission through
// this interface.
type GraphicsContext interface {
	// Open negotiates channel creation and capability exchange. Returns
	// once the channel reaches CapsConfirmed or an error/timeout.
	Open() error
	// NegotiatedCaps returns the codec capabilities the client advertised
	// during Open. Valid only after Open returns successfully.
	NegotiatedCaps() CodecCaps
	// CreateSurface registers a surface of the given dimensions and returns
	// its server-assigned id.
	CreateSurface(width, height int) (surfaceID uint32, err error)
	// DeleteSurface releases a previously created surface.
	DeleteSurface(surfaceID uint32) error
	// StartFrame begins a graphics frame, returning a server-assigned frame
	// id used to correlate the matching client acknowledgement.
	StartFrame() (frameID uint32, err error)
	// SubmitSurfaceCommand sends one encoded region update for the given
	// surface within the current frame.
	SubmitSurfaceCommand(surfaceID uint32, rect image.Rectangle, codec string, payload []byte) error
	// EndFrame closes the frame started by StartFrame.
	EndFrame(frameID uint32) error
	// Close tears down the channel.
	Close() error
}

// SurfaceBitsSink is the non-Rdpgfx fallback transport (RDP's classic
// Surface Bits / bitmap update PDUs), used for clients that don't support
// the graphics pipeline dynamic virtual channel at all.
type SurfaceBitsSink interface {
	SendSurfaceBits(rect image.Rectangle, codec string, payload []byte) error
}

// H264Encoder wraps an AVC420/AVC444/AVC444v2 compressor.
type H264Encoder interface {
	Encode(pix []byte, stride, width, height int, dirty []image.Rectangle, keyframe bool) ([]byte, error)
	Close() error
}

// ProgressiveEncoder wraps a RemoteFX Progressive compressor.
type ProgressiveEncoder interface {
	Encode(pix []byte, stride, width, height int, dirty []image.Rectangle, keyframe bool) ([]byte, error)
	Close() error
}

// RFXEncoder wraps a classic RemoteFX compressor.
type RFXEncoder interface {
	Encode(pix []byte, stride, width, height int, dirty []image.Rectangle) ([]byte, error)
	Close() error
}

// FrameAck is a client frame-acknowledgement delivered asynchronously on
// the channel's event path. internal/gfx consumes these to drive admission
// control (outstanding_frames / max_outstanding_frames).
type FrameAck struct {
	FrameID uint32
	Queued  time.Duration // time the frame spent queued on the client before being displayed
}

// ListenerConfig configures the RDP TCP listener.
type ListenerConfig struct {
	// BindAddress is a "host:port" address, e.g. ":3389".
	BindAddress string
	// Cert is the X.509 certificate/key pair for the listener. The freerdp
	// listener writes it out as PEM files; it does not pass those files to
	// FreeRDP's peer settings.
	Cert tls.Certificate
}

// Listener accepts RDP peer connections and drives each one far enough
// through the protocol handshake (security exchange, capability exchange)
// to hand internal/session a ready-to-activate Peer and its channels.
type Listener interface {
	// Accept blocks until a peer connects and completes its handshake, or
	// ctx is canceled, or the listener is closed.
	//
	// gfxConn is either nil or a context whose Open fails when no Rdpgfx
	// dynamic virtual channel is bound for the peer (the freerdp listener
	// always returns an unbound context); callers must fall back to
	// fallback (Surface Bits) in that case.
	Accept(ctx context.Context) (peer Peer, gfxConn GraphicsContext, fallback SurfaceBitsSink, err error)
	// Close stops accepting new connections.
	Close() error
}

//go:build linux && freerdp

package rdpffi

/*
#cgo pkg-config: freerdp3 freerdp-server3 winpr3
#include <freerdp/listener.h>
#include <freerdp/server/rdpgfx.h>
#include <freerdp/codec/h264.h>
#include <freerdp/codec/progressive.h>
#include <freerdp/codec/rfx.h>
#include <freerdp/channels/channels.h>
#include <stdlib.h>
#include <string.h>

// goRdpgfxHandle bundles the bits the Go side needs to drive one peer's
// graphics channel without re-deriving them from RdpgfxServerContext on
// every call. gfx stays NULL until bindServerContext attaches a live
// RdpgfxServerContext; calls made before that return an error rather than
// a fabricated result.
typedef struct {
    RdpgfxServerContext* gfx;
    H264_CONTEXT*        h264;
    PROGRESSIVE_CONTEXT* progressive;
    RFX_CONTEXT*         rfx;
    UINT32               nextSurfaceID;
    UINT32               nextFrameID;
    UINT32               capFlags;
} goRdpgfxHandle;

static goRdpgfxHandle* rdpgfx_handle_new(void) {
    goRdpgfxHandle* h = calloc(1, sizeof(goRdpgfxHandle));
    return h;
}

static void rdpgfx_handle_free(goRdpgfxHandle* h) {
    if (h == NULL) {
        return;
    }
    if (h->h264 != NULL) {
        h264_context_free(h->h264);
    }
    if (h->progressive != NULL) {
        progressive_context_free(h->progressive);
    }
    if (h->rfx != NULL) {
        rfx_context_free(h->rfx);
    }
    free(h);
}

// The trampolines below call through RdpgfxServerContext's own
// function-pointer vtable; cgo cannot invoke a C function pointer field
// directly from Go, so each needs a small static wrapper.
static UINT go_rdpgfx_create_surface(RdpgfxServerContext* ctx, const RDPGFX_CREATE_SURFACE_PDU* pdu) {
    return ctx->CreateSurface(ctx, pdu);
}
static UINT go_rdpgfx_delete_surface(RdpgfxServerContext* ctx, const RDPGFX_DELETE_SURFACE_PDU* pdu) {
    return ctx->DeleteSurface(ctx, pdu);
}
static UINT go_rdpgfx_start_frame(RdpgfxServerContext* ctx, RDPGFX_START_FRAME_PDU* pdu) {
    return ctx->StartFrame(ctx, pdu);
}
static UINT go_rdpgfx_end_frame(RdpgfxServerContext* ctx, RDPGFX_END_FRAME_PDU* pdu) {
    return ctx->EndFrame(ctx, pdu);
}
static UINT go_rdpgfx_surface_command(RdpgfxServerContext* ctx, const RDPGFX_SURFACE_COMMAND* cmd) {
    return ctx->SurfaceCommand(ctx, cmd);
}
*/
import "C"

import (
	"fmt"
	"image"
	"sync"
	"unsafe"
)

// cgoGraphicsContext implements GraphicsContext against FreeRDP's
// RdpgfxServerContext: surface creation/deletion and the start-frame,
// surface-command, end-frame calls go through that context. The onAck
// callback given to NewGraphicsContext is stored but never invoked by this
// type.
type cgoGraphicsContext struct {
	mu     sync.Mutex
	handle *C.goRdpgfxHandle
	onAck  func(FrameAck)
	caps   CodecCaps
}

// NewGraphicsContext allocates the FreeRDP-backed codec contexts for one
// peer's graphics channel. The codec contexts are created eagerly since
// codec selection happens per frame, not per channel. The channel isn't
// usable for surface/frame calls until bindServerContext attaches a real
// RdpgfxServerContext. Nothing in this package calls bindServerContext: the
// contexts the listener's Accept returns stay unbound, so their Open fails.
func NewGraphicsContext(onAck func(FrameAck)) (GraphicsContext, error) {
	h := C.rdpgfx_handle_new()
	if h == nil {
		return nil, fmt.Errorf("rdpffi: failed to allocate graphics handle")
	}
	h.h264 = C.h264_context_new(C.TRUE)
	h.progressive = C.progressive_context_new(C.TRUE)
	h.rfx = C.rfx_context_new(C.TRUE)
	if h.h264 == nil || h.progressive == nil || h.rfx == nil {
		C.rdpgfx_handle_free(h)
		return nil, fmt.Errorf("rdpffi: failed to allocate codec context")
	}
	return &cgoGraphicsContext{handle: h, onAck: onAck}, nil
}

// bindServerContext attaches the live RdpgfxServerContext obtained from the
// peer's dynamic virtual channel handshake and records the codec caps bits
// the client advertised in its RDPGFX_CAPS_ADVERTISE_PDU.
func (c *cgoGraphicsContext) bindServerContext(ctx *C.RdpgfxServerContext, caps CodecCaps) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		c.handle.gfx = ctx
	}
	c.caps = caps
}

func (c *cgoGraphicsContext) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil || c.handle.gfx == nil {
		return fmt.Errorf("rdpffi: graphics channel not yet bound, caps advertise not received")
	}
	return nil
}

func (c *cgoGraphicsContext) NegotiatedCaps() CodecCaps {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

func (c *cgoGraphicsContext) CreateSurface(width, height int) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil || c.handle.gfx == nil {
		return 0, fmt.Errorf("rdpffi: graphics context closed or channel not bound")
	}

	c.handle.nextSurfaceID++
	id := c.handle.nextSurfaceID

	var pdu C.RDPGFX_CREATE_SURFACE_PDU
	pdu.surfaceId = C.UINT16(id)
	pdu.width = C.UINT16(width)
	pdu.height = C.UINT16(height)
	pdu.pixelFormat = C.GFX_PIXEL_FORMAT_XRGB_8888

	if rc := C.go_rdpgfx_create_surface(c.handle.gfx, &pdu); rc != C.CHANNEL_RC_OK {
		return 0, fmt.Errorf("rdpffi: CreateSurface failed: rc=%d", uint32(rc))
	}
	return uint32(id), nil
}

func (c *cgoGraphicsContext) DeleteSurface(surfaceID uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil || c.handle.gfx == nil {
		return fmt.Errorf("rdpffi: graphics context closed or channel not bound")
	}

	var pdu C.RDPGFX_DELETE_SURFACE_PDU
	pdu.surfaceId = C.UINT16(surfaceID)
	if rc := C.go_rdpgfx_delete_surface(c.handle.gfx, &pdu); rc != C.CHANNEL_RC_OK {
		return fmt.Errorf("rdpffi: DeleteSurface failed: rc=%d", uint32(rc))
	}
	return nil
}

func (c *cgoGraphicsContext) StartFrame() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil || c.handle.gfx == nil {
		return 0, fmt.Errorf("rdpffi: graphics context closed or channel not bound")
	}

	id := uint32(c.handle.nextFrameID)
	c.handle.nextFrameID++

	var pdu C.RDPGFX_START_FRAME_PDU
	pdu.frameId = C.UINT32(id)
	if rc := C.go_rdpgfx_start_frame(c.handle.gfx, &pdu); rc != C.CHANNEL_RC_OK {
		return 0, fmt.Errorf("rdpffi: StartFrame failed: rc=%d", uint32(rc))
	}
	return id, nil
}

func (c *cgoGraphicsContext) SubmitSurfaceCommand(surfaceID uint32, rect image.Rectangle, codec string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil || c.handle.gfx == nil {
		return fmt.Errorf("rdpffi: graphics context closed or channel not bound")
	}
	if len(payload) == 0 {
		return fmt.Errorf("rdpffi: empty surface command payload")
	}

	cData := C.CBytes(payload)
	defer C.free(unsafe.Pointer(cData))

	var cmd C.RDPGFX_SURFACE_COMMAND
	cmd.surfaceId = C.UINT16(surfaceID)
	cmd.left = C.UINT32(rect.Min.X)
	cmd.top = C.UINT32(rect.Min.Y)
	cmd.right = C.UINT32(rect.Max.X)
	cmd.bottom = C.UINT32(rect.Max.Y)
	cmd.width = C.UINT32(rect.Dx())
	cmd.height = C.UINT32(rect.Dy())
	cmd.length = C.UINT32(len(payload))
	cmd.data = (*C.BYTE)(cData)
	cmd.codecId = codecIDFor(codec)

	if rc := C.go_rdpgfx_surface_command(c.handle.gfx, &cmd); rc != C.CHANNEL_RC_OK {
		return fmt.Errorf("rdpffi: SurfaceCommand failed: rc=%d", uint32(rc))
	}
	return nil
}

func (c *cgoGraphicsContext) EndFrame(frameID uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil || c.handle.gfx == nil {
		return fmt.Errorf("rdpffi: graphics context closed or channel not bound")
	}

	var pdu C.RDPGFX_END_FRAME_PDU
	pdu.frameId = C.UINT32(frameID)
	if rc := C.go_rdpgfx_end_frame(c.handle.gfx, &pdu); rc != C.CHANNEL_RC_OK {
		return fmt.Errorf("rdpffi: EndFrame failed: rc=%d", uint32(rc))
	}
	return nil
}

func (c *cgoGraphicsContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return nil
	}
	C.rdpgfx_handle_free(c.handle)
	c.handle = nil
	return nil
}

// codecIDFor maps an encoding.Codec's wire name to the RDPGFX_CODECID
// constant FreeRDP's SurfaceCommand PDU expects.
func codecIDFor(codec string) C.UINT16 {
	switch codec {
	case "rfx":
		return C.RDPGFX_CODECID_REMOTEFX
	case "progressive":
		return C.RDPGFX_CODECID_CAPROGRESSIVE
	case "avc420":
		return C.RDPGFX_CODECID_AVC420
	case "avc444", "avc444v2":
		return C.RDPGFX_CODECID_AVC444
	default:
		return C.RDPGFX_CODECID_UNCOMPRESSED
	}
}

//go:build linux && freerdp

package rdpffi

/*
#cgo pkg-config: freerdp3 freerdp-server3 winpr3
#include <freerdp/freerdp.h>
#include <freerdp/listener.h>
#include <freerdp/server/rdpgfx.h>
#include <winpr/synch.h>
#include <stdlib.h>

// goPeerSlot is a single-slot handoff between the listener's PeerAccepted
// callback (invoked on FreeRDP's internal accept thread) and the Go-side
// Accept call: at most one peer waits in the slot at a time. cgoListener
// takes no lock around Accept; cmd/rdpd's serveRDPPeers calls it from a
// single goroutine.
typedef struct {
    freerdp_peer* peer;
} goPeerSlot;

static BOOL go_peer_accepted(freerdp_listener* instance, freerdp_peer* client) {
    goPeerSlot* slot = (goPeerSlot*)instance->param1;
    slot->peer = client;
    return TRUE;
}

static freerdp_listener* go_listener_new(void) {
    freerdp_listener* l = freerdp_listener_new();
    if (l != NULL) {
        l->PeerAccepted = go_peer_accepted;
    }
    return l;
}
*/
import "C"

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"image"
	"net"
	"os"
	"strconv"
	"sync"
	"unsafe"

	"github.com/lanternops/rdpd/internal/rdperr"
)

// cgoListener implements Listener against freerdp_listener. Accept is
// serialized: FreeRDP's listener dispatches one peer at a time to the
// PeerAccepted callback, and this wraps that push model in a blocking pull
// so internal/session's per-peer goroutines don't need to know about it.
type cgoListener struct {
	mu       sync.Mutex
	listener *C.freerdp_listener
	slot     *C.goPeerSlot
	cert     certFiles
}

// certFiles holds the listening certificate/key written to disk in PEM
// form, since FreeRDP's server API takes file paths rather than in-memory
// credentials.
type certFiles struct {
	certPath string
	keyPath  string
}

// NewListener starts a FreeRDP RDP listener bound to cfg.BindAddress.
func NewListener(cfg ListenerConfig) (Listener, error) {
	cert, err := writeCertFiles(cfg.Cert)
	if err != nil {
		return nil, fmt.Errorf("rdpffi: stage listener certificate: %w", err)
	}

	l := C.go_listener_new()
	if l == nil {
		return nil, fmt.Errorf("rdpffi: freerdp_listener_new failed")
	}

	slot := (*C.goPeerSlot)(C.calloc(1, C.sizeof_goPeerSlot))
	l.param1 = unsafe.Pointer(slot)

	addr, port := splitBindAddress(cfg.BindAddress)
	cAddr := C.CString(addr)
	defer C.free(unsafe.Pointer(cAddr))

	if C.int(0) == boolToC(l.Open(l, cAddr, C.UINT16(port))) {
		C.freerdp_listener_free(l)
		C.free(unsafe.Pointer(slot))
		return nil, fmt.Errorf("rdpffi: listener failed to bind %s", cfg.BindAddress)
	}

	return &cgoListener{listener: l, slot: slot, cert: cert}, nil
}

// Accept blocks until a client finishes its TCP/TLS/security handshake and
// becomes a ready freerdp_peer, polling the listener's file descriptor set
// the way FreeRDP's own server samples do.
//
// TODO: wire peer->Capabilities/peer->Activate and the Rdpgfx dynamic
// virtual channel handshake here once a from-scratch DVC negotiation
// helper exists; until then the returned GraphicsContext is unbound and
// callers fall back to Surface Bits.
func (l *cgoListener) Accept(ctx context.Context) (Peer, GraphicsContext, SurfaceBitsSink, error) {
	for {
		select {
		case <-ctx.Done():
			return Peer{}, nil, nil, ctx.Err()
		default:
		}

		if !cBoolToGo(l.listener.CheckFileDescriptor(l.listener)) {
			return Peer{}, nil, nil, fmt.Errorf("rdpffi: listener file descriptor check failed")
		}

		if l.slot.peer != nil {
			cPeer := l.slot.peer
			l.slot.peer = nil

			peer := Peer{RemoteAddr: peerRemoteAddr(cPeer)}
			gfxConn, err := NewGraphicsContext(nil)
			if err != nil {
				return Peer{}, nil, nil, err
			}
			sink := &cgoSurfaceBitsSink{peer: cPeer}
			return peer, gfxConn, sink, nil
		}
	}
}

func (l *cgoListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	l.listener.Close(l.listener)
	C.freerdp_listener_free(l.listener)
	if l.slot != nil {
		C.free(unsafe.Pointer(l.slot))
		l.slot = nil
	}
	l.listener = nil
	return nil
}

// cgoSurfaceBitsSink is the SurfaceBitsSink (the classic Surface Bits /
// bitmap update path) for one accepted freerdp_peer. SendSurfaceBits does
// not build or send a SURFACE_BITS_COMMAND; it reports rdperr.NotSupported.
type cgoSurfaceBitsSink struct {
	mu   sync.Mutex
	peer *C.freerdp_peer
}

func (s *cgoSurfaceBitsSink) SendSurfaceBits(rect image.Rectangle, codec string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == nil || len(payload) == 0 {
		return fmt.Errorf("rdpffi: surface bits sink closed or empty payload")
	}
	return rdperr.New(rdperr.NotSupported, "rdpffi: surface bits send is not implemented")
}

func peerRemoteAddr(p *C.freerdp_peer) string {
	if p == nil || p.hostname == nil {
		return "unknown"
	}
	return C.GoString(p.hostname)
}

func boolToC(b C.BOOL) C.int {
	if b != 0 {
		return 1
	}
	return 0
}

func cBoolToGo(b C.BOOL) bool {
	return b != 0
}

// writeCertFiles stages an in-memory certificate/key as PEM files, since
// FreeRDP's server listener API takes file paths rather than accepting a
// crypto/tls.Certificate directly.
func writeCertFiles(cert tls.Certificate) (certFiles, error) {
	if len(cert.Certificate) == 0 {
		return certFiles{}, fmt.Errorf("rdpffi: listener certificate has no leaf")
	}

	dir, err := os.MkdirTemp("", "rdpd-listener-cert-")
	if err != nil {
		return certFiles{}, err
	}

	certPath := dir + "/cert.pem"
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		return certFiles{}, err
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		return certFiles{}, fmt.Errorf("rdpffi: marshal listener private key: %w", err)
	}
	keyPath := dir + "/key.pem"
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return certFiles{}, err
	}

	return certFiles{certPath: certPath, keyPath: keyPath}, nil
}

// splitBindAddress parses a "host:port" listen address into the parts
// freerdp_listener's Open expects separately.
func splitBindAddress(addr string) (string, uint16) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 3389
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return host, 3389
	}
	return host, uint16(port)
}

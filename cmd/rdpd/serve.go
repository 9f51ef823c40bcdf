package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lanternops/rdpd/internal/capture"
	"github.com/lanternops/rdpd/internal/config"
	"github.com/lanternops/rdpd/internal/dispatch"
	"github.com/lanternops/rdpd/internal/encoding"
	"github.com/lanternops/rdpd/internal/rdpffi"
	"github.com/lanternops/rdpd/internal/runtime"
	"github.com/lanternops/rdpd/internal/session"
)

// daemon wires the capture, encoding, RDP listener, and control-plane
// components together and blocks serving the control socket. The RDP
// listener only accepts connections when this binary was built with the
// cgo "freerdp" build tag (see internal/rdpffi); without it, daemon still
// runs capture and the control plane so it stays testable on any platform.
// Encoding runs only inside sessions, so such a build encodes nothing.
func daemon(cfg config.Config, log *slog.Logger) error {
	queue := capture.New()
	defer queue.Close()

	capturer, err := capture.NewX11Capturer(capture.Config{DisplayIndex: cfg.Display.Index}, queue)
	if err != nil {
		return fmt.Errorf("serve: open capturer: %w", err)
	}
	defer capturer.Close()

	go capturer.Run()

	width, height := capturer.Bounds()
	encCfg := encoding.DefaultConfig()
	if cfg.Encoding.LargeChangeThreshold > 0 {
		encCfg.LargeChangeThreshold = cfg.Encoding.LargeChangeThreshold
	}
	if cfg.Encoding.RefreshIntervalFrames > 0 {
		encCfg.RefreshInterval = cfg.Encoding.RefreshIntervalFrames
	}
	if cfg.Encoding.RefreshTimeout > 0 {
		encCfg.RefreshTimeout = cfg.Encoding.RefreshTimeout
	}
	encCfg.Mode = parseMode(cfg.Encoding.Mode)
	log.Info("capture started", "width", width, "height", height, "mode", encCfg.Mode)

	metrics := &runtime.Metrics{}
	go logMetricsPeriodically(log, metrics)

	listenCtx, cancelListen := context.WithCancel(context.Background())
	defer cancelListen()

	sessCfg := session.Config{Encoding: encCfg}
	go serveRDPPeers(listenCtx, log, queue, width, height, sessCfg, cfg)

	handler := func(op string, payload []byte) ([]byte, error) {
		switch op {
		case "status":
			return json.Marshal(metrics.Snapshot())
		default:
			return nil, fmt.Errorf("unknown control op %q", op)
		}
	}

	srv, err := dispatch.Listen(dispatch.Config{SocketPath: cfg.Dispatch.SocketPath}, handler)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info("control socket listening", "path", cfg.Dispatch.SocketPath)
	return srv.Serve()
}

// serveRDPPeers accepts RDP peer connections and drives one
// session.Orchestrator per peer, sharing the single capture.Queue and
// encoding policy across every connected client. If the binary wasn't
// built with freerdp support, rdpffi.NewListener returns an error and this
// logs once and returns, leaving the rest of the daemon running.
func serveRDPPeers(ctx context.Context, log *slog.Logger, queue *capture.Queue, width, height int, sessCfg session.Config, cfg config.Config) {
	lcfg := rdpffi.ListenerConfig{BindAddress: cfg.Listen.Address}
	if cfg.Listen.TLSCert != "" && cfg.Listen.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Listen.TLSCert, cfg.Listen.TLSKey)
		if err != nil {
			log.Error("RDP listener disabled: load TLS credentials", "error", err)
			return
		}
		lcfg.Cert = cert
	}

	listener, err := rdpffi.NewListener(lcfg)
	if err != nil {
		log.Warn("RDP listener unavailable, running capture/control-plane only", "error", err)
		return
	}
	defer listener.Close()
	log.Info("RDP listener started", "address", cfg.Listen.Address)

	for {
		peer, gfxConn, fallback, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("RDP accept failed", "error", err)
			continue
		}
		go runPeerSession(ctx, log, queue, width, height, sessCfg, peer, gfxConn, fallback)
	}
}

func runPeerSession(ctx context.Context, log *slog.Logger, queue *capture.Queue, width, height int, sessCfg session.Config, peer rdpffi.Peer, gfxConn rdpffi.GraphicsContext, fallback rdpffi.SurfaceBitsSink) {
	sess := session.New(peer, queue, width, height, sessCfg, fallback, func(*session.Orchestrator) {
		log.Info("session closed", "peer", peer.RemoteAddr)
	})

	if gfxConn != nil {
		if err := sess.EnableGraphics(gfxConn); err != nil {
			log.Warn("graphics pipeline setup failed, using surface bits fallback", "peer", peer.RemoteAddr, "error", err)
		}
	}

	if err := sess.Activate(ctx); err != nil {
		log.Warn("session activate failed", "peer", peer.RemoteAddr, "error", err)
		return
	}
	log.Info("session activated", "peer", peer.RemoteAddr)
}

func parseMode(s string) encoding.Mode {
	switch s {
	case "force-rfx":
		return encoding.ModeForceRFX
	case "force-progressive":
		return encoding.ModeForceProgressive
	case "force-avc":
		return encoding.ModeForceAVC
	default:
		return encoding.ModeAuto
	}
}

func logMetricsPeriodically(log *slog.Logger, m *runtime.Metrics) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.LogLine(log)
	}
}

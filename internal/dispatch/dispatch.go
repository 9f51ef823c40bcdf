// Package dispatch implements rdpd's system control surface: a
// Unix-domain socket on Linux, a named pipe on Windows, carrying
// length-framed request/response messages so both platforms share a
// single wire format and handler implementation.
package dispatch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/net/netutil"
)

// maxMessageSize bounds a single control message, preventing a misbehaving
// or malicious local client from forcing an unbounded allocation.
const maxMessageSize = 1 << 20

// Handler processes one decoded control request and returns the response
// payload to frame back to the caller.
type Handler func(op string, payload []byte) ([]byte, error)

// Server listens on a Unix domain socket (or a Windows named pipe, via
// go-winio, when built for that platform) and dispatches framed
// request/response messages to a Handler.
type Server struct {
	log        *slog.Logger
	listener   net.Listener
	handler    Handler
	maxClients int

	mu      sync.Mutex
	closed  bool
}

// Config bounds the dispatcher's listener.
type Config struct {
	SocketPath string
	// MaxClients caps concurrent control connections; the system dispatcher
	// is a low-traffic local control surface, so a small cap is generous.
	MaxClients int
}

// Listen creates the dispatcher's listener and wraps it with a connection
// limiter.
func Listen(cfg Config, handler Handler) (*Server, error) {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 8
	}

	ln, err := newListener(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("dispatch: listen %s: %w", cfg.SocketPath, err)
	}
	ln = netutil.LimitListener(ln, cfg.MaxClients)

	return &Server{
		log:        slog.With("component", "dispatch"),
		listener:   ln,
		handler:    handler,
		maxClients: cfg.MaxClients,
	}, nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		op, payload, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				s.log.Debug("control connection read error", "error", err)
			}
			return
		}

		resp, err := s.handler(op, payload)
		if err != nil {
			resp = []byte(err.Error())
			if werr := writeFrame(conn, "error", resp); werr != nil {
				return
			}
			continue
		}
		if err := writeFrame(conn, "ok", resp); err != nil {
			return
		}
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.listener.Close()
}

// frame wire format: 1-byte op-length, op bytes, 4-byte big-endian
// payload-length, payload bytes. Modeled on go-winio's own
// message-boundary framing for named pipes so the same decode logic works
// whether the transport is a Unix socket or (on Windows) a winio pipe.
func writeFrame(w io.Writer, op string, payload []byte) error {
	if len(op) > 255 {
		return errors.New("dispatch: op name too long")
	}
	if len(payload) > maxMessageSize {
		return errors.New("dispatch: payload too large")
	}
	buf := make([]byte, 1+len(op)+4+len(payload))
	buf[0] = byte(len(op))
	copy(buf[1:], op)
	binary.BigEndian.PutUint32(buf[1+len(op):], uint32(len(payload)))
	copy(buf[1+len(op)+4:], payload)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (op string, payload []byte, err error) {
	var opLen [1]byte
	if _, err = io.ReadFull(r, opLen[:]); err != nil {
		return "", nil, err
	}
	opBuf := make([]byte, opLen[0])
	if _, err = io.ReadFull(r, opBuf); err != nil {
		return "", nil, err
	}
	var lenBuf [4]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return "", nil, err
	}
	payloadLen := binary.BigEndian.Uint32(lenBuf[:])
	if payloadLen > maxMessageSize {
		return "", nil, fmt.Errorf("dispatch: payload too large: %d", payloadLen)
	}
	payload = make([]byte, payloadLen)
	if _, err = io.ReadFull(r, payload); err != nil {
		return "", nil, err
	}
	return string(opBuf), payload, nil
}

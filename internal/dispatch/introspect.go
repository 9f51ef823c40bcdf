package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

// StatusProvider supplies the JSON payload served by the introspection
// endpoint and pushed to subscribed websocket clients.
type StatusProvider func() any

// IntrospectServer exposes a read-only HTTP+websocket view of the
// dispatcher's status, intended for local operator tooling rather than
// remote management. It is deliberately separate from the control socket
// so a misbehaving introspection client can never issue control commands.
type IntrospectServer struct {
	status   StatusProvider
	upgrader websocket.Upgrader
}

// NewIntrospectServer creates a server that reports status via provider.
func NewIntrospectServer(provider StatusProvider) *IntrospectServer {
	return &IntrospectServer{
		status: provider,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The introspection socket only ever serves localhost tooling,
			// so origin checking is not meaningful the way it would be for
			// a browser-facing endpoint.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles both a plain GET (single JSON snapshot) and a websocket
// upgrade (repeated snapshots, one per client-initiated ping).
func (s *IntrospectServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.serveWS(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.status())
}

func (s *IntrospectServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if err := conn.WriteJSON(s.status()); err != nil {
			return
		}
	}
}

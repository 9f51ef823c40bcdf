package session

import (
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/lanternops/rdpd/internal/tlscred"
)

// RedirectionTarget describes a server redirection (load-balancing)
// request: the fields that populate LB_LOAD_BALANCE_INFO,
// LB_TARGET_NET_ADDRESS, and related redirection PDU fields.
type RedirectionTarget struct {
	NetAddress string
	Username   string
	Domain     string
	// Certificate, when non-nil, is embedded as LB_TARGET_CERTIFICATE so the
	// client can validate the redirected server without a fresh TLS prompt.
	Certificate *tlscred.Container
}

// RedirectionGUID generates a fresh LB_REDIRECTION_GUID value. A new GUID is
// required per redirection attempt so the target server can correlate the
// handoff without reusing a stale identifier.
func RedirectionGUID() [16]byte {
	id := uuid.New()
	var out [16]byte
	copy(out[:], id[:])
	return out
}

// utf16le encodes s as a NUL-terminated UTF-16LE byte string, the encoding
// RDP's redirection PDU fields (LB_USERNAME, LB_PASSWORD, LB_DOMAIN) use on
// the wire.
func utf16le(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2+2)
	for _, u := range units {
		out = append(out, byte(u), byte(u>>8))
	}
	return append(out, 0, 0)
}

// BuildRedirectionPDUFields renders the wire-ready byte strings for a
// redirection target: username, domain, and a fresh GUID, in the order
// the server redirection PDU assembles them.
func BuildRedirectionPDUFields(target RedirectionTarget) (username, domain []byte, guid [16]byte) {
	return utf16le(target.Username), utf16le(target.Domain), RedirectionGUID()
}

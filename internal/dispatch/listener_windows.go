//go:build windows

package dispatch

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// newListener opens the control surface as a Windows named pipe using
// go-winio, giving the same framed request/response protocol as the Unix
// socket transport without changing dispatch.go's wire format.
func newListener(path string) (net.Listener, error) {
	return winio.ListenPipe(path, nil)
}

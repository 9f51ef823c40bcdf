//go:build !(linux && freerdp)

package rdpffi

import "fmt"

// NewListener reports that this binary was built without the "freerdp"
// cgo tag, so no RDP listener implementation is linked in. Builds without
// FreeRDP still run capture and the control plane; they just can't accept
// RDP peer connections, so no session runs and nothing is encoded.
func NewListener(cfg ListenerConfig) (Listener, error) {
	return nil, fmt.Errorf("rdpffi: built without freerdp support, no RDP listener available")
}

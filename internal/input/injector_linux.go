//go:build linux

package input

/*
#cgo CFLAGS: -I/usr/include
#cgo LDFLAGS: -lX11 -lXtst

#include <X11/Xlib.h>
#include <X11/Xutil.h>
#include <X11/extensions/XTest.h>
#include <X11/keysym.h>
#include <stdlib.h>

#include <freerdp/locale/keyboard.h>
#include <freerdp/scancode.h>

static Display* x11_input_open(void) {
    return XOpenDisplay(NULL);
}

static KeyCode x11_keycode_from_rdp_scancode(unsigned char scancode, int extended) {
    return (KeyCode) freerdp_keyboard_get_x11_keycode_from_scancode((BYTE) scancode, extended ? TRUE : FALSE);
}

static void x11_input_close(Display* d) {
    if (d != NULL) {
        XCloseDisplay(d);
    }
}

static KeyCode x11_keysym_to_keycode(Display* d, KeySym ks) {
    return XKeysymToKeycode(d, ks);
}

static void x11_fake_key(Display* d, KeyCode kc, int press) {
    XTestFakeKeyEvent(d, kc, press ? True : False, CurrentTime);
    XFlush(d);
}

static void x11_fake_motion(Display* d, int x, int y) {
    XTestFakeMotionEvent(d, -1, x, y, CurrentTime);
    XFlush(d);
}

static void x11_fake_button(Display* d, unsigned int button, int press) {
    XTestFakeButtonEvent(d, button, press ? True : False, CurrentTime);
    XFlush(d);
}
*/
import "C"

import (
	"fmt"
	"sync"
)

// keycodeCacheSize is a 512-entry direct-mapped cache indexed by
// scancode + (extended ? 256 : 0): the low 256 slots cover non-extended RDP
// scancodes, the high 256 cover their extended counterparts (the two share
// the same scancode byte but mean different physical keys, e.g. the main
// Enter key versus the numpad Enter key).
const keycodeCacheSize = 512

// modifierScancode identifies the base (non-extended) RDP scancode for a
// modifier key whose left/right variant is disambiguated only by the
// extended flag, not by a distinct scancode.
type modifierScancode byte

const (
	scancodeLControl modifierScancode = 0x1D
	scancodeLShift   modifierScancode = 0x2A
	scancodeLMenu    modifierScancode = 0x38
	scancodeLWin     modifierScancode = 0x5B
)

// modifierKeysym maps a modifier's base scancode and extended flag to the
// X11 keysym for the correct left/right variant. RDP's left and right
// Ctrl/Alt/Shift/Win keys share a scancode; the extended flag is the only
// signal distinguishing them, so this table is consulted before the
// general FreeRDP scancode table, which is keyboard-layout-driven and not
// guaranteed to preserve the left/right distinction consistently.
func modifierKeysym(scancode modifierScancode, extended bool) (C.KeySym, bool) {
	switch scancode {
	case scancodeLMenu:
		if extended {
			return C.XK_Alt_R, true
		}
		return C.XK_Alt_L, true
	case scancodeLControl:
		if extended {
			return C.XK_Control_R, true
		}
		return C.XK_Control_L, true
	case scancodeLShift:
		if extended {
			return C.XK_Shift_R, true
		}
		return C.XK_Shift_L, true
	case scancodeLWin:
		if extended {
			return C.XK_Super_R, true
		}
		return C.XK_Super_L, true
	default:
		return 0, false
	}
}

// buttonMap translates the RDP wire button identifiers to X11 button
// numbers. Deliberately non-identity: RDP's BUTTON2 is the right button and
// BUTTON3 the middle one, but X11 numbers the middle button 2 and the right
// button 3, so BUTTON2 and BUTTON3 swap relative to a naive 1:1 mapping.
var buttonMap = map[int]C.uint{
	ButtonLeft:   1,
	ButtonRight:  3,
	ButtonMiddle: 2,
}

const (
	ButtonLeft = iota
	ButtonRight
	ButtonMiddle
)

// Injector drives synthetic keyboard and pointer input via the XTest
// extension.
type Injector struct {
	mu      sync.Mutex
	display *C.Display

	keycodeCache [keycodeCacheSize]C.KeyCode
	cacheValid   [keycodeCacheSize]bool

	// clientW/clientH are the resolution the remote client believes the
	// desktop to be; serverW/serverH are X11's actual resolution. Pointer
	// coordinates arrive in client space and must be rescaled before
	// injection whenever the two differ (e.g. after a client resize
	// negotiation that the server hasn't matched yet).
	clientW, clientH int
	serverW, serverH int
}

// New opens the X11 display used for input injection.
func New() (*Injector, error) {
	d := C.x11_input_open()
	if d == nil {
		return nil, fmt.Errorf("input: failed to open X11 display (is DISPLAY set?)")
	}
	inj := &Injector{display: d}
	for i := range inj.cacheValid {
		inj.cacheValid[i] = false
	}
	return inj, nil
}

// RefreshPointerScale installs the client and server resolutions used by
// InjectPointer to rescale coordinates.
func (inj *Injector) RefreshPointerScale(clientW, clientH, serverW, serverH int) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.clientW, inj.clientH = clientW, clientH
	inj.serverW, inj.serverH = serverW, serverH
}

func (inj *Injector) scalePoint(x, y int) (int, int) {
	return rescalePoint(x, y, inj.clientW, inj.clientH, inj.serverW, inj.serverH)
}

// resolveScancode maps an RDP base scancode + extended flag to an X11
// keycode, consulting (and populating) the cache keyed by
// scancode+(extended?256:0). Modifier scancodes are resolved via the
// left/right keysym table first; everything else goes through FreeRDP's
// scancode table.
func (inj *Injector) resolveScancode(scancode byte, extended bool) C.KeyCode {
	idx := int(scancode)
	if extended {
		idx += 256
	}

	if inj.cacheValid[idx] {
		return inj.keycodeCache[idx]
	}

	var kc C.KeyCode
	if ks, ok := modifierKeysym(modifierScancode(scancode), extended); ok {
		kc = C.x11_keysym_to_keycode(inj.display, ks)
	}
	if kc == 0 {
		kc = C.x11_keycode_from_rdp_scancode(C.uchar(scancode), boolToCInt(extended))
	}

	inj.keycodeCache[idx] = kc
	inj.cacheValid[idx] = true
	return kc
}

func boolToCInt(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

// InjectKeyboard presses or releases the key at the given RDP base scancode.
// extended distinguishes keys that share a scancode with another key (the
// numpad Enter/Ctrl/etc. versus their main-block counterparts, and the
// right-hand modifier keys versus their left-hand counterparts).
func (inj *Injector) InjectKeyboard(scancode byte, extended bool, pressed bool) error {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	kc := inj.resolveScancode(scancode, extended)
	if kc == 0 {
		return fmt.Errorf("input: no keycode for scancode 0x%02x (extended=%v)", scancode, extended)
	}

	press := 0
	if pressed {
		press = 1
	}
	C.x11_fake_key(inj.display, kc, C.int(press))
	return nil
}

// keysymFromCodepoint maps a Unicode codepoint to an X11 keysym, using the
// ICCCM Unicode-to-keysym convention (0x01000000 + codepoint) for
// codepoints outside Latin-1, and a direct pass-through for Latin-1 itself.
func keysymFromCodepoint(r rune) C.KeySym {
	if r <= 0xFF {
		return C.KeySym(r)
	}
	return C.KeySym(0x01000000 + uint32(r))
}

// InjectUnicode synthesizes a full press+release for a Unicode codepoint
// that has no direct RDP scancode (e.g. input method composition output).
func (inj *Injector) InjectUnicode(r rune) error {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	ks := keysymFromCodepoint(r)
	kc := C.x11_keysym_to_keycode(inj.display, ks)
	if kc == 0 {
		return fmt.Errorf("input: no keycode for codepoint U+%04X", r)
	}

	C.x11_fake_key(inj.display, kc, C.int(1))
	C.x11_fake_key(inj.display, kc, C.int(0))
	return nil
}

// InjectPointer moves the pointer to (x, y) in client coordinate space,
// rescaling to server resolution first, and optionally presses/releases a
// button at that position.
func (inj *Injector) InjectPointer(x, y int, button int, pressed bool, hasButton bool) error {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	sx, sy := inj.scalePoint(x, y)
	C.x11_fake_motion(inj.display, C.int(sx), C.int(sy))

	if !hasButton {
		return nil
	}
	xButton, ok := buttonMap[button]
	if !ok {
		return fmt.Errorf("input: unknown button %d", button)
	}
	press := 0
	if pressed {
		press = 1
	}
	C.x11_fake_button(inj.display, xButton, C.int(press))
	return nil
}

// Close releases the X11 display.
func (inj *Injector) Close() error {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if inj.display != nil {
		C.x11_input_close(inj.display)
		inj.display = nil
	}
	return nil
}

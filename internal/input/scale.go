package input

// rescalePoint maps a pointer coordinate from client space (clientW ×
// clientH) into server space (serverW × serverH). When the client resolution
// is unknown, the coordinate passes through unchanged. When the server
// resolution is unknown or the two already match, it passes through after
// clamping, the common case once the server matches the client's negotiated
// desktop size.
//
// x/y are clamped to the client's coordinate space first, since a
// misbehaving or stale client can report a position past the edge of its
// own declared resolution. The scale itself rounds to nearest rather than
// truncating, and the scaled result is clamped again to the server's
// coordinate space: round-to-nearest can otherwise push the bottom/right
// edge of the client space just past the bottom/right edge of the server
// space.
func rescalePoint(x, y, clientW, clientH, serverW, serverH int) (int, int) {
	if clientW <= 0 || clientH <= 0 {
		return x, y
	}

	maxClientX := clientW - 1
	maxClientY := clientH - 1
	if x > maxClientX {
		x = maxClientX
	}
	if x < 0 {
		x = 0
	}
	if y > maxClientY {
		y = maxClientY
	}
	if y < 0 {
		y = 0
	}

	if serverW <= 0 || serverH <= 0 || (clientW == serverW && clientH == serverH) {
		return x, y
	}

	scaleX := float64(serverW) / float64(clientW)
	scaleY := float64(serverH) / float64(clientH)

	targetX := x
	if clientW != serverW {
		targetX = int(float64(x)*scaleX + 0.5)
		if targetX >= serverW {
			targetX = serverW - 1
		}
	}
	targetY := y
	if clientH != serverH {
		targetY = int(float64(y)*scaleY + 0.5)
		if targetY >= serverH {
			targetY = serverH - 1
		}
	}
	return targetX, targetY
}

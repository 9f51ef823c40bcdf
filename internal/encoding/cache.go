package encoding

import "github.com/cespare/xxhash/v2"

// PreviousFrameCache retains the last analyzed frame's pixels for the
// tile-level memcmp confirmation in TileHashTable.Analyze, plus a
// whole-frame xxhash checksum used as a cheap fast-reject before bothering
// with per-tile hashing at all: an unchanged desktop (the common case in a
// steady-state RDP session) is rejected in one pass over the buffer instead
// of tilesX*tilesY separate hash computations.
type PreviousFrameCache struct {
	pix    []byte
	stride int
	width  int
	height int

	hasChecksum bool
	checksum    uint64
}

// NewPreviousFrameCache returns an empty cache.
func NewPreviousFrameCache() *PreviousFrameCache {
	return &PreviousFrameCache{}
}

// Matches reports whether the cache holds a frame with the given geometry.
func (c *PreviousFrameCache) Matches(width, height int) bool {
	return c.pix != nil && c.width == width && c.height == height
}

// FastRejectUnchanged reports whether pix's whole-frame checksum matches the
// cached frame's checksum. A true result means the frame is very likely
// identical to the previous one; callers should still fall back to the
// per-tile path when this returns false.
func (c *PreviousFrameCache) FastRejectUnchanged(pix []byte, width, height int) bool {
	if !c.Matches(width, height) || !c.hasChecksum {
		return false
	}
	return xxhash.Sum64(pix) == c.checksum
}

// Store copies pix into the cache as the new "previous frame", replacing
// whatever was held before. Called once per analyzed frame after dirty-tile
// detection, so the next frame's Analyze has something to compare against.
func (c *PreviousFrameCache) Store(pix []byte, stride, width, height int) {
	if len(c.pix) != len(pix) {
		c.pix = make([]byte, len(pix))
	}
	copy(c.pix, pix)
	c.stride = stride
	c.width = width
	c.height = height
	c.checksum = xxhash.Sum64(pix)
	c.hasChecksum = true
}

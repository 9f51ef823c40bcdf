package encoding

import "image"

// TileSize is the fixed tile edge length used for dirty-region tracking.
const TileSize = 64

// TileHashTable holds one content fingerprint per tile of the most
// recently analyzed frame. tilesX/tilesY use ceil-division so a display
// whose dimensions aren't multiples of TileSize still gets full coverage
// via a partial edge tile.
type TileHashTable struct {
	width, height int
	tilesX, tilesY int
	hashes         []uint64
}

// NewTileHashTable allocates a zeroed table sized for a width×height frame.
func NewTileHashTable(width, height int) *TileHashTable {
	tx := (width + TileSize - 1) / TileSize
	ty := (height + TileSize - 1) / TileSize
	return &TileHashTable{
		width: width, height: height,
		tilesX: tx, tilesY: ty,
		hashes: make([]uint64, tx*ty),
	}
}

func (t *TileHashTable) index(tx, ty int) int { return ty*t.tilesX + tx }

// tileRect returns the pixel-space rectangle for tile (tx, ty), clipped to
// the frame's actual dimensions for edge tiles.
func (t *TileHashTable) tileRect(tx, ty int) image.Rectangle {
	x0 := tx * TileSize
	y0 := ty * TileSize
	x1 := min(x0+TileSize, t.width)
	y1 := min(y0+TileSize, t.height)
	return image.Rect(x0, y0, x1, y1)
}

// AnalyzeResult is the outcome of comparing one frame against the previous
// one: which tiles changed, and whether the change is large enough to
// influence codec selection (SPEC_FULL §4.3 auto-selection policy).
type AnalyzeResult struct {
	DirtyRects          []image.Rectangle
	DirtyTileCount      int
	TotalTileCount      int
	LargeChangeFraction float64
	ForceDirty          bool // first frame, or geometry changed: everything is dirty
}

// Analyze compares pix (stride bytes/row, 4 bytes/pixel) against the table's
// stored hashes and cache's stored previous frame, updating the stored hashes
// in place and returning the dirty-tile analysis. cache is only read; the
// caller stores the new frame into it afterwards. cache may be nil, in which
// case every tile is reported dirty.
func (t *TileHashTable) Analyze(pix []byte, stride int, cache *PreviousFrameCache) AnalyzeResult {
	result := AnalyzeResult{TotalTileCount: t.tilesX * t.tilesY}

	forceDirty := cache == nil || !cache.Matches(t.width, t.height)
	result.ForceDirty = forceDirty

	prevPix := []byte(nil)
	prevStride := 0
	if cache != nil {
		prevPix, prevStride = cache.pix, cache.stride
	}

	for ty := 0; ty < t.tilesY; ty++ {
		for tx := 0; tx < t.tilesX; tx++ {
			rect := t.tileRect(tx, ty)
			idx := t.index(tx, ty)
			h := hashTile(pix, stride, rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy())

			dirty := forceDirty
			if !dirty {
				if h != t.hashes[idx] {
					dirty = true
				} else if prevPix != nil {
					// Hash matched: confirm with a byte compare so a hash
					// collision can never make a truly changed tile look
					// unchanged.
					dirty = !tileEqual(pix, stride, prevPix, prevStride, rect)
				}
			}

			t.hashes[idx] = h
			if dirty {
				result.DirtyRects = append(result.DirtyRects, rect)
				result.DirtyTileCount++
			}
		}
	}

	if result.TotalTileCount > 0 {
		result.LargeChangeFraction = float64(result.DirtyTileCount) / float64(result.TotalTileCount)
	}
	return result
}

func tileEqual(a []byte, aStride int, b []byte, bStride int, rect image.Rectangle) bool {
	rowBytes := rect.Dx() * 4
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		aOff := y*aStride + rect.Min.X*4
		bOff := y*bStride + rect.Min.X*4
		if aOff+rowBytes > len(a) || bOff+rowBytes > len(b) {
			return false
		}
		if string(a[aOff:aOff+rowBytes]) != string(b[bOff:bOff+rowBytes]) {
			return false
		}
	}
	return true
}

// CollectRegion merges a set of dirty tile rectangles into the minimal
// bounding rectangles suitable for an RFX_RECT/REGION16-style wire update.
// Adjacent tiles on the same row are coalesced; this keeps the update count
// proportional to distinct changed areas rather than tile count.
func CollectRegion(rects []image.Rectangle) []image.Rectangle {
	if len(rects) == 0 {
		return nil
	}
	merged := make([]image.Rectangle, 0, len(rects))
	used := make([]bool, len(rects))
	for i, r := range rects {
		if used[i] {
			continue
		}
		cur := r
		for {
			extended := false
			for j, o := range rects {
				if used[j] || j == i {
					continue
				}
				if cur.Min.Y == o.Min.Y && cur.Max.Y == o.Max.Y && cur.Max.X == o.Min.X {
					cur.Max.X = o.Max.X
					used[j] = true
					extended = true
				}
			}
			if !extended {
				break
			}
		}
		merged = append(merged, cur)
	}
	return merged
}

package encoding

// Per-tile content fingerprint: a finalizer-style chunk scramble folded
// over each row's 16/8/tail byte groups, chosen for fast avalanche
// behavior on small pixel-block changes without pulling in a general
// hashing package for this fixed, always-64-bit use.
const (
	hashSeed = uint64(0xcbf29ce484222325)
	hashMul1 = uint64(0xbf58476d1ce4e5b9)
	hashMul2 = uint64(0x94d049bb133111eb)
	hashMul3 = uint64(0x9e3779b185ebca87)
	hashRotl = 29
)

func rotl64(x uint64, r uint) uint64 {
	return (x << r) | (x >> (64 - r))
}

// mixChunk folds one 64-bit chunk of tile data into hash.
func mixChunk(hash, chunk uint64) uint64 {
	chunk ^= chunk >> 30
	chunk *= hashMul1
	chunk ^= chunk >> 27
	chunk *= hashMul2
	chunk ^= chunk >> 31

	hash ^= chunk
	hash = rotl64(hash, hashRotl)
	hash *= hashMul3
	return hash
}

// hashTile fingerprints a w×h pixel block (4 bytes/pixel) starting at
// (x0, y0) within a stride-bytes-per-row buffer. Each row is consumed as
// 16-byte pairs, then trailing 8-byte chunks, then a zero-padded tail chunk
// with its byte length folded into the top byte before mixing.
func hashTile(pix []byte, stride, x0, y0, w, h int) uint64 {
	hash := hashSeed
	rowBytes := w * 4

	for y := 0; y < h; y++ {
		rowStart := (y0+y)*stride + x0*4
		row := pix[rowStart : rowStart+rowBytes]
		remaining := len(row)
		off := 0

		for remaining >= 16 {
			lo := le64(row[off : off+8])
			hi := le64(row[off+8 : off+16])
			hash = mixChunk(hash, lo)
			hash = mixChunk(hash, hi)
			off += 16
			remaining -= 16
		}

		for remaining >= 8 {
			hash = mixChunk(hash, le64(row[off:off+8]))
			off += 8
			remaining -= 8
		}

		if remaining > 0 {
			var tailBuf [8]byte
			copy(tailBuf[:], row[off:off+remaining])
			tail := le64(tailBuf[:])
			tail ^= uint64(remaining) << 56
			hash = mixChunk(hash, tail)
		}
	}

	return hash
}

func le64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

// Package encoding implements dirty-tile analysis and codec auto-selection
// for the RDP graphics pipeline: it decides, for each captured frame,
// whether the previous frame's content can be reused and which wire codec
// (AVC444/AVC444v2/AVC420/RemoteFX Progressive/RemoteFX) should carry the
// update.
package encoding

import (
	"image"
	"sync"
	"time"
)

// Codec identifies a wire encoding for a graphics update. Kept as a small
// tagged-variant enum rather than an open string, since the set of valid
// values is closed and every caller needs exhaustive handling.
type Codec int

const (
	CodecRFX Codec = iota
	CodecProgressive
	CodecAVC420
	CodecAVC444
	CodecAVC444v2
)

func (c Codec) String() string {
	switch c {
	case CodecRFX:
		return "rfx"
	case CodecProgressive:
		return "progressive"
	case CodecAVC420:
		return "avc420"
	case CodecAVC444:
		return "avc444"
	case CodecAVC444v2:
		return "avc444v2"
	default:
		return "unknown"
	}
}

func (c Codec) isAVC() bool {
	return c == CodecAVC420 || c == CodecAVC444 || c == CodecAVC444v2
}

// IsAVC reports whether codec is one of the H.264 variants, the boundary
// callers outside this package use to decide whether a frame needs to be
// run through an H.264 encoder before it can be submitted.
func (c Codec) IsAVC() bool { return c.isAVC() }

// ClientCodecSupport records which codecs the connected peer advertised
// support for, gating the auto-selection priority order below.
type ClientCodecSupport struct {
	RFX         bool
	Progressive bool
	AVC420      bool
	AVC444      bool
	AVC444v2    bool
}

// Mode is the user-configured encoding mode: Auto lets the engine pick per
// frame; the Force* values pin a single codec for the whole session.
type Mode int

const (
	ModeAuto Mode = iota
	ModeForceRFX
	ModeForceProgressive
	ModeForceAVC
)

// Config tunes the engine's codec-selection policy.
type Config struct {
	Mode Mode
	// LargeChangeThreshold is the fraction of dirty tiles (0..1) at or
	// above which the engine prefers an AVC codec over RemoteFX/Progressive,
	// since a full-motion update amortizes H.264's higher per-frame
	// overhead better than a tile-diff codec.
	LargeChangeThreshold float64
	// RefreshInterval bounds, in consecutive NonAVC frames following an AVC
	// burst, how long the engine may send dirty-region-only NonAVC updates
	// before forcing a full keyframe refresh (the AVC and NonAVC codecs
	// don't share reference state, so the client must resync).
	RefreshInterval int
	// RefreshTimeout is the same bound expressed as wall-clock time,
	// whichever is reached first.
	RefreshTimeout time.Duration
}

// DefaultConfig returns the policy used when the caller doesn't override it.
func DefaultConfig() Config {
	return Config{
		Mode:                 ModeAuto,
		LargeChangeThreshold: 0.15,
		RefreshInterval:      4,
		RefreshTimeout:       2 * time.Second,
	}
}

// Decision is the engine's verdict for one captured frame.
type Decision struct {
	Codec         Codec
	DirtyRects    []image.Rectangle
	ForceKeyframe bool
	Skip          bool // nothing changed; caller should send no update at all
}

// Engine tracks per-surface encoding state across frames: tile hashes, the
// previous-frame cache, and the AVC→NonAVC refresh transition.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	support ClientCodecSupport

	tiles *TileHashTable
	cache *PreviousFrameCache

	wasAVC            bool
	nonAVCSinceBurst  int
	transitionStarted time.Time
}

// New creates an Engine for the given surface dimensions and policy.
func New(width, height int, cfg Config, support ClientCodecSupport) *Engine {
	return &Engine{
		cfg:     cfg,
		support: support,
		tiles:   NewTileHashTable(width, height),
		cache:   NewPreviousFrameCache(),
	}
}

// UpdateClientSupport replaces the advertised codec support, e.g. after the
// graphics pipeline's capability-confirmation handshake completes.
func (e *Engine) UpdateClientSupport(support ClientCodecSupport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.support = support
}

// Resize replaces the tile table and cache for a new surface geometry,
// forcing the next frame to be treated as a full refresh.
func (e *Engine) Resize(width, height int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tiles = NewTileHashTable(width, height)
	e.cache = NewPreviousFrameCache()
	e.wasAVC = false
	e.nonAVCSinceBurst = 0
}

// Analyze runs dirty-tile detection and codec selection for one frame and
// updates the engine's previous-frame state for next time.
func (e *Engine) Analyze(pix []byte, stride, width, height int) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cache.FastRejectUnchanged(pix, width, height) {
		return Decision{Skip: true}
	}

	result := e.tiles.Analyze(pix, stride, e.cache)
	e.cache.Store(pix, stride, width, height)

	if !result.ForceDirty && result.DirtyTileCount == 0 {
		return Decision{Skip: true}
	}

	codec, forceKeyframe := e.selectCodec(result)

	dec := Decision{
		Codec:         codec,
		ForceKeyframe: forceKeyframe || result.ForceDirty,
		DirtyRects:    CollectRegion(result.DirtyRects),
	}
	if dec.ForceKeyframe {
		dec.DirtyRects = []image.Rectangle{image.Rect(0, 0, width, height)}
	}
	return dec
}

func (e *Engine) selectCodec(result AnalyzeResult) (Codec, bool) {
	switch e.cfg.Mode {
	case ModeForceRFX:
		return e.settleNonAVC(CodecRFX), e.nonAVCForceDue()
	case ModeForceProgressive:
		return e.settleNonAVC(e.preferredNonAVC()), e.nonAVCForceDue()
	case ModeForceAVC:
		return e.settleAVC(), false
	}

	if result.ForceDirty || result.LargeChangeFraction >= e.cfg.LargeChangeThreshold {
		return e.settleAVC(), false
	}
	return e.settleNonAVC(e.preferredNonAVC()), e.nonAVCForceDue()
}

// preferredNonAVC picks the best tile-diff codec the client actually
// advertised. If the client supports neither Progressive nor RFX, there is
// no NonAVC codec this engine can legally send, so it falls through to
// whichever AVC variant (if any) the client does support.
func (e *Engine) preferredNonAVC() Codec {
	switch {
	case e.support.Progressive:
		return CodecProgressive
	case e.support.RFX:
		return CodecRFX
	case e.support.AVC444v2:
		return CodecAVC444v2
	case e.support.AVC444:
		return CodecAVC444
	case e.support.AVC420:
		return CodecAVC420
	default:
		// Client advertised nothing this engine knows how to encode; RFX is
		// the original RDP codec every client must support, so it is the
		// last-resort choice rather than a silent crash.
		return CodecRFX
	}
}

func (e *Engine) settleAVC() Codec {
	e.wasAVC = true
	e.nonAVCSinceBurst = 0
	switch {
	case e.support.AVC444v2:
		return CodecAVC444v2
	case e.support.AVC444:
		return CodecAVC444
	case e.support.AVC420:
		return CodecAVC420
	default:
		// Client never advertised AVC support: fall back rather than send
		// a codec the peer can't decode.
		e.wasAVC = false
		switch {
		case e.support.Progressive:
			return CodecProgressive
		case e.support.RFX:
			return CodecRFX
		default:
			// Client advertised nothing this engine knows how to encode;
			// RFX is the original RDP codec every client must support, so
			// it is the last-resort choice rather than a silent crash.
			return CodecRFX
		}
	}
}

// settleNonAVC transitions into (or continues) the NonAVC path, advancing
// the post-burst refresh counter when applicable. codec may still turn out
// to be an AVC variant, since preferredNonAVC falls through to AVC when the
// client advertised no usable tile-diff codec; in that case this behaves
// like settleAVC instead of starting a bogus NonAVC run.
func (e *Engine) settleNonAVC(codec Codec) Codec {
	if codec.isAVC() {
		e.wasAVC = true
		e.nonAVCSinceBurst = 0
		return codec
	}
	if e.wasAVC {
		e.wasAVC = false
		e.nonAVCSinceBurst = 1
		e.transitionStarted = time.Now()
	} else if e.nonAVCSinceBurst > 0 {
		e.nonAVCSinceBurst++
	}
	return codec
}

// nonAVCForceDue reports whether the current NonAVC run following an AVC
// burst has reached its frame-count or wall-clock bound and must therefore
// force a full keyframe refresh this frame.
func (e *Engine) nonAVCForceDue() bool {
	if e.nonAVCSinceBurst == 0 {
		return false
	}
	due := e.nonAVCSinceBurst >= e.cfg.RefreshInterval ||
		time.Since(e.transitionStarted) >= e.cfg.RefreshTimeout
	if due {
		e.nonAVCSinceBurst = 0
	}
	return due
}

// Package h264 wraps github.com/y9o/go-openh264 as the software AVC420/
// AVC444 encode path. internal/session uses it for every AVC frame in every
// build, with or without the "freerdp" build tag.
package h264

import (
	"fmt"
	"image"
	"sync"

	openh264 "github.com/y9o/go-openh264"
)

// Encoder adapts an openh264 encoder instance to rdpffi.H264Encoder.
type Encoder struct {
	mu     sync.Mutex
	enc    *openh264.Encoder
	width  int
	height int
}

// Config mirrors the subset of openh264 encoder parameters the graphics
// pipeline cares about: target bitrate and frame rate drive rate control,
// the rest follows openh264's own defaults.
type Config struct {
	Width     int
	Height    int
	BitrateBps int
	FPS       int
}

// New creates a software H.264 encoder for a fixed frame size.
func New(cfg Config) (*Encoder, error) {
	enc, err := openh264.NewEncoder(&openh264.EncoderOptions{
		Width:     cfg.Width,
		Height:    cfg.Height,
		BitRate:   cfg.BitrateBps,
		MaxFrameRate: float32(cfg.FPS),
	})
	if err != nil {
		return nil, fmt.Errorf("h264: new encoder: %w", err)
	}
	return &Encoder{enc: enc, width: cfg.Width, height: cfg.Height}, nil
}

// Encode compresses one BGRX frame to an Annex-B byte stream. keyframe
// forces a full IDR; the caller sets it whenever a fresh reference is
// required (first frame, or the AVC→NonAVC refresh transition in
// internal/encoding). dirty is not used: the whole frame is encoded.
func (e *Encoder) Encode(pix []byte, stride, width, height int, dirty []image.Rectangle, keyframe bool) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if width != e.width || height != e.height {
		return nil, fmt.Errorf("h264: frame size %dx%d does not match encoder size %dx%d", width, height, e.width, e.height)
	}
	if keyframe {
		e.enc.ForceIntraFrame()
	}
	return e.enc.EncodeBGRA(pix, stride)
}

// Close releases the underlying encoder.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return nil
	}
	err := e.enc.Close()
	e.enc = nil
	return err
}

package encoding

import (
	"testing"
	"time"
)

func fillFrame(width, height int, value byte) ([]byte, int) {
	stride := width * 4
	pix := make([]byte, stride*height)
	for i := range pix {
		pix[i] = value
	}
	return pix, stride
}

func TestEngineFirstFrameForcesKeyframe(t *testing.T) {
	e := New(128, 128, DefaultConfig(), ClientCodecSupport{RFX: true, Progressive: true})
	pix, stride := fillFrame(128, 128, 0x10)
	dec := e.Analyze(pix, stride, 128, 128)
	if dec.Skip {
		t.Fatal("first frame must not be skipped")
	}
	if !dec.ForceKeyframe {
		t.Fatal("first frame must force a keyframe")
	}
}

func TestEngineStaticDesktopSkipsSecondFrame(t *testing.T) {
	e := New(128, 128, DefaultConfig(), ClientCodecSupport{RFX: true})
	pix, stride := fillFrame(128, 128, 0x10)
	e.Analyze(pix, stride, 128, 128)

	dec := e.Analyze(pix, stride, 128, 128)
	if !dec.Skip {
		t.Fatal("identical second frame should be skipped (Pending in caller terms)")
	}
}

func TestEngineSmallChangeSelectsNonAVC(t *testing.T) {
	cfg := DefaultConfig()
	e := New(256, 256, cfg, ClientCodecSupport{RFX: true, Progressive: true})
	pix, stride := fillFrame(256, 256, 0x10)
	e.Analyze(pix, stride, 256, 256)

	// Change a single 64x64 tile: a cursor-sized edit.
	for y := 0; y < 64; y++ {
		row := pix[y*stride : y*stride+64*4]
		for i := range row {
			row[i] ^= 0xFF
		}
	}
	dec := e.Analyze(pix, stride, 256, 256)
	if dec.Skip {
		t.Fatal("changed frame must not be skipped")
	}
	if dec.Codec != CodecProgressive {
		t.Fatalf("expected Progressive for small change, got %v", dec.Codec)
	}
}

func TestEngineLargeChangeSelectsAVC(t *testing.T) {
	cfg := DefaultConfig()
	e := New(256, 256, cfg, ClientCodecSupport{RFX: true, AVC444: true})
	pix, stride := fillFrame(256, 256, 0x10)
	e.Analyze(pix, stride, 256, 256)

	for i := range pix {
		pix[i] ^= 0xFF
	}
	dec := e.Analyze(pix, stride, 256, 256)
	if dec.Codec != CodecAVC444 {
		t.Fatalf("expected AVC444 for a full-frame change, got %v", dec.Codec)
	}
}

func TestEngineAVCToNonAVCForcesRefreshByFourthFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefreshInterval = 4
	cfg.RefreshTimeout = time.Hour // isolate the frame-count bound
	e := New(256, 256, cfg, ClientCodecSupport{RFX: true, AVC444: true})

	pix, stride := fillFrame(256, 256, 0x10)
	e.Analyze(pix, stride, 256, 256) // frame 1: forced keyframe

	for i := range pix {
		pix[i] ^= 0xFF
	}
	burst := e.Analyze(pix, stride, 256, 256) // frame 2: full change -> AVC
	if burst.Codec != CodecAVC444 {
		t.Fatalf("expected AVC444 burst, got %v", burst.Codec)
	}

	var last Decision
	for i := 0; i < 4; i++ {
		// Small per-frame edits: stays on the NonAVC path each time.
		row := pix[i*stride : i*stride+64*4]
		for j := range row {
			row[j] ^= 0x01
		}
		last = e.Analyze(pix, stride, 256, 256)
		if last.Skip {
			t.Fatalf("frame %d unexpectedly skipped", i)
		}
	}

	if !last.ForceKeyframe {
		t.Fatal("expected the 4th consecutive NonAVC frame after an AVC burst to force a keyframe")
	}
}

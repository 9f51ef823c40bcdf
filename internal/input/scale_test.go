package input

import "testing"

func TestRescalePointPassthroughWhenMatching(t *testing.T) {
	x, y := rescalePoint(100, 200, 1920, 1080, 1920, 1080)
	if x != 100 || y != 200 {
		t.Fatalf("expected passthrough, got (%d, %d)", x, y)
	}
}

func TestRescalePointDownscale(t *testing.T) {
	// Client believes 3840x2160, server is actually 1920x1080: half scale.
	x, y := rescalePoint(1920, 1080, 3840, 2160, 1920, 1080)
	if x != 960 || y != 540 {
		t.Fatalf("expected (960, 540), got (%d, %d)", x, y)
	}
}

func TestRescalePointUpscale(t *testing.T) {
	x, y := rescalePoint(960, 540, 1920, 1080, 3840, 2160)
	if x != 1920 || y != 1080 {
		t.Fatalf("expected (1920, 1080), got (%d, %d)", x, y)
	}
}

func TestRescalePointUnknownClientDimensions(t *testing.T) {
	x, y := rescalePoint(50, 60, 0, 0, 1920, 1080)
	if x != 50 || y != 60 {
		t.Fatalf("expected passthrough with zero client dims, got (%d, %d)", x, y)
	}
}

func TestRescalePointClampsOutOfRangeInput(t *testing.T) {
	// x/y are past the client's own declared resolution; must clamp to
	// clientW-1/clientH-1 before scaling rather than overshoot the
	// server's bounds.
	x, y := rescalePoint(150, 150, 100, 100, 50, 50)
	if x != 49 || y != 49 {
		t.Fatalf("expected clamp to (49, 49), got (%d, %d)", x, y)
	}
}

func TestRescalePointRoundsToNearestEdge(t *testing.T) {
	// The far edge of client space must land on the far edge of server
	// space, not one pixel past it: round-to-nearest scaling alone gives
	// (1920, 1080) here.
	x, y := rescalePoint(3839, 2159, 3840, 2160, 1920, 1080)
	if x != 1919 || y != 1079 {
		t.Fatalf("expected (1919, 1079), got (%d, %d)", x, y)
	}
}

func TestRescalePointNegativeInputClampsToZero(t *testing.T) {
	x, y := rescalePoint(-5, -5, 100, 100, 50, 50)
	if x != 0 || y != 0 {
		t.Fatalf("expected clamp to (0, 0), got (%d, %d)", x, y)
	}
}

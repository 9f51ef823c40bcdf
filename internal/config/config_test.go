package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultsSane(t *testing.T) {
	d := Defaults()
	if d.Listen.Address == "" {
		t.Fatal("expected a default listen address")
	}
	if d.Encoding.LargeChangeThreshold <= 0 || d.Encoding.LargeChangeThreshold >= 1 {
		t.Fatalf("expected threshold in (0,1), got %v", d.Encoding.LargeChangeThreshold)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Address != Defaults().Listen.Address {
		t.Fatalf("expected default listen address, got %q", cfg.Listen.Address)
	}
}

func TestWriteExampleFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rdpd.yaml")
	if err := WriteExampleFile(path); err != nil {
		t.Fatalf("WriteExampleFile: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load(%s): %v", path, err)
	}
	if cfg.Dispatch.SocketPath != Defaults().Dispatch.SocketPath {
		t.Fatalf("expected round-tripped socket path, got %q", cfg.Dispatch.SocketPath)
	}
}

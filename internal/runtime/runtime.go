// Package runtime owns process-wide state that must be initialized exactly
// once regardless of how many sessions the daemon serves: the underlying
// RDP library's global init/shutdown, and a periodic host-metrics log line
// shared across sessions.
package runtime

import (
	"log/slog"
	"sync"
)

var (
	initOnce     sync.Once
	shutdownOnce sync.Once
	initErr      error
)

// Init runs fn, the one-time global library initialization (e.g. a
// FreeRDP/WinPR global init before accepting any connection). Init is safe
// to call from multiple goroutines; only the first call's fn actually runs,
// and every call returns its error.
func Init(fn func() error) error {
	initOnce.Do(func() {
		initErr = fn()
	})
	return initErr
}

// Shutdown performs the matching one-time global teardown: only the first
// call's fn runs, whether or not Init was called.
func Shutdown(fn func()) {
	shutdownOnce.Do(fn)
}

// Metrics accumulates per-session counters surfaced in the daemon's
// periodic status log line: plain mutex-guarded counters rather than a
// full metrics library, since rdpd exports no external metrics endpoint
// (see internal/dispatch for the optional introspection surface).
type Metrics struct {
	mu sync.RWMutex

	FramesCaptured uint64
	FramesEncoded  uint64
	FramesSent     uint64
	FramesSkipped  uint64
	FramesDropped  uint64
	BytesSent      uint64
}

func (m *Metrics) RecordCapture() {
	m.mu.Lock()
	m.FramesCaptured++
	m.mu.Unlock()
}

func (m *Metrics) RecordSkip() {
	m.mu.Lock()
	m.FramesSkipped++
	m.mu.Unlock()
}

func (m *Metrics) RecordEncode() {
	m.mu.Lock()
	m.FramesEncoded++
	m.mu.Unlock()
}

func (m *Metrics) RecordSend(size int) {
	m.mu.Lock()
	m.FramesSent++
	m.BytesSent += uint64(size)
	m.mu.Unlock()
}

func (m *Metrics) RecordDrop() {
	m.mu.Lock()
	m.FramesDropped++
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy for logging.
type Snapshot struct {
	FramesCaptured, FramesEncoded, FramesSent, FramesSkipped, FramesDropped uint64
	BytesSent                                                               uint64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		FramesCaptured: m.FramesCaptured,
		FramesEncoded:  m.FramesEncoded,
		FramesSent:     m.FramesSent,
		FramesSkipped:  m.FramesSkipped,
		FramesDropped:  m.FramesDropped,
		BytesSent:      m.BytesSent,
	}
}

// LogLine emits the periodic fps/bandwidth status line, enriched with host
// CPU/memory figures from gopsutil so encoder slowdowns can be correlated
// with host pressure.
func (m *Metrics) LogLine(log *slog.Logger) {
	snap := m.Snapshot()
	args := []any{
		"captured", snap.FramesCaptured,
		"encoded", snap.FramesEncoded,
		"sent", snap.FramesSent,
		"skipped", snap.FramesSkipped,
		"dropped", snap.FramesDropped,
		"bytes_sent", snap.BytesSent,
	}
	if cpuPct, err := hostCPUPercent(); err == nil {
		args = append(args, "host_cpu_pct", cpuPct)
	}
	if memPct, err := hostMemPercent(); err == nil {
		args = append(args, "host_mem_pct", memPct)
	}
	log.Info("session stats", args...)
}

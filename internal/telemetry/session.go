// Package telemetry holds the per-flight append-only event and sample log
// kept for post-flight review. The session is an explicitly owned
// collaborator: whoever starts a flight creates one, hands it to the live
// coordinator, and reads it back when the flight ends.
package telemetry

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Sample is one recorded position with flying state.
type Sample struct {
	TimestampMs int64    `json:"timestamp_ms"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	AltMeters   *float64 `json:"alt_m,omitempty"`
	IsFlying    bool     `json:"is_flying"`
}

// Session is a process-local, lossless log of timestamped events and
// telemetry samples. All methods are safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	startMs int64
	active  bool
	lines   []string
	samples []Sample
}

// NewSession returns an inactive session. Call Start before appending.
func NewSession() *Session {
	return &Session{}
}

// Start clears any previous contents and activates the session.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = s.lines[:0]
	s.samples = s.samples[:0]
	s.startMs = time.Now().UnixMilli()
	s.active = true
	s.appendLocked(fmt.Sprintf("t=%.1fs  [EVENT] session started", 0.0))
}

// Active reports whether the session is accepting appends.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop deactivates the session. Recorded contents stay available.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// AddEvent appends a free-form event line.
func (s *Session) AddEvent(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.appendLocked(fmt.Sprintf("t=%.1fs  [EVENT] %s", s.elapsedLocked(), message))
}

// AddTelemetry appends one position sample.
func (s *Session) AddTelemetry(lat, lon float64, altM *float64, isFlying bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}

	s.samples = append(s.samples, Sample{
		TimestampMs: time.Now().UnixMilli(),
		Lat:         lat,
		Lon:         lon,
		AltMeters:   altM,
		IsFlying:    isFlying,
	})

	var b strings.Builder
	fmt.Fprintf(&b, "t=%.1fs  lat=%.6f  lon=%.6f", s.elapsedLocked(), lat, lon)
	if altM != nil {
		fmt.Fprintf(&b, "  h=%.1fm", *altM)
	}
	fmt.Fprintf(&b, "  flying=%t", isFlying)
	s.appendLocked(b.String())
}

// LineCount returns the number of recorded log lines.
func (s *Session) LineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// FullLog returns the complete log text.
func (s *Session) FullLog() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.lines, "\n")
}

// Samples returns a copy of all recorded position samples.
func (s *Session) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Tail returns the most recent n log lines, all of them when n is zero,
// negative, or larger than the log.
func (s *Session) Tail(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if n > 0 && n < len(s.lines) {
		start = len(s.lines) - n
	}
	out := make([]string, len(s.lines)-start)
	copy(out, s.lines[start:])
	return out
}

func (s *Session) appendLocked(line string) {
	s.lines = append(s.lines, line)
}

func (s *Session) elapsedLocked() float64 {
	if s.startMs == 0 {
		return 0
	}
	return float64(time.Now().UnixMilli()-s.startMs) / 1000.0
}

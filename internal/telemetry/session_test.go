package telemetry

import (
	"strings"
	"testing"
)

func alt(v float64) *float64 { return &v }

func TestSessionLifecycle(t *testing.T) {
	s := NewSession()
	if s.Active() {
		t.Error("new session must be inactive")
	}

	// appends before Start are dropped
	s.AddEvent("too early")
	s.AddTelemetry(52.0, 21.0, nil, false)
	if s.LineCount() != 0 {
		t.Errorf("expected no lines before Start, got %d", s.LineCount())
	}

	s.Start()
	if !s.Active() {
		t.Error("session must be active after Start")
	}
	if s.LineCount() != 1 {
		t.Errorf("expected the start line only, got %d lines", s.LineCount())
	}
	if !strings.Contains(s.FullLog(), "session started") {
		t.Errorf("missing start line in log: %q", s.FullLog())
	}

	s.Stop()
	if s.Active() {
		t.Error("session must be inactive after Stop")
	}
	// contents survive Stop
	if s.LineCount() != 1 {
		t.Errorf("log lost on Stop, got %d lines", s.LineCount())
	}
}

func TestSessionTelemetryFormatting(t *testing.T) {
	s := NewSession()
	s.Start()
	s.AddTelemetry(52.2296756, 21.0122287, alt(19.0), true)
	s.AddTelemetry(52.23, 21.02, nil, false)
	s.AddEvent("landing detected")

	log := s.FullLog()
	if !strings.Contains(log, "lat=52.229676") {
		t.Errorf("latitude not formatted to 6 places: %q", log)
	}
	if !strings.Contains(log, "h=19.0m") {
		t.Errorf("altitude missing from line: %q", log)
	}
	if !strings.Contains(log, "flying=true") || !strings.Contains(log, "flying=false") {
		t.Errorf("flying state missing: %q", log)
	}
	if strings.Count(log, "h=") != 1 {
		t.Errorf("altitude must be omitted when unknown: %q", log)
	}
	if !strings.Contains(log, "[EVENT] landing detected") {
		t.Errorf("event line missing: %q", log)
	}
}

func TestSessionSamples(t *testing.T) {
	s := NewSession()
	s.Start()
	s.AddTelemetry(52.0, 21.0, nil, true)
	s.AddTelemetry(52.1, 21.1, alt(30), true)

	samples := s.Samples()
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[1].AltMeters == nil || *samples[1].AltMeters != 30 {
		t.Errorf("altitude lost: %v", samples[1].AltMeters)
	}
	// reading does not consume
	if got := s.Samples(); len(got) != 2 {
		t.Errorf("second read should still see 2 samples, got %d", len(got))
	}
}

func TestSessionTail(t *testing.T) {
	s := NewSession()
	s.Start()
	s.AddEvent("one")
	s.AddEvent("two")
	s.AddEvent("three")

	tail := s.Tail(2)
	if len(tail) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(tail))
	}
	if !strings.Contains(tail[0], "two") || !strings.Contains(tail[1], "three") {
		t.Errorf("tail must return the newest lines in order: %v", tail)
	}
	if got := s.Tail(0); len(got) != 4 {
		t.Errorf("Tail(0) must return the whole log, got %d lines", len(got))
	}
	if got := s.Tail(100); len(got) != 4 {
		t.Errorf("oversized tail must return the whole log, got %d lines", len(got))
	}
}

func TestSessionStartClearsPreviousFlight(t *testing.T) {
	s := NewSession()
	s.Start()
	s.AddTelemetry(52.0, 21.0, nil, true)
	s.Stop()

	s.Start()
	if got := s.Samples(); len(got) != 0 {
		t.Errorf("samples from previous flight survived restart: %d", len(got))
	}
	if s.LineCount() != 1 {
		t.Errorf("log from previous flight survived restart: %d lines", s.LineCount())
	}
}

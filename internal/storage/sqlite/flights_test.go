package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/wkrawczyk/dronefield/pkg/logger"
)

func newTestStorage(t *testing.T) *FlightStorage {
	t.Helper()
	s, err := NewFlightStorage(filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFlightRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	started := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	id, err := s.CreateFlight(311, 7, "W. Krawczyk", started)
	if err != nil {
		t.Fatalf("CreateFlight failed: %v", err)
	}

	f, err := s.GetFlight(id)
	if err != nil {
		t.Fatalf("GetFlight failed: %v", err)
	}
	if f == nil {
		t.Fatal("flight not found after insert")
	}
	if f.RegistryID != 311 || f.RouteID != 7 || f.Pilot != "W. Krawczyk" {
		t.Errorf("flight fields mangled: %+v", f)
	}
	if f.Status != "active" || f.EndedAt != nil {
		t.Errorf("new flight must be active with no end time: %+v", f)
	}

	if err := s.CloseFlight(id, "finished", started.Add(10*time.Minute)); err != nil {
		t.Fatalf("CloseFlight failed: %v", err)
	}
	f, _ = s.GetFlight(id)
	if f.Status != "finished" || f.EndedAt == nil {
		t.Errorf("flight not closed: %+v", f)
	}

	// closing twice fails, the terminal state is final
	if err := s.CloseFlight(id, "aborted", time.Now()); err == nil {
		t.Error("expected error closing an already closed flight")
	}
	f, _ = s.GetFlight(id)
	if f.Status != "finished" {
		t.Errorf("terminal status overwritten: %s", f.Status)
	}
}

func TestCloseFlightRejectsBadStatus(t *testing.T) {
	s := newTestStorage(t)
	id, _ := s.CreateFlight(1, 1, "", time.Now())
	if err := s.CloseFlight(id, "crashed", time.Now()); err == nil {
		t.Error("expected error for invalid terminal status")
	}
}

func TestGetFlightMissing(t *testing.T) {
	s := newTestStorage(t)
	f, err := s.GetFlight(999)
	if err != nil {
		t.Fatalf("GetFlight failed: %v", err)
	}
	if f != nil {
		t.Errorf("expected nil for missing flight, got %+v", f)
	}
}

func TestTelemetryBatch(t *testing.T) {
	s := newTestStorage(t)
	id, _ := s.CreateFlight(1, 1, "", time.Now())

	altValue := 22.5
	batch := []TelemetryRecord{
		{OffsetMs: 3000, Lat: 52.23, Lon: 21.01, AltMeters: &altValue},
		{OffsetMs: 6000, Lat: 52.24, Lon: 21.02},
	}
	if err := s.AddTelemetry(id, batch); err != nil {
		t.Fatalf("AddTelemetry failed: %v", err)
	}
	if err := s.AddTelemetry(id, nil); err != nil {
		t.Fatalf("empty batch must be a no-op, got %v", err)
	}

	samples, err := s.GetTelemetry(id)
	if err != nil {
		t.Fatalf("GetTelemetry failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].OffsetMs != 3000 || samples[1].OffsetMs != 6000 {
		t.Errorf("samples out of order: %+v", samples)
	}
	if samples[0].AltMeters == nil || *samples[0].AltMeters != 22.5 {
		t.Errorf("altitude lost: %v", samples[0].AltMeters)
	}
	if samples[1].AltMeters != nil {
		t.Errorf("expected nil altitude, got %v", *samples[1].AltMeters)
	}
}

func TestMissionRecords(t *testing.T) {
	s := newTestStorage(t)
	rec := MissionRecord{
		MissionID: "m-1",
		Name:      "pole",
		FilePath:  "/missions/pole.kmz",
		Waypoints: 3,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveMission(rec); err != nil {
		t.Fatalf("SaveMission failed: %v", err)
	}

	got, err := s.GetMission("m-1")
	if err != nil {
		t.Fatalf("GetMission failed: %v", err)
	}
	if got == nil || got.Name != "pole" || got.Waypoints != 3 {
		t.Errorf("mission record mangled: %+v", got)
	}

	// saving again replaces
	rec.Waypoints = 5
	if err := s.SaveMission(rec); err != nil {
		t.Fatalf("SaveMission replace failed: %v", err)
	}
	got, _ = s.GetMission("m-1")
	if got.Waypoints != 5 {
		t.Errorf("replace did not take effect: %+v", got)
	}

	missions, err := s.ListMissions()
	if err != nil {
		t.Fatalf("ListMissions failed: %v", err)
	}
	if len(missions) != 1 {
		t.Errorf("expected 1 mission, got %d", len(missions))
	}

	absent, err := s.GetMission("nope")
	if err != nil {
		t.Fatalf("GetMission failed: %v", err)
	}
	if absent != nil {
		t.Errorf("expected nil for missing mission, got %+v", absent)
	}
}

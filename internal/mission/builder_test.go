package mission

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wkrawczyk/dronefield/internal/route"
	"github.com/wkrawczyk/dronefield/pkg/logger"
)

func f64(v float64) *float64 { return &v }

func threePoints() []route.Waypoint {
	return []route.Waypoint{
		{Order: 0, Lat: 52.2296756, Lon: 21.0122287, AltMeters: f64(19)},
		{Order: 1, Lat: 52.2300000, Lon: 21.0199000, AltMeters: f64(22.5)},
		{Order: 2, Lat: 52.2310000, Lon: 21.0250000},
	}
}

func TestWriteRouteKML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRouteKML(&buf, "survey", threePoints()); err != nil {
		t.Fatalf("WriteRouteKML failed: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "survey_LINE") {
		t.Errorf("missing LineString placemark name in output")
	}
	for _, name := range []string{"survey_P0", "survey_P1", "survey_P2"} {
		if !strings.Contains(out, name) {
			t.Errorf("missing point placemark %s in output", name)
		}
	}
	if !strings.Contains(out, "<tessellate>1</tessellate>") {
		t.Errorf("LineString is not tessellated")
	}

	// the route must survive a parse round trip with coordinates intact
	points, err := route.ParseKML(strings.NewReader(out))
	if err != nil {
		t.Fatalf("generated KML does not parse: %v", err)
	}
	want := threePoints()
	if len(points) < len(want) {
		t.Fatalf("expected at least %d parsed points, got %d", len(want), len(points))
	}
	for i, w := range want {
		if math.Abs(points[i].Lat-w.Lat) > 1e-6 || math.Abs(points[i].Lon-w.Lon) > 1e-6 {
			t.Errorf("point %d drifted: got lat=%f lon=%f want lat=%f lon=%f",
				i, points[i].Lat, points[i].Lon, w.Lat, w.Lon)
		}
	}
}

func TestBuildMission(t *testing.T) {
	log := logger.NewNop()
	dir := t.TempDir()
	compiler := NewWPMLCompiler("tester", Defaults{HeightM: 10, SpeedMps: 3}, log)
	builder := NewBuilder(compiler, dir, log)

	artifact, err := builder.BuildMission(threePoints(), "survey", Defaults{HeightM: 10, SpeedMps: 3})
	if err != nil {
		t.Fatalf("BuildMission failed: %v", err)
	}

	if artifact.MissionID == "" {
		t.Error("artifact has no mission id")
	}
	if artifact.FilePath != filepath.Join(dir, "survey.kmz") {
		t.Errorf("unexpected artifact path %s", artifact.FilePath)
	}
	info, err := os.Stat(artifact.FilePath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("mission container missing or empty: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "survey.kml")); err != nil {
		t.Errorf("route KML missing: %v", err)
	}

	// the container must be structurally valid and round-trip its waypoints
	result, err := Validate(artifact.FilePath)
	if err != nil {
		t.Fatalf("Validate failed on generated container: %v", err)
	}
	if !result.OK {
		t.Errorf("generated container flagged invalid: %s", result.Message)
	}

	points, err := route.ExtractFromKMZ(artifact.FilePath)
	if err != nil {
		t.Fatalf("extracting generated container failed: %v", err)
	}
	want := threePoints()
	if len(points) != len(want) {
		t.Fatalf("expected %d waypoints in container, got %d", len(want), len(points))
	}
	for i, w := range want {
		if math.Abs(points[i].Lat-w.Lat) > 1e-6 || math.Abs(points[i].Lon-w.Lon) > 1e-6 {
			t.Errorf("waypoint %d drifted: got lat=%f lon=%f", i, points[i].Lat, points[i].Lon)
		}
	}
	// the third point had no height; the default must be applied within 1cm
	if points[2].AltMeters == nil || math.Abs(*points[2].AltMeters-10) > 0.01 {
		t.Errorf("expected default height 10 on third waypoint, got %v", points[2].AltMeters)
	}
	if points[0].AltMeters == nil || math.Abs(*points[0].AltMeters-19) > 0.01 {
		t.Errorf("expected height 19 on first waypoint, got %v", points[0].AltMeters)
	}
}

func TestBuildMissionRegenerates(t *testing.T) {
	log := logger.NewNop()
	dir := t.TempDir()
	compiler := NewWPMLCompiler("tester", Defaults{HeightM: 10, SpeedMps: 3}, log)
	builder := NewBuilder(compiler, dir, log)

	first, err := builder.BuildMission(threePoints(), "survey", Defaults{HeightM: 10, SpeedMps: 3})
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	second, err := builder.BuildMission(threePoints()[:2], "survey", Defaults{HeightM: 10, SpeedMps: 3})
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if first.FilePath != second.FilePath {
		t.Errorf("expected deterministic path, got %s and %s", first.FilePath, second.FilePath)
	}
	points, err := route.ExtractFromKMZ(second.FilePath)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(points) != 2 {
		t.Errorf("stale container not replaced: got %d waypoints", len(points))
	}
}

func TestBuildMissionInsufficientWaypoints(t *testing.T) {
	log := logger.NewNop()
	compiler := NewWPMLCompiler("tester", Defaults{HeightM: 10, SpeedMps: 3}, log)
	builder := NewBuilder(compiler, t.TempDir(), log)

	_, err := builder.BuildMission(threePoints()[:1], "tiny", Defaults{HeightM: 10, SpeedMps: 3})
	if !errors.Is(err, ErrInsufficientWaypoints) {
		t.Errorf("expected ErrInsufficientWaypoints, got %v", err)
	}
	_, err = builder.BuildMission(nil, "empty", Defaults{HeightM: 10, SpeedMps: 3})
	if !errors.Is(err, ErrInsufficientWaypoints) {
		t.Errorf("expected ErrInsufficientWaypoints for nil points, got %v", err)
	}
}

func TestPrepareFromFile(t *testing.T) {
	log := logger.NewNop()
	dir := t.TempDir()
	compiler := NewWPMLCompiler("tester", Defaults{HeightM: 10, SpeedMps: 3}, log)
	builder := NewBuilder(compiler, dir, log)
	defaults := Defaults{HeightM: 10, SpeedMps: 3}

	// a .kml source gets compiled into a container
	var buf bytes.Buffer
	if err := WriteRouteKML(&buf, "field", threePoints()); err != nil {
		t.Fatalf("WriteRouteKML failed: %v", err)
	}
	kmlPath := filepath.Join(dir, "field.kml")
	if err := os.WriteFile(kmlPath, buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing source kml failed: %v", err)
	}
	artifact, err := builder.PrepareFromFile(kmlPath, defaults)
	if err != nil {
		t.Fatalf("PrepareFromFile(.kml) failed: %v", err)
	}
	if filepath.Ext(artifact.FilePath) != ".kmz" {
		t.Errorf("expected compiled .kmz artifact, got %s", artifact.FilePath)
	}

	// a .kmz source is used as-is
	passthrough, err := builder.PrepareFromFile(artifact.FilePath, defaults)
	if err != nil {
		t.Fatalf("PrepareFromFile(.kmz) failed: %v", err)
	}
	if passthrough.FilePath != artifact.FilePath {
		t.Errorf("expected container passthrough, got %s", passthrough.FilePath)
	}

	// unsupported extensions are rejected
	txtPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txtPath, []byte("hi"), 0644); err != nil {
		t.Fatalf("writing txt failed: %v", err)
	}
	if _, err := builder.PrepareFromFile(txtPath, defaults); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}

	// missing files are reported as such
	if _, err := builder.PrepareFromFile(filepath.Join(dir, "nope.kml"), defaults); !errors.Is(err, ErrSourceFileMissing) {
		t.Errorf("expected ErrSourceFileMissing, got %v", err)
	}
}

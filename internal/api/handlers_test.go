package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/wkrawczyk/dronefield/internal/aircraft"
	"github.com/wkrawczyk/dronefield/internal/config"
	"github.com/wkrawczyk/dronefield/internal/mission"
	"github.com/wkrawczyk/dronefield/internal/storage/sqlite"
	"github.com/wkrawczyk/dronefield/internal/tracking"
	"github.com/wkrawczyk/dronefield/internal/websocket"
	"github.com/wkrawczyk/dronefield/pkg/logger"
)

const routeKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Placemark>
      <LineString>
        <coordinates>
          21.0122287,52.2296756,15
          21.0199000,52.2300000,20
          21.0250000,52.2310000,25
        </coordinates>
      </LineString>
    </Placemark>
  </Document>
</kml>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logger.NewNop()
	dir := t.TempDir()

	cfg := &config.Config{}
	cfg.Station.Pilot = "tester"
	cfg.Station.UseSimulatedDrone = true
	cfg.Mission.DefaultHeightM = 10
	cfg.Mission.DefaultSpeedMps = 3
	cfg.Tracking.SampleIntervalMs = 10
	cfg.Tracking.MinPathDistanceM = 1.5

	store, err := sqlite.NewFlightStorage(filepath.Join(dir, "test.db"), log)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	compiler := mission.NewWPMLCompiler("tester", mission.Defaults{HeightM: 10, SpeedMps: 3}, log)
	builder := mission.NewBuilder(compiler, filepath.Join(dir, "missions"), log)

	sim := aircraft.NewSimulated(log)
	sim.SetTiming(2*time.Millisecond, time.Millisecond)
	uploader := aircraft.NewUploadCoordinator(sim, log)
	uploader.SetRetryPolicy(3, time.Millisecond)

	reg := tracking.NewRecordingRegistry(tracking.NewOfflineRegistry(), store, log)

	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	handler := NewHandler(builder, uploader, sim, reg, nil, store, cfg, log, wsServer)
	server := httptest.NewServer(NewRouter(handler, wsServer, cfg, log))
	t.Cleanup(server.Close)
	return server
}

func postRouteFile(t *testing.T, server *httptest.Server, filename, content string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("route", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	mw.Close()

	resp, err := http.Post(server.URL+"/api/missions", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /api/missions failed: %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestMissionPipelineOverHTTP(t *testing.T) {
	server := newTestServer(t)

	// create a mission from a KML route
	resp := postRouteFile(t, server, "pole.kml", routeKML)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created sqlite.MissionRecord
	decodeJSON(t, resp, &created)
	if created.MissionID == "" || created.Waypoints != 3 {
		t.Fatalf("unexpected mission record: %+v", created)
	}

	// the mission shows up in the list
	resp, err := http.Get(server.URL + "/api/missions")
	if err != nil {
		t.Fatalf("GET /api/missions failed: %v", err)
	}
	var missions []sqlite.MissionRecord
	decodeJSON(t, resp, &missions)
	if len(missions) != 1 {
		t.Fatalf("expected 1 mission listed, got %d", len(missions))
	}

	// the generated container validates
	resp, err = http.Get(fmt.Sprintf("%s/api/missions/%s/validation", server.URL, created.MissionID))
	if err != nil {
		t.Fatalf("GET validation failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from validation, got %d", resp.StatusCode)
	}
	var result mission.Result
	decodeJSON(t, resp, &result)
	if !result.OK {
		t.Errorf("generated mission flagged invalid: %s", result.Message)
	}

	// upload is accepted and runs in the background
	resp, err = http.Post(fmt.Sprintf("%s/api/missions/%s/upload", server.URL, created.MissionID), "application/json", nil)
	if err != nil {
		t.Fatalf("POST upload failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202 from upload, got %d", resp.StatusCode)
	}
}

func TestCreateMissionRejectsBadInput(t *testing.T) {
	server := newTestServer(t)

	// single waypoint is not a route
	resp := postRouteFile(t, server, "short.kml",
		`<kml><coordinates>21.0,52.2,10</coordinates></kml>`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for single-point route, got %d", resp.StatusCode)
	}

	// unsupported extension
	resp = postRouteFile(t, server, "notes.txt", "not a route")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported format, got %d", resp.StatusCode)
	}
}

func TestMissionNotFound(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/api/missions/no-such-id/validation")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestFlightLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)

	body := bytes.NewBufferString(`{"operator_id": 3, "drone_id": 12, "route_id": 7, "flight_type_id": 1, "planned_duration_s": 120}`)
	resp, err := http.Post(server.URL+"/api/flights", "application/json", body)
	if err != nil {
		t.Fatalf("POST /api/flights failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var started struct {
		FlightID int64  `json:"flight_id"`
		Status   string `json:"status"`
	}
	decodeJSON(t, resp, &started)
	if started.FlightID == 0 || started.Status != "active" {
		t.Fatalf("unexpected start response: %+v", started)
	}

	// a second concurrent flight is refused
	resp, err = http.Post(server.URL+"/api/flights", "application/json", bytes.NewBufferString(`{"route_id": 8}`))
	if err != nil {
		t.Fatalf("second POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for concurrent flight, got %d", resp.StatusCode)
	}

	// finish it
	resp, err = http.Post(fmt.Sprintf("%s/api/flights/%d/finish", server.URL, started.FlightID), "application/json", nil)
	if err != nil {
		t.Fatalf("POST finish failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from finish, got %d", resp.StatusCode)
	}

	// the flight is recorded locally as finished
	resp, err = http.Get(server.URL + "/api/flights")
	if err != nil {
		t.Fatalf("GET /api/flights failed: %v", err)
	}
	var flights []sqlite.FlightRecord
	decodeJSON(t, resp, &flights)
	if len(flights) != 1 {
		t.Fatalf("expected 1 stored flight, got %d", len(flights))
	}
	if flights[0].Status != "finished" {
		t.Errorf("expected status finished, got %s", flights[0].Status)
	}

	// finishing again is a 404, the flight is no longer tracked
	resp, err = http.Post(fmt.Sprintf("%s/api/flights/%d/finish", server.URL, started.FlightID), "application/json", nil)
	if err != nil {
		t.Fatalf("second finish failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after flight ended, got %d", resp.StatusCode)
	}
}

func TestRoutePointsWithoutRegistry(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/api/routes/9/points")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a registry, got %d", resp.StatusCode)
	}
}

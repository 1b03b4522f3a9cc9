package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wkrawczyk/dronefield/internal/aircraft"
	"github.com/wkrawczyk/dronefield/internal/config"
	"github.com/wkrawczyk/dronefield/internal/geo"
	"github.com/wkrawczyk/dronefield/internal/mission"
	"github.com/wkrawczyk/dronefield/internal/registry"
	"github.com/wkrawczyk/dronefield/internal/route"
	"github.com/wkrawczyk/dronefield/internal/storage/sqlite"
	"github.com/wkrawczyk/dronefield/internal/tracking"
	"github.com/wkrawczyk/dronefield/internal/websocket"
	"github.com/wkrawczyk/dronefield/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	builder       *mission.Builder
	uploader      *aircraft.UploadCoordinator
	drone         aircraft.TelemetrySource
	registry      tracking.RegistryAPI
	flightStorage *sqlite.FlightStorage
	routeFetcher  *registry.Client
	config        *config.Config
	logger        *logger.Logger
	wsServer      *websocket.Server

	mu     sync.Mutex
	active *tracking.Coordinator
}

// NewHandler creates a new API handler
func NewHandler(
	builder *mission.Builder,
	uploader *aircraft.UploadCoordinator,
	drone aircraft.TelemetrySource,
	reg tracking.RegistryAPI,
	routeFetcher *registry.Client,
	flightStorage *sqlite.FlightStorage,
	cfg *config.Config,
	log *logger.Logger,
	wsServer *websocket.Server,
) *Handler {
	h := &Handler{
		builder:       builder,
		uploader:      uploader,
		drone:         drone,
		registry:      reg,
		routeFetcher:  routeFetcher,
		flightStorage: flightStorage,
		config:        cfg,
		logger:        log.Named("api-handler"),
		wsServer:      wsServer,
	}
	if wsServer != nil {
		wsServer.SetMessageHandler(h)
	}
	return h
}

// HandleMessage serves client-initiated websocket requests. flight_log_tail
// replies to the asking client with the newest lines of the live flight log.
func (h *Handler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeFlightLogTail:
		lines := 20
		if v, ok := data["lines"].(float64); ok && v > 0 {
			lines = int(v)
		}

		h.mu.Lock()
		coord := h.active
		h.mu.Unlock()
		if coord == nil {
			client.SendMessage(&websocket.Message{
				Type: websocket.MessageTypeFlightLogLines,
				Data: map[string]any{"lines": []string{}},
			})
			return nil
		}
		client.SendMessage(&websocket.Message{
			Type: websocket.MessageTypeFlightLogLines,
			Data: map[string]any{
				"flight_id": coord.FlightID(),
				"lines":     coord.Session().Tail(lines),
			},
		})
		return nil
	default:
		return fmt.Errorf("unknown message type %q", messageType)
	}
}

// GetHealth reports service liveness.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStationConfig returns the station identity plus the current magnetic
// declination at the station, so clients can convert between true and
// magnetic headings.
func (h *Handler) GetStationConfig(w http.ResponseWriter, r *http.Request) {
	station := h.config.Station
	decl := geo.MagneticDeclination(station.Latitude, station.Longitude, station.ElevationMeters, time.Now().UTC())
	WriteJSON(w, http.StatusOK, map[string]any{
		"name":                 station.Name,
		"pilot":                station.Pilot,
		"latitude":             station.Latitude,
		"longitude":            station.Longitude,
		"elevation_m":          station.ElevationMeters,
		"magnetic_declination": decl,
		"simulated_drone":      station.UseSimulatedDrone,
	})
}

// CreateMission accepts a route file (KML or KMZ) as multipart form data
// and produces a flyable mission container.
func (h *Handler) CreateMission(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("route")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing route file field")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = trimExt(header.Filename)
	}
	name = filepath.Base(name)

	// Stage the upload next to the generated artifacts under its final
	// name; for .kml sources the builder regenerates this file as the
	// canonical route KML
	srcPath := filepath.Join(h.builder.OutputDir(), name+filepath.Ext(header.Filename))
	if err := os.MkdirAll(h.builder.OutputDir(), 0755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stage route file")
		return
	}
	dst, err := os.Create(srcPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stage route file")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to stage route file")
		return
	}
	dst.Close()

	artifact, err := h.builder.PrepareFromFile(srcPath, mission.Defaults{
		HeightM:  h.config.Mission.DefaultHeightM,
		SpeedMps: h.config.Mission.DefaultSpeedMps,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, mission.ErrInsufficientWaypoints),
			errors.Is(err, mission.ErrUnsupportedFormat),
			errors.Is(err, route.ErrEmptyGeometry),
			errors.Is(err, route.ErrMalformedSource):
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	record := sqlite.MissionRecord{
		MissionID: artifact.MissionID,
		Name:      name,
		FilePath:  artifact.FilePath,
		Waypoints: len(artifact.Waypoints),
		CreatedAt: artifact.CreatedAt,
	}
	if err := h.flightStorage.SaveMission(record); err != nil {
		h.logger.Error("failed to persist mission record", logger.Error(err))
	}

	WriteJSON(w, http.StatusCreated, record)
}

// ListMissions returns stored mission artifacts.
func (h *Handler) ListMissions(w http.ResponseWriter, r *http.Request) {
	missions, err := h.flightStorage.ListMissions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if missions == nil {
		missions = []sqlite.MissionRecord{}
	}
	WriteJSON(w, http.StatusOK, missions)
}

// GetMission returns one mission artifact.
func (h *Handler) GetMission(w http.ResponseWriter, r *http.Request) {
	m, err := h.lookupMission(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	WriteJSON(w, http.StatusOK, m)
}

// ValidateMission inspects a mission container and reports whether the
// aircraft is likely to accept it.
func (h *Handler) ValidateMission(w http.ResponseWriter, r *http.Request) {
	m, err := h.lookupMission(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}

	result, err := mission.Validate(m.FilePath)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, mission.ErrEmpty) || errors.Is(err, mission.ErrNotAZip) {
			WriteJSON(w, status, map[string]any{"ok": false, "message": err.Error()})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// UploadMission pushes a mission container to the aircraft and attempts to
// start it. The pipeline runs in the background; transitions stream over the
// websocket as mission_state messages.
func (h *Handler) UploadMission(w http.ResponseWriter, r *http.Request) {
	m, err := h.lookupMission(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		final := h.uploader.Run(ctx, m.FilePath, func(u aircraft.StateUpdate) {
			h.wsServer.Broadcast(&websocket.Message{
				Type: websocket.MessageTypeMissionState,
				Data: map[string]any{
					"mission_id": m.MissionID,
					"state":      u.State.String(),
					"progress":   u.Progress,
					"attempt":    u.Attempt,
					"reason":     u.Reason,
				},
			})
		})
		h.logger.Info("mission upload pipeline finished",
			logger.String("mission_id", m.MissionID),
			logger.String("state", final.State.String()))
	}()

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"mission_id": m.MissionID,
		"state":      aircraft.StateUploading.String(),
	})
}

type startFlightRequest struct {
	OperatorID       int64  `json:"operator_id"`
	DroneID          int64  `json:"drone_id"`
	RouteID          int64  `json:"route_id"`
	FlightTypeID     int64  `json:"flight_type_id"`
	Pilot            string `json:"pilot"`
	PlannedDurationS int    `json:"planned_duration_s"`
}

// StartFlight begins live tracking of a flight. Only one flight can be live
// at a time.
func (h *Handler) StartFlight(w http.ResponseWriter, r *http.Request) {
	var req startFlightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	pilot := req.Pilot
	if pilot == "" {
		pilot = h.config.Station.Pilot
	}

	h.mu.Lock()
	if h.active != nil {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, "a flight is already being tracked")
		return
	}
	coord := tracking.NewCoordinator(
		h.drone,
		h.registry,
		tracking.Config{
			SampleIntervalMs: h.config.Tracking.SampleIntervalMs,
			MinPathDistanceM: h.config.Tracking.MinPathDistanceM,
		},
		h.broadcastTrackingEvent,
		h.logger,
	)
	h.active = coord
	h.mu.Unlock()

	err := coord.Start(r.Context(), tracking.FlightParams{
		OperatorID:       req.OperatorID,
		DroneID:          req.DroneID,
		RouteID:          req.RouteID,
		FlightTypeID:     req.FlightTypeID,
		Pilot:            pilot,
		PlannedDurationS: req.PlannedDurationS,
	})
	if err != nil {
		h.mu.Lock()
		h.active = nil
		h.mu.Unlock()
		writeError(w, http.StatusBadGateway, "failed to start flight: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"flight_id": coord.FlightID(),
		"status":    "active",
	})
}

func (h *Handler) broadcastTrackingEvent(e tracking.Event) {
	h.wsServer.Broadcast(&websocket.Message{Type: e.Type, Data: e.Data})
}

// FinishFlight ends the active flight normally.
func (h *Handler) FinishFlight(w http.ResponseWriter, r *http.Request) {
	h.terminateFlight(w, r, "finished", (*tracking.Coordinator).Finish)
}

// AbortFlight ends the active flight as operator-aborted.
func (h *Handler) AbortFlight(w http.ResponseWriter, r *http.Request) {
	h.terminateFlight(w, r, "aborted", (*tracking.Coordinator).Abort)
}

func (h *Handler) terminateFlight(w http.ResponseWriter, r *http.Request, status string, call func(*tracking.Coordinator, context.Context) error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid flight id")
		return
	}

	h.mu.Lock()
	coord := h.active
	h.mu.Unlock()
	if coord == nil || coord.FlightID() != id {
		writeError(w, http.StatusNotFound, "flight not being tracked")
		return
	}

	err = call(coord, r.Context())
	h.mu.Lock()
	h.active = nil
	h.mu.Unlock()

	if err != nil {
		// local state is already terminal; report the registry failure
		WriteJSON(w, http.StatusBadGateway, map[string]any{
			"flight_id": id,
			"status":    status,
			"warning":   "registry update failed: " + err.Error(),
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"flight_id": id, "status": status})
}

// ListFlights returns stored flights.
func (h *Handler) ListFlights(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	flights, err := h.flightStorage.ListFlights(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if flights == nil {
		flights = []*sqlite.FlightRecord{}
	}
	WriteJSON(w, http.StatusOK, flights)
}

// GetFlightTelemetry returns a flight's stored track.
func (h *Handler) GetFlightTelemetry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid flight id")
		return
	}
	samples, err := h.flightStorage.GetTelemetry(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if samples == nil {
		samples = []sqlite.TelemetryRecord{}
	}
	WriteJSON(w, http.StatusOK, samples)
}

// GetRoutePoints fetches a registry-hosted route and returns its waypoints
// normalized and ordered.
func (h *Handler) GetRoutePoints(w http.ResponseWriter, r *http.Request) {
	if h.routeFetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "registry not configured")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid route id")
		return
	}
	records, err := h.routeFetcher.GetRoutePoints(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	waypoints, err := route.FromRecords(records)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, waypoints)
}

func (h *Handler) lookupMission(id string) (*sqlite.MissionRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("empty mission id")
	}
	return h.flightStorage.GetMission(id)
}

func trimExt(name string) string {
	base := filepath.Base(name)
	return base[:len(base)-len(filepath.Ext(base))]
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]any{"error": msg})
}

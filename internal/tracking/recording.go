package tracking

import (
	"context"
	"time"

	"github.com/wkrawczyk/dronefield/internal/registry"
	"github.com/wkrawczyk/dronefield/internal/storage/sqlite"
	"github.com/wkrawczyk/dronefield/pkg/logger"
)

// RecordingRegistry wraps a RegistryAPI and mirrors every call into local
// SQLite storage. The local copy is written first and is authoritative;
// registry failures propagate to the caller but never undo local writes.
type RecordingRegistry struct {
	inner     RegistryAPI
	store     *sqlite.FlightStorage
	logger    *logger.Logger
	localID   int64
	startedMs int64
}

// NewRecordingRegistry creates the persistence decorator.
func NewRecordingRegistry(inner RegistryAPI, store *sqlite.FlightStorage, log *logger.Logger) *RecordingRegistry {
	return &RecordingRegistry{
		inner:  inner,
		store:  store,
		logger: log.Named("recording"),
	}
}

// LocalFlightID returns the local row id of the flight, 0 before StartFlight.
func (r *RecordingRegistry) LocalFlightID() int64 { return r.localID }

// StartFlight registers the flight remotely, then records it locally. A
// local insert failure is logged but does not fail the flight.
func (r *RecordingRegistry) StartFlight(ctx context.Context, req registry.StartFlightRequest) (int64, error) {
	remoteID, err := r.inner.StartFlight(ctx, req)
	if err != nil {
		return 0, err
	}
	startedAt := time.Now().UTC()
	localID, storeErr := r.store.CreateFlight(remoteID, req.RouteID, req.Pilot, startedAt)
	if storeErr != nil {
		r.logger.Error("failed to record flight locally", logger.Error(storeErr))
	} else {
		r.localID = localID
		r.startedMs = startedAt.UnixMilli()
	}
	return remoteID, nil
}

// FinishFlight closes the flight locally, then remotely.
func (r *RecordingRegistry) FinishFlight(ctx context.Context, flightID int64) error {
	r.closeLocal("finished")
	return r.inner.FinishFlight(ctx, flightID)
}

// AbortFlight closes the flight locally, then remotely.
func (r *RecordingRegistry) AbortFlight(ctx context.Context, flightID int64) error {
	r.closeLocal("aborted")
	return r.inner.AbortFlight(ctx, flightID)
}

// AddTelemetry stores the sample locally, then forwards it. The wire carries
// an absolute timestamp; the local row keeps it relative to the flight start.
func (r *RecordingRegistry) AddTelemetry(ctx context.Context, flightID int64, sample registry.TelemetrySample) error {
	if r.localID != 0 {
		record := sqlite.TelemetryRecord{
			FlightID:  r.localID,
			OffsetMs:  sample.TimeMs - r.startedMs,
			Lat:       sample.Lat,
			Lon:       sample.Lon,
			AltMeters: sample.AltMeters,
		}
		if err := r.store.AddTelemetry(r.localID, []sqlite.TelemetryRecord{record}); err != nil {
			r.logger.Error("failed to record telemetry locally", logger.Error(err))
		}
	}
	return r.inner.AddTelemetry(ctx, flightID, sample)
}

func (r *RecordingRegistry) closeLocal(status string) {
	if r.localID == 0 {
		return
	}
	if err := r.store.CloseFlight(r.localID, status, time.Now().UTC()); err != nil {
		r.logger.Error("failed to close flight locally",
			logger.String("status", status),
			logger.Error(err))
	}
}

var _ RegistryAPI = (*RecordingRegistry)(nil)

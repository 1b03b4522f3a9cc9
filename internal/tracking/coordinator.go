// Package tracking runs the live phase of a flight: it samples aircraft
// telemetry on a fixed cadence, records the track locally, relays each sample
// to the flight registry, and closes the flight out exactly once whether the
// operator aborts, the operator finishes, or the aircraft lands on its own.
package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wkrawczyk/dronefield/internal/aircraft"
	"github.com/wkrawczyk/dronefield/internal/geo"
	"github.com/wkrawczyk/dronefield/internal/registry"
	"github.com/wkrawczyk/dronefield/internal/telemetry"
	"github.com/wkrawczyk/dronefield/pkg/logger"
)

var errAlreadyRunning = errors.New("live tracking already running")

// RegistryAPI is the subset of the registry client the coordinator needs.
type RegistryAPI interface {
	StartFlight(ctx context.Context, req registry.StartFlightRequest) (int64, error)
	FinishFlight(ctx context.Context, flightID int64) error
	AbortFlight(ctx context.Context, flightID int64) error
	AddTelemetry(ctx context.Context, flightID int64, sample registry.TelemetrySample) error
}

// FlightParams identifies the flight being started. The ids reference
// registry rows; PlannedDurationS comes from the chosen route and drives the
// remaining-time countdown.
type FlightParams struct {
	OperatorID       int64
	DroneID          int64
	RouteID          int64
	FlightTypeID     int64
	Pilot            string
	PlannedDurationS int
}

// Event is pushed to interested observers (the websocket hub, tests).
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Config holds live-tracking settings.
type Config struct {
	SampleIntervalMs int     `toml:"sample_interval_ms"`
	MinPathDistanceM float64 `toml:"min_path_distance_m"`
}

// DefaultConfig returns the stock tracking cadence: a 3s sampling tick and a
// 1.5m minimum movement before the rendered path gains a point.
func DefaultConfig() Config {
	return Config{
		SampleIntervalMs: 3000,
		MinPathDistanceM: 1.5,
	}
}

// Coordinator supervises one live flight at a time.
type Coordinator struct {
	source   aircraft.TelemetrySource
	registry RegistryAPI
	session  *telemetry.Session
	config   Config
	events   func(Event)
	logger   *logger.Logger

	// last-value-wins mailbox for incoming positions; the sampler reads the
	// freshest value on each tick and intermediate reports are dropped
	posMu  sync.Mutex
	latest *aircraft.Position

	flightID  int64
	startedAt time.Time

	wasAirborne    atomic.Bool
	landingHandled atomic.Bool
	terminalSent   atomic.Bool
	uploadInFlight atomic.Bool
	running        atomic.Bool

	// loop lifecycle state; guarded by mu because the landing callback can
	// terminate the flight while Start is still wiring subscriptions up
	mu       sync.Mutex
	stopped  bool
	unsubPos aircraft.Unsubscribe
	unsubFly aircraft.Unsubscribe
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCoordinator creates a coordinator. events may be nil.
func NewCoordinator(source aircraft.TelemetrySource, reg RegistryAPI, cfg Config, events func(Event), log *logger.Logger) *Coordinator {
	if cfg.SampleIntervalMs <= 0 {
		cfg.SampleIntervalMs = 3000
	}
	if cfg.MinPathDistanceM <= 0 {
		cfg.MinPathDistanceM = 1.5
	}
	return &Coordinator{
		source:   source,
		registry: reg,
		session:  telemetry.NewSession(),
		config:   cfg,
		events:   events,
		logger:   log.Named("tracking"),
	}
}

// Session exposes the local flight log.
func (c *Coordinator) Session() *telemetry.Session { return c.session }

// FlightID returns the registry id of the running flight, 0 before Start.
func (c *Coordinator) FlightID() int64 { return c.flightID }

// Start registers the flight with the registry, subscribes to telemetry,
// and launches the sampling loop plus the remaining-time countdown. It
// returns as soon as tracking is live; it is an error to start a coordinator
// twice.
func (c *Coordinator) Start(ctx context.Context, params FlightParams) error {
	if !c.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}

	c.startedAt = time.Now().UTC()
	id, err := c.registry.StartFlight(ctx, registry.StartFlightRequest{
		OperatorID:   params.OperatorID,
		DroneID:      params.DroneID,
		RouteID:      params.RouteID,
		FlightTypeID: params.FlightTypeID,
		Pilot:        params.Pilot,
	})
	if err != nil {
		c.running.Store(false)
		return err
	}
	c.flightID = id
	c.session.Start()
	c.logger.Info("live tracking started",
		logger.Int64("flight_id", id),
		logger.Int64("route_id", params.RouteID))
	c.emit(Event{Type: "flight_event", Data: map[string]any{"event": "tracking_started", "flight_id": id}})

	// The sampler starts before the subscriptions so a landing callback
	// firing mid-Start finds a fully formed loop to tear down.
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()
	go c.sample(loopCtx, done)
	if params.PlannedDurationS > 0 {
		go c.countdown(loopCtx, params.PlannedDurationS)
	}

	unsubPos, err := c.source.SubscribePosition(c.onPosition)
	if err != nil {
		c.stopSampling()
		c.running.Store(false)
		return err
	}
	c.storeUnsub(&c.unsubPos, unsubPos)

	unsubFly, err := c.source.SubscribeFlying(c.onFlying)
	if err != nil {
		c.stopSampling()
		c.running.Store(false)
		return err
	}
	c.storeUnsub(&c.unsubFly, unsubFly)
	return nil
}

// storeUnsub records a subscription release for stopSampling, or runs it
// immediately when the flight already terminated during Start.
func (c *Coordinator) storeUnsub(slot *aircraft.Unsubscribe, unsub aircraft.Unsubscribe) {
	c.mu.Lock()
	stopped := c.stopped
	if !stopped {
		*slot = unsub
	}
	c.mu.Unlock()
	if stopped {
		unsub()
	}
}

// countdown counts the planned flight duration down alongside the sampling
// loop, emitting one event per second until it reaches zero or tracking
// stops.
func (c *Coordinator) countdown(ctx context.Context, plannedS int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for left := plannedS; ; left-- {
		c.emit(Event{Type: "countdown", Data: map[string]any{
			"flight_id":    c.flightID,
			"seconds_left": left,
		}})
		if left <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) onPosition(p aircraft.Position) {
	c.posMu.Lock()
	c.latest = &p
	c.posMu.Unlock()
}

// onFlying watches for the landing edge: flying must have been observed
// true at least once, and the first true-to-false transition finishes the
// flight. Later transitions are ignored.
func (c *Coordinator) onFlying(flying bool) {
	if flying {
		c.wasAirborne.Store(true)
		return
	}
	if c.wasAirborne.Load() && c.landingHandled.CompareAndSwap(false, true) {
		c.logger.Info("landing detected, finishing flight",
			logger.Int64("flight_id", c.flightID))
		c.session.AddEvent("landing detected")
		go c.Finish(context.Background())
	}
}

func (c *Coordinator) sample(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := time.Duration(c.config.SampleIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastLat, lastLon float64
	haveLast := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.posMu.Lock()
		pos := c.latest
		c.posMu.Unlock()
		if pos == nil {
			continue
		}
		if !geo.ValidLatLon(pos.Lat, pos.Lon) {
			c.logger.Warn("discarding out-of-range position",
				logger.Float64("lat", pos.Lat),
				logger.Float64("lon", pos.Lon))
			continue
		}

		// every valid tick is logged and offered for upload; the distance
		// filter below only decides whether the rendered path gains a point
		c.session.AddTelemetry(pos.Lat, pos.Lon, pos.AltMeters, c.wasAirborne.Load() && !c.landingHandled.Load())
		c.uploadSample(pos)

		if haveLast && geo.Haversine(lastLat, lastLon, pos.Lat, pos.Lon) < c.config.MinPathDistanceM {
			continue
		}
		lastLat, lastLon = pos.Lat, pos.Lon
		haveLast = true

		c.emit(Event{Type: "flight_position", Data: map[string]any{
			"flight_id": c.flightID,
			"lat":       pos.Lat,
			"lon":       pos.Lon,
			"alt_m":     pos.AltMeters,
			"offset_ms": time.Since(c.startedAt).Milliseconds(),
		}})
	}
}

// uploadSample ships one sample to the registry with at most one upload
// outstanding. While a previous upload is still running the sample is
// dropped; the local session log keeps the only complete record.
func (c *Coordinator) uploadSample(pos *aircraft.Position) {
	if !c.uploadInFlight.CompareAndSwap(false, true) {
		return
	}
	sample := registry.TelemetrySample{
		Lat:       pos.Lat,
		Lon:       pos.Lon,
		AltMeters: pos.AltMeters,
		TimeMs:    time.Now().UnixMilli(),
	}

	go func() {
		defer c.uploadInFlight.Store(false)
		uploadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.registry.AddTelemetry(uploadCtx, c.flightID, sample); err != nil {
			// the registry copy is best-effort
			c.logger.Warn("telemetry upload failed", logger.Error(err))
		}
	}()
}

// Finish closes the flight as completed. The first terminal call (Finish or
// Abort) wins; the loser is a no-op returning nil. Registry failures are
// logged but local state still reaches its terminal form.
func (c *Coordinator) Finish(ctx context.Context) error {
	return c.terminate(ctx, "finished", c.registry.FinishFlight)
}

// Abort closes the flight as operator-aborted.
func (c *Coordinator) Abort(ctx context.Context) error {
	return c.terminate(ctx, "aborted", c.registry.AbortFlight)
}

func (c *Coordinator) terminate(ctx context.Context, kind string, call func(context.Context, int64) error) error {
	if !c.terminalSent.CompareAndSwap(false, true) {
		return nil
	}

	c.stopSampling()
	c.session.AddEvent("flight " + kind)
	c.emit(Event{Type: "flight_event", Data: map[string]any{"event": kind, "flight_id": c.flightID}})

	err := call(ctx, c.flightID)
	if err != nil {
		c.logger.Error("registry terminal call failed",
			logger.String("kind", kind),
			logger.Int64("flight_id", c.flightID),
			logger.Error(err))
	} else {
		c.logger.Info("flight closed",
			logger.String("kind", kind),
			logger.Int64("flight_id", c.flightID))
	}
	c.session.Stop()
	c.running.Store(false)
	return err
}

// stopSampling tears the loop and subscriptions down exactly once and waits
// for the sampler goroutine to exit. The state is taken under the lock so a
// landing that terminates the flight while Start is still running cannot
// leak the loop or a subscription.
func (c *Coordinator) stopSampling() {
	c.mu.Lock()
	c.stopped = true
	cancel, done := c.cancel, c.done
	unsubPos, unsubFly := c.unsubPos, c.unsubFly
	c.cancel, c.done = nil, nil
	c.unsubPos, c.unsubFly = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if unsubPos != nil {
		unsubPos()
	}
	if unsubFly != nil {
		unsubFly()
	}
}

func (c *Coordinator) emit(e Event) {
	if c.events != nil {
		c.events(e)
	}
}

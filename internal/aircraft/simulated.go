package aircraft

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wkrawczyk/dronefield/internal/geo"
	"github.com/wkrawczyk/dronefield/internal/route"
	"github.com/wkrawczyk/dronefield/pkg/logger"
)

// Simulated is an in-process aircraft. It accepts mission containers,
// "flies" the contained route at a fixed ground speed, and publishes
// position and flying-state telemetry like a hardware bridge would. Used by
// the HTTP layer when no real aircraft is connected, and by tests.
type Simulated struct {
	mutex       sync.Mutex
	waypoints   []route.Waypoint
	missionName string
	flying      bool

	posSubs    map[int]func(Position)
	flySubs    map[int]func(bool)
	nextSubID  int
	startErrs  []error // queued StartMission failures, consumed front to back
	tick       time.Duration
	speedMps   float64
	uploadTick time.Duration

	cancelFlight context.CancelFunc
	logger       *logger.Logger
}

// NewSimulated creates a simulated aircraft flying at 5 m/s with a 200ms
// telemetry tick.
func NewSimulated(log *logger.Logger) *Simulated {
	return &Simulated{
		posSubs:    make(map[int]func(Position)),
		flySubs:    make(map[int]func(bool)),
		tick:       200 * time.Millisecond,
		speedMps:   5.0,
		uploadTick: 50 * time.Millisecond,
		logger:     log.Named("sim-aircraft"),
	}
}

// SetTiming overrides the telemetry tick and upload progress tick. Tests use
// short values to keep runs fast.
func (s *Simulated) SetTiming(tick, uploadTick time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.tick = tick
	s.uploadTick = uploadTick
}

// QueueStartFailures arranges for the next len(errs) StartMission calls to
// fail with the given errors, in order. Simulates the home-point race a real
// aircraft exhibits right after powering on.
func (s *Simulated) QueueStartFailures(errs ...error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.startErrs = append(s.startErrs, errs...)
}

// PushMissionFile implements ControlService. The mission container is read
// from disk, its route extracted, and progress ticks streamed to the task.
func (s *Simulated) PushMissionFile(ctx context.Context, path string) *UploadTask {
	task := NewUploadTask()
	go func() {
		if _, err := os.Stat(path); err != nil {
			task.Complete(fmt.Errorf("mission file unreadable: %w", err))
			return
		}
		wps, err := route.ExtractFromKMZ(path)
		if err != nil {
			task.Complete(fmt.Errorf("mission container rejected: %w", err))
			return
		}

		s.mutex.Lock()
		uploadTick := s.uploadTick
		s.mutex.Unlock()

		for _, p := range []float64{0.25, 0.5, 0.75, 1.0} {
			select {
			case <-ctx.Done():
				task.Complete(ctx.Err())
				return
			case <-time.After(uploadTick):
			}
			task.ReportProgress(p)
		}

		s.mutex.Lock()
		s.waypoints = wps
		s.missionName = path
		s.mutex.Unlock()

		s.logger.Info("mission accepted",
			logger.String("path", path),
			logger.Int("waypoints", len(wps)))
		task.Complete(nil)
	}()
	return task
}

// StartMission implements ControlService. Fails if no mission was pushed or
// a queued failure is pending, otherwise begins flying the route on a
// background goroutine.
func (s *Simulated) StartMission(ctx context.Context, missionFileName string) error {
	s.mutex.Lock()
	if len(s.startErrs) > 0 {
		err := s.startErrs[0]
		s.startErrs = s.startErrs[1:]
		s.mutex.Unlock()
		return err
	}
	if len(s.waypoints) == 0 {
		s.mutex.Unlock()
		return fmt.Errorf("no mission loaded")
	}
	if s.flying {
		s.mutex.Unlock()
		return fmt.Errorf("mission already in progress")
	}
	wps := make([]route.Waypoint, len(s.waypoints))
	copy(wps, s.waypoints)
	tick := s.tick
	speed := s.speedMps

	flightCtx, cancel := context.WithCancel(context.Background())
	s.cancelFlight = cancel
	s.flying = true
	s.mutex.Unlock()

	s.publishFlying(true)
	go s.fly(flightCtx, wps, tick, speed)
	return nil
}

// StopMission aborts the current flight, if any.
func (s *Simulated) StopMission() {
	s.mutex.Lock()
	cancel := s.cancelFlight
	s.mutex.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Simulated) fly(ctx context.Context, wps []route.Waypoint, tick time.Duration, speed float64) {
	defer func() {
		s.mutex.Lock()
		s.flying = false
		s.cancelFlight = nil
		s.mutex.Unlock()
		s.publishFlying(false)
	}()

	stepM := speed * tick.Seconds()
	pos := Position{Lat: wps[0].Lat, Lon: wps[0].Lon, AltMeters: wps[0].AltMeters}
	s.publishPosition(pos)

	for _, wp := range wps[1:] {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(tick):
			}
			remaining := geo.Haversine(pos.Lat, pos.Lon, wp.Lat, wp.Lon)
			if remaining <= stepM {
				pos = Position{Lat: wp.Lat, Lon: wp.Lon, AltMeters: wp.AltMeters}
				s.publishPosition(pos)
				break
			}
			frac := stepM / remaining
			pos.Lat += (wp.Lat - pos.Lat) * frac
			pos.Lon += (wp.Lon - pos.Lon) * frac
			s.publishPosition(pos)
		}
	}
	s.logger.Info("route complete", logger.String("mission", s.missionName))
	// hover briefly at the last waypoint before "landing"
	select {
	case <-ctx.Done():
	case <-time.After(tick):
	}
}

func (s *Simulated) publishPosition(p Position) {
	s.mutex.Lock()
	subs := make([]func(Position), 0, len(s.posSubs))
	for _, fn := range s.posSubs {
		subs = append(subs, fn)
	}
	s.mutex.Unlock()
	for _, fn := range subs {
		fn(p)
	}
}

func (s *Simulated) publishFlying(flying bool) {
	s.mutex.Lock()
	subs := make([]func(bool), 0, len(s.flySubs))
	for _, fn := range s.flySubs {
		subs = append(subs, fn)
	}
	s.mutex.Unlock()
	for _, fn := range subs {
		fn(flying)
	}
}

// SubscribePosition implements TelemetrySource.
func (s *Simulated) SubscribePosition(fn func(Position)) (Unsubscribe, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.posSubs[id] = fn
	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		delete(s.posSubs, id)
	}, nil
}

// SubscribeFlying implements TelemetrySource.
func (s *Simulated) SubscribeFlying(fn func(bool)) (Unsubscribe, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.flySubs[id] = fn
	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		delete(s.flySubs, id)
	}, nil
}

// Flying reports whether a simulated flight is in progress.
func (s *Simulated) Flying() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.flying
}

var _ ControlService = (*Simulated)(nil)
var _ TelemetrySource = (*Simulated)(nil)

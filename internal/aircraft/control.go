// Package aircraft abstracts the vendor flight-controller surface: mission
// file upload, mission start, and key-value telemetry subscriptions. The
// upload coordinator drives the multi-stage upload/start protocol against
// whatever ControlService implementation is wired in (hardware bridge or the
// in-process simulator).
package aircraft

import (
	"context"
	"sync"
)

// Position is one aircraft or phone position report.
type Position struct {
	Lat       float64
	Lon       float64
	AltMeters *float64
}

// UploadTask is the handle for an in-flight mission file transfer: a
// progress stream plus a terminal result. Progress ticks are in 0..1 and
// are not guaranteed strictly increasing.
type UploadTask struct {
	progress chan float64
	done     chan error
	once     sync.Once
}

// NewUploadTask creates a task handle. The producing side calls
// ReportProgress and finally Complete exactly once.
func NewUploadTask() *UploadTask {
	return &UploadTask{
		progress: make(chan float64, 16),
		done:     make(chan error, 1),
	}
}

// ReportProgress publishes a progress tick. If the consumer lags, the
// oldest pending tick is dropped; progress is advisory.
func (t *UploadTask) ReportProgress(p float64) {
	select {
	case t.progress <- p:
	default:
		select {
		case <-t.progress:
		default:
		}
		select {
		case t.progress <- p:
		default:
		}
	}
}

// Complete terminates the task. err nil means success. Subsequent calls are
// ignored.
func (t *UploadTask) Complete(err error) {
	t.once.Do(func() {
		t.done <- err
		close(t.done)
		close(t.progress)
	})
}

// Progress returns the progress stream. It is closed on completion.
func (t *UploadTask) Progress() <-chan float64 { return t.progress }

// Done returns the terminal-result channel.
func (t *UploadTask) Done() <-chan error { return t.done }

// ControlService is the aircraft control contract.
type ControlService interface {
	// PushMissionFile starts streaming the mission container at path to the
	// aircraft and returns immediately with the task handle.
	PushMissionFile(ctx context.Context, path string) *UploadTask

	// StartMission issues a start command for the previously pushed mission.
	StartMission(ctx context.Context, missionFileName string) error
}

// Unsubscribe deregisters a telemetry listener. Implementations tolerate a
// second call, but listeners are expected to pair one subscribe with one
// unsubscribe.
type Unsubscribe func()

// TelemetrySource is a key-value telemetry feed: position reports and the
// boolean flying state. Callbacks may fire on arbitrary source goroutines.
type TelemetrySource interface {
	SubscribePosition(fn func(Position)) (Unsubscribe, error)
	SubscribeFlying(fn func(bool)) (Unsubscribe, error)
}

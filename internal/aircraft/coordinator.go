package aircraft

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/wkrawczyk/dronefield/pkg/logger"
)

// UploadState enumerates the upload-and-start pipeline stages.
type UploadState int

const (
	StateNotStarted UploadState = iota
	StateUploading
	StateUploadFailed
	StateUploadedAwaitingStart
	StateStartAttempt
	StateStartFailed
	StateStarted
)

func (s UploadState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateUploading:
		return "uploading"
	case StateUploadFailed:
		return "upload_failed"
	case StateUploadedAwaitingStart:
		return "uploaded_awaiting_start"
	case StateStartAttempt:
		return "start_attempt"
	case StateStartFailed:
		return "start_failed"
	case StateStarted:
		return "started"
	default:
		return "unknown"
	}
}

// StateUpdate is one observable transition of the upload pipeline.
type StateUpdate struct {
	State    UploadState
	Progress float64 // valid for StateUploading
	Attempt  int     // valid for StateStartAttempt and StateStartFailed
	Reason   string  // failure description, empty otherwise
}

// UploadCoordinator drives a mission file through upload and start against a
// ControlService. Updates are delivered to a single observer in order, from
// one delivery goroutine, so the observer never sees Started before
// Uploading.
type UploadCoordinator struct {
	control     ControlService
	maxAttempts int
	retryDelay  time.Duration
	logger      *logger.Logger
}

const (
	defaultStartAttempts = 20
	defaultStartDelay    = 2 * time.Second
)

// NewUploadCoordinator creates a coordinator with the default retry policy:
// up to 20 start attempts spaced 2s apart, retrying only while the aircraft
// reports an unset home point.
func NewUploadCoordinator(control ControlService, log *logger.Logger) *UploadCoordinator {
	return &UploadCoordinator{
		control:     control,
		maxAttempts: defaultStartAttempts,
		retryDelay:  defaultStartDelay,
		logger:      log.Named("upload"),
	}
}

// SetRetryPolicy overrides the start retry policy. Zero or negative
// attempts are clamped to one.
func (c *UploadCoordinator) SetRetryPolicy(maxAttempts int, delay time.Duration) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	c.maxAttempts = maxAttempts
	c.retryDelay = delay
}

// Run uploads the mission container at path and then attempts to start it,
// blocking until the pipeline reaches a terminal state or ctx is cancelled.
// observer may be nil. The returned update is the terminal state; its
// delivery to the observer has completed before Run returns.
func (c *UploadCoordinator) Run(ctx context.Context, path string, observer func(StateUpdate)) StateUpdate {
	updates := make(chan StateUpdate, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range updates {
			if observer != nil {
				observer(u)
			}
		}
	}()

	final := c.run(ctx, path, updates)
	close(updates)
	<-done
	return final
}

func (c *UploadCoordinator) run(ctx context.Context, path string, updates chan<- StateUpdate) StateUpdate {
	emit := func(u StateUpdate) StateUpdate {
		updates <- u
		return u
	}

	c.logger.Info("pushing mission file", logger.String("path", path))
	emit(StateUpdate{State: StateUploading})

	task := c.control.PushMissionFile(ctx, path)
	for {
		select {
		case p, ok := <-task.Progress():
			if !ok {
				continue
			}
			emit(StateUpdate{State: StateUploading, Progress: p})
		case err := <-task.Done():
			if err != nil {
				c.logger.Error("mission upload failed", logger.Error(err))
				return emit(StateUpdate{State: StateUploadFailed, Reason: err.Error()})
			}
			return c.start(ctx, filepath.Base(path), emit)
		case <-ctx.Done():
			return emit(StateUpdate{State: StateUploadFailed, Reason: ctx.Err().Error()})
		}
	}
}

func (c *UploadCoordinator) start(ctx context.Context, fileName string, emit func(StateUpdate) StateUpdate) StateUpdate {
	emit(StateUpdate{State: StateUploadedAwaitingStart})

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		emit(StateUpdate{State: StateStartAttempt, Attempt: attempt})
		err := c.control.StartMission(ctx, fileName)
		if err == nil {
			c.logger.Info("mission started",
				logger.String("file", fileName),
				logger.Int("attempt", attempt))
			return emit(StateUpdate{State: StateStarted, Attempt: attempt})
		}

		if !homePointPending(err.Error()) || attempt == c.maxAttempts {
			c.logger.Error("mission start failed",
				logger.Int("attempt", attempt),
				logger.Error(err))
			return emit(StateUpdate{State: StateStartFailed, Attempt: attempt, Reason: err.Error()})
		}

		c.logger.Info("home point not set yet, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", c.retryDelay))
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return emit(StateUpdate{
				State:   StateStartFailed,
				Attempt: attempt,
				Reason:  fmt.Sprintf("cancelled while waiting to retry: %v", ctx.Err()),
			})
		}
	}
	// unreachable, the loop always returns
	return StateUpdate{State: StateStartFailed, Attempt: c.maxAttempts}
}

// homePointPending reports whether a start-command failure looks like the
// transient "home point not recorded yet" condition that resolves on its own
// once the aircraft acquires a GPS fix. Anything else fails fast.
func homePointPending(desc string) bool {
	lower := strings.ToLower(desc)
	return strings.Contains(lower, "home") ||
		strings.Contains(lower, "not updated")
}

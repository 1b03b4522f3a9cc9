package tracking

import (
	"context"
	"sync/atomic"

	"github.com/wkrawczyk/dronefield/internal/registry"
)

// OfflineRegistry is a RegistryAPI for stations running without a reachable
// registry (field tests, simulator mode). Flight ids are assigned locally
// and all calls succeed.
type OfflineRegistry struct {
	nextID atomic.Int64
}

// NewOfflineRegistry creates an offline registry stand-in.
func NewOfflineRegistry() *OfflineRegistry {
	return &OfflineRegistry{}
}

func (o *OfflineRegistry) StartFlight(ctx context.Context, req registry.StartFlightRequest) (int64, error) {
	return o.nextID.Add(1), nil
}

func (o *OfflineRegistry) FinishFlight(ctx context.Context, flightID int64) error { return nil }

func (o *OfflineRegistry) AbortFlight(ctx context.Context, flightID int64) error { return nil }

func (o *OfflineRegistry) AddTelemetry(ctx context.Context, flightID int64, sample registry.TelemetrySample) error {
	return nil
}

var _ RegistryAPI = (*OfflineRegistry)(nil)

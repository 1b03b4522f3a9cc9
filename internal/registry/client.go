// Package registry talks to the central flight-registry service. The wire
// format is fixed by the registry's Polish API: flight ids travel as
// id_lotu, start timestamps as czas_startu, altitudes as wysokosc_m, sample
// timestamps as czas_ms (absolute epoch milliseconds).
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wkrawczyk/dronefield/pkg/logger"
)

var (
	// ErrNetwork marks failures before an HTTP response was received
	// (DNS, refused connection, timeout). Typically transient.
	ErrNetwork = errors.New("registry unreachable")

	// ErrServer marks non-2xx responses from the registry.
	ErrServer = errors.New("registry rejected request")
)

// Config holds registry client settings.
type Config struct {
	BaseURL               string `toml:"base_url"`
	APIKey                string `toml:"api_key"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Client handles HTTP requests to the flight registry.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a registry client.
func NewClient(config Config, log *logger.Logger) *Client {
	timeout := time.Duration(config.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.Named("registry-client"),
	}
}

// StartFlightRequest announces a new flight. The registry resolves the
// operator, airframe, route, and flight-type rows from their ids and assigns
// czas_startu itself.
type StartFlightRequest struct {
	OperatorID   int64 `json:"id_operatora"`
	DroneID      int64 `json:"id_drona"`
	RouteID      int64 `json:"id_trasy"`
	FlightTypeID int64 `json:"id_typ"`

	// Pilot is recorded locally alongside the flight; the registry derives
	// the pilot from id_operatora so it never travels on the wire.
	Pilot string `json:"-"`
}

// StartFlightResponse carries the registry-assigned flight id.
type StartFlightResponse struct {
	FlightID  int64  `json:"id_lotu"`
	StartedAt string `json:"czas_startu,omitempty"`
	Status    string `json:"status,omitempty"`
}

// TelemetrySample is one position report.
type TelemetrySample struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	AltMeters *float64 `json:"wysokosc_m,omitempty"`
	TimeMs    int64    `json:"czas_ms"` // absolute epoch milliseconds
}

// StartFlight registers a flight and returns its registry id.
func (c *Client) StartFlight(ctx context.Context, req StartFlightRequest) (int64, error) {
	var resp StartFlightResponse
	if err := c.do(ctx, http.MethodPost, "lot/start", req, &resp); err != nil {
		return 0, err
	}
	c.logger.Info("flight registered", logger.Int64("flight_id", resp.FlightID))
	return resp.FlightID, nil
}

// FinishFlight marks a flight as completed normally.
func (c *Client) FinishFlight(ctx context.Context, flightID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("lot/%d/finish", flightID), nil, nil)
}

// AbortFlight marks a flight as aborted by the operator.
func (c *Client) AbortFlight(ctx context.Context, flightID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("lot/%d/abort", flightID), nil, nil)
}

// AddTelemetry uploads one position sample for a flight.
func (c *Client) AddTelemetry(ctx context.Context, flightID int64, sample TelemetrySample) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("lot/%d/telemetria", flightID), sample, nil)
}

// GetRoutePoints fetches the waypoint records of a registry-hosted route.
// Records are returned loosely typed; route.FromRecords normalizes them.
func (c *Client) GetRoutePoints(ctx context.Context, routeID int64) ([]map[string]any, error) {
	var records []map[string]any
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("trasy/%d/punkty", routeID), nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	url := fmt.Sprintf("%s/%s", c.config.BaseURL, path)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding registry request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("building registry request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("registry request failed",
			logger.String("method", method),
			logger.String("path", path),
			logger.Error(err))
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("registry returned error status",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status_code", resp.StatusCode))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrServer, method, path, resp.StatusCode, snippet)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("%w: decoding response for %s %s: %v", ErrServer, method, path, err)
		}
	}
	return nil
}

package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/wkrawczyk/dronefield/internal/registry"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig    `toml:"server"`   // HTTP server settings
	Logging  LoggingConfig   `toml:"logging"`  // Application logging settings
	Storage  StorageConfig   `toml:"storage"`  // Data persistence settings
	Station  StationConfig   `toml:"station"`  // Field station identity and location
	Registry registry.Config `toml:"registry"` // Central flight registry client settings
	Mission  MissionConfig   `toml:"mission"`  // Mission generation settings
	Upload   UploadConfig    `toml:"upload"`   // Aircraft upload/start retry settings
	Tracking TrackingConfig  `toml:"tracking"` // Live flight tracking settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	StaticFilesDir     string   `toml:"static_files_dir"`      // Directory to serve static files from (e.g., "www")
}

// LoggingConfig contains application logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
}

// StorageConfig contains data persistence settings
type StorageConfig struct {
	DatabasePath string `toml:"database_path"` // SQLite database file path
	MissionDir   string `toml:"mission_dir"`   // Directory for generated mission containers
}

// StationConfig identifies this field station.
type StationConfig struct {
	Name              string  `toml:"name"`                // Station display name
	Pilot             string  `toml:"pilot"`               // Default pilot name reported to the registry
	Latitude          float64 `toml:"latitude"`            // Station latitude for declination lookups
	Longitude         float64 `toml:"longitude"`           // Station longitude for declination lookups
	ElevationMeters   float64 `toml:"elevation_meters"`    // Station elevation above MSL
	UseSimulatedDrone bool    `toml:"use_simulated_drone"` // Run against the in-process aircraft simulator
}

// MissionConfig contains route-to-mission generation settings
type MissionConfig struct {
	Author          string  `toml:"author"`            // Author stamped into mission metadata
	DefaultHeightM  float64 `toml:"default_height_m"`  // Execute height when a waypoint has none
	DefaultSpeedMps float64 `toml:"default_speed_mps"` // Flight speed when a waypoint has none
}

// UploadConfig contains mission upload/start retry settings
type UploadConfig struct {
	StartMaxAttempts int `toml:"start_max_attempts"` // Start command attempts while the home point settles
	StartDelayMs     int `toml:"start_delay_ms"`     // Delay between start attempts
}

// TrackingConfig contains live flight tracking settings
type TrackingConfig struct {
	SampleIntervalMs int     `toml:"sample_interval_ms"`  // Telemetry sampling cadence
	MinPathDistanceM float64 `toml:"min_path_distance_m"` // Minimum movement before the rendered path gains a point
}

// Load reads and parses the TOML config at path.
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// LoadWithFallback tries the preferred path first, then the conventional
// locations.
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // Legacy location in configs/ folder
		"config.toml",         // Root directory
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "dronefield.db"
	}
	if c.Storage.MissionDir == "" {
		c.Storage.MissionDir = "missions"
	}
	if c.Mission.DefaultHeightM == 0 {
		c.Mission.DefaultHeightM = 10.0
	}
	if c.Mission.DefaultSpeedMps == 0 {
		c.Mission.DefaultSpeedMps = 3.0
	}
	if c.Upload.StartMaxAttempts == 0 {
		c.Upload.StartMaxAttempts = 20
	}
	if c.Upload.StartDelayMs == 0 {
		c.Upload.StartDelayMs = 2000
	}
	if c.Tracking.SampleIntervalMs == 0 {
		c.Tracking.SampleIntervalMs = 3000
	}
	if c.Tracking.MinPathDistanceM == 0 {
		c.Tracking.MinPathDistanceM = 1.5
	}
	if c.Registry.RequestTimeoutSeconds == 0 {
		c.Registry.RequestTimeoutSeconds = 10
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q (expected debug, info, warn or error)", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging format %q (expected console or json)", c.Logging.Format)
	}

	if c.Registry.BaseURL == "" && !c.Station.UseSimulatedDrone {
		return fmt.Errorf("registry base_url is required unless use_simulated_drone is set")
	}

	if c.Station.Latitude < -90 || c.Station.Latitude > 90 {
		return fmt.Errorf("station latitude out of range: %f", c.Station.Latitude)
	}
	if c.Station.Longitude < -180 || c.Station.Longitude > 180 {
		return fmt.Errorf("station longitude out of range: %f", c.Station.Longitude)
	}

	if c.Mission.DefaultHeightM <= 0 {
		return fmt.Errorf("mission default_height_m must be positive, got %f", c.Mission.DefaultHeightM)
	}
	if c.Mission.DefaultSpeedMps <= 0 {
		return fmt.Errorf("mission default_speed_mps must be positive, got %f", c.Mission.DefaultSpeedMps)
	}

	if c.Upload.StartMaxAttempts < 1 {
		return fmt.Errorf("upload start_max_attempts must be at least 1, got %d", c.Upload.StartMaxAttempts)
	}

	if c.Tracking.SampleIntervalMs < 100 {
		return fmt.Errorf("tracking sample_interval_ms must be at least 100, got %d", c.Tracking.SampleIntervalMs)
	}
	if c.Tracking.MinPathDistanceM < 0 {
		return fmt.Errorf("tracking min_path_distance_m must not be negative, got %f", c.Tracking.MinPathDistanceM)
	}

	return nil
}

package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/wkrawczyk/dronefield/pkg/logger"
	_ "modernc.org/sqlite"
)

// FlightRecord is one locally stored flight.
type FlightRecord struct {
	ID         int64      `json:"id"`
	RegistryID int64      `json:"registry_id"`
	RouteID    int64      `json:"route_id"`
	Pilot      string     `json:"pilot,omitempty"`
	Status     string     `json:"status"` // active, finished, aborted
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// TelemetryRecord is one stored position sample.
type TelemetryRecord struct {
	FlightID  int64    `json:"flight_id"`
	OffsetMs  int64    `json:"offset_ms"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	AltMeters *float64 `json:"alt_m,omitempty"`
}

// MissionRecord tracks a generated mission container on disk.
type MissionRecord struct {
	MissionID string    `json:"mission_id"`
	Name      string    `json:"name"`
	FilePath  string    `json:"file_path"`
	Waypoints int       `json:"waypoints"`
	CreatedAt time.Time `json:"created_at"`
}

// FlightStorage is a SQLite-based store for flights, their telemetry, and
// generated mission artifacts. It is the local source of truth; the remote
// registry copy is best-effort.
type FlightStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewFlightStorage opens (creating if needed) the database at dbPath.
func NewFlightStorage(dbPath string, log *logger.Logger) (*FlightStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=10000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := initSchema(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &FlightStorage{db: db, logger: storageLogger}, nil
}

// Close closes the database connection.
func (s *FlightStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func initSchema(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS flights (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			registry_id INTEGER NOT NULL DEFAULT 0,
			route_id INTEGER NOT NULL DEFAULT 0,
			pilot TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create flights table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS flight_telemetry (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			flight_id INTEGER NOT NULL,
			offset_ms INTEGER NOT NULL,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			alt_m REAL,
			FOREIGN KEY (flight_id) REFERENCES flights(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create flight_telemetry table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS mission_artifacts (
			mission_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			waypoints INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create mission_artifacts table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_flight_telemetry_flight ON flight_telemetry(flight_id, offset_ms)`)
	if err != nil {
		return fmt.Errorf("failed to create index on flight_telemetry: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_flights_status ON flights(status)`)
	if err != nil {
		return fmt.Errorf("failed to create index on flights.status: %w", err)
	}

	log.Info("Database schema initialized successfully")
	return nil
}

// CreateFlight inserts a new active flight and returns its local id.
func (s *FlightStorage) CreateFlight(registryID, routeID int64, pilot string, startedAt time.Time) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO flights (registry_id, route_id, pilot, status, started_at) VALUES (?, ?, ?, 'active', ?)`,
		registryID, routeID, pilot, startedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert flight: %w", err)
	}
	return res.LastInsertId()
}

// CloseFlight marks a flight finished or aborted.
func (s *FlightStorage) CloseFlight(id int64, status string, endedAt time.Time) error {
	if status != "finished" && status != "aborted" {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	res, err := s.db.Exec(
		`UPDATE flights SET status = ?, ended_at = ? WHERE id = ? AND status = 'active'`,
		status, endedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to close flight %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("flight %d not found or already closed", id)
	}
	return nil
}

// GetFlight returns one flight by local id.
func (s *FlightStorage) GetFlight(id int64) (*FlightRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, registry_id, route_id, pilot, status, started_at, ended_at FROM flights WHERE id = ?`, id)
	var f FlightRecord
	var pilot sql.NullString
	var ended sql.NullTime
	if err := row.Scan(&f.ID, &f.RegistryID, &f.RouteID, &pilot, &f.Status, &f.StartedAt, &ended); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get flight %d: %w", id, err)
	}
	f.Pilot = pilot.String
	if ended.Valid {
		t := ended.Time
		f.EndedAt = &t
	}
	return &f, nil
}

// ListFlights returns flights newest-first, capped at limit (0 means 100).
func (s *FlightStorage) ListFlights(limit int) ([]*FlightRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, registry_id, route_id, pilot, status, started_at, ended_at FROM flights ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list flights: %w", err)
	}
	defer rows.Close()

	var flights []*FlightRecord
	for rows.Next() {
		var f FlightRecord
		var pilot sql.NullString
		var ended sql.NullTime
		if err := rows.Scan(&f.ID, &f.RegistryID, &f.RouteID, &pilot, &f.Status, &f.StartedAt, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan flight row: %w", err)
		}
		f.Pilot = pilot.String
		if ended.Valid {
			t := ended.Time
			f.EndedAt = &t
		}
		flights = append(flights, &f)
	}
	return flights, rows.Err()
}

// AddTelemetry stores a batch of samples in one transaction.
func (s *FlightStorage) AddTelemetry(flightID int64, samples []TelemetryRecord) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin telemetry tx: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO flight_telemetry (flight_id, offset_ms, lat, lon, alt_m) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare telemetry insert: %w", err)
	}
	defer stmt.Close()

	for _, sm := range samples {
		var alt any
		if sm.AltMeters != nil {
			alt = *sm.AltMeters
		}
		if _, err := stmt.Exec(flightID, sm.OffsetMs, sm.Lat, sm.Lon, alt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert telemetry row: %w", err)
		}
	}
	return tx.Commit()
}

// GetTelemetry returns a flight's samples ordered by offset.
func (s *FlightStorage) GetTelemetry(flightID int64) ([]TelemetryRecord, error) {
	rows, err := s.db.Query(
		`SELECT flight_id, offset_ms, lat, lon, alt_m FROM flight_telemetry WHERE flight_id = ? ORDER BY offset_ms`, flightID)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var out []TelemetryRecord
	for rows.Next() {
		var r TelemetryRecord
		var alt sql.NullFloat64
		if err := rows.Scan(&r.FlightID, &r.OffsetMs, &r.Lat, &r.Lon, &alt); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		if alt.Valid {
			v := alt.Float64
			r.AltMeters = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveMission records a generated mission artifact, replacing any previous
// record with the same id.
func (s *FlightStorage) SaveMission(m MissionRecord) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO mission_artifacts (mission_id, name, file_path, waypoints, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.MissionID, m.Name, m.FilePath, m.Waypoints, m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save mission %s: %w", m.MissionID, err)
	}
	return nil
}

// GetMission returns one mission artifact, nil when absent.
func (s *FlightStorage) GetMission(missionID string) (*MissionRecord, error) {
	row := s.db.QueryRow(
		`SELECT mission_id, name, file_path, waypoints, created_at FROM mission_artifacts WHERE mission_id = ?`, missionID)
	var m MissionRecord
	if err := row.Scan(&m.MissionID, &m.Name, &m.FilePath, &m.Waypoints, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mission %s: %w", missionID, err)
	}
	return &m, nil
}

// ListMissions returns mission artifacts newest-first.
func (s *FlightStorage) ListMissions() ([]MissionRecord, error) {
	rows, err := s.db.Query(
		`SELECT mission_id, name, file_path, waypoints, created_at FROM mission_artifacts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	defer rows.Close()

	var out []MissionRecord
	for rows.Next() {
		var m MissionRecord
		if err := rows.Scan(&m.MissionID, &m.Name, &m.FilePath, &m.Waypoints, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mission row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

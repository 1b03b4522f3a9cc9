// Package mission turns waypoint sequences into aircraft-consumable mission
// containers: a KML route document first, then the KMZ/WPML container the
// flight controller actually accepts, with a structural validator gating
// uploads.
package mission

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	kml "github.com/twpayne/go-kml"

	"github.com/wkrawczyk/dronefield/internal/route"
	"github.com/wkrawczyk/dronefield/pkg/logger"
)

// Defaults supplies per-waypoint height and speed for points that don't
// carry their own.
type Defaults struct {
	HeightM  float64
	SpeedMps float64
}

// Artifact is a validated, immutable mission container ready for upload.
type Artifact struct {
	FilePath  string           `json:"file_path"`
	Waypoints []route.Waypoint `json:"waypoints"`
	MissionID string           `json:"mission_id"`
	CreatedAt time.Time        `json:"created_at"`
}

// Builder generates mission artifacts under a fixed output directory.
type Builder struct {
	compiler Compiler
	outDir   string
	logger   *logger.Logger
}

// NewBuilder creates a mission builder writing into outDir.
func NewBuilder(compiler Compiler, outDir string, log *logger.Logger) *Builder {
	return &Builder{
		compiler: compiler,
		outDir:   outDir,
		logger:   log.Named("mission-builder"),
	}
}

// BuildMission serializes the points to the KML dialect, compiles it to a
// KMZ container and returns the resulting artifact. Output paths are
// deterministic for a given mission name; a pre-existing container is
// deleted before regeneration.
func (b *Builder) BuildMission(points []route.Waypoint, name string, defaults Defaults) (*Artifact, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientWaypoints, len(points))
	}

	route.SortByOrder(points)
	resolved := applyDefaults(points, defaults)

	if err := os.MkdirAll(b.outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mission output dir: %w", err)
	}

	kmlPath := filepath.Join(b.outDir, name+".kml")
	kmzPath := filepath.Join(b.outDir, name+".kmz")

	kmlFile, err := os.Create(kmlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create route KML: %w", err)
	}
	if err := WriteRouteKML(kmlFile, name, resolved); err != nil {
		kmlFile.Close()
		return nil, fmt.Errorf("failed to write route KML: %w", err)
	}
	if err := kmlFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to write route KML: %w", err)
	}

	// Regeneration is all-or-nothing, so a stale container is just removed.
	if err := os.Remove(kmzPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale mission container: %w", err)
	}

	if err := b.compiler.ConvertKMLToKMZ(kmlPath, kmzPath, HeightModeEGM96); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	info, err := os.Stat(kmzPath)
	if err != nil || info.Size() == 0 {
		return nil, fmt.Errorf("%w: compiler produced no output at %s", ErrGenerationFailed, kmzPath)
	}

	artifact := &Artifact{
		FilePath:  kmzPath,
		Waypoints: resolved,
		MissionID: uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	b.logger.Info("Mission container generated",
		logger.String("name", name),
		logger.String("path", kmzPath),
		logger.Int("waypoints", len(resolved)),
		logger.Int64("size_bytes", info.Size()))

	return artifact, nil
}

// OutputDir returns the directory generated artifacts are written to.
func (b *Builder) OutputDir() string { return b.outDir }

// PrepareFromFile turns a user-picked file into a mission artifact. A
// compiled container (.kmz) is passed through unchanged; a .kml route is
// parsed and built; anything else is rejected.
func (b *Builder) PrepareFromFile(path string, defaults Defaults) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceFileMissing, path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".kmz":
		points, err := route.ExtractFromKMZ(path)
		if err != nil {
			return nil, err
		}
		b.logger.Info("Using compiled mission container as-is",
			logger.String("path", path),
			logger.Int64("size_bytes", info.Size()))
		return &Artifact{
			FilePath:  path,
			Waypoints: points,
			MissionID: uuid.NewString(),
			CreatedAt: time.Now().UTC(),
		}, nil
	case ".kml":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrSourceFileMissing, path)
		}
		defer f.Close()
		points, err := route.ParseKML(f)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		return b.BuildMission(points, name, defaults)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// WriteRouteKML serializes the waypoint sequence to standard KML 2.2: one
// tessellated LineString placemark covering all points plus one Point
// placemark per waypoint, named "<name>_P<index>".
func WriteRouteKML(w io.Writer, name string, points []route.Waypoint) error {
	coords := make([]kml.Coordinate, 0, len(points))
	for _, p := range points {
		coords = append(coords, kml.Coordinate{Lon: p.Lon, Lat: p.Lat, Alt: altOrZero(p)})
	}

	doc := kml.Document(kml.Name(name))
	doc.Add(kml.Placemark(
		kml.Name(name+"_LINE"),
		kml.LineString(
			kml.Tessellate(true),
			kml.Coordinates(coords...),
		),
	))
	for i, p := range points {
		doc.Add(kml.Placemark(
			kml.Name(fmt.Sprintf("%s_P%d", name, i)),
			kml.Point(
				kml.Coordinates(kml.Coordinate{Lon: p.Lon, Lat: p.Lat, Alt: altOrZero(p)}),
			),
		))
	}

	return kml.KML(doc).WriteIndent(w, "", "  ")
}

// applyDefaults returns a copy of points with missing heights and speeds
// filled in from the defaults.
func applyDefaults(points []route.Waypoint, defaults Defaults) []route.Waypoint {
	out := make([]route.Waypoint, len(points))
	copy(out, points)
	for i := range out {
		if out[i].AltMeters == nil {
			h := defaults.HeightM
			out[i].AltMeters = &h
		}
		if out[i].SpeedMps == nil {
			s := defaults.SpeedMps
			out[i].SpeedMps = &s
		}
	}
	return out
}

func altOrZero(p route.Waypoint) float64 {
	if p.AltMeters != nil {
		return *p.AltMeters
	}
	return 0
}

package mission

import "github.com/wkrawczyk/dronefield/internal/route"

// Height mode values accepted by the compiler.
const (
	HeightModeEGM96    = "EGM96"
	HeightModeRelative = "relativeToStartPoint"
	HeightModeWGS84    = "WGS84"
)

// Meta carries mission identification metadata embedded in the container.
type Meta struct {
	Author     string
	CreateTime int64 // unix milliseconds
	UpdateTime int64 // unix milliseconds
}

// Config is the mission configuration block the aircraft executes.
type Config struct {
	FinishAction           string  // action after the last waypoint (go home)
	FlyToWaylineMode       string  // transit mode to the first waypoint
	ExitOnRCLost           string  // behavior selector on RC link loss
	ExecuteRCLostAction    string  // the configured RC-lost action
	TakeoffSecurityHeightM float64 // minimum climb before transit
	GlobalTransitionSpeed  float64 // m/s between waypoints without own speed
	GlobalRTHHeightM       float64 // return-home altitude
	DroneEnumValue         int
	DroneSubEnumValue      int
	TurnMode               string // per-waypoint turn behavior
}

// DefaultConfig returns the mission configuration used for generated
// missions: return home on finish, safe transit, execute the configured
// RC-lost action, curvature-discontinuous turn-and-stop at waypoints.
func DefaultConfig(transitionSpeed, rthHeight float64) Config {
	return Config{
		FinishAction:           "goHome",
		FlyToWaylineMode:       "safely",
		ExitOnRCLost:           "executeLostAction",
		ExecuteRCLostAction:    "goBack",
		TakeoffSecurityHeightM: 20.0,
		GlobalTransitionSpeed:  transitionSpeed,
		GlobalRTHHeightM:       rthHeight,
		DroneEnumValue:         89,
		DroneSubEnumValue:      0,
		TurnMode:               "toPointAndStopWithDiscontinuityCurvature",
	}
}

// Compiler is the mission-compiler contract: it turns route geometry into
// the binary container the flight controller consumes, and can run the
// vendor-side validation of an existing container.
type Compiler interface {
	// ConvertKMLToKMZ reads the route KML at kmlPath and writes a compiled
	// mission container to outPath.
	ConvertKMLToKMZ(kmlPath, outPath, heightMode string) error

	// GenerateMissionFile writes a mission container directly from an
	// explicit waypoint sequence, metadata and configuration.
	GenerateMissionFile(outPath string, meta Meta, cfg Config, waypoints []route.Waypoint) error

	// ValidateMission returns the compiler's diagnostic for the container.
	ValidateMission(kmzPath string) (string, error)
}

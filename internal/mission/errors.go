package mission

import "errors"

var (
	// ErrInsufficientWaypoints means the route has fewer than two points and
	// no mission can be generated from it.
	ErrInsufficientWaypoints = errors.New("mission needs at least 2 waypoints")

	// ErrGenerationFailed means the compiler finished without producing a
	// usable (existing, non-empty) mission container.
	ErrGenerationFailed = errors.New("mission file generation failed")

	// ErrSourceFileMissing means the user-supplied source file does not exist.
	ErrSourceFileMissing = errors.New("mission source file missing")

	// ErrUnsupportedFormat means the source file is neither KML nor KMZ.
	ErrUnsupportedFormat = errors.New("unsupported mission source format")

	// ErrEmpty means the mission container is missing or zero length.
	ErrEmpty = errors.New("mission container is missing or empty")

	// ErrNotAZip means the mission container cannot be opened as a ZIP archive.
	ErrNotAZip = errors.New("mission container is not a zip archive")
)

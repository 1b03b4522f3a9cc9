package mission

import (
	"archive/zip"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Result is the outcome of a structural container check. OK=false with a nil
// error is advisory: the container opened fine but lacks the waylines
// document, which the aircraft will usually refuse.
type Result struct {
	OK      bool     `json:"ok"`
	Message string   `json:"message"`
	Entries []string `json:"entries,omitempty"`
}

// Validate inspects the mission container at path as a ZIP archive and
// checks for an entry ending in waylines.wpml (case-insensitive). Presence
// is necessary, not sufficient, for the aircraft to accept the mission.
func Validate(path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrEmpty, path)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrNotAZip, path, err)
	}
	defer zr.Close()

	entries := make([]string, 0, len(zr.File))
	hasWpml := false
	for _, f := range zr.File {
		entries = append(entries, f.Name)
		if strings.HasSuffix(strings.ToLower(f.Name), "waylines.wpml") {
			hasWpml = true
		}
	}
	sort.Strings(entries)

	if !hasWpml {
		return Result{
			OK:      false,
			Message: "no waylines.wpml entry (aircraft will usually refuse to start)",
			Entries: entries,
		}, nil
	}
	return Result{
		OK:      true,
		Message: "waylines.wpml present",
		Entries: entries,
	}, nil
}

// Package route extracts ordered waypoint sequences from the heterogeneous
// geometry sources the application deals with: raw KML text, WPML documents
// found inside mission containers (KMZ), and loosely-typed point lists
// returned by the flight registry API.
package route

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrEmptyGeometry means the source was structurally valid but yielded
	// zero usable points.
	ErrEmptyGeometry = errors.New("no usable points in geometry source")

	// ErrMalformedSource means the source could not be read as the expected
	// format at all.
	ErrMalformedSource = errors.New("malformed geometry source")
)

// ParseKML extracts waypoints from the first <coordinates> block of a KML
// document. Each whitespace-separated token is "lon,lat[,alt]" (longitude
// first, per KML convention). Tokens with unparseable lat or lon are
// skipped.
func ParseKML(r io.Reader) ([]Waypoint, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSource, err)
	}
	text := string(data)

	const startTag = "<coordinates>"
	const endTag = "</coordinates>"
	start := strings.Index(text, startTag)
	end := strings.Index(text, endTag)
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("%w: no <coordinates> section", ErrMalformedSource)
	}

	// Coordinate tuples are whitespace-separated; generators differ on
	// whether that whitespace is newlines or spaces.
	block := text[start+len(startTag) : end]
	var points []Waypoint
	for _, token := range strings.Fields(block) {
		parts := strings.Split(token, ",")
		if len(parts) < 2 {
			continue
		}
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errLon != nil || errLat != nil {
			continue
		}
		wp := Waypoint{Order: len(points), Lat: lat, Lon: lon}
		if len(parts) >= 3 {
			if alt, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64); err == nil {
				wp.AltMeters = &alt
			}
		}
		points = append(points, wp)
	}

	if len(points) == 0 {
		return nil, ErrEmptyGeometry
	}
	return points, nil
}

// ParseWPML extracts waypoints from a waylines.wpml document. Waypoints are
// framed by Placemark elements; within each placemark the parser collects
// coordinates (lon,lat), executeHeight and waypointSpeed. A placemark
// contributes a waypoint only when both position and height were captured;
// speed is optional. Unrecognized tags are ignored.
func ParseWPML(r io.Reader) ([]Waypoint, error) {
	dec := xml.NewDecoder(r)

	var points []Waypoint
	var inPlacemark bool
	var curLat, curLon, curHeight, curSpeed *float64

	flush := func() {
		if curLat != nil && curLon != nil && curHeight != nil {
			points = append(points, Waypoint{
				Order:     len(points),
				Lat:       *curLat,
				Lon:       *curLon,
				AltMeters: curHeight,
				SpeedMps:  curSpeed,
			})
		}
		curLat, curLon, curHeight, curSpeed = nil, nil, nil, nil
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSource, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Placemark":
				inPlacemark = true
				curLat, curLon, curHeight, curSpeed = nil, nil, nil, nil
			case "coordinates":
				if !inPlacemark {
					continue
				}
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					continue
				}
				parts := strings.Split(strings.TrimSpace(text), ",")
				if len(parts) < 2 {
					continue
				}
				lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
				lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
				if errLon == nil && errLat == nil {
					curLon, curLat = &lon, &lat
				}
			case "executeHeight":
				if !inPlacemark {
					continue
				}
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					continue
				}
				if h, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
					curHeight = &h
				}
			case "waypointSpeed":
				if !inPlacemark {
					continue
				}
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					continue
				}
				if s, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
					curSpeed = &s
				}
			}
		case xml.EndElement:
			if t.Name.Local == "Placemark" {
				flush()
				inPlacemark = false
			}
		}
	}

	if len(points) == 0 {
		return nil, ErrEmptyGeometry
	}
	return points, nil
}

// wpmlEntryNames lists the paths under which aircraft mission containers
// carry the waylines document. The wpmz/ prefix casing varies by generator.
var wpmlEntryNames = []string{
	"wpmz/waylines.wpml",
	"WPMZ/waylines.wpml",
	"waylines.wpml",
}

// ExtractFromKMZ opens the mission container at path and parses the waypoint
// sequence out of its waylines.wpml entry.
func ExtractFromKMZ(path string) ([]Waypoint, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip archive: %v", ErrMalformedSource, err)
	}
	defer zr.Close()

	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		byName[f.Name] = f
	}

	for _, name := range wpmlEntryNames {
		f, ok := byName[name]
		if !ok {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSource, err)
		}
		points, perr := ParseWPML(rc)
		rc.Close()
		return points, perr
	}

	return nil, fmt.Errorf("%w: waylines.wpml not found (looked for %v)", ErrMalformedSource, wpmlEntryNames)
}

// FromRecords turns loosely-typed key/value rows from the registry API into
// an ordered waypoint sequence. The backend names its columns inconsistently
// across endpoints, so order may arrive as kolejnosc/lp/order, latitude as
// lat/latitude and longitude as lon/lng/longitude, with numeric or string
// values. Rows missing order, lat or lon are dropped.
func FromRecords(rows []map[string]any) ([]Waypoint, error) {
	var points []Waypoint
	for _, row := range rows {
		order, okOrder := intField(row, "kolejnosc", "lp", "order")
		lat, okLat := floatField(row, "lat", "latitude")
		lon, okLon := floatField(row, "lon", "lng", "longitude")
		if !okOrder || !okLat || !okLon {
			continue
		}
		wp := Waypoint{Order: order, Lat: lat, Lon: lon}
		if alt, ok := floatField(row, "wysokosc_m", "alt_m", "altitude"); ok {
			wp.AltMeters = &alt
		}
		points = append(points, wp)
	}
	if len(points) == 0 {
		return nil, ErrEmptyGeometry
	}
	SortByOrder(points)
	return points, nil
}

func floatField(row map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := row[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func intField(row map[string]any, keys ...string) (int, bool) {
	f, ok := floatField(row, keys...)
	if !ok {
		return 0, false
	}
	return int(f), true
}

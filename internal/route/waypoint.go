package route

import "sort"

// Waypoint is one planned position in a route. The Order field is
// authoritative: sequences are sorted by it before use.
type Waypoint struct {
	Order     int      `json:"order"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	AltMeters *float64 `json:"alt_m,omitempty"`
	SpeedMps  *float64 `json:"speed_mps,omitempty"`
}

// SortByOrder sorts waypoints ascending by their order field (stable, so
// sources that emit implicit file order keep it for equal keys).
func SortByOrder(points []Waypoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Order < points[j].Order
	})
}

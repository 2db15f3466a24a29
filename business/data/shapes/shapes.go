// Package shapes stores one polyline per route with cumulative distances
// and projects coordinates onto it, yielding a distance along the shape.
package shapes

import (
	"sort"
)

// Point is one polyline vertex. CumM is the cumulative distance in meters
// from the start of the shape.
type Point struct {
	Lat  float64
	Lon  float64
	CumM float64
}

// RawPoint is a shapes.txt row before cumulative distances are resolved.
type RawPoint struct {
	Lat          float64
	Lon          float64
	Sequence     int
	DistTraveled *float64
}

// Polyline is an ordered list of points with non-decreasing CumM.
type Polyline []Point

// offSegmentPenalty inflates the residual error of projections that land
// beyond a segment's endpoints so in-segment candidates win ties.
const offSegmentPenalty = 1.5

// Index holds the chosen polyline per route id.
type Index struct {
	byRoute map[string]Polyline
}

// NewIndex builds an Index. rawShapes maps shape_id to its unsorted
// points; shapeIDsByRoute lists the shape_id of every trip on each route.
// Each route gets its most frequent shape, ties broken by the
// lexicographically smallest shape id.
func NewIndex(rawShapes map[string][]RawPoint, shapeIDsByRoute map[string][]string) *Index {
	index := &Index{byRoute: make(map[string]Polyline)}
	polylines := make(map[string]Polyline, len(rawShapes))
	for shapeID, raw := range rawShapes {
		polylines[shapeID] = buildPolyline(raw)
	}
	for routeID, shapeIDs := range shapeIDsByRoute {
		chosen := mostFrequentShape(shapeIDs)
		if polyline, present := polylines[chosen]; present {
			index.byRoute[routeID] = polyline
		}
	}
	return index
}

// ForRoute returns the polyline for routeID, or nil when none is known.
func (i *Index) ForRoute(routeID string) Polyline {
	if i == nil {
		return nil
	}
	return i.byRoute[routeID]
}

// mostFrequentShape picks the shape id appearing most often, breaking
// ties with the lexicographically smallest id.
func mostFrequentShape(shapeIDs []string) string {
	counts := make(map[string]int)
	for _, id := range shapeIDs {
		if id != "" {
			counts[id]++
		}
	}
	best := ""
	bestCount := 0
	for id, count := range counts {
		if count > bestCount || (count == bestCount && (best == "" || id < best)) {
			best = id
			bestCount = count
		}
	}
	return best
}

// buildPolyline sorts raw points by their native sequence and resolves
// cumulative distances, accumulating haversine distance between
// consecutive points when shape_dist_traveled is absent.
func buildPolyline(raw []RawPoint) Polyline {
	points := make([]RawPoint, len(raw))
	copy(points, raw)
	sort.Slice(points, func(i, j int) bool {
		return points[i].Sequence < points[j].Sequence
	})

	haveDist := len(points) > 0
	for _, p := range points {
		if p.DistTraveled == nil {
			haveDist = false
			break
		}
	}

	polyline := make(Polyline, 0, len(points))
	cum := 0.0
	for i, p := range points {
		if haveDist {
			cum = *p.DistTraveled
		} else if i > 0 {
			prev := points[i-1]
			cum += Haversine(prev.Lat, prev.Lon, p.Lat, p.Lon)
		}
		polyline = append(polyline, Point{Lat: p.Lat, Lon: p.Lon, CumM: cum})
	}
	return polyline
}

// Project returns the distance along the polyline nearest to (lat, lon).
// The projection candidate of every segment is scored by its haversine
// residual, inflated by offSegmentPenalty when the parametric position
// falls outside the segment. Returns false when the polyline has fewer
// than two points.
func (p Polyline) Project(lat, lon float64) (float64, bool) {
	if len(p) < 2 {
		return 0, false
	}
	bestErr := -1.0
	bestCum := 0.0
	for i := 0; i+1 < len(p); i++ {
		a := p[i]
		b := p[i+1]
		t, projLat, projLon := segmentProjection(a.Lat, a.Lon, b.Lat, b.Lon, lat, lon)
		residual := Haversine(lat, lon, projLat, projLon)
		if t < 0 || t > 1 {
			residual *= offSegmentPenalty
		}
		if bestErr < 0 || residual < bestErr {
			bestErr = residual
			bestCum = a.CumM + clamp01(t)*(b.CumM-a.CumM)
		}
	}
	return bestCum, true
}

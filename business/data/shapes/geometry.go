package shapes

import "math"

const earthRadiusM = 6371000.0

// Haversine returns the great-circle distance in meters between two
// coordinate pairs.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180.0
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(a))
}

// segmentProjection projects (pointLat, pointLon) onto the segment from
// (aLat, aLon) to (bLat, bLon) in a local equirectangular frame centered
// at the segment midpoint. It returns the unclamped parametric position t
// along the segment and the coordinates of the clamped projected point.
func segmentProjection(aLat, aLon, bLat, bLon, pointLat, pointLon float64) (t float64, projLat float64, projLon float64) {
	rad := math.Pi / 180.0
	midLat := (aLat + bLat) / 2
	cosLat := math.Cos(midLat * rad)

	ax := aLon * cosLat
	ay := aLat
	bx := bLon * cosLat
	by := bLat
	px := pointLon * cosLat
	py := pointLat

	dx := bx - ax
	dy := by - ay
	lengthSquared := dx*dx + dy*dy
	if lengthSquared > 0 {
		t = ((px-ax)*dx + (py-ay)*dy) / lengthSquared
	}
	clamped := math.Min(1, math.Max(0, t))
	projLat = aLat + (bLat-aLat)*clamped
	projLon = aLon + (bLon-aLon)*clamped
	return t, projLat, projLon
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// SegmentFraction returns the clamped fraction [0,1] of the way
// (pointLat, pointLon) lies along the straight segment from a to b in
// the same local frame the shape projection uses. False when the
// segment is degenerate.
func SegmentFraction(aLat, aLon, bLat, bLon, pointLat, pointLon float64) (float64, bool) {
	if aLat == bLat && aLon == bLon {
		return 0, false
	}
	t, _, _ := segmentProjection(aLat, aLon, bLat, bLon, pointLat, pointLon)
	return clamp01(t), true
}

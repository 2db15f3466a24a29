package fusion

import (
	"math"

	"github.com/cercatrack/railfusion/business/data/shapes"
	"github.com/cercatrack/railfusion/business/realtime/vehicles"
)

const (
	// nearlyStoppedKmh is the speed under which an in-transit vehicle is
	// treated as effectively standing.
	nearlyStoppedKmh = 5.0
	// progressDisagreement is the spatial/temporal divergence beyond
	// which the conservative minimum is taken.
	progressDisagreement = 0.30
	// incomingFloor is the minimum fraction shown once the feed reports
	// the vehicle incoming at the stop.
	incomingFloor = 0.8
	// overshootPct is the progress at which an incoming vehicle is
	// reclassified as stopped.
	overshootPct = 95
	// stoppedAtMaxDistanceM is how far a vehicle may report STOPPED_AT
	// from the stop before it is treated as still approaching.
	stoppedAtMaxDistanceM = 300.0
)

// temporalFraction positions now between a departure and an arrival
// epoch. False when the pair is unusable.
func temporalFraction(now, departFrom, arriveTo int64) (float64, bool) {
	if departFrom == 0 || arriveTo == 0 || arriveTo <= departFrom {
		return 0, false
	}
	fraction := float64(now-departFrom) / float64(arriveTo-departFrom)
	return math.Min(1, math.Max(0, fraction)), true
}

// spatialFraction positions the vehicle between two stops, via the
// route shape when one exists and the straight segment between the
// endpoints otherwise.
func spatialFraction(polyline shapes.Polyline, fromLat, fromLon, toLat, toLon, vehLat, vehLon float64) (float64, bool) {
	if len(polyline) >= 2 {
		cumFrom, okFrom := polyline.Project(fromLat, fromLon)
		cumTo, okTo := polyline.Project(toLat, toLon)
		cumVehicle, okVehicle := polyline.Project(vehLat, vehLon)
		if okFrom && okTo && okVehicle && cumTo > cumFrom {
			fraction := (cumVehicle - cumFrom) / (cumTo - cumFrom)
			return math.Min(1, math.Max(0, fraction)), true
		}
	}
	return shapes.SegmentFraction(fromLat, fromLon, toLat, toLon, vehLat, vehLon)
}

// fuseProgress combines the two fractions under the vehicle status into
// the displayed percentage.
func fuseProgress(status vehicles.StopStatus, speedKmh *float64,
	spatial *float64, spatialOK bool, temporal *float64, temporalOK bool) int {

	if status == vehicles.StoppedAt {
		return 0
	}

	var fused float64
	haveFused := false
	switch {
	case spatialOK && temporalOK && math.Abs(*spatial-*temporal) > progressDisagreement:
		fused = math.Min(*spatial, *temporal)
		haveFused = true
	case spatialOK:
		fused = *spatial
		haveFused = true
	case temporalOK:
		fused = *temporal
		haveFused = true
	}

	// nearly stopped mid-segment: the clock keeps running but the train
	// does not, so trust only the position
	if status == vehicles.InTransitTo && speedKmh != nil && *speedKmh < nearlyStoppedKmh {
		if spatialOK {
			fused = *spatial
			haveFused = true
		}
	}

	if status == vehicles.IncomingAt {
		if !haveFused || fused < incomingFloor {
			fused = incomingFloor
			haveFused = true
		}
	}

	if !haveFused {
		return 0
	}
	return int(math.Round(math.Min(1, math.Max(0, fused)) * 100))
}

package tripupdates

import (
	"github.com/cercatrack/railfusion/business/data/static"
)

// resolve fills in the item's route and direction when the feed omits
// them. Resolution order: static timetable by trip id, then a live
// vehicle carrying the same trip id, then station-set scoring over the
// stops the update mentions.
func (c *Cache) resolve(item *Item) {
	item.resolved = true

	if (item.RouteID == "" || item.DirectionID == "") && c.trips != nil {
		if routeID, directionID, found := c.trips.RouteForTrip(item.TripID); found {
			if item.RouteID == "" {
				item.RouteID = routeID
			}
			if item.DirectionID == "" {
				item.DirectionID = directionID
			}
		}
	}
	if (item.RouteID == "" || item.DirectionID == "") && c.live != nil {
		if routeID, directionID, found := c.live.RouteForLiveTrip(item.TripID); found {
			if item.RouteID == "" {
				item.RouteID = routeID
			}
			if item.DirectionID == "" {
				item.DirectionID = directionID
			}
		}
	}

	stops := item.observedStopIDs()
	if item.RouteID == "" {
		item.RouteID = c.routeByStationOverlap(stops)
	}
	if item.RouteID != "" && item.DirectionID == "" && len(stops) >= 2 {
		item.DirectionID = c.directionByStopOrder(item.RouteID, stops)
	}
}

// routeByStationOverlap scores every route by how many of the observed
// stops lie on it and returns the best scoring route id. Ties keep the
// route with more stations, then the lower route id, so resolution is
// deterministic across runs.
func (c *Cache) routeByStationOverlap(stops []string) string {
	if len(stops) == 0 {
		return ""
	}
	stopSet := make(map[string]bool, len(stops))
	for _, stopID := range stops {
		stopSet[stopID] = true
	}

	var best *static.Route
	bestScore := 0
	for _, route := range c.repo.ListRoutes() {
		score := 0
		for _, station := range route.Stations {
			if stopSet[station.StopID] {
				score++
			}
		}
		if score == 0 {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && betterTieBreak(route, best)) {
			best = route
			bestScore = score
		}
	}
	if best == nil {
		return ""
	}
	return best.RouteID
}

func betterTieBreak(candidate, incumbent *static.Route) bool {
	if len(candidate.Stations) != len(incumbent.Stations) {
		return len(candidate.Stations) > len(incumbent.Stations)
	}
	return candidate.RouteID < incumbent.RouteID
}

// directionByStopOrder scores both directions of a route by how many of
// the observed stops they carry plus how many consecutive observed
// pairs appear in ascending station order. The direction wins only on a
// strictly higher score.
func (c *Cache) directionByStopOrder(routeID string, stops []string) string {
	score := func(directionID string) int {
		route := c.repo.Route(routeID, directionID)
		if route == nil {
			return -1
		}
		total := 0
		previousSeq := -1
		for _, stopID := range stops {
			station := route.StationSeq(stopID)
			if station == nil {
				continue
			}
			total++
			if previousSeq >= 0 && station.Seq > previousSeq {
				total++
			}
			previousSeq = station.Seq
		}
		return total
	}

	outbound := score("0")
	inbound := score("1")
	if outbound > inbound {
		return "0"
	}
	if inbound > outbound {
		return "1"
	}
	return ""
}

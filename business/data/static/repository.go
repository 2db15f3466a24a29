package static

import (
	"sort"
)

type routeKey struct {
	routeID     string
	directionID string
}

// Repository holds the loaded timetable tables and answers lookups on
// them. It is immutable after Load; concurrent readers need no locking.
type Repository struct {
	routes       map[routeKey]*Route
	routesByID   map[string][]*Route
	stopsByID    map[string][]*Stop
	stopNames    map[string]string
	nuclei       []Nucleus
	nucleusByID  map[string]Nucleus
	routesByNuc  map[string][]*Route
	parityByRoute map[string]ParityRule
}

// Route finds the route for routeID and directionID. When directionID is
// empty the directions "", "0" and "1" are tried in that order.
func (r *Repository) Route(routeID, directionID string) *Route {
	if directionID != "" {
		return r.routes[routeKey{routeID, directionID}]
	}
	for _, dir := range []string{"", "0", "1"} {
		if route, present := r.routes[routeKey{routeID, dir}]; present {
			return route
		}
	}
	return nil
}

// RoutesForID returns every directed route sharing routeID.
func (r *Repository) RoutesForID(routeID string) []*Route {
	return r.routesByID[routeID]
}

// ListRoutes returns all routes ordered by route id then direction.
func (r *Repository) ListRoutes() []*Route {
	results := make([]*Route, 0, len(r.routes))
	for _, route := range r.routes {
		results = append(results, route)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].RouteID != results[j].RouteID {
			return results[i].RouteID < results[j].RouteID
		}
		return results[i].DirectionID < results[j].DirectionID
	})
	return results
}

// ListNuclei returns the known nuclei ordered by slug.
func (r *Repository) ListNuclei() []Nucleus {
	return r.nuclei
}

// NucleusFor returns the nucleus for slug, and whether it is known.
func (r *Repository) NucleusFor(slug string) (Nucleus, bool) {
	n, present := r.nucleusByID[slug]
	return n, present
}

// RoutesByNucleus returns the routes belonging to nucleus.
func (r *Repository) RoutesByNucleus(nucleus string) []*Route {
	return r.routesByNuc[nucleus]
}

// NucleusForRoute returns the nucleus slug a route belongs to, or empty.
func (r *Repository) NucleusForRoute(routeID string) string {
	routes := r.routesByID[routeID]
	if len(routes) == 0 {
		return ""
	}
	return routes[0].NucleusID
}

// StopName resolves a stop id to its display name, empty when unknown.
func (r *Repository) StopName(stopID string) string {
	return r.stopNames[stopID]
}

// StopsForID returns every per-route call known for stopID.
func (r *Repository) StopsForID(stopID string) []*Stop {
	return r.stopsByID[stopID]
}

// KmForStop returns the km position of stopID on the directed route, and
// whether the stop belongs to it.
func (r *Repository) KmForStop(routeID, directionID, stopID string) (float64, bool) {
	route := r.Route(routeID, directionID)
	if route == nil {
		return 0, false
	}
	if station := route.StationSeq(stopID); station != nil {
		return station.KmFromOrigin, true
	}
	return 0, false
}

// StationsOrdered returns the ordered station list of the directed route.
func (r *Repository) StationsOrdered(routeID, directionID string) []StationOnLine {
	route := r.Route(routeID, directionID)
	if route == nil {
		return nil
	}
	return route.Stations
}

// DirForParity resolves the direction hinted by train number parity for
// routeID. Disabled rules resolve to the unspecified direction.
func (r *Repository) DirForParity(routeID string, parity Parity) (string, ParityStatus) {
	rule, present := r.parityByRoute[routeID]
	if !present || rule.Status == ParityDisabled {
		return "", ParityDisabled
	}
	if parity == ParityEven {
		return rule.Even, rule.Status
	}
	return rule.Odd, rule.Status
}

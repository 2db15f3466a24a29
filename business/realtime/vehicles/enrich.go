package vehicles

import (
	"strings"

	"github.com/cercatrack/railfusion/business/data/schedule"
	"github.com/cercatrack/railfusion/business/data/static"
)

// TripResolver resolves a feed trip id to its static route and direction.
type TripResolver interface {
	RouteForTrip(tripID string) (routeID string, directionID string, found bool)
}

// enricher fills in route, direction and nucleus on raw observations.
type enricher struct {
	repo  *static.Repository
	trips TripResolver
}

// enrich resolves the observation's route and nucleus. The trip id is
// authoritative when it maps to a scheduled trip; otherwise a route is
// inferred from the short name and stop heuristics. Fields that cannot
// be resolved are left empty and read as unknown downstream.
func (e *enricher) enrich(o *Observation) {
	if o.TripID != "" && e.trips != nil {
		if routeID, directionID, found := e.trips.RouteForTrip(o.TripID); found {
			o.RouteID = routeID
			if o.DirectionID == "" {
				o.DirectionID = directionID
			}
		}
	}
	if o.RouteID != "" && e.repo.Route(o.RouteID, o.DirectionID) != nil {
		o.NucleusID = e.repo.NucleusForRoute(o.RouteID)
		return
	}
	if route := e.inferRoute(o); route != nil {
		o.RouteID = route.RouteID
		o.DirectionID = route.DirectionID
		o.NucleusID = route.NucleusID
	}
}

// inferRoute guesses the route from the short name carried in the feed's
// route field or label, requiring the observed stop to be on the route.
// Ambiguity is narrowed first by train number parity, then by preferring
// the longest station list.
func (e *enricher) inferRoute(o *Observation) *static.Route {
	if o.StopID == "" {
		return nil
	}
	candidates := e.candidatesByShortName(o)
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) > 1 {
		if parity, ok := schedule.TrainNumberParity(o.TrainNumber); ok {
			candidates = filterByParity(e.repo, candidates, parity)
		}
	}
	best := candidates[0]
	for _, route := range candidates[1:] {
		if len(route.Stations) > len(best.Stations) {
			best = route
		}
	}
	return best
}

func (e *enricher) candidatesByShortName(o *Observation) []*static.Route {
	shortNames := make(map[string]bool)
	if o.RouteID != "" {
		shortNames[normalizeShortName(o.RouteID)] = true
	}
	if fields := strings.Fields(o.Label); len(fields) > 0 {
		shortNames[normalizeShortName(fields[0])] = true
	}
	var candidates []*static.Route
	for _, route := range e.repo.ListRoutes() {
		if !shortNames[normalizeShortName(route.ShortName)] {
			continue
		}
		if !route.HasStop(o.StopID) {
			continue
		}
		candidates = append(candidates, route)
	}
	return candidates
}

// filterByParity keeps routes whose direction agrees with the parity
// hint; when the filter would empty the set the original set is kept.
func filterByParity(repo *static.Repository, candidates []*static.Route, parity static.Parity) []*static.Route {
	var kept []*static.Route
	for _, route := range candidates {
		dir, status := repo.DirForParity(route.RouteID, parity)
		if status == static.ParityDisabled {
			continue
		}
		if dir == "" || dir == route.DirectionID {
			kept = append(kept, route)
		}
	}
	if len(kept) == 0 {
		return candidates
	}
	return kept
}

// normalizeShortName folds "C-1"/"c1" style variants together.
func normalizeShortName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", ""))
}

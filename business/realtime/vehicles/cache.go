package vehicles

import (
	"log"
	"sort"
	"sync/atomic"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/cercatrack/railfusion/business/data/static"
	"github.com/cercatrack/railfusion/business/realtime/feed"
)

const (
	// EmptyGraceSnapshots is how many consecutive empty snapshots keep
	// the previous observations alive before the cache clears.
	EmptyGraceSnapshots = 2
	// MaxStaleSeconds bounds both the grace rule and observation
	// freshness.
	MaxStaleSeconds = 180
)

// snapshot is one immutable published state of the cache. Readers hold a
// snapshot pointer and never see partial updates.
type snapshot struct {
	byID           map[string]*Observation
	byRoute        map[string][]*Observation
	byNucleus      map[string][]*Observation
	list           []*Observation
	headerTs       int64
	lastNonEmptyTs int64
	emptyStreak    int
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byID:      map[string]*Observation{},
		byRoute:   map[string][]*Observation{},
		byNucleus: map[string][]*Observation{},
	}
}

// Cache holds the latest vehicle observations behind an atomic snapshot
// pointer. A single writer (the poller) replaces the snapshot; readers
// are unbounded and never block.
type Cache struct {
	log      *log.Logger
	enricher *enricher

	snap         atomic.Pointer[snapshot]
	errorsStreak atomic.Int64
}

// NewCache creates a vehicle cache enriched against the static
// repository and trip resolver.
func NewCache(logger *log.Logger, repo *static.Repository, trips TripResolver) *Cache {
	c := &Cache{
		log:      logger,
		enricher: &enricher{repo: repo, trips: trips},
	}
	c.snap.Store(emptySnapshot())
	return c
}

// Apply folds one parsed feed message into the cache at time now,
// honoring the identical-header short-circuit and the empty snapshot
// grace rule.
func (c *Cache) Apply(message *gtfsrt.FeedMessage, now int64) {
	current := c.snap.Load()
	headerTs := feed.HeaderTimestamp(message)
	observations := parseVehicles(message, now)

	// identical header and nothing parsed: feed did not move, keep state
	if headerTs != 0 && headerTs == current.headerTs && len(observations) == 0 {
		return
	}

	if len(observations) > 0 {
		for _, observation := range observations {
			c.enricher.enrich(observation)
		}
		c.snap.Store(buildSnapshot(observations, headerTs, now))
		return
	}

	// empty snapshot: apply the grace rule before clearing
	streak := current.emptyStreak + 1
	graceExpired := streak > EmptyGraceSnapshots || now-current.lastNonEmptyTs > MaxStaleSeconds
	if len(current.list) > 0 && !graceExpired {
		kept := *current
		kept.emptyStreak = streak
		kept.headerTs = headerTs
		c.snap.Store(&kept)
		return
	}
	cleared := emptySnapshot()
	cleared.headerTs = headerTs
	cleared.lastNonEmptyTs = current.lastNonEmptyTs
	cleared.emptyStreak = streak
	c.snap.Store(cleared)
	if len(current.list) > 0 {
		c.log.Printf("vehicle cache cleared after %d empty snapshots", streak)
	}
}

func buildSnapshot(observations []*Observation, headerTs, now int64) *snapshot {
	snap := emptySnapshot()
	snap.headerTs = headerTs
	if headerTs == 0 {
		snap.lastNonEmptyTs = now
	} else {
		snap.lastNonEmptyTs = headerTs
	}
	for _, observation := range observations {
		snap.byID[observation.TrainID] = observation
		if observation.RouteID != "" {
			snap.byRoute[observation.RouteID] = append(snap.byRoute[observation.RouteID], observation)
		}
		if observation.NucleusID != "" {
			snap.byNucleus[observation.NucleusID] = append(snap.byNucleus[observation.NucleusID], observation)
		}
		snap.list = append(snap.list, observation)
	}
	sort.Slice(snap.list, func(i, j int) bool {
		return snap.list[i].TrainID < snap.list[j].TrainID
	})
	return snap
}

// GetByID returns the observation for a train id, nil when absent.
func (c *Cache) GetByID(trainID string) *Observation {
	return c.snap.Load().byID[trainID]
}

// GetByNucleus returns the observations in a nucleus.
func (c *Cache) GetByNucleus(nucleus string) []*Observation {
	return c.snap.Load().byNucleus[nucleus]
}

// GetByRouteID returns the observations on a route.
func (c *Cache) GetByRouteID(routeID string) []*Observation {
	return c.snap.Load().byRoute[routeID]
}

// GetByNucleusAndRoute returns the observations on a route within a
// nucleus.
func (c *Cache) GetByNucleusAndRoute(nucleus, routeID string) []*Observation {
	var results []*Observation
	for _, observation := range c.snap.Load().byRoute[routeID] {
		if observation.NucleusID == nucleus {
			results = append(results, observation)
		}
	}
	return results
}

// ListSorted returns every observation ordered by train id.
func (c *Cache) ListSorted() []*Observation {
	return c.snap.Load().list
}

// LastSnapshotTs returns the timestamp of the last non-empty snapshot.
func (c *Cache) LastSnapshotTs() int64 {
	return c.snap.Load().lastNonEmptyTs
}

// IsStale reports whether items exist but the last non-empty snapshot is
// older than MaxStaleSeconds.
func (c *Cache) IsStale(now int64) bool {
	snap := c.snap.Load()
	return len(snap.list) > 0 && now-snap.lastNonEmptyTs > MaxStaleSeconds
}

// ErrorsStreak returns the number of consecutive poll failures.
func (c *Cache) ErrorsStreak() int64 {
	return c.errorsStreak.Load()
}

// RouteForLiveTrip resolves a trip id against the tracked vehicles,
// returning the route and direction of the vehicle running it.
func (c *Cache) RouteForLiveTrip(tripID string) (string, string, bool) {
	if tripID == "" {
		return "", "", false
	}
	for _, observation := range c.snap.Load().list {
		if observation.TripID == tripID && observation.RouteID != "" {
			return observation.RouteID, observation.DirectionID, true
		}
	}
	return "", "", false
}

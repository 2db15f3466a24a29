package tripupdates

import (
	"log"
	"sync/atomic"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/cercatrack/railfusion/business/data/static"
	"github.com/cercatrack/railfusion/business/realtime/feed"
)

// TripResolver resolves a feed trip id to its static route and direction.
type TripResolver interface {
	RouteForTrip(tripID string) (routeID string, directionID string, found bool)
}

// LiveTripResolver resolves a trip id against currently tracked
// vehicles, the second resort when the timetable does not know the trip.
type LiveTripResolver interface {
	RouteForLiveTrip(tripID string) (routeID string, directionID string, found bool)
}

// tuSnapshot is one immutable published state of the cache.
type tuSnapshot struct {
	items    map[string]*Item
	headerTs int64
}

// Cache holds per-trip realtime corrections. Updates merge cumulatively
// rather than replace: a trip missing from one snapshot survives until
// MissingTTLSeconds after its last sighting. The merged map is swapped
// atomically so readers never see a partial merge.
type Cache struct {
	log  *log.Logger
	repo *static.Repository

	trips TripResolver
	live  LiveTripResolver

	snap         atomic.Pointer[tuSnapshot]
	errorsStreak atomic.Int64
}

// NewCache creates a trip update cache. live may be nil when no vehicle
// feed is available to resolve against.
func NewCache(logger *log.Logger, repo *static.Repository, trips TripResolver, live LiveTripResolver) *Cache {
	c := &Cache{
		log:   logger,
		repo:  repo,
		trips: trips,
		live:  live,
	}
	c.snap.Store(&tuSnapshot{items: map[string]*Item{}})
	return c
}

// Apply merges one parsed feed message into the cache at time now and
// sweeps entries whose last sighting is beyond the TTL.
func (c *Cache) Apply(message *gtfsrt.FeedMessage, now int64) {
	current := c.snap.Load()
	headerTs := feed.HeaderTimestamp(message)
	incoming := parseTripUpdates(message, now)

	next := make(map[string]*Item, len(current.items)+len(incoming))
	for key, item := range current.items {
		if now-item.LastSeen <= MissingTTLSeconds {
			next[key] = item
		}
	}

	for _, item := range incoming {
		key := tripKey(item.TripID)
		if previous, present := next[key]; present {
			// resolution is done once per trip, carry it across merges
			if item.RouteID == "" {
				item.RouteID = previous.RouteID
			}
			if item.DirectionID == "" {
				item.DirectionID = previous.DirectionID
			}
			item.resolved = previous.resolved
		}
		if !item.resolved {
			c.resolve(item)
		}
		item.LastSeen = now
		next[key] = item
	}

	c.snap.Store(&tuSnapshot{items: next, headerTs: headerTs})
}

// GetByTripID returns the cached item for a trip, nil when absent.
func (c *Cache) GetByTripID(tripID string) *Item {
	return c.snap.Load().items[tripKey(tripID)]
}

// StopUpdateFor returns the stop update for a trip and stop, matching by
// stop id first and stop sequence as a fallback.
func (c *Cache) StopUpdateFor(tripID, stopID string, stopSequence *uint32) *StopTimeUpdate {
	item := c.GetByTripID(tripID)
	if item == nil {
		return nil
	}
	return item.StopUpdate(stopID, stopSequence)
}

// TripDelaySeconds returns the effective delay reported for a trip.
func (c *Cache) TripDelaySeconds(tripID string) (int, bool) {
	item := c.GetByTripID(tripID)
	if item == nil {
		return 0, false
	}
	return item.DelaySeconds()
}

// ETAForTripToStop returns the predicted epoch for a trip at a stop.
// Departure is preferred once now is at or past the arrival window
// (now >= arrival - 45s) so the value does not flip between the two
// fields while the train sits at the platform.
func (c *Cache) ETAForTripToStop(tripID, stopID string, now int64) (int64, bool) {
	update := c.StopUpdateFor(tripID, stopID, nil)
	if update == nil {
		return 0, false
	}
	arr := update.ArrivalEpoch
	dep := update.DepartureEpoch
	if arr != nil && now < *arr-arrivalWindowLeadSeconds {
		return *arr, true
	}
	if dep != nil {
		return *dep, true
	}
	if arr != nil {
		return *arr, true
	}
	return 0, false
}

// Size returns the number of trips currently cached.
func (c *Cache) Size() int {
	return len(c.snap.Load().items)
}

// LastSnapshotTs returns the header timestamp of the last applied
// snapshot.
func (c *Cache) LastSnapshotTs() int64 {
	return c.snap.Load().headerTs
}

// ErrorsStreak returns the number of consecutive poll failures.
func (c *Cache) ErrorsStreak() int64 {
	return c.errorsStreak.Load()
}

// Package tripupdates maintains the cumulative cache of realtime trip
// updates: polling, per-trip merge with a missing-entry TTL, and
// route/direction resolution for items the feed leaves incomplete.
package tripupdates

import (
	"strings"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

const (
	// MissingTTLSeconds is how long an entry absent from incoming
	// snapshots is retained after its last sighting.
	MissingTTLSeconds = 900
	// arrivalWindowLeadSeconds is how early before the predicted arrival
	// the departure field starts being preferred over arrival.
	arrivalWindowLeadSeconds = 45
)

// TripRelationship is the trip-level schedule relationship.
type TripRelationship int

const (
	TripScheduled TripRelationship = iota
	TripAdded
	TripUnscheduled
	TripCanceled
)

// StopRelationship is the per-stop schedule relationship.
type StopRelationship int

const (
	StopScheduled StopRelationship = iota
	StopSkipped
	StopNoData
)

// StopTimeUpdate is one predicted call within a trip update. Absent
// feed fields stay nil.
type StopTimeUpdate struct {
	StopID         string
	StopSequence   *uint32
	ArrivalEpoch   *int64
	ArrivalDelay   *int32
	DepartureEpoch *int64
	DepartureDelay *int32
	Relationship   StopRelationship
	Uncertainty    *int32
}

// Item is the cached state of one trip's realtime corrections.
type Item struct {
	TripID       string
	RouteID      string
	DirectionID  string
	Relationship TripRelationship
	Delay        *int32
	Timestamp    int64
	StopUpdates  []StopTimeUpdate

	// LastSeen is the apply time of the last snapshot carrying the trip.
	LastSeen int64

	resolved bool
}

// tripKey normalizes a feed trip id for cache lookup.
func tripKey(tripID string) string {
	return strings.ToUpper(strings.TrimSpace(tripID))
}

// StopUpdate finds the update for a stop, by id first and sequence as a
// fallback.
func (i *Item) StopUpdate(stopID string, stopSequence *uint32) *StopTimeUpdate {
	if stopID != "" {
		for idx := range i.StopUpdates {
			if i.StopUpdates[idx].StopID == stopID {
				return &i.StopUpdates[idx]
			}
		}
	}
	if stopSequence != nil {
		for idx := range i.StopUpdates {
			seq := i.StopUpdates[idx].StopSequence
			if seq != nil && *seq == *stopSequence {
				return &i.StopUpdates[idx]
			}
		}
	}
	return nil
}

// NextServiceStop returns the first non-skipped stop whose predicted
// time has not passed, empty when the trip has none left.
func (i *Item) NextServiceStop(now int64) string {
	for idx := range i.StopUpdates {
		update := &i.StopUpdates[idx]
		if update.Relationship == StopSkipped {
			continue
		}
		at := update.DepartureEpoch
		if at == nil {
			at = update.ArrivalEpoch
		}
		if at == nil || *at >= now {
			return update.StopID
		}
	}
	return ""
}

// DelaySeconds returns the trip's effective delay: the trip-level field
// when present, otherwise the first per-stop delay carried by an update.
func (i *Item) DelaySeconds() (int, bool) {
	if i.Delay != nil {
		return int(*i.Delay), true
	}
	for idx := range i.StopUpdates {
		if d := i.StopUpdates[idx].DepartureDelay; d != nil {
			return int(*d), true
		}
		if d := i.StopUpdates[idx].ArrivalDelay; d != nil {
			return int(*d), true
		}
	}
	return 0, false
}

// observedStopIDs returns the stop ids the update mentions, in order.
func (i *Item) observedStopIDs() []string {
	var stops []string
	for idx := range i.StopUpdates {
		if i.StopUpdates[idx].StopID != "" {
			stops = append(stops, i.StopUpdates[idx].StopID)
		}
	}
	return stops
}

// parseTripUpdates extracts items from a feed message. A malformed
// entity is skipped without discarding the batch.
func parseTripUpdates(message *gtfsrt.FeedMessage, now int64) []*Item {
	var items []*Item
	for _, entity := range message.GetEntity() {
		update := entity.GetTripUpdate()
		if update == nil {
			continue
		}
		trip := update.GetTrip()
		if trip.GetTripId() == "" {
			continue
		}
		item := &Item{
			TripID:       trip.GetTripId(),
			RouteID:      trip.GetRouteId(),
			Relationship: fromTripRelationship(trip.GetScheduleRelationship()),
		}
		if trip.DirectionId != nil {
			if trip.GetDirectionId() == 0 {
				item.DirectionID = "0"
			} else {
				item.DirectionID = "1"
			}
		}
		if update.Delay != nil {
			delay := update.GetDelay()
			item.Delay = &delay
		}
		if update.Timestamp != nil {
			item.Timestamp = int64(update.GetTimestamp())
		} else {
			item.Timestamp = now
		}
		for _, stu := range update.GetStopTimeUpdate() {
			item.StopUpdates = append(item.StopUpdates, parseStopTimeUpdate(stu))
		}
		items = append(items, item)
	}
	return items
}

func parseStopTimeUpdate(stu *gtfsrt.TripUpdate_StopTimeUpdate) StopTimeUpdate {
	update := StopTimeUpdate{
		StopID:       stu.GetStopId(),
		Relationship: fromStopRelationship(stu.GetScheduleRelationship()),
	}
	if stu.StopSequence != nil {
		seq := stu.GetStopSequence()
		update.StopSequence = &seq
	}
	if arrival := stu.GetArrival(); arrival != nil {
		if arrival.Time != nil {
			epoch := arrival.GetTime()
			update.ArrivalEpoch = &epoch
		}
		if arrival.Delay != nil {
			delay := arrival.GetDelay()
			update.ArrivalDelay = &delay
		}
		if arrival.Uncertainty != nil {
			uncertainty := arrival.GetUncertainty()
			update.Uncertainty = &uncertainty
		}
	}
	if departure := stu.GetDeparture(); departure != nil {
		if departure.Time != nil {
			epoch := departure.GetTime()
			update.DepartureEpoch = &epoch
		}
		if departure.Delay != nil {
			delay := departure.GetDelay()
			update.DepartureDelay = &delay
		}
		if update.Uncertainty == nil && departure.Uncertainty != nil {
			uncertainty := departure.GetUncertainty()
			update.Uncertainty = &uncertainty
		}
	}
	return update
}

func fromTripRelationship(rel gtfsrt.TripDescriptor_ScheduleRelationship) TripRelationship {
	switch rel {
	case gtfsrt.TripDescriptor_ADDED:
		return TripAdded
	case gtfsrt.TripDescriptor_UNSCHEDULED:
		return TripUnscheduled
	case gtfsrt.TripDescriptor_CANCELED:
		return TripCanceled
	}
	return TripScheduled
}

func fromStopRelationship(rel gtfsrt.TripUpdate_StopTimeUpdate_ScheduleRelationship) StopRelationship {
	switch rel {
	case gtfsrt.TripUpdate_StopTimeUpdate_SKIPPED:
		return StopSkipped
	case gtfsrt.TripUpdate_StopTimeUpdate_NO_DATA:
		return StopNoData
	}
	return StopScheduled
}

// Package schedule loads the gtfs static timetable and materializes, for
// a given service date, the scheduled trains active that day with
// absolute epoch calls, indexed by trip, stop and route.
package schedule

import (
	"time"
)

// Trip is one trips.txt row plus the train number extracted from its
// identifier fields.
type Trip struct {
	TripID      string
	RouteID     string
	ServiceID   string
	DirectionID string
	Headsign    string
	ShortName   string
	BlockID     string
	ShapeID     string
	TrainNumber string
}

// StopTime is one stop_times.txt row. Arrival and departure are seconds
// since the service day anchor and may exceed 86399 for trips crossing
// midnight; -1 marks an absent value.
type StopTime struct {
	StopID       string
	StopSequence int
	ArrivalSec   int
	DepartureSec int
	PickupType   int
	DropOffType  int
}

// CalendarEntry is one calendar.txt row: a day-of-week mask bounded by a
// date range, dates formatted YYYYMMDD.
type CalendarEntry struct {
	ServiceID string
	Weekdays  [7]bool
	StartDate string
	EndDate   string
}

// CalendarDate is one calendar_dates.txt exception; type 1 adds service
// on Date, type 2 removes it.
type CalendarDate struct {
	Date          string
	ExceptionType int
}

// Call is one materialized stop call of a Train, with absolute epochs
// resolved in the service timezone.
type Call struct {
	StopID         string
	StopSequence   int
	ArrivalSec     int
	DepartureSec   int
	ArrivalEpoch   int64
	DepartureEpoch int64
	PlatformCode   string
	PickupType     int
	DropOffType    int
}

// Train is a service instance: one scheduled trip materialized for a
// concrete service date. Identity is ServiceDate plus TripID.
type Train struct {
	TripID      string
	RouteID     string
	DirectionID string
	ServiceDate string
	Headsign    string
	TrainNumber string
	NucleusID   string
	Calls       []Call
}

// ServiceInstanceID returns the canonical "YYYYMMDD:trip_id" identifier.
func (t *Train) ServiceInstanceID() string {
	return t.ServiceDate + ":" + t.TripID
}

// FirstCall returns the first call or nil for an empty train.
func (t *Train) FirstCall() *Call {
	if len(t.Calls) == 0 {
		return nil
	}
	return &t.Calls[0]
}

// LastCall returns the last call or nil for an empty train.
func (t *Train) LastCall() *Call {
	if len(t.Calls) == 0 {
		return nil
	}
	return &t.Calls[len(t.Calls)-1]
}

// CallForStop returns the first call at stopID, or nil.
func (t *Train) CallForStop(stopID string) *Call {
	for i := range t.Calls {
		if t.Calls[i].StopID == stopID {
			return &t.Calls[i]
		}
	}
	return nil
}

// CallForSequence returns the call with stopSequence, or nil.
func (t *Train) CallForSequence(stopSequence int) *Call {
	for i := range t.Calls {
		if t.Calls[i].StopSequence == stopSequence {
			return &t.Calls[i]
		}
	}
	return nil
}

// RouteDirKey indexes trains by directed route; DirectionID may be empty.
type RouteDirKey struct {
	RouteID     string
	DirectionID string
}

// StopCall is one train calling at one stop on a service day, ordered by
// the call's seconds of day.
type StopCall struct {
	Train     *Train
	CallIndex int
	Sec       int
}

// Epoch returns the absolute epoch of the call, preferring the arrival.
func (s StopCall) Epoch() int64 {
	call := s.Train.Calls[s.CallIndex]
	if call.ArrivalEpoch > 0 {
		return call.ArrivalEpoch
	}
	return call.DepartureEpoch
}

// ServiceDay holds every train materialized for one service date along
// with its lookup indexes. Immutable once built.
type ServiceDay struct {
	Date                   string
	Anchor                 time.Time
	Holiday                bool
	ByTrip                 map[string]*Train
	ByStop                 map[string][]StopCall
	ByRouteDir             map[RouteDirKey][]*Train
	TrainNumbersByRouteDir map[RouteDirKey]map[string]bool
}

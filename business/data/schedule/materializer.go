package schedule

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cercatrack/railfusion/business/data/static"
)

// Materializer lazily builds ServiceDays. Materialization is memoized per
// date behind a keyed lock: the first caller for a date builds it while
// concurrent callers for the same date wait, other dates proceed.
type Materializer struct {
	gtfs     *GTFS
	repo     *static.Repository
	loc      *time.Location
	holidays *holidayCalendar
	log      *log.Logger

	mu   sync.Mutex
	days map[string]*dayEntry
}

type dayEntry struct {
	once sync.Once
	day  *ServiceDay
	err  error
}

// NewMaterializer creates a Materializer over the loaded gtfs tables.
func NewMaterializer(logger *log.Logger, gtfs *GTFS, repo *static.Repository, loc *time.Location) *Materializer {
	return &Materializer{
		gtfs:     gtfs,
		repo:     repo,
		loc:      loc,
		holidays: makeHolidayCalendar(),
		log:      logger,
		days:     make(map[string]*dayEntry),
	}
}

// Location returns the service timezone.
func (m *Materializer) Location() *time.Location {
	return m.loc
}

// RouteForTrip resolves the static route and direction of tripID.
func (m *Materializer) RouteForTrip(tripID string) (string, string, bool) {
	return m.gtfs.RouteForTrip(tripID)
}

// TrainNumberForTrip returns the train number extracted for tripID.
func (m *Materializer) TrainNumberForTrip(tripID string) string {
	if trip, present := m.gtfs.Trips[tripID]; present {
		return trip.TrainNumber
	}
	return ""
}

// StopName resolves stopID from stops.txt, empty when unknown.
func (m *Materializer) StopName(stopID string) string {
	return m.gtfs.StopNames[stopID]
}

// ForDate returns the materialized service day for the YYYYMMDD date.
func (m *Materializer) ForDate(date string) (*ServiceDay, error) {
	m.mu.Lock()
	entry, present := m.days[date]
	if !present {
		entry = &dayEntry{}
		m.days[date] = entry
	}
	m.mu.Unlock()

	entry.once.Do(func() {
		entry.day, entry.err = m.materialize(date)
	})
	return entry.day, entry.err
}

// TrainForTrip returns the train materialized for tripID on date, nil
// when the trip does not run that day.
func (m *Materializer) TrainForTrip(date, tripID string) (*Train, error) {
	day, err := m.ForDate(date)
	if err != nil {
		return nil, err
	}
	return day.ByTrip[tripID], nil
}

// materialize builds the ServiceDay for date.
func (m *Materializer) materialize(date string) (*ServiceDay, error) {
	anchor, err := ServiceDayAnchor(date, m.loc)
	if err != nil {
		return nil, fmt.Errorf("bad service date %q: %w", date, err)
	}

	day := &ServiceDay{
		Date:                   date,
		Anchor:                 anchor,
		Holiday:                m.holidays.isHoliday(anchor),
		ByTrip:                 make(map[string]*Train),
		ByStop:                 make(map[string][]StopCall),
		ByRouteDir:             make(map[RouteDirKey][]*Train),
		TrainNumbersByRouteDir: make(map[RouteDirKey]map[string]bool),
	}

	activeServices := m.activeServiceIDs(date, anchor)

	for tripID, trip := range m.gtfs.Trips {
		if !activeServices[trip.ServiceID] {
			continue
		}
		stopTimes := m.gtfs.StopTimes[tripID]
		if len(stopTimes) == 0 {
			continue
		}
		train := m.buildTrain(trip, stopTimes, date, anchor)
		day.ByTrip[tripID] = train

		key := RouteDirKey{RouteID: train.RouteID, DirectionID: train.DirectionID}
		day.ByRouteDir[key] = append(day.ByRouteDir[key], train)
		if train.TrainNumber != "" {
			if day.TrainNumbersByRouteDir[key] == nil {
				day.TrainNumbersByRouteDir[key] = make(map[string]bool)
			}
			day.TrainNumbersByRouteDir[key][train.TrainNumber] = true
		}

		for i := range train.Calls {
			call := &train.Calls[i]
			sec := call.ArrivalSec
			if sec < 0 {
				sec = call.DepartureSec
			}
			day.ByStop[call.StopID] = append(day.ByStop[call.StopID], StopCall{
				Train:     train,
				CallIndex: i,
				Sec:       sec,
			})
		}
	}

	for stopID := range day.ByStop {
		calls := day.ByStop[stopID]
		sortStopCalls(calls)
		day.ByStop[stopID] = calls
	}

	m.log.Printf("materialized %d trains for service date %s (holiday=%t)", len(day.ByTrip), date, day.Holiday)
	return day, nil
}

func (m *Materializer) buildTrain(trip *Trip, stopTimes []StopTime, date string, anchor time.Time) *Train {
	train := &Train{
		TripID:      trip.TripID,
		RouteID:     trip.RouteID,
		DirectionID: trip.DirectionID,
		ServiceDate: date,
		Headsign:    trip.Headsign,
		TrainNumber: trip.TrainNumber,
		NucleusID:   m.repo.NucleusForRoute(trip.RouteID),
		Calls:       make([]Call, 0, len(stopTimes)),
	}
	for _, st := range stopTimes {
		call := Call{
			StopID:       st.StopID,
			StopSequence: st.StopSequence,
			ArrivalSec:   st.ArrivalSec,
			DepartureSec: st.DepartureSec,
			PlatformCode: m.gtfs.PlatformByStop[st.StopID],
			PickupType:   st.PickupType,
			DropOffType:  st.DropOffType,
		}
		if st.ArrivalSec >= 0 {
			call.ArrivalEpoch = MakeScheduleTime(anchor, st.ArrivalSec).Unix()
		}
		if st.DepartureSec >= 0 {
			call.DepartureEpoch = MakeScheduleTime(anchor, st.DepartureSec).Unix()
		}
		train.Calls = append(train.Calls, call)
	}
	return train
}

// activeServiceIDs combines the calendar day-of-week masks with
// calendar_dates exceptions: type 1 adds service on the date, type 2
// removes it.
func (m *Materializer) activeServiceIDs(date string, anchor time.Time) map[string]bool {
	active := make(map[string]bool)
	weekday := int(anchor.Weekday())
	for serviceID, entry := range m.gtfs.Calendar {
		if !entry.Weekdays[weekday] {
			continue
		}
		if entry.StartDate != "" && date < entry.StartDate {
			continue
		}
		if entry.EndDate != "" && date > entry.EndDate {
			continue
		}
		active[serviceID] = true
	}
	for serviceID, exceptions := range m.gtfs.CalendarDates {
		for _, exception := range exceptions {
			if exception.Date != date {
				continue
			}
			switch exception.ExceptionType {
			case 1:
				active[serviceID] = true
			case 2:
				delete(active, serviceID)
			}
		}
	}
	return active
}

func sortStopCalls(calls []StopCall) {
	for i := 1; i < len(calls); i++ {
		for j := i; j > 0 && calls[j].Sec < calls[j-1].Sec; j-- {
			calls[j], calls[j-1] = calls[j-1], calls[j]
		}
	}
}

// ForStopAfter scans the stop's ordered calls on date and returns up to
// limit calls at or after afterEpoch, optionally filtered by route and
// direction. When the day yields nothing and allowNextDay is set the
// following service date is scanned as well.
func (m *Materializer) ForStopAfter(stopID, date string, afterEpoch int64, limit int,
	routeID, directionID string, allowNextDay bool) ([]StopCall, error) {

	results, err := m.forStopAfterOnDate(stopID, date, afterEpoch, limit, routeID, directionID)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 || !allowNextDay {
		return results, nil
	}
	nextDate, err := NextServiceDate(date, 1, m.loc)
	if err != nil {
		return nil, err
	}
	return m.forStopAfterOnDate(stopID, nextDate, afterEpoch, limit, routeID, directionID)
}

func (m *Materializer) forStopAfterOnDate(stopID, date string, afterEpoch int64, limit int,
	routeID, directionID string) ([]StopCall, error) {

	day, err := m.ForDate(date)
	if err != nil {
		return nil, err
	}
	var results []StopCall
	for _, stopCall := range day.ByStop[stopID] {
		train := stopCall.Train
		if routeID != "" && train.RouteID != routeID {
			continue
		}
		if directionID != "" && train.DirectionID != directionID {
			continue
		}
		if stopCall.Epoch() < afterEpoch {
			continue
		}
		results = append(results, stopCall)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// NextDepartureForTrainNumber searches date and up to horizonDays
// following days for the earliest future first departure of a trip whose
// train number matches. Route and direction filters apply when non-empty.
func (m *Materializer) NextDepartureForTrainNumber(routeID, directionID, trainNumber, date string,
	now int64, horizonDays int) (*Train, int64, error) {

	if trainNumber == "" {
		return nil, 0, nil
	}
	searchDate := date
	for dayOffset := 0; dayOffset <= horizonDays; dayOffset++ {
		day, err := m.ForDate(searchDate)
		if err != nil {
			return nil, 0, err
		}
		var best *Train
		var bestEpoch int64
		for _, train := range day.ByTrip {
			if train.TrainNumber != trainNumber {
				continue
			}
			if routeID != "" && train.RouteID != routeID {
				continue
			}
			if directionID != "" && train.DirectionID != directionID {
				continue
			}
			first := train.FirstCall()
			if first == nil {
				continue
			}
			epoch := first.DepartureEpoch
			if epoch == 0 {
				epoch = first.ArrivalEpoch
			}
			if epoch < now {
				continue
			}
			if best == nil || epoch < bestEpoch {
				best = train
				bestEpoch = epoch
			}
		}
		if best != nil {
			return best, bestEpoch, nil
		}
		searchDate, err = NextServiceDate(searchDate, 1, m.loc)
		if err != nil {
			return nil, 0, err
		}
	}
	return nil, 0, nil
}

package fusion

import (
	"io"
	"log"
	"strings"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/cercatrack/railfusion/business/data/schedule"
	"github.com/cercatrack/railfusion/business/data/static"
	"github.com/cercatrack/railfusion/business/realtime/tripupdates"
	"github.com/cercatrack/railfusion/business/realtime/vehicles"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func madrid(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Fatalf("unable to load Europe/Madrid: %v", err)
	}
	return loc
}

func fixtureRepo(t *testing.T) *static.Repository {
	t.Helper()
	repo, err := static.LoadFromReaders(
		strings.NewReader(`route_id,direction_id,seq,stop_id,station_id,stop_name,km,lat,lon,slug,route_short_name,route_long_name
C1,0,1,S1,ST1,Chamartin,0.0,40.4720,-3.6820,chamartin,C-1,Chamartin - Aeropuerto
C1,0,2,S2,ST2,Nuevos Ministerios,3.1,40.4460,-3.6920,nuevos-ministerios,C-1,Chamartin - Aeropuerto
C1,0,3,S3,ST3,Aeropuerto T4,12.9,40.4920,-3.5930,aeropuerto-t4,C-1,Chamartin - Aeropuerto
C1,0,4,S5,ST5,Barajas,15.1,40.4740,-3.5800,barajas,C-1,Chamartin - Aeropuerto
C1,0,5,S6,ST6,Coslada,18.3,40.4280,-3.5610,coslada,C-1,Chamartin - Aeropuerto
C1,0,6,S7,ST7,San Fernando,21.0,40.4250,-3.5320,san-fernando,C-1,Chamartin - Aeropuerto
C1,0,7,S8,ST8,Torrejon,24.8,40.4560,-3.4810,torrejon,C-1,Chamartin - Aeropuerto
C1,0,8,S9,ST9,Alcala,31.7,40.4820,-3.3600,alcala,C-1,Chamartin - Aeropuerto
C1,1,1,S3,ST3,Aeropuerto T4,0.0,40.4920,-3.5930,aeropuerto-t4,C-1,Aeropuerto - Chamartin
C1,1,2,S1,ST1,Chamartin,12.9,40.4720,-3.6820,chamartin,C-1,Aeropuerto - Chamartin
`),
		strings.NewReader("route_id,nucleus_slug,nucleus_name\nC1,madrid,Madrid\n"),
		map[string]static.ParityRule{"C1": {Even: "0", Odd: "1", Status: static.ParityFinal}},
	)
	if err != nil {
		t.Fatalf("unable to build fixture repository: %v", err)
	}
	return repo
}

// fixtureGTFS covers one long C1 run plus a second weekday service half
// an hour behind it.
func fixtureGTFS() *schedule.GTFS {
	weekdays := [7]bool{false, true, true, true, true, true, false}
	longRun := []schedule.StopTime{
		{StopID: "S1", StopSequence: 1, ArrivalSec: 8 * 3600, DepartureSec: 8 * 3600},
		{StopID: "S2", StopSequence: 2, ArrivalSec: 8*3600 + 600, DepartureSec: 8*3600 + 660},
		{StopID: "S3", StopSequence: 3, ArrivalSec: 8*3600 + 1500, DepartureSec: 8*3600 + 1560},
		{StopID: "S5", StopSequence: 4, ArrivalSec: 8*3600 + 1860, DepartureSec: 8*3600 + 1920},
		{StopID: "S6", StopSequence: 5, ArrivalSec: 8*3600 + 2220, DepartureSec: 8*3600 + 2280},
		{StopID: "S7", StopSequence: 6, ArrivalSec: 8*3600 + 2580, DepartureSec: 8*3600 + 2640},
		{StopID: "S8", StopSequence: 7, ArrivalSec: 8*3600 + 2940, DepartureSec: 8*3600 + 3000},
		{StopID: "S9", StopSequence: 8, ArrivalSec: 8*3600 + 3600, DepartureSec: 8*3600 + 3600},
	}
	laterRun := make([]schedule.StopTime, len(longRun))
	for i, st := range longRun {
		st.ArrivalSec += 1800
		st.DepartureSec += 1800
		laterRun[i] = st
	}
	return &schedule.GTFS{
		Trips: map[string]*schedule.Trip{
			"T1": {TripID: "T1", RouteID: "C1", ServiceID: "WD", DirectionID: "0", Headsign: "Alcala", TrainNumber: "21004"},
			"T2": {TripID: "T2", RouteID: "C1", ServiceID: "WD", DirectionID: "0", Headsign: "Alcala", TrainNumber: "21006"},
		},
		StopTimes: map[string][]schedule.StopTime{
			"T1": longRun,
			"T2": laterRun,
		},
		Calendar: map[string]*schedule.CalendarEntry{
			"WD": {ServiceID: "WD", Weekdays: weekdays, StartDate: "20250101", EndDate: "20261231"},
		},
		StopNames: map[string]string{
			"S1": "Chamartin", "S2": "Nuevos Ministerios", "S3": "Aeropuerto T4",
			"S5": "Barajas", "S6": "Coslada", "S7": "San Fernando",
			"S8": "Torrejon", "S9": "Alcala",
		},
	}
}

func fixtureMaterializer(t *testing.T) *schedule.Materializer {
	t.Helper()
	return schedule.NewMaterializer(testLogger(), fixtureGTFS(), fixtureRepo(t), madrid(t))
}

// epochAt resolves a second-of-day on the fixture service date.
func epochAt(t *testing.T, secOfDay int) int64 {
	t.Helper()
	return time.Date(2025, 6, 2, 0, 0, 0, 0, madrid(t)).Add(time.Duration(secOfDay) * time.Second).Unix()
}

func observationAt(trainID, tripID, stopID string, status vehicles.StopStatus, ts int64) *vehicles.Observation {
	return &vehicles.Observation{
		TrainID:     trainID,
		TripID:      tripID,
		RouteID:     "C1",
		DirectionID: "0",
		NucleusID:   "madrid",
		StopID:      stopID,
		Status:      status,
		Timestamp:   ts,
		TrainNumber: "21004",
	}
}

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }
func int64Ptr(v int64) *int64     { return &v }
func int32Ptr(v int32) *int32     { return &v }

// tuCacheWith builds a trip update cache preloaded with one item.
func tuCacheWith(t *testing.T, m *schedule.Materializer, tripID string, delay *int32, applyAt int64,
	stops ...*gtfsrt.TripUpdate_StopTimeUpdate) *tripupdates.Cache {

	t.Helper()
	version := "2.0"
	headerTs := uint64(applyAt)
	message := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: &version, Timestamp: &headerTs},
		Entity: []*gtfsrt.FeedEntity{{
			Id: strPtr(tripID),
			TripUpdate: &gtfsrt.TripUpdate{
				Trip:           &gtfsrt.TripDescriptor{TripId: strPtr(tripID)},
				Delay:          delay,
				StopTimeUpdate: stops,
			},
		}},
	}
	cache := tripupdates.NewCache(testLogger(), fixtureRepo(t), m, nil)
	cache.Apply(message, applyAt)
	return cache
}

// canceledCache builds a trip update cache holding a trip-level
// cancellation.
func canceledCache(t *testing.T, m *schedule.Materializer, tripID string, applyAt int64) *tripupdates.Cache {
	t.Helper()
	version := "2.0"
	headerTs := uint64(applyAt)
	canceled := gtfsrt.TripDescriptor_CANCELED
	message := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: &version, Timestamp: &headerTs},
		Entity: []*gtfsrt.FeedEntity{{
			Id: strPtr(tripID),
			TripUpdate: &gtfsrt.TripUpdate{
				Trip: &gtfsrt.TripDescriptor{TripId: strPtr(tripID), ScheduleRelationship: &canceled},
			},
		}},
	}
	cache := tripupdates.NewCache(testLogger(), fixtureRepo(t), m, nil)
	cache.Apply(message, applyAt)
	return cache
}

func stuAt(stopID string, seq uint32, arr, dep int64, delay *int32) *gtfsrt.TripUpdate_StopTimeUpdate {
	stu := &gtfsrt.TripUpdate_StopTimeUpdate{
		StopId:       strPtr(stopID),
		StopSequence: &seq,
	}
	if arr != 0 {
		stu.Arrival = &gtfsrt.TripUpdate_StopTimeEvent{Time: int64Ptr(arr), Delay: delay}
	}
	if dep != 0 {
		stu.Departure = &gtfsrt.TripUpdate_StopTimeEvent{Time: int64Ptr(dep), Delay: delay}
	}
	return stu
}

package vehicles

import (
	"io"
	"log"
	"strings"
	"testing"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/cercatrack/railfusion/business/data/static"
	"github.com/matryer/is"
	"google.golang.org/protobuf/proto"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type stubTripResolver map[string][2]string

func (s stubTripResolver) RouteForTrip(tripID string) (string, string, bool) {
	entry, present := s[tripID]
	return entry[0], entry[1], present
}

func testRepo(t *testing.T) *static.Repository {
	t.Helper()
	repo, err := static.LoadFromReaders(
		strings.NewReader(`route_id,direction_id,seq,stop_id,station_id,stop_name,km,lat,lon,slug,route_short_name,route_long_name
C1,0,1,S1,ST1,Chamartin,0.0,40.472,-3.682,chamartin,C-1,Out
C1,0,2,S2,ST2,Nuevos Ministerios,3.1,40.446,-3.692,nuevos-ministerios,C-1,Out
C1,0,3,S3,ST3,Aeropuerto T4,12.9,40.492,-3.593,aeropuerto-t4,C-1,Out
C1,1,1,S3,ST3,Aeropuerto T4,0.0,40.492,-3.593,aeropuerto-t4,C-1,Back
C1,1,2,S2,ST2,Nuevos Ministerios,9.8,40.446,-3.692,nuevos-ministerios,C-1,Back
`),
		strings.NewReader("route_id,nucleus_slug,nucleus_name\nC1,madrid,Madrid\n"),
		map[string]static.ParityRule{"C1": {Even: "0", Odd: "1", Status: static.ParityFinal}},
	)
	if err != nil {
		t.Fatalf("unable to build repository fixture: %v", err)
	}
	return repo
}

func uint64Ptr(v uint64) *uint64 { return &v }
func strPtr(v string) *string    { return &v }

func feedMessage(headerTs uint64, entities ...*gtfsrt.FeedEntity) *gtfsrt.FeedMessage {
	version := "2.0"
	return &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: &version,
			Timestamp:           uint64Ptr(headerTs),
		},
		Entity: entities,
	}
}

func vehicleEntity(id, tripID, stopID string, status gtfsrt.VehiclePosition_VehicleStopStatus, ts uint64) *gtfsrt.FeedEntity {
	entityID := id
	return &gtfsrt.FeedEntity{
		Id: &entityID,
		Vehicle: &gtfsrt.VehiclePosition{
			Vehicle:       &gtfsrt.VehicleDescriptor{Id: strPtr(id), Label: strPtr(id)},
			Trip:          &gtfsrt.TripDescriptor{TripId: strPtr(tripID)},
			StopId:        strPtr(stopID),
			CurrentStatus: &status,
			Timestamp:     uint64Ptr(ts),
		},
	}
}

func TestApplyReplacesSnapshot(t *testing.T) {
	is := is.New(t)
	cache := NewCache(testLogger(), testRepo(t), stubTripResolver{"T1": {"C1", "0"}})

	now := int64(1000)
	cache.Apply(feedMessage(1000,
		vehicleEntity("21004", "T1", "S2", gtfsrt.VehiclePosition_STOPPED_AT, 998),
	), now)

	observation := cache.GetByID("21004")
	is.True(observation != nil)
	is.Equal(observation.RouteID, "C1")
	is.Equal(observation.NucleusID, "madrid")
	is.Equal(observation.Status, StoppedAt)
	is.Equal(len(cache.GetByNucleus("madrid")), 1)
	is.Equal(len(cache.GetByRouteID("C1")), 1)
	is.Equal(len(cache.GetByNucleusAndRoute("madrid", "C1")), 1)
	is.Equal(len(cache.ListSorted()), 1)
	is.True(!cache.IsStale(now))
}

func TestApplyEmptyGraceRule(t *testing.T) {
	is := is.New(t)
	cache := NewCache(testLogger(), testRepo(t), stubTripResolver{"T1": {"C1", "0"}})

	cache.Apply(feedMessage(1000, vehicleEntity("21004", "T1", "S2", gtfsrt.VehiclePosition_STOPPED_AT, 998)), 1000)

	// two consecutive empty snapshots are absorbed
	cache.Apply(feedMessage(1010), 1010)
	is.Equal(len(cache.ListSorted()), 1)
	cache.Apply(feedMessage(1020), 1020)
	is.Equal(len(cache.ListSorted()), 1)

	// the third one clears
	cache.Apply(feedMessage(1030), 1030)
	is.Equal(len(cache.ListSorted()), 0)
}

func TestApplyEmptyGraceBoundedByStaleness(t *testing.T) {
	is := is.New(t)
	cache := NewCache(testLogger(), testRepo(t), stubTripResolver{"T1": {"C1", "0"}})

	cache.Apply(feedMessage(1000, vehicleEntity("21004", "T1", "S2", gtfsrt.VehiclePosition_IN_TRANSIT_TO, 998)), 1000)

	// first empty arrives after the stale horizon: grace does not apply
	cache.Apply(feedMessage(1300), 1300)
	is.Equal(len(cache.ListSorted()), 0)
}

func TestApplyIdenticalHeaderKeepsState(t *testing.T) {
	is := is.New(t)
	cache := NewCache(testLogger(), testRepo(t), stubTripResolver{"T1": {"C1", "0"}})

	cache.Apply(feedMessage(1000, vehicleEntity("21004", "T1", "S2", gtfsrt.VehiclePosition_STOPPED_AT, 998)), 1000)
	before := cache.snap.Load()

	// same header timestamp with an empty list is a no-op, not an empty
	cache.Apply(feedMessage(1000), 1005)
	is.Equal(cache.snap.Load(), before)
	is.Equal(cache.snap.Load().emptyStreak, 0)
}

func TestStaleness(t *testing.T) {
	is := is.New(t)
	cache := NewCache(testLogger(), testRepo(t), nil)

	cache.Apply(feedMessage(1000, vehicleEntity("21004", "", "S2", gtfsrt.VehiclePosition_STOPPED_AT, 998)), 1000)
	is.True(!cache.IsStale(1100))
	is.True(cache.IsStale(1300))
}

func TestEnrichInfersRouteFromShortNameAndParity(t *testing.T) {
	is := is.New(t)
	cache := NewCache(testLogger(), testRepo(t), stubTripResolver{})

	// no trip id; label carries the route short name and an odd number,
	// S2 is on both directions so parity decides direction 1
	entity := vehicleEntity("veh-1", "", "S2", gtfsrt.VehiclePosition_IN_TRANSIT_TO, 1000)
	entity.Vehicle.Trip = nil
	entity.Vehicle.Vehicle.Label = strPtr("C-1 21005")
	cache.Apply(feedMessage(1000, entity), 1000)

	observation := cache.GetByID("veh-1")
	is.True(observation != nil)
	is.Equal(observation.RouteID, "C1")
	is.Equal(observation.DirectionID, "1")
	is.Equal(observation.NucleusID, "madrid")
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	is := is.New(t)
	message := feedMessage(1234, vehicleEntity("21004", "T1", "S2", gtfsrt.VehiclePosition_STOPPED_AT, 1230))
	payload, err := proto.Marshal(message)
	is.NoErr(err)

	cache := NewCache(testLogger(), testRepo(t), stubTripResolver{"T1": {"C1", "0"}})
	parsed := &gtfsrt.FeedMessage{}
	is.NoErr(proto.Unmarshal(payload, parsed))
	cache.Apply(parsed, 1234)
	is.Equal(len(cache.ListSorted()), 1)
}

func TestPlatformFromLabel(t *testing.T) {
	tests := []struct {
		give string
		want string
	}{
		{"21005 PLATF.(4)", "4"},
		{"21005 platf.(10B)", "10B"},
		{"21005", ""},
	}
	for _, tt := range tests {
		if got := platformFromLabel(tt.give); got != tt.want {
			t.Errorf("platformFromLabel(%q) = %q, want %q", tt.give, got, tt.want)
		}
	}
}

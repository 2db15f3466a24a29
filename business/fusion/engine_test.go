package fusion

import (
	"testing"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/cercatrack/railfusion/business/data/schedule"
	"github.com/cercatrack/railfusion/business/realtime/vehicles"
	"github.com/matryer/is"
)

func vehicleCacheWith(t *testing.T, m *schedule.Materializer, trainID, tripID, stopID string,
	status gtfsrt.VehiclePosition_VehicleStopStatus, ts int64) *vehicles.Cache {

	t.Helper()
	version := "2.0"
	headerTs := uint64(ts)
	vehicleTs := uint64(ts)
	message := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: &version, Timestamp: &headerTs},
		Entity: []*gtfsrt.FeedEntity{{
			Id: strPtr(trainID),
			Vehicle: &gtfsrt.VehiclePosition{
				Vehicle:       &gtfsrt.VehicleDescriptor{Id: strPtr(trainID), Label: strPtr("21004")},
				Trip:          &gtfsrt.TripDescriptor{TripId: strPtr(tripID)},
				StopId:        strPtr(stopID),
				CurrentStatus: &status,
				Timestamp:     &vehicleTs,
			},
		}},
	}
	cache := vehicles.NewCache(testLogger(), fixtureRepo(t), m)
	cache.Apply(message, ts)
	return cache
}

func TestNearestPredictionsScheduledOnly(t *testing.T) {
	is := is.New(t)
	m := fixtureMaterializer(t)
	engine := NewEngine(testLogger(), fixtureRepo(t), nil, m, nil, nil, nil)

	now := epochAt(t, 7*3600+2700) // 07:45
	results, err := engine.NearestPredictionsForStop("C1", "0", "S1", 5, false, now)
	is.NoErr(err)
	is.Equal(len(results), 2)

	is.Equal(results[0].Status, "scheduled")
	is.Equal(results[0].Epoch, epochAt(t, 8*3600))
	is.Equal(results[0].HHMM, "08:00")
	is.Equal(results[0].ETAMinutes, 15)
	is.Equal(results[0].Confidence, ConfidenceMed)
	is.Equal(results[0].Source, "static")
	is.Equal(results[0].TripID, "T1")

	is.Equal(results[1].Epoch, epochAt(t, 8*3600+1800))
}

func TestNearestPredictionsMergesRealtime(t *testing.T) {
	is := is.New(t)
	m := fixtureMaterializer(t)

	now := epochAt(t, 8*3600+1500) // T1 stopped at S3
	vcache := vehicleCacheWith(t, m, "v1", "T1", "S3", gtfsrt.VehiclePosition_STOPPED_AT, now)
	engine := NewEngine(testLogger(), fixtureRepo(t), nil, m, vcache, nil, nil)

	results, err := engine.NearestPredictionsForStop("C1", "0", "S7", 3, false, now)
	is.NoErr(err)
	is.Equal(len(results), 2)

	is.Equal(results[0].Status, "realtime")
	is.Equal(results[0].Source, "vehicle")
	is.Equal(results[0].Confidence, ConfidenceHigh)
	is.Equal(results[0].TrainID, "v1")
	is.Equal(results[0].ServiceInstanceID, "20250602:T1")
	is.Equal(results[0].Epoch, epochAt(t, 8*3600+2580)) // running on time
	is.True(results[0].DelaySeconds != nil)
	is.Equal(*results[0].DelaySeconds, 0)

	// the realtime-covered instance is not repeated from the schedule
	is.Equal(results[1].Status, "scheduled")
	is.Equal(results[1].TripID, "T2")
}

func TestBuildTrainDetailVMLive(t *testing.T) {
	is := is.New(t)
	m := fixtureMaterializer(t)

	now := epochAt(t, 8*3600+1500)
	vcache := vehicleCacheWith(t, m, "v1", "T1", "S3", gtfsrt.VehiclePosition_STOPPED_AT, now)
	engine := NewEngine(testLogger(), fixtureRepo(t), nil, m, vcache, nil, nil)

	vm, err := engine.BuildTrainDetailVM("madrid", "v1", now)
	is.NoErr(err)
	is.Equal(vm.Kind, "live")
	is.Equal(vm.Trip.Method, MethodTripID)
	is.Equal(vm.ServiceInstanceID, "20250602:T1")
	is.Equal(vm.OriginStopID, "S1")
	is.Equal(vm.OriginName, "Chamartin")
	is.Equal(vm.DestinationStopID, "S9")
	is.Equal(vm.DestinationName, "Alcala")
	is.Equal(vm.Unified.CurrentStopID, "S3")
	is.True(vm.TrainSeenISO != "")
	is.Equal(vm.TrainSeenAgeS, int64(0))

	// the same vehicle is reachable by its train number
	byNumber, err := engine.BuildTrainDetailVM("madrid", "21004", now)
	is.NoErr(err)
	is.Equal(byNumber.Kind, "live")
}

func TestBuildTrainDetailVMScheduledByNumber(t *testing.T) {
	is := is.New(t)
	m := fixtureMaterializer(t)
	engine := NewEngine(testLogger(), fixtureRepo(t), nil, m, nil, nil, nil)

	now := epochAt(t, 7 * 3600)
	vm, err := engine.BuildTrainDetailVM("madrid", "21006", now)
	is.NoErr(err)
	is.Equal(vm.Kind, "scheduled")
	is.Equal(vm.Trip.Method, MethodTrainNumber)
	is.Equal(vm.Scheduled.TripID, "T2")
	is.Equal(len(vm.Unified.Stops), 8)
}

func TestBuildTrainDetailVMUnknownIdentifier(t *testing.T) {
	is := is.New(t)
	m := fixtureMaterializer(t)
	engine := NewEngine(testLogger(), fixtureRepo(t), nil, m, nil, nil, nil)

	_, err := engine.BuildTrainDetailVM("madrid", "nope", epochAt(t, 8*3600))
	is.True(err != nil)

	_, err = engine.BuildTrainDetailVM("madrid", "99999", epochAt(t, 8*3600))
	is.True(err != nil)
}

func TestRTArrivalTimesFromVM(t *testing.T) {
	is := is.New(t)
	m := fixtureMaterializer(t)

	now := epochAt(t, 8*3600+1500)
	vcache := vehicleCacheWith(t, m, "v1", "T1", "S3", gtfsrt.VehiclePosition_STOPPED_AT, now)
	engine := NewEngine(testLogger(), fixtureRepo(t), nil, m, vcache, nil, nil)

	vm, err := engine.BuildTrainDetailVM("madrid", "v1", now)
	is.NoErr(err)

	times := engine.RTArrivalTimesFromVM(vm)
	is.Equal(len(times), 8)
	is.Equal(times["S7"].Epoch, epochAt(t, 8*3600+2580))
	is.Equal(times["S7"].HHMM, "08:43")
}

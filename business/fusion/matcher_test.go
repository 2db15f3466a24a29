package fusion

import (
	"testing"

	"github.com/cercatrack/railfusion/business/realtime/vehicles"
	"github.com/matryer/is"
)

func TestMatchByTripID(t *testing.T) {
	is := is.New(t)
	m := fixtureMaterializer(t)

	now := epochAt(t, 8*3600+1500)
	o := observationAt("v1", "T1", "S3", vehicles.StoppedAt, now)

	instance := MatchObservation(m, o, "20250602", now)
	is.Equal(instance.Matching.Status, StatusMatched)
	is.Equal(instance.Matching.Method, MethodTripID)
	is.Equal(instance.Matching.Confidence, ConfidenceHigh)
	is.Equal(instance.ServiceInstanceID, "20250602:T1")
	is.Equal(instance.RouteID, "C1")
}

func TestMatchByStopWindow(t *testing.T) {
	is := is.New(t)
	m := fixtureMaterializer(t)

	// no trip id; observed at S3 close to T1's scheduled call, with the
	// matching train number
	now := epochAt(t, 8*3600+1400)
	o := observationAt("v1", "", "S3", vehicles.IncomingAt, now)

	instance := MatchObservation(m, o, "20250602", now)
	is.Equal(instance.Matching.Status, StatusMatched)
	is.Equal(instance.Matching.Method, MethodStopWindow)
	is.Equal(instance.Matching.Confidence, ConfidenceHigh)
	is.Equal(instance.Scheduled.TripID, "T1")
}

func TestMatchByStopWindowPrefersAgreeingNumber(t *testing.T) {
	is := is.New(t)
	m := fixtureMaterializer(t)

	// T2 calls at S3 thirty minutes after T1; an observation between the
	// two with T2's number must match T2 despite T1 being closer in time
	now := epochAt(t, 8*3600+2000)
	o := observationAt("v1", "", "S3", vehicles.IncomingAt, now)
	o.TrainNumber = "21006"

	instance := MatchObservation(m, o, "20250602", now)
	is.Equal(instance.Scheduled.TripID, "T2")
}

func TestMatchByStopWindowMedConfidenceOutsideTightWindow(t *testing.T) {
	is := is.New(t)
	m := fixtureMaterializer(t)

	// 25 minutes before the scheduled call, number unknown
	now := epochAt(t, 8*3600)
	o := observationAt("v1", "", "S3", vehicles.InTransitTo, now)
	o.TrainNumber = ""

	instance := MatchObservation(m, o, "20250602", now)
	is.Equal(instance.Matching.Status, StatusMatched)
	is.Equal(instance.Matching.Confidence, ConfidenceMed)
}

func TestMatchByTrainNumberFallback(t *testing.T) {
	is := is.New(t)
	m := fixtureMaterializer(t)

	// no trip id, no usable stop; the extracted number still resolves
	now := epochAt(t, 7*3600)
	o := observationAt("v1", "", "", vehicles.InTransitTo, now)

	instance := MatchObservation(m, o, "20250602", now)
	is.Equal(instance.Matching.Status, StatusMatched)
	is.Equal(instance.Matching.Method, MethodTrainNumber)
	is.Equal(instance.Matching.Confidence, ConfidenceMed)
	is.Equal(instance.Scheduled.TripID, "T1")
}

func TestMatchRealtimeOnly(t *testing.T) {
	is := is.New(t)
	m := fixtureMaterializer(t)

	now := epochAt(t, 8*3600)
	o := observationAt("v1", "", "", vehicles.InTransitTo, now)
	o.TrainNumber = "99999"

	instance := MatchObservation(m, o, "20250602", now)
	is.Equal(instance.Matching.Status, StatusRealtimeOnly)
	is.True(instance.Scheduled == nil)
	is.Equal(instance.RouteID, "C1") // carried from the observation
}

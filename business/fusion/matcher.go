// Package fusion identifies which scheduled trip a live vehicle is
// running, builds the unified per-trip view a tracking UI consumes, and
// derives downstream arrival estimates from schedule plus realtime
// corrections.
package fusion

import (
	"github.com/cercatrack/railfusion/business/data/schedule"
	"github.com/cercatrack/railfusion/business/realtime/vehicles"
)

const (
	// stopWindowBeforeSeconds and stopWindowAfterSeconds bound the
	// schedule scan around now when matching by observed stop.
	stopWindowBeforeSeconds = 1800
	stopWindowAfterSeconds  = 3600
	// highConfidenceWindowSeconds is the tighter bound inside which a
	// stop-window match with an agreeing train number rates high.
	highConfidenceWindowSeconds = 900
)

// Confidence grades how certain a match is.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceMed  Confidence = "med"
	ConfidenceLow  Confidence = "low"
)

// MatchMethod records which stage produced the match.
type MatchMethod string

const (
	MethodTripID      MatchMethod = "trip_id"
	MethodStopWindow  MatchMethod = "stop_window"
	MethodTrainNumber MatchMethod = "train_number"
)

// MatchStatus distinguishes a schedule-backed instance from a vehicle we
// can only track in realtime.
type MatchStatus string

const (
	StatusMatched      MatchStatus = "matched"
	StatusRealtimeOnly MatchStatus = "realtime_only"
)

// Matching describes how a ServiceInstance was identified.
type Matching struct {
	Status     MatchStatus `json:"status"`
	Confidence Confidence  `json:"confidence"`
	Method     MatchMethod `json:"method,omitempty"`
}

// ServiceInstance binds one live observation to at most one scheduled
// train. Ephemeral; built per query.
type ServiceInstance struct {
	ServiceInstanceID string
	Scheduled         *schedule.Train
	Observation       *vehicles.Observation
	RouteID           string
	DirectionID       string
	Matching          Matching
}

// MatchObservation identifies the scheduled trip a vehicle is running on
// the given service date. Stages are ordered: trip id, stop window,
// train number; when all fail the instance is realtime only. The
// matcher holds no state.
func MatchObservation(sched *schedule.Materializer, o *vehicles.Observation, date string, now int64) *ServiceInstance {
	day, err := sched.ForDate(date)
	if err != nil {
		return realtimeOnly(o)
	}

	if o.TripID != "" {
		if train, present := day.ByTrip[o.TripID]; present {
			return matched(train, o, ConfidenceHigh, MethodTripID)
		}
	}

	if instance := matchByStopWindow(day, o, now); instance != nil {
		return instance
	}

	if o.TrainNumber != "" {
		train, _, err := sched.NextDepartureForTrainNumber(o.RouteID, o.DirectionID, o.TrainNumber, date, now, 1)
		if err == nil && train != nil {
			return matched(train, o, ConfidenceMed, MethodTrainNumber)
		}
	}

	return realtimeOnly(o)
}

// matchByStopWindow scans the trains calling at the observed stop within
// [now-1800s, now+3600s] and picks the candidate minimizing
// (number mismatch, |sched - now|).
func matchByStopWindow(day *schedule.ServiceDay, o *vehicles.Observation, now int64) *ServiceInstance {
	if o.StopID == "" {
		return nil
	}

	var best *schedule.Train
	bestMismatch := 2
	bestDelta := int64(0)
	for _, stopCall := range day.ByStop[o.StopID] {
		train := stopCall.Train
		if o.RouteID != "" && train.RouteID != o.RouteID {
			continue
		}
		if o.DirectionID != "" && train.DirectionID != "" && train.DirectionID != o.DirectionID {
			continue
		}
		epoch := stopCall.Epoch()
		delta := epoch - now
		if delta < -stopWindowBeforeSeconds || delta > stopWindowAfterSeconds {
			continue
		}
		if delta < 0 {
			delta = -delta
		}
		mismatch := 0
		if o.TrainNumber != "" && train.TrainNumber != "" && o.TrainNumber != train.TrainNumber {
			mismatch = 1
		}
		if best == nil || mismatch < bestMismatch || (mismatch == bestMismatch && delta < bestDelta) {
			best = train
			bestMismatch = mismatch
			bestDelta = delta
		}
	}
	if best == nil {
		return nil
	}

	confidence := ConfidenceLow
	numbersAgree := o.TrainNumber != "" && best.TrainNumber == o.TrainNumber
	switch {
	case bestDelta <= highConfidenceWindowSeconds && numbersAgree:
		confidence = ConfidenceHigh
	case bestDelta <= stopWindowBeforeSeconds:
		confidence = ConfidenceMed
	}
	return matched(best, o, confidence, MethodStopWindow)
}

func matched(train *schedule.Train, o *vehicles.Observation, confidence Confidence, method MatchMethod) *ServiceInstance {
	return &ServiceInstance{
		ServiceInstanceID: train.ServiceInstanceID(),
		Scheduled:         train,
		Observation:       o,
		RouteID:           train.RouteID,
		DirectionID:       train.DirectionID,
		Matching: Matching{
			Status:     StatusMatched,
			Confidence: confidence,
			Method:     method,
		},
	}
}

func realtimeOnly(o *vehicles.Observation) *ServiceInstance {
	instance := &ServiceInstance{
		Observation: o,
		Matching: Matching{
			Status:     StatusRealtimeOnly,
			Confidence: ConfidenceLow,
		},
	}
	if o != nil {
		instance.RouteID = o.RouteID
		instance.DirectionID = o.DirectionID
	}
	return instance
}

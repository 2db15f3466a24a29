package fusion

import (
	"log"
	"regexp"
	"time"

	"github.com/cercatrack/railfusion/business/data/schedule"
	"github.com/cercatrack/railfusion/business/data/shapes"
	"github.com/cercatrack/railfusion/business/data/static"
	"github.com/cercatrack/railfusion/business/platforms"
	"github.com/cercatrack/railfusion/business/realtime/tripupdates"
	"github.com/cercatrack/railfusion/business/realtime/vehicles"
	"github.com/pkg/errors"
)

// Engine is the query surface the API layer calls: it composes the
// caches, the matcher, the view builder and the ETA propagation into
// the exposed view models.
type Engine struct {
	log      *log.Logger
	repo     *static.Repository
	sched    *schedule.Materializer
	vehicles *vehicles.Cache
	updates  *tripupdates.Cache
	passes   *PassRecorder
	habits   *platforms.Store
	builder  *ViewBuilder
}

// NewEngine wires the engine. vehicleCache, updates and habits may be
// nil to run schedule-only.
func NewEngine(logger *log.Logger, repo *static.Repository, shapeIndex *shapes.Index,
	sched *schedule.Materializer, vehicleCache *vehicles.Cache, updates *tripupdates.Cache,
	habits *platforms.Store) *Engine {

	passes := NewPassRecorder(logger)
	return &Engine{
		log:      logger,
		repo:     repo,
		sched:    sched,
		vehicles: vehicleCache,
		updates:  updates,
		passes:   passes,
		habits:   habits,
		builder:  NewViewBuilder(logger, repo, shapeIndex, sched, updates, passes, habits),
	}
}

// Passes exposes the pass recorder, mainly for maintenance sweeps.
func (e *Engine) Passes() *PassRecorder {
	return e.passes
}

// TrainDetailVM is the full per-train view returned to the API layer.
type TrainDetailVM struct {
	Kind              string                `json:"kind"`
	Train             *vehicles.Observation `json:"train,omitempty"`
	Unified           *TripView             `json:"unified"`
	Scheduled         *schedule.Train       `json:"scheduled,omitempty"`
	Trip              Matching              `json:"trip"`
	ServiceInstanceID string                `json:"service_instance_id,omitempty"`
	RouteID           string                `json:"route_id,omitempty"`
	DirectionID       string                `json:"direction_id,omitempty"`
	OriginStopID      string                `json:"origin_stop_id,omitempty"`
	OriginName        string                `json:"origin_name,omitempty"`
	DestinationStopID string                `json:"destination_stop_id,omitempty"`
	DestinationName   string                `json:"destination_name,omitempty"`
	TrainSeenISO      string                `json:"train_seen_iso,omitempty"`
	TrainSeenAgeS     int64                 `json:"train_seen_age_s,omitempty"`
	Platform          string                `json:"platform,omitempty"`
}

var trainNumberIdentifier = regexp.MustCompile(`^\d{3,6}$`)

// BuildTrainDetailVM resolves an identifier (a live train id or a 3-6
// digit train number) within a nucleus into the detail view model.
func (e *Engine) BuildTrainDetailVM(nucleus, identifier string, now int64) (*TrainDetailVM, error) {
	date := e.serviceDate(now)

	if observation := e.findLive(nucleus, identifier); observation != nil {
		instance := MatchObservation(e.sched, observation, date, now)
		vm := e.vmFromInstance(instance, now)
		vm.Kind = "live"
		vm.Train = observation
		vm.TrainSeenISO = time.Unix(observation.Timestamp, 0).In(e.sched.Location()).Format(time.RFC3339)
		vm.TrainSeenAgeS = now - observation.Timestamp
		return vm, nil
	}

	if !trainNumberIdentifier.MatchString(identifier) {
		return nil, errors.Errorf("no live train %q in nucleus %s", identifier, nucleus)
	}
	train, _, err := e.sched.NextDepartureForTrainNumber("", "", identifier, date, now, 1)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving train number %s", identifier)
	}
	if train == nil || (nucleus != "" && train.NucleusID != "" && train.NucleusID != nucleus) {
		return nil, errors.Errorf("no scheduled train %s in nucleus %s", identifier, nucleus)
	}

	instance := matched(train, nil, ConfidenceMed, MethodTrainNumber)
	vm := e.vmFromInstance(instance, now)
	vm.Kind = "scheduled"
	return vm, nil
}

// findLive scans the vehicle cache for a train id or train number match
// inside the nucleus.
func (e *Engine) findLive(nucleus, identifier string) *vehicles.Observation {
	if e.vehicles == nil {
		return nil
	}
	if observation := e.vehicles.GetByID(identifier); observation != nil {
		if nucleus == "" || observation.NucleusID == nucleus {
			return observation
		}
	}
	for _, observation := range e.vehicles.GetByNucleus(nucleus) {
		if observation.TrainNumber == identifier {
			return observation
		}
	}
	return nil
}

func (e *Engine) vmFromInstance(instance *ServiceInstance, now int64) *TrainDetailVM {
	vm := &TrainDetailVM{
		Unified:           e.builder.Build(instance, now),
		Scheduled:         instance.Scheduled,
		Trip:              instance.Matching,
		ServiceInstanceID: instance.ServiceInstanceID,
		RouteID:           instance.RouteID,
		DirectionID:       instance.DirectionID,
	}
	if stops := vm.Unified.Stops; len(stops) > 0 {
		vm.OriginStopID = stops[0].StopID
		vm.OriginName = stops[0].StopName
		vm.DestinationStopID = stops[len(stops)-1].StopID
		vm.DestinationName = stops[len(stops)-1].StopName
	}
	if vm.Unified.CurrentStopID != "" {
		for i := range vm.Unified.Stops {
			row := &vm.Unified.Stops[i]
			if row.StopID == vm.Unified.CurrentStopID {
				vm.Platform = row.Platform
				break
			}
		}
	}
	return vm
}

// serviceDate formats now as YYYYMMDD in the service timezone.
func (e *Engine) serviceDate(now int64) string {
	return time.Unix(now, 0).In(e.sched.Location()).Format("20060102")
}

// StopPrediction is one row of the "next services at this stop" answer.
type StopPrediction struct {
	Status            string     `json:"status"`
	Epoch             int64      `json:"epoch"`
	HHMM              string     `json:"hhmm"`
	ETASeconds        int64      `json:"eta_seconds"`
	ETAMinutes        int        `json:"eta_minutes"`
	DelaySeconds      *int       `json:"delay_seconds,omitempty"`
	Confidence        Confidence `json:"confidence"`
	Source            string     `json:"source"`
	TripID            string     `json:"trip_id,omitempty"`
	ServiceInstanceID string     `json:"service_instance_id,omitempty"`
	TrainID           string     `json:"train_id,omitempty"`
	Headsign          string     `json:"headsign,omitempty"`
	Platform          string     `json:"platform,omitempty"`
	PlatformAlt       string     `json:"platform_alt,omitempty"`
}

// NearestPredictionsForStop returns the next services calling at a stop,
// realtime-backed entries first when a tracked vehicle covers the same
// service instance, scheduled entries otherwise.
func (e *Engine) NearestPredictionsForStop(routeID, directionID, stopID string,
	limit int, allowNextDay bool, now int64) ([]StopPrediction, error) {

	if limit <= 0 {
		limit = 3
	}
	date := e.serviceDate(now)

	covered := map[string]bool{}
	var results []StopPrediction

	for _, entry := range e.realtimePredictions(routeID, directionID, stopID, date, now) {
		if entry.ServiceInstanceID != "" {
			covered[entry.ServiceInstanceID] = true
		}
		results = append(results, entry)
	}

	stopCalls, err := e.sched.ForStopAfter(stopID, date, now, limit+len(results), routeID, directionID, allowNextDay)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning schedule for stop %s", stopID)
	}
	for _, stopCall := range stopCalls {
		train := stopCall.Train
		if covered[train.ServiceInstanceID()] {
			continue
		}
		epoch := stopCall.Epoch()
		confidence := ConfidenceLow
		if train.TripID != "" {
			confidence = ConfidenceMed
		}
		results = append(results, StopPrediction{
			Status:            "scheduled",
			Epoch:             epoch,
			HHMM:              e.hhmm(epoch),
			ETASeconds:        epoch - now,
			ETAMinutes:        MinutesUntil(epoch - now),
			Confidence:        confidence,
			Source:            "static",
			TripID:            train.TripID,
			ServiceInstanceID: train.ServiceInstanceID(),
			Headsign:          train.Headsign,
		})
	}

	sortPredictions(results)
	if len(results) > limit {
		results = results[:limit]
	}
	e.fillPredictionPlatforms(results, routeID, stopID, now)
	return results, nil
}

// realtimePredictions derives ETA entries at the stop from every
// tracked vehicle whose service calls there.
func (e *Engine) realtimePredictions(routeID, directionID, stopID, date string, now int64) []StopPrediction {
	if e.vehicles == nil {
		return nil
	}
	var results []StopPrediction
	for _, observation := range e.vehicles.GetByRouteID(routeID) {
		if directionID != "" && observation.DirectionID != "" && observation.DirectionID != directionID {
			continue
		}
		if !observation.IsFresh(now) {
			continue
		}
		instance := MatchObservation(e.sched, observation, date, now)
		if instance.Scheduled == nil {
			continue
		}
		entry, present := e.etaAtStop(instance, stopID, now)
		if !present {
			continue
		}
		delay := entry.DelaySeconds
		results = append(results, StopPrediction{
			Status:            "realtime",
			Epoch:             entry.Epoch,
			HHMM:              e.hhmm(entry.Epoch),
			ETASeconds:        entry.Epoch - now,
			ETAMinutes:        MinutesUntil(entry.Epoch - now),
			DelaySeconds:      &delay,
			Confidence:        instance.Matching.Confidence,
			Source:            "vehicle",
			TripID:            instance.Scheduled.TripID,
			ServiceInstanceID: instance.ServiceInstanceID,
			TrainID:           observation.TrainID,
			Headsign:          instance.Scheduled.Headsign,
		})
	}
	return results
}

// etaAtStop runs the downstream propagation for the instance and picks
// the entry at stopID.
func (e *Engine) etaAtStop(instance *ServiceInstance, stopID string, now int64) (ETAEntry, bool) {
	train := instance.Scheduled
	stopIDs := make([]string, 0, len(train.Calls))
	schedArr := make(map[string]int64, len(train.Calls))
	schedDep := make(map[string]int64, len(train.Calls))
	for _, call := range train.Calls {
		stopIDs = append(stopIDs, call.StopID)
		schedArr[call.StopID] = call.ArrivalEpoch
		schedDep[call.StopID] = call.DepartureEpoch
	}

	var item *tripupdates.Item
	if e.updates != nil {
		item = e.updates.GetByTripID(train.TripID)
	}

	entries := ComputeETAStream(ETAInput{
		StopIDs:              stopIDs,
		SchedArr:             schedArr,
		SchedDep:             schedDep,
		Update:               item,
		Vehicle:              instance.Observation,
		Now:                  now,
		DownstreamTUOverride: true,
	})
	for _, entry := range entries {
		if entry.StopID == stopID {
			return entry, true
		}
	}
	return ETAEntry{}, false
}

func (e *Engine) fillPredictionPlatforms(results []StopPrediction, routeID, stopID string, now int64) {
	if e.habits == nil {
		return
	}
	nucleus := e.repo.NucleusForRoute(routeID)
	prediction := e.habits.HabitualFor(nucleus, routeID, stopID, now)
	if prediction == nil || !prediction.Publishable {
		return
	}
	for i := range results {
		if results[i].Platform != "" || results[i].PlatformAlt != "" {
			continue
		}
		if prediction.Ambiguous() {
			results[i].PlatformAlt = prediction.AltLabel()
		} else {
			results[i].Platform = prediction.Primary
		}
	}
}

func (e *Engine) hhmm(epoch int64) string {
	return time.Unix(epoch, 0).In(e.sched.Location()).Format("15:04")
}

func sortPredictions(results []StopPrediction) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Epoch < results[j-1].Epoch; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// ArrivalTime is one entry of the per-stop arrival map derived from a
// view model.
type ArrivalTime struct {
	Epoch    int64  `json:"epoch"`
	HHMM     string `json:"hhmm"`
	DelayS   *int   `json:"delay_s,omitempty"`
	DelayMin *int   `json:"delay_min,omitempty"`
}

// RTArrivalTimesFromVM flattens a detail view model into the per-stop
// arrival times the UI paints along the line.
func (e *Engine) RTArrivalTimesFromVM(vm *TrainDetailVM) map[string]ArrivalTime {
	if vm == nil || vm.Unified == nil {
		return nil
	}
	results := make(map[string]ArrivalTime, len(vm.Unified.Stops))
	for i := range vm.Unified.Stops {
		row := &vm.Unified.Stops[i]
		if row.Status == RowCanceled || row.Status == RowSkipped {
			continue
		}
		epoch := bestEpoch(row.ETAArrEpoch, row.TUArrEpoch, row.SchedArrEpoch)
		if epoch == 0 {
			continue
		}
		at := ArrivalTime{Epoch: epoch, HHMM: e.hhmm(epoch)}
		if row.DelaySeconds != nil {
			delayS := *row.DelaySeconds
			delayMin := DelayMinutes(delayS)
			at.DelayS = &delayS
			at.DelayMin = &delayMin
		}
		results[row.StopID] = at
	}
	return results
}

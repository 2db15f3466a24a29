package fusion

import (
	"log"
	"time"

	"github.com/cercatrack/railfusion/business/data/schedule"
	"github.com/cercatrack/railfusion/business/data/shapes"
	"github.com/cercatrack/railfusion/business/data/static"
	"github.com/cercatrack/railfusion/business/platforms"
	"github.com/cercatrack/railfusion/business/realtime/tripupdates"
	"github.com/cercatrack/railfusion/business/realtime/vehicles"
)

// StopRowStatus classifies one stop within a trip view.
type StopRowStatus string

const (
	RowCanceled StopRowStatus = "CANCELED"
	RowSkipped  StopRowStatus = "SKIPPED"
	RowNext     StopRowStatus = "NEXT"
	RowCurrent  StopRowStatus = "CURRENT"
	RowPassed   StopRowStatus = "PASSED"
	RowFuture   StopRowStatus = "FUTURE"
)

// StopRow is one stop of the unified trip view.
type StopRow struct {
	StopID        string        `json:"stop_id"`
	StopName      string        `json:"stop_name,omitempty"`
	Seq           int           `json:"seq"`
	SchedArrEpoch int64         `json:"sched_arr_epoch,omitempty"`
	SchedDepEpoch int64         `json:"sched_dep_epoch,omitempty"`
	TUArrEpoch    int64         `json:"tu_arr_epoch,omitempty"`
	TUDepEpoch    int64         `json:"tu_dep_epoch,omitempty"`
	ETAArrEpoch   int64         `json:"eta_arr_epoch,omitempty"`
	ETADepEpoch   int64         `json:"eta_dep_epoch,omitempty"`
	DelaySeconds  *int          `json:"delay_seconds,omitempty"`
	Status        StopRowStatus `json:"status"`
	PassedAtEpoch int64         `json:"passed_at_epoch,omitempty"`
	Platform      string        `json:"platform,omitempty"`
	PlatformAlt   string        `json:"platform_alt,omitempty"`

	lat, lon  float64
	hasCoords bool
}

// TripView is the unified state of one trip as shown to a rider.
type TripView struct {
	HasTU               bool      `json:"has_tu"`
	TUUpdatedISO        string    `json:"tu_updated_iso,omitempty"`
	Stops               []StopRow `json:"stops"`
	NextStopProgressPct int       `json:"next_stop_progress_pct"`
	CurrentStopID       string    `json:"current_stop_id,omitempty"`
	CurrentStopName     string    `json:"current_stop_name,omitempty"`
	NextStopID          string    `json:"next_stop_id,omitempty"`
	NextStopName        string    `json:"next_stop_name,omitempty"`
	CurrentStatus       string    `json:"current_status,omitempty"`
}

// ViewBuilder assembles trip views from the static, scheduled and
// realtime layers and feeds every built view back into the pass
// recorder.
type ViewBuilder struct {
	log     *log.Logger
	repo    *static.Repository
	shapes  *shapes.Index
	sched   *schedule.Materializer
	updates *tripupdates.Cache
	passes  *PassRecorder
	habits  *platforms.Store
}

// NewViewBuilder wires a view builder. shapes, updates and habits may be
// nil when the corresponding data source is unavailable.
func NewViewBuilder(logger *log.Logger, repo *static.Repository, shapeIndex *shapes.Index,
	sched *schedule.Materializer, updates *tripupdates.Cache, passes *PassRecorder,
	habits *platforms.Store) *ViewBuilder {

	return &ViewBuilder{
		log:     logger,
		repo:    repo,
		shapes:  shapeIndex,
		sched:   sched,
		updates: updates,
		passes:  passes,
		habits:  habits,
	}
}

// Build produces the unified view for one service instance at time now.
func (b *ViewBuilder) Build(instance *ServiceInstance, now int64) *TripView {
	view := &TripView{}
	rows := b.seedRows(instance)
	if len(rows) == 0 {
		return view
	}

	tripID := b.tripIDFor(instance)
	var item *tripupdates.Item
	if tripID != "" && b.updates != nil {
		item = b.updates.GetByTripID(tripID)
	}
	if item != nil {
		view.HasTU = true
		view.TUUpdatedISO = time.Unix(item.Timestamp, 0).In(b.sched.Location()).Format(time.RFC3339)
	}

	if item != nil && item.Relationship == tripupdates.TripCanceled {
		for i := range rows {
			rows[i].Status = RowCanceled
		}
		view.Stops = rows
		return view
	}

	skippedStops := applyTripUpdate(rows, item)

	observation := instance.Observation
	currentIdx, nextIdx, effStatus := b.chooseCurrentAndNext(rows, observation, item, now)
	currentIdx, nextIdx = b.enforceNoBacktrack(instance, rows, currentIdx, nextIdx)

	pivotSeq := pivotSequence(rows, item, observation, currentIdx, effStatus, now)
	nextServiceStopID := nextServiceStop(item, observation, now)
	classifyRows(rows, skippedStops, nextServiceStopID, observation, effStatus, currentIdx, nextIdx, pivotSeq)

	progress := b.progressFor(instance, rows, currentIdx, nextIdx, effStatus, now)

	// the feed flags incoming well before arrival; once visually at the
	// stop, show the stopped state instead
	if effStatus == vehicles.IncomingAt && progress >= overshootPct && nextIdx >= 0 {
		effStatus = vehicles.StoppedAt
		progress = 0
		currentIdx = nextIdx
		nextIdx = nextRowIndex(rows, currentIdx)
		classifyRows(rows, skippedStops, "", observation, effStatus, currentIdx, nextIdx, rows[currentIdx].Seq)
	}

	view.NextStopProgressPct = progress
	if observation != nil {
		view.CurrentStatus = effStatus.String()
	}
	if currentIdx >= 0 {
		view.CurrentStopID = rows[currentIdx].StopID
		view.CurrentStopName = rows[currentIdx].StopName
	}
	if nextIdx >= 0 {
		view.NextStopID = rows[nextIdx].StopID
		view.NextStopName = rows[nextIdx].StopName
	}

	b.fillPlatforms(instance, rows, now)
	view.Stops = rows

	b.recordPasses(instance, rows, currentIdx, effStatus)
	return view
}

func (b *ViewBuilder) tripIDFor(instance *ServiceInstance) string {
	if instance.Scheduled != nil {
		return instance.Scheduled.TripID
	}
	if instance.Observation != nil {
		return instance.Observation.TripID
	}
	return ""
}

// seedRows builds the stop list from the scheduled calls, falling back
// to the route's station list for realtime-only instances.
func (b *ViewBuilder) seedRows(instance *ServiceInstance) []StopRow {
	route := b.repo.Route(instance.RouteID, instance.DirectionID)

	if instance.Scheduled != nil {
		rows := make([]StopRow, 0, len(instance.Scheduled.Calls))
		for _, call := range instance.Scheduled.Calls {
			row := StopRow{
				StopID:        call.StopID,
				StopName:      b.stopName(call.StopID),
				Seq:           call.StopSequence,
				SchedArrEpoch: call.ArrivalEpoch,
				SchedDepEpoch: call.DepartureEpoch,
				Status:        RowFuture,
				Platform:      call.PlatformCode,
			}
			if route != nil {
				if station := route.StationSeq(call.StopID); station != nil {
					row.lat, row.lon, row.hasCoords = station.Lat, station.Lon, true
				}
			}
			rows = append(rows, row)
		}
		return rows
	}

	if route == nil {
		return nil
	}
	rows := make([]StopRow, 0, len(route.Stations))
	for _, station := range route.Stations {
		rows = append(rows, StopRow{
			StopID:    station.StopID,
			StopName:  station.Name,
			Seq:       station.Seq,
			Status:    RowFuture,
			lat:       station.Lat,
			lon:       station.Lon,
			hasCoords: true,
		})
	}
	return rows
}

func (b *ViewBuilder) stopName(stopID string) string {
	if name := b.repo.StopName(stopID); name != "" {
		return name
	}
	return b.sched.StopName(stopID)
}

// applyTripUpdate folds the trip update into the rows: explicit times,
// carry-forward delay, and the derived arrival/departure estimates.
// Returns the set of skipped stop ids.
func applyTripUpdate(rows []StopRow, item *tripupdates.Item) map[string]bool {
	skipped := map[string]bool{}
	var carriedDelay *int

	for i := range rows {
		row := &rows[i]
		var update *tripupdates.StopTimeUpdate
		if item != nil {
			seq := uint32(row.Seq)
			update = item.StopUpdate(row.StopID, &seq)
		}
		if update != nil {
			if update.Relationship == tripupdates.StopSkipped {
				skipped[row.StopID] = true
			}
			if update.ArrivalEpoch != nil {
				row.TUArrEpoch = *update.ArrivalEpoch
			}
			if update.DepartureEpoch != nil {
				row.TUDepEpoch = *update.DepartureEpoch
			}
			if update.DepartureDelay != nil {
				delay := int(*update.DepartureDelay)
				carriedDelay = &delay
			} else if update.ArrivalDelay != nil {
				delay := int(*update.ArrivalDelay)
				carriedDelay = &delay
			}
		}
		if carriedDelay == nil && item != nil && item.Delay != nil {
			delay := int(*item.Delay)
			carriedDelay = &delay
		}
		row.DelaySeconds = carriedDelay

		row.ETAArrEpoch = row.TUArrEpoch
		if row.ETAArrEpoch == 0 && row.SchedArrEpoch != 0 {
			row.ETAArrEpoch = row.SchedArrEpoch + int64(delayOrZero(carriedDelay))
		}
		row.ETADepEpoch = row.TUDepEpoch
		if row.ETADepEpoch == 0 && row.SchedDepEpoch != 0 {
			row.ETADepEpoch = row.SchedDepEpoch + int64(delayOrZero(carriedDelay))
		}
	}
	return skipped
}

func delayOrZero(delay *int) int {
	if delay == nil {
		return 0
	}
	return *delay
}

// nextServiceStop derives the stop the trip serves next: the earliest
// non-skipped update with an arrival not yet reached, else the vehicle's
// reported target.
func nextServiceStop(item *tripupdates.Item, observation *vehicles.Observation, now int64) string {
	if item != nil {
		for i := range item.StopUpdates {
			update := &item.StopUpdates[i]
			if update.Relationship == tripupdates.StopSkipped {
				continue
			}
			if update.ArrivalEpoch != nil && *update.ArrivalEpoch >= now {
				return update.StopID
			}
		}
	}
	if observation != nil &&
		(observation.Status == vehicles.InTransitTo || observation.Status == vehicles.IncomingAt) {
		return observation.StopID
	}
	return ""
}

// chooseCurrentAndNext derives the current and next row indexes from
// the vehicle state, applying the far-from-stop correction for
// STOPPED_AT reports. Returns -1 indexes when undeterminable.
func (b *ViewBuilder) chooseCurrentAndNext(rows []StopRow, observation *vehicles.Observation,
	item *tripupdates.Item, now int64) (int, int, vehicles.StopStatus) {

	if observation == nil {
		return -1, -1, vehicles.StatusUnknown
	}
	effStatus := observation.Status
	targetIdx := rowIndexByStopID(rows, observation.StopID)

	if observation.Status == vehicles.StoppedAt && targetIdx >= 0 {
		row := &rows[targetIdx]
		if observation.HasPosition() && row.hasCoords &&
			shapes.Haversine(*observation.Lat, *observation.Lon, row.lat, row.lon) > stoppedAtMaxDistanceM {
			// reported stopped but hundreds of meters out: still approaching
			return targetIdx - 1, targetIdx, vehicles.InTransitTo
		}
		return targetIdx, nextRowIndex(rows, targetIdx), vehicles.StoppedAt
	}

	if observation.Status == vehicles.InTransitTo || observation.Status == vehicles.IncomingAt {
		currentIdx := targetIdx - 1 // -1 stays undetermined when target unknown
		nextIdx := targetIdx
		if stopID := nextServiceStop(item, observation, now); stopID != "" {
			if idx := rowIndexByStopID(rows, stopID); idx >= 0 {
				nextIdx = idx
				if currentIdx < 0 {
					currentIdx = idx - 1
				}
			}
		}
		if currentIdx < 0 && observation.SpeedKmh != nil && *observation.SpeedKmh < nearlyStoppedKmh && targetIdx >= 0 {
			// crawling with no known predecessor: adopt the reported stop
			return targetIdx, nextRowIndex(rows, targetIdx), effStatus
		}
		return currentIdx, nextIdx, effStatus
	}

	return -1, -1, effStatus
}

// enforceNoBacktrack is the final authority on the exposed position: the
// current sequence never falls below what the pass recorder confirmed.
func (b *ViewBuilder) enforceNoBacktrack(instance *ServiceInstance, rows []StopRow, currentIdx, nextIdx int) (int, int) {
	if b.passes == nil || instance.ServiceInstanceID == "" || currentIdx < 0 {
		return currentIdx, nextIdx
	}
	lastConfirmed := b.passes.LastSeq(instance.ServiceInstanceID)
	if lastConfirmed < 0 || rows[currentIdx].Seq >= lastConfirmed {
		return currentIdx, nextIdx
	}
	restoredIdx := rowIndexBySeq(rows, lastConfirmed)
	if restoredIdx < 0 {
		return currentIdx, nextIdx
	}
	b.log.Printf("backtrack suppressed on %s: reported seq %d behind confirmed seq %d",
		instance.ServiceInstanceID, rows[currentIdx].Seq, lastConfirmed)
	return restoredIdx, nextRowIndex(rows, restoredIdx)
}

// pivotSequence picks the sequence below which stops read as passed.
func pivotSequence(rows []StopRow, item *tripupdates.Item, observation *vehicles.Observation,
	currentIdx int, effStatus vehicles.StopStatus, now int64) int {

	if effStatus == vehicles.StoppedAt && currentIdx >= 0 {
		return rows[currentIdx].Seq
	}
	if item != nil {
		for i := range item.StopUpdates {
			update := &item.StopUpdates[i]
			at := update.ArrivalEpoch
			if at == nil {
				at = update.DepartureEpoch
			}
			if at != nil && *at >= now {
				if idx := rowIndexByStopID(rows, update.StopID); idx >= 0 {
					return rows[idx].Seq
				}
			}
		}
	}
	if observation != nil &&
		(effStatus == vehicles.InTransitTo || effStatus == vehicles.IncomingAt) {
		if idx := rowIndexByStopID(rows, observation.StopID); idx >= 0 {
			return rows[idx].Seq
		}
	}
	return -1
}

// classifyRows assigns each row its display status, first match wins.
func classifyRows(rows []StopRow, skippedStops map[string]bool, nextServiceStopID string,
	observation *vehicles.Observation, effStatus vehicles.StopStatus,
	currentIdx, nextIdx, pivotSeq int) {

	nextAssigned := false
	for i := range rows {
		row := &rows[i]
		switch {
		case skippedStops[row.StopID]:
			row.Status = RowSkipped
		case !nextAssigned && i != currentIdx && (i == nextIdx || (nextIdx < 0 && row.StopID == nextServiceStopID)):
			row.Status = RowNext
			nextAssigned = true
		case effStatus == vehicles.StoppedAt && i == currentIdx:
			row.Status = RowCurrent
		case !nextAssigned && observation != nil && row.StopID == observation.StopID &&
			(effStatus == vehicles.InTransitTo || effStatus == vehicles.IncomingAt):
			row.Status = RowNext
			nextAssigned = true
		case i == currentIdx:
			row.Status = RowCurrent
		case pivotSeq >= 0 && row.Seq < pivotSeq:
			row.Status = RowPassed
		default:
			row.Status = RowFuture
		}
	}
}

// progressFor computes the displayed percentage between the current and
// next stops.
func (b *ViewBuilder) progressFor(instance *ServiceInstance, rows []StopRow,
	currentIdx, nextIdx int, effStatus vehicles.StopStatus, now int64) int {

	observation := instance.Observation
	if observation == nil || nextIdx < 0 {
		return 0
	}
	if effStatus == vehicles.StoppedAt {
		return 0
	}

	var temporal float64
	temporalOK := false
	if currentIdx >= 0 {
		departFrom := bestEpoch(rows[currentIdx].ETADepEpoch, rows[currentIdx].TUDepEpoch, rows[currentIdx].SchedDepEpoch)
		arriveTo := bestEpoch(rows[nextIdx].ETAArrEpoch, rows[nextIdx].TUArrEpoch, rows[nextIdx].SchedArrEpoch)
		temporal, temporalOK = temporalFraction(now, departFrom, arriveTo)
	}

	var spatial float64
	spatialOK := false
	if observation.HasPosition() && currentIdx >= 0 &&
		rows[currentIdx].hasCoords && rows[nextIdx].hasCoords {
		var polyline shapes.Polyline
		if b.shapes != nil {
			polyline = b.shapes.ForRoute(instance.RouteID)
		}
		spatial, spatialOK = spatialFraction(polyline,
			rows[currentIdx].lat, rows[currentIdx].lon,
			rows[nextIdx].lat, rows[nextIdx].lon,
			*observation.Lat, *observation.Lon)
	}

	return fuseProgress(effStatus, observation.SpeedKmh, &spatial, spatialOK, &temporal, temporalOK)
}

// fillPlatforms resolves the platform shown per stop: the live feed
// value first, then the habitual prediction when publishable.
func (b *ViewBuilder) fillPlatforms(instance *ServiceInstance, rows []StopRow, now int64) {
	observation := instance.Observation
	nucleus := ""
	if observation != nil {
		nucleus = observation.NucleusID
	} else {
		nucleus = b.repo.NucleusForRoute(instance.RouteID)
	}

	for i := range rows {
		row := &rows[i]
		if observation != nil {
			if live := observation.Platform(row.StopID); live != "" {
				row.Platform = platforms.NormalizePlatform(live)
				continue
			}
		}
		if row.Platform != "" || b.habits == nil {
			continue
		}
		prediction := b.habits.HabitualFor(nucleus, instance.RouteID, row.StopID, now)
		if prediction == nil || !prediction.Publishable {
			continue
		}
		if prediction.Ambiguous() {
			row.PlatformAlt = prediction.AltLabel()
			continue
		}
		row.Platform = prediction.Primary
	}
}

// recordPasses feeds the built rows back into the pass recorder with
// the forced epochs derived from the vehicle state.
func (b *ViewBuilder) recordPasses(instance *ServiceInstance, rows []StopRow, currentIdx int, effStatus vehicles.StopStatus) {
	if b.passes == nil || instance.ServiceInstanceID == "" || currentIdx < 0 {
		return
	}
	observation := instance.Observation
	vehicleTS := int64(0)
	if observation != nil {
		vehicleTS = observation.Timestamp
	}

	currentSeq := rows[currentIdx].Seq
	forcedArrivals := map[int]int64{}
	forcedDepartures := map[int]int64{}
	lastPassedSeq := currentSeq
	if effStatus == vehicles.StoppedAt {
		forcedArrivals[currentSeq] = vehicleTS
	} else {
		forcedDepartures[currentSeq] = vehicleTS
	}
	b.passes.Record(instance.ServiceInstanceID, rows, lastPassedSeq, vehicleTS, forcedArrivals, forcedDepartures)

	if observation != nil {
		b.passes.LinkTrain(instance.ServiceInstanceID, observation.TrainID)
	}
}

func rowIndexByStopID(rows []StopRow, stopID string) int {
	if stopID == "" {
		return -1
	}
	for i := range rows {
		if rows[i].StopID == stopID {
			return i
		}
	}
	return -1
}

func rowIndexBySeq(rows []StopRow, seq int) int {
	for i := range rows {
		if rows[i].Seq == seq {
			return i
		}
	}
	return -1
}

func nextRowIndex(rows []StopRow, idx int) int {
	if idx+1 < len(rows) {
		return idx + 1
	}
	return -1
}

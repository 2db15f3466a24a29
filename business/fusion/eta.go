package fusion

import (
	"github.com/cercatrack/railfusion/business/realtime/tripupdates"
	"github.com/cercatrack/railfusion/business/realtime/vehicles"
)

const (
	// minHeadwaySeconds keeps consecutive downstream ETAs apart.
	minHeadwaySeconds = 5
	// minLeadSeconds keeps every ETA at least this far ahead of now.
	minLeadSeconds = 5
)

// ETAInput carries everything the downstream propagation needs.
type ETAInput struct {
	StopIDs  []string
	SchedArr map[string]int64
	SchedDep map[string]int64

	Update  *tripupdates.Item
	Vehicle *vehicles.Observation
	Now     int64

	// DownstreamTUOverride lets stop-specific trip update times replace
	// the propagated value past the pivot.
	DownstreamTUOverride bool
}

// ETAEntry is one downstream arrival estimate.
type ETAEntry struct {
	StopID       string
	Epoch        int64
	DelaySeconds int
}

// ComputeETAStream anchors the delay at the pivot stop and propagates it
// downstream with the minimum headway enforced. A canceled trip yields
// no estimates.
func ComputeETAStream(in ETAInput) []ETAEntry {
	if len(in.StopIDs) == 0 {
		return nil
	}
	if in.Update != nil && in.Update.Relationship == tripupdates.TripCanceled {
		return nil
	}

	pivot := pivotIndex(in)
	if pivot >= len(in.StopIDs) {
		// vehicle already done with the run
		if in.Vehicle != nil && in.Vehicle.Status == vehicles.StoppedAt &&
			in.Vehicle.StopID == in.StopIDs[len(in.StopIDs)-1] {
			return nil
		}
		pivot = len(in.StopIDs) - 1
	}

	pivotStop := in.StopIDs[pivot]
	schedPivot := in.SchedArr[pivotStop]
	if schedPivot == 0 {
		schedPivot = in.SchedDep[pivotStop]
	}

	etaPivot, haveTUPivot := tuArrival(in.Update, pivotStop)
	if !haveTUPivot {
		physMin := in.Now + minLeadSeconds
		if in.Vehicle != nil && in.Vehicle.Status == vehicles.StoppedAt && in.Vehicle.StopID == pivotStop {
			physMin = in.Now
		}
		etaPivot = physMin
		if schedPivot > etaPivot {
			etaPivot = schedPivot
		}
	}
	carriedDelay := int64(0)
	if schedPivot != 0 {
		carriedDelay = etaPivot - schedPivot
	}

	entries := make([]ETAEntry, 0, len(in.StopIDs)-pivot)
	previous := int64(0)
	for i := pivot; i < len(in.StopIDs); i++ {
		stopID := in.StopIDs[i]
		sched := in.SchedArr[stopID]
		if sched == 0 {
			sched = in.SchedDep[stopID]
		}

		var eta int64
		switch {
		case i == pivot:
			eta = etaPivot
		case in.DownstreamTUOverride:
			if override, present := tuArrival(in.Update, stopID); present {
				eta = override
				if sched != 0 {
					carriedDelay = override - sched
				}
				break
			}
			fallthrough
		default:
			if sched == 0 {
				continue
			}
			eta = sched + carriedDelay
		}

		// the pivot may sit at now exactly when the vehicle is stopped
		// there; only downstream stops get the physical floor
		if floor := in.Now + minLeadSeconds; i > pivot && eta < floor {
			eta = floor
		}
		if previous != 0 && eta < previous+minHeadwaySeconds {
			eta = previous + minHeadwaySeconds
		}
		previous = eta

		delay := int64(0)
		if sched != 0 {
			delay = eta - sched
		}
		entries = append(entries, ETAEntry{StopID: stopID, Epoch: eta, DelaySeconds: int(delay)})
	}
	return entries
}

// pivotIndex finds the first stop ahead of the vehicle: its reported
// target, else the trip update's first future stop, else the first stop
// still scheduled ahead of now, else 0.
func pivotIndex(in ETAInput) int {
	if in.Vehicle != nil && in.Vehicle.StopID != "" {
		for i, stopID := range in.StopIDs {
			if stopID == in.Vehicle.StopID {
				if in.Vehicle.Status == vehicles.StoppedAt && i == len(in.StopIDs)-1 {
					return len(in.StopIDs)
				}
				return i
			}
		}
	}
	if in.Update != nil {
		if stopID := in.Update.NextServiceStop(in.Now); stopID != "" {
			for i, candidate := range in.StopIDs {
				if candidate == stopID {
					return i
				}
			}
		}
	}
	for i, stopID := range in.StopIDs {
		sched := in.SchedArr[stopID]
		if sched == 0 {
			sched = in.SchedDep[stopID]
		}
		if sched >= in.Now {
			return i
		}
	}
	return 0
}

func tuArrival(item *tripupdates.Item, stopID string) (int64, bool) {
	if item == nil {
		return 0, false
	}
	update := item.StopUpdate(stopID, nil)
	if update == nil || update.Relationship == tripupdates.StopSkipped {
		return 0, false
	}
	if update.ArrivalEpoch != nil {
		return *update.ArrivalEpoch, true
	}
	if update.DepartureEpoch != nil {
		return *update.DepartureEpoch, true
	}
	return 0, false
}

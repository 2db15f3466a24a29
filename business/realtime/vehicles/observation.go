// Package vehicles maintains the in-memory cache of realtime vehicle
// observations: polling, snapshot swap, staleness and grace rules, and
// route/nucleus enrichment of each observation.
package vehicles

import (
	"regexp"
	"strings"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/cercatrack/railfusion/business/data/schedule"
)

// StopStatus is the relationship a vehicle has to a stop in gtfs-rt.
type StopStatus int

const (
	StatusUnknown StopStatus = -1
	// IncomingAt indicates the vehicle is just about to arrive at the stop.
	IncomingAt StopStatus = 0
	// StoppedAt indicates the vehicle is at the stop.
	StoppedAt StopStatus = 1
	// InTransitTo indicates the vehicle has departed the previous stop.
	InTransitTo StopStatus = 2
)

// String implements Stringer for StopStatus.
func (s StopStatus) String() string {
	switch s {
	case IncomingAt:
		return "INCOMING_AT"
	case StoppedAt:
		return "STOPPED_AT"
	case InTransitTo:
		return "IN_TRANSIT_TO"
	}
	return "UNKNOWN"
}

// Observation is one physical vehicle at one instant. Optional telemetry
// fields are pointers and nil when the feed did not report them.
type Observation struct {
	TrainID        string
	TripID         string
	RouteID        string
	DirectionID    string
	NucleusID      string
	Lat            *float64
	Lon            *float64
	SpeedKmh       *float64
	Bearing        *float64
	StopID         string
	Status         StopStatus
	Timestamp      int64
	Label          string
	TrainNumber    string
	PlatformByStop map[string]string
}

// IsFresh reports whether the observation is at most MaxStaleSeconds old.
func (o *Observation) IsFresh(now int64) bool {
	return now-o.Timestamp <= MaxStaleSeconds
}

// HasPosition reports whether the feed included coordinates.
func (o *Observation) HasPosition() bool {
	return o.Lat != nil && o.Lon != nil
}

// Platform returns the live platform reported for stopID, empty if none.
func (o *Observation) Platform(stopID string) string {
	if o.PlatformByStop == nil {
		return ""
	}
	return o.PlatformByStop[stopID]
}

var labelPlatformPattern = regexp.MustCompile(`(?i)PLATF\.?\s*\(([^)]+)\)`)

// parseVehicles extracts observations from a feed message. Entities
// without a usable identifier are skipped; one bad entity never discards
// the batch.
func parseVehicles(message *gtfsrt.FeedMessage, now int64) []*Observation {
	var observations []*Observation
	for _, entity := range message.GetEntity() {
		vehicle := entity.GetVehicle()
		if vehicle == nil {
			continue
		}
		observation := &Observation{
			Status: StatusUnknown,
		}
		descriptor := vehicle.GetVehicle()
		if descriptor.GetId() != "" {
			observation.TrainID = descriptor.GetId()
		} else if entity.GetId() != "" {
			observation.TrainID = entity.GetId()
		} else {
			continue
		}
		observation.Label = descriptor.GetLabel()

		if trip := vehicle.GetTrip(); trip != nil {
			observation.TripID = trip.GetTripId()
			observation.RouteID = trip.GetRouteId()
			if trip.DirectionId != nil {
				if trip.GetDirectionId() == 0 {
					observation.DirectionID = "0"
				} else {
					observation.DirectionID = "1"
				}
			}
		}

		if position := vehicle.GetPosition(); position != nil {
			lat := float64(position.GetLatitude())
			lon := float64(position.GetLongitude())
			observation.Lat = &lat
			observation.Lon = &lon
			if position.Bearing != nil {
				bearing := float64(position.GetBearing())
				observation.Bearing = &bearing
			}
			if position.Speed != nil {
				speedKmh := float64(position.GetSpeed()) * 3.6
				observation.SpeedKmh = &speedKmh
			}
		}

		if vehicle.CurrentStatus != nil {
			observation.Status = fromFeedStatus(vehicle.GetCurrentStatus())
		}
		observation.StopID = vehicle.GetStopId()
		if vehicle.Timestamp != nil {
			observation.Timestamp = int64(vehicle.GetTimestamp())
		} else {
			observation.Timestamp = now
		}

		observation.TrainNumber = schedule.ExtractTrainNumber(observation.Label, observation.TripID, observation.TrainID)
		if platform := platformFromLabel(observation.Label); platform != "" && observation.StopID != "" {
			observation.PlatformByStop = map[string]string{observation.StopID: platform}
		}

		observations = append(observations, observation)
	}
	return observations
}

// platformFromLabel extracts the platform hint some operators embed in
// the vehicle label, e.g. "21005 PLATF.(4)".
func platformFromLabel(label string) string {
	match := labelPlatformPattern.FindStringSubmatch(label)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

func fromFeedStatus(status gtfsrt.VehiclePosition_VehicleStopStatus) StopStatus {
	switch status {
	case gtfsrt.VehiclePosition_INCOMING_AT:
		return IncomingAt
	case gtfsrt.VehiclePosition_STOPPED_AT:
		return StoppedAt
	case gtfsrt.VehiclePosition_IN_TRANSIT_TO:
		return InTransitTo
	}
	return StatusUnknown
}

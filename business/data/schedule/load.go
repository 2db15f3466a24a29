package schedule

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/cercatrack/railfusion/business/data/shapes"
)

// GTFS holds the static timetable tables needed to materialize service
// days, keyed for direct lookup.
type GTFS struct {
	Trips           map[string]*Trip
	StopTimes       map[string][]StopTime
	Calendar        map[string]*CalendarEntry
	CalendarDates   map[string][]CalendarDate
	PlatformByStop  map[string]string
	StopNames       map[string]string
	ShapePoints     map[string][]shapes.RawPoint
	ShapeIDsByRoute map[string][]string
}

// LoadGTFS reads the gtfs files from dir. trips.txt, stop_times.txt,
// stops.txt and calendar.txt are required; calendar_dates.txt and
// shapes.txt are optional. Row level errors are logged and skipped, a
// missing required file is returned as an error so startup can refuse
// to proceed.
func LoadGTFS(logger *log.Logger, dir string, sniffDelimiters bool) (*GTFS, error) {
	g := &GTFS{
		Trips:           make(map[string]*Trip),
		StopTimes:       make(map[string][]StopTime),
		Calendar:        make(map[string]*CalendarEntry),
		CalendarDates:   make(map[string][]CalendarDate),
		PlatformByStop:  make(map[string]string),
		StopNames:       make(map[string]string),
		ShapePoints:     make(map[string][]shapes.RawPoint),
		ShapeIDsByRoute: make(map[string][]string),
	}

	loaders := []struct {
		filename string
		required bool
		load     func(*gtfsFileParser) error
	}{
		{"trips.txt", true, g.loadTrips},
		{"stops.txt", true, g.loadStops},
		{"stop_times.txt", true, g.loadStopTimes},
		{"calendar.txt", true, g.loadCalendar},
		{"calendar_dates.txt", false, g.loadCalendarDates},
		{"shapes.txt", false, g.loadShapes},
	}

	for _, loader := range loaders {
		parser, closer, err := openGTFSFile(dir, loader.filename, sniffDelimiters)
		if err != nil {
			if !loader.required && os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("opening %s: %w", loader.filename, err)
		}
		err = loader.load(parser)
		for _, rowErr := range parser.errs {
			logger.Printf("gtfs load: %v", rowErr)
		}
		_ = closer.Close()
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", loader.filename, err)
		}
	}

	for tripID := range g.StopTimes {
		stopTimes := g.StopTimes[tripID]
		sort.Slice(stopTimes, func(i, j int) bool {
			return stopTimes[i].StopSequence < stopTimes[j].StopSequence
		})
		g.StopTimes[tripID] = stopTimes
	}

	for _, trip := range g.Trips {
		if trip.ShapeID != "" {
			g.ShapeIDsByRoute[trip.RouteID] = append(g.ShapeIDsByRoute[trip.RouteID], trip.ShapeID)
		}
	}

	return g, nil
}

// ShapesIndex builds the per-route shapes index from the loaded points.
func (g *GTFS) ShapesIndex() *shapes.Index {
	return shapes.NewIndex(g.ShapePoints, g.ShapeIDsByRoute)
}

// RouteForTrip resolves the static route and direction of tripID.
func (g *GTFS) RouteForTrip(tripID string) (routeID string, directionID string, found bool) {
	trip, present := g.Trips[tripID]
	if !present {
		return "", "", false
	}
	return trip.RouteID, trip.DirectionID, true
}

func (g *GTFS) loadTrips(p *gtfsFileParser) error {
	for {
		more, err := p.next()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		tripID := p.getString("trip_id")
		if tripID == "" {
			p.recordError("trip_id")
			continue
		}
		trip := &Trip{
			TripID:      tripID,
			RouteID:     p.getString("route_id"),
			ServiceID:   p.getString("service_id"),
			DirectionID: p.getString("direction_id"),
			Headsign:    p.getString("trip_headsign"),
			ShortName:   p.getString("trip_short_name"),
			BlockID:     p.getString("block_id"),
			ShapeID:     p.getString("shape_id"),
		}
		trip.TrainNumber = ExtractTrainNumber(trip.ShortName, trip.TripID, trip.BlockID, trip.Headsign)
		g.Trips[tripID] = trip
	}
}

func (g *GTFS) loadStops(p *gtfsFileParser) error {
	for {
		more, err := p.next()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		stopID := p.getString("stop_id")
		if stopID == "" {
			continue
		}
		if name := p.getString("stop_name"); name != "" {
			g.StopNames[stopID] = name
		}
		if platform := p.getString("platform_code"); platform != "" {
			g.PlatformByStop[stopID] = platform
		}
	}
}

func (g *GTFS) loadStopTimes(p *gtfsFileParser) error {
	for {
		more, err := p.next()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		tripID := p.getString("trip_id")
		stopID := p.getString("stop_id")
		if tripID == "" || stopID == "" {
			p.recordError("trip_id")
			continue
		}
		g.StopTimes[tripID] = append(g.StopTimes[tripID], StopTime{
			StopID:       stopID,
			StopSequence: p.getInt("stop_sequence", 0),
			ArrivalSec:   p.getSeconds("arrival_time"),
			DepartureSec: p.getSeconds("departure_time"),
			PickupType:   p.getInt("pickup_type", 0),
			DropOffType:  p.getInt("drop_off_type", 0),
		})
	}
}

func (g *GTFS) loadCalendar(p *gtfsFileParser) error {
	dayColumns := []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}
	for {
		more, err := p.next()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		serviceID := p.getString("service_id")
		if serviceID == "" {
			p.recordError("service_id")
			continue
		}
		entry := &CalendarEntry{
			ServiceID: serviceID,
			StartDate: p.getString("start_date"),
			EndDate:   p.getString("end_date"),
		}
		for i, column := range dayColumns {
			entry.Weekdays[i] = p.getInt(column, 0) == 1
		}
		g.Calendar[serviceID] = entry
	}
}

func (g *GTFS) loadCalendarDates(p *gtfsFileParser) error {
	for {
		more, err := p.next()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		serviceID := p.getString("service_id")
		date := p.getString("date")
		if serviceID == "" || date == "" {
			p.recordError("service_id")
			continue
		}
		g.CalendarDates[serviceID] = append(g.CalendarDates[serviceID], CalendarDate{
			Date:          date,
			ExceptionType: p.getInt("exception_type", 0),
		})
	}
}

func (g *GTFS) loadShapes(p *gtfsFileParser) error {
	for {
		more, err := p.next()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		shapeID := p.getString("shape_id")
		lat := p.getFloat("shape_pt_lat")
		lon := p.getFloat("shape_pt_lon")
		if shapeID == "" || lat == nil || lon == nil {
			p.recordError("shape_id")
			continue
		}
		g.ShapePoints[shapeID] = append(g.ShapePoints[shapeID], shapes.RawPoint{
			Lat:          *lat,
			Lon:          *lon,
			Sequence:     p.getInt("shape_pt_sequence", 0),
			DistTraveled: p.getFloat("shape_dist_traveled"),
		})
	}
}

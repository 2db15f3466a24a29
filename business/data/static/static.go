// Package static provides read-only access to the derived timetable
// tables: routes with their ordered stations, the route to nucleus map
// and the train number parity map. It is loaded once at startup and the
// whole repository is swapped atomically when the timetable changes.
package static

// StationOnLine is one call position on a Route, ordered by Seq.
type StationOnLine struct {
	Seq          int
	StopID       string
	Name         string
	KmFromOrigin float64
	Lat          float64
	Lon          float64
}

// Route is a physical corridor in one direction. The identity is
// (RouteID, DirectionID); two directions of the same line are two Routes.
type Route struct {
	RouteID     string
	ShortName   string
	LongName    string
	DirectionID string
	NucleusID   string
	Stations    []StationOnLine
	LengthKm    float64
	ColorBg     string
	ColorFg     string
}

// StationSeq returns the StationOnLine for stopID or nil when the stop is
// not on the route.
func (r *Route) StationSeq(stopID string) *StationOnLine {
	for i := range r.Stations {
		if r.Stations[i].StopID == stopID {
			return &r.Stations[i]
		}
	}
	return nil
}

// HasStop reports whether stopID is one of the route's stations.
func (r *Route) HasStop(stopID string) bool {
	return r.StationSeq(stopID) != nil
}

// Stop is a specific call on a specific Route.
type Stop struct {
	StopID      string
	StationID   string
	RouteID     string
	DirectionID string
	Seq         int
	Km          float64
	Lat         float64
	Lon         float64
	Name        string
	NucleusID   string
	Slug        string
}

// Nucleus is an administrative grouping of routes, a commuter rail area.
type Nucleus struct {
	Slug string
	Name string
}

// Parity classifies the numeric train identifier as even or odd, used as
// a directional hint when a vehicle cannot be tied to a trip.
type Parity string

const (
	ParityEven Parity = "even"
	ParityOdd  Parity = "odd"
)

// ParityStatus qualifies how much a parity rule should be trusted.
type ParityStatus string

const (
	ParityFinal     ParityStatus = "final"
	ParityTentative ParityStatus = "tentative"
	ParityDisabled  ParityStatus = "disabled"
)

// ParityRule maps train number parity to a direction_id for one route.
type ParityRule struct {
	Even   string       `json:"even"`
	Odd    string       `json:"odd"`
	Status ParityStatus `json:"status"`
}

package static

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"
)

// routeStationRow is one row of route_stations.csv: a single call of a
// directed route. Route level columns repeat on every row; the first row
// of a route wins. Optional columns left out of the file stay zero valued
// and the affected accessors degrade to their neutral defaults.
type routeStationRow struct {
	RouteID        string  `csv:"route_id"`
	DirectionID    string  `csv:"direction_id"`
	Seq            int     `csv:"seq"`
	StopID         string  `csv:"stop_id"`
	StationID      string  `csv:"station_id"`
	StopName       string  `csv:"stop_name"`
	Km             float64 `csv:"km"`
	Lat            float64 `csv:"lat"`
	Lon            float64 `csv:"lon"`
	Slug           string  `csv:"slug"`
	RouteShortName string  `csv:"route_short_name"`
	RouteLongName  string  `csv:"route_long_name"`
	ColorBg        string  `csv:"color_bg"`
	ColorFg        string  `csv:"color_fg"`
}

type nucleusRow struct {
	RouteID     string `csv:"route_id"`
	NucleusSlug string `csv:"nucleus_slug"`
	NucleusName string `csv:"nucleus_name"`
}

// Load builds a Repository from the derived files in dir. route_stations.csv
// and nucleos_map.csv are required and their absence is fatal; parity_map.json
// is optional and parity lookups degrade to disabled without it.
func Load(dir string) (*Repository, error) {
	var stationRows []*routeStationRow
	if err := readCSVFile(filepath.Join(dir, "route_stations.csv"), &stationRows); err != nil {
		return nil, errors.Wrap(err, "loading route_stations.csv")
	}
	var nucleusRows []*nucleusRow
	if err := readCSVFile(filepath.Join(dir, "nucleos_map.csv"), &nucleusRows); err != nil {
		return nil, errors.Wrap(err, "loading nucleos_map.csv")
	}
	parity, err := readParityMap(filepath.Join(dir, "parity_map.json"))
	if err != nil {
		return nil, errors.Wrap(err, "loading parity_map.json")
	}
	return build(stationRows, nucleusRows, parity), nil
}

// LoadFromReaders builds a Repository from already-open readers for
// route_stations.csv and nucleos_map.csv plus a parity map. Used by tests
// and by callers that fetch the derived files from elsewhere.
func LoadFromReaders(routeStations io.Reader, nuclei io.Reader, parity map[string]ParityRule) (*Repository, error) {
	var stationRows []*routeStationRow
	if err := readCSV(routeStations, &stationRows); err != nil {
		return nil, errors.Wrap(err, "parsing route stations")
	}
	var nucleusRows []*nucleusRow
	if err := readCSV(nuclei, &nucleusRows); err != nil {
		return nil, errors.Wrap(err, "parsing nucleus map")
	}
	if parity == nil {
		parity = map[string]ParityRule{}
	}
	return build(stationRows, nucleusRows, parity), nil
}

// readCSVFile unmarshals a csv file into out, sniffing the delimiter from
// the header line and stripping any byte order mark.
func readCSVFile(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return readCSV(f, out)
}

func readCSV(r io.Reader, out interface{}) error {
	buffered := bufio.NewReader(bom.NewReader(r))
	delimiter, err := sniffDelimiter(buffered)
	if err != nil {
		return err
	}
	csvReader := csv.NewReader(buffered)
	csvReader.Comma = delimiter
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	return gocsv.UnmarshalCSV(csvReader, out)
}

// sniffDelimiter peeks at the header line and picks the candidate
// delimiter that splits it into the most fields.
func sniffDelimiter(r *bufio.Reader) (rune, error) {
	header, err := r.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return ',', err
	}
	line := string(header)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	best := ','
	bestCount := strings.Count(line, ",")
	for _, candidate := range []string{";", "|", "\t"} {
		if count := strings.Count(line, candidate); count > bestCount {
			bestCount = count
			best = rune(candidate[0])
		}
	}
	return best, nil
}

func readParityMap(path string) (map[string]ParityRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ParityRule{}, nil
		}
		return nil, err
	}
	parity := make(map[string]ParityRule)
	if err = json.Unmarshal(bom.Clean(data), &parity); err != nil {
		return nil, err
	}
	return parity, nil
}

func build(stationRows []*routeStationRow, nucleusRows []*nucleusRow, parity map[string]ParityRule) *Repository {
	nucleusByRoute := make(map[string]Nucleus)
	nucleusByID := make(map[string]Nucleus)
	for _, row := range nucleusRows {
		n := Nucleus{Slug: row.NucleusSlug, Name: row.NucleusName}
		nucleusByRoute[row.RouteID] = n
		nucleusByID[n.Slug] = n
	}

	repo := &Repository{
		routes:        make(map[routeKey]*Route),
		routesByID:    make(map[string][]*Route),
		stopsByID:     make(map[string][]*Stop),
		stopNames:     make(map[string]string),
		nucleusByID:   nucleusByID,
		routesByNuc:   make(map[string][]*Route),
		parityByRoute: parity,
	}

	for _, row := range stationRows {
		key := routeKey{row.RouteID, row.DirectionID}
		route, present := repo.routes[key]
		if !present {
			route = &Route{
				RouteID:     row.RouteID,
				ShortName:   row.RouteShortName,
				LongName:    row.RouteLongName,
				DirectionID: row.DirectionID,
				NucleusID:   nucleusByRoute[row.RouteID].Slug,
				ColorBg:     row.ColorBg,
				ColorFg:     row.ColorFg,
			}
			repo.routes[key] = route
			repo.routesByID[row.RouteID] = append(repo.routesByID[row.RouteID], route)
			repo.routesByNuc[route.NucleusID] = append(repo.routesByNuc[route.NucleusID], route)
		}
		route.Stations = append(route.Stations, StationOnLine{
			Seq:          row.Seq,
			StopID:       row.StopID,
			Name:         row.StopName,
			KmFromOrigin: row.Km,
			Lat:          row.Lat,
			Lon:          row.Lon,
		})
		stop := &Stop{
			StopID:      row.StopID,
			StationID:   row.StationID,
			RouteID:     row.RouteID,
			DirectionID: row.DirectionID,
			Seq:         row.Seq,
			Km:          row.Km,
			Lat:         row.Lat,
			Lon:         row.Lon,
			Name:        row.StopName,
			NucleusID:   nucleusByRoute[row.RouteID].Slug,
			Slug:        row.Slug,
		}
		repo.stopsByID[row.StopID] = append(repo.stopsByID[row.StopID], stop)
		if row.StopName != "" {
			repo.stopNames[row.StopID] = row.StopName
		}
	}

	for _, route := range repo.routes {
		sort.Slice(route.Stations, func(i, j int) bool {
			return route.Stations[i].Seq < route.Stations[j].Seq
		})
		if n := len(route.Stations); n > 0 {
			route.LengthKm = route.Stations[n-1].KmFromOrigin
		}
	}

	for slug := range nucleusByID {
		repo.nuclei = append(repo.nuclei, nucleusByID[slug])
	}
	sort.Slice(repo.nuclei, func(i, j int) bool {
		return repo.nuclei[i].Slug < repo.nuclei[j].Slug
	})

	return repo
}

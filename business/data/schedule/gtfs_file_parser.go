package schedule

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spkg/bom"
)

// gtfsFileParser reads a gtfs csv file row by row with access to columns
// by header name. Errors while extracting data types are accumulated in
// errs with the line number they happened on, so one bad row never aborts
// a whole file.
type gtfsFileParser struct {
	filename  string
	line      int
	csvReader *csv.Reader
	headers   map[string]int
	current   []string
	errs      []error
}

// openGTFSFile opens name inside dir and prepares a parser for it.
// The delimiter is sniffed from the header line when sniff is true.
func openGTFSFile(dir, name string, sniff bool) (*gtfsFileParser, io.Closer, error) {
	path := filepath.Join(dir, name)
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	parser, err := makeGTFSFileParser(f, name, sniff)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return parser, f, nil
}

// makeGTFSFileParser creates a gtfsFileParser from an io.Reader.
func makeGTFSFileParser(r io.Reader, filename string, sniff bool) (*gtfsFileParser, error) {
	buffered := bufio.NewReader(bom.NewReader(r))
	delimiter := ','
	if sniff {
		sniffed, err := sniffDelimiter(buffered)
		if err != nil {
			return nil, fmt.Errorf("unable to sniff delimiter in %s: %w", filename, err)
		}
		delimiter = sniffed
	}
	csvReader := csv.NewReader(buffered)
	csvReader.Comma = delimiter
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	headerRow, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("unable to load header in %s file: %w", filename, err)
	}
	headers := make(map[string]int, len(headerRow))
	for i, h := range headerRow {
		headers[strings.TrimSpace(h)] = i
	}
	return &gtfsFileParser{
		filename:  filename,
		line:      1,
		csvReader: csvReader,
		headers:   headers,
	}, nil
}

// sniffDelimiter peeks at the first line and picks whichever of the
// candidate delimiters splits it into the most fields.
func sniffDelimiter(r *bufio.Reader) (rune, error) {
	head, err := r.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return ',', err
	}
	line := string(head)
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

// next advances to the next row. Returns false at end of file.
func (p *gtfsFileParser) next() (bool, error) {
	record, err := p.csvReader.Read()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s line %d: %w", p.filename, p.line+1, err)
	}
	p.line++
	p.current = record
	return true, nil
}

func (p *gtfsFileParser) recordError(name string) {
	p.errs = append(p.errs, fmt.Errorf("%s line %d: bad value in column %q", p.filename, p.line, name))
}

// getString retrieves a column by name, empty string when the column is
// absent from the file or the row.
func (p *gtfsFileParser) getString(name string) string {
	index, present := p.headers[name]
	if !present || index >= len(p.current) {
		return ""
	}
	return strings.TrimSpace(p.current[index])
}

// getInt retrieves an int column, def when missing or malformed.
func (p *gtfsFileParser) getInt(name string, def int) int {
	raw := p.getString(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		p.recordError(name)
		return def
	}
	return value
}

// getFloat retrieves a float64 column, nil when missing or malformed.
func (p *gtfsFileParser) getFloat(name string) *float64 {
	raw := p.getString(name)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.recordError(name)
		return nil
	}
	return &value
}

// getSeconds parses a gtfs HH:MM:SS column into seconds since the service
// day anchor. Hours may exceed 23 for trips crossing midnight. Returns -1
// when the column is missing or malformed.
func (p *gtfsFileParser) getSeconds(name string) int {
	raw := p.getString(name)
	if raw == "" {
		return -1
	}
	seconds, err := parseScheduleSeconds(raw)
	if err != nil {
		p.recordError(name)
		return -1
	}
	return seconds
}

// parseScheduleSeconds converts "HH:MM:SS" (or "H:MM:SS") to seconds.
func parseScheduleSeconds(raw string) (int, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed schedule time %q", raw)
	}
	hours, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, err
	}
	if hours < 0 || minutes < 0 || minutes > 59 || seconds < 0 || seconds > 59 {
		return 0, fmt.Errorf("schedule time out of range %q", raw)
	}
	return hours*3600 + minutes*60 + seconds, nil
}

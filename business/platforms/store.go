package platforms

import (
	"log"
	"os"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"
)

// Store holds the observed platform history behind a single mutex.
// Writes are throttled; persistence is best-effort and never fails an
// observation.
type Store struct {
	mu  sync.Mutex
	log *log.Logger

	path      string
	entries   map[string]map[string][]int64
	blacklist map[string]bool
}

// NewStore creates a platform habit store persisted at path. An existing
// file is loaded; a missing or corrupt one starts the store empty.
func NewStore(logger *log.Logger, path string) *Store {
	s := &Store{
		log:       logger,
		path:      path,
		entries:   map[string]map[string][]int64{},
		blacklist: map[string]bool{},
	}
	if path != "" {
		if err := s.load(); err != nil {
			logger.Printf("platform habits not loaded from %s: %v", path, err)
		}
	}
	return s
}

// Observe records one live platform sighting. Unrecognizable codes and
// observations within the throttle window of the previous sighting for
// the same platform are dropped.
func (s *Store) Observe(nucleus, routeID, stopID, rawPlatform string, epoch int64) {
	platform := NormalizePlatform(rawPlatform)
	if platform == "" || stopID == "" {
		return
	}
	key := habitKey(nucleus, routeID, stopID)

	s.mu.Lock()
	platforms, present := s.entries[key]
	if !present {
		platforms = map[string][]int64{}
		s.entries[key] = platforms
	}
	epochs := platforms[platform]
	if n := len(epochs); n > 0 && epoch-epochs[n-1] < observeThrottleSeconds {
		s.mu.Unlock()
		return
	}
	epochs = append(epochs, epoch)
	if len(epochs) > maxEpochsPerPlatform {
		epochs = epochs[len(epochs)-maxEpochsPerPlatform:]
	}
	platforms[platform] = epochs
	s.mu.Unlock()

	if err := s.save(); err != nil {
		s.log.Printf("platform habits not persisted: %v", err)
	}
}

// HabitualFor predicts the platform for a stop. Key tiers are tried in
// order: the exact (nucleus, route, stop), the nucleus-wide stop, then
// the stop across all nuclei. Blacklisted keys and unpublishable
// predictions return nil.
func (s *Store) HabitualFor(nucleus, routeID, stopID string, now int64) *Prediction {
	if s.blacklisted(nucleus, routeID, stopID) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if platforms := s.entries[habitKey(nucleus, routeID, stopID)]; len(platforms) > 0 {
		return predict(platforms, now)
	}
	if platforms := s.collect(nucleus, stopID); len(platforms) > 0 {
		return predict(platforms, now)
	}
	if platforms := s.collect("", stopID); len(platforms) > 0 {
		return predict(platforms, now)
	}
	return nil
}

// collect merges the observations of every key matching the stop, and
// the nucleus when given, across routes.
func (s *Store) collect(nucleus, stopID string) map[string][]int64 {
	merged := map[string][]int64{}
	for key, platforms := range s.entries {
		parts := strings.SplitN(key, "|", 3)
		if len(parts) != 3 || parts[2] != stopID {
			continue
		}
		if nucleus != "" && parts[0] != nucleus {
			continue
		}
		for platform, epochs := range platforms {
			merged[platform] = append(merged[platform], epochs...)
		}
	}
	return merged
}

type blacklistRow struct {
	Nucleus string `csv:"nucleus"`
	StopID  string `csv:"stop_id"`
	RouteID string `csv:"route_id"`
}

// LoadBlacklist reads the suppression file; rows may use "*" as the
// route to blanket a stop.
func (s *Store) LoadBlacklist(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening platform blacklist %s", path)
	}
	defer f.Close()

	var rows []*blacklistRow
	if err := gocsv.Unmarshal(bom.NewReader(f), &rows); err != nil {
		return errors.Wrapf(err, "parsing platform blacklist %s", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		route := row.RouteID
		if route == "" {
			route = "*"
		}
		s.blacklist[row.Nucleus+"|"+row.StopID+"|"+route] = true
	}
	return nil
}

func (s *Store) blacklisted(nucleus, routeID, stopID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blacklist[nucleus+"|"+stopID+"|"+routeID] ||
		s.blacklist[nucleus+"|"+stopID+"|*"]
}

package platforms

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const persistVersion = 1

type persistedFile struct {
	Meta    persistedMeta             `json:"meta"`
	Entries map[string]persistedEntry `json:"entries"`
}

type persistedMeta struct {
	Version      int     `json:"version"`
	UpdatedAt    string  `json:"updated_at"`
	HalfLifeDays float64 `json:"half_life_days"`
}

type persistedEntry struct {
	Platforms map[string][]int64 `json:"platforms"`
}

// save writes the store to its path via a temp file rename so readers
// never see a partial blob.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	blob := persistedFile{
		Meta: persistedMeta{
			Version:      persistVersion,
			UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
			HalfLifeDays: HalfLifeDays,
		},
		Entries: make(map[string]persistedEntry, len(s.entries)),
	}
	for key, platforms := range s.entries {
		copied := make(map[string][]int64, len(platforms))
		for platform, epochs := range platforms {
			copied[platform] = append([]int64(nil), epochs...)
		}
		blob.Entries[key] = persistedEntry{Platforms: copied}
	}
	s.mu.Unlock()

	payload, err := json.Marshal(blob)
	if err != nil {
		return errors.Wrap(err, "marshaling platform habits")
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "creating platform habits directory")
	}
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "writing platform habits temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "replacing platform habits file")
	}
	return nil
}

// load replaces the in-memory entries with the persisted blob.
func (s *Store) load() error {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrap(err, "reading platform habits")
	}
	var blob persistedFile
	if err := json.Unmarshal(payload, &blob); err != nil {
		return errors.Wrap(err, "parsing platform habits")
	}

	entries := make(map[string]map[string][]int64, len(blob.Entries))
	for key, entry := range blob.Entries {
		platforms := make(map[string][]int64, len(entry.Platforms))
		for platform, epochs := range entry.Platforms {
			if len(epochs) > maxEpochsPerPlatform {
				epochs = epochs[len(epochs)-maxEpochsPerPlatform:]
			}
			platforms[platform] = epochs
		}
		entries[key] = platforms
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}

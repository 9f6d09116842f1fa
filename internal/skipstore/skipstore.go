// Package skipstore implements the single-file JSON skip map
// (findb/skipped_tickers.json) recording tickers that are fully
// delisted/invalid ("ALL") or individual dates known to have no data.
package skipstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/gabrielcampos/portfolioesg/internal/storage"
	"github.com/rs/zerolog"
)

// Store guards a SkipMap persisted to a single JSON file.
type Store struct {
	path string
	log  zerolog.Logger
	data domain.SkipMap
}

// Load reads path (creating an empty map if it doesn't exist yet). If
// legacyPaths are given and path doesn't exist, their contents are
// coalesced into the new single file on first read, matching the
// migration behavior of older per-ticker skip files.
func Load(path string, log zerolog.Logger, legacyPaths ...string) (*Store, error) {
	s := &Store{path: path, log: log.With().Str("component", "skipstore").Logger(), data: make(domain.SkipMap)}

	if b, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(b, &s.data); err != nil {
			return nil, err
		}
		return s, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	for _, legacy := range legacyPaths {
		b, err := os.ReadFile(legacy)
		if err != nil {
			continue
		}
		var legacyMap domain.SkipMap
		if err := json.Unmarshal(b, &legacyMap); err != nil {
			s.log.Warn().Str("path", legacy).Err(err).Msg("could not parse legacy skip file, ignoring")
			continue
		}
		for ticker, dates := range legacyMap {
			s.data[ticker] = mergeDates(s.data[ticker], dates)
		}
	}

	if len(legacyPaths) > 0 && len(s.data) > 0 {
		if err := s.save(); err != nil {
			return nil, err
		}
		s.log.Info().Int("tickers", len(s.data)).Msg("coalesced legacy skip files into single skip store")
	}

	return s, nil
}

// Get returns the recorded skip dates for ticker (nil if none).
func (s *Store) Get(ticker string) []string {
	return s.data[ticker]
}

// IsAll reports whether ticker is fully skipped.
func (s *Store) IsAll(ticker string) bool {
	return s.data.IsAll(ticker)
}

// MarkAll marks ticker as fully skipped (delisted/invalid) and persists.
func (s *Store) MarkAll(ticker string) error {
	s.data[ticker] = []string{"ALL"}
	return s.save()
}

// AddDates merges dates into ticker's skip list (sorted, de-duplicated,
// no-op if the ticker is already marked ALL) and persists.
func (s *Store) AddDates(ticker string, dates []string) error {
	if s.data.IsAll(ticker) {
		return nil
	}
	s.data[ticker] = mergeDates(s.data[ticker], dates)
	return s.save()
}

func mergeDates(existing, add []string) []string {
	set := make(map[string]struct{}, len(existing)+len(add))
	for _, d := range existing {
		set[d] = struct{}{}
	}
	for _, d := range add {
		set[d] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return storage.AtomicWriteFile(s.path, b, 0o644)
}

// Snapshot returns a copy of the underlying map, for reporting/testing.
func (s *Store) Snapshot() domain.SkipMap {
	out := make(domain.SkipMap, len(s.data))
	for k, v := range s.data {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

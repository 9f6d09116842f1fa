// Package config implements the ParamStore: an ordered key=value file
// loader used for every parameters/*.txt file consumed by the pipeline
// (paths.txt, downpar.txt, scorpar.txt, portpar.txt, backpar.txt,
// optpar.txt, risk_profile.txt, anapar.txt).
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/rs/zerolog"
)

// ParamStore holds ordered key=value parameters loaded from one or more
// files, later files overriding earlier ones.
type ParamStore struct {
	values map[string]string
	log    zerolog.Logger
}

// New returns an empty ParamStore.
func New(log zerolog.Logger) *ParamStore {
	return &ParamStore{
		values: make(map[string]string),
		log:    log.With().Str("component", "paramstore").Logger(),
	}
}

// LoadFiles loads each path in order, later files overriding earlier keys.
// A path that cannot be resolved/read is skipped with a warning, except
// the last path in the list, whose absence is fatal (ConfigError), matching
// the spec's "fatal on missing critical file" requirement for the primary
// parameter file of each stage.
func (p *ParamStore) LoadFiles(repoRoot string, paths ...string) error {
	for i, raw := range paths {
		resolved := p.NormalizePath(repoRoot, raw)
		f, err := os.Open(resolved)
		if err != nil {
			if i == len(paths)-1 {
				return &domain.ConfigError{Key: raw, Msg: fmt.Sprintf("required parameter file not found: %v", err)}
			}
			p.log.Warn().Str("path", resolved).Err(err).Msg("parameter file not found, skipping")
			continue
		}
		err = p.loadReader(f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *ParamStore) loadReader(f *os.File) error {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		val = stripQuotes(val)
		val = p.expandHome(val)
		p.values[key] = val
	}
	return scanner.Err()
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func (p *ParamStore) expandHome(s string) string {
	if strings.HasPrefix(s, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(s, "~"))
		}
	}
	return s
}

// NormalizePath applies the path resolution rules spec.md requires for
// values read from parameter files that represent paths: expand
// environment variables and '~', rewrite a foreign '/Users/<other>/'
// prefix to the current user's home, try a bare filename under
// <repoRoot>/parameters/, and finally fall back to resolving relative to
// repoRoot.
func (p *ParamStore) NormalizePath(repoRoot, raw string) string {
	s := os.ExpandEnv(raw)
	s = p.expandHome(s)

	if strings.HasPrefix(s, "/Users/") {
		parts := strings.SplitN(s, "/", 4)
		if len(parts) == 4 {
			if home, err := os.UserHomeDir(); err == nil {
				s = filepath.Join(home, parts[3])
			}
		}
	}

	if filepath.IsAbs(s) {
		if _, err := os.Stat(s); err == nil {
			return s
		}
	}

	candidate := filepath.Join(repoRoot, "parameters", filepath.Base(s))
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}

	if !filepath.IsAbs(s) {
		return filepath.Join(repoRoot, s)
	}
	return s
}

// Get returns the raw string value for key, and whether it was present.
func (p *ParamStore) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// MustString returns the value for key or returns a ConfigError.
func (p *ParamStore) MustString(key string) (string, error) {
	v, ok := p.values[key]
	if !ok {
		return "", &domain.ConfigError{Key: key, Msg: "missing required key"}
	}
	return v, nil
}

// StringOr returns the value for key, or def if absent.
func (p *ParamStore) StringOr(key, def string) string {
	if v, ok := p.values[key]; ok {
		return v
	}
	return def
}

// MustInt returns the int value for key or a ConfigError on missing/mistyped.
func (p *ParamStore) MustInt(key string) (int, error) {
	v, err := p.MustString(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &domain.ConfigError{Key: key, Msg: fmt.Sprintf("expected int, got %q", v)}
	}
	return n, nil
}

// IntOr returns the int value for key, or def if absent or unparsable
// (logging a warning in the latter case, since an unknown-typed value is
// kept as a string per spec rather than treated as fatal outside of
// critical keys).
func (p *ParamStore) IntOr(key string, def int) int {
	v, ok := p.values[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.log.Warn().Str("key", key).Str("value", v).Msg("expected int, keeping default")
		return def
	}
	return n
}

// MustFloat returns the float64 value for key or a ConfigError.
func (p *ParamStore) MustFloat(key string) (float64, error) {
	v, err := p.MustString(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &domain.ConfigError{Key: key, Msg: fmt.Sprintf("expected float, got %q", v)}
	}
	return f, nil
}

// FloatOr returns the float64 value for key, or def if absent/unparsable.
func (p *ParamStore) FloatOr(key string, def float64) float64 {
	v, ok := p.values[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.log.Warn().Str("key", key).Str("value", v).Msg("expected float, keeping default")
		return def
	}
	return f
}

// BoolOr returns the bool value for key, or def if absent/unparsable.
// Accepts the usual strconv.ParseBool forms plus "yes"/"no".
func (p *ParamStore) BoolOr(key string, def bool) bool {
	v, ok := p.values[key]
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "yes":
		return true
	case "no":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.log.Warn().Str("key", key).Str("value", v).Msg("expected bool, keeping default")
		return def
	}
	return b
}

// All returns a copy of every loaded key/value pair, used for writing the
// run manifest snapshot.
func (p *ParamStore) All() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

package skipstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "skipped_tickers.json"), zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, s.IsAll("PETR4"))
	assert.Nil(t, s.Get("PETR4"))
}

func TestMarkAllAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skipped_tickers.json")
	s, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.MarkAll("XYZ4"))
	assert.True(t, s.IsAll("XYZ4"))

	s2, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, s2.IsAll("XYZ4"))
}

func TestAddDatesMergesSortedUnique(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skipped_tickers.json")
	s, err := Load(path, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.AddDates("ABC3", []string{"2026-01-05", "2026-01-02"}))
	require.NoError(t, s.AddDates("ABC3", []string{"2026-01-02", "2026-01-10"}))

	assert.Equal(t, []string{"2026-01-02", "2026-01-05", "2026-01-10"}, s.Get("ABC3"))
}

func TestAddDatesNoOpWhenAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skipped_tickers.json")
	s, err := Load(path, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.MarkAll("DEL4"))
	require.NoError(t, s.AddDates("DEL4", []string{"2026-01-02"}))
	assert.Equal(t, []string{"ALL"}, s.Get("DEL4"))
}

func TestLegacyCoalescing(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "legacy_ABC3.json")
	require.NoError(t, os.WriteFile(legacy, []byte(`{"ABC3":["2025-01-01"]}`), 0o644))

	path := filepath.Join(dir, "skipped_tickers.json")
	s, err := Load(path, zerolog.Nop(), legacy)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01"}, s.Get("ABC3"))

	// Reload should now read from the coalesced single file, not legacy again.
	s2, err := Load(path, zerolog.Nop(), legacy)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01"}, s2.Get("ABC3"))
}

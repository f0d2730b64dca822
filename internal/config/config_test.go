package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "salt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default().Extraction, cfg.Extraction)
	assert.Equal(t, Default().Labels, cfg.Labels)
	assert.Equal(t, 60, cfg.Temporal.ChurnWindowDays)
	assert.Equal(t, 30, cfg.Temporal.SevereWindowDays)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := writeFile(t, `
repository:
  url: https://github.com/saltstack/salt.git
extraction:
  start_date: 2019-01-01
  end_date: "2020-12-31"
  branches: [develop, master]
  max_files_changed: 20
  include_extensions: [".py"]
  exclude_paths: ["tests/"]
  workers: 4
labels:
  keyword_patterns:
    high: [outage]
temporal:
  churn_window_days: 90
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "salt", cfg.Repository.Name)
	assert.Equal(t, "2019-01-01", cfg.Extraction.StartDate)
	assert.Equal(t, []string{"develop", "master"}, cfg.Extraction.Branches)
	assert.Equal(t, 20, cfg.Extraction.MaxFilesChanged)
	assert.Equal(t, 1000, cfg.Extraction.MaxLinesChanged, "untouched keys keep defaults")
	assert.True(t, cfg.Extraction.ExcludeMerges)
	assert.Equal(t, 4, cfg.Extraction.Workers)
	assert.Equal(t, []string{"outage"}, cfg.Labels.KeywordPatterns.High)
	assert.Equal(t, Default().Labels.KeywordPatterns.Medium, cfg.Labels.KeywordPatterns.Medium)
	assert.Equal(t, 90, cfg.Temporal.ChurnWindowDays)
	assert.Equal(t, 30, cfg.Temporal.SevereWindowDays)
	require.NoError(t, cfg.Validate())

	f := cfg.Filters()
	assert.Equal(t, []string{".py"}, f.IncludeExtensions)
	assert.Equal(t, []string{"tests/"}, f.ExcludePaths)
	assert.Equal(t, 90, cfg.Aggregator().ChurnWindowDays)
}

func TestLoadUnquotedTimestamps(t *testing.T) {
	path := writeFile(t, `
repository:
  path: /src/salt
extraction:
  start_date: 2019-01-01
  end_date: 2020-06-30T18:30:00Z
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2019-01-01", cfg.Extraction.StartDate)
	assert.Equal(t, "2020-06-30T18:30:00Z", cfg.Extraction.EndDate)

	w, err := cfg.Window()
	require.NoError(t, err)
	require.NotNil(t, w.Since)
	require.NotNil(t, w.Until)
	assert.True(t, w.Since.Equal(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, w.Until.Equal(time.Date(2020, 6, 30, 18, 30, 0, 0, time.UTC)))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SEVMINE_TEMPORAL_SEVERE_WINDOW_DAYS", "14")
	t.Setenv("SEVMINE_LOG_LEVEL", "debug")

	cfg, err := Load(writeFile(t, "repository:\n  path: /src/salt\n"))
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.Temporal.SevereWindowDays)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "salt", cfg.Repository.Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWriteThenLoad(t *testing.T) {
	cfg := Default()
	cfg.Repository.Path = "/src/salt"
	cfg.Extraction.StartDate = "2021-06-01"
	cfg.Output.SQLitePath = "data/runs.db"

	path := filepath.Join(t.TempDir(), "conf", "sevmine.yaml")
	require.NoError(t, Write(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	cfg.Repository.Name = "salt"
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repository.path or repository.url")

	cfg.Repository.Path = "."
	require.NoError(t, cfg.Validate())

	cfg.Extraction.MinFilesChanged = 10
	cfg.Extraction.MaxFilesChanged = 5
	cfg.Temporal.ChurnWindowDays = 0
	cfg.Extraction.StartDate = "yesterday"
	cfg.Output.Format = "parquet"

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"min_files_changed", "churn_window_days", "start_date", "unsupported export format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestWindow(t *testing.T) {
	cfg := Default()
	cfg.Extraction.StartDate = "2020-01-01"
	cfg.Extraction.EndDate = "2020-01-31"

	w, err := cfg.Window()
	require.NoError(t, err)
	require.NotNil(t, w.Since)
	require.NotNil(t, w.Until)
	assert.True(t, w.Contains(time.Date(2020, 1, 31, 23, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2019, 12, 31, 23, 59, 0, 0, time.UTC)))

	cfg.Extraction.EndDate = "2020-03-01T12:00:00Z"
	w, err = cfg.Window()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC), *w.Until)

	cfg.Extraction.EndDate = "2019-01-01"
	_, err = cfg.Window()
	assert.Error(t, err)

	empty, err := Default().Window()
	require.NoError(t, err)
	assert.Nil(t, empty.Since)
	assert.Nil(t, empty.Until)
}

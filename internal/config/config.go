// Package config loads per-repository build settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Yates-Labs/sevmine/internal/extract"
	"github.com/Yates-Labs/sevmine/internal/ingest/git"
	"github.com/Yates-Labs/sevmine/internal/severity"
	"github.com/Yates-Labs/sevmine/internal/table"
	"github.com/Yates-Labs/sevmine/internal/temporal"
)

// EnvPrefix prefixes environment overrides, e.g. SEVMINE_LOG_LEVEL.
const EnvPrefix = "SEVMINE"

// dateLayouts are the accepted start/end date formats.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

type Config struct {
	Repository RepositoryConfig `yaml:"repository" mapstructure:"repository"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Labels     LabelsConfig     `yaml:"labels" mapstructure:"labels"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

type RepositoryConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
	URL  string `yaml:"url" mapstructure:"url"`
	// Path is a local checkout. It takes precedence over URL.
	Path string `yaml:"path" mapstructure:"path"`
}

type ExtractionConfig struct {
	StartDate         string   `yaml:"start_date" mapstructure:"start_date"`
	EndDate           string   `yaml:"end_date" mapstructure:"end_date"`
	Branches          []string `yaml:"branches" mapstructure:"branches"`
	ExcludeMerges     bool     `yaml:"exclude_merges" mapstructure:"exclude_merges"`
	MinFilesChanged   int      `yaml:"min_files_changed" mapstructure:"min_files_changed"`
	MaxFilesChanged   int      `yaml:"max_files_changed" mapstructure:"max_files_changed"`
	MinLinesChanged   int      `yaml:"min_lines_changed" mapstructure:"min_lines_changed"`
	MaxLinesChanged   int      `yaml:"max_lines_changed" mapstructure:"max_lines_changed"`
	IncludeExtensions []string `yaml:"include_extensions" mapstructure:"include_extensions"`
	ExcludePaths      []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
	Workers           int      `yaml:"workers" mapstructure:"workers"`
}

type LabelsConfig struct {
	KeywordPatterns severity.Keywords     `yaml:"keyword_patterns" mapstructure:"keyword_patterns"`
	PathPatterns    severity.PathPatterns `yaml:"path_patterns" mapstructure:"path_patterns"`
}

type TemporalConfig struct {
	ChurnWindowDays  int `yaml:"churn_window_days" mapstructure:"churn_window_days"`
	SevereWindowDays int `yaml:"severe_window_days" mapstructure:"severe_window_days"`
}

type OutputConfig struct {
	Path   string `yaml:"path" mapstructure:"path"`
	Format string `yaml:"format" mapstructure:"format"`
	// SQLitePath, when set, also stores the table as a run.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	// CachePath, when set, memoizes per-commit diffs across runs.
	CachePath string `yaml:"cache_path" mapstructure:"cache_path"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

func Default() *Config {
	return &Config{
		Extraction: ExtractionConfig{
			Branches:          []string{git.BranchMaster},
			ExcludeMerges:     true,
			MinFilesChanged:   1,
			MaxFilesChanged:   50,
			MinLinesChanged:   1,
			MaxLinesChanged:   1000,
			IncludeExtensions: []string{},
			ExcludePaths:      []string{},
			Workers:           1,
		},
		Labels: LabelsConfig{
			KeywordPatterns: severity.DefaultKeywords(),
			PathPatterns:    severity.DefaultPathPatterns(),
		},
		Temporal: TemporalConfig{
			ChurnWindowDays:  temporal.DefaultChurnWindowDays,
			SevereWindowDays: temporal.DefaultSevereWindowDays,
		},
		Output: OutputConfig{
			Path:   filepath.Join("data", "features.jsonl"),
			Format: string(table.FormatJSONL),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults. Environment variables such as SEVMINE_TEMPORAL_CHURN_WINDOW_DAYS
// override scalar keys.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	base, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		timeToStringHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Repository.Name == "" {
		cfg.Repository.Name = repoNameFrom(cfg.Repository)
	}

	return cfg, nil
}

// timeToStringHook renders YAML timestamps such as an unquoted 2019-01-01
// back into the date strings the config fields hold.
func timeToStringHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		t, ok := data.(time.Time)
		if !ok || to.Kind() != reflect.String {
			return data, nil
		}
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(dateLayouts[0]), nil
		}
		return t.Format(time.RFC3339), nil
	}
}

// loadEnvFiles loads .env files from the working directory when present.
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
}

func repoNameFrom(r RepositoryConfig) string {
	src := r.Path
	if src == "" {
		src = r.URL
	}
	if src == "" {
		return ""
	}
	src = strings.TrimSuffix(strings.TrimRight(src, "/"), ".git")
	if i := strings.LastIndexAny(src, "/\\:"); i >= 0 {
		src = src[i+1:]
	}
	return src
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// Write renders cfg as YAML to path.
func Write(cfg *Config, path string) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Repository.Path == "" && c.Repository.URL == "" {
		errs = append(errs, errors.New("repository.path or repository.url is required"))
	}

	e := c.Extraction
	if _, err := c.Window(); err != nil {
		errs = append(errs, err)
	}
	if e.MinFilesChanged > 0 && e.MaxFilesChanged > 0 && e.MinFilesChanged > e.MaxFilesChanged {
		errs = append(errs, fmt.Errorf("extraction.min_files_changed (%d) exceeds max_files_changed (%d)",
			e.MinFilesChanged, e.MaxFilesChanged))
	}
	if e.MinLinesChanged > 0 && e.MaxLinesChanged > 0 && e.MinLinesChanged > e.MaxLinesChanged {
		errs = append(errs, fmt.Errorf("extraction.min_lines_changed (%d) exceeds max_lines_changed (%d)",
			e.MinLinesChanged, e.MaxLinesChanged))
	}
	if e.Workers < 0 {
		errs = append(errs, fmt.Errorf("extraction.workers must not be negative, got %d", e.Workers))
	}

	if c.Temporal.ChurnWindowDays <= 0 {
		errs = append(errs, fmt.Errorf("temporal.churn_window_days must be positive, got %d", c.Temporal.ChurnWindowDays))
	}
	if c.Temporal.SevereWindowDays <= 0 {
		errs = append(errs, fmt.Errorf("temporal.severe_window_days must be positive, got %d", c.Temporal.SevereWindowDays))
	}

	if c.Output.Format != "" {
		if _, err := table.ParseFormat(c.Output.Format); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Window parses the extraction date bounds. An end date without a time
// covers that whole day.
func (c *Config) Window() (git.Window, error) {
	var w git.Window

	if s := c.Extraction.StartDate; s != "" {
		t, _, err := parseDate(s)
		if err != nil {
			return w, fmt.Errorf("extraction.start_date: %w", err)
		}
		w.Since = &t
	}
	if s := c.Extraction.EndDate; s != "" {
		t, dateOnly, err := parseDate(s)
		if err != nil {
			return w, fmt.Errorf("extraction.end_date: %w", err)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		w.Until = &t
	}
	if w.Since != nil && w.Until != nil && w.Until.Before(*w.Since) {
		return w, fmt.Errorf("extraction.end_date %s is before start_date %s",
			c.Extraction.EndDate, c.Extraction.StartDate)
	}

	return w, nil
}

func parseDate(s string) (time.Time, bool, error) {
	for i, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), i == 0, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC 3339)", s)
}

// Filters returns the commit inclusion filters.
func (c *Config) Filters() extract.Filters {
	e := c.Extraction
	return extract.Filters{
		ExcludeMerges:     e.ExcludeMerges,
		MinFilesChanged:   e.MinFilesChanged,
		MaxFilesChanged:   e.MaxFilesChanged,
		MinLinesChanged:   e.MinLinesChanged,
		MaxLinesChanged:   e.MaxLinesChanged,
		IncludeExtensions: e.IncludeExtensions,
		ExcludePaths:      e.ExcludePaths,
	}
}

// Classifier returns the severity classifier for the configured lists.
func (c *Config) Classifier() *severity.Classifier {
	return severity.New(c.Labels.KeywordPatterns, c.Labels.PathPatterns)
}

// Aggregator returns the temporal aggregator for the configured windows.
func (c *Config) Aggregator() temporal.Aggregator {
	return temporal.Aggregator{
		ChurnWindowDays:  c.Temporal.ChurnWindowDays,
		SevereWindowDays: c.Temporal.SevereWindowDays,
	}
}

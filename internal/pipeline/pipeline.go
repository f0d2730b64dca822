// Package pipeline runs a full feature-table build for one repository:
// extract, label, order and aggregate.
package pipeline

import (
	"context"
	"fmt"
	"io"

	gogit "github.com/go-git/go-git/v6"
	"github.com/sirupsen/logrus"

	"github.com/Yates-Labs/sevmine/internal/cache"
	"github.com/Yates-Labs/sevmine/internal/config"
	"github.com/Yates-Labs/sevmine/internal/extract"
	"github.com/Yates-Labs/sevmine/internal/ingest/git"
	"github.com/Yates-Labs/sevmine/internal/logging"
	"github.com/Yates-Labs/sevmine/internal/record"
	"github.com/Yates-Labs/sevmine/internal/store"
	"github.com/Yates-Labs/sevmine/internal/table"
	"github.com/Yates-Labs/sevmine/internal/temporal"
)

// Options carries caller hooks that are not part of the configuration.
type Options struct {
	// Progress receives one event per processed commit.
	Progress extract.ProgressFunc
	// CloneProgress receives remote output while cloning a URL.
	CloneProgress io.Writer
}

// Result is a built feature table and its diagnostics.
type Result struct {
	Project   string
	Repo      string
	Records   []record.CommitFileRecord
	Stats     extract.Stats
	Labels    map[record.Severity]int
	Untimed   int
	CacheHits int64
}

// Build runs the pipeline with no progress hooks.
func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Result, error) {
	return BuildWithOptions(ctx, cfg, logger, Options{})
}

// BuildWithOptions opens or clones the configured repository and builds its
// table. Records are returned in chronological order with severity and
// temporal features filled in.
func BuildWithOptions(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts Options) (*Result, error) {
	logger = orDiscard(logger)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before build: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	source := cfg.Repository.Path
	if source == "" {
		source = cfg.Repository.URL
	}
	repo, err := openRepository(source, opts.CloneProgress)
	if err != nil {
		return nil, err
	}

	var src extract.Source = &git.Walker{Repo: repo}
	var cached *cache.CachedSource
	project, slug := repoIdentity(source, git.GetRemoteURL(repo, "origin"), cfg.Repository.Name)

	if cfg.Output.CachePath != "" {
		cacheStore, err := cache.Open(cfg.Output.CachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open commit cache: %w", err)
		}
		defer cacheStore.Close()
		cached = cache.Wrap(src, cacheStore, slug)
		src = cached
	}

	res, err := Run(ctx, cfg, src, project, slug, logger, opts.Progress)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		hits, misses := cached.Counts()
		res.CacheHits = hits
		logger.WithFields(logrus.Fields{"hits": hits, "misses": misses}).Debug("Commit cache usage")
	}

	return res, nil
}

// Run builds a table from an already opened source.
func Run(ctx context.Context, cfg *config.Config, src extract.Source, project, repo string,
	logger *logrus.Logger, progress extract.ProgressFunc) (*Result, error) {
	logger = orDiscard(logger)
	window, err := cfg.Window()
	if err != nil {
		return nil, err
	}

	// Step 1: Extract commit-file records
	ex := &extract.Extractor{
		Source:   src,
		Filters:  cfg.Filters(),
		Project:  project,
		Repo:     repo,
		Branches: cfg.Extraction.Branches,
		Window:   window,
		Workers:  cfg.Extraction.Workers,
		Logger:   logger,
		Progress: progress,
	}
	records, stats, err := ex.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", repo, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled after extraction: %w", err)
	}

	// Step 2: Fuse severity signals
	labels := cfg.Classifier().ClassifyAll(records)

	// Step 3: Order the stream and compute windowed features
	records, untimed := temporal.DropUntimed(records)
	if untimed > 0 {
		logger.WithField("records", untimed).Warn("Dropped records without a timestamp")
	}
	temporal.SortChronological(records)
	if err := cfg.Aggregator().Compute(records); err != nil {
		return nil, fmt.Errorf("failed to compute temporal features: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"records": len(records),
		"high":    labels[record.SeverityHigh],
		"medium":  labels[record.SeverityMedium],
		"low":     labels[record.SeverityLow],
	}).Info("Feature table built")

	return &Result{
		Project: project,
		Repo:    repo,
		Records: records,
		Stats:   stats,
		Labels:  labels,
		Untimed: untimed,
	}, nil
}

// Persist writes the table to the configured output file and, when a SQLite
// path is configured, stores it as a run. It returns the run ID or "".
func Persist(ctx context.Context, cfg *config.Config, res *Result, logger *logrus.Logger) (string, error) {
	logger = orDiscard(logger)
	if cfg.Output.Path != "" {
		if err := table.WriteFile(cfg.Output.Path, cfg.Output.Format, res.Records); err != nil {
			return "", fmt.Errorf("failed to write table: %w", err)
		}
		logger.WithField("path", cfg.Output.Path).Info("Wrote feature table")
	}

	if cfg.Output.SQLitePath == "" {
		return "", nil
	}

	db, err := store.NewSQLiteStore(cfg.Output.SQLitePath, logger)
	if err != nil {
		return "", err
	}
	defer db.Close()

	run, err := db.SaveRun(ctx, res.Project, res.Repo, res.Records, res.Stats)
	if err != nil {
		return "", fmt.Errorf("failed to store run: %w", err)
	}
	return run.ID, nil
}

// openRepository tries a local path first, then clones source as a URL.
func openRepository(source string, progress io.Writer) (*gogit.Repository, error) {
	repo, err := git.OpenRepository(source)
	if err == nil {
		return repo, nil
	}

	repo, err = git.CloneRepository(source, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to open or clone repository '%s': %w", source, err)
	}
	return repo, nil
}

func orDiscard(logger *logrus.Logger) *logrus.Logger {
	if logger == nil {
		return logging.Discard()
	}
	return logger
}

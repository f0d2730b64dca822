package cmd

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/sevmine/internal/extract"
	"github.com/Yates-Labs/sevmine/internal/ingest/git"
	"github.com/Yates-Labs/sevmine/internal/pipeline"
	"github.com/Yates-Labs/sevmine/internal/record"
)

var buildFlags struct {
	name         string
	output       string
	format       string
	sqlite       string
	cache        string
	branches     []string
	since        string
	until        string
	workers      int
	churnWindow  int
	severeWindow int
	quiet        bool
}

var buildCmd = &cobra.Command{
	Use:   "build [repository]",
	Short: "Build the feature table for a repository",
	Long: `Build the commit-file feature table for a Git repository (local path or
remote URL). Flags override the corresponding config file settings.

Examples:
  sevmine build /path/to/local/repo
  sevmine build https://github.com/saltstack/salt --since 2019-01-01 --output salt.csv
  sevmine build --config salt.yaml --sqlite data/runs.db`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	f := buildCmd.Flags()
	f.StringVar(&buildFlags.name, "name", "", "project name recorded on every row (default: derived from the repository)")
	f.StringVarP(&buildFlags.output, "output", "o", "", "output table path (.jsonl, .json or .csv)")
	f.StringVar(&buildFlags.format, "format", "", "output format: jsonl, json or csv")
	f.StringVar(&buildFlags.sqlite, "sqlite", "", "also store the table as a run in this SQLite database")
	f.StringVar(&buildFlags.cache, "cache", "", "BoltDB file caching per-commit diffs between runs")
	f.StringSliceVarP(&buildFlags.branches, "branch", "b", nil, "branches to walk (default: master, falling back to main)")
	f.StringVar(&buildFlags.since, "since", "", "earliest commit date (YYYY-MM-DD or RFC 3339)")
	f.StringVar(&buildFlags.until, "until", "", "latest commit date (YYYY-MM-DD or RFC 3339)")
	f.IntVarP(&buildFlags.workers, "workers", "w", 0, "concurrent commit loaders")
	f.IntVar(&buildFlags.churnWindow, "churn-window", 0, "churn window in days")
	f.IntVar(&buildFlags.severeWindow, "severe-window", 0, "recent severe window in days")
	f.BoolVarP(&buildFlags.quiet, "quiet", "q", false, "suppress progress output")
}

// applyBuildFlags copies explicitly set flags onto the loaded config.
func applyBuildFlags(cmd *cobra.Command, args []string) {
	if len(args) == 1 {
		cfg.Repository.Path = args[0]
		cfg.Repository.URL = ""
		cfg.Repository.Name = ""
	}

	f := cmd.Flags()
	if f.Changed("name") {
		cfg.Repository.Name = buildFlags.name
	}
	if f.Changed("output") {
		cfg.Output.Path = buildFlags.output
		if !f.Changed("format") {
			cfg.Output.Format = ""
		}
	}
	if f.Changed("format") {
		cfg.Output.Format = buildFlags.format
	}
	if f.Changed("sqlite") {
		cfg.Output.SQLitePath = buildFlags.sqlite
	}
	if f.Changed("cache") {
		cfg.Output.CachePath = buildFlags.cache
	}
	if f.Changed("branch") {
		cfg.Extraction.Branches = buildFlags.branches
	}
	if f.Changed("since") {
		cfg.Extraction.StartDate = buildFlags.since
	}
	if f.Changed("until") {
		cfg.Extraction.EndDate = buildFlags.until
	}
	if f.Changed("workers") {
		cfg.Extraction.Workers = buildFlags.workers
	}
	if f.Changed("churn-window") {
		cfg.Temporal.ChurnWindowDays = buildFlags.churnWindow
	}
	if f.Changed("severe-window") {
		cfg.Temporal.SevereWindowDays = buildFlags.severeWindow
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	applyBuildFlags(cmd, args)
	ctx := cmd.Context()

	opts := pipeline.Options{}
	if !buildFlags.quiet {
		opts.Progress = progressPrinter(cmd.ErrOrStderr())
		opts.CloneProgress = cmd.ErrOrStderr()
	}

	res, err := pipeline.BuildWithOptions(ctx, cfg, logger, opts)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	runID, err := pipeline.Persist(ctx, cfg, res, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	outputBuildSummary(out, res)
	if cfg.Output.Path != "" {
		fmt.Fprintf(out, "✓ Wrote %d records to %s\n", len(res.Records), cfg.Output.Path)
	}
	if runID != "" {
		fmt.Fprintf(out, "✓ Stored run %s in %s\n", runID, cfg.Output.SQLitePath)
	}
	return nil
}

// progressPrinter reports every 100th commit and the last one.
func progressPrinter(w io.Writer) extract.ProgressFunc {
	return func(p extract.Progress) {
		if p.Processed%100 == 0 || p.Processed == p.Total {
			fmt.Fprintf(w, "\rProcessed %d/%d commits (%s)", p.Processed, p.Total, git.ShortSHA(p.SHA))
			if p.Processed == p.Total {
				fmt.Fprintln(w)
			}
		}
	}
}

func outputBuildSummary(w io.Writer, res *pipeline.Result) {
	cols := []column{
		{title: "OUTCOME", width: 24},
		{title: "COMMITS", width: 10, numeric: true},
	}

	rows := [][]string{{extract.ReasonIncluded, strconv.Itoa(res.Stats.Included)}}
	reasons := make([]string, 0, len(res.Stats.Rejections))
	for reason := range res.Stats.Rejections {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		rows = append(rows, []string{reason, strconv.Itoa(res.Stats.Rejections[reason])})
	}
	renderTable(w, cols, rows)
	fmt.Fprintln(w)

	labelCols := []column{
		{title: "SEVERITY", width: 12},
		{title: "RECORDS", width: 10, numeric: true},
	}
	var labelRows [][]string
	for _, sev := range record.Severities {
		labelRows = append(labelRows, []string{string(sev), strconv.Itoa(res.Labels[sev])})
	}
	renderTable(w, labelCols, labelRows)
	fmt.Fprintln(w)

	renderSummary(w, "Total: %d commits scanned, %d records, %d bugfix, %d with issue refs, %d diff warnings",
		res.Stats.Scanned, len(res.Records), res.Stats.Bugfix, res.Stats.WithIssue, res.Stats.Warnings)
}

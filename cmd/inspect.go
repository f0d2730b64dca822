package cmd

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/sevmine/internal/record"
	"github.com/Yates-Labs/sevmine/internal/store"
	"github.com/Yates-Labs/sevmine/internal/table"
)

var inspectFlags struct {
	sqlite string
	run    string
	repo   string
	top    int
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [table]",
	Short: "Summarize a feature table",
	Long: `Summarize a feature table read from a file, or from a run stored in SQLite.

Without a table argument the run given by --run is loaded from --sqlite, or
the latest run (optionally of --repo) when --run is empty.

Examples:
  sevmine inspect data/features.jsonl
  sevmine inspect --sqlite data/runs.db
  sevmine inspect --sqlite data/runs.db --run 5d0c...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	f := inspectCmd.Flags()
	f.StringVar(&inspectFlags.sqlite, "sqlite", "", "SQLite database holding stored runs")
	f.StringVar(&inspectFlags.run, "run", "", "run ID to load (default: latest)")
	f.StringVar(&inspectFlags.repo, "repo", "", "restrict the latest run lookup to this repo")
	f.IntVarP(&inspectFlags.top, "top", "n", 10, "number of most changed files to list")
}

func runInspect(cmd *cobra.Command, args []string) error {
	records, source, err := loadTable(cmd, args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintf(out, "No records in %s\n", source)
		return nil
	}
	outputInspection(out, records, inspectFlags.top)
	return nil
}

func loadTable(cmd *cobra.Command, args []string) ([]record.CommitFileRecord, string, error) {
	if len(args) == 1 {
		records, err := table.ReadFile(args[0])
		return records, args[0], err
	}

	path := inspectFlags.sqlite
	if path == "" {
		path = cfg.Output.SQLitePath
	}
	if path == "" {
		return nil, "", errors.New("a table file or --sqlite database is required")
	}

	db, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, "", err
	}
	defer db.Close()

	ctx := cmd.Context()
	id := inspectFlags.run
	if id == "" {
		run, err := db.LatestRun(ctx, inspectFlags.repo)
		if err != nil {
			return nil, "", fmt.Errorf("failed to find latest run: %w", err)
		}
		id = run.ID
	}

	records, err := db.LoadRun(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return records, "run " + id, nil
}

type fileSummary struct {
	path    string
	changes int
	high    int
	bugfix  int
	churn   int
}

func outputInspection(w io.Writer, records []record.CommitFileRecord, top int) {
	labels := make(map[record.Severity]int)
	confidence := make(map[record.Severity]float64)
	files := make(map[string]*fileSummary)
	commits := make(map[string]struct{})
	bugfix := 0

	for _, r := range records {
		labels[r.Label]++
		confidence[r.Label] += r.Confidence
		commits[r.CommitSHA] = struct{}{}
		if r.IsBugfix {
			bugfix++
		}

		fs, ok := files[r.FilePath]
		if !ok {
			fs = &fileSummary{path: r.FilePath}
			files[r.FilePath] = fs
		}
		fs.changes++
		if r.Label == record.SeverityHigh {
			fs.high++
		}
		if r.IsBugfix {
			fs.bugfix++
		}
		// records are chronological, the last one carries the latest churn
		fs.churn = r.Churn
	}

	sevCols := []column{
		{title: "SEVERITY", width: 12},
		{title: "RECORDS", width: 10, numeric: true},
		{title: "SHARE", width: 9, numeric: true},
		{title: "AVG CONF", width: 10, numeric: true},
	}
	var sevRows [][]string
	for _, sev := range record.Severities {
		n := labels[sev]
		avg := 0.0
		if n > 0 {
			avg = confidence[sev] / float64(n)
		}
		sevRows = append(sevRows, []string{
			string(sev),
			strconv.Itoa(n),
			fmt.Sprintf("%.1f%%", 100*float64(n)/float64(len(records))),
			fmt.Sprintf("%.3f", avg),
		})
	}
	renderTable(w, sevCols, sevRows)
	fmt.Fprintln(w)

	ranked := make([]*fileSummary, 0, len(files))
	for _, fs := range files {
		ranked = append(ranked, fs)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].changes != ranked[j].changes {
			return ranked[i].changes > ranked[j].changes
		}
		return ranked[i].path < ranked[j].path
	})
	if top > 0 && len(ranked) > top {
		ranked = ranked[:top]
	}

	first := records[0]
	fileCols := []column{
		{title: "FILE", width: 44},
		{title: "CHANGES", width: 9, numeric: true},
		{title: "HIGH", width: 6, numeric: true},
		{title: "BUGFIX", width: 8, numeric: true},
		{title: "LAST " + first.ChurnColumn(), width: 16, numeric: true},
	}
	var fileRows [][]string
	for _, fs := range ranked {
		fileRows = append(fileRows, []string{
			fs.path,
			strconv.Itoa(fs.changes),
			strconv.Itoa(fs.high),
			strconv.Itoa(fs.bugfix),
			strconv.Itoa(fs.churn),
		})
	}
	renderTable(w, fileCols, fileRows)
	fmt.Fprintln(w)

	last := records[len(records)-1]
	renderSummary(w, "Total: %d records, %d commits, %d files, %d bugfix records (%s → %s)",
		len(records), len(commits), len(files), bugfix,
		first.CommitTime.Format("2006-01-02"), last.CommitTime.Format("2006-01-02"))
}

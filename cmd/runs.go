package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/sevmine/internal/store"
)

var runsDB string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List or delete feature tables stored in SQLite",
	RunE:  runListRuns,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>...",
	Short: "Delete stored runs and their records",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDeleteRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.PersistentFlags().StringVar(&runsDB, "sqlite", "", "SQLite database holding stored runs (default: output.sqlite_path)")
}

func openRunStore() (*store.SQLiteStore, error) {
	path := runsDB
	if path == "" {
		path = cfg.Output.SQLitePath
	}
	if path == "" {
		return nil, errors.New("--sqlite is required when output.sqlite_path is not configured")
	}
	return store.NewSQLiteStore(path, logger)
}

func runListRuns(cmd *cobra.Command, args []string) error {
	db, err := openRunStore()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No stored runs")
		return nil
	}

	cols := []column{
		{title: "RUN ID", width: 38},
		{title: "REPO", width: 24},
		{title: "CREATED", width: 18},
		{title: "RECORDS", width: 9, numeric: true},
		{title: "WINDOWS", width: 10},
	}
	var rows [][]string
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.Repo,
			run.CreatedAt.Format("2006-01-02 15:04"),
			strconv.Itoa(run.RecordCount),
			fmt.Sprintf("%dd/%dd", run.ChurnWindowDays, run.SevereWindowDays),
		})
	}
	renderTable(out, cols, rows)
	fmt.Fprintln(out)
	renderSummary(out, "Total: %d runs", len(runs))
	return nil
}

func runDeleteRuns(cmd *cobra.Command, args []string) error {
	db, err := openRunStore()
	if err != nil {
		return err
	}
	defer db.Close()

	for _, id := range args {
		if err := db.DeleteRun(cmd.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("run %s not found", id)
			}
			return fmt.Errorf("failed to delete run %s: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted run %s\n", id)
	}
	return nil
}

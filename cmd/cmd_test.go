package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/sevmine/internal/ingest/git/gittest"
	"github.com/Yates-Labs/sevmine/internal/table"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "…/b/c.py", truncate("salt/a/b/c.py", 8))
	assert.Equal(t, "ab", truncate("ab", 1))
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	renderTable(&buf, []column{
		{title: "FILE", width: 12},
		{title: "N", width: 5, numeric: true},
	}, [][]string{{"a.py", "3"}, {"b.py"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "FILE")
	assert.Contains(t, lines[1], "┼")
	assert.Contains(t, lines[2], "a.py")
	assert.Contains(t, lines[2], "3")
	assert.Contains(t, lines[3], "b.py")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sevmine.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default configuration")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "churn_window_days: 60")
	assert.Contains(t, string(data), "keyword_patterns:")

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err)
}

func TestBuildInspectAndRuns(t *testing.T) {
	fx := gittest.New(t)
	fx.Commit("initial import", gittest.Day(0), map[string]*string{
		"a.py": gittest.Text(gittest.Lines("a", 10)),
		"b.py": gittest.Text("b\n"),
	})
	fx.Commit("Fix crash in a.py #7", gittest.Day(10), map[string]*string{
		"a.py": gittest.Text(gittest.Lines("a", 9) + "patched\n"),
	})
	fx.RenameHead("main")

	dir := t.TempDir()
	tablePath := filepath.Join(dir, "features.csv")
	dbPath := filepath.Join(dir, "runs.db")

	out, err := execute(t, "build", fx.Dir, "--name", "demo", "--output", tablePath, "--sqlite", dbPath, "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 3 records")
	assert.Contains(t, out, "Stored run")

	records, err := table.ReadFile(tablePath)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "demo", records[0].Project)

	out, err = execute(t, "inspect", tablePath)
	require.NoError(t, err)
	assert.Contains(t, out, "a.py")
	assert.Contains(t, out, "Total: 3 records, 2 commits, 2 files")

	out, err = execute(t, "inspect", "--sqlite", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 3 records")

	out, err = execute(t, "runs", "--sqlite", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 1 runs")

	_, err = execute(t, "runs", "delete", "--sqlite", dbPath, "missing-run")
	assert.Error(t, err)
}

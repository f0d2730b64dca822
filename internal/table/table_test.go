package table

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/sevmine/internal/record"
)

func sampleRecords() []record.CommitFileRecord {
	issue := "4411"
	first := record.CommitFileRecord{
		Project:        "salt",
		Repo:           "saltstack/salt",
		CommitSHA:      "9f2c1e0b7a",
		ParentSHA:      "1a2b3c4d5e",
		CommitTime:     time.Date(2023, 2, 14, 8, 15, 30, 0, time.UTC),
		Author:         "Ada Dev",
		AuthorEmail:    "ada@example.com",
		Message:        "fix: crash in transport/zeromq.py\n\nCloses #4411, \"quoted\", commas",
		FilePath:       "salt/transport/zeromq.py",
		FilesChanged:   2,
		Insertions:     450,
		Deletions:      150,
		FileInsertions: 440,
		FileDeletions:  149,
		HunksCount:     7,
		IssueID:        &issue,
		IsBugfix:       true,
		PatchText:      "--- a/salt/transport/zeromq.py\n+++ b/salt/transport/zeromq.py\n@@ -1 +1 @@\n-old\n+new\n",
	}
	first.SeverityAssignment = record.SeverityAssignment{
		Label:      record.SeverityHigh,
		Confidence: (0.85 + 0.60 + 0.40) / 3,
		Reasons:    []string{"keyword:crash", "critical_file:transport/zeromq", "very_large_change"},
	}
	first.TemporalFeatures = record.TemporalFeatures{
		FileAgeDays: 70, Churn: 1, ChurnWindowDays: 60, RecentSevere: 2, SevereWindowDays: 30,
	}

	second := record.CommitFileRecord{
		Project:      "salt",
		Repo:         "saltstack/salt",
		CommitSHA:    "abcdef0123",
		CommitTime:   time.Date(2023, 2, 15, 0, 0, 0, 0, time.UTC),
		Author:       "Grace",
		AuthorEmail:  "grace@example.com",
		Message:      "update docs",
		FilePath:     "doc/topics/index.rst",
		FilesChanged: 1,
		Insertions:   3,
	}
	second.SeverityAssignment = record.SeverityAssignment{
		Label:      record.SeverityLow,
		Confidence: 0.5,
		Reasons:    []string{"keyword:doc", "non_critical:doc", "tiny_change"},
	}
	second.TemporalFeatures = record.TemporalFeatures{ChurnWindowDays: 60, SevereWindowDays: 30}

	return []record.CommitFileRecord{first, second}
}

func TestJSONRoundTrip(t *testing.T) {
	records := sampleRecords()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(records, &buf))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"), "one line per record")

	got, err := ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, got)
	require.NotNil(t, got[0].IssueID)
	assert.Nil(t, got[1].IssueID)
}

func TestJSONFlatColumns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(sampleRecords()[:1], &buf))

	var row map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &row))
	for _, key := range []string{
		"commit_sha", "file_path", "severity_label", "severity_confidence",
		"severity_reasons", "file_age_days", "churn", "recent_severe", "issue_id",
	} {
		assert.Contains(t, row, key)
	}
}

func TestReadJSONArray(t *testing.T) {
	records := sampleRecords()

	var buf bytes.Buffer
	require.NoError(t, Export(records, "JSON", &buf))
	assert.True(t, strings.HasPrefix(buf.String(), "["))

	got, err := ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestCSVRoundTrip(t *testing.T) {
	records := sampleRecords()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(records, &buf))

	head := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.Contains(t, head, "churn_60d")
	assert.Contains(t, head, "recent_severe_30d")

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestCSVWindowColumns(t *testing.T) {
	records := sampleRecords()[:1]
	records[0].ChurnWindowDays = 90
	records[0].SevereWindowDays = 14

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(records, &buf))
	assert.Contains(t, buf.String(), "churn_90d,recent_severe_14d")

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, 90, got[0].ChurnWindowDays)
	assert.Equal(t, 14, got[0].SevereWindowDays)
}

func TestExportUnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	err := Export(sampleRecords(), "xml", &buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Zero(t, buf.Len())
}

func TestFileRoundTrip(t *testing.T) {
	records := sampleRecords()
	dir := t.TempDir()

	for _, name := range []string{"out/table.jsonl", "out/table.csv", "out/table.json"} {
		path := filepath.Join(dir, name)
		require.NoError(t, WriteFile(path, "", records), name)

		got, err := ReadFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, records, got, name)
	}
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatCSV, FormatFromPath("x/table.CSV"))
	assert.Equal(t, FormatJSON, FormatFromPath("table.json"))
	assert.Equal(t, FormatJSONL, FormatFromPath("table.ndjson"))
	assert.Equal(t, FormatJSONL, FormatFromPath("table"))
}

package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Yates-Labs/sevmine/internal/record"
	"github.com/Yates-Labs/sevmine/internal/temporal"
)

// reasonSeparator joins severity reasons inside one CSV cell.
const reasonSeparator = "|"

var leadingColumns = []string{
	"project", "repo", "commit_sha", "parent_sha", "commit_time", "author", "author_email",
	"message", "file_path", "files_changed", "insertions", "deletions", "file_insertions",
	"file_deletions", "hunks_count", "issue_id", "is_bugfix", "severity_label",
	"severity_confidence", "severity_reasons", "file_age_days",
}

// header returns the CSV header. The windowed columns are named after the
// window sizes of the first record, e.g. churn_60d.
func header(records []record.CommitFileRecord) []string {
	features := record.TemporalFeatures{
		ChurnWindowDays:  temporal.DefaultChurnWindowDays,
		SevereWindowDays: temporal.DefaultSevereWindowDays,
	}
	if len(records) > 0 && records[0].ChurnWindowDays > 0 {
		features = records[0].TemporalFeatures
	}

	cols := append([]string{}, leadingColumns...)
	return append(cols, features.ChurnColumn(), features.SevereColumn(), "patch_text")
}

// WriteCSV writes the table with a header row.
func WriteCSV(records []record.CommitFileRecord, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header(records)); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for i := range records {
		r := &records[i]
		row := []string{
			r.Project,
			r.Repo,
			r.CommitSHA,
			r.ParentSHA,
			r.CommitTime.Format(time.RFC3339Nano),
			r.Author,
			r.AuthorEmail,
			r.Message,
			r.FilePath,
			strconv.Itoa(r.FilesChanged),
			strconv.Itoa(r.Insertions),
			strconv.Itoa(r.Deletions),
			strconv.Itoa(r.FileInsertions),
			strconv.Itoa(r.FileDeletions),
			strconv.Itoa(r.HunksCount),
			r.Issue(),
			strconv.FormatBool(r.IsBugfix),
			string(r.Label),
			strconv.FormatFloat(r.Confidence, 'f', -1, 64),
			strings.Join(r.Reasons, reasonSeparator),
			strconv.Itoa(r.FileAgeDays),
			strconv.Itoa(r.Churn),
			strconv.Itoa(r.RecentSevere),
			r.PatchText,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a table written by WriteCSV. Window sizes are recovered from
// the churn_<W>d and recent_severe_<V>d column names.
func ReadCSV(r io.Reader) ([]record.CommitFileRecord, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	head := rows[0]
	if len(head) != len(leadingColumns)+3 {
		return nil, fmt.Errorf("unexpected csv header with %d columns", len(head))
	}
	churnDays, err := windowDays(head[len(leadingColumns)], "churn_")
	if err != nil {
		return nil, err
	}
	severeDays, err := windowDays(head[len(leadingColumns)+1], "recent_severe_")
	if err != nil {
		return nil, err
	}

	records := make([]record.CommitFileRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", i+1, err)
		}
		rec.ChurnWindowDays = churnDays
		rec.SevereWindowDays = severeDays
		records = append(records, rec)
	}
	return records, nil
}

func windowDays(column, prefix string) (int, error) {
	if !strings.HasPrefix(column, prefix) || !strings.HasSuffix(column, "d") {
		return 0, fmt.Errorf("unexpected csv column %q", column)
	}
	days, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(column, prefix), "d"))
	if err != nil {
		return 0, fmt.Errorf("unexpected csv column %q: %w", column, err)
	}
	return days, nil
}

// rowParser accumulates the first conversion error.
type rowParser struct {
	row []string
	err error
}

func (p *rowParser) atoi(i int) int {
	v, err := strconv.Atoi(p.row[i])
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column %s: %w", columnName(i), err)
	}
	return v
}

func columnName(i int) string {
	if i < len(leadingColumns) {
		return leadingColumns[i]
	}
	return strconv.Itoa(i)
}

func parseRow(row []string) (record.CommitFileRecord, error) {
	p := &rowParser{row: row}
	n := len(leadingColumns)

	rec := record.CommitFileRecord{
		Project:        row[0],
		Repo:           row[1],
		CommitSHA:      row[2],
		ParentSHA:      row[3],
		Author:         row[5],
		AuthorEmail:    row[6],
		Message:        row[7],
		FilePath:       row[8],
		FilesChanged:   p.atoi(9),
		Insertions:     p.atoi(10),
		Deletions:      p.atoi(11),
		FileInsertions: p.atoi(12),
		FileDeletions:  p.atoi(13),
		HunksCount:     p.atoi(14),
		PatchText:      row[n+2],
	}
	rec.FileAgeDays = p.atoi(20)
	rec.Churn = p.atoi(n)
	rec.RecentSevere = p.atoi(n + 1)
	if p.err != nil {
		return rec, p.err
	}

	t, err := time.Parse(time.RFC3339Nano, row[4])
	if err != nil {
		return rec, fmt.Errorf("column commit_time: %w", err)
	}
	rec.CommitTime = t

	if row[15] != "" {
		id := row[15]
		rec.IssueID = &id
	}
	if rec.IsBugfix, err = strconv.ParseBool(row[16]); err != nil {
		return rec, fmt.Errorf("column is_bugfix: %w", err)
	}
	if row[17] != "" {
		if rec.Label, err = record.ParseSeverity(row[17]); err != nil {
			return rec, err
		}
	}
	if rec.Confidence, err = strconv.ParseFloat(row[18], 64); err != nil {
		return rec, fmt.Errorf("column severity_confidence: %w", err)
	}
	rec.Reasons = []string{}
	if row[19] != "" {
		rec.Reasons = strings.Split(row[19], reasonSeparator)
	}

	return rec, nil
}

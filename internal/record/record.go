// Package record defines the rows of the commit-file feature table.
package record

import (
	"fmt"
	"time"
)

// Severity is a fused severity label.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Severities lists labels in evaluation order. Earlier labels win ties.
var Severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity converts a label string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// SeverityAssignment is the fused label attached to a record.
type SeverityAssignment struct {
	Label      Severity `json:"severity_label"`
	Confidence float64  `json:"severity_confidence"`
	Reasons    []string `json:"severity_reasons"`
}

// TemporalFeatures are rolling statistics computed from strictly earlier
// records of the same file. The window sizes name the exported columns.
type TemporalFeatures struct {
	FileAgeDays      int `json:"file_age_days"`
	Churn            int `json:"churn"`
	ChurnWindowDays  int `json:"churn_window_days"`
	RecentSevere     int `json:"recent_severe"`
	SevereWindowDays int `json:"severe_window_days"`
}

// ChurnColumn is the table column name for Churn, e.g. churn_60d.
func (t TemporalFeatures) ChurnColumn() string {
	return fmt.Sprintf("churn_%dd", t.ChurnWindowDays)
}

// SevereColumn is the table column name for RecentSevere, e.g. recent_severe_30d.
func (t TemporalFeatures) SevereColumn() string {
	return fmt.Sprintf("recent_severe_%dd", t.SevereWindowDays)
}

// CommitFileRecord is one row of the feature table: one changed file of one
// commit. All records of a commit share the commit-level fields.
type CommitFileRecord struct {
	Project        string    `json:"project"`
	Repo           string    `json:"repo"`
	CommitSHA      string    `json:"commit_sha"`
	ParentSHA      string    `json:"parent_sha,omitempty"`
	CommitTime     time.Time `json:"commit_time"`
	Author         string    `json:"author"`
	AuthorEmail    string    `json:"author_email"`
	Message        string    `json:"message"`
	FilePath       string    `json:"file_path"`
	FilesChanged   int       `json:"files_changed"`
	Insertions     int       `json:"insertions"`
	Deletions      int       `json:"deletions"`
	FileInsertions int       `json:"file_insertions"`
	FileDeletions  int       `json:"file_deletions"`
	HunksCount     int       `json:"hunks_count"`
	IssueID        *string   `json:"issue_id,omitempty"`
	IsBugfix       bool      `json:"is_bugfix"`
	PatchText      string    `json:"patch_text"`

	SeverityAssignment
	TemporalFeatures
}

// LinesChanged is the commit-level insertions plus deletions.
func (r *CommitFileRecord) LinesChanged() int {
	return r.Insertions + r.Deletions
}

// Issue returns the issue reference or the empty string.
func (r *CommitFileRecord) Issue() string {
	if r.IssueID == nil {
		return ""
	}
	return *r.IssueID
}

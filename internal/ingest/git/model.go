package git

import (
	"time"

	"github.com/Yates-Labs/sevmine/internal/diff"
)

// FileStat is the per-file line count reported for a commit.
type FileStat struct {
	Path       string `json:"path"`
	Insertions int    `json:"insertions"`
	Deletions  int    `json:"deletions"`
}

// CommitInfo is per-commit metadata independent of file granularity.
// ParentSHA is empty for root commits.
type CommitInfo struct {
	SHA          string     `json:"sha"`
	ParentSHA    string     `json:"parent_sha,omitempty"`
	Message      string     `json:"message"`
	Author       string     `json:"author"`
	AuthorEmail  string     `json:"author_email"`
	CommitTime   time.Time  `json:"commit_time"`
	FilesChanged []string   `json:"files_changed"`
	FileStats    []FileStat `json:"file_stats"`
	Insertions   int        `json:"insertions"`
	Deletions    int        `json:"deletions"`
}

// IsRoot reports whether the commit has no parent.
func (c *CommitInfo) IsRoot() bool {
	return c.ParentSHA == ""
}

// LinesChanged returns insertions plus deletions.
func (c *CommitInfo) LinesChanged() int {
	return c.Insertions + c.Deletions
}

// FileStat returns the line counts recorded for path.
func (c *CommitInfo) FileStat(path string) (FileStat, bool) {
	for _, fs := range c.FileStats {
		if fs.Path == path {
			return fs, true
		}
	}
	return FileStat{}, false
}

// Diff is the change set of one commit against its first parent.
// A root commit always has an empty Diff.
type Diff struct {
	CommitSHA    string          `json:"commit_sha"`
	ParentSHA    string          `json:"parent_sha,omitempty"`
	Hunks        []diff.Hunk     `json:"hunks"`
	Files        []diff.FileDiff `json:"files"`
	FilesChanged []string        `json:"files_changed"`
	Insertions   int             `json:"insertions"`
	Deletions    int             `json:"deletions"`
	RawDiff      string          `json:"raw_diff"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// File returns the parsed summary for path.
func (d *Diff) File(path string) (diff.FileDiff, bool) {
	return diff.Result{Hunks: d.Hunks, Files: d.Files}.File(path)
}

// Branch is a resolved branch reference.
type Branch struct {
	Name     string `json:"name"`
	Hash     string `json:"hash"`
	IsRemote bool   `json:"is_remote"`
	IsHead   bool   `json:"is_head"`
}

// Window bounds a history walk by committer time. Nil bounds are open.
type Window struct {
	Since *time.Time
	Until *time.Time
}

// Contains reports whether t lies inside the inclusive window.
func (w Window) Contains(t time.Time) bool {
	if w.Since != nil && t.Before(*w.Since) {
		return false
	}
	if w.Until != nil && t.After(*w.Until) {
		return false
	}
	return true
}

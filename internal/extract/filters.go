package extract

import (
	"strings"

	"github.com/Yates-Labs/sevmine/internal/ingest/git"
)

// Rejection reasons recorded in Stats. ReasonIncluded marks accepted commits.
const (
	ReasonIncluded        = "included"
	ReasonMergeCommit     = "merge_commit"
	ReasonTooFewFiles     = "too_few_files"
	ReasonTooManyFiles    = "too_many_files"
	ReasonTooFewLines     = "too_few_lines"
	ReasonTooManyLines    = "too_many_lines"
	ReasonNoValidExt      = "no_valid_extensions"
	ReasonExcludedPath    = "excluded_path"
	ReasonProcessingError = "processing_error"
)

// Filters are the commit inclusion rules. A numeric bound of zero or less
// disables that bound and an empty list disables its rule.
type Filters struct {
	ExcludeMerges     bool
	MinFilesChanged   int
	MaxFilesChanged   int
	MinLinesChanged   int
	MaxLinesChanged   int
	IncludeExtensions []string
	ExcludePaths      []string
}

type rule struct {
	reason string
	reject func(*git.CommitInfo, Filters) bool
}

// rules run in this order; the first one to reject names the reason.
var rules = []rule{
	{ReasonMergeCommit, func(c *git.CommitInfo, f Filters) bool {
		// merges are recognised by message, not parent count
		return f.ExcludeMerges && strings.Contains(strings.ToLower(c.Message), "merge")
	}},
	{ReasonTooFewFiles, func(c *git.CommitInfo, f Filters) bool {
		return f.MinFilesChanged > 0 && len(c.FilesChanged) < f.MinFilesChanged
	}},
	{ReasonTooManyFiles, func(c *git.CommitInfo, f Filters) bool {
		return f.MaxFilesChanged > 0 && len(c.FilesChanged) > f.MaxFilesChanged
	}},
	{ReasonTooFewLines, func(c *git.CommitInfo, f Filters) bool {
		return f.MinLinesChanged > 0 && c.LinesChanged() < f.MinLinesChanged
	}},
	{ReasonTooManyLines, func(c *git.CommitInfo, f Filters) bool {
		return f.MaxLinesChanged > 0 && c.LinesChanged() > f.MaxLinesChanged
	}},
	{ReasonNoValidExt, func(c *git.CommitInfo, f Filters) bool {
		if len(f.IncludeExtensions) == 0 {
			return false
		}
		for _, path := range c.FilesChanged {
			for _, ext := range f.IncludeExtensions {
				if strings.HasSuffix(path, ext) {
					return false
				}
			}
		}
		return true
	}},
	{ReasonExcludedPath, func(c *git.CommitInfo, f Filters) bool {
		for _, path := range c.FilesChanged {
			for _, ex := range f.ExcludePaths {
				if ex != "" && strings.Contains(path, ex) {
					return true
				}
			}
		}
		return false
	}},
}

// Evaluate applies the filters to a commit. It returns whether the commit is
// accepted and the reason: ReasonIncluded, or the first failing rule.
func Evaluate(info *git.CommitInfo, f Filters) (bool, string) {
	for _, r := range rules {
		if r.reject(info, f) {
			return false, r.reason
		}
	}
	return true, ReasonIncluded
}

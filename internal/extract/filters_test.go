package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/sevmine/internal/ingest/git"
)

func defaultFilters() Filters {
	return Filters{
		ExcludeMerges:   true,
		MinFilesChanged: 1,
		MaxFilesChanged: 50,
		MinLinesChanged: 1,
		MaxLinesChanged: 1000,
	}
}

func commitWith(message string, files []string, ins, del int) *git.CommitInfo {
	return &git.CommitInfo{
		SHA:          "deadbeef",
		Message:      message,
		FilesChanged: files,
		Insertions:   ins,
		Deletions:    del,
	}
}

func TestEvaluate(t *testing.T) {
	many := make([]string, 51)
	for i := range many {
		many[i] = "f.py"
	}

	tests := []struct {
		name    string
		filters func(*Filters)
		commit  *git.CommitInfo
		want    string
	}{
		{
			name:   "accepted",
			commit: commitWith("fix parser", []string{"a.py"}, 3, 1),
			want:   ReasonIncluded,
		},
		{
			name:   "merge detected by message",
			commit: commitWith("Merge pull request #12 from dev", []string{"a.py"}, 3, 1),
			want:   ReasonMergeCommit,
		},
		{
			name:    "merge allowed when toggled off",
			filters: func(f *Filters) { f.ExcludeMerges = false },
			commit:  commitWith("Merge branch 'x'", []string{"a.py"}, 3, 1),
			want:    ReasonIncluded,
		},
		{
			name:   "no files",
			commit: commitWith("empty", nil, 0, 0),
			want:   ReasonTooFewFiles,
		},
		{
			name:   "too many files",
			commit: commitWith("vendor bump", many, 10, 0),
			want:   ReasonTooManyFiles,
		},
		{
			name:   "no lines",
			commit: commitWith("chmod", []string{"run.sh"}, 0, 0),
			want:   ReasonTooFewLines,
		},
		{
			name:   "too many lines",
			commit: commitWith("regenerate", []string{"a.py"}, 900, 101),
			want:   ReasonTooManyLines,
		},
		{
			name:    "extension allow-list miss",
			filters: func(f *Filters) { f.IncludeExtensions = []string{".py"} },
			commit:  commitWith("docs", []string{"README.md", "docs/x.rst"}, 2, 0),
			want:    ReasonNoValidExt,
		},
		{
			name:    "extension allow-list hit",
			filters: func(f *Filters) { f.IncludeExtensions = []string{".go", ".py"} },
			commit:  commitWith("code", []string{"README.md", "salt/x.py"}, 2, 0),
			want:    ReasonIncluded,
		},
		{
			name:    "excluded path drops whole commit",
			filters: func(f *Filters) { f.ExcludePaths = []string{"vendor/"} },
			commit:  commitWith("mixed", []string{"salt/x.py", "vendor/lib.py"}, 2, 0),
			want:    ReasonExcludedPath,
		},
		{
			name:    "first failing filter is reported",
			filters: func(f *Filters) { f.ExcludePaths = []string{"vendor/"} },
			commit:  commitWith("merge vendor", []string{"vendor/lib.py"}, 0, 0),
			want:    ReasonMergeCommit,
		},
		{
			name: "disabled bounds",
			filters: func(f *Filters) {
				*f = Filters{}
			},
			commit: commitWith("merge", nil, 0, 0),
			want:   ReasonIncluded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := defaultFilters()
			if tt.filters != nil {
				tt.filters(&f)
			}
			ok, reason := Evaluate(tt.commit, f)
			assert.Equal(t, tt.want, reason)
			assert.Equal(t, tt.want == ReasonIncluded, ok)
		})
	}
}

func TestIssueID(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"Fix crash on startup #123", "123"},
		{"GH-77: handle empty payload", "77"},
		{"gh-78 lower case", "78"},
		{"closes #9 and refs #10", "9"},
		{"Resolves #4411", "4411"},
		{"no reference here", ""},
		{"issue 42 without hash", ""},
	}

	for _, tt := range tests {
		got := IssueID(tt.message)
		if tt.want == "" {
			assert.Nil(t, got, tt.message)
			continue
		}
		require.NotNil(t, got, tt.message)
		assert.Equal(t, tt.want, *got, tt.message)
	}
}

func TestIsBugfix(t *testing.T) {
	assert.True(t, IsBugfix("Fixed race in scheduler"))
	assert.True(t, IsBugfix("Handle ERROR when key missing"))
	assert.True(t, IsBugfix("Wrong default for timeout"))
	assert.False(t, IsBugfix("Add new grain for cpu flags"))
	assert.False(t, IsBugfix(""))
}

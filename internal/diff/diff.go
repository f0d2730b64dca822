// Package diff splits unified diff text into hunks with line-level provenance.
package diff

import (
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// Line is a single added or removed line tagged with its line number in the
// new file (added) or the old file (removed).
type Line struct {
	Number  int    `json:"number"`
	Content string `json:"content"`
}

// Hunk is one contiguous @@ block within one file's diff.
type Hunk struct {
	ID       int    `json:"hunk_id"`
	FilePath string `json:"file_path"`
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Content  string `json:"content"` // lines with their +/-/space prefix, context included
	Added    []Line `json:"added_lines"`
	Removed  []Line `json:"removed_lines"`
}

// FileDiff summarizes the part of a diff that touches one file.
type FileDiff struct {
	Path      string `json:"path"`
	OldPath   string `json:"old_path,omitempty"`
	IsNew     bool   `json:"is_new"`
	IsDeleted bool   `json:"is_deleted"`
	IsRenamed bool   `json:"is_renamed"`
	IsBinary  bool   `json:"is_binary"`
	Hunks     int    `json:"hunks"`
	Added     int    `json:"added"`
	Removed   int    `json:"removed"`
	Patch     string `json:"patch,omitempty"`
}

// Result is the parsed form of one diff. Warnings are advisory: a diff that
// cannot be parsed yields no hunks and a warning, never an error.
type Result struct {
	Hunks    []Hunk     `json:"hunks"`
	Files    []FileDiff `json:"files"`
	Warnings []string   `json:"warnings,omitempty"`
}

// Stats returns aggregate statistics.
func (r Result) Stats() (files, added, removed int) {
	files = len(r.Files)
	for _, f := range r.Files {
		added += f.Added
		removed += f.Removed
	}
	return
}

// File returns the summary for path, if the diff touches it.
func (r Result) File(path string) (FileDiff, bool) {
	for _, f := range r.Files {
		if f.Path == path || (f.OldPath != "" && f.OldPath == path) {
			return f, true
		}
	}
	return FileDiff{}, false
}

// HunksFor returns the hunks belonging to path in diff order.
func (r Result) HunksFor(path string) []Hunk {
	var hunks []Hunk
	for _, h := range r.Hunks {
		if h.FilePath == path {
			hunks = append(hunks, h)
		}
	}
	return hunks
}

// Parse reads unified diff text and returns its hunks in file-then-position
// order. Hunk IDs start at zero and increase across the whole diff.
func Parse(raw string) Result {
	if strings.TrimSpace(raw) == "" {
		return Result{}
	}

	parsed, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return Result{Warnings: []string{fmt.Sprintf("failed to parse diff: %v", err)}}
	}
	if len(parsed) == 0 {
		return Result{Warnings: []string{"diff text contains no file headers"}}
	}

	var res Result
	nextID := 0
	for _, f := range parsed {
		fd := FileDiff{
			Path:      filePath(f),
			IsNew:     f.IsNew,
			IsDeleted: f.IsDelete,
			IsRenamed: f.IsRename,
			IsBinary:  f.IsBinary,
			Patch:     f.String(),
		}
		if f.IsRename || f.IsCopy {
			fd.OldPath = f.OldName
		}

		if f.IsBinary {
			res.Warnings = append(res.Warnings, fmt.Sprintf("binary file %s has no text hunks", fd.Path))
			res.Files = append(res.Files, fd)
			continue
		}

		for _, frag := range f.TextFragments {
			h := newHunk(nextID, fd.Path, frag)
			nextID++

			fd.Hunks++
			fd.Added += len(h.Added)
			fd.Removed += len(h.Removed)
			res.Hunks = append(res.Hunks, h)
		}
		res.Files = append(res.Files, fd)
	}

	return res
}

// filePath prefers the post-image name; deleted files only have the old one.
func filePath(f *gitdiff.File) string {
	if f.NewName != "" {
		return f.NewName
	}
	return f.OldName
}

func newHunk(id int, path string, frag *gitdiff.TextFragment) Hunk {
	h := Hunk{
		ID:       id,
		FilePath: path,
		OldStart: int(frag.OldPosition),
		OldLines: int(frag.OldLines),
		NewStart: int(frag.NewPosition),
		NewLines: int(frag.NewLines),
	}

	var content strings.Builder
	oldLine := h.OldStart
	newLine := h.NewStart
	for _, line := range frag.Lines {
		content.WriteString(line.String())
		text := strings.TrimSuffix(line.Line, "\n")

		switch line.Op {
		case gitdiff.OpAdd:
			h.Added = append(h.Added, Line{Number: newLine, Content: text})
			newLine++
		case gitdiff.OpDelete:
			h.Removed = append(h.Removed, Line{Number: oldLine, Content: text})
			oldLine++
		default:
			oldLine++
			newLine++
		}
	}
	h.Content = content.String()

	return h
}

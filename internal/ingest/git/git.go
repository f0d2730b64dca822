package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Yates-Labs/sevmine/internal/diff"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	fdiff "github.com/go-git/go-git/v6/plumbing/format/diff"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/storage/memory"
)

// ErrBranchNotFound is returned when neither the requested branch nor any
// permitted fallback resolves.
var ErrBranchNotFound = errors.New("branch not found")

// Conventional default branch names. A missing one falls back to the other.
const (
	BranchMaster = "master"
	BranchMain   = "main"
)

// OpenRepository opens a Git repository from a local path
func OpenRepository(path string) (*git.Repository, error) {
	return git.PlainOpen(path)
}

// CloneRepository clones a Git repository to memory.
// Progress output from the remote is written to progress when it is non-nil.
func CloneRepository(url string, progress io.Writer) (*git.Repository, error) {
	return git.Clone(memory.NewStorage(), nil, &git.CloneOptions{
		URL:      url,
		Progress: progress,
	})
}

// ParseBranches extracts all branches from a repository
func ParseBranches(repo *git.Repository) ([]Branch, error) {
	var branches []Branch

	head, err := repo.Head()
	var headName plumbing.ReferenceName
	if err == nil {
		headName = head.Name()
	}

	refs, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("failed to get references: %w", err)
	}

	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		if ref.Name().IsBranch() || ref.Name().IsRemote() {
			branches = append(branches, Branch{
				Name:     ref.Name().Short(),
				Hash:     ref.Hash().String(),
				IsRemote: ref.Name().IsRemote(),
				IsHead:   ref.Name() == headName,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate references: %w", err)
	}

	sort.Slice(branches, func(i, j int) bool {
		return branches[i].Name < branches[j].Name
	})

	return branches, nil
}

// lookupBranch finds a local branch, then the origin remote-tracking branch.
func lookupBranch(repo *git.Repository, name string) (*plumbing.Reference, bool) {
	candidates := []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(name),
		plumbing.NewRemoteReferenceName("origin", name),
	}
	for _, refName := range candidates {
		ref, err := repo.Reference(refName, true)
		if err == nil {
			return ref, true
		}
	}
	return nil, false
}

// alternateDefault returns the other conventional default branch name.
func alternateDefault(name string) (string, bool) {
	switch name {
	case BranchMaster:
		return BranchMain, true
	case BranchMain:
		return BranchMaster, true
	}
	return "", false
}

// ResolveBranch resolves name to a branch tip. When name is a conventional
// default branch that does not exist, the alternate default is tried, then the
// repository's active branch. Other names never fall back.
func ResolveBranch(repo *git.Repository, name string) (Branch, error) {
	if ref, ok := lookupBranch(repo, name); ok {
		return branchFromRef(ref), nil
	}

	alt, isDefault := alternateDefault(name)
	if !isDefault {
		return Branch{}, fmt.Errorf("%w: %s%s", ErrBranchNotFound, name, availableBranches(repo))
	}

	if ref, ok := lookupBranch(repo, alt); ok {
		return branchFromRef(ref), nil
	}

	head, err := repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return Branch{}, fmt.Errorf("%w: %s, %s and no active branch%s",
			ErrBranchNotFound, name, alt, availableBranches(repo))
	}
	return branchFromRef(head), nil
}

func branchFromRef(ref *plumbing.Reference) Branch {
	return Branch{
		Name:     ref.Name().Short(),
		Hash:     ref.Hash().String(),
		IsRemote: ref.Name().IsRemote(),
	}
}

// availableBranches formats known branches for error messages.
func availableBranches(repo *git.Repository) string {
	branches, err := ParseBranches(repo)
	if err != nil || len(branches) == 0 {
		return ""
	}
	names := make([]string, len(branches))
	for i, b := range branches {
		names[i] = b.Name
	}
	return " (available: " + strings.Join(names, ", ") + ")"
}

// ListCommits returns the SHAs reachable from branch whose committer time
// lies inside window, most recent first as discovered by the log walk.
func ListCommits(ctx context.Context, repo *git.Repository, window Window, branch string) ([]string, error) {
	tip, err := ResolveBranch(repo, branch)
	if err != nil {
		return nil, err
	}

	commitIter, err := repo.Log(&git.LogOptions{
		From: plumbing.NewHash(tip.Hash),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get log: %w", err)
	}
	defer commitIter.Close()

	shas := make([]string, 0)
	err = commitIter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if window.Contains(c.Committer.When) {
			shas = append(shas, c.Hash.String())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate commits: %w", err)
	}

	return shas, nil
}

// LoadCommit computes the CommitInfo and Diff of one commit. The diff is taken
// against the first parent; root commits get an empty Diff while their
// CommitInfo still lists the files they add.
func LoadCommit(ctx context.Context, repo *git.Repository, sha string) (*CommitInfo, *Diff, error) {
	commit, err := repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get commit %s: %w", ShortSHA(sha), err)
	}

	info := &CommitInfo{
		SHA:         commit.Hash.String(),
		Message:     strings.TrimSpace(commit.Message),
		Author:      commit.Author.Name,
		AuthorEmail: commit.Author.Email,
		CommitTime:  commit.Committer.When.UTC(),
	}

	if commit.NumParents() == 0 {
		tree, err := commit.Tree()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get tree of root commit %s: %w", ShortSHA(sha), err)
		}
		patch, err := (&object.Tree{}).PatchContext(ctx, tree)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get stats for root commit %s: %w", ShortSHA(sha), err)
		}
		applyStats(info, patch)
		return info, &Diff{CommitSHA: info.SHA}, nil
	}

	parent, err := commit.Parent(0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get parent of %s: %w", ShortSHA(sha), err)
	}
	info.ParentSHA = parent.Hash.String()

	patch, err := parent.PatchContext(ctx, commit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get patch for %s: %w", ShortSHA(sha), err)
	}
	applyStats(info, patch)

	raw := patch.String()
	parsed := diff.Parse(raw)

	return info, &Diff{
		CommitSHA:    info.SHA,
		ParentSHA:    info.ParentSHA,
		Hunks:        parsed.Hunks,
		Files:        parsed.Files,
		FilesChanged: info.FilesChanged,
		Insertions:   info.Insertions,
		Deletions:    info.Deletions,
		RawDiff:      raw,
		Warnings:     parsed.Warnings,
	}, nil
}

// GetCommitInfo extracts metadata for a specific commit
func GetCommitInfo(ctx context.Context, repo *git.Repository, sha string) (*CommitInfo, error) {
	info, _, err := LoadCommit(ctx, repo, sha)
	return info, err
}

// GetDiff extracts the full diff for a specific commit
func GetDiff(ctx context.Context, repo *git.Repository, sha string) (*Diff, error) {
	_, d, err := LoadCommit(ctx, repo, sha)
	return d, err
}

// applyStats records one entry per file patch. Renamed files are listed under
// their new path and binary files with zero line counts.
func applyStats(info *CommitInfo, patch *object.Patch) {
	filePatches := patch.FilePatches()
	info.FilesChanged = make([]string, 0, len(filePatches))
	info.FileStats = make([]FileStat, 0, len(filePatches))

	for _, filePatch := range filePatches {
		from, to := filePatch.Files()

		var stat FileStat
		switch {
		case to != nil:
			stat.Path = to.Path()
		case from != nil:
			stat.Path = from.Path()
		default:
			continue
		}

		if !filePatch.IsBinary() {
			for _, chunk := range filePatch.Chunks() {
				n := countLines(chunk.Content())
				switch chunk.Type() {
				case fdiff.Add:
					stat.Insertions += n
				case fdiff.Delete:
					stat.Deletions += n
				}
			}
		}

		info.FilesChanged = append(info.FilesChanged, stat.Path)
		info.FileStats = append(info.FileStats, stat)
		info.Insertions += stat.Insertions
		info.Deletions += stat.Deletions
	}
}

// countLines counts chunk lines, including a final line without a newline.
func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

// ShortSHA returns the first 8 characters of a commit hash for display.
func ShortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// GetRemoteURL returns the URL for a given remote name (e.g., "origin")
// Returns empty string if remote doesn't exist
func GetRemoteURL(repo *git.Repository, remoteName string) string {
	remote, err := repo.Remote(remoteName)
	if err != nil {
		return ""
	}

	config := remote.Config()
	if len(config.URLs) == 0 {
		return ""
	}

	return config.URLs[0]
}

// Walker exposes one repository's history through the extractor's source
// contract.
type Walker struct {
	Repo *git.Repository
}

// ListCommits implements the extractor source contract.
func (w *Walker) ListCommits(ctx context.Context, window Window, branch string) ([]string, error) {
	return ListCommits(ctx, w.Repo, window, branch)
}

// LoadCommit implements the extractor source contract.
func (w *Walker) LoadCommit(ctx context.Context, sha string) (*CommitInfo, *Diff, error) {
	return LoadCommit(ctx, w.Repo, sha)
}

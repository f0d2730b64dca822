// Package gittest builds throwaway on-disk repositories for tests.
package gittest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// Epoch is the reference time fixtures are usually committed relative to.
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Day returns Epoch plus n days.
func Day(n int) time.Time {
	return Epoch.Add(time.Duration(n) * 24 * time.Hour)
}

// Repo is a repository with a worktree in a temporary directory.
type Repo struct {
	t    testing.TB
	Dir  string
	Repo *git.Repository
	wt   *git.Worktree
}

// Author used for every fixture commit unless overridden.
var Author = object.Signature{Name: "Ada Dev", Email: "ada@example.com"}

// New initialises an empty repository.
func New(t testing.TB) *Repo {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init repository: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}

	return &Repo{t: t, Dir: dir, Repo: repo, wt: wt}
}

// Commit writes files (path -> content), stages them and commits at when.
// A nil content removes the file.
func (r *Repo) Commit(message string, when time.Time, files map[string]*string) string {
	r.t.Helper()

	for path, content := range files {
		if content == nil {
			if _, err := r.wt.Remove(path); err != nil {
				r.t.Fatalf("Failed to remove %s: %v", path, err)
			}
			continue
		}

		full := filepath.Join(r.Dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			r.t.Fatalf("Failed to create directory for %s: %v", path, err)
		}
		if err := os.WriteFile(full, []byte(*content), 0o644); err != nil {
			r.t.Fatalf("Failed to write %s: %v", path, err)
		}
		if _, err := r.wt.Add(path); err != nil {
			r.t.Fatalf("Failed to stage %s: %v", path, err)
		}
	}

	sig := Author
	sig.When = when
	hash, err := r.wt.Commit(message, &git.CommitOptions{
		Author:    &sig,
		Committer: &sig,
	})
	if err != nil {
		r.t.Fatalf("Failed to commit %q: %v", message, err)
	}

	return hash.String()
}

// Text is a convenience for building Commit file maps.
func Text(s string) *string {
	return &s
}

// RenameHead moves the branch HEAD points at to name and repoints HEAD.
func (r *Repo) RenameHead(name string) {
	r.t.Helper()

	head, err := r.Repo.Head()
	if err != nil {
		r.t.Fatalf("Failed to get HEAD: %v", err)
	}

	target := plumbing.NewBranchReferenceName(name)
	if err := r.Repo.Storer.SetReference(plumbing.NewHashReference(target, head.Hash())); err != nil {
		r.t.Fatalf("Failed to create branch %s: %v", name, err)
	}
	if head.Name() != target {
		if err := r.Repo.Storer.RemoveReference(head.Name()); err != nil {
			r.t.Fatalf("Failed to remove branch %s: %v", head.Name().Short(), err)
		}
	}
	r.PointHead(name)
}

// PointHead makes HEAD a symbolic reference to branch name, which need not exist.
func (r *Repo) PointHead(name string) {
	r.t.Helper()

	ref := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(name))
	if err := r.Repo.Storer.SetReference(ref); err != nil {
		r.t.Fatalf("Failed to point HEAD at %s: %v", name, err)
	}
}

// AddRemote registers a remote with a single URL.
func (r *Repo) AddRemote(name, url string) {
	r.t.Helper()

	if _, err := r.Repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}}); err != nil {
		r.t.Fatalf("Failed to add remote %s: %v", name, err)
	}
}

// Lines returns n newline-terminated lines prefixed with prefix.
func Lines(prefix string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s %d\n", prefix, i)
	}
	return b.String()
}

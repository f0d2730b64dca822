// Package extract turns repository history into commit-file records.
package extract

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Yates-Labs/sevmine/internal/ingest/git"
	"github.com/Yates-Labs/sevmine/internal/record"
)

// Source lists and loads commits. git.Walker is the production implementation.
type Source interface {
	ListCommits(ctx context.Context, window git.Window, branch string) ([]string, error)
	LoadCommit(ctx context.Context, sha string) (*git.CommitInfo, *git.Diff, error)
}

// Progress describes one processed commit.
type Progress struct {
	Processed int
	Total     int
	SHA       string
	Err       error
}

// ProgressFunc receives progress events. Calls are serialized.
type ProgressFunc func(Progress)

// Stats summarizes one extraction run.
type Stats struct {
	Scanned    int            `json:"scanned"`
	Included   int            `json:"included"`
	Rejections map[string]int `json:"rejections"`
	Records    int            `json:"records"`
	Bugfix     int            `json:"bugfix_records"`
	WithIssue  int            `json:"records_with_issue"`
	Warnings   int            `json:"diff_warnings"`
}

func (s *Stats) reject(reason string) {
	if s.Rejections == nil {
		s.Rejections = make(map[string]int)
	}
	s.Rejections[reason]++
}

// Extractor walks one repository and emits a record per changed file of
// every accepted commit.
type Extractor struct {
	Source   Source
	Filters  Filters
	Project  string
	Repo     string
	Branches []string
	Window   git.Window
	// Workers bounds concurrent LoadCommit calls. Values below 1 mean 1.
	Workers  int
	Logger   *logrus.Logger
	Progress ProgressFunc
}

type loaded struct {
	info *git.CommitInfo
	diff *git.Diff
	err  error
}

// Run extracts records in commit discovery order (most recent first). A branch
// that cannot be resolved aborts the run; failures on individual commits are
// counted under ReasonProcessingError and skipped.
func (e *Extractor) Run(ctx context.Context) ([]record.CommitFileRecord, Stats, error) {
	var stats Stats
	log := e.logger()

	shas, err := e.candidates(ctx)
	if err != nil {
		return nil, stats, err
	}
	log.WithField("commits", len(shas)).Info("Candidate commits listed")

	results, err := e.load(ctx, shas)
	if err != nil {
		return nil, stats, err
	}

	records := make([]record.CommitFileRecord, 0, len(shas))
	for i, res := range results {
		stats.Scanned++
		entry := log.WithField("sha", git.ShortSHA(shas[i]))

		if res.err != nil {
			entry.WithError(res.err).Warn("Skipping commit")
			stats.reject(ReasonProcessingError)
			continue
		}
		for _, w := range res.diff.Warnings {
			entry.Warn(w)
		}
		stats.Warnings += len(res.diff.Warnings)

		ok, reason := Evaluate(res.info, e.Filters)
		if !ok {
			entry.WithField("reason", reason).Debug("Commit filtered")
			stats.reject(reason)
			continue
		}
		stats.Included++

		for _, rec := range e.expand(res.info, res.diff) {
			if rec.IsBugfix {
				stats.Bugfix++
			}
			if rec.IssueID != nil {
				stats.WithIssue++
			}
			records = append(records, rec)
		}
	}
	stats.Records = len(records)

	log.WithFields(logrus.Fields{
		"scanned":  stats.Scanned,
		"included": stats.Included,
		"records":  stats.Records,
	}).Info("Extraction complete")

	return records, stats, nil
}

// candidates lists commits across all branches, keeping the first sighting of
// each SHA.
func (e *Extractor) candidates(ctx context.Context) ([]string, error) {
	branches := e.Branches
	if len(branches) == 0 {
		branches = []string{git.BranchMaster}
	}

	seen := make(map[string]bool)
	var shas []string
	for _, branch := range branches {
		list, err := e.Source.ListCommits(ctx, e.Window, branch)
		if err != nil {
			return nil, fmt.Errorf("failed to list commits on %s: %w", branch, err)
		}
		for _, sha := range list {
			if !seen[sha] {
				seen[sha] = true
				shas = append(shas, sha)
			}
		}
	}
	return shas, nil
}

// load computes every commit's info and diff. Results are indexed like shas.
func (e *Extractor) load(ctx context.Context, shas []string) ([]loaded, error) {
	results := make([]loaded, len(shas))

	workers := e.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		mu        sync.Mutex
		processed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sha := range shas {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			info, d, err := e.Source.LoadCommit(gctx, sha)
			results[i] = loaded{info: info, diff: d, err: err}

			if e.Progress != nil {
				mu.Lock()
				processed++
				e.Progress(Progress{Processed: processed, Total: len(shas), SHA: sha, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extraction interrupted: %w", err)
	}

	return results, nil
}

// expand builds one record per changed file. Commit-level fields are shared.
func (e *Extractor) expand(info *git.CommitInfo, d *git.Diff) []record.CommitFileRecord {
	issue := IssueID(info.Message)
	bugfix := IsBugfix(info.Message)

	records := make([]record.CommitFileRecord, 0, len(info.FilesChanged))
	for _, path := range info.FilesChanged {
		rec := record.CommitFileRecord{
			Project:      e.Project,
			Repo:         e.Repo,
			CommitSHA:    info.SHA,
			ParentSHA:    info.ParentSHA,
			CommitTime:   info.CommitTime,
			Author:       info.Author,
			AuthorEmail:  info.AuthorEmail,
			Message:      info.Message,
			FilePath:     path,
			FilesChanged: len(info.FilesChanged),
			Insertions:   info.Insertions,
			Deletions:    info.Deletions,
			IsBugfix:     bugfix,
		}
		if issue != nil {
			id := *issue
			rec.IssueID = &id
		}
		if fs, ok := info.FileStat(path); ok {
			rec.FileInsertions = fs.Insertions
			rec.FileDeletions = fs.Deletions
		}
		if d != nil {
			if fd, ok := d.File(path); ok {
				rec.HunksCount = fd.Hunks
				rec.PatchText = fd.Patch
			}
		}
		records = append(records, rec)
	}
	return records
}

func (e *Extractor) logger() *logrus.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

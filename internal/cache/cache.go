// Package cache memoizes per-commit extraction results in a BoltDB file.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"github.com/Yates-Labs/sevmine/internal/ingest/git"
)

const rootBucket = "commits.v1"

// ErrMiss is returned by Get when no entry exists.
var ErrMiss = errors.New("cache miss")

// Entry is the cached result of loading one commit.
type Entry struct {
	Info *git.CommitInfo `json:"info"`
	Diff *git.Diff       `json:"diff"`
}

// Store holds entries bucketed by repository.
type Store struct {
	db   *bolt.DB
	once sync.Once
}

// Open opens (or creates) a cache file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("cache path is required")
	}

	cleaned := filepath.Clean(path)
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(cleaned, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Get returns the entry for repo/sha or ErrMiss.
func (s *Store) Get(ctx context.Context, repo, sha string) (*Entry, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		repoBucket := tx.Bucket([]byte(rootBucket)).Bucket([]byte(repo))
		if repoBucket == nil {
			return ErrMiss
		}
		v := repoBucket.Get([]byte(sha))
		if v == nil {
			return ErrMiss
		}
		data = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", git.ShortSHA(sha), err)
	}
	return &entry, nil
}

// Put stores the entry for repo/sha.
func (s *Store) Put(ctx context.Context, repo, sha string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", git.ShortSHA(sha), err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		repoBucket, err := tx.Bucket([]byte(rootBucket)).CreateBucketIfNotExists([]byte(repo))
		if err != nil {
			return err
		}
		return repoBucket.Put([]byte(sha), data)
	})
}

// Len returns the number of entries cached for repo.
func (s *Store) Len(repo string) int {
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(rootBucket)).Bucket([]byte(repo)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n
}

// Purge drops every entry for repo.
func (s *Store) Purge(repo string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket([]byte(rootBucket)).DeleteBucket([]byte(repo))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Close shuts down the Bolt DB.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}

// Source is the commit source being cached.
type Source interface {
	ListCommits(ctx context.Context, window git.Window, branch string) ([]string, error)
	LoadCommit(ctx context.Context, sha string) (*git.CommitInfo, *git.Diff, error)
}

// CachedSource serves LoadCommit from the store and fills it on misses.
// Commit listings always go to the underlying source since branch tips move.
type CachedSource struct {
	Source Source
	Store  *Store
	Repo   string

	hits   atomic.Int64
	misses atomic.Int64
}

// Wrap returns a CachedSource for repo.
func Wrap(src Source, store *Store, repo string) *CachedSource {
	return &CachedSource{Source: src, Store: store, Repo: repo}
}

// ListCommits delegates to the underlying source.
func (c *CachedSource) ListCommits(ctx context.Context, window git.Window, branch string) ([]string, error) {
	return c.Source.ListCommits(ctx, window, branch)
}

// LoadCommit returns a cached entry when present. Failed loads are not cached.
func (c *CachedSource) LoadCommit(ctx context.Context, sha string) (*git.CommitInfo, *git.Diff, error) {
	if entry, err := c.Store.Get(ctx, c.Repo, sha); err == nil && entry.Info != nil && entry.Diff != nil {
		c.hits.Add(1)
		return entry.Info, entry.Diff, nil
	}
	c.misses.Add(1)

	info, d, err := c.Source.LoadCommit(ctx, sha)
	if err != nil {
		return nil, nil, err
	}
	if err := c.Store.Put(ctx, c.Repo, sha, &Entry{Info: info, Diff: d}); err != nil {
		return nil, nil, fmt.Errorf("cache commit %s: %w", git.ShortSHA(sha), err)
	}
	return info, d, nil
}

// Counts returns cache hits and misses so far.
func (c *CachedSource) Counts() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

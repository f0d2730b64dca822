// Package store persists feature tables in SQLite, one run per build.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/Yates-Labs/sevmine/internal/record"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout has fixed-width fractions so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run describes one stored build of a feature table.
type Run struct {
	ID               string
	Project          string
	Repo             string
	CreatedAt        time.Time
	ChurnWindowDays  int
	SevereWindowDays int
	RecordCount      int
	// Stats is an opaque JSON summary supplied by the caller.
	Stats json.RawMessage
}

type runRow struct {
	ID               string `db:"id"`
	Project          string `db:"project"`
	Repo             string `db:"repo"`
	CreatedAt        string `db:"created_at"`
	ChurnWindowDays  int    `db:"churn_window_days"`
	SevereWindowDays int    `db:"severe_window_days"`
	RecordCount      int    `db:"record_count"`
	Stats            string `db:"stats"`
}

type recordRow struct {
	RunID          string         `db:"run_id"`
	Seq            int            `db:"seq"`
	Project        string         `db:"project"`
	Repo           string         `db:"repo"`
	CommitSHA      string         `db:"commit_sha"`
	ParentSHA      string         `db:"parent_sha"`
	CommitTime     string         `db:"commit_time"`
	Author         string         `db:"author"`
	AuthorEmail    string         `db:"author_email"`
	Message        string         `db:"message"`
	FilePath       string         `db:"file_path"`
	FilesChanged   int            `db:"files_changed"`
	Insertions     int            `db:"insertions"`
	Deletions      int            `db:"deletions"`
	FileInsertions int            `db:"file_insertions"`
	FileDeletions  int            `db:"file_deletions"`
	HunksCount     int            `db:"hunks_count"`
	IssueID        sql.NullString `db:"issue_id"`
	IsBugfix       bool           `db:"is_bugfix"`
	PatchText      string         `db:"patch_text"`
	Label          string         `db:"severity_label"`
	Confidence     float64        `db:"severity_confidence"`
	Reasons        string         `db:"severity_reasons"`
	FileAgeDays    int            `db:"file_age_days"`
	Churn          int            `db:"churn"`
	RecentSevere   int            `db:"recent_severe"`
}

// SQLiteStore stores runs and their records.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if logger == nil {
		logger = logrus.New()
	}
	store := &SQLiteStore{db: db, logger: logger}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		repo TEXT NOT NULL,
		created_at TEXT NOT NULL,
		churn_window_days INTEGER NOT NULL,
		severe_window_days INTEGER NOT NULL,
		record_count INTEGER NOT NULL,
		stats TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS records (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		project TEXT,
		repo TEXT,
		commit_sha TEXT NOT NULL,
		parent_sha TEXT,
		commit_time TEXT NOT NULL,
		author TEXT,
		author_email TEXT,
		message TEXT,
		file_path TEXT NOT NULL,
		files_changed INTEGER,
		insertions INTEGER,
		deletions INTEGER,
		file_insertions INTEGER,
		file_deletions INTEGER,
		hunks_count INTEGER,
		issue_id TEXT,
		is_bugfix INTEGER,
		patch_text TEXT,
		severity_label TEXT,
		severity_confidence REAL,
		severity_reasons TEXT,
		file_age_days INTEGER,
		churn INTEGER,
		recent_severe INTEGER,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_repo ON runs(repo, created_at);
	CREATE INDEX IF NOT EXISTS idx_records_file ON records(run_id, file_path);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun stores records under a new run and returns it with its generated ID.
// The window sizes are taken from the first record.
func (s *SQLiteStore) SaveRun(ctx context.Context, project, repo string, records []record.CommitFileRecord, stats any) (*Run, error) {
	run := &Run{
		ID:          uuid.New().String(),
		Project:     project,
		Repo:        repo,
		CreatedAt:   time.Now().UTC(),
		RecordCount: len(records),
		Stats:       json.RawMessage("{}"),
	}
	if len(records) > 0 {
		run.ChurnWindowDays = records[0].ChurnWindowDays
		run.SevereWindowDays = records[0].SevereWindowDays
	}
	if stats != nil {
		raw, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("encode run stats: %w", err)
		}
		run.Stats = raw
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO runs (id, project, repo, created_at, churn_window_days, severe_window_days, record_count, stats)
		VALUES (:id, :project, :repo, :created_at, :churn_window_days, :severe_window_days, :record_count, :stats)
	`, runRow{
		ID:               run.ID,
		Project:          run.Project,
		Repo:             run.Repo,
		CreatedAt:        run.CreatedAt.Format(timeLayout),
		ChurnWindowDays:  run.ChurnWindowDays,
		SevereWindowDays: run.SevereWindowDays,
		RecordCount:      run.RecordCount,
		Stats:            string(run.Stats),
	})
	if err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	query := `
		INSERT INTO records
		(run_id, seq, project, repo, commit_sha, parent_sha, commit_time, author, author_email,
		 message, file_path, files_changed, insertions, deletions, file_insertions, file_deletions,
		 hunks_count, issue_id, is_bugfix, patch_text, severity_label, severity_confidence,
		 severity_reasons, file_age_days, churn, recent_severe)
		VALUES
		(:run_id, :seq, :project, :repo, :commit_sha, :parent_sha, :commit_time, :author, :author_email,
		 :message, :file_path, :files_changed, :insertions, :deletions, :file_insertions, :file_deletions,
		 :hunks_count, :issue_id, :is_bugfix, :patch_text, :severity_label, :severity_confidence,
		 :severity_reasons, :file_age_days, :churn, :recent_severe)
	`
	for i := range records {
		row, err := toRow(run.ID, i, &records[i])
		if err != nil {
			return nil, err
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return nil, fmt.Errorf("save record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit run: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"run":     run.ID,
		"repo":    repo,
		"records": len(records),
	}).Info("Stored feature table")

	return run, nil
}

// GetRun returns run metadata.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromRunRow(row)
}

// LatestRun returns the most recent run for repo, or of any repo when repo
// is empty.
func (s *SQLiteStore) LatestRun(ctx context.Context, repo string) (*Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM runs WHERE ? = '' OR repo = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, repo, repo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromRunRow(row)
}

// ListRuns returns all runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*Run, error) {
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM runs ORDER BY created_at DESC, rowid DESC`); err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(rows))
	for _, row := range rows {
		run, err := fromRunRow(row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// LoadRun returns the records of a run in their stored order.
func (s *SQLiteStore) LoadRun(ctx context.Context, id string) ([]record.CommitFileRecord, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	var rows []recordRow
	err = s.db.SelectContext(ctx, &rows, `SELECT * FROM records WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	records := make([]record.CommitFileRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row, run)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", row.Seq, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteRun removes a run and its records.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func toRow(runID string, seq int, r *record.CommitFileRecord) (recordRow, error) {
	reasons, err := json.Marshal(r.Reasons)
	if err != nil {
		return recordRow{}, fmt.Errorf("encode reasons: %w", err)
	}

	row := recordRow{
		RunID:          runID,
		Seq:            seq,
		Project:        r.Project,
		Repo:           r.Repo,
		CommitSHA:      r.CommitSHA,
		ParentSHA:      r.ParentSHA,
		CommitTime:     r.CommitTime.UTC().Format(timeLayout),
		Author:         r.Author,
		AuthorEmail:    r.AuthorEmail,
		Message:        r.Message,
		FilePath:       r.FilePath,
		FilesChanged:   r.FilesChanged,
		Insertions:     r.Insertions,
		Deletions:      r.Deletions,
		FileInsertions: r.FileInsertions,
		FileDeletions:  r.FileDeletions,
		HunksCount:     r.HunksCount,
		IsBugfix:       r.IsBugfix,
		PatchText:      r.PatchText,
		Label:          string(r.Label),
		Confidence:     r.Confidence,
		Reasons:        string(reasons),
		FileAgeDays:    r.FileAgeDays,
		Churn:          r.Churn,
		RecentSevere:   r.RecentSevere,
	}
	if r.IssueID != nil {
		row.IssueID = sql.NullString{String: *r.IssueID, Valid: true}
	}
	return row, nil
}

func fromRow(row recordRow, run *Run) (record.CommitFileRecord, error) {
	t, err := time.Parse(timeLayout, row.CommitTime)
	if err != nil {
		return record.CommitFileRecord{}, fmt.Errorf("parse commit time: %w", err)
	}

	rec := record.CommitFileRecord{
		Project:        row.Project,
		Repo:           row.Repo,
		CommitSHA:      row.CommitSHA,
		ParentSHA:      row.ParentSHA,
		CommitTime:     t,
		Author:         row.Author,
		AuthorEmail:    row.AuthorEmail,
		Message:        row.Message,
		FilePath:       row.FilePath,
		FilesChanged:   row.FilesChanged,
		Insertions:     row.Insertions,
		Deletions:      row.Deletions,
		FileInsertions: row.FileInsertions,
		FileDeletions:  row.FileDeletions,
		HunksCount:     row.HunksCount,
		IsBugfix:       row.IsBugfix,
		PatchText:      row.PatchText,
	}
	if row.IssueID.Valid {
		id := row.IssueID.String
		rec.IssueID = &id
	}
	rec.Label = record.Severity(row.Label)
	rec.Confidence = row.Confidence
	if err := json.Unmarshal([]byte(row.Reasons), &rec.Reasons); err != nil {
		return rec, fmt.Errorf("decode reasons: %w", err)
	}
	rec.TemporalFeatures = record.TemporalFeatures{
		FileAgeDays:      row.FileAgeDays,
		Churn:            row.Churn,
		ChurnWindowDays:  run.ChurnWindowDays,
		RecentSevere:     row.RecentSevere,
		SevereWindowDays: run.SevereWindowDays,
	}
	return rec, nil
}

func fromRunRow(row runRow) (*Run, error) {
	created, err := time.Parse(timeLayout, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse run time: %w", err)
	}
	return &Run{
		ID:               row.ID,
		Project:          row.Project,
		Repo:             row.Repo,
		CreatedAt:        created,
		ChurnWindowDays:  row.ChurnWindowDays,
		SevereWindowDays: row.SevereWindowDays,
		RecordCount:      row.RecordCount,
		Stats:            json.RawMessage(row.Stats),
	}, nil
}

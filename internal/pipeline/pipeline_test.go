package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Yates-Labs/sevmine/internal/config"
	"github.com/Yates-Labs/sevmine/internal/extract"
	"github.com/Yates-Labs/sevmine/internal/ingest/git/gittest"
	"github.com/Yates-Labs/sevmine/internal/record"
	"github.com/Yates-Labs/sevmine/internal/store"
	"github.com/Yates-Labs/sevmine/internal/table"
)

// fixtureRepo builds a history where a.py changes at days 0, 10 and 70.
func fixtureRepo(t *testing.T) *gittest.Repo {
	t.Helper()

	fx := gittest.New(t)
	fx.Commit("initial import", gittest.Day(0), map[string]*string{
		"a.py":      gittest.Text(gittest.Lines("a", 10)),
		"README.md": gittest.Text("# demo\n"),
	})
	fx.Commit("Fix crash in a.py #7", gittest.Day(10), map[string]*string{
		"a.py": gittest.Text(gittest.Lines("a", 9) + "patched\n"),
	})
	fx.Commit("Merge branch 'feature'", gittest.Day(40), map[string]*string{
		"b.py": gittest.Text("b\n"),
	})
	fx.Commit("Refactor a.py helpers", gittest.Day(70), map[string]*string{
		"a.py": gittest.Text(gittest.Lines("a", 9) + "patched\nhelper\n"),
	})
	fx.RenameHead("main")
	return fx
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Repository.Path = dir
	cfg.Repository.Name = "demo"
	cfg.Output.Path = ""
	return cfg
}

func TestBuild(t *testing.T) {
	fx := fixtureRepo(t)
	cfg := testConfig(fx.Dir)

	var events []extract.Progress
	res, err := BuildWithOptions(context.Background(), cfg, nil, Options{
		Progress: func(p extract.Progress) { events = append(events, p) },
	})
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}

	if len(events) != 4 {
		t.Errorf("Expected 4 progress events, got %d", len(events))
	}
	if res.Stats.Rejections[extract.ReasonMergeCommit] != 1 {
		t.Errorf("Expected 1 merge rejection, got %v", res.Stats.Rejections)
	}
	if res.Project != "demo" {
		t.Errorf("Expected project demo, got %s", res.Project)
	}

	// initial import has 2 files, the two later a.py commits 1 each
	if len(res.Records) != 4 {
		t.Fatalf("Expected 4 records, got %d", len(res.Records))
	}
	for i := 1; i < len(res.Records); i++ {
		if res.Records[i].CommitTime.Before(res.Records[i-1].CommitTime) {
			t.Fatalf("Records are not chronological at %d", i)
		}
	}

	var history []record.CommitFileRecord
	for _, r := range res.Records {
		if r.FilePath == "a.py" {
			history = append(history, r)
		}
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 records for a.py, got %d", len(history))
	}

	last := history[2]
	if last.Churn != 1 {
		t.Errorf("Expected churn_60d 1 at day 70, got %d", last.Churn)
	}
	if last.FileAgeDays != 70 {
		t.Errorf("Expected file age 70 at day 70, got %d", last.FileAgeDays)
	}
	if last.ChurnColumn() != "churn_60d" {
		t.Errorf("Unexpected churn column %s", last.ChurnColumn())
	}

	fix := history[1]
	if fix.Label != record.SeverityHigh {
		t.Errorf("Expected crash fix to be high, got %s (%v)", fix.Label, fix.Reasons)
	}
	if fix.Issue() != "7" || !fix.IsBugfix {
		t.Errorf("Expected bugfix with issue 7, got %q bugfix=%v", fix.Issue(), fix.IsBugfix)
	}
	if fix.HunksCount != 1 {
		t.Errorf("Expected 1 hunk for the fix, got %d", fix.HunksCount)
	}
	if last.RecentSevere != 0 {
		t.Errorf("Expected no severe records within 30 days of day 70, got %d", last.RecentSevere)
	}

	total := 0
	for _, n := range res.Labels {
		total += n
	}
	if total != len(res.Records) {
		t.Errorf("Label counts %v do not cover %d records", res.Labels, len(res.Records))
	}
}

func TestBuildPersist(t *testing.T) {
	fx := fixtureRepo(t)
	dir := t.TempDir()

	cfg := testConfig(fx.Dir)
	cfg.Output.Path = filepath.Join(dir, "out", "features.csv")
	cfg.Output.Format = ""
	cfg.Output.SQLitePath = filepath.Join(dir, "runs.db")
	cfg.Output.CachePath = filepath.Join(dir, "cache.db")

	ctx := context.Background()
	res, err := Build(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}
	if res.CacheHits != 0 {
		t.Errorf("Expected a cold cache, got %d hits", res.CacheHits)
	}

	runID, err := Persist(ctx, cfg, res, nil)
	if err != nil {
		t.Fatalf("Failed to persist: %v", err)
	}
	if runID == "" {
		t.Fatal("Expected a run id")
	}

	written, err := table.ReadFile(cfg.Output.Path)
	if err != nil {
		t.Fatalf("Failed to read table: %v", err)
	}
	if len(written) != len(res.Records) {
		t.Errorf("Expected %d rows in CSV, got %d", len(res.Records), len(written))
	}

	db, err := store.NewSQLiteStore(cfg.Output.SQLitePath, nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()
	stored, err := db.LoadRun(ctx, runID)
	if err != nil {
		t.Fatalf("Failed to load run: %v", err)
	}
	if len(stored) != len(res.Records) {
		t.Errorf("Expected %d stored records, got %d", len(res.Records), len(stored))
	}

	// second build is served from the commit cache
	again, err := Build(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to rebuild: %v", err)
	}
	if again.CacheHits != 4 {
		t.Errorf("Expected 4 cache hits, got %d", again.CacheHits)
	}
	if len(again.Records) != len(res.Records) {
		t.Errorf("Cached build produced %d records, want %d", len(again.Records), len(res.Records))
	}
}

func TestBuild_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, testConfig(fixtureRepo(t).Dir), nil)
	if err == nil {
		t.Error("Expected error when context is cancelled")
	}
}

func TestBuild_InvalidRepo(t *testing.T) {
	_, err := Build(context.Background(), testConfig("/path/that/does/not/exist"), nil)
	if err == nil {
		t.Error("Expected error for non-existent repository")
	}
}

func TestBuild_MissingBranch(t *testing.T) {
	cfg := testConfig(fixtureRepo(t).Dir)
	cfg.Extraction.Branches = []string{"release"}

	_, err := Build(context.Background(), cfg, nil)
	if err == nil {
		t.Error("Expected error for unresolvable branch")
	}
}

func TestRepoIdentity(t *testing.T) {
	tests := []struct {
		source, remote, name string
		wantProj, wantRep    string
	}{
		{"https://github.com/saltstack/salt.git", "", "", "salt", "saltstack/salt"},
		{"git@github.com:saltstack/salt.git", "", "salt-ml", "salt-ml", "saltstack/salt"},
		{"/home/dev/src/salt/", "", "", "salt", "salt"},
		{"/home/dev/src/salt", "git@github.com:saltstack/salt.git", "", "salt", "saltstack/salt"},
		{"/home/dev/src/salt", "https://git.internal/salt.git", "", "salt", "salt"},
		{"salt", "", "", "salt", "salt"},
	}

	for _, tt := range tests {
		proj, repo := repoIdentity(tt.source, tt.remote, tt.name)
		if proj != tt.wantProj || repo != tt.wantRep {
			t.Errorf("repoIdentity(%q, %q, %q) = %q, %q; want %q, %q",
				tt.source, tt.remote, tt.name, proj, repo, tt.wantProj, tt.wantRep)
		}
	}
}

func TestBuild_RepoSlugFromOrigin(t *testing.T) {
	fx := fixtureRepo(t)
	fx.AddRemote("origin", "https://github.com/saltstack/salt.git")

	res, err := Build(context.Background(), testConfig(fx.Dir), nil)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}
	if res.Repo != "saltstack/salt" {
		t.Errorf("Expected repo slug saltstack/salt, got %s", res.Repo)
	}
	if res.Records[0].Repo != "saltstack/salt" {
		t.Errorf("Expected rows tagged saltstack/salt, got %s", res.Records[0].Repo)
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ingestor/internal/oracle"
	"ingestor/internal/schema"
	"ingestor/internal/storage"
)

// fakeRepo is an in-memory storage.Repository for pipeline tests.
type fakeRepo struct {
	mu       sync.Mutex
	created  map[string]schema.TableSchema
	dropped  []string
	copied   map[string]int
	analyses []storage.AnalysisRecord

	createErr error

	// onCopy, when set, runs before each CopyRows call.
	onCopy func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		created: make(map[string]schema.TableSchema),
		copied:  make(map[string]int),
	}
}

func (f *fakeRepo) Close() {}

func (f *fakeRepo) CreateTable(_ context.Context, table string, s schema.TableSchema) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[table] = s
	return nil
}

func (f *fakeRepo) DropTable(_ context.Context, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, table)
	return nil
}

func (f *fakeRepo) AlterColumnType(context.Context, string, string, schema.ColumnType) error {
	return nil
}

func (f *fakeRepo) CopyRows(_ context.Context, table string, _ []string, rows [][]any) (int64, error) {
	if f.onCopy != nil {
		f.onCopy()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copied[table] += len(rows)
	return int64(len(rows)), nil
}

func (f *fakeRepo) InsertRows(_ context.Context, table string, cols []string, rows [][]any) (int64, error) {
	return f.CopyRows(context.Background(), table, cols, rows)
}

func (f *fakeRepo) ProbeRows(context.Context, string, []string, [][]any) (storage.Diagnostic, bool, error) {
	return storage.Diagnostic{}, false, nil
}

func (f *fakeRepo) Diagnose(error) (storage.Diagnostic, bool) {
	return storage.Diagnostic{}, false
}

func (f *fakeRepo) SaveAnalysis(_ context.Context, rec storage.AnalysisRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses = append(f.analyses, rec)
	return nil
}

func (f *fakeRepo) droppedTables() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dropped...)
}

// fakeModel serves a canned schema response for every inference request.
type fakeModel struct {
	response string
	err      error
}

func (f *fakeModel) Complete(context.Context, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

const peopleSchemaResponse = `{
	"schema": {"columns": [
		{"column_name": "name", "data_type": "TEXT", "is_nullable": "YES"},
		{"column_name": "age", "data_type": "INTEGER", "is_nullable": "YES"}
	]},
	"contain_columns": {"contain_column": "YES"},
	"column_insights": {
		"name": {"description": "person name"},
		"age": {"description": "age in years"}
	}
}`

func writeUpload(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return path
}

func newTestRunner(s *Store, repo *fakeRepo, model oracle.Client) *Runner {
	return &Runner{
		Store:  s,
		Repo:   repo,
		Oracle: &oracle.Oracle{Client: model},
	}
}

func TestRunnerCompletesJob(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	path := writeUpload(t, "people.csv", "name,age\nalice,30\nbob,41\n")
	job := &Job{ID: "j1", Owner: "u-7", FileName: "people.csv", FilePath: path, TableName: "t_people"}
	if err := s.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := s.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	repo := newFakeRepo()
	r := newTestRunner(s, repo, &fakeModel{response: peopleSchemaResponse})
	if err := r.Run(ctx, claimed); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted || got.Progress != 100 {
		t.Fatalf("state=%s/%d, want completed/100", got.Status, got.Progress)
	}
	if got.RowsLoaded != 2 {
		t.Fatalf("rows_loaded=%d, want 2", got.RowsLoaded)
	}
	if got.Error != "" {
		t.Fatalf("unexpected error message %q", got.Error)
	}

	created, ok := repo.created["t_people"]
	if !ok {
		t.Fatalf("table t_people not created; created=%v", repo.created)
	}
	wantCols := []string{"name", "age"}
	for i, c := range created.Columns {
		if c.Name != wantCols[i] {
			t.Fatalf("column %d=%q, want %q", i, c.Name, wantCols[i])
		}
	}
	if repo.copied["t_people"] != 2 {
		t.Fatalf("copied rows=%d, want 2", repo.copied["t_people"])
	}

	if len(repo.analyses) != 1 {
		t.Fatalf("analyses=%d, want 1", len(repo.analyses))
	}
	rec := repo.analyses[0]
	if rec.JobID != "j1" || rec.Owner != "u-7" || rec.TableName != "t_people" || rec.FileName != "people.csv" {
		t.Fatalf("analysis record mismatch: %+v", rec)
	}
	var insight struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(rec.ColumnInsights["age"], &insight); err != nil || insight.Description != "age in years" {
		t.Fatalf("age insight=%s err=%v", rec.ColumnInsights["age"], err)
	}

	// The upload is removed once its rows are in the table.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("upload not removed on success: %v", err)
	}
}

func TestRunnerHeartbeatDuringLoad(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	path := writeUpload(t, "people.csv", "name,age\nalice,30\nbob,41\ncarol,52\n")
	job := &Job{ID: "j1", FileName: "people.csv", FilePath: path, TableName: "t_people"}
	if err := s.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := s.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// Backdate the row before every batch. The per-batch touch must bring
	// it back before the next batch, or the reaper would kill a live load.
	repo := newFakeRepo()
	var staleSeen bool
	repo.onCopy = func() {
		stale, err := s.StaleRunning(ctx, time.Hour)
		if err != nil {
			t.Errorf("StaleRunning: %v", err)
		}
		if len(stale) != 0 {
			staleSeen = true
		}
		backdate(t, s, "j1", -2*time.Hour)
	}

	r := newTestRunner(s, repo, &fakeModel{response: peopleSchemaResponse})
	r.BatchSize = 1
	if err := r.Run(ctx, claimed); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if staleSeen {
		t.Fatal("running job looked stale between batches")
	}
}

func TestRunnerFailureCleansUp(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	path := writeUpload(t, "people.csv", "name,age\nalice,30\n")
	job := &Job{ID: "j1", FileName: "people.csv", FilePath: path, TableName: "t_people"}
	if err := s.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := s.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	repo := newFakeRepo()
	r := newTestRunner(s, repo, &fakeModel{err: errors.New("model unavailable")})
	if err := r.Run(ctx, claimed); err == nil {
		t.Fatalf("Run succeeded, want error")
	}

	got, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("status=%s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Fatalf("failed job carries no error message")
	}

	if dropped := repo.droppedTables(); len(dropped) != 1 || dropped[0] != "t_people" {
		t.Fatalf("dropped=%v, want [t_people]", dropped)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("upload not removed after failure: %v", err)
	}
}

func TestRunnerUnreadableFileFails(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	job := &Job{ID: "j1", FileName: "gone.csv", FilePath: filepath.Join(t.TempDir(), "gone.csv"), TableName: "t_gone"}
	if err := s.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := s.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	r := newTestRunner(s, newFakeRepo(), &fakeModel{response: peopleSchemaResponse})
	if err := r.Run(ctx, claimed); err == nil {
		t.Fatalf("Run succeeded on missing file")
	}
	got, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("status=%s, want failed", got.Status)
	}
}

func TestPoolDrainsQueue(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	ids := []string{"j1", "j2", "j3"}
	for _, id := range ids {
		path := writeUpload(t, id+".csv", "name,age\nalice,30\nbob,41\n")
		job := &Job{ID: id, FileName: id + ".csv", FilePath: path, TableName: "t_" + id}
		if err := s.Enqueue(ctx, job); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	p := &Pool{
		Store:     s,
		Runner:    newTestRunner(s, repo, &fakeModel{response: peopleSchemaResponse}),
		Workers:   2,
		PollEvery: 5 * time.Millisecond,
	}
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		allDone := true
		for _, id := range ids {
			j, err := s.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get(%s): %v", id, err)
			}
			if !j.Terminal() {
				allDone = false
			}
		}
		if allDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue not drained in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err=%v, want context.Canceled", err)
	}

	for _, id := range ids {
		j, err := s.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if j.Status != StatusCompleted {
			t.Fatalf("job %s status=%s (%s), want completed", id, j.Status, j.Error)
		}
	}
}

func TestJanitorSweep(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	repo := newFakeRepo()

	// An expired completed job: row and file go, table stays.
	donePath := writeUpload(t, "done.csv", "x\n")
	if err := s.Enqueue(ctx, &Job{ID: "done", FileName: "done.csv", FilePath: donePath, TableName: "t_done"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.MarkCompleted(ctx, "done", 1, "[]"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	backdate(t, s, "done", -2*time.Hour)

	// A stale running job: reaped as failed, table dropped, file removed.
	stalePath := writeUpload(t, "stale.csv", "x\n")
	if err := s.Enqueue(ctx, &Job{ID: "stale", FileName: "stale.csv", FilePath: stalePath, TableName: "t_stale"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := s.Claim(ctx); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	backdate(t, s, "stale", -2*time.Hour)

	j := &Janitor{Store: s, Repo: repo}
	j.Sweep(ctx)

	if _, err := s.Get(ctx, "done"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired completed job not purged: %v", err)
	}
	if _, err := os.Stat(donePath); !os.IsNotExist(err) {
		t.Fatalf("completed upload not removed: %v", err)
	}

	staleJob, err := s.Get(ctx, "stale")
	if err != nil {
		t.Fatalf("Get(stale): %v", err)
	}
	if staleJob.Status != StatusFailed {
		t.Fatalf("stale job status=%s, want failed", staleJob.Status)
	}
	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Fatalf("stale upload not removed: %v", err)
	}

	dropped := repo.droppedTables()
	if len(dropped) != 1 || dropped[0] != "t_stale" {
		t.Fatalf("dropped=%v, want [t_stale]", dropped)
	}
}

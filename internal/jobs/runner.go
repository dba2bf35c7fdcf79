package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"ingestor/internal/coerce"
	"ingestor/internal/loader"
	"ingestor/internal/metrics"
	"ingestor/internal/oracle"
	"ingestor/internal/sampler"
	"ingestor/internal/storage"
)

// Progress milestones reported while a job runs. Loading reports 90 when the
// whole file is in; completion sets 100.
const (
	progressSampled  = 10
	progressInferred = 50
	progressCreated  = 70
	progressLoaded   = 90
)

// Logger is the minimal logging seam.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Runner drives one claimed job through the full pipeline: sample the file,
// infer a schema, provision the table, load with corrections, persist the
// analysis.
type Runner struct {
	Store  *Store
	Repo   storage.Repository
	Oracle *oracle.Oracle

	// Sampler caps how many rows feed inference. Nil means defaults.
	Sampler *sampler.Sampler

	// BatchSize and MaxCorrections configure the loader. Zero means the
	// loader's defaults.
	BatchSize      int
	MaxCorrections int

	// Location resolves zoneless timestamps during coercion. Nil means UTC.
	Location *time.Location

	Log Logger
}

func (r *Runner) log() Logger {
	if r.Log != nil {
		return r.Log
	}
	return nopLogger{}
}

func (r *Runner) sampler() *sampler.Sampler {
	if r.Sampler != nil {
		return r.Sampler
	}
	return &sampler.Sampler{}
}

// Run executes one claimed job to a terminal state. The returned error is
// for logging only: by the time Run returns, the job row already reflects
// the outcome.
func (r *Runner) Run(ctx context.Context, job *Job) error {
	start := time.Now()

	res, err := r.run(ctx, job)
	format := job.Format
	if format == "" {
		format = "unknown"
	}

	if err != nil {
		r.log().Printf("job %s failed: %v", job.ID, err)
		if mErr := r.Store.MarkFailed(ctx, job.ID, err.Error()); mErr != nil {
			r.log().Printf("job %s: mark failed: %v", job.ID, mErr)
		}
		r.cleanupFailed(ctx, job)

		metrics.IncCounter(metrics.MetricJobsTotal, 1, metrics.Labels{"status": "failed", "format": format})
		metrics.ObserveHistogram(metrics.MetricJobDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"status": "failed", "format": format})
		return err
	}

	correctionsJSON, jErr := json.Marshal(res.Corrections)
	if jErr != nil {
		correctionsJSON = []byte("[]")
	}
	if err := r.Store.MarkCompleted(ctx, job.ID, res.Rows, string(correctionsJSON)); err != nil {
		r.log().Printf("job %s: mark completed: %v", job.ID, err)
		return err
	}
	r.log().Printf("job %s completed: table=%s rows=%d corrections=%d",
		job.ID, job.TableName, res.Rows, len(res.Corrections))

	metrics.IncCounter(metrics.MetricJobsTotal, 1, metrics.Labels{"status": "completed", "format": format})
	metrics.IncCounter(metrics.MetricRowsTotal, float64(res.Rows), metrics.Labels{"format": format})
	for _, c := range res.Corrections {
		metrics.IncCounter(metrics.MetricCorrectionsTotal, 1, metrics.Labels{"to": string(c.To)})
	}
	metrics.ObserveHistogram(metrics.MetricJobDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"status": "completed", "format": format})
	return nil
}

func (r *Runner) run(ctx context.Context, job *Job) (loader.Result, error) {
	var zero loader.Result

	sample, err := r.sampler().SampleFile(job.FilePath)
	if err != nil {
		return zero, fmt.Errorf("sample %s: %w", job.FileName, err)
	}
	job.Format = string(sample.Format)
	r.setProgress(ctx, job.ID, progressSampled)

	inferred, err := r.Oracle.InferSchema(ctx, job.TableName, sample)
	if err != nil {
		return zero, fmt.Errorf("infer schema: %w", err)
	}
	r.setProgress(ctx, job.ID, progressInferred)

	if err := r.Repo.CreateTable(ctx, job.TableName, inferred.Schema); err != nil {
		return zero, fmt.Errorf("create table %s: %w", job.TableName, err)
	}
	r.setProgress(ctx, job.ID, progressCreated)

	ld := &loader.Loader{
		Repo:           r.Repo,
		BatchSize:      r.BatchSize,
		MaxCorrections: r.MaxCorrections,
		Coercer:        &coerce.Coercer{Location: r.Location},
		// Each landed batch refreshes the job row so the stale reaper
		// leaves a long-running load alone.
		OnBatch: func(int64) {
			if err := r.Store.Touch(ctx, job.ID); err != nil {
				r.log().Printf("job %s: touch: %v", job.ID, err)
			}
		},
		Log: r.log(),
	}
	res, err := ld.Load(ctx, job.TableName, inferred.Schema, job.FilePath, sample.Format, sample.HasHeader)
	if err != nil {
		return zero, fmt.Errorf("load %s: %w", job.FileName, err)
	}
	r.setProgress(ctx, job.ID, progressLoaded)

	rec := storage.AnalysisRecord{
		JobID:          job.ID,
		Owner:          job.Owner,
		TableName:      job.TableName,
		FileName:       job.FileName,
		Schema:         res.Schema,
		ColumnInsights: inferred.Insights,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.Repo.SaveAnalysis(ctx, rec); err != nil {
		return zero, fmt.Errorf("save analysis: %w", err)
	}

	// The upload served its purpose; the data lives in the table now.
	if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
		r.log().Printf("job %s: remove upload: %v", job.ID, err)
	}
	return res, nil
}

func (r *Runner) setProgress(ctx context.Context, id string, pct int) {
	if err := r.Store.SetProgress(ctx, id, pct); err != nil {
		r.log().Printf("job %s: set progress %d: %v", id, pct, err)
	}
}

// cleanupFailed removes the partial table and the upload. Best effort: the
// job row already records the failure, and DROP IF EXISTS is idempotent.
func (r *Runner) cleanupFailed(ctx context.Context, job *Job) {
	if err := r.Repo.DropTable(ctx, job.TableName); err != nil {
		r.log().Printf("job %s: drop table %s: %v", job.ID, job.TableName, err)
	}
	if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
		r.log().Printf("job %s: remove upload: %v", job.ID, err)
	}
}

package jobs

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"ingestor/internal/storage"
)

// Retention defaults. Completed jobs go quickly since their data already
// lives in the destination table; failed jobs stay longer for debugging.
const (
	DefaultCompletedTTL = time.Hour
	DefaultFailedTTL    = 24 * time.Hour
	DefaultStaleAfter   = time.Hour
)

// Janitor periodically removes expired job rows, their uploaded files, and
// tables left behind by failures. It also reaps running jobs orphaned by a
// crash so they do not sit at "running" forever.
type Janitor struct {
	Store *Store
	Repo  storage.Repository

	// CompletedTTL and FailedTTL are the retention windows per terminal
	// status. Zero means the defaults.
	CompletedTTL time.Duration
	FailedTTL    time.Duration

	// StaleAfter is how long a running job may go without an update
	// before it is presumed orphaned. Zero means DefaultStaleAfter.
	StaleAfter time.Duration

	Log Logger

	cr *cron.Cron
}

func (j *Janitor) completedTTL() time.Duration {
	if j.CompletedTTL > 0 {
		return j.CompletedTTL
	}
	return DefaultCompletedTTL
}

func (j *Janitor) failedTTL() time.Duration {
	if j.FailedTTL > 0 {
		return j.FailedTTL
	}
	return DefaultFailedTTL
}

func (j *Janitor) staleAfter() time.Duration {
	if j.StaleAfter > 0 {
		return j.StaleAfter
	}
	return DefaultStaleAfter
}

func (j *Janitor) log() Logger {
	if j.Log != nil {
		return j.Log
	}
	return nopLogger{}
}

// Start schedules sweeps every 10 minutes and runs one immediately to clear
// backlog from before the restart.
func (j *Janitor) Start(ctx context.Context) error {
	j.cr = cron.New()
	if _, err := j.cr.AddFunc("@every 10m", func() { j.Sweep(ctx) }); err != nil {
		return err
	}
	j.cr.Start()
	go j.Sweep(ctx)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cr == nil {
		return
	}
	<-j.cr.Stop().Done()
}

// Sweep runs one cleanup pass. Exported so one-shot commands can clean up
// without the scheduler.
func (j *Janitor) Sweep(ctx context.Context) {
	j.reapStale(ctx)
	j.purge(ctx, StatusCompleted, j.completedTTL())
	j.purge(ctx, StatusFailed, j.failedTTL())
}

func (j *Janitor) purge(ctx context.Context, status Status, ttl time.Duration) {
	victims, err := j.Store.PurgeTerminal(ctx, status, ttl)
	if err != nil {
		j.log().Printf("janitor: purge %s: %v", status, err)
		return
	}
	for _, job := range victims {
		j.removeFile(job)
		// Failed jobs had their table dropped at failure time, but a
		// crash between MarkFailed and the drop can leak one.
		if status == StatusFailed {
			if err := j.Repo.DropTable(ctx, job.TableName); err != nil {
				j.log().Printf("janitor: drop table %s: %v", job.TableName, err)
			}
		}
	}
	if len(victims) > 0 {
		j.log().Printf("janitor: purged %d %s job(s)", len(victims), status)
	}
}

// reapStale fails running jobs whose worker is gone. Their partial table and
// upload are removed the same way a normal failure cleans up.
func (j *Janitor) reapStale(ctx context.Context) {
	stale, err := j.Store.StaleRunning(ctx, j.staleAfter())
	if err != nil {
		j.log().Printf("janitor: list stale: %v", err)
		return
	}
	for _, job := range stale {
		j.log().Printf("janitor: reaping stale job %s (table=%s)", job.ID, job.TableName)
		if err := j.Store.MarkFailed(ctx, job.ID, "worker lost: no progress within retention window"); err != nil {
			j.log().Printf("janitor: mark failed %s: %v", job.ID, err)
			continue
		}
		if err := j.Repo.DropTable(ctx, job.TableName); err != nil {
			j.log().Printf("janitor: drop table %s: %v", job.TableName, err)
		}
		j.removeFile(job)
	}
}

func (j *Janitor) removeFile(job Job) {
	if job.FilePath == "" {
		return
	}
	if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
		j.log().Printf("janitor: remove %s: %v", job.FilePath, err)
	}
}

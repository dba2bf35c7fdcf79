// Package jobs provides the durable ingestion queue and the workers that
// drive uploads through sampling, inference, provisioning, and loading.
//
// Queue state lives in SQLite so queued and running work survives a process
// restart. Workers claim jobs with a compare-and-set status update, which
// keeps a multi-worker pool from double-processing without any broker.
package jobs

import "time"

// Status is the lifecycle state of an ingestion job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one file ingestion.
type Job struct {
	ID        string `json:"id"`
	Owner     string `json:"owner,omitempty"`
	FileName  string `json:"file_name"`
	FilePath  string `json:"-"`
	Format    string `json:"format"`
	TableName string `json:"table_name"`

	Status   Status `json:"status"`
	Progress int    `json:"progress"`

	RowsLoaded  int64  `json:"rows_loaded"`
	Corrections string `json:"-"` // JSON array of applied widenings
	Error       string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

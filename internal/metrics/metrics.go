// Package metrics is the minimal instrumentation seam for the ingestion
// pipeline. Core code depends only on Backend; concrete exporters live in
// subpackages and are installed at startup with SetBackend. The default
// backend drops everything, so instrumentation is free when unconfigured.
package metrics

import "sync"

// Labels tags a single observation.
type Labels map[string]string

// Backend receives observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Metric names emitted by the pipeline.
const (
	MetricJobsTotal           = "ingest_jobs_total"            // labels: status
	MetricRowsTotal           = "ingest_rows_total"            // labels: format
	MetricCorrectionsTotal    = "ingest_corrections_total"     // labels: to
	MetricJobDurationSeconds  = "ingest_job_duration_seconds"  // labels: status
	MetricOracleRequestsTotal = "ingest_oracle_requests_total" // labels: status
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Pass nil to restore the
// no-op default.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

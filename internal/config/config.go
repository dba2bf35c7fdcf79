// Package config parses and validates the service configuration file.
//
// Configuration is a single JSON document. Validation reports every problem
// at once as a list of issues instead of failing on the first, so an operator
// can fix a config in one pass. Secrets never live in the file: the oracle
// API key is named by environment variable and resolved at startup.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"ingestor/internal/storage"
)

// Config is the root of the service configuration.
type Config struct {
	Server  Server         `json:"server"`
	Storage storage.Config `json:"storage"`
	Oracle  Oracle         `json:"oracle"`
	Queue   Queue          `json:"queue"`
	Uploads Uploads        `json:"uploads"`
	Workers Workers        `json:"workers"`

	Retention Retention `json:"retention"`
	Metrics   Metrics   `json:"metrics"`

	// Timezone resolves zoneless timestamps in ingested files. Empty means
	// UTC.
	Timezone string `json:"timezone"`
}

// Server configures the HTTP API.
type Server struct {
	Addr string `json:"addr"`
}

// Oracle configures the schema inference model endpoint.
type Oracle struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	// Empty means ORACLE_API_KEY.
	APIKeyEnv string `json:"api_key_env"`

	TimeoutSeconds int `json:"timeout_seconds"`
	MaxAttempts    int `json:"max_attempts"`

	// BatchSize caps columns per inference request for very wide files.
	BatchSize int `json:"batch_size"`
}

// Queue configures the durable job queue.
type Queue struct {
	// Path is the SQLite database file. ":memory:" is allowed but loses
	// queued work on restart.
	Path string `json:"path"`
}

// Uploads configures received file storage.
type Uploads struct {
	Dir       string `json:"dir"`
	MaxSizeMB int    `json:"max_size_mb"`
}

// Workers configures the ingestion worker pool.
type Workers struct {
	Count          int `json:"count"`
	BatchSize      int `json:"batch_size"`
	MaxCorrections int `json:"max_corrections"`
	PollMillis     int `json:"poll_millis"`
}

// Retention configures terminal-job cleanup windows, in hours.
type Retention struct {
	CompletedHours int `json:"completed_hours"`
	FailedHours    int `json:"failed_hours"`
	StaleHours     int `json:"stale_hours"`
}

// Metrics configures the optional Datadog backend.
type Metrics struct {
	Enabled      bool   `json:"enabled"`
	Service      string `json:"service"`
	Tags         string `json:"tags"` // comma-separated key:value pairs
	FlushSeconds int    `json:"flush_seconds"`
}

// Severity grades a validation issue.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Issue is one validation finding, addressed by JSON path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// Load reads and parses a config file. Unknown fields are rejected so typos
// surface as parse errors instead of silently ignored settings.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse parses raw JSON config bytes and applies defaults.
func Parse(raw []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = "postgres"
	}
	if c.Oracle.APIKeyEnv == "" {
		c.Oracle.APIKeyEnv = "ORACLE_API_KEY"
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		c.Oracle.TimeoutSeconds = 60
	}
	if c.Queue.Path == "" {
		c.Queue.Path = "ingest_jobs.db"
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "uploads"
	}
	if c.Uploads.MaxSizeMB <= 0 {
		c.Uploads.MaxSizeMB = 512
	}
	if c.Workers.Count <= 0 {
		c.Workers.Count = 2
	}
	if c.Retention.CompletedHours <= 0 {
		c.Retention.CompletedHours = 1
	}
	if c.Retention.FailedHours <= 0 {
		c.Retention.FailedHours = 24
	}
	if c.Retention.StaleHours <= 0 {
		c.Retention.StaleHours = 1
	}
	if c.Metrics.Service == "" {
		c.Metrics.Service = "ingestor"
	}
	if c.Metrics.FlushSeconds <= 0 {
		c.Metrics.FlushSeconds = 60
	}
}

// Validate returns all findings. The config is usable when HasErrors is
// false; warnings describe odd but workable settings.
func (c *Config) Validate() []Issue {
	var issues []Issue
	bad := func(path, msg string) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: msg})
	}
	warn := func(path, msg string) {
		issues = append(issues, Issue{Severity: SeverityWarn, Path: path, Message: msg})
	}

	if c.Storage.DSN == "" {
		bad("storage.dsn", "required")
	}
	if c.Oracle.BaseURL == "" {
		bad("oracle.base_url", "required")
	} else if !strings.HasPrefix(c.Oracle.BaseURL, "http://") && !strings.HasPrefix(c.Oracle.BaseURL, "https://") {
		bad("oracle.base_url", "must be an http(s) URL")
	}
	if c.Oracle.Model == "" {
		bad("oracle.model", "required")
	}
	if os.Getenv(c.Oracle.APIKeyEnv) == "" {
		warn("oracle.api_key_env", fmt.Sprintf("environment variable %s is not set", c.Oracle.APIKeyEnv))
	}
	if c.Oracle.BatchSize < 0 {
		bad("oracle.batch_size", "must not be negative")
	}
	if c.Queue.Path == ":memory:" {
		warn("queue.path", "in-memory queue loses queued jobs on restart")
	}
	if c.Workers.Count > 32 {
		warn("workers.count", "more than 32 workers saturates most destinations")
	}
	if c.Workers.BatchSize < 0 {
		bad("workers.batch_size", "must not be negative")
	}
	if c.Workers.MaxCorrections < 0 {
		bad("workers.max_corrections", "must not be negative")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			bad("timezone", fmt.Sprintf("unknown timezone %q", c.Timezone))
		}
	}

	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Location resolves the configured timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// APIKey resolves the oracle API key from the environment.
func (c *Config) APIKey() string {
	return os.Getenv(c.Oracle.APIKeyEnv)
}

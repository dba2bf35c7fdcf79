package storage

import (
	"encoding/json"
	"time"

	"ingestor/internal/schema"
)

// Diagnostic is a backend's classification of a load failure: which column
// broke and what type would accept the offending value.
type Diagnostic struct {
	// Column is the failing column name, empty when the engine did not
	// attribute the error to one.
	Column string

	// Code is the engine's error code (SQLSTATE for Postgres).
	Code string

	// Suggested is the type the column should widen to. Zero when the
	// error carries no type information.
	Suggested schema.ColumnType

	// Message is the engine's original error text, kept for job logs.
	Message string
}

// AnalysisRecord is the persisted outcome of schema inference for one
// ingested file.
type AnalysisRecord struct {
	JobID          string
	Owner          string
	TableName      string
	FileName       string
	Schema         schema.TableSchema
	ColumnInsights map[string]json.RawMessage
	CreatedAt      time.Time
}

// Package storage defines the destination-engine seam for provisioning and
// loading inferred tables.
//
// Backends register themselves by kind; the rest of the pipeline only sees
// the Repository interface, so the destination engine is a config choice.
package storage

import (
	"context"
	"fmt"
	"sync"

	"ingestor/internal/schema"
)

// Config selects and configures a destination backend.
type Config struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

// Repository is the destination-engine interface the loader drives.
//
// Load methods must be atomic per call: when CopyRows or InsertRows returns
// an error, none of the rows from that call may remain in the table. That is
// what makes retry-after-correction safe without dedupe bookkeeping.
type Repository interface {
	// Close releases pooled connections. Call once at shutdown.
	Close()

	// CreateTable provisions a table for the schema, create-if-not-exists.
	// Column types are advisory for nullability: no NOT NULL is emitted.
	CreateTable(ctx context.Context, table string, s schema.TableSchema) error

	// DropTable removes a table if it exists.
	DropTable(ctx context.Context, table string) error

	// AlterColumnType widens one column in place, converting existing rows.
	AlterColumnType(ctx context.Context, table, column string, t schema.ColumnType) error

	// CopyRows bulk-loads rows via the engine's fast path.
	CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// InsertRows loads rows with a single multi-row INSERT statement.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// ProbeRows replays rows one at a time inside a transaction that is
	// always rolled back, to attribute a batch failure to a column when
	// the engine's batch error did not name one. found is false when every
	// row inserts cleanly.
	ProbeRows(ctx context.Context, table string, columns []string, rows [][]any) (diag Diagnostic, found bool, err error)

	// Diagnose classifies a load error into a correction hint. ok is false
	// when the error carries no usable type information.
	Diagnose(err error) (Diagnostic, bool)

	// SaveAnalysis persists the inferred schema and column insights for a
	// completed ingestion.
	SaveAnalysis(ctx context.Context, rec AnalysisRecord) error
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend factory under a kind (e.g. "postgres").
// Registering the same kind twice panics to fail fast on ambiguous wiring.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository for the configured backend kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

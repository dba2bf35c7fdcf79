// Package postgres implements the storage.Repository seam on PostgreSQL
// using pgx.
//
// Load atomicity: CopyRows uses COPY, which Postgres aborts as a whole on
// the first bad value, and InsertRows issues one multi-row INSERT, which is
// a single statement. Either way a failed call leaves nothing behind, so
// the loader can retry the same rows after widening a column.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingestor/internal/schema"
	"ingestor/internal/storage"
)

// db is the slice of pgxpool.Pool the repository uses. Tests substitute it
// to drive repository logic without a server.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool db
}

// New creates a Postgres-backed repository and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

const countColumnsSQL = `
SELECT count(*) FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1;`

// CreateTable provisions the table, create-if-not-exists. Nullability from
// the schema is advisory and no NOT NULL is emitted: sample-derived
// nullability is too weak a signal to reject whole files over.
//
// Table names are generated unique, so a pre-existing table with a different
// shape means a naming collision; the column count check turns that silent
// IF NOT EXISTS no-op into a loud error.
func (r *Repo) CreateTable(ctx context.Context, table string, s schema.TableSchema) error {
	sql, err := buildCreateTableSQL(table, s)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", table, err)
	}

	var n int
	if err := r.pool.QueryRow(ctx, countColumnsSQL, table).Scan(&n); err != nil {
		return fmt.Errorf("postgres: verify table %s: %w", table, err)
	}
	if n != len(s.Columns) {
		return fmt.Errorf("postgres: table %s exists with %d columns, want %d", table, n, len(s.Columns))
	}
	return nil
}

// DropTable removes the table if it exists.
func (r *Repo) DropTable(ctx context.Context, table string) error {
	sql := fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, quoteIdent(table))
	if _, err := r.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("postgres: drop table %s: %w", table, err)
	}
	return nil
}

// AlterColumnType widens a column in place, converting existing rows with a
// USING cast.
func (r *Repo) AlterColumnType(ctx context.Context, table, column string, t schema.ColumnType) error {
	sql := buildAlterColumnSQL(table, column, t)
	if _, err := r.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("postgres: alter %s.%s to %s: %w", table, column, t, err)
	}
	return nil
}

// CopyRows bulk-loads rows via COPY.
func (r *Repo) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("postgres: copy into %s: %w", table, err)
	}
	return n, nil
}

// InsertRows loads rows with one multi-row INSERT.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sql, args := buildInsertSQL(table, columns, rows)
	cmd, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert into %s: %w", table, err)
	}
	return cmd.RowsAffected(), nil
}

// ProbeRows replays a failed batch row-by-row inside a transaction to find
// the first failing column. The transaction is always rolled back, so
// probing leaves no partial rows behind regardless of where the failure
// sits in the batch.
func (r *Repo) ProbeRows(ctx context.Context, table string, columns []string, rows [][]any) (storage.Diagnostic, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storage.Diagnostic{}, false, fmt.Errorf("postgres: begin probe: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, row := range rows {
		sql, args := buildInsertSQL(table, columns, [][]any{row})
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			if d, ok := r.Diagnose(err); ok {
				return d, true, nil
			}
			return storage.Diagnostic{}, false, fmt.Errorf("postgres: probe row: %w", err)
		}
	}
	return storage.Diagnostic{}, false, nil
}

const createAnalysisSQL = `
CREATE TABLE IF NOT EXISTS analysis_data (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	table_name TEXT NOT NULL,
	file_name TEXT NOT NULL,
	table_schema JSONB NOT NULL,
	column_insights JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);`

const insertAnalysisSQL = `
INSERT INTO analysis_data (job_id, owner, table_name, file_name, table_schema, column_insights, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

// SaveAnalysis persists the inferred schema and the model's column insights.
func (r *Repo) SaveAnalysis(ctx context.Context, rec storage.AnalysisRecord) error {
	if _, err := r.pool.Exec(ctx, createAnalysisSQL); err != nil {
		return fmt.Errorf("postgres: ensure analysis_data: %w", err)
	}

	schemaJSON, err := json.Marshal(rec.Schema)
	if err != nil {
		return fmt.Errorf("postgres: marshal schema: %w", err)
	}
	insights := rec.ColumnInsights
	if insights == nil {
		insights = map[string]json.RawMessage{}
	}
	insightsJSON, err := json.Marshal(insights)
	if err != nil {
		return fmt.Errorf("postgres: marshal insights: %w", err)
	}

	_, err = r.pool.Exec(ctx, insertAnalysisSQL,
		rec.JobID, rec.Owner, rec.TableName, rec.FileName, schemaJSON, insightsJSON, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save analysis for %s: %w", rec.TableName, err)
	}
	return nil
}

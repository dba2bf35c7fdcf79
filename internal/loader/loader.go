// Package loader bulk-loads upload files into provisioned tables and
// corrects the schema in place when the destination rejects a value.
//
// Rows stream through in batches. Each batch goes in via COPY; because the
// engine aborts a failed COPY as a whole, a failed batch leaves nothing
// behind and can be retried verbatim after the offending column is widened.
// Earlier batches are already committed and are never replayed, so a load
// that needs corrections still writes every row exactly once.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"ingestor/internal/coerce"
	"ingestor/internal/sampler"
	"ingestor/internal/schema"
	"ingestor/internal/storage"
)

// DefaultBatchSize is how many rows go into one COPY or INSERT statement.
const DefaultBatchSize = 1000

// DefaultMaxCorrections bounds schema corrections per load.
const DefaultMaxCorrections = 3

// Logger is the minimal logging seam.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Correction records one load-time schema widening.
type Correction struct {
	Column string            `json:"column"`
	From   schema.ColumnType `json:"from"`
	To     schema.ColumnType `json:"to"`
	Code   string            `json:"code,omitempty"`
}

// Result summarizes a completed load.
type Result struct {
	Rows        int64
	Corrections []Correction

	// Schema is the table schema after corrections.
	Schema schema.TableSchema
}

// Loader streams files into tables.
type Loader struct {
	Repo storage.Repository

	// BatchSize caps rows per statement. Zero means DefaultBatchSize.
	BatchSize int

	// MaxCorrections caps schema widenings per load. Zero means
	// DefaultMaxCorrections.
	MaxCorrections int

	// Coercer converts raw cells. Nil means a zero-value Coercer.
	Coercer *coerce.Coercer

	// OnBatch, when set, observes cumulative loaded row counts.
	OnBatch func(loaded int64)

	Log Logger
}

func (l *Loader) batchSize() int {
	if l.BatchSize > 0 {
		return l.BatchSize
	}
	return DefaultBatchSize
}

func (l *Loader) maxCorrections() int {
	if l.MaxCorrections > 0 {
		return l.MaxCorrections
	}
	return DefaultMaxCorrections
}

func (l *Loader) coercer() *coerce.Coercer {
	if l.Coercer != nil {
		return l.Coercer
	}
	return &coerce.Coercer{}
}

func (l *Loader) log() Logger {
	if l.Log != nil {
		return l.Log
	}
	return nopLogger{}
}

// Load streams path into table. sch is the provisioned schema;
// sampleHasHeader is whether sampling consumed a header row, used to decide
// whether the stream's first row must be skipped when inference detected a
// header the sampler missed.
func (l *Loader) Load(ctx context.Context, table string, sch schema.TableSchema, path string, format sampler.Format, sampleHasHeader bool) (Result, error) {
	_, rows, err := sampler.OpenRows(path, format)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	if sch.HasHeader && !sampleHasHeader {
		if _, err := rows.Next(); err != nil {
			return Result{}, fmt.Errorf("loader: skip header row: %w", err)
		}
	}

	// Corrections mutate column types; work on a copy so the caller's
	// schema stays what provisioning saw.
	own := sch
	own.Columns = append([]schema.Column(nil), sch.Columns...)

	cor := &corrector{
		repo:   l.Repo,
		table:  table,
		schema: own,
		budget: l.maxCorrections(),
		log:    l.log(),
	}

	res := Result{}
	columns := sch.ColumnNames()
	batch := make([][]any, 0, l.batchSize())

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := l.loadBatch(ctx, cor, columns, batch)
		if err != nil {
			return err
		}
		res.Rows += n
		batch = batch[:0]
		if l.OnBatch != nil {
			l.OnBatch(res.Rows)
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		raw, err := rows.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return res, fmt.Errorf("loader: read %s: %w", format, err)
		}

		row := l.coercer().Row(raw, cor.schema)
		if len(row) > len(columns) {
			row = row[:len(columns)]
		}
		batch = append(batch, row)
		if len(batch) >= l.batchSize() {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	res.Corrections = cor.applied
	res.Schema = cor.schema
	return res, nil
}

// loadBatch pushes one batch, correcting the schema and retrying the same
// batch until it lands or the correction budget runs out.
func (l *Loader) loadBatch(ctx context.Context, cor *corrector, columns []string, batch [][]any) (int64, error) {
	if err := l.widenForRange(ctx, cor, batch); err != nil {
		return 0, err
	}
	recoerced := batch
	for {
		n, copyErr := l.Repo.CopyRows(ctx, cor.table, columns, recoerced)
		if copyErr == nil {
			return n, nil
		}

		diag, ok := l.Repo.Diagnose(copyErr)
		if !ok {
			// COPY rejected the batch for reasons the classifier does not
			// recognize. A plain INSERT surfaces a fresh, sometimes
			// richer, error for the same values.
			n, insErr := l.Repo.InsertRows(ctx, cor.table, columns, recoerced)
			if insErr == nil {
				return n, nil
			}
			if diag, ok = l.Repo.Diagnose(insErr); !ok {
				return 0, fmt.Errorf("loader: load batch: %w", copyErr)
			}
		}

		if diag.Column == "" {
			probe, found, err := l.Repo.ProbeRows(ctx, cor.table, columns, recoerced)
			if err != nil {
				return 0, fmt.Errorf("loader: probe batch: %w", err)
			}
			if !found || probe.Column == "" {
				return 0, fmt.Errorf("loader: unattributable load failure: %w", copyErr)
			}
			if diag.Suggested == "" {
				diag.Suggested = probe.Suggested
			}
			diag.Column = probe.Column
		}

		if err := cor.correct(ctx, diag); err != nil {
			return 0, err
		}
		// Values were coerced for the old column type; re-coerce raw
		// strings that survived pass-through so the widened column gets
		// properly typed values.
		recoerced = l.recoerce(recoerced, cor.schema)
	}
}

// widenForRange widens INTEGER columns whose batch holds values outside the
// 32-bit range before the driver sees them. pgx encodes parameters on the
// client, where an overflow dies inside pgtype without naming a column, so
// the range check has to happen here for the correction loop to fire at all.
func (l *Loader) widenForRange(ctx context.Context, cor *corrector, batch [][]any) error {
	for i := 0; i < len(cor.schema.Columns); i++ {
		col := cor.schema.Columns[i]
		if col.Type != schema.TypeInteger {
			continue
		}
		for _, row := range batch {
			if i >= len(row) {
				continue
			}
			v, ok := row[i].(int64)
			if !ok || (v >= math.MinInt32 && v <= math.MaxInt32) {
				continue
			}
			diag := storage.Diagnostic{
				Code:      "22003",
				Column:    col.Name,
				Suggested: schema.TypeBigint,
				Message:   fmt.Sprintf("value %d is out of range for type integer", v),
			}
			if err := cor.correct(ctx, diag); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

// recoerce realigns cell values with the corrected column types: strings
// re-run coercion, and typed cells render to text when their column widened
// all the way to TEXT, where the driver would refuse to encode them.
func (l *Loader) recoerce(batch [][]any, sch schema.TableSchema) [][]any {
	out := make([][]any, len(batch))
	for i, row := range batch {
		nr := make([]any, len(row))
		copy(nr, row)
		for j := range nr {
			if j >= len(sch.Columns) || nr[j] == nil {
				continue
			}
			switch cell := nr[j].(type) {
			case string:
				nr[j] = l.coercer().Value(cell, sch.Columns[j].Type)
			default:
				if sch.Columns[j].Type == schema.TypeText {
					nr[j] = fmt.Sprint(cell)
				}
			}
		}
		out[i] = nr
	}
	return out
}

// Package oracle infers table schemas from file samples via a hosted
// language model.
//
// Wide files are split into column batches so each prompt stays within
// model limits; the per-batch schemas are merged back in column order. The
// model's raw output goes through RepairJSON before parsing, and the parsed
// result is normalized into identifiers and types the destination engine
// accepts, so a malformed or creative completion can degrade a column to
// TEXT but never abort the pipeline with an invalid schema.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ingestor/internal/sampler"
	"ingestor/internal/schema"
)

// DefaultBatchSize caps how many columns one inference prompt carries.
const DefaultBatchSize = 15

const systemPrompt = `You are a data file analysis expert. Your task is to analyse the data and generate the schema along with the column insights.

Focus on:
1. Understanding the business context and purpose of the data.
2. Providing actionable insights for each column.

IMPORTANT: Respond ONLY with valid JSON. Do not include any markdown formatting, code blocks, or additional text. The response must be parseable JSON.`

const promptGuidelines = `Schema Generation Guidelines
- Use the provided sample rows to generate a database schema.
- If column names are present in the sample rows, use them; make adjustments if necessary; correct typos or formatting issues.
- If no column names are given, infer them based on the data values.
- If a column name is NULL, rename it based on the data values of the same index in the other rows.
- STRICT: If two or more columns have the same name, change them. Never reuse a column name.
- The number of columns in the schema must equal the Number of Columns given.
- It may be that every value in the sample rows is NULL. In that case keep the column NULL-typed as TEXT.
- Preserve the original column order as shown in the sample rows.
- If the sample rows include column names, set contain_column to YES, otherwise NO.
- Assign PostgreSQL types: TEXT, INTEGER, BIGINT, NUMERIC, BOOLEAN, DATE, TIMESTAMP, TIMESTAMPTZ.
- If a column mixes date/time formats, choose the most general type that covers all values (e.g. TIMESTAMPTZ over DATE).
- STRICT: If a column has grouped digits like 17,50,000 assign TEXT, not NUMERIC.

Strictly respond ONLY in VALID JSON format.
- DO NOT include markdown
- DOUBLE-QUOTE all property names and string values
- DO NOT include comments inside JSON

Response Format:
{
  "schema": {
    "columns": [
      {"column_name": "string", "data_type": "string", "is_nullable": "YES or NO"}
    ]
  },
  "contain_columns": {"contain_column": "YES or NO"},
  "column_insights": {
    "column_name": {
      "sample_values": [],
      "purpose": "string",
      "patterns": [],
      "anomalies": [],
      "business_significance": "string"
    }
  }
}

Remember: Respond with ONLY the JSON object, no additional text or formatting.`

// Logger is the minimal logging seam.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Result is a finalized inference outcome.
type Result struct {
	Schema schema.TableSchema

	// Insights carries the model's per-column commentary, keyed by the
	// finalized column name, for persistence alongside the schema.
	Insights map[string]json.RawMessage
}

// Oracle runs schema inference over file samples.
type Oracle struct {
	Client    Client
	BatchSize int
	Log       Logger
}

func (o *Oracle) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultBatchSize
}

func (o *Oracle) log() Logger {
	if o.Log != nil {
		return o.Log
	}
	return nopLogger{}
}

type rawColumn struct {
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type"`
	IsNullable string `json:"is_nullable"`
}

type batchPayload struct {
	Schema struct {
		Columns []rawColumn `json:"columns"`
	} `json:"schema"`
	ContainColumns struct {
		ContainColumn string `json:"contain_column"`
	} `json:"contain_columns"`
	ColumnInsights map[string]json.RawMessage `json:"column_insights"`
}

// InferSchema infers the table schema for a sample. The sample must hold at
// least one row.
func (o *Oracle) InferSchema(ctx context.Context, tableName string, sample *sampler.Sample) (Result, error) {
	matrix, width := sampleMatrix(sample)
	if width == 0 {
		return Result{}, fmt.Errorf("oracle: sample for %q has no columns", tableName)
	}

	var (
		merged    []rawColumn
		insights  = make(map[string]json.RawMessage)
		hasHeader = sample.HasHeader
	)

	batches := (width + o.batchSize() - 1) / o.batchSize()
	for b := 0; b < batches; b++ {
		start := b * o.batchSize()
		end := start + o.batchSize()
		if end > width {
			end = width
		}
		o.log().Printf("oracle: inferring columns %d-%d of %d for %s (batch %d/%d)",
			start+1, end, width, tableName, b+1, batches)

		payload, err := o.inferBatch(ctx, tableName, matrix, start, end)
		if err != nil {
			return Result{}, fmt.Errorf("oracle: batch %d/%d: %w", b+1, batches, err)
		}
		merged = append(merged, payload.Schema.Columns...)
		for k, v := range payload.ColumnInsights {
			insights[k] = v
		}
		if strings.EqualFold(payload.ContainColumns.ContainColumn, "YES") {
			hasHeader = true
		}
	}

	return finalize(merged, insights, width, hasHeader)
}

func (o *Oracle) inferBatch(ctx context.Context, tableName string, matrix [][]string, start, end int) (batchPayload, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Table Name: %s\n", tableName)
	sb.WriteString("Sample Datarows:\n")
	for i, row := range matrix {
		cells := row[start:end]
		fmt.Fprintf(&sb, "row%02d: %s\n", i+1, strings.Join(cells, ", "))
	}
	fmt.Fprintf(&sb, "Number of Columns: %d\n\n", end-start)
	sb.WriteString(promptGuidelines)

	raw, err := o.Client.Complete(ctx, systemPrompt, sb.String())
	if err != nil {
		return batchPayload{}, err
	}

	doc, err := RepairJSON(raw)
	if err != nil {
		return batchPayload{}, err
	}
	var payload batchPayload
	if err := json.Unmarshal(doc, &payload); err != nil {
		return batchPayload{}, fmt.Errorf("oracle: parse schema response: %w", err)
	}
	if len(payload.Schema.Columns) == 0 {
		return batchPayload{}, fmt.Errorf("oracle: response carries no columns")
	}
	return payload, nil
}

// sampleMatrix renders the sample as prompt rows: the header row first when
// the file has one, then data rows, every cell trimmed and empty cells
// replaced by the NULL marker. All rows are padded to equal width.
func sampleMatrix(sample *sampler.Sample) ([][]string, int) {
	width := len(sample.Headers)
	for _, r := range sample.Rows {
		if len(r) > width {
			width = len(r)
		}
	}

	var matrix [][]string
	if sample.HasHeader {
		matrix = append(matrix, padRow(sample.Headers, width))
	}
	for _, r := range sample.Rows {
		matrix = append(matrix, padRow(r, width))
	}
	return matrix, width
}

func padRow(row []string, width int) []string {
	out := make([]string, width)
	for i := range out {
		v := ""
		if i < len(row) {
			v = strings.TrimSpace(row[i])
		}
		if v == "" {
			v = sampler.NullMarker
		}
		out[i] = v
	}
	return out
}

// finalize normalizes the merged model output into a valid schema: exactly
// width columns, normalized unique names, lattice types with unknowns
// degraded to TEXT, and name hints applied.
func finalize(cols []rawColumn, insights map[string]json.RawMessage, width int, hasHeader bool) (Result, error) {
	out := schema.TableSchema{HasHeader: hasHeader}
	seen := make(map[string]int, width)

	for i := 0; i < width; i++ {
		var rc rawColumn
		if i < len(cols) {
			rc = cols[i]
		}

		name := schema.NormalizeIdent(rc.ColumnName)
		if name == "" || strings.EqualFold(rc.ColumnName, sampler.NullMarker) {
			name = schema.SyntheticColumnName(i)
		}
		name = dedupeName(name, seen)

		typ, ok := schema.ParseColumnType(rc.DataType)
		if !ok {
			typ = schema.TypeText
		}

		out.Columns = append(out.Columns, schema.Column{
			Name:     name,
			Type:     typ,
			Nullable: !strings.EqualFold(rc.IsNullable, "NO"),
		})
	}

	schema.ApplyNameHints(&out)
	if err := out.Validate(); err != nil {
		return Result{}, err
	}

	// Re-key insights onto the finalized names so persistence uses the
	// identifiers the table actually has.
	keyed := make(map[string]json.RawMessage, len(insights))
	for i, c := range out.Columns {
		if i >= len(cols) {
			break
		}
		if v, ok := insights[cols[i].ColumnName]; ok {
			keyed[c.Name] = v
		}
	}
	return Result{Schema: out, Insights: keyed}, nil
}

func dedupeName(name string, seen map[string]int) string {
	if _, dup := seen[name]; !dup {
		seen[name] = 1
		return name
	}
	for {
		seen[name]++
		cand := fmt.Sprintf("%s_%d", name, seen[name])
		if len(cand) > 63 {
			cand = fmt.Sprintf("%s_%d", name[:63-len(cand)+len(name)], seen[name])
		}
		if _, dup := seen[cand]; !dup {
			seen[cand] = 1
			return cand
		}
	}
}

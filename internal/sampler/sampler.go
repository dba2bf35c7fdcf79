// Package sampler reads bounded samples and full row streams from tabular
// upload files (CSV, JSON, Excel).
//
// A Sample is what schema inference sees: at most Limit data rows, in file
// order, with empty cells replaced by the NULL marker so the inference
// prompt can distinguish "empty" from "missing". Full-file loading goes
// through OpenRows, which re-opens the file so a load retry always streams
// from the top.
package sampler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultLimit caps how many data rows a sample carries.
const DefaultLimit = 10

// NullMarker replaces empty cells in sample records.
const NullMarker = "NULL"

// Format identifies a supported upload file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatExcel   Format = "excel"
	FormatUnknown Format = ""
)

// Sample is a bounded view of an upload file.
type Sample struct {
	Format Format

	// Headers are the raw column headers in file order. For headerless CSV
	// and for JSON they are synthesized or derived from keys.
	Headers []string

	// Rows holds up to Limit data rows aligned to Headers. Cells are raw
	// strings; empty cells are empty strings here (the NULL marker is
	// applied by Records, not stored).
	Rows [][]string

	// HasHeader reports whether the first file row was consumed as header.
	HasHeader bool
}

// Records renders the sample as ordered row maps keyed "row01", "row02", ...
// with empty cells replaced by the NULL marker. This is the shape handed to
// schema inference.
func (s *Sample) Records() map[string]map[string]string {
	out := make(map[string]map[string]string, len(s.Rows))
	for i, row := range s.Rows {
		rec := make(map[string]string, len(s.Headers))
		for j, h := range s.Headers {
			v := ""
			if j < len(row) {
				v = strings.TrimSpace(row[j])
			}
			if v == "" {
				v = NullMarker
			}
			rec[h] = v
		}
		out[fmt.Sprintf("row%02d", i+1)] = rec
	}
	return out
}

// RowKeys returns the record keys in row order.
func (s *Sample) RowKeys() []string {
	keys := make([]string, 0, len(s.Rows))
	for i := range s.Rows {
		keys = append(keys, fmt.Sprintf("row%02d", i+1))
	}
	return keys
}

// Sampler reads samples from upload files.
type Sampler struct {
	// Limit caps sampled data rows. Zero means DefaultLimit.
	Limit int
}

func (s *Sampler) limit() int {
	if s.Limit > 0 {
		return s.Limit
	}
	return DefaultLimit
}

// DetectFormat decides the file format from the extension, falling back to
// content sniffing when the extension is unfamiliar.
func DetectFormat(path string, head []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV
	case ".json", ".ndjson", ".jsonl":
		return FormatJSON
	case ".xlsx", ".xlsm", ".xls":
		return FormatExcel
	}
	return sniffFormat(head)
}

func sniffFormat(head []byte) Format {
	trim := bytes.TrimSpace(head)
	if len(trim) == 0 {
		return FormatUnknown
	}
	// XLSX is a zip container.
	if len(trim) >= 2 && trim[0] == 'P' && trim[1] == 'K' {
		return FormatExcel
	}
	if trim[0] == '{' || trim[0] == '[' {
		return FormatJSON
	}
	return FormatCSV
}

// SampleFile reads a bounded sample from path, detecting the format.
func (s *Sampler) SampleFile(path string) (*Sample, error) {
	head, err := readHead(path, 4096)
	if err != nil {
		return nil, err
	}
	format := DetectFormat(path, head)
	switch format {
	case FormatCSV:
		return s.sampleCSV(path)
	case FormatJSON:
		return s.sampleJSON(path)
	case FormatExcel:
		return s.sampleExcel(path)
	default:
		return nil, fmt.Errorf("sampler: unrecognized format for %q", filepath.Base(path))
	}
}

// OpenRows opens a full row stream over path for loading. Headers come back
// in the same order SampleFile reports them; rows are raw strings with empty
// cells as empty strings.
func OpenRows(path string, format Format) ([]string, Rows, error) {
	switch format {
	case FormatCSV:
		return openCSVRows(path)
	case FormatJSON:
		return openJSONRows(path)
	case FormatExcel:
		return openExcelRows(path)
	default:
		return nil, nil, fmt.Errorf("sampler: cannot stream format %q", format)
	}
}

// Rows streams data rows from an upload file. Next returns io.EOF when the
// stream is exhausted.
type Rows interface {
	Next() ([]string, error)
	Close() error
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sampler: open %q: %w", filepath.Base(path), err)
	}
	defer f.Close()

	buf := make([]byte, n)
	k, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("sampler: read %q: %w", filepath.Base(path), err)
	}
	return buf[:k], nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

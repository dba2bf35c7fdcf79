package sampler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

func (s *Sampler) sampleExcel(path string) (*Sample, error) {
	headers, rows, err := openExcelRows(path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]string
	for len(out) < s.limit() {
		row, err := rows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return &Sample{
		Format:    FormatExcel,
		Headers:   headers,
		Rows:      out,
		HasHeader: true,
	}, nil
}

type excelRows struct {
	f     *excelize.File
	iter  *excelize.Rows
	sheet string
	width int
}

func (e *excelRows) Next() ([]string, error) {
	for e.iter.Next() {
		row, err := e.iter.Columns()
		if err != nil {
			return nil, fmt.Errorf("sampler: read sheet %s: %w", e.sheet, err)
		}
		if len(row) == 0 {
			continue
		}
		// Cells past the last non-empty one are absent from the iterator;
		// pad to the header width so alignment holds.
		out := trimAll(row)
		for len(out) < e.width {
			out = append(out, "")
		}
		return out, nil
	}
	if err := e.iter.Error(); err != nil {
		return nil, fmt.Errorf("sampler: sheet %s: %w", e.sheet, err)
	}
	return nil, io.EOF
}

func (e *excelRows) Close() error {
	e.iter.Close()
	return e.f.Close()
}

// openExcelRows streams the first sheet of a workbook. The first non-empty
// row is taken as the header; spreadsheet exports virtually always carry one.
func openExcelRows(path string) ([]string, Rows, error) {
	rd, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("sampler: open %q: %w", filepath.Base(path), err)
	}
	f, err := excelize.OpenReader(rd)
	rd.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("sampler: open workbook %q: %w", filepath.Base(path), err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, nil, fmt.Errorf("sampler: %q has no sheets", filepath.Base(path))
	}
	sheet := sheets[0]

	iter, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("sampler: open rows for sheet %s: %w", sheet, err)
	}

	src := &excelRows{f: f, iter: iter, sheet: sheet}
	hdr, err := src.Next()
	if err == io.EOF {
		src.Close()
		return nil, nil, fmt.Errorf("sampler: sheet %s is empty", sheet)
	}
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	src.width = len(hdr)
	return hdr, src, nil
}

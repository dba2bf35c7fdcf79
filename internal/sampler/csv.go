package sampler

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"ingestor/internal/schema"
)

func (s *Sampler) sampleCSV(path string) (*Sample, error) {
	hdr, rows, err := readCSVRows(path, s.limit())
	if err != nil {
		return nil, err
	}
	return &Sample{
		Format:    FormatCSV,
		Headers:   hdr.names,
		Rows:      rows,
		HasHeader: hdr.fromFile,
	}, nil
}

type csvHeader struct {
	names    []string
	fromFile bool
}

// readCSVRows reads the header decision plus up to limit data rows.
func readCSVRows(path string, limit int) (csvHeader, [][]string, error) {
	r, closer, err := openCSVReader(path)
	if err != nil {
		return csvHeader{}, nil, err
	}
	defer closer.Close()

	var rows [][]string
	var hdr csvHeader
	first := true
	for limit <= 0 || len(rows) < limit {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return csvHeader{}, nil, fmt.Errorf("sampler: csv read: %w", err)
		}
		if first {
			first = false
			if looksLikeHeader(rec) {
				hdr = csvHeader{names: trimAll(rec), fromFile: true}
				continue
			}
			hdr = csvHeader{names: syntheticHeaders(len(rec))}
		}
		rows = append(rows, trimAll(rec))
	}
	if first {
		return csvHeader{}, nil, fmt.Errorf("sampler: %q is empty", filepath.Base(path))
	}
	return hdr, rows, nil
}

type csvRows struct {
	r      *csv.Reader
	closer io.Closer
}

func (c *csvRows) Next() ([]string, error) {
	rec, err := c.r.Read()
	if err != nil {
		return nil, err
	}
	return trimAll(rec), nil
}

func (c *csvRows) Close() error { return c.closer.Close() }

func openCSVRows(path string) ([]string, Rows, error) {
	r, closer, err := openCSVReader(path)
	if err != nil {
		return nil, nil, err
	}
	first, err := r.Read()
	if err != nil {
		closer.Close()
		if err == io.EOF {
			return nil, nil, fmt.Errorf("sampler: %q is empty", filepath.Base(path))
		}
		return nil, nil, fmt.Errorf("sampler: csv read: %w", err)
	}
	src := &csvRows{r: r, closer: closer}
	if looksLikeHeader(first) {
		return trimAll(first), src, nil
	}
	// Headerless file: the first record is data and must be replayed.
	return syntheticHeaders(len(first)), &replayRows{first: trimAll(first), rest: src}, nil
}

type replayRows struct {
	first []string
	rest  Rows
}

func (r *replayRows) Next() ([]string, error) {
	if r.first != nil {
		row := r.first
		r.first = nil
		return row, nil
	}
	return r.rest.Next()
}

func (r *replayRows) Close() error { return r.rest.Close() }

// openCSVReader opens path with BOM stripping, a Windows-1252 fallback for
// non-UTF-8 content, and delimiter sniffing on the first line.
func openCSVReader(path string) (*csv.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("sampler: open %q: %w", filepath.Base(path), err)
	}

	br := bufio.NewReaderSize(f, 64<<10)
	head, _ := br.Peek(64 << 10)

	var rd io.Reader = br
	if !utf8.Valid(head) {
		rd = transform.NewReader(br, charmap.Windows1252.NewDecoder())
	}

	cr := csv.NewReader(&bomStripReader{r: rd})
	cr.Comma = sniffDelimiter(head)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr, f, nil
}

// bomStripReader drops a leading UTF-8 BOM.
type bomStripReader struct {
	r    io.Reader
	done bool
}

func (b *bomStripReader) Read(p []byte) (int, error) {
	if !b.done {
		b.done = true
		var bom [3]byte
		n, err := io.ReadFull(b.r, bom[:])
		if n > 0 && !(n == 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF) {
			b.r = io.MultiReader(strings.NewReader(string(bom[:n])), b.r)
		}
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return 0, err
		}
	}
	return b.r.Read(p)
}

// sniffDelimiter counts candidate separators on the first line outside
// quotes and picks the most frequent. Comma wins ties.
func sniffDelimiter(head []byte) rune {
	line := head
	if i := indexAny(head, '\n'); i >= 0 {
		line = head[:i]
	}
	counts := map[rune]int{',': 0, ';': 0, '\t': 0, '|': 0}
	inQuote := false
	for _, b := range line {
		if b == '"' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		r := rune(b)
		if _, ok := counts[r]; ok {
			counts[r]++
		}
	}
	best := ','
	bestN := counts[',']
	for _, r := range []rune{';', '\t', '|'} {
		if counts[r] > bestN {
			best, bestN = r, counts[r]
		}
	}
	return best
}

func indexAny(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// looksLikeHeader reports whether a first record reads as column names
// rather than data: no cell parses as a number, and at least one cell is a
// non-empty word.
func looksLikeHeader(rec []string) bool {
	sawWord := false
	for i, c := range rec {
		v := strings.TrimSpace(c)
		if i == 0 {
			v = strings.TrimPrefix(v, "\uFEFF")
		}
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return false
		}
		sawWord = true
	}
	return sawWord
}

func syntheticHeaders(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = schema.SyntheticColumnName(i)
	}
	return out
}

func trimAll(rec []string) []string {
	out := make([]string, len(rec))
	for i, v := range rec {
		v = strings.TrimSpace(v)
		if i == 0 {
			v = strings.TrimPrefix(v, "\uFEFF")
		}
		out[i] = v
	}
	return out
}

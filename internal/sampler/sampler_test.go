package sampler

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		head string
		want Format
	}{
		{"data.csv", "", FormatCSV},
		{"data.tsv", "", FormatCSV},
		{"data.json", "", FormatJSON},
		{"data.xlsx", "", FormatExcel},
		{"upload.bin", `[{"a":1}]`, FormatJSON},
		{"upload.bin", "a,b,c\n1,2,3\n", FormatCSV},
		{"upload.bin", "PK\x03\x04", FormatExcel},
		{"upload.bin", "", FormatUnknown},
	}
	for _, tc := range cases {
		if got := DetectFormat(tc.path, []byte(tc.head)); got != tc.want {
			t.Errorf("DetectFormat(%q, %q) = %q, want %q", tc.path, tc.head, got, tc.want)
		}
	}
}

func TestSampleCSV(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "orders.csv", "id,name,amount\n1,alice,10.5\n2,bob,\n3,carol,7\n")
	var s Sampler
	got, err := s.SampleFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasHeader {
		t.Error("header not detected")
	}
	wantHdr := []string{"id", "name", "amount"}
	for i, h := range wantHdr {
		if got.Headers[i] != h {
			t.Errorf("header %d = %q, want %q", i, got.Headers[i], h)
		}
	}
	if len(got.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(got.Rows))
	}
}

func TestSampleRespectsLimit(t *testing.T) {
	t.Parallel()

	body := "a\n"
	for i := 0; i < 50; i++ {
		body += "x\n"
	}
	p := writeTemp(t, "big.csv", body)
	s := Sampler{Limit: 10}
	got, err := s.SampleFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Rows) != 10 {
		t.Errorf("rows = %d, want 10", len(got.Rows))
	}
}

func TestSampleHeaderlessCSV(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "nums.csv", "1,2,3\n4,5,6\n")
	var s Sampler
	got, err := s.SampleFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if got.HasHeader {
		t.Error("numeric first row treated as header")
	}
	if got.Headers[0] != "column_1" || got.Headers[2] != "column_3" {
		t.Errorf("headers = %v", got.Headers)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("rows = %d, want 2 (first row must not be swallowed)", len(got.Rows))
	}
}

func TestRecordsNullMarkerAndOrder(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "t.csv", "a,b\n1,\n,2\n")
	var s Sampler
	sample, err := s.SampleFile(p)
	if err != nil {
		t.Fatal(err)
	}
	recs := sample.Records()
	if len(recs) != 2 {
		t.Fatalf("records = %d", len(recs))
	}
	if recs["row01"]["b"] != NullMarker {
		t.Errorf("row01.b = %q, want %q", recs["row01"]["b"], NullMarker)
	}
	if recs["row02"]["a"] != NullMarker || recs["row02"]["b"] != "2" {
		t.Errorf("row02 = %v", recs["row02"])
	}
	keys := sample.RowKeys()
	if keys[0] != "row01" || keys[1] != "row02" {
		t.Errorf("keys = %v", keys)
	}
}

func TestSampleCSVSemicolonDelimiter(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "eu.csv", "id;name\n1;alice\n")
	var s Sampler
	got, err := s.SampleFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Headers) != 2 || got.Headers[1] != "name" {
		t.Errorf("headers = %v", got.Headers)
	}
}

func TestSampleCSVStripsBOM(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "bom.csv", "\xEF\xBB\xBFid,name\n1,alice\n")
	var s Sampler
	got, err := s.SampleFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if got.Headers[0] != "id" {
		t.Errorf("header[0] = %q, want %q", got.Headers[0], "id")
	}
}

func TestSampleJSONArray(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "recs.json", `[{"id":1,"name":"alice"},{"id":2,"tags":["a","b"]}]`)
	var s Sampler
	got, err := s.SampleFile(p)
	if err != nil {
		t.Fatal(err)
	}
	// Headers are the sorted union of keys.
	want := []string{"id", "name", "tags"}
	if len(got.Headers) != len(want) {
		t.Fatalf("headers = %v", got.Headers)
	}
	for i := range want {
		if got.Headers[i] != want[i] {
			t.Errorf("header %d = %q, want %q", i, got.Headers[i], want[i])
		}
	}
	recs := got.Records()
	if recs["row01"]["tags"] != NullMarker {
		t.Errorf("missing key should be NULL, got %q", recs["row01"]["tags"])
	}
	if recs["row02"]["tags"] != `["a","b"]` {
		t.Errorf("array cell = %q", recs["row02"]["tags"])
	}
	if recs["row01"]["id"] != "1" {
		t.Errorf("integral number rendered as %q", recs["row01"]["id"])
	}
}

func TestSampleJSONEnvelope(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "env.json", `{"meta":{"n":2},"results":[{"a":1},{"a":2}]}`)
	var s Sampler
	got, err := s.SampleFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("rows = %d, want 2 (envelope not unwrapped)", len(got.Rows))
	}
	if got.Headers[0] != "a" {
		t.Errorf("headers = %v", got.Headers)
	}
}

func TestSampleJSONFlattensNested(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "nested.json", `[{"user":{"id":7,"name":"x"},"ok":true}]`)
	var s Sampler
	got, err := s.SampleFile(p)
	if err != nil {
		t.Fatal(err)
	}
	recs := got.Records()
	if recs["row01"]["user.id"] != "7" {
		t.Errorf("user.id = %q", recs["row01"]["user.id"])
	}
	if recs["row01"]["ok"] != "true" {
		t.Errorf("ok = %q", recs["row01"]["ok"])
	}
}

func TestOpenRowsCSVStreamsAll(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "s.csv", "a,b\n1,x\n2,y\n3,z\n")
	hdr, rows, err := OpenRows(p, FormatCSV)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	if len(hdr) != 2 {
		t.Fatalf("headers = %v", hdr)
	}
	var n int
	for {
		_, err := rows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 3 {
		t.Errorf("streamed %d rows, want 3", n)
	}
}

func TestOpenRowsJSON(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "s.json", `[{"a":1},{"a":2}]`)
	hdr, rows, err := OpenRows(p, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	if len(hdr) != 1 || hdr[0] != "a" {
		t.Fatalf("headers = %v", hdr)
	}
	r1, err := rows.Next()
	if err != nil || r1[0] != "1" {
		t.Fatalf("row1 = %v err=%v", r1, err)
	}
	if _, err := rows.Next(); err != nil {
		t.Fatal(err)
	}
	if _, err := rows.Next(); err != io.EOF {
		t.Errorf("want EOF, got %v", err)
	}
}

func TestSampleEmptyFileFails(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "empty.csv", "")
	var s Sampler
	if _, err := s.SampleFile(p); err == nil {
		t.Error("expected error for empty file")
	}
}

func TestReadHeadErrors(t *testing.T) {
	t.Parallel()

	// An empty file is not an error; a failing read is.
	p := writeTemp(t, "empty.csv", "")
	head, err := readHead(p, 16)
	if err != nil || len(head) != 0 {
		t.Errorf("empty file: head=%q err=%v", head, err)
	}
	if _, err := readHead(t.TempDir(), 16); err == nil {
		t.Error("expected read error for a directory")
	}
}

package coerce

import (
	"fmt"
	"testing"
	"time"

	"ingestor/internal/schema"
)

func TestValueNulls(t *testing.T) {
	t.Parallel()

	var c Coercer
	for _, in := range []string{"", "  ", "NULL"} {
		if got := c.Value(in, schema.TypeInteger); got != nil {
			t.Errorf("Value(%q) = %v, want nil", in, got)
		}
	}
}

func TestValueNumeric(t *testing.T) {
	t.Parallel()

	var c Coercer
	cases := []struct {
		in   string
		typ  schema.ColumnType
		want any
	}{
		{"42", schema.TypeInteger, int64(42)},
		{"-7", schema.TypeInteger, int64(-7)},
		{"9999999999", schema.TypeInteger, int64(9999999999)},
		{"9999999999", schema.TypeBigint, int64(9999999999)},
		{"1,234,567", schema.TypeBigint, int64(1234567)},
		{"3.14", schema.TypeNumeric, 3.14},
		{"$5.00", schema.TypeNumeric, 5.0},
		{"1e3", schema.TypeNumeric, 1000.0},
	}
	for _, tc := range cases {
		if got := c.Value(tc.in, tc.typ); got != tc.want {
			t.Errorf("Value(%q, %s) = %v (%T), want %v", tc.in, tc.typ, got, got, tc.want)
		}
	}
}

func TestValueNullOnUnparseable(t *testing.T) {
	t.Parallel()

	// A bad cell degrades to null; it never reaches the destination as a
	// mistyped value and never fails the row.
	var c Coercer
	cases := []struct {
		in  string
		typ schema.ColumnType
	}{
		{"notanumber", schema.TypeNumeric},
		{"abc", schema.TypeInteger},
		{"12.5", schema.TypeBigint},
		{"maybe", schema.TypeBoolean},
		{"not-a-date", schema.TypeDate},
		{"later", schema.TypeTimestamp},
	}
	for _, tc := range cases {
		if got := c.Value(tc.in, tc.typ); got != nil {
			t.Errorf("Value(%q, %s) = %v, want nil", tc.in, tc.typ, got)
		}
	}
}

func TestValueRoundTrip(t *testing.T) {
	t.Parallel()

	// Rendering a coerced value and coercing it again lands on the same
	// value, so repeated load attempts cannot drift.
	var c Coercer
	cases := []struct {
		in  string
		typ schema.ColumnType
	}{
		{"42", schema.TypeInteger},
		{"9999999999", schema.TypeBigint},
		{"3.14", schema.TypeNumeric},
		{"true", schema.TypeBoolean},
		{"plain text", schema.TypeText},
	}
	for _, tc := range cases {
		first := c.Value(tc.in, tc.typ)
		again := c.Value(fmt.Sprint(first), tc.typ)
		if first == nil || first != again {
			t.Errorf("Value(%q, %s): %v != %v", tc.in, tc.typ, first, again)
		}
	}
}

func TestValueBoolean(t *testing.T) {
	t.Parallel()

	var c Coercer
	truthy := []string{"1", "t", "TRUE", "yes", "Y"}
	falsy := []string{"0", "f", "False", "no", "n"}
	for _, in := range truthy {
		if got := c.Value(in, schema.TypeBoolean); got != true {
			t.Errorf("Value(%q) = %v, want true", in, got)
		}
	}
	for _, in := range falsy {
		if got := c.Value(in, schema.TypeBoolean); got != false {
			t.Errorf("Value(%q) = %v, want false", in, got)
		}
	}
}

func TestValueTemporal(t *testing.T) {
	t.Parallel()

	var c Coercer

	d := c.Value("2024-03-01", schema.TypeDate)
	tm, ok := d.(time.Time)
	if !ok {
		t.Fatalf("date did not coerce: %T", d)
	}
	if tm.Year() != 2024 || tm.Month() != time.March || tm.Day() != 1 {
		t.Errorf("got %v", tm)
	}

	ts := c.Value("2024-03-01 10:20:30", schema.TypeTimestamp)
	tm, ok = ts.(time.Time)
	if !ok {
		t.Fatalf("timestamp did not coerce: %T", ts)
	}
	if tm.Hour() != 10 || tm.Minute() != 20 {
		t.Errorf("got %v", tm)
	}

	// Bare dates are valid timestamps.
	if _, ok := c.Value("2024-03-01", schema.TypeTimestamp).(time.Time); !ok {
		t.Error("bare date should coerce as timestamp")
	}
}

func TestRowPadsShortRows(t *testing.T) {
	t.Parallel()

	var c Coercer
	s := schema.TableSchema{Columns: []schema.Column{
		{Name: "a", Type: schema.TypeInteger},
		{Name: "b", Type: schema.TypeText},
		{Name: "c", Type: schema.TypeText},
	}}
	got := c.Row([]string{"1", "x"}, s)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0] != int64(1) || got[1] != "x" || got[2] != nil {
		t.Errorf("got %v", got)
	}
}

func TestRowKeepsExtraCells(t *testing.T) {
	t.Parallel()

	var c Coercer
	s := schema.TableSchema{Columns: []schema.Column{{Name: "a", Type: schema.TypeText}}}
	got := c.Row([]string{"x", "extra"}, s)
	if len(got) != 2 || got[1] != "extra" {
		t.Errorf("got %v", got)
	}
}

func TestParseDateLooseLayouts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"2024-01-31", "2006-01-02"},
		{"31.01.2024", "02.01.2006"},
		{"31/01/2024", "02/01/2006"},
	}
	for _, tc := range cases {
		_, lay, ok := ParseDateLoose(tc.in)
		if !ok || lay != tc.want {
			t.Errorf("ParseDateLoose(%q) layout = %q ok=%v, want %q", tc.in, lay, ok, tc.want)
		}
	}
	if _, _, ok := ParseDateLoose("2024-13-99"); ok {
		t.Error("invalid date accepted")
	}
}

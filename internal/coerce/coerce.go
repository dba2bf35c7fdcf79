// Package coerce converts raw cell strings into typed values for the
// destination engine.
//
// Coercion is lenient: a value that does not parse as its column type
// becomes nil rather than an error, so one stray cell degrades to a null
// instead of failing the file. Integers parse at 64-bit width on purpose;
// a value that overflows the column's storage still reaches the engine as
// a number, and the range error it raises there is what drives load-time
// schema widening.
package coerce

import (
	"strconv"
	"strings"
	"time"

	"ingestor/internal/schema"
)

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
}

var tsLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000Z07:00",
	"02.01.2006 15:04:05",
}

// NullMarker is the sentinel the sampler emits for empty cells. Coercion
// treats it the same as an empty string.
const NullMarker = "NULL"

// Coercer converts cell strings according to a table schema. The zero value
// is ready to use.
type Coercer struct {
	// Location resolves naive timestamps. Nil means time.UTC.
	Location *time.Location
}

func (c *Coercer) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.UTC
}

// Value coerces one cell for a column type. Empty strings, the NULL marker,
// and values that do not parse all become nil. INTEGER parses at 64-bit
// width so an overflowing value surfaces as a range error at the engine
// instead of a null here.
func (c *Coercer) Value(raw string, t schema.ColumnType) any {
	s := strings.TrimSpace(raw)
	if s == "" || s == NullMarker {
		return nil
	}

	switch t {
	case schema.TypeInteger, schema.TypeBigint:
		if v, err := strconv.ParseInt(stripNumeric(s), 10, 64); err == nil {
			return v
		}
	case schema.TypeNumeric:
		if v, err := strconv.ParseFloat(stripNumeric(s), 64); err == nil {
			return v
		}
	case schema.TypeBoolean:
		if v, ok := ParseBoolLoose(s); ok {
			return v
		}
	case schema.TypeDate:
		if v, _, ok := ParseDateLoose(s); ok {
			return v
		}
	case schema.TypeTimestamp, schema.TypeTimestampTZ:
		if v, _, ok := c.parseTimestamp(s); ok {
			return v
		}
	case schema.TypeText:
		return s
	}
	return nil
}

// Row coerces a full row against a schema. Short rows are padded with nil;
// long rows are passed through so the caller can pad columns.
func (c *Coercer) Row(raw []string, t schema.TableSchema) []any {
	n := len(raw)
	if n < len(t.Columns) {
		n = len(t.Columns)
	}
	out := make([]any, n)
	for i := range out {
		if i >= len(raw) {
			out[i] = nil
			continue
		}
		if i < len(t.Columns) {
			out[i] = c.Value(raw[i], t.Columns[i].Type)
		} else {
			out[i] = c.Value(raw[i], schema.TypeText)
		}
	}
	return out
}

func (c *Coercer) parseTimestamp(s string) (time.Time, string, bool) {
	for _, lay := range tsLayouts {
		if v, err := time.ParseInLocation(lay, s, c.location()); err == nil {
			return v, lay, true
		}
	}
	// A bare date is a valid timestamp at midnight.
	if v, lay, ok := ParseDateLoose(s); ok {
		return v.In(c.location()), lay, true
	}
	return time.Time{}, "", false
}

// stripNumeric removes thousands separators and currency trim so that
// "1,234" and "$5.00" parse. Anything structurally non-numeric is left for
// the strconv parse to reject.
func stripNumeric(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	if strings.Count(s, ",") > 0 && !strings.Contains(s, ",.") {
		s = strings.ReplaceAll(s, ",", "")
	}
	return s
}

// ParseBoolLoose accepts the common truthy/falsy spellings.
func ParseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// ParseDateLoose tries the known date layouts in order and reports the
// layout that matched.
func ParseDateLoose(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	for _, lay := range dateLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, lay, true
		}
	}
	return time.Time{}, "", false
}

// ParseTimestampLoose tries the known timestamp layouts in order.
func ParseTimestampLoose(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	for _, lay := range tsLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, lay, true
		}
	}
	return time.Time{}, "", false
}

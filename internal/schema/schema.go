// Package schema defines the relational schema model produced by inference
// and consumed by provisioning and loading.
//
// The package is responsible for:
//   - The column type lattice used by the ingestion pipeline
//   - Identifier normalization for destination-engine safety
//   - Monotonic type widening for load-time schema correction
//   - Name-based type hints layered on top of oracle inference
//
// Design constraints:
//   - Widening must be monotonic so correction retries converge.
//   - Normalized identifiers must be valid for the destination engine.
package schema

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ColumnType is the practical subset of destination types the pipeline infers
// and provisions. TEXT is the top of the widening lattice.
type ColumnType string

const (
	TypeText        ColumnType = "TEXT"
	TypeInteger     ColumnType = "INTEGER"
	TypeBigint      ColumnType = "BIGINT"
	TypeNumeric     ColumnType = "NUMERIC"
	TypeBoolean     ColumnType = "BOOLEAN"
	TypeDate        ColumnType = "DATE"
	TypeTimestamp   ColumnType = "TIMESTAMP"
	TypeTimestampTZ ColumnType = "TIMESTAMPTZ"
)

// Column is one column of an inferred table schema.
//
// Nullable is advisory: provisioning never emits NOT NULL because
// sample-derived nullability is unreliable (see TableSchema docs).
type Column struct {
	Name     string     `json:"column_name"`
	Type     ColumnType `json:"data_type"`
	Nullable bool       `json:"is_nullable"`
}

// TableSchema is an ordered column list matching the sampled field order.
type TableSchema struct {
	Columns []Column `json:"columns"`

	// HasHeader reports whether the first sampled row was a header row.
	HasHeader bool `json:"has_header"`
}

// ColumnNames returns the column names in schema order.
func (t TableSchema) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// IndexOf returns the position of a column by name, or -1.
func (t TableSchema) IndexOf(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks structural invariants: at least one column, every name a
// valid normalized identifier, no duplicate names.
func (t TableSchema) Validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("schema: no columns")
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for i, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("schema: column %d has empty name", i)
		}
		if c.Name != NormalizeIdent(c.Name) {
			return fmt.Errorf("schema: column %q is not a normalized identifier", c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("schema: duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if _, ok := ParseColumnType(string(c.Type)); !ok {
			return fmt.Errorf("schema: column %q has unsupported type %q", c.Name, c.Type)
		}
	}
	return nil
}

// ParseColumnType maps a destination-engine type spelling onto the lattice.
// It accepts the aliases the oracle tends to emit (int, int4, double
// precision, character varying(n), ...). Unknown spellings report ok=false.
func ParseColumnType(s string) (ColumnType, bool) {
	t := strings.ToLower(strings.TrimSpace(s))
	// varchar(n) and friends carry a length suffix.
	if i := strings.IndexByte(t, '('); i > 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "text", "varchar", "character varying", "char", "character", "string":
		return TypeText, true
	case "integer", "int", "int4", "smallint", "int2":
		return TypeInteger, true
	case "bigint", "int8":
		return TypeBigint, true
	case "numeric", "decimal", "real", "float", "float4", "float8", "double precision", "money":
		return TypeNumeric, true
	case "boolean", "bool":
		return TypeBoolean, true
	case "date":
		return TypeDate, true
	case "timestamp", "timestamp without time zone", "datetime":
		return TypeTimestamp, true
	case "timestamptz", "timestamp with time zone":
		return TypeTimestampTZ, true
	default:
		return "", false
	}
}

// widenRank orders types within each widening chain. Higher rank is wider.
// Only the numeric chain and the text top are comparable; temporal and
// boolean types widen straight to TEXT.
func widenRank(t ColumnType) int {
	switch t {
	case TypeInteger:
		return 1
	case TypeBigint:
		return 2
	case TypeNumeric:
		return 3
	case TypeText:
		return 4
	default:
		return 0
	}
}

// Widen returns the next wider type for a load-time mismatch on t.
//
// The chain is INTEGER -> BIGINT -> NUMERIC -> TEXT; everything else widens
// directly to TEXT. Widening is monotonic: Widen never returns a narrower
// type, which is what guarantees the correction retry loop converges.
func Widen(t ColumnType) ColumnType {
	switch t {
	case TypeInteger:
		return TypeBigint
	case TypeBigint:
		return TypeNumeric
	case TypeNumeric:
		return TypeText
	default:
		return TypeText
	}
}

// IsWider reports whether a is strictly wider than b. Types outside the
// numeric/text chain are never comparable.
func IsWider(a, b ColumnType) bool {
	ra, rb := widenRank(a), widenRank(b)
	return ra > 0 && rb > 0 && ra > rb
}

// NormalizeIdent converts arbitrary input into a safe lowercase identifier for
// column and table names: lowercased, separators collapsed to underscores,
// anything outside [a-z0-9_] dropped, trimmed of edge underscores, truncated
// to the destination-engine limit on a UTF-8 boundary.
func NormalizeIdent(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, r := range s {
		if r == ' ' || r == '-' || r == '.' || r == '/' || r == '\\' || r == ':' || r == ';' {
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			lastUnderscore = (r == '_')
			continue
		}
		// Drop everything else.
	}

	return truncateIdent(strings.Trim(b.String(), "_"))
}

// truncateIdent enforces the 63-byte identifier limit while preserving UTF-8
// validity.
func truncateIdent(s string) string {
	const maxLen = 63
	if len(s) <= maxLen {
		return s
	}
	b := []byte(s)
	cut := maxLen
	for cut > 0 && !utf8.Valid(b[:cut]) {
		cut--
	}
	if cut <= 0 {
		return s[:maxLen]
	}
	return string(b[:cut])
}

// SyntheticColumnName names padding columns added when sampled rows are wider
// than the inferred column list. Positions are zero-based.
func SyntheticColumnName(pos int) string {
	return fmt.Sprintf("column_%d", pos+1)
}

// nameHints maps column-name suffixes/tokens to the type the name strongly
// suggests. Hints only ever widen within the numeric chain; they never
// override a non-numeric oracle decision.
var nameHints = []struct {
	token string
	typ   ColumnType
}{
	{"amount", TypeNumeric},
	{"price", TypeNumeric},
	{"cost", TypeNumeric},
	{"total", TypeNumeric},
	{"balance", TypeNumeric},
	{"rate", TypeNumeric},
	{"_id", TypeBigint},
}

// ApplyNameHints widens numeric columns whose names strongly suggest a wider
// numeric type (e.g. "amount" inferred as INTEGER becomes NUMERIC, "user_id"
// inferred as INTEGER becomes BIGINT). The oracle's output stays the default;
// a hint applies only when it is strictly wider within the numeric chain, so
// TEXT, temporal, and boolean decisions are never touched.
func ApplyNameHints(t *TableSchema) {
	for i := range t.Columns {
		c := &t.Columns[i]
		hint, ok := hintFor(c.Name)
		if !ok {
			continue
		}
		if c.Type == TypeText {
			continue
		}
		if IsWider(hint, c.Type) {
			c.Type = hint
		}
	}
}

func hintFor(name string) (ColumnType, bool) {
	n := strings.ToLower(name)
	for _, h := range nameHints {
		if h.token == "_id" {
			if strings.HasSuffix(n, "_id") || n == "id" {
				return h.typ, true
			}
			continue
		}
		if strings.Contains(n, h.token) {
			return h.typ, true
		}
	}
	return "", false
}

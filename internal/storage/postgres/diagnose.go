package postgres

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"ingestor/internal/schema"
	"ingestor/internal/storage"
)

// SQLSTATE codes that indicate a value/type mismatch rather than an
// operational failure.
const (
	codeNumericOutOfRange     = "22003"
	codeInvalidTextRep        = "22P02"
	codeStringTooLong         = "22001"
	codeInvalidDatetimeFormat = "22007"
	codeDatetimeOverflow      = "22008"
)

var (
	// COPY errors carry context like: COPY orders, line 5, column amount: "abc"
	whereColumnRe = regexp.MustCompile(`column\s+([^\s:,]+):`)
	msgColumnRe   = regexp.MustCompile(`column "([^"]+)"`)
)

// Diagnose classifies a load failure. Value/type mismatch SQLSTATEs and
// pgx client-side encode failures are classifiable; connection errors,
// syntax errors, and constraint violations report ok=false so the loader
// treats them as hard failures.
func (r *Repo) Diagnose(err error) (storage.Diagnostic, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return diagnoseEncodeError(err)
	}

	d := storage.Diagnostic{
		Code:    pgErr.Code,
		Column:  extractColumn(pgErr),
		Message: pgErr.Message,
	}

	switch pgErr.Code {
	case codeNumericOutOfRange, codeInvalidTextRep:
		// Widen past whatever type rejected the value. When the message
		// does not name the type, the loader falls back to widening the
		// column's current type.
		if cur, ok := extractType(pgErr.Message); ok {
			d.Suggested = schema.Widen(cur)
		}
		return d, true
	case codeStringTooLong:
		d.Suggested = schema.TypeText
		return d, true
	case codeInvalidDatetimeFormat, codeDatetimeOverflow:
		d.Suggested = schema.TypeText
		return d, true
	default:
		return storage.Diagnostic{}, false
	}
}

// pgx encodes COPY and statement parameters on the client, so a value the
// wire type cannot hold fails inside pgtype and never becomes a PgError.
var encodeRangeRe = regexp.MustCompile(`is (?:greater than maximum|less than minimum) value for (\w+)`)

// diagnoseEncodeError classifies pgtype encode failures. These errors do
// not name a column; the loader attributes the column through its probe
// path or its own range check.
func diagnoseEncodeError(err error) (storage.Diagnostic, bool) {
	msg := err.Error()
	if m := encodeRangeRe.FindStringSubmatch(msg); m != nil {
		d := storage.Diagnostic{Code: codeNumericOutOfRange, Message: msg}
		if cur, ok := wireType(m[1]); ok {
			d.Suggested = schema.Widen(cur)
		}
		return d, true
	}
	if strings.Contains(msg, "unable to encode") || strings.Contains(msg, "cannot find encode plan") {
		return storage.Diagnostic{Code: codeInvalidTextRep, Message: msg}, true
	}
	return storage.Diagnostic{}, false
}

func wireType(name string) (schema.ColumnType, bool) {
	switch strings.ToLower(name) {
	case "int2", "int4", "integer":
		return schema.TypeInteger, true
	case "int8", "bigint":
		return schema.TypeBigint, true
	case "float4", "float8", "numeric":
		return schema.TypeNumeric, true
	default:
		return "", false
	}
}

// extractColumn pulls the failing column from the error's structured field,
// then from COPY context, then from the message text.
func extractColumn(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := whereColumnRe.FindStringSubmatch(pgErr.Where); m != nil {
		return strings.Trim(m[1], `"`)
	}
	if m := msgColumnRe.FindStringSubmatch(pgErr.Message); m != nil {
		return m[1]
	}
	return ""
}

// extractType reads the engine type named in messages like
// `value "99999999999" is out of range for type integer`.
func extractType(msg string) (schema.ColumnType, bool) {
	const marker = "for type "
	lmsg := strings.ToLower(msg)
	i := strings.Index(lmsg, marker)
	if i < 0 {
		return "", false
	}
	rest := lmsg[i+len(marker):]
	if j := strings.IndexAny(rest, `:"(`); j >= 0 {
		rest = rest[:j]
	}
	return schema.ParseColumnType(strings.TrimSpace(rest))
}

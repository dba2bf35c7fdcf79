package postgres

import (
	"fmt"
	"strings"

	"ingestor/internal/schema"
)

// SQL builders are pure so placeholder numbering and DDL spelling can be
// unit tested without a database.

// quoteIdent double-quotes an identifier, escaping embedded quotes.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// columnTypeSQL maps a lattice type to its Postgres spelling.
func columnTypeSQL(t schema.ColumnType) (string, error) {
	switch t {
	case schema.TypeText:
		return "TEXT", nil
	case schema.TypeInteger:
		return "INTEGER", nil
	case schema.TypeBigint:
		return "BIGINT", nil
	case schema.TypeNumeric:
		return "NUMERIC", nil
	case schema.TypeBoolean:
		return "BOOLEAN", nil
	case schema.TypeDate:
		return "DATE", nil
	case schema.TypeTimestamp:
		return "TIMESTAMP", nil
	case schema.TypeTimestampTZ:
		return "TIMESTAMPTZ", nil
	default:
		return "", fmt.Errorf("postgres: unsupported column type %q", t)
	}
}

func buildCreateTableSQL(table string, s schema.TableSchema) (string, error) {
	if len(s.Columns) == 0 {
		return "", fmt.Errorf("postgres: create %s: schema has no columns", table)
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (")
	for i, c := range s.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		typ, err := columnTypeSQL(c.Type)
		if err != nil {
			return "", err
		}
		b.WriteString(quoteIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(typ)
	}
	b.WriteString(");")
	return b.String(), nil
}

func buildAlterColumnSQL(table, column string, t schema.ColumnType) string {
	typ, err := columnTypeSQL(t)
	if err != nil {
		// Unknown targets widen to TEXT, the top of the lattice.
		typ = "TEXT"
	}
	return fmt.Sprintf(
		`ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;`,
		quoteIdent(table), quoteIdent(column), typ, quoteIdent(column), typ,
	)
}

// buildInsertSQL constructs one multi-row INSERT and its args.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

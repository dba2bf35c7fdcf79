package schema

import (
	"strings"
	"testing"
)

func TestNormalizeIdent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Amount", "amount"},
		{"  First Name ", "first_name"},
		{"order-date", "order_date"},
		{"a.b/c\\d:e", "a_b_c_d_e"},
		{"__weird__", "weird"},
		{"Total $ (USD)", "total_usd"},
		{"already_fine_123", "already_fine_123"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tc := range cases {
		if got := NormalizeIdent(tc.in); got != tc.want {
			t.Errorf("NormalizeIdent(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeIdentTruncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 100)
	got := NormalizeIdent(long)
	if len(got) != 63 {
		t.Fatalf("len = %d, want 63", len(got))
	}
}

func TestParseColumnType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want ColumnType
		ok   bool
	}{
		{"TEXT", TypeText, true},
		{"character varying(255)", TypeText, true},
		{"varchar", TypeText, true},
		{"int4", TypeInteger, true},
		{"INTEGER", TypeInteger, true},
		{"int8", TypeBigint, true},
		{"double precision", TypeNumeric, true},
		{"decimal", TypeNumeric, true},
		{"bool", TypeBoolean, true},
		{"timestamp without time zone", TypeTimestamp, true},
		{"timestamp with time zone", TypeTimestampTZ, true},
		{"date", TypeDate, true},
		{"uuid", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseColumnType(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseColumnType(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestWidenChain(t *testing.T) {
	t.Parallel()

	// The chain from INTEGER must terminate at TEXT in three steps.
	steps := []ColumnType{TypeBigint, TypeNumeric, TypeText}
	cur := TypeInteger
	for i, want := range steps {
		cur = Widen(cur)
		if cur != want {
			t.Fatalf("step %d: got %q, want %q", i, cur, want)
		}
	}
	if Widen(TypeText) != TypeText {
		t.Errorf("Widen(TEXT) must be a fixed point, got %q", Widen(TypeText))
	}
}

func TestWidenIsMonotonic(t *testing.T) {
	t.Parallel()

	all := []ColumnType{
		TypeText, TypeInteger, TypeBigint, TypeNumeric,
		TypeBoolean, TypeDate, TypeTimestamp, TypeTimestampTZ,
	}
	for _, typ := range all {
		w := Widen(typ)
		if w != TypeText && !IsWider(w, typ) {
			t.Errorf("Widen(%q) = %q is not wider", typ, w)
		}
		if IsWider(typ, w) {
			t.Errorf("Widen(%q) = %q narrowed the type", typ, w)
		}
	}
}

func TestApplyNameHints(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   Column
		want ColumnType
	}{
		{"amount widens to numeric", Column{Name: "amount", Type: TypeInteger}, TypeNumeric},
		{"price widens bigint", Column{Name: "unit_price", Type: TypeBigint}, TypeNumeric},
		{"id widens to bigint", Column{Name: "user_id", Type: TypeInteger}, TypeBigint},
		{"bare id widens", Column{Name: "id", Type: TypeInteger}, TypeBigint},
		{"numeric id keeps numeric", Column{Name: "account_id", Type: TypeNumeric}, TypeNumeric},
		{"text never touched", Column{Name: "amount", Type: TypeText}, TypeText},
		{"boolean never touched", Column{Name: "total_active", Type: TypeBoolean}, TypeBoolean},
		{"plain column untouched", Column{Name: "city", Type: TypeInteger}, TypeInteger},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := TableSchema{Columns: []Column{tc.in}}
			ApplyNameHints(&s)
			if got := s.Columns[0].Type; got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTableSchemaValidate(t *testing.T) {
	t.Parallel()

	valid := TableSchema{Columns: []Column{
		{Name: "id", Type: TypeBigint},
		{Name: "name", Type: TypeText, Nullable: true},
	}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid schema rejected: %v", err)
	}

	cases := []struct {
		name string
		s    TableSchema
	}{
		{"empty", TableSchema{}},
		{"bad ident", TableSchema{Columns: []Column{{Name: "Bad Name", Type: TypeText}}}},
		{"duplicate", TableSchema{Columns: []Column{
			{Name: "a", Type: TypeText}, {Name: "a", Type: TypeText},
		}}},
		{"bad type", TableSchema{Columns: []Column{{Name: "a", Type: "UUID"}}}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.s.Validate(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSyntheticColumnName(t *testing.T) {
	t.Parallel()

	if got := SyntheticColumnName(0); got != "column_1" {
		t.Errorf("got %q", got)
	}
	if got := SyntheticColumnName(6); got != "column_7" {
		t.Errorf("got %q", got)
	}
}

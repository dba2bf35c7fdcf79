package oracle

import (
	"encoding/json"
	"testing"
)

func mustParse(t *testing.T, raw string) map[string]any {
	t.Helper()
	doc, err := RepairJSON(raw)
	if err != nil {
		t.Fatalf("RepairJSON: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(doc, &out); err != nil {
		t.Fatalf("unmarshal repaired doc %q: %v", doc, err)
	}
	return out
}

func TestRepairJSONPassesCleanDocument(t *testing.T) {
	t.Parallel()

	out := mustParse(t, `{"a": 1, "b": "x"}`)
	if out["a"].(float64) != 1 {
		t.Errorf("got %v", out)
	}
}

func TestRepairJSONStripsFences(t *testing.T) {
	t.Parallel()

	out := mustParse(t, "```json\n{\"a\": 1}\n```")
	if out["a"].(float64) != 1 {
		t.Errorf("got %v", out)
	}
	out = mustParse(t, "```\n{\"a\": 2}\n```")
	if out["a"].(float64) != 2 {
		t.Errorf("got %v", out)
	}
}

func TestRepairJSONDropsSurroundingProse(t *testing.T) {
	t.Parallel()

	out := mustParse(t, "Here is the schema you asked for:\n{\"a\": 1}\nLet me know!")
	if out["a"].(float64) != 1 {
		t.Errorf("got %v", out)
	}
}

func TestRepairJSONQuotesBarewordKeys(t *testing.T) {
	t.Parallel()

	out := mustParse(t, `{schema: {columns: []}, contain_columns: {contain_column: "NO"}}`)
	if _, ok := out["schema"]; !ok {
		t.Errorf("got %v", out)
	}
}

func TestRepairJSONRemovesTrailingCommas(t *testing.T) {
	t.Parallel()

	out := mustParse(t, `{"a": [1, 2, 3,], "b": {"c": 1,},}`)
	if len(out["a"].([]any)) != 3 {
		t.Errorf("got %v", out)
	}
}

func TestRepairJSONStripsComments(t *testing.T) {
	t.Parallel()

	out := mustParse(t, `{
	// the schema
	"a": 1,
	/* block */
	"b": 2
}`)
	if out["b"].(float64) != 2 {
		t.Errorf("got %v", out)
	}
}

func TestRepairJSONBalancesTruncation(t *testing.T) {
	t.Parallel()

	out := mustParse(t, `{"schema": {"columns": [{"column_name": "a", "data_type": "TEXT"}]`)
	if _, ok := out["schema"]; !ok {
		t.Errorf("got %v", out)
	}
}

func TestRepairJSONRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "no json here at all"} {
		if _, err := RepairJSON(in); err == nil {
			t.Errorf("RepairJSON(%q) should fail", in)
		}
	}
}

package sampler

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (s *Sampler) sampleJSON(path string) (*Sample, error) {
	recs, err := decodeJSONRecords(path, s.limit())
	if err != nil {
		return nil, err
	}
	headers := headersFromRecords(recs)
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, alignRecord(rec, headers))
	}
	return &Sample{
		Format:    FormatJSON,
		Headers:   headers,
		Rows:      rows,
		HasHeader: true,
	}, nil
}

type jsonRows struct {
	headers []string
	recs    []map[string]any
	pos     int
}

func (j *jsonRows) Next() ([]string, error) {
	if j.pos >= len(j.recs) {
		return nil, io.EOF
	}
	row := alignRecord(j.recs[j.pos], j.headers)
	j.pos++
	return row, nil
}

func (j *jsonRows) Close() error { return nil }

func openJSONRows(path string) ([]string, Rows, error) {
	recs, err := decodeJSONRecords(path, 0)
	if err != nil {
		return nil, nil, err
	}
	headers := headersFromRecords(recs)
	return headers, &jsonRows{headers: headers, recs: recs}, nil
}

// decodeJSONRecords reads the file as an array of objects, a single object,
// or newline-delimited objects, unwraps a one-object envelope around the
// largest array-of-object field, and flattens nested objects with dotted
// keys. limit <= 0 means all records.
func decodeJSONRecords(path string, limit int) ([]map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sampler: read %q: %w", filepath.Base(path), err)
	}

	raw, err := parseJSONDocuments(b)
	if err != nil {
		return nil, err
	}
	raw = unwrapEnvelope(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("sampler: %q holds no records", filepath.Base(path))
	}
	if limit > 0 && len(raw) > limit {
		raw = raw[:limit]
	}

	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		flat := make(map[string]any, len(r))
		flattenRecord("", r, flat)
		out = append(out, flat)
	}
	return out, nil
}

func parseJSONDocuments(b []byte) ([]map[string]any, error) {
	trim := strings.TrimSpace(string(b))
	if trim == "" {
		return nil, fmt.Errorf("sampler: empty json document")
	}

	switch trim[0] {
	case '[':
		var arr []map[string]any
		if err := json.Unmarshal([]byte(trim), &arr); err != nil {
			return nil, fmt.Errorf("sampler: parse json array: %w", err)
		}
		return arr, nil
	case '{':
		// Either one object or NDJSON.
		dec := json.NewDecoder(strings.NewReader(trim))
		var out []map[string]any
		for {
			var m map[string]any
			if err := dec.Decode(&m); err == io.EOF {
				break
			} else if err != nil {
				return nil, fmt.Errorf("sampler: parse json object: %w", err)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("sampler: json document must be an object or array")
	}
}

// unwrapEnvelope unwraps a single record shaped {"anything": [ {...}, ... ]}
// to the largest array-of-object field, matching how exports commonly wrap
// their payload.
func unwrapEnvelope(in []map[string]any) []map[string]any {
	if len(in) != 1 {
		return in
	}
	var best []map[string]any
	for _, v := range in[0] {
		arr, ok := v.([]any)
		if !ok || len(arr) == 0 {
			continue
		}
		objs := make([]map[string]any, 0, len(arr))
		for _, elem := range arr {
			m, ok := elem.(map[string]any)
			if !ok {
				objs = nil
				break
			}
			objs = append(objs, m)
		}
		if len(objs) > len(best) {
			best = objs
		}
	}
	if len(best) > 0 {
		return best
	}
	return in
}

func flattenRecord(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok {
			flattenRecord(key, m, out)
			continue
		}
		out[key] = v
	}
}

func headersFromRecords(recs []map[string]any) []string {
	set := make(map[string]struct{})
	for _, r := range recs {
		for k := range r {
			set[k] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func alignRecord(rec map[string]any, headers []string) []string {
	row := make([]string, len(headers))
	for i, h := range headers {
		row[i] = stringifyJSONValue(rec[h])
	}
	return row
}

// stringifyJSONValue renders a scalar the way it appeared on the wire:
// integral floats without the trailing .0, arrays as compact JSON.
func stringifyJSONValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

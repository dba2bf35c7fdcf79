package oracle

import (
	"fmt"
	"regexp"
	"strings"
)

// Model output frequently arrives wrapped in markdown fences, with bareword
// keys, trailing commas, inline comments, or truncated at the end. RepairJSON
// normalizes those defects so the payload parses; anything beyond them is a
// hard failure.

var (
	fenceRe        = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)
	barewordKeyRe  = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*:)`)
	lineCommentRe  = regexp.MustCompile(`(?m)^\s*//.*$`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// RepairJSON cleans a raw completion into a parseable JSON document.
func RepairJSON(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("oracle: empty response")
	}

	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	} else {
		s = sliceToBrackets(s)
	}

	s = blockCommentRe.ReplaceAllString(s, "")
	s = lineCommentRe.ReplaceAllString(s, "")
	s = barewordKeyRe.ReplaceAllString(s, `$1"$2"$3`)
	s = trailingComma.ReplaceAllString(s, "$1")
	s = balanceBraces(s)
	s = strings.TrimSpace(s)

	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil, fmt.Errorf("oracle: response is not a json document")
	}
	return []byte(s), nil
}

// sliceToBrackets cuts the string down to the outermost bracketed span so
// prose before or after the document is dropped.
func sliceToBrackets(s string) string {
	firstObj := strings.IndexByte(s, '{')
	firstArr := strings.IndexByte(s, '[')
	start := firstObj
	if start == -1 || (firstArr != -1 && firstArr < start) {
		start = firstArr
	}
	end := strings.LastIndexByte(s, '}')
	if e := strings.LastIndexByte(s, ']'); e > end {
		end = e
	}
	if start == -1 || end <= start {
		return s
	}
	return s[start : end+1]
}

// balanceBraces appends closers for a document truncated mid-object. Quotes
// are tracked so braces inside strings do not count.
func balanceBraces(s string) string {
	var depth, sqDepth int
	inStr := false
	escaped := false
	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inStr {
				escaped = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if !inStr {
				depth++
			}
		case '}':
			if !inStr {
				depth--
			}
		case '[':
			if !inStr {
				sqDepth++
			}
		case ']':
			if !inStr {
				sqDepth--
			}
		}
	}
	if inStr {
		s += `"`
	}
	for ; sqDepth > 0; sqDepth-- {
		s += "]"
	}
	for ; depth > 0; depth-- {
		s += "}"
	}
	return s
}

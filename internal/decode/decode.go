package decode

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Response is the structured form of a reasoning-agent reply. Raw always
// carries the original text regardless of which decode stage succeeded.
type Response struct {
	Amount  *decimal.Decimal
	Comment string
	Sources []string
	Raw     string
}

const fallbackComment = "No comment provided"

// stage attempts one decode strategy; ok reports whether the strategy
// produced a usable mapping.
type stage func(text string) (map[string]any, bool)

var stages = []stage{
	decodeStrictJSON,
	decodeRelaxedMapping,
	decodeKeyValueLines,
	decodeRegexFields,
}

// Decode turns free-form agent output into a Response. It never fails:
// stages are tried in order and the final fallback always succeeds.
func Decode(raw string) Response {
	for _, try := range stages {
		if m, ok := try(raw); ok && len(m) > 0 {
			return normalize(m, raw)
		}
	}
	return Response{Comment: raw, Sources: []string{}, Raw: raw}
}

// decodeStrictJSON succeeds only when the entire text is a JSON object.
func decodeStrictJSON(text string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, false
	}
	return m, true
}

// decodeRelaxedMapping accepts brace-delimited mapping literals in looser,
// human-editable syntax (unquoted keys, single quotes) via the YAML
// grammar. Text without braces falls through to the line-oriented stage.
func decodeRelaxedMapping(text string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil, false
	}
	var m map[string]any
	if err := yaml.Unmarshal([]byte(trimmed), &m); err != nil {
		return nil, false
	}
	if m == nil {
		return nil, false
	}
	return m, true
}

// decodeKeyValueLines parses newline-separated "key: value" text. A
// non-indented line containing a colon starts a new key; other lines are
// folded into the previous value. Finished values are scalar-coerced.
func decodeKeyValueLines(text string) (map[string]any, bool) {
	m := make(map[string]any)
	var key string
	var value strings.Builder

	flush := func() {
		if key == "" {
			return
		}
		m[key] = coerceScalar(strings.TrimSpace(value.String()))
		key = ""
		value.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		indented := strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
		if idx := strings.Index(line, ":"); idx >= 0 && !indented {
			flush()
			key = strings.ToLower(strings.TrimSpace(line[:idx]))
			value.WriteString(line[idx+1:])
			continue
		}
		if key != "" {
			value.WriteString("\n")
			value.WriteString(line)
		}
	}
	flush()

	if len(m) == 0 {
		return nil, false
	}
	return m, true
}

var (
	amountFieldRe  = regexp.MustCompile(`(?is)\bamount\s*:\s*(.*?)(?:\n\s*[a-z_]+\s*:|\z)`)
	commentFieldRe = regexp.MustCompile(`(?is)\b(?:reasoning|comment)\s*:\s*(.*?)(?:\n\s*[a-z_]+\s*:|\z)`)
	sourcesFieldRe = regexp.MustCompile(`(?is)\bsources\s*:\s*(.*?)(?:\n\s*[a-z_]+\s*:|\z)`)
	sourcesSplitRe = regexp.MustCompile(`[,;\n]`)
)

// decodeRegexFields scrapes known fields out of otherwise unstructured
// text. Each field runs independently; any hit yields a mapping.
func decodeRegexFields(text string) (map[string]any, bool) {
	m := make(map[string]any)
	if match := amountFieldRe.FindStringSubmatch(text); match != nil {
		m["amount"] = strings.TrimSpace(match[1])
	}
	if match := commentFieldRe.FindStringSubmatch(text); match != nil {
		m["comment"] = strings.TrimSpace(match[1])
	}
	if match := sourcesFieldRe.FindStringSubmatch(text); match != nil {
		parts := sourcesSplitRe.Split(match[1], -1)
		sources := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				sources = append(sources, trimmed)
			}
		}
		m["sources"] = sources
	}
	if len(m) == 0 {
		return nil, false
	}
	return m, true
}

// coerceScalar maps a finished line-oriented value onto int, float, bool,
// or string.
func coerceScalar(s string) any {
	if s == "" {
		return s
	}
	if isAllDigits(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	if isDigitsWithDot(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isDigitsWithDot(s string) bool {
	dots := 0
	for _, r := range s {
		switch {
		case r == '.':
			dots++
		case r < '0' || r > '9':
			return false
		}
	}
	return dots == 1 && len(s) > 1
}

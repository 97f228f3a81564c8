package decode

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var numberRunRe = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)

// normalize converts a decoded mapping into a Response, tolerating the
// loose typing real agent replies exhibit.
func normalize(m map[string]any, raw string) Response {
	resp := Response{
		Amount:  normalizeAmount(lookup(m, "amount")),
		Comment: normalizeComment(m),
		Sources: normalizeSources(lookup(m, "sources")),
		Raw:     raw,
	}
	return resp
}

// lookup fetches a field case-insensitively.
func lookup(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

// normalizeAmount coerces whatever the decode stage produced into a
// decimal. Textual values are stripped of currency symbols, thousands
// separators, and unit suffixes before the first numeric run is parsed.
// Unparseable input degrades to nil rather than an error.
func normalizeAmount(v any) *decimal.Decimal {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		d := decimal.NewFromFloat(n)
		return &d
	case float32:
		d := decimal.NewFromFloat32(n)
		return &d
	case int:
		d := decimal.NewFromInt(int64(n))
		return &d
	case int64:
		d := decimal.NewFromInt(n)
		return &d
	case string:
		cleaned := strings.ReplaceAll(n, ",", "")
		run := numberRunRe.FindString(cleaned)
		if run == "" {
			return nil
		}
		d, err := decimal.NewFromString(run)
		if err != nil {
			return nil
		}
		return &d
	default:
		return nil
	}
}

func normalizeComment(m map[string]any) string {
	for _, key := range []string{"comment", "reasoning", "response"} {
		if v := lookup(m, key); v != nil {
			if s := strings.TrimSpace(stringify(v)); s != "" {
				return s
			}
		}
	}
	return fallbackComment
}

func normalizeSources(v any) []string {
	switch s := v.(type) {
	case nil:
		return []string{}
	case string:
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			return []string{trimmed}
		}
		return []string{}
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str := strings.TrimSpace(stringify(item)); str != "" {
				out = append(out, str)
			}
		}
		return out
	default:
		return []string{}
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// ExtractFirstNumber returns the first contiguous numeric run in text.
// Used to read a revised claim amount out of a free-text agent reply.
func ExtractFirstNumber(text string) (decimal.Decimal, error) {
	run := numberRunRe.FindString(text)
	if run == "" {
		return decimal.Decimal{}, fmt.Errorf("no numeric value in %q", truncateForError(text))
	}
	return decimal.NewFromString(run)
}

func truncateForError(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

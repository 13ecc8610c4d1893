// File: internal/usecase/codec.go
//
// Every manager in this package stores its domain struct as a
// map[string]any of camelCase wire fields, so the same code path runs
// unchanged against storemem (values kept as-is) and
// storepg (values round-tripped through JSON). Timestamps are always
// encoded as fixed-width RFC3339 UTC strings rather than native
// time.Time, so periodEnd ordering stays lexicographically equal to
// chronological ordering on both backends and decode never has to guess
// whether a field survived a JSON round trip. The layout keeps all nine
// fractional-second digits, so a decoded time equals the one encoded.
package usecase

import "time"

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func decodeTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

func encodeStrings(ss []string) any {
	if ss == nil {
		return nil
	}
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func decodeStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

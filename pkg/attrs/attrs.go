// Package attrs reads values back out of slog-style key/value slices.
package attrs

// ExtractString returns the string value for key in a [k1, v1, k2, v2, ...]
// slice, or "" when missing or not a string.
func ExtractString(attrs []any, key string) string {
	v, ok := lookup(attrs, key)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case interface{ String() string }:
		return s.String()
	}
	return ""
}

// ExtractInt64 returns an integer value for key, accepting any int width.
func ExtractInt64(attrs []any, key string) (int64, bool) {
	v, ok := lookup(attrs, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func lookup(attrs []any, key string) (any, bool) {
	for i := 0; i < len(attrs)-1; i += 2 {
		if k, ok := attrs[i].(string); ok && k == key {
			return attrs[i+1], true
		}
	}
	return nil, false
}

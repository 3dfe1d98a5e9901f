package adapter

// Helpers for picking fields out of a decoded JSON payload. Webhook
// payload shape varies wildly between providers and event types, so
// every lookup is best-effort: the second return reports whether the
// path resolved to a value of the expected type.

func descend(payload map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	cur := payload
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	v, ok := cur[path[len(path)-1]]
	return v, ok
}

// StringAt returns the string at the given path.
func StringAt(payload map[string]any, path ...string) (string, bool) {
	v, ok := descend(payload, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int64At returns the integer at the given path. JSON numbers decode
// as float64, so the value is truncated toward zero.
func Int64At(payload map[string]any, path ...string) (int64, bool) {
	v, ok := descend(payload, path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// BoolAt returns the boolean at the given path.
func BoolAt(payload map[string]any, path ...string) (bool, bool) {
	v, ok := descend(payload, path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// SliceAt returns the array at the given path.
func SliceAt(payload map[string]any, path ...string) ([]any, bool) {
	v, ok := descend(payload, path)
	if !ok {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}

// MapAt returns the object at the given path.
func MapAt(payload map[string]any, path ...string) (map[string]any, bool) {
	v, ok := descend(payload, path)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// firstStringOf tries each path in order and returns the first string hit.
func firstStringOf(payload map[string]any, paths ...[]string) *string {
	for _, path := range paths {
		if s, ok := StringAt(payload, path...); ok {
			return &s
		}
	}
	return nil
}

package metadata

// MergeMetadata returns a deep copy of original with every top-level key of
// fetched written over it. Nested objects and arrays from fetched replace
// the original value wholesale. Neither input is modified.
func MergeMetadata(original, fetched map[string]any) map[string]any {
	out := make(map[string]any, len(original)+len(fetched))
	for k, v := range original {
		out[k] = deepCopy(v)
	}
	for k, v := range fetched {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = deepCopy(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = deepCopy(e)
		}
		return s
	default:
		return v
	}
}

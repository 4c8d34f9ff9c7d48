package http

import (
	"encoding/json"
	"strings"
)

func jsonUnmarshal(body []byte, out interface{}) error {
	return json.Unmarshal(body, out)
}

// evaluateJSONPath evaluates a minimal projection syntax: "$" selects the
// root (exploded into its elements if it's an array), and a dotted path like
// "data.items[]" walks object keys, exploding the trailing "[]" segment's
// array into one match per element. There is no general JSONPath library in
// the example pack to reach for here; a handful of projection shapes is all
// the declared config surface needs.
func evaluateJSONPath(root interface{}, path string) []interface{} {
	if path == "" || path == "$" {
		return explode(root)
	}

	segments := strings.Split(path, ".")
	current := []interface{}{root}

	for _, seg := range segments {
		explodeTrailing := strings.HasSuffix(seg, "[]")
		key := strings.TrimSuffix(seg, "[]")

		var next []interface{}
		for _, c := range current {
			m, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			v, ok := m[key]
			if !ok {
				continue
			}
			if explodeTrailing {
				next = append(next, explode(v)...)
			} else {
				next = append(next, v)
			}
		}
		current = next
	}

	return current
}

func explode(v interface{}) []interface{} {
	if arr, ok := v.([]interface{}); ok {
		return arr
	}
	return []interface{}{v}
}

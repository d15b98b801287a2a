package llm

import (
	"slices"
	"strings"
)

// emptyMarkers are strings models use for "no value".
var emptyMarkers = []string{"", "null", "none", "n/a", "na", "unknown", "not specified", "not mentioned"}

// Sanitize trims strings and turns placeholder strings for "no value" into
// real nulls, recursively, and reports the paths it nulled. Strings in keep
// (enum values such as "Unknown") are left alone.
func Sanitize(tree any, keep ...string) (any, []string) {
	var nulled []string
	out := sanitize("", tree, keep, &nulled)
	slices.Sort(nulled)
	return out, nulled
}

func sanitize(path string, v any, keep []string, nulled *[]string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			p := k
			if path != "" {
				p = path + "." + k
			}
			out[k] = sanitize(p, child, keep, nulled)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, child := range t {
			c := sanitize(path+"[]", child, keep, nulled)
			if c != nil {
				out = append(out, c)
			}
		}
		return out
	case string:
		s := strings.TrimSpace(t)
		if slices.Contains(keep, s) {
			return s
		}
		if slices.Contains(emptyMarkers, strings.ToLower(s)) {
			*nulled = append(*nulled, path)
			return nil
		}
		return s
	}
	return v
}

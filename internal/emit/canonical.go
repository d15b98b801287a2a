package emit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Canonical encodes v as compact JSON with object keys sorted, nulls kept,
// timestamps as RFC 3339 in UTC and no HTML escaping. Equal trees always
// encode to identical bytes.
func Canonical(v any) ([]byte, error) {
	norm, err := normalize("$", v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// normalize rewrites values encoding/json would render non-canonically.
// Maps are re-keyed as map[string]any, which the encoder emits sorted.
func normalize(path string, v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return t, nil
	case float32:
		return normalize(path, float64(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%s: %v has no JSON form", path, t)
		}
		return t, nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := normalize(path+"."+k, val)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := normalize(fmt.Sprintf("%s[%d]", path, i), val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: unsupported type %T", path, v)
}

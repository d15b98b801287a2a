package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ParseContent decodes model output into an untyped tree. Code fences and
// prose around the outermost JSON object are tolerated; numbers are kept as
// json.Number.
func ParseContent(content string) (any, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if !strings.HasPrefix(s, "{") {
		start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
		if start < 0 || end < start {
			return nil, &DecodeError{Err: errors.New("no JSON object found")}
		}
		s = s[start : end+1]
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if dec.More() {
		return nil, &DecodeError{Err: errors.New("trailing data after JSON object")}
	}
	return tree, nil
}

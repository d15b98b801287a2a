package normalize

import (
	"encoding/json"
	"fmt"
)

// Element kinds of the layout-hinted stream produced by document parsers.
const (
	ElemHeading    = "heading"
	ElemParagraph  = "paragraph"
	ElemListItem   = "list_item"
	ElemTableStart = "table_start"
	ElemTableRow   = "table_row"
	ElemTableEnd   = "table_end"
	ElemPageBreak  = "page_break"
)

// Element is one structural hint from an upstream parser. Level is the
// heading level (1-6) or the list nesting level (0 = top).
type Element struct {
	Kind   string   `json:"kind"`
	Level  int      `json:"level,omitempty"`
	Text   string   `json:"text,omitempty"`
	Cells  []string `json:"cells,omitempty"`
	Header bool     `json:"header,omitempty"`
}

// DecodeStream reads the JSON element stream. It accepts either a bare array
// or an object with an "elements" array.
func DecodeStream(data []byte) ([]Element, error) {
	var elems []Element
	if err := json.Unmarshal(data, &elems); err == nil {
		return elems, nil
	}
	var wrapped struct {
		Elements []Element `json:"elements"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode element stream: %w", err)
	}
	return wrapped.Elements, nil
}

package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/infoburn/constants"
)

// BlockType is the structural role of a normalized block.
type BlockType string

const (
	BlockHeading   BlockType = "heading"
	BlockParagraph BlockType = "paragraph"
	BlockTableRow  BlockType = "table_row"
	BlockListItem  BlockType = "list_item"
	// BlockMarker opens each source document inside a CaseDocument.
	BlockMarker BlockType = "marker"
)

// Block is one unit of normalized text. Depth is the section nesting depth:
// the number of headings enclosing the block (a level-2 heading has depth 1,
// the paragraphs under it depth 2). Indent is list nesting for list items.
type Block struct {
	ID         string    `json:"id"`
	Type       BlockType `json:"type"`
	Depth      int       `json:"depth"`
	Indent     int       `json:"indent,omitempty"`
	Text       string    `json:"text"`
	DocumentID uuid.UUID `json:"document_id"`
}

// Markdown renders the block as one line of canonical markdown.
func (b Block) Markdown() string {
	switch b.Type {
	case BlockHeading:
		level := b.Depth + 1
		if level > 6 {
			level = 6
		}
		return strings.Repeat("#", level) + " " + b.Text
	case BlockMarker:
		return "# " + b.Text
	case BlockListItem:
		return strings.Repeat("  ", b.Indent) + "- " + b.Text
	case BlockTableRow:
		return "| " + b.Text + " |"
	}
	return b.Text
}

// NormalizedFragment is the normalizer output for one SourceDocument.
type NormalizedFragment struct {
	DocumentID uuid.UUID              `json:"document_id"`
	CaseID     string                 `json:"case_id"`
	Kind       constants.DocumentKind `json:"kind"`
	Filename   string                 `json:"filename,omitempty"`
	IngestedAt time.Time              `json:"ingested_at"`
	Blocks     []Block                `json:"blocks"`
	Warnings   []string               `json:"warnings,omitempty"`
}

// CaseDocument is the merged, cleaned text of one case. Frozen after merge.
type CaseDocument struct {
	CaseID  string      `json:"case_id"`
	Blocks  []Block     `json:"blocks"`
	Sources []uuid.UUID `json:"sources"`
}

// Markdown renders every block, one per line.
func (c CaseDocument) Markdown() string {
	return RenderBlocks(c.Blocks)
}

// RenderBlocks joins the markdown rendering of blocks with newlines.
func RenderBlocks(blocks []Block) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		lines = append(lines, b.Markdown())
	}
	return strings.Join(lines, "\n")
}

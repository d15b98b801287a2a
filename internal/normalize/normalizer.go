package normalize

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
)

// Normalizer converts source documents into NormalizedFragments. It is
// stateless apart from its converters and safe for concurrent use.
type Normalizer struct {
	html   *htmlConverter
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{html: newHTMLConverter(), logger: logger}
}

// Normalize produces the fragment for doc. Malformed elements are dropped and
// reported in Warnings; only an undecodable document is an error.
func (n *Normalizer) Normalize(doc entity.SourceDocument) (entity.NormalizedFragment, error) {
	elems, warnings, err := n.elements(doc)
	if err != nil {
		n.logger.Error("normalize.decode_failed", "doc_id", doc.ID, "case_id", doc.CaseID, "media_type", doc.MediaType, "error", err)
		return entity.NormalizedFragment{}, err
	}

	blocks, more := buildBlocks(doc.ID, elems)
	warnings = append(warnings, more...)

	frag := entity.NormalizedFragment{
		DocumentID: doc.ID,
		CaseID:     doc.CaseID,
		Kind:       doc.Kind,
		Filename:   doc.Filename,
		IngestedAt: doc.IngestedAt,
		Blocks:     blocks,
		Warnings:   warnings,
	}
	if len(warnings) > 0 {
		n.logger.Warn("normalize.warnings", "doc_id", doc.ID, "case_id", doc.CaseID, "count", len(warnings))
	}
	n.logger.Debug("normalize.ok", "doc_id", doc.ID, "case_id", doc.CaseID, "blocks", len(blocks))
	return frag, nil
}

func (n *Normalizer) elements(doc entity.SourceDocument) ([]Element, []string, error) {
	switch constants.NormalizeMediaType(doc.MediaType) {
	case constants.MediaBlocks:
		elems, err := DecodeStream(doc.Content)
		if err != nil {
			return nil, nil, common.WrapError(common.ErrInvalidInput, err.Error())
		}
		return elems, nil, nil
	case constants.MediaHTML:
		md, err := n.html.toMarkdown(string(doc.Content))
		if err != nil {
			return nil, nil, common.WrapError(common.ErrInvalidInput, err.Error())
		}
		elems, warnings := ParseMarkdown(md)
		return elems, warnings, nil
	case constants.MediaMarkdown, constants.MediaPlain:
		elems, warnings := ParseMarkdown(string(doc.Content))
		return elems, warnings, nil
	}
	return nil, nil, fmt.Errorf("%w: unsupported media type %q", common.ErrInvalidInput, doc.MediaType)
}

type tableState struct {
	at      int
	headers []string
	rows    [][]string
}

// buildBlocks walks the element stream keeping the current section depth.
func buildBlocks(docID uuid.UUID, elems []Element) ([]entity.Block, []string) {
	var (
		blocks   []entity.Block
		warnings []string
		depth    int
		table    *tableState
	)
	add := func(t entity.BlockType, d, indent int, text string) {
		text = CleanLine(text)
		if text == "" {
			return
		}
		blocks = append(blocks, entity.Block{
			ID:         fmt.Sprintf("%s:%04d", docID, len(blocks)+1),
			Type:       t,
			Depth:      d,
			Indent:     indent,
			Text:       text,
			DocumentID: docID,
		})
	}
	dropTable := func(reason string) {
		warnings = append(warnings, fmt.Sprintf("element %d: %s, table dropped (%d rows)", table.at, reason, len(table.rows)))
		table = nil
	}

	for i, el := range elems {
		switch el.Kind {
		case ElemTableStart:
			if table != nil {
				dropTable("unterminated table")
			}
			table = &tableState{at: i}
			continue
		case ElemTableRow:
			if table == nil {
				warnings = append(warnings, fmt.Sprintf("element %d: table row outside a table dropped", i))
				continue
			}
			cells := make([]string, len(el.Cells))
			for j, c := range el.Cells {
				cells[j] = CleanLine(c)
			}
			if el.Header && table.headers == nil && len(table.rows) == 0 {
				table.headers = cells
			} else {
				table.rows = append(table.rows, cells)
			}
			continue
		case ElemTableEnd:
			if table == nil {
				warnings = append(warnings, fmt.Sprintf("element %d: table end without start ignored", i))
				continue
			}
			for _, text := range flattenTable(table, &warnings) {
				add(entity.BlockTableRow, depth, 0, text)
			}
			table = nil
			continue
		case ElemPageBreak:
			// tables may span pages
			continue
		}

		if table != nil {
			dropTable("unterminated table")
		}
		switch el.Kind {
		case ElemHeading:
			level := min(max(el.Level, 1), 6)
			add(entity.BlockHeading, level-1, 0, el.Text)
			depth = level
		case ElemParagraph:
			add(entity.BlockParagraph, depth, 0, el.Text)
		case ElemListItem:
			add(entity.BlockListItem, depth, max(el.Level, 0), el.Text)
		default:
			warnings = append(warnings, fmt.Sprintf("element %d: unknown kind %q dropped", i, el.Kind))
		}
	}
	if table != nil {
		dropTable("unterminated table at end of document")
	}
	return blocks, warnings
}

// flattenTable denormalizes headers into every row: "Header: value; ...".
// Rows whose width does not match the header are dropped.
func flattenTable(t *tableState, warnings *[]string) []string {
	headers := t.headers
	if headers == nil {
		width := 0
		for _, r := range t.rows {
			width = max(width, len(r))
		}
		headers = make([]string, width)
	}
	for i := range headers {
		if headers[i] == "" {
			headers[i] = fmt.Sprintf("col%d", i+1)
		}
	}

	var out []string
	for r, row := range t.rows {
		if len(row) != len(headers) {
			*warnings = append(*warnings, fmt.Sprintf("element %d: table row %d has %d cells, header has %d; row dropped", t.at, r+1, len(row), len(headers)))
			continue
		}
		parts := make([]string, 0, len(row))
		for c, cell := range row {
			if cell == "" {
				continue
			}
			parts = append(parts, headers[c]+": "+cell)
		}
		if len(parts) > 0 {
			out = append(out, strings.Join(parts, "; "))
		}
	}
	return out
}

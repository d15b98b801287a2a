package normalize

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
)

const admissionMarkdown = "# Burns Unit\n" +
	"## Admission\n" +
	"Patient:   John Smith,\tDOB 1980-01-01\r\n" +
	"- Burns to left hand\n" +
	"  - second degree\n" +
	"| Test | Value |\n" +
	"|---|---|\n" +
	"| Hb | 12.1 |\n" +
	"| PCR |  |\n" +
	"---\n" +
	"Plan: dressing\n"

func doc(mediaType, content string) entity.SourceDocument {
	return entity.SourceDocument{
		ID:         uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		CaseID:     "1234",
		Kind:       constants.KindAdmission,
		MediaType:  mediaType,
		Filename:   "1234E.md",
		Content:    []byte(content),
		IngestedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func texts(blocks []entity.Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.Text
	}
	return out
}

func TestNormalize_IdempotentBytes(t *testing.T) {
	n := NewNormalizer(nil)
	src := doc(constants.MediaMarkdown, admissionMarkdown)

	first, err := n.Normalize(src)
	require.NoError(t, err)
	second, err := n.Normalize(src)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestNormalize_MarkdownStructure(t *testing.T) {
	frag, err := NewNormalizer(nil).Normalize(doc(constants.MediaMarkdown, admissionMarkdown))
	require.NoError(t, err)
	assert.Empty(t, frag.Warnings)
	assert.Equal(t, "1234", frag.CaseID)
	assert.Equal(t, constants.KindAdmission, frag.Kind)

	require.Len(t, frag.Blocks, 8)
	want := []struct {
		typ    entity.BlockType
		depth  int
		indent int
		text   string
	}{
		{entity.BlockHeading, 0, 0, "Burns Unit"},
		{entity.BlockHeading, 1, 0, "Admission"},
		{entity.BlockParagraph, 2, 0, "Patient: John Smith, DOB 1980-01-01"},
		{entity.BlockListItem, 2, 0, "Burns to left hand"},
		{entity.BlockListItem, 2, 1, "second degree"},
		{entity.BlockTableRow, 2, 0, "Test: Hb; Value: 12.1"},
		{entity.BlockTableRow, 2, 0, "Test: PCR"},
		{entity.BlockParagraph, 2, 0, "Plan: dressing"},
	}
	for i, w := range want {
		b := frag.Blocks[i]
		assert.Equal(t, w.typ, b.Type, "block %d type", i)
		assert.Equal(t, w.depth, b.Depth, "block %d depth", i)
		assert.Equal(t, w.indent, b.Indent, "block %d indent", i)
		assert.Equal(t, w.text, b.Text, "block %d text", i)
		assert.Equal(t, frag.DocumentID, b.DocumentID)
	}
	assert.Equal(t, "11111111-2222-3333-4444-555555555555:0001", frag.Blocks[0].ID)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555:0008", frag.Blocks[7].ID)
}

func TestNormalize_RenderedMarkdownIsFixedPoint(t *testing.T) {
	n := NewNormalizer(nil)
	src := "# Release\nMr. Smith discharged\n- dressing changes\n  - every 48h\n## Plan\nfollow-up in 2 weeks"

	first, err := n.Normalize(doc(constants.MediaMarkdown, src))
	require.NoError(t, err)
	rendered := entity.RenderBlocks(first.Blocks)

	second, err := n.Normalize(doc(constants.MediaMarkdown, rendered))
	require.NoError(t, err)
	assert.Equal(t, first.Blocks, second.Blocks)
	assert.Equal(t, rendered, entity.RenderBlocks(second.Blocks))
}

func TestNormalize_MalformedTablesDroppedWithWarnings(t *testing.T) {
	stream := []Element{
		{Kind: ElemHeading, Level: 1, Text: "Labs"},
		{Kind: ElemTableRow, Cells: []string{"orphan", "row"}},
		{Kind: ElemTableStart},
		{Kind: ElemTableRow, Header: true, Cells: []string{"Test", "Value"}},
		{Kind: ElemTableRow, Cells: []string{"Hb", "12.1"}},
		{Kind: ElemParagraph, Text: "table never closed"},
		{Kind: ElemTableStart},
		{Kind: ElemTableRow, Header: true, Cells: []string{"Site", "Pathogen"}},
		{Kind: ElemPageBreak},
		{Kind: ElemTableRow, Cells: []string{"wound", "S. aureus"}},
		{Kind: ElemTableRow, Cells: []string{"blood", "E. coli", "extra"}},
		{Kind: ElemTableEnd},
		{Kind: "figure", Text: "ignored"},
	}
	raw, err := json.Marshal(stream)
	require.NoError(t, err)

	frag, err := NewNormalizer(nil).Normalize(doc(constants.MediaBlocks, string(raw)))
	require.NoError(t, err)

	assert.Equal(t, []string{"Labs", "table never closed", "Site: wound; Pathogen: S. aureus"}, texts(frag.Blocks))
	require.Len(t, frag.Warnings, 4)
	assert.Contains(t, frag.Warnings[0], "outside a table")
	assert.Contains(t, frag.Warnings[1], "unterminated table")
	assert.Contains(t, frag.Warnings[2], "has 3 cells")
	assert.Contains(t, frag.Warnings[3], "unknown kind")
}

func TestNormalize_TableWithoutDelimiterRow(t *testing.T) {
	frag, err := NewNormalizer(nil).Normalize(doc(constants.MediaPlain, "| Drug | Dose |\n| Morphine | 2 mg |"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Drug: Morphine; Dose: 2 mg"}, texts(frag.Blocks))
	require.Len(t, frag.Warnings, 1)
	assert.Contains(t, frag.Warnings[0], "without delimiter row")
}

func TestNormalize_HTMLIsSanitizedAndConverted(t *testing.T) {
	html := `<html><body>
<h1>Admission</h1>
<script>alert("x")</script>
<p>Patient: John Smith</p>
<table>
<thead><tr><th>Test</th><th>Value</th></tr></thead>
<tbody><tr><td>Hb</td><td>12.1</td></tr></tbody>
</table>
</body></html>`

	frag, err := NewNormalizer(nil).Normalize(doc("text/html; charset=utf-8", html))
	require.NoError(t, err)

	got := texts(frag.Blocks)
	assert.Contains(t, got, "Admission")
	assert.Contains(t, got, "Patient: John Smith")
	assert.Contains(t, got, "Test: Hb; Value: 12.1")
	for _, text := range got {
		assert.NotContains(t, text, "alert")
	}
	assert.Equal(t, entity.BlockHeading, frag.Blocks[0].Type)
}

func TestNormalize_FormFeedIsPageBreak(t *testing.T) {
	frag, err := NewNormalizer(nil).Normalize(doc(constants.MediaPlain, "first page\n\fsecond page"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first page", "second page"}, texts(frag.Blocks))
}

func TestNormalize_UnsupportedMediaType(t *testing.T) {
	_, err := NewNormalizer(nil).Normalize(doc("application/pdf", "%PDF-1.7"))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.True(t, strings.Contains(err.Error(), "application/pdf"))
}

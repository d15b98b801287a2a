package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reATXHeading = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	reListItem   = regexp.MustCompile(`^(\s*)(?:[-*+•]|\d{1,3}[.)])\s+(.*)$`)
	reRule       = regexp.MustCompile(`^\s*(?:[-*_]\s*){3,}$`)
	reFence      = regexp.MustCompile("^\\s*(```|~~~)")
	reDelimRow   = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(?:\|\s*:?-{3,}:?\s*)*\|?$`)
	reQuote      = regexp.MustCompile(`^\s*>\s?`)
)

// ParseMarkdown turns markdown (or plain text, which is a subset of it) into
// the element stream. Every non-blank line outside a table becomes its own
// element. Rules, code fences and form feeds become page breaks or are skipped.
func ParseMarkdown(text string) ([]Element, []string) {
	var (
		elems    []Element
		warnings []string
		table    []string
		tableAt  int
	)
	flushTable := func() {
		if len(table) == 0 {
			return
		}
		elems = append(elems, tableElements(table, tableAt, &warnings)...)
		table = nil
	}

	lines := strings.Split(CleanText(text), "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "|") {
			if len(table) == 0 {
				tableAt = i + 1
			}
			table = append(table, line)
			continue
		}
		flushTable()

		switch {
		case strings.Contains(raw, "\f"):
			elems = append(elems, Element{Kind: ElemPageBreak})
			if rest := strings.TrimSpace(strings.ReplaceAll(raw, "\f", "")); rest != "" {
				elems = append(elems, Element{Kind: ElemParagraph, Text: rest})
			}
		case line == "":
			continue
		case reFence.MatchString(line), reRule.MatchString(line):
			continue
		case reATXHeading.MatchString(line):
			m := reATXHeading.FindStringSubmatch(line)
			elems = append(elems, Element{Kind: ElemHeading, Level: len(m[1]), Text: m[2]})
		case reListItem.MatchString(raw):
			m := reListItem.FindStringSubmatch(raw)
			indent := len(strings.ReplaceAll(m[1], "\t", "  ")) / 2
			elems = append(elems, Element{Kind: ElemListItem, Level: indent, Text: m[2]})
		default:
			elems = append(elems, Element{Kind: ElemParagraph, Text: reQuote.ReplaceAllString(line, "")})
		}
	}
	flushTable()
	return elems, warnings
}

// tableElements converts consecutive pipe-table lines into a terminated
// table. A missing delimiter row means the first row is taken as the header.
func tableElements(lines []string, lineNo int, warnings *[]string) []Element {
	out := []Element{{Kind: ElemTableStart}}
	header := true
	if len(lines) < 2 || !reDelimRow.MatchString(lines[1]) {
		*warnings = append(*warnings, fmt.Sprintf("line %d: table without delimiter row, first row used as header", lineNo))
	}
	for _, l := range lines {
		if reDelimRow.MatchString(l) {
			continue
		}
		out = append(out, Element{Kind: ElemTableRow, Cells: splitCells(l), Header: header})
		header = false
	}
	return append(out, Element{Kind: ElemTableEnd})
}

func splitCells(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

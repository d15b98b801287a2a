package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(`[ \x{00A0}\x{2007}\x{202F}]{2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	reHardSpace  = regexp.MustCompile(`[\x{00A0}\x{2007}\x{202F}]`)
	reZeroWidth  = regexp.MustCompile(`[\x{200B}\x{200C}\x{200D}\x{FEFF}]`)
)

// CleanText canonicalizes a whole document: NFC, unix newlines, no tabs,
// at most one blank line between paragraphs. Line breaks are kept.
func CleanText(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFC.String(s)
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reZeroWidth.ReplaceAllString(s, "")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// CleanLine collapses all whitespace runs in one line of text to single spaces.
func CleanLine(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFC.String(s)
	s = reZeroWidth.ReplaceAllString(s, "")
	s = reHardSpace.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

package anonymize

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Entity types produced by the built-in detectors.
const (
	TypeName    = "NAME"
	TypeDate    = "DATE"
	TypeID      = "ID"
	TypePhone   = "PHONE"
	TypeEmail   = "EMAIL"
	TypeAddress = "ADDRESS"
)

// Span is one detected entity in a block of text. Start and End are byte
// offsets. Key, when set, is the canonical entity the span refers to (an
// alias resolved by the detector); otherwise the span text is canonicalized.
type Span struct {
	Start    int
	End      int
	Type     string
	Text     string
	Key      string
	Detector string

	rank int
}

func (s Span) length() int { return s.End - s.Start }

func (s Span) overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Detector finds sensitive entities in text. Implementations must be safe
// for concurrent use; the anonymizer calls them from several goroutines.
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string) ([]Span, error)
}

// DetectError reports ranges a detector could not classify. Spans returned
// alongside it are still used; the ranges are flagged as undetected risk.
type DetectError struct {
	Ranges [][2]int
	Reason string
}

func (e *DetectError) Error() string {
	return fmt.Sprintf("detection failed on %d range(s): %s", len(e.Ranges), e.Reason)
}

// CanonicalKey folds case, Unicode composition and whitespace so that
// surface variants of one entity compare equal.
func CanonicalKey(s string) string {
	s = norm.NFC.String(s)
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

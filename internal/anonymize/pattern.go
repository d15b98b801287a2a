package anonymize

import (
	"context"
	"fmt"
	"regexp"

	"github.com/joseph-ayodele/infoburn/internal/common"
)

type compiledPattern struct {
	name  string
	typ   string
	re    *regexp.Regexp
	group int
}

// PatternDetector matches structured identifiers (dates, ID numbers, phone
// numbers, e-mails, postal codes) by format.
type PatternDetector struct {
	patterns []compiledPattern
}

func NewPatternDetector(rules []common.PatternRule) (*PatternDetector, error) {
	d := &PatternDetector{}
	for _, r := range rules {
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", r.Name, err)
		}
		if r.Group < 0 || r.Group > re.NumSubexp() {
			return nil, fmt.Errorf("pattern %s: no group %d", r.Name, r.Group)
		}
		d.patterns = append(d.patterns, compiledPattern{name: r.Name, typ: r.Type, re: re, group: r.Group})
	}
	return d, nil
}

func (d *PatternDetector) Name() string { return "pattern" }

// Detect returns matches in pattern order; earlier patterns win ties on
// identical ranges.
func (d *PatternDetector) Detect(ctx context.Context, text string) ([]Span, error) {
	var spans []Span
	for _, p := range d.patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2*p.group], m[2*p.group+1]
			if start < 0 || start == end {
				continue
			}
			spans = append(spans, Span{
				Start:    start,
				End:      end,
				Type:     p.typ,
				Text:     text[start:end],
				Detector: d.Name(),
			})
		}
	}
	return spans, nil
}

package anonymize

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

const namePattern = `\p{Lu}[\p{L}'’-]*(?:\s+(?:(?:d[aeo]s?|e|van|von|de la)\s+)?\p{Lu}[\p{L}'’-]*){0,3}`

// HonorificDetector is a heuristic name detector: capitalized words that
// follow a title ("Mr.", "Dra.") or a label ("Patient:", "Nome:").
type HonorificDetector struct {
	re *regexp.Regexp
}

func NewHonorificDetector(titles, labels []string) *HonorificDetector {
	quote := func(words []string) string {
		sorted := append([]string(nil), words...)
		sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
		for i := range sorted {
			sorted[i] = regexp.QuoteMeta(sorted[i])
		}
		return strings.Join(sorted, "|")
	}

	var alts []string
	if len(titles) > 0 {
		alts = append(alts, `(?i:`+quote(titles)+`)\.?`)
	}
	if len(labels) > 0 {
		alts = append(alts, `(?i:`+quote(labels)+`)\s*:`)
	}
	if len(alts) == 0 {
		return &HonorificDetector{}
	}
	expr := `(?:^|[^\p{L}\p{N}])(?:` + strings.Join(alts, "|") + `)\s+(` + namePattern + `)`
	return &HonorificDetector{re: regexp.MustCompile(expr)}
}

func (d *HonorificDetector) Name() string { return "honorific" }

func (d *HonorificDetector) Detect(ctx context.Context, text string) ([]Span, error) {
	if d.re == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var spans []Span
	for _, m := range d.re.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		spans = append(spans, Span{
			Start:    start,
			End:      end,
			Type:     TypeName,
			Text:     text[start:end],
			Detector: d.Name(),
		})
	}
	return spans, nil
}

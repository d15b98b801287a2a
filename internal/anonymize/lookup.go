package anonymize

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/infoburn/internal/common"
)

type lookupForm struct {
	re  *regexp.Regexp
	typ string
	key string
}

// LookupDetector matches a curated list of names (patients, staff,
// hospitals). Every alias of an entry resolves to the entry's canonical key.
type LookupDetector struct {
	forms []lookupForm
}

func NewLookupDetector(entities []common.LookupEntity) *LookupDetector {
	d := &LookupDetector{}
	for _, e := range entities {
		typ := e.Type
		if typ == "" {
			typ = TypeName
		}
		key := CanonicalKey(e.Name)
		for _, form := range append([]string{e.Name}, e.Aliases...) {
			words := strings.Fields(form)
			if len(words) == 0 {
				continue
			}
			for i := range words {
				words[i] = regexp.QuoteMeta(words[i])
			}
			re := regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(` + strings.Join(words, `\s+`) + `)`)
			d.forms = append(d.forms, lookupForm{re: re, typ: typ, key: key})
		}
	}
	// longer forms first so "John Smith" is tried before "Smith"
	sort.SliceStable(d.forms, func(i, j int) bool {
		return len(d.forms[i].re.String()) > len(d.forms[j].re.String())
	})
	return d
}

func (d *LookupDetector) Name() string { return "lookup" }

func (d *LookupDetector) Detect(ctx context.Context, text string) ([]Span, error) {
	var spans []Span
	for _, f := range d.forms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, m := range f.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2], m[3]
			if next, _ := utf8.DecodeRuneInString(text[end:]); end < len(text) && isWordRune(next) {
				continue
			}
			spans = append(spans, Span{
				Start:    start,
				End:      end,
				Type:     f.typ,
				Text:     text[start:end],
				Key:      f.key,
				Detector: d.Name(),
			})
		}
	}
	return spans, nil
}

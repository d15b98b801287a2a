package merge

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
)

// Stats counts what the merger removed.
type Stats struct {
	Fragments   int `json:"fragments"`
	BlocksIn    int `json:"blocks_in"`
	BlocksOut   int `json:"blocks_out"`
	Duplicates  int `json:"duplicates"`
	Boilerplate int `json:"boilerplate"`
	Noise       int `json:"noise"`
}

// Merger builds one CaseDocument from the fragments of a case.
type Merger struct {
	boilerplate []*regexp.Regexp
	logger      *slog.Logger
}

// NewMerger compiles the boilerplate pattern set. Patterns match against the
// whitespace-normalized text of a block.
func NewMerger(patterns []string, logger *slog.Logger) (*Merger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Merger{logger: logger}
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("boilerplate[%d] is not a valid regex", i), err)
		}
		m.boilerplate = append(m.boilerplate, re)
	}
	return m, nil
}

// Merge orders fragments by document kind then ingestion time, opens each with
// a marker block, drops boilerplate and noise, and collapses consecutive
// duplicate blocks. Blocks of one document keep their relative order.
func (m *Merger) Merge(caseID string, frags []entity.NormalizedFragment) (entity.CaseDocument, Stats, error) {
	if strings.TrimSpace(caseID) == "" {
		return entity.CaseDocument{}, Stats{}, fmt.Errorf("%w: case id missing", common.ErrInvalidInput)
	}
	if len(frags) == 0 {
		return entity.CaseDocument{}, Stats{}, fmt.Errorf("%w: case %s has no documents", common.ErrNotFound, caseID)
	}
	for _, f := range frags {
		if f.CaseID != caseID {
			return entity.CaseDocument{}, Stats{}, fmt.Errorf("%w: fragment %s belongs to case %q, not %q", common.ErrInvalidInput, f.DocumentID, f.CaseID, caseID)
		}
	}

	ordered := make([]entity.NormalizedFragment, len(frags))
	copy(ordered, frags)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Kind.Order() != b.Kind.Order() {
			return a.Kind.Order() < b.Kind.Order()
		}
		if !a.IngestedAt.Equal(b.IngestedAt) {
			return a.IngestedAt.Before(b.IngestedAt)
		}
		return a.DocumentID.String() < b.DocumentID.String()
	})

	out := entity.CaseDocument{CaseID: caseID}
	stats := Stats{Fragments: len(ordered)}
	for n, f := range ordered {
		out.Sources = append(out.Sources, f.DocumentID)
		out.Blocks = append(out.Blocks, marker(f, n+1))

		lastKey := ""
		for _, b := range f.Blocks {
			stats.BlocksIn++
			key := whitespaceKey(b.Text)
			switch {
			case isNoise(key):
				stats.Noise++
				continue
			case m.isBoilerplate(key):
				stats.Boilerplate++
				continue
			case key == lastKey:
				stats.Duplicates++
				continue
			}
			lastKey = key
			out.Blocks = append(out.Blocks, b)
		}
	}
	stats.BlocksOut = len(out.Blocks)

	m.logger.Info("merge.ok",
		"case_id", caseID,
		"fragments", stats.Fragments,
		"blocks_in", stats.BlocksIn,
		"blocks_out", stats.BlocksOut,
		"duplicates", stats.Duplicates,
		"boilerplate", stats.Boilerplate,
		"noise", stats.Noise,
	)
	return out, stats, nil
}

func (m *Merger) isBoilerplate(text string) bool {
	for _, re := range m.boilerplate {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// marker names a document by kind and its position in the case. Filenames
// come from callers and may carry identifiers, so they never appear here.
func marker(f entity.NormalizedFragment, ordinal int) entity.Block {
	return entity.Block{
		ID:         fmt.Sprintf("%s:0000", f.DocumentID),
		Type:       entity.BlockMarker,
		Text:       fmt.Sprintf("%s | DOCUMENT %d", f.Kind.Title(), ordinal),
		DocumentID: f.DocumentID,
	}
}

func whitespaceKey(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// isNoise is true for blocks without a single letter or digit.
func isNoise(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) < 0
}

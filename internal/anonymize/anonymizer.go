package anonymize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
)

// Result is the output of one anonymization pass. Map is the audit artifact;
// only Text may be handed to extraction.
type Result struct {
	Text entity.AnonymizedText
	Map  *Map
}

// Anonymizer replaces detected entities with case-scoped placeholders.
// It holds no per-case state and is safe for concurrent use.
type Anonymizer struct {
	detectors []Detector
	residual  *PatternDetector
	keep      map[string]struct{}
	workers   int
	logger    *slog.Logger
}

type Option func(*Anonymizer)

// WithWorkers bounds how many blocks are scanned concurrently within a case.
func WithWorkers(n int) Option {
	return func(a *Anonymizer) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithKeep exempts surface forms from redaction.
func WithKeep(forms ...string) Option {
	return func(a *Anonymizer) {
		for _, f := range forms {
			if k := CanonicalKey(f); k != "" {
				a.keep[k] = struct{}{}
			}
		}
	}
}

// New builds an anonymizer over detectors listed in precedence order.
// residual, when set, is re-run on the output to flag surviving identifiers.
func New(detectors []Detector, residual *PatternDetector, logger *slog.Logger, opts ...Option) *Anonymizer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Anonymizer{
		detectors: detectors,
		residual:  residual,
		keep:      make(map[string]struct{}),
		workers:   runtime.GOMAXPROCS(0),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FromRules builds the configured detector strategies in rule order.
func FromRules(rules common.AnonymizerRules, logger *slog.Logger, opts ...Option) (*Anonymizer, error) {
	patterns, err := NewPatternDetector(rules.Patterns)
	if err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", "invalid anonymizer pattern", err)
	}
	var detectors []Detector
	for _, name := range rules.Detectors {
		switch name {
		case "pattern":
			detectors = append(detectors, patterns)
		case "lookup":
			detectors = append(detectors, NewLookupDetector(rules.Entities))
		case "honorific":
			detectors = append(detectors, NewHonorificDetector(rules.Titles, rules.Labels))
		default:
			return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown detector %q", name), common.ErrInvalidInput)
		}
	}
	opts = append([]Option{WithKeep(rules.Keep...)}, opts...)
	return New(detectors, patterns, logger, opts...), nil
}

type blockScan struct {
	spans []Span
	risks []entity.RiskFlag
}

// Anonymize scans doc and substitutes every detected entity. Detector
// failures never abort the pass; they come back as risk flags. Only context
// cancellation is an error.
func (a *Anonymizer) Anonymize(ctx context.Context, doc entity.CaseDocument) (*Result, error) {
	start := time.Now()
	logger := common.LoggerFrom(common.WithCaseID(ctx, doc.CaseID), a.logger)

	scans := make([]blockScan, len(doc.Blocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, b := range doc.Blocks {
		if b.Type == entity.BlockMarker {
			continue
		}
		g.Go(func() error {
			scan, err := a.scanBlock(gctx, logger, b)
			if err != nil {
				return err
			}
			scans[i] = scan
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	aliases := nameAliases(scans)
	m := NewMap(doc.CaseID)
	out := entity.AnonymizedText{CaseID: doc.CaseID, Blocks: make([]entity.Block, len(doc.Blocks))}
	for i, b := range doc.Blocks {
		scan := scans[i]
		out.Risks = append(out.Risks, scan.risks...)
		if len(scan.spans) > 0 {
			b.Text = substitute(b.Text, scan.spans, func(s Span) string {
				key := spanKey(s)
				if s.Type == TypeName {
					if full, ok := aliases[key]; ok {
						key = full
					}
				}
				return m.Resolve(s.Type, key, s.Text)
			})
		}
		out.Blocks[i] = b
	}

	if a.residual != nil {
		for _, b := range out.Blocks {
			survivors, err := a.residual.Detect(ctx, b.Text)
			if err != nil {
				return nil, err
			}
			for _, s := range survivors {
				if _, ok := a.keep[CanonicalKey(s.Text)]; ok {
					continue
				}
				logger.Warn("anonymize.risk", "block_id", b.ID, "detector", "residual", "type", s.Type)
				out.Risks = append(out.Risks, entity.RiskFlag{
					BlockID:  b.ID,
					Start:    s.Start,
					End:      s.End,
					Detector: "residual",
					Reason:   s.Type + " pattern survived substitution",
				})
			}
		}
	}

	logger.Info("anonymize.ok", "blocks", len(doc.Blocks), "entities", m.Len(), "risks", len(out.Risks), "elapsed_ms", time.Since(start).Milliseconds())
	return &Result{Text: out, Map: m}, nil
}

func (a *Anonymizer) scanBlock(ctx context.Context, logger *slog.Logger, b entity.Block) (blockScan, error) {
	var (
		scan       blockScan
		candidates []Span
	)
	for rank, d := range a.detectors {
		spans, err := d.Detect(ctx, b.Text)
		if err != nil {
			if ctx.Err() != nil {
				return blockScan{}, ctx.Err()
			}
			logger.Warn("anonymize.risk", "block_id", b.ID, "detector", d.Name(), "error", err)
			var de *DetectError
			if errors.As(err, &de) && len(de.Ranges) > 0 {
				for _, r := range de.Ranges {
					scan.risks = append(scan.risks, entity.RiskFlag{BlockID: b.ID, Start: r[0], End: r[1], Detector: d.Name(), Reason: de.Reason})
				}
			} else {
				scan.risks = append(scan.risks, entity.RiskFlag{BlockID: b.ID, Start: 0, End: len(b.Text), Detector: d.Name(), Reason: err.Error()})
			}
		}
		for _, s := range spans {
			if s.Start < 0 || s.End > len(b.Text) || s.Start >= s.End {
				continue
			}
			key := spanKey(s)
			if key == "" {
				continue
			}
			if _, ok := a.keep[key]; ok {
				continue
			}
			s.rank = rank
			if s.Detector == "" {
				s.Detector = d.Name()
			}
			candidates = append(candidates, s)
		}
	}
	scan.spans = resolveOverlaps(candidates)
	return scan, nil
}

// resolveOverlaps keeps a non-overlapping subset: longer spans first, then
// earliest start, then detector precedence. The result is in text order.
func resolveOverlaps(spans []Span) []Span {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].length() != spans[j].length() {
			return spans[i].length() > spans[j].length()
		}
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].rank < spans[j].rank
	})
	var kept []Span
	for _, s := range spans {
		clash := false
		for _, k := range kept {
			if s.overlaps(k) {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, s)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// nameAliases maps a partial name key ("smith") to the one full name in the
// case it is a trailing part of ("john smith"). Ambiguous partials map to
// nothing and get their own placeholder.
func nameAliases(scans []blockScan) map[string]string {
	seen := make(map[string]struct{})
	var full []string
	for _, scan := range scans {
		for _, s := range scan.spans {
			if s.Type != TypeName {
				continue
			}
			k := spanKey(s)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			full = append(full, k)
		}
	}

	aliases := make(map[string]string)
	for _, k := range full {
		var match string
		n := 0
		for _, other := range full {
			if other != k && strings.HasSuffix(other, " "+k) {
				match = other
				n++
			}
		}
		if n == 1 {
			aliases[k] = match
		}
	}
	return aliases
}

func spanKey(s Span) string {
	if s.Key != "" {
		return s.Key
	}
	return CanonicalKey(s.Text)
}

func substitute(text string, spans []Span, placeholder func(Span) string) string {
	var sb strings.Builder
	last := 0
	for _, s := range spans {
		sb.WriteString(text[last:s.Start])
		sb.WriteString(placeholder(s))
		last = s.End
	}
	sb.WriteString(text[last:])
	return sb.String()
}

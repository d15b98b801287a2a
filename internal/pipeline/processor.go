package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/infoburn/internal/anonymize"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
	"github.com/joseph-ayodele/infoburn/internal/extract"
	"github.com/joseph-ayodele/infoburn/internal/merge"
	"github.com/joseph-ayodele/infoburn/internal/normalize"
	"github.com/joseph-ayodele/infoburn/internal/repository"
)

// Extractor runs the extraction state machine; *extract.Orchestrator implements it.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) (extract.Outcome, error)
}

// CaseResult is everything one pass over a case produced. Stages that ran
// keep their output even when a later stage failed.
type CaseResult struct {
	CaseID       string
	Documents    int
	Warnings     []string
	Merge        merge.Stats
	Document     *entity.CaseDocument
	Anonymized   *entity.AnonymizedText
	// Mapping holds real surface forms behind each placeholder. It is for
	// restricted audit storage only and never reaches the extractor.
	Mapping      *anonymize.Map
	Placeholders int
	Outcomes     []extract.Outcome
	Elapsed      time.Duration
}

// Processor chains normalize, merge, anonymize and extract for one case.
type Processor struct {
	docs       repository.DocumentRepository
	records    repository.RecordStore
	normalizer *normalize.Normalizer
	merger     *merge.Merger
	anonymizer *anonymize.Anonymizer
	extractor  Extractor
	schemas    []entity.SchemaRef
	logger     *slog.Logger
}

func NewProcessor(
	docs repository.DocumentRepository,
	records repository.RecordStore,
	normalizer *normalize.Normalizer,
	merger *merge.Merger,
	anonymizer *anonymize.Anonymizer,
	extractor Extractor,
	schemas []entity.SchemaRef,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		docs:       docs,
		records:    records,
		normalizer: normalizer,
		merger:     merger,
		anonymizer: anonymizer,
		extractor:  extractor,
		schemas:    schemas,
		logger:     logger,
	}
}

// Schemas returns the refs extracted for every case.
func (p *Processor) Schemas() []entity.SchemaRef {
	out := make([]entity.SchemaRef, len(p.schemas))
	copy(out, p.schemas)
	return out
}

// ProcessCase runs every stage for caseID. Schemas are extracted in order
// and the first failure aborts the rest of the case; its error is returned
// as-is, a *extract.CaseFailure for case-fatal extraction failures.
func (p *Processor) ProcessCase(ctx context.Context, caseID string, force bool) (res CaseResult, err error) {
	start := time.Now()
	ctx = common.WithCaseID(ctx, caseID)
	logger := common.LoggerFrom(ctx, p.logger)
	res.CaseID = caseID
	defer func() { res.Elapsed = time.Since(start) }()

	docs, err := p.docs.ListByCase(ctx, caseID)
	if err != nil {
		return res, err
	}
	if len(docs) == 0 {
		return res, fmt.Errorf("%w: case %s has no documents", common.ErrNotFound, caseID)
	}
	res.Documents = len(docs)

	frags := make([]entity.NormalizedFragment, 0, len(docs))
	for _, d := range docs {
		frag, err := p.normalizer.Normalize(d)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", d.Filename, err))
			continue
		}
		res.Warnings = append(res.Warnings, frag.Warnings...)
		frags = append(frags, frag)
	}

	doc, stats, err := p.merger.Merge(caseID, frags)
	if err != nil {
		logger.Error("pipeline.merge_failed", "error", err)
		return res, err
	}
	res.Document, res.Merge = &doc, stats

	anon, err := p.anonymizer.Anonymize(ctx, doc)
	if err != nil {
		return res, err
	}
	res.Anonymized = &anon.Text
	res.Mapping = anon.Map
	res.Placeholders = anon.Map.Len()

	for _, ref := range p.schemas {
		out, err := p.extractor.Extract(ctx, extract.Request{CaseID: caseID, Schema: ref, Text: anon.Text, Force: force})
		res.Outcomes = append(res.Outcomes, out)
		if err != nil {
			logger.Error("pipeline.case_failed", "schema", ref.String(), "case_fatal", common.IsCaseFatal(err), "error", err)
			return res, err
		}
	}

	logger.Info("pipeline.case_done",
		"documents", res.Documents, "blocks", len(doc.Blocks), "placeholders", res.Placeholders,
		"risks", len(anon.Text.Risks), "schemas", len(p.schemas), "elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// PendingCases lists cases with documents that lack a record for at least
// one configured schema.
func (p *Processor) PendingCases(ctx context.Context) ([]string, error) {
	cases, err := p.docs.ListCases(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, c := range cases {
		for _, ref := range p.schemas {
			ok, err := p.records.Exists(ctx, c, ref)
			if err != nil {
				return nil, err
			}
			if !ok {
				pending = append(pending, c)
				break
			}
		}
	}
	return pending, nil
}

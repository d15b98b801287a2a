package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
	"github.com/joseph-ayodele/infoburn/internal/repository"
)

// RejectReason says why a submission was refused at the boundary.
type RejectReason string

const (
	RejectUnsupportedMedia RejectReason = "unsupported_media_type"
	RejectEmptyContent     RejectReason = "empty_content"
	RejectMissingCaseID    RejectReason = "missing_case_id"
	RejectInvalidCaseID    RejectReason = "invalid_case_id"
	RejectUnknownKind      RejectReason = "unknown_document_kind"
	RejectTooLarge         RejectReason = "content_too_large"
)

// DefaultMaxBytes bounds one source document.
const DefaultMaxBytes = 16 << 20

// Submission is one document handed to the ingestion boundary.
type Submission struct {
	CaseID    string
	Kind      string
	MediaType string
	Filename  string
	Content   []byte
}

// Result is accepted or rejected plus reason. Deduplicated means the case
// already held the same bytes and the stored document was returned.
type Result struct {
	Accepted     bool
	Reason       RejectReason
	Detail       string
	Document     entity.SourceDocument
	Deduplicated bool
}

// Ingestor validates submissions and stores accepted documents.
type Ingestor struct {
	docs     repository.DocumentRepository
	logger   *slog.Logger
	maxBytes int
	now      func() time.Time
}

func NewIngestor(docs repository.DocumentRepository, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		docs:     docs,
		logger:   logger,
		maxBytes: DefaultMaxBytes,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func reject(reason RejectReason, detail string) Result {
	return Result{Reason: reason, Detail: detail}
}

// Submit checks sub and stores it. A rejection is a Result, not an error;
// errors are reserved for storage failures.
func (i *Ingestor) Submit(ctx context.Context, sub Submission) (Result, error) {
	caseID := strings.TrimSpace(sub.CaseID)
	var res Result
	switch kind, ok := constants.ParseKind(sub.Kind); {
	case caseID == "":
		res = reject(RejectMissingCaseID, "case id is required")
	case common.ValidateCaseID(caseID).HasErrors():
		// The id may be a misnamed file carrying patient details; keep it out of logs.
		i.logger.Warn("ingest.rejected", "reason", RejectInvalidCaseID)
		return reject(RejectInvalidCaseID, "case id must be at most 64 letters, digits, '-' or '_'"), nil
	case len(sub.Content) == 0 || strings.TrimSpace(string(sub.Content)) == "":
		res = reject(RejectEmptyContent, "document has no content")
	case !constants.IsSupportedMedia(sub.MediaType):
		res = reject(RejectUnsupportedMedia, "media type "+sub.MediaType+" is not supported")
	case !ok:
		res = reject(RejectUnknownKind, "document kind "+sub.Kind+" is not one of "+strings.Join(constants.KindsAsStrings(), ", "))
	case len(sub.Content) > i.maxBytes:
		res = reject(RejectTooLarge, "document exceeds the size limit")
	default:
		doc, created, err := i.docs.Add(ctx, entity.SourceDocument{
			CaseID:     caseID,
			Kind:       kind,
			MediaType:  constants.NormalizeMediaType(sub.MediaType),
			Filename:   sub.Filename,
			Content:    sub.Content,
			IngestedAt: i.now(),
		})
		if err != nil {
			return Result{}, err
		}
		i.logger.Info("ingest.accepted", "case_id", caseID, "doc_id", doc.ID, "kind", kind, "deduplicated", !created)
		return Result{Accepted: true, Document: doc, Deduplicated: !created}, nil
	}
	i.logger.Warn("ingest.rejected", "case_id", caseID, "filename", sub.Filename, "reason", res.Reason)
	return res, nil
}

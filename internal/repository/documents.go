package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
)

// DocumentRepository stores ingested source documents. A document is keyed
// by case and content hash, so resubmitting the same bytes is a no-op.
type DocumentRepository interface {
	Add(ctx context.Context, doc entity.SourceDocument) (entity.SourceDocument, bool, error)
	ListByCase(ctx context.Context, caseID string) ([]entity.SourceDocument, error)
	ListCases(ctx context.Context) ([]string, error)
}

type documentRepo struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewDocumentRepository(db *DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepo{drv: db.Driver(), logger: logger}
}

type documentRow struct {
	ID          string    `sql:"id"`
	CaseID      string    `sql:"case_id"`
	Kind        string    `sql:"kind"`
	MediaType   string    `sql:"media_type"`
	Filename    string    `sql:"filename"`
	Content     []byte    `sql:"content"`
	ContentHash string    `sql:"content_hash"`
	IngestedAt  time.Time `sql:"ingested_at"`
}

func (r documentRow) entity() (entity.SourceDocument, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return entity.SourceDocument{}, fmt.Errorf("%w: document id %q: %v", common.ErrDatabase, r.ID, err)
	}
	return entity.SourceDocument{
		ID:          id,
		CaseID:      r.CaseID,
		Kind:        constants.DocumentKind(r.Kind),
		MediaType:   r.MediaType,
		Filename:    r.Filename,
		Content:     r.Content,
		ContentHash: r.ContentHash,
		IngestedAt:  r.IngestedAt.UTC(),
	}, nil
}

var documentColumns = []string{"id", "case_id", "kind", "media_type", "filename", "content", "content_hash", "ingested_at"}

// Add inserts doc, filling ID, ContentHash and IngestedAt when unset. When the
// case already holds the same content the stored document is returned with
// created=false.
func (r *documentRepo) Add(ctx context.Context, doc entity.SourceDocument) (entity.SourceDocument, bool, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.ContentHash == "" {
		doc.ContentHash = entity.HashContent(doc.Content)
	}
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now().UTC()
	}

	q, args := entsql.Dialect(r.drv.Dialect()).
		Insert(documentsTable).
		Columns(documentColumns...).
		Values(doc.ID.String(), doc.CaseID, string(doc.Kind), doc.MediaType, doc.Filename, doc.Content, doc.ContentHash, doc.IngestedAt).
		Query()
	err := exec(ctx, r.drv, q, args)
	if err == nil {
		r.logger.Info("document.stored", "doc_id", doc.ID, "case_id", doc.CaseID, "kind", doc.Kind, "bytes", len(doc.Content))
		return doc, true, nil
	}
	if !isUniqueViolation(err) {
		r.logger.Error("failed to store document", "case_id", doc.CaseID, "filename", doc.Filename, "error", err)
		return entity.SourceDocument{}, false, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}

	existing, err := r.byHash(ctx, doc.CaseID, doc.ContentHash)
	if err != nil {
		return entity.SourceDocument{}, false, err
	}
	r.logger.Info("document.duplicate", "doc_id", existing.ID, "case_id", doc.CaseID)
	return existing, false, nil
}

func (r *documentRepo) byHash(ctx context.Context, caseID, hash string) (entity.SourceDocument, error) {
	b := entsql.Dialect(r.drv.Dialect())
	t := b.Table(documentsTable)
	q, args := b.Select(documentColumns...).From(t).
		Where(entsql.And(entsql.EQ("case_id", caseID), entsql.EQ("content_hash", hash))).
		Query()
	var rows []documentRow
	if err := query(ctx, r.drv, q, args, &rows); err != nil {
		return entity.SourceDocument{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if len(rows) == 0 {
		return entity.SourceDocument{}, common.ErrNotFound
	}
	return rows[0].entity()
}

// ListByCase returns the case's documents in ingestion order.
func (r *documentRepo) ListByCase(ctx context.Context, caseID string) ([]entity.SourceDocument, error) {
	b := entsql.Dialect(r.drv.Dialect())
	q, args := b.Select(documentColumns...).From(b.Table(documentsTable)).
		Where(entsql.EQ("case_id", caseID)).
		OrderBy("ingested_at", "id").
		Query()
	var rows []documentRow
	if err := query(ctx, r.drv, q, args, &rows); err != nil {
		r.logger.Error("failed to list documents", "case_id", caseID, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	out := make([]entity.SourceDocument, 0, len(rows))
	var errs []error
	for _, row := range rows {
		doc, err := row.entity()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, doc)
	}
	return out, errors.Join(errs...)
}

// ListCases returns every case id with at least one document, sorted.
func (r *documentRepo) ListCases(ctx context.Context) ([]string, error) {
	b := entsql.Dialect(r.drv.Dialect())
	q, args := b.Select("case_id").From(b.Table(documentsTable)).
		Distinct().
		OrderBy("case_id").
		Query()
	var ids []string
	if err := query(ctx, r.drv, q, args, &ids); err != nil {
		r.logger.Error("failed to list cases", "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return ids, nil
}

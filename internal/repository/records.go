package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
)

// RecordStore is the persistence boundary for structured records. Put never
// overwrites: a second record for the same case and schema version fails
// with ErrConflict.
type RecordStore interface {
	Put(ctx context.Context, rec entity.StructuredRecord, canonical []byte) error
	Get(ctx context.Context, caseID string, ref entity.SchemaRef) (entity.StructuredRecord, error)
	Exists(ctx context.Context, caseID string, ref entity.SchemaRef) (bool, error)
	// List returns the records of one case, or of every case when caseID is "".
	List(ctx context.Context, caseID string) ([]entity.StructuredRecord, error)
}

type recordRepo struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewRecordRepository(db *DB, logger *slog.Logger) RecordStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &recordRepo{drv: db.Driver(), logger: logger}
}

type recordRow struct {
	ID             string    `sql:"id"`
	CaseID         string    `sql:"case_id"`
	SchemaName     string    `sql:"schema_name"`
	SchemaVersion  int       `sql:"schema_version"`
	AttemptID      *string   `sql:"attempt_id"`
	AttemptOrdinal int       `sql:"attempt_ordinal"`
	Source         string    `sql:"source"`
	CreatedAt      time.Time `sql:"created_at"`
	Data           string    `sql:"data"`
}

var recordColumns = []string{"id", "case_id", "schema_name", "schema_version", "attempt_id", "attempt_ordinal", "source", "created_at", "data"}

func (r recordRow) entity() (entity.StructuredRecord, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return entity.StructuredRecord{}, fmt.Errorf("%w: record id %q: %v", common.ErrDatabase, r.ID, err)
	}
	rec := entity.StructuredRecord{
		ID:             id,
		CaseID:         r.CaseID,
		Schema:         entity.SchemaRef{Name: r.SchemaName, Version: r.SchemaVersion},
		AttemptOrdinal: r.AttemptOrdinal,
		Source:         constants.RecordSource(r.Source),
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.AttemptID != nil && *r.AttemptID != "" {
		aid, err := uuid.Parse(*r.AttemptID)
		if err != nil {
			return entity.StructuredRecord{}, fmt.Errorf("%w: record %s attempt id: %v", common.ErrDatabase, r.ID, err)
		}
		rec.AttemptID = &aid
	}
	if rec.Data, err = DecodeData([]byte(r.Data)); err != nil {
		return entity.StructuredRecord{}, fmt.Errorf("%w: record %s data: %v", common.ErrDatabase, r.ID, err)
	}
	return rec, nil
}

// DecodeData parses stored record JSON keeping numbers as json.Number.
func DecodeData(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *recordRepo) Put(ctx context.Context, rec entity.StructuredRecord, canonical []byte) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var attemptID any
	if rec.AttemptID != nil {
		attemptID = rec.AttemptID.String()
	}

	q, args := entsql.Dialect(r.drv.Dialect()).
		Insert(recordsTable).
		Columns(recordColumns...).
		Values(rec.ID.String(), rec.CaseID, rec.Schema.Name, rec.Schema.Version, attemptID,
			rec.AttemptOrdinal, string(rec.Source), rec.CreatedAt.UTC(), string(canonical)).
		Query()
	if err := exec(ctx, r.drv, q, args); err != nil {
		if isUniqueViolation(err) {
			r.logger.Warn("record.conflict", "case_id", rec.CaseID, "schema", rec.Schema.String())
			return fmt.Errorf("%w: %s for case %s", common.ErrConflict, rec.Schema, rec.CaseID)
		}
		r.logger.Error("failed to store record", "case_id", rec.CaseID, "schema", rec.Schema.String(), "error", err)
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	r.logger.Info("record.stored", "record_id", rec.ID, "case_id", rec.CaseID, "schema", rec.Schema.String(), "source", rec.Source)
	return nil
}

func (r *recordRepo) where(caseID string, ref entity.SchemaRef) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("case_id", caseID),
		entsql.EQ("schema_name", ref.Name),
		entsql.EQ("schema_version", ref.Version),
	)
}

func (r *recordRepo) Get(ctx context.Context, caseID string, ref entity.SchemaRef) (entity.StructuredRecord, error) {
	b := entsql.Dialect(r.drv.Dialect())
	q, args := b.Select(recordColumns...).From(b.Table(recordsTable)).
		Where(r.where(caseID, ref)).
		Query()
	var rows []recordRow
	if err := query(ctx, r.drv, q, args, &rows); err != nil {
		return entity.StructuredRecord{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if len(rows) == 0 {
		return entity.StructuredRecord{}, fmt.Errorf("%w: %s for case %s", common.ErrNotFound, ref, caseID)
	}
	return rows[0].entity()
}

func (r *recordRepo) Exists(ctx context.Context, caseID string, ref entity.SchemaRef) (bool, error) {
	b := entsql.Dialect(r.drv.Dialect())
	q, args := b.Select().Count().From(b.Table(recordsTable)).
		Where(r.where(caseID, ref)).
		Query()
	var counts []int
	if err := query(ctx, r.drv, q, args, &counts); err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return len(counts) > 0 && counts[0] > 0, nil
}

func (r *recordRepo) List(ctx context.Context, caseID string) ([]entity.StructuredRecord, error) {
	b := entsql.Dialect(r.drv.Dialect())
	sel := b.Select(recordColumns...).From(b.Table(recordsTable))
	if caseID != "" {
		sel.Where(entsql.EQ("case_id", caseID))
	}
	q, args := sel.OrderBy("case_id", "schema_name", "schema_version").Query()
	var rows []recordRow
	if err := query(ctx, r.drv, q, args, &rows); err != nil {
		r.logger.Error("failed to list records", "case_id", caseID, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	out := make([]entity.StructuredRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.entity()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

package repository

import (
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

// AttemptRepository is the append-only extraction audit trail, keyed by
// (case, schema name, schema version, ordinal). There is no update or delete.
type AttemptRepository interface {
	Append(ctx context.Context, a entity.ExtractionAttempt) error
	List(ctx context.Context, caseID string, ref entity.SchemaRef) ([]entity.ExtractionAttempt, error)
	Count(ctx context.Context, caseID string, ref entity.SchemaRef) (int, error)
	ListByCase(ctx context.Context, caseID string) ([]entity.ExtractionAttempt, error)
	ListAll(ctx context.Context) ([]entity.ExtractionAttempt, error)
}

type attemptRepo struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewAttemptRepository(db *DB, logger *slog.Logger) AttemptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &attemptRepo{drv: db.Driver(), logger: logger}
}

type attemptRow struct {
	ID            string    `sql:"id"`
	CaseID        string    `sql:"case_id"`
	SchemaName    string    `sql:"schema_name"`
	SchemaVersion int       `sql:"schema_version"`
	Ordinal       int       `sql:"ordinal"`
	StartedAt     time.Time `sql:"started_at"`
	FinishedAt    time.Time `sql:"finished_at"`
	Outcome       string    `sql:"outcome"`
	FieldErrors   string    `sql:"field_errors"`
	Error         string    `sql:"error"`
	HintCount     int       `sql:"hint_count"`
}

var attemptColumns = []string{"id", "case_id", "schema_name", "schema_version", "ordinal", "started_at", "finished_at", "outcome", "field_errors", "error", "hint_count"}

func (r attemptRow) entity() (entity.ExtractionAttempt, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return entity.ExtractionAttempt{}, fmt.Errorf("%w: attempt id %q: %v", common.ErrDatabase, r.ID, err)
	}
	var fes []entity.FieldError
	if r.FieldErrors != "" {
		if err := json.Unmarshal([]byte(r.FieldErrors), &fes); err != nil {
			return entity.ExtractionAttempt{}, fmt.Errorf("%w: attempt %s field errors: %v", common.ErrDatabase, r.ID, err)
		}
	}
	return entity.ExtractionAttempt{
		ID:          id,
		CaseID:      r.CaseID,
		Schema:      entity.SchemaRef{Name: r.SchemaName, Version: r.SchemaVersion},
		Ordinal:     r.Ordinal,
		StartedAt:   r.StartedAt.UTC(),
		FinishedAt:  r.FinishedAt.UTC(),
		Outcome:     constants.AttemptOutcome(r.Outcome),
		FieldErrors: fes,
		Error:       r.Error,
		HintCount:   r.HintCount,
	}, nil
}

// Append writes one attempt. A second attempt with the same ordinal for the
// same case and schema version is rejected with ErrConflict.
func (r *attemptRepo) Append(ctx context.Context, a entity.ExtractionAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	fes := "[]"
	if len(a.FieldErrors) > 0 {
		b, err := json.Marshal(a.FieldErrors)
		if err != nil {
			return fmt.Errorf("%w: encode field errors: %v", common.ErrInvalidInput, err)
		}
		fes = string(b)
	}

	q, args := entsql.Dialect(r.drv.Dialect()).
		Insert(attemptsTable).
		Columns(attemptColumns...).
		Values(a.ID.String(), a.CaseID, a.Schema.Name, a.Schema.Version, a.Ordinal,
			a.StartedAt.UTC(), a.FinishedAt.UTC(), string(a.Outcome), fes, a.Error, a.HintCount).
		Query()
	if err := exec(ctx, r.drv, q, args); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: attempt %d of %s for case %s", common.ErrConflict, a.Ordinal, a.Schema, a.CaseID)
		}
		r.logger.Error("failed to append attempt", "case_id", a.CaseID, "schema", a.Schema.String(), "attempt", a.Ordinal, "error", err)
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	r.logger.Debug("attempt.appended", "case_id", a.CaseID, "schema", a.Schema.String(), "attempt", a.Ordinal, "outcome", a.Outcome)
	return nil
}

// List returns the attempts for one case and schema version by ordinal.
func (r *attemptRepo) List(ctx context.Context, caseID string, ref entity.SchemaRef) ([]entity.ExtractionAttempt, error) {
	b := entsql.Dialect(r.drv.Dialect())
	q, args := b.Select(attemptColumns...).From(b.Table(attemptsTable)).
		Where(entsql.And(
			entsql.EQ("case_id", caseID),
			entsql.EQ("schema_name", ref.Name),
			entsql.EQ("schema_version", ref.Version),
		)).
		OrderBy("ordinal").
		Query()
	return r.list(ctx, q, args)
}

// ListAll returns the whole trail grouped by case and schema.
func (r *attemptRepo) ListAll(ctx context.Context) ([]entity.ExtractionAttempt, error) {
	b := entsql.Dialect(r.drv.Dialect())
	q, args := b.Select(attemptColumns...).From(b.Table(attemptsTable)).
		OrderBy("case_id", "schema_name", "schema_version", "ordinal").
		Query()
	return r.list(ctx, q, args)
}

// ListByCase returns every attempt of one case across schemas.
func (r *attemptRepo) ListByCase(ctx context.Context, caseID string) ([]entity.ExtractionAttempt, error) {
	b := entsql.Dialect(r.drv.Dialect())
	q, args := b.Select(attemptColumns...).From(b.Table(attemptsTable)).
		Where(entsql.EQ("case_id", caseID)).
		OrderBy("schema_name", "schema_version", "ordinal").
		Query()
	return r.list(ctx, q, args)
}

func (r *attemptRepo) list(ctx context.Context, q string, args []any) ([]entity.ExtractionAttempt, error) {
	var rows []attemptRow
	if err := query(ctx, r.drv, q, args, &rows); err != nil {
		r.logger.Error("failed to list attempts", "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	out := make([]entity.ExtractionAttempt, 0, len(rows))
	for _, row := range rows {
		a, err := row.entity()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Count returns how many attempts were ever recorded for case and schema.
func (r *attemptRepo) Count(ctx context.Context, caseID string, ref entity.SchemaRef) (int, error) {
	b := entsql.Dialect(r.drv.Dialect())
	q, args := b.Select().Count().From(b.Table(attemptsTable)).
		Where(entsql.And(
			entsql.EQ("case_id", caseID),
			entsql.EQ("schema_name", ref.Name),
			entsql.EQ("schema_version", ref.Version),
		)).
		Query()
	var counts []int
	if err := query(ctx, r.drv, q, args, &counts); err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if len(counts) == 0 {
		return 0, nil
	}
	return counts[0], nil
}

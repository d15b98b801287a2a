package sheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
	"github.com/joseph-ayodele/infoburn/internal/schema"
)

// RowSchema is the registry schema every sheet row is validated against.
var RowSchema = entity.SchemaRef{Name: "admission_sheet", Version: 1}

// sensitiveColumns never leave the sheet.
var sensitiveColumns = map[string]bool{"nome": true, "processo": true}

type Schemas interface {
	Get(ref entity.SchemaRef) (*schema.Schema, error)
}

// Emitter writes a validated record once; *emit.Emitter implements it.
type Emitter interface {
	Emit(ctx context.Context, rec entity.StructuredRecord) ([]byte, error)
}

// RowError is one rejected row with every validation failure it produced.
type RowError struct {
	Line        int                 `json:"line"`
	ID          string              `json:"id"`
	FieldErrors []entity.FieldError `json:"field_errors,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Report summarizes one import.
type Report struct {
	Path     string     `json:"path"`
	Rows     int        `json:"rows"`
	Imported int        `json:"imported"`
	Existing int        `json:"existing"`
	Rejected []RowError `json:"rejected,omitempty"`
	// Ignored lists header columns not carried into records.
	Ignored []string `json:"ignored,omitempty"`
}

type Importer struct {
	schemas Schemas
	emitter Emitter
	logger  *slog.Logger
}

func NewImporter(schemas Schemas, emitter Emitter, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{schemas: schemas, emitter: emitter, logger: logger}
}

// ImportFile reads an export and imports every row. See Import.
func (im *Importer) ImportFile(ctx context.Context, path string) (Report, error) {
	header, rows, err := ReadFile(path)
	if err != nil {
		return Report{Path: path}, err
	}
	rep, err := im.Import(ctx, header, rows)
	rep.Path = path
	return rep, err
}

// Import types each row, validates it with the registry validator and emits
// it as a sheet-sourced record keyed by the row ID. Rows that already have a
// record count as existing. A failing row never stops the import; only a
// missing schema or a store failure does.
func (im *Importer) Import(ctx context.Context, header []string, rows []Row) (Report, error) {
	start := time.Now()
	sch, err := im.schemas.Get(RowSchema)
	if err != nil {
		return Report{}, err
	}
	declared := map[string]bool{}
	for _, f := range sch.Root.Fields {
		declared[f.Name] = true
	}

	rep := Report{Rows: len(rows)}
	for _, h := range header {
		if h != "" && !declared[h] {
			rep.Ignored = append(rep.Ignored, h)
		}
	}
	sort.Strings(rep.Ignored)

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		candidate := typeRow(row, declared)
		id, _ := candidate["ID"].(string)

		data, fes := schema.Validate(candidate, sch)
		if len(fes) > 0 {
			im.logger.Warn("sheet.row_rejected", "line", row.Line, "id", id, "errors", len(fes))
			rep.Rejected = append(rep.Rejected, RowError{Line: row.Line, ID: id, FieldErrors: fes})
			continue
		}

		_, err := im.emitter.Emit(ctx, entity.StructuredRecord{
			ID:        uuid.New(),
			CaseID:    id,
			Schema:    RowSchema,
			Source:    constants.SourceSheet,
			CreatedAt: time.Now().UTC(),
			Data:      data,
		})
		switch {
		case err == nil:
			rep.Imported++
		case errors.Is(err, common.ErrConflict):
			rep.Existing++
		case errors.Is(err, common.ErrValidation):
			rep.Rejected = append(rep.Rejected, RowError{Line: row.Line, ID: id, Error: err.Error()})
		default:
			return rep, fmt.Errorf("row %d: %w", row.Line, err)
		}
	}

	im.logger.Info("sheet.imported",
		"rows", rep.Rows, "imported", rep.Imported, "existing", rep.Existing,
		"rejected", len(rep.Rejected), "elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rep, nil
}

// typeRow keeps declared columns, drops blanks and applies the id and date
// formatting. Sensitive columns are dropped even if a schema declares them.
func typeRow(row Row, declared map[string]bool) map[string]any {
	out := make(map[string]any, len(declared))
	for k, v := range row.Values {
		if !declared[k] || sensitiveColumns[strings.ToLower(k)] || v == "" {
			continue
		}
		out[k] = v
	}
	if id, ok := out["ID"].(string); ok {
		out["ID"] = FormatID(id)
	}
	for _, col := range DateColumns {
		if v, ok := out[col].(string); ok {
			out[col] = FormatDate(v)
		}
	}
	return out
}

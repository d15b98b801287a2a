package emit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
	"github.com/joseph-ayodele/infoburn/internal/repository"
	"github.com/joseph-ayodele/infoburn/internal/schema"
)

// Schemas resolves schema refs; *schema.Registry implements it.
type Schemas interface {
	Get(ref entity.SchemaRef) (*schema.Schema, error)
}

// Emitter turns validated records into canonical JSON and writes them once.
type Emitter struct {
	schemas Schemas
	store   repository.RecordStore
	logger  *slog.Logger
}

func NewEmitter(schemas Schemas, store repository.RecordStore, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{schemas: schemas, store: store, logger: logger}
}

// Emit serializes rec, re-validates the bytes against the declared schema
// version with both validators and only then puts the record. Nothing is
// written when the self-check fails. ErrConflict from the store is passed
// through unchanged.
func (e *Emitter) Emit(ctx context.Context, rec entity.StructuredRecord) ([]byte, error) {
	start := time.Now()
	logger := common.LoggerFrom(common.WithCaseID(ctx, rec.CaseID), e.logger).With("schema", rec.Schema.String())

	sch, err := e.schemas.Get(rec.Schema)
	if err != nil {
		return nil, err
	}
	data, err := Canonical(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: encode record: %v", common.ErrValidation, err)
	}
	if err := SelfCheck(sch, data); err != nil {
		logger.Error("emit.self_check_failed", "error", err)
		return nil, err
	}
	if err := e.store.Put(ctx, rec, data); err != nil {
		return nil, err
	}
	logger.Info("emit.ok", "record_id", rec.ID, "bytes", len(data), "elapsed_ms", time.Since(start).Milliseconds())
	return data, nil
}

// SelfCheck decodes emitted bytes and validates them against sch with the
// generic validator and the exported JSON Schema.
func SelfCheck(sch *schema.Schema, data []byte) error {
	decoded, err := repository.DecodeData(data)
	if err != nil {
		return fmt.Errorf("%w: emitted JSON does not decode: %v", common.ErrValidation, err)
	}
	if _, fes := schema.Validate(decoded, sch); len(fes) > 0 {
		return fmt.Errorf("%w: emitted record fails %s: %v", common.ErrValidation, sch.Ref(), fes[0])
	}
	if err := sch.CheckJSON(data); err != nil {
		return fmt.Errorf("%w: emitted record fails JSON Schema %s: %v", common.ErrValidation, sch.Ref(), err)
	}
	return nil
}

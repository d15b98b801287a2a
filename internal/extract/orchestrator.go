package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
	"github.com/joseph-ayodele/infoburn/internal/llm"
	"github.com/joseph-ayodele/infoburn/internal/repository"
	"github.com/joseph-ayodele/infoburn/internal/schema"
)

// Schemas resolves schema refs; *schema.Registry implements it.
type Schemas interface {
	Get(ref entity.SchemaRef) (*schema.Schema, error)
}

// RecordChecker reports whether a record was already emitted.
type RecordChecker interface {
	Exists(ctx context.Context, caseID string, ref entity.SchemaRef) (bool, error)
}

// Emitter serializes and persists a validated record.
type Emitter interface {
	Emit(ctx context.Context, rec entity.StructuredRecord) ([]byte, error)
}

// Request asks for one schema instance from one case's anonymized text.
type Request struct {
	CaseID string
	Schema entity.SchemaRef
	Text   entity.AnonymizedText
	// Force re-extracts even when a record exists. The store still refuses
	// to overwrite, so a forced run over an existing record ends in conflict.
	Force bool
}

// Outcome is the result of one extraction run.
type Outcome struct {
	CaseID string
	Schema entity.SchemaRef
	State  constants.ExtractionState
	// Transitions lists every state the run passed through, Pending first.
	Transitions []constants.ExtractionState
	Record      *entity.StructuredRecord
	// Attempts are the attempts dispatched by this run.
	Attempts []entity.ExtractionAttempt
	// Skipped is set when a record already existed and nothing was dispatched.
	Skipped bool
	// Shared is set when more than one caller received this run's outcome,
	// the caller that started the run included.
	Shared bool
}

type Config struct {
	MaxAttempts    int
	AttemptCeiling int
	AttemptTimeout time.Duration
}

// Orchestrator runs the extract, validate, retry loop for (case, schema)
// pairs. Runs for different pairs proceed concurrently; concurrent requests
// for the same pair join the run in flight.
type Orchestrator struct {
	schemas   Schemas
	extractor llm.Extractor
	attempts  repository.AttemptRepository
	records   RecordChecker
	emitter   Emitter
	cfg       Config
	flight    singleflight.Group
	logger    *slog.Logger
	now       func() time.Time
}

func NewOrchestrator(
	schemas Schemas,
	extractor llm.Extractor,
	attempts repository.AttemptRepository,
	records RecordChecker,
	emitter Emitter,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptCeiling < cfg.MaxAttempts {
		cfg.AttemptCeiling = max(10, cfg.MaxAttempts)
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 90 * time.Second
	}
	return &Orchestrator{
		schemas:   schemas,
		extractor: extractor,
		attempts:  attempts,
		records:   records,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Extract runs (or joins) the extraction for req. A case-fatal failure is
// returned as *CaseFailure along with an Outcome in state Failed.
func (o *Orchestrator) Extract(ctx context.Context, req Request) (Outcome, error) {
	key := req.CaseID + "|" + req.Schema.String()
	v, err, shared := o.flight.Do(key, func() (any, error) {
		out, err := o.run(ctx, req)
		return out, err
	})
	out, _ := v.(Outcome)
	if shared {
		out.Shared = true
		o.logger.Debug("extract.joined", "case_id", req.CaseID, "schema", req.Schema.String(), "state", out.State)
	}
	return out, err
}

type runState struct {
	o        *Orchestrator
	req      Request
	ref      entity.SchemaRef
	out      Outcome
	logger   *slog.Logger
	startNum int
}

func (r *runState) enter(s constants.ExtractionState) {
	r.out.State = s
	r.out.Transitions = append(r.out.Transitions, s)
	r.logger.Debug("extract.state", "state", s, "attempt", len(r.out.Attempts))
}

func (o *Orchestrator) run(ctx context.Context, req Request) (Outcome, error) {
	ctx = common.WithCaseID(ctx, req.CaseID)
	logger := common.LoggerFrom(ctx, o.logger).With("schema", req.Schema.String())
	r := &runState{o: o, req: req, ref: req.Schema, logger: logger}
	r.out = Outcome{CaseID: req.CaseID, Schema: req.Schema}
	r.enter(constants.StatePending)

	sch, err := o.schemas.Get(req.Schema)
	if err != nil {
		return r.fail(ctx, err)
	}
	r.ref = sch.Ref()
	r.out.Schema = r.ref
	r.logger = common.LoggerFrom(ctx, o.logger).With("schema", r.ref.String())

	if !req.Force {
		exists, err := o.records.Exists(ctx, req.CaseID, r.ref)
		if err != nil {
			return r.fail(ctx, err)
		}
		if exists {
			r.out.Skipped = true
			r.enter(constants.StateSucceeded)
			r.logger.Info("extract.skip", "reason", "record exists")
			return r.out, nil
		}
	}

	prior, err := o.attempts.Count(ctx, req.CaseID, r.ref)
	if err != nil {
		return r.fail(ctx, err)
	}
	r.startNum = prior

	text := req.Text.Markdown()
	keep := sch.EnumValues()
	var (
		hints    []entity.FieldError
		failures int
		started  = time.Now()
	)
	for {
		ordinal := r.startNum + len(r.out.Attempts) + 1
		if ordinal > o.cfg.AttemptCeiling {
			return r.fail(ctx, fmt.Errorf("%w: %d attempts recorded, ceiling %d", common.ErrAttemptCeiling, ordinal-1, o.cfg.AttemptCeiling))
		}

		r.enter(constants.StateInFlight)
		a := entity.ExtractionAttempt{
			ID:        uuid.New(),
			CaseID:    req.CaseID,
			Schema:    r.ref,
			Ordinal:   ordinal,
			StartedAt: o.now(),
			HintCount: len(hints),
		}
		r.logger.Info("extract.attempt.start", "attempt", ordinal, "hints", len(hints))
		raw, err := o.dispatch(ctx, llm.ExtractRequest{
			CaseID:      req.CaseID,
			Schema:      r.ref,
			Description: sch.Description,
			JSONSchema:  sch.JSONSchema(),
			Text:        text,
			Hints:       hints,
			Attempt:     len(r.out.Attempts) + 1,
		})
		a.FinishedAt = o.now()

		var decodeErr *llm.DecodeError
		switch {
		case ctx.Err() != nil:
			a.Outcome = constants.OutcomeAbandoned
			a.Error = ctx.Err().Error()
			if err := r.record(context.WithoutCancel(ctx), a); err != nil {
				r.logger.Error("extract.audit_failed", "attempt", ordinal, "error", err)
			}
			r.enter(constants.StateFailed)
			r.logger.Warn("extract.abandoned", "attempt", ordinal, "error", ctx.Err())
			return r.out, ctx.Err()

		case errors.As(err, &decodeErr):
			a.FieldErrors = []entity.FieldError{{
				Path:       "$",
				Constraint: entity.ConstraintJSON,
				Message:    decodeErr.Error(),
			}}

		case err != nil:
			a.Outcome = constants.OutcomeTransportFailed
			a.Error = err.Error()
			if rerr := r.record(ctx, a); rerr != nil {
				return r.fail(ctx, rerr)
			}
			r.logger.Error("extract.transport_failed", "attempt", ordinal, "error", err)
			return r.fail(ctx, err)

		default:
			r.enter(constants.StateValidating)
			cleaned, nulled := llm.Sanitize(raw, keep...)
			if len(nulled) > 0 {
				r.logger.Debug("extract.sanitized", "attempt", ordinal, "nulled", len(nulled))
			}
			data, fes := schema.Validate(cleaned, sch)
			if len(fes) == 0 {
				return r.succeed(ctx, a, data, started)
			}
			a.FieldErrors = fes
		}

		a.Outcome = constants.OutcomeValidationFailed
		if err := r.record(ctx, a); err != nil {
			return r.fail(ctx, err)
		}
		failures++
		r.logger.Warn("extract.attempt.invalid", "attempt", ordinal, "field_errors", len(a.FieldErrors))
		if failures >= o.cfg.MaxAttempts {
			return r.fail(ctx, fmt.Errorf("%w: %d validation failures", common.ErrRetryBudgetExhausted, failures))
		}
		r.enter(constants.StateRetrying)
		hints = a.FieldErrors
	}
}

// dispatch calls the extractor under the per-attempt timeout. A timeout is a
// transport failure.
func (o *Orchestrator) dispatch(ctx context.Context, req llm.ExtractRequest) (any, error) {
	actx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()
	raw, err := o.extractor.Extract(actx, req)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, llm.ErrTransport) {
		err = &llm.TransportError{Op: "extract", Err: fmt.Errorf("attempt timed out after %s: %w", o.cfg.AttemptTimeout, err)}
	}
	return raw, err
}

func (r *runState) record(ctx context.Context, a entity.ExtractionAttempt) error {
	r.out.Attempts = append(r.out.Attempts, a)
	return r.o.attempts.Append(ctx, a)
}

func (r *runState) succeed(ctx context.Context, a entity.ExtractionAttempt, data map[string]any, started time.Time) (Outcome, error) {
	rec := entity.StructuredRecord{
		ID:             uuid.New(),
		CaseID:         r.req.CaseID,
		Schema:         r.ref,
		AttemptID:      &a.ID,
		AttemptOrdinal: a.Ordinal,
		Source:         constants.SourceExtraction,
		CreatedAt:      r.o.now(),
		Data:           data,
	}
	_, emitErr := r.o.emitter.Emit(ctx, rec)
	switch {
	case emitErr == nil:
		a.Outcome = constants.OutcomeSucceeded
	case ctx.Err() != nil:
		a.Outcome = constants.OutcomeAbandoned
		a.Error = ctx.Err().Error()
	default:
		a.Outcome = constants.OutcomeEmitFailed
		a.Error = "emit: " + emitErr.Error()
	}
	if err := r.record(context.WithoutCancel(ctx), a); err != nil {
		return r.fail(ctx, err)
	}
	if a.Outcome == constants.OutcomeAbandoned {
		r.enter(constants.StateFailed)
		r.logger.Warn("extract.abandoned", "attempt", a.Ordinal, "error", ctx.Err())
		return r.out, ctx.Err()
	}
	if emitErr != nil {
		return r.fail(ctx, emitErr)
	}
	r.out.Record = &rec
	r.enter(constants.StateSucceeded)
	r.logger.Info("extract.ok",
		"attempt", a.Ordinal,
		"attempts_in_run", len(r.out.Attempts),
		"record_id", rec.ID,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return r.out, nil
}

// fail moves the run to Failed and builds the CaseFailure with the complete
// stored trail.
func (r *runState) fail(ctx context.Context, cause error) (Outcome, error) {
	r.enter(constants.StateFailed)
	history := r.out.Attempts
	if r.ref.Version > 0 {
		if all, err := r.o.attempts.List(context.WithoutCancel(ctx), r.req.CaseID, r.ref); err == nil && len(all) >= len(history) {
			history = all
		}
	}
	cf := &CaseFailure{CaseID: r.req.CaseID, Schema: r.ref, Cause: cause, Attempts: history}
	fes := cf.FieldErrors()
	r.logger.Error("extract.failed", "attempts", len(history), "field_errors", len(fes), "error", cause)
	return r.out, cf
}

package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
	"github.com/joseph-ayodele/infoburn/internal/llm"
	"github.com/joseph-ayodele/infoburn/internal/schema"
)

var history = entity.SchemaRef{Name: "medical_history", Version: 1}

type memAttempts struct {
	mu   sync.Mutex
	rows []entity.ExtractionAttempt
}

func (m *memAttempts) Append(_ context.Context, a entity.ExtractionAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.CaseID == a.CaseID && r.Schema == a.Schema && r.Ordinal == a.Ordinal {
			return common.ErrConflict
		}
	}
	m.rows = append(m.rows, a)
	return nil
}

func (m *memAttempts) List(_ context.Context, caseID string, ref entity.SchemaRef) ([]entity.ExtractionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.ExtractionAttempt
	for _, r := range m.rows {
		if r.CaseID == caseID && r.Schema == ref {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memAttempts) Count(ctx context.Context, caseID string, ref entity.SchemaRef) (int, error) {
	rows, err := m.List(ctx, caseID, ref)
	return len(rows), err
}

func (m *memAttempts) ListByCase(_ context.Context, caseID string) ([]entity.ExtractionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.ExtractionAttempt
	for _, r := range m.rows {
		if r.CaseID == caseID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memAttempts) ListAll(context.Context) ([]entity.ExtractionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.ExtractionAttempt(nil), m.rows...), nil
}

type memRecords struct {
	mu   sync.Mutex
	recs map[string]entity.StructuredRecord
}

func newMemRecords() *memRecords {
	return &memRecords{recs: map[string]entity.StructuredRecord{}}
}

func (m *memRecords) Exists(_ context.Context, caseID string, ref entity.SchemaRef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.recs[caseID+"|"+ref.String()]
	return ok, nil
}

func (m *memRecords) Emit(_ context.Context, rec entity.StructuredRecord) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.CaseID + "|" + rec.Schema.String()
	if _, ok := m.recs[key]; ok {
		return nil, fmt.Errorf("%w: %s", common.ErrConflict, key)
	}
	m.recs[key] = rec
	return []byte("{}"), nil
}

// scripted answers call i with replies[i] (the last reply repeats) and
// captures every request.
type scripted struct {
	mu      sync.Mutex
	replies []func(ctx context.Context) (any, error)
	calls   []llm.ExtractRequest
}

func (s *scripted) Extract(ctx context.Context, req llm.ExtractRequest) (any, error) {
	s.mu.Lock()
	i := min(len(s.calls), len(s.replies)-1)
	s.calls = append(s.calls, req)
	reply := s.replies[i]
	s.mu.Unlock()
	return reply(ctx)
}

func (s *scripted) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func answer(v map[string]any) func(context.Context) (any, error) {
	return func(context.Context) (any, error) { return v, nil }
}

func failWith(err error) func(context.Context) (any, error) {
	return func(context.Context) (any, error) { return nil, err }
}

func withoutAllergies() map[string]any {
	return map[string]any{"diseases": []any{}, "medications": []any{}, "surgeries": []any{}}
}

func complete() map[string]any {
	v := withoutAllergies()
	v["has_allergies"] = true
	v["allergies"] = []any{"penicillin"}
	return v
}

type harness struct {
	orch     *Orchestrator
	attempts *memAttempts
	records  *memRecords
	stub     *scripted
}

func newHarness(t *testing.T, cfg Config, replies ...func(context.Context) (any, error)) harness {
	t.Helper()
	reg, err := schema.LoadRegistry("", nil)
	require.NoError(t, err)
	h := harness{attempts: &memAttempts{}, records: newMemRecords(), stub: &scripted{replies: replies}}
	h.orch = NewOrchestrator(reg, h.stub, h.attempts, h.records, h.records, cfg, nil)
	return h
}

func request() Request {
	return Request{
		CaseID: "1234",
		Schema: history,
		Text: entity.AnonymizedText{CaseID: "1234", Blocks: []entity.Block{
			{ID: "d:0001", Type: entity.BlockParagraph, Text: "[NAME_1] is allergic to penicillin."},
		}},
	}
}

func TestExtract_RetryFeedsFieldErrorsBack(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3}, answer(withoutAllergies()), answer(complete()))

	out, err := h.orch.Extract(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, constants.StateSucceeded, out.State)
	assert.Len(t, out.Attempts, 2)
	require.NotNil(t, out.Record)
	assert.Equal(t, 2, out.Record.AttemptOrdinal)
	assert.Equal(t, true, out.Record.Data["has_allergies"])
	assert.Equal(t, []constants.ExtractionState{
		constants.StatePending,
		constants.StateInFlight, constants.StateValidating, constants.StateRetrying,
		constants.StateInFlight, constants.StateValidating, constants.StateSucceeded,
	}, out.Transitions)

	require.Equal(t, 2, h.stub.callCount())
	assert.Empty(t, h.stub.calls[0].Hints)
	assert.Contains(t, h.stub.calls[1].Hints, entity.FieldError{
		Path: "has_allergies", Constraint: entity.ConstraintRequired, Message: "is required",
	})
	assert.Equal(t, 2, h.stub.calls[1].Attempt)
	assert.Contains(t, h.stub.calls[0].Text, "[NAME_1]")
	assert.NotEmpty(t, h.stub.calls[0].JSONSchema)

	trail, err := h.attempts.List(context.Background(), "1234", history)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, constants.OutcomeValidationFailed, trail[0].Outcome)
	assert.Equal(t, constants.OutcomeSucceeded, trail[1].Outcome)
	assert.Equal(t, 1, trail[1].HintCount)
	assert.Equal(t, trail[1].ID, *out.Record.AttemptID)
}

func TestExtract_BudgetExhaustedReportsFullHistory(t *testing.T) {
	bad := withoutAllergies()
	bad["surgeries"] = []any{map[string]any{"name": "skin graft", "year": 1850}}
	h := newHarness(t, Config{MaxAttempts: 3}, answer(withoutAllergies()), answer(bad))

	out, err := h.orch.Extract(context.Background(), request())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRetryBudgetExhausted)
	assert.True(t, common.IsCaseFatal(err))
	assert.Equal(t, constants.StateFailed, out.State)
	assert.Nil(t, out.Record)

	var cf *CaseFailure
	require.True(t, errors.As(err, &cf))
	require.Len(t, cf.Attempts, 3)
	paths := make([]string, 0)
	for _, fe := range cf.FieldErrors() {
		paths = append(paths, fe.Path)
	}
	assert.Equal(t, []string{"has_allergies", "surgeries[0].year", "has_allergies", "surgeries[0].year", "has_allergies"}, paths)
	assert.Contains(t, cf.Report(), "attempt 3 VALIDATION_FAILED")

	ok, _ := h.records.Exists(context.Background(), "1234", history)
	assert.False(t, ok)
}

func TestExtract_TransportFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3},
		failWith(&llm.TransportError{Op: "chat/completions", StatusCode: 502, Err: errors.New("bad gateway")}),
		answer(complete()))

	out, err := h.orch.Extract(context.Background(), request())
	assert.ErrorIs(t, err, llm.ErrTransport)
	assert.Equal(t, constants.StateFailed, out.State)
	assert.Equal(t, 1, h.stub.callCount())
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, constants.OutcomeTransportFailed, out.Attempts[0].Outcome)
	assert.Contains(t, out.Attempts[0].Error, "502")

	// the next run continues the ordinals
	out, err = h.orch.Extract(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Record.AttemptOrdinal)
}

func TestExtract_AttemptTimeoutIsTransportFailure(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3, AttemptTimeout: 20 * time.Millisecond},
		func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	_, err := h.orch.Extract(context.Background(), request())
	assert.ErrorIs(t, err, llm.ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, h.stub.callCount())
}

func TestExtract_NonJSONOutputIsRetryable(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3},
		failWith(&llm.DecodeError{Err: errors.New("no object found")}),
		answer(complete()))

	out, err := h.orch.Extract(context.Background(), request())
	require.NoError(t, err)
	assert.Len(t, out.Attempts, 2)
	require.Len(t, h.stub.calls[1].Hints, 1)
	assert.Equal(t, "$", h.stub.calls[1].Hints[0].Path)
	assert.Equal(t, entity.ConstraintJSON, h.stub.calls[1].Hints[0].Constraint)
}

func TestExtract_IdempotentUnlessForced(t *testing.T) {
	h := newHarness(t, Config{}, answer(complete()))
	ctx := context.Background()

	_, err := h.orch.Extract(ctx, request())
	require.NoError(t, err)

	out, err := h.orch.Extract(ctx, request())
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, constants.StateSucceeded, out.State)
	assert.Equal(t, 1, h.stub.callCount())

	forced := request()
	forced.Force = true
	out, err = h.orch.Extract(ctx, forced)
	assert.ErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, constants.StateFailed, out.State)
	assert.Equal(t, 2, h.stub.callCount())

	trail, _ := h.attempts.List(ctx, "1234", history)
	require.Len(t, trail, 2)
	assert.Contains(t, trail[1].Error, "emit:")
}

func TestExtract_AttemptCeilingCountsEarlierRuns(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3, AttemptCeiling: 4}, answer(withoutAllergies()))
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, h.attempts.Append(ctx, entity.ExtractionAttempt{
			CaseID: "1234", Schema: history, Ordinal: i, Outcome: constants.OutcomeTransportFailed,
		}))
	}

	_, err := h.orch.Extract(ctx, request())
	assert.ErrorIs(t, err, common.ErrAttemptCeiling)
	assert.Equal(t, 1, h.stub.callCount())

	var cf *CaseFailure
	require.True(t, errors.As(err, &cf))
	assert.Len(t, cf.Attempts, 4)

	_, err = h.orch.Extract(ctx, request())
	assert.ErrorIs(t, err, common.ErrAttemptCeiling)
	assert.Equal(t, 1, h.stub.callCount())
}

func TestExtract_AtMostOneInFlightPerCaseAndSchema(t *testing.T) {
	release := make(chan struct{})
	var entered atomic.Int32
	h := newHarness(t, Config{}, func(context.Context) (any, error) {
		entered.Add(1)
		<-release
		return complete(), nil
	})

	var wg sync.WaitGroup
	results := make([]Outcome, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.orch.Extract(context.Background(), request())
		}(i)
	}
	require.Eventually(t, func() bool { return entered.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, h.stub.callCount())
	assert.Equal(t, results[0].Record.ID, results[1].Record.ID)
	// Both callers received the same run's outcome, the one that started it too.
	assert.True(t, results[0].Shared)
	assert.True(t, results[1].Shared)

	trail, _ := h.attempts.List(context.Background(), "1234", history)
	assert.Len(t, trail, 1)
}

func TestExtract_DifferentCasesRunConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	h := newHarness(t, Config{}, func(context.Context) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return complete(), nil
	})

	var wg sync.WaitGroup
	for _, id := range []string{"1", "2", "3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			req := request()
			req.CaseID = id
			_, err := h.orch.Extract(context.Background(), req)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
	assert.Greater(t, peak.Load(), int32(1))
}

func TestExtract_CancellationAbandonsAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, Config{}, func(actx context.Context) (any, error) {
		cancel()
		<-actx.Done()
		return complete(), nil
	})

	out, err := h.orch.Extract(ctx, request())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out.Record)

	ok, _ := h.records.Exists(context.Background(), "1234", history)
	assert.False(t, ok)
	trail, _ := h.attempts.List(context.Background(), "1234", history)
	require.Len(t, trail, 1)
	assert.Equal(t, constants.OutcomeAbandoned, trail[0].Outcome)
}

// emitterFunc adapts a function to the Emitter interface.
type emitterFunc func(ctx context.Context, rec entity.StructuredRecord) ([]byte, error)

func (f emitterFunc) Emit(ctx context.Context, rec entity.StructuredRecord) ([]byte, error) {
	return f(ctx, rec)
}

func TestExtract_CancellationDuringEmitAbandonsAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, Config{}, answer(complete()))
	h.orch.emitter = emitterFunc(func(ectx context.Context, _ entity.StructuredRecord) ([]byte, error) {
		cancel()
		return nil, ectx.Err()
	})

	out, err := h.orch.Extract(ctx, request())
	require.ErrorIs(t, err, context.Canceled)
	var cf *CaseFailure
	assert.False(t, errors.As(err, &cf))
	assert.Nil(t, out.Record)
	assert.Equal(t, constants.StateFailed, out.State)

	ok, _ := h.records.Exists(context.Background(), "1234", history)
	assert.False(t, ok)
	trail, _ := h.attempts.List(context.Background(), "1234", history)
	require.Len(t, trail, 1)
	assert.Equal(t, constants.OutcomeAbandoned, trail[0].Outcome)
}

func TestExtract_EmitFailureIsNotRecordedAsSuccess(t *testing.T) {
	h := newHarness(t, Config{}, answer(complete()))
	h.orch.emitter = emitterFunc(func(context.Context, entity.StructuredRecord) ([]byte, error) {
		return nil, fmt.Errorf("%w: disk full", common.ErrDatabase)
	})

	out, err := h.orch.Extract(context.Background(), request())
	require.Error(t, err)
	var cf *CaseFailure
	require.ErrorAs(t, err, &cf)
	assert.ErrorIs(t, err, common.ErrDatabase)
	assert.Nil(t, out.Record)

	trail, _ := h.attempts.List(context.Background(), "1234", history)
	require.Len(t, trail, 1)
	assert.Equal(t, constants.OutcomeEmitFailed, trail[0].Outcome)
	assert.Contains(t, trail[0].Error, "disk full")
}

func TestExtract_UnknownSchemaFailsWithoutDispatch(t *testing.T) {
	h := newHarness(t, Config{}, answer(complete()))
	req := request()
	req.Schema = entity.SchemaRef{Name: "nope", Version: 1}

	out, err := h.orch.Extract(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrSchemaNotFound)
	assert.Equal(t, constants.StateFailed, out.State)
	assert.Zero(t, h.stub.callCount())
}

package emit

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
	"github.com/joseph-ayodele/infoburn/internal/repository"
	"github.com/joseph-ayodele/infoburn/internal/schema"
)

func TestCanonical_StableSortedWithNulls(t *testing.T) {
	v := map[string]any{
		"zeta":  []any{map[string]any{"b": 1, "a": nil}},
		"alpha": "<b>&",
		"when":  time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("WEST", 3600)),
		"n":     json.Number("12.50"),
		"tags":  []string{"x"},
	}
	got, err := Canonical(v)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"<b>&","n":12.50,"tags":["x"],"when":"2024-05-01T09:00:00Z","zeta":[{"a":null,"b":1}]}`, string(got))

	again, err := Canonical(v)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestCanonical_RejectsUnencodable(t *testing.T) {
	_, err := Canonical(map[string]any{"x": math.NaN()})
	assert.ErrorContains(t, err, "$.x")

	_, err = Canonical(map[string]any{"x": struct{}{}})
	assert.ErrorContains(t, err, "unsupported type")
}

type fixture struct {
	emitter  *Emitter
	store    repository.RecordStore
	registry *schema.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, common.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "emit.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	require.NoError(t, db.Migrate(ctx))

	reg, err := schema.LoadRegistry("", nil)
	require.NoError(t, err)
	store := repository.NewRecordRepository(db, nil)
	return fixture{emitter: NewEmitter(reg, store, nil), store: store, registry: reg}
}

func validated(t *testing.T, reg *schema.Registry, ref entity.SchemaRef, candidate string) map[string]any {
	t.Helper()
	sch, err := reg.Get(ref)
	require.NoError(t, err)
	var v any
	require.NoError(t, json.Unmarshal([]byte(candidate), &v))
	data, fes := schema.Validate(v, sch)
	require.Empty(t, fes)
	return data
}

func TestEmit_RoundTripsThroughValidator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := entity.SchemaRef{Name: "burns", Version: 1}

	rec := entity.StructuredRecord{
		CaseID:    "1234",
		Schema:    ref,
		Source:    constants.SourceExtraction,
		CreatedAt: time.Now().UTC(),
		Data: validated(t, f.registry, ref, `{
			"tbsa": 18,
			"mechanism": "Heat",
			"wildfire": false,
			"burns": [{"location": "hand", "laterality": "left", "depth": "2nd_degree_partial"}]
		}`),
	}
	out, err := f.emitter.Emit(ctx, rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"agent":null`)

	sch, err := f.registry.Get(ref)
	require.NoError(t, err)
	require.NoError(t, SelfCheck(sch, out))

	stored, err := f.store.Get(ctx, "1234", ref)
	require.NoError(t, err)
	again, err := Canonical(stored.Data)
	require.NoError(t, err)
	assert.Equal(t, string(out), string(again))
}

func TestEmit_ConflictIsNotOverwritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := entity.SchemaRef{Name: "medical_history", Version: 1}

	first := entity.StructuredRecord{CaseID: "1234", Schema: ref, Source: constants.SourceExtraction, CreatedAt: time.Now(),
		Data: validated(t, f.registry, ref, `{"diseases": [], "medications": [], "surgeries": [], "has_allergies": false}`)}
	_, err := f.emitter.Emit(ctx, first)
	require.NoError(t, err)

	second := first
	second.Data = validated(t, f.registry, ref, `{"diseases": [], "medications": [], "surgeries": [], "has_allergies": true}`)
	_, err = f.emitter.Emit(ctx, second)
	assert.ErrorIs(t, err, common.ErrConflict)

	stored, err := f.store.Get(ctx, "1234", ref)
	require.NoError(t, err)
	assert.Equal(t, false, stored.Data["has_allergies"])
}

func TestEmit_SelfCheckFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := entity.SchemaRef{Name: "burns", Version: 1}

	rec := entity.StructuredRecord{CaseID: "1234", Schema: ref, Source: constants.SourceExtraction, CreatedAt: time.Now(),
		Data: map[string]any{"tbsa": 250}}
	_, err := f.emitter.Emit(ctx, rec)
	assert.ErrorIs(t, err, common.ErrValidation)

	ok, err := f.store.Exists(ctx, "1234", ref)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.emitter.Emit(ctx, entity.StructuredRecord{CaseID: "1234", Schema: entity.SchemaRef{Name: "nope", Version: 1}})
	assert.ErrorIs(t, err, common.ErrSchemaNotFound)
}

package schema

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
)

const vitalsV1 = `
name: vitals
version: 1
root:
  fields:
    - name: heart_rate
      kind: integer
      required: true
      min: 0
`

const vitalsV2 = `
name: vitals
version: 2
root:
  fields:
    - name: heart_rate
      kind: integer
      required: true
    - name: spo2
      kind: number
      max: 100
`

func TestLoadRegistry_Builtins(t *testing.T) {
	r, err := LoadRegistry("", nil)
	require.NoError(t, err)
	assert.Equal(t, []entity.SchemaRef{
		{Name: "admission_sheet", Version: 1},
		{Name: "burns", Version: 1},
		{Name: "case_note", Version: 1},
		{Name: "clinical_case", Version: 1},
		{Name: "medical_history", Version: 1},
	}, r.List())

	_, err = r.Lookup("burns", 2)
	assert.ErrorIs(t, err, common.ErrSchemaNotFound)
	_, err = r.Get(entity.SchemaRef{Name: "nope"})
	assert.ErrorIs(t, err, common.ErrSchemaNotFound)

	assert.Error(t, r.Publish(&Schema{Name: "late", Version: 1, Root: &Field{Kind: KindObject}}))
}

func TestRegistry_VersionsAreImmutable(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.LoadFS(fstest.MapFS{
		"defs/vitals_v1.yaml": {Data: []byte(vitalsV1)},
		"defs/vitals_v2.yml":  {Data: []byte(vitalsV2)},
		"defs/README.md":      {Data: []byte("ignored")},
	}, "defs"))

	latest, err := r.Lookup("vitals", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	v1, err := r.Lookup("vitals", 1)
	require.NoError(t, err)
	_, errs := Validate(map[string]any{"heart_rate": -1}, v1)
	require.Len(t, errs, 1)
	assert.Equal(t, entity.ConstraintMin, errs[0].Constraint)

	again, err := Parse([]byte(vitalsV1))
	require.NoError(t, err)
	assert.ErrorIs(t, r.Publish(again), common.ErrConflict)
}

func TestRegistry_RejectsBadDefinitions(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "name: x\nversion: 1\nroot:\n  fields: []\nextra: true\n",
		"no version":       "name: x\nroot:\n  fields: []\n",
		"bad pattern":      "name: x\nversion: 1\nroot:\n  fields:\n    - name: a\n      kind: string\n      pattern: '('\n",
		"enum no values":   "name: x\nversion: 1\nroot:\n  fields:\n    - name: a\n      kind: enum\n",
		"duplicate field":  "name: x\nversion: 1\nroot:\n  fields:\n    - name: a\n      kind: string\n    - name: a\n      kind: string\n",
		"rule not a date":  "name: x\nversion: 1\nroot:\n  fields:\n    - name: a\n      kind: string\nrules:\n  - kind: date_order\n    fields: [a]\n",
		"union no variant": "name: x\nversion: 1\nroot:\n  kind: union\n  discriminator: t\n",
	}
	for name, def := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewRegistry(nil)
			err := r.LoadFS(fstest.MapFS{"s/x.yaml": {Data: []byte(def)}}, "s")
			assert.Error(t, err)
		})
	}
}

func TestLoadRegistry_BadDirIsPipelineFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nversion: 1\nroot:\n  kind: list\n"), 0o644))
	_, err := LoadRegistry(dir, nil)
	assert.ErrorIs(t, err, common.ErrRegistryLoad)
}

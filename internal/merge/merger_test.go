package merge

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func fragment(kind constants.DocumentKind, ingested time.Time, name string, lines ...string) entity.NormalizedFragment {
	id := uuid.New()
	f := entity.NormalizedFragment{DocumentID: id, CaseID: "1234", Kind: kind, Filename: name, IngestedAt: ingested}
	for i, l := range lines {
		f.Blocks = append(f.Blocks, entity.Block{
			ID:         fmt.Sprintf("%s:%04d", id, i+1),
			Type:       entity.BlockParagraph,
			Text:       l,
			DocumentID: id,
		})
	}
	return f
}

func blockTexts(doc entity.CaseDocument) []string {
	out := make([]string, len(doc.Blocks))
	for i, b := range doc.Blocks {
		out[i] = b.Text
	}
	return out
}

func newMerger(t *testing.T) *Merger {
	t.Helper()
	m, err := NewMerger(common.DefaultRules().Boilerplate, nil)
	require.NoError(t, err)
	return m
}

func TestMerge_AdmissionBeforeReleaseRegardlessOfIngestion(t *testing.T) {
	release := fragment(constants.KindRelease, t0, "1234A.md", "Mr. Smith discharged")
	admission := fragment(constants.KindAdmission, t0.Add(time.Hour), "1234E.md", "Patient: John Smith, DOB 1980-01-01")

	doc, _, err := newMerger(t).Merge("1234", []entity.NormalizedFragment{release, admission})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ADMISSION NOTE | DOCUMENT 1",
		"Patient: John Smith, DOB 1980-01-01",
		"RELEASE NOTE | DOCUMENT 2",
		"Mr. Smith discharged",
	}, blockTexts(doc))
	assert.Equal(t, []uuid.UUID{admission.DocumentID, release.DocumentID}, doc.Sources)
	assert.Equal(t, entity.BlockMarker, doc.Blocks[0].Type)
}

func TestMerge_MarkerNeverCarriesFilename(t *testing.T) {
	f := fragment(constants.KindAdmission, t0, "John Smith 1980-01-01 NIF 123456789.md", "Queimadura da mão")

	doc, _, err := newMerger(t).Merge("1234", []entity.NormalizedFragment{f})
	require.NoError(t, err)
	require.Equal(t, entity.BlockMarker, doc.Blocks[0].Type)
	assert.Equal(t, "ADMISSION NOTE | DOCUMENT 1", doc.Blocks[0].Text)
	for _, b := range doc.Blocks {
		assert.NotContains(t, b.Text, "Smith")
		assert.NotContains(t, b.Text, "1980-01-01")
		assert.NotContains(t, b.Text, "123456789")
	}
}

func TestMerge_SameKindOrderedByIngestionTime(t *testing.T) {
	later := fragment(constants.KindRelease, t0.Add(2*time.Hour), "late.md", "second release")
	earlier := fragment(constants.KindRelease, t0, "early.md", "first release")
	death := fragment(constants.KindFinalDeath, t0.Add(-time.Hour), "1234O.md", "death report")

	doc, _, err := newMerger(t).Merge("1234", []entity.NormalizedFragment{death, later, earlier})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{earlier.DocumentID, later.DocumentID, death.DocumentID}, doc.Sources)
}

func TestMerge_DedupBoilerplateAndNoise(t *testing.T) {
	f := fragment(constants.KindAdmission, t0, "1234E.md",
		"Página 1 de 3",
		"Burns to the   left hand",
		"Burns to the left hand",
		"***",
		"Burns to the left hand.",
		"Page 2 of 3",
		"Burns to the left hand.",
		"Plan: dressing",
	)

	doc, stats, err := newMerger(t).Merge("1234", []entity.NormalizedFragment{f})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ADMISSION NOTE | DOCUMENT 1",
		"Burns to the   left hand",
		"Burns to the left hand.",
		"Plan: dressing",
	}, blockTexts(doc))
	assert.Equal(t, 8, stats.BlocksIn)
	assert.Equal(t, 2, stats.Duplicates)
	assert.Equal(t, 2, stats.Boilerplate)
	assert.Equal(t, 1, stats.Noise)
	assert.Equal(t, 4, stats.BlocksOut)
}

func TestMerge_DuplicatesAcrossDocumentsAreKept(t *testing.T) {
	a := fragment(constants.KindAdmission, t0, "a.md", "Allergies: none")
	r := fragment(constants.KindRelease, t0, "r.md", "Allergies: none")

	doc, stats, err := newMerger(t).Merge("1234", []entity.NormalizedFragment{a, r})
	require.NoError(t, err)
	assert.Zero(t, stats.Duplicates)
	assert.Len(t, doc.Blocks, 4)
}

func TestMerge_PreservesOrderWithinDocument(t *testing.T) {
	lines := []string{"c", "a", "b", "a"}
	f := fragment(constants.KindAdmission, t0, "x.md", lines...)

	doc, _, err := newMerger(t).Merge("1234", []entity.NormalizedFragment{f})
	require.NoError(t, err)
	for i, b := range doc.Blocks[1:] {
		assert.Equal(t, f.Blocks[i].ID, b.ID)
	}
}

func TestMerge_CustomBoilerplateIsConfiguration(t *testing.T) {
	m, err := NewMerger([]string{`^LETTERHEAD`}, nil)
	require.NoError(t, err)
	f := fragment(constants.KindAdmission, t0, "x.md", "LETTERHEAD Hospital", "Página 1 de 3")

	doc, _, err := m.Merge("1234", []entity.NormalizedFragment{f})
	require.NoError(t, err)
	assert.Equal(t, []string{"ADMISSION NOTE | DOCUMENT 1", "Página 1 de 3"}, blockTexts(doc))
}

func TestMerge_Errors(t *testing.T) {
	m := newMerger(t)

	_, _, err := m.Merge("", nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, _, err = m.Merge("1234", nil)
	assert.ErrorIs(t, err, common.ErrNotFound)

	other := fragment(constants.KindAdmission, t0, "x.md", "text")
	other.CaseID = "9999"
	_, _, err = m.Merge("1234", []entity.NormalizedFragment{other})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = NewMerger([]string{"("}, nil)
	assert.Error(t, err)
}

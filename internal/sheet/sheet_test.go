package sheet

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/emit"
	"github.com/joseph-ayodele/infoburn/internal/entity"
	"github.com/joseph-ayodele/infoburn/internal/repository"
	"github.com/joseph-ayodele/infoburn/internal/schema"
)

func TestFormatID(t *testing.T) {
	cases := map[string]string{
		"931":   "0931",
		"7":     "0007",
		"2501":  "2501",
		"12345": "12345",
		"42.0":  "0042",
		"A12":   "A12",
		"":      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatID(in), in)
	}
}

func TestFormatDate(t *testing.T) {
	cases := map[string]string{
		"05-03-2024": "05-03-2024",
		"5/3/2024":   "05-03-2024",
		"05/03/2024": "05-03-2024",
		"2024-03-05": "05-03-2024",
		"5-3-2024":   "05-03-2024",
		"March 5":    "March 5",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatDate(in), in)
	}
}

type recordingEmitter struct {
	records map[string]entity.StructuredRecord
}

func (e *recordingEmitter) Emit(_ context.Context, rec entity.StructuredRecord) ([]byte, error) {
	if _, ok := e.records[rec.CaseID]; ok {
		return nil, common.ErrConflict
	}
	e.records[rec.CaseID] = rec
	return []byte("{}"), nil
}

func registry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.LoadRegistry("", nil)
	require.NoError(t, err)
	return reg
}

const export = `ID,nome,processo,data_ent,data_alta,sexo,data_nasc,destino,data_queim
931,Maria Silva,123456,5/3/2024,2024-03-20,F,01-01-1950,Domicílio,04-03-2024
2501,João Sousa,654321,10-04-2024,01-04-2024,M,,,
,,,,,,,,
77,Ana,111,1/5/2024,,X,,,
`

func TestImport_ValidatesTypesAndStripsSensitiveColumns(t *testing.T) {
	header, rows, err := ReadCSV(strings.NewReader(export))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	em := &recordingEmitter{records: map[string]entity.StructuredRecord{}}
	im := NewImporter(registry(t), em, nil)
	rep, err := im.Import(context.Background(), header, rows)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Rows)
	assert.Equal(t, 1, rep.Imported)
	assert.Equal(t, []string{"data_queim", "nome", "processo"}, rep.Ignored)

	rec, ok := em.records["0931"]
	require.True(t, ok)
	assert.Equal(t, constants.SourceSheet, rec.Source)
	assert.Equal(t, RowSchema, rec.Schema)
	assert.Equal(t, "05-03-2024", rec.Data["data_ent"])
	assert.Equal(t, "20-03-2024", rec.Data["data_alta"])
	assert.NotContains(t, rec.Data, "nome")
	assert.NotContains(t, rec.Data, "processo")

	require.Len(t, rep.Rejected, 2)
	assert.Equal(t, 3, rep.Rejected[0].Line)
	assert.Equal(t, "2501", rep.Rejected[0].ID)
	require.Len(t, rep.Rejected[0].FieldErrors, 1)
	assert.Equal(t, entity.ConstraintDateOrder, rep.Rejected[0].FieldErrors[0].Constraint)

	assert.Equal(t, "0077", rep.Rejected[1].ID)
	require.Len(t, rep.Rejected[1].FieldErrors, 1)
	assert.Equal(t, "sexo", rep.Rejected[1].FieldErrors[0].Path)

	again, err := im.Import(context.Background(), header, rows)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Imported)
	assert.Equal(t, 1, again.Existing)
}

func TestImportFile_XLSXThroughEmitter(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "Doentes.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range [][]any{
		{"ID", "nome", "data_ent", "data_alta", "sexo"},
		{"42", "Rui", "2024-01-02", "15/01/2024", "M"},
	} {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	db, err := repository.Open(ctx, common.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "sheet.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	require.NoError(t, db.Migrate(ctx))
	store := repository.NewRecordRepository(db, nil)
	reg := registry(t)

	rep, err := NewImporter(reg, emit.NewEmitter(reg, store, nil), nil).ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Imported)
	assert.Empty(t, rep.Rejected)

	rec, err := store.Get(ctx, "0042", RowSchema)
	require.NoError(t, err)
	assert.Equal(t, constants.SourceSheet, rec.Source)
	assert.Equal(t, "02-01-2024", rec.Data["data_ent"])
	assert.Nil(t, rec.Data["data_nasc"])
}

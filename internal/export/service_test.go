package export

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
	"github.com/joseph-ayodele/infoburn/internal/repository"
)

func TestExportXLSX_RecordsAndAttemptSheets(t *testing.T) {
	ctx := context.Background()
	db, err := repository.Open(ctx, common.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "export.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	require.NoError(t, db.Migrate(ctx))

	records := repository.NewRecordRepository(db, nil)
	attempts := repository.NewAttemptRepository(db, nil)
	ref := entity.SchemaRef{Name: "burns", Version: 1}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, attempts.Append(ctx, entity.ExtractionAttempt{
		ID: uuid.New(), CaseID: "1234", Schema: ref, Ordinal: 1, StartedAt: now, FinishedAt: now,
		Outcome:     constants.OutcomeValidationFailed,
		FieldErrors: []entity.FieldError{{Path: "tbsa", Constraint: entity.ConstraintRequired, Message: "is required"}},
	}))
	require.NoError(t, attempts.Append(ctx, entity.ExtractionAttempt{
		ID: uuid.New(), CaseID: "1234", Schema: ref, Ordinal: 2, StartedAt: now, FinishedAt: now,
		Outcome: constants.OutcomeSucceeded, HintCount: 1,
	}))
	require.NoError(t, records.Put(ctx, entity.StructuredRecord{
		ID: uuid.New(), CaseID: "1234", Schema: ref, AttemptOrdinal: 2,
		Source: constants.SourceExtraction, CreatedAt: now,
	}, []byte(`{"tbsa":12}`)))

	out, err := NewService(records, attempts, nil).ExportXLSX(ctx, "")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Records", "Attempts"}, f.GetSheetList())

	recRows, err := f.GetRows("Records")
	require.NoError(t, err)
	require.Len(t, recRows, 2)
	assert.Equal(t, []string{"1234", "burns", "1", "extraction", "2", "2024-06-01T12:00:00Z", `{"tbsa":12}`}, recRows[1])

	attRows, err := f.GetRows("Attempts")
	require.NoError(t, err)
	require.Len(t, attRows, 3)
	assert.Equal(t, "VALIDATION_FAILED", attRows[1][6])
	assert.Contains(t, attRows[1][8], "tbsa")
	assert.Equal(t, "SUCCEEDED", attRows[2][6])

	other, err := NewService(records, attempts, nil).ExportXLSX(ctx, "9999")
	require.NoError(t, err)
	g, err := excelize.OpenReader(bytes.NewReader(other))
	require.NoError(t, err)
	defer g.Close()
	rows, err := g.GetRows("Attempts")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

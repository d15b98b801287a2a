package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/infoburn/internal/emit"
	"github.com/joseph-ayodele/infoburn/internal/entity"
	"github.com/joseph-ayodele/infoburn/internal/repository"
)

const (
	recordsSheet  = "Records"
	attemptsSheet = "Attempts"
	// Excel refuses cells longer than this.
	maxCell = 32767
)

// Service produces XLSX bytes for records and the attempt audit trail.
type Service struct {
	records  repository.RecordStore
	attempts repository.AttemptRepository
	logger   *slog.Logger
}

func NewService(records repository.RecordStore, attempts repository.AttemptRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{records: records, attempts: attempts, logger: logger}
}

// ExportXLSX returns a workbook with a Records sheet and an Attempts sheet.
// An empty caseID exports every case.
func (s *Service) ExportXLSX(ctx context.Context, caseID string) ([]byte, error) {
	start := time.Now()

	recs, err := s.records.List(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	var attempts []entity.ExtractionAttempt
	if caseID == "" {
		attempts, err = s.attempts.ListAll(ctx)
	} else {
		attempts, err = s.attempts.ListByCase(ctx, caseID)
	}
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), recordsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(attemptsSheet); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	header(f, recordsSheet, "Case", "Schema", "Version", "Source", "Attempt", "Created At", "Record")
	for i, r := range recs {
		data, err := emit.Canonical(r.Data)
		if err != nil {
			return nil, fmt.Errorf("record %s/%s: %w", r.CaseID, r.Schema, err)
		}
		attempt := ""
		if r.AttemptOrdinal > 0 {
			attempt = fmt.Sprint(r.AttemptOrdinal)
		}
		row(f, recordsSheet, i+2,
			r.CaseID, r.Schema.Name, r.Schema.Version, string(r.Source), attempt,
			r.CreatedAt.UTC().Format(time.RFC3339), truncate(string(data), maxCell))
	}

	header(f, attemptsSheet, "Case", "Schema", "Version", "Attempt", "Started", "Finished", "Outcome", "Hints", "Field Errors", "Error")
	for i, a := range attempts {
		row(f, attemptsSheet, i+2,
			a.CaseID, a.Schema.Name, a.Schema.Version, a.Ordinal,
			a.StartedAt.UTC().Format(time.RFC3339), a.FinishedAt.UTC().Format(time.RFC3339),
			string(a.Outcome), a.HintCount, truncate(fieldErrors(a.FieldErrors), maxCell), a.Error)
	}

	_ = f.SetColWidth(recordsSheet, "A", "A", 10)
	_ = f.SetColWidth(recordsSheet, "B", "B", 18)
	_ = f.SetColWidth(recordsSheet, "F", "F", 22)
	_ = f.SetColWidth(recordsSheet, "G", "G", 100)
	_ = f.SetColWidth(attemptsSheet, "B", "B", 18)
	_ = f.SetColWidth(attemptsSheet, "E", "F", 22)
	_ = f.SetColWidth(attemptsSheet, "G", "G", 20)
	_ = f.SetColWidth(attemptsSheet, "I", "I", 80)
	_ = f.SetColWidth(attemptsSheet, "J", "J", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"case_id", caseID,
		"records", len(recs),
		"attempts", len(attempts),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func header(f *excelize.File, sheet string, names ...string) {
	row(f, sheet, 1, toAny(names)...)
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(names), 1)
		_ = f.SetCellStyle(sheet, "A1", last, style)
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func row(f *excelize.File, sheet string, n int, values ...any) {
	cell, _ := excelize.CoordinatesToCellName(1, n)
	_ = f.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func fieldErrors(fes []entity.FieldError) string {
	lines := make([]string, len(fes))
	for i, fe := range fes {
		lines[i] = fe.Error()
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
